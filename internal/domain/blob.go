package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ResolutionBundle is the evidence bundle persisted per finalized market:
// every resolution version plus the full challenge history.
type ResolutionBundle struct {
	MarketID    MarketID           `json:"market_id"`
	ArchivedAt  time.Time          `json:"archived_at"`
	Resolutions []Resolution       `json:"resolutions"`
	Challenges  []DisputeChallenge `json:"challenges"`
}

// Archiver bundles finalized resolutions and the audit trail into cold
// storage for off-chain verification, and serves the bundles back.
type Archiver interface {
	// ArchiveResolution uploads the evidence bundle for a finalized market:
	// every resolution version, the challenge history, and tally metadata.
	ArchiveResolution(ctx context.Context, marketID MarketID) error
	// LoadResolutionBundle retrieves a previously archived bundle.
	// Returns ErrNotFound when the market was never archived.
	LoadResolutionBundle(ctx context.Context, marketID MarketID) (ResolutionBundle, error)
	// ArchiveAuditLog uploads audit entries older than the cutoff.
	ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error)
}
