package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the domain stores,
// serializing the records to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	reader      *Reader
	resolutions domain.ResolutionStore
	challenges  domain.ChallengeStore
	audit       domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader *Reader,
	resolutions domain.ResolutionStore,
	challenges domain.ChallengeStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		reader:      reader,
		resolutions: resolutions,
		challenges:  challenges,
		audit:       audit,
	}
}

// ArchiveResolution uploads the evidence bundle for a finalized market to
// archive/resolutions/{marketID}.json and records the archival in the audit
// log.
func (a *ArchiveImpl) ArchiveResolution(ctx context.Context, marketID domain.MarketID) error {
	resolutions, err := a.resolutions.ListByMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("s3blob: archive resolution query: %w", err)
	}
	if len(resolutions) == 0 {
		return fmt.Errorf("s3blob: archive resolution market %d: %w", marketID, domain.ErrNoResolution)
	}
	challenges, err := a.challenges.ListByMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("s3blob: archive resolution challenges: %w", err)
	}

	bundle := domain.ResolutionBundle{
		MarketID:    marketID,
		ArchivedAt:  time.Now().UTC(),
		Resolutions: resolutions,
		Challenges:  challenges,
	}
	buf, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("s3blob: archive resolution marshal: %w", err)
	}

	path := bundlePath(marketID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive resolution upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.resolution", map[string]any{
		"path":      path,
		"market_id": marketID,
		"versions":  len(resolutions),
	}); err != nil {
		return fmt.Errorf("s3blob: archive resolution audit log: %w", err)
	}

	return nil
}

// LoadResolutionBundle retrieves the archived evidence bundle for a market.
// Returns domain.ErrNotFound when no bundle was ever uploaded.
func (a *ArchiveImpl) LoadResolutionBundle(ctx context.Context, marketID domain.MarketID) (domain.ResolutionBundle, error) {
	var bundle domain.ResolutionBundle
	if err := a.reader.GetJSON(ctx, bundlePath(marketID), &bundle); err != nil {
		return domain.ResolutionBundle{}, fmt.Errorf("s3blob: load resolution bundle market %d: %w", marketID, err)
	}
	return bundle, nil
}

// bundlePath is the S3 key for a market's evidence bundle.
func bundlePath(marketID domain.MarketID) string {
	return fmt.Sprintf("archive/resolutions/%d.json", marketID)
}

// ArchiveAuditLog queries all audit entries before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/audit_log/YYYY-MM.jsonl. The count of archived records is
// returned.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log marshal: %w", err)
	}

	path := archivePath("audit_log", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.audit.Log(ctx, "archive.audit_log", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log audit entry: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/audit_log/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
