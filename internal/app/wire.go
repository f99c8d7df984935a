package app

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"

	s3blob "github.com/veilmarkets/oraclecore/internal/blob/s3"
	"github.com/veilmarkets/oraclecore/internal/cache/redis"
	"github.com/veilmarkets/oraclecore/internal/config"
	"github.com/veilmarkets/oraclecore/internal/domain"
	"github.com/veilmarkets/oraclecore/internal/mpc"
	"github.com/veilmarkets/oraclecore/internal/notify"
	"github.com/veilmarkets/oraclecore/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	OracleStore     domain.OracleStore
	VoteStore       domain.VoteStore
	ResolutionStore domain.ResolutionStore
	ChallengeStore  domain.ChallengeStore
	AuditStore      domain.AuditStore

	// Caches and coordination
	ResolutionCache   domain.ResolutionCache
	ConfidenceHistory domain.ConfidenceHistory
	VoteWindow        domain.VoteWindow
	RateLimiter       domain.RateLimiter
	LockManager       domain.LockManager
	SignalBus         domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Secure computation
	Computer domain.Computer

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.OracleStore = postgres.NewOracleStore(pool)
	deps.VoteStore = postgres.NewVoteStore(pool)
	deps.ResolutionStore = postgres.NewResolutionStore(pool)
	deps.ChallengeStore = postgres.NewChallengeStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.ResolutionCache = redis.NewResolutionCache(redisClient)
	deps.ConfidenceHistory = redis.NewConfidenceHistory(redisClient)
	deps.VoteWindow = redis.NewVoteWindow(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	blobReader := s3blob.NewReader(s3Client)
	deps.BlobWriter = s3blob.NewWriter(s3Client)
	deps.BlobReader = blobReader
	deps.Archiver = s3blob.NewArchiver(
		deps.BlobWriter,
		blobReader,
		deps.ResolutionStore,
		deps.ChallengeStore,
		deps.AuditStore,
	)

	// --- Secure computation ---
	switch cfg.MPC.Backend {
	case "gateway":
		gw, err := mpc.NewGateway(mpc.GatewayConfig{
			URL:              cfg.MPC.GatewayURL,
			ClusterPublicKey: cfg.MPC.ClusterPublicKey,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: mpc gateway: %w", err)
		}
		if err := gw.Connect(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: mpc gateway connect: %w", err)
		}
		closers = append(closers, func() { _ = gw.Close() })
		deps.Computer = gw
	default:
		local, err := mpc.NewLocal()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: mpc local: %w", err)
		}
		deps.Computer = local
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// randomNonce draws a fresh 128-bit replay nonce from crypto/rand.
func randomNonce() (uint64, uint64) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// rand.Read only fails when the OS entropy source is broken, at
		// which point there is nothing sensible to fall back to.
		panic(fmt.Sprintf("app: read nonce entropy: %v", err))
	}
	return binary.BigEndian.Uint64(buf[:8]), binary.BigEndian.Uint64(buf[8:])
}
