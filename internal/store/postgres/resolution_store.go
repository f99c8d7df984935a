package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
// Resolutions are versioned and append-only; the primary key on
// (market_id, version) doubles as the optimistic guard against concurrent
// aggregations landing the same version.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a new ResolutionStore backed by the given pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

const resolutionSelectCols = `market_id, version, result, confidence,
	consensus_strength, manipulation_score, participating_oracles,
	evidence_sources, resolved_at, dispute_deadline, superseded`

func scanResolutionRow(row pgx.Row) (domain.Resolution, error) {
	var r domain.Resolution
	var marketID int64
	var oracles []string

	err := row.Scan(
		&marketID, &r.Version, &r.Result, &r.Confidence,
		&r.ConsensusStrength, &r.ManipulationScore, &oracles,
		&r.EvidenceSources, &r.ResolvedAt, &r.DisputeDeadline, &r.Superseded,
	)
	if err != nil {
		return domain.Resolution{}, err
	}
	r.MarketID = domain.MarketID(marketID)
	r.ParticipatingOracles = make([]domain.PrincipalID, 0, len(oracles))
	for _, o := range oracles {
		r.ParticipatingOracles = append(r.ParticipatingOracles, domain.HexToPrincipal(o))
	}
	return r, nil
}

// Insert persists a new resolution version. A primary key conflict surfaces
// as domain.ErrAlreadyExists so callers can detect a lost aggregation race.
func (s *ResolutionStore) Insert(ctx context.Context, r domain.Resolution) error {
	const query = `
		INSERT INTO resolutions (
			market_id, version, result, confidence, consensus_strength,
			manipulation_score, participating_oracles, evidence_sources,
			resolved_at, dispute_deadline, superseded
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	oracles := make([]string, 0, len(r.ParticipatingOracles))
	for _, o := range r.ParticipatingOracles {
		oracles = append(oracles, o.Hex())
	}

	_, err := s.pool.Exec(ctx, query,
		int64(r.MarketID), r.Version, r.Result, r.Confidence, r.ConsensusStrength,
		r.ManipulationScore, oracles, r.EvidenceSources,
		r.ResolvedAt, r.DisputeDeadline, r.Superseded,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: resolution market %d v%d: %w", r.MarketID, r.Version, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert resolution market %d v%d: %w", r.MarketID, r.Version, err)
	}
	return nil
}

// GetLatest returns the highest-version resolution for the market.
func (s *ResolutionStore) GetLatest(ctx context.Context, marketID domain.MarketID) (domain.Resolution, error) {
	query := `SELECT ` + resolutionSelectCols + `
		FROM resolutions WHERE market_id = $1 ORDER BY version DESC LIMIT 1`

	r, err := scanResolutionRow(s.pool.QueryRow(ctx, query, int64(marketID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Resolution{}, fmt.Errorf("postgres: resolution market %d: %w", marketID, domain.ErrNoResolution)
	}
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: latest resolution market %d: %w", marketID, err)
	}
	return r, nil
}

// GetVersion returns a specific resolution version for the market.
func (s *ResolutionStore) GetVersion(ctx context.Context, marketID domain.MarketID, version int) (domain.Resolution, error) {
	query := `SELECT ` + resolutionSelectCols + `
		FROM resolutions WHERE market_id = $1 AND version = $2`

	r, err := scanResolutionRow(s.pool.QueryRow(ctx, query, int64(marketID), version))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Resolution{}, fmt.Errorf("postgres: resolution market %d v%d: %w", marketID, version, domain.ErrNoResolution)
	}
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: resolution market %d v%d: %w", marketID, version, err)
	}
	return r, nil
}

// MarkSuperseded flags a resolution version as replaced by a newer one.
func (s *ResolutionStore) MarkSuperseded(ctx context.Context, marketID domain.MarketID, version int) error {
	const query = `UPDATE resolutions SET superseded = TRUE WHERE market_id = $1 AND version = $2`

	tag, err := s.pool.Exec(ctx, query, int64(marketID), version)
	if err != nil {
		return fmt.Errorf("postgres: supersede resolution market %d v%d: %w", marketID, version, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: resolution market %d v%d: %w", marketID, version, domain.ErrNoResolution)
	}
	return nil
}

// ListByMarket returns all resolution versions for the market, oldest first.
func (s *ResolutionStore) ListByMarket(ctx context.Context, marketID domain.MarketID) ([]domain.Resolution, error) {
	query := `SELECT ` + resolutionSelectCols + `
		FROM resolutions WHERE market_id = $1 ORDER BY version`

	rows, err := s.pool.Query(ctx, query, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolutions market %d: %w", marketID, err)
	}
	defer rows.Close()

	var resolutions []domain.Resolution
	for rows.Next() {
		r, err := scanResolutionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution: %w", err)
		}
		resolutions = append(resolutions, r)
	}
	return resolutions, rows.Err()
}

// GetState returns the market's current resolution lifecycle state.
func (s *ResolutionStore) GetState(ctx context.Context, marketID domain.MarketID) (domain.ResolutionState, error) {
	const query = `SELECT state FROM resolution_states WHERE market_id = $1`

	var state string
	err := s.pool.QueryRow(ctx, query, int64(marketID)).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: resolution state market %d: %w", marketID, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: resolution state market %d: %w", marketID, err)
	}
	return domain.ResolutionState(state), nil
}

// CompareAndSetState transitions the market's state from -> to in one
// conditional update; a non-matching stored state leaves the row untouched
// and surfaces as domain.ErrInvalidTransition.
func (s *ResolutionStore) CompareAndSetState(ctx context.Context, marketID domain.MarketID, from, to domain.ResolutionState) error {
	const query = `
		UPDATE resolution_states SET state = $3, updated_at = NOW()
		WHERE market_id = $1 AND state = $2`

	tag, err := s.pool.Exec(ctx, query, int64(marketID), string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: transition market %d %s->%s: %w", marketID, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transition market %d %s->%s: %w", marketID, from, to, domain.ErrInvalidTransition)
	}
	return nil
}

// InitState creates the state row in the requested state. A second init of
// the same market surfaces as domain.ErrAlreadyExists.
func (s *ResolutionStore) InitState(ctx context.Context, marketID domain.MarketID) error {
	const query = `
		INSERT INTO resolution_states (market_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (market_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, int64(marketID), string(domain.StateRequested))
	if err != nil {
		return fmt.Errorf("postgres: init state market %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: state market %d: %w", marketID, domain.ErrAlreadyExists)
	}
	return nil
}

var _ domain.ResolutionStore = (*ResolutionStore)(nil)
