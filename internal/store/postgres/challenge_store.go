package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// ChallengeStore implements domain.ChallengeStore using PostgreSQL.
type ChallengeStore struct {
	pool *pgxpool.Pool
}

// NewChallengeStore creates a new ChallengeStore backed by the given pool.
func NewChallengeStore(pool *pgxpool.Pool) *ChallengeStore {
	return &ChallengeStore{pool: pool}
}

const challengeSelectCols = `id, market_id, resolution_version, challenger,
	reason, evidence_hash, stake, status, review_deadline, submitted_at, reviewed_at`

func scanChallengeRow(row pgx.Row) (domain.DisputeChallenge, error) {
	var c domain.DisputeChallenge
	var marketID, stake int64
	var challenger, status string
	var evidence []byte

	err := row.Scan(
		&c.ID, &marketID, &c.ResolutionVersion, &challenger,
		&c.Reason, &evidence, &stake, &status, &c.ReviewDeadline, &c.SubmittedAt, &c.ReviewedAt,
	)
	if err != nil {
		return domain.DisputeChallenge{}, err
	}
	c.MarketID = domain.MarketID(marketID)
	c.Challenger = domain.HexToPrincipal(challenger)
	copy(c.EvidenceHash[:], evidence)
	c.Stake = uint64(stake)
	c.Status = domain.ChallengeStatus(status)
	return c, nil
}

// Create persists a new pending challenge.
func (s *ChallengeStore) Create(ctx context.Context, c domain.DisputeChallenge) error {
	const query = `
		INSERT INTO challenges (
			id, market_id, resolution_version, challenger, reason,
			evidence_hash, stake, status, review_deadline, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		c.ID, int64(c.MarketID), c.ResolutionVersion, c.Challenger.Hex(), c.Reason,
		c.EvidenceHash[:], int64(c.Stake), string(c.Status), c.ReviewDeadline, c.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create challenge %s: %w", c.ID, err)
	}
	return nil
}

// GetByID returns a challenge by its ID.
func (s *ChallengeStore) GetByID(ctx context.Context, id uuid.UUID) (domain.DisputeChallenge, error) {
	query := `SELECT ` + challengeSelectCols + ` FROM challenges WHERE id = $1`

	c, err := scanChallengeRow(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DisputeChallenge{}, fmt.Errorf("postgres: challenge %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.DisputeChallenge{}, fmt.Errorf("postgres: get challenge %s: %w", id, err)
	}
	return c, nil
}

// SetStatus moves a pending challenge to its reviewed status. The WHERE
// clause keeps the review one-shot: a second reviewer finds no pending row
// and gets domain.ErrChallengeAlreadyReviewed.
func (s *ChallengeStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.ChallengeStatus, reviewedAt time.Time) error {
	const query = `
		UPDATE challenges SET status = $2, reviewed_at = $3
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id, string(status), reviewedAt)
	if err != nil {
		return fmt.Errorf("postgres: set challenge %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already-reviewed.
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: challenge %s: %w", id, domain.ErrChallengeAlreadyReviewed)
	}
	return nil
}

// MarkResolved closes an accepted challenge once the superseding resolution
// lands. The guard on status keeps pending and rejected rows untouched.
func (s *ChallengeStore) MarkResolved(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE challenges SET status = 'resolved'
		WHERE id = $1 AND status = 'accepted'`

	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("postgres: mark challenge %s resolved: %w", id, err)
	}
	return nil
}

// ListByMarket returns all challenges filed against the market, oldest first.
func (s *ChallengeStore) ListByMarket(ctx context.Context, marketID domain.MarketID) ([]domain.DisputeChallenge, error) {
	query := `SELECT ` + challengeSelectCols + `
		FROM challenges WHERE market_id = $1 ORDER BY submitted_at`

	rows, err := s.pool.Query(ctx, query, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list challenges market %d: %w", marketID, err)
	}
	defer rows.Close()
	return collectChallenges(rows)
}

// ListPending returns pending challenges ordered by review deadline.
func (s *ChallengeStore) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.DisputeChallenge, error) {
	query := `SELECT ` + challengeSelectCols + `
		FROM challenges WHERE status = 'pending' ORDER BY review_deadline`
	args := []any{}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending challenges: %w", err)
	}
	defer rows.Close()
	return collectChallenges(rows)
}

func collectChallenges(rows pgx.Rows) ([]domain.DisputeChallenge, error) {
	var challenges []domain.DisputeChallenge
	for rows.Next() {
		c, err := scanChallengeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan challenge: %w", err)
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}

var _ domain.ChallengeStore = (*ChallengeStore)(nil)
