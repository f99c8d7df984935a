package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `id, question, category, voting_ends_at, resolved,
	participant_count, total_stake, yes_stake, no_stake,
	min_dispute_bond, dispute_window_seconds, created_at, updated_at`

func scanMarketRow(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var id int64
	var category string
	var totalStake, yesStake, noStake, minBond, windowSecs int64

	err := row.Scan(
		&id, &m.Question, &category, &m.VotingEndsAt, &m.Resolved,
		&m.ParticipantCount, &totalStake, &yesStake, &noStake,
		&minBond, &windowSecs, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.ID = domain.MarketID(id)
	m.Category = domain.Category(category)
	m.TotalStake = uint64(totalStake)
	m.YesStake = uint64(yesStake)
	m.NoStake = uint64(noStake)
	m.MinDisputeBond = uint64(minBond)
	m.DisputeWindow = time.Duration(windowSecs) * time.Second
	return m, nil
}

// Upsert inserts or updates market metadata.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, category, voting_ends_at, resolved,
			participant_count, total_stake, yes_stake, no_stake,
			min_dispute_bond, dispute_window_seconds, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			question               = EXCLUDED.question,
			category               = EXCLUDED.category,
			voting_ends_at         = EXCLUDED.voting_ends_at,
			min_dispute_bond       = EXCLUDED.min_dispute_bond,
			dispute_window_seconds = EXCLUDED.dispute_window_seconds,
			updated_at             = NOW()`

	_, err := s.pool.Exec(ctx, query,
		int64(m.ID), m.Question, string(m.Category), m.VotingEndsAt, m.Resolved,
		m.ParticipantCount, int64(m.TotalStake), int64(m.YesStake), int64(m.NoStake),
		int64(m.MinDisputeBond), int64(m.DisputeWindow/time.Second),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// GetByID returns a market by its ID.
func (s *MarketStore) GetByID(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE id = $1`

	m, err := scanMarketRow(s.pool.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListUnresolved returns markets that have not yet been resolved.
func (s *MarketStore) ListUnresolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + `
		FROM markets WHERE resolved = FALSE ORDER BY voting_ends_at`
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
		return nil, fmt.Errorf("postgres: list unresolved markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// AddStake atomically bumps the participant count and the per-side stake
// totals for an accepted vote. Skip votes count as participants only.
func (s *MarketStore) AddStake(ctx context.Context, id domain.MarketID, choice domain.VoteChoice, stake uint64) error {
	var query string
	switch choice {
	case domain.VoteYes:
		query = `UPDATE markets SET participant_count = participant_count + 1,
			total_stake = total_stake + $2, yes_stake = yes_stake + $2,
			updated_at = NOW() WHERE id = $1`
	case domain.VoteNo:
		query = `UPDATE markets SET participant_count = participant_count + 1,
			total_stake = total_stake + $2, no_stake = no_stake + $2,
			updated_at = NOW() WHERE id = $1`
	default:
		query = `UPDATE markets SET participant_count = participant_count + 1,
			updated_at = NOW() WHERE id = $1`
		tag, err := s.pool.Exec(ctx, query, int64(id))
		if err != nil {
			return fmt.Errorf("postgres: add stake market %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx, query, int64(id), int64(stake))
	if err != nil {
		return fmt.Errorf("postgres: add stake market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetResolved marks a market as resolved.
func (s *MarketStore) SetResolved(ctx context.Context, id domain.MarketID) error {
	const query = `UPDATE markets SET resolved = TRUE, updated_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, int64(id))
	if err != nil {
		return fmt.Errorf("postgres: set market %d resolved: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
