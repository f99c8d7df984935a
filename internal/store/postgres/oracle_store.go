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

// OracleStore implements domain.OracleStore using PostgreSQL.
type OracleStore struct {
	pool *pgxpool.Pool
}

// NewOracleStore creates a new OracleStore backed by the given connection pool.
func NewOracleStore(pool *pgxpool.Pool) *OracleStore {
	return &OracleStore{pool: pool}
}

const oracleSelectCols = `address, reputation, specialization, stake, active,
	total_resolutions, correct_resolutions, last_active_at, registered_at`

func scanOracleRow(row pgx.Row) (domain.Oracle, error) {
	var o domain.Oracle
	var addr string
	var specialization []string
	var stake int64

	err := row.Scan(
		&addr, &o.Reputation, &specialization, &stake, &o.Active,
		&o.TotalResolutions, &o.CorrectResolutions, &o.LastActiveAt, &o.RegisteredAt,
	)
	if err != nil {
		return domain.Oracle{}, err
	}
	o.Address = domain.HexToPrincipal(addr)
	o.Stake = uint64(stake)
	o.Specialization = make([]domain.Category, 0, len(specialization))
	for _, s := range specialization {
		o.Specialization = append(o.Specialization, domain.Category(s))
	}
	return o, nil
}

// Create registers a new oracle. Returns domain.ErrDuplicateOracle when the
// address is already registered.
func (s *OracleStore) Create(ctx context.Context, o domain.Oracle) error {
	const query = `
		INSERT INTO oracles (
			address, reputation, specialization, stake, active,
			total_resolutions, correct_resolutions, last_active_at, registered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO NOTHING`

	specialization := make([]string, 0, len(o.Specialization))
	for _, c := range o.Specialization {
		specialization = append(specialization, string(c))
	}

	tag, err := s.pool.Exec(ctx, query,
		o.Address.Hex(), o.Reputation, specialization, int64(o.Stake), o.Active,
		o.TotalResolutions, o.CorrectResolutions, o.LastActiveAt, o.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create oracle %s: %w", o.Address.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: oracle %s: %w", o.Address.Hex(), domain.ErrDuplicateOracle)
	}
	return nil
}

// GetByAddress returns an oracle by its principal address.
func (s *OracleStore) GetByAddress(ctx context.Context, addr domain.PrincipalID) (domain.Oracle, error) {
	query := `SELECT ` + oracleSelectCols + ` FROM oracles WHERE address = $1`

	o, err := scanOracleRow(s.pool.QueryRow(ctx, query, addr.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Oracle{}, fmt.Errorf("postgres: oracle %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("postgres: get oracle %s: %w", addr.Hex(), err)
	}
	return o, nil
}

// ListEligible returns active oracles meeting the reputation floor that cover
// the category, direct specializations first, then by reputation.
func (s *OracleStore) ListEligible(ctx context.Context, category domain.Category, minReputation uint8, limit int) ([]domain.Oracle, error) {
	query := `SELECT ` + oracleSelectCols + `
		FROM oracles
		WHERE active = TRUE
		  AND reputation >= $1
		  AND ($2 = ANY(specialization) OR 'general' = ANY(specialization))
		ORDER BY ($2 = ANY(specialization)) DESC, reputation DESC, registered_at
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, minReputation, string(category), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list eligible oracles: %w", err)
	}
	defer rows.Close()

	var oracles []domain.Oracle
	for rows.Next() {
		o, err := scanOracleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan oracle: %w", err)
		}
		oracles = append(oracles, o)
	}
	return oracles, rows.Err()
}

// RecordResolution bumps the resolution counters and recomputes reputation in
// a single statement, so concurrent resolutions touching the same oracle
// serialize on the row without read-modify-write races.
func (s *OracleStore) RecordResolution(ctx context.Context, addr domain.PrincipalID, wasCorrect bool) error {
	const query = `
		UPDATE oracles SET
			total_resolutions   = total_resolutions + 1,
			correct_resolutions = correct_resolutions + CASE WHEN $2 THEN 1 ELSE 0 END,
			reputation          = ROUND(100.0 * (correct_resolutions + CASE WHEN $2 THEN 1 ELSE 0 END)
			                      / (total_resolutions + 1)),
			last_active_at      = NOW()
		WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query, addr.Hex(), wasCorrect)
	if err != nil {
		return fmt.Errorf("postgres: record resolution for %s: %w", addr.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: oracle %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return nil
}

// SetActive toggles an oracle's active flag.
func (s *OracleStore) SetActive(ctx context.Context, addr domain.PrincipalID, active bool) error {
	const query = `UPDATE oracles SET active = $2 WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query, addr.Hex(), active)
	if err != nil {
		return fmt.Errorf("postgres: set oracle %s active=%t: %w", addr.Hex(), active, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: oracle %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return nil
}

// TouchActivity records the oracle's latest activity timestamp.
func (s *OracleStore) TouchActivity(ctx context.Context, addr domain.PrincipalID, at time.Time) error {
	const query = `UPDATE oracles SET last_active_at = $2 WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query, addr.Hex(), at)
	if err != nil {
		return fmt.Errorf("postgres: touch oracle %s: %w", addr.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: oracle %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return nil
}

var _ domain.OracleStore = (*OracleStore)(nil)
