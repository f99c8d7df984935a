package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// VoteStore implements domain.VoteStore using PostgreSQL. Votes are
// append-only; the primary key on (market_id, voter) is what enforces the
// one-vote-per-market invariant.
type VoteStore struct {
	pool *pgxpool.Pool
}

// NewVoteStore creates a new VoteStore backed by the given connection pool.
func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

// Insert stores an encrypted vote. The conflict target is the primary key, so
// the duplicate check and the insert are a single atomic statement.
//
// Nonce halves are full-range uint64, which overflows BIGINT; they cross the
// wire as decimal strings into NUMERIC columns.
func (s *VoteStore) Insert(ctx context.Context, v domain.EncryptedVote) error {
	const query = `
		INSERT INTO votes (
			market_id, voter, ciphertext, confidence, evidence_hash,
			nonce_hi, nonce_lo, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8)
		ON CONFLICT (market_id, voter) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		int64(v.MarketID), v.Voter.Hex(), v.Ciphertext, v.Confidence, v.EvidenceHash[:],
		strconv.FormatUint(v.NonceHi, 10), strconv.FormatUint(v.NonceLo, 10), v.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert vote market %d voter %s: %w", v.MarketID, v.Voter.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: vote market %d voter %s: %w", v.MarketID, v.Voter.Hex(), domain.ErrDuplicateVote)
	}
	return nil
}

// Exists reports whether the voter has already voted on the market.
func (s *VoteStore) Exists(ctx context.Context, marketID domain.MarketID, voter domain.PrincipalID) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM votes WHERE market_id = $1 AND voter = $2)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, int64(marketID), voter.Hex()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: vote exists market %d: %w", marketID, err)
	}
	return exists, nil
}

// ListByMarket returns the market's votes in insertion order.
func (s *VoteStore) ListByMarket(ctx context.Context, marketID domain.MarketID) ([]domain.EncryptedVote, error) {
	const query = `
		SELECT voter, ciphertext, confidence, evidence_hash,
		       nonce_hi::text, nonce_lo::text, submitted_at
		FROM votes WHERE market_id = $1 ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes market %d: %w", marketID, err)
	}
	defer rows.Close()

	var votes []domain.EncryptedVote
	for rows.Next() {
		var v domain.EncryptedVote
		var voter string
		var evidence []byte
		var nonceHi, nonceLo string

		if err := rows.Scan(&voter, &v.Ciphertext, &v.Confidence, &evidence, &nonceHi, &nonceLo, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan vote: %w", err)
		}
		v.MarketID = marketID
		v.Voter = domain.HexToPrincipal(voter)
		copy(v.EvidenceHash[:], evidence)
		if v.NonceHi, err = strconv.ParseUint(nonceHi, 10, 64); err != nil {
			return nil, fmt.Errorf("postgres: parse vote nonce: %w", err)
		}
		if v.NonceLo, err = strconv.ParseUint(nonceLo, 10, 64); err != nil {
			return nil, fmt.Errorf("postgres: parse vote nonce: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// CountByMarket returns the number of votes stored for the market.
func (s *VoteStore) CountByMarket(ctx context.Context, marketID domain.MarketID) (int, error) {
	const query = `SELECT COUNT(*) FROM votes WHERE market_id = $1`

	var n int
	err := s.pool.QueryRow(ctx, query, int64(marketID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count votes market %d: %w", marketID, err)
	}
	return n, nil
}

var _ domain.VoteStore = (*VoteStore)(nil)
