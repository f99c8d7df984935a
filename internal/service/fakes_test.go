package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/veilmarkets/oraclecore/internal/codec"
	"github.com/veilmarkets/oraclecore/internal/domain"
	"github.com/veilmarkets/oraclecore/internal/herding"
	"github.com/veilmarkets/oraclecore/internal/mpc"
)

// In-memory store fakes mirroring the postgres/redis semantics the services
// rely on: atomic duplicate checks, compare-and-set state transitions,
// one-shot challenge reviews.

type memMarkets struct {
	markets map[domain.MarketID]domain.Market
}

func newMemMarkets() *memMarkets {
	return &memMarkets{markets: make(map[domain.MarketID]domain.Market)}
}

func (m *memMarkets) Upsert(_ context.Context, market domain.Market) error {
	m.markets[market.ID] = market
	return nil
}

func (m *memMarkets) GetByID(_ context.Context, id domain.MarketID) (domain.Market, error) {
	market, ok := m.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return market, nil
}

func (m *memMarkets) ListUnresolved(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, market := range m.markets {
		if !market.Resolved {
			out = append(out, market)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memMarkets) AddStake(_ context.Context, id domain.MarketID, choice domain.VoteChoice, stake uint64) error {
	market, ok := m.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	market.ParticipantCount++
	market.TotalStake += stake
	switch choice {
	case domain.VoteYes:
		market.YesStake += stake
	case domain.VoteNo:
		market.NoStake += stake
	}
	m.markets[id] = market
	return nil
}

func (m *memMarkets) SetResolved(_ context.Context, id domain.MarketID) error {
	market, ok := m.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	market.Resolved = true
	m.markets[id] = market
	return nil
}

type memOracles struct {
	oracles map[domain.PrincipalID]domain.Oracle
}

func newMemOracles() *memOracles {
	return &memOracles{oracles: make(map[domain.PrincipalID]domain.Oracle)}
}

func (m *memOracles) Create(_ context.Context, o domain.Oracle) error {
	if _, ok := m.oracles[o.Address]; ok {
		return domain.ErrDuplicateOracle
	}
	m.oracles[o.Address] = o
	return nil
}

func (m *memOracles) GetByAddress(_ context.Context, addr domain.PrincipalID) (domain.Oracle, error) {
	o, ok := m.oracles[addr]
	if !ok {
		return domain.Oracle{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memOracles) ListEligible(_ context.Context, category domain.Category, minReputation uint8, limit int) ([]domain.Oracle, error) {
	var out []domain.Oracle
	for _, o := range m.oracles {
		if o.Active && o.Reputation >= minReputation && o.Specializes(category) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i].SpecializesExactly(category), out[j].SpecializesExactly(category)
		if ei != ej {
			return ei
		}
		return out[i].Reputation > out[j].Reputation
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOracles) RecordResolution(_ context.Context, addr domain.PrincipalID, wasCorrect bool) error {
	o, ok := m.oracles[addr]
	if !ok {
		return domain.ErrNotFound
	}
	o.TotalResolutions++
	if wasCorrect {
		o.CorrectResolutions++
	}
	o.Reputation = uint8((100*uint64(o.CorrectResolutions) + uint64(o.TotalResolutions)/2) / uint64(o.TotalResolutions))
	m.oracles[addr] = o
	return nil
}

func (m *memOracles) SetActive(_ context.Context, addr domain.PrincipalID, active bool) error {
	o, ok := m.oracles[addr]
	if !ok {
		return domain.ErrNotFound
	}
	o.Active = active
	m.oracles[addr] = o
	return nil
}

func (m *memOracles) TouchActivity(_ context.Context, addr domain.PrincipalID, at time.Time) error {
	o, ok := m.oracles[addr]
	if !ok {
		return domain.ErrNotFound
	}
	o.LastActiveAt = at
	m.oracles[addr] = o
	return nil
}

type voteKey struct {
	market domain.MarketID
	voter  domain.PrincipalID
}

type memVotes struct {
	votes map[voteKey]domain.EncryptedVote
	order []voteKey
}

func newMemVotes() *memVotes {
	return &memVotes{votes: make(map[voteKey]domain.EncryptedVote)}
}

func (m *memVotes) Insert(_ context.Context, v domain.EncryptedVote) error {
	key := voteKey{market: v.MarketID, voter: v.Voter}
	if _, ok := m.votes[key]; ok {
		return domain.ErrDuplicateVote
	}
	m.votes[key] = v
	m.order = append(m.order, key)
	return nil
}

func (m *memVotes) Exists(_ context.Context, marketID domain.MarketID, voter domain.PrincipalID) (bool, error) {
	_, ok := m.votes[voteKey{market: marketID, voter: voter}]
	return ok, nil
}

func (m *memVotes) ListByMarket(_ context.Context, marketID domain.MarketID) ([]domain.EncryptedVote, error) {
	var out []domain.EncryptedVote
	for _, key := range m.order {
		if key.market == marketID {
			out = append(out, m.votes[key])
		}
	}
	return out, nil
}

func (m *memVotes) CountByMarket(ctx context.Context, marketID domain.MarketID) (int, error) {
	votes, _ := m.ListByMarket(ctx, marketID)
	return len(votes), nil
}

type resolutionKey struct {
	market  domain.MarketID
	version int
}

type memResolutions struct {
	resolutions map[resolutionKey]domain.Resolution
	states      map[domain.MarketID]domain.ResolutionState
}

func newMemResolutions() *memResolutions {
	return &memResolutions{
		resolutions: make(map[resolutionKey]domain.Resolution),
		states:      make(map[domain.MarketID]domain.ResolutionState),
	}
}

func (m *memResolutions) Insert(_ context.Context, r domain.Resolution) error {
	key := resolutionKey{market: r.MarketID, version: r.Version}
	if _, ok := m.resolutions[key]; ok {
		return domain.ErrAlreadyExists
	}
	m.resolutions[key] = r
	return nil
}

func (m *memResolutions) GetLatest(_ context.Context, marketID domain.MarketID) (domain.Resolution, error) {
	var latest domain.Resolution
	found := false
	for key, r := range m.resolutions {
		if key.market == marketID && (!found || r.Version > latest.Version) {
			latest = r
			found = true
		}
	}
	if !found {
		return domain.Resolution{}, domain.ErrNoResolution
	}
	return latest, nil
}

func (m *memResolutions) GetVersion(_ context.Context, marketID domain.MarketID, version int) (domain.Resolution, error) {
	r, ok := m.resolutions[resolutionKey{market: marketID, version: version}]
	if !ok {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memResolutions) MarkSuperseded(_ context.Context, marketID domain.MarketID, version int) error {
	key := resolutionKey{market: marketID, version: version}
	r, ok := m.resolutions[key]
	if !ok {
		return domain.ErrNotFound
	}
	r.Superseded = true
	m.resolutions[key] = r
	return nil
}

func (m *memResolutions) ListByMarket(_ context.Context, marketID domain.MarketID) ([]domain.Resolution, error) {
	var out []domain.Resolution
	for key, r := range m.resolutions {
		if key.market == marketID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *memResolutions) GetState(_ context.Context, marketID domain.MarketID) (domain.ResolutionState, error) {
	state, ok := m.states[marketID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return state, nil
}

func (m *memResolutions) CompareAndSetState(_ context.Context, marketID domain.MarketID, from, to domain.ResolutionState) error {
	if m.states[marketID] != from {
		return domain.ErrInvalidTransition
	}
	m.states[marketID] = to
	return nil
}

func (m *memResolutions) InitState(_ context.Context, marketID domain.MarketID) error {
	if _, ok := m.states[marketID]; ok {
		return domain.ErrAlreadyExists
	}
	m.states[marketID] = domain.StateRequested
	return nil
}

type memChallenges struct {
	challenges map[uuid.UUID]domain.DisputeChallenge
	order      []uuid.UUID
}

func newMemChallenges() *memChallenges {
	return &memChallenges{challenges: make(map[uuid.UUID]domain.DisputeChallenge)}
}

func (m *memChallenges) Create(_ context.Context, c domain.DisputeChallenge) error {
	if _, ok := m.challenges[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.challenges[c.ID] = c
	m.order = append(m.order, c.ID)
	return nil
}

func (m *memChallenges) GetByID(_ context.Context, id uuid.UUID) (domain.DisputeChallenge, error) {
	c, ok := m.challenges[id]
	if !ok {
		return domain.DisputeChallenge{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memChallenges) SetStatus(_ context.Context, id uuid.UUID, status domain.ChallengeStatus, reviewedAt time.Time) error {
	c, ok := m.challenges[id]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Status != domain.ChallengePending {
		return domain.ErrChallengeAlreadyReviewed
	}
	c.Status = status
	c.ReviewedAt = &reviewedAt
	m.challenges[id] = c
	return nil
}

func (m *memChallenges) MarkResolved(_ context.Context, id uuid.UUID) error {
	c, ok := m.challenges[id]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Status == domain.ChallengeAccepted {
		c.Status = domain.ChallengeResolved
		m.challenges[id] = c
	}
	return nil
}

func (m *memChallenges) ListByMarket(_ context.Context, marketID domain.MarketID) ([]domain.DisputeChallenge, error) {
	var out []domain.DisputeChallenge
	for _, id := range m.order {
		if c := m.challenges[id]; c.MarketID == marketID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memChallenges) ListPending(_ context.Context, opts domain.ListOpts) ([]domain.DisputeChallenge, error) {
	var out []domain.DisputeChallenge
	for _, id := range m.order {
		if c := m.challenges[id]; c.Status == domain.ChallengePending {
			out = append(out, c)
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type memAudit struct {
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.entries = append(m.entries, domain.AuditEntry{
		ID:        int64(len(m.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	out := append([]domain.AuditEntry(nil), m.entries...)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memAudit) has(event string) bool {
	for _, e := range m.entries {
		if e.Event == event {
			return true
		}
	}
	return false
}

type memCache struct {
	resolutions map[domain.MarketID]domain.Resolution
}

func newMemCache() *memCache {
	return &memCache{resolutions: make(map[domain.MarketID]domain.Resolution)}
}

func (m *memCache) Set(_ context.Context, r domain.Resolution) error {
	m.resolutions[r.MarketID] = r
	return nil
}

func (m *memCache) Get(_ context.Context, marketID domain.MarketID) (domain.Resolution, error) {
	r, ok := m.resolutions[marketID]
	if !ok {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memCache) Invalidate(_ context.Context, marketID domain.MarketID) error {
	delete(m.resolutions, marketID)
	return nil
}

type memHistory struct {
	confidences map[domain.PrincipalID][]uint8
}

func newMemHistory() *memHistory {
	return &memHistory{confidences: make(map[domain.PrincipalID][]uint8)}
}

func (m *memHistory) Append(_ context.Context, voter domain.PrincipalID, confidence uint8) error {
	m.confidences[voter] = append(m.confidences[voter], confidence)
	return nil
}

func (m *memHistory) Recent(_ context.Context, voter domain.PrincipalID) ([]uint8, error) {
	all := m.confidences[voter]
	out := make([]uint8, 0, len(all))
	for i := len(all) - 1; i >= 0 && len(out) < domain.ConfidenceHistoryLimit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

type memWindow struct {
	votes map[domain.MarketID][]domain.RecentVote
}

func newMemWindow() *memWindow {
	return &memWindow{votes: make(map[domain.MarketID][]domain.RecentVote)}
}

func (m *memWindow) Append(_ context.Context, marketID domain.MarketID, v domain.RecentVote) error {
	m.votes[marketID] = append(m.votes[marketID], v)
	return nil
}

func (m *memWindow) Recent(_ context.Context, marketID domain.MarketID) ([]domain.RecentVote, error) {
	all := m.votes[marketID]
	if len(all) > domain.ConfidenceHistoryLimit {
		all = all[len(all)-domain.ConfidenceHistoryLimit:]
	}
	return append([]domain.RecentVote(nil), all...), nil
}

type memLocks struct {
	held map[string]bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[string]bool)}
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() { delete(m.held, key) }, nil
}

type memBus struct {
	published map[string][]domain.Event
	streams   map[string][]domain.Event
}

func newMemBus() *memBus {
	return &memBus{
		published: make(map[string][]domain.Event),
		streams:   make(map[string][]domain.Event),
	}
}

func (m *memBus) Publish(_ context.Context, channel string, ev domain.Event) error {
	m.published[channel] = append(m.published[channel], ev)
	return nil
}

func (m *memBus) Subscribe(_ context.Context, _ string) (<-chan domain.Event, error) {
	ch := make(chan domain.Event)
	close(ch)
	return ch, nil
}

func (m *memBus) StreamAppend(_ context.Context, stream string, ev domain.Event) error {
	m.streams[stream] = append(m.streams[stream], ev)
	return nil
}

func (m *memBus) StreamRead(_ context.Context, stream string, _ string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for i, ev := range m.streams[stream] {
		if count > 0 && len(out) >= count {
			break
		}
		out = append(out, domain.StreamMessage{ID: string(rune('1' + i)), Event: ev})
	}
	return out, nil
}

type memNotifier struct {
	events []string
}

func (m *memNotifier) HerdingCritical(_ context.Context, _ domain.MarketID, _ domain.PrincipalID, _ uint8) error {
	m.events = append(m.events, "herding.critical")
	return nil
}

func (m *memNotifier) ResolutionFinalized(_ context.Context, _ domain.MarketID, _ int) error {
	m.events = append(m.events, "resolution.finalized")
	return nil
}

func (m *memNotifier) DisputeAccepted(_ context.Context, _ domain.MarketID, _ int) error {
	m.events = append(m.events, "dispute.accepted")
	return nil
}

func (m *memNotifier) got(event string) bool {
	for _, e := range m.events {
		if e == event {
			return true
		}
	}
	return false
}

// testEnv wires every service against the in-memory fakes and a real local
// computation double, so tests exercise the full seal/aggregate path.
type testEnv struct {
	markets     *memMarkets
	oracles     *memOracles
	votes       *memVotes
	resolutions *memResolutions
	challenges  *memChallenges
	audit       *memAudit
	cache       *memCache
	history     *memHistory
	window      *memWindow
	locks       *memLocks
	bus         *memBus
	notifier    *memNotifier
	computer    *mpc.Local

	oracleSvc *OracleService
	voteSvc   *VoteService
	aggSvc    *AggregationService
	resSvc    *ResolutionService
	dispSvc   *DisputeService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	computer, err := mpc.NewLocal()
	require.NoError(t, err)

	env := &testEnv{
		markets:     newMemMarkets(),
		oracles:     newMemOracles(),
		votes:       newMemVotes(),
		resolutions: newMemResolutions(),
		challenges:  newMemChallenges(),
		audit:       &memAudit{},
		cache:       newMemCache(),
		history:     newMemHistory(),
		window:      newMemWindow(),
		locks:       newMemLocks(),
		bus:         newMemBus(),
		notifier:    &memNotifier{},
		computer:    computer,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	detector := herding.NewDetector(herding.DefaultConfig())
	nonce := func() (uint64, uint64) { return 7, 9 }

	env.oracleSvc = NewOracleService(env.oracles, env.audit, logger)
	env.voteSvc = NewVoteService(
		env.markets, env.votes, env.resolutions, env.history, env.window,
		env.computer, detector, env.bus, env.audit, nonce, logger,
	).WithNotifier(env.notifier)
	env.aggSvc = NewAggregationService(
		DefaultAggregationConfig(),
		env.markets, env.votes, env.resolutions, env.oracles,
		env.cache, env.locks, env.computer, env.bus, env.audit, logger,
	)
	env.resSvc = NewResolutionService(
		env.markets, env.votes, env.resolutions, env.challenges,
		env.oracleSvc, env.cache, env.bus, env.audit, logger,
	).WithNotifier(env.notifier)
	env.dispSvc = NewDisputeService(
		DefaultDisputeConfig(),
		env.markets, env.resolutions, env.challenges,
		env.aggSvc, env.bus, env.audit, logger,
	).WithNotifier(env.notifier)

	return env
}

func (e *testEnv) addMarket(t *testing.T, id domain.MarketID, votingEndsAt time.Time) domain.Market {
	t.Helper()
	market := domain.Market{
		ID:           id,
		Question:     "Will it resolve yes?",
		Category:     domain.CategoryGeneral,
		VotingEndsAt: votingEndsAt,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, e.markets.Upsert(context.Background(), market))
	return market
}

func (e *testEnv) addOracle(t *testing.T, addr domain.PrincipalID, reputation uint8) {
	t.Helper()
	require.NoError(t, e.oracles.Create(context.Background(), domain.Oracle{
		Address:        addr,
		Reputation:     reputation,
		Specialization: []domain.Category{domain.CategoryGeneral},
		Active:         true,
	}))
}

// sealVote encodes and seals a vote directly into the store, bypassing the
// intake gate, for aggregation-side tests.
func (e *testEnv) sealVote(t *testing.T, marketID domain.MarketID, voter domain.PrincipalID, choice domain.VoteChoice, prob uint8, stake uint64) {
	t.Helper()
	plaintext, err := codec.Encode(domain.VoteFields{
		MarketID:             uint64(marketID),
		VoteChoice:           choice,
		StakeAmount:          stake,
		PredictedProbability: prob,
		ConvictionScore:      500,
		Timestamp:            uint64(time.Now().Unix()),
		NonceHi:              uint64(voter[19]) + 1,
		NonceLo:              uint64(marketID) + 1,
	})
	require.NoError(t, err)
	ciphertext, err := e.computer.EncryptVote(context.Background(), plaintext)
	require.NoError(t, err)
	require.NoError(t, e.votes.Insert(context.Background(), domain.EncryptedVote{
		Voter:      voter,
		MarketID:   marketID,
		Ciphertext: ciphertext,
		Confidence: prob,
		Timestamp:  time.Now().UTC(),
		NonceHi:    uint64(voter[19]) + 1,
		NonceLo:    uint64(marketID) + 1,
	}))
}

func testAddr(i byte) domain.PrincipalID {
	var addr domain.PrincipalID
	addr[0] = 0xab
	addr[19] = i
	return addr
}
