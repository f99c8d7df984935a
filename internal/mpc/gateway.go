package mpc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the initial backoff after a dropped connection.
	reconnectDelay = time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// GatewayConfig holds connection parameters for the MPC cluster gateway.
type GatewayConfig struct {
	// URL is the gateway websocket endpoint.
	URL string
	// ClusterPublicKey is the hex-encoded X25519 public key votes are
	// sealed against.
	ClusterPublicKey string
}

// frame is the JSON wire format exchanged with the gateway.
type frame struct {
	Type        string         `json:"type"` // "queue", "queued", "finalized", "error"
	Handle      string         `json:"handle,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	MarketID    uint64         `json:"market_id,omitempty"`
	Voters      []string       `json:"voters,omitempty"`
	Ciphertexts []string       `json:"ciphertexts,omitempty"` // base64
	Aggregate   *wireAggregate `json:"aggregate,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// wireAggregate mirrors domain.DecryptedAggregate on the wire.
type wireAggregate struct {
	MarketID              uint64          `json:"market_id"`
	YesCount              uint32          `json:"yes_count"`
	NoCount               uint32          `json:"no_count"`
	SkipCount             uint32          `json:"skip_count"`
	YesStake              uint64          `json:"yes_stake"`
	NoStake               uint64          `json:"no_stake"`
	WinningProbabilitySum uint64          `json:"winning_probability_sum"`
	Correct               map[string]bool `json:"correct"`
}

// Gateway is a websocket client for a remote MPC cluster gateway. It seals
// votes locally against the cluster public key, queues aggregation
// computations, and awaits finalization frames. On disconnect it redials
// with exponential backoff and re-queues every computation still pending;
// handles are stable across reconnects, so the cluster deduplicates
// resubmissions.
type Gateway struct {
	url        string
	clusterPub [32]byte

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// pending maps computation handles to their result channel and the queue
	// frame to replay after a reconnect.
	pendingMu sync.Mutex
	pending   map[domain.ComputationHandle]*pendingComputation

	done chan struct{}
}

type pendingComputation struct {
	ch    chan result
	queue frame
}

type result struct {
	agg domain.DecryptedAggregate
	err error
}

// NewGateway creates a Gateway for the given config. Connect must be called
// before queueing computations.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	pubBytes, err := hex.DecodeString(cfg.ClusterPublicKey)
	if err != nil || len(pubBytes) != 32 {
		return nil, fmt.Errorf("mpc: invalid cluster public key %q", cfg.ClusterPublicKey)
	}

	g := &Gateway{
		url:     cfg.URL,
		pending: make(map[domain.ComputationHandle]*pendingComputation),
		done:    make(chan struct{}),
	}
	copy(g.clusterPub[:], pubBytes)
	return g, nil
}

// Connect establishes the websocket connection and starts the read and ping
// loops.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return fmt.Errorf("mpc: gateway closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("mpc: connect gateway: %w", err)
	}
	g.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go g.readLoop(conn)
	go g.pingLoop(conn)

	// Replay computations that were in flight when the previous connection
	// dropped.
	g.pendingMu.Lock()
	replay := make([]frame, 0, len(g.pending))
	for _, p := range g.pending {
		replay = append(replay, p.queue)
	}
	g.pendingMu.Unlock()
	for _, f := range replay {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(f); err != nil {
			return fmt.Errorf("mpc: replay computation %s: %w", f.Handle, err)
		}
	}

	return nil
}

// Close shuts the gateway down and fails all pending waits.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	close(g.done)

	g.failPending(fmt.Errorf("mpc: gateway closed"))

	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}

// EncryptVote seals the packed vote fields against the cluster public key.
func (g *Gateway) EncryptVote(_ context.Context, plaintext []byte) ([]byte, error) {
	return Seal(plaintext, g.clusterPub, rand.Reader)
}

// QueueComputation submits the ciphertext set for asynchronous aggregation.
func (g *Gateway) QueueComputation(ctx context.Context, desc domain.ComputationDescriptor, ciphertexts [][]byte) (domain.ComputationHandle, error) {
	handle := domain.ComputationHandle(uuid.New().String())

	encoded := make([]string, len(ciphertexts))
	for i, ct := range ciphertexts {
		encoded[i] = base64.StdEncoding.EncodeToString(ct)
	}
	voters := make([]string, len(desc.Voters))
	for i, v := range desc.Voters {
		voters[i] = v.Hex()
	}

	queue := frame{
		Type:        "queue",
		Handle:      string(handle),
		Kind:        desc.Kind,
		MarketID:    uint64(desc.MarketID),
		Voters:      voters,
		Ciphertexts: encoded,
	}

	g.pendingMu.Lock()
	g.pending[handle] = &pendingComputation{ch: make(chan result, 1), queue: queue}
	g.pendingMu.Unlock()

	if err := g.send(queue); err != nil {
		g.pendingMu.Lock()
		delete(g.pending, handle)
		g.pendingMu.Unlock()
		return "", fmt.Errorf("mpc: queue computation: %w", err)
	}

	return handle, nil
}

// AwaitFinalization blocks until the finalized frame for the handle arrives
// or the timeout elapses. Abandoning the wait does not corrupt anything: the
// handle stays pending and a later frame for it is discarded.
func (g *Gateway) AwaitFinalization(ctx context.Context, handle domain.ComputationHandle, timeout time.Duration) (domain.DecryptedAggregate, error) {
	g.pendingMu.Lock()
	p, ok := g.pending[handle]
	g.pendingMu.Unlock()
	if !ok {
		return domain.DecryptedAggregate{}, fmt.Errorf("mpc: unknown computation handle %s: %w", handle, domain.ErrNotFound)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		g.forget(handle)
		return res.agg, res.err
	case <-timer.C:
		return domain.DecryptedAggregate{}, fmt.Errorf("mpc: await %s: %w", handle, domain.ErrComputationTimeout)
	case <-ctx.Done():
		return domain.DecryptedAggregate{}, fmt.Errorf("mpc: await %s: %w", handle, ctx.Err())
	case <-g.done:
		return domain.DecryptedAggregate{}, fmt.Errorf("mpc: gateway closed while awaiting %s", handle)
	}
}

func (g *Gateway) send(f frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return fmt.Errorf("mpc: not connected")
	}
	g.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return g.conn.WriteJSON(f)
}

// readLoop dispatches finalization frames to their pending channels. On a
// read error it hands off to reconnect; pending computations survive the
// drop and are replayed on the next connection.
func (g *Gateway) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			select {
			case <-g.done:
			default:
				g.reconnect()
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch f.Type {
		case "finalized":
			g.deliver(domain.ComputationHandle(f.Handle), resultFromFrame(f))
		case "error":
			g.deliver(domain.ComputationHandle(f.Handle), result{err: fmt.Errorf("mpc: cluster error: %s", f.Error)})
		}
	}
}

func resultFromFrame(f frame) result {
	if f.Aggregate == nil {
		return result{err: fmt.Errorf("mpc: finalized frame without aggregate")}
	}
	agg := domain.DecryptedAggregate{
		MarketID:              domain.MarketID(f.Aggregate.MarketID),
		YesCount:              f.Aggregate.YesCount,
		NoCount:               f.Aggregate.NoCount,
		SkipCount:             f.Aggregate.SkipCount,
		YesStake:              f.Aggregate.YesStake,
		NoStake:               f.Aggregate.NoStake,
		WinningProbabilitySum: f.Aggregate.WinningProbabilitySum,
		Correct:               make(map[domain.PrincipalID]bool, len(f.Aggregate.Correct)),
	}
	for addr, ok := range f.Aggregate.Correct {
		agg.Correct[domain.HexToPrincipal(addr)] = ok
	}
	return result{agg: agg}
}

// reconnect redials with exponential backoff until it succeeds or the
// gateway is closed. Connect restarts the loops and replays pending queues.
func (g *Gateway) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-g.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := g.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (g *Gateway) deliver(handle domain.ComputationHandle, res result) {
	g.pendingMu.Lock()
	p, ok := g.pending[handle]
	g.pendingMu.Unlock()
	if !ok {
		return // abandoned computation, frame discarded
	}
	select {
	case p.ch <- res:
	default:
	}
}

func (g *Gateway) forget(handle domain.ComputationHandle) {
	g.pendingMu.Lock()
	delete(g.pending, handle)
	g.pendingMu.Unlock()
}

func (g *Gateway) failPending(err error) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	for handle, p := range g.pending {
		select {
		case p.ch <- result{err: err}:
		default:
		}
		delete(g.pending, handle)
	}
}

func (g *Gateway) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-g.done:
			return
		}
	}
}

// Compile-time interface check.
var _ domain.Computer = (*Gateway)(nil)
