package mpc

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

var testUpgrader = websocket.Upgrader{}

// clusterServer is a scripted gateway endpoint: per-connection behavior is
// decided by the onQueue callback, keyed by connection ordinal.
type clusterServer struct {
	t       *testing.T
	srv     *httptest.Server
	mu      sync.Mutex
	conns   int
	onQueue func(conn *websocket.Conn, n int, f frame)
}

func newClusterServer(t *testing.T, onQueue func(conn *websocket.Conn, n int, f frame)) *clusterServer {
	t.Helper()
	cs := &clusterServer{t: t, onQueue: onQueue}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs.mu.Lock()
		cs.conns++
		n := cs.conns
		cs.mu.Unlock()

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			conn.Close()
			return
		}
		cs.onQueue(conn, n, f)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *clusterServer) wsURL() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http")
}

func (cs *clusterServer) connections() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.conns
}

// drain keeps reading so pings are answered until the peer goes away.
func drain(conn *websocket.Conn) {
	defer conn.Close()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func newTestGateway(t *testing.T, url string) *Gateway {
	t.Helper()
	pub, _, err := GenerateKeypair()
	require.NoError(t, err)

	g, err := NewGateway(GatewayConfig{URL: url, ClusterPublicKey: hex.EncodeToString(pub[:])})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestNewGatewayRejectsBadKey(t *testing.T) {
	_, err := NewGateway(GatewayConfig{URL: "ws://localhost:0", ClusterPublicKey: "not-hex"})
	require.Error(t, err)

	_, err = NewGateway(GatewayConfig{URL: "ws://localhost:0", ClusterPublicKey: "abcd"})
	require.Error(t, err)
}

func TestGatewayQueueAndFinalize(t *testing.T) {
	cs := newClusterServer(t, func(conn *websocket.Conn, _ int, f frame) {
		conn.WriteJSON(frame{
			Type:   "finalized",
			Handle: f.Handle,
			Aggregate: &wireAggregate{
				MarketID:              f.MarketID,
				YesCount:              2,
				NoCount:               1,
				YesStake:              300,
				NoStake:               100,
				WinningProbabilitySum: 160,
				Correct:               map[string]bool{},
			},
		})
		drain(conn)
	})

	g := newTestGateway(t, cs.wsURL())
	ctx := context.Background()
	require.NoError(t, g.Connect(ctx))

	handle, err := g.QueueComputation(ctx, domain.ComputationDescriptor{
		Kind:     "aggregate_votes",
		MarketID: 7,
	}, nil)
	require.NoError(t, err)

	agg, err := g.AwaitFinalization(ctx, handle, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketID(7), agg.MarketID)
	assert.Equal(t, uint32(2), agg.YesCount)
	assert.Equal(t, uint64(160), agg.WinningProbabilitySum)
}

func TestGatewayAwaitTimeout(t *testing.T) {
	cs := newClusterServer(t, func(conn *websocket.Conn, _ int, _ frame) {
		// Never finalize; just keep the connection alive.
		drain(conn)
	})

	g := newTestGateway(t, cs.wsURL())
	ctx := context.Background()
	require.NoError(t, g.Connect(ctx))

	handle, err := g.QueueComputation(ctx, domain.ComputationDescriptor{Kind: "aggregate_votes", MarketID: 7}, nil)
	require.NoError(t, err)

	_, err = g.AwaitFinalization(ctx, handle, 50*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrComputationTimeout)
}

func TestGatewayReconnectReplaysPending(t *testing.T) {
	cs := newClusterServer(t, func(conn *websocket.Conn, n int, f frame) {
		if n == 1 {
			// Drop the first connection after taking the queue frame.
			conn.Close()
			return
		}
		// The replayed frame must carry the original handle.
		conn.WriteJSON(frame{
			Type:   "finalized",
			Handle: f.Handle,
			Aggregate: &wireAggregate{
				MarketID: f.MarketID,
				YesCount: 3,
				NoCount:  2,
				Correct:  map[string]bool{},
			},
		})
		drain(conn)
	})

	g := newTestGateway(t, cs.wsURL())
	ctx := context.Background()
	require.NoError(t, g.Connect(ctx))

	handle, err := g.QueueComputation(ctx, domain.ComputationDescriptor{Kind: "aggregate_votes", MarketID: 9}, nil)
	require.NoError(t, err)

	// The backoff redial plus replay must deliver the result without any
	// caller involvement.
	agg, err := g.AwaitFinalization(ctx, handle, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), agg.YesCount)
	assert.GreaterOrEqual(t, cs.connections(), 2)
}
