package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signal_executor/internal/models"
)

func newBridge(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	data, _ := sonic.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func testCreds(url string) Config {
	return Config{BridgeURL: url + "/", Login: 1001, Password: "secret", Server: "Demo-1"}
}

func TestConnectStoresFlag(t *testing.T) {
	var got map[string]any
	srv := newBridge(t, map[string]http.HandlerFunc{
		"POST /connect": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, sonic.ConfigDefault.NewDecoder(r.Body).Decode(&got))
			writeJSON(w, map[string]any{"connected": true, "account": models.Account{Login: 1001, Balance: 500}})
		},
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())

	require.False(t, c.Connected())
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	assert.Equal(t, "Demo-1", got["server"])
	assert.Equal(t, "secret", got["password"])
}

func TestConnectLoginRejected(t *testing.T) {
	srv := newBridge(t, map[string]http.HandlerFunc{
		"POST /connect": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"connected": false, "error": "invalid account"})
		},
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid account")
	assert.False(t, c.Connected())
}

func TestFailedReconnectKeepsSession(t *testing.T) {
	down := false
	srv := newBridge(t, map[string]http.HandlerFunc{
		"POST /connect": func(w http.ResponseWriter, r *http.Request) {
			if down {
				http.Error(w, "bad gateway", http.StatusBadGateway)
				return
			}
			writeJSON(w, map[string]any{"connected": true})
		},
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))

	down = true
	require.Error(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
}

func TestConnectWithoutCredentials(t *testing.T) {
	c := NewClient(Config{BridgeURL: "http://127.0.0.1:1"}, zap.NewNop())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrNoCredentials)
}

func TestSymbolInfoNotFoundIsNil(t *testing.T) {
	srv := newBridge(t, map[string]http.HandlerFunc{
		"GET /symbols/{name}": func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("name") != "EURUSD.p" {
				http.NotFound(w, r)
				return
			}
			writeJSON(w, models.SymbolInfo{Name: "EURUSD.p", Visible: true, TradeMode: models.TradeModeFull, Bid: 1.1, Ask: 1.1002})
		},
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())

	info, err := c.SymbolInfo(context.Background(), "EURUSD.p")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.Tradeable())
	assert.InDelta(t, 1.1002, info.Ask, 1e-9)

	info, err = c.SymbolInfo(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestAccountInfoMissing(t *testing.T) {
	srv := newBridge(t, map[string]http.HandlerFunc{
		"GET /account": http.NotFound,
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())

	acc, err := c.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestListPositionsFiltersBySymbol(t *testing.T) {
	var query string
	srv := newBridge(t, map[string]http.HandlerFunc{
		"GET /positions": func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query().Get("symbol")
			writeJSON(w, []models.Position{{Ticket: 5, Symbol: "XAUUSD", Side: models.SideSell, Volume: 0.1, Magic: 234000}})
		},
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())

	ps, err := c.ListPositions(context.Background(), "XAUUSD")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "XAUUSD", query)
	assert.Equal(t, "SHORT", ps[0].Label())

	_, err = c.ListPositions(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, query)
}

func TestSubmitOrder(t *testing.T) {
	var sent models.OrderRequest
	srv := newBridge(t, map[string]http.HandlerFunc{
		"POST /orders": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, sonic.ConfigDefault.NewDecoder(r.Body).Decode(&sent))
			if sent.Comment == "null" {
				_, _ = w.Write([]byte("null"))
				return
			}
			writeJSON(w, models.OrderResult{Order: 42, Retcode: models.RetcodeDone, Price: 1.1})
		},
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())

	res, err := c.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "EURUSD", Side: models.SideBuy, Volume: 0.01, Comment: "NightTrader BUY"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Done())
	assert.Equal(t, uint64(42), res.Order)
	assert.Equal(t, models.SideBuy, sent.Side)

	res, err = c.SubmitOrder(context.Background(), models.OrderRequest{Comment: "null"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestPingAndServerErrors(t *testing.T) {
	alive := true
	srv := newBridge(t, map[string]http.HandlerFunc{
		"GET /terminal": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]bool{"connected": alive})
		},
		"GET /symbols": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "terminal busy", http.StatusServiceUnavailable)
		},
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())

	require.NoError(t, c.Ping(context.Background()))
	alive = false
	assert.Error(t, c.Ping(context.Background()))

	_, err := c.ListSymbols(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestShutdownClearsFlag(t *testing.T) {
	calls := 0
	srv := newBridge(t, map[string]http.HandlerFunc{
		"POST /connect": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"connected": true})
		},
		"POST /shutdown": func(w http.ResponseWriter, r *http.Request) { calls++ },
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())

	require.NoError(t, c.Connect(context.Background()))
	c.Shutdown(context.Background())
	assert.False(t, c.Connected())
	assert.Equal(t, 1, calls)
}

func TestCallsAreSerialized(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := newBridge(t, map[string]http.HandlerFunc{
		"GET /positions": func(w http.ResponseWriter, r *http.Request) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			writeJSON(w, []models.Position{})
		},
	})
	c := NewClient(testCreds(srv.URL), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListPositions(context.Background(), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
}
