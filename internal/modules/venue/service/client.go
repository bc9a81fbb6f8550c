// Package service is the HTTP client of the MT5 bridge sidecar. The sidecar
// runs next to the terminal and exposes it as a small JSON API:
//
//	POST /connect                {login,password,server}
//	GET  /terminal               liveness
//	GET  /symbols                [{name,visible,trade_mode}]
//	GET  /symbols/{name}         quote + volume constraints, 404 when unknown
//	POST /symbols/{name}/select  add to Market Watch
//	GET  /account                404 when not logged in
//	GET  /positions?symbol=      open positions
//	POST /orders                 order_send; null when the terminal returned nothing
//	POST /shutdown
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"signal_executor/internal/models"
)

var (
	ErrNoCredentials = errors.New("venue: credentials not configured")
	errNotFound      = errors.New("venue: not found")
)

type Config struct {
	BridgeURL string
	Timeout   time.Duration
	Login     int64
	Password  string
	Server    string
}

type Client struct {
	base  string
	http  *http.Client
	creds Config
	log   *zap.Logger

	// mu serializes bridge calls: the terminal is driven by one request at a
	// time whichever goroutine (worker or notifier command) issues it.
	mu        sync.Mutex
	connected atomic.Bool
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BridgeURL), "/")
	if base == "" {
		base = "http://127.0.0.1:8081"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:  base,
		http:  &http.Client{Timeout: timeout},
		creds: cfg,
		log:   log,
	}
}

// Connected is the cached session flag. It never touches the network.
func (c *Client) Connected() bool { return c.connected.Load() }

// Connect initializes the terminal and logs in. A failed attempt leaves the
// session flag as it was: an established session stays marked connected so
// the next signal pings and retries instead of being skipped.
func (c *Client) Connect(ctx context.Context) error {
	if c.creds.Login == 0 || c.creds.Password == "" || c.creds.Server == "" {
		return ErrNoCredentials
	}

	body := map[string]any{
		"login":    c.creds.Login,
		"password": c.creds.Password,
		"server":   c.creds.Server,
	}
	var out struct {
		Connected bool            `json:"connected"`
		Error     string          `json:"error"`
		Account   *models.Account `json:"account"`
	}
	if err := c.do(ctx, http.MethodPost, "/connect", body, &out); err != nil {
		return errors.Wrap(err, "venue connect")
	}
	if !out.Connected {
		return errors.Errorf("venue login failed: %s", out.Error)
	}

	c.connected.Store(true)
	if out.Account != nil {
		c.log.Info("venue connected",
			zap.Int64("login", out.Account.Login),
			zap.String("server", out.Account.Server),
			zap.Float64("balance", out.Account.Balance),
			zap.String("currency", out.Account.Currency),
		)
	}
	return nil
}

// Ping checks that the terminal is still alive and logged in.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Connected bool `json:"connected"`
	}
	if err := c.do(ctx, http.MethodGet, "/terminal", nil, &out); err != nil {
		return errors.Wrap(err, "terminal info")
	}
	if !out.Connected {
		return errors.New("terminal not connected")
	}
	return nil
}

func (c *Client) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	var out []models.SymbolMeta
	if err := c.do(ctx, http.MethodGet, "/symbols", nil, &out); err != nil {
		return nil, errors.Wrap(err, "list symbols")
	}
	return out, nil
}

// SymbolInfo returns nil without error for symbols the venue does not know.
func (c *Client) SymbolInfo(ctx context.Context, name string) (*models.SymbolInfo, error) {
	var out models.SymbolInfo
	err := c.do(ctx, http.MethodGet, "/symbols/"+url.PathEscape(name), nil, &out)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "symbol info %s", name)
	}
	return &out, nil
}

func (c *Client) Select(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodPost, "/symbols/"+url.PathEscape(name)+"/select", nil, nil)
	return errors.Wrapf(err, "select %s", name)
}

// AccountInfo returns nil without error when the terminal has no account.
func (c *Client) AccountInfo(ctx context.Context) (*models.Account, error) {
	var out models.Account
	err := c.do(ctx, http.MethodGet, "/account", nil, &out)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "account info")
	}
	return &out, nil
}

func (c *Client) ListPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	path := "/positions"
	if symbol != "" {
		path += "?symbol=" + url.QueryEscape(symbol)
	}
	var out []models.Position
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, errors.Wrap(err, "list positions")
	}
	return out, nil
}

// SubmitOrder returns (nil, nil) when the terminal produced no result object.
func (c *Client) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	var out *models.OrderResult
	if err := c.do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		return nil, errors.Wrap(err, "order send")
	}
	return out, nil
}

// Shutdown closes the terminal session. Errors are only logged.
func (c *Client) Shutdown(ctx context.Context) {
	c.connected.Store(false)
	if err := c.do(ctx, http.MethodPost, "/shutdown", nil, nil); err != nil {
		c.log.Warn("venue shutdown failed", zap.Error(err))
		return
	}
	c.log.Info("venue connection closed")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := sonic.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrapf(err, "new request %s %s", method, path)
	}
	req.Header.Set("User-Agent", "signal-executor/bridge")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	res, err := c.http.Do(req)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	data, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	c.mu.Unlock()

	if res.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s http %d: %s", method, path, res.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}
