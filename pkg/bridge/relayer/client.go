// Package relayer talks to the bridge's counterparty network over HTTP and
// follows its event stream over a websocket.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"xroute/pkg/bridge"
)

const (
	defaultTimeout   = 30 * time.Second
	reconnectDelay   = 2 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Config configures the relayer client
type Config struct {
	BaseURL   string
	EventsURL string
	// RequestsPerSecond throttles quote requests; zero disables throttling
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client implements bridge.Network
type Client struct {
	baseURL   string
	eventsURL string
	http      *http.Client
	limiter   *rate.Limiter
	dialer    *websocket.Dialer
	log       *logrus.Entry
}

var _ bridge.Network = (*Client)(nil)

// New creates a relayer client
func New(cfg Config, log *logrus.Entry) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	eventsURL := cfg.EventsURL
	if eventsURL == "" {
		eventsURL = websocketURL(cfg.BaseURL) + "/events"
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		eventsURL: eventsURL,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   limiter,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:       log,
	}
}

func websocketURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https"):
		return "wss" + base[5:]
	case strings.HasPrefix(base, "http"):
		return "ws" + base[4:]
	}
	return base
}

// RequestQuote runs an auction for a transfer
func (c *Client) RequestQuote(ctx context.Context, req bridge.QuoteRequest) (*bridge.AuctionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var resp bridge.AuctionResponse
	if err := c.do(ctx, http.MethodPost, "/auction/quote", req, &resp); err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	return &resp, nil
}

// Fulfill submits the claim signature to the relayers
func (c *Client) Fulfill(ctx context.Context, req bridge.FulfillRequest) error {
	if err := c.do(ctx, http.MethodPost, "/transfers/fulfill", req, nil); err != nil {
		return fmt.Errorf("fulfill request failed: %w", err)
	}
	return nil
}

// Cancel asks the relayers to cancel a prepared transfer
func (c *Client) Cancel(ctx context.Context, req bridge.CancelRequest) error {
	if err := c.do(ctx, http.MethodPost, "/transfers/cancel", req, nil); err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	return nil
}

// ActiveTransfers lists transfers still in flight for user
func (c *Client) ActiveTransfers(ctx context.Context, user string) ([]bridge.ActiveTransfer, error) {
	var out []bridge.ActiveTransfer
	if err := c.do(ctx, http.MethodGet, "/transfers/active?user="+url.QueryEscape(user), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list active transfers: %w", err)
	}
	return out, nil
}

// HistoricalTransfers lists finished transfers for user
func (c *Client) HistoricalTransfers(ctx context.Context, user string) ([]bridge.HistoricalTransfer, error) {
	var out []bridge.HistoricalTransfer
	if err := c.do(ctx, http.MethodGet, "/transfers/history?user="+url.QueryEscape(user), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list historical transfers: %w", err)
	}
	return out, nil
}

type apiError struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("relayer returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("relayer returned %d", resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Events follows the network event stream, reconnecting until ctx is done.
// The first connection is made before returning so configuration errors
// surface immediately.
func (c *Client) Events(ctx context.Context) (<-chan bridge.Event, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.eventsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	out := make(chan bridge.Event, 64)
	go func() {
		defer close(out)
		for {
			c.read(ctx, conn, out)
			if ctx.Err() != nil {
				return
			}
			conn = c.redial(ctx)
			if conn == nil {
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn, out chan<- bridge.Event) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-stop:
			conn.Close()
		}
	}()

	for {
		var ev bridge.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil {
				c.log.WithError(err).Warn("event stream interrupted")
			}
			return
		}
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now()
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) redial(ctx context.Context) *websocket.Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
		conn, _, err := c.dialer.DialContext(ctx, c.eventsURL, nil)
		if err == nil {
			c.log.Info("event stream reconnected")
			return conn
		}
		c.log.WithError(err).Warn("event stream reconnect failed")
	}
}
