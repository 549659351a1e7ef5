// Package ingestion is the external collaborator boundary named in
// spec.md §1: a WebSocket client for the raw aggregated-trade/depth-diff
// stream, plus a rate-limited REST snapshot fetch used to seed the book
// on every (re)connect. Grounded on internal/ingestion/websocket.go and
// rest.go's reconnect/backoff and rate-limiter shape, generalized from
// Kalshi's authenticated multi-market REST+WS surface to a single public
// trade/depth stream for one trading pair.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/orderflowlabs/flowengine/internal/book"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

// Handlers are the sinks the client dispatches decoded wire events to.
// Both are invoked synchronously on the client's read goroutine, in
// wire order — downstream (the preprocessor) handles its own
// single-threaded dispatch discipline from there.
type Handlers struct {
	OnTrade     func(preprocess.AggTrade)
	OnDepthDiff func(book.DepthDiff)
}

// Client owns the WebSocket connection lifecycle and the REST snapshot
// fetch used to (re)seed the book after every reconnect.
type Client struct {
	cfg      Config
	book     *book.Book
	handlers Handlers
	http     *http.Client
	limiter  *rate.Limiter
}

// New constructs a Client. cfg must already have passed Validate(); New
// panics otherwise, since this is a startup-time configuration error.
func New(cfg Config, b *book.Book, handlers Handlers) *Client {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &Client{
		cfg:      cfg,
		book:     b,
		handlers: handlers,
		http:     &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond),
	}
}

// Run connects, seeds the book from a REST snapshot, and streams trade
// and depth events until ctx is canceled, reconnecting with exponential
// backoff on every disconnect.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.connectAndStream(ctx)
		c.book.OnStreamDisconnected(errString(err))
		if err != nil && err != context.Canceled {
			log.Printf("ingestion: stream error: %v; reconnecting in %v", err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "stream closed normally"
	}
	return err.Error()
}

func (c *Client) connectAndStream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HealthTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("ingestion: dial: %w", err)
	}
	defer conn.Close()

	c.book.Reset()
	if err := c.seedSnapshot(ctx); err != nil {
		log.Printf("ingestion: snapshot seed failed: %v (continuing on stream deltas alone)", err)
	}
	c.book.OnStreamConnected()

	done := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			if err := c.dispatch(raw); err != nil {
				log.Printf("ingestion: dropping malformed frame: %v", err)
			}
		}
	}()

	ping := time.NewTicker(c.cfg.HealthTimeout / 2)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ingestion: ping: %w", err)
			}
		}
	}
}

func (c *Client) dispatch(raw []byte) error {
	event, err := parseFrame(raw)
	if err != nil {
		return err
	}
	switch event {
	case "aggTrade":
		trade, err := decodeAggTrade(raw)
		if err != nil {
			return err
		}
		c.handlers.OnTrade(trade)
	case "depthUpdate":
		diffs, err := decodeDepthUpdate(raw)
		if err != nil {
			return err
		}
		for _, d := range diffs {
			c.handlers.OnDepthDiff(d)
		}
	default:
		// unrecognized frame type, ignore
	}
	return nil
}

// seedSnapshot fetches a full depth snapshot over REST and applies it to
// the book, rate-limited the same way per-request depth fetches are.
func (c *Client) seedSnapshot(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u, err := url.Parse(c.cfg.SnapshotBaseURL)
	if err != nil {
		return fmt.Errorf("ingestion: invalid snapshot_base_url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", c.cfg.Symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ingestion: snapshot request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingestion: snapshot status %d", resp.StatusCode)
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("ingestion: decoding snapshot: %w", err)
	}
	diffs, err := decodeDepthSnapshot(body)
	if err != nil {
		return err
	}
	for _, d := range diffs {
		c.book.ApplyDepthDiff(d)
	}
	return nil
}
