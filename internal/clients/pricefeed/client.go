// Package pricefeed streams live card price ticks over a WebSocket and turns
// significant moves into change events for the trigger pipeline.
package pricefeed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/tasks"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// A tick only becomes a change event when the move is large enough to
	// matter; smaller moves still update the local cache and the SSE stream.
	significantMovePct = 10.0
	significantMoveMin = 1.0
)

// EventSink receives change events derived from price ticks. In production
// this is the trigger service.
type EventSink interface {
	SubmitChangeEvent(ctx context.Context, event domain.ChangeEvent) (*tasks.AnalysisTrigger, error)
}

// tick is one price update on the feed.
type tick struct {
	CardID string  `json:"card_id"`
	Name   string  `json:"name,omitempty"`
	Price  float64 `json:"price"`
}

// feedPayload is the data half of a ["prices", {...}] frame.
type feedPayload struct {
	Ticks     []tick `json:"ticks"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Client maintains the WebSocket connection to the price feed, caches last
// seen prices, and forwards significant moves as price_change events.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	decks *decks.Repository
	sink  EventSink
	bus   *events.Bus
	log   zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	lastPrices map[string]float64
	lastUpdate time.Time
	cacheMu    sync.RWMutex
}

// newHTTP1Client forces HTTP/1.1 in ALPN. Proxies that negotiate HTTP/2 over
// TLS break the WebSocket upgrade handshake.
func newHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewClient creates a new price feed client.
func NewClient(url, apiKey string, deckRepo *decks.Repository, sink EventSink, bus *events.Bus, log zerolog.Logger) *Client {
	return &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: newHTTP1Client(),
		decks:      deckRepo,
		sink:       sink,
		bus:        bus,
		log:        log.With().Str("component", "pricefeed").Logger(),
		stopChan:   make(chan struct{}),
		lastPrices: make(map[string]float64),
	}
}

// Start connects and begins reading ticks. A failed initial connection is
// not fatal: the reconnect loop keeps trying in the background.
func (c *Client) Start() error {
	c.log.Info().Msg("Starting price feed client")

	if err := c.connect(); err != nil {
		c.log.Warn().Err(err).Msg("Initial price feed connection failed, will retry in background")
		go c.reconnectLoop()
		return err
	}

	c.mu.RLock()
	ctx := c.connCtx
	c.mu.RUnlock()
	go c.readLoop(ctx)

	c.log.Info().Msg("Price feed client started")
	return nil
}

// Stop shuts the feed down. Idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.log.Info().Msg("Stopping price feed client")
	close(c.stopChan)
	return c.disconnect()
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wsURL := c.url
	if c.apiKey != "" {
		wsURL += "?key=" + c.apiKey
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial price feed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = connCancel
	c.connected = true

	if err := c.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		c.conn = nil
		c.connCtx = nil
		c.cancelFunc = nil
		c.connected = false
		return fmt.Errorf("failed to subscribe to prices: %w", err)
	}

	c.log.Info().Str("url", c.url).Msg("Connected to price feed")
	return nil
}

func (c *Client) disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	c.connCtx = nil
	c.connected = false

	if err != nil {
		return fmt.Errorf("error closing price feed connection: %w", err)
	}
	return nil
}

func (c *Client) subscribe(ctx context.Context) error {
	data, err := json.Marshal([]string{"prices"})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.log.Info().Msg("Price feed read loop stopped")
		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if !stopped {
			go c.reconnectLoop()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				c.log.Info().Int("status", int(closeStatus)).Msg("Price feed closed normally")
			} else if ctx.Err() == nil {
				c.log.Error().Err(err).Msg("Unexpected price feed read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		if err := c.handleMessage(message); err != nil {
			c.log.Error().Err(err).Msg("Failed to handle price feed message")
		}
	}
}

// handleMessage parses one ["channel", data] frame.
func (c *Client) handleMessage(message []byte) error {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil {
		return fmt.Errorf("failed to parse message frame: %w", err)
	}
	if len(frame) < 2 {
		return fmt.Errorf("message frame too short: expected 2 elements, got %d", len(frame))
	}

	var channel string
	if err := json.Unmarshal(frame[0], &channel); err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}
	if channel != "prices" {
		return nil
	}

	var payload feedPayload
	if err := json.Unmarshal(frame[1], &payload); err != nil {
		return fmt.Errorf("failed to parse tick payload: %w", err)
	}

	for _, t := range payload.Ticks {
		c.handleTick(t)
	}
	return nil
}

// handleTick processes one price tick: updates the cache, publishes it on
// the bus, and submits change events when the move clears the significance
// thresholds.
func (c *Client) handleTick(t tick) {
	c.cacheMu.Lock()
	old, seen := c.lastPrices[t.CardID]
	c.lastPrices[t.CardID] = t.Price
	c.lastUpdate = time.Now()
	c.cacheMu.Unlock()

	if c.bus != nil {
		c.bus.Emit(events.PriceTick, "pricefeed", events.PriceTickData{
			CardID:   t.CardID,
			Price:    t.Price,
			OldPrice: old,
		})
	}

	if !seen || !significantMove(old, t.Price) {
		return
	}

	holders, err := c.decks.HoldersOf(t.CardID)
	if err != nil {
		c.log.Error().Err(err).Str("card_id", t.CardID).Msg("Failed to resolve card holders")
		return
	}

	for _, h := range holders {
		event := domain.ChangeEvent{
			Type:       domain.EventPriceChange,
			UserID:     h.UserID,
			DeckID:     h.DeckID,
			CardID:     t.CardID,
			CardName:   t.Name,
			CardValue:  t.Price,
			ObservedAt: time.Now().UTC(),
		}
		if _, err := c.sink.SubmitChangeEvent(context.Background(), event); err != nil {
			c.log.Warn().Err(err).
				Str("card_id", t.CardID).
				Str("user_id", h.UserID).
				Msg("Failed to submit price change event")
		}
	}

	c.log.Debug().
		Str("card_id", t.CardID).
		Float64("old", old).
		Float64("new", t.Price).
		Int("holders", len(holders)).
		Msg("Significant price move forwarded")
}

// significantMove reports whether a price change clears both the relative
// and absolute thresholds.
func significantMove(old, current float64) bool {
	if old <= 0 {
		return false
	}
	diff := math.Abs(current - old)
	return diff >= significantMoveMin && diff/old*100 >= significantMovePct
}

// LastPrice returns the most recent tick for a card, if any.
func (c *Client) LastPrice(cardID string) (float64, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	p, ok := c.lastPrices[cardID]
	return p, ok
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting || c.stopped {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := backoffDelay(attempt)
		if attempt <= maxReconnectAttempts {
			c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to price feed")
		} else {
			c.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to price feed (past max attempts, still trying)")
		}

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}

		if err := c.connect(); err != nil {
			c.log.Error().Err(err).Int("attempt", attempt).Msg("Price feed reconnection failed")
			continue
		}

		c.log.Info().Int("attempt", attempt).Msg("Reconnected to price feed")

		c.mu.RLock()
		ctx := c.connCtx
		c.mu.RUnlock()
		go c.readLoop(ctx)
		return
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
