package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tax-harvest-lab/internal/domain"
)

// FeedConfig configures the streaming price feed.
type FeedConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// WriteTimeout bounds writes (subscribe messages, pings).
	WriteTimeout time.Duration
	// MaxQuoteAge marks how old a streamed quote may be before the feed
	// delegates the lookup to the fallback oracle.
	MaxQuoteAge time.Duration
}

// DefaultFeedConfig returns the default streaming configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxQuoteAge:       2 * time.Minute,
	}
}

// Feed is a streaming price oracle: it keeps the latest quote per
// subscribed token and answers lookups from that table, delegating
// misses and stale entries to a fallback oracle (usually HTTPOracle).
type Feed struct {
	endpoint string
	config   FeedConfig
	fallback Oracle
	log      zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	quotes   map[string]Quote
	quotesMu sync.RWMutex

	// subscribed tokens, resubscribed after reconnect
	tokens   map[string]domain.Token
	tokensMu sync.RWMutex

	now func() time.Time
}

// NewFeed creates a streaming feed for endpoint. fallback may be nil,
// in which case misses return ErrNoPrice. Zero config fields take their
// DefaultFeedConfig values.
func NewFeed(endpoint string, config FeedConfig, fallback Oracle, log zerolog.Logger) *Feed {
	defaults := DefaultFeedConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.MaxReconnectDelay <= 0 {
		config.MaxReconnectDelay = defaults.MaxReconnectDelay
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxQuoteAge <= 0 {
		config.MaxQuoteAge = defaults.MaxQuoteAge
	}
	return &Feed{
		endpoint: endpoint,
		config:   config,
		fallback: fallback,
		log:      log.With().Str("component", "price_feed").Logger(),
		quotes:   make(map[string]Quote),
		tokens:   make(map[string]domain.Token),
		now:      time.Now,
	}
}

// tickerMessage is one streamed price update.
type tickerMessage struct {
	Chain    string  `json:"chain"`
	Address  string  `json:"address"`
	PriceUSD float64 `json:"price_usd"`
	AsOfMs   int64   `json:"as_of_ms"`
}

// subscribeMessage requests updates for a set of token keys.
type subscribeMessage struct {
	Op     string   `json:"op"`
	Tokens []string `json:"tokens"`
}

// Subscribe registers tokens for streaming updates. Effective on the
// current connection and on every reconnect.
func (f *Feed) Subscribe(tokens ...domain.Token) error {
	f.tokensMu.Lock()
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		f.tokens[t.Key()] = t
		keys = append(keys, t.Key())
	}
	f.tokensMu.Unlock()

	return f.send(subscribeMessage{Op: "subscribe", Tokens: keys})
}

// Run connects and consumes updates until ctx is cancelled, reconnecting
// with exponential backoff on failure.
func (f *Feed) Run(ctx context.Context) error {
	delay := f.config.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := f.connectAndRead(ctx)
		if f.closed.Load() || ctx.Err() != nil {
			return ctx.Err()
		}

		f.log.Warn().Err(err).Dur("retry_in", delay).Msg("feed disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.config.MaxReconnectDelay {
			delay = f.config.MaxReconnectDelay
		}
	}
}

// connectAndRead dials, resubscribes, and reads until the connection
// breaks. A successful connect resets nothing here; backoff reset is
// the caller's concern only on clean reads, which never happen outside
// shutdown, so the simple doubling above is acceptable.
func (f *Feed) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		conn.Close()
	}()

	if err := f.resubscribe(); err != nil {
		return err
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go f.pingLoop(conn, pingDone)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		f.handleMessage(payload)
	}
}

func (f *Feed) resubscribe() error {
	f.tokensMu.RLock()
	keys := make([]string, 0, len(f.tokens))
	for k := range f.tokens {
		keys = append(keys, k)
	}
	f.tokensMu.RUnlock()

	if len(keys) == 0 {
		return nil
	}
	return f.send(subscribeMessage{Op: "subscribe", Tokens: keys})
}

func (f *Feed) send(msg any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil // not connected yet; Run resubscribes on connect
	}
	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	return f.conn.WriteJSON(msg)
}

func (f *Feed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn == conn {
				conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.connMu.Unlock()
					return
				}
			}
			f.connMu.Unlock()
		}
	}
}

func (f *Feed) handleMessage(payload []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.log.Debug().Err(err).Msg("dropping unparseable feed message")
		return
	}
	key := msg.Chain + ":" + msg.Address

	f.tokensMu.RLock()
	token, subscribed := f.tokens[key]
	f.tokensMu.RUnlock()
	if !subscribed {
		return
	}

	f.quotesMu.Lock()
	f.quotes[key] = Quote{
		Token:        token,
		UnitPriceUSD: msg.PriceUSD,
		AsOf:         time.UnixMilli(msg.AsOfMs).UTC(),
	}
	f.quotesMu.Unlock()
}

// Close stops Run permanently.
func (f *Feed) Close() {
	f.closed.Store(true)
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()
}

// GetPrice answers from the streamed table, falling back for misses and
// quotes older than MaxQuoteAge.
func (f *Feed) GetPrice(ctx context.Context, token domain.Token) (Quote, error) {
	if q, ok := f.fresh(token.Key()); ok {
		return q, nil
	}
	if f.fallback != nil {
		return f.fallback.GetPrice(ctx, token)
	}
	return Quote{}, fmt.Errorf("%w: %s", ErrNoPrice, token.Key())
}

// GetPrices answers from the table where possible and delegates the
// remainder to the fallback in one batch.
func (f *Feed) GetPrices(ctx context.Context, tokens []domain.Token) (map[string]Quote, error) {
	quotes := make(map[string]Quote, len(tokens))
	var misses []domain.Token
	for _, t := range tokens {
		if q, ok := f.fresh(t.Key()); ok {
			quotes[t.Key()] = q
		} else {
			misses = append(misses, t)
		}
	}
	if len(misses) > 0 && f.fallback != nil {
		rest, err := f.fallback.GetPrices(ctx, misses)
		if err != nil {
			if len(quotes) == 0 {
				return nil, err
			}
			// Partial answer beats none; absent keys signal the gap.
			f.log.Warn().Err(err).Int("missing", len(misses)).Msg("fallback oracle failed for feed misses")
			return quotes, nil
		}
		for k, q := range rest {
			quotes[k] = q
		}
	}
	return quotes, nil
}

func (f *Feed) fresh(key string) (Quote, bool) {
	f.quotesMu.RLock()
	q, ok := f.quotes[key]
	f.quotesMu.RUnlock()
	if !ok {
		return Quote{}, false
	}
	if f.config.MaxQuoteAge > 0 && f.now().Sub(q.AsOf) > f.config.MaxQuoteAge {
		return Quote{}, false
	}
	return q, true
}

var _ Oracle = (*Feed)(nil)
