package broker

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Quote is one streamed price tick
type Quote struct {
	Asset     string  `json:"asset"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// FeedConfig holds the quote feed settings
type FeedConfig struct {
	URL            string        `json:"url"`
	Assets         []string      `json:"assets"`
	PingInterval   time.Duration `json:"ping_interval"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

// DefaultFeedConfig returns default feed settings
func DefaultFeedConfig() *FeedConfig {
	return &FeedConfig{
		PingInterval:   20 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// QuoteFeed maintains a websocket quote stream with automatic
// reconnection under capped exponential backoff. Connection state
// transitions are reported through the status callback so the control
// loop can suspend entries while the feed is down.
type QuoteFeed struct {
	mu        sync.RWMutex
	config    *FeedConfig
	conn      *websocket.Conn
	running   bool
	connected bool
	stopChan  chan struct{}

	onQuote  func(Quote)
	onStatus func(connected bool)

	reconnects int
	log        zerolog.Logger
}

// NewQuoteFeed creates a quote feed
func NewQuoteFeed(config *FeedConfig) *QuoteFeed {
	if config == nil {
		config = DefaultFeedConfig()
	}
	return &QuoteFeed{
		config:   config,
		stopChan: make(chan struct{}),
		log:      zerolog.New(os.Stdout).With().Timestamp().Str("component", "quote-feed").Logger(),
	}
}

// SetQuoteCallback registers the per-tick callback
func (f *QuoteFeed) SetQuoteCallback(cb func(Quote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onQuote = cb
}

// SetStatusCallback registers the connection-state callback
func (f *QuoteFeed) SetStatusCallback(cb func(connected bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStatus = cb
}

// Start launches the feed loop
func (f *QuoteFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.stopChan = make(chan struct{})
	f.mu.Unlock()

	go f.run()
}

// Stop closes the feed
func (f *QuoteFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopChan)
	if f.conn != nil {
		f.conn.Close()
	}
}

// Connected reports the stream state
func (f *QuoteFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *QuoteFeed) run() {
	backoff := f.config.InitialBackoff
	for {
		select {
		case <-f.stopChan:
			return
		default:
		}

		if err := f.connect(); err != nil {
			f.log.Warn().Err(err).Dur("backoff", backoff).Msg("feed connect failed")
			select {
			case <-time.After(backoff):
			case <-f.stopChan:
				return
			}
			backoff *= 2
			if backoff > f.config.MaxBackoff {
				backoff = f.config.MaxBackoff
			}
			continue
		}
		backoff = f.config.InitialBackoff

		f.setConnected(true)
		f.readLoop()
		f.setConnected(false)

		f.mu.Lock()
		f.reconnects++
		running := f.running
		f.mu.Unlock()
		if !running {
			return
		}
		f.log.Warn().Int("reconnects", f.reconnects).Msg("feed disconnected, retrying")
	}
}

func (f *QuoteFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.config.URL, nil)
	if err != nil {
		return err
	}

	for _, asset := range f.config.Assets {
		sub := map[string]string{"action": "subscribe", "asset": asset}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return err
		}
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	return nil
}

func (f *QuoteFeed) readLoop() {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return
	}

	pingTicker := time.NewTicker(f.config.PingInterval)
	defer pingTicker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var quote Quote
			if err := json.Unmarshal(data, &quote); err != nil {
				continue
			}
			f.mu.RLock()
			cb := f.onQuote
			f.mu.RUnlock()
			if cb != nil {
				cb(quote)
			}
		}
	}()

	for {
		select {
		case <-done:
			conn.Close()
			return
		case <-f.stopChan:
			conn.Close()
			<-done
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				conn.Close()
				<-done
				return
			}
		}
	}
}

func (f *QuoteFeed) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	cb := f.onStatus
	f.mu.Unlock()
	if cb != nil {
		cb(connected)
	}
}
