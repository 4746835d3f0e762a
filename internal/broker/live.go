package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"binary-options-bot/internal/market"
	"binary-options-bot/internal/signal"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// LiveConfig holds the live gateway settings
type LiveConfig struct {
	Endpoint       string        `json:"endpoint"`
	SSID           string        `json:"ssid"`
	Email          string        `json:"email"` // credential login when no SSID is configured
	Password       string        `json:"password"`
	Demo           bool          `json:"demo"`
	RequestTimeout time.Duration `json:"request_timeout"`
	PingInterval   time.Duration `json:"ping_interval"`
}

// DefaultLiveConfig returns default live gateway settings
func DefaultLiveConfig() *LiveConfig {
	return &LiveConfig{
		RequestTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
	}
}

// request is one frame sent to the broker
type request struct {
	ID      string                 `json:"id"`
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// response is one frame received from the broker
type response struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LiveGateway speaks the broker's websocket protocol: every call is a
// correlated request/response pair over one session. A dropped session
// fails all pending calls; the orchestrator's reconnection loop calls
// Connect again.
type LiveGateway struct {
	config *LiveConfig

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	pending   map[string]chan response
	stopChan  chan struct{}

	log zerolog.Logger
}

// NewLiveGateway creates a live gateway. config may be nil for defaults.
func NewLiveGateway(config *LiveConfig) *LiveGateway {
	if config == nil {
		config = DefaultLiveConfig()
	}
	return &LiveGateway{
		config:  config,
		pending: make(map[string]chan response),
		log:     zerolog.New(os.Stdout).With().Timestamp().Str("component", "live-broker").Logger(),
	}
}

// Connect dials the broker and authenticates the session
func (g *LiveGateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.connected {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: g.config.RequestTimeout}
	conn, _, err := dialer.DialContext(ctx, g.config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("broker dial failed: %w", err)
	}

	g.mu.Lock()
	g.conn = conn
	g.connected = true
	g.stopChan = make(chan struct{})
	g.mu.Unlock()

	go g.readLoop(conn)
	go g.pingLoop(conn)

	account := "REAL"
	if g.config.Demo {
		account = "PRACTICE"
	}
	payload := map[string]interface{}{"account": account}
	if g.config.SSID != "" {
		payload["ssid"] = g.config.SSID
	} else {
		payload["email"] = g.config.Email
		payload["password"] = g.config.Password
	}
	_, err = g.call(ctx, "auth", payload)
	if err != nil {
		g.Close()
		return fmt.Errorf("broker auth failed: %w", err)
	}

	g.log.Info().Str("account", account).Msg("broker session authenticated")
	return nil
}

// Connected reports session state
func (g *LiveGateway) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

// Close tears the session down and fails all pending calls
func (g *LiveGateway) Close() {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return
	}
	g.connected = false
	close(g.stopChan)
	if g.conn != nil {
		g.conn.Close()
	}
	for id, ch := range g.pending {
		close(ch)
		delete(g.pending, id)
	}
	g.mu.Unlock()
}

// GetCandles fetches recent candles and builds a snapshot
func (g *LiveGateway) GetCandles(ctx context.Context, asset string, timeframeSec, count int) (*market.Snapshot, error) {
	payload, err := g.call(ctx, "get_candles", map[string]interface{}{
		"asset":     asset,
		"timeframe": timeframeSec,
		"count":     count,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Candles []struct {
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Close  float64 `json:"close"`
			Volume float64 `json:"volume"`
			Time   int64   `json:"time"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("bad candle payload: %w", err)
	}

	candles := make([]market.Candle, 0, len(body.Candles))
	for _, c := range body.Candles {
		candles = append(candles, market.Candle{
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Timestamp: time.Unix(c.Time, 0),
		})
	}
	return market.NewSnapshot(asset, candles), nil
}

// GetBalance fetches the account balance
func (g *LiveGateway) GetBalance(ctx context.Context) (float64, error) {
	payload, err := g.call(ctx, "balance", nil)
	if err != nil {
		return 0, err
	}
	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, fmt.Errorf("bad balance payload: %w", err)
	}
	return body.Balance, nil
}

// Buy places a binary option order and returns the broker order id
func (g *LiveGateway) Buy(ctx context.Context, amount float64, asset string, direction signal.Direction, expirationMinutes int) (string, error) {
	payload, err := g.call(ctx, "buy", map[string]interface{}{
		"amount":     amount,
		"asset":      asset,
		"direction":  string(direction),
		"expiration": expirationMinutes,
	})
	if err != nil {
		return "", err
	}
	var body struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("bad order payload: %w", err)
	}
	if body.OrderID == "" {
		return "", fmt.Errorf("broker returned no order id")
	}
	return body.OrderID, nil
}

// CheckResult polls for an order's settlement
func (g *LiveGateway) CheckResult(ctx context.Context, orderID string, timeout int) (string, float64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	payload, err := g.call(ctx, "check_result", map[string]interface{}{
		"order_id": orderID,
	})
	if err != nil {
		return "", 0, err
	}
	var body struct {
		Status string  `json:"status"`
		Profit float64 `json:"profit"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", 0, fmt.Errorf("bad result payload: %w", err)
	}
	switch body.Status {
	case StatusWin, StatusLoss, StatusTie, StatusPending:
		return body.Status, body.Profit, nil
	default:
		return "", 0, fmt.Errorf("unknown result status %q", body.Status)
	}
}

// call sends one request and waits for its correlated response
func (g *LiveGateway) call(ctx context.Context, action string, payload map[string]interface{}) (json.RawMessage, error) {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.New().String()
	ch := make(chan response, 1)
	g.pending[id] = ch
	conn := g.conn
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
	}()

	if err := conn.WriteJSON(request{ID: id, Action: action, Payload: payload}); err != nil {
		g.Close()
		return nil, fmt.Errorf("broker write failed: %w", err)
	}

	timeout := g.config.RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Status != "ok" {
			return nil, fmt.Errorf("broker rejected %s: %s", action, resp.Error)
		}
		return resp.Payload, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (g *LiveGateway) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			g.log.Warn().Err(err).Msg("broker session dropped")
			g.Close()
			return
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID == "" {
			continue // unsolicited frame, ignore
		}

		g.mu.RLock()
		ch, ok := g.pending[resp.ID]
		g.mu.RUnlock()
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
	}
}

func (g *LiveGateway) pingLoop(conn *websocket.Conn) {
	g.mu.RLock()
	stop := g.stopChan
	g.mu.RUnlock()

	ticker := time.NewTicker(g.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				g.Close()
				return
			}
		}
	}
}
