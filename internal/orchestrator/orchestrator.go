// Package orchestrator runs the trade lifecycle: scanning assets for
// candidates, validating them, executing through the broker gateway,
// monitoring open positions and settling them into experiences.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"binary-options-bot/internal/adaptive"
	"binary-options-bot/internal/broker"
	"binary-options-bot/internal/database"
	"binary-options-bot/internal/events"
	"binary-options-bot/internal/learning"
	"binary-options-bot/internal/logging"
	"binary-options-bot/internal/risk"
	"binary-options-bot/internal/signal"
	"binary-options-bot/internal/validator"
	"binary-options-bot/internal/workers"
)

// Phase is the lifecycle state of the control loop
type Phase string

const (
	PhaseScanning       Phase = "SCANNING"
	PhaseCandidateFound Phase = "CANDIDATE_FOUND"
	PhaseValidating     Phase = "VALIDATING"
	PhaseExecuting      Phase = "EXECUTING"
	PhaseMonitoring     Phase = "MONITORING"
	PhaseSettling       Phase = "SETTLING"
	PhaseCooldown       Phase = "COOLDOWN"
)

// Config holds orchestrator settings
type Config struct {
	Assets               []string      `json:"assets"`
	TimeframeSec         int           `json:"timeframe_sec"`
	CandleCount          int           `json:"candle_count"`
	ExpirationMinutes    int           `json:"expiration_minutes"`
	ScanInterval         time.Duration `json:"scan_interval"`
	SettlePollInterval   time.Duration `json:"settle_poll_interval"`
	SettleGrace          time.Duration `json:"settle_grace"`
	SettleRetries        int           `json:"settle_retries"`
	SettleRetryDelay     time.Duration `json:"settle_retry_delay"`
	Payout               float64       `json:"payout"`
	CooldownBase         time.Duration `json:"cooldown_base"`
	CooldownMax          time.Duration `json:"cooldown_max"`
	MinTimeBetweenTrades time.Duration `json:"min_time_between_trades"`
	HourlyTradeCap       int           `json:"hourly_trade_cap"`
	ObservationFloor     float64       `json:"observation_floor"`
	ReconnectBackoffMin  time.Duration `json:"reconnect_backoff_min"`
	ReconnectBackoffMax  time.Duration `json:"reconnect_backoff_max"`
}

// DefaultConfig returns sensible orchestrator defaults
func DefaultConfig() *Config {
	return &Config{
		Assets:               []string{"EURUSD", "GBPUSD", "USDJPY"},
		TimeframeSec:         60,
		CandleCount:          100,
		ExpirationMinutes:    1,
		ScanInterval:         30 * time.Second,
		SettlePollInterval:   5 * time.Second,
		SettleGrace:          10 * time.Second,
		SettleRetries:        3,
		SettleRetryDelay:     5 * time.Second,
		Payout:               0.85,
		CooldownBase:         60 * time.Second,
		CooldownMax:          15 * time.Minute,
		MinTimeBetweenTrades: 45 * time.Second,
		HourlyTradeCap:       6,
		ObservationFloor:     0.50,
		ReconnectBackoffMin:  time.Second,
		ReconnectBackoffMax:  60 * time.Second,
	}
}

// TradeStore is the persistence surface the orchestrator needs. A nil store
// means run memory-only.
type TradeStore interface {
	CreateTrade(ctx context.Context, trade *database.TradeRecord) error
	SettleTrade(ctx context.Context, orderID, status string, profit float64, estimated bool) error
	AppendExperience(ctx context.Context, exp *database.ExperienceRecord) error
}

// Controller drives the trade lifecycle state machine
type Controller struct {
	config    *Config
	logger    *logging.Logger
	gateway   broker.Gateway
	sources   []signal.Source
	validator *validator.Validator
	riskMgr   *risk.Manager
	analyzer  *risk.Analyzer
	adaptive  *adaptive.Manager
	learner   *learning.Learner
	buffer    *learning.Buffer
	bus       *events.Bus
	pool      *workers.Pool
	store     TradeStore

	mu              sync.RWMutex
	phase           Phase
	running         bool
	paused          bool
	suspended       bool // connection lost, entries blocked
	balance         float64
	active          map[string]*ActiveTrade
	entryClaims     map[string]bool // asset reserved between risk gate and order fill
	observations    []*Observation
	cooldownUntil   map[string]time.Time
	assetLossStreak map[string]int
	lastTradeTime   time.Time
	hourStart       time.Time
	tradesThisHour  int

	stopChan chan struct{}
	doneChan chan struct{}
}

// Deps bundles the orchestrator's collaborators
type Deps struct {
	Gateway   broker.Gateway
	Sources   []signal.Source
	Validator *validator.Validator
	Risk      *risk.Manager
	Analyzer  *risk.Analyzer
	Adaptive  *adaptive.Manager
	Learner   *learning.Learner
	Buffer    *learning.Buffer
	Bus       *events.Bus
	Pool      *workers.Pool
	Store     TradeStore
	Logger    *logging.Logger
}

// NewController creates a controller. config may be nil for defaults.
func NewController(config *Config, deps Deps) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("orchestrator")
	}
	return &Controller{
		config:          config,
		logger:          logger,
		gateway:         deps.Gateway,
		sources:         deps.Sources,
		validator:       deps.Validator,
		riskMgr:         deps.Risk,
		analyzer:        deps.Analyzer,
		adaptive:        deps.Adaptive,
		learner:         deps.Learner,
		buffer:          deps.Buffer,
		bus:             deps.Bus,
		pool:            deps.Pool,
		store:           deps.Store,
		phase:           PhaseScanning,
		active:          make(map[string]*ActiveTrade),
		entryClaims:     make(map[string]bool),
		cooldownUntil:   make(map[string]time.Time),
		assetLossStreak: make(map[string]int),
		hourStart:       time.Now().Truncate(time.Hour),
	}
}

// Start launches the control loop
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})
	c.phase = PhaseScanning
	c.mu.Unlock()

	if !c.gateway.Connected() {
		if err := c.gateway.Connect(ctx); err != nil {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return err
		}
	}

	if balance, err := c.gateway.GetBalance(ctx); err == nil {
		c.mu.Lock()
		c.balance = balance
		c.mu.Unlock()
	}

	go c.run(ctx)
	c.logger.Info("Orchestrator started", "assets", len(c.config.Assets), "scan_interval", c.config.ScanInterval.String())
	return nil
}

// Stop halts the control loop. Open trades are left to the broker; their
// results are picked up on the next start through settlement polling.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	done := c.doneChan
	c.mu.Unlock()

	<-done
	c.logger.Info("Orchestrator stopped")
}

// Pause suspends new entries while continuing to drain active trades
func (c *Controller) Pause() {
	c.mu.Lock()
	already := c.paused
	c.paused = true
	c.mu.Unlock()
	if !already {
		c.bus.Publish(events.Event{Type: events.EventTradingPaused, Timestamp: time.Now(), Data: map[string]interface{}{}})
		c.logger.Info("Trading paused")
	}
}

// Resume re-enables new entries
func (c *Controller) Resume() {
	c.mu.Lock()
	already := !c.paused
	c.paused = false
	c.mu.Unlock()
	if !already {
		c.bus.Publish(events.Event{Type: events.EventTradingResumed, Timestamp: time.Now(), Data: map[string]interface{}{}})
		c.logger.Info("Trading resumed")
	}
}

// Phase returns the current lifecycle phase
func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Balance returns the last known broker balance
func (c *Controller) Balance() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// run is the main control loop. Settlement polling runs on a faster tick
// than scanning so expiries are picked up promptly.
func (c *Controller) run(ctx context.Context) {
	defer close(c.doneChan)

	scanTicker := time.NewTicker(c.config.ScanInterval)
	settleTicker := time.NewTicker(c.config.SettlePollInterval)
	defer scanTicker.Stop()
	defer settleTicker.Stop()

	// First scan without waiting a full interval
	c.iterate(ctx)

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		case <-settleTicker.C:
			if !c.ensureConnected(ctx) {
				return
			}
			c.settleDue(ctx)
			c.resolveObservations(ctx)
		case <-scanTicker.C:
			c.iterate(ctx)
		}
	}
}

// iterate runs one scan cycle
func (c *Controller) iterate(ctx context.Context) {
	if !c.ensureConnected(ctx) {
		return
	}

	c.settleDue(ctx)
	c.resolveObservations(ctx)

	c.mu.RLock()
	paused := c.paused
	c.mu.RUnlock()
	if paused {
		return
	}

	if pause, reason := c.learner.ShouldPauseTrading(); pause {
		c.logger.Warn("Entries suspended by learner", "reason", reason)
		return
	}

	c.refreshBalance(ctx)
	c.scan(ctx)
}

// ensureConnected blocks in a reconnection sub-loop while the gateway is
// down. Returns false if the controller was stopped while waiting.
func (c *Controller) ensureConnected(ctx context.Context) bool {
	if c.gateway.Connected() {
		return true
	}

	c.mu.Lock()
	c.suspended = true
	c.mu.Unlock()
	c.bus.Publish(events.Event{Type: events.EventConnectionLost, Timestamp: time.Now(), Data: map[string]interface{}{}})
	c.logger.Warn("Broker connection lost, reconnecting")

	backoff := c.config.ReconnectBackoffMin
	for {
		select {
		case <-c.stopChan:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		if err := c.gateway.Connect(ctx); err == nil && c.gateway.Connected() {
			break
		}

		backoff *= 2
		if backoff > c.config.ReconnectBackoffMax {
			backoff = c.config.ReconnectBackoffMax
		}
		c.logger.Warn("Reconnect failed, backing off", "next_attempt_in", backoff.String())
	}

	c.mu.Lock()
	c.suspended = false
	c.mu.Unlock()
	c.bus.Publish(events.Event{Type: events.EventConnectionRestored, Timestamp: time.Now(), Data: map[string]interface{}{}})
	c.logger.Info("Broker connection restored")
	return true
}

func (c *Controller) refreshBalance(ctx context.Context) {
	balance, err := c.gateway.GetBalance(ctx)
	if err != nil {
		c.logger.Warn("Balance refresh failed", "error", err)
		return
	}
	c.mu.Lock()
	changed := balance != c.balance
	c.balance = balance
	c.mu.Unlock()
	if changed {
		c.bus.Publish(events.Event{
			Type:      events.EventBalanceUpdate,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"balance": balance},
		})
	}
}

// GetStatus reports orchestrator state for the API layer
func (c *Controller) GetStatus() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	actives := make([]map[string]interface{}, 0, len(c.active))
	for _, trade := range c.active {
		actives = append(actives, map[string]interface{}{
			"order_id":  trade.OrderID,
			"asset":     trade.Intent.Asset,
			"direction": string(trade.Intent.Direction),
			"stake":     trade.Intent.Stake,
			"settle_at": trade.SettleAt,
		})
	}

	return map[string]interface{}{
		"phase":            string(c.phase),
		"running":          c.running,
		"paused":           c.paused,
		"connected":        !c.suspended,
		"balance":          c.balance,
		"active_trades":    actives,
		"observations":     len(c.observations),
		"trades_this_hour": c.tradesThisHour,
	}
}
