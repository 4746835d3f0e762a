package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"binary-options-bot/internal/logging"
)

// Config holds risk management configuration
type Config struct {
	BaseStake            float64 `json:"base_stake"`            // stake at martingale step 0
	MartingaleMultiplier float64 `json:"martingale_multiplier"` // stake multiplier per step
	MaxMartingaleSteps   int     `json:"max_martingale_steps"`  // step cap
	StopLossPercent      float64 `json:"stop_loss_percent"`     // daily loss cap as % of balance
	TakeProfitPercent    float64 `json:"take_profit_percent"`   // daily gain cap as % of balance
}

// DefaultConfig returns default risk settings
func DefaultConfig() *Config {
	return &Config{
		BaseStake:            2.0,
		MartingaleMultiplier: 2.2,
		MaxMartingaleSteps:   3,
		StopLossPercent:      10.0,
		TakeProfitPercent:    5.0,
	}
}

// State is a read-only view of the risk position
type State struct {
	BaseStake         float64 `json:"base_stake"`
	CurrentStake      float64 `json:"current_stake"`
	DailyPnL          float64 `json:"daily_pnl"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	MartingaleStep    int     `json:"martingale_step"`
}

// Manager tracks daily P&L and the martingale escalation. The current
// stake is always derived from the step, never stored independently.
type Manager struct {
	mu                sync.RWMutex
	config            *Config
	dailyPnL          float64
	dayStart          time.Time
	consecutiveLosses int
	martingaleStep    int
	logger            *logging.Logger
}

// NewManager creates a risk manager
func NewManager(config *Config, logger *logging.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.WithComponent("risk")
	}
	return &Manager{
		config:   config,
		dayStart: startOfDay(time.Now()),
		logger:   logger,
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// CanTrade checks the daily stop-loss and take-profit gates against the
// current balance
func (m *Manager) CanTrade(balance float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(time.Now())

	if balance <= 0 {
		return false, "no balance available"
	}

	lossLimit := balance * m.config.StopLossPercent / 100
	if m.dailyPnL <= -lossLimit {
		return false, fmt.Sprintf("daily stop loss hit (%.2f <= -%.2f)", m.dailyPnL, lossLimit)
	}

	gainLimit := balance * m.config.TakeProfitPercent / 100
	if m.dailyPnL >= gainLimit {
		return false, fmt.Sprintf("daily take profit hit (%.2f >= %.2f)", m.dailyPnL, gainLimit)
	}

	return true, ""
}

// Stake returns the stake for the current martingale step:
// base x multiplier^step
func (m *Manager) Stake() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stakeLocked()
}

func (m *Manager) stakeLocked() float64 {
	return m.config.BaseStake * math.Pow(m.config.MartingaleMultiplier, float64(m.martingaleStep))
}

// UpdateResult folds one settled trade into the risk state. A win resets
// the martingale; a loss escalates only when the loss analysis recommends
// it (a timing miss, not a trend reversal) and the step cap allows.
func (m *Manager) UpdateResult(profit float64, analysis *LossAnalysis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(time.Now())

	m.dailyPnL += profit

	if profit > 0 {
		m.consecutiveLosses = 0
		m.martingaleStep = 0
		return
	}

	m.consecutiveLosses++

	escalate := analysis != nil && analysis.ShouldMartingale
	if escalate && m.martingaleStep < m.config.MaxMartingaleSteps {
		m.martingaleStep++
		m.logger.Info("martingale escalated",
			"step", m.martingaleStep,
			"next_stake", m.stakeLocked(),
			"loss_kind", string(analysis.Kind))
	} else {
		if m.martingaleStep > 0 {
			reason := "step cap reached"
			if !escalate {
				reason = "loss analysis advised reset"
			}
			m.logger.Info("martingale reset", "reason", reason)
		}
		m.martingaleStep = 0
	}
}

// RecordTie closes a martingale sequence without counting a win or a
// loss. The refunded stake leaves the daily PnL and the loss streak
// untouched; the next stake returns to base.
func (m *Manager) RecordTie() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(time.Now())

	if m.martingaleStep > 0 {
		m.logger.Info("martingale reset", "reason", "tie settlement")
	}
	m.martingaleStep = 0
}

// rollDayLocked resets daily state at the start of each trading day
func (m *Manager) rollDayLocked(now time.Time) {
	if startOfDay(now).After(m.dayStart) {
		m.dayStart = startOfDay(now)
		m.dailyPnL = 0
		m.consecutiveLosses = 0
		m.martingaleStep = 0
	}
}

// GetState returns a copy of the current risk state
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		BaseStake:         m.config.BaseStake,
		CurrentStake:      m.stakeLocked(),
		DailyPnL:          m.dailyPnL,
		ConsecutiveLosses: m.consecutiveLosses,
		MartingaleStep:    m.martingaleStep,
	}
}

// ConsecutiveLosses returns the current loss streak
func (m *Manager) ConsecutiveLosses() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveLosses
}
