package adaptive

import (
	"fmt"
	"sync"
	"time"

	"binary-options-bot/internal/logging"
)

// Config holds the consistency thresholds
type Config struct {
	AssetWinRateFloor  float64 `json:"asset_win_rate_floor"`
	HourWinRateFloor   float64 `json:"hour_win_rate_floor"`
	MinAssetSamples    int     `json:"min_asset_samples"`
	MinHourSamples     int     `json:"min_hour_samples"`
	MaxLossesPerHour   int     `json:"max_losses_per_hour"` // per asset, trailing hour
	BaseThreshold      float64 `json:"base_threshold"`
	DrawdownBump       float64 `json:"drawdown_bump"`        // added when daily P&L is negative
	ProfitRelief       float64 `json:"profit_relief"`        // subtracted above the profit target
	DailyProfitTarget  float64 `json:"daily_profit_target"`  // absolute currency amount
}

// DefaultConfig returns the default consistency thresholds
func DefaultConfig() *Config {
	return &Config{
		AssetWinRateFloor: 0.49,
		HourWinRateFloor:  0.49,
		MinAssetSamples:   15,
		MinHourSamples:    10,
		MaxLossesPerHour:  3,
		BaseThreshold:     0.60,
		DrawdownBump:      0.10,
		ProfitRelief:      0.05,
		DailyProfitTarget: 20.0,
	}
}

// Window is a rolling win/loss aggregate. Windows are derived state,
// always recomputable from trade history.
type Window struct {
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"`
}

// Samples returns the total observations in the window
func (w Window) Samples() int {
	return w.Wins + w.Losses
}

// WinRate returns the fraction of wins, 0.5 when empty
func (w Window) WinRate() float64 {
	if w.Samples() == 0 {
		return 0.5
	}
	return float64(w.Wins) / float64(w.Samples())
}

// WindowSink receives window updates, typically to mirror them into a
// cache. Implementations must never block the caller on failure.
type WindowSink interface {
	RecordWindow(scope, key string, w Window)
}

// Manager keeps rolling performance keyed by hour-of-day and by asset and
// turns them into trade permissions and a dynamic confidence threshold.
type Manager struct {
	mu      sync.RWMutex
	config  *Config
	byHour  [24]Window
	byAsset map[string]Window

	recentLosses map[string][]time.Time // per-asset loss timestamps, trailing hour
	dailyPnL     float64
	dayStart     time.Time

	sink   WindowSink
	logger *logging.Logger
}

// NewManager creates a consistency manager. sink may be nil.
func NewManager(config *Config, sink WindowSink, logger *logging.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.WithComponent("adaptive")
	}
	return &Manager{
		config:       config,
		byAsset:      make(map[string]Window),
		recentLosses: make(map[string][]time.Time),
		dayStart:     startOfDay(time.Now()),
		sink:         sink,
		logger:       logger,
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RecordTrade folds one settled trade into the rolling windows
func (m *Manager) RecordTrade(asset string, at time.Time, win bool, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked(at)

	hour := at.Hour()
	hw := m.byHour[hour]
	aw := m.byAsset[asset]
	if win {
		hw.Wins++
		aw.Wins++
	} else {
		hw.Losses++
		aw.Losses++
		m.recentLosses[asset] = append(m.pruneLossesLocked(asset, at), at)
	}
	hw.TotalPnL += pnl
	aw.TotalPnL += pnl
	m.byHour[hour] = hw
	m.byAsset[asset] = aw
	m.dailyPnL += pnl

	if m.sink != nil {
		m.sink.RecordWindow("hour", fmt.Sprintf("%02d", hour), hw)
		m.sink.RecordWindow("asset", asset, aw)
	}
}

// SeedWindows restores cached windows after a restart. Seeding only fills
// empty windows: live aggregates recorded since startup are never
// overwritten by stale cache entries.
func (m *Manager) SeedWindows(scope string, windows map[string]Window) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch scope {
	case "hour":
		for key, w := range windows {
			var hour int
			if _, err := fmt.Sscanf(key, "%02d", &hour); err != nil || hour < 0 || hour > 23 {
				continue
			}
			if m.byHour[hour].Samples() == 0 {
				m.byHour[hour] = w
			}
		}
	case "asset":
		for asset, w := range windows {
			if m.byAsset[asset].Samples() == 0 {
				m.byAsset[asset] = w
			}
		}
	}
}

// pruneLossesLocked drops loss timestamps older than an hour
func (m *Manager) pruneLossesLocked(asset string, now time.Time) []time.Time {
	cutoff := now.Add(-time.Hour)
	kept := m.recentLosses[asset][:0]
	for _, t := range m.recentLosses[asset] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// rollDayLocked resets the daily aggregate when the day changes
func (m *Manager) rollDayLocked(now time.Time) {
	if startOfDay(now).After(m.dayStart) {
		m.dayStart = startOfDay(now)
		m.dailyPnL = 0
	}
}

// ShouldAllowTrade checks the consistency gates for an asset. Statistics
// with fewer samples than the configured minimum are ignored.
func (m *Manager) ShouldAllowTrade(asset string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.rollDayLocked(now)

	if aw, ok := m.byAsset[asset]; ok && aw.Samples() >= m.config.MinAssetSamples {
		if aw.WinRate() < m.config.AssetWinRateFloor {
			return false, fmt.Sprintf("asset win rate %.0f%% below floor over %d trades", aw.WinRate()*100, aw.Samples())
		}
	}

	hw := m.byHour[now.Hour()]
	if hw.Samples() >= m.config.MinHourSamples && hw.WinRate() < m.config.HourWinRateFloor {
		return false, fmt.Sprintf("hour %02d win rate %.0f%% below floor over %d trades", now.Hour(), hw.WinRate()*100, hw.Samples())
	}

	losses := m.pruneLossesLocked(asset, now)
	m.recentLosses[asset] = losses
	if len(losses) >= m.config.MaxLossesPerHour {
		return false, fmt.Sprintf("%d losses on %s in the trailing hour", len(losses), asset)
	}

	return true, ""
}

// DynamicConfidenceThreshold returns the required confidence for the
// current aggregate state. It is a pure function of the rolling state:
// calling it repeatedly without new trades yields the same value.
func (m *Manager) DynamicConfidenceThreshold() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	threshold := m.config.BaseThreshold
	if m.dailyPnL < 0 {
		threshold += m.config.DrawdownBump
	} else if m.dailyPnL >= m.config.DailyProfitTarget {
		threshold -= m.config.ProfitRelief
	}

	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return threshold
}

// DailyPnL returns the trailing-day P&L
func (m *Manager) DailyPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL
}

// HourWindow returns the rolling window for an hour of day
func (m *Manager) HourWindow(hour int) Window {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if hour < 0 || hour > 23 {
		return Window{}
	}
	return m.byHour[hour]
}

// AssetWindow returns the rolling window for an asset
func (m *Manager) AssetWindow(asset string) Window {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byAsset[asset]
}

// GetStats returns a status map for the API surface
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assets := make(map[string]interface{}, len(m.byAsset))
	for asset, w := range m.byAsset {
		assets[asset] = map[string]interface{}{
			"wins":     w.Wins,
			"losses":   w.Losses,
			"win_rate": w.WinRate(),
			"pnl":      w.TotalPnL,
		}
	}

	return map[string]interface{}{
		"daily_pnl": m.dailyPnL,
		"threshold": func() float64 {
			t := m.config.BaseThreshold
			if m.dailyPnL < 0 {
				t += m.config.DrawdownBump
			} else if m.dailyPnL >= m.config.DailyProfitTarget {
				t -= m.config.ProfitRelief
			}
			return t
		}(),
		"assets": assets,
	}
}
