package adaptive

import (
	"math"
	"testing"
	"time"
)

// TestWindowWinRate verifies the empty-window neutral prior
func TestWindowWinRate(t *testing.T) {
	if got := (Window{}).WinRate(); got != 0.5 {
		t.Errorf("empty window win rate = %v, want 0.5", got)
	}
	w := Window{Wins: 3, Losses: 1}
	if got := w.WinRate(); got != 0.75 {
		t.Errorf("win rate = %v, want 0.75", got)
	}
	if w.Samples() != 4 {
		t.Errorf("samples = %d, want 4", w.Samples())
	}
}

// TestDynamicThresholdBase verifies the resting threshold
func TestDynamicThresholdBase(t *testing.T) {
	m := NewManager(nil, nil, nil)

	got := m.DynamicConfidenceThreshold()
	if got != 0.60 {
		t.Errorf("base threshold = %v, want 0.60", got)
	}
	// Repeated calls without new trades are stable
	if again := m.DynamicConfidenceThreshold(); again != got {
		t.Errorf("threshold changed without new trades: %v then %v", got, again)
	}
}

// TestDynamicThresholdDrawdownBump verifies tightening under a losing day
func TestDynamicThresholdDrawdownBump(t *testing.T) {
	m := NewManager(nil, nil, nil)
	m.RecordTrade("EURUSD", time.Now(), false, -5.0)

	got := m.DynamicConfidenceThreshold()
	if math.Abs(got-0.70) > 1e-9 {
		t.Errorf("drawdown threshold = %v, want 0.70", got)
	}
}

// TestDynamicThresholdProfitRelief verifies loosening above the daily target
func TestDynamicThresholdProfitRelief(t *testing.T) {
	m := NewManager(nil, nil, nil)
	for i := 0; i < 15; i++ {
		m.RecordTrade("EURUSD", time.Now(), true, 1.70)
	}

	if m.DailyPnL() < 20 {
		t.Fatalf("daily pnl = %v, expected above target", m.DailyPnL())
	}
	got := m.DynamicConfidenceThreshold()
	if math.Abs(got-0.55) > 1e-9 {
		t.Errorf("relief threshold = %v, want 0.55", got)
	}
}

// TestShouldAllowTradeAssetFloor verifies the per-asset win-rate gate
// engages only once enough samples accumulate
func TestShouldAllowTradeAssetFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLossesPerHour = 1000 // isolate the win-rate gate
	m := NewManager(cfg, nil, nil)

	base := time.Now().Add(-20 * time.Hour)
	// 14 samples at 28% win rate: below the minimum, still allowed
	for i := 0; i < 10; i++ {
		m.RecordTrade("GBPUSD", base.Add(time.Duration(i)*time.Minute), false, -2)
	}
	for i := 0; i < 4; i++ {
		m.RecordTrade("GBPUSD", base, true, 1.7)
	}
	if ok, reason := m.ShouldAllowTrade("GBPUSD"); !ok {
		t.Errorf("gate engaged below minimum samples: %s", reason)
	}

	// 15th sample pushes it over the minimum with the rate still low
	m.RecordTrade("GBPUSD", base, false, -2)
	if ok, _ := m.ShouldAllowTrade("GBPUSD"); ok {
		t.Error("asset at 27% win rate over 15 trades should be blocked")
	}

	// Other assets are unaffected
	if ok, reason := m.ShouldAllowTrade("USDJPY"); !ok {
		t.Errorf("unrelated asset blocked: %s", reason)
	}
}

// TestShouldAllowTradeLossBurst verifies the trailing-hour loss cap
func TestShouldAllowTradeLossBurst(t *testing.T) {
	m := NewManager(nil, nil, nil)

	now := time.Now()
	for i := 0; i < 3; i++ {
		m.RecordTrade("EURUSD", now.Add(-time.Duration(i)*time.Minute), false, -2)
	}

	ok, reason := m.ShouldAllowTrade("EURUSD")
	if ok {
		t.Fatal("three losses inside the hour should block the asset")
	}
	if reason == "" {
		t.Error("blocked trade should carry a reason")
	}
}

// TestLossBurstExpires verifies old losses age out of the trailing hour
func TestLossBurstExpires(t *testing.T) {
	m := NewManager(nil, nil, nil)

	stale := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 3; i++ {
		m.RecordTrade("EURUSD", stale, false, -2)
	}
	// Daily P&L from those losses still bumps the threshold, but the
	// burst gate must not see them
	if ok, reason := m.ShouldAllowTrade("EURUSD"); !ok {
		t.Errorf("stale losses should have aged out: %s", reason)
	}
}

// TestRecordTradeAggregates verifies windows accumulate per asset and hour
func TestRecordTradeAggregates(t *testing.T) {
	m := NewManager(nil, nil, nil)

	at := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	m.RecordTrade("EURUSD", at, true, 1.7)
	m.RecordTrade("EURUSD", at, false, -2)

	aw := m.AssetWindow("EURUSD")
	if aw.Wins != 1 || aw.Losses != 1 {
		t.Errorf("asset window = %+v, want 1 win 1 loss", aw)
	}
	if math.Abs(aw.TotalPnL-(-0.3)) > 1e-9 {
		t.Errorf("asset pnl = %v, want -0.3", aw.TotalPnL)
	}

	hw := m.HourWindow(14)
	if hw.Samples() != 2 {
		t.Errorf("hour window samples = %d, want 2", hw.Samples())
	}
}

// recordedWindow captures sink notifications
type recordedWindow struct {
	scope string
	key   string
	w     Window
}

type captureSink struct {
	records []recordedWindow
}

func (s *captureSink) RecordWindow(scope, key string, w Window) {
	s.records = append(s.records, recordedWindow{scope, key, w})
}

// TestSinkNotified verifies window updates are mirrored to the sink
func TestSinkNotified(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(nil, sink, nil)

	m.RecordTrade("EURUSD", time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC), true, 1.7)

	if len(sink.records) != 2 {
		t.Fatalf("sink notified %d times, want 2 (hour and asset)", len(sink.records))
	}
	scopes := map[string]string{}
	for _, r := range sink.records {
		scopes[r.scope] = r.key
	}
	if scopes["hour"] != "09" {
		t.Errorf("hour key = %q, want 09", scopes["hour"])
	}
	if scopes["asset"] != "EURUSD" {
		t.Errorf("asset key = %q, want EURUSD", scopes["asset"])
	}
}
