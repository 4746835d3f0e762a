package risk

import (
	"math"
	"testing"
)

// TestStakeProgression verifies the martingale ladder base x multiplier^step
func TestStakeProgression(t *testing.T) {
	m := NewManager(nil, nil)
	escalate := &LossAnalysis{Kind: LossTimingMiss, ShouldMartingale: true}

	wantStakes := []float64{2.0, 4.4, 9.68, 21.296}
	for step, want := range wantStakes {
		got := m.Stake()
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("step %d stake = %v, want %v", step, got, want)
		}
		m.UpdateResult(-got, escalate)
	}

	// Step cap reached: the next loss resets instead of escalating further
	if got := m.Stake(); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("stake after cap = %v, want reset to 2.0", got)
	}
}

// TestWinResetsMartingale verifies a win clears the ladder
func TestWinResetsMartingale(t *testing.T) {
	m := NewManager(nil, nil)
	escalate := &LossAnalysis{Kind: LossTimingMiss, ShouldMartingale: true}

	m.UpdateResult(-2, escalate)
	m.UpdateResult(-4.4, escalate)
	if m.GetState().MartingaleStep != 2 {
		t.Fatalf("step = %d, want 2", m.GetState().MartingaleStep)
	}

	m.UpdateResult(3.74, nil)
	state := m.GetState()
	if state.MartingaleStep != 0 {
		t.Errorf("step after win = %d, want 0", state.MartingaleStep)
	}
	if state.ConsecutiveLosses != 0 {
		t.Errorf("loss streak after win = %d, want 0", state.ConsecutiveLosses)
	}
}

// TestReversalResetsMartingale verifies escalation is denied when the loss
// analysis says the thesis broke
func TestReversalResetsMartingale(t *testing.T) {
	m := NewManager(nil, nil)

	m.UpdateResult(-2, &LossAnalysis{Kind: LossTimingMiss, ShouldMartingale: true})
	if m.GetState().MartingaleStep != 1 {
		t.Fatalf("step = %d, want 1", m.GetState().MartingaleStep)
	}

	m.UpdateResult(-4.4, &LossAnalysis{Kind: LossTrendReversal, ShouldMartingale: false})
	if m.GetState().MartingaleStep != 0 {
		t.Errorf("step after reversal loss = %d, want 0", m.GetState().MartingaleStep)
	}
	if m.GetState().ConsecutiveLosses != 2 {
		t.Errorf("loss streak = %d, want 2", m.GetState().ConsecutiveLosses)
	}
}

// TestNilAnalysisNeverEscalates verifies a loss without analysis resets
func TestNilAnalysisNeverEscalates(t *testing.T) {
	m := NewManager(nil, nil)
	m.UpdateResult(-2, nil)
	if m.GetState().MartingaleStep != 0 {
		t.Errorf("step = %d, want 0 without analysis", m.GetState().MartingaleStep)
	}
}

// TestCanTradeStopLoss verifies the daily stop-loss gate
func TestCanTradeStopLoss(t *testing.T) {
	m := NewManager(nil, nil)

	if ok, _ := m.CanTrade(100); !ok {
		t.Fatal("fresh day should allow trading")
	}

	// 10% of a 100 balance
	m.UpdateResult(-10, nil)
	ok, reason := m.CanTrade(100)
	if ok {
		t.Fatal("daily stop loss should block trading")
	}
	if reason == "" {
		t.Error("block should carry a reason")
	}
}

// TestCanTradeTakeProfit verifies the daily take-profit gate
func TestCanTradeTakeProfit(t *testing.T) {
	m := NewManager(nil, nil)

	m.UpdateResult(5, nil)
	if ok, _ := m.CanTrade(100); ok {
		t.Error("daily take profit should stop trading for the day")
	}
	// A larger balance moves the limit out of reach
	if ok, _ := m.CanTrade(1000); !ok {
		t.Error("gain below the limit for a larger balance should allow trading")
	}
}

// TestCanTradeNoBalance verifies the zero-balance guard
func TestCanTradeNoBalance(t *testing.T) {
	m := NewManager(nil, nil)
	if ok, _ := m.CanTrade(0); ok {
		t.Error("zero balance must block trading")
	}
}
