package market

import (
	"math"
	"testing"
)

// TestSnapshotIndicatorsComputed verifies the standard indicator set is
// populated on construction
func TestSnapshotIndicatorsComputed(t *testing.T) {
	snapshot := NewSnapshot("EURUSD", risingCandles(100, 1.1000, 0.0002))

	for _, name := range []string{"rsi", "atr", "sma_20", "sma_50", "ema_9", "bb_position", "momentum", "avg_volume"} {
		if _, ok := snapshot.Indicator(name); !ok {
			t.Errorf("indicator %q missing from snapshot", name)
		}
	}
	if snapshot.LastClose() == 0 {
		t.Error("last close should be populated")
	}
}

// TestSnapshotEmpty verifies the empty-snapshot fallbacks
func TestSnapshotEmpty(t *testing.T) {
	snapshot := NewSnapshot("EURUSD", nil)

	if snapshot.Len() != 0 {
		t.Errorf("Len = %d, want 0", snapshot.Len())
	}
	if snapshot.LastClose() != 0 {
		t.Error("empty snapshot LastClose should be 0")
	}
	if snapshot.MissingRatio() != 1.0 {
		t.Errorf("MissingRatio = %v, want 1.0", snapshot.MissingRatio())
	}
}

// TestMissingRatio verifies unusable candles are counted
func TestMissingRatio(t *testing.T) {
	candles := flatCandles(10, 100)
	candles[3].Close = 0
	candles[7].High = math.NaN()

	snapshot := &Snapshot{Asset: "EURUSD", Candles: candles}
	if got := snapshot.MissingRatio(); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("MissingRatio = %v, want 0.2", got)
	}
}

// TestStateVector verifies the feature vector shape and normalization
func TestStateVector(t *testing.T) {
	snapshot := NewSnapshot("EURUSD", risingCandles(100, 1.1000, 0.0002))
	vec := snapshot.StateVector()

	if len(vec) != 9 {
		t.Fatalf("state vector length = %d, want 9", len(vec))
	}
	if vec[0] < 0 || vec[0] > 1 {
		t.Errorf("normalized RSI out of range: %v", vec[0])
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("state vector element %d is not finite: %v", i, v)
		}
	}
}

// TestCandleHelpers verifies body, range and wick arithmetic
func TestCandleHelpers(t *testing.T) {
	c := Candle{Open: 100, High: 106, Low: 98, Close: 104}

	if c.Body() != 4 {
		t.Errorf("Body = %v, want 4", c.Body())
	}
	if c.Range() != 8 {
		t.Errorf("Range = %v, want 8", c.Range())
	}
	if !c.Bullish() || c.Bearish() {
		t.Error("candle closing above open should be bullish only")
	}
	if c.UpperWick() != 2 {
		t.Errorf("UpperWick = %v, want 2", c.UpperWick())
	}
	if c.LowerWick() != 2 {
		t.Errorf("LowerWick = %v, want 2", c.LowerWick())
	}
}
