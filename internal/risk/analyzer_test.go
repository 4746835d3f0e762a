package risk

import (
	"testing"

	"binary-options-bot/internal/market"
	"binary-options-bot/internal/signal"
)

func entrySnapshot(price, atr float64) *market.Snapshot {
	candles := []market.Candle{
		{Open: price, High: price + 0.0005, Low: price - 0.0005, Close: price},
	}
	return &market.Snapshot{
		Asset:      "EURUSD",
		Candles:    candles,
		Indicators: map[string]float64{"atr": atr},
	}
}

func postCandle(open, close float64) market.Candle {
	high := open
	low := close
	if close > open {
		high, low = close, open
	}
	return market.Candle{Open: open, High: high + 0.0001, Low: low - 0.0001, Close: close}
}

// TestAnalyzeWinReturnsNil verifies winning trades are never analyzed
func TestAnalyzeWinReturnsNil(t *testing.T) {
	a := NewAnalyzer()
	if got := a.Analyze(entrySnapshot(1.1, 0.001), nil, signal.DirectionCall, 1.7); got != nil {
		t.Errorf("winning trade analysis = %+v, want nil", got)
	}
}

// TestAnalyzeNoData verifies the unknown classification without post candles
func TestAnalyzeNoData(t *testing.T) {
	a := NewAnalyzer()
	got := a.Analyze(entrySnapshot(1.1, 0.001), nil, signal.DirectionCall, -2)
	if got.Kind != LossUnknown {
		t.Errorf("kind = %v, want UNKNOWN", got.Kind)
	}
	if got.ShouldMartingale {
		t.Error("unknown losses must never escalate")
	}
}

// TestAnalyzeTimingMiss verifies a late move in the traded direction
// is classified as recoverable
func TestAnalyzeTimingMiss(t *testing.T) {
	a := NewAnalyzer()
	post := []market.Candle{
		postCandle(1.1000, 1.0999),
		postCandle(1.0999, 1.1004), // finishes above entry
	}
	got := a.Analyze(entrySnapshot(1.1000, 0.001), post, signal.DirectionCall, -2)
	if got.Kind != LossTimingMiss {
		t.Errorf("kind = %v, want TIMING_MISS", got.Kind)
	}
	if !got.ShouldMartingale {
		t.Error("timing miss should permit martingale escalation")
	}
}

// TestAnalyzeTrendReversal verifies a sustained adverse move resets the stake
func TestAnalyzeTrendReversal(t *testing.T) {
	a := NewAnalyzer()
	post := []market.Candle{
		postCandle(1.1000, 1.0996),
		postCandle(1.0996, 1.0992),
		postCandle(1.0992, 1.0988),
	}
	got := a.Analyze(entrySnapshot(1.1000, 0.01), post, signal.DirectionCall, -2)
	if got.Kind != LossTrendReversal {
		t.Errorf("kind = %v, want TREND_REVERSAL", got.Kind)
	}
	if got.ShouldMartingale {
		t.Error("reversal losses must never escalate")
	}
}

// TestAnalyzeVolatilitySpike verifies a range blowout overrides everything
func TestAnalyzeVolatilitySpike(t *testing.T) {
	a := NewAnalyzer()
	post := []market.Candle{
		{Open: 1.1000, High: 1.1080, Low: 1.0920, Close: 1.1004}, // 160 pip bar vs 10 pip ATR
	}
	got := a.Analyze(entrySnapshot(1.1000, 0.001), post, signal.DirectionCall, -2)
	if got.Kind != LossVolatilitySpike {
		t.Errorf("kind = %v, want VOLATILITY_SPIKE", got.Kind)
	}
	if got.ShouldMartingale {
		t.Error("spike losses must never escalate")
	}
}

// TestAnalyzeChoppyLoss verifies an undecided market defaults to a
// recoverable classification for a PUT
func TestAnalyzeChoppyLoss(t *testing.T) {
	a := NewAnalyzer()
	post := []market.Candle{
		postCandle(1.1002, 1.1000),
		postCandle(1.1000, 1.1003),
		postCandle(1.1003, 1.1001), // above entry but no one-way move
	}
	got := a.Analyze(entrySnapshot(1.1000, 0.01), post, signal.DirectionPut, -2)
	if got.Kind != LossTimingMiss {
		t.Errorf("kind = %v, want TIMING_MISS for a choppy loss", got.Kind)
	}
	if !got.ShouldMartingale {
		t.Error("choppy losses keep the thesis alive and may escalate")
	}
}
