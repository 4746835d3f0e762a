package risk

import (
	"binary-options-bot/internal/market"
	"binary-options-bot/internal/signal"
)

// LossKind classifies why a settled trade lost
type LossKind string

const (
	LossTimingMiss      LossKind = "TIMING_MISS"      // price went our way after expiry
	LossTrendReversal   LossKind = "TREND_REVERSAL"   // market turned against the thesis
	LossVolatilitySpike LossKind = "VOLATILITY_SPIKE" // range blew out around entry
	LossUnknown         LossKind = "UNKNOWN"
)

// LossAnalysis is the analyzer's verdict on one losing trade
type LossAnalysis struct {
	Kind             LossKind `json:"kind"`
	ShouldMartingale bool     `json:"should_martingale"`
	Detail           string   `json:"detail"`
}

// Analyzer classifies losses from the candles that printed after entry.
// Martingale escalation is only sane when the thesis was right but early;
// a reversal means the thesis broke and the stake must reset.
type Analyzer struct {
	spikeRatio float64 // post-entry range vs pre-entry ATR marking a spike
}

// NewAnalyzer creates a loss analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{spikeRatio: 2.5}
}

// Analyze classifies a loss. entrySnapshot is the pre-trade snapshot,
// postCandles the candles printed between entry and settlement, and
// direction the traded direction. Returns nil for winning trades.
func (a *Analyzer) Analyze(entrySnapshot *market.Snapshot, postCandles []market.Candle, direction signal.Direction, profit float64) *LossAnalysis {
	if profit > 0 {
		return nil
	}
	if len(postCandles) == 0 || entrySnapshot == nil {
		return &LossAnalysis{Kind: LossUnknown, ShouldMartingale: false, Detail: "no post-trade data"}
	}

	entryPrice := entrySnapshot.LastClose()
	atr := entrySnapshot.Indicators["atr"]
	lastClose := postCandles[len(postCandles)-1].Close

	// Volatility spike: the post-entry range dwarfs the pre-entry ATR
	if atr > 0 {
		maxRange := 0.0
		for _, c := range postCandles {
			if r := c.Range(); r > maxRange {
				maxRange = r
			}
		}
		if maxRange > atr*a.spikeRatio {
			return &LossAnalysis{
				Kind:             LossVolatilitySpike,
				ShouldMartingale: false,
				Detail:           "post-entry range exceeded pre-entry volatility",
			}
		}
	}

	// Timing miss: price finished beyond entry in the traded direction,
	// just not at expiry, or recovered most of the adverse move
	wentOurWay := (direction == signal.DirectionCall && lastClose > entryPrice) ||
		(direction == signal.DirectionPut && lastClose < entryPrice)
	if wentOurWay {
		return &LossAnalysis{
			Kind:             LossTimingMiss,
			ShouldMartingale: true,
			Detail:           "price moved with the thesis after expiry",
		}
	}

	// Reversal: most post-entry candles closed against the thesis
	against := 0
	for _, c := range postCandles {
		if (direction == signal.DirectionCall && c.Bearish()) ||
			(direction == signal.DirectionPut && c.Bullish()) {
			against++
		}
	}
	if against*2 > len(postCandles) {
		return &LossAnalysis{
			Kind:             LossTrendReversal,
			ShouldMartingale: false,
			Detail:           "market reversed against the thesis",
		}
	}

	return &LossAnalysis{
		Kind:             LossTimingMiss,
		ShouldMartingale: true,
		Detail:           "choppy but thesis not invalidated",
	}
}
