package signal

import (
	"context"
	"fmt"
	"math"

	"binary-options-bot/internal/market"
)

// StructureConfig holds thresholds for the market-structure analyzer
type StructureConfig struct {
	WickBodyRatio   float64 `json:"wick_body_ratio"`  // wick >= ratio x body marks a trap/reversal candle
	LevelWindow     int     `json:"level_window"`     // candles scanned for pivot levels
	LevelTolerance  float64 `json:"level_tolerance"`  // fractional merge tolerance for nearby pivots
	DivergenceDepth int     `json:"divergence_depth"` // candles compared for RSI divergence
}

// DefaultStructureConfig returns default thresholds
func DefaultStructureConfig() *StructureConfig {
	return &StructureConfig{
		WickBodyRatio:   2.0,
		LevelWindow:     50,
		LevelTolerance:  0.0015,
		DivergenceDepth: 14,
	}
}

// StructureAnalyzer reads price structure: trap candles at levels,
// hammer / shooting-star reversals, RSI divergence, accumulation trend,
// and the SMA regime. It abstains when structure is ambiguous.
type StructureAnalyzer struct {
	config *StructureConfig
}

// NewStructureAnalyzer creates a structure analyzer
func NewStructureAnalyzer(config *StructureConfig) *StructureAnalyzer {
	if config == nil {
		config = DefaultStructureConfig()
	}
	return &StructureAnalyzer{config: config}
}

func (sa *StructureAnalyzer) Name() string { return "structure" }

func (sa *StructureAnalyzer) Available() bool { return true }

// Evaluate scores bullish vs bearish structure evidence
func (sa *StructureAnalyzer) Evaluate(_ context.Context, snapshot *market.Snapshot) (Vote, error) {
	if snapshot.Len() < sa.config.LevelWindow {
		return Abstain(sa.Name(), "insufficient candles for structure analysis"), nil
	}

	bullish := 0.0
	bearish := 0.0
	reasons := make([]string, 0, 4)

	levels := market.FindLevels(snapshot.Candles, sa.config.LevelWindow, sa.config.LevelTolerance)

	// 1. Trap candles at levels: a long wick rejecting a level signals the
	// opposite move.
	if trap, dir := sa.detectTrap(snapshot, levels); trap {
		if dir == DirectionCall {
			bullish += 1.0
			reasons = append(reasons, "bear trap: long lower wick rejected support")
		} else {
			bearish += 1.0
			reasons = append(reasons, "bull trap: long upper wick rejected resistance")
		}
	}

	// 2. Hammer / shooting star on the last closed candle
	last := snapshot.Last()
	body := last.Body()
	if body > 0 {
		if last.LowerWick() >= body*sa.config.WickBodyRatio && last.UpperWick() < body {
			bullish += 0.8
			reasons = append(reasons, "hammer candle")
		}
		if last.UpperWick() >= body*sa.config.WickBodyRatio && last.LowerWick() < body {
			bearish += 0.8
			reasons = append(reasons, "shooting star candle")
		}
	}

	// 3. RSI divergence vs price
	if div := sa.detectDivergence(snapshot); div == DirectionCall {
		bullish += 0.7
		reasons = append(reasons, "bullish RSI divergence")
	} else if div == DirectionPut {
		bearish += 0.7
		reasons = append(reasons, "bearish RSI divergence")
	}

	// 4. Accumulation/distribution slope over the last window
	adRecent := market.AccumulationDistribution(snapshot.Candles[snapshot.Len()-20:])
	if adRecent > 0 {
		bullish += 0.4
	} else if adRecent < 0 {
		bearish += 0.4
	}

	// 5. SMA regime as a mild tiebreaker
	switch market.DetectTrend(snapshot.Candles, 20, 50) {
	case market.TrendUp:
		bullish += 0.3
	case market.TrendDown:
		bearish += 0.3
	}

	net := bullish - bearish
	total := bullish + bearish
	if total == 0 || math.Abs(net) < 0.6 {
		return Abstain(sa.Name(), "structure evidence inconclusive"), nil
	}

	direction := DirectionCall
	if net < 0 {
		direction = DirectionPut
	}
	confidence := clamp(math.Abs(net)/3.2, 0, 1)

	return Vote{
		Source:     sa.Name(),
		Direction:  direction,
		Confidence: confidence,
		Reasons:    reasons,
	}, nil
}

// detectTrap looks for a wick that pierced a pivot level and snapped back
func (sa *StructureAnalyzer) detectTrap(snapshot *market.Snapshot, levels []market.Level) (bool, Direction) {
	last := snapshot.Last()
	body := last.Body()
	if body == 0 {
		return false, DirectionHold
	}

	for _, lvl := range levels {
		switch lvl.Kind {
		case "support":
			// Wick below support, close back above it
			if last.Low < lvl.Price && last.Close > lvl.Price &&
				last.LowerWick() >= body*sa.config.WickBodyRatio {
				return true, DirectionCall
			}
		case "resistance":
			if last.High > lvl.Price && last.Close < lvl.Price &&
				last.UpperWick() >= body*sa.config.WickBodyRatio {
				return true, DirectionPut
			}
		}
	}
	return false, DirectionHold
}

// detectDivergence compares the price and RSI extremes across the two
// halves of the divergence window
func (sa *StructureAnalyzer) detectDivergence(snapshot *market.Snapshot) Direction {
	depth := sa.config.DivergenceDepth
	if snapshot.Len() < depth*2+15 {
		return DirectionHold
	}

	older := snapshot.Candles[:snapshot.Len()-depth]
	newerLow, olderLow := lowestClose(snapshot.Candles[snapshot.Len()-depth:]), lowestClose(older[len(older)-depth:])
	newerHigh, olderHigh := highestClose(snapshot.Candles[snapshot.Len()-depth:]), highestClose(older[len(older)-depth:])

	rsiNow := market.RSI(snapshot.Candles, 14)
	rsiThen := market.RSI(older, 14)

	// Lower low in price with higher RSI low: bullish divergence
	if newerLow < olderLow && rsiNow > rsiThen+3 {
		return DirectionCall
	}
	// Higher high in price with lower RSI high: bearish divergence
	if newerHigh > olderHigh && rsiNow < rsiThen-3 {
		return DirectionPut
	}
	return DirectionHold
}

func lowestClose(candles []market.Candle) float64 {
	low := math.Inf(1)
	for _, c := range candles {
		if c.Close < low {
			low = c.Close
		}
	}
	return low
}

func highestClose(candles []market.Candle) float64 {
	high := math.Inf(-1)
	for _, c := range candles {
		if c.Close > high {
			high = c.Close
		}
	}
	return high
}

// Describe summarizes the structural picture for the advisory prompt
func (sa *StructureAnalyzer) Describe(snapshot *market.Snapshot) string {
	trend := market.DetectTrend(snapshot.Candles, 20, 50)
	levels := market.FindLevels(snapshot.Candles, sa.config.LevelWindow, sa.config.LevelTolerance)

	nearest := ""
	price := snapshot.LastClose()
	best := math.Inf(1)
	for _, lvl := range levels {
		d := math.Abs(lvl.Price - price)
		if d < best {
			best = d
			nearest = fmt.Sprintf("nearest %s at %.5f (%d touches)", lvl.Kind, lvl.Price, lvl.Touches)
		}
	}
	if nearest == "" {
		nearest = "no notable levels"
	}
	return fmt.Sprintf("trend %s, RSI %.1f, %s", trend, snapshot.Indicators["rsi"], nearest)
}
