package market

import "math"

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the Simple Moving Average of closes
func SMA(candles []Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// EMA calculates the Exponential Moving Average of closes
func EMA(candles []Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	ema := SMA(candles[:period], period)
	multiplier := 2.0 / float64(period+1)

	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// ============================================================================
// RSI
// ============================================================================

// RSI calculates the Relative Strength Index
func RSI(candles []Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0 // neutral
	}

	gains := 0.0
	losses := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD
// ============================================================================

// MACDResult holds MACD indicator values
type MACDResult struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// MACD calculates the MACD line, signal line, and histogram.
// The signal line is an EMA over the MACD series recomputed per bar.
func MACD(candles []Candle, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if len(candles) < slowPeriod+signalPeriod {
		return MACDResult{}
	}

	macdSeries := make([]float64, 0, signalPeriod)
	for i := signalPeriod; i > 0; i-- {
		window := candles[:len(candles)-i+1]
		if len(window) < slowPeriod {
			continue
		}
		macdSeries = append(macdSeries, EMA(window, fastPeriod)-EMA(window, slowPeriod))
	}
	if len(macdSeries) == 0 {
		return MACDResult{}
	}

	line := macdSeries[len(macdSeries)-1]
	signal := macdSeries[0]
	multiplier := 2.0 / float64(signalPeriod+1)
	for _, v := range macdSeries[1:] {
		signal = (v * multiplier) + (signal * (1 - multiplier))
	}

	return MACDResult{
		Line:      line,
		Signal:    signal,
		Histogram: line - signal,
	}
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerResult holds Bollinger Bands values
type BollingerResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// BollingerBands calculates Bollinger Bands over closes
func BollingerBands(candles []Candle, period int, stdDevMultiplier float64) BollingerResult {
	if len(candles) < period {
		return BollingerResult{}
	}

	middle := SMA(candles, period)

	variance := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerResult{
		Upper:  middle + (stdDev * stdDevMultiplier),
		Middle: middle,
		Lower:  middle - (stdDev * stdDevMultiplier),
	}
}

// ============================================================================
// ATR
// ============================================================================

// ATR calculates the Average True Range
func ATR(candles []Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	trSum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trSum += tr
	}
	return trSum / float64(period)
}

// ============================================================================
// VOLUME & MOMENTUM
// ============================================================================

// AverageVolume calculates mean volume over the period
func AverageVolume(candles []Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	return sum / float64(period)
}

// Momentum returns the fractional price change over the period
func Momentum(candles []Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	past := candles[len(candles)-period-1].Close
	if past == 0 {
		return 0
	}
	return (candles[len(candles)-1].Close - past) / past
}

// AccumulationDistribution computes the A/D line over the full series
func AccumulationDistribution(candles []Candle) float64 {
	ad := 0.0
	for _, c := range candles {
		r := c.Range()
		if r == 0 {
			continue
		}
		mfm := ((c.Close - c.Low) - (c.High - c.Close)) / r
		ad += mfm * c.Volume
	}
	return ad
}

// MeanBody returns the average candle body over the last n candles
func MeanBody(candles []Candle, n int) float64 {
	if len(candles) == 0 || n <= 0 {
		return 0
	}
	if n > len(candles) {
		n = len(candles)
	}

	sum := 0.0
	for i := len(candles) - n; i < len(candles); i++ {
		sum += candles[i].Body()
	}
	return sum / float64(n)
}

// MeanRange returns the average high-low range over the last n candles
func MeanRange(candles []Candle, n int) float64 {
	if len(candles) == 0 || n <= 0 {
		return 0
	}
	if n > len(candles) {
		n = len(candles)
	}

	sum := 0.0
	for i := len(candles) - n; i < len(candles); i++ {
		sum += candles[i].Range()
	}
	return sum / float64(n)
}

// ============================================================================
// SUPPORT / RESISTANCE
// ============================================================================

// Level is a detected support or resistance price level
type Level struct {
	Price   float64
	Kind    string // "support" or "resistance"
	Touches int
}

// FindLevels detects pivot-based support and resistance levels over the
// trailing window. A pivot high is a candle whose high exceeds the two
// candles on either side; pivot lows are symmetric. Nearby pivots within
// tolerance are merged and their touch counts summed.
func FindLevels(candles []Candle, window int, tolerance float64) []Level {
	if len(candles) < 5 {
		return nil
	}
	start := len(candles) - window
	if start < 2 {
		start = 2
	}

	var levels []Level
	add := func(price float64, kind string) {
		for i := range levels {
			if levels[i].Kind == kind && math.Abs(levels[i].Price-price) <= tolerance*price {
				levels[i].Price = (levels[i].Price + price) / 2
				levels[i].Touches++
				return
			}
		}
		levels = append(levels, Level{Price: price, Kind: kind, Touches: 1})
	}

	for i := start; i < len(candles)-2; i++ {
		c := candles[i]
		if c.High > candles[i-1].High && c.High > candles[i-2].High &&
			c.High > candles[i+1].High && c.High > candles[i+2].High {
			add(c.High, "resistance")
		}
		if c.Low < candles[i-1].Low && c.Low < candles[i-2].Low &&
			c.Low < candles[i+1].Low && c.Low < candles[i+2].Low {
			add(c.Low, "support")
		}
	}
	return levels
}

// TrendDirection represents detected market trend
type TrendDirection string

const (
	TrendUp      TrendDirection = "UP"
	TrendDown    TrendDirection = "DOWN"
	TrendNeutral TrendDirection = "NEUTRAL"
)

// DetectTrend compares fast and slow SMAs to classify the regime
func DetectTrend(candles []Candle, fastPeriod, slowPeriod int) TrendDirection {
	if len(candles) < slowPeriod {
		return TrendNeutral
	}

	fast := SMA(candles, fastPeriod)
	slow := SMA(candles, slowPeriod)
	if slow == 0 {
		return TrendNeutral
	}

	diff := (fast - slow) / slow
	switch {
	case diff > 0.0005:
		return TrendUp
	case diff < -0.0005:
		return TrendDown
	default:
		return TrendNeutral
	}
}
