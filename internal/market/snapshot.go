package market

import (
	"math"
	"time"
)

// Candle is a single OHLCV bar
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Body returns the absolute candle body size
func (c Candle) Body() float64 {
	return math.Abs(c.Close - c.Open)
}

// Range returns the high-low range
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Bullish reports whether the candle closed above its open
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// Bearish reports whether the candle closed below its open
func (c Candle) Bearish() bool {
	return c.Close < c.Open
}

// UpperWick returns the wick above the body
func (c Candle) UpperWick() float64 {
	return c.High - math.Max(c.Open, c.Close)
}

// LowerWick returns the wick below the body
func (c Candle) LowerWick() float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

// Snapshot is one poll cycle's view of an instrument: a time-ordered
// candle series plus the latest indicator values computed from it.
// A snapshot is built once per decision cycle and never mutated.
type Snapshot struct {
	Asset      string               `json:"asset"`
	Candles    []Candle             `json:"candles"`
	Indicators map[string]float64   `json:"indicators"`
	Series     map[string][]float64 `json:"series,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// NewSnapshot builds a snapshot and precomputes the standard indicator set
func NewSnapshot(asset string, candles []Candle) *Snapshot {
	s := &Snapshot{
		Asset:      asset,
		Candles:    candles,
		Indicators: make(map[string]float64),
		Series:     make(map[string][]float64),
		CreatedAt:  time.Now(),
	}
	s.computeIndicators()
	return s
}

func (s *Snapshot) computeIndicators() {
	if len(s.Candles) == 0 {
		return
	}

	s.Indicators["rsi"] = RSI(s.Candles, 14)
	s.Indicators["atr"] = ATR(s.Candles, 14)
	s.Indicators["sma_20"] = SMA(s.Candles, 20)
	s.Indicators["sma_50"] = SMA(s.Candles, 50)
	s.Indicators["ema_9"] = EMA(s.Candles, 9)
	s.Indicators["ema_21"] = EMA(s.Candles, 21)
	s.Indicators["momentum"] = Momentum(s.Candles, 10)
	s.Indicators["avg_volume"] = AverageVolume(s.Candles, 20)

	macd := MACD(s.Candles, 12, 26, 9)
	s.Indicators["macd"] = macd.Line
	s.Indicators["macd_signal"] = macd.Signal
	s.Indicators["macd_histogram"] = macd.Histogram

	bb := BollingerBands(s.Candles, 20, 2.0)
	s.Indicators["bb_upper"] = bb.Upper
	s.Indicators["bb_middle"] = bb.Middle
	s.Indicators["bb_lower"] = bb.Lower
	if bb.Upper > bb.Lower {
		s.Indicators["bb_position"] = (s.LastClose() - bb.Lower) / (bb.Upper - bb.Lower)
	} else {
		s.Indicators["bb_position"] = 0.5
	}

	s.Series["close"] = s.Closes()
}

// Len returns the number of candles
func (s *Snapshot) Len() int {
	return len(s.Candles)
}

// LastClose returns the most recent close price, 0 if the snapshot is empty
func (s *Snapshot) LastClose() float64 {
	if len(s.Candles) == 0 {
		return 0
	}
	return s.Candles[len(s.Candles)-1].Close
}

// Last returns the most recent candle
func (s *Snapshot) Last() Candle {
	if len(s.Candles) == 0 {
		return Candle{}
	}
	return s.Candles[len(s.Candles)-1]
}

// Closes returns the close-price series
func (s *Snapshot) Closes() []float64 {
	closes := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		closes[i] = c.Close
	}
	return closes
}

// Indicator returns the named indicator value and whether it is present
func (s *Snapshot) Indicator(name string) (float64, bool) {
	v, ok := s.Indicators[name]
	return v, ok
}

// MissingRatio returns the fraction of candles with unusable values
// (zero or non-finite prices)
func (s *Snapshot) MissingRatio() float64 {
	if len(s.Candles) == 0 {
		return 1.0
	}
	missing := 0
	for _, c := range s.Candles {
		if c.Close <= 0 || c.High <= 0 || c.Low <= 0 ||
			math.IsNaN(c.Close) || math.IsInf(c.Close, 0) ||
			math.IsNaN(c.High) || math.IsNaN(c.Low) {
			missing++
		}
	}
	return float64(missing) / float64(len(s.Candles))
}

// StateVector flattens the snapshot into the fixed-size feature vector
// consumed by the learning loop
func (s *Snapshot) StateVector() []float64 {
	last := s.Last()
	price := s.LastClose()
	norm := func(v float64) float64 {
		if price == 0 {
			return 0
		}
		return v / price
	}
	return []float64{
		s.Indicators["rsi"] / 100.0,
		s.Indicators["bb_position"],
		norm(s.Indicators["atr"]),
		norm(s.Indicators["sma_20"]),
		norm(s.Indicators["sma_50"]),
		s.Indicators["macd_histogram"],
		norm(last.Body()),
		norm(last.Range()),
		s.Indicators["momentum"],
	}
}
