package validator

import (
	"fmt"
	"math"

	"binary-options-bot/internal/market"
	"binary-options-bot/internal/signal"
)

// FilterConfig holds weights and thresholds for the profitability filters.
// Weights are points out of 100.
type FilterConfig struct {
	TrendWeight    int `json:"trend_weight"`
	RSIRoomWeight  int `json:"rsi_room_weight"`
	BodyWeight     int `json:"body_weight"`
	LevelWeight    int `json:"level_weight"`
	VolumeWeight   int `json:"volume_weight"`
	BandWeight     int `json:"band_weight"`
	StreakWeight   int `json:"streak_weight"`
	PassScore      int `json:"pass_score"`
	StreakLookback int `json:"streak_lookback"`
}

// DefaultFilterConfig returns the default filter weights
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		TrendWeight:    20,
		RSIRoomWeight:  15,
		BodyWeight:     15,
		LevelWeight:    15,
		VolumeWeight:   10,
		BandWeight:     15,
		StreakWeight:   10,
		PassScore:      60,
		StreakLookback: 8,
	}
}

// FilterScore is the outcome of the seven profitability checks
type FilterScore struct {
	Total    int
	Passed   []string
	Failures []string
}

// Multiplier maps a passing score to a confidence multiplier in [0.85, 1.0]
func (fs FilterScore) Multiplier() float64 {
	if fs.Total >= 100 {
		return 1.0
	}
	return 0.85 + 0.15*float64(fs.Total-60)/40.0
}

// ProfitabilityFilters runs seven weighted market-quality checks that
// gate and scale the consensus confidence
type ProfitabilityFilters struct {
	config *FilterConfig
}

// NewProfitabilityFilters creates the filter set
func NewProfitabilityFilters(config *FilterConfig) *ProfitabilityFilters {
	if config == nil {
		config = DefaultFilterConfig()
	}
	return &ProfitabilityFilters{config: config}
}

// Score evaluates every filter against the snapshot for the candidate
// direction and returns the summed score with pass/fail detail
func (pf *ProfitabilityFilters) Score(snapshot *market.Snapshot, direction signal.Direction) FilterScore {
	score := FilterScore{}
	add := func(points int, name string, pass bool) {
		if pass {
			score.Total += points
			score.Passed = append(score.Passed, name)
		} else {
			score.Failures = append(score.Failures, name)
		}
	}

	cfg := pf.config
	trend := market.DetectTrend(snapshot.Candles, 20, 50)

	// 1. Trend alignment
	trendOK := trend == market.TrendNeutral ||
		(direction == signal.DirectionCall && trend == market.TrendUp) ||
		(direction == signal.DirectionPut && trend == market.TrendDown)
	add(cfg.TrendWeight, "trend alignment", trendOK)

	// 2. RSI room to run
	rsi := snapshot.Indicators["rsi"]
	rsiOK := (direction == signal.DirectionCall && rsi < 65) ||
		(direction == signal.DirectionPut && rsi > 35)
	add(cfg.RSIRoomWeight, "rsi room", rsiOK)

	// 3. Candle body quality: last body meaningful vs its range
	last := snapshot.Last()
	bodyOK := last.Range() > 0 && last.Body()/last.Range() >= 0.45
	add(cfg.BodyWeight, "candle body quality", bodyOK)

	// 4. Distance from the nearest opposing level
	add(cfg.LevelWeight, "level distance", pf.levelDistanceOK(snapshot, direction))

	// 5. Volume confirmation
	avgVol := snapshot.Indicators["avg_volume"]
	volOK := avgVol > 0 && last.Volume >= avgVol*0.9
	add(cfg.VolumeWeight, "volume confirmation", volOK)

	// 6. Band position sanity: don't chase into the opposing band
	bbPos := snapshot.Indicators["bb_position"]
	bandOK := (direction == signal.DirectionCall && bbPos < 0.8) ||
		(direction == signal.DirectionPut && bbPos > 0.2)
	add(cfg.BandWeight, "band position", bandOK)

	// 7. Recent-streak sanity: avoid entering after a one-way run of
	// candles in the trade direction (late entry)
	add(cfg.StreakWeight, "streak sanity", pf.streakOK(snapshot, direction))

	return score
}

func (pf *ProfitabilityFilters) levelDistanceOK(snapshot *market.Snapshot, direction signal.Direction) bool {
	price := snapshot.LastClose()
	atr := snapshot.Indicators["atr"]
	if atr == 0 {
		return true
	}

	levels := market.FindLevels(snapshot.Candles, 50, 0.0015)
	for _, lvl := range levels {
		opposing := (direction == signal.DirectionCall && lvl.Kind == "resistance" && lvl.Price > price) ||
			(direction == signal.DirectionPut && lvl.Kind == "support" && lvl.Price < price)
		if opposing && math.Abs(lvl.Price-price) < atr*1.5 {
			return false
		}
	}
	return true
}

func (pf *ProfitabilityFilters) streakOK(snapshot *market.Snapshot, direction signal.Direction) bool {
	n := pf.config.StreakLookback
	if snapshot.Len() < n {
		return true
	}

	aligned := 0
	for _, c := range snapshot.Candles[snapshot.Len()-n:] {
		if (direction == signal.DirectionCall && c.Bullish()) ||
			(direction == signal.DirectionPut && c.Bearish()) {
			aligned++
		}
	}
	// A fully one-way run means the move is mature
	return aligned < n-1
}

// Describe renders the score for logs
func (fs FilterScore) Describe() string {
	return fmt.Sprintf("score %d (passed %d, failed %d)", fs.Total, len(fs.Passed), len(fs.Failures))
}
