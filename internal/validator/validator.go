package validator

import (
	"fmt"
	"math"
	"sync"

	"binary-options-bot/internal/logging"
	"binary-options-bot/internal/market"
	"binary-options-bot/internal/signal"
)

// Config holds every tunable threshold of the validation pipeline
type Config struct {
	MinCandles         int     `json:"min_candles"`          // sufficiency gate
	MaxMissingRatio    float64 `json:"max_missing_ratio"`    // sufficiency gate
	MinNormalizedATR   float64 `json:"min_normalized_atr"`   // volatility gate
	MinMeanRange       float64 `json:"min_mean_range"`       // volatility gate, fraction of price
	RangeLookback      int     `json:"range_lookback"`       // volatility gate window
	PullbackWindow     int     `json:"pullback_window"`      // timing gate mid-window
	MinPullbackCandles int     `json:"min_pullback_candles"` // timing gate
	ImpulseBodyRatio   float64 `json:"impulse_body_ratio"`   // timing gate, x mean body
	LevelProximityATR  float64 `json:"level_proximity_atr"`  // structural gate, x ATR
	LevelWindow        int     `json:"level_window"`         // structural gate
	MinLevelTouches    int     `json:"min_level_touches"`    // structural gate history check
	ConfirmWindow      int     `json:"confirm_window"`       // confirmation gate, last N candles
	MinConfirmCandles  int     `json:"min_confirm_candles"`  // confirmation gate
	MomentumConflictK  float64 `json:"momentum_conflict_k"`  // momentum gate, x ATR
	TrendBoost         float64 `json:"trend_boost"`          // consensus, trend agreement multiplier
	VolatilityDamping  float64 `json:"volatility_damping"`   // consensus, elevated-vol multiplier
	ElevatedATRRatio   float64 `json:"elevated_atr_ratio"`   // consensus, ATR vs baseline
}

// DefaultConfig returns the default pipeline thresholds
func DefaultConfig() *Config {
	return &Config{
		MinCandles:         50,
		MaxMissingRatio:    0.10,
		MinNormalizedATR:   0.0003,
		MinMeanRange:       0.0002,
		RangeLookback:      20,
		PullbackWindow:     10,
		MinPullbackCandles: 2,
		ImpulseBodyRatio:   1.3,
		LevelProximityATR:  0.2,
		LevelWindow:        50,
		MinLevelTouches:    2,
		ConfirmWindow:      3,
		MinConfirmCandles:  2,
		MomentumConflictK:  0.8,
		TrendBoost:         1.1,
		VolatilityDamping:  0.8,
		ElevatedATRRatio:   1.5,
	}
}

// LearnedRules are rejection flags the continuous learner toggles after
// it identifies losing configurations
type LearnedRules struct {
	mu               sync.RWMutex
	AvoidNeutralRSI  bool
	AvoidNeutralBand bool
	AvoidCounterTrend bool
	RequireMomentum  bool
}

// Set updates a named flag; unknown names are ignored
func (lr *LearnedRules) Set(name string, active bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	switch name {
	case "avoid_neutral_rsi":
		lr.AvoidNeutralRSI = active
	case "avoid_neutral_band":
		lr.AvoidNeutralBand = active
	case "avoid_counter_trend":
		lr.AvoidCounterTrend = active
	case "require_momentum":
		lr.RequireMomentum = active
	}
}

// Snapshot returns a copy of the current flags
func (lr *LearnedRules) Snapshot() (neutralRSI, neutralBand, counterTrend, momentum bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	return lr.AvoidNeutralRSI, lr.AvoidNeutralBand, lr.AvoidCounterTrend, lr.RequireMomentum
}

// Result is the terminal object of one decision cycle
type Result struct {
	Approved   bool             `json:"approved"`
	Direction  signal.Direction `json:"direction"`
	Confidence float64          `json:"confidence"`
	Threshold  float64          `json:"threshold"`
	Stage      string           `json:"stage"` // stage that rejected, or "approved"
	Reasons    []string         `json:"reasons"`
	Warnings   []string         `json:"warnings,omitempty"`
}

func rejected(stage, reason string) Result {
	return Result{
		Approved:  false,
		Direction: signal.DirectionHold,
		Stage:     stage,
		Reasons:   []string{reason},
	}
}

// ThresholdProvider supplies the adaptive minimum confidence
type ThresholdProvider interface {
	DynamicConfidenceThreshold() float64
}

// Validator runs the ordered rejection pipeline over a snapshot and the
// collected signal votes. Stages may short-circuit to reject, never to an
// early approve; a stage that fails internally rejects for that reason
// instead of propagating.
type Validator struct {
	config    *Config
	filters   *ProfitabilityFilters
	rules     *LearnedRules
	threshold ThresholdProvider
	logger    *logging.Logger
}

// New creates a validator
func New(config *Config, filters *ProfitabilityFilters, rules *LearnedRules, threshold ThresholdProvider, logger *logging.Logger) *Validator {
	if config == nil {
		config = DefaultConfig()
	}
	if filters == nil {
		filters = NewProfitabilityFilters(nil)
	}
	if rules == nil {
		rules = &LearnedRules{}
	}
	if logger == nil {
		logger = logging.WithComponent("validator")
	}
	return &Validator{
		config:    config,
		filters:   filters,
		rules:     rules,
		threshold: threshold,
		logger:    logger,
	}
}

// Rules exposes the learned-rule flags for the learner to toggle
func (v *Validator) Rules() *LearnedRules {
	return v.rules
}

// Validate runs the full pipeline. direction is the candidate direction
// proposed by the best vote; votes are all collected source votes.
func (v *Validator) Validate(snapshot *market.Snapshot, direction signal.Direction, votes []signal.Vote) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("validation stage panicked", "asset", snapshot.Asset, "panic", fmt.Sprintf("%v", r))
			result = rejected("internal", fmt.Sprintf("validation failed internally: %v", r))
		}
	}()

	if direction != signal.DirectionCall && direction != signal.DirectionPut {
		return rejected("input", "no directional candidate")
	}

	// 1. Sufficiency
	if res, ok := v.sufficiencyGate(snapshot); !ok {
		return res
	}
	// 2. Volatility
	if res, ok := v.volatilityGate(snapshot); !ok {
		return res
	}
	// 3. Timing
	if res, ok := v.timingGate(snapshot, direction); !ok {
		return res
	}
	// 4. Structural safety
	levels := market.FindLevels(snapshot.Candles, v.config.LevelWindow, 0.0015)
	if res, ok := v.structuralGate(snapshot, direction, levels); !ok {
		return res
	}
	// 5. Confirmation near levels
	if res, ok := v.confirmationGate(snapshot, direction, levels); !ok {
		return res
	}
	// 6. Momentum conflict
	if res, ok := v.momentumConflictGate(snapshot, direction); !ok {
		return res
	}
	// 7. Learned rules
	if res, ok := v.learnedRuleGate(snapshot, direction); !ok {
		return res
	}
	// 8 + 9. Consensus scoring and threshold gate
	return v.consensus(snapshot, direction, votes)
}

func (v *Validator) sufficiencyGate(snapshot *market.Snapshot) (Result, bool) {
	if snapshot.Len() < v.config.MinCandles {
		return rejected("sufficiency", fmt.Sprintf("insufficient candles: %d < %d", snapshot.Len(), v.config.MinCandles)), false
	}
	if ratio := snapshot.MissingRatio(); ratio > v.config.MaxMissingRatio {
		return rejected("sufficiency", fmt.Sprintf("missing data ratio %.1f%% exceeds %.1f%%", ratio*100, v.config.MaxMissingRatio*100)), false
	}
	return Result{}, true
}

func (v *Validator) volatilityGate(snapshot *market.Snapshot) (Result, bool) {
	price := snapshot.LastClose()
	if price <= 0 {
		return rejected("volatility", "no valid last price"), false
	}

	atr := snapshot.Indicators["atr"]
	if atr/price < v.config.MinNormalizedATR {
		return rejected("volatility", fmt.Sprintf("normalized ATR %.6f below floor %.6f", atr/price, v.config.MinNormalizedATR)), false
	}

	meanRange := market.MeanRange(snapshot.Candles, v.config.RangeLookback)
	if meanRange/price < v.config.MinMeanRange {
		return rejected("volatility", fmt.Sprintf("mean range %.6f below movement floor", meanRange/price)), false
	}
	return Result{}, true
}

// timingGate requires a pullback against the trade direction inside the
// mid-window followed by an impulse candle back in the trade direction
func (v *Validator) timingGate(snapshot *market.Snapshot, direction signal.Direction) (Result, bool) {
	window := v.config.PullbackWindow
	if snapshot.Len() < window+1 {
		return rejected("timing", "window too short for timing check"), false
	}

	recent := snapshot.Candles[snapshot.Len()-window:]
	pullback := 0
	for _, c := range recent[:len(recent)-1] {
		if direction == signal.DirectionCall && c.Bearish() {
			pullback++
		}
		if direction == signal.DirectionPut && c.Bullish() {
			pullback++
		}
	}
	if pullback < v.config.MinPullbackCandles {
		return rejected("timing", "no pullback before entry, not yet optimal"), false
	}

	last := recent[len(recent)-1]
	meanBody := market.MeanBody(snapshot.Candles, window)
	impulse := last.Body() >= meanBody*v.config.ImpulseBodyRatio
	alignedImpulse := impulse &&
		((direction == signal.DirectionCall && last.Bullish()) ||
			(direction == signal.DirectionPut && last.Bearish()))
	if !alignedImpulse {
		return rejected("timing", "no impulse candle in trade direction, not yet optimal"), false
	}
	return Result{}, true
}

func (v *Validator) structuralGate(snapshot *market.Snapshot, direction signal.Direction, levels []market.Level) (Result, bool) {
	price := snapshot.LastClose()
	atr := snapshot.Indicators["atr"]
	margin := atr * v.config.LevelProximityATR

	for _, lvl := range levels {
		near := math.Abs(price-lvl.Price) <= margin
		if !near {
			continue
		}
		if direction == signal.DirectionCall && lvl.Kind == "resistance" {
			return rejected("structure", fmt.Sprintf("CALL into resistance at %.5f", lvl.Price)), false
		}
		if direction == signal.DirectionPut && lvl.Kind == "support" {
			return rejected("structure", fmt.Sprintf("PUT into support at %.5f", lvl.Price)), false
		}
		// Heavily-touched levels near price are hostile in either direction
		if lvl.Touches >= v.config.MinLevelTouches {
			blocking := (direction == signal.DirectionCall && lvl.Kind == "resistance") ||
				(direction == signal.DirectionPut && lvl.Kind == "support")
			if blocking {
				return rejected("structure", fmt.Sprintf("historical %s at %.5f rejected price %d times", lvl.Kind, lvl.Price, lvl.Touches)), false
			}
		}
	}

	// Bollinger zone check as a second structural opinion
	bbPos := snapshot.Indicators["bb_position"]
	if direction == signal.DirectionCall && bbPos > 0.92 {
		return rejected("structure", "CALL at upper band extreme"), false
	}
	if direction == signal.DirectionPut && bbPos < 0.08 {
		return rejected("structure", "PUT at lower band extreme"), false
	}
	return Result{}, true
}

func (v *Validator) confirmationGate(snapshot *market.Snapshot, direction signal.Direction, levels []market.Level) (Result, bool) {
	price := snapshot.LastClose()
	atr := snapshot.Indicators["atr"]

	nearLevel := false
	for _, lvl := range levels {
		if math.Abs(price-lvl.Price) <= atr {
			nearLevel = true
			break
		}
	}
	if !nearLevel {
		return Result{}, true
	}

	window := v.config.ConfirmWindow
	if snapshot.Len() < window {
		return Result{}, true
	}
	confirming := 0
	for _, c := range snapshot.Candles[snapshot.Len()-window:] {
		if direction == signal.DirectionCall && c.Bullish() {
			confirming++
		}
		if direction == signal.DirectionPut && c.Bearish() {
			confirming++
		}
	}
	if confirming < v.config.MinConfirmCandles {
		return rejected("confirmation", fmt.Sprintf("only %d/%d confirming candles near level", confirming, window)), false
	}
	return Result{}, true
}

func (v *Validator) momentumConflictGate(snapshot *market.Snapshot, direction signal.Direction) (Result, bool) {
	n := 5
	if snapshot.Len() < n+1 {
		return Result{}, true
	}

	sum := 0.0
	for i := snapshot.Len() - n; i < snapshot.Len(); i++ {
		sum += snapshot.Candles[i].Close - snapshot.Candles[i-1].Close
	}
	meanDelta := sum / float64(n)
	atr := snapshot.Indicators["atr"]

	threshold := atr * v.config.MomentumConflictK
	if direction == signal.DirectionCall && meanDelta < -threshold {
		return rejected("momentum", fmt.Sprintf("strong downward momentum %.6f against CALL", meanDelta)), false
	}
	if direction == signal.DirectionPut && meanDelta > threshold {
		return rejected("momentum", fmt.Sprintf("strong upward momentum %.6f against PUT", meanDelta)), false
	}
	return Result{}, true
}

func (v *Validator) learnedRuleGate(snapshot *market.Snapshot, direction signal.Direction) (Result, bool) {
	neutralRSI, neutralBand, counterTrend, requireMomentum := v.rules.Snapshot()

	rsi := snapshot.Indicators["rsi"]
	if neutralRSI && rsi >= 45 && rsi <= 55 {
		return rejected("learned", fmt.Sprintf("neutral RSI %.1f flagged by learned rule", rsi)), false
	}

	bbPos := snapshot.Indicators["bb_position"]
	if neutralBand && bbPos >= 0.4 && bbPos <= 0.6 {
		return rejected("learned", "neutral band position flagged by learned rule"), false
	}

	if counterTrend {
		trend := market.DetectTrend(snapshot.Candles, 20, 50)
		if (direction == signal.DirectionCall && trend == market.TrendDown) ||
			(direction == signal.DirectionPut && trend == market.TrendUp) {
			return rejected("learned", "counter-trend entry flagged by learned rule"), false
		}
	}

	if requireMomentum && math.Abs(snapshot.Indicators["momentum"]) < 0.0005 {
		return rejected("learned", "no momentum, flagged by learned rule"), false
	}
	return Result{}, true
}

// consensus tallies directional votes, applies the profitability filter
// score and trend/volatility adjustments, then checks the adaptive
// threshold
func (v *Validator) consensus(snapshot *market.Snapshot, direction signal.Direction, votes []signal.Vote) Result {
	agree, disagree, available := 0, 0, 0
	reasons := make([]string, 0, 8)
	warnings := make([]string, 0, 4)

	for _, vote := range votes {
		if !vote.Directional() {
			continue
		}
		available++
		if vote.Direction == direction {
			agree++
			for _, r := range vote.Reasons {
				reasons = append(reasons, vote.Source+": "+r)
			}
		} else {
			disagree++
			warnings = append(warnings, fmt.Sprintf("%s votes %s against candidate", vote.Source, vote.Direction))
		}
	}

	if available == 0 {
		return rejected("consensus", "no directional votes available")
	}

	confidence := float64(agree) / float64(available)

	// Profitability filter score scales the consensus
	score := v.filters.Score(snapshot, direction)
	if score.Total < v.filters.config.PassScore {
		res := rejected("consensus", fmt.Sprintf("profitability score %d below pass mark %d", score.Total, v.filters.config.PassScore))
		res.Warnings = score.Failures
		return res
	}
	confidence *= score.Multiplier()
	reasons = append(reasons, fmt.Sprintf("profitability score %d/100", score.Total))

	// Trend agreement boost
	trend := market.DetectTrend(snapshot.Candles, 20, 50)
	if (direction == signal.DirectionCall && trend == market.TrendUp) ||
		(direction == signal.DirectionPut && trend == market.TrendDown) {
		confidence *= v.config.TrendBoost
		reasons = append(reasons, "trend agrees with direction")
	}

	// Elevated volatility damping
	price := snapshot.LastClose()
	atr := snapshot.Indicators["atr"]
	baseline := market.MeanRange(snapshot.Candles, v.config.RangeLookback*2)
	if baseline > 0 && atr/baseline > v.config.ElevatedATRRatio {
		confidence *= v.config.VolatilityDamping
		warnings = append(warnings, fmt.Sprintf("elevated volatility, ATR %.6f vs baseline %.6f", atr/price, baseline/price))
	}

	if confidence > 1 {
		confidence = 1
	}

	threshold := 0.60
	if v.threshold != nil {
		threshold = v.threshold.DynamicConfidenceThreshold()
	}
	if confidence < threshold {
		res := rejected("threshold", fmt.Sprintf("confidence %.2f below required %.2f", confidence, threshold))
		res.Confidence = confidence
		res.Threshold = threshold
		res.Warnings = warnings
		return res
	}

	return Result{
		Approved:   true,
		Direction:  direction,
		Confidence: confidence,
		Threshold:  threshold,
		Stage:      "approved",
		Reasons:    reasons,
		Warnings:   warnings,
	}
}
