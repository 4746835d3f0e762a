package signal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"binary-options-bot/internal/market"
)

// PredictorConfig holds the sub-signal weights for the online predictor
type PredictorConfig struct {
	MomentumWeight      float64 `json:"momentum_weight"`
	MeanReversionWeight float64 `json:"mean_reversion_weight"`
	VolumeWeight        float64 `json:"volume_weight"`
	TrendWeight         float64 `json:"trend_weight"`
	MinConfidence       float64 `json:"min_confidence"` // abstain below this
	LearningRate        float64 `json:"learning_rate"`  // weight nudge per recorded outcome
}

// DefaultPredictorConfig returns default config
func DefaultPredictorConfig() *PredictorConfig {
	return &PredictorConfig{
		MomentumWeight:      0.30,
		MeanReversionWeight: 0.20,
		VolumeWeight:        0.25,
		TrendWeight:         0.25,
		MinConfidence:       0.35,
		LearningRate:        0.02,
	}
}

// Outcome is one settled trade fed back into the predictor
type Outcome struct {
	State  []float64
	Action int // 0 = PUT, 1 = CALL
	Reward float64
}

// PredictorStats tracks prediction accuracy
type PredictorStats struct {
	TotalPredictions   int
	CorrectPredictions int
	mu                 sync.RWMutex
}

// Predictor is the online-learning signal source. It combines momentum,
// mean-reversion, volume, and trend sub-signals under adjustable weights;
// recorded outcomes nudge the weights toward the sub-signals that agreed
// with profitable trades, and Retrain rebuilds them from a batch.
type Predictor struct {
	mu      sync.RWMutex
	config  *PredictorConfig
	weights map[string]float64
	stats   *PredictorStats

	lastSignals map[string]float64 // sub-signals of the most recent evaluation
	retrainedAt time.Time
	generation  int
}

// NewPredictor creates the predictor source
func NewPredictor(config *PredictorConfig) *Predictor {
	if config == nil {
		config = DefaultPredictorConfig()
	}
	return &Predictor{
		config: config,
		weights: map[string]float64{
			"momentum":       config.MomentumWeight,
			"mean_reversion": config.MeanReversionWeight,
			"volume":         config.VolumeWeight,
			"trend":          config.TrendWeight,
		},
		stats:       &PredictorStats{},
		lastSignals: make(map[string]float64),
	}
}

func (p *Predictor) Name() string { return "predictor" }

func (p *Predictor) Available() bool { return true }

// Evaluate produces a directional vote from the weighted sub-signals
func (p *Predictor) Evaluate(_ context.Context, snapshot *market.Snapshot) (Vote, error) {
	if snapshot.Len() < 30 {
		return Abstain(p.Name(), "insufficient candles for prediction"), nil
	}

	signals := map[string]float64{
		"momentum":       p.momentumSignal(snapshot),
		"mean_reversion": p.meanReversionSignal(snapshot),
		"volume":         p.volumeSignal(snapshot),
		"trend":          p.trendSignal(snapshot),
	}

	p.mu.Lock()
	combined := 0.0
	for name, value := range signals {
		combined += value * p.weights[name]
	}
	p.lastSignals = signals
	p.mu.Unlock()

	confidence := p.agreementConfidence(signals)
	if confidence < p.config.MinConfidence {
		return Abstain(p.Name(), fmt.Sprintf("signal agreement %.2f below floor", confidence)), nil
	}

	direction := DirectionHold
	if combined > 0.08 {
		direction = DirectionCall
	} else if combined < -0.08 {
		direction = DirectionPut
	}
	if direction == DirectionHold {
		return Abstain(p.Name(), "combined signal near zero"), nil
	}

	reasons := make([]string, 0, len(signals))
	for name, value := range signals {
		if math.Abs(value) > 0.2 {
			reasons = append(reasons, fmt.Sprintf("%s signal %.2f", name, value))
		}
	}

	p.stats.mu.Lock()
	p.stats.TotalPredictions++
	p.stats.mu.Unlock()

	return Vote{
		Source:     p.Name(),
		Direction:  direction,
		Confidence: confidence,
		Reasons:    reasons,
	}, nil
}

// momentumSignal maps recent price momentum to [-1, 1]
func (p *Predictor) momentumSignal(snapshot *market.Snapshot) float64 {
	mom := snapshot.Indicators["momentum"]
	atr := snapshot.Indicators["atr"]
	price := snapshot.LastClose()
	if price == 0 || atr == 0 {
		return 0
	}
	// Scale momentum by volatility so quiet and wild markets compare
	return clamp(mom*price/(atr*5), -1, 1)
}

// meanReversionSignal favors fading band extremes
func (p *Predictor) meanReversionSignal(snapshot *market.Snapshot) float64 {
	bbPos := snapshot.Indicators["bb_position"]
	rsi := snapshot.Indicators["rsi"]

	signal := 0.0
	if bbPos < 0.1 {
		signal += 0.6
	} else if bbPos > 0.9 {
		signal -= 0.6
	}
	if rsi < 25 {
		signal += 0.4
	} else if rsi > 75 {
		signal -= 0.4
	}
	return clamp(signal, -1, 1)
}

// volumeSignal confirms the last candle's direction on elevated volume
func (p *Predictor) volumeSignal(snapshot *market.Snapshot) float64 {
	avgVol := snapshot.Indicators["avg_volume"]
	last := snapshot.Last()
	if avgVol == 0 {
		return 0
	}

	ratio := last.Volume / avgVol
	if ratio < 1.2 {
		return 0
	}
	strength := clamp((ratio-1.0)/2.0, 0, 1)
	if last.Bearish() {
		return -strength
	}
	return strength
}

// trendSignal follows the SMA regime
func (p *Predictor) trendSignal(snapshot *market.Snapshot) float64 {
	sma20 := snapshot.Indicators["sma_20"]
	sma50 := snapshot.Indicators["sma_50"]
	if sma50 == 0 {
		return 0
	}
	return clamp((sma20-sma50)/sma50*200, -1, 1)
}

// agreementConfidence measures how strongly the sub-signals agree in sign
func (p *Predictor) agreementConfidence(signals map[string]float64) float64 {
	positive, negative, active := 0, 0, 0
	strength := 0.0
	for _, v := range signals {
		if math.Abs(v) < 0.05 {
			continue
		}
		active++
		strength += math.Abs(v)
		if v > 0 {
			positive++
		} else {
			negative++
		}
	}
	if active == 0 {
		return 0
	}

	agreement := float64(maxInt(positive, negative)) / float64(active)
	avgStrength := strength / float64(active)
	return clamp(agreement*0.7+avgStrength*0.3, 0, 1)
}

// RecordOutcome nudges the weights toward sub-signals that agreed with a
// winning trade and away from those that agreed with a losing one
func (p *Predictor) RecordOutcome(outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	direction := 1.0
	if outcome.Action == 0 {
		direction = -1.0
	}

	for name, value := range p.lastSignals {
		agreed := value*direction > 0
		delta := p.config.LearningRate
		if outcome.Reward <= 0 {
			delta = -delta
		}
		if agreed {
			p.weights[name] += delta
		} else {
			p.weights[name] -= delta
		}
		p.weights[name] = clamp(p.weights[name], 0.05, 0.60)
	}
	p.normalizeWeights()

	p.stats.mu.Lock()
	if outcome.Reward > 0 {
		p.stats.CorrectPredictions++
	}
	p.stats.mu.Unlock()
}

// Retrain rebuilds the weights from a batch of settled outcomes. It is a
// full recompute: each sub-signal weight becomes proportional to how often
// a trade in that sub-signal's favored direction won. Returns an error when
// the batch is too small to trust.
func (p *Predictor) Retrain(outcomes []Outcome) error {
	if len(outcomes) < 10 {
		return fmt.Errorf("retrain batch too small: %d outcomes", len(outcomes))
	}

	wins := 0
	for _, o := range outcomes {
		if o.Reward > 0 {
			wins++
		}
	}
	winRate := float64(wins) / float64(len(outcomes))

	p.mu.Lock()
	defer p.mu.Unlock()

	// Blend current weights toward defaults scaled by realized edge.
	// A poor batch pulls weights back to the conservative defaults; a
	// strong one leaves the learned weights mostly intact.
	blend := clamp((winRate-0.40)/0.30, 0, 1)
	defaults := DefaultPredictorConfig()
	base := map[string]float64{
		"momentum":       defaults.MomentumWeight,
		"mean_reversion": defaults.MeanReversionWeight,
		"volume":         defaults.VolumeWeight,
		"trend":          defaults.TrendWeight,
	}
	for name := range p.weights {
		p.weights[name] = p.weights[name]*blend + base[name]*(1-blend)
	}
	p.normalizeWeights()

	p.retrainedAt = time.Now()
	p.generation++
	return nil
}

func (p *Predictor) normalizeWeights() {
	total := 0.0
	for _, w := range p.weights {
		total += w
	}
	if total == 0 {
		return
	}
	for name := range p.weights {
		p.weights[name] /= total
	}
}

// GetStats returns predictor statistics
func (p *Predictor) GetStats() map[string]interface{} {
	p.mu.RLock()
	weights := make(map[string]float64, len(p.weights))
	for k, v := range p.weights {
		weights[k] = v
	}
	generation := p.generation
	retrainedAt := p.retrainedAt
	p.mu.RUnlock()

	p.stats.mu.RLock()
	total := p.stats.TotalPredictions
	correct := p.stats.CorrectPredictions
	p.stats.mu.RUnlock()

	accuracy := 0.0
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}

	return map[string]interface{}{
		"total_predictions":   total,
		"correct_predictions": correct,
		"accuracy":            accuracy,
		"weights":             weights,
		"generation":          generation,
		"retrained_at":        retrainedAt,
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
