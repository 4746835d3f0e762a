package signal

import (
	"context"
	"fmt"
	"math"

	"binary-options-bot/internal/market"
)

// ConfluenceConfig holds the indicator weights for the confluence scorer.
// Weights should sum to 1.0.
type ConfluenceConfig struct {
	RSIWeight       float64 `json:"rsi_weight"`
	MACDWeight      float64 `json:"macd_weight"`
	BollingerWeight float64 `json:"bollinger_weight"`
	EMAWeight       float64 `json:"ema_weight"`
	VolumeWeight    float64 `json:"volume_weight"`
	MinScore        float64 `json:"min_score"` // |score| floor below which the scorer abstains
}

// DefaultConfluenceConfig returns default weights
func DefaultConfluenceConfig() *ConfluenceConfig {
	return &ConfluenceConfig{
		RSIWeight:       0.25,
		MACDWeight:      0.25,
		BollingerWeight: 0.20,
		EMAWeight:       0.20,
		VolumeWeight:    0.10,
		MinScore:        0.15,
	}
}

// ConfluenceScorer fuses the standard indicator set into one directional
// score. Positive score favors CALL, negative favors PUT; confidence is
// |score| normalized against the maximum attainable score.
type ConfluenceScorer struct {
	config *ConfluenceConfig
}

// NewConfluenceScorer creates a confluence scorer
func NewConfluenceScorer(config *ConfluenceConfig) *ConfluenceScorer {
	if config == nil {
		config = DefaultConfluenceConfig()
	}
	return &ConfluenceScorer{config: config}
}

func (cs *ConfluenceScorer) Name() string { return "confluence" }

func (cs *ConfluenceScorer) Available() bool { return true }

// SetWeights replaces the indicator weights; they must sum to 1.0
func (cs *ConfluenceScorer) SetWeights(rsi, macd, bollinger, ema, volume float64) error {
	total := rsi + macd + bollinger + ema + volume
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("weights must sum to 1.0, got %.2f", total)
	}
	cs.config.RSIWeight = rsi
	cs.config.MACDWeight = macd
	cs.config.BollingerWeight = bollinger
	cs.config.EMAWeight = ema
	cs.config.VolumeWeight = volume
	return nil
}

// Evaluate scores the snapshot across the five indicator families
func (cs *ConfluenceScorer) Evaluate(_ context.Context, snapshot *market.Snapshot) (Vote, error) {
	if snapshot.Len() < 30 {
		return Abstain(cs.Name(), "insufficient candles for confluence scoring"), nil
	}

	var score float64
	reasons := make([]string, 0, 5)

	// 1. RSI: oversold favors CALL, overbought favors PUT
	rsi := snapshot.Indicators["rsi"]
	switch {
	case rsi < 30:
		score += cs.config.RSIWeight
		reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f)", rsi))
	case rsi > 70:
		score -= cs.config.RSIWeight
		reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f)", rsi))
	case rsi < 42:
		score += cs.config.RSIWeight * 0.5
	case rsi > 58:
		score -= cs.config.RSIWeight * 0.5
	}

	// 2. MACD histogram sign and expansion
	hist := snapshot.Indicators["macd_histogram"]
	if hist > 0 {
		score += cs.config.MACDWeight
		reasons = append(reasons, "MACD histogram positive")
	} else if hist < 0 {
		score -= cs.config.MACDWeight
		reasons = append(reasons, "MACD histogram negative")
	}

	// 3. Bollinger position: band extremes are mean-reversion zones
	bbPos := snapshot.Indicators["bb_position"]
	switch {
	case bbPos < 0.15:
		score += cs.config.BollingerWeight
		reasons = append(reasons, "price at lower band")
	case bbPos > 0.85:
		score -= cs.config.BollingerWeight
		reasons = append(reasons, "price at upper band")
	}

	// 4. EMA alignment
	ema9 := snapshot.Indicators["ema_9"]
	ema21 := snapshot.Indicators["ema_21"]
	price := snapshot.LastClose()
	if ema9 > ema21 && price > ema9 {
		score += cs.config.EMAWeight
		reasons = append(reasons, "price above aligned EMAs")
	} else if ema9 < ema21 && price < ema9 {
		score -= cs.config.EMAWeight
		reasons = append(reasons, "price below aligned EMAs")
	}

	// 5. Volume confirmation in the direction of the last candle
	last := snapshot.Last()
	avgVol := snapshot.Indicators["avg_volume"]
	if avgVol > 0 && last.Volume > avgVol*1.5 {
		if last.Bullish() {
			score += cs.config.VolumeWeight
			reasons = append(reasons, fmt.Sprintf("volume spike %.1fx on up candle", last.Volume/avgVol))
		} else if last.Bearish() {
			score -= cs.config.VolumeWeight
			reasons = append(reasons, fmt.Sprintf("volume spike %.1fx on down candle", last.Volume/avgVol))
		}
	}

	if math.Abs(score) < cs.config.MinScore {
		return Abstain(cs.Name(), fmt.Sprintf("confluence score %.2f below floor", score)), nil
	}

	direction := DirectionCall
	if score < 0 {
		direction = DirectionPut
	}

	maxScore := cs.config.RSIWeight + cs.config.MACDWeight + cs.config.BollingerWeight +
		cs.config.EMAWeight + cs.config.VolumeWeight
	confidence := math.Abs(score) / maxScore
	if confidence > 1 {
		confidence = 1
	}

	return Vote{
		Source:     cs.Name(),
		Direction:  direction,
		Confidence: confidence,
		Reasons:    reasons,
	}, nil
}
