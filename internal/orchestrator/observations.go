package orchestrator

import (
	"context"
	"time"

	"binary-options-bot/internal/broker"
	"binary-options-bot/internal/events"
	"binary-options-bot/internal/signal"

	"github.com/google/uuid"
)

// Observation is a shadow trade: a rejected candidate tracked to its
// would-be expiry so the learner sees what trading it would have earned.
type Observation struct {
	ID         string           `json:"id"`
	Asset      string           `json:"asset"`
	Direction  signal.Direction `json:"direction"`
	Confidence float64          `json:"confidence"`
	EntryPrice float64          `json:"entry_price"`
	ExpiresAt  time.Time        `json:"expires_at"`
	intent     TradeIntent
}

// maybeObserve tracks a rejected candidate as a shadow trade when its
// confidence clears the observation floor.
func (c *Controller) maybeObserve(cand *candidate) {
	if cand.confidence < c.config.ObservationFloor {
		return
	}
	if cand.direction == signal.DirectionHold {
		return
	}

	now := time.Now()
	intent := TradeIntent{
		ID:                uuid.New().String(),
		Asset:             cand.asset,
		Direction:         cand.direction,
		Stake:             c.riskMgr.Stake(),
		ExpirationMinutes: c.config.ExpirationMinutes,
		EntryPrice:        cand.snapshot.LastClose(),
		Confidence:        cand.confidence,
		Snapshot:          cand.snapshot,
	}
	obs := &Observation{
		ID:         intent.ID,
		Asset:      intent.Asset,
		Direction:  intent.Direction,
		Confidence: intent.Confidence,
		EntryPrice: intent.EntryPrice,
		ExpiresAt:  now.Add(time.Duration(intent.ExpirationMinutes)*time.Minute + c.config.SettleGrace),
		intent:     intent,
	}

	c.mu.Lock()
	c.observations = append(c.observations, obs)
	c.mu.Unlock()

	c.bus.Publish(events.Event{
		Type:      events.EventObservationOpened,
		Timestamp: now,
		Data: map[string]interface{}{
			"asset":      obs.Asset,
			"direction":  string(obs.Direction),
			"confidence": obs.Confidence,
		},
	})
	c.logger.Debug("Observation opened", "asset", obs.Asset, "direction", string(obs.Direction), "confidence", obs.Confidence)
}

// resolveObservations settles expired observations against the market and
// feeds them to the learner as shadow experiences.
func (c *Controller) resolveObservations(ctx context.Context) {
	c.mu.Lock()
	now := time.Now()
	var due []*Observation
	var remaining []*Observation
	for _, obs := range c.observations {
		if now.After(obs.ExpiresAt) {
			due = append(due, obs)
		} else {
			remaining = append(remaining, obs)
		}
	}
	c.observations = remaining
	c.mu.Unlock()

	for _, obs := range due {
		c.resolveObservation(ctx, obs)
	}
}

func (c *Controller) resolveObservation(ctx context.Context, obs *Observation) {
	snapshot, err := c.gateway.GetCandles(ctx, obs.Asset, c.config.TimeframeSec, 5)
	if err != nil || snapshot.Len() == 0 {
		c.logger.Debug("Observation dropped, no price", "asset", obs.Asset)
		return
	}

	last := snapshot.LastClose()
	var won bool
	switch obs.Direction {
	case signal.DirectionCall:
		won = last > obs.EntryPrice
	case signal.DirectionPut:
		won = last < obs.EntryPrice
	}
	if last == obs.EntryPrice {
		return // tie carries no learning signal
	}

	profit := -obs.intent.Stake
	status := broker.StatusLoss
	if won {
		profit = obs.intent.Stake * c.config.Payout
		status = broker.StatusWin
	}

	shadow := &ActiveTrade{
		OrderID:   obs.ID,
		Intent:    obs.intent,
		EntryTime: obs.ExpiresAt.Add(-time.Duration(obs.intent.ExpirationMinutes)*time.Minute - c.config.SettleGrace),
		SettleAt:  obs.ExpiresAt,
	}
	c.recordOutcome(ctx, shadow, won, status, profit, true, true)
	c.logger.Debug("Observation resolved", "asset", obs.Asset, "won", won, "reward", profit)
}

func eventApproved(asset, direction string, confidence float64) events.Event {
	return events.Event{
		Type:      events.EventDecisionApproved,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"asset":      asset,
			"direction":  direction,
			"confidence": confidence,
		},
	}
}
