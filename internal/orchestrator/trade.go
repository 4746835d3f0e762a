package orchestrator

import (
	"context"
	"time"

	"binary-options-bot/internal/broker"
	"binary-options-bot/internal/database"
	"binary-options-bot/internal/learning"
	"binary-options-bot/internal/market"
	"binary-options-bot/internal/risk"
	"binary-options-bot/internal/signal"

	"github.com/google/uuid"
)

// TradeIntent is a fully validated decision ready for execution
type TradeIntent struct {
	ID                string           `json:"id"`
	Asset             string           `json:"asset"`
	Direction         signal.Direction `json:"direction"`
	Stake             float64          `json:"stake"`
	ExpirationMinutes int              `json:"expiration_minutes"`
	EntryPrice        float64          `json:"entry_price"`
	Confidence        float64          `json:"confidence"`
	Snapshot          *market.Snapshot `json:"-"`
}

// ActiveTrade is an executed intent awaiting settlement. The orchestrator
// holds at most one per asset.
type ActiveTrade struct {
	OrderID        string      `json:"order_id"`
	Intent         TradeIntent `json:"intent"`
	EntryTime      time.Time   `json:"entry_time"`
	SettleAt       time.Time   `json:"settle_at"`
	MartingaleStep int         `json:"martingale_step"`
}

// candidate is a directional read on one asset before validation
type candidate struct {
	asset      string
	direction  signal.Direction
	snapshot   *market.Snapshot
	votes      []signal.Vote
	confidence float64
	approved   bool
}

// scan evaluates every eligible asset and executes the best approved
// candidate. Rejected candidates above the observation floor become
// shadow observations.
func (c *Controller) scan(ctx context.Context) {
	c.setPhase(PhaseScanning)

	var best *candidate
	for _, asset := range c.config.Assets {
		if ok, reason := c.entryAllowed(asset); !ok {
			c.logger.Debug("Asset skipped", "asset", asset, "reason", reason)
			continue
		}

		cand := c.evaluateAsset(ctx, asset)
		if cand == nil {
			continue
		}
		if !cand.approved {
			c.maybeObserve(cand)
			continue
		}
		if best == nil || cand.confidence > best.confidence {
			best = cand
		}
	}

	if best == nil {
		return
	}

	c.setPhase(PhaseCandidateFound)
	c.execute(ctx, best)
}

// evaluateAsset collects votes for one asset and runs them through the
// validation pipeline. Returns nil when there is nothing directional.
func (c *Controller) evaluateAsset(ctx context.Context, asset string) *candidate {
	snapshot, err := c.gateway.GetCandles(ctx, asset, c.config.TimeframeSec, c.config.CandleCount)
	if err != nil {
		c.logger.Warn("Candle fetch failed", "asset", asset, "error", err)
		return nil
	}

	votes := signal.Collect(ctx, c.sources, snapshot)

	var callWeight, putWeight float64
	for _, v := range votes {
		switch v.Direction {
		case signal.DirectionCall:
			callWeight += v.Confidence
		case signal.DirectionPut:
			putWeight += v.Confidence
		}
	}
	if callWeight == 0 && putWeight == 0 {
		return nil
	}

	direction := signal.DirectionCall
	if putWeight > callWeight {
		direction = signal.DirectionPut
	}

	c.setPhase(PhaseValidating)
	result := c.validator.Validate(snapshot, direction, votes)
	if !result.Approved {
		c.bus.PublishDecisionRejected(asset, result.Stage, firstOrEmpty(result.Reasons), result.Confidence)
	} else {
		c.bus.Publish(eventApproved(asset, string(direction), result.Confidence))
	}

	return &candidate{
		asset:      asset,
		direction:  direction,
		snapshot:   snapshot,
		votes:      votes,
		confidence: result.Confidence,
		approved:   result.Approved,
	}
}

// entryAllowed applies the orchestrator-level gates before any market
// evaluation work is spent on an asset.
func (c *Controller) entryAllowed(asset string) (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, open := c.active[asset]; open {
		return false, "trade already open"
	}
	if c.entryClaims[asset] {
		return false, "entry already in flight"
	}
	if until, ok := c.cooldownUntil[asset]; ok && time.Now().Before(until) {
		return false, "asset in cooldown"
	}
	if time.Since(c.lastTradeTime) < c.config.MinTimeBetweenTrades {
		return false, "too soon after last trade"
	}
	if c.hourlyCapReachedLocked(time.Now()) {
		return false, "hourly trade cap reached"
	}
	return true, ""
}

func (c *Controller) hourlyCapReachedLocked(now time.Time) bool {
	hour := now.Truncate(time.Hour)
	if hour.After(c.hourStart) {
		return false // counter resets lazily on record
	}
	return c.tradesThisHour >= c.config.HourlyTradeCap
}

// execute applies risk gating and submits the order. The asset slot is
// claimed up front so racing candidates cannot both reach the broker.
func (c *Controller) execute(ctx context.Context, cand *candidate) {
	c.setPhase(PhaseExecuting)

	c.mu.Lock()
	if _, open := c.active[cand.asset]; open || c.entryClaims[cand.asset] {
		c.mu.Unlock()
		c.logger.Debug("Entry already claimed", "asset", cand.asset)
		c.setPhase(PhaseScanning)
		return
	}
	c.entryClaims[cand.asset] = true
	balance := c.balance
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.entryClaims, cand.asset)
		c.mu.Unlock()
	}()

	if ok, reason := c.riskMgr.CanTrade(balance); !ok {
		c.logger.Warn("Risk manager blocked entry", "asset", cand.asset, "reason", reason)
		c.setPhase(PhaseScanning)
		return
	}
	if ok, reason := c.adaptive.ShouldAllowTrade(cand.asset); !ok {
		c.logger.Info("Performance gate blocked entry", "asset", cand.asset, "reason", reason)
		c.setPhase(PhaseScanning)
		return
	}

	stake := c.riskMgr.Stake()
	step := c.riskMgr.ConsecutiveLosses()

	intent := TradeIntent{
		ID:                uuid.New().String(),
		Asset:             cand.asset,
		Direction:         cand.direction,
		Stake:             stake,
		ExpirationMinutes: c.config.ExpirationMinutes,
		EntryPrice:        cand.snapshot.LastClose(),
		Confidence:        cand.confidence,
		Snapshot:          cand.snapshot,
	}

	orderID, err := c.gateway.Buy(ctx, stake, intent.Asset, intent.Direction, intent.ExpirationMinutes)
	if err != nil {
		c.logger.Error("Order submission failed", "asset", intent.Asset, "error", err)
		c.bus.PublishError("orchestrator", "order submission failed: "+err.Error())
		c.setPhase(PhaseScanning)
		return
	}

	now := time.Now()
	trade := &ActiveTrade{
		OrderID:        orderID,
		Intent:         intent,
		EntryTime:      now,
		SettleAt:       now.Add(time.Duration(intent.ExpirationMinutes)*time.Minute + c.config.SettleGrace),
		MartingaleStep: step,
	}

	c.mu.Lock()
	c.active[intent.Asset] = trade
	c.lastTradeTime = now
	hour := now.Truncate(time.Hour)
	if hour.After(c.hourStart) {
		c.hourStart = hour
		c.tradesThisHour = 0
	}
	c.tradesThisHour++
	c.mu.Unlock()

	c.bus.PublishTradeOpened(intent.Asset, string(intent.Direction), orderID, stake)
	c.logger.Info("Trade opened",
		"asset", intent.Asset,
		"direction", string(intent.Direction),
		"stake", stake,
		"confidence", intent.Confidence,
		"order_id", orderID)

	c.persistOpen(trade)
	c.setPhase(PhaseMonitoring)
}

// settleDue settles every active trade past its settle time
func (c *Controller) settleDue(ctx context.Context) {
	c.mu.RLock()
	var due []*ActiveTrade
	now := time.Now()
	for _, trade := range c.active {
		if now.After(trade.SettleAt) {
			due = append(due, trade)
		}
	}
	c.mu.RUnlock()

	for _, trade := range due {
		c.settle(ctx, trade)
	}
}

// settle resolves one trade: polls the broker with retries, falls back to
// a price-based estimate, then feeds the outcome into risk, performance
// and learning.
func (c *Controller) settle(ctx context.Context, trade *ActiveTrade) {
	c.setPhase(PhaseSettling)
	defer c.setPhase(PhaseScanning)

	status, profit, estimated := c.resolveResult(ctx, trade)
	if status == broker.StatusPending {
		return // broker still settling, retry next tick
	}

	c.mu.Lock()
	delete(c.active, trade.Intent.Asset)
	c.mu.Unlock()

	win := status == broker.StatusWin
	c.recordOutcome(ctx, trade, win, status, profit, estimated, false)
}

// resolveResult polls CheckResult with retries, then estimates from price
// when the broker will not answer.
func (c *Controller) resolveResult(ctx context.Context, trade *ActiveTrade) (status string, profit float64, estimated bool) {
	timeoutSec := int(c.config.SettleRetryDelay / time.Second)
	for attempt := 0; attempt < c.config.SettleRetries; attempt++ {
		status, profit, err := c.gateway.CheckResult(ctx, trade.OrderID, timeoutSec)
		if err == nil && status != broker.StatusPending {
			return status, profit, false
		}
		if err != nil {
			c.logger.Warn("Result check failed",
				"order_id", trade.OrderID,
				"attempt", attempt+1,
				"error", err)
		}
		select {
		case <-c.stopChan:
			return broker.StatusPending, 0, false
		case <-time.After(c.config.SettleRetryDelay):
		}
	}

	return c.estimateResult(ctx, trade)
}

// estimateResult decides the outcome from the last traded price when the
// broker result is unreachable.
func (c *Controller) estimateResult(ctx context.Context, trade *ActiveTrade) (string, float64, bool) {
	snapshot, err := c.gateway.GetCandles(ctx, trade.Intent.Asset, c.config.TimeframeSec, 5)
	if err != nil || snapshot.Len() == 0 {
		c.logger.Error("Price estimate unavailable, counting as loss", "order_id", trade.OrderID)
		return broker.StatusLoss, -trade.Intent.Stake, true
	}

	last := snapshot.LastClose()
	entry := trade.Intent.EntryPrice
	var won bool
	switch trade.Intent.Direction {
	case signal.DirectionCall:
		won = last > entry
	case signal.DirectionPut:
		won = last < entry
	}
	if last == entry {
		return broker.StatusTie, 0, true
	}
	if won {
		return broker.StatusWin, trade.Intent.Stake * c.config.Payout, true
	}
	return broker.StatusLoss, -trade.Intent.Stake, true
}

// recordOutcome feeds a settled trade (or resolved observation) into every
// downstream consumer.
func (c *Controller) recordOutcome(ctx context.Context, trade *ActiveTrade, win bool, status string, profit float64, estimated, shadow bool) {
	asset := trade.Intent.Asset
	tie := status == broker.StatusTie

	if !shadow {
		switch {
		case tie:
			// A refunded stake is neither a win nor a loss: it only ends
			// any running martingale sequence. No window, streak or
			// cooldown accounting.
			c.riskMgr.RecordTie()
		default:
			var analysis *risk.LossAnalysis
			if !win && status == broker.StatusLoss {
				analysis = c.analyzeLoss(ctx, trade, profit)
			}
			c.riskMgr.UpdateResult(profit, analysis)
			c.adaptive.RecordTrade(asset, trade.EntryTime, win, profit)
			c.applyAssetStreak(asset, win)
		}
	}

	if !tie {
		exp := learning.Experience{
			Asset:     asset,
			State:     trade.Intent.Snapshot.StateVector(),
			Action:    actionOf(trade.Intent.Direction),
			Reward:    profit,
			NextState: c.nextState(ctx, asset, trade.Intent.Snapshot),
			Done:      true,
			Shadow:    shadow,
			Timestamp: time.Now(),
			Metadata: map[string]interface{}{
				"confidence": trade.Intent.Confidence,
				"estimated":  estimated,
			},
		}
		c.learner.OnExperience(exp)
		c.persistExperience(exp)
	}

	if !shadow {
		c.bus.PublishTradeSettled(asset, trade.OrderID, profit, win, estimated)
		c.logger.Info("Trade settled",
			"asset", asset,
			"order_id", trade.OrderID,
			"status", status,
			"profit", profit,
			"estimated", estimated)
		c.persistSettlement(trade, status, profit, estimated)
		c.refreshBalance(ctx)
	}
}

// analyzeLoss fetches post-entry candles and classifies the loss so the
// martingale decision has context.
func (c *Controller) analyzeLoss(ctx context.Context, trade *ActiveTrade, profit float64) *risk.LossAnalysis {
	snapshot, err := c.gateway.GetCandles(ctx, trade.Intent.Asset, c.config.TimeframeSec, trade.Intent.ExpirationMinutes+2)
	var post []market.Candle
	if err == nil {
		post = snapshot.Candles
	}
	return c.analyzer.Analyze(trade.Intent.Snapshot, post, trade.Intent.Direction, profit)
}

// applyAssetStreak tracks consecutive losses per asset and applies the
// doubling cooldown once they accumulate.
func (c *Controller) applyAssetStreak(asset string, win bool) {
	c.mu.Lock()
	if win {
		c.assetLossStreak[asset] = 0
		c.mu.Unlock()
		return
	}

	c.assetLossStreak[asset]++
	streak := c.assetLossStreak[asset]

	cooldown := c.config.CooldownBase
	if streak >= 2 {
		for i := 1; i < streak; i++ {
			cooldown *= 2
			if cooldown >= c.config.CooldownMax {
				cooldown = c.config.CooldownMax
				break
			}
		}
	}
	until := time.Now().Add(cooldown)
	c.cooldownUntil[asset] = until
	c.mu.Unlock()

	c.setPhase(PhaseCooldown)
	if streak >= 2 {
		c.bus.PublishAssetPaused(asset, "consecutive losses", until)
		c.logger.Warn("Asset cooldown extended", "asset", asset, "streak", streak, "until", until)
	}
}

// nextState fetches a fresh snapshot for the experience's next-state
// vector, falling back to the entry state when the fetch fails.
func (c *Controller) nextState(ctx context.Context, asset string, entry *market.Snapshot) []float64 {
	snapshot, err := c.gateway.GetCandles(ctx, asset, c.config.TimeframeSec, c.config.CandleCount)
	if err != nil {
		return entry.StateVector()
	}
	return snapshot.StateVector()
}

func (c *Controller) persistOpen(trade *ActiveTrade) {
	if c.store == nil {
		return
	}
	record := &database.TradeRecord{
		OrderID:           trade.OrderID,
		Asset:             trade.Intent.Asset,
		Direction:         string(trade.Intent.Direction),
		Stake:             trade.Intent.Stake,
		EntryPrice:        trade.Intent.EntryPrice,
		ExpirationMinutes: trade.Intent.ExpirationMinutes,
		Confidence:        trade.Intent.Confidence,
		EntryTime:         trade.EntryTime,
		Status:            database.TradeStatusOpen,
		MartingaleStep:    trade.MartingaleStep,
	}
	c.pool.Submit("persist-open", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.CreateTrade(ctx, record); err != nil {
			c.logger.Error("Trade persistence failed", "order_id", record.OrderID, "error", err)
		}
	})
}

func (c *Controller) persistSettlement(trade *ActiveTrade, status string, profit float64, estimated bool) {
	if c.store == nil {
		return
	}
	dbStatus := database.TradeStatusLost
	switch status {
	case broker.StatusWin:
		dbStatus = database.TradeStatusWon
	case broker.StatusTie:
		dbStatus = database.TradeStatusTied
	}
	orderID := trade.OrderID
	c.pool.Submit("persist-settle", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.SettleTrade(ctx, orderID, dbStatus, profit, estimated); err != nil {
			c.logger.Error("Settlement persistence failed", "order_id", orderID, "error", err)
		}
	})
}

func (c *Controller) persistExperience(exp learning.Experience) {
	if c.store == nil {
		return
	}
	record := &database.ExperienceRecord{
		Asset:     exp.Asset,
		State:     exp.State,
		Action:    exp.Action,
		Reward:    exp.Reward,
		NextState: exp.NextState,
		Shadow:    exp.Shadow,
		Metadata:  exp.Metadata,
		CreatedAt: exp.Timestamp,
	}
	c.pool.Submit("persist-experience", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.AppendExperience(ctx, record); err != nil {
			c.logger.Error("Experience persistence failed", "asset", record.Asset, "error", err)
		}
	})
}

func actionOf(d signal.Direction) int {
	if d == signal.DirectionCall {
		return 1
	}
	return 0
}

func firstOrEmpty(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	return reasons[0]
}
