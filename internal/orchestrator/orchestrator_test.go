package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"binary-options-bot/internal/adaptive"
	"binary-options-bot/internal/broker"
	"binary-options-bot/internal/events"
	"binary-options-bot/internal/learning"
	"binary-options-bot/internal/market"
	"binary-options-bot/internal/risk"
	"binary-options-bot/internal/signal"
	"binary-options-bot/internal/validator"
)

// fakeGateway is a scriptable broker for controller tests
type fakeGateway struct {
	mu        sync.Mutex
	connected bool
	price     float64
	balance   float64
	buyErr    error
	orders    []string
}

func newFakeGateway(price float64) *fakeGateway {
	return &fakeGateway{connected: true, price: price, balance: 100}
}

func (g *fakeGateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	return nil
}

func (g *fakeGateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGateway) GetCandles(ctx context.Context, asset string, timeframeSec, count int) (*market.Snapshot, error) {
	g.mu.Lock()
	price := g.price
	g.mu.Unlock()
	if price <= 0 {
		return nil, errors.New("no data")
	}
	candles := make([]market.Candle, count)
	for i := range candles {
		candles[i] = market.Candle{
			Open: price, High: price + 0.0005, Low: price - 0.0005, Close: price,
			Volume: 100, Timestamp: time.Unix(int64(i*timeframeSec), 0),
		}
	}
	return market.NewSnapshot(asset, candles), nil
}

func (g *fakeGateway) GetBalance(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

func (g *fakeGateway) Buy(ctx context.Context, amount float64, asset string, direction signal.Direction, expirationMinutes int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.buyErr != nil {
		return "", g.buyErr
	}
	id := "order-1"
	g.orders = append(g.orders, id)
	return id, nil
}

func (g *fakeGateway) CheckResult(ctx context.Context, orderID string, timeout int) (string, float64, error) {
	return broker.StatusPending, 0, broker.ErrTimeout
}

func (g *fakeGateway) setPrice(p float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.price = p
}

// testController wires a controller with in-memory collaborators
func testController(t *testing.T, gw *fakeGateway) *Controller {
	t.Helper()
	buffer := learning.NewBuffer(100)
	learner := learning.NewLearner(&learning.Config{
		EvalCadence:    1000,
		RetrainCadence: 1000,
		TrailingWindow: 20,
		ShortWindow:    10,
		LongWindow:     50,
		UrgentStreak:   1000,
		PauseStreakCap: 1000,
	}, buffer, nil, nil, nil)

	cfg := DefaultConfig()
	cfg.Assets = []string{"EURUSD"}
	cfg.SettleRetries = 1
	cfg.SettleRetryDelay = time.Millisecond

	adaptiveMgr := adaptive.NewManager(nil, nil, nil)
	c := NewController(cfg, Deps{
		Gateway:   gw,
		Validator: validator.New(nil, nil, nil, adaptiveMgr, nil),
		Risk:      risk.NewManager(nil, nil),
		Analyzer:  risk.NewAnalyzer(),
		Adaptive:  adaptiveMgr,
		Learner:   learner,
		Buffer:    buffer,
		Bus:       events.NewBus(),
	})
	c.stopChan = make(chan struct{})
	return c
}

// TestEntryAllowedOneTradePerAsset verifies the single-open-trade invariant
func TestEntryAllowedOneTradePerAsset(t *testing.T) {
	c := testController(t, newFakeGateway(1.1))
	c.lastTradeTime = time.Now().Add(-time.Hour)

	if ok, reason := c.entryAllowed("EURUSD"); !ok {
		t.Fatalf("fresh asset should be tradable: %s", reason)
	}

	c.active["EURUSD"] = &ActiveTrade{OrderID: "x"}
	if ok, _ := c.entryAllowed("EURUSD"); ok {
		t.Error("asset with an open trade must be blocked")
	}
	if ok, reason := c.entryAllowed("GBPUSD"); !ok {
		t.Errorf("other assets stay tradable: %s", reason)
	}
}

// TestExecuteSingleEntryUnderConcurrency hammers execute with racing
// candidates for one asset; exactly one may reach the broker
func TestExecuteSingleEntryUnderConcurrency(t *testing.T) {
	gw := newFakeGateway(1.1)
	c := testController(t, gw)
	c.balance = 100
	c.lastTradeTime = time.Now().Add(-time.Hour)

	snapshot, _ := gw.GetCandles(context.Background(), "EURUSD", 60, 60)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cand := &candidate{
				asset:      "EURUSD",
				direction:  signal.DirectionCall,
				snapshot:   snapshot,
				confidence: 0.8,
				approved:   true,
			}
			c.execute(context.Background(), cand)
		}()
	}
	wg.Wait()

	gw.mu.Lock()
	orders := len(gw.orders)
	gw.mu.Unlock()
	if orders != 1 {
		t.Errorf("broker received %d orders, want exactly 1", orders)
	}

	c.mu.RLock()
	open := len(c.active)
	claims := len(c.entryClaims)
	trades := c.tradesThisHour
	c.mu.RUnlock()
	if open != 1 {
		t.Errorf("open trades = %d, want exactly 1", open)
	}
	if claims != 0 {
		t.Errorf("entry claims = %d left behind, want 0", claims)
	}
	if trades != 1 {
		t.Errorf("hourly counter = %d, want 1", trades)
	}

	if ok, _ := c.entryAllowed("EURUSD"); ok {
		t.Error("asset with an open trade must stay blocked")
	}
}

// TestEntryAllowedCooldown verifies the per-asset cooldown gate
func TestEntryAllowedCooldown(t *testing.T) {
	c := testController(t, newFakeGateway(1.1))
	c.lastTradeTime = time.Now().Add(-time.Hour)

	c.cooldownUntil["EURUSD"] = time.Now().Add(time.Minute)
	if ok, _ := c.entryAllowed("EURUSD"); ok {
		t.Error("asset in cooldown must be blocked")
	}

	c.cooldownUntil["EURUSD"] = time.Now().Add(-time.Second)
	if ok, reason := c.entryAllowed("EURUSD"); !ok {
		t.Errorf("expired cooldown should clear: %s", reason)
	}
}

// TestEntryAllowedPacing verifies the minimum gap between trades
func TestEntryAllowedPacing(t *testing.T) {
	c := testController(t, newFakeGateway(1.1))

	c.lastTradeTime = time.Now().Add(-10 * time.Second)
	if ok, _ := c.entryAllowed("EURUSD"); ok {
		t.Error("entry 10s after the last trade must be blocked at a 45s gap")
	}

	c.lastTradeTime = time.Now().Add(-time.Minute)
	if ok, reason := c.entryAllowed("EURUSD"); !ok {
		t.Errorf("entry after the gap should pass: %s", reason)
	}
}

// TestEntryAllowedHourlyCap verifies the hourly trade budget
func TestEntryAllowedHourlyCap(t *testing.T) {
	c := testController(t, newFakeGateway(1.1))
	c.lastTradeTime = time.Now().Add(-time.Hour)

	c.hourStart = time.Now().Truncate(time.Hour)
	c.tradesThisHour = c.config.HourlyTradeCap
	if ok, _ := c.entryAllowed("EURUSD"); ok {
		t.Error("hourly cap must block entries")
	}

	// A stale hour counter no longer binds
	c.hourStart = time.Now().Truncate(time.Hour).Add(-time.Hour)
	if ok, reason := c.entryAllowed("EURUSD"); !ok {
		t.Errorf("previous hour's counter should not bind: %s", reason)
	}
}

// TestApplyAssetStreakCooldownDoubling verifies the cooldown grows with
// consecutive losses and a win clears the streak
func TestApplyAssetStreakCooldownDoubling(t *testing.T) {
	c := testController(t, newFakeGateway(1.1))

	c.applyAssetStreak("EURUSD", false)
	first := time.Until(c.cooldownUntil["EURUSD"])
	if first > c.config.CooldownBase || first < c.config.CooldownBase-5*time.Second {
		t.Errorf("first loss cooldown = %v, want ~%v", first, c.config.CooldownBase)
	}

	c.applyAssetStreak("EURUSD", false)
	second := time.Until(c.cooldownUntil["EURUSD"])
	if second < 2*c.config.CooldownBase-5*time.Second {
		t.Errorf("second loss cooldown = %v, want ~%v", second, 2*c.config.CooldownBase)
	}

	c.applyAssetStreak("EURUSD", true)
	if c.assetLossStreak["EURUSD"] != 0 {
		t.Error("a win must clear the loss streak")
	}
}

// TestApplyAssetStreakCapped verifies the cooldown never exceeds its cap
func TestApplyAssetStreakCapped(t *testing.T) {
	c := testController(t, newFakeGateway(1.1))

	for i := 0; i < 12; i++ {
		c.applyAssetStreak("EURUSD", false)
	}
	got := time.Until(c.cooldownUntil["EURUSD"])
	if got > c.config.CooldownMax {
		t.Errorf("cooldown = %v exceeds cap %v", got, c.config.CooldownMax)
	}
}

// TestAssetPausedEventPublished verifies repeated losses announce the pause
func TestAssetPausedEventPublished(t *testing.T) {
	c := testController(t, newFakeGateway(1.1))

	paused := make(chan events.Event, 4)
	c.bus.Subscribe(events.EventAssetPaused, func(e events.Event) { paused <- e })

	c.applyAssetStreak("EURUSD", false)
	c.applyAssetStreak("EURUSD", false)

	select {
	case e := <-paused:
		if e.Data["asset"] != "EURUSD" {
			t.Errorf("paused asset = %v, want EURUSD", e.Data["asset"])
		}
	case <-time.After(time.Second):
		t.Fatal("second consecutive loss should publish ASSET_PAUSED")
	}
}

// TestEstimateResult verifies price-based settlement when the broker
// result is unreachable
func TestEstimateResult(t *testing.T) {
	gw := newFakeGateway(1.2000)
	c := testController(t, gw)

	trade := &ActiveTrade{
		OrderID: "order-1",
		Intent: TradeIntent{
			Asset:      "EURUSD",
			Direction:  signal.DirectionCall,
			Stake:      2,
			EntryPrice: 1.1000,
		},
	}

	status, profit, estimated := c.estimateResult(context.Background(), trade)
	if status != broker.StatusWin || !estimated {
		t.Errorf("call above entry: status = %v estimated = %v, want WIN/true", status, estimated)
	}
	if profit != 2*c.config.Payout {
		t.Errorf("profit = %v, want %v", profit, 2*c.config.Payout)
	}

	gw.setPrice(1.0500)
	status, profit, _ = c.estimateResult(context.Background(), trade)
	if status != broker.StatusLoss || profit != -2 {
		t.Errorf("call below entry: status = %v profit = %v, want LOSS/-2", status, profit)
	}

	gw.setPrice(1.1000)
	status, profit, _ = c.estimateResult(context.Background(), trade)
	if status != broker.StatusTie || profit != 0 {
		t.Errorf("flat close: status = %v profit = %v, want TIE/0", status, profit)
	}

	gw.setPrice(0) // candle fetch fails
	status, profit, _ = c.estimateResult(context.Background(), trade)
	if status != broker.StatusLoss || profit != -2 {
		t.Errorf("no price data: status = %v profit = %v, want LOSS/-2", status, profit)
	}
}

// TestRecordOutcomeFeedsConsumers verifies a settlement reaches risk,
// performance windows, the learner and the event bus
func TestRecordOutcomeFeedsConsumers(t *testing.T) {
	gw := newFakeGateway(1.2)
	c := testController(t, gw)

	settled := make(chan events.Event, 1)
	c.bus.Subscribe(events.EventTradeSettled, func(e events.Event) { settled <- e })

	snapshot, _ := gw.GetCandles(context.Background(), "EURUSD", 60, 60)
	trade := &ActiveTrade{
		OrderID:   "order-1",
		EntryTime: time.Now(),
		Intent: TradeIntent{
			Asset:      "EURUSD",
			Direction:  signal.DirectionCall,
			Stake:      2,
			EntryPrice: 1.1,
			Confidence: 0.8,
			Snapshot:   snapshot,
		},
	}

	c.recordOutcome(context.Background(), trade, true, broker.StatusWin, 1.7, false, false)

	if c.buffer.Len() != 1 {
		t.Errorf("buffer length = %d, want 1 experience", c.buffer.Len())
	}
	exp := c.buffer.Recent(1)[0]
	if exp.Reward != 1.7 || exp.Action != 1 || exp.Shadow {
		t.Errorf("experience = %+v, want reward 1.7, action 1, live", exp)
	}
	if len(exp.State) != 9 || len(exp.NextState) != 9 {
		t.Errorf("state vectors = %d/%d elements, want 9/9", len(exp.State), len(exp.NextState))
	}

	if w := c.adaptive.AssetWindow("EURUSD"); w.Wins != 1 {
		t.Errorf("performance window wins = %d, want 1", w.Wins)
	}
	if pnl := c.riskMgr.GetState().DailyPnL; pnl != 1.7 {
		t.Errorf("risk daily pnl = %v, want 1.7", pnl)
	}

	select {
	case e := <-settled:
		if e.Data["order_id"] != "order-1" {
			t.Errorf("settled order = %v, want order-1", e.Data["order_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("settlement should publish TRADE_SETTLED")
	}
}

// TestRecordOutcomeShadowSkipsRisk verifies resolved observations train
// the learner without touching money state
func TestRecordOutcomeShadowSkipsRisk(t *testing.T) {
	gw := newFakeGateway(1.2)
	c := testController(t, gw)

	snapshot, _ := gw.GetCandles(context.Background(), "EURUSD", 60, 60)
	trade := &ActiveTrade{
		OrderID:   "obs-1",
		EntryTime: time.Now(),
		Intent: TradeIntent{
			Asset:     "EURUSD",
			Direction: signal.DirectionPut,
			Stake:     2,
			Snapshot:  snapshot,
		},
	}

	c.recordOutcome(context.Background(), trade, false, broker.StatusLoss, -2, true, true)

	if c.buffer.Len() != 1 {
		t.Fatalf("buffer length = %d, want 1", c.buffer.Len())
	}
	if !c.buffer.Recent(1)[0].Shadow {
		t.Error("observation experience must be marked shadow")
	}
	if pnl := c.riskMgr.GetState().DailyPnL; pnl != 0 {
		t.Errorf("shadow outcome changed risk pnl: %v", pnl)
	}
	if w := c.adaptive.AssetWindow("EURUSD"); w.Samples() != 0 {
		t.Errorf("shadow outcome changed performance windows: %+v", w)
	}
}

// TestRecordOutcomeTieIsNeutral verifies a refunded stake counts as
// neither win nor loss: no window, streak or loss accounting, only the
// martingale reset
func TestRecordOutcomeTieIsNeutral(t *testing.T) {
	gw := newFakeGateway(1.1)
	c := testController(t, gw)

	settled := make(chan events.Event, 1)
	c.bus.Subscribe(events.EventTradeSettled, func(e events.Event) { settled <- e })

	// One escalated loss on the books before the tie lands
	c.riskMgr.UpdateResult(-2, &risk.LossAnalysis{Kind: risk.LossTimingMiss, ShouldMartingale: true})
	if s := c.riskMgr.GetState(); s.MartingaleStep != 1 {
		t.Fatalf("martingale step = %d after escalated loss, want 1", s.MartingaleStep)
	}

	snapshot, _ := gw.GetCandles(context.Background(), "EURUSD", 60, 60)
	trade := &ActiveTrade{
		OrderID:   "order-1",
		EntryTime: time.Now(),
		Intent: TradeIntent{
			Asset:      "EURUSD",
			Direction:  signal.DirectionCall,
			Stake:      2,
			EntryPrice: 1.1,
			Confidence: 0.8,
			Snapshot:   snapshot,
		},
	}

	c.recordOutcome(context.Background(), trade, false, broker.StatusTie, 0, true, false)

	if w := c.adaptive.AssetWindow("EURUSD"); w.Samples() != 0 {
		t.Errorf("tie reached performance windows: wins=%d losses=%d", w.Wins, w.Losses)
	}
	if streak := c.assetLossStreak["EURUSD"]; streak != 0 {
		t.Errorf("tie grew the asset loss streak to %d", streak)
	}
	if _, cooling := c.cooldownUntil["EURUSD"]; cooling {
		t.Error("tie must not start a cooldown")
	}
	if c.buffer.Len() != 0 {
		t.Errorf("tie produced %d experiences, want none", c.buffer.Len())
	}

	state := c.riskMgr.GetState()
	if state.ConsecutiveLosses != 1 {
		t.Errorf("consecutive losses = %d after tie, want the prior 1", state.ConsecutiveLosses)
	}
	if state.MartingaleStep != 0 {
		t.Errorf("martingale step = %d after tie, want reset to 0", state.MartingaleStep)
	}
	if state.DailyPnL != -2 {
		t.Errorf("daily pnl = %v after tie, want unchanged -2", state.DailyPnL)
	}

	select {
	case e := <-settled:
		if e.Data["profit"] != 0.0 {
			t.Errorf("settled profit = %v, want 0", e.Data["profit"])
		}
	case <-time.After(time.Second):
		t.Fatal("tie settlement should still publish TRADE_SETTLED")
	}
}

// TestMaybeObserve verifies the observation floor and registration
func TestMaybeObserve(t *testing.T) {
	gw := newFakeGateway(1.1)
	c := testController(t, gw)

	snapshot, _ := gw.GetCandles(context.Background(), "EURUSD", 60, 60)

	c.maybeObserve(&candidate{asset: "EURUSD", direction: signal.DirectionCall, snapshot: snapshot, confidence: 0.3})
	if len(c.observations) != 0 {
		t.Error("confidence below the floor must not be observed")
	}

	c.maybeObserve(&candidate{asset: "EURUSD", direction: signal.DirectionCall, snapshot: snapshot, confidence: 0.55})
	if len(c.observations) != 1 {
		t.Fatal("confidence above the floor should open an observation")
	}
	if c.observations[0].Direction != signal.DirectionCall {
		t.Errorf("observation direction = %v, want CALL", c.observations[0].Direction)
	}
}

// TestResolveObservationWin verifies an expired observation settles
// against the market as a shadow experience
func TestResolveObservationWin(t *testing.T) {
	gw := newFakeGateway(1.1)
	c := testController(t, gw)

	snapshot, _ := gw.GetCandles(context.Background(), "EURUSD", 60, 60)
	c.maybeObserve(&candidate{asset: "EURUSD", direction: signal.DirectionCall, snapshot: snapshot, confidence: 0.55})

	c.mu.Lock()
	c.observations[0].ExpiresAt = time.Now().Add(-time.Second)
	c.mu.Unlock()

	gw.setPrice(1.2) // above the observation entry
	c.resolveObservations(context.Background())

	if len(c.observations) != 0 {
		t.Error("resolved observation should be removed")
	}
	if c.buffer.Len() != 1 {
		t.Fatal("resolved observation should produce one experience")
	}
	exp := c.buffer.Recent(1)[0]
	if !exp.Shadow || exp.Reward <= 0 {
		t.Errorf("experience = %+v, want winning shadow reward", exp)
	}
}

// TestGetStatusShape verifies the dashboard status payload
func TestGetStatusShape(t *testing.T) {
	c := testController(t, newFakeGateway(1.1))
	c.active["EURUSD"] = &ActiveTrade{OrderID: "x", Intent: TradeIntent{Asset: "EURUSD", Direction: signal.DirectionCall, Stake: 2}}

	status := c.GetStatus()
	if status["phase"] != string(PhaseScanning) {
		t.Errorf("phase = %v, want SCANNING", status["phase"])
	}
	actives, ok := status["active_trades"].([]map[string]interface{})
	if !ok || len(actives) != 1 {
		t.Fatalf("active_trades = %v, want one entry", status["active_trades"])
	}
	if actives[0]["asset"] != "EURUSD" {
		t.Errorf("active asset = %v, want EURUSD", actives[0]["asset"])
	}
}
