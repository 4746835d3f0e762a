package validator

import (
	"strings"
	"testing"
	"time"

	"binary-options-bot/internal/market"
	"binary-options-bot/internal/signal"
)

// fixedThreshold is a stub threshold provider returning a constant
type fixedThreshold struct {
	value float64
}

func (f fixedThreshold) DynamicConfidenceThreshold() float64 { return f.value }

// panicThreshold simulates a provider failing inside the pipeline
type panicThreshold struct{}

func (panicThreshold) DynamicConfidenceThreshold() float64 { panic("threshold state corrupted") }

// tradableSnapshot builds a snapshot that clears every pipeline gate for
// a CALL: enough candles, live volatility, a pullback followed by a
// bullish impulse, flat highs and lows so no hostile levels form.
func tradableSnapshot() *market.Snapshot {
	candles := make([]market.Candle, 100)
	price := 1.1000
	for i := range candles {
		candles[i] = market.Candle{
			Open:      price,
			High:      1.1010,
			Low:       1.0990,
			Close:     price + 0.0001,
			Volume:    100,
			Timestamp: time.Unix(int64(i*60), 0),
		}
	}
	// Pullback inside the timing window
	for i := 92; i < 97; i++ {
		candles[i].Open = price + 0.0001
		candles[i].Close = price
	}
	// Bullish impulse on the latest candle
	candles[99].Open = price
	candles[99].Close = price + 0.0008

	return &market.Snapshot{
		Asset:   "EURUSD",
		Candles: candles,
		Indicators: map[string]float64{
			"rsi":         52,
			"atr":         0.0008,
			"bb_position": 0.5,
			"avg_volume":  100,
			"momentum":    0.001,
		},
	}
}

func callVotes() []signal.Vote {
	return []signal.Vote{
		{Source: "confluence", Direction: signal.DirectionCall, Confidence: 0.7, Reasons: []string{"momentum aligned"}},
		{Source: "structure", Direction: signal.DirectionCall, Confidence: 0.6, Reasons: []string{"bounce off support"}},
	}
}

// TestValidateApproves verifies the full pipeline approves a clean setup
func TestValidateApproves(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.60}, nil)

	result := v.Validate(tradableSnapshot(), signal.DirectionCall, callVotes())

	if !result.Approved {
		t.Fatalf("expected approval, rejected at stage %q: %v", result.Stage, result.Reasons)
	}
	if result.Stage != "approved" {
		t.Errorf("stage = %q, want approved", result.Stage)
	}
	if result.Direction != signal.DirectionCall {
		t.Errorf("direction = %v, want CALL", result.Direction)
	}
	if result.Confidence < result.Threshold {
		t.Errorf("approved confidence %v below threshold %v", result.Confidence, result.Threshold)
	}
}

// TestValidateRejectsNoDirection verifies HOLD candidates never enter the pipeline
func TestValidateRejectsNoDirection(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.60}, nil)

	result := v.Validate(tradableSnapshot(), signal.DirectionHold, callVotes())
	if result.Approved || result.Stage != "input" {
		t.Errorf("stage = %q, want input rejection", result.Stage)
	}
}

// TestValidateRejectsInsufficientData verifies the sufficiency gate
func TestValidateRejectsInsufficientData(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.60}, nil)

	snapshot := tradableSnapshot()
	snapshot.Candles = snapshot.Candles[:30]

	result := v.Validate(snapshot, signal.DirectionCall, callVotes())
	if result.Approved || result.Stage != "sufficiency" {
		t.Errorf("stage = %q, want sufficiency rejection", result.Stage)
	}
}

// TestValidateRejectsDeadMarket verifies the volatility gate on a flat market
func TestValidateRejectsDeadMarket(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.60}, nil)

	snapshot := tradableSnapshot()
	snapshot.Indicators["atr"] = 0.0000001

	result := v.Validate(snapshot, signal.DirectionCall, callVotes())
	if result.Approved || result.Stage != "volatility" {
		t.Errorf("stage = %q, want volatility rejection", result.Stage)
	}
}

// TestValidateRejectsNoPullback verifies the timing gate
func TestValidateRejectsNoPullback(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.60}, nil)

	snapshot := tradableSnapshot()
	// Make every candle in the timing window bullish, no pullback
	for i := 90; i < 100; i++ {
		snapshot.Candles[i].Open = 1.1000
		snapshot.Candles[i].Close = 1.1002
	}

	result := v.Validate(snapshot, signal.DirectionCall, callVotes())
	if result.Approved || result.Stage != "timing" {
		t.Errorf("stage = %q, want timing rejection", result.Stage)
	}
}

// TestValidateRejectsBandExtreme verifies the structural Bollinger check
func TestValidateRejectsBandExtreme(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.60}, nil)

	snapshot := tradableSnapshot()
	snapshot.Indicators["bb_position"] = 0.97

	result := v.Validate(snapshot, signal.DirectionCall, callVotes())
	if result.Approved || result.Stage != "structure" {
		t.Errorf("stage = %q, want structure rejection", result.Stage)
	}
}

// TestValidateRejectsMomentumConflict verifies the momentum gate
func TestValidateRejectsMomentumConflict(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.60}, nil)

	snapshot := tradableSnapshot()
	// Hard downward closes over the last five candles against a CALL.
	// The last candle stays a bullish impulse so timing still passes.
	for i := 95; i < 99; i++ {
		snapshot.Candles[i].Close = snapshot.Candles[i-1].Close - 0.0020
		snapshot.Candles[i].Open = snapshot.Candles[i].Close + 0.0001
		snapshot.Candles[i].Low = snapshot.Candles[i].Close - 0.0005
	}
	snapshot.Candles[99].Open = snapshot.Candles[98].Close
	snapshot.Candles[99].Close = snapshot.Candles[98].Close + 0.0008

	result := v.Validate(snapshot, signal.DirectionCall, callVotes())
	if result.Approved || result.Stage != "momentum" {
		t.Errorf("stage = %q, want momentum rejection", result.Stage)
	}
}

// TestValidateLearnedRuleRejection verifies a learner-toggled flag rejects
func TestValidateLearnedRuleRejection(t *testing.T) {
	rules := &LearnedRules{}
	rules.Set("avoid_neutral_rsi", true)
	v := New(nil, nil, rules, fixedThreshold{0.60}, nil)

	snapshot := tradableSnapshot()
	snapshot.Indicators["rsi"] = 50

	result := v.Validate(snapshot, signal.DirectionCall, callVotes())
	if result.Approved || result.Stage != "learned" {
		t.Errorf("stage = %q, want learned rejection", result.Stage)
	}

	// Clearing the flag restores approval
	rules.Set("avoid_neutral_rsi", false)
	result = v.Validate(snapshot, signal.DirectionCall, callVotes())
	if !result.Approved {
		t.Errorf("expected approval after clearing rule, rejected at %q", result.Stage)
	}
}

// TestValidateRejectsNoVotes verifies the consensus gate with no directional votes
func TestValidateRejectsNoVotes(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.60}, nil)

	votes := []signal.Vote{signal.Abstain("confluence", "no setup"), signal.Abstain("structure", "")}
	result := v.Validate(tradableSnapshot(), signal.DirectionCall, votes)
	if result.Approved || result.Stage != "consensus" {
		t.Errorf("stage = %q, want consensus rejection", result.Stage)
	}
}

// TestValidateThresholdGate verifies the adaptive threshold is the final gate
func TestValidateThresholdGate(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.99}, nil)

	result := v.Validate(tradableSnapshot(), signal.DirectionCall, callVotes())
	if result.Approved {
		t.Fatal("expected threshold rejection at 0.99")
	}
	if result.Stage != "threshold" {
		t.Errorf("stage = %q, want threshold", result.Stage)
	}
	if result.Confidence <= 0 {
		t.Error("threshold rejection should carry the computed confidence")
	}
	if result.Threshold != 0.99 {
		t.Errorf("threshold = %v, want 0.99", result.Threshold)
	}
}

// TestValidateDissentLowersConfidence verifies opposing votes dilute consensus
func TestValidateDissentLowersConfidence(t *testing.T) {
	v := New(nil, nil, nil, fixedThreshold{0.60}, nil)
	snapshot := tradableSnapshot()

	unanimous := v.Validate(snapshot, signal.DirectionCall, callVotes())

	split := append(callVotes(), signal.Vote{Source: "predictor", Direction: signal.DirectionPut, Confidence: 0.6})
	contested := v.Validate(snapshot, signal.DirectionCall, split)

	if contested.Confidence >= unanimous.Confidence {
		t.Errorf("dissenting vote should lower confidence: %v >= %v", contested.Confidence, unanimous.Confidence)
	}
	if contested.Approved && len(contested.Warnings) == 0 {
		t.Error("dissent should surface as a warning")
	}
}

// TestValidateRecoversFromPanic verifies an internal failure rejects
// instead of crashing the loop
func TestValidateRecoversFromPanic(t *testing.T) {
	v := New(nil, nil, nil, panicThreshold{}, nil)

	result := v.Validate(tradableSnapshot(), signal.DirectionCall, callVotes())
	if result.Approved {
		t.Fatal("panicking stage must never approve")
	}
	if result.Stage != "internal" {
		t.Errorf("stage = %q, want internal", result.Stage)
	}
	if len(result.Reasons) == 0 || !strings.Contains(result.Reasons[0], "internally") {
		t.Errorf("rejection reason should mention internal failure: %v", result.Reasons)
	}
}

// TestNilThresholdProviderFallsBack verifies the static default threshold
func TestNilThresholdProviderFallsBack(t *testing.T) {
	v := New(nil, nil, nil, nil, nil)

	result := v.Validate(tradableSnapshot(), signal.DirectionCall, callVotes())
	if result.Threshold != 0.60 {
		t.Errorf("fallback threshold = %v, want 0.60", result.Threshold)
	}
}

// TestLearnedRulesUnknownName verifies unknown flags are ignored
func TestLearnedRulesUnknownName(t *testing.T) {
	rules := &LearnedRules{}
	rules.Set("no_such_rule", true)

	a, b, c, d := rules.Snapshot()
	if a || b || c || d {
		t.Error("unknown rule name must not toggle any flag")
	}
}
