package signal

import (
	"context"
	"fmt"

	"binary-options-bot/internal/advisor"
	"binary-options-bot/internal/market"
)

// LearningSummarizer supplies a short description of the bot's recent
// learning state for the advisory prompt
type LearningSummarizer interface {
	LearningSummary() string
}

// AdvisorySource adapts the LLM advisor into a signal source. When the
// advisor is unreachable or times out, the source abstains; the consensus
// proceeds without it.
type AdvisorySource struct {
	advisor   *advisor.Advisor
	structure *StructureAnalyzer
	learner   LearningSummarizer
	balance   func() float64
}

// NewAdvisorySource creates the advisory source. balance may be nil.
func NewAdvisorySource(adv *advisor.Advisor, structure *StructureAnalyzer, learner LearningSummarizer, balance func() float64) *AdvisorySource {
	return &AdvisorySource{
		advisor:   adv,
		structure: structure,
		learner:   learner,
		balance:   balance,
	}
}

func (as *AdvisorySource) Name() string { return "advisory" }

func (as *AdvisorySource) Available() bool {
	return as.advisor != nil && as.advisor.Available()
}

// Evaluate consults the advisor and maps its verdict to a vote
func (as *AdvisorySource) Evaluate(ctx context.Context, snapshot *market.Snapshot) (Vote, error) {
	req := advisor.Request{
		Asset:            snapshot.Asset,
		MarketSummary:    marketSummary(snapshot),
		StructureSummary: as.structure.Describe(snapshot),
	}
	if as.learner != nil {
		req.LearningSummary = as.learner.LearningSummary()
	}
	if as.balance != nil {
		req.Balance = as.balance()
	}

	verdict, err := as.advisor.Advise(ctx, req)
	if err != nil {
		// Timeouts and parse failures downgrade to abstention
		return Abstain(as.Name(), "advisor unavailable: "+err.Error()), nil
	}

	if !verdict.ShouldTrade {
		v := Abstain(as.Name(), "advisor recommends no trade")
		if verdict.PrimaryReason != "" {
			v.Rejections = append(v.Rejections, verdict.PrimaryReason)
		}
		return v, nil
	}

	direction := DirectionHold
	switch verdict.Direction {
	case "CALL":
		direction = DirectionCall
	case "PUT":
		direction = DirectionPut
	}
	if direction == DirectionHold {
		return Abstain(as.Name(), "advisor returned no direction"), nil
	}

	reasons := make([]string, 0, 1+len(verdict.Confluences))
	if verdict.PrimaryReason != "" {
		reasons = append(reasons, verdict.PrimaryReason)
	}
	reasons = append(reasons, verdict.Confluences...)

	return Vote{
		Source:     as.Name(),
		Direction:  direction,
		Confidence: verdict.Confidence,
		Reasons:    reasons,
		Rejections: verdict.RiskFactors,
	}, nil
}

func marketSummary(snapshot *market.Snapshot) string {
	last := snapshot.Last()
	return fmt.Sprintf(
		"close %.5f, RSI %.1f, MACD hist %.5f, BB position %.2f, ATR %.5f, last candle body %.5f range %.5f, %d candles",
		snapshot.LastClose(),
		snapshot.Indicators["rsi"],
		snapshot.Indicators["macd_histogram"],
		snapshot.Indicators["bb_position"],
		snapshot.Indicators["atr"],
		last.Body(), last.Range(), snapshot.Len(),
	)
}
