package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"binary-options-bot/internal/logging"
)

// systemPrompt instructs the model to act as a binary-options second opinion
const systemPrompt = `You are an expert binary-options trading analyst. You receive a compact market summary, a structural summary, and the bot's recent learning state, and you give a second opinion on a single short-expiry trade.

Your response must be valid JSON with this structure:
{
  "should_trade": true | false,
  "direction": "CALL" | "PUT" | "HOLD",
  "confidence": 0.0-1.0,
  "primary_reason": "one sentence",
  "confluences": ["strings"],
  "risk_factors": ["strings"]
}

Be conservative with confidence. Only exceed 0.7 when several independent factors align. When the learning state shows recent losses, lean toward HOLD.`

// Verdict is the advisory second opinion on a candidate trade
type Verdict struct {
	ShouldTrade   bool     `json:"should_trade"`
	Direction     string   `json:"direction"`
	Confidence    float64  `json:"confidence"`
	PrimaryReason string   `json:"primary_reason"`
	Confluences   []string `json:"confluences"`
	RiskFactors   []string `json:"risk_factors"`
}

// Request carries the summaries the advisor reasons over
type Request struct {
	Asset            string
	MarketSummary    string
	StructureSummary string
	LearningSummary  string
	Balance          float64
}

// Advisor asks the configured LLM for a second opinion on a candidate
// trade. Every call is bounded by the client timeout; a timeout or parse
// failure surfaces as an error so the caller falls back to the
// non-advisory consensus.
type Advisor struct {
	client *Client
	logger *logging.Logger
}

// NewAdvisor creates an advisor over the given client
func NewAdvisor(client *Client, logger *logging.Logger) *Advisor {
	if logger == nil {
		logger = logging.WithComponent("advisor")
	}
	return &Advisor{client: client, logger: logger}
}

// Available reports whether the advisor can be consulted
func (a *Advisor) Available() bool {
	return a.client != nil && a.client.IsConfigured()
}

// Advise requests a verdict for the candidate trade
func (a *Advisor) Advise(ctx context.Context, req Request) (*Verdict, error) {
	if !a.Available() {
		return nil, fmt.Errorf("advisor not configured")
	}

	userPrompt := fmt.Sprintf(
		"Asset: %s\nBalance: %.2f\n\nMarket:\n%s\n\nStructure:\n%s\n\nLearning state:\n%s\n\nGive your verdict as JSON.",
		req.Asset, req.Balance, req.MarketSummary, req.StructureSummary, req.LearningSummary,
	)

	started := time.Now()
	raw, err := a.client.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	verdict := &Verdict{}
	clean := stripMarkdownCodeBlock(raw)
	if err := json.Unmarshal([]byte(clean), verdict); err != nil {
		return nil, fmt.Errorf("failed to parse advisory verdict: %w", err)
	}

	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}

	a.logger.Debug("advisory verdict received",
		"asset", req.Asset,
		"direction", verdict.Direction,
		"confidence", verdict.Confidence,
		"latency_ms", time.Since(started).Milliseconds())

	return verdict, nil
}

// stripMarkdownCodeBlock removes ```json fences some providers wrap
// around their output
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		if idx := strings.Index(response, "\n"); idx >= 0 {
			response = response[idx+1:]
		}
		response = strings.TrimSuffix(strings.TrimSpace(response), "```")
	}
	return strings.TrimSpace(response)
}
