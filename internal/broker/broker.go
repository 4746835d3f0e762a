package broker

import (
	"context"
	"errors"

	"binary-options-bot/internal/market"
	"binary-options-bot/internal/signal"
)

// ErrTimeout marks a broker call that exceeded its deadline. Timeouts are
// surfaced distinctly from hard failures so callers can retry or estimate
// instead of treating the gateway as broken.
var ErrTimeout = errors.New("broker request timed out")

// ErrNotConnected is returned when an operation requires a live session
var ErrNotConnected = errors.New("broker not connected")

// Settlement status values returned by CheckResult
const (
	StatusWin     = "WIN"
	StatusLoss    = "LOSS"
	StatusTie     = "TIE"
	StatusPending = "PENDING"
)

// Credentials identify a broker account
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Account  string `json:"account"` // "PRACTICE" or "REAL"
}

// Gateway is the broker boundary. All calls are context-bounded; a
// deadline overrun surfaces as ErrTimeout.
type Gateway interface {
	Connect(ctx context.Context) error
	Connected() bool
	GetCandles(ctx context.Context, asset string, timeframeSec, count int) (*market.Snapshot, error)
	GetBalance(ctx context.Context) (float64, error)
	Buy(ctx context.Context, amount float64, asset string, direction signal.Direction, expirationMinutes int) (string, error)
	CheckResult(ctx context.Context, orderID string, timeout int) (string, float64, error)
}
