package signal

import (
	"context"

	"binary-options-bot/internal/market"
)

// Direction is the directional call a source makes on a snapshot
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
	DirectionHold Direction = "HOLD"
)

// Opposite returns the inverse direction; HOLD maps to HOLD
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionCall:
		return DirectionPut
	case DirectionPut:
		return DirectionCall
	default:
		return DirectionHold
	}
}

// Vote is one source's read of a snapshot. Votes are produced once and
// never mutated; a HOLD vote with no rejections means the source abstained.
type Vote struct {
	Source     string    `json:"source"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons,omitempty"`
	Rejections []string  `json:"rejections,omitempty"`
}

// Abstain builds a no-vote for a source
func Abstain(source string, why string) Vote {
	v := Vote{Source: source, Direction: DirectionHold}
	if why != "" {
		v.Rejections = []string{why}
	}
	return v
}

// Directional reports whether the vote commits to a direction
func (v Vote) Directional() bool {
	return v.Direction == DirectionCall || v.Direction == DirectionPut
}

// Source maps a market snapshot to a directional vote. A source that is
// not available abstains; it is never special-cased by the caller.
type Source interface {
	Name() string
	Available() bool
	Evaluate(ctx context.Context, snapshot *market.Snapshot) (Vote, error)
}

// Collect runs every available source against the snapshot and returns
// their votes. Source errors become abstentions so one bad source can
// never sink a decision cycle.
func Collect(ctx context.Context, sources []Source, snapshot *market.Snapshot) []Vote {
	votes := make([]Vote, 0, len(sources))
	for _, src := range sources {
		if !src.Available() {
			votes = append(votes, Abstain(src.Name(), "source unavailable"))
			continue
		}
		vote, err := src.Evaluate(ctx, snapshot)
		if err != nil {
			votes = append(votes, Abstain(src.Name(), "evaluation failed: "+err.Error()))
			continue
		}
		votes = append(votes, vote)
	}
	return votes
}
