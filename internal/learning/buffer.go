package learning

import (
	"sync"
	"time"
)

// Experience is one settled (state, action, reward, next-state) tuple.
// Rewards are terminal: an experience is appended once, after settlement,
// and never modified.
type Experience struct {
	Asset     string                 `json:"asset"`
	State     []float64              `json:"state"`
	Action    int                    `json:"action"` // 0 = PUT, 1 = CALL
	Reward    float64                `json:"reward"` // signed P&L
	NextState []float64              `json:"next_state"`
	Done      bool                   `json:"done"`
	Shadow    bool                   `json:"shadow"` // resolved observation, not a live trade
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Win reports whether the experience had a positive reward
func (e Experience) Win() bool {
	return e.Reward > 0
}

// BufferStats summarizes buffer contents
type BufferStats struct {
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	TotalPnL  float64 `json:"total_pnl"`
	WinRate   float64 `json:"win_rate"`
	ShadowPct float64 `json:"shadow_pct"`
}

// Buffer is the capacity-bounded append-only experience log. Appends and
// reads may come from different goroutines: the control loop appends on
// settlement while retraining reads batches.
type Buffer struct {
	mu       sync.RWMutex
	items    []Experience
	capacity int
	appended int // lifetime appends, survives eviction
}

// NewBuffer creates a buffer with the given capacity
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Buffer{
		items:    make([]Experience, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an experience, evicting the oldest at capacity
func (b *Buffer) Append(exp Experience) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if exp.Timestamp.IsZero() {
		exp.Timestamp = time.Now()
	}
	if len(b.items) >= b.capacity {
		b.items = b.items[1:]
	}
	b.items = append(b.items, exp)
	b.appended++
}

// Len returns the current number of stored experiences
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// TotalAppended returns lifetime appends including evicted ones
func (b *Buffer) TotalAppended() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.appended
}

// Recent returns a copy of the last n experiences in append order
func (b *Buffer) Recent(n int) []Experience {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || len(b.items) == 0 {
		return nil
	}
	if n > len(b.items) {
		n = len(b.items)
	}
	out := make([]Experience, n)
	copy(out, b.items[len(b.items)-n:])
	return out
}

// RecentByAsset returns the last n experiences for one asset in append order
func (b *Buffer) RecentByAsset(asset string, n int) []Experience {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Experience, 0, n)
	for i := len(b.items) - 1; i >= 0 && len(out) < n; i-- {
		if b.items[i].Asset == asset {
			out = append(out, b.items[i])
		}
	}
	// restore append order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Stats summarizes the buffer contents
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BufferStats{
		Size:     len(b.items),
		Capacity: b.capacity,
	}
	shadow := 0
	for _, e := range b.items {
		if e.Win() {
			stats.Wins++
		} else {
			stats.Losses++
		}
		stats.TotalPnL += e.Reward
		if e.Shadow {
			shadow++
		}
	}
	if stats.Size > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Size)
		stats.ShadowPct = float64(shadow) / float64(stats.Size)
	}
	return stats
}
