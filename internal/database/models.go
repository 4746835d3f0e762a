package database

import (
	"time"
)

// Trade status values
const (
	TradeStatusOpen    = "OPEN"
	TradeStatusWon     = "WON"
	TradeStatusLost    = "LOST"
	TradeStatusTied    = "TIED"
)

// TradeRecord is a persisted binary-options trade
type TradeRecord struct {
	ID                int64      `json:"id"`
	OrderID           string     `json:"order_id"`
	Asset             string     `json:"asset"`
	Direction         string     `json:"direction"`
	Stake             float64    `json:"stake"`
	EntryPrice        float64    `json:"entry_price"`
	ExpirationMinutes int        `json:"expiration_minutes"`
	Confidence        float64    `json:"confidence"`
	EntryTime         time.Time  `json:"entry_time"`
	SettleTime        *time.Time `json:"settle_time,omitempty"`
	Status            string     `json:"status"`
	Profit            *float64   `json:"profit,omitempty"`
	Estimated         bool       `json:"estimated"`
	MartingaleStep    int        `json:"martingale_step"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ExperienceRecord is a persisted learning experience
type ExperienceRecord struct {
	ID        int64                  `json:"id"`
	Asset     string                 `json:"asset"`
	State     []float64              `json:"state"`
	Action    int                    `json:"action"`
	Reward    float64                `json:"reward"`
	NextState []float64              `json:"next_state,omitempty"`
	Shadow    bool                   `json:"shadow"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// HourlyPerformance is a rolling aggregate grouped by hour of day
type HourlyPerformance struct {
	Hour     int     `json:"hour"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"`
}

// AssetPerformance is a rolling aggregate grouped by asset
type AssetPerformance struct {
	Asset    string  `json:"asset"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"`
}
