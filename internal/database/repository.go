package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Repository provides data access for trades and experiences
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// TRADES
// ============================================================================

// CreateTrade inserts a new open trade
func (r *Repository) CreateTrade(ctx context.Context, trade *TradeRecord) error {
	query := `
		INSERT INTO binary_trades (order_id, asset, direction, stake, entry_price, expiration_minutes, confidence, entry_time, status, martingale_step)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		trade.OrderID, trade.Asset, trade.Direction, trade.Stake, trade.EntryPrice,
		trade.ExpirationMinutes, trade.Confidence, trade.EntryTime, TradeStatusOpen, trade.MartingaleStep,
	).Scan(&trade.ID, &trade.CreatedAt)
}

// SettleTrade records a settlement outcome by order id
func (r *Repository) SettleTrade(ctx context.Context, orderID, status string, profit float64, estimated bool) error {
	query := `
		UPDATE binary_trades
		SET status = $2, profit = $3, estimated = $4, settle_time = $5
		WHERE order_id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, orderID, status, profit, estimated, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no trade with order id %s", orderID)
	}
	return nil
}

// RecentTrades returns the latest settled trades, newest first
func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]*TradeRecord, error) {
	query := `
		SELECT id, order_id, asset, direction, stake, entry_price, expiration_minutes,
		       confidence, entry_time, settle_time, status, profit, estimated, martingale_step, created_at
		FROM binary_trades
		WHERE status != 'OPEN'
		ORDER BY settle_time DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*TradeRecord
	for rows.Next() {
		t := &TradeRecord{}
		err := rows.Scan(
			&t.ID, &t.OrderID, &t.Asset, &t.Direction, &t.Stake, &t.EntryPrice,
			&t.ExpirationMinutes, &t.Confidence, &t.EntryTime, &t.SettleTime,
			&t.Status, &t.Profit, &t.Estimated, &t.MartingaleStep, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ============================================================================
// EXPERIENCES
// ============================================================================

// AppendExperience inserts one learning experience
func (r *Repository) AppendExperience(ctx context.Context, exp *ExperienceRecord) error {
	state, err := json.Marshal(exp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	nextState, err := json.Marshal(exp.NextState)
	if err != nil {
		return fmt.Errorf("failed to marshal next state: %w", err)
	}
	var metadata []byte
	if exp.Metadata != nil {
		metadata, err = json.Marshal(exp.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO experiences (asset, state, action, reward, next_state, shadow, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now()
	}
	return r.db.Pool.QueryRow(
		ctx, query,
		exp.Asset, state, exp.Action, exp.Reward, nextState, exp.Shadow, metadata, exp.CreatedAt,
	).Scan(&exp.ID)
}

// RecentExperiences returns the last n experiences in insert order
func (r *Repository) RecentExperiences(ctx context.Context, n int) ([]*ExperienceRecord, error) {
	query := `
		SELECT id, asset, state, action, reward, next_state, shadow, metadata, created_at
		FROM (
			SELECT * FROM experiences ORDER BY id DESC LIMIT $1
		) recent
		ORDER BY id ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exps []*ExperienceRecord
	for rows.Next() {
		e := &ExperienceRecord{}
		var state, nextState, metadata []byte
		if err := rows.Scan(&e.ID, &e.Asset, &state, &e.Action, &e.Reward, &nextState, &e.Shadow, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(state, &e.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		if len(nextState) > 0 {
			if err := json.Unmarshal(nextState, &e.NextState); err != nil {
				return nil, fmt.Errorf("failed to unmarshal next state: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		exps = append(exps, e)
	}
	return exps, rows.Err()
}

// ============================================================================
// ROLLING PERFORMANCE
// ============================================================================

// HourlyPerformanceSince aggregates settled trades per hour of day
func (r *Repository) HourlyPerformanceSince(ctx context.Context, since time.Time) ([]*HourlyPerformance, error) {
	query := `
		SELECT EXTRACT(HOUR FROM entry_time)::int AS hour,
		       COUNT(*) FILTER (WHERE status = 'WON') AS wins,
		       COUNT(*) FILTER (WHERE status = 'LOST') AS losses,
		       COALESCE(SUM(profit), 0) AS total_pnl
		FROM binary_trades
		WHERE status != 'OPEN' AND entry_time >= $1
		GROUP BY hour
		ORDER BY hour
	`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HourlyPerformance
	for rows.Next() {
		h := &HourlyPerformance{}
		if err := rows.Scan(&h.Hour, &h.Wins, &h.Losses, &h.TotalPnL); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AssetPerformanceSince aggregates settled trades per asset
func (r *Repository) AssetPerformanceSince(ctx context.Context, since time.Time) ([]*AssetPerformance, error) {
	query := `
		SELECT asset,
		       COUNT(*) FILTER (WHERE status = 'WON') AS wins,
		       COUNT(*) FILTER (WHERE status = 'LOST') AS losses,
		       COALESCE(SUM(profit), 0) AS total_pnl
		FROM binary_trades
		WHERE status != 'OPEN' AND entry_time >= $1
		GROUP BY asset
		ORDER BY asset
	`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AssetPerformance
	for rows.Next() {
		a := &AssetPerformance{}
		if err := rows.Scan(&a.Asset, &a.Wins, &a.Losses, &a.TotalPnL); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
