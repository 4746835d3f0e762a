package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"binary-options-bot/internal/market"
	"binary-options-bot/internal/signal"
)

// SimulatorConfig tunes the practice gateway
type SimulatorConfig struct {
	InitialBalance float64 `json:"initial_balance"`
	Payout         float64 `json:"payout"`     // fraction of stake returned on a win
	Drift          float64 `json:"drift"`      // per-candle drift of the random walk
	Volatility     float64 `json:"volatility"` // per-candle stddev, fraction of price
	Seed           int64   `json:"seed"`       // 0 means time-based
}

// DefaultSimulatorConfig returns default simulator settings
func DefaultSimulatorConfig() *SimulatorConfig {
	return &SimulatorConfig{
		InitialBalance: 1000.0,
		Payout:         0.85,
		Drift:          0.0,
		Volatility:     0.0008,
		Seed:           0,
	}
}

type simOrder struct {
	id         string
	asset      string
	direction  signal.Direction
	amount     float64
	entryPrice float64
	settleAt   time.Time
}

// Simulator is the practice-account gateway: a seeded random walk per
// asset, immediate fills, and settlement against the walk at expiry. It
// backs practice mode and the test suite.
type Simulator struct {
	mu      sync.Mutex
	config  *SimulatorConfig
	rng     *rand.Rand
	prices  map[string]float64
	series  map[string][]market.Candle
	orders  map[string]*simOrder
	balance float64
	online  bool
	log     zerolog.Logger
}

// NewSimulator creates a practice gateway
func NewSimulator(config *SimulatorConfig) *Simulator {
	if config == nil {
		config = DefaultSimulatorConfig()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		config:  config,
		rng:     rand.New(rand.NewSource(seed)),
		prices:  make(map[string]float64),
		series:  make(map[string][]market.Candle),
		orders:  make(map[string]*simOrder),
		balance: config.InitialBalance,
		log:     zerolog.New(os.Stdout).With().Timestamp().Str("component", "sim-broker").Logger(),
	}
}

// Connect brings the simulated session online
func (s *Simulator) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = true
	s.log.Info().Float64("balance", s.balance).Msg("practice session connected")
	return nil
}

// Connected reports session state
func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetConnected toggles the simulated link, used to exercise reconnection
func (s *Simulator) SetConnected(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// GetCandles extends the asset's walk to the requested length and
// returns a snapshot over it
func (s *Simulator) GetCandles(_ context.Context, asset string, timeframeSec, count int) (*market.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, ErrNotConnected
	}

	s.extendSeriesLocked(asset, timeframeSec, count)
	series := s.series[asset]
	if len(series) > count {
		series = series[len(series)-count:]
	}
	candles := make([]market.Candle, len(series))
	copy(candles, series)
	return market.NewSnapshot(asset, candles), nil
}

func (s *Simulator) extendSeriesLocked(asset string, timeframeSec, want int) {
	price, ok := s.prices[asset]
	if !ok {
		price = 1.0 + s.rng.Float64()*0.2
	}

	series := s.series[asset]
	need := want - len(series)
	if need < 1 {
		need = 1 // always print at least one fresh candle per poll
	}

	now := time.Now()
	for i := 0; i < need; i++ {
		open := price
		change := s.config.Drift + s.rng.NormFloat64()*s.config.Volatility
		clos := open * (1 + change)
		high := math.Max(open, clos) * (1 + math.Abs(s.rng.NormFloat64())*s.config.Volatility*0.5)
		low := math.Min(open, clos) * (1 - math.Abs(s.rng.NormFloat64())*s.config.Volatility*0.5)
		series = append(series, market.Candle{
			Open:      open,
			High:      high,
			Low:       low,
			Close:     clos,
			Volume:    100 + s.rng.Float64()*900,
			Timestamp: now.Add(-time.Duration(need-i) * time.Duration(timeframeSec) * time.Second),
		})
		price = clos
	}

	if len(series) > 1000 {
		series = series[len(series)-1000:]
	}
	s.series[asset] = series
	s.prices[asset] = price
}

// GetBalance returns the practice balance
func (s *Simulator) GetBalance(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return 0, ErrNotConnected
	}
	return s.balance, nil
}

// Buy opens a simulated position and debits the stake
func (s *Simulator) Buy(_ context.Context, amount float64, asset string, direction signal.Direction, expirationMinutes int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return "", ErrNotConnected
	}
	if amount <= 0 {
		return "", fmt.Errorf("invalid stake %.2f", amount)
	}
	if amount > s.balance {
		return "", fmt.Errorf("insufficient balance: stake %.2f, balance %.2f", amount, s.balance)
	}

	price, ok := s.prices[asset]
	if !ok {
		return "", fmt.Errorf("no market for asset %s", asset)
	}

	order := &simOrder{
		id:         uuid.New().String(),
		asset:      asset,
		direction:  direction,
		amount:     amount,
		entryPrice: price,
		settleAt:   time.Now().Add(time.Duration(expirationMinutes) * time.Minute),
	}
	s.orders[order.id] = order
	s.balance -= amount

	s.log.Info().
		Str("order_id", order.id).
		Str("asset", asset).
		Str("direction", string(direction)).
		Float64("amount", amount).
		Float64("entry", price).
		Msg("practice order placed")

	return order.id, nil
}

// CheckResult settles an order against the walk. Before expiry it
// returns StatusPending.
func (s *Simulator) CheckResult(_ context.Context, orderID string, _ int) (string, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return "", 0, ErrNotConnected
	}

	order, ok := s.orders[orderID]
	if !ok {
		return "", 0, fmt.Errorf("unknown order %s", orderID)
	}
	if time.Now().Before(order.settleAt) {
		return StatusPending, 0, nil
	}

	current := s.prices[order.asset]
	won := (order.direction == signal.DirectionCall && current > order.entryPrice) ||
		(order.direction == signal.DirectionPut && current < order.entryPrice)

	delete(s.orders, orderID)

	if current == order.entryPrice {
		s.balance += order.amount
		return StatusTie, 0, nil
	}
	if won {
		profit := order.amount * s.config.Payout
		s.balance += order.amount + profit
		s.log.Info().Str("order_id", orderID).Float64("profit", profit).Msg("practice order won")
		return StatusWin, profit, nil
	}

	s.log.Info().Str("order_id", orderID).Float64("loss", -order.amount).Msg("practice order lost")
	return StatusLoss, -order.amount, nil
}
