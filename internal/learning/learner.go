package learning

import (
	"fmt"
	"sync"
	"time"

	"binary-options-bot/internal/logging"
	"binary-options-bot/internal/signal"
)

// State is the learner's lifecycle state
type State string

const (
	StateStable     State = "STABLE"
	StateEvaluating State = "EVALUATING"
	StateRetraining State = "RETRAINING"
)

// Severity labels a retrain recommendation
type Severity string

const (
	SeverityNone   Severity = "NONE"
	SeverityNormal Severity = "NORMAL"
	SeverityUrgent Severity = "URGENT"
)

// Config holds the learner cadences and thresholds
type Config struct {
	EvalCadence        int           `json:"eval_cadence"`         // experiences between evaluations
	RetrainCadence     int           `json:"retrain_cadence"`      // experiences between scheduled retrains
	TrailingWindow     int           `json:"trailing_window"`      // experiences examined per evaluation
	ShortWindow        int           `json:"short_window"`         // short side of the trend delta
	LongWindow         int           `json:"long_window"`          // long side of the trend delta
	UrgentStreak       int           `json:"urgent_streak"`        // consecutive losses forcing URGENT
	UrgentWinRateFloor float64       `json:"urgent_win_rate_floor"`
	NegativePnLFloor   float64       `json:"negative_pnl_floor"`   // trailing P&L below this flags NORMAL
	TrendDeltaFloor    float64       `json:"trend_delta_floor"`    // short-minus-long win-rate below this flags NORMAL
	RetrainCooldown    time.Duration `json:"retrain_cooldown"`     // window blocking re-entry into RETRAINING
	RetrainBatchMax    int           `json:"retrain_batch_max"`    // most recent experiences fed to the model
	PauseStreakCap     int           `json:"pause_streak_cap"`     // consecutive losses before pausing trading
}

// DefaultConfig returns the default learner tuning
func DefaultConfig() *Config {
	return &Config{
		EvalCadence:        10,
		RetrainCadence:     20,
		TrailingWindow:     20,
		ShortWindow:        10,
		LongWindow:         50,
		UrgentStreak:       5,
		UrgentWinRateFloor: 0.40,
		NegativePnLFloor:   -15.0,
		TrendDeltaFloor:    -0.15,
		RetrainCooldown:    10 * time.Minute,
		RetrainBatchMax:    500,
		PauseStreakCap:     6,
	}
}

// Evaluation is the outcome of one performance check
type Evaluation struct {
	ShouldRetrain bool     `json:"should_retrain"`
	Severity      Severity `json:"severity"`
	WinRate       float64  `json:"win_rate"`
	LossStreak    int      `json:"loss_streak"`
	TrendDelta    float64  `json:"trend_delta"`
	TrailingPnL   float64  `json:"trailing_pnl"`
	Reason        string   `json:"reason"`
}

// Model is the retrainable predictive model
type Model interface {
	Retrain(outcomes []signal.Outcome) error
}

// RuleSink receives learned-rule toggles derived from loss patterns
type RuleSink interface {
	Set(name string, active bool)
}

// Learner watches the experience stream and decides when the model must
// be retrained or trading paused. Exactly one retrain runs at a time;
// trading continues on the previous model while a retrain is in flight.
type Learner struct {
	mu     sync.RWMutex
	config *Config
	buffer *Buffer
	model  Model
	rules  RuleSink
	logger *logging.Logger

	state              State
	sinceEval          int
	sinceRetrain       int
	consecutiveLosses  int
	lastRetrainEnd     time.Time
	retrainingInFlight bool
	retrainCount       int
	lastEvaluation     Evaluation

	onRetrainStart func(severity Severity)
	onRetrainDone  func(success bool)
}

// NewLearner creates a continuous learner. rules may be nil.
func NewLearner(config *Config, buffer *Buffer, model Model, rules RuleSink, logger *logging.Logger) *Learner {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.WithComponent("learner")
	}
	return &Learner{
		config: config,
		buffer: buffer,
		model:  model,
		rules:  rules,
		logger: logger,
		state:  StateStable,
	}
}

// SetRetrainCallback registers a callback fired when a retrain finishes
func (l *Learner) SetRetrainCallback(fn func(success bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRetrainDone = fn
}

// SetRetrainStartCallback registers a callback fired when a retrain begins
func (l *Learner) SetRetrainStartCallback(fn func(severity Severity)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRetrainStart = fn
}

// State returns the current lifecycle state
func (l *Learner) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// OnExperience ingests one settled experience. It updates counters,
// evaluates on the evaluation cadence, and triggers retraining on the
// retrain cadence or on an urgent flag.
func (l *Learner) OnExperience(exp Experience) {
	l.buffer.Append(exp)

	l.mu.Lock()
	if exp.Win() {
		l.consecutiveLosses = 0
	} else {
		l.consecutiveLosses++
	}
	l.sinceEval++
	l.sinceRetrain++

	evalDue := l.sinceEval >= l.config.EvalCadence
	retrainDue := l.sinceRetrain >= l.config.RetrainCadence
	l.mu.Unlock()

	if !evalDue && !retrainDue {
		return
	}

	l.mu.Lock()
	l.state = StateEvaluating
	l.sinceEval = 0
	l.mu.Unlock()

	eval := l.EvaluatePerformance()

	l.mu.Lock()
	l.lastEvaluation = eval
	urgent := eval.ShouldRetrain && eval.Severity == SeverityUrgent
	shouldRetrain := retrainDue || urgent
	if !shouldRetrain {
		l.state = StateStable
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.applyLearnedRules(eval)
	l.TriggerRetrain(eval.Severity)
}

// EvaluatePerformance computes the rolling metrics against the buffer
// state as of invocation time
func (l *Learner) EvaluatePerformance() Evaluation {
	recent := l.buffer.Recent(l.config.TrailingWindow)
	if len(recent) == 0 {
		return Evaluation{Severity: SeverityNone}
	}

	wins := 0
	pnl := 0.0
	for _, e := range recent {
		if e.Win() {
			wins++
		}
		pnl += e.Reward
	}
	winRate := float64(wins) / float64(len(recent))

	streak := 0
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Win() {
			break
		}
		streak++
	}

	trendDelta := l.trendDelta()

	eval := Evaluation{
		WinRate:     winRate,
		LossStreak:  streak,
		TrendDelta:  trendDelta,
		TrailingPnL: pnl,
		Severity:    SeverityNone,
	}

	switch {
	case streak >= l.config.UrgentStreak:
		eval.ShouldRetrain = true
		eval.Severity = SeverityUrgent
		eval.Reason = fmt.Sprintf("%d consecutive losses", streak)
	case winRate < l.config.UrgentWinRateFloor:
		eval.ShouldRetrain = true
		eval.Severity = SeverityUrgent
		eval.Reason = fmt.Sprintf("win rate %.0f%% below urgent floor", winRate*100)
	case pnl < l.config.NegativePnLFloor:
		eval.ShouldRetrain = true
		eval.Severity = SeverityNormal
		eval.Reason = fmt.Sprintf("trailing P&L %.2f below floor", pnl)
	case trendDelta < l.config.TrendDeltaFloor:
		eval.ShouldRetrain = true
		eval.Severity = SeverityNormal
		eval.Reason = fmt.Sprintf("performance trend %.2f deteriorating", trendDelta)
	}
	return eval
}

// trendDelta is short-window win-rate minus long-window win-rate
func (l *Learner) trendDelta() float64 {
	long := l.buffer.Recent(l.config.LongWindow)
	if len(long) < l.config.ShortWindow {
		return 0
	}
	short := long[len(long)-l.config.ShortWindow:]

	rate := func(exps []Experience) float64 {
		if len(exps) == 0 {
			return 0.5
		}
		wins := 0
		for _, e := range exps {
			if e.Win() {
				wins++
			}
		}
		return float64(wins) / float64(len(exps))
	}
	return rate(short) - rate(long)
}

// applyLearnedRules inspects losing experiences for recurring setups and
// toggles the matching validator flags
func (l *Learner) applyLearnedRules(eval Evaluation) {
	if l.rules == nil {
		return
	}
	recent := l.buffer.Recent(l.config.TrailingWindow)
	if len(recent) < 5 {
		return
	}

	// State vector layout: [0]=rsi/100, [1]=bb position, [8]=momentum
	neutralRSILosses, neutralBandLosses, noMomentumLosses, losses := 0, 0, 0, 0
	for _, e := range recent {
		if e.Win() {
			continue
		}
		losses++
		if len(e.State) < 9 {
			continue
		}
		if e.State[0] >= 0.45 && e.State[0] <= 0.55 {
			neutralRSILosses++
		}
		if e.State[1] >= 0.4 && e.State[1] <= 0.6 {
			neutralBandLosses++
		}
		if e.State[8] > -0.0005 && e.State[8] < 0.0005 {
			noMomentumLosses++
		}
	}
	if losses == 0 {
		return
	}

	half := losses / 2
	l.rules.Set("avoid_neutral_rsi", neutralRSILosses > half)
	l.rules.Set("avoid_neutral_band", neutralBandLosses > half)
	l.rules.Set("require_momentum", noMomentumLosses > half)
	l.rules.Set("avoid_counter_trend", eval.WinRate < 0.45)
}

// TriggerRetrain starts a retrain unless one is already in flight or the
// cooldown has not elapsed. Returns whether a retrain was started.
func (l *Learner) TriggerRetrain(severity Severity) bool {
	l.mu.Lock()
	if l.retrainingInFlight {
		l.mu.Unlock()
		l.logger.Debug("retrain skipped, one already in flight")
		return false
	}
	if severity != SeverityUrgent && time.Since(l.lastRetrainEnd) < l.config.RetrainCooldown {
		l.state = StateStable
		l.mu.Unlock()
		l.logger.Debug("retrain skipped, cooldown active")
		return false
	}
	l.retrainingInFlight = true
	l.state = StateRetraining
	l.sinceRetrain = 0
	start := l.onRetrainStart
	l.mu.Unlock()

	if start != nil {
		start(severity)
	}
	go l.runRetrain()
	return true
}

func (l *Learner) runRetrain() {
	started := time.Now()
	batch := l.buffer.Recent(l.config.RetrainBatchMax)

	outcomes := make([]signal.Outcome, 0, len(batch))
	for _, e := range batch {
		outcomes = append(outcomes, signal.Outcome{
			State:  e.State,
			Action: e.Action,
			Reward: e.Reward,
		})
	}

	var err error
	if l.model != nil {
		err = l.model.Retrain(outcomes)
	}
	success := err == nil

	l.mu.Lock()
	l.retrainingInFlight = false
	l.lastRetrainEnd = time.Now()
	l.state = StateStable
	if success {
		l.retrainCount++
	}
	done := l.onRetrainDone
	l.mu.Unlock()

	if success {
		l.logger.Info("retrain finished",
			"batch", len(batch),
			"duration_ms", time.Since(started).Milliseconds())
	} else {
		// Retrain failure is non-fatal: the previous model stays active
		l.logger.Warn("retrain failed, previous model retained", "error", err)
	}
	if done != nil {
		done(success)
	}
}

// ShouldPauseTrading reports whether the loop should stop opening trades.
// A pause requires both a deep loss streak and an elapsed post-retrain
// cooldown, so a freshly retrained model gets a chance to trade.
func (l *Learner) ShouldPauseTrading() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.consecutiveLosses <= l.config.PauseStreakCap {
		return false, ""
	}
	if time.Since(l.lastRetrainEnd) < l.config.RetrainCooldown {
		return false, ""
	}
	return true, fmt.Sprintf("%d consecutive losses", l.consecutiveLosses)
}

// LearningSummary renders the learner state for the advisory prompt
func (l *Learner) LearningSummary() string {
	l.mu.RLock()
	eval := l.lastEvaluation
	streak := l.consecutiveLosses
	state := l.state
	retrains := l.retrainCount
	l.mu.RUnlock()

	stats := l.buffer.Stats()
	return fmt.Sprintf(
		"state %s, buffer %d experiences, win rate %.0f%%, loss streak %d, last eval win rate %.0f%%, %d retrains",
		state, stats.Size, stats.WinRate*100, streak, eval.WinRate*100, retrains,
	)
}

// GetStatus returns a status map for the API surface
func (l *Learner) GetStatus() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return map[string]interface{}{
		"state":               string(l.state),
		"consecutive_losses":  l.consecutiveLosses,
		"since_eval":          l.sinceEval,
		"since_retrain":       l.sinceRetrain,
		"retrain_count":       l.retrainCount,
		"retraining_inflight": l.retrainingInFlight,
		"last_retrain_end":    l.lastRetrainEnd,
		"last_evaluation":     l.lastEvaluation,
		"buffer":              l.buffer.Stats(),
	}
}
