package events

import (
	"sync"
	"time"
)

// EventType identifies the kinds of events the core publishes
type EventType string

const (
	EventTradeOpened        EventType = "TRADE_OPENED"
	EventTradeSettled       EventType = "TRADE_SETTLED"
	EventDecisionApproved   EventType = "DECISION_APPROVED"
	EventDecisionRejected   EventType = "DECISION_REJECTED"
	EventObservationOpened  EventType = "OBSERVATION_OPENED"
	EventAssetPaused        EventType = "ASSET_PAUSED"
	EventTradingPaused      EventType = "TRADING_PAUSED"
	EventTradingResumed     EventType = "TRADING_RESUMED"
	EventRetrainStarted     EventType = "RETRAIN_STARTED"
	EventRetrainFinished    EventType = "RETRAIN_FINISHED"
	EventConnectionLost     EventType = "CONNECTION_LOST"
	EventConnectionRestored EventType = "CONNECTION_RESTORED"
	EventBalanceUpdate      EventType = "BALANCE_UPDATE"
	EventPriceTick          EventType = "PRICE_TICK"
	EventError              EventType = "ERROR"
)

// Event is one published system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles delivered events
type Subscriber func(Event)

// Bus fans events out to subscribers. The core publishes through it and
// never knows who listens; delivery runs in goroutines so a slow
// subscriber cannot stall the control loop.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish delivers an event to matching subscribers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (b *Bus) PublishTradeOpened(asset, direction, orderID string, stake float64) {
	b.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"asset":     asset,
			"direction": direction,
			"order_id":  orderID,
			"stake":     stake,
		},
	})
}

// PublishTradeSettled publishes a settlement event
func (b *Bus) PublishTradeSettled(asset, orderID string, profit float64, win bool, estimated bool) {
	b.Publish(Event{
		Type: EventTradeSettled,
		Data: map[string]interface{}{
			"asset":     asset,
			"order_id":  orderID,
			"profit":    profit,
			"win":       win,
			"estimated": estimated,
		},
	})
}

// PublishDecisionRejected publishes a validator rejection
func (b *Bus) PublishDecisionRejected(asset, stage, reason string, confidence float64) {
	b.Publish(Event{
		Type: EventDecisionRejected,
		Data: map[string]interface{}{
			"asset":      asset,
			"stage":      stage,
			"reason":     reason,
			"confidence": confidence,
		},
	})
}

// PublishAssetPaused publishes a per-asset cooldown event
func (b *Bus) PublishAssetPaused(asset, reason string, until time.Time) {
	b.Publish(Event{
		Type: EventAssetPaused,
		Data: map[string]interface{}{
			"asset":  asset,
			"reason": reason,
			"until":  until,
		},
	})
}

// PublishPriceTick publishes one streamed quote
func (b *Bus) PublishPriceTick(asset string, price float64, timestamp int64) {
	b.Publish(Event{
		Type: EventPriceTick,
		Data: map[string]interface{}{
			"asset":     asset,
			"price":     price,
			"timestamp": timestamp,
		},
	})
}

// PublishError publishes a non-fatal error event
func (b *Bus) PublishError(component, message string) {
	b.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"component": component,
			"message":   message,
		},
	})
}
