// Package events carries claim lifecycle events from the pipeline stages to
// observers: the websocket dashboard stream and, optionally, a durable
// Pub/Sub topic.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Claim lifecycle event types.
const (
	TypeClaimIngested    = "claim.ingested"
	TypeClaimRouted      = "claim.routed"
	TypeRemittanceIssued = "remittance.issued"
	TypeClaimBilled      = "claim.billed"
	TypeClaimFailed      = "claim.failed"
	TypeAgingAlert       = "aging.alert"
)

// EventEmitter is the interface the pipeline publishes through. Both the
// in-memory EventBus and the PubSubEventBus satisfy it.
type EventEmitter interface {
	Emit(eventType, source, subject string, data map[string]interface{})
}

// CloudEvent is the CloudEvents 1.0 envelope used for all pipeline events.
type CloudEvent struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"` // correlation id
	PayerID     string                 `json:"payerid,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// NewCloudEvent creates a CloudEvents 1.0 compliant event.
func NewCloudEvent(eventType, source, subject string, data map[string]interface{}) *CloudEvent {
	ev := &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          fmt.Sprintf("ce-%d", time.Now().UnixNano()),
		Time:        time.Now(),
		Subject:     subject,
		Data:        data,
	}
	if pid, ok := data["payer_id"].(string); ok {
		ev.PayerID = pid
	}
	return ev
}

// JSON serializes the event.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// EventBus is an in-process pub/sub bus. Subscribers receive events in real
// time; slow subscribers drop rather than block the pipeline.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent // eventType -> channels
	allSubs     []chan *CloudEvent
	logger      *log.Logger
	bufferSize  int
}

// NewEventBus creates a new in-memory bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan *CloudEvent),
		logger:      log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize:  100,
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no type is named.
func (eb *EventBus) Subscribe(eventTypes ...string) chan *CloudEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan *CloudEvent, eb.bufferSize)
	if len(eventTypes) == 0 {
		eb.allSubs = append(eb.allSubs, ch)
		return ch
	}
	for _, et := range eventTypes {
		eb.subscribers[et] = append(eb.subscribers[et], ch)
	}
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (eb *EventBus) Unsubscribe(ch chan *CloudEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for et, subs := range eb.subscribers {
		filtered := subs[:0]
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		eb.subscribers[et] = filtered
	}

	filtered := eb.allSubs[:0]
	for _, s := range eb.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	eb.allSubs = filtered
	close(ch)
}

// Publish sends an event to all matching subscribers. Full subscriber
// buffers are skipped.
func (eb *EventBus) Publish(event *CloudEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range eb.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit creates and publishes an event.
func (eb *EventBus) Emit(eventType, source, subject string, data map[string]interface{}) {
	eb.Publish(NewCloudEvent(eventType, source, subject, data))
}

// SubscriberCount returns the number of active subscriptions.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	count := len(eb.allSubs)
	for _, subs := range eb.subscribers {
		count += len(subs)
	}
	return count
}

var _ EventEmitter = (*EventBus)(nil)
