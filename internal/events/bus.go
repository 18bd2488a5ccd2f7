// Package events carries pipeline progress from the orchestrator to the HTTP
// event stream and the CLI over an in-process watermill pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"deepresearch/internal/logging"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type names a progress event.
type Type string

const (
	TypeSessionStarted  Type = "session_started"
	TypeStageChanged    Type = "stage_changed"
	TypeQueryStarted    Type = "query_started"
	TypeQueryCompleted  Type = "query_completed"
	TypeQueryFailed     Type = "query_failed"
	TypeRoundCompleted  Type = "round_completed"
	TypeReviewCompleted Type = "review_completed"
	TypeReportReady     Type = "report_ready"
	TypeSessionFailed   Type = "session_failed"
	TypeSessionCanceled Type = "session_canceled"
)

// AllSessions is the topic every event is also published to.
const AllSessions = "sessions"

// Event is one progress notification.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"sessionId"`
	Stage     string         `json:"stage,omitempty"`
	Query     string         `json:"query,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Topic is the per-session topic name.
func Topic(sessionID string) string {
	return "session." + sessionID
}

// Bus publishes events to per-session and global topics.
// A nil *Bus discards everything.
type Bus struct {
	pubsub *gochannel.GoChannel
	closed atomic.Bool
}

// NewBus creates an in-memory bus. Publish returns once every subscriber has
// taken the event, so each subscriber sees a session's events in order.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64, BlockPublishUntilSubscriberAck: true},
			newLoggerAdapter(),
		),
	}
}

// Publish sends ev to its session topic and to AllSessions.
func (b *Bus) Publish(ev Event) {
	if b == nil || b.closed.Load() {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logging.EventsError("Failed to encode %s event: %v", ev.Type, err)
		return
	}

	for _, topic := range []string{Topic(ev.SessionID), AllSessions} {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := b.pubsub.Publish(topic, msg); err != nil {
			logging.EventsWarn("Failed to publish %s to %s: %v", ev.Type, topic, err)
		}
	}
	logging.EventsDebug("Published %s for session %s", ev.Type, ev.SessionID)
}

// Subscribe streams events for sessionID, or for every session when
// sessionID is empty, until ctx is done or the bus is closed. Events are
// dropped for a subscriber whose buffer is full.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	if b == nil {
		return nil, fmt.Errorf("event bus not configured")
	}
	topic := AllSessions
	if sessionID != "" {
		topic = Topic(sessionID)
	}

	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan Event, 256)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				logging.EventsWarn("Dropping undecodable event %s: %v", msg.UUID, err)
				continue
			}
			select {
			case out <- ev:
			default:
				logging.EventsWarn("Subscriber for %s is full, dropping %s", topic, ev.Type)
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() error {
	if b == nil || !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.pubsub.Close()
}

// loggerAdapter routes watermill logs to the events category.
type loggerAdapter struct {
	fields watermill.LogFields
}

func newLoggerAdapter() watermill.LoggerAdapter {
	return loggerAdapter{}
}

func (l loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	logging.EventsError("%s: %v %v", msg, err, l.merge(fields))
}

func (l loggerAdapter) Info(msg string, fields watermill.LogFields) {
	logging.Events("%s %v", msg, l.merge(fields))
}

func (l loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	logging.EventsDebug("%s %v", msg, l.merge(fields))
}

func (l loggerAdapter) Trace(string, watermill.LogFields) {}

func (l loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return loggerAdapter{fields: l.merge(fields)}
}

func (l loggerAdapter) merge(fields watermill.LogFields) watermill.LogFields {
	if len(l.fields) == 0 {
		return fields
	}
	return l.fields.Add(fields)
}
