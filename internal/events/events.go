// Package events publishes state transitions for the reporting and
// notification side to consume.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Type names a state transition.
type Type string

const (
	ScheduleEscalated    Type = "schedule.escalated"
	ScheduleDeescalated  Type = "schedule.deescalated"
	ScheduleEscalatedAll Type = "schedule.escalated_all"
	CredentialActivated  Type = "credential.activated"
	CredentialDisabled   Type = "credential.deactivated"
)

// Event is one transition of a topic schedule or credential.
type Event struct {
	Type    Type      `json:"type"`
	Subject string    `json:"subject"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher emits events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// RedisPublisher publishes JSON events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", e.Type, p.channel, err)
	}
	return nil
}

// Channel returns the pub/sub channel events go to.
func (p *RedisPublisher) Channel() string { return p.channel }

// Recorder keeps events in memory. Tests use it to assert on transitions.
type Recorder struct {
	ch chan Event
}

// NewRecorder buffers up to size events; further events are dropped.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

// Drain returns every buffered event.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
