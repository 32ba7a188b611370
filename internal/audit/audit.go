// Package audit records identity lifecycle events for operational review.
// Events are buffered through a channel worker so an unavailable broker can
// never block a resolve or sign-in path.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event kinds emitted by the lifecycle manager.
const (
	KindSignedIn        = "signed_in"
	KindSignedOut       = "signed_out"
	KindProfileRepaired = "profile_repaired"
	KindRolePromoted    = "role_promoted"
	KindResolveFailed   = "resolve_failed"
)

// Event is one structured lifecycle audit record.
type Event struct {
	Kind       string            `json:"kind"`
	IdentityID string            `json:"identity_id"`
	Email      string            `json:"email,omitempty"`
	At         time.Time         `json:"at"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Producer delivers encoded events to the sink. The Kafka implementation
// lives in kafka.go; tests swap in a recorder.
type Producer interface {
	Produce(ctx context.Context, key string, value []byte) error
	Close()
}

// Publisher accepts events and hands them to a background worker. A nil
// *Publisher is valid and drops everything, so wiring stays unconditional.
type Publisher struct {
	producer Producer
	inbox    chan Event
	log      *slog.Logger
}

// New constructs a Publisher over producer. Returns nil when producer is nil
// (auditing not configured).
func New(producer Producer, log *slog.Logger) *Publisher {
	if producer == nil {
		return nil
	}
	return &Publisher{
		producer: producer,
		inbox:    make(chan Event, 256),
		log:      log,
	}
}

// Emit queues an event without blocking. When the buffer is full the event is
// dropped and logged; auditing must never apply backpressure to the
// lifecycle.
func (p *Publisher) Emit(ev Event) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case p.inbox <- ev:
	default:
		p.log.Warn("audit buffer full, dropping event", "kind", ev.Kind)
	}
}

// Run consumes the inbox until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	if p == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.inbox:
			value, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("encode audit event", "err", err)
				continue
			}
			if err := p.producer.Produce(ctx, ev.IdentityID, value); err != nil {
				p.log.Warn("produce audit event", "kind", ev.Kind, "err", err)
			}
		}
	}
}
