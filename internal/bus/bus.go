// Package bus wraps the internal pub/sub fabric (NATS): shard workers
// publish onto well-known subjects through internal/wiring, and a
// Subscriber can read them back. internal/ws does not subscribe to the
// bus; internal/wiring feeds it directly. Publish failures never block a shard worker —
// they are logged and dropped behind a circuit breaker, the same fail-open
// discipline as the identity resolver (internal/identity).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Subjects used on the internal bus.
const (
	SubjectEmotionsState       = "emotions.state"
	SubjectInterventionsCommand = "interventions.command"
	SubjectSessionsLifecycle   = "sessions.lifecycle"
)

const publishDeadline = 100 * time.Millisecond

// Publisher publishes JSON-encoded payloads onto bus subjects, failing open
// (log + drop) rather than blocking the caller.
type Publisher struct {
	conn    *nats.Conn
	breaker *gobreaker.CircuitBreaker[struct{}]
	log     *zap.Logger
}

// Connect dials NATS at url and returns a ready Publisher.
func Connect(url string, log *zap.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Timeout(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	settings := gobreaker.Settings{
		Name:    "bus-publish",
		Timeout: 5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	}
	return &Publisher{
		conn:    conn,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		log:     log,
	}, nil
}

// Publish marshals v and publishes it to subject, within publishDeadline.
// Errors are logged and swallowed: callers on the hot path never block or
// fail because the bus is unavailable.
func (p *Publisher) Publish(ctx context.Context, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		if p.log != nil {
			p.log.Error("bus: marshal failed", zap.String("subject", subject), zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishDeadline)
	defer cancel()

	_, err = p.breaker.Execute(func() (struct{}, error) {
		select {
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		default:
		}
		return struct{}{}, p.conn.Publish(subject, data)
	})
	if err != nil && p.log != nil {
		p.log.Warn("bus: publish dropped", zap.String("subject", subject), zap.Error(err))
	}
}

// Close closes the underlying connection without draining it.
func (p *Publisher) Close() {
	p.conn.Close()
}

// Subscriber subscribes to bus subjects and decodes payloads for internal/ws.
type Subscriber struct {
	conn *nats.Conn
}

// NewSubscriber wraps an existing NATS connection.
func NewSubscriber(conn *nats.Conn) *Subscriber {
	return &Subscriber{conn: conn}
}

// Subscribe returns a channel of raw JSON payloads received on subject.
// The subscription is closed when ctx is cancelled.
func (s *Subscriber) Subscribe(ctx context.Context, subject string) (<-chan []byte, error) {
	out := make(chan []byte, 256)
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case out <- msg.Data:
		default:
			// slow consumer: drop rather than block the NATS dispatch goroutine.
		}
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(out)
	}()
	return out, nil
}
