// Package notify delivers patient-facing events (approval, cancellation,
// discharge) to an external sink. Delivery is best effort: the scheduling
// core never fails an operation because a notification could not be sent.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type Kind string

const (
	KindAppointmentApproved  Kind = "APPOINTMENT_APPROVED"
	KindAppointmentRejected  Kind = "APPOINTMENT_REJECTED"
	KindAppointmentCancelled Kind = "APPOINTMENT_CANCELLED"
	KindPatientDischarged    Kind = "PATIENT_DISCHARGED"
)

type Event struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Kind        Kind      `json:"kind"`
	Message     string    `json:"message"`
	Reference   uuid.UUID `json:"reference"`
	CreatedAt   time.Time `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Sink performs the actual delivery of one event.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// LogSink writes events to the structured log.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(_ context.Context, ev Event) error {
	s.Log.Info("notification",
		zap.String("recipient_id", ev.RecipientID.String()),
		zap.String("kind", string(ev.Kind)),
		zap.String("reference", ev.Reference.String()),
		zap.String("message", ev.Message),
	)
	return nil
}

const sendTimeout = 5 * time.Second

// Dispatcher queues events and delivers them from a single worker through a
// circuit breaker. When the queue is full new events are dropped.
type Dispatcher struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker[struct{}]
	log     *zap.Logger
	events  chan Event
	done    chan struct{}
	onDrop  func()

	// mu guards closed; Notify holds it shared while sending on events.
	mu     sync.RWMutex
	closed bool
}

type Option func(*Dispatcher)

// WithDropHook registers a callback invoked whenever an event is dropped.
func WithDropHook(fn func()) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

func NewDispatcher(sink Sink, buffer int, log *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		log:    log,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		onDrop: func() {},
	}
	d.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "notify",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("notification breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	for _, opt := range opts {
		opt(d)
	}
	go d.worker()
	return d
}

// Notify never blocks. Events arriving after Shutdown are dropped.
func (d *Dispatcher) Notify(_ context.Context, ev Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev, "notification dispatcher closed, dropping event")
		return
	}
	select {
	case d.events <- ev:
	default:
		d.drop(ev, "notification buffer full, dropping event")
	}
}

func (d *Dispatcher) drop(ev Event, msg string) {
	d.onDrop()
	d.log.Warn(msg,
		zap.String("kind", string(ev.Kind)),
		zap.String("reference", ev.Reference.String()),
	)
}

// Shutdown stops accepting events and waits for the queue to drain. Calling
// it more than once is safe.
func (d *Dispatcher) Shutdown(timeout time.Duration) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-time.After(timeout):
		d.log.Warn("notification dispatcher shutdown timed out; some events may be lost")
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for ev := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		_, err := d.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, d.sink.Send(ctx, ev)
		})
		cancel()
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				d.onDrop()
			}
			d.log.Error("deliver notification",
				zap.String("kind", string(ev.Kind)),
				zap.String("reference", ev.Reference.String()),
				zap.Error(err),
			)
		}
	}
}
