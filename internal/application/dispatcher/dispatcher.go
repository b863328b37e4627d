package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/kiuva-approval/internal/domain/event"
)

// ErrClosed is returned when publishing to a closed dispatcher
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher fans approval events out to subscribers
type Dispatcher interface {
	// Subscribe registers a named handler for an event type
	Subscribe(eventType event.Type, name string, handler Handler)

	// Publish runs every handler for the event in registration order and
	// returns all handler failures joined together
	Publish(ctx context.Context, evt *event.Event) error

	// PublishAsync runs the handlers on their own goroutines and returns immediately
	PublishAsync(ctx context.Context, evt *event.Event)

	// Subscribers returns the handler names registered for an event type
	Subscribers(eventType event.Type) []string

	// Close stops accepting events and waits for in-flight async handlers
	// until ctx is done
	Close(ctx context.Context) error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type eventDispatcher struct {
	mu     sync.RWMutex
	subs   map[event.Type][]subscription
	logger Logger

	// lifecycle guards closed and every inflight.Add
	lifecycle sync.Mutex
	closed    bool
	inflight  sync.WaitGroup
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		subs:   make(map[event.Type][]subscription),
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("%s#%d", eventType, len(d.subs[eventType]))
	}
	d.subs[eventType] = append(d.subs[eventType], subscription{name: name, handler: handler})

	d.logger.Info("Subscriber registered", "event_type", eventType, "subscriber", name)
}

func (d *eventDispatcher) Subscribers(eventType event.Type) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.subs[eventType]))
	for _, s := range d.subs[eventType] {
		names = append(names, s.name)
	}
	return names
}

func (d *eventDispatcher) snapshot(eventType event.Type) []subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()

	subs := make([]subscription, len(d.subs[eventType]))
	copy(subs, d.subs[eventType])
	return subs
}

func (d *eventDispatcher) isClosed() bool {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	return d.closed
}

func (d *eventDispatcher) Publish(ctx context.Context, evt *event.Event) error {
	if d.isClosed() {
		return ErrClosed
	}

	var errs []error
	for _, s := range d.snapshot(evt.Type) {
		if err := d.run(ctx, evt, s); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) PublishAsync(ctx context.Context, evt *event.Event) {
	subs := d.snapshot(evt.Type)

	d.lifecycle.Lock()
	if d.closed {
		d.lifecycle.Unlock()
		d.logger.Error("Dropping event, dispatcher is closed",
			"event_type", evt.Type,
			"event_id", evt.ID,
		)
		return
	}
	d.inflight.Add(len(subs))
	d.lifecycle.Unlock()

	for _, s := range subs {
		go func(s subscription) {
			defer d.inflight.Done()
			_ = d.run(ctx, evt, s)
		}(s)
	}
}

func (d *eventDispatcher) Close(ctx context.Context) error {
	d.lifecycle.Lock()
	if d.closed {
		d.lifecycle.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.lifecycle.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for subscribers: %w", ctx.Err())
	}
}

// run executes one handler, converting a panic into an error
func (d *eventDispatcher) run(ctx context.Context, evt *event.Event, s subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
		if err != nil {
			d.logger.Error("Subscriber failed",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"subject_id", evt.SubjectID,
				"subscriber", s.name,
				"error", err,
			)
		}
	}()

	return s.handler(ctx, evt)
}
