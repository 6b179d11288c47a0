package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sweepbot-go/internal/metrics"
)

var (
	// ErrQueueFull is returned when the dispatcher cannot accept more events.
	ErrQueueFull = errors.New("notification queue full")
	// ErrClosed is returned for events submitted after Close.
	ErrClosed = errors.New("notification dispatcher closed")
)

// Dispatcher queues events and delivers them on a background goroutine so the trading
// cycle never waits on a remote channel.
type Dispatcher struct {
	sink    Sink
	log     zerolog.Logger
	timeout time.Duration
	queue   chan Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the delivery goroutine.
func NewDispatcher(sink Sink, log zerolog.Logger, queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		log:     log,
		timeout: timeout,
		queue:   make(chan Event, queueSize),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Notify enqueues ev without blocking.
func (d *Dispatcher) Notify(_ context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		metrics.NotifyFailuresTotal.WithLabelValues("queue").Inc()
		d.log.Warn().Str("event", ev.Kind()).Str("symbol", ev.Symbol()).Msg("notification dropped, queue full")
		return ErrQueueFull
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Notify(ctx, ev); err != nil {
			d.log.Warn().Err(err).Str("event", ev.Kind()).Str("symbol", ev.Symbol()).Msg("notification failed")
		}
		cancel()
	}
}

// Close stops intake and waits for queued events to drain or ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.log.Warn().Int("pending", len(d.queue)).Msg("notification drain interrupted")
		return ctx.Err()
	}
}
