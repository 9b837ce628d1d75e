package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-dm-backend/internal/observability"
)

// Dispatcher delivers notifications to a Sink from a bounded in-memory queue
// drained by a fixed set of workers.
//
// Enqueue never blocks: when the queue is full the notification is dropped,
// logged and counted. Sink failures are logged and counted, never returned.
// Delivery is best effort; queued items are lost if the process stops.
type Dispatcher struct {
	sink    Sink
	queue   chan Notification
	workers int
	timeout time.Duration
	log     zerolog.Logger

	wg sync.WaitGroup
}

// Options tune a Dispatcher. Zero values fall back to defaults.
type Options struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// NewDispatcher builds a Dispatcher writing to sink.
func NewDispatcher(sink Sink, opts Options, log zerolog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan Notification, opts.QueueSize),
		workers: opts.Workers,
		timeout: opts.Timeout,
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// Enqueue schedules ns for delivery and reports how many were accepted.
func (d *Dispatcher) Enqueue(ns ...Notification) int {
	accepted := 0
	for _, n := range ns {
		select {
		case d.queue <- n:
			accepted++
		default:
			observability.Notifications.WithLabelValues("dropped").Inc()
			d.log.Warn().
				Str("recipient", n.Recipient).
				Str("kind", n.Kind).
				Msg("notification queue full; dropping")
		}
	}
	return accepted
}

// Run starts the workers and blocks until ctx is cancelled. Items still
// queued at that point are delivered before Run returns, each bounded by the
// per-write timeout.
func (d *Dispatcher) Run(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	<-ctx.Done()
	d.wg.Wait()
	d.drain()
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			d.deliver(n)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		default:
			return
		}
	}
}

// deliver writes one notification with its own deadline, detached from the
// request that produced it.
func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Write(ctx, n); err != nil {
		observability.Notifications.WithLabelValues("failed").Inc()
		d.log.Error().Err(err).
			Str("recipient", n.Recipient).
			Str("origin", n.Origin).
			Msg("notification write failed")
		return
	}
	observability.Notifications.WithLabelValues("sent").Inc()
	d.log.Debug().Str("recipient", n.Recipient).Str("kind", n.Kind).Msg("notification written")
}
