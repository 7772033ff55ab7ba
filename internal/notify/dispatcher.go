package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/fresh-pickup/internal/domain/order"
)

// Channel delivers a job to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, j Job) error
}

// Options configures a Dispatcher.
type Options struct {
	// Workers is the number of concurrent consumers. Defaults to 2.
	Workers int
	// PushTimeout bounds a single enqueue. Defaults to 500ms.
	PushTimeout time.Duration
	// SendTimeout bounds the delivery of one job to all channels.
	// Defaults to 30s.
	SendTimeout time.Duration
	// DrainPoll is how long a draining worker waits for another job
	// before treating the queue as empty. Defaults to 100ms.
	DrainPoll     time.Duration
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

// Dispatcher queues committed orders and delivers them to channels in the
// background. It implements order.Notifier.
type Dispatcher struct {
	queue    Queue
	channels []Channel
	workers  int
	pushTO   time.Duration
	sendTO   time.Duration
	pollTO   time.Duration
	lg       *zap.Logger

	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	drainCtx context.Context

	failures metric.Int64Counter
	dropped  metric.Int64Counter
}

var _ order.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. Call Run to start the workers.
func NewDispatcher(q Queue, channels []Channel, opts Options) (*Dispatcher, error) {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 500 * time.Millisecond
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.DrainPoll <= 0 {
		opts.DrainPoll = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}

	d := &Dispatcher{
		queue:    q,
		channels: channels,
		workers:  opts.Workers,
		pushTO:   opts.PushTimeout,
		sendTO:   opts.SendTimeout,
		pollTO:   opts.DrainPoll,
		lg:       opts.Logger,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}

	meter := opts.MeterProvider.Meter("github.com/xenking/fresh-pickup/internal/notify")
	var err error
	if d.failures, err = meter.Int64Counter("pickup.notify.failures",
		metric.WithDescription("Notification deliveries that failed, per channel"),
	); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	if d.dropped, err = meter.Int64Counter("pickup.notify.dropped",
		metric.WithDescription("Notifications dropped before reaching the queue"),
	); err != nil {
		return nil, errors.Wrap(err, "dropped counter")
	}
	return d, nil
}

// Notify enqueues o for delivery. It never waits longer than the push
// timeout and only logs failures: the order is already committed.
func (d *Dispatcher) Notify(ctx context.Context, o *order.Order) {
	if len(d.channels) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.pushTO)
	defer cancel()

	if err := d.queue.Push(ctx, NewJob(o).Marshal()); err != nil {
		d.dropped.Add(ctx, 1)
		d.lg.Warn("Notification dropped", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// Run consumes the queue with the configured number of workers. Workers
// stop without draining when ctx is cancelled, and drain the queue first
// when Shutdown is called. Run must be called at most once.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	d.lg.Info("Notification workers started",
		zap.Int("workers", d.workers),
		zap.Int("channels", len(d.channels)),
	)

	popCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.stopping:
			cancel()
		case <-popCtx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	for range d.workers {
		g.Go(func() error {
			d.work(ctx, popCtx)
			return nil
		})
	}
	return g.Wait()
}

// Shutdown stops taking new waits on the queue, delivers the jobs already
// queued and waits for the workers to exit. Jobs still queued when ctx
// expires are left behind and ctx.Err is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.drainCtx = ctx
	d.mu.Unlock()
	d.stopOnce.Do(func() { close(d.stopping) })

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx, popCtx context.Context) {
	for {
		payload, err := d.queue.Pop(popCtx)
		if err != nil {
			if popCtx.Err() != nil {
				d.drain(ctx)
				return
			}
			d.lg.Error("Pop notification", zap.Error(err))
			select {
			case <-popCtx.Done():
				d.drain(ctx)
				return
			case <-time.After(time.Second):
			}
			continue
		}
		d.handle(ctx, payload)
	}
}

// drain delivers queued jobs until the queue is empty or the shutdown
// deadline passes. It does nothing unless Shutdown was called.
func (d *Dispatcher) drain(ctx context.Context) {
	d.mu.Lock()
	dctx := d.drainCtx
	d.mu.Unlock()
	if dctx == nil {
		return
	}
	for dctx.Err() == nil {
		pctx, cancel := context.WithTimeout(dctx, d.pollTO)
		payload, err := d.queue.Pop(pctx)
		cancel()
		if err != nil || payload == nil {
			return
		}
		d.handle(ctx, payload)
	}
}

func (d *Dispatcher) handle(ctx context.Context, payload []byte) {
	if payload == nil {
		return
	}
	j, err := UnmarshalJob(payload)
	if err != nil {
		d.lg.Error("Discarding malformed notification", zap.Error(err))
		return
	}
	d.Deliver(ctx, j)
}

// Deliver sends j to every channel concurrently. A failing channel is
// logged and counted and does not affect the others. Cancelling ctx does
// not abort a delivery in progress; the send timeout bounds it.
func (d *Dispatcher) Deliver(ctx context.Context, j Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTO)
	defer cancel()

	var g errgroup.Group
	for _, ch := range d.channels {
		g.Go(func() error {
			if err := ch.Send(ctx, j); err != nil {
				d.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", ch.Name())))
				d.lg.Warn("Notification failed",
					zap.String("channel", ch.Name()),
					zap.String("order_id", j.OrderID),
					zap.Error(err),
				)
				return nil
			}
			d.lg.Debug("Notification sent",
				zap.String("channel", ch.Name()),
				zap.String("order_id", j.OrderID),
			)
			return nil
		})
	}
	_ = g.Wait()
}
