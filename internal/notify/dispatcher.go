package notify

import (
	"context"
	"sync"
	"time"

	"github.com/dagbolade/sudomode/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 100
	DefaultTimeout   = 10 * time.Second
)

// Dispatcher delivers alerts in the background. Dispatch never blocks the
// caller: when the queue is full the alert is dropped and logged.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	metrics  *metrics.Metrics

	queue chan Alert
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Metrics   *metrics.Metrics
}

func NewDispatcher(notifier Notifier, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	d := &Dispatcher{
		notifier: notifier,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		queue:    make(chan Alert, cfg.QueueSize),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	return d
}

// Dispatch queues alert for delivery and reports whether it was accepted.
func (d *Dispatcher) Dispatch(alert Alert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		log.Warn().Str("request_id", alert.RequestID).Msg("dispatcher closed, alert dropped")
		d.metrics.NotificationDropped()
		return false
	}

	select {
	case d.queue <- alert:
		return true
	default:
		log.Warn().Str("request_id", alert.RequestID).Msg("notification queue full, alert dropped")
		d.metrics.NotificationDropped()
		return false
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for alert := range d.queue {
		d.deliver(alert)
	}
}

func (d *Dispatcher) deliver(alert Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("request_id", alert.RequestID).Msg("notifier panicked")
			d.metrics.ObserveNotification(false)
		}
	}()

	if err := d.notifier.Notify(ctx, alert); err != nil {
		log.Error().Err(err).Str("request_id", alert.RequestID).Msg("failed to send notification")
		d.metrics.ObserveNotification(false)
		return
	}

	log.Debug().Str("request_id", alert.RequestID).Msg("notification sent")
	d.metrics.ObserveNotification(true)
}
