package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aliftan/zero-kanban/domain"
)

// ErrDispatcherSaturated is returned by Dispatcher.Publish when no worker
// accepted the event within the handoff timeout.
var ErrDispatcherSaturated = errors.New("event dispatcher is saturated")

var errDispatcherClosed = errors.New("event dispatcher is closed")

type eventSink interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// DispatcherConfig sizes the worker pool of a Dispatcher.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer < 0 {
		c.Buffer = 0
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	return c
}

// Dispatcher hands events to a pool of workers that publish them to the sink,
// so a slow queue never holds up a board mutation.
type Dispatcher struct {
	cfg    DispatcherConfig
	sink   eventSink
	logger *log.Logger

	mu     sync.RWMutex
	jobs   chan domain.Event
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers goroutines publishing to sink.
func NewDispatcher(sink eventSink, cfg DispatcherConfig, logger *log.Logger) *Dispatcher {
	if sink == nil {
		panic("storage.NewDispatcher: sink is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		jobs:   make(chan domain.Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.PublishTimeout, cfg.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		err := d.sink.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"event":  ev.Type,
				"worker": id,
			}).Error("event publish failed")
		}
	}
}

// Publish queues ev for delivery. It waits at most HandoffTimeout for a free
// slot and never waits on the sink itself.
func (d *Dispatcher) Publish(ctx context.Context, ev domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errDispatcherClosed
	}

	select {
	case d.jobs <- ev:
		return nil
	default:
	}
	if d.cfg.HandoffTimeout <= 0 {
		return ErrDispatcherSaturated
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- ev:
		return nil
	case <-timer.C:
		return ErrDispatcherSaturated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the queued ones to be published.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}
