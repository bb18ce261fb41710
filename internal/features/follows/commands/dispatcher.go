package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"feedkeeper/internal/core"

	"github.com/VictoriaMetrics/metrics"
)

var errStopped = core.NewInternalError("The command dispatcher is stopped.", nil)

type job struct {
	ctx   context.Context
	req   Request
	reply chan Update
}

// Dispatcher runs commands one at a time on its own goroutine, so store
// operations requested by clients never interleave.
type Dispatcher struct {
	handler  Handler
	logger   *core.Logger
	queue    chan job
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher holding up to queueSize waiting commands
func NewDispatcher(handler Handler, logger *core.Logger, queueSize int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		handler:  handler,
		logger:   logger,
		queue:    make(chan job, queueSize),
		stopChan: make(chan struct{}),
	}
}

// Start begins processing commands
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop stops the loop once the running command returns
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopChan) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for command dispatcher: %w", ctx.Err())
	}
}

// Submit queues req and waits for its answer. Failures are answered with
// an error update rather than returned; the returned error is only set
// when the answer could not be obtained at all.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Update, error) {
	select {
	case <-d.stopChan:
		return Update{}, errStopped
	default:
	}

	j := job{ctx: ctx, req: req, reply: make(chan Update, 1)}
	select {
	case d.queue <- j:
	case <-d.stopChan:
		return Update{}, errStopped
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}

	select {
	case u := <-j.reply:
		return u, nil
	case <-ctx.Done():
		return Update{}, ctx.Err()
	case <-d.stopChan:
		// the loop may have answered just before stopping
		select {
		case u := <-j.reply:
			return u, nil
		default:
			return Update{}, errStopped
		}
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case j := <-d.queue:
			j.reply <- d.run(j.ctx, j.req)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, req Request) Update {
	action := req.Command.Action()
	start := time.Now()
	ctx = context.WithValue(ctx, core.RequestIDKey, req.ID)
	logger := d.logger.WithContext(ctx).With("action", action)

	u, err := req.Command.apply(ctx, d.handler)
	metrics.GetOrCreateHistogram(fmt.Sprintf(`feedkeeper_command_duration_seconds{action=%q}`, action)).UpdateDuration(start)
	if err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`feedkeeper_commands_total{action=%q,result="error"}`, action)).Inc()
		logger.Warn("Command failed", "error", err)
		u = ErrorUpdate(err)
	} else {
		metrics.GetOrCreateCounter(fmt.Sprintf(`feedkeeper_commands_total{action=%q,result="ok"}`, action)).Inc()
		logger.Debug("Command finished", "op", u.Op, "duration", time.Since(start))
	}
	u.ID = req.ID
	return u
}
