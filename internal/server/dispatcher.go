// Package server runs events against the transaction engine on a fixed pool
// of workers. Each worker carries one event to completion before taking the
// next; write events serialise on the engine's exclusive writer.
package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"idmcore/internal/core"
	"idmcore/pkg/domain"
)

// Error is the class of dispatcher errors.
var Error = errs.Class("dispatcher")

// ErrClosed is returned by Submit once the dispatcher has been closed.
var ErrClosed = Error.New("closed")

// Result is the outcome of one event.
type Result struct {
	Entries []domain.Entry
	Exists  bool
	Err     error
}

type job struct {
	ctx   context.Context
	event domain.Event
	reply chan Result
}

// Dispatcher hands events to workers.
type Dispatcher struct {
	log     *zap.Logger
	engine  *core.Server
	workers int

	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a dispatcher with the given number of workers. Run starts them.
func New(log *zap.Logger, engine *core.Server, workers int) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		log:     log,
		engine:  engine,
		workers: workers,
		jobs:    make(chan job),
		done:    make(chan struct{}),
	}
}

// Run serves events until ctx ends or Close is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		worker := i
		group.Go(func() error {
			d.log.Debug("worker started", zap.Int("worker", worker))
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-d.done:
					return nil
				case j := <-d.jobs:
					j.reply <- d.handle(j.ctx, j.event)
				}
			}
		})
	}
	return group.Wait()
}

// Close stops the workers. Events already taken by a worker finish.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() { close(d.done) })
	return nil
}

// Submit runs ev on a worker and waits for its result.
func (d *Dispatcher) Submit(ctx context.Context, ev domain.Event) Result {
	j := job{ctx: ctx, event: ev, reply: make(chan Result, 1)}
	select {
	case d.jobs <- j:
	case <-d.done:
		return Result{Err: ErrClosed}
	case <-ctx.Done():
		return Result{Err: Error.Wrap(ctx.Err())}
	}
	select {
	case r := <-j.reply:
		return r
	case <-ctx.Done():
		return Result{Err: Error.Wrap(ctx.Err())}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev domain.Event) (res Result) {
	defer func() {
		if res.Err != nil {
			d.log.Warn("event failed",
				zap.String("operation", string(ev.Operation())),
				zap.Stringer("identity", ev.Identity()),
				zap.Error(res.Err))
		}
	}()

	switch ev := ev.(type) {
	case *domain.SearchEvent:
		txn, err := d.engine.Read(ctx)
		if err != nil {
			return Result{Err: err}
		}
		entries, err := txn.Search(ctx, ev)
		return Result{Entries: entries, Err: err}
	case *domain.ExistsEvent:
		txn, err := d.engine.Read(ctx)
		if err != nil {
			return Result{Err: err}
		}
		found, err := txn.Exists(ctx, ev)
		return Result{Exists: found, Err: err}
	case *domain.CreateEvent:
		return d.write(ctx, func(txn *core.WriteTransaction) error { return txn.Create(ctx, ev) })
	case *domain.ModifyEvent:
		return d.write(ctx, func(txn *core.WriteTransaction) error { return txn.Modify(ctx, ev) })
	default:
		return Result{Err: Error.New("unsupported event %T", ev)}
	}
}

func (d *Dispatcher) write(ctx context.Context, fn func(*core.WriteTransaction) error) Result {
	txn, err := d.engine.Write(ctx)
	if err != nil {
		return Result{Err: err}
	}
	if err := fn(txn); err != nil {
		txn.Abort()
		return Result{Err: err}
	}
	if err := txn.Commit(ctx); err != nil {
		return Result{Err: fmt.Errorf("commit: %w", err)}
	}
	return Result{}
}
