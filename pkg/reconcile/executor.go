// Package reconcile drives a plan against a netos.Driver and rolls back
// everything it changed when an operation fails.
package reconcile

import (
	"Netlab/pkg/errdefs"
	"Netlab/pkg/netos"
	"Netlab/pkg/plan"
	"Netlab/pkg/teardown"
	"Netlab/pkg/util"
	"context"
	"errors"
	"fmt"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"sync"
	"time"
)

type Options struct {
	// Parallelism > 1 runs independent operations of a batch concurrently.
	Parallelism int
	// Retries bounds the retries of an operation failing transiently.
	Retries       int
	RetryInterval time.Duration
}

// Result counts what an apply did. Journal holds the operations that
// changed state, in completion order.
type Result struct {
	Executed  int
	Satisfied int
	Journal   *plan.Journal

	mu sync.Mutex
}

func (r *Result) count(satisfied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if satisfied {
		r.Satisfied++
	} else {
		r.Executed++
	}
}

// ApplyError is a failed apply: the operation that failed, why, and the
// outcome of rolling back. Both errors stay reachable through errors.Is.
// Op is nil when the apply was canceled between operations.
type ApplyError struct {
	Op       *plan.Op
	Err      error
	Rollback error
}

func (e *ApplyError) Error() string {
	msg := fmt.Sprintf("apply failed: %v", e.Err)
	if e.Op != nil {
		msg = fmt.Sprintf("apply failed at %s: %v", e.Op, e.Err)
	}
	if e.Rollback != nil {
		msg += fmt.Sprintf("; %v", e.Rollback)
	}
	return msg
}

func (e *ApplyError) Unwrap() []error {
	if e.Rollback == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Rollback}
}

type Executor struct {
	d     netos.Driver
	opts  Options
	log   *logrus.Entry
	locks *keyedMutex
}

func New(d netos.Driver, opts Options, log *logrus.Entry) *Executor {
	if log == nil {
		log = logrus.WithField("subsystem", "reconcile")
	}
	return &Executor{d: d, opts: opts, log: log, locks: newKeyedMutex()}
}

// Apply executes p. On the first fatal failure or cancellation it issues
// nothing more, undoes the journal in reverse and returns an *ApplyError.
func (e *Executor) Apply(ctx context.Context, p *plan.Plan) (*Result, error) {
	res := &Result{Journal: &plan.Journal{}}

	var failed *plan.Op
	var err error
	if e.opts.Parallelism > 1 {
		failed, err = e.parallel(ctx, p, res)
	} else {
		failed, err = e.serial(ctx, p, res)
	}
	if err == nil {
		e.log.WithFields(logrus.Fields{
			"executed":  res.Executed,
			"satisfied": res.Satisfied,
		}).Info("apply complete")
		return res, nil
	}

	aerr := &ApplyError{Op: failed, Err: err}
	log := e.log.WithError(err)
	if failed != nil {
		log = log.WithField("op", failed.String())
	}
	log.Error("apply failed")
	if n := res.Journal.Len(); n > 0 {
		e.log.WithField("operations", n).Warn("rolling back")
		td := teardown.New(e.d, e.log.WithField("phase", "rollback"))
		td.Retries, td.RetryInterval = e.opts.Retries, e.opts.RetryInterval
		if _, rerr := td.Journal(context.WithoutCancel(ctx), res.Journal.Entries()); rerr != nil {
			aerr.Rollback = errdefs.New(errdefs.KindRollback, "rollback", rerr)
		}
	}
	return res, aerr
}

func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errdefs.New(errdefs.KindCanceled, "apply", err)
	}
	return nil
}

func (e *Executor) serial(ctx context.Context, p *plan.Plan, res *Result) (*plan.Op, error) {
	for _, op := range p.Ops {
		if err := canceled(ctx); err != nil {
			return nil, err
		}
		if err := e.step(ctx, op, res); err != nil {
			return &op, err
		}
	}
	return nil, nil
}

// parallel runs batch after batch; a batch starts only once the previous
// one has fully completed. Operations left unstarted because ctx was
// canceled fail the apply.
func (e *Executor) parallel(ctx context.Context, p *plan.Plan, res *Result) (*plan.Op, error) {
	for _, batch := range p.Batches() {
		if err := canceled(ctx); err != nil {
			return nil, err
		}

		var (
			mu     sync.Mutex
			failed *plan.Op
			ferr   error
		)
		fail := func(op *plan.Op, err error) {
			mu.Lock()
			if ferr == nil {
				failed, ferr = op, err
			}
			mu.Unlock()
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.Parallelism)
		for _, op := range batch {
			op := op
			g.Go(func() error {
				if err := canceled(ctx); err != nil {
					fail(nil, err)
					return err
				}
				// a sibling failed
				if gctx.Err() != nil {
					return nil
				}
				unlock := e.locks.lock(op.Locks())
				err := e.step(gctx, op, res)
				unlock()
				if err != nil {
					fail(&op, err)
				}
				return err
			})
		}
		_ = g.Wait()
		if ferr != nil {
			return failed, ferr
		}
	}
	return nil, nil
}

// step performs one operation with retries and journals it if it changed
// state.
func (e *Executor) step(ctx context.Context, op plan.Op, res *Result) error {
	log := e.log.WithFields(logrus.Fields{"op": op.Kind.String(), "id": op.ID})

	var prior plan.Prior
	err := util.Retry(ctx, e.opts.Retries, e.opts.RetryInterval, func() error {
		var err error
		prior, err = netos.Call(ctx, e.d, op)
		return err
	}, func(err error, wait time.Duration) {
		log.WithError(err).WithField("wait", wait).Warn("transient failure, retrying")
	})

	switch {
	case err == nil:
		res.Journal.Record(op, prior)
		res.count(false)
		log.WithField("target", op.String()).Debug("applied")
		return nil
	case errors.Is(err, errdefs.ErrAlreadySatisfied):
		res.count(true)
		log.WithField("target", op.String()).Debug("already satisfied")
		return nil
	}
	return err
}
