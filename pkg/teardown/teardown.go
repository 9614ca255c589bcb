// Package teardown removes what an apply created, either for a whole
// topology or for exactly the operations recorded in a journal.
package teardown

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"Netlab/pkg/netos"
	"Netlab/pkg/plan"
	"Netlab/pkg/util"
	"context"
	"errors"
	"github.com/hashicorp/go-multierror"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"time"
)

// Report lists what a teardown removed and what was already gone.
type Report struct {
	Removed []string
	Absent  []string
}

type Teardown struct {
	d   netos.Driver
	log *logrus.Entry

	Retries       int
	RetryInterval time.Duration
}

func New(d netos.Driver, log *logrus.Entry) *Teardown {
	if log == nil {
		log = logrus.WithField("subsystem", "teardown")
	}
	return &Teardown{d: d, log: log}
}

// Ops returns the operations that remove every artifact of t, in the
// reverse of the apply order. Offloads are not restored since their pair
// is deleted, and forwarding is reset to disabled.
func Ops(t *api.Topology) ([]plan.Op, error) {
	p, err := plan.New(t)
	if err != nil {
		return nil, err
	}
	ops := make([]plan.Op, 0, len(p.Ops))
	for i := len(p.Ops) - 1; i >= 0; i-- {
		op := p.Ops[i]
		if op.Kind == plan.SetOffload {
			continue
		}
		if inv, ok := plan.Invert(op, plan.Prior{}); ok {
			ops = append(ops, inv)
		}
	}
	return ops, nil
}

// Topology removes every artifact t describes, whether or not this process
// created it.
func (td *Teardown) Topology(ctx context.Context, t *api.Topology) (*Report, error) {
	ops, err := Ops(t)
	if err != nil {
		return &Report{}, err
	}
	return td.run(ctx, ops)
}

// Journal undoes the journaled operations in reverse, restoring the
// forwarding and offload values they overwrote.
func (td *Teardown) Journal(ctx context.Context, entries []plan.Entry) (*Report, error) {
	ops := make([]plan.Op, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if inv, ok := plan.Invert(entries[i].Op, entries[i].Prior); ok {
			ops = append(ops, inv)
		}
	}
	return td.run(ctx, ops)
}

// run attempts every operation and aggregates the failures.
func (td *Teardown) run(ctx context.Context, ops []plan.Op) (*Report, error) {
	report := &Report{}
	var result *multierror.Error

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, errdefs.New(errdefs.KindCanceled, "teardown", err))
			break
		}

		log := td.log.WithField("op", op.String())
		err := util.Retry(ctx, td.Retries, td.RetryInterval, func() error {
			_, err := netos.Call(ctx, td.d, op)
			return err
		}, func(err error, wait time.Duration) {
			log.WithError(err).WithField("wait", wait).Warn("transient failure, retrying")
		})

		switch {
		case err == nil:
			log.Debug("removed")
			report.Removed = append(report.Removed, op.String())
		case errors.Is(err, errdefs.ErrAbsent), errors.Is(err, errdefs.ErrAlreadySatisfied):
			log.Debug("already absent")
			report.Absent = append(report.Absent, op.String())
		default:
			log.WithError(err).Warn("teardown step failed")
			result = multierror.Append(result, pkgerrors.Wrap(err, op.String()))
		}
	}
	return report, result.ErrorOrNil()
}
