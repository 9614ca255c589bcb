package pkg

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"Netlab/pkg/netos"
	"Netlab/pkg/plan"
	"Netlab/pkg/reconcile"
	"Netlab/pkg/teardown"
	"Netlab/pkg/validate"
	"context"
	"github.com/sirupsen/logrus"
)

// Manager validates, plans, applies and tears down topologies against a
// single driver. It holds no topology state of its own; the host is the
// source of truth.
type Manager struct {
	d    netos.Driver
	opts reconcile.Options
	log  *logrus.Entry
}

// NewManager creates a Manager on top of d, which is either the host
// kernel or an in-memory network.
func NewManager(d netos.Driver, opts reconcile.Options, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.WithField("subsystem", "manager")
	}
	return &Manager{d: d, opts: opts, log: log}
}

func (m *Manager) Validate(t *api.Topology) error {
	return validate.Check(t)
}

// Plan validates t and expands it into operations. Nothing touches the
// driver.
func (m *Manager) Plan(t *api.Topology) (*plan.Plan, error) {
	if err := validate.Check(t); err != nil {
		return nil, err
	}
	return plan.New(t)
}

// Apply brings the host to t. Validation and the privilege check happen
// before the first OS call.
func (m *Manager) Apply(ctx context.Context, t *api.Topology) (*reconcile.Result, error) {
	if err := validate.Check(t); err != nil {
		return nil, err
	}
	if err := m.d.CheckPrivilege(); err != nil {
		return nil, err
	}
	p, err := plan.New(t)
	if err != nil {
		return nil, err
	}

	m.log.WithField("operations", p.Len()).Info("applying topology")
	e := reconcile.New(m.d, m.opts, m.log.WithField("subsystem", "reconcile"))
	return e.Apply(ctx, p)
}

// Teardown removes every artifact of t. A removal that fails is reported
// as errdefs.ErrRollback after every other removal has been attempted.
func (m *Manager) Teardown(ctx context.Context, t *api.Topology) (*teardown.Report, error) {
	if err := validate.Check(t); err != nil {
		return nil, err
	}
	if err := m.d.CheckPrivilege(); err != nil {
		return nil, err
	}

	td := teardown.New(m.d, m.log.WithField("subsystem", "teardown"))
	td.Retries, td.RetryInterval = m.opts.Retries, m.opts.RetryInterval
	report, err := td.Topology(ctx, t)
	if err != nil {
		return report, errdefs.New(errdefs.KindRollback, "teardown incomplete", err)
	}
	m.log.WithFields(logrus.Fields{
		"removed": len(report.Removed),
		"absent":  len(report.Absent),
	}).Info("topology removed")
	return report, nil
}
