package teardown

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"Netlab/pkg/netos"
	"Netlab/pkg/plan"
	"context"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"os"
	"testing"
)

func exampleTopology(t *testing.T) *api.Topology {
	t.Helper()
	data, err := os.ReadFile("../../example/topo.yaml")
	require.NoError(t, err)
	topo, err := api.ParseTopology(data)
	require.NoError(t, err)
	return topo
}

// provision applies every operation of the plan straight to the driver.
func provision(t *testing.T, m *netos.MemNet, topo *api.Topology) {
	t.Helper()
	p, err := plan.New(topo)
	require.NoError(t, err)
	for _, op := range p.Ops {
		_, err := netos.Call(context.Background(), m, op)
		if err != nil {
			require.ErrorIs(t, err, errdefs.ErrAlreadySatisfied, op.String())
		}
	}
}

func TestOpsOrder(t *testing.T) {
	ops, err := Ops(exampleTopology(t))
	require.NoError(t, err)

	var kinds []plan.Kind
	for _, op := range ops {
		if len(kinds) == 0 || kinds[len(kinds)-1] != op.Kind {
			kinds = append(kinds, op.Kind)
		}
	}
	assert.Equal(t, []plan.Kind{
		plan.DelFirewallRule,
		plan.ResetForwarding,
		plan.DelRoute,
		plan.DelAddress,
		plan.LoopbackDown,
		plan.LinkDown,
		plan.ReturnEndpoint,
		plan.DeleteLinkPair,
		plan.DeleteNamespace,
	}, kinds)

	for _, op := range ops {
		if op.Kind == plan.ResetForwarding {
			assert.False(t, op.Forwarding, op.String())
		}
	}
}

func TestTopologyRemovesEverything(t *testing.T) {
	topo := exampleTopology(t)
	m := netos.NewMemNet()
	provision(t, m, topo)
	require.NotEmpty(t, m.Snapshot())

	td := New(m, nil)
	report, err := td.Topology(context.Background(), topo)
	require.NoError(t, err)
	assert.Empty(t, m.Snapshot())
	assert.NotEmpty(t, report.Removed)
	assert.Contains(t, report.Removed, "delete-namespace router")

	// a second teardown finds nothing to do
	report, err = td.Topology(context.Background(), topo)
	require.NoError(t, err)
	assert.Empty(t, report.Removed)
	assert.NotEmpty(t, report.Absent)
}

func TestTopologyOnCleanHost(t *testing.T) {
	m := netos.NewMemNet()
	report, err := New(m, nil).Topology(context.Background(), exampleTopology(t))
	require.NoError(t, err)
	assert.Empty(t, report.Removed)
}

func TestTopologyAttemptsEveryStep(t *testing.T) {
	topo := exampleTopology(t)
	m := netos.NewMemNet()
	provision(t, m, topo)
	m.InjectFault("delete-link-pair", unix.EINVAL, -1)

	report, err := New(m, nil).Topology(context.Background(), topo)
	require.Error(t, err)

	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	assert.Len(t, merr.Errors, 2)
	assert.ErrorIs(t, err, errdefs.ErrRejected)

	assert.Empty(t, m.Namespaces())
	assert.Contains(t, report.Removed, "delete-namespace host1")
}

func TestJournalRestoresPriorState(t *testing.T) {
	ctx := context.Background()
	m := netos.NewMemNet()
	require.NoError(t, m.CreateNamespace(ctx, "r"))
	_, err := m.SetForwarding(ctx, "r", true)
	require.NoError(t, err)

	// forwarding was already on when the apply turned it on again, and
	// the apply created a rule
	rule := api.DropResets("r")
	require.NoError(t, m.AddFirewallRule(ctx, rule))
	entries := []plan.Entry{
		{Op: plan.Op{Kind: plan.SetForwarding, Namespace: "r", Forwarding: true}, Prior: plan.Prior{Forwarding: true}},
		{Op: plan.Op{Kind: plan.AddFirewallRule, Rule: rule}},
	}

	report, err := New(m, nil).Journal(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, []string{"del-firewall-rule " + rule.String()}, report.Removed)
	assert.False(t, m.DropsResets("r"))

	prev, err := m.SetForwarding(ctx, "r", true)
	assert.ErrorIs(t, err, errdefs.ErrAlreadySatisfied)
	assert.True(t, prev)
}
