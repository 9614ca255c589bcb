package reconcile

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"Netlab/pkg/netos"
	"Netlab/pkg/plan"
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"net/netip"
	"os"
	"strings"
	"testing"
	"time"
)

func examplePlan(t *testing.T) *plan.Plan {
	t.Helper()
	data, err := os.ReadFile("../../example/topo.yaml")
	require.NoError(t, err)
	topo, err := api.ParseTopology(data)
	require.NoError(t, err)
	p, err := plan.New(topo)
	require.NoError(t, err)
	return p
}

func countCalls(m *netos.MemNet, prefix string) int {
	n := 0
	for _, c := range m.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func assertConnected(t *testing.T, m *netos.MemNet) {
	t.Helper()
	assert.True(t, m.Reachable("host1", netip.MustParseAddr("10.0.1.1")), "host1 -> host2")
	assert.True(t, m.Reachable("host2", netip.MustParseAddr("10.0.0.1")), "host2 -> host1")
	assert.True(t, m.DropsResets("host1"))
	assert.True(t, m.DropsResets("host2"))
	assert.False(t, m.DropsResets("router"))
}

func TestApplyExample(t *testing.T) {
	p := examplePlan(t)
	m := netos.NewMemNet()

	res, err := New(m, Options{}, nil).Apply(context.Background(), p)
	require.NoError(t, err)

	assertConnected(t, m)
	// host1 and host2 already have forwarding disabled
	assert.Equal(t, 2, res.Satisfied)
	assert.Equal(t, p.Len()-2, res.Executed)
	assert.Equal(t, res.Executed, res.Journal.Len())
	assert.Len(t, m.Calls(), p.Len())
}

func TestApplyIsIdempotent(t *testing.T) {
	p := examplePlan(t)
	m := netos.NewMemNet()
	e := New(m, Options{}, nil)

	_, err := e.Apply(context.Background(), p)
	require.NoError(t, err)
	before := m.Snapshot()

	res, err := e.Apply(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Executed)
	assert.Equal(t, p.Len(), res.Satisfied)
	assert.Equal(t, 0, res.Journal.Len())
	assert.Equal(t, before, m.Snapshot())
}

func TestApplyRollsBackAtEveryPosition(t *testing.T) {
	p := examplePlan(t)

	for k := 0; k < p.Len(); k++ {
		m := netos.NewMemNet()
		m.FailAt(k, unix.EINVAL)

		_, err := New(m, Options{}, nil).Apply(context.Background(), p)
		require.Error(t, err, "k=%d", k)

		var aerr *ApplyError
		require.True(t, errors.As(err, &aerr), "k=%d", k)
		require.NotNil(t, aerr.Op, "k=%d", k)
		assert.Equal(t, p.Ops[k].ID, aerr.Op.ID, "k=%d", k)
		assert.ErrorIs(t, err, errdefs.ErrRejected, "k=%d", k)
		assert.NoError(t, aerr.Rollback, "k=%d", k)
		assert.Empty(t, m.Snapshot(), "k=%d: state left behind", k)
	}
}

func TestApplyRetriesTransientFailures(t *testing.T) {
	p := examplePlan(t)
	m := netos.NewMemNet()
	m.InjectFault("create-link-pair", unix.EBUSY, 2)

	_, err := New(m, Options{Retries: 3, RetryInterval: time.Millisecond}, nil).Apply(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 4, countCalls(m, "create-link-pair"))
	assertConnected(t, m)
}

func TestApplyGivesUpAfterRetries(t *testing.T) {
	p := examplePlan(t)
	m := netos.NewMemNet()
	m.InjectFault("add-address", unix.EAGAIN, -1)

	_, err := New(m, Options{Retries: 2, RetryInterval: time.Millisecond}, nil).Apply(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrTransient)
	assert.Equal(t, 3, countCalls(m, "add-address"))
	assert.Empty(t, m.Snapshot())
}

// cancelOnAddress cancels the apply once the first address is assigned.
type cancelOnAddress struct {
	netos.Driver
	cancel context.CancelFunc
}

func (c *cancelOnAddress) AddAddress(ctx context.Context, a api.Address) error {
	err := c.Driver.AddAddress(ctx, a)
	c.cancel()
	return err
}

func TestApplyCancellationRollsBack(t *testing.T) {
	p := examplePlan(t)
	m := netos.NewMemNet()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := New(&cancelOnAddress{Driver: m, cancel: cancel}, Options{}, nil).Apply(ctx, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrCanceled)
	assert.Equal(t, 1, countCalls(m, "add-address"))
	assert.Zero(t, countCalls(m, "add-route"))
	assert.Empty(t, m.Snapshot())

	var aerr *ApplyError
	require.True(t, errors.As(err, &aerr))
	assert.Nil(t, aerr.Op, "no operation failed")
	assert.NotContains(t, err.Error(), " at ")
}

func TestApplyParallel(t *testing.T) {
	p := examplePlan(t)

	serial := netos.NewMemNet()
	_, err := New(serial, Options{}, nil).Apply(context.Background(), p)
	require.NoError(t, err)

	m := netos.NewMemNet()
	res, err := New(m, Options{Parallelism: 4}, nil).Apply(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p.Len(), res.Executed+res.Satisfied)
	assert.Equal(t, serial.Snapshot(), m.Snapshot())
	assertConnected(t, m)
}

func TestApplyParallelRollsBack(t *testing.T) {
	p := examplePlan(t)
	m := netos.NewMemNet()
	m.InjectFault("add-route host2", unix.EINVAL, 1)

	_, err := New(m, Options{Parallelism: 8}, nil).Apply(context.Background(), p)
	require.Error(t, err)

	var aerr *ApplyError
	require.True(t, errors.As(err, &aerr))
	require.NotNil(t, aerr.Op)
	assert.Equal(t, plan.AddRoute, aerr.Op.Kind)
	assert.NoError(t, aerr.Rollback)
	assert.Empty(t, m.Snapshot())
}

// cancelOnRoute cancels the apply as soon as any route is installed.
type cancelOnRoute struct {
	netos.Driver
	cancel context.CancelFunc
}

func (c *cancelOnRoute) AddRoute(ctx context.Context, r api.Route) error {
	err := c.Driver.AddRoute(ctx, r)
	c.cancel()
	return err
}

// TestApplyParallelCancelInLastBatch cancels while the final batch, four
// routes wide, runs two at a time. The routes left unstarted must fail the
// apply and everything must be rolled back.
func TestApplyParallelCancelInLastBatch(t *testing.T) {
	b := api.NewBuilder().
		AddNamespace("a", false).
		AddNamespace("b", true).
		AddLinkPair(api.Endpoint{Name: "a0", Namespace: "a"}, api.Endpoint{Name: "b0", Namespace: "b"}).
		AddAddress(api.Address{Namespace: "a", Interface: "a0", Prefix: netip.MustParsePrefix("10.0.0.1/24")}).
		AddAddress(api.Address{Namespace: "b", Interface: "b0", Prefix: netip.MustParsePrefix("10.0.0.2/24")})
	for _, dst := range []string{"10.1.0.0/16", "10.2.0.0/16", "10.3.0.0/16", "10.4.0.0/16"} {
		b.AddRoute(api.Route{Namespace: "a", Destination: netip.MustParsePrefix(dst), Via: netip.MustParseAddr("10.0.0.2")})
	}
	p, err := plan.New(b.Build())
	require.NoError(t, err)
	batches := p.Batches()
	last := batches[len(batches)-1]
	require.Len(t, last, 4)
	for _, op := range last {
		require.Equal(t, plan.AddRoute, op.Kind)
	}

	m := netos.NewMemNet()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = New(&cancelOnRoute{Driver: m, cancel: cancel}, Options{Parallelism: 2}, nil).Apply(ctx, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrCanceled)

	var aerr *ApplyError
	require.True(t, errors.As(err, &aerr))
	assert.Nil(t, aerr.Op)
	assert.NoError(t, aerr.Rollback)

	n := countCalls(m, "add-route")
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 2)
	assert.Empty(t, m.Snapshot())
}

func TestApplySurfacesRollbackFailure(t *testing.T) {
	p := examplePlan(t)
	m := netos.NewMemNet()
	m.InjectFault("add-route", unix.EINVAL, 1)
	m.InjectFault("delete-namespace", unix.EBUSY, -1)

	_, err := New(m, Options{}, nil).Apply(context.Background(), p)
	require.Error(t, err)

	var aerr *ApplyError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, plan.AddRoute, aerr.Op.Kind)
	assert.ErrorIs(t, aerr.Err, errdefs.ErrRejected)
	require.Error(t, aerr.Rollback)
	assert.ErrorIs(t, aerr.Rollback, errdefs.ErrTransient)
	assert.ErrorIs(t, err, errdefs.ErrRollback)
	assert.ErrorIs(t, err, errdefs.ErrRejected)

	// every other step still ran
	assert.Equal(t, []string{"host1", "host2", "router"}, m.Namespaces())
	assert.Equal(t, 3, countCalls(m, "delete-namespace"))
	assert.Equal(t, 2, countCalls(m, "delete-link-pair"))
}

func TestApplyConflictLeavesForeignStateAlone(t *testing.T) {
	p := examplePlan(t)
	m := netos.NewMemNet()
	foreign := api.LinkPair{Endpoints: [2]api.Endpoint{{Name: "host2-veth0"}, {Name: "other"}}, MTU: api.DefaultMTU}
	require.NoError(t, m.CreateLinkPair(context.Background(), foreign))
	before := m.Snapshot()

	_, err := New(m, Options{}, nil).Apply(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrConflict)
	assert.Equal(t, before, m.Snapshot())
}

func TestKeyedMutexSerializesSharedKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.lock([]string{"if/a", "ns/x"})

	acquired := make(chan struct{})
	go func() {
		release := k.lock([]string{"ns/x"})
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("shared key acquired twice")
	case <-time.After(20 * time.Millisecond):
	}

	// disjoint keys do not wait
	k.lock([]string{"if/b", "ns/y"})()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not released")
	}
}
