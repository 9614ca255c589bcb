package netos

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"net/netip"
	"testing"
)

var (
	epA  = api.Endpoint{Name: "a-eth0", Namespace: "a", State: api.LinkUp}
	epB  = api.Endpoint{Name: "b-eth0", Namespace: "b", State: api.LinkUp}
	pair = api.LinkPair{Endpoints: [2]api.Endpoint{epA, epB}, MTU: api.DefaultMTU}

	addrA = api.Address{Namespace: "a", Interface: "a-eth0", Prefix: netip.MustParsePrefix("10.0.0.1/24")}
	addrB = api.Address{Namespace: "b", Interface: "b-eth0", Prefix: netip.MustParsePrefix("10.0.0.2/24")}
)

// wire connects namespaces a and b on 10.0.0.0/24.
func wire(t *testing.T, m *MemNet) {
	ctx := context.Background()
	require.NoError(t, m.CreateNamespace(ctx, "a"))
	require.NoError(t, m.CreateNamespace(ctx, "b"))
	require.NoError(t, m.CreateLinkPair(ctx, pair))
	require.NoError(t, m.MoveEndpoint(ctx, epA))
	require.NoError(t, m.MoveEndpoint(ctx, epB))
	require.NoError(t, m.SetLinkState(ctx, "a", "a-eth0", true))
	require.NoError(t, m.SetLinkState(ctx, "b", "b-eth0", true))
	require.NoError(t, m.AddAddress(ctx, addrA))
	require.NoError(t, m.AddAddress(ctx, addrB))
}

func TestMemNetEnforcesOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()

	err := m.MoveEndpoint(ctx, epA)
	assert.ErrorIs(t, err, errdefs.ErrAbsent, "namespace missing")

	require.NoError(t, m.CreateNamespace(ctx, "a"))
	err = m.MoveEndpoint(ctx, epA)
	assert.ErrorIs(t, err, errdefs.ErrAbsent, "link missing")

	require.NoError(t, m.CreateLinkPair(ctx, pair))
	err = m.AddAddress(ctx, addrA)
	assert.ErrorIs(t, err, errdefs.ErrAbsent, "link still in root namespace")

	require.NoError(t, m.MoveEndpoint(ctx, epA))
	require.NoError(t, m.AddAddress(ctx, addrA))

	err = m.AddRoute(ctx, api.Route{Namespace: "a", Destination: netip.MustParsePrefix("0.0.0.0/0"), Via: netip.MustParseAddr("10.0.0.254")})
	assert.ErrorIs(t, err, errdefs.ErrRejected, "next hop on a down link")
	assert.ErrorIs(t, err, unix.ENETUNREACH)

	require.NoError(t, m.SetLinkState(ctx, "a", "a-eth0", true))
	require.NoError(t, m.AddRoute(ctx, api.Route{Namespace: "a", Destination: netip.MustParsePrefix("0.0.0.0/0"), Via: netip.MustParseAddr("10.0.0.254")}))
}

func TestMemNetIdempotentAndConflicting(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()
	wire(t, m)

	assert.ErrorIs(t, m.CreateNamespace(ctx, "a"), errdefs.ErrAlreadySatisfied)
	assert.ErrorIs(t, m.CreateLinkPair(ctx, pair), errdefs.ErrAlreadySatisfied)
	assert.ErrorIs(t, m.MoveEndpoint(ctx, epA), errdefs.ErrAlreadySatisfied)
	assert.ErrorIs(t, m.SetLinkState(ctx, "a", "a-eth0", true), errdefs.ErrAlreadySatisfied)
	assert.ErrorIs(t, m.AddAddress(ctx, addrA), errdefs.ErrAlreadySatisfied)

	other := api.LinkPair{Endpoints: [2]api.Endpoint{{Name: "a-eth0"}, {Name: "x-eth0"}}, MTU: api.DefaultMTU}
	assert.ErrorIs(t, m.CreateLinkPair(ctx, other), errdefs.ErrConflict)

	wider := addrA
	wider.Prefix = netip.MustParsePrefix("10.0.0.1/16")
	assert.ErrorIs(t, m.AddAddress(ctx, wider), errdefs.ErrConflict)

	dflt := netip.MustParsePrefix("0.0.0.0/0")
	require.NoError(t, m.AddRoute(ctx, api.Route{Namespace: "a", Destination: dflt, Via: netip.MustParseAddr("10.0.0.2")}))
	assert.ErrorIs(t, m.AddRoute(ctx, api.Route{Namespace: "a", Destination: dflt, Via: netip.MustParseAddr("10.0.0.3")}), errdefs.ErrConflict)

	prev, err := m.SetForwarding(ctx, "a", true)
	require.NoError(t, err)
	assert.False(t, prev)
	prev, err = m.SetForwarding(ctx, "a", true)
	assert.ErrorIs(t, err, errdefs.ErrAlreadySatisfied)
	assert.True(t, prev)
}

func TestMemNetRemovalReportsAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()

	assert.ErrorIs(t, m.DeleteNamespace(ctx, "a"), errdefs.ErrAbsent)
	assert.ErrorIs(t, m.DeleteLinkPair(ctx, pair), errdefs.ErrAbsent)
	assert.ErrorIs(t, m.DelFirewallRule(ctx, api.DropResets("a")), errdefs.ErrAbsent)

	wire(t, m)
	assert.ErrorIs(t, m.ClearProperties(ctx, epA), errdefs.ErrAbsent)
	assert.ErrorIs(t, m.DelRoute(ctx, api.Route{Namespace: "a", Destination: netip.MustParsePrefix("0.0.0.0/0"), Via: netip.MustParseAddr("10.0.0.2")}), errdefs.ErrAbsent)
}

func TestMemNetDeleteNamespaceDestroysPairs(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()
	wire(t, m)

	require.NoError(t, m.DeleteNamespace(ctx, "a"))
	assert.Equal(t, []string{"b"}, m.Namespaces())
	assert.ErrorIs(t, m.DeleteLinkPair(ctx, pair), errdefs.ErrAbsent)
	assert.ErrorIs(t, m.SetLinkState(ctx, "b", "b-eth0", false), errdefs.ErrAbsent)
}

func TestMemNetDeletingPeerDropsRoutes(t *testing.T) {
	ctx := context.Background()
	r := api.Route{Namespace: "b", Destination: netip.MustParsePrefix("0.0.0.0/0"), Via: netip.MustParseAddr("10.0.0.1")}

	// the namespace holding the other end goes away
	m := NewMemNet()
	wire(t, m)
	require.NoError(t, m.AddRoute(ctx, r))
	require.NoError(t, m.DeleteNamespace(ctx, "a"))
	assert.ErrorIs(t, m.DelRoute(ctx, r), errdefs.ErrAbsent)
	assert.False(t, m.Reachable("b", netip.MustParseAddr("10.0.0.1")))

	// the pair is deleted through the end in the other namespace
	m = NewMemNet()
	wire(t, m)
	require.NoError(t, m.AddRoute(ctx, r))
	a := api.LinkPair{Endpoints: [2]api.Endpoint{epA, {Name: "x-eth0"}}, MTU: api.DefaultMTU}
	require.NoError(t, m.DeleteLinkPair(ctx, a))
	assert.ErrorIs(t, m.DelRoute(ctx, r), errdefs.ErrAbsent)
}

func TestMemNetPairOfForeignEnds(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()
	x := api.LinkPair{Endpoints: [2]api.Endpoint{{Name: "a-eth0"}, {Name: "x-eth0"}}, MTU: api.DefaultMTU}
	y := api.LinkPair{Endpoints: [2]api.Endpoint{{Name: "b-eth0"}, {Name: "y-eth0"}}, MTU: api.DefaultMTU}
	require.NoError(t, m.CreateLinkPair(ctx, x))
	require.NoError(t, m.CreateLinkPair(ctx, y))

	assert.ErrorIs(t, m.CreateLinkPair(ctx, pair), errdefs.ErrConflict)
	assert.ErrorIs(t, m.CreateLinkPair(ctx, x), errdefs.ErrAlreadySatisfied)
}

func TestMemNetRoutesFollowLinkState(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()
	wire(t, m)

	r := api.Route{Namespace: "a", Destination: netip.MustParsePrefix("0.0.0.0/0"), Via: netip.MustParseAddr("10.0.0.2")}
	require.NoError(t, m.AddRoute(ctx, r))
	require.NoError(t, m.SetLinkState(ctx, "a", "a-eth0", false))
	assert.ErrorIs(t, m.DelRoute(ctx, r), errdefs.ErrAbsent)
}

func TestMemNetOffloadReturnsPrior(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()
	wire(t, m)

	prev, err := m.SetOffload(ctx, "a", "a-eth0", map[string]bool{"rx-gro": false})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"rx-gro": true}, prev)

	prev, err = m.SetOffload(ctx, "a", "a-eth0", map[string]bool{"rx-gro": false})
	assert.ErrorIs(t, err, errdefs.ErrAlreadySatisfied)
	assert.Equal(t, map[string]bool{"rx-gro": false}, prev)
}

func TestMemNetFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()

	m.InjectFault("create-namespace b", unix.EBUSY, 2)
	require.NoError(t, m.CreateNamespace(ctx, "a"))
	assert.ErrorIs(t, m.CreateNamespace(ctx, "b"), errdefs.ErrTransient)
	assert.ErrorIs(t, m.CreateNamespace(ctx, "b"), errdefs.ErrTransient)
	assert.NoError(t, m.CreateNamespace(ctx, "b"))

	m.FailAt(5, unix.EINVAL)
	assert.NoError(t, m.CreateLinkPair(ctx, pair))
	err := m.MoveEndpoint(ctx, epA)
	assert.ErrorIs(t, err, errdefs.ErrRejected)
	assert.ErrorIs(t, err, unix.EINVAL)

	assert.Equal(t, []string{
		"create-namespace a",
		"create-namespace b",
		"create-namespace b",
		"create-namespace b",
		"create-link-pair a-eth0 b-eth0",
		"move-endpoint a-eth0 a",
	}, m.Calls()[:6])
}

func TestMemNetPrivilege(t *testing.T) {
	m := NewMemNet()
	assert.NoError(t, m.CheckPrivilege())
	m.SetPrivilegeError(unix.EPERM)
	assert.ErrorIs(t, m.CheckPrivilege(), errdefs.ErrPrivilege)
}

func TestMemNetReachable(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()
	wire(t, m)

	assert.True(t, m.Reachable("a", netip.MustParseAddr("10.0.0.2")))
	assert.True(t, m.Reachable("b", netip.MustParseAddr("10.0.0.1")))
	assert.False(t, m.Reachable("a", netip.MustParseAddr("10.0.1.1")), "no route")

	require.NoError(t, m.SetLinkState(ctx, "b", "b-eth0", false))
	assert.False(t, m.Reachable("a", netip.MustParseAddr("10.0.0.2")))
}

func TestMemNetDropsResets(t *testing.T) {
	ctx := context.Background()
	m := NewMemNet()
	require.NoError(t, m.CreateNamespace(ctx, "a"))
	assert.False(t, m.DropsResets("a"))

	require.NoError(t, m.AddFirewallRule(ctx, api.DropResets("a")))
	assert.True(t, m.DropsResets("a"))
	assert.ErrorIs(t, m.AddFirewallRule(ctx, api.DropResets("a")), errdefs.ErrAlreadySatisfied)
}
