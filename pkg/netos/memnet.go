package netos

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"context"
	"fmt"
	"golang.org/x/sys/unix"
	"net/netip"
	"sort"
	"strings"
	"sync"
)

// MemNet is an in-memory host network with the same contract as Kernel.
// It refuses out-of-order calls the way the kernel does (a link must
// exist before it moves, an interface must be in the namespace before it
// gets an address, a next hop must sit on an active interface) and it can
// inject faults. It backs --dry-run and the tests.
type MemNet struct {
	mu         sync.Mutex
	namespaces map[string]*memNS
	links      map[string]*memLink
	calls      []string
	faults     []*fault
	privilege  error
}

type memNS struct {
	forwarding bool
	loopbackUp bool
	routes     map[netip.Prefix]netip.Addr
	rules      map[string]api.FirewallRule
}

type memLink struct {
	name     string
	peer     string
	ns       string // "" is the root namespace
	mtu      int
	up       bool
	addrs    []netip.Prefix
	features map[string]bool
	props    api.LinkProperties
}

type fault struct {
	match     func(call string, n int) bool
	err       error
	remaining int // < 0 fails forever
}

func NewMemNet() *MemNet {
	return &MemNet{
		namespaces: map[string]*memNS{},
		links:      map[string]*memLink{},
	}
}

// InjectFault makes the next times calls whose description starts with
// prefix fail with err. times < 0 fails them forever.
func (m *MemNet) InjectFault(prefix string, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, &fault{
		match:     func(call string, _ int) bool { return strings.HasPrefix(call, prefix) },
		err:       err,
		remaining: times,
	})
}

// FailAt makes the n-th call (0-based, counting every call) fail with err.
func (m *MemNet) FailAt(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, &fault{
		match:     func(_ string, i int) bool { return i == n },
		err:       err,
		remaining: 1,
	})
}

// SetPrivilegeError makes CheckPrivilege fail.
func (m *MemNet) SetPrivilegeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.privilege = err
}

// Calls returns the description of every call made so far.
func (m *MemNet) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// call records a call and returns an injected fault, if any. m.mu is held.
func (m *MemNet) call(format string, args ...interface{}) error {
	desc := fmt.Sprintf(format, args...)
	n := len(m.calls)
	m.calls = append(m.calls, desc)
	for _, f := range m.faults {
		if f.remaining == 0 || !f.match(desc, n) {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
		}
		return errdefs.FromOS(desc, f.err)
	}
	return nil
}

func (m *MemNet) CheckPrivilege() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.privilege != nil {
		return errdefs.New(errdefs.KindPrivilege, "check capabilities", m.privilege)
	}
	return nil
}

func (m *MemNet) ns(name string) (*memNS, error) {
	n, ok := m.namespaces[name]
	if !ok {
		return nil, errdefs.Absent("namespace %s does not exist", name)
	}
	return n, nil
}

// linkIn returns link name if it is in namespace ns.
func (m *MemNet) linkIn(ns, name string) (*memLink, error) {
	if ns != "" {
		if _, err := m.ns(ns); err != nil {
			return nil, err
		}
	}
	l, ok := m.links[name]
	if !ok || l.ns != ns {
		return nil, errdefs.Absent("link %s not found in namespace %q", name, ns)
	}
	return l, nil
}

func (m *MemNet) CreateNamespace(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("create-namespace %s", name); err != nil {
		return err
	}
	if _, ok := m.namespaces[name]; ok {
		return errdefs.Satisfied("namespace %s exists", name)
	}
	m.namespaces[name] = &memNS{
		routes: map[netip.Prefix]netip.Addr{},
		rules:  map[string]api.FirewallRule{},
	}
	return nil
}

// DeleteNamespace destroys the namespace and, like the kernel, every veth
// inside it together with its peer.
func (m *MemNet) DeleteNamespace(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("delete-namespace %s", name); err != nil {
		return err
	}
	if _, err := m.ns(name); err != nil {
		return err
	}
	var peerNS []string
	for _, l := range m.links {
		if l.ns == name {
			if p, ok := m.links[l.peer]; ok {
				peerNS = append(peerNS, p.ns)
			}
			delete(m.links, l.peer)
			delete(m.links, l.name)
		}
	}
	delete(m.namespaces, name)
	for _, ns := range peerNS {
		m.pruneRoutes(ns)
	}
	return nil
}

func (m *MemNet) CreateLinkPair(_ context.Context, lp api.LinkPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, z := lp.Endpoints[0].Name, lp.Endpoints[1].Name
	if err := m.call("create-link-pair %s %s", a, z); err != nil {
		return err
	}
	la, okA := m.links[a]
	_, okZ := m.links[z]
	switch {
	case okA && okZ && la.peer == z:
		return errdefs.Satisfied("link pair %s exists", lp)
	case okA || okZ:
		return errdefs.Conflict("link pair %s: a link with one of its names exists", lp)
	}
	m.links[a] = &memLink{name: a, peer: z, mtu: lp.MTU}
	m.links[z] = &memLink{name: z, peer: a, mtu: lp.MTU}
	return nil
}

func (m *MemNet) DeleteLinkPair(_ context.Context, lp api.LinkPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, z := lp.Endpoints[0].Name, lp.Endpoints[1].Name
	if err := m.call("delete-link-pair %s %s", a, z); err != nil {
		return err
	}
	for _, name := range []string{a, z} {
		if l, ok := m.links[name]; ok {
			peerNS := l.ns
			if p, ok := m.links[l.peer]; ok {
				peerNS = p.ns
			}
			delete(m.links, l.peer)
			delete(m.links, l.name)
			m.pruneRoutes(l.ns)
			m.pruneRoutes(peerNS)
			return nil
		}
	}
	return errdefs.Absent("link pair %s not found", lp)
}

// detach resets what the kernel resets when a link changes namespace.
func (m *MemNet) detach(l *memLink, to string) {
	from := l.ns
	l.ns = to
	l.up = false
	l.addrs = nil
	m.pruneRoutes(from)
}

func (m *MemNet) MoveEndpoint(_ context.Context, ep api.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("move-endpoint %s %s", ep.Name, ep.Namespace); err != nil {
		return err
	}
	if _, err := m.ns(ep.Namespace); err != nil {
		return err
	}
	l, ok := m.links[ep.Name]
	switch {
	case !ok:
		return errdefs.Absent("link %s not found", ep.Name)
	case l.ns == ep.Namespace:
		return errdefs.Satisfied("%s already in %s", ep.Name, ep.Namespace)
	case l.ns != "":
		return errdefs.Conflict("%s is owned by namespace %s", ep.Name, l.ns)
	}
	m.detach(l, ep.Namespace)
	return nil
}

func (m *MemNet) ReturnEndpoint(_ context.Context, ep api.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("return-endpoint %s %s", ep.Name, ep.Namespace); err != nil {
		return err
	}
	l, err := m.linkIn(ep.Namespace, ep.Name)
	if err != nil {
		return err
	}
	m.detach(l, "")
	return nil
}

func (m *MemNet) SetLinkState(_ context.Context, ns, name string, up bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("set-link-state %s %s up=%t", ns, name, up); err != nil {
		return err
	}
	if name == Loopback {
		n, err := m.ns(ns)
		if err != nil {
			return err
		}
		if n.loopbackUp == up {
			return errdefs.Satisfied("lo in %s already up=%t", ns, up)
		}
		n.loopbackUp = up
		return nil
	}
	l, err := m.linkIn(ns, name)
	if err != nil {
		return err
	}
	if l.up == up {
		return errdefs.Satisfied("%s already up=%t", name, up)
	}
	l.up = up
	if !up {
		m.pruneRoutes(ns)
	}
	return nil
}

func (m *MemNet) AddAddress(_ context.Context, a api.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("add-address %s %s %s", a.Namespace, a.Interface, a.Prefix); err != nil {
		return err
	}
	l, err := m.linkIn(a.Namespace, a.Interface)
	if err != nil {
		return err
	}
	for _, p := range l.addrs {
		if p.Addr() != a.Prefix.Addr() {
			continue
		}
		if p.Bits() == a.Prefix.Bits() {
			return errdefs.Satisfied("address %s present", a)
		}
		return errdefs.Conflict("address %s held as %s", a, p)
	}
	l.addrs = append(l.addrs, a.Prefix)
	return nil
}

func (m *MemNet) DelAddress(_ context.Context, a api.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("del-address %s %s %s", a.Namespace, a.Interface, a.Prefix); err != nil {
		return err
	}
	l, err := m.linkIn(a.Namespace, a.Interface)
	if err != nil {
		return err
	}
	for i, p := range l.addrs {
		if p == a.Prefix {
			l.addrs = append(l.addrs[:i], l.addrs[i+1:]...)
			m.pruneRoutes(a.Namespace)
			return nil
		}
	}
	return errdefs.Absent("address %s not present", a)
}

// onLink reports whether via is a neighbor on an active interface of ns.
func (m *MemNet) onLink(ns string, via netip.Addr) bool {
	for _, l := range m.links {
		if l.ns != ns || !l.up {
			continue
		}
		for _, p := range l.addrs {
			if p.Masked().Contains(via) && p.Addr() != via {
				return true
			}
		}
	}
	return false
}

// pruneRoutes drops routes whose next hop is no longer on an active
// interface, as the kernel does when a device goes down or loses its
// address.
func (m *MemNet) pruneRoutes(ns string) {
	n, ok := m.namespaces[ns]
	if !ok {
		return
	}
	for dst, via := range n.routes {
		if !m.onLink(ns, via) {
			delete(n.routes, dst)
		}
	}
}

func (m *MemNet) AddRoute(_ context.Context, r api.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("add-route %s %s via %s", r.Namespace, r.Destination, r.Via); err != nil {
		return err
	}
	n, err := m.ns(r.Namespace)
	if err != nil {
		return err
	}
	dst := r.Destination.Masked()
	if via, ok := n.routes[dst]; ok {
		if via == r.Via {
			return errdefs.Satisfied("route %s present", r)
		}
		return errdefs.Conflict("route %s: destination already routed via %s", r, via)
	}
	if !m.onLink(r.Namespace, r.Via) {
		return errdefs.FromOS("add route "+r.String(), unix.ENETUNREACH)
	}
	n.routes[dst] = r.Via
	return nil
}

func (m *MemNet) DelRoute(_ context.Context, r api.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("del-route %s %s via %s", r.Namespace, r.Destination, r.Via); err != nil {
		return err
	}
	n, err := m.ns(r.Namespace)
	if err != nil {
		return err
	}
	dst := r.Destination.Masked()
	if via, ok := n.routes[dst]; !ok || via != r.Via {
		return errdefs.Absent("route %s not present", r)
	}
	delete(n.routes, dst)
	return nil
}

func (m *MemNet) SetForwarding(_ context.Context, ns string, on bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("set-forwarding %s %t", ns, on); err != nil {
		return false, err
	}
	n, err := m.ns(ns)
	if err != nil {
		return false, err
	}
	prev := n.forwarding
	if prev == on {
		return prev, errdefs.Satisfied("forwarding in %s already %t", ns, on)
	}
	n.forwarding = on
	return prev, nil
}

func (m *MemNet) AddFirewallRule(_ context.Context, r api.FirewallRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("add-firewall-rule %s", r); err != nil {
		return err
	}
	n, err := m.ns(r.Namespace)
	if err != nil {
		return err
	}
	key := r.String()
	if _, ok := n.rules[key]; ok {
		return errdefs.Satisfied("rule %s present", key)
	}
	n.rules[key] = r
	return nil
}

func (m *MemNet) DelFirewallRule(_ context.Context, r api.FirewallRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("del-firewall-rule %s", r); err != nil {
		return err
	}
	n, err := m.ns(r.Namespace)
	if err != nil {
		return err
	}
	key := r.String()
	if _, ok := n.rules[key]; !ok {
		return errdefs.Absent("rule %s not present", key)
	}
	delete(n.rules, key)
	return nil
}

// SetOffload treats every feature a fresh veth has as enabled.
func (m *MemNet) SetOffload(_ context.Context, ns, name string, features map[string]bool) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("set-offload %s %s", ns, name); err != nil {
		return nil, err
	}
	l, err := m.linkIn(ns, name)
	if err != nil {
		return nil, err
	}
	if l.features == nil {
		l.features = map[string]bool{}
	}
	prev := make(map[string]bool, len(features))
	changed := false
	for f, want := range features {
		have, ok := l.features[f]
		if !ok {
			have = true
		}
		prev[f] = have
		if have != want {
			changed = true
		}
	}
	if !changed {
		return prev, errdefs.Satisfied("offload of %s already set", name)
	}
	for f, want := range features {
		l.features[f] = want
	}
	return prev, nil
}

func (m *MemNet) SetProperties(_ context.Context, ep api.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("set-properties %s %s", ep.Namespace, ep.Name); err != nil {
		return err
	}
	l, err := m.linkIn(ep.Namespace, ep.Name)
	if err != nil {
		return err
	}
	if l.props == ep.Properties {
		return errdefs.Satisfied("netem on %s already set", ep.Name)
	}
	l.props = ep.Properties
	return nil
}

func (m *MemNet) ClearProperties(_ context.Context, ep api.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("clear-properties %s %s", ep.Namespace, ep.Name); err != nil {
		return err
	}
	l, err := m.linkIn(ep.Namespace, ep.Name)
	if err != nil {
		return err
	}
	if l.props.IsZero() {
		return errdefs.Absent("no netem on %s", ep.Name)
	}
	l.props = api.LinkProperties{}
	return nil
}

// holds reports whether an active interface of ns has address a.
func (m *MemNet) holds(ns string, a netip.Addr) bool {
	for _, l := range m.links {
		if l.ns != ns || !l.up {
			continue
		}
		for _, p := range l.addrs {
			if p.Addr() == a {
				return true
			}
		}
	}
	return false
}

// egress picks the interface and neighbor a packet to dst leaves ns by:
// a connected prefix first, else the longest matching route.
func (m *MemNet) egress(ns string, dst netip.Addr) (*memLink, netip.Addr, bool) {
	names := make([]string, 0, len(m.links))
	for name := range m.links {
		names = append(names, name)
	}
	sort.Strings(names)

	connected := func(a netip.Addr) *memLink {
		for _, name := range names {
			l := m.links[name]
			if l.ns != ns || !l.up {
				continue
			}
			for _, p := range l.addrs {
				if p.Masked().Contains(a) {
					return l
				}
			}
		}
		return nil
	}

	if l := connected(dst); l != nil {
		return l, dst, true
	}
	n, ok := m.namespaces[ns]
	if !ok {
		return nil, netip.Addr{}, false
	}
	best, found := netip.Prefix{}, false
	for p := range n.routes {
		if p.Contains(dst) && (!found || p.Bits() > best.Bits()) {
			best, found = p, true
		}
	}
	if !found {
		return nil, netip.Addr{}, false
	}
	via := n.routes[best]
	if l := connected(via); l != nil {
		return l, via, true
	}
	return nil, netip.Addr{}, false
}

// Reachable walks the forwarding path of a packet from namespace from to
// dst and reports whether it gets delivered.
func (m *MemNet) Reachable(from string, dst netip.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := from
	for hop := 0; hop < 32; hop++ {
		if m.holds(cur, dst) {
			return true
		}
		out, next, ok := m.egress(cur, dst)
		if !ok {
			return false
		}
		peer, ok := m.links[out.peer]
		if !ok || !peer.up || peer.ns == "" {
			return false
		}
		if !m.holds(peer.ns, next) {
			return false
		}
		if m.holds(peer.ns, dst) {
			return true
		}
		if n, ok := m.namespaces[peer.ns]; !ok || !n.forwarding {
			return false
		}
		cur = peer.ns
	}
	return false
}

// DropsResets reports whether ns drops outgoing TCP segments with RST set.
func (m *MemNet) DropsResets(ns string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return false
	}
	for _, r := range n.rules {
		if r.Chain != api.DefaultChain || r.Action != api.DefaultAction || r.Match.Protocol != "tcp" {
			continue
		}
		for _, f := range r.Match.TCPFlags {
			if strings.EqualFold(f, "RST") {
				return true
			}
		}
	}
	return false
}

// Namespaces lists existing namespaces, sorted.
func (m *MemNet) Namespaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot renders the whole state deterministically, for comparisons.
func (m *MemNet) Snapshot() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	nsNames := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		nsNames = append(nsNames, name)
	}
	sort.Strings(nsNames)
	for _, name := range nsNames {
		n := m.namespaces[name]
		fmt.Fprintf(&b, "ns %s forwarding=%t lo=%t\n", name, n.forwarding, n.loopbackUp)

		dsts := make([]netip.Prefix, 0, len(n.routes))
		for dst := range n.routes {
			dsts = append(dsts, dst)
		}
		sort.Slice(dsts, func(i, j int) bool { return dsts[i].String() < dsts[j].String() })
		for _, dst := range dsts {
			fmt.Fprintf(&b, "  route %s via %s\n", dst, n.routes[dst])
		}

		rules := make([]string, 0, len(n.rules))
		for key := range n.rules {
			rules = append(rules, key)
		}
		sort.Strings(rules)
		for _, key := range rules {
			fmt.Fprintf(&b, "  rule %s\n", key)
		}
	}

	linkNames := make([]string, 0, len(m.links))
	for name := range m.links {
		linkNames = append(linkNames, name)
	}
	sort.Strings(linkNames)
	for _, name := range linkNames {
		l := m.links[name]
		addrs := make([]string, len(l.addrs))
		for i, p := range l.addrs {
			addrs[i] = p.String()
		}
		sort.Strings(addrs)
		features := make([]string, 0, len(l.features))
		for f, v := range l.features {
			features = append(features, fmt.Sprintf("%s=%t", f, v))
		}
		sort.Strings(features)
		fmt.Fprintf(&b, "link %s peer=%s ns=%q up=%t mtu=%d addrs=%v features=%v props=%+v\n",
			name, l.peer, l.ns, l.up, l.mtu, addrs, features, l.props)
	}
	return b.String()
}
