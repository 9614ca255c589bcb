package api

// Topology is the aggregate root of a declared network. It is built once
// by a Builder and never changes afterwards; accessors hand out copies.
type Topology struct {
	namespaces []Namespace
	links      []LinkPair
	addresses  []Address
	routes     []Route
	rules      []FirewallRule
}

func (t *Topology) Namespaces() []Namespace {
	return append([]Namespace(nil), t.namespaces...)
}

func (t *Topology) LinkPairs() []LinkPair {
	out := make([]LinkPair, len(t.links))
	for i, lp := range t.links {
		out[i] = LinkPair{MTU: lp.MTU, Endpoints: [2]Endpoint{lp.Endpoints[0].clone(), lp.Endpoints[1].clone()}}
	}
	return out
}

// Endpoints lists every link endpoint in declaration order.
func (t *Topology) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, 2*len(t.links))
	for _, lp := range t.LinkPairs() {
		out = append(out, lp.Endpoints[0], lp.Endpoints[1])
	}
	return out
}

func (t *Topology) Addresses() []Address {
	return append([]Address(nil), t.addresses...)
}

func (t *Topology) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

func (t *Topology) FirewallRules() []FirewallRule {
	out := make([]FirewallRule, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.withDefaults()
	}
	return out
}

func (t *Topology) Namespace(name string) (Namespace, bool) {
	for _, n := range t.namespaces {
		if n.Name == name {
			return n, true
		}
	}
	return Namespace{}, false
}

// Endpoint returns the first endpoint declared with name.
func (t *Topology) Endpoint(name string) (Endpoint, bool) {
	for _, e := range t.Endpoints() {
		if e.Name == name {
			return e, true
		}
	}
	return Endpoint{}, false
}

// Pair returns the link pair that has an endpoint called name.
func (t *Topology) Pair(name string) (LinkPair, bool) {
	for _, lp := range t.LinkPairs() {
		if _, ok := lp.Peer(name); ok {
			return lp, true
		}
	}
	return LinkPair{}, false
}

// Builder assembles a Topology. Nothing is checked here; that is the
// validator's job.
type Builder struct {
	t Topology
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) AddNamespace(name string, forwarding bool) *Builder {
	b.t.namespaces = append(b.t.namespaces, Namespace{Name: name, Forwarding: forwarding})
	return b
}

func (b *Builder) AddLinkPair(a, z Endpoint) *Builder {
	return b.AddLinkPairMTU(a, z, DefaultMTU)
}

func (b *Builder) AddLinkPairMTU(a, z Endpoint, mtu int) *Builder {
	if mtu == 0 {
		mtu = DefaultMTU
	}
	b.t.links = append(b.t.links, LinkPair{Endpoints: [2]Endpoint{a.clone(), z.clone()}, MTU: mtu})
	return b
}

func (b *Builder) AddAddress(a Address) *Builder {
	b.t.addresses = append(b.t.addresses, a)
	return b
}

func (b *Builder) AddRoute(r Route) *Builder {
	b.t.routes = append(b.t.routes, r)
	return b
}

func (b *Builder) AddFirewallRule(r FirewallRule) *Builder {
	b.t.rules = append(b.t.rules, r.withDefaults())
	return b
}

// Build returns the finished Topology. The builder may keep being used;
// later additions do not leak into topologies already built.
func (b *Builder) Build() *Topology {
	t := &Topology{
		namespaces: append([]Namespace(nil), b.t.namespaces...),
		addresses:  append([]Address(nil), b.t.addresses...),
		routes:     append([]Route(nil), b.t.routes...),
		rules:      append([]FirewallRule(nil), b.t.rules...),
	}
	for _, lp := range b.t.links {
		t.links = append(t.links, LinkPair{MTU: lp.MTU, Endpoints: [2]Endpoint{lp.Endpoints[0].clone(), lp.Endpoints[1].clone()}})
	}
	for i := range t.rules {
		t.rules[i] = t.rules[i].withDefaults()
	}
	return t
}
