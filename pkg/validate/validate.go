// Package validate checks a Topology for internal consistency before any
// OS state is touched.
package validate

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"Netlab/pkg/util"
	"fmt"
	"go4.org/netipx"
	"net/netip"
	"strings"
)

var (
	knownActions = map[string]bool{"DROP": true, "ACCEPT": true, "REJECT": true, "RETURN": true}
	knownTables  = map[string]bool{"filter": true, "mangle": true, "raw": true}
)

type checker struct {
	t          *api.Topology
	violations []errdefs.Violation
}

func (c *checker) add(rule, subject, format string, args ...interface{}) {
	c.violations = append(c.violations, errdefs.Violation{Rule: rule, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// Validate returns every violated invariant of t, or nil when t is valid.
func Validate(t *api.Topology) []errdefs.Violation {
	c := &checker{t: t}
	c.namespaces()
	c.endpoints()
	c.addresses()
	c.routes()
	c.firewall()
	return c.violations
}

// Check is Validate as an error: nil, or a *errdefs.ValidationError.
func Check(t *api.Topology) error {
	if v := Validate(t); len(v) > 0 {
		return &errdefs.ValidationError{Violations: v}
	}
	return nil
}

func (c *checker) namespaces() {
	seen := map[string]bool{}
	for _, n := range c.t.Namespaces() {
		if err := util.CheckNamespaceName(n.Name); err != nil {
			c.add("namespace-name", n.Name, "%v", err)
		}
		if seen[n.Name] {
			c.add("duplicate-namespace", n.Name, "namespace declared more than once")
		}
		seen[n.Name] = true
	}
}

func (c *checker) endpoints() {
	owner := map[string]string{}
	for _, lp := range c.t.LinkPairs() {
		if lp.MTU < 68 || lp.MTU > 65535 {
			c.add("link-mtu", lp.String(), "mtu %d out of range", lp.MTU)
		}
		if lp.Endpoints[0].Name == lp.Endpoints[1].Name {
			c.add("duplicate-endpoint", lp.Endpoints[0].Name, "both ends of a pair share one name")
		}
		for _, ep := range lp.Endpoints {
			if err := util.CheckInterfaceName(ep.Name); err != nil {
				c.add("endpoint-name", ep.Name, "%v", err)
			}
			if prev, ok := owner[ep.Name]; ok {
				c.add("duplicate-endpoint", ep.Name, "endpoint declared more than once")
				if prev != ep.Namespace {
					c.add("endpoint-assignment", ep.Name, "assigned to both %q and %q", prev, ep.Namespace)
				}
			} else {
				owner[ep.Name] = ep.Namespace
			}
			if _, ok := c.t.Namespace(ep.Namespace); !ok {
				c.add("unknown-namespace", ep.Name, "endpoint assigned to undeclared namespace %q", ep.Namespace)
			}
			for feature := range ep.Offload {
				if strings.TrimSpace(feature) == "" {
					c.add("offload", ep.Name, "empty offload feature name")
				}
			}
			if p := ep.Properties; p.Loss < 0 || p.Loss > 100 {
				c.add("link-properties", ep.Name, "loss %.2f%% out of range", p.Loss)
			}
		}
	}
}

// owned reports whether iface is an endpoint assigned to namespace.
func (c *checker) owned(namespace, iface string) (api.Endpoint, bool) {
	for _, ep := range c.t.Endpoints() {
		if ep.Name == iface && ep.Namespace == namespace {
			return ep, true
		}
	}
	return api.Endpoint{}, false
}

func (c *checker) addresses() {
	type claim struct {
		iface string
		set   netipx.IPSetBuilder
	}
	byNS := map[string][]*claim{}
	hosts := map[netip.Addr]string{}

	for _, a := range c.t.Addresses() {
		subject := a.String()
		if !a.Prefix.IsValid() {
			c.add("address", subject, "invalid prefix")
			continue
		}
		if _, ok := c.t.Namespace(a.Namespace); !ok {
			c.add("unknown-namespace", subject, "namespace %q is not declared", a.Namespace)
		} else if _, ok := c.owned(a.Namespace, a.Interface); !ok {
			c.add("address-interface", subject, "interface %q is not assigned to namespace %q", a.Interface, a.Namespace)
		}

		if prev, ok := hosts[a.Prefix.Addr()]; ok {
			c.add("duplicate-address", subject, "address already held by %s", prev)
		} else {
			hosts[a.Prefix.Addr()] = a.Namespace + " " + a.Interface
		}

		masked := a.Prefix.Masked()
		for _, other := range byNS[a.Namespace] {
			if other.iface == a.Interface {
				continue
			}
			set, err := other.set.IPSet()
			if err != nil {
				continue
			}
			if set.OverlapsPrefix(masked) {
				c.add("address-overlap", subject, "overlaps a prefix on interface %q", other.iface)
			}
		}

		var mine *claim
		for _, cl := range byNS[a.Namespace] {
			if cl.iface == a.Interface {
				mine = cl
			}
		}
		if mine == nil {
			mine = &claim{iface: a.Interface}
			byNS[a.Namespace] = append(byNS[a.Namespace], mine)
		}
		mine.set.AddPrefix(masked)
	}
}

// routeKey is what the kernel keys a route on in the main table.
type routeKey struct {
	ns  string
	dst netip.Prefix
}

func (c *checker) routes() {
	seen := map[routeKey]api.Route{}
	for _, r := range c.t.Routes() {
		subject := r.String()
		if _, ok := c.t.Namespace(r.Namespace); !ok {
			c.add("unknown-namespace", subject, "namespace %q is not declared", r.Namespace)
			continue
		}
		if !r.Via.IsValid() || !r.Destination.IsValid() {
			c.add("route", subject, "invalid destination or next hop")
			continue
		}
		key := routeKey{ns: r.Namespace, dst: r.Destination.Masked()}
		if prev, ok := seen[key]; ok {
			c.add("duplicate-route", subject, "destination %s is already routed via %s", key.dst, prev.Via)
		} else {
			seen[key] = r
		}
		if r.Via.Is4() != r.Destination.Addr().Is4() {
			c.add("route", subject, "next hop and destination are different address families")
		}

		reachable, own := false, ""
		for _, a := range c.t.Addresses() {
			if a.Namespace != r.Namespace || !a.Prefix.Masked().Contains(r.Via) {
				continue
			}
			if a.Prefix.Addr() == r.Via {
				own = a.Interface
				continue
			}
			if ep, ok := c.owned(a.Namespace, a.Interface); ok && ep.Up() {
				reachable = true
			}
		}
		switch {
		case own != "":
			c.add("route-next-hop", subject, "next hop is the namespace's own address on %q", own)
		case !reachable:
			c.add("route-next-hop", subject, "next hop is not inside any address of an active interface in %q", r.Namespace)
		}
	}
}

func (c *checker) firewall() {
	for _, f := range c.t.FirewallRules() {
		subject := f.String()
		if _, ok := c.t.Namespace(f.Namespace); !ok {
			c.add("unknown-namespace", subject, "namespace %q is not declared", f.Namespace)
		}
		if !knownActions[f.Action] {
			c.add("firewall-action", subject, "unknown action %q", f.Action)
		}
		if !knownTables[f.Table] {
			c.add("firewall-table", subject, "unknown table %q", f.Table)
		}
		if len(f.Match.TCPFlags) > 0 && f.Match.Protocol != "tcp" {
			c.add("firewall-match", subject, "tcp flags need protocol tcp")
		}
		if f.Match.OutInterface != "" {
			if _, ok := c.owned(f.Namespace, f.Match.OutInterface); !ok {
				c.add("firewall-match", subject, "interface %q is not assigned to namespace %q", f.Match.OutInterface, f.Namespace)
			}
		}
	}
}
