package api

import (
	"fmt"
	"net/netip"
	"strings"
)

// Namespace is a node of the topology: one isolated network namespace.
type Namespace struct {
	Name       string
	Forwarding bool // relay packets between its interfaces
}

// Address is a host address with its prefix length, e.g. 10.0.0.1/24,
// held by one interface of one namespace.
type Address struct {
	Namespace string
	Interface string
	Prefix    netip.Prefix
}

func (a Address) String() string {
	return fmt.Sprintf("%s %s %s", a.Namespace, a.Interface, a.Prefix)
}

// Route is a static route inside a namespace. A zero-length Destination
// is the default route.
type Route struct {
	Namespace   string
	Destination netip.Prefix
	Via         netip.Addr
}

func (r Route) IsDefault() bool {
	return r.Destination.Bits() == 0
}

func (r Route) String() string {
	return fmt.Sprintf("%s %s via %s", r.Namespace, r.Destination, r.Via)
}

const (
	DefaultTable  = "filter"
	DefaultChain  = "OUTPUT"
	DefaultAction = "DROP"
)

// Match selects the packets a FirewallRule applies to.
type Match struct {
	Protocol     string
	TCPFlags     []string // flags that must be set, e.g. RST
	OutInterface string
}

// FirewallRule is a namespace-scoped packet filter rule.
type FirewallRule struct {
	Namespace string
	Table     string
	Chain     string
	Match     Match
	Action    string
}

// DropResets returns the rule that keeps the kernel from answering
// segments of connections it does not know about, which would otherwise
// reset every connection the user-space stack opens.
func DropResets(namespace string) FirewallRule {
	return FirewallRule{
		Namespace: namespace,
		Table:     DefaultTable,
		Chain:     DefaultChain,
		Match:     Match{Protocol: "tcp", TCPFlags: []string{"RST"}},
		Action:    DefaultAction,
	}
}

// RuleSpec renders the rule as iptables arguments, without table and chain.
func (r FirewallRule) RuleSpec() []string {
	var spec []string
	if r.Match.Protocol != "" {
		spec = append(spec, "-p", r.Match.Protocol)
	}
	if len(r.Match.TCPFlags) > 0 {
		flags := strings.Join(r.Match.TCPFlags, ",")
		spec = append(spec, "--tcp-flags", flags, flags)
	}
	if r.Match.OutInterface != "" {
		spec = append(spec, "-o", r.Match.OutInterface)
	}
	return append(spec, "-j", r.Action)
}

func (r FirewallRule) String() string {
	return fmt.Sprintf("%s -t %s -A %s %s", r.Namespace, r.Table, r.Chain, strings.Join(r.RuleSpec(), " "))
}

func (r FirewallRule) withDefaults() FirewallRule {
	if r.Table == "" {
		r.Table = DefaultTable
	}
	if r.Chain == "" {
		r.Chain = DefaultChain
	}
	if r.Action == "" {
		r.Action = DefaultAction
	}
	r.Match.TCPFlags = append([]string(nil), r.Match.TCPFlags...)
	return r
}
