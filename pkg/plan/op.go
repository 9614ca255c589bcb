package plan

import (
	"Netlab/api"
	"fmt"
	"sort"
	"strings"
)

// Kind is the type of an atomic provisioning operation. Each kind maps to
// exactly one OS call.
type Kind int

const (
	CreateNamespace Kind = iota
	CreateLinkPair
	MoveEndpoint
	LinkUp
	LoopbackUp
	AddAddress
	AddRoute
	SetForwarding
	AddFirewallRule
	SetOffload
	SetProperties

	// inverse kinds, used by teardown and rollback
	DeleteNamespace
	DeleteLinkPair
	ReturnEndpoint
	LinkDown
	LoopbackDown
	DelAddress
	DelRoute
	ResetForwarding
	DelFirewallRule
	ResetOffload
	ClearProperties
)

var kindNames = [...]string{
	CreateNamespace: "create-namespace",
	CreateLinkPair:  "create-link-pair",
	MoveEndpoint:    "move-endpoint",
	LinkUp:          "link-up",
	LoopbackUp:      "loopback-up",
	AddAddress:      "add-address",
	AddRoute:        "add-route",
	SetForwarding:   "set-forwarding",
	AddFirewallRule: "add-firewall-rule",
	SetOffload:      "set-offload",
	SetProperties:   "set-properties",
	DeleteNamespace: "delete-namespace",
	DeleteLinkPair:  "delete-link-pair",
	ReturnEndpoint:  "return-endpoint",
	LinkDown:        "link-down",
	LoopbackDown:    "loopback-down",
	DelAddress:      "del-address",
	DelRoute:        "del-route",
	ResetForwarding: "reset-forwarding",
	DelFirewallRule: "del-firewall-rule",
	ResetOffload:    "reset-offload",
	ClearProperties: "clear-properties",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var inverses = map[Kind]Kind{
	CreateNamespace: DeleteNamespace,
	CreateLinkPair:  DeleteLinkPair,
	MoveEndpoint:    ReturnEndpoint,
	LinkUp:          LinkDown,
	LoopbackUp:      LoopbackDown,
	AddAddress:      DelAddress,
	AddRoute:        DelRoute,
	SetForwarding:   ResetForwarding,
	AddFirewallRule: DelFirewallRule,
	SetOffload:      ResetOffload,
	SetProperties:   ClearProperties,
}

// Op is one atomic provisioning operation. Only the fields relevant to
// Kind are set.
type Op struct {
	ID        int
	Kind      Kind
	Namespace string
	Pair      api.LinkPair
	Endpoint  api.Endpoint
	Address   api.Address
	Route     api.Route
	Rule      api.FirewallRule

	Forwarding bool
	Features   map[string]bool

	Deps []int // IDs of operations that must complete first
}

func (o Op) String() string {
	var target string
	switch o.Kind {
	case CreateNamespace, DeleteNamespace, LoopbackUp, LoopbackDown:
		target = o.Namespace
	case CreateLinkPair, DeleteLinkPair:
		target = o.Pair.String()
	case MoveEndpoint, ReturnEndpoint, LinkUp, LinkDown, SetProperties, ClearProperties:
		target = o.Endpoint.Name + "@" + o.Endpoint.Namespace
	case SetOffload, ResetOffload:
		target = o.Endpoint.Name + "@" + o.Endpoint.Namespace + " " + formatFeatures(o.Features)
	case AddAddress, DelAddress:
		target = o.Address.String()
	case AddRoute, DelRoute:
		target = o.Route.String()
	case SetForwarding, ResetForwarding:
		target = fmt.Sprintf("%s=%t", o.Namespace, o.Forwarding)
	case AddFirewallRule, DelFirewallRule:
		target = o.Rule.String()
	}
	return o.Kind.String() + " " + target
}

// Locks names the namespaces and interfaces the operation writes to.
// Keys come back sorted so callers can acquire them without deadlock.
func (o Op) Locks() []string {
	var keys []string
	ns := func(n string) { keys = append(keys, "ns/"+n) }
	link := func(n string) { keys = append(keys, "if/"+n) }

	switch o.Kind {
	case CreateNamespace, DeleteNamespace, LoopbackUp, LoopbackDown, SetForwarding, ResetForwarding:
		ns(o.Namespace)
	case CreateLinkPair, DeleteLinkPair:
		link(o.Pair.Endpoints[0].Name)
		link(o.Pair.Endpoints[1].Name)
	case MoveEndpoint, ReturnEndpoint, LinkUp, LinkDown, SetOffload, ResetOffload, SetProperties, ClearProperties:
		ns(o.Endpoint.Namespace)
		link(o.Endpoint.Name)
	case AddAddress, DelAddress:
		ns(o.Address.Namespace)
		link(o.Address.Interface)
	case AddRoute, DelRoute:
		ns(o.Route.Namespace)
	case AddFirewallRule, DelFirewallRule:
		ns(o.Rule.Namespace)
	}
	sort.Strings(keys)
	return keys
}

// Prior is the state an operation overwrote, captured so that rollback
// can put it back.
type Prior struct {
	Forwarding bool
	Features   map[string]bool
}

// Invert returns the operation that undoes op, given what op overwrote.
func Invert(op Op, prior Prior) (Op, bool) {
	kind, ok := inverses[op.Kind]
	if !ok {
		return Op{}, false
	}
	inv := op
	inv.Kind = kind
	inv.Deps = nil
	switch kind {
	case ResetForwarding:
		inv.Forwarding = prior.Forwarding
	case ResetOffload:
		inv.Features = prior.Features
	}
	return inv, true
}

func formatFeatures(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		v := "off"
		if m[k] {
			v = "on"
		}
		parts[i] = k + "=" + v
	}
	return strings.Join(parts, ",")
}
