package api

import (
	"Netlab/pkg/errdefs"
	"bytes"
	"fmt"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"net/netip"
	"strings"
)

// TopoConfig is the declarative YAML form of a Topology.
type TopoConfig struct {
	Namespaces []NamespaceConfig `yaml:"namespaces"`
	Links      []LinkConfig      `yaml:"links"`
	Addresses  []AddressConfig   `yaml:"addresses"`
	Routes     []RouteConfig     `yaml:"routes"`
	Firewall   []FirewallConfig  `yaml:"firewall"`
}

type NamespaceConfig struct {
	Name       string `yaml:"name"`
	Forwarding bool   `yaml:"forwarding"`
	DropResets bool   `yaml:"dropResets"` // shorthand for a DropResets firewall rule
}

type LinkConfig struct {
	MTU       int              `yaml:"mtu" default:"1500"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

type EndpointConfig struct {
	Name       string          `yaml:"name"`
	Namespace  string          `yaml:"namespace"`
	State      string          `yaml:"state" default:"up"`
	Offload    map[string]bool `yaml:"offload"`
	Properties LinkProperties  `yaml:"properties"`
}

type AddressConfig struct {
	Namespace string `yaml:"namespace"`
	Interface string `yaml:"interface"`
	CIDR      string `yaml:"cidr"` // 10.0.0.1/24
}

type RouteConfig struct {
	Namespace   string `yaml:"namespace"`
	Destination string `yaml:"destination"` // prefix or "default"
	Via         string `yaml:"via"`
}

type FirewallConfig struct {
	Namespace string      `yaml:"namespace"`
	Table     string      `yaml:"table"`
	Chain     string      `yaml:"chain"`
	Match     MatchConfig `yaml:"match"`
	Action    string      `yaml:"action"`
}

type MatchConfig struct {
	Protocol     string   `yaml:"protocol"`
	TCPFlags     []string `yaml:"tcpFlags"`
	OutInterface string   `yaml:"outInterface"`
}

// ParseTopology decodes a YAML topology document. Unknown keys are errors.
func ParseTopology(data []byte) (*Topology, error) {
	var cfg TopoConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode topology")
	}
	return FromConfig(cfg)
}

// FromConfig converts the YAML form into a Topology. Every field that
// does not parse is reported, all in one ValidationError.
func FromConfig(cfg TopoConfig) (*Topology, error) {
	var violations []errdefs.Violation
	bad := func(subject, format string, args ...interface{}) {
		violations = append(violations, errdefs.Violation{Rule: "parse", Subject: subject, Message: fmt.Sprintf(format, args...)})
	}

	b := NewBuilder()
	var resets []FirewallRule
	for _, n := range cfg.Namespaces {
		b.AddNamespace(n.Name, n.Forwarding)
		if n.DropResets {
			resets = append(resets, DropResets(n.Name))
		}
	}

	for i, l := range cfg.Links {
		if len(l.Endpoints) != 2 {
			bad(fmt.Sprintf("links[%d]", i), "a link pair needs exactly 2 endpoints, got %d", len(l.Endpoints))
			continue
		}
		var eps [2]Endpoint
		for j, ec := range l.Endpoints {
			state, err := parseState(ec.State)
			if err != nil {
				bad(ec.Name, "%v", err)
			}
			eps[j] = Endpoint{
				Name:       ec.Name,
				Namespace:  ec.Namespace,
				State:      state,
				Offload:    ec.Offload,
				Properties: ec.Properties,
			}
		}
		b.AddLinkPairMTU(eps[0], eps[1], l.MTU)
	}

	for _, a := range cfg.Addresses {
		p, err := netip.ParsePrefix(a.CIDR)
		if err != nil {
			bad(a.Namespace+" "+a.Interface, "bad address %q: %v", a.CIDR, err)
			continue
		}
		b.AddAddress(Address{Namespace: a.Namespace, Interface: a.Interface, Prefix: p})
	}

	for _, r := range cfg.Routes {
		dst, err := ParseDestination(r.Destination)
		if err != nil {
			bad(r.Namespace, "%v", err)
			continue
		}
		via, err := netip.ParseAddr(r.Via)
		if err != nil {
			bad(r.Namespace+" "+r.Destination, "bad next hop %q: %v", r.Via, err)
			continue
		}
		b.AddRoute(Route{Namespace: r.Namespace, Destination: dst, Via: via})
	}

	for _, f := range cfg.Firewall {
		b.AddFirewallRule(FirewallRule{
			Namespace: f.Namespace,
			Table:     f.Table,
			Chain:     f.Chain,
			Match: Match{
				Protocol:     f.Match.Protocol,
				TCPFlags:     f.Match.TCPFlags,
				OutInterface: f.Match.OutInterface,
			},
			Action: f.Action,
		})
	}
	for _, r := range resets {
		b.AddFirewallRule(r)
	}

	if len(violations) > 0 {
		return nil, &errdefs.ValidationError{Violations: violations}
	}
	return b.Build(), nil
}

// ParseDestination parses a route destination; "default" is 0.0.0.0/0.
// An empty destination is an error, not a default route.
func ParseDestination(s string) (netip.Prefix, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default":
		return netip.PrefixFrom(netip.IPv4Unspecified(), 0), nil
	case "":
		return netip.Prefix{}, fmt.Errorf("missing route destination")
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("bad route destination %q: %v", s, err)
	}
	return p.Masked(), nil
}

func parseState(s string) (LinkState, error) {
	switch LinkState(strings.ToLower(s)) {
	case "", LinkUp:
		return LinkUp, nil
	case LinkDown:
		return LinkDown, nil
	}
	return LinkUp, fmt.Errorf("unknown link state %q", s)
}
