// Package netos is the boundary to the host's network state. Every change
// the provisioner makes goes through a Driver.
//
// Driver methods report, besides success:
//   - errdefs.ErrAlreadySatisfied when the resource is already as wanted,
//   - errdefs.ErrAbsent when the resource to change or remove is missing,
//   - errdefs.ErrConflict when it exists in an incompatible state,
//   - other errdefs kinds classified from the OS error.
package netos

import (
	"Netlab/api"
	"context"
)

type Driver interface {
	// CheckPrivilege fails with errdefs.ErrPrivilege when the process
	// cannot manage namespaces and interfaces.
	CheckPrivilege() error

	CreateNamespace(ctx context.Context, name string) error
	DeleteNamespace(ctx context.Context, name string) error

	CreateLinkPair(ctx context.Context, lp api.LinkPair) error
	DeleteLinkPair(ctx context.Context, lp api.LinkPair) error
	MoveEndpoint(ctx context.Context, ep api.Endpoint) error
	ReturnEndpoint(ctx context.Context, ep api.Endpoint) error
	SetLinkState(ctx context.Context, ns, name string, up bool) error

	AddAddress(ctx context.Context, a api.Address) error
	DelAddress(ctx context.Context, a api.Address) error
	AddRoute(ctx context.Context, r api.Route) error
	DelRoute(ctx context.Context, r api.Route) error

	// SetForwarding returns the previous value.
	SetForwarding(ctx context.Context, ns string, on bool) (bool, error)

	AddFirewallRule(ctx context.Context, r api.FirewallRule) error
	DelFirewallRule(ctx context.Context, r api.FirewallRule) error

	// SetOffload returns the previous values of the given features.
	SetOffload(ctx context.Context, ns, name string, features map[string]bool) (map[string]bool, error)

	SetProperties(ctx context.Context, ep api.Endpoint) error
	ClearProperties(ctx context.Context, ep api.Endpoint) error
}

// Loopback is the name of the loopback device in every namespace.
const Loopback = "lo"
