package netos

import (
	"Netlab/pkg/plan"
	"context"
	"fmt"
)

// Call performs op with exactly one driver call and returns the state
// the call overwrote.
func Call(ctx context.Context, d Driver, op plan.Op) (plan.Prior, error) {
	var prior plan.Prior
	var err error

	switch op.Kind {
	case plan.CreateNamespace:
		err = d.CreateNamespace(ctx, op.Namespace)
	case plan.DeleteNamespace:
		err = d.DeleteNamespace(ctx, op.Namespace)
	case plan.CreateLinkPair:
		err = d.CreateLinkPair(ctx, op.Pair)
	case plan.DeleteLinkPair:
		err = d.DeleteLinkPair(ctx, op.Pair)
	case plan.MoveEndpoint:
		err = d.MoveEndpoint(ctx, op.Endpoint)
	case plan.ReturnEndpoint:
		err = d.ReturnEndpoint(ctx, op.Endpoint)
	case plan.LinkUp:
		err = d.SetLinkState(ctx, op.Endpoint.Namespace, op.Endpoint.Name, true)
	case plan.LinkDown:
		err = d.SetLinkState(ctx, op.Endpoint.Namespace, op.Endpoint.Name, false)
	case plan.LoopbackUp:
		err = d.SetLinkState(ctx, op.Namespace, Loopback, true)
	case plan.LoopbackDown:
		err = d.SetLinkState(ctx, op.Namespace, Loopback, false)
	case plan.AddAddress:
		err = d.AddAddress(ctx, op.Address)
	case plan.DelAddress:
		err = d.DelAddress(ctx, op.Address)
	case plan.AddRoute:
		err = d.AddRoute(ctx, op.Route)
	case plan.DelRoute:
		err = d.DelRoute(ctx, op.Route)
	case plan.SetForwarding, plan.ResetForwarding:
		prior.Forwarding, err = d.SetForwarding(ctx, op.Namespace, op.Forwarding)
	case plan.AddFirewallRule:
		err = d.AddFirewallRule(ctx, op.Rule)
	case plan.DelFirewallRule:
		err = d.DelFirewallRule(ctx, op.Rule)
	case plan.SetOffload, plan.ResetOffload:
		prior.Features, err = d.SetOffload(ctx, op.Endpoint.Namespace, op.Endpoint.Name, op.Features)
	case plan.SetProperties:
		err = d.SetProperties(ctx, op.Endpoint)
	case plan.ClearProperties:
		err = d.ClearProperties(ctx, op.Endpoint)
	default:
		err = fmt.Errorf("unknown operation kind %s", op.Kind)
	}
	return prior, err
}
