package netos

import (
	"Netlab/api"
	"Netlab/pkg/link"
	"Netlab/pkg/node"
	"context"
	"github.com/sirupsen/logrus"
)

// Kernel drives the host's kernel: named namespaces through netns,
// links, addresses, routes and qdiscs through netlink, forwarding
// through sysctl, firewall rules through iptables and offloads through
// ethtool.
type Kernel struct {
	nm *node.NamespaceManager
	lm *link.LinkManager
}

func NewKernel(log *logrus.Entry) (*Kernel, error) {
	if log == nil {
		log = logrus.WithField("subsystem", "netos")
	}
	nm := node.NewNamespaceManager(log.WithField("component", "namespace"))
	lm, err := link.NewLinkManager(nm, log.WithField("component", "link"))
	if err != nil {
		return nil, err
	}
	return &Kernel{nm: nm, lm: lm}, nil
}

func (k *Kernel) Close() error {
	return k.lm.Close()
}

func (k *Kernel) CheckPrivilege() error {
	return CheckCapabilities()
}

func (k *Kernel) CreateNamespace(_ context.Context, name string) error {
	return k.nm.Create(name)
}

func (k *Kernel) DeleteNamespace(_ context.Context, name string) error {
	return k.nm.Delete(name)
}

func (k *Kernel) CreateLinkPair(_ context.Context, lp api.LinkPair) error {
	return k.lm.CreatePair(lp)
}

func (k *Kernel) DeleteLinkPair(_ context.Context, lp api.LinkPair) error {
	return k.lm.DeletePair(lp)
}

func (k *Kernel) MoveEndpoint(_ context.Context, ep api.Endpoint) error {
	return k.lm.Move(ep)
}

func (k *Kernel) ReturnEndpoint(_ context.Context, ep api.Endpoint) error {
	return k.lm.Return(ep)
}

func (k *Kernel) SetLinkState(_ context.Context, ns, name string, up bool) error {
	return k.lm.SetState(ns, name, up)
}

func (k *Kernel) AddAddress(_ context.Context, a api.Address) error {
	return k.lm.AddAddress(a)
}

func (k *Kernel) DelAddress(_ context.Context, a api.Address) error {
	return k.lm.DelAddress(a)
}

func (k *Kernel) AddRoute(_ context.Context, r api.Route) error {
	return k.lm.AddRoute(r)
}

func (k *Kernel) DelRoute(_ context.Context, r api.Route) error {
	return k.lm.DelRoute(r)
}

func (k *Kernel) SetForwarding(_ context.Context, ns string, on bool) (bool, error) {
	return k.nm.SetForwarding(ns, on)
}

func (k *Kernel) AddFirewallRule(_ context.Context, r api.FirewallRule) error {
	return k.nm.AddRule(r)
}

func (k *Kernel) DelFirewallRule(_ context.Context, r api.FirewallRule) error {
	return k.nm.DeleteRule(r)
}

func (k *Kernel) SetOffload(_ context.Context, ns, name string, features map[string]bool) (map[string]bool, error) {
	return k.lm.SetOffload(ns, name, features)
}

func (k *Kernel) SetProperties(_ context.Context, ep api.Endpoint) error {
	return k.lm.SetProperties(ep)
}

func (k *Kernel) ClearProperties(_ context.Context, ep api.Endpoint) error {
	return k.lm.ClearProperties(ep)
}
