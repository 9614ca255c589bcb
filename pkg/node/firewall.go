package node

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"github.com/coreos/go-iptables/iptables"
	"github.com/sirupsen/logrus"
)

// iptables execs the iptables binary; run inside Do, the child inherits
// the namespace of the locked thread.
func (nm *NamespaceManager) iptables(r api.FirewallRule, fn func(ipt *iptables.IPTables, exists bool) error) error {
	return nm.Do(r.Namespace, func() error {
		ipt, err := iptables.New()
		if err != nil {
			return errdefs.FromOS("iptables", err)
		}
		exists, err := ipt.Exists(r.Table, r.Chain, r.RuleSpec()...)
		if err != nil {
			return errdefs.FromOS("iptables check", err)
		}
		return fn(ipt, exists)
	})
}

func (nm *NamespaceManager) AddRule(r api.FirewallRule) error {
	return nm.iptables(r, func(ipt *iptables.IPTables, exists bool) error {
		if exists {
			return errdefs.Satisfied("rule %s present", r)
		}
		if err := ipt.Append(r.Table, r.Chain, r.RuleSpec()...); err != nil {
			return errdefs.FromOS("iptables append", err)
		}
		nm.log.WithFields(logrus.Fields{"namespace": r.Namespace, "rule": r.String()}).Info("installed firewall rule")
		return nil
	})
}

func (nm *NamespaceManager) DeleteRule(r api.FirewallRule) error {
	return nm.iptables(r, func(ipt *iptables.IPTables, exists bool) error {
		if !exists {
			return errdefs.Absent("rule %s not present", r)
		}
		if err := ipt.Delete(r.Table, r.Chain, r.RuleSpec()...); err != nil {
			return errdefs.FromOS("iptables delete", err)
		}
		nm.log.WithFields(logrus.Fields{"namespace": r.Namespace, "rule": r.String()}).Info("removed firewall rule")
		return nil
	})
}
