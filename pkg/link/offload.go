package link

import (
	"Netlab/pkg/errdefs"
	"github.com/safchain/ethtool"
	"github.com/sirupsen/logrus"
)

// SetOffload changes NIC offload features of a link inside namespace ns
// and returns the previous values of the features it was asked to set.
// Segmentation and checksum offload must be off for a user-space stack
// to see the segments it builds on the wire.
func (lm *LinkManager) SetOffload(ns, name string, features map[string]bool) (map[string]bool, error) {
	_, h, err := lm.required(ns, name)
	if err != nil {
		return nil, err
	}
	h.Close()

	var prev map[string]bool
	err = lm.nm.Do(ns, func() error {
		e, err := ethtool.NewEthtool()
		if err != nil {
			return errdefs.FromOS("ethtool", err)
		}
		defer e.Close()

		current, err := e.Features(name)
		if err != nil {
			return errdefs.FromOS("read features of "+name, err)
		}
		prev = make(map[string]bool, len(features))
		changed := false
		for feature, want := range features {
			have, ok := current[feature]
			if !ok {
				return errdefs.Rejected("%s does not support feature %s", name, feature)
			}
			prev[feature] = have
			if have != want {
				changed = true
			}
		}
		if !changed {
			return errdefs.Satisfied("offload of %s already set", name)
		}
		if err := e.Change(name, features); err != nil {
			return errdefs.FromOS("change features of "+name, err)
		}
		return nil
	})
	if err == nil {
		lm.log.WithFields(logrus.Fields{"namespace": ns, "interface": name, "features": features}).Info("set offload")
	}
	return prev, err
}
