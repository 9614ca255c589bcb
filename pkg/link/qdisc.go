package link

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// netem default queue length
const defaultNetemLimit = 1000

// tc qdisc replace dev <ep> root handle 1: netem delay <latency>ms <jitter>ms loss <loss>% limit <limit>
func netemFor(l netlink.Link, p api.LinkProperties) *netlink.Netem {
	limit := p.Limit
	if limit == 0 {
		limit = defaultNetemLimit
	}
	return netlink.NewNetem(netlink.QdiscAttrs{
		LinkIndex: l.Attrs().Index,
		Handle:    netlink.MakeHandle(1, 0),
		Parent:    netlink.HANDLE_ROOT,
	}, netlink.NetemQdiscAttrs{
		Latency: p.Latency * 1000, // in us
		Jitter:  p.Jitter * 1000,
		Loss:    p.Loss,
		Limit:   limit,
	})
}

func rootNetem(h *netlink.Handle, l netlink.Link) (*netlink.Netem, error) {
	qdiscs, err := h.QdiscList(l)
	if err != nil {
		return nil, errdefs.FromOS("list qdiscs of "+l.Attrs().Name, err)
	}
	for _, q := range qdiscs {
		if q.Attrs().Parent != netlink.HANDLE_ROOT {
			continue
		}
		if netem, ok := q.(*netlink.Netem); ok {
			return netem, nil
		}
	}
	return nil, nil
}

// SetProperties installs a root netem qdisc emulating ep.Properties.
func (lm *LinkManager) SetProperties(ep api.Endpoint) error {
	l, h, err := lm.required(ep.Namespace, ep.Name)
	if err != nil {
		return err
	}
	defer h.Close()

	want := netemFor(l, ep.Properties)
	have, err := rootNetem(h, l)
	if err != nil {
		return err
	}
	if have != nil && have.Latency == want.Latency && have.Jitter == want.Jitter &&
		have.Loss == want.Loss && have.Limit == want.Limit {
		return errdefs.Satisfied("netem on %s already set", ep.Name)
	}

	if err := h.QdiscReplace(want); err != nil {
		return errdefs.FromOS("set netem on "+ep.Name, err)
	}
	lm.log.WithFields(logrus.Fields{
		"namespace": ep.Namespace,
		"interface": ep.Name,
		"latency":   ep.Properties.Latency,
		"loss":      ep.Properties.Loss,
	}).Info("set link properties")
	return nil
}

// ClearProperties removes the root netem qdisc, leaving the default.
func (lm *LinkManager) ClearProperties(ep api.Endpoint) error {
	l, h, err := lm.required(ep.Namespace, ep.Name)
	if err != nil {
		return err
	}
	defer h.Close()

	have, err := rootNetem(h, l)
	if err != nil {
		return err
	}
	if have == nil {
		return errdefs.Absent("no netem on %s", ep.Name)
	}
	if err := h.QdiscDel(have); err != nil {
		return errdefs.FromOS("delete netem on "+ep.Name, err)
	}
	lm.log.WithFields(logrus.Fields{"namespace": ep.Namespace, "interface": ep.Name}).Info("cleared link properties")
	return nil
}
