package link

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"Netlab/pkg/node"
	"errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"net"
)

// LinkManager creates veth pairs, moves their ends into namespaces and
// configures them there through per-namespace netlink handles.
type LinkManager struct {
	nm   *node.NamespaceManager
	root netns.NsHandle
	log  *logrus.Entry
}

// NewLinkManager must be called from the namespace that link pairs are
// created in, normally the host's.
func NewLinkManager(nm *node.NamespaceManager, log *logrus.Entry) (*LinkManager, error) {
	if log == nil {
		log = logrus.WithField("subsystem", "link")
	}
	root, err := netns.Get()
	if err != nil {
		return nil, errdefs.FromOS("get root namespace", err)
	}
	return &LinkManager{nm: nm, root: root, log: log}, nil
}

func (lm *LinkManager) Close() error {
	return lm.root.Close()
}

// handle opens a netlink handle in namespace ns; "" is the root namespace.
func (lm *LinkManager) handle(ns string) (*netlink.Handle, error) {
	if ns == "" {
		h, err := netlink.NewHandleAt(lm.root)
		return h, errdefs.FromOS("netlink handle", err)
	}
	nsh, err := lm.nm.Handle(ns)
	if err != nil {
		return nil, err
	}
	defer nsh.Close()
	h, err := netlink.NewHandleAt(nsh)
	if err != nil {
		return nil, errdefs.FromOS("netlink handle in "+ns, err)
	}
	return h, nil
}

// linkIn looks name up in namespace ns. A missing link or namespace is
// reported as (nil, nil, nil).
func (lm *LinkManager) linkIn(ns, name string) (netlink.Link, *netlink.Handle, error) {
	h, err := lm.handle(ns)
	if errors.Is(err, errdefs.ErrAbsent) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	l, err := h.LinkByName(name)
	if err != nil {
		h.Close()
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) || errdefs.Classify(err) == errdefs.KindAbsent {
			return nil, nil, nil
		}
		return nil, nil, errdefs.FromOS("look up "+name, err)
	}
	return l, h, nil
}

// locate finds an endpoint either still in the root namespace or already
// in its own.
func (lm *LinkManager) locate(ep api.Endpoint) (netlink.Link, *netlink.Handle, error) {
	l, h, err := lm.linkIn(ep.Namespace, ep.Name)
	if err != nil || l != nil {
		return l, h, err
	}
	return lm.linkIn("", ep.Name)
}

// required is linkIn with a missing link turned into an Absent error.
func (lm *LinkManager) required(ns, name string) (netlink.Link, *netlink.Handle, error) {
	l, h, err := lm.linkIn(ns, name)
	if err != nil {
		return nil, nil, err
	}
	if l == nil {
		return nil, nil, errdefs.Absent("link %s not found in namespace %s", name, ns)
	}
	return l, h, nil
}

// CreatePair creates both ends of lp in the root namespace.
func (lm *LinkManager) CreatePair(lp api.LinkPair) error {
	a, z := lp.Endpoints[0], lp.Endpoints[1]
	la, ha, err := lm.locate(a)
	if err != nil {
		return err
	}
	if ha != nil {
		defer ha.Close()
	}
	lz, hz, err := lm.locate(z)
	if err != nil {
		return err
	}
	if hz != nil {
		defer hz.Close()
	}

	switch {
	case la != nil && lz != nil:
		if la.Type() != "veth" || lz.Type() != "veth" {
			return errdefs.Conflict("link pair %s: existing links are %s and %s, not veth", lp, la.Type(), lz.Type())
		}
		if !peers(la, lz) {
			return errdefs.Conflict("link pair %s: %s and %s are ends of different pairs", lp, a.Name, z.Name)
		}
		return errdefs.Satisfied("link pair %s exists", lp)
	case la != nil:
		return errdefs.Conflict("link pair %s: %s exists without its peer", lp, a.Name)
	case lz != nil:
		return errdefs.Conflict("link pair %s: %s exists without its peer", lp, z.Name)
	}

	h, err := lm.handle("")
	if err != nil {
		return err
	}
	defer h.Close()

	attrs := netlink.NewLinkAttrs()
	attrs.Name = a.Name
	attrs.MTU = lp.MTU
	veth := &netlink.Veth{LinkAttrs: attrs, PeerName: z.Name}
	if err := h.LinkAdd(veth); err != nil {
		return errdefs.FromOS("create veth pair "+lp.String(), err)
	}
	lm.log.WithField("pair", lp.String()).Info("created veth pair")
	return nil
}

// peers reports whether two veths are ends of one pair. IFLA_LINK of a
// veth carries its peer's ifindex, which stays meaningful after either end
// moved to another namespace.
func peers(a, z netlink.Link) bool {
	return a.Attrs().ParentIndex == z.Attrs().Index && z.Attrs().ParentIndex == a.Attrs().Index
}

// DeletePair deletes lp wherever its ends currently are. Deleting one end
// removes the other.
func (lm *LinkManager) DeletePair(lp api.LinkPair) error {
	for _, ep := range lp.Endpoints {
		l, h, err := lm.locate(ep)
		if err != nil {
			return err
		}
		if l == nil {
			continue
		}
		defer h.Close()
		if err := h.LinkDel(l); err != nil {
			return errdefs.FromOS("delete veth "+ep.Name, err)
		}
		lm.log.WithField("pair", lp.String()).Info("deleted veth pair")
		return nil
	}
	return errdefs.Absent("link pair %s not found", lp)
}

// Move transfers an endpoint from the root namespace into its own.
func (lm *LinkManager) Move(ep api.Endpoint) error {
	l, h, err := lm.linkIn(ep.Namespace, ep.Name)
	if err != nil {
		return err
	}
	if l != nil {
		h.Close()
		if l.Type() != "veth" {
			return errdefs.Conflict("%s in %s is a %s, not a veth", ep.Name, ep.Namespace, l.Type())
		}
		return errdefs.Satisfied("%s already in %s", ep.Name, ep.Namespace)
	}

	l, h, err = lm.required("", ep.Name)
	if err != nil {
		return err
	}
	defer h.Close()

	target, err := lm.nm.Handle(ep.Namespace)
	if err != nil {
		return err
	}
	defer target.Close()

	if err := h.LinkSetNsFd(l, int(target)); err != nil {
		return errdefs.FromOS("move "+ep.Name+" to "+ep.Namespace, err)
	}
	lm.log.WithFields(logrus.Fields{"interface": ep.Name, "namespace": ep.Namespace}).Info("moved endpoint")
	return nil
}

// Return moves an endpoint back to the root namespace.
func (lm *LinkManager) Return(ep api.Endpoint) error {
	l, h, err := lm.required(ep.Namespace, ep.Name)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.LinkSetNsFd(l, int(lm.root)); err != nil {
		return errdefs.FromOS("return "+ep.Name+" from "+ep.Namespace, err)
	}
	lm.log.WithFields(logrus.Fields{"interface": ep.Name, "namespace": ep.Namespace}).Info("returned endpoint")
	return nil
}

// SetState brings a link in namespace ns up or down.
func (lm *LinkManager) SetState(ns, name string, up bool) error {
	l, h, err := lm.required(ns, name)
	if err != nil {
		return err
	}
	defer h.Close()

	if (l.Attrs().Flags&net.FlagUp != 0) == up {
		return errdefs.Satisfied("%s in %s already up=%t", name, ns, up)
	}
	if up {
		err = h.LinkSetUp(l)
	} else {
		err = h.LinkSetDown(l)
	}
	if err != nil {
		return errdefs.FromOS("set "+name+" state", err)
	}
	lm.log.WithFields(logrus.Fields{"interface": name, "namespace": ns, "up": up}).Info("set link state")
	return nil
}
