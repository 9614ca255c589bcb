package link

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"Netlab/pkg/util"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"net"
	"net/netip"
)

func family(a netip.Addr) int {
	if a.Is4() {
		return netlink.FAMILY_V4
	}
	return netlink.FAMILY_V6
}

// AddAddress assigns a.Prefix to its interface, like `ip addr add`.
func (lm *LinkManager) AddAddress(a api.Address) error {
	l, h, err := lm.required(a.Namespace, a.Interface)
	if err != nil {
		return err
	}
	defer h.Close()

	addrs, err := h.AddrList(l, family(a.Prefix.Addr()))
	if err != nil {
		return errdefs.FromOS("list addresses of "+a.Interface, err)
	}
	for _, existing := range addrs {
		p, ok := util.Prefix(existing.IPNet)
		if !ok || p.Addr() != a.Prefix.Addr() {
			continue
		}
		if p.Bits() == a.Prefix.Bits() {
			return errdefs.Satisfied("address %s present", a)
		}
		return errdefs.Conflict("address %s: %s holds it as %s", a, a.Interface, p)
	}

	if err := h.AddrAdd(l, &netlink.Addr{IPNet: util.IPNet(a.Prefix)}); err != nil {
		return errdefs.FromOS("add address "+a.String(), err)
	}
	lm.log.WithFields(logrus.Fields{"namespace": a.Namespace, "interface": a.Interface, "address": a.Prefix.String()}).Info("added address")
	return nil
}

func (lm *LinkManager) DelAddress(a api.Address) error {
	l, h, err := lm.required(a.Namespace, a.Interface)
	if err != nil {
		return err
	}
	defer h.Close()

	addrs, err := h.AddrList(l, family(a.Prefix.Addr()))
	if err != nil {
		return errdefs.FromOS("list addresses of "+a.Interface, err)
	}
	for _, existing := range addrs {
		if p, ok := util.Prefix(existing.IPNet); ok && p == a.Prefix {
			if err := h.AddrDel(l, &existing); err != nil {
				return errdefs.FromOS("delete address "+a.String(), err)
			}
			lm.log.WithFields(logrus.Fields{"namespace": a.Namespace, "interface": a.Interface, "address": a.Prefix.String()}).Info("deleted address")
			return nil
		}
	}
	return errdefs.Absent("address %s not present", a)
}

// findRoute returns the main-table route to r.Destination, if any.
// Default routes come back with a nil or zero-length Dst depending on
// the netlink version; both match a zero-length destination.
func findRoute(h *netlink.Handle, r api.Route) (*netlink.Route, error) {
	routes, err := h.RouteList(nil, family(r.Via))
	if err != nil {
		return nil, errdefs.FromOS("list routes", err)
	}
	for i := range routes {
		dst := netip.PrefixFrom(netip.IPv4Unspecified(), 0)
		if !r.Via.Is4() {
			dst = netip.PrefixFrom(netip.IPv6Unspecified(), 0)
		}
		if routes[i].Dst != nil {
			p, ok := util.Prefix(routes[i].Dst)
			if !ok {
				continue
			}
			dst = p.Masked()
		}
		if dst == r.Destination.Masked() {
			return &routes[i], nil
		}
	}
	return nil, nil
}

// AddRoute installs a static route, like `ip route add`.
func (lm *LinkManager) AddRoute(r api.Route) error {
	h, err := lm.handle(r.Namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	existing, err := findRoute(h, r)
	if err != nil {
		return err
	}
	via := net.IP(r.Via.AsSlice())
	if existing != nil {
		if existing.Gw.Equal(via) {
			return errdefs.Satisfied("route %s present", r)
		}
		return errdefs.Conflict("route %s: destination already routed via %s", r, existing.Gw)
	}

	route := &netlink.Route{Gw: via}
	if !r.IsDefault() {
		route.Dst = util.IPNet(r.Destination.Masked())
	}
	if err := h.RouteAdd(route); err != nil {
		return errdefs.FromOS("add route "+r.String(), err)
	}
	lm.log.WithFields(logrus.Fields{"namespace": r.Namespace, "route": r.String()}).Info("added route")
	return nil
}

func (lm *LinkManager) DelRoute(r api.Route) error {
	h, err := lm.handle(r.Namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	existing, err := findRoute(h, r)
	if err != nil {
		return err
	}
	if existing == nil || !existing.Gw.Equal(net.IP(r.Via.AsSlice())) {
		return errdefs.Absent("route %s not present", r)
	}
	if err := h.RouteDel(existing); err != nil {
		return errdefs.FromOS("delete route "+r.String(), err)
	}
	lm.log.WithFields(logrus.Fields{"namespace": r.Namespace, "route": r.String()}).Info("deleted route")
	return nil
}
