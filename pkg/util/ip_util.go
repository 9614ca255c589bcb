package util

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"unicode"
)

// IFNAMSIZ minus the trailing NUL.
const maxInterfaceName = 15

// CheckInterfaceName reports why name cannot be a Linux interface name.
func CheckInterfaceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty interface name")
	case len(name) > maxInterfaceName:
		return fmt.Errorf("interface name %q longer than %d bytes", name, maxInterfaceName)
	case name == "." || name == "..":
		return fmt.Errorf("interface name %q is reserved", name)
	case name == "lo":
		return fmt.Errorf("interface name %q is the loopback device", name)
	}
	for _, r := range name {
		if r == '/' || r == ':' || unicode.IsSpace(r) {
			return fmt.Errorf("interface name %q contains %q", name, r)
		}
	}
	return nil
}

// CheckNamespaceName reports why name cannot name a netns under /run/netns.
func CheckNamespaceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty namespace name")
	case name == "." || name == "..":
		return fmt.Errorf("namespace name %q is reserved", name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("namespace name %q contains a path separator", name)
	}
	return nil
}

// IPNet converts a prefix that keeps its host bits (10.0.0.1/24) into the
// net.IPNet form netlink expects.
func IPNet(p netip.Prefix) *net.IPNet {
	addr := p.Addr()
	bits := 128
	if addr.Is4() {
		bits = 32
	}
	return &net.IPNet{IP: net.IP(addr.AsSlice()), Mask: net.CIDRMask(p.Bits(), bits)}
}

// Prefix is the inverse of IPNet.
func Prefix(n *net.IPNet) (netip.Prefix, bool) {
	if n == nil {
		return netip.Prefix{}, false
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, _ := n.Mask.Size()
	return netip.PrefixFrom(addr.Unmap(), ones), true
}
