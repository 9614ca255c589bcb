package netos

import (
	"Netlab/pkg/errdefs"
	"fmt"
	"golang.org/x/sys/unix"
)

// CAP_NET_ADMIN to configure links, addresses, routes and firewall;
// CAP_SYS_ADMIN to create and mount namespaces.
var requiredCaps = []struct {
	bit  uint
	name string
}{
	{unix.CAP_NET_ADMIN, "CAP_NET_ADMIN"},
	{unix.CAP_SYS_ADMIN, "CAP_SYS_ADMIN"},
}

// CheckCapabilities reads the effective capability set of the process.
func CheckCapabilities() error {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return errdefs.New(errdefs.KindPrivilege, "capget", err)
	}
	for _, c := range requiredCaps {
		if data[c.bit/32].Effective&(1<<(c.bit%32)) == 0 {
			return errdefs.New(errdefs.KindPrivilege, "check capabilities", fmt.Errorf("missing %s", c.name))
		}
	}
	return nil
}
