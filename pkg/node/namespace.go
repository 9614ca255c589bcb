package node

import (
	"Netlab/pkg/errdefs"
	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/containernetworking/plugins/pkg/utils/sysctl"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netns"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// NetnsRunDir is where netns.NewNamed bind-mounts named namespaces,
	// the same place `ip netns` uses.
	NetnsRunDir = "/var/run/netns"

	ipForward = "net/ipv4/ip_forward"
)

// NamespaceManager manages the lifecycle of named network namespaces and
// the namespace-scoped settings inside them: forwarding and firewall rules.
type NamespaceManager struct {
	log *logrus.Entry
}

func NewNamespaceManager(log *logrus.Entry) *NamespaceManager {
	if log == nil {
		log = logrus.WithField("subsystem", "node")
	}
	return &NamespaceManager{log: log}
}

func (nm *NamespaceManager) Path(name string) string {
	return filepath.Join(NetnsRunDir, name)
}

func (nm *NamespaceManager) Exists(name string) bool {
	_, err := os.Stat(nm.Path(name))
	return err == nil
}

// Handle opens the named namespace. The caller closes it.
func (nm *NamespaceManager) Handle(name string) (netns.NsHandle, error) {
	if !nm.Exists(name) {
		return netns.None(), errdefs.Absent("namespace %s does not exist", name)
	}
	h, err := netns.GetFromPath(nm.Path(name))
	if err != nil {
		return netns.None(), errdefs.FromOS("open namespace "+name, err)
	}
	return h, nil
}

// Do runs fn on a thread that has entered the named namespace.
func (nm *NamespaceManager) Do(name string, fn func() error) error {
	if !nm.Exists(name) {
		return errdefs.Absent("namespace %s does not exist", name)
	}
	return ns.WithNetNSPath(nm.Path(name), func(_ ns.NetNS) error {
		return fn()
	})
}

// Create adds a named namespace, like `ip netns add`.
func (nm *NamespaceManager) Create(name string) error {
	if nm.Exists(name) {
		return errdefs.Satisfied("namespace %s exists", name)
	}

	// netns.NewNamed switches the calling thread into the new namespace.
	runtime.LockOSThread()
	origin, err := netns.Get()
	if err != nil {
		runtime.UnlockOSThread()
		return errdefs.FromOS("get current namespace", err)
	}
	defer origin.Close()

	h, createErr := netns.NewNamed(name)
	if createErr == nil {
		h.Close()
	}
	if err := netns.Set(origin); err != nil {
		// the thread stays locked and dies with its goroutine
		return errors.Wrapf(err, "failed to return from namespace %s", name)
	}
	runtime.UnlockOSThread()

	if createErr != nil {
		return errdefs.FromOS("create namespace "+name, createErr)
	}
	nm.log.WithField("namespace", name).Info("created namespace")
	return nil
}

// Delete removes a named namespace, like `ip netns delete`.
func (nm *NamespaceManager) Delete(name string) error {
	if !nm.Exists(name) {
		return errdefs.Absent("namespace %s does not exist", name)
	}
	if err := netns.DeleteNamed(name); err != nil {
		return errdefs.FromOS("delete namespace "+name, err)
	}
	nm.log.WithField("namespace", name).Info("deleted namespace")
	return nil
}

// SetForwarding sets net.ipv4.ip_forward inside the namespace and returns
// the value it had before.
func (nm *NamespaceManager) SetForwarding(name string, on bool) (bool, error) {
	var prev bool
	err := nm.Do(name, func() error {
		cur, err := sysctl.Sysctl(ipForward)
		if err != nil {
			return errdefs.FromOS("read "+ipForward, err)
		}
		prev = strings.TrimSpace(cur) == "1"
		if prev == on {
			return errdefs.Satisfied("forwarding in %s already %t", name, on)
		}
		value := "0"
		if on {
			value = "1"
		}
		if _, err := sysctl.Sysctl(ipForward, value); err != nil {
			return errdefs.FromOS("write "+ipForward, err)
		}
		return nil
	})
	if err == nil {
		nm.log.WithFields(logrus.Fields{"namespace": name, "forwarding": on}).Info("set forwarding")
	}
	return prev, err
}
