package api

import "fmt"

const DefaultMTU = 1500

type LinkState string

const (
	LinkUp   LinkState = "up"
	LinkDown LinkState = "down"
)

// LinkPair is a veth pair. Both ends are created together in the root
// namespace and then moved, each into its own namespace.
type LinkPair struct {
	Endpoints [2]Endpoint
	MTU       int
}

func (lp LinkPair) String() string {
	return fmt.Sprintf("%s@%s <-> %s@%s",
		lp.Endpoints[0].Name, lp.Endpoints[0].Namespace,
		lp.Endpoints[1].Name, lp.Endpoints[1].Namespace)
}

// Peer returns the other end of the pair.
func (lp LinkPair) Peer(name string) (Endpoint, bool) {
	switch name {
	case lp.Endpoints[0].Name:
		return lp.Endpoints[1], true
	case lp.Endpoints[1].Name:
		return lp.Endpoints[0], true
	}
	return Endpoint{}, false
}

// Endpoint is one end of a LinkPair.
type Endpoint struct {
	Name       string
	Namespace  string
	State      LinkState
	Offload    map[string]bool // ethtool feature name -> wanted value
	Properties LinkProperties
}

func (e Endpoint) Up() bool {
	return e.State != LinkDown
}

func (e Endpoint) clone() Endpoint {
	if e.Offload != nil {
		m := make(map[string]bool, len(e.Offload))
		for k, v := range e.Offload {
			m[k] = v
		}
		e.Offload = m
	}
	if e.State == "" {
		e.State = LinkUp
	}
	return e
}

// LinkProperties emulate a slower or lossy wire with netem on the
// endpoint's egress.
type LinkProperties struct {
	Latency uint32  `yaml:"latency"` // in ms
	Jitter  uint32  `yaml:"jitter"`  // in ms
	Loss    float32 `yaml:"loss"`    // in percentage
	Limit   uint32  `yaml:"limit"`   // queue length in packets
}

func (p LinkProperties) IsZero() bool {
	return p == LinkProperties{}
}
