// Package plan expands a validated topology into a dependency-ordered list
// of atomic operations.
package plan

import (
	"Netlab/api"
	"container/heap"
	"fmt"
)

// Plan is a totally ordered list of operations that respects every
// dependency edge. Op.ID is the position in Ops.
type Plan struct {
	Ops []Op
}

func (p *Plan) Len() int { return len(p.Ops) }

// Batches groups operations by dependency depth: every operation in batch
// i depends only on operations in batches before i, so each batch may run
// concurrently.
func (p *Plan) Batches() [][]Op {
	depth := make([]int, len(p.Ops))
	var batches [][]Op
	for _, op := range p.Ops {
		d := 0
		for _, dep := range op.Deps {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[op.ID] = d
		for len(batches) <= d {
			batches = append(batches, nil)
		}
		batches[d] = append(batches[d], op)
	}
	return batches
}

// builder collects operations in phase then declaration order and wires
// their dependency edges.
type builder struct {
	ops []Op

	namespace map[string]int   // CreateNamespace op by namespace
	pair      map[string]int   // CreateLinkPair op by endpoint name
	move      map[string]int   // MoveEndpoint op by endpoint name
	ready     map[string]int   // op after which an endpoint accepts configuration
	addrs     map[string][]int // AddAddress ops by namespace
}

func (b *builder) add(op Op, deps ...int) int {
	op.ID = len(b.ops)
	op.Deps = append([]int(nil), deps...)
	b.ops = append(b.ops, op)
	return op.ID
}

// New plans t. t must have passed validation; New only fails when the
// dependency graph it builds is inconsistent.
func New(t *api.Topology) (*Plan, error) {
	b := &builder{
		namespace: map[string]int{},
		pair:      map[string]int{},
		move:      map[string]int{},
		ready:     map[string]int{},
		addrs:     map[string][]int{},
	}

	// 1. namespaces
	for _, n := range t.Namespaces() {
		b.namespace[n.Name] = b.add(Op{Kind: CreateNamespace, Namespace: n.Name})
	}

	// 2. link pairs, created unassigned in the root namespace
	for _, lp := range t.LinkPairs() {
		id := b.add(Op{Kind: CreateLinkPair, Pair: lp})
		b.pair[lp.Endpoints[0].Name] = id
		b.pair[lp.Endpoints[1].Name] = id
	}

	// 3. move each endpoint into its namespace
	for _, ep := range t.Endpoints() {
		ns, ok := b.namespace[ep.Namespace]
		if !ok {
			return nil, fmt.Errorf("endpoint %s: namespace %s is not planned", ep.Name, ep.Namespace)
		}
		id := b.add(Op{Kind: MoveEndpoint, Endpoint: ep}, b.pair[ep.Name], ns)
		b.move[ep.Name] = id
		b.ready[ep.Name] = id
	}

	// 4. endpoints up, then loopback of every namespace owning an endpoint
	for _, ep := range t.Endpoints() {
		if !ep.Up() {
			continue
		}
		b.ready[ep.Name] = b.add(Op{Kind: LinkUp, Endpoint: ep}, b.move[ep.Name])
	}
	owners := map[string]bool{}
	for _, ep := range t.Endpoints() {
		owners[ep.Namespace] = true
	}
	for _, n := range t.Namespaces() {
		if owners[n.Name] {
			b.add(Op{Kind: LoopbackUp, Namespace: n.Name}, b.namespace[n.Name])
		}
	}

	// 5. addresses
	for _, a := range t.Addresses() {
		dep, ok := b.ready[a.Interface]
		if !ok {
			return nil, fmt.Errorf("address %s: interface %s is not planned", a, a.Interface)
		}
		id := b.add(Op{Kind: AddAddress, Namespace: a.Namespace, Address: a}, dep)
		b.addrs[a.Namespace] = append(b.addrs[a.Namespace], id)
	}

	// 6. routes, after every address of their namespace
	for _, r := range t.Routes() {
		deps, ok := b.addrs[r.Namespace]
		if !ok {
			return nil, fmt.Errorf("route %s: namespace has no addresses", r)
		}
		b.add(Op{Kind: AddRoute, Namespace: r.Namespace, Route: r}, deps...)
	}

	// 7. forwarding
	for _, n := range t.Namespaces() {
		b.add(Op{Kind: SetForwarding, Namespace: n.Name, Forwarding: n.Forwarding}, b.namespace[n.Name])
	}

	// 8. firewall rules
	for _, r := range t.FirewallRules() {
		dep, ok := b.namespace[r.Namespace]
		if !ok {
			return nil, fmt.Errorf("firewall rule %s: namespace is not planned", r)
		}
		b.add(Op{Kind: AddFirewallRule, Namespace: r.Namespace, Rule: r}, dep)
	}

	// 9. offloads and 10. netem, once the endpoint is active
	for _, ep := range t.Endpoints() {
		if len(ep.Offload) > 0 {
			b.add(Op{Kind: SetOffload, Endpoint: ep, Features: ep.Offload}, b.ready[ep.Name])
		}
	}
	for _, ep := range t.Endpoints() {
		if !ep.Properties.IsZero() {
			b.add(Op{Kind: SetProperties, Endpoint: ep}, b.ready[ep.Name])
		}
	}

	ops, err := order(b.ops)
	if err != nil {
		return nil, err
	}
	return &Plan{Ops: ops}, nil
}

// idHeap pops the lowest ID first, so ties between ready operations are
// broken by phase and then declaration order.
type idHeap []int

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *idHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// order sorts ops topologically (Kahn) and renumbers IDs and Deps to
// positions in the result.
func order(ops []Op) ([]Op, error) {
	indegree := make([]int, len(ops))
	dependents := make([][]int, len(ops))
	for _, op := range ops {
		for _, d := range op.Deps {
			if d < 0 || d >= len(ops) {
				return nil, fmt.Errorf("%s depends on unknown operation %d", op, d)
			}
			indegree[op.ID]++
			dependents[d] = append(dependents[d], op.ID)
		}
	}

	h := &idHeap{}
	for id, n := range indegree {
		if n == 0 {
			heap.Push(h, id)
		}
	}

	pos := make([]int, len(ops))
	sorted := make([]Op, 0, len(ops))
	for h.Len() > 0 {
		id := heap.Pop(h).(int)
		pos[id] = len(sorted)
		sorted = append(sorted, ops[id])
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(h, dep)
			}
		}
	}
	if len(sorted) != len(ops) {
		return nil, fmt.Errorf("dependency cycle among %d operations", len(ops)-len(sorted))
	}

	for i := range sorted {
		sorted[i].ID = i
		deps := make([]int, len(sorted[i].Deps))
		for j, d := range sorted[i].Deps {
			deps[j] = pos[d]
		}
		sorted[i].Deps = deps
	}
	return sorted, nil
}
