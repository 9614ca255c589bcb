package pkg

import (
	"Netlab/api"
	"Netlab/pkg/errdefs"
	"Netlab/pkg/teardown"
	"context"
	"fmt"
	"github.com/pkg/errors"
	"io"
	"os"
)

// LoadTopology reads and parses a YAML topology file.
func LoadTopology(path string) (*api.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading topology file")
	}
	t, err := api.ParseTopology(data)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing %s", path)
	}
	return t, nil
}

// Provisioner runs the CLI verbs on topology files and prints their
// results.
type Provisioner struct {
	m   *Manager
	out io.Writer
}

func NewProvisioner(m *Manager, out io.Writer) *Provisioner {
	if out == nil {
		out = os.Stdout
	}
	return &Provisioner{m: m, out: out}
}

func (p *Provisioner) Apply(ctx context.Context, path string) error {
	t, err := LoadTopology(path)
	if err != nil {
		return err
	}
	res, err := p.m.Apply(ctx, t)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Applied %s: %d operations executed, %d already satisfied\n", path, res.Executed, res.Satisfied)
	return nil
}

func (p *Provisioner) Teardown(ctx context.Context, path string) error {
	t, err := LoadTopology(path)
	if err != nil {
		return err
	}
	report, err := p.m.Teardown(ctx, t)
	if report != nil {
		fmt.Fprintf(p.out, "Removed %d, already absent %d\n", len(report.Removed), len(report.Absent))
	}
	return err
}

// Validate prints every violation found in the file.
func (p *Provisioner) Validate(path string) error {
	t, err := LoadTopology(path)
	if err == nil {
		err = p.m.Validate(t)
	}
	var verr *errdefs.ValidationError
	if errors.As(err, &verr) {
		for _, v := range verr.Violations {
			fmt.Fprintln(p.out, v)
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "%s is valid\n", path)
	return nil
}

func (p *Provisioner) ShowPlan(path string) error {
	t, err := LoadTopology(path)
	if err != nil {
		return err
	}
	pl, err := p.m.Plan(t)
	if err != nil {
		return err
	}
	for _, op := range pl.Ops {
		fmt.Fprintf(p.out, "%3d %s %v\n", op.ID, op, op.Deps)
	}
	return nil
}

func (p *Provisioner) ShowTeardown(path string) error {
	t, err := LoadTopology(path)
	if err != nil {
		return err
	}
	if err := p.m.Validate(t); err != nil {
		return err
	}
	ops, err := teardown.Ops(t)
	if err != nil {
		return err
	}
	for i, op := range ops {
		fmt.Fprintf(p.out, "%3d %s\n", i, op)
	}
	return nil
}

func (p *Provisioner) ShowNamespaces(path string) error {
	t, err := LoadTopology(path)
	if err != nil {
		return err
	}
	for _, n := range t.Namespaces() {
		fmt.Fprintf(p.out, "Namespace: %s, Forwarding: %t\n", n.Name, n.Forwarding)
		for _, a := range t.Addresses() {
			if a.Namespace == n.Name {
				fmt.Fprintf(p.out, "  Address: %s on %s\n", a.Prefix, a.Interface)
			}
		}
		for _, r := range t.Routes() {
			if r.Namespace == n.Name {
				fmt.Fprintf(p.out, "  Route: %s via %s\n", r.Destination, r.Via)
			}
		}
	}
	return nil
}

func (p *Provisioner) ShowLinks(path string) error {
	t, err := LoadTopology(path)
	if err != nil {
		return err
	}
	for _, lp := range t.LinkPairs() {
		fmt.Fprintf(p.out, "Link: %s, MTU: %d\n", lp, lp.MTU)
		for _, ep := range lp.Endpoints {
			pr := ep.Properties
			fmt.Fprintf(p.out, "  %s@%s %s, Delay: %dms, Jitter: %dms, Loss: %.2f\n",
				ep.Name, ep.Namespace, ep.State, pr.Latency, pr.Jitter, pr.Loss)
		}
	}
	return nil
}
