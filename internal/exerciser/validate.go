package exerciser

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yndnr/routemesh-go/internal/cli/connection"
	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/server/httpserver/handler"
)

// Prober reads a node's route table.
type Prober interface {
	Routez(ctx context.Context, n *Node) (*handler.RoutezResponse, error)
}

// HTTPProber queries the node's monitor endpoint.
type HTTPProber struct {
	Options Options
}

// Routez implements Prober.
func (p HTTPProber) Routez(ctx context.Context, n *Node) (*handler.RoutezResponse, error) {
	return connection.NewHTTPClient(n.MonitorAddr, p.Options.ProbeTimeout).Routez(ctx, "")
}

// ValidateRoutes checks the route table of the node named self: no route
// leads back to self and no peer has more than one established route.
func ValidateRoutes(self *Node, rz *handler.RoutezResponse) error {
	if rz.ServerName != self.Name {
		return fmt.Errorf("%s: monitor answers as %q", self.Name, rz.ServerName)
	}
	established := make(map[string]int)
	for _, ri := range rz.Routes {
		if ri.ServerName == self.Name || ri.Address == self.RouteAddr {
			return fmt.Errorf("%s: self route %s (%s, %s)", self.Name, ri.ID, ri.Address, ri.State)
		}
		if ri.State == domain.StateEstablished.String() {
			established[ri.ServerName]++
		}
	}
	seen := make(map[string]bool)
	for _, p := range rz.Peers {
		if seen[p.ServerName] {
			return fmt.Errorf("%s: peer %s listed twice in the membership view", self.Name, p.ServerName)
		}
		seen[p.ServerName] = true
	}
	for name, count := range established {
		if count > 1 {
			return fmt.Errorf("%s: %d established routes to %s", self.Name, count, name)
		}
	}
	return nil
}

// MissingPeers returns the nodes absent from the membership view of self.
func MissingPeers(self *Node, nodes []*Node, rz *handler.RoutezResponse) []string {
	have := make(map[string]bool, len(rz.Peers))
	for _, p := range rz.Peers {
		have[p.ServerName] = true
	}
	var missing []string
	for _, n := range nodes {
		if n.Index != self.Index && !have[n.Name] {
			missing = append(missing, n.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// meshError lists the nodes that have not converged.
type meshError map[string][]string

func (e meshError) Error() string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s missing [%s]", name, strings.Join(e[name], " ")))
	}
	return "cluster did not converge to a full mesh: " + strings.Join(parts, "; ")
}
