package exerciser

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"go.yaml.in/yaml/v3"
)

// Node is one cluster member under test.
type Node struct {
	Index       int
	Name        string
	RouteAddr   string
	MonitorAddr string
	Dir         string
	ConfigPath  string

	proc   Process
	paused bool
}

// Running reports whether the node has a live, unpaused process.
func (n *Node) Running() bool { return n.proc != nil && !n.paused }

// Paused reports whether the node is stopped with SIGSTOP.
func (n *Node) Paused() bool { return n.paused }

func newNode(opts Options, idx int) *Node {
	dir := filepath.Join(opts.WorkDir, fmt.Sprintf("node_%d", idx))
	return &Node{
		Index:       idx,
		Name:        fmt.Sprintf("node-%d", idx),
		RouteAddr:   net.JoinHostPort("127.0.0.1", strconv.Itoa(opts.BaseRoutePort+idx)),
		MonitorAddr: net.JoinHostPort("127.0.0.1", strconv.Itoa(opts.BaseMonitorPort+idx)),
		Dir:         dir,
		ConfigPath:  filepath.Join(dir, "routemesh.yaml"),
	}
}

// NodeConfig renders the server configuration of nodes[idx]. Every other
// node is a seed route, so the cluster is a full mesh from the start.
func NodeConfig(opts Options, nodes []*Node, idx int) ([]byte, error) {
	self := nodes[idx]
	routes := make([]string, 0, len(nodes)-1)
	for _, n := range nodes {
		if n.Index != idx {
			routes = append(routes, "route://"+n.RouteAddr)
		}
	}

	cfg := map[string]any{
		"server_name": self.Name,
		"log_file":    filepath.Join(self.Dir, "server.log"),
		"log": map[string]any{
			"level":  opts.LogLevel,
			"format": "text",
		},
		"cluster": map[string]any{
			"name":           opts.Cluster,
			"listen":         self.RouteAddr,
			"routes":         routes,
			"stagger":        "50ms",
			"ping_interval":  opts.PingInterval.String(),
			"max_pings_out":  2,
			"dial_timeout":   "1s",
			"drain_timeout":  "1s",
			"peer_cache_dir": filepath.Join(self.Dir, "peers"),
			"reconnect": map[string]any{
				"base":   "100ms",
				"max":    "2s",
				"jitter": 0.2,
			},
		},
		"monitor": map[string]any{
			"addr": self.MonitorAddr,
		},
	}
	return yaml.Marshal(cfg)
}

// prepare recreates the node directory and writes its config.
func prepare(opts Options, nodes []*Node, idx int) error {
	n := nodes[idx]
	if err := os.RemoveAll(n.Dir); err != nil {
		return fmt.Errorf("clean %s: %w", n.Dir, err)
	}
	if err := os.MkdirAll(n.Dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", n.Dir, err)
	}
	data, err := NodeConfig(opts, nodes, idx)
	if err != nil {
		return fmt.Errorf("render config of %s: %w", n.Name, err)
	}
	if err := os.WriteFile(n.ConfigPath, data, 0o644); err != nil {
		return fmt.Errorf("write config of %s: %w", n.Name, err)
	}
	return nil
}
