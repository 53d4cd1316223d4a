// Package tests runs whole nodes in-process: YAML config, cluster manager
// and monitor endpoint, queried through the CLI's monitor client.
package tests

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/routemesh-go/internal/cli/connection"
	"github.com/yndnr/routemesh-go/internal/server/clusterserver"
	"github.com/yndnr/routemesh-go/internal/server/config"
	"github.com/yndnr/routemesh-go/internal/server/httpserver"
	"github.com/yndnr/routemesh-go/internal/storage"
	"github.com/yndnr/routemesh-go/internal/telemetry/metric"
)

type node struct {
	name    string
	manager *clusterserver.Manager
	monitor *httpserver.Server
	client  *connection.HTTPClient
}

func writeConfig(t *testing.T, dir, name, token string, routes []string) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "server_name: %s\n", name)
	b.WriteString("cluster:\n")
	b.WriteString("  name: it\n")
	b.WriteString("  listen: 127.0.0.1:0\n")
	b.WriteString("  stagger: 0s\n")
	b.WriteString("  gossip_interval: 200ms\n")
	b.WriteString("  max_auth_retries: 2\n")
	b.WriteString("  reconnect:\n    base: 50ms\n    max: 500ms\n")
	fmt.Fprintf(&b, "  peer_cache_dir: %s\n", filepath.Join(dir, name, "peers"))
	fmt.Fprintf(&b, "  authorization:\n    token: %s\n", token)
	if len(routes) > 0 {
		b.WriteString("  routes:\n")
		for _, r := range routes {
			fmt.Fprintf(&b, "    - %s\n", r)
		}
	}
	b.WriteString("monitor:\n  addr: 127.0.0.1:0\n")

	path := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func startNode(t *testing.T, path string, logger *slog.Logger) *node {
	t.Helper()
	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load(%s) = %v", path, err)
	}
	metrics := metric.NewRegistry()
	rt, err := config.ToClusterConfig(cfg, logger.With("node", cfg.ServerName), metrics)
	if err != nil {
		t.Fatalf("ToClusterConfig() = %v", err)
	}

	store, err := storage.OpenBadger(storage.DefaultBadgerConfig(cfg.Cluster.PeerCacheDir), logger)
	if err != nil {
		t.Fatalf("OpenBadger() = %v", err)
	}
	rt.Config.PeerStore = store

	m, err := clusterserver.New(rt.Config)
	if err != nil {
		t.Fatalf("clusterserver.New() = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	routerCfg := httpserver.DefaultRouterConfig()
	routerCfg.Cluster = m
	routerCfg.Config = func() any { return config.Sanitize(cfg) }
	routerCfg.Metrics = metrics
	routerCfg.Logger = logger
	mon := httpserver.New(cfg.Monitor.Addr, httpserver.NewRouter(routerCfg), logger)
	if err := mon.Start(); err != nil {
		t.Fatalf("monitor Start() = %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mon.Shutdown(ctx)
		_ = m.Shutdown(ctx)
		_ = store.Close()
	})
	return &node{
		name:    cfg.ServerName,
		manager: m,
		monitor: mon,
		client:  connection.NewHTTPClient(mon.Addr(), 2*time.Second),
	}
}

// peers returns the established peer names reported by n's /routez.
func peers(t *testing.T, n *node) []string {
	t.Helper()
	rz, err := n.client.Routez(context.Background(), "")
	if err != nil {
		t.Fatalf("%s /routez: %v", n.name, err)
	}
	names := make([]string, 0, len(rz.Peers))
	for _, p := range rz.Peers {
		names = append(names, p.ServerName)
	}
	sort.Strings(names)
	return names
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// TestCluster_ThreeNode_Integration seeds b and c with a only; gossip
// must complete the mesh, and a node with the wrong token stays out.
func TestCluster_ThreeNode_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	const token = "it-shared-token-0123456789"

	a := startNode(t, writeConfig(t, dir, "node-a", token, nil), logger)
	seed := "route://" + a.manager.Addr()
	b := startNode(t, writeConfig(t, dir, "node-b", token, []string{seed}), logger)
	c := startNode(t, writeConfig(t, dir, "node-c", token, []string{seed}), logger)
	nodes := []*node{a, b, c}

	t.Run("FullMesh", func(t *testing.T) {
		waitFor(t, 10*time.Second, "full mesh", func() bool {
			for _, n := range nodes {
				if len(peers(t, n)) != 2 {
					return false
				}
			}
			return true
		})
		if got := strings.Join(peers(t, b), ","); got != "node-a,node-c" {
			t.Errorf("node-b peers = %s", got)
		}
	})

	t.Run("Health", func(t *testing.T) {
		for _, n := range nodes {
			h, err := n.client.Health(context.Background())
			if err != nil {
				t.Fatalf("%s /healthz: %v", n.name, err)
			}
			if h.Status != "ok" || h.Routes != 2 {
				t.Errorf("%s health = %+v", n.name, h)
			}
		}
	})

	t.Run("VarzHidesToken", func(t *testing.T) {
		resp, err := a.client.Get(context.Background(), "/varz")
		if err != nil {
			t.Fatalf("/varz: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if strings.Contains(string(body), token) {
			t.Errorf("/varz leaks the route token: %s", body)
		}
	})

	t.Run("WrongTokenRejected", func(t *testing.T) {
		intruder := startNode(t, writeConfig(t, dir, "node-x", "not-the-token-0000000000", []string{seed}), logger)
		time.Sleep(time.Second)
		for _, n := range nodes {
			for _, p := range peers(t, n) {
				if p == "node-x" {
					t.Errorf("%s accepted node-x", n.name)
				}
			}
		}
		if got := peers(t, intruder); len(got) != 0 {
			t.Errorf("node-x peers = %v", got)
		}
	})

	t.Run("NodeLeaves", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.manager.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown(node-c) = %v", err)
		}
		waitFor(t, 10*time.Second, "node-c to leave", func() bool {
			return strings.Join(peers(t, a), ",") == "node-b" && strings.Join(peers(t, b), ",") == "node-a"
		})
	})
}
