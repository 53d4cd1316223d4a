package clusterserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/routemesh-go/internal/core/domain"
)

// Discovery finds route peers through a memberlist gossip pool. Every
// member advertises its cluster name and route address in node metadata.
type Discovery struct {
	ml      *memberlist.Memberlist
	cluster string
	logger  *slog.Logger

	mu       sync.Mutex
	shutdown bool
	onJoin   func(name, routeAddr string)
	onLeave  func(name, routeAddr string)
}

// DiscoveryConfig configures memberlist discovery.
type DiscoveryConfig struct {
	// NodeName is the memberlist node name. The Manager sets it to the
	// server name.
	NodeName string
	// Cluster and RouteAddr are advertised in node metadata. The Manager
	// fills both; RouteAddr stays empty on no-advertise nodes, which then
	// dial members they discover but are never dialed through the pool.
	Cluster   string
	RouteAddr string

	// BindAddr and BindPort are the memberlist gossip address.
	BindAddr string
	BindPort int
	// Seeds are memberlist addresses to join.
	Seeds []string

	Logger *slog.Logger
}

// nodeMeta is the JSON stored in memberlist node metadata.
type nodeMeta struct {
	Cluster string `json:"cluster"`
	Route   string `json:"route"`
}

// NewDiscovery creates a memberlist instance and joins the seeds. Failing
// to reach the seeds is not an error: peers that join later are still seen.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	meta, err := json.Marshal(nodeMeta{Cluster: cfg.Cluster, Route: cfg.RouteAddr})
	if err != nil {
		return nil, fmt.Errorf("encode node metadata: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return nil, fmt.Errorf("node metadata is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
	}

	d := &Discovery{
		cluster: cfg.Cluster,
		logger:  cfg.Logger.With("component", "discovery"),
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeName
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.Delegate = &metadataDelegate{meta: meta}
	mlConfig.Events = &eventDelegate{discovery: d}
	mlConfig.LogOutput = &slogWriter{logger: d.logger}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.ml = ml

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			d.logger.Warn("could not join discovery seeds", "seeds", cfg.Seeds, "error", err)
		} else {
			d.logger.Info("joined discovery pool", "seeds", cfg.Seeds, "joined_count", n)
		}
	} else {
		d.logger.Info("started discovery (bootstrap mode)")
	}
	return d, nil
}

// OnJoin registers the callback for members of the same cluster. Members
// already known are reported immediately.
func (d *Discovery) OnJoin(fn func(name, routeAddr string)) {
	d.mu.Lock()
	d.onJoin = fn
	d.mu.Unlock()

	for _, n := range d.Members() {
		if addr, ok := d.routeAddr(n); ok {
			fn(n.Name, addr)
		}
	}
}

// OnLeave registers the callback for departed members. routeAddr is empty
// for members that did not advertise one.
func (d *Discovery) OnLeave(fn func(name, routeAddr string)) {
	d.mu.Lock()
	d.onLeave = fn
	d.mu.Unlock()
}

// Members returns the current memberlist members, including this node.
func (d *Discovery) Members() []*memberlist.Node {
	if d.ml == nil {
		return nil
	}
	return d.ml.Members()
}

// Addr returns the bound memberlist address.
func (d *Discovery) Addr() string {
	n := d.ml.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// Leave announces departure to the pool.
func (d *Discovery) Leave() error {
	d.mu.Lock()
	done := d.shutdown
	d.mu.Unlock()
	if done || d.ml == nil {
		return nil
	}
	if err := d.ml.Leave(0); err != nil {
		d.logger.Error("failed to leave discovery pool", "error", err)
		return err
	}
	return nil
}

// Shutdown stops memberlist. It is safe to call more than once.
func (d *Discovery) Shutdown() error {
	d.mu.Lock()
	if d.shutdown || d.ml == nil {
		d.mu.Unlock()
		return nil
	}
	d.shutdown = true
	d.mu.Unlock()

	if err := d.ml.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	d.logger.Info("discovery shutdown complete")
	return nil
}

// routeAddr extracts the route address of a same-cluster member. An
// unspecified host is replaced by the member's gossip address.
func (d *Discovery) routeAddr(n *memberlist.Node) (string, bool) {
	var meta nodeMeta
	if err := json.Unmarshal(n.Meta, &meta); err != nil {
		d.logger.Debug("ignoring member without route metadata", "node", n.Name)
		return "", false
	}
	if meta.Cluster != d.cluster || meta.Route == "" {
		return "", false
	}
	host, port, err := net.SplitHostPort(meta.Route)
	if err != nil {
		return "", false
	}
	if domain.IsUnspecifiedHost(host) {
		host = n.Addr.String()
	}
	addr, err := domain.NormalizeAddress(net.JoinHostPort(host, port))
	if err != nil {
		return "", false
	}
	return addr, true
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

// NotifyJoin is called when a node joins.
func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d := e.discovery
	addr, ok := d.routeAddr(node)
	if !ok {
		return
	}
	d.logger.Info("member joined", "node", node.Name, "route", addr)

	d.mu.Lock()
	fn := d.onJoin
	d.mu.Unlock()
	if fn != nil {
		fn(node.Name, addr)
	}
}

// NotifyLeave is called when a node leaves.
func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d := e.discovery
	d.logger.Info("member left", "node", node.Name, "addr", node.Addr.String())

	addr, _ := d.routeAddr(node)
	d.mu.Lock()
	fn := d.onLeave
	d.mu.Unlock()
	if fn != nil {
		fn(node.Name, addr)
	}
}

// NotifyUpdate is called when a node's metadata changes.
func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.NotifyJoin(node)
}

// slogWriter adapts memberlist's log output to slog, keeping its level.
type slogWriter struct {
	logger *slog.Logger
}

// Write implements io.Writer.
func (w *slogWriter) Write(p []byte) (int, error) {
	line := bytes.TrimSpace(p)
	level := slog.LevelDebug
	switch {
	case bytes.Contains(line, []byte("[ERR]")):
		level = slog.LevelError
	case bytes.Contains(line, []byte("[WARN]")):
		level = slog.LevelWarn
	}
	w.logger.Log(context.Background(), level, string(line))
	return len(p), nil
}

// metadataDelegate provides node metadata to memberlist.
type metadataDelegate struct {
	meta []byte
}

// NodeMeta returns metadata about this node.
func (m *metadataDelegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return nil
	}
	return m.meta
}

// NotifyMsg is called when a user message is received (not used).
func (m *metadataDelegate) NotifyMsg([]byte) {}

// GetBroadcasts is called to get broadcasts to send (not used).
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState returns the local state for synchronization (not used).
func (m *metadataDelegate) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState merges remote state (not used).
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool) {}
