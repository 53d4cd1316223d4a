package clusterserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/telemetry/metric"
)

// Gossip merge results, also used as metric labels.
const (
	mergeApplied = "applied"
	mergeStale   = "stale"
	mergeForeign = "foreign"
	mergeInvalid = "invalid"
)

type propagatorConfig struct {
	ServerName string
	Cluster    string
	Instance   string
	Interval   time.Duration

	Registry *Registry
	// IsSelf reports whether a normalized address is this node.
	IsSelf func(addr string) bool
	// Learn solicits a newly discovered peer as an implicit route and
	// reports whether a new solicitation was started.
	Learn func(addr, name string) bool

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// sourceMark is the newest INFO applied from one sender.
type sourceMark struct {
	instance string
	epoch    uint64
}

// Propagator exchanges peer lists over established routes.
//
// Each node numbers its INFO frames with an epoch that only grows for the
// lifetime of its instance. A receiver applies an INFO only if it is newer
// than the last one applied from the same sender: same instance and a
// larger epoch, or a newer instance (ULIDs sort by creation time).
type Propagator struct {
	cfg   propagatorConfig
	epoch atomic.Uint64

	mu   sync.Mutex
	last map[string]sourceMark
}

func newPropagator(cfg propagatorConfig) *Propagator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultGossipInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IsSelf == nil {
		cfg.IsSelf = func(string) bool { return false }
	}
	return &Propagator{cfg: cfg, last: make(map[string]sourceMark)}
}

// Run sends INFO on every membership change and every interval until ctx
// is done.
func (p *Propagator) Run(ctx context.Context) {
	changes, unsubscribe := p.cfg.Registry.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			p.Broadcast()
		case <-ticker.C:
			p.Broadcast()
		}
	}
}

// Broadcast sends one INFO frame to every established route and returns
// how many routes it was queued on.
func (p *Propagator) Broadcast() int {
	routes := p.cfg.Registry.List()
	var targets []*Route
	for _, rt := range routes {
		if rt.State() == domain.StateEstablished {
			targets = append(targets, rt)
		}
	}
	if len(targets) == 0 {
		return 0
	}

	msg := p.buildInfo(routes)
	sent := 0
	for _, rt := range targets {
		if err := rt.sendFrame(FrameInfo, msg); err != nil {
			continue
		}
		sent++
		p.cfg.Metrics.IncGossipSent()
	}
	return sent
}

// buildInfo assigns the next epoch and lists advertisable peers.
func (p *Propagator) buildInfo(routes []*Route) InfoMsg {
	msg := InfoMsg{
		ServerName: p.cfg.ServerName,
		Cluster:    p.cfg.Cluster,
		Instance:   p.cfg.Instance,
		Epoch:      p.epoch.Add(1),
		Peers:      []PeerEntry{},
	}
	for _, rt := range routes {
		if rt.State() != domain.StateEstablished {
			continue
		}
		remote := rt.Remote()
		if remote.NoAdvertise {
			continue
		}
		if p.cfg.IsSelf(rt.Address()) || remote.ServerName == p.cfg.ServerName {
			continue
		}
		msg.Peers = append(msg.Peers, PeerEntry{ServerName: remote.ServerName, Address: rt.Address()})
	}
	return msg
}

// Merge applies an INFO received on rt. It returns the merge result and a
// ProtocolError when the payload is malformed; in that case nothing from
// it is applied.
func (p *Propagator) Merge(rt *Route, msg InfoMsg) (string, error) {
	result, err := p.merge(rt, msg)
	p.cfg.Metrics.RecordGossip(result)
	return result, err
}

func (p *Propagator) merge(rt *Route, msg InfoMsg) (string, error) {
	if msg.Cluster != p.cfg.Cluster {
		p.cfg.Logger.Warn("discarding gossip from another cluster",
			"sender", msg.ServerName, "cluster", msg.Cluster)
		return mergeForeign, nil
	}
	if msg.ServerName == "" || msg.ServerName != rt.RemoteName() {
		return mergeInvalid, domain.ErrProtocol.WithDetails(
			fmt.Sprintf("gossip sender %q does not match route peer %q", msg.ServerName, rt.RemoteName()))
	}

	peers := make([]PeerEntry, 0, len(msg.Peers))
	for _, e := range msg.Peers {
		addr, err := domain.NormalizeAddress(e.Address)
		if err != nil {
			return mergeInvalid, domain.ErrProtocol.WithDetails(fmt.Sprintf("gossip peer address %q", e.Address)).WithCause(err)
		}
		peers = append(peers, PeerEntry{ServerName: e.ServerName, Address: addr})
	}

	if !p.advance(msg.ServerName, msg.Instance, msg.Epoch) {
		return mergeStale, nil
	}

	snap := p.cfg.Registry.Snapshot()
	learned := 0
	for _, e := range peers {
		if e.ServerName == p.cfg.ServerName || p.cfg.IsSelf(e.Address) {
			continue
		}
		if _, ok := snap.Get(e.Address); ok {
			continue
		}
		if _, ok := snap.ByName(e.ServerName); ok {
			continue
		}
		if p.cfg.Learn != nil && p.cfg.Learn(e.Address, e.ServerName) {
			learned++
		}
	}
	if learned > 0 {
		p.cfg.Logger.Info("learned peers from gossip",
			"sender", msg.ServerName, "epoch", msg.Epoch, "learned", learned)
	}
	return mergeApplied, nil
}

// advance records (instance, epoch) for sender if it is newer than the last
// applied mark and reports whether it was.
func (p *Propagator) advance(sender, instance string, epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.last[sender]
	if ok {
		switch {
		case instance == last.instance && epoch <= last.epoch:
			return false
		case instance < last.instance:
			return false
		}
	}
	p.last[sender] = sourceMark{instance: instance, epoch: epoch}
	return true
}

// Epoch returns the epoch of the last INFO built.
func (p *Propagator) Epoch() uint64 {
	return p.epoch.Load()
}
