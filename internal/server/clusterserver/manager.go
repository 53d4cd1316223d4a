package clusterserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/storage"
	"github.com/yndnr/routemesh-go/internal/telemetry/metric"
)

// Defaults applied to zero Config fields.
const (
	DefaultAuthTimeout    = 2 * time.Second
	DefaultDialTimeout    = 2 * time.Second
	DefaultDrainTimeout   = 5 * time.Second
	DefaultWriteDeadline  = 10 * time.Second
	DefaultPingInterval   = 2 * time.Minute
	DefaultMaxPingsOut    = 2
	DefaultGossipInterval = 10 * time.Second
	DefaultStagger        = time.Second
	DefaultConnectRetries = 3
	DefaultMaxAuthRetries = 10
	DefaultAcceptRate     = 100
	DefaultAcceptBurst    = 50
)

// RouteAuth is what this node presents when it solicits a route whose URL
// carries no credentials.
type RouteAuth struct {
	User     string
	Password string
	Token    string
}

// PeerStore persists peers learned at runtime so they can be solicited
// again after a restart.
type PeerStore interface {
	SavePeer(ctx context.Context, rec storage.PeerRecord) error
	DeletePeer(ctx context.Context, addr string) error
	ListPeers(ctx context.Context) ([]storage.PeerRecord, error)
}

// Config configures a Manager.
type Config struct {
	// ServerName identifies this node in handshakes and the tie-break.
	ServerName string
	// Cluster is the membership domain. Peers with another name are refused.
	Cluster string
	// Listen is the route listener address.
	Listen string
	// Advertise overrides the address sent to peers. Defaults to the bound
	// listen address.
	Advertise string
	// NoAdvertise keeps this node out of the peer lists gossiped by others.
	NoAdvertise bool
	// Routes are the seed routes dialed at startup.
	Routes []*domain.RouteURL

	// Authenticator validates inbound routes. Nil accepts every route.
	Authenticator Authenticator
	// AuthTimeout bounds the inbound handshake and the outbound wait for
	// CONNECT_OK.
	AuthTimeout time.Duration
	// Auth is presented on solicited routes without URL credentials.
	Auth RouteAuth
	// TLS enables TLS on the listener and on dials.
	TLS *tls.Config

	Reconnect      BackoffConfig
	Stagger        time.Duration
	GossipInterval time.Duration
	DialTimeout    time.Duration
	DrainTimeout   time.Duration
	WriteDeadline  time.Duration
	PingInterval   time.Duration
	MaxPingsOut    int
	// ConnectRetries caps consecutive failures of an implicit route.
	ConnectRetries int
	// MaxAuthRetries caps consecutive authorization failures of any route.
	MaxAuthRetries int
	AcceptRate     float64
	AcceptBurst    int

	// PeerStore, if set, persists learned peers.
	PeerStore PeerStore
	// Discovery, if set, starts memberlist discovery.
	Discovery *DiscoveryConfig

	// OnMessage receives inbound MSG frames in per-route order.
	OnMessage func(from domain.RouteInfo, msg Message)

	Logger  *slog.Logger
	Metrics *metric.Registry
}

func (c Config) withDefaults() Config {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = DefaultWriteDeadline
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxPingsOut <= 0 {
		c.MaxPingsOut = DefaultMaxPingsOut
	}
	if c.GossipInterval <= 0 {
		c.GossipInterval = DefaultGossipInterval
	}
	if c.Stagger < 0 {
		c.Stagger = 0
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = DefaultConnectRetries
	}
	if c.MaxAuthRetries <= 0 {
		c.MaxAuthRetries = DefaultMaxAuthRetries
	}
	if c.AcceptRate <= 0 {
		c.AcceptRate = DefaultAcceptRate
	}
	if c.AcceptBurst <= 0 {
		c.AcceptBurst = DefaultAcceptBurst
	}
	c.Reconnect = c.Reconnect.withDefaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks the fields that have no default.
func (c Config) Validate() error {
	if c.ServerName == "" {
		return domain.ErrConfigInvalid.WithDetails("server_name is required")
	}
	if c.Cluster == "" {
		return domain.ErrConfigInvalid.WithDetails("cluster.name is required")
	}
	if c.Listen == "" {
		return domain.ErrConfigInvalid.WithDetails("cluster.listen is required")
	}
	return nil
}

// MembershipView is the read-only converged membership exposed to the
// forwarding core.
type MembershipView struct {
	ServerName string             `json:"server_name"`
	Cluster    string             `json:"cluster"`
	Version    uint64             `json:"version"`
	Peers      []domain.RouteInfo `json:"peers"`
}

// Has reports whether name is an established peer.
func (v MembershipView) Has(name string) bool {
	for _, p := range v.Peers {
		if p.ServerName == name {
			return true
		}
	}
	return false
}

// Names returns the sorted peer server names.
func (v MembershipView) Names() []string {
	names := make([]string, 0, len(v.Peers))
	for _, p := range v.Peers {
		names = append(names, p.ServerName)
	}
	sort.Strings(names)
	return names
}

type authBox struct{ a Authenticator }

// Manager owns the route registry and drives route lifecycles.
type Manager struct {
	cfg      Config
	instance string
	logger   *slog.Logger
	metrics  *metric.Registry

	registry *Registry
	gossip   *Propagator
	auth     atomic.Pointer[authBox]
	routeKey atomic.Pointer[RouteAuth]
	limiter  *rate.Limiter

	ln        net.Listener
	addr      string
	advertise string
	localIPs  map[string]bool
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	discovery *Discovery

	solMu      sync.Mutex
	solicitors map[string]*solicitor
	selfAddrs  map[string]bool

	// onDelay observes every reconnect delay. Tests only.
	onDelay func(addr string, d time.Duration)
}

// New creates a Manager. It does not touch the network until Start.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:        cfg,
		instance:   ulid.Make().String(),
		logger:     cfg.Logger.With("server_name", cfg.ServerName),
		metrics:    cfg.Metrics,
		registry:   NewRegistry(),
		limiter:    rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst),
		solicitors: make(map[string]*solicitor),
		selfAddrs:  make(map[string]bool),
		ctx:        context.Background(),
	}
	m.SetAuthenticator(cfg.Authenticator)
	m.SetRouteAuth(cfg.Auth)

	m.gossip = newPropagator(propagatorConfig{
		ServerName: cfg.ServerName,
		Cluster:    cfg.Cluster,
		Instance:   m.instance,
		Interval:   cfg.GossipInterval,
		Registry:   m.registry,
		IsSelf:     m.isSelfAddress,
		Learn:      m.learn,
		Logger:     m.logger,
		Metrics:    m.metrics,
	})
	return m, nil
}

// SetAuthenticator replaces the inbound authenticator. Nil accepts every
// route.
func (m *Manager) SetAuthenticator(a Authenticator) {
	if a == nil {
		a = AllowAll{}
	}
	m.auth.Store(&authBox{a: NewAuditAuthenticator(a, m.logger, m.metrics)})
}

func (m *Manager) authenticator() Authenticator {
	return m.auth.Load().a
}

// SetRouteAuth replaces the credentials presented on solicited routes.
func (m *Manager) SetRouteAuth(a RouteAuth) {
	m.routeKey.Store(&a)
}

func (m *Manager) routeAuth() RouteAuth {
	return *m.routeKey.Load()
}

// Start opens the listener and solicits seed routes, cached peers and
// discovered peers. ctx bounds the lifetime of all background work.
func (m *Manager) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.cfg.Listen)
	if err != nil {
		return domain.ErrConfigInvalid.WithDetails("listen on " + m.cfg.Listen).WithCause(err)
	}
	if m.cfg.TLS != nil {
		ln = tls.NewListener(ln, m.cfg.TLS)
	}
	m.ln = ln
	m.addr = ln.Addr().String()
	m.advertise = m.addr
	if m.cfg.Advertise != "" {
		if adv, err := domain.NormalizeAddress(m.cfg.Advertise); err == nil {
			m.advertise = adv
		}
	}
	m.localIPs = interfaceIPs()

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running.Store(true)

	m.logger.Info("cluster listener started",
		"listen", m.addr,
		"advertise", m.advertise,
		"cluster", m.cfg.Cluster,
		"instance", m.instance,
		"tls", m.cfg.TLS != nil,
		"no_advertise", m.cfg.NoAdvertise)

	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		if err := m.acceptLoop(m.ctx); err != nil && m.running.Load() {
			m.logger.Error("cluster accept loop failed", "error", err)
		}
	}()
	go func() {
		defer m.wg.Done()
		m.gossip.Run(m.ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.watchVersion(m.ctx)
	}()

	for _, u := range m.cfg.Routes {
		if m.isSelfAddress(u.Address()) {
			m.logger.Info("ignoring route to self", "route", u.String())
			continue
		}
		m.Solicit(u, false)
	}

	m.solicitCachedPeers()

	if m.cfg.Discovery != nil {
		dcfg := *m.cfg.Discovery
		dcfg.NodeName = m.cfg.ServerName
		dcfg.Cluster = m.cfg.Cluster
		// A no-advertise node joins the pool without a route address, so
		// members never relay it to peers that do not already know it.
		if !m.cfg.NoAdvertise {
			dcfg.RouteAddr = m.advertise
		}
		if dcfg.Logger == nil {
			dcfg.Logger = m.logger
		}
		d, err := NewDiscovery(dcfg)
		if err != nil {
			m.logger.Warn("discovery unavailable", "error", err)
		} else {
			d.OnJoin(func(name, routeAddr string) {
				if name != m.cfg.ServerName {
					m.learn(routeAddr, name)
				}
			})
			d.OnLeave(func(name, routeAddr string) {
				if name == m.cfg.ServerName || routeAddr == "" {
					return
				}
				m.logger.Info("discovery member left, dropping cached peer", "remote", name, "address", routeAddr)
				m.forgetPeer(routeAddr)
			})
			m.discovery = d
		}
	}
	return nil
}

func (m *Manager) watchVersion(ctx context.Context) {
	changes, unsubscribe := m.registry.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-changes:
			m.metrics.SetMembershipVersion(v)
		}
	}
}

func (m *Manager) solicitCachedPeers() {
	if m.cfg.PeerStore == nil {
		return
	}
	peers, err := m.cfg.PeerStore.ListPeers(m.ctx)
	if err != nil {
		m.logger.Warn("failed to load cached peers", "error", err)
		return
	}
	n := 0
	for _, p := range peers {
		if p.ServerName == m.cfg.ServerName {
			continue
		}
		if m.learn(p.Address, p.ServerName) {
			n++
		}
	}
	if n > 0 {
		m.logger.Info("soliciting cached peers", "count", n)
	}
}

// Shutdown stops accepting routes, drains every registered route
// concurrently and waits for background work. It returns the drain errors
// joined, or ctx.Err() if ctx ends first.
func (m *Manager) Shutdown(ctx context.Context) error {
	// Solicit checks running under solMu, so no solicitor starts after this.
	m.solMu.Lock()
	wasRunning := m.running.Swap(false)
	m.solMu.Unlock()
	if !wasRunning {
		return nil
	}
	m.logger.Info("cluster shutting down", "routes", m.registry.Snapshot().Len())

	var errs []error
	if err := m.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	if m.discovery != nil {
		_ = m.discovery.Leave()
		if err := m.discovery.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}

	var (
		mu sync.Mutex
		dw sync.WaitGroup
	)
	for _, rt := range m.registry.List() {
		dw.Add(1)
		go func(rt *Route) {
			defer dw.Done()
			if err := rt.Drain(m.cfg.DrainTimeout); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(rt)
	}
	drained := make(chan struct{})
	go func() {
		dw.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return errors.Join(errs...)
}

// Addr returns the bound listener address.
func (m *Manager) Addr() string { return m.addr }

// AdvertiseAddr returns the address sent to peers.
func (m *Manager) AdvertiseAddr() string { return m.advertise }

// ServerName returns the local server name.
func (m *Manager) ServerName() string { return m.cfg.ServerName }

// Cluster returns the local cluster name.
func (m *Manager) Cluster() string { return m.cfg.Cluster }

// Instance returns the ULID identifying this process.
func (m *Manager) Instance() string { return m.instance }

// Running reports whether Start succeeded and Shutdown has not begun.
func (m *Manager) Running() bool { return m.running.Load() }

// View returns the established peers. It never blocks registry writers.
func (m *Manager) View() MembershipView {
	snap := m.registry.Snapshot()
	v := MembershipView{
		ServerName: m.cfg.ServerName,
		Cluster:    m.cfg.Cluster,
		Version:    snap.Version,
		Peers:      []domain.RouteInfo{},
	}
	for _, rt := range snap.List() {
		if rt.State() == domain.StateEstablished {
			v.Peers = append(v.Peers, rt.Info())
		}
	}
	return v
}

// Routes describes every registered route in any state.
func (m *Manager) Routes() []domain.RouteInfo {
	routes := m.registry.List()
	out := make([]domain.RouteInfo, 0, len(routes))
	for _, rt := range routes {
		out = append(out, rt.Info())
	}
	return out
}

// Send queues msg on the route to target, a peer address or server name.
func (m *Manager) Send(target string, msg Message) error {
	rt := m.lookup(target)
	if rt == nil {
		return domain.ErrRouteClosed.WithDetails("no route to " + target)
	}
	if err := rt.Send(msg); err != nil {
		return err
	}
	m.metrics.RecordMessage("out", len(msg.Data))
	return nil
}

// Broadcast queues msg on every established route and returns how many
// accepted it.
func (m *Manager) Broadcast(msg Message) int {
	n := 0
	for _, rt := range m.registry.List() {
		if rt.State() != domain.StateEstablished {
			continue
		}
		if rt.Send(msg) == nil {
			m.metrics.RecordMessage("out", len(msg.Data))
			n++
		}
	}
	return n
}

func (m *Manager) lookup(target string) *Route {
	snap := m.registry.Snapshot()
	if addr, err := domain.NormalizeAddress(target); err == nil {
		if rt, ok := snap.Get(addr); ok {
			return rt
		}
	}
	if rt, ok := snap.ByName(target); ok {
		return rt
	}
	return nil
}

// prefer decides a conflict between two routes to the same peer.
//
// A candidate still dialing never wins. For opposite directions the route
// dialed by the lexically smaller server name is kept, so both sides pick
// the same connection. For the same direction the route from the newer
// remote instance wins.
func (m *Manager) prefer(existing, candidate *Route) bool {
	if candidate.State() == domain.StateDialing {
		return false
	}
	remote := existing.RemoteName()
	if remote == "" {
		remote = candidate.RemoteName()
	}
	if remote == "" {
		return false
	}

	if existing.Direction() != candidate.Direction() {
		winner := m.cfg.ServerName
		if remote < winner {
			winner = remote
		}
		return m.dialer(candidate, remote) == winner
	}

	ei, ci := existing.Remote().Instance, candidate.Remote().Instance
	return ei != "" && ci > ei
}

// dialer returns the server name of the node that opened rt.
func (m *Manager) dialer(rt *Route, remote string) string {
	if rt.Direction() == domain.Outbound {
		return m.cfg.ServerName
	}
	return remote
}

// isSelfAddress reports whether a normalized address reaches this node.
func (m *Manager) isSelfAddress(addr string) bool {
	m.solMu.Lock()
	known := m.selfAddrs[addr]
	m.solMu.Unlock()
	if known {
		return true
	}
	if addr == m.advertise || addr == m.addr {
		return true
	}
	if m.addr == "" {
		return false
	}

	host, port, err := domain.SplitAddress(addr)
	if err != nil {
		return false
	}
	lhost, lport, err := domain.SplitAddress(m.addr)
	if err != nil || port != lport {
		return false
	}
	if host == lhost {
		return true
	}
	if !domain.IsUnspecifiedHost(lhost) {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || m.localIPs[ip.String()]
}

func (m *Manager) markSelf(addr string) {
	m.solMu.Lock()
	m.selfAddrs[addr] = true
	m.solMu.Unlock()
}

func interfaceIPs() map[string]bool {
	out := make(map[string]bool)
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			ip := ipn.IP
			if v4 := ip.To4(); v4 != nil {
				ip = v4
			}
			out[ip.String()] = true
		}
	}
	return out
}

func (m *Manager) routeOptions() routeOptions {
	return routeOptions{
		PingInterval:  m.cfg.PingInterval,
		MaxPingsOut:   m.cfg.MaxPingsOut,
		WriteDeadline: m.cfg.WriteDeadline,
		DrainTimeout:  m.cfg.DrainTimeout,
	}
}

func (m *Manager) localInfo() domain.PeerInfo {
	return domain.PeerInfo{
		ServerName:  m.cfg.ServerName,
		Cluster:     m.cfg.Cluster,
		Instance:    m.instance,
		Listen:      m.advertise,
		NoAdvertise: m.cfg.NoAdvertise,
	}
}

// ============================================================================
// routeHooks
// ============================================================================

func (m *Manager) routeInfo(rt *Route, msg InfoMsg) error {
	_, err := m.gossip.Merge(rt, msg)
	return err
}

func (m *Manager) routeMessage(rt *Route, msg Message) {
	m.metrics.RecordMessage("in", len(msg.Data))
	if m.cfg.OnMessage != nil {
		m.cfg.OnMessage(rt.Info(), msg)
	}
}

func (m *Manager) routeStateChanged(rt *Route, from, to domain.RouteState) {
	if to == domain.StateEstablished {
		rt.wasEstablished.Store(true)
		m.metrics.RouteEstablished(rt.Direction().String())
		m.logger.Info("route established",
			"route_id", rt.ID(),
			"remote", rt.RemoteName(),
			"address", rt.Address(),
			"direction", rt.Direction().String())
		m.savePeer(rt)
	}
	if cur, ok := m.registry.Snapshot().Get(rt.Address()); ok && cur == rt {
		m.registry.Touch()
	}
}

func (m *Manager) routeClosed(rt *Route, err error) {
	m.registry.RemoveRoute(rt)
	m.metrics.RouteClosed(rt.Direction().String(), closeReason(err), rt.wasEstablished.Load())
}

func (m *Manager) savePeer(rt *Route) {
	if m.cfg.PeerStore == nil {
		return
	}
	remote := rt.Remote()
	if remote.NoAdvertise {
		return
	}
	rec := storage.PeerRecord{
		Address:    rt.Address(),
		ServerName: remote.ServerName,
		LastSeen:   time.Now(),
	}
	ctx, cancel := context.WithTimeout(m.ctx, time.Second)
	defer cancel()
	if err := m.cfg.PeerStore.SavePeer(ctx, rec); err != nil {
		m.logger.Warn("failed to cache peer", "address", rec.Address, "error", err)
	}
}

func (m *Manager) forgetPeer(addr string) {
	if m.cfg.PeerStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.cfg.PeerStore.DeletePeer(ctx, addr); err != nil {
		m.logger.Warn("failed to remove cached peer", "address", addr, "error", err)
	}
}

// learn solicits a peer found by gossip, discovery or the peer cache.
func (m *Manager) learn(addr, name string) bool {
	host, port, err := domain.SplitAddress(addr)
	if err != nil {
		if addr, err = domain.NormalizeAddress(addr); err != nil {
			return false
		}
		if host, port, err = domain.SplitAddress(addr); err != nil {
			return false
		}
	}
	u := &domain.RouteURL{Scheme: "route", Host: host, Port: port}
	if ok := m.solicit(u, name, true); ok {
		m.logger.Debug("soliciting implicit route", "address", u.Address(), "remote", name)
		return true
	}
	return false
}

func (m *Manager) String() string {
	return fmt.Sprintf("%s@%s", m.cfg.ServerName, m.addr)
}
