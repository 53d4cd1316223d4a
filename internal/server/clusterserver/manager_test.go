package clusterserver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/storage"
	"github.com/yndnr/routemesh-go/internal/storage/memory"
	"github.com/yndnr/routemesh-go/internal/telemetry/metric"
)

func testConfig(name string) Config {
	return Config{
		ServerName:     name,
		Cluster:        "test",
		Listen:         "127.0.0.1:0",
		Reconnect:      BackoffConfig{Base: 20 * time.Millisecond, Max: 200 * time.Millisecond, Jitter: 0.1},
		GossipInterval: 100 * time.Millisecond,
		AuthTimeout:    500 * time.Millisecond,
		DialTimeout:    500 * time.Millisecond,
		DrainTimeout:   time.Second,
		Logger:         discardLogger(),
		Metrics:        metric.NewRegistry(),
	}
}

func routeTo(t *testing.T, addr string) *domain.RouteURL {
	t.Helper()
	u, err := domain.ParseRouteURL("route://" + addr)
	if err != nil {
		t.Fatalf("ParseRouteURL(%s): %v", addr, err)
	}
	return u
}

func startManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", cfg.ServerName, err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s): %v", cfg.ServerName, err)
	}
	t.Cleanup(func() { shutdown(t, m) })
	return m
}

func shutdown(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil && errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown(%s): %v", m.ServerName(), err)
	}
}

func establishedCount(m *Manager) int {
	return len(m.View().Peers)
}

func TestConfig_Validate(t *testing.T) {
	cases := []Config{
		{Cluster: "c", Listen: ":0"},
		{ServerName: "a", Listen: ":0"},
		{ServerName: "a", Cluster: "c"},
	}
	for i, c := range cases {
		if err := c.Validate(); !errors.Is(err, domain.ErrConfigInvalid) {
			t.Errorf("case %d: err = %v, want ErrConfigInvalid", i, err)
		}
	}
	if _, err := New(Config{}); !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("New(empty) = %v", err)
	}
}

func TestManager_StartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig("a")
	cfg.Listen = ln.Addr().String()
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("Start on busy port = %v, want ErrConfigInvalid", err)
	}
}

func TestManager_Prefer(t *testing.T) {
	m, err := New(testConfig("b"))
	if err != nil {
		t.Fatal(err)
	}

	// Local "b" vs remote "a": the route dialed by "a" (inbound here) wins.
	out := testRoute(domain.Outbound, "x:1", "a", "i1")
	out.state.Store(int32(domain.StateAuthenticating))
	in := testRoute(domain.Inbound, "x:1", "a", "i1")

	if !m.prefer(out, in) {
		t.Error("inbound from smaller name should replace outbound")
	}
	if m.prefer(in, out) {
		t.Error("outbound from larger name should not replace inbound")
	}

	// Remote "c": this node is the smaller name, so its outbound wins.
	outC := testRoute(domain.Outbound, "y:1", "c", "i1")
	outC.state.Store(int32(domain.StateAuthenticating))
	inC := testRoute(domain.Inbound, "y:1", "c", "i1")
	if !m.prefer(inC, outC) || m.prefer(outC, inC) {
		t.Error("tie-break for remote c is not symmetric")
	}

	// A candidate still dialing never wins.
	dialing := testRoute(domain.Outbound, "x:1", "", "")
	if m.prefer(in, dialing) {
		t.Error("dialing candidate replaced a route")
	}

	// Same direction: the newer remote instance wins.
	older := testRoute(domain.Inbound, "x:1", "a", "01A")
	newer := testRoute(domain.Inbound, "x:1", "a", "01B")
	if !m.prefer(older, newer) || m.prefer(newer, older) {
		t.Error("newer instance did not win")
	}
}

func TestManager_TwoNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	var (
		mu  sync.Mutex
		got []Message
	)
	a := startManager(t, testConfig("a"))

	cfgB := testConfig("b")
	cfgB.Routes = []*domain.RouteURL{routeTo(t, a.Addr())}
	cfgB.OnMessage = func(from domain.RouteInfo, msg Message) {
		if from.ServerName != "a" {
			t.Errorf("message from %q", from.ServerName)
		}
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}
	b := startManager(t, cfgB)

	waitFor(t, 5*time.Second, "a<->b established", func() bool {
		return a.View().Has("b") && b.View().Has("a")
	})

	if err := a.Send("b", Message{Subject: "greet", Data: []byte("hi")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := a.Broadcast(Message{Subject: "all"}); n != 1 {
		t.Errorf("Broadcast reached %d routes, want 1", n)
	}
	waitFor(t, 2*time.Second, "messages at b", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	if got[0].Subject != "greet" || string(got[0].Data) != "hi" || got[1].Subject != "all" {
		t.Errorf("messages out of order: %+v", got)
	}
	mu.Unlock()

	if err := a.Send("nobody", Message{Subject: "x"}); !errors.Is(err, domain.ErrRouteClosed) {
		t.Errorf("Send to unknown peer = %v", err)
	}

	info := a.Routes()[0]
	if info.Direction != "inbound" || info.ServerName != "b" || info.State != "established" {
		t.Errorf("route info = %+v", info)
	}
}

func TestManager_ThreeNodeConvergence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	a := startManager(t, testConfig("a"))

	// b and c only know a; they must find each other through gossip.
	cfgB := testConfig("b")
	cfgB.Routes = []*domain.RouteURL{routeTo(t, a.Addr())}
	b := startManager(t, cfgB)

	cfgC := testConfig("c")
	cfgC.Routes = []*domain.RouteURL{routeTo(t, a.Addr())}
	c := startManager(t, cfgC)

	nodes := []*Manager{a, b, c}
	waitFor(t, 10*time.Second, "full mesh", func() bool {
		for _, m := range nodes {
			if establishedCount(m) != 2 {
				return false
			}
		}
		return true
	})

	// Settle, then check that no node keeps a duplicate.
	time.Sleep(300 * time.Millisecond)
	for _, m := range nodes {
		if n := len(m.Routes()); n != 2 {
			t.Errorf("%s has %d routes, want 2: %+v", m.ServerName(), n, m.Routes())
		}
		v := m.View()
		for _, other := range nodes {
			if other != m && !v.Has(other.ServerName()) {
				t.Errorf("%s does not see %s", m.ServerName(), other.ServerName())
			}
		}
	}

	// Learned routes are implicit.
	implicit := false
	for _, r := range b.Routes() {
		if r.ServerName == "c" && r.Implicit {
			implicit = true
		}
	}
	for _, r := range c.Routes() {
		if r.ServerName == "b" && r.Implicit {
			implicit = true
		}
	}
	if !implicit {
		t.Error("b<->c route was not learned implicitly")
	}
}

func TestManager_MutualDialKeepsOneRoute(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	a := startManager(t, testConfig("a"))
	cfgB := testConfig("b")
	cfgB.Routes = []*domain.RouteURL{routeTo(t, a.Addr())}
	b := startManager(t, cfgB)
	a.Solicit(routeTo(t, b.Addr()), false)

	waitFor(t, 5*time.Second, "single established route", func() bool {
		ra, rb := a.Routes(), b.Routes()
		return len(ra) == 1 && len(rb) == 1 &&
			ra[0].State == "established" && rb[0].State == "established"
	})
	time.Sleep(300 * time.Millisecond)

	ra, rb := a.Routes(), b.Routes()
	if len(ra) != 1 || len(rb) != 1 {
		t.Fatalf("routes a=%d b=%d, want 1 each", len(ra), len(rb))
	}
	if ra[0].Direction == rb[0].Direction {
		t.Errorf("both ends report %s: they kept different connections", ra[0].Direction)
	}
}

// proxy forwards every connection on a fresh port to target.
func proxy(t *testing.T, target string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			u, err := net.Dial("tcp", target)
			if err != nil {
				c.Close()
				continue
			}
			go func() { io.Copy(u, c); u.Close() }()
			go func() { io.Copy(c, u); c.Close() }()
		}
	}()
	return ln.Addr().String()
}

func TestManager_NoSelfRoute(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	a := startManager(t, testConfig("a"))

	if a.Solicit(routeTo(t, a.Addr()), false) {
		t.Error("solicited own listen address")
	}

	// An alias of this node is only detectable in the handshake.
	alias := proxy(t, a.Addr())
	if !a.Solicit(routeTo(t, alias), false) {
		t.Fatal("alias not solicited")
	}
	waitFor(t, 3*time.Second, "self detection", func() bool {
		return !a.Soliciting(alias)
	})
	if n := len(a.Routes()); n != 0 {
		t.Errorf("self route registered: %+v", a.Routes())
	}
	if !a.isSelfAddress(alias) {
		t.Error("alias not remembered as self")
	}
	if a.Solicit(routeTo(t, alias), false) {
		t.Error("alias solicited again")
	}
}

func TestManager_AuthTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := testConfig("a")
	cfg.AuthTimeout = 200 * time.Millisecond
	a := startManager(t, cfg)

	conn, err := net.Dial("tcp", a.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	start := time.Now()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	f, err := ReadFrame(conn)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Type != FrameErr {
		t.Fatalf("got %s, want ERR", f.Type)
	}
	var em ErrMsg
	if err := f.Decode(&em); err != nil {
		t.Fatal(err)
	}
	if em.Code != domain.ErrAuthTimeout.Code {
		t.Errorf("code = %s, want %s", em.Code, domain.ErrAuthTimeout.Code)
	}
	if elapsed < 150*time.Millisecond || elapsed > 700*time.Millisecond {
		t.Errorf("closed after %v, want about 200ms", elapsed)
	}
	if _, err := ReadFrame(conn); err == nil {
		t.Error("connection still open after ERR")
	}
}

func TestManager_RejectsNonConnectFirstFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	a := startManager(t, testConfig("a"))
	conn, err := net.Dial("tcp", a.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := WriteFrame(conn, FrameMsg, Message{Subject: "early"}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := ReadFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	var em ErrMsg
	_ = f.Decode(&em)
	if f.Type != FrameErr || em.Code != domain.ErrAuthMalformed.Code {
		t.Errorf("got %s %+v, want ERR %s", f.Type, em, domain.ErrAuthMalformed.Code)
	}
}

func TestManager_BadCredentials(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfgA := testConfig("a")
	cfgA.Authenticator = NewStaticAuthenticator("route", "s3cret", "")
	a := startManager(t, cfgA)

	cfgB := testConfig("b")
	cfgB.MaxAuthRetries = 2
	u, err := domain.ParseRouteURL("route://route:wrong@" + a.Addr())
	if err != nil {
		t.Fatal(err)
	}
	cfgB.Routes = []*domain.RouteURL{u}
	b := startManager(t, cfgB)

	waitFor(t, 5*time.Second, "b gives up", func() bool {
		return !b.Soliciting(u.Address())
	})
	if len(a.Routes()) != 0 || len(b.Routes()) != 0 {
		t.Errorf("route survived bad credentials: a=%+v b=%+v", a.Routes(), b.Routes())
	}

	// Valid credentials configured later are accepted.
	b.SetRouteAuth(RouteAuth{User: "route", Password: "s3cret"})
	b.Solicit(routeTo(t, a.Addr()), false)
	waitFor(t, 5*time.Second, "authorized route", func() bool {
		return a.View().Has("b")
	})
	if id := a.View().Peers[0].Identity; id != "route" {
		t.Errorf("identity = %q, want route", id)
	}
}

func TestManager_ClusterMismatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	a := startManager(t, testConfig("a"))
	cfgB := testConfig("b")
	cfgB.Cluster = "other"
	cfgB.Routes = []*domain.RouteURL{routeTo(t, a.Addr())}
	b := startManager(t, cfgB)

	time.Sleep(500 * time.Millisecond)
	if establishedCount(a) != 0 || establishedCount(b) != 0 {
		t.Errorf("cross-cluster route: a=%+v b=%+v", a.View().Peers, b.View().Peers)
	}
	if !b.Soliciting(a.Addr()) {
		t.Error("seed route stopped retrying after cluster mismatch")
	}
}

func TestManager_ReconnectDelaysIncrease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// A port with nothing listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := ln.Addr().String()
	ln.Close()

	cfg := testConfig("a")
	cfg.Reconnect = BackoffConfig{Base: 10 * time.Millisecond, Max: time.Second, Jitter: 0.5}
	cfg.Routes = []*domain.RouteURL{routeTo(t, dead)}
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	m.onDelay = func(addr string, d time.Duration) {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer shutdown(t, m)

	waitFor(t, 5*time.Second, "five reconnect attempts", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delays) >= 5
	})

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < 5; i++ {
		if delays[i] <= delays[i-1] {
			t.Errorf("delay[%d] = %v not greater than delay[%d] = %v", i, delays[i], i-1, delays[i-1])
		}
	}
	if !m.Soliciting(dead) {
		t.Error("seed route stopped retrying")
	}
}

func TestManager_ImplicitRouteGivesUp(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := ln.Addr().String()
	ln.Close()

	store := memory.New()
	cfg := testConfig("a")
	cfg.ConnectRetries = 2
	cfg.PeerStore = store
	a := startManager(t, cfg)

	host, port, _ := domain.SplitAddress(dead)
	_ = store.SavePeer(context.Background(), storage.PeerRecord{Address: dead, ServerName: "gone"})
	if !a.Solicit(&domain.RouteURL{Scheme: "route", Host: host, Port: port}, true) {
		t.Fatal("implicit route not solicited")
	}
	waitFor(t, 3*time.Second, "implicit route abandoned", func() bool {
		return !a.Soliciting(dead)
	})
	if store.Len() != 0 {
		t.Error("abandoned peer still cached")
	}
}

func TestManager_PeerStoreResolicits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	a := startManager(t, testConfig("a"))
	store := memory.New()

	cfgB := testConfig("b")
	cfgB.Routes = []*domain.RouteURL{routeTo(t, a.Addr())}
	cfgB.PeerStore = store
	b, err := New(cfgB)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "b connected", func() bool { return b.View().Has("a") })
	waitFor(t, time.Second, "peer cached", func() bool { return store.Len() == 1 })
	shutdown(t, b)

	// Restart without seeds: the cached peer is enough.
	cfgB.Routes = nil
	b2 := startManager(t, cfgB)
	waitFor(t, 5*time.Second, "b reconnected from cache", func() bool { return b2.View().Has("a") })
}

func TestManager_Shutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	a := startManager(t, testConfig("a"))
	cfgB := testConfig("b")
	cfgB.Routes = []*domain.RouteURL{routeTo(t, a.Addr())}
	b, err := New(cfgB)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "connected", func() bool { return a.View().Has("b") })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if b.Running() {
		t.Error("still running")
	}
	if len(b.Routes()) != 0 {
		t.Errorf("routes after shutdown: %+v", b.Routes())
	}
	if b.Solicit(routeTo(t, a.Addr()), false) {
		t.Error("Solicit accepted after shutdown")
	}
	if err := b.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}

	// The peer saw the drain and dropped its side.
	waitFor(t, 2*time.Second, "a dropped b", func() bool { return len(a.Routes()) == 0 })
}

func TestManager_GossipHidesNoAdvertise(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	b := startManager(t, testConfig("b"))

	cfgA := testConfig("a")
	cfgA.Routes = []*domain.RouteURL{routeTo(t, b.Addr())}
	a := startManager(t, cfgA)

	cfgN := testConfig("n")
	cfgN.NoAdvertise = true
	cfgN.Routes = []*domain.RouteURL{routeTo(t, b.Addr())}
	n := startManager(t, cfgN)

	// n learns a from b's INFO and dials it; a must never dial n.
	waitFor(t, 10*time.Second, "n routed to a and b", func() bool {
		return n.View().Has("a") && n.View().Has("b") && a.View().Has("b")
	})
	time.Sleep(500 * time.Millisecond)

	for _, m := range []*Manager{a, b} {
		if m.Soliciting(n.Addr()) {
			t.Errorf("%s solicits no-advertise n", m.ServerName())
		}
		for _, r := range m.Routes() {
			if r.ServerName == "n" && r.Direction != domain.Inbound.String() {
				t.Errorf("%s holds a %s route to n", m.ServerName(), r.Direction)
			}
		}
	}
}
