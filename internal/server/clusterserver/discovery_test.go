package clusterserver

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/routemesh-go/internal/core/domain"
)

func TestDiscovery_RouteAddr(t *testing.T) {
	d := &Discovery{cluster: "test", logger: discardLogger()}
	meta := func(cluster, route string) []byte {
		b, _ := json.Marshal(nodeMeta{Cluster: cluster, Route: route})
		return b
	}
	tests := []struct {
		name   string
		node   *memberlist.Node
		want   string
		wantOK bool
	}{
		{"same cluster", &memberlist.Node{Name: "b", Addr: net.ParseIP("10.0.0.2"), Meta: meta("test", "10.0.0.2:6222")}, "10.0.0.2:6222", true},
		{"unspecified host", &memberlist.Node{Name: "b", Addr: net.ParseIP("10.0.0.3"), Meta: meta("test", "0.0.0.0:7000")}, "10.0.0.3:7000", true},
		{"other cluster", &memberlist.Node{Name: "b", Addr: net.ParseIP("10.0.0.2"), Meta: meta("prod", "10.0.0.2:6222")}, "", false},
		{"no metadata", &memberlist.Node{Name: "b", Addr: net.ParseIP("10.0.0.2")}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.routeAddr(tt.node)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("routeAddr = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMetadataDelegate_Limit(t *testing.T) {
	m := &metadataDelegate{meta: []byte(`{"cluster":"c"}`)}
	if m.NodeMeta(4) != nil {
		t.Error("metadata over limit returned")
	}
	if string(m.NodeMeta(512)) != `{"cluster":"c"}` {
		t.Error("metadata not returned")
	}
}

func TestDiscovery_Join(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	d1, err := NewDiscovery(DiscoveryConfig{
		NodeName: "a", Cluster: "test", RouteAddr: "127.0.0.1:7001",
		BindAddr: "127.0.0.1", Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewDiscovery(a): %v", err)
	}
	defer d1.Shutdown()

	var (
		mu     sync.Mutex
		joined = map[string]string{}
	)
	d1.OnJoin(func(name, addr string) {
		mu.Lock()
		joined[name] = addr
		mu.Unlock()
	})
	left := map[string]string{}
	d1.OnLeave(func(name, addr string) {
		mu.Lock()
		left[name] = addr
		mu.Unlock()
	})

	d2, err := NewDiscovery(DiscoveryConfig{
		NodeName: "b", Cluster: "test", RouteAddr: "0.0.0.0:7002",
		BindAddr: "127.0.0.1", Seeds: []string{d1.Addr()}, Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewDiscovery(b): %v", err)
	}
	defer d2.Shutdown()

	waitFor(t, 5*time.Second, "b announced to a", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return joined["b"] == "127.0.0.1:7002"
	})
	if n := len(d2.Members()); n != 2 {
		t.Errorf("b sees %d members, want 2", n)
	}

	if err := d2.Leave(); err != nil {
		t.Errorf("Leave: %v", err)
	}
	waitFor(t, 10*time.Second, "b's departure seen by a", func() bool {
		mu.Lock()
		defer mu.Unlock()
		addr, ok := left["b"]
		return ok && addr == "127.0.0.1:7002"
	})
	if err := d2.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := d2.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestManager_DiscoveryFormsRoutes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfgA := testConfig("a")
	cfgA.Discovery = &DiscoveryConfig{BindAddr: "127.0.0.1"}
	a := startManager(t, cfgA)
	if a.discovery == nil {
		t.Fatal("discovery not started")
	}

	cfgB := testConfig("b")
	cfgB.Discovery = &DiscoveryConfig{BindAddr: "127.0.0.1", Seeds: []string{a.discovery.Addr()}}
	b := startManager(t, cfgB)

	waitFor(t, 10*time.Second, "route from discovery", func() bool {
		return a.View().Has("b") && b.View().Has("a")
	})
	for _, r := range append(a.Routes(), b.Routes()...) {
		if r.State != domain.StateEstablished.String() {
			t.Errorf("route %+v not established", r)
		}
	}
}

func TestDiscovery_MemberWithoutRouteNotAnnounced(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	newNode := func(name, route string, seeds ...string) *Discovery {
		t.Helper()
		d, err := NewDiscovery(DiscoveryConfig{
			NodeName: name, Cluster: "test", RouteAddr: route,
			BindAddr: "127.0.0.1", Seeds: seeds, Logger: discardLogger(),
		})
		if err != nil {
			t.Fatalf("NewDiscovery(%s): %v", name, err)
		}
		t.Cleanup(func() { _ = d.Shutdown() })
		return d
	}

	hub := newNode("b", "127.0.0.1:7102")
	a := newNode("a", "127.0.0.1:7101", hub.Addr())

	var (
		mu           sync.Mutex
		seenByA      = map[string]string{}
		seenByHidden = map[string]string{}
	)
	a.OnJoin(func(name, addr string) {
		mu.Lock()
		seenByA[name] = addr
		mu.Unlock()
	})

	hidden := newNode("n", "", hub.Addr())
	hidden.OnJoin(func(name, addr string) {
		mu.Lock()
		seenByHidden[name] = addr
		mu.Unlock()
	})

	waitFor(t, 10*time.Second, "a sees all three members", func() bool {
		return len(a.Members()) == 3
	})
	waitFor(t, 10*time.Second, "n discovers a and b", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seenByHidden["a"] == "127.0.0.1:7101" && seenByHidden["b"] == "127.0.0.1:7102"
	})

	mu.Lock()
	defer mu.Unlock()
	if addr, ok := seenByA["n"]; ok {
		t.Errorf("a was handed n's route address %q", addr)
	}
	if seenByA["b"] != "127.0.0.1:7102" {
		t.Errorf("a did not learn b: %v", seenByA)
	}
}

func TestManager_DiscoveryHidesNoAdvertise(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfgB := testConfig("b")
	cfgB.Discovery = &DiscoveryConfig{BindAddr: "127.0.0.1"}
	b := startManager(t, cfgB)

	cfgA := testConfig("a")
	cfgA.Discovery = &DiscoveryConfig{BindAddr: "127.0.0.1", Seeds: []string{b.discovery.Addr()}}
	a := startManager(t, cfgA)

	cfgN := testConfig("n")
	cfgN.NoAdvertise = true
	cfgN.Discovery = &DiscoveryConfig{BindAddr: "127.0.0.1", Seeds: []string{b.discovery.Addr()}}
	n := startManager(t, cfgN)

	waitFor(t, 10*time.Second, "n routed to a and b", func() bool {
		return n.View().Has("a") && n.View().Has("b") && len(a.discovery.Members()) == 3
	})

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
