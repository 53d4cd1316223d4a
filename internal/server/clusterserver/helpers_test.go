package clusterserver

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/routemesh-go/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRoute builds an unconnected route with a known remote.
func testRoute(dir domain.Direction, addr, remote, instance string) *Route {
	rt := newRoute(dir, addr, nil, routeOptions{}, discardLogger())
	if remote != "" {
		rt.setRemote(domain.PeerInfo{ServerName: remote, Cluster: "test", Instance: instance}, domain.Identity{Name: remote})
	}
	return rt
}

// recordingHooks captures route events.
type recordingHooks struct {
	mu       sync.Mutex
	infos    []InfoMsg
	messages []Message
	changes  [][2]domain.RouteState
	closedCh chan error
	infoErr  error
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{closedCh: make(chan error, 1)}
}

func (h *recordingHooks) routeInfo(_ *Route, msg InfoMsg) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.infos = append(h.infos, msg)
	return h.infoErr
}

func (h *recordingHooks) routeMessage(_ *Route, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHooks) routeStateChanged(_ *Route, from, to domain.RouteState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, [2]domain.RouteState{from, to})
}

func (h *recordingHooks) routeClosed(_ *Route, err error) {
	h.closedCh <- err
}

func (h *recordingHooks) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}
