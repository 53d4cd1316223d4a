package clusterserver

import (
	"errors"
	"time"

	"github.com/yndnr/routemesh-go/internal/core/domain"
)

// solicitor keeps one outbound route to a peer alive. There is at most one
// solicitor per normalized address.
type solicitor struct {
	url      *domain.RouteURL
	addr     string
	name     string
	implicit bool
	boff     *reconnectBackoff
}

// Solicit starts maintaining a route to u. Implicit routes give up after
// ConnectRetries consecutive failures; seed routes retry until shutdown.
// It reports whether a new solicitor was started.
func (m *Manager) Solicit(u *domain.RouteURL, implicit bool) bool {
	return m.solicit(u, "", implicit)
}

func (m *Manager) solicit(u *domain.RouteURL, name string, implicit bool) bool {
	if u == nil {
		return false
	}
	addr := u.Address()
	if m.isSelfAddress(addr) {
		return false
	}

	m.solMu.Lock()
	defer m.solMu.Unlock()
	if !m.running.Load() {
		return false
	}
	if _, ok := m.solicitors[addr]; ok {
		return false
	}
	s := &solicitor{
		url:      u,
		addr:     addr,
		name:     name,
		implicit: implicit,
		boff:     newReconnectBackoff(m.cfg.Reconnect),
	}
	m.solicitors[addr] = s
	m.wg.Add(1)
	go m.runSolicitor(s)
	return true
}

// Soliciting reports whether a solicitor is running for addr.
func (m *Manager) Soliciting(addr string) bool {
	m.solMu.Lock()
	defer m.solMu.Unlock()
	_, ok := m.solicitors[addr]
	return ok
}

func (m *Manager) runSolicitor(s *solicitor) {
	defer m.wg.Done()
	defer func() {
		m.solMu.Lock()
		delete(m.solicitors, s.addr)
		m.solMu.Unlock()
	}()

	log := m.logger.With("route", s.url.String(), "implicit", s.implicit)

	if !s.implicit {
		if !m.sleep(staggerDelay(m.cfg.ServerName, s.addr, m.cfg.Stagger)) {
			return
		}
	}

	var failures, authFailures int
	for m.running.Load() {
		if rt := m.existingRoute(s); rt != nil {
			if !m.waitRoute(rt) {
				return
			}
			s.boff.Reset()
			if !m.delay(s, s.boff.Next()) {
				return
			}
			continue
		}

		rt, err := m.connect(s)
		if err == nil {
			failures, authFailures = 0, 0
			s.name = rt.RemoteName()
			log.Info("route connected", "remote", s.name)
			if !m.waitRoute(rt) {
				return
			}
			log.Info("route lost, reconnecting", "remote", s.name, "reason", rt.Err())
			s.boff.Reset()
			if !m.delay(s, s.boff.Next()) {
				return
			}
			continue
		}

		if !m.running.Load() {
			return
		}
		if errors.Is(err, domain.ErrSelfRoute) {
			m.markSelf(s.addr)
			log.Info("route points to self, giving up")
			return
		}
		if errors.Is(err, domain.ErrDuplicateRoute) && m.existingRoute(s) != nil {
			continue
		}

		if domain.IsAuthError(err) {
			authFailures++
			if authFailures >= m.cfg.MaxAuthRetries {
				log.Error("route authorization keeps failing, giving up",
					"attempts", authFailures, "error", err)
				return
			}
			log.Warn("route authorization failed", "attempt", authFailures, "error", err)
		} else {
			log.Debug("route attempt failed", "error", err)
		}

		if s.implicit {
			failures++
			if failures >= m.cfg.ConnectRetries {
				log.Info("giving up on implicit route", "attempts", failures, "error", err)
				m.forgetPeer(s.addr)
				return
			}
		}

		if !m.delay(s, s.boff.Next()) {
			return
		}
	}
}

// existingRoute returns a healthy route to the solicitor's peer, keyed by
// address or known by name.
func (m *Manager) existingRoute(s *solicitor) *Route {
	snap := m.registry.Snapshot()
	if rt, ok := snap.Get(s.addr); ok && rt.State().Healthy() {
		return rt
	}
	if rt, ok := snap.ByName(s.name); ok && rt.State().Healthy() {
		return rt
	}
	return nil
}

// waitRoute blocks until rt closes. It returns false on shutdown.
func (m *Manager) waitRoute(rt *Route) bool {
	select {
	case <-rt.Done():
		return m.running.Load()
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) delay(s *solicitor, d time.Duration) bool {
	m.metrics.ObserveReconnectDelay(d)
	if m.onDelay != nil {
		m.onDelay(s.addr, d)
	}
	return m.sleep(d)
}

// sleep waits d and returns false on shutdown.
func (m *Manager) sleep(d time.Duration) bool {
	if d <= 0 {
		return m.running.Load()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return m.running.Load()
	case <-m.ctx.Done():
		return false
	}
}
