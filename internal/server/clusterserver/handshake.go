package clusterserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/infra/tlsroots"
)

// errWriteTimeout bounds writing a handshake reply.
const errWriteTimeout = time.Second

func (m *Manager) acceptLoop(ctx context.Context) error {
	for {
		c, err := m.ln.Accept()
		if err != nil {
			if !m.running.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}

		if !m.limiter.Allow() {
			m.logger.Warn("route accept rate exceeded, closing connection", "remote_addr", c.RemoteAddr().String())
			_ = c.Close()
			continue
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.handleInbound(c)
		}()
	}
}

// handleInbound runs the accepting side of the handshake and, on success,
// leaves the route Established with its loops running.
func (m *Manager) handleInbound(conn net.Conn) {
	rt := newRoute(domain.Inbound, "", m, m.routeOptions(), m.logger)
	rt.setConn(conn)

	stop := context.AfterFunc(m.ctx, func() {
		rt.Close(domain.ErrRouteClosed.WithDetails("shutdown"))
	})
	defer stop()

	if err := m.acceptHandshake(rt, conn); err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(errWriteTimeout))
		_ = WriteFrame(conn, FrameErr, errFrame(err))
		m.logger.Debug("inbound route rejected",
			"remote_addr", conn.RemoteAddr().String(),
			"error", err)
		rt.Close(err)
	}
}

func (m *Manager) acceptHandshake(rt *Route, conn net.Conn) error {
	deadline := time.Now().Add(m.cfg.AuthTimeout)
	_ = conn.SetReadDeadline(deadline)

	f, err := ReadFrame(conn)
	if err != nil {
		if isTimeout(err) {
			return domain.ErrAuthTimeout.WithDetails(fmt.Sprintf("no CONNECT within %s", m.cfg.AuthTimeout))
		}
		return domain.ErrAuthMalformed.WithCause(err)
	}
	if f.Type != FrameConnect {
		return domain.ErrAuthMalformed.WithDetails(fmt.Sprintf("expected CONNECT, got %s", f.Type))
	}
	var cm ConnectMsg
	if err := f.Decode(&cm); err != nil {
		return domain.ErrAuthMalformed.WithCause(err)
	}
	if cm.ServerName == "" {
		return domain.ErrAuthMalformed.WithDetails("missing server_name")
	}
	if cm.Cluster != m.cfg.Cluster {
		return domain.ErrClusterMismatch.WithDetails(fmt.Sprintf("peer %q is in cluster %q", cm.ServerName, cm.Cluster))
	}
	if cm.ServerName == m.cfg.ServerName || cm.Instance == m.instance {
		return domain.ErrSelfRoute
	}

	creds := Credentials{
		User:       cm.User,
		Password:   cm.Pass,
		Token:      cm.Token,
		RemoteAddr: conn.RemoteAddr().String(),
	}
	if tc, ok := conn.(*tls.Conn); ok {
		cs := tc.ConnectionState()
		creds.ConnState = &cs
	}

	ctx, cancel := context.WithDeadline(m.ctx, deadline)
	id, err := m.authenticator().Authenticate(ctx, creds)
	cancel()
	if err != nil {
		return err
	}

	rt.setAddress(inboundAddress(cm.Listen, conn.RemoteAddr()))
	rt.setRemote(cm.PeerInfo, id)

	if err := m.register(rt); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteDeadline))
	if err := WriteFrame(conn, FrameConnectOK, m.localInfo()); err != nil {
		m.registry.RemoveRoute(rt)
		return domain.ErrRouteClosed.WithDetails("write CONNECT_OK").WithCause(err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	if !rt.establish() {
		return rt.closeErrOr(domain.ErrRouteClosed)
	}
	return nil
}

// register upserts rt and closes whatever route it displaced.
func (m *Manager) register(rt *Route) error {
	res, other := m.registry.Upsert(rt, m.prefer)
	if res == Rejected {
		m.metrics.RecordDuplicate("rejected")
		m.logger.Debug("duplicate route rejected",
			"route_id", rt.ID(),
			"kept", other.ID(),
			"remote", rt.RemoteName(),
			"direction", rt.Direction().String())
		return domain.ErrDuplicateRoute.WithDetails(rt.Address())
	}
	if other != nil {
		m.metrics.RecordDuplicate("replaced")
		m.logger.Debug("route replaced",
			"route_id", other.ID(),
			"by", rt.ID(),
			"remote", rt.RemoteName())
		other.Close(domain.ErrDuplicateRoute.WithDetails("replaced by " + rt.ID()))
	}
	return nil
}

// inboundAddress derives the registry key of an inbound route from the
// listen address the peer announced. An unspecified host is replaced by
// the connection's remote IP.
func inboundAddress(listen string, remote net.Addr) string {
	remoteHost, _, _ := net.SplitHostPort(remote.String())

	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		addr, _ := domain.NormalizeAddress(remote.String())
		return addr
	}
	if domain.IsUnspecifiedHost(host) {
		host = remoteHost
	}
	addr, err := domain.NormalizeAddress(net.JoinHostPort(host, port))
	if err != nil {
		addr, _ = domain.NormalizeAddress(remote.String())
	}
	return addr
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// connect dials s once and runs the soliciting side of the handshake. On
// success the returned route is Established.
func (m *Manager) connect(s *solicitor) (*Route, error) {
	rt := newRoute(domain.Outbound, s.addr, m, m.routeOptions(), m.logger)
	rt.url = s.url
	rt.implicit = s.implicit

	if err := m.register(rt); err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	rt.setCancelDial(cancel)
	conn, err := m.dial(dctx, s.url)
	cancel()
	if err != nil {
		m.metrics.RecordDial("error")
		if prev := rt.Err(); prev != nil && !errors.Is(prev, domain.ErrRouteClosed) {
			return nil, prev
		}
		derr := domain.ErrDialFailed.WithDetails(s.addr).WithCause(err)
		rt.Close(derr)
		return nil, derr
	}
	m.metrics.RecordDial("ok")
	if !rt.setConn(conn) {
		return nil, rt.closeErrOr(domain.ErrRouteClosed)
	}

	if err := m.solicitHandshake(rt, conn, s.url); err != nil {
		if domain.IsDomainError(err, "") {
			rt.Close(err)
		} else {
			rt.Close(domain.ErrRouteClosed.WithCause(err))
		}
		return nil, rt.closeErrOr(err)
	}
	return rt, nil
}

func (m *Manager) dial(ctx context.Context, u *domain.RouteURL) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(u.Host, strconv.Itoa(u.Port)))
	if err != nil {
		return nil, err
	}
	if m.cfg.TLS == nil {
		return conn, nil
	}
	tc := tls.Client(conn, tlsroots.ForDial(m.cfg.TLS, u.Host))
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tc, nil
}

func (m *Manager) solicitHandshake(rt *Route, conn net.Conn, u *domain.RouteURL) error {
	if !rt.transition(domain.StateAuthenticating) {
		return rt.closeErrOr(domain.ErrRouteClosed)
	}

	cm := ConnectMsg{PeerInfo: m.localInfo()}
	if u.HasCredentials() {
		cm.User, cm.Pass = u.User, u.Password
	} else {
		a := m.routeAuth()
		cm.User, cm.Pass, cm.Token = a.User, a.Password, a.Token
	}

	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteDeadline))
	if err := WriteFrame(conn, FrameConnect, cm); err != nil {
		return domain.ErrDialFailed.WithDetails("write CONNECT").WithCause(err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.AuthTimeout))
	f, err := ReadFrame(conn)
	if err != nil {
		if isTimeout(err) {
			return domain.ErrAuthTimeout.WithDetails(fmt.Sprintf("no reply from %s within %s", rt.Address(), m.cfg.AuthTimeout))
		}
		return domain.ErrDialFailed.WithDetails("read CONNECT reply").WithCause(err)
	}

	switch f.Type {
	case FrameErr:
		var em ErrMsg
		if err := f.Decode(&em); err != nil {
			return err
		}
		return domain.ErrorFromCode(em.Code, em.Message)
	case FrameConnectOK:
	default:
		return domain.ErrProtocol.WithDetails(fmt.Sprintf("expected CONNECT_OK, got %s", f.Type))
	}

	var info domain.PeerInfo
	if err := f.Decode(&info); err != nil {
		return err
	}
	if info.Cluster != m.cfg.Cluster {
		return domain.ErrClusterMismatch.WithDetails(fmt.Sprintf("peer %q is in cluster %q", info.ServerName, info.Cluster))
	}
	if info.ServerName == m.cfg.ServerName || info.Instance == m.instance {
		m.markSelf(rt.Address())
		return domain.ErrSelfRoute
	}
	rt.setRemote(info, domain.Identity{Name: info.ServerName})

	if err := m.register(rt); err != nil {
		return err
	}
	if !rt.establish() {
		return rt.closeErrOr(domain.ErrRouteClosed)
	}
	return nil
}
