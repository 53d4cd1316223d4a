package clusterserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/routemesh-go/internal/core/domain"
)

// routeHooks receives route events. The Manager implements it.
type routeHooks interface {
	// routeInfo handles a gossip frame. A returned error closes the route.
	routeInfo(rt *Route, msg InfoMsg) error
	routeMessage(rt *Route, msg Message)
	routeStateChanged(rt *Route, from, to domain.RouteState)
	routeClosed(rt *Route, err error)
}

// routeOptions are the per-route timings taken from Config.
type routeOptions struct {
	PingInterval  time.Duration
	MaxPingsOut   int
	WriteDeadline time.Duration
	DrainTimeout  time.Duration
	QueueSize     int
}

// outbound frame queue depth
const defaultQueueSize = 256

var validTransitions = map[domain.RouteState][]domain.RouteState{
	domain.StateDialing:        {domain.StateAuthenticating, domain.StateClosed},
	domain.StateAuthenticating: {domain.StateEstablished, domain.StateClosed},
	domain.StateEstablished:    {domain.StateDraining, domain.StateClosed},
	domain.StateDraining:       {domain.StateClosed},
}

// canTransition reports whether from -> to is a lifecycle edge.
func canTransition(from, to domain.RouteState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Route is one connection to a peer node. A Route is never reused: after
// Closed, reconnecting creates a new Route.
type Route struct {
	id       string
	dir      domain.Direction
	implicit bool
	created  time.Time
	url      *domain.RouteURL // outbound only

	hooks  routeHooks
	opts   routeOptions
	logger atomic.Pointer[slog.Logger]

	state          atomic.Int32
	lastSeen       atomic.Int64
	pingsOut       atomic.Int32
	wasEstablished atomic.Bool

	mu         sync.RWMutex
	addr       string
	remote     domain.PeerInfo
	identity   domain.Identity
	conn       net.Conn
	cancelDial context.CancelFunc
	closeErr   error

	out       chan []byte
	drainReq  chan struct{}
	drainOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	loops     sync.WaitGroup
}

func newRoute(dir domain.Direction, addr string, hooks routeHooks, opts routeOptions, logger *slog.Logger) *Route {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	rt := &Route{
		id:       ulid.Make().String(),
		dir:      dir,
		created:  now,
		hooks:    hooks,
		opts:     opts,
		addr:     addr,
		out:      make(chan []byte, opts.QueueSize),
		drainReq: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	rt.lastSeen.Store(now.UnixNano())
	if dir == domain.Inbound {
		rt.state.Store(int32(domain.StateAuthenticating))
	} else {
		rt.state.Store(int32(domain.StateDialing))
	}
	rt.logger.Store(logger.With("route_id", rt.id, "direction", dir.String()))
	return rt
}

// ID returns the unique route instance ID.
func (r *Route) ID() string { return r.id }

// Direction returns who opened the connection.
func (r *Route) Direction() domain.Direction { return r.dir }

// Implicit reports whether the route was learned rather than configured.
func (r *Route) Implicit() bool { return r.implicit }

// State returns the current lifecycle state.
func (r *Route) State() domain.RouteState {
	return domain.RouteState(r.state.Load())
}

// Address returns the normalized peer address the route is keyed by.
func (r *Route) Address() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr
}

// RemoteName returns the peer server name, empty until the handshake.
func (r *Route) RemoteName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote.ServerName
}

// Remote returns what the peer sent in the handshake.
func (r *Route) Remote() domain.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote
}

// Identity returns the authenticated principal of an inbound route.
func (r *Route) Identity() domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identity
}

// LastSeen returns when a frame was last received.
func (r *Route) LastSeen() time.Time {
	return time.Unix(0, r.lastSeen.Load())
}

// Done is closed when the route reaches Closed and has been unregistered.
func (r *Route) Done() <-chan struct{} {
	return r.closed
}

// Err returns why the route closed, or nil while it is open.
func (r *Route) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closeErr
}

func (r *Route) closeErrOr(def error) error {
	if err := r.Err(); err != nil {
		return err
	}
	return def
}

// Info returns a point-in-time description of the route.
func (r *Route) Info() domain.RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := domain.RouteInfo{
		ID:          r.id,
		Address:     r.addr,
		ServerName:  r.remote.ServerName,
		Direction:   r.dir.String(),
		State:       r.State().String(),
		NoAdvertise: r.remote.NoAdvertise,
		Implicit:    r.implicit,
		Identity:    r.identity.Name,
		Created:     r.created,
		LastSeen:    r.LastSeen(),
	}
	if r.conn != nil {
		info.RemoteAddr = r.conn.RemoteAddr().String()
	}
	return info
}

func (r *Route) setAddress(addr string) {
	r.mu.Lock()
	r.addr = addr
	r.mu.Unlock()
}

func (r *Route) setRemote(p domain.PeerInfo, id domain.Identity) {
	r.mu.Lock()
	r.remote = p
	r.identity = id
	r.mu.Unlock()
	r.logger.Store(r.log().With("remote", p.ServerName))
}

func (r *Route) log() *slog.Logger {
	return r.logger.Load()
}

// setConn attaches the connection. It fails, closing c, if the route was
// closed while dialing.
func (r *Route) setConn(c net.Conn) bool {
	r.mu.Lock()
	closed := r.closeErr != nil
	if !closed {
		r.conn = c
	}
	r.mu.Unlock()
	if closed {
		_ = c.Close()
	}
	return !closed
}

func (r *Route) setCancelDial(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancelDial = cancel
	r.mu.Unlock()
}

func (r *Route) netConn() net.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

// transition moves the route to a new state if the edge is valid.
func (r *Route) transition(to domain.RouteState) bool {
	for {
		from := r.State()
		if !canTransition(from, to) {
			return false
		}
		if r.state.CompareAndSwap(int32(from), int32(to)) {
			r.log().Debug("route state changed", "from", from.String(), "to", to.String())
			if r.hooks != nil {
				r.hooks.routeStateChanged(r, from, to)
			}
			return true
		}
	}
}

// establish moves an authenticated route to Established and starts the
// read, write and ping loops on conn.
func (r *Route) establish() bool {
	if !r.transition(domain.StateEstablished) {
		return false
	}
	conn := r.netConn()
	r.loops.Add(3)
	go r.readLoop(conn)
	go r.writeLoop(conn)
	go r.pingLoop()
	return true
}

// Close closes the route immediately. The first error recorded wins.
func (r *Route) Close(err error) {
	if err == nil {
		err = domain.ErrRouteClosed
	}
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closeErr = err
		conn := r.conn
		cancel := r.cancelDial
		r.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}

		for {
			from := r.State()
			if from == domain.StateClosed {
				break
			}
			if r.state.CompareAndSwap(int32(from), int32(domain.StateClosed)) {
				if r.hooks != nil {
					r.hooks.routeStateChanged(r, from, domain.StateClosed)
				}
				break
			}
		}
		if errors.Is(err, domain.ErrRouteClosed) {
			r.log().Debug("route closed", "address", r.Address())
		} else {
			r.log().Info("route closed", "address", r.Address(), "reason", err)
		}
		if r.hooks != nil {
			r.hooks.routeClosed(r, err)
		}
		close(r.closed)
	})
}

// Drain stops accepting new frames, flushes queued ones, tells the peer
// and closes. It waits until the route is closed or timeout elapses, in
// which case the route is closed with ErrDrainTimeout.
func (r *Route) Drain(timeout time.Duration) error {
	if !r.transition(domain.StateDraining) {
		if r.State() != domain.StateDraining {
			r.Close(domain.ErrRouteClosed)
			return nil
		}
	}
	r.drainOnce.Do(func() { close(r.drainReq) })

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-r.closed:
		return nil
	case <-t.C:
		err := domain.ErrDrainTimeout.WithDetails(r.Address())
		r.Close(err)
		return err
	}
}

// Send queues a data message. It blocks while the queue is full and fails
// once the route is no longer Established.
func (r *Route) Send(msg Message) error {
	buf, err := EncodeFrame(FrameMsg, msg)
	if err != nil {
		return err
	}
	if err := r.enqueue(buf); err != nil {
		return err
	}
	return nil
}

func (r *Route) sendFrame(t FrameType, v any) error {
	buf, err := EncodeFrame(t, v)
	if err != nil {
		return err
	}
	return r.enqueue(buf)
}

func (r *Route) enqueue(buf []byte) error {
	if r.State() != domain.StateEstablished {
		return domain.ErrRouteClosed.WithDetails(r.Address())
	}
	select {
	case r.out <- buf:
		return nil
	case <-r.drainReq:
		return domain.ErrRouteClosed.WithDetails(r.Address())
	case <-r.closed:
		return domain.ErrRouteClosed.WithDetails(r.Address())
	}
}

func (r *Route) readLoop(conn net.Conn) {
	defer r.loops.Done()

	_ = conn.SetReadDeadline(time.Time{})
	br := bufio.NewReader(conn)
	for {
		f, err := ReadFrame(br)
		if err != nil {
			r.Close(readError(err))
			return
		}
		r.lastSeen.Store(time.Now().UnixNano())

		if err := r.handleFrame(f); err != nil {
			r.Close(err)
			return
		}
		if r.State() == domain.StateClosed {
			return
		}
	}
}

// readError classifies an error from ReadFrame.
func readError(err error) error {
	switch {
	case domain.IsDomainError(err, ""):
		return err
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return domain.ErrRouteClosed.WithDetails("connection closed by peer")
	default:
		return domain.ErrRouteClosed.WithDetails("read failed").WithCause(err)
	}
}

func (r *Route) handleFrame(f Frame) error {
	switch f.Type {
	case FramePing:
		if err := r.sendFrame(FramePong, nil); err != nil && r.State() == domain.StateEstablished {
			return err
		}
	case FramePong:
		r.pingsOut.Store(0)
	case FrameInfo:
		var msg InfoMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		if r.hooks != nil {
			return r.hooks.routeInfo(r, msg)
		}
	case FrameMsg:
		var msg Message
		if err := f.Decode(&msg); err != nil {
			return err
		}
		if r.hooks != nil {
			r.hooks.routeMessage(r, msg)
		}
	case FrameReconnect:
		r.log().Info("peer requested reconnect")
		go func() { _ = r.Drain(r.drainTimeout()) }()
	case FrameClose:
		return domain.ErrRouteClosed.WithDetails("closed by peer")
	case FrameErr:
		var msg ErrMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		return domain.ErrorFromCode(msg.Code, msg.Message)
	default:
		return domain.ErrProtocol.WithDetails(fmt.Sprintf("unexpected %s frame on established route", f.Type))
	}
	return nil
}

func (r *Route) drainTimeout() time.Duration {
	if r.opts.DrainTimeout > 0 {
		return r.opts.DrainTimeout
	}
	return DefaultDrainTimeout
}

func (r *Route) writeLoop(conn net.Conn) {
	defer r.loops.Done()

	bw := bufio.NewWriter(conn)
	write := func(buf []byte) error {
		if r.opts.WriteDeadline > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(r.opts.WriteDeadline))
		}
		_, err := bw.Write(buf)
		return err
	}
	flush := func() error {
		if r.opts.WriteDeadline > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(r.opts.WriteDeadline))
		}
		return bw.Flush()
	}

	for {
		select {
		case buf := <-r.out:
			if err := write(buf); err != nil {
				r.Close(domain.ErrRouteClosed.WithDetails("write failed").WithCause(err))
				return
			}
			// Batch whatever else is already queued into one flush.
			for more := true; more; {
				select {
				case buf := <-r.out:
					if err := write(buf); err != nil {
						r.Close(domain.ErrRouteClosed.WithDetails("write failed").WithCause(err))
						return
					}
				default:
					more = false
				}
			}
			if err := flush(); err != nil {
				r.Close(domain.ErrRouteClosed.WithDetails("write failed").WithCause(err))
				return
			}

		case <-r.drainReq:
			for more := true; more; {
				select {
				case buf := <-r.out:
					if err := write(buf); err != nil {
						r.Close(domain.ErrRouteClosed.WithDetails("drain write failed").WithCause(err))
						return
					}
				default:
					more = false
				}
			}
			closeFrame, _ := EncodeFrame(FrameClose, nil)
			_ = write(closeFrame)
			_ = flush()
			r.Close(domain.ErrRouteClosed.WithDetails("drained"))
			return

		case <-r.closed:
			return
		}
	}
}

func (r *Route) pingLoop() {
	defer r.loops.Done()

	interval := r.opts.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	maxOut := r.opts.MaxPingsOut
	if maxOut <= 0 {
		maxOut = DefaultMaxPingsOut
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if int(r.pingsOut.Add(1)) > maxOut {
				r.Close(domain.ErrStaleConnection.WithDetails(r.Address()))
				return
			}
			if err := r.sendFrame(FramePing, nil); err != nil {
				return
			}
		case <-r.drainReq:
			return
		case <-r.closed:
			return
		}
	}
}

// closeReason maps a close error to a metric label.
func closeReason(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, domain.ErrDuplicateRoute):
		return "duplicate"
	case errors.Is(err, domain.ErrSelfRoute):
		return "self"
	case errors.Is(err, domain.ErrClusterMismatch):
		return "cluster_mismatch"
	case errors.Is(err, domain.ErrStaleConnection):
		return "stale"
	case errors.Is(err, domain.ErrProtocol):
		return "protocol"
	case errors.Is(err, domain.ErrDrainTimeout):
		return "drain_timeout"
	case domain.IsAuthError(err):
		return "auth"
	case errors.Is(err, domain.ErrDialFailed):
		return "dial"
	default:
		return "closed"
	}
}
