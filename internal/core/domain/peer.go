// Package domain defines the core domain models for RouteMesh.
package domain

import "time"

// RouteState is the lifecycle state of a single route connection.
type RouteState int32

const (
	StateDialing RouteState = iota
	StateAuthenticating
	StateEstablished
	StateDraining
	StateClosed
)

var routeStateNames = [...]string{
	StateDialing:        "dialing",
	StateAuthenticating: "authenticating",
	StateEstablished:    "established",
	StateDraining:       "draining",
	StateClosed:         "closed",
}

// String returns the lowercase state name.
func (s RouteState) String() string {
	if s < 0 || int(s) >= len(routeStateNames) {
		return "unknown"
	}
	return routeStateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s RouteState) Terminal() bool {
	return s == StateClosed
}

// Healthy reports whether a route in this state may block a duplicate.
// Draining routes are on their way out and may be replaced.
func (s RouteState) Healthy() bool {
	return s == StateDialing || s == StateAuthenticating || s == StateEstablished
}

// AllRouteStates lists every state in lifecycle order.
func AllRouteStates() []RouteState {
	return []RouteState{StateDialing, StateAuthenticating, StateEstablished, StateDraining, StateClosed}
}

// Direction tells which side opened the connection.
type Direction uint8

const (
	// Outbound routes were solicited (dialed) by this node.
	Outbound Direction = iota + 1
	// Inbound routes were accepted on the cluster listener.
	Inbound
)

// String returns "outbound" or "inbound".
func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// PeerInfo is what a remote node tells us about itself in the handshake.
type PeerInfo struct {
	ServerName  string `json:"server_name"`
	Cluster     string `json:"cluster"`
	Instance    string `json:"instance"`
	Listen      string `json:"listen"`
	NoAdvertise bool   `json:"no_advertise"`
}

// Identity is the authenticated principal of an inbound route.
type Identity struct {
	// Name is the user, token subject or certificate CN.
	Name string `json:"name"`
	// Method is the authenticator that accepted the credentials.
	Method string `json:"method"`
}

// RouteInfo is a point-in-time description of a route for views and
// monitoring.
type RouteInfo struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	ServerName  string    `json:"server_name"`
	Direction   string    `json:"direction"`
	State       string    `json:"state"`
	NoAdvertise bool      `json:"no_advertise"`
	Implicit    bool      `json:"implicit"`
	Identity    string    `json:"identity,omitempty" table:"wide"`
	RemoteAddr  string    `json:"remote_addr,omitempty" table:"wide"`
	Created     time.Time `json:"created" table:"wide"`
	LastSeen    time.Time `json:"last_seen"`
}
