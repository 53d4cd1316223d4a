// Package metric provides Prometheus metrics for RouteMesh.
package metric

import "time"

// RouteEstablished records a route reaching the established state.
func (r *Registry) RouteEstablished(direction string) {
	if r == nil {
		return
	}
	r.RouteConnects.WithLabelValues(direction).Inc()
	r.RoutesActive.WithLabelValues(direction).Inc()
}

// RouteClosed records the end of a route. wasEstablished tells whether the
// active gauge was incremented for it.
func (r *Registry) RouteClosed(direction, reason string, wasEstablished bool) {
	if r == nil {
		return
	}
	r.RouteDisconnects.WithLabelValues(reason).Inc()
	if wasEstablished {
		r.RoutesActive.WithLabelValues(direction).Dec()
	}
}

// RecordDuplicate records how a duplicate route was resolved.
func (r *Registry) RecordDuplicate(resolution string) {
	if r == nil {
		return
	}
	r.DuplicateRoutes.WithLabelValues(resolution).Inc()
}

// SetMembershipVersion publishes the registry version.
func (r *Registry) SetMembershipVersion(v uint64) {
	if r == nil {
		return
	}
	r.MembershipVer.Set(float64(v))
}

// RecordDial records an outbound connection attempt.
func (r *Registry) RecordDial(result string) {
	if r == nil {
		return
	}
	r.DialAttempts.WithLabelValues(result).Inc()
}

// ObserveReconnectDelay records a scheduled reconnect delay.
func (r *Registry) ObserveReconnectDelay(d time.Duration) {
	if r == nil {
		return
	}
	r.ReconnectDelay.Observe(d.Seconds())
}

// RecordAuth records an authentication outcome and its duration.
func (r *Registry) RecordAuth(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.AuthResults.WithLabelValues(result).Inc()
	r.AuthDuration.Observe(d.Seconds())
}

// IncGossipSent counts an INFO frame written.
func (r *Registry) IncGossipSent() {
	if r == nil {
		return
	}
	r.GossipSent.Inc()
}

// RecordGossip counts a received INFO frame by merge result.
func (r *Registry) RecordGossip(result string) {
	if r == nil {
		return
	}
	r.GossipReceived.WithLabelValues(result).Inc()
}

// RecordMessage counts a data message and its payload size.
func (r *Registry) RecordMessage(direction string, size int) {
	if r == nil {
		return
	}
	r.Messages.WithLabelValues(direction).Inc()
	r.Bytes.WithLabelValues(direction).Add(float64(size))
}

// RecordReload counts a configuration reload.
func (r *Registry) RecordReload(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.ConfigReloads.WithLabelValues(result).Inc()
}

// RecordRequest records a monitor endpoint request.
func (r *Registry) RecordRequest(method, path, code string, d time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(method, path, code).Inc()
	r.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
