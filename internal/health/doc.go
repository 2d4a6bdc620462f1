// Package health answers the liveness and readiness endpoints of both
// listeners.
//
// Readiness for tradedesk is the drain gate in front of one [Ping] per
// backing dependency (sqlite always, redis when the limiter uses it):
//
//	ready := gate.Guard(health.All(
//		health.Ping("sqlite", 2*time.Second, st.Ping),
//		health.Ping("redis", 2*time.Second, rs.Ping),
//	))
//
// While the gate is set the dependencies are not contacted at all.
package health
