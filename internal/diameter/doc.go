// Package diameter owns the connection toward the AAA server.
//
// Ownership boundary:
// - peer dial/redial with backoff and transport security
// - hop-by-hop matching of answers to outstanding requests
// - per-exchange answer timeouts and disconnect failure fan-out
// - a minimal responder used by the simulator and tests
package diameter
