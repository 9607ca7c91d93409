// Package protocol owns the wire contract toward the AAA server.
//
// Ownership boundary:
// - frame/header primitives (frame)
// - AVP payload primitives (avp)
// - dictionary and required-AVP validation (schema)
// - Message encode/decode entry points
package protocol
