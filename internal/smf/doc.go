// Package smf is the session manager the AAA correlation layer reports into.
//
// Ownership boundary:
// - subscriber session records and their sharded table
// - the event queue and control loop applying AAA outcomes
// - establish/release entry points used by the admin surface
package smf
