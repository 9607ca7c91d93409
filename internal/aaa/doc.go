// Package aaa correlates asynchronous AAA exchanges with local sessions.
//
// Ownership boundary:
// - bounded correlation store (allocate/store/retrieve/release)
// - request sender for tracked Auth and fire-and-forget Term requests
// - answer/error/cleanup completion processing on keyed workers
// - the single outcome event handed to the session manager
package aaa
