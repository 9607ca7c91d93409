// Package service assembles a node from its configuration: the session
// manager, the correlation layer, the Diameter peer and the admin API. It
// also hosts the bundled AAA simulator.
package service
