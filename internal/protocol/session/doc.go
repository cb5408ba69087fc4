// Package session owns the recorder<->relay connection lifecycle.
//
// Ownership boundary:
// - connection handles and role state
// - init/port-exchange handshake flows
// - bulk data streaming and collection
// - retry/backoff primitives for dialers
package session
