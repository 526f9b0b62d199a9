// Package session owns one framed, reliable protocol connection.
//
// Ownership boundary:
// - frame read loop and inbound classification
// - ack-before-dispatch and duplicate suppression
// - serialized frame writes with deadlines
// - liveness bookkeeping (last heartbeat)
//
// Application routing (registration, fan-out) lives above this package in
// internal/server and internal/client.
package session
