// Package protocol owns the chat wire contract and parsing primitives.
//
// Ownership boundary:
// - fixed 24-byte message header
// - payload checksum (integrity only, not authenticity)
// - JSON payload shapes per message type
//
// Framing lives in protocol/frame, reliability in protocol/arq.
package protocol
