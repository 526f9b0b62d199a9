// Package arq owns the stop-and-wait reliability layer.
//
// Ownership boundary:
// - per-session sequence counter
// - one in-flight send per lane, ack/nack matching, timeout and retransmission
// - receiver-side ack/nack emission
// - outbound queue feeding the data lane one delivery at a time
// - dial retry backoff
package arq
