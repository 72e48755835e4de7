// Package protocol defines the wire envelopes exchanged over the persistent
// chat connection and the codec that moves them on and off the wire.
//
// Every frame is a single JSON object with a "type" discriminator. Client to
// server envelopes implement Outbound; server to client envelopes implement
// Inbound. Every inbound envelope except pong carries a monotonically
// increasing sequence number assigned by the server.
//
// The codec is strict about shape but forgiving about survival: a frame that
// fails to decode is reported as an error to the caller, which is expected to
// drop it and keep reading. Nothing in this package panics on wire input.
package protocol
