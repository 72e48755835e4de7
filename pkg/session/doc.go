// Package session maintains the authenticated, auto-reconnecting duplex
// connection to the chat server.
//
// A Session owns one transport connection and a single receive loop. It
// sequences Connect → Authenticate → Ready, drives the heartbeat, reconnects
// with linear backoff after unexpected closure, correlates the echoes of the
// session's own sends back to their awaiting callers, and routes every other
// inbound envelope to per-scope handlers registered with the Router.
//
// All handler callbacks are marshaled onto the Dispatcher supplied in the
// Config, never invoked from the receive loop directly. The receive loop is
// the only reader of the transport; sends may happen from any goroutine.
//
// The correlation of message-create echoes uses a heuristic: the protocol
// carries no request id on the echo, so the first inbound message authored by
// the local user resolves the oldest pending send. Two concurrent sends from
// the same session can therefore have their correlations swapped; callers
// that need strict pairing must serialize their sends.
package session
