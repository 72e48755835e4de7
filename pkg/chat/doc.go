// Package chat reconciles the two sources a conversation's messages arrive
// from: paginated REST history and the live event stream. Each open
// conversation maintains one ordered, duplicate-free view (ascending creation
// time, arrival order on ties) that both sources merge into.
//
// The reconciler trusts message ids, not positions. History pages may overlap
// already-loaded ranges and live events may race a concurrent page load; a
// message id appears in the view exactly once, and an existing entry is only
// replaced by a strictly more informative version of itself.
//
// Mutations flow the other way on the same view: plain sends are
// fire-and-forget, attachment sends run the two-phase protocol (correlated
// text send, sequential uploads, one reconciling fetch), and typing
// signals are debounced before they reach the wire.
package chat
