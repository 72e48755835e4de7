package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tether-chat/tether/pkg/protocol"
)

// pendingSend is one outstanding correlated send awaiting its echo. Exactly
// one resolution happens per record: an echo, a nil on registry teardown, or
// removal by the awaiting caller on timeout.
type pendingSend struct {
	key     string
	created time.Time
	ch      chan *protocol.MessageEvent
}

// correlator matches inbound echoes of the session's own sends back to their
// awaiting callers. The protocol has no request id on the message-create
// echo, so matching is FIFO: the oldest pending send wins.
type correlator struct {
	mu    sync.Mutex
	queue []*pendingSend
}

func newCorrelator() *correlator {
	return &correlator{}
}

// add registers a new pending send and returns its record.
func (c *correlator) add() *pendingSend {
	p := &pendingSend{
		key:     uuid.NewString(),
		created: time.Now(),
		ch:      make(chan *protocol.MessageEvent, 1),
	}
	c.mu.Lock()
	c.queue = append(c.queue, p)
	c.mu.Unlock()
	return p
}

// remove discards a pending send that timed out or was abandoned. It is a
// no-op if the record was already resolved.
func (c *correlator) remove(p *pendingSend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.queue {
		if q == p {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// resolve delivers an echo to the oldest pending send. It returns false when
// nothing is pending, in which case the caller routes the echo as a normal
// inbound event.
func (c *correlator) resolve(ev *protocol.MessageEvent) bool {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return false
	}
	p := c.queue[0]
	c.queue = c.queue[1:]
	c.mu.Unlock()

	p.ch <- ev
	return true
}

// clear fails every pending send with a nil result. Called on disconnect so
// awaiting callers return promptly instead of running out their timeouts.
func (c *correlator) clear() {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, p := range queue {
		select {
		case p.ch <- nil:
		default:
		}
	}
}

// size reports the number of outstanding correlations.
func (c *correlator) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
