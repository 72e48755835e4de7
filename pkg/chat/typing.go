package chat

import (
	"sync"
	"time"

	"github.com/tether-chat/tether/pkg/protocol"
)

// typingState tracks the local user's outgoing typing signal for one
// conversation. It owns the idle timer that auto-stops a forgotten signal.
type typingState struct {
	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

// StartTyping signals that the local user is typing. Idempotent: while the
// signal is active, further calls only reset the idle timer, no frame goes
// out. The signal auto-stops after TypingIdle without another StartTyping.
func (c *Conversation) StartTyping() error {
	c.typing.mu.Lock()
	wasActive := c.typing.active
	c.typing.active = true
	if c.typing.timer != nil {
		c.typing.timer.Stop()
	}
	c.typing.timer = time.AfterFunc(c.engine.config.TypingIdle, func() {
		c.typing.stop(c)
	})
	c.typing.mu.Unlock()

	if wasActive {
		return nil
	}
	return c.engine.session.Send(protocol.NewTypingStart(c.id))
}

// StopTyping clears the typing signal. Idempotent: without an active signal
// nothing goes out.
func (c *Conversation) StopTyping() error {
	return c.typing.stop(c)
}

func (t *typingState) stop(c *Conversation) error {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if !wasActive {
		return nil
	}
	return c.engine.session.Send(protocol.NewTypingStop(c.id))
}
