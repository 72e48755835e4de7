package chat

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tether-chat/tether/pkg/protocol"
)

// AttachmentState tracks one attachment through the two-phase send.
type AttachmentState int

const (
	AttachmentPending AttachmentState = iota
	AttachmentUploading
	AttachmentUploaded
	AttachmentFailed
)

func (s AttachmentState) String() string {
	switch s {
	case AttachmentPending:
		return "pending"
	case AttachmentUploading:
		return "uploading"
	case AttachmentUploaded:
		return "uploaded"
	case AttachmentFailed:
		return "failed"
	default:
		return fmt.Sprintf("AttachmentState(%d)", int(s))
	}
}

// Attachment is one file queued on an outgoing message. State, MediaID and
// Err are written by the send; read them after SendWithAttachments returns.
type Attachment struct {
	Filename string
	Content  io.Reader

	State   AttachmentState
	MediaID string
	Err     error
}

// Send sends a plain text message. Fire-and-forget: the message enters the
// view when its event comes back, like any other message.
func (c *Conversation) Send(content string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.typing.stop(c)
	return c.engine.session.Send(protocol.NewMessageSend(c.id, content))
}

// SendWithAttachments runs the two-phase send: a correlated text send first,
// to obtain the server-assigned message id, then each attachment uploaded in
// order against that id, then one fetch of the message to reconcile the
// server's final media state into the view.
//
// An unconfirmed text send aborts before any upload and is returned to the
// caller. Upload failures do not abort: each attachment carries its own
// terminal state, and the reconciling fetch still runs so the view shows
// whatever the server accepted. The attachment list is finished either way.
func (c *Conversation) SendWithAttachments(ctx context.Context, content string, attachments []*Attachment) (*Message, error) {
	ctx, span := c.engine.tracer.Start(ctx, "chat.send_with_attachments",
		trace.WithAttributes(
			attribute.String("conversation_id", c.id),
			attribute.Int("attachments", len(attachments)),
		))
	defer span.End()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	c.typing.stop(c)

	for _, att := range attachments {
		att.State = AttachmentPending
	}

	echo, err := c.engine.session.SendMessageAwait(ctx, protocol.NewMessageSend(c.id, content), c.engine.config.SendTimeout)
	if err != nil {
		for _, att := range attachments {
			att.State = AttachmentFailed
			att.Err = err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "text send unconfirmed")
		return nil, fmt.Errorf("chat: send to %s: %w", c.id, err)
	}
	span.SetAttributes(attribute.String("message_id", echo.ID))

	c.mu.Lock()
	c.upsertLocked(fromEvent(echo))
	c.mu.Unlock()
	c.engine.notifyChange(c.id)

	for _, att := range attachments {
		att.State = AttachmentUploading
		media, err := c.engine.api.UploadMedia(ctx, echo.ID, att.Filename, att.Content)
		if err != nil {
			att.State = AttachmentFailed
			att.Err = err
			c.engine.logger.Warn("attachment upload failed",
				"conversation_id", c.id,
				"message_id", echo.ID,
				"filename", att.Filename,
				"error", err)
			continue
		}
		att.State = AttachmentUploaded
		att.MediaID = media.ID
	}

	final, err := c.engine.api.MessageByID(ctx, echo.ID)
	if err != nil {
		span.RecordError(err)
		c.engine.logger.Warn("reconciling fetch failed",
			"conversation_id", c.id, "message_id", echo.ID, "error", err)
		return c.messageByID(echo.ID), nil
	}

	c.mu.Lock()
	c.upsertLocked(fromREST(final))
	result := c.byID[echo.ID].clone()
	c.mu.Unlock()
	c.engine.notifyChange(c.id)
	return result, nil
}

func (c *Conversation) messageByID(id string) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.byID[id]; ok {
		return m.clone()
	}
	return nil
}
