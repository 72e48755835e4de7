package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/rest"
	"github.com/tether-chat/tether/pkg/session"
)

func TestPlainSendIsFireAndForget(t *testing.T) {
	api := &fakeAPI{}
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)
	conv := e.Open("c1")

	if err := conv.Send("hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if rt.countType(protocol.TypeMessage) != 1 {
		t.Errorf("message frames = %d, want 1", rt.countType(protocol.TypeMessage))
	}
	// No optimistic entry; the view fills in when the event comes back.
	if n := len(conv.Messages()); n != 0 {
		t.Errorf("view has %d messages before the event, want 0", n)
	}
}

func TestTwoPhaseSendRoundTrip(t *testing.T) {
	api := &fakeAPI{}
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)
	conv := e.Open("c1")

	// The server will assign m-new and echo it; the fake API learns about the
	// message so uploads can attach to it and the final fetch finds it.
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api.prepend(&rest.Message{
		ID: "m-new", ConversationID: "c1", Content: "with files",
		SenderID: "u1", CreatedAt: created, UpdatedAt: created,
	})
	rt.echoes = append(rt.echoes, &protocol.MessageEvent{
		Meta: protocol.Meta{Type: protocol.TypeMessage, Sequence: 1},
		ID:   "m-new", ConversationID: "c1", Content: "with files",
		SenderID: "u1", CreatedAt: created,
	})

	attachments := []*Attachment{
		{Filename: "a.png", Content: strings.NewReader("aaa")},
		{Filename: "b.pdf", Content: strings.NewReader("bbb")},
	}
	msg, err := conv.SendWithAttachments(context.Background(), "with files", attachments)
	if err != nil {
		t.Fatalf("SendWithAttachments() error = %v", err)
	}

	// Exactly one correlated send, two uploads tagged with the id, one
	// reconciling fetch.
	if n := rt.countType(protocol.TypeMessage); n != 1 {
		t.Errorf("message frames = %d, want 1", n)
	}
	_, byID, uploads := api.calls()
	if uploads != 2 {
		t.Errorf("uploads = %d, want 2", uploads)
	}
	if byID != 1 {
		t.Errorf("fetch-by-id calls = %d, want 1", byID)
	}
	for _, rec := range api.uploads {
		if rec.messageID != "m-new" {
			t.Errorf("upload tagged with %q, want m-new", rec.messageID)
		}
	}

	for i, att := range attachments {
		if att.State != AttachmentUploaded {
			t.Errorf("attachment %d state = %v, want uploaded", i, att.State)
		}
		if att.MediaID == "" {
			t.Errorf("attachment %d has no media id", i)
		}
	}

	// The reconciled message carries the media the server accepted.
	if len(msg.Media) != 2 {
		t.Errorf("reconciled media = %d, want 2", len(msg.Media))
	}
	view := conv.Messages()
	if len(view) != 1 || len(view[0].Media) != 2 {
		t.Errorf("view did not absorb the reconciled message")
	}
}

func TestTwoPhaseSendUnconfirmedAborts(t *testing.T) {
	api := &fakeAPI{}
	rt := newFakeRealtime("u1")
	rt.echoErr = session.ErrSendUnconfirmed
	e := newTestEngine(api, rt)
	conv := e.Open("c1")

	attachments := []*Attachment{
		{Filename: "a.png", Content: strings.NewReader("aaa")},
	}
	_, err := conv.SendWithAttachments(context.Background(), "x", attachments)
	if !errors.Is(err, session.ErrSendUnconfirmed) {
		t.Fatalf("error = %v, want ErrSendUnconfirmed", err)
	}

	// No uploads, no fetch, every attachment finished as failed.
	_, byID, uploads := api.calls()
	if uploads != 0 || byID != 0 {
		t.Errorf("uploads = %d fetches = %d after unconfirmed send, want 0/0", uploads, byID)
	}
	if attachments[0].State != AttachmentFailed {
		t.Errorf("attachment state = %v, want failed", attachments[0].State)
	}
	if attachments[0].Err == nil {
		t.Error("attachment carries no error")
	}
}

func TestTwoPhaseSendUploadFailureStillReconciles(t *testing.T) {
	api := &fakeAPI{}
	api.uploadErr = errors.New("disk full")
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)
	conv := e.Open("c1")

	created := time.Now().UTC()
	api.prepend(&rest.Message{ID: "m-new", ConversationID: "c1", SenderID: "u1", CreatedAt: created})
	rt.echoes = append(rt.echoes, &protocol.MessageEvent{
		Meta: protocol.Meta{Type: protocol.TypeMessage, Sequence: 1},
		ID:   "m-new", ConversationID: "c1", SenderID: "u1", CreatedAt: created,
	})

	attachments := []*Attachment{{Filename: "a.png", Content: strings.NewReader("aaa")}}
	msg, err := conv.SendWithAttachments(context.Background(), "x", attachments)
	if err != nil {
		t.Fatalf("SendWithAttachments() error = %v (upload failures are per-attachment)", err)
	}
	if attachments[0].State != AttachmentFailed {
		t.Errorf("attachment state = %v, want failed", attachments[0].State)
	}
	_, byID, _ := api.calls()
	if byID != 1 {
		t.Errorf("fetch-by-id calls = %d, want 1 even after upload failure", byID)
	}
	if msg == nil || msg.ID != "m-new" {
		t.Errorf("reconciled message = %+v", msg)
	}
}
