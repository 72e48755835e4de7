package chat

import (
	"testing"
	"time"

	"github.com/tether-chat/tether/pkg/protocol"
)

func TestMoreInformative(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		incoming *Message
		existing *Message
		want     bool
	}{
		{
			name:     "identical copy does not replace",
			incoming: &Message{ID: "m1", UpdatedAt: base},
			existing: &Message{ID: "m1", UpdatedAt: base},
			want:     false,
		},
		{
			name:     "edit flag wins",
			incoming: &Message{ID: "m1", IsEdited: true, UpdatedAt: base},
			existing: &Message{ID: "m1", UpdatedAt: base},
			want:     true,
		},
		{
			name:     "delete flag wins",
			incoming: &Message{ID: "m1", IsDeleted: true},
			existing: &Message{ID: "m1"},
			want:     true,
		},
		{
			name:     "resolved media wins",
			incoming: &Message{ID: "m1", Media: []protocol.Media{{ID: "a", URL: "/media/a"}}},
			existing: &Message{ID: "m1"},
			want:     true,
		},
		{
			name:     "fewer media never wins even when edited",
			incoming: &Message{ID: "m1", IsEdited: true},
			existing: &Message{ID: "m1", Media: []protocol.Media{{ID: "a"}}},
			want:     false,
		},
		{
			name:     "later server update wins",
			incoming: &Message{ID: "m1", UpdatedAt: base.Add(time.Second)},
			existing: &Message{ID: "m1", UpdatedAt: base},
			want:     true,
		},
		{
			name:     "earlier server update loses",
			incoming: &Message{ID: "m1", UpdatedAt: base},
			existing: &Message{ID: "m1", UpdatedAt: base.Add(time.Second)},
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := moreInformative(tt.incoming, tt.existing); got != tt.want {
				t.Errorf("moreInformative() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderingTiesByArrival(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Message{ID: "a", CreatedAt: at, arrival: 1}
	b := &Message{ID: "b", CreatedAt: at, arrival: 2}
	c := &Message{ID: "c", CreatedAt: at.Add(-time.Second), arrival: 3}

	msgs := []*Message{b, c, a}
	sortMessages(msgs)

	want := []string{"c", "a", "b"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("order = [%s %s %s], want %v", msgs[0].ID, msgs[1].ID, msgs[2].ID, want)
		}
	}
}
