package maildrop

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDropAndGet(t *testing.T) {
	mb := New(0)

	id := mb.Drop("from@example.com", []string{"to@example.com"}, []byte("hello"))
	if id == "" {
		t.Fatal("Drop returned an empty id")
	}

	msg, ok := mb.Get(id)
	if !ok {
		t.Fatalf("Get(%q) not found", id)
	}
	if msg.ReversePath != "from@example.com" {
		t.Errorf("ReversePath = %q, want from@example.com", msg.ReversePath)
	}
	if string(msg.Data) != "hello" {
		t.Errorf("Data = %q, want hello", msg.Data)
	}
	if mb.Len() != 1 {
		t.Errorf("Len() = %d, want 1", mb.Len())
	}
}

func TestDropEvictsOldest(t *testing.T) {
	mb := New(2)

	first := mb.Drop("a@x", nil, []byte("1"))
	mb.Drop("b@x", nil, []byte("2"))
	mb.Drop("c@x", nil, []byte("3"))

	if mb.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", mb.Len())
	}
	if _, ok := mb.Get(first); ok {
		t.Errorf("oldest message %q should have been evicted", first)
	}
}

func TestAllReturnsSnapshot(t *testing.T) {
	mb := New(0)
	mb.Drop("a@x", nil, []byte("1"))
	mb.Drop("b@x", nil, []byte("2"))

	all := mb.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d messages, want 2", len(all))
	}
	if all[0].ReversePath != "a@x" || all[1].ReversePath != "b@x" {
		t.Errorf("unexpected order: %+v", all)
	}
}

func TestGetReturnsStoredMessage(t *testing.T) {
	mb := New(0)
	id := mb.Drop("from@example.com", []string{"a@x", "b@x"}, []byte("body"))

	got, ok := mb.Get(id)
	if !ok {
		t.Fatalf("Get(%q) not found", id)
	}

	want := &Message{
		ID:           id,
		ReversePath:  "from@example.com",
		ForwardPaths: []string{"a@x", "b@x"},
		Data:         []byte("body"),
	}

	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Message{}, "ReceivedAt")); diff != "" {
		t.Errorf("Get(%q) mismatch (-want +got):\n%s", id, diff)
	}
}

func TestIDsAreUnique(t *testing.T) {
	mb := New(0)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := mb.Drop("a@x", nil, []byte("x"))
		if seen[id] {
			t.Fatalf("duplicate id generated: %q", id)
		}
		seen[id] = true
	}
}
