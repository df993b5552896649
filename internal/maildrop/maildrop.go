// Package maildrop implements a tiny, in-memory mailbox for accepted
// messages. It replaces chasquid's on-disk queue/courier pipeline (an
// explicit non-goal here: correo accepts submissions, it does not relay
// or deliver them) with the same "store the finished message, key it by
// a generated id" pattern mailhook's store.rs uses for the messages it
// captures off the wire.
package maildrop

import (
	"encoding/base64"
	"math/rand/v2"
	"sync"
	"time"
)

// Message is one accepted, complete message.
type Message struct {
	ID           string
	ReceivedAt   time.Time
	ReversePath  string
	ForwardPaths []string
	Data         []byte
}

// Mailbox holds accepted messages in memory, bounded by MaxMessages.
// Oldest messages are evicted to make room for new ones once full, so a
// long-running demo server does not grow without bound.
type Mailbox struct {
	MaxMessages int

	mu       sync.Mutex
	messages []*Message
	byID     map[string]*Message
}

// New returns an empty Mailbox that holds at most maxMessages messages.
// A maxMessages of 0 or less means unbounded.
func New(maxMessages int) *Mailbox {
	return &Mailbox{
		MaxMessages: maxMessages,
		byID:        map[string]*Message{},
	}
}

// newID generates a random id for a message, in the same shape
// chasquid's queue package uses for its own item ids: base64 of 8
// random bytes, used only for internal bookkeeping.
func newID() string {
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = byte(rand.Uint32())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Drop accepts a finished message into the mailbox and returns the id it
// was stored under.
func (mb *Mailbox) Drop(reversePath string, forwardPaths []string, data []byte) string {
	msg := &Message{
		ID:           newID(),
		ReceivedAt:   time.Now(),
		ReversePath:  reversePath,
		ForwardPaths: append([]string(nil), forwardPaths...),
		Data:         append([]byte(nil), data...),
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.MaxMessages > 0 && len(mb.messages) >= mb.MaxMessages {
		oldest := mb.messages[0]
		mb.messages = mb.messages[1:]
		delete(mb.byID, oldest.ID)
	}

	mb.messages = append(mb.messages, msg)
	mb.byID[msg.ID] = msg

	return msg.ID
}

// Get returns the message stored under id, if any.
func (mb *Mailbox) Get(id string) (*Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	m, ok := mb.byID[id]
	return m, ok
}

// Len returns the number of messages currently held.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.messages)
}

// All returns a snapshot of the currently held messages, oldest first.
func (mb *Mailbox) All() []*Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]*Message, len(mb.messages))
	copy(out, mb.messages)
	return out
}
