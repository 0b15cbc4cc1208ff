package room

import (
	"encoding/json"
	"sync"
)

// A collaborative editing session: latest code buffer, latest selected
// language, and the ordered chat transcript.
type Room struct {
	ID string

	mu         sync.RWMutex
	code       string
	codeSet    bool
	language   string
	langSet    bool
	transcript []json.RawMessage
}

// Creates a new room with the given ID
func NewRoom(id string) *Room {
	return &Room{ID: id}
}

// Stores the latest full editor contents, last write wins
func (r *Room) SetCode(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = value
	r.codeSet = true
}

// Code reports the current buffer and whether it was ever set.
// An unset buffer means no snapshot is sent for this axis.
func (r *Room) Code() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.code, r.codeSet
}

func (r *Room) SetLanguage(language string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.language = language
	r.langSet = true
}

func (r *Room) Language() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.language, r.langSet
}

// Appends a chat message to the transcript. Messages are opaque payloads;
// the room only guarantees arrival order.
func (r *Room) AppendMessage(msg json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcript = append(r.transcript, msg)
}

// Returns a copy of the transcript in arrival order
func (r *Room) Transcript() []json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]json.RawMessage, len(r.transcript))
	copy(out, r.transcript)
	return out
}
