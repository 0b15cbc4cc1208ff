package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> server events
const (
	EventJoinRoom       = "join-room"
	EventEditorUpdate   = "editor-update"
	EventLanguageUpdate = "language-update"
	EventChatMessage    = "chat-message"
)

// Server -> client events
const (
	EventEditorInitialization = "editor-initialization"
	EventEditorUpdateReturn   = "editor-update-return"
	EventLanguageUpdateReturn = "language-update-return"
	EventChatHistory          = "chat-history"
	EventChatMessageReturn    = "chat-message-return"
)

var ErrMalformed = errors.New("malformed event")

// Envelope is the wire frame for every event in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	Room string `json:"room"`
}

type EditorPayload struct {
	Room string `json:"room"`
	// Pointer so a missing value can be told apart from an empty buffer
	Value *string `json:"value"`
}

type LanguagePayload struct {
	Room     string `json:"room"`
	Language string `json:"language"`
}

type ChatPayload struct {
	Room string `json:"room"`
	// Message content is opaque to the server
	Message json.RawMessage `json:"message"`
}

type ChatHistoryPayload struct {
	Room     string            `json:"room"`
	Messages []json.RawMessage `json:"messages"`
}

// ParseEnvelope decodes an inbound frame. The event name is required.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return env, nil
}

func ParseJoin(data json.RawMessage) (JoinPayload, error) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return JoinPayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Room == "" {
		return JoinPayload{}, fmt.Errorf("%w: missing room", ErrMalformed)
	}
	return p, nil
}

func ParseEditor(data json.RawMessage) (EditorPayload, error) {
	var p EditorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return EditorPayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Room == "" {
		return EditorPayload{}, fmt.Errorf("%w: missing room", ErrMalformed)
	}
	if p.Value == nil {
		return EditorPayload{}, fmt.Errorf("%w: missing value", ErrMalformed)
	}
	return p, nil
}

func ParseLanguage(data json.RawMessage) (LanguagePayload, error) {
	var p LanguagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return LanguagePayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Room == "" {
		return LanguagePayload{}, fmt.Errorf("%w: missing room", ErrMalformed)
	}
	if p.Language == "" {
		return LanguagePayload{}, fmt.Errorf("%w: missing language", ErrMalformed)
	}
	return p, nil
}

func ParseChat(data json.RawMessage) (ChatPayload, error) {
	var p ChatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ChatPayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Room == "" {
		return ChatPayload{}, fmt.Errorf("%w: missing room", ErrMalformed)
	}
	if isEmptyJSON(p.Message) {
		return ChatPayload{}, fmt.Errorf("%w: missing message", ErrMalformed)
	}
	return p, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Marshal frames an outbound event. Payloads are in-process structs, so
// encoding failures are programmer errors and surface as errors here
// rather than panics.
func Marshal(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

func EditorInitialization(roomID string) ([]byte, error) {
	return Marshal(EventEditorInitialization, JoinPayload{Room: roomID})
}

func EditorUpdateReturn(roomID, value string) ([]byte, error) {
	return Marshal(EventEditorUpdateReturn, EditorPayload{Room: roomID, Value: &value})
}

func LanguageUpdateReturn(roomID, language string) ([]byte, error) {
	return Marshal(EventLanguageUpdateReturn, LanguagePayload{Room: roomID, Language: language})
}

func ChatHistory(roomID string, messages []json.RawMessage) ([]byte, error) {
	return Marshal(EventChatHistory, ChatHistoryPayload{Room: roomID, Messages: messages})
}

func ChatMessageReturn(roomID string, message json.RawMessage) ([]byte, error) {
	return Marshal(EventChatMessageReturn, ChatPayload{Room: roomID, Message: message})
}
