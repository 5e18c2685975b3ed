// Package protocol defines the JSON frames exchanged between walkie clients
// and the hub over a WebSocket connection.
//
// Every frame is a JSON object with a "type" discriminator. Audio payloads are
// opaque to the hub and are relayed byte-for-byte.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the default upper bound for a single inbound frame (1 MiB).
const MaxFrameSize = 1 << 20

// Frame types.
const (
	TypeJoin       = "join"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
	TypeUserList   = "user_list"
	TypeAudio      = "audio"
	TypeRing       = "ring"
	TypeRecording  = "recording"
	TypeError      = "error"
)

var (
	// ErrMalformed is returned for frames that are not valid JSON objects or
	// that miss a field required by their type.
	ErrMalformed = errors.New("protocol: malformed frame")
	// ErrUnknownType is returned for well-formed frames with an unrecognized type.
	ErrUnknownType = errors.New("protocol: unknown frame type")
)

// Frame is a decoded client-to-hub frame. Only the fields relevant to Type
// are populated.
type Frame struct {
	Type     string          `json:"type"`
	Username string          `json:"username,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Audio    json.RawMessage `json:"audio,omitempty"`
}

// Decode parses and validates one inbound frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch f.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	case TypeJoin:
		// Empty usernames are rejected by the session with an error notice,
		// not treated as malformed.
	case TypeAudio:
		if len(f.Audio) == 0 || bytes.Equal(f.Audio, []byte("null")) {
			return nil, fmt.Errorf("%w: audio frame without payload", ErrMalformed)
		}
	case TypeRing:
		if f.To == "" {
			return nil, fmt.Errorf("%w: ring frame without target", ErrMalformed)
		}
	default:
		return &f, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return &f, nil
}

// UserEvent announces a single user joining or leaving.
type UserEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// UserListEvent carries the full presence set in join order.
type UserListEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// AudioEvent relays an audio clip. Username and From both name the sender.
type AudioEvent struct {
	Type     string          `json:"type"`
	Audio    json.RawMessage `json:"audio"`
	Username string          `json:"username"`
	From     string          `json:"from"`
	To       string          `json:"to,omitempty"`
}

// RingEvent is a call-signaling notification.
type RingEvent struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
}

// RecordingEvent reports a change of a user's transmitting state.
type RecordingEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Status   bool   `json:"status"`
}

// ErrorEvent is sent before the hub closes a connection it refuses.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UserJoined builds a user_joined event.
func UserJoined(username string) UserEvent {
	return UserEvent{Type: TypeUserJoined, Username: username}
}

// UserLeft builds a user_left event.
func UserLeft(username string) UserEvent {
	return UserEvent{Type: TypeUserLeft, Username: username}
}

// UserList builds a user_list event. A nil slice is encoded as [].
func UserList(users []string) UserListEvent {
	if users == nil {
		users = []string{}
	}
	return UserListEvent{Type: TypeUserList, Users: users}
}

// AudioRelay builds the outbound form of an audio frame sent by from.
func AudioRelay(audio json.RawMessage, from, to string) AudioEvent {
	return AudioEvent{Type: TypeAudio, Audio: audio, Username: from, From: from, To: to}
}

// Ring builds a ring event.
func Ring(from, to string) RingEvent {
	return RingEvent{Type: TypeRing, From: from, To: to}
}

// Recording builds a recording event.
func Recording(username string, status bool) RecordingEvent {
	return RecordingEvent{Type: TypeRecording, Username: username, Status: status}
}

// Error builds an error event.
func Error(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

// Encode serializes an outbound event.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}

// MustEncode is Encode for event values built by this package, which always
// marshal.
func MustEncode(v any) []byte {
	data, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return data
}
