// Package message defines the typed request/response envelope exchanged
// between UI contexts and the background coordinator.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Target names an execution context that may act on a message.
type Target string

const (
	Background Target = "background"
	Content    Target = "content"
	Options    Target = "options"
)

// Type is the message kind; it selects the handler.
type Type string

// Requests handled by the background coordinator.
const (
	OpenOptionsPage     Type = "openOptionsPage"
	RequestTimestamp    Type = "requestTimestamp"
	SaveTimestamp       Type = "saveTimestamp"
	RequestContentData  Type = "requestContentData"
	RequestPlaybackRate Type = "requestPlaybackRate"
	SavePlaybackRate    Type = "savePlaybackRate"
	RequestOptions      Type = "requestOptions"
	SaveOptions         Type = "saveOptions"
	SaveSyncOption      Type = "saveSyncOption"
	RequestTheme        Type = "requestTheme"
	ToggleTheme         Type = "toggleTheme"
	SyncOptions         Type = "syncOptions"
)

// Replies sent back to UI contexts.
const (
	TimestampInfo    Type = "timestampInfo"
	ContentDataInfo  Type = "contentDataInfo"
	PlaybackRateInfo Type = "playbackRateInfo"
	ThemeInfo        Type = "themeInfo"
	OptionsInfo      Type = "optionsInfo"
)

// Requests lists every request type.
var Requests = []Type{
	OpenOptionsPage, RequestTimestamp, SaveTimestamp, RequestContentData,
	RequestPlaybackRate, SavePlaybackRate, RequestOptions, SaveOptions,
	SaveSyncOption, RequestTheme, ToggleTheme, SyncOptions,
}

// ErrMalformed is returned when a message or its payload cannot be decoded.
var ErrMalformed = errors.New("message: malformed")

// Message is the envelope. ID is optional and echoed on replies so callers
// can correlate them; Data is absent for requests without a payload.
type Message struct {
	ID     string          `json:"id,omitempty"`
	Target []Target        `json:"target"`
	Type   Type            `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// New builds a message with data encoded as JSON. A nil data yields no payload.
func New(t Type, data any, targets ...Target) (*Message, error) {
	m := &Message{Type: t, Target: targets}
	if data == nil {
		return m, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	m.Data = raw
	return m, nil
}

// Reply builds a response to req with the request's ID.
func Reply(req *Message, t Type, data any, targets ...Target) (*Message, error) {
	m, err := New(t, data, targets...)
	if err != nil {
		return nil, err
	}
	m.ID = req.ID
	return m, nil
}

// Parse decodes a wire message and checks the envelope.
func Parse(raw []byte) (*Message, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if len(m.Target) == 0 {
		return nil, fmt.Errorf("%w: missing target", ErrMalformed)
	}
	return &m, nil
}

// Addressed reports whether t is among the message's targets.
func (m *Message) Addressed(t Target) bool {
	return slices.Contains(m.Target, t)
}

// Decode unmarshals the message payload into T.
func Decode[T any](m *Message) (T, error) {
	var v T
	if len(m.Data) == 0 || bytes.Equal(m.Data, []byte("null")) {
		return v, fmt.Errorf("%w: %s has no data", ErrMalformed, m.Type)
	}
	if err := json.Unmarshal(m.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s data: %v", ErrMalformed, m.Type, err)
	}
	return v, nil
}

// Targets returns the contexts a reply of type t is addressed to.
func Targets(t Type) []Target {
	switch t {
	case OptionsInfo:
		return []Target{Content, Options}
	case TimestampInfo, ContentDataInfo, PlaybackRateInfo, ThemeInfo:
		return []Target{Content}
	default:
		return []Target{Background}
	}
}
