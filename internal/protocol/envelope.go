// Package protocol defines the JSON message protocol spoken over both
// transports: the command envelope sent by controllers, the result envelope
// sent back by the device, and the relay control events that are observed
// but never dispatched.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known actions understood by the dispatcher.
const (
	ActionAuth       = "auth"
	ActionTap        = "tap"
	ActionSwipe      = "swipe"
	ActionType       = "type"
	ActionScreenshot = "screenshot"
	ActionBack       = "back"
	ActionHome       = "home"
	ActionRecents    = "recents"
	ActionScroll     = "scroll"
	ActionPing       = "ping"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// CloseUnauthorized is the websocket close code sent after a failed
// authentication attempt. Application close codes start at 4000.
const CloseUnauthorized = 4001

// ErrDecode indicates the inbound frame was not a well-formed JSON object.
// Callers answer it with an "invalid JSON" error envelope rather than
// dropping the frame.
var ErrDecode = errors.New("invalid JSON")

// Command is an inbound command envelope. Action names the operation;
// the remaining parameters stay in Params keyed by field name. ID, when
// present, is echoed verbatim on the matching Result so callers can
// correlate asynchronous responses.
type Command struct {
	Action string
	ID     json.RawMessage
	Params map[string]any
}

// Event is a relay control event, a frame carrying "event" instead of an
// action. Control events are logged, never dispatched.
type Event struct {
	Name string
	Data map[string]any
}

// Result is an outbound result envelope.
type Result struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Image   string          `json:"image,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// OK returns a success result.
func OK() Result {
	return Result{Status: StatusOK}
}

// OKMessage returns a success result with a message.
func OKMessage(msg string) Result {
	return Result{Status: StatusOK, Message: msg}
}

// Error returns an error result.
func Error(msg string) Result {
	return Result{Status: StatusError, Message: msg}
}

// Errorf returns an error result with a formatted message.
func Errorf(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// WithID returns a copy of the result carrying the given correlation id.
func (r Result) WithID(id json.RawMessage) Result {
	r.ID = id
	return r
}

// Decode parses a raw text frame into either a Command or an Event.
// Exactly one of the two returns is non-nil on success. A frame that is
// not a JSON object fails with ErrDecode; a missing action is not a decode
// error (the dispatcher answers it with "unknown action").
func Decode(raw []byte) (*Command, *Event, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if fields == nil {
		return nil, nil, ErrDecode
	}

	if name, ok := fields["event"].(string); ok {
		return nil, &Event{Name: name, Data: fields}, nil
	}

	cmd := &Command{Params: fields}
	if action, ok := fields["action"].(string); ok {
		cmd.Action = action
	} else if action, ok := fields["command"].(string); ok {
		// "command" is an accepted synonym for "action".
		cmd.Action = action
	}
	if id, ok := fields["id"]; ok {
		// Re-marshal so string and numeric ids both echo verbatim.
		if encoded, err := json.Marshal(id); err == nil {
			cmd.ID = encoded
		}
	}
	return cmd, nil, nil
}

// Encode serializes a result envelope. Encoding cannot fail for the
// string/number/bool payloads the protocol carries.
func Encode(r Result) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		// Unreachable for Result's field types; keep the wire alive anyway.
		return []byte(`{"status":"error","message":"encode failure"}`)
	}
	return data
}

// String returns a string parameter by name. The second return reports
// whether the parameter was present with the right type.
func (c *Command) String(name string) (string, bool) {
	v, ok := c.Params[name].(string)
	return v, ok
}

// Float returns a numeric parameter by name. JSON numbers decode as
// float64, so this covers both integral and fractional coordinates.
func (c *Command) Float(name string) (float64, bool) {
	v, ok := c.Params[name].(float64)
	return v, ok
}

// Int returns an integer parameter, truncating a JSON float. Returns the
// fallback when the parameter is absent or non-numeric.
func (c *Command) Int(name string, fallback int) int {
	v, ok := c.Params[name].(float64)
	if !ok {
		return fallback
	}
	return int(v)
}
