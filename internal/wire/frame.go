// Package wire defines the JSON frame types exchanged over the realtime
// connection. Both the transport session and its tests import these.
package wire

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Frame kinds carried in the "msg" discriminator.
const (
	MsgConnect   = "connect"
	MsgConnected = "connected"
	MsgFailed    = "failed"
	MsgPing      = "ping"
	MsgPong      = "pong"
	MsgMethod    = "method"
	MsgResult    = "result"
	MsgSub       = "sub"
	MsgUnsub     = "unsub"
	MsgAdded     = "added"
	MsgChanged   = "changed"
	MsgRemoved   = "removed"
)

// Frame is a single protocol frame. Fields are populated depending on
// the frame kind; unused fields stay empty and are omitted on the wire.
type Frame struct {
	Msg        string            `json:"msg"`
	ID         string            `json:"id,omitempty"`
	Session    string            `json:"session,omitempty"`
	Version    string            `json:"version,omitempty"`
	Support    []string          `json:"support,omitempty"`
	Method     string            `json:"method,omitempty"`
	Name       string            `json:"name,omitempty"`
	Params     []json.RawMessage `json:"params,omitempty"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Error      *MethodError      `json:"error,omitempty"`
	Collection string            `json:"collection,omitempty"`
	Fields     json.RawMessage   `json:"fields,omitempty"`
}

// MethodError is the structured error payload of a failed method call.
type MethodError struct {
	Code    int    `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *MethodError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Reason
}

// Encode marshals the frame for the wire.
func (f *Frame) Encode() ([]byte, error) {
	payload, err := sonic.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "marshal frame")
	}
	return payload, nil
}

// DecodeFrame parses a raw inbound payload into a frame. Payloads
// without a "msg" discriminator are rejected.
func DecodeFrame(payload []byte) (*Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(payload, &f); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame")
	}
	if f.Msg == "" {
		return nil, errors.New("frame missing msg discriminator")
	}
	return &f, nil
}

// EncodeParams marshals method/sub params into raw JSON values.
func EncodeParams(params ...any) ([]json.RawMessage, error) {
	if len(params) == 0 {
		return nil, nil
	}
	encoded := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		raw, err := sonic.Marshal(p)
		if err != nil {
			return nil, errors.Wrap(err, "marshal param")
		}
		encoded = append(encoded, raw)
	}
	return encoded, nil
}
