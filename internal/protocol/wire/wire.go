// Package wire encodes the three scene-graph envelopes onto frames.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/fusion/internal/protocol/frame"
	"github.com/danmuck/fusion/internal/protocol/schema"
	"github.com/danmuck/fusion/internal/protocol/tlv"
)

var ErrUnexpectedMessageType = errors.New("wire: unexpected message type")

// Signal is a fire-and-forget message addressed at a path.
type Signal struct {
	Path   string
	Method string
	Data   []byte
}

func (s Signal) Validate() error {
	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("signal path %q is not absolute", s.Path)
	}
	if strings.TrimSpace(s.Method) == "" {
		return fmt.Errorf("signal missing method")
	}
	return nil
}

// MethodCall expects exactly one MethodReturn with the same ID.
type MethodCall struct {
	ID     uint64
	Path   string
	Method string
	Data   []byte
}

func (c MethodCall) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("method call path %q is not absolute", c.Path)
	}
	if strings.TrimSpace(c.Method) == "" {
		return fmt.Errorf("method call missing method")
	}
	return nil
}

// MethodReturn answers a MethodCall. Err non-empty marks a failed call.
type MethodReturn struct {
	ID   uint64
	Data []byte
	Err  string
}

func (r MethodReturn) Failed() bool {
	return r.Err != ""
}

func EncodeSignal(s Signal) (frame.Frame, error) {
	if err := s.Validate(); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{
		Header:  frame.Header{MessageType: schema.MsgSignal},
		Payload: envelopeFields(s.Path, s.Method, s.Data),
	}, nil
}

func EncodeMethodCall(c MethodCall) (frame.Frame, error) {
	if err := c.Validate(); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{
		Header:  frame.Header{MessageID: c.ID, MessageType: schema.MsgMethodCall},
		Payload: envelopeFields(c.Path, c.Method, c.Data),
	}, nil
}

func EncodeMethodReturn(r MethodReturn) frame.Frame {
	h := frame.Header{
		MessageID:   r.ID,
		MessageType: schema.MsgMethodReturn,
		Flags:       frame.FlagIsResponse,
	}
	var fields []tlv.Field
	if r.Failed() {
		h.Flags |= frame.FlagIsError
		fields = []tlv.Field{tlv.String(schema.FieldError, r.Err)}
	} else {
		fields = []tlv.Field{tlv.Bytes(schema.FieldData, r.Data)}
	}
	return frame.Frame{Header: h, Payload: tlv.EncodeFields(fields)}
}

func DecodeSignal(f frame.Frame) (Signal, error) {
	if f.Header.MessageType != schema.MsgSignal {
		return Signal{}, fmt.Errorf("%w: %d", ErrUnexpectedMessageType, f.Header.MessageType)
	}
	fields, err := decodeValidated(f)
	if err != nil {
		return Signal{}, err
	}
	return Signal{
		Path:   tlv.GetString(fields, schema.FieldPath),
		Method: tlv.GetString(fields, schema.FieldMethod),
		Data:   tlv.GetBytes(fields, schema.FieldData),
	}, nil
}

func DecodeMethodCall(f frame.Frame) (MethodCall, error) {
	if f.Header.MessageType != schema.MsgMethodCall {
		return MethodCall{}, fmt.Errorf("%w: %d", ErrUnexpectedMessageType, f.Header.MessageType)
	}
	fields, err := decodeValidated(f)
	if err != nil {
		return MethodCall{}, err
	}
	return MethodCall{
		ID:     f.Header.MessageID,
		Path:   tlv.GetString(fields, schema.FieldPath),
		Method: tlv.GetString(fields, schema.FieldMethod),
		Data:   tlv.GetBytes(fields, schema.FieldData),
	}, nil
}

func DecodeMethodReturn(f frame.Frame) (MethodReturn, error) {
	if f.Header.MessageType != schema.MsgMethodReturn {
		return MethodReturn{}, fmt.Errorf("%w: %d", ErrUnexpectedMessageType, f.Header.MessageType)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return MethodReturn{}, err
	}
	isError := f.Header.IsError()
	if err := schema.ValidateReturn(isError, fields); err != nil {
		return MethodReturn{}, err
	}
	ret := MethodReturn{ID: f.Header.MessageID}
	if isError {
		ret.Err = tlv.GetString(fields, schema.FieldError)
		if ret.Err == "" {
			ret.Err = "unspecified remote error"
		}
		return ret, nil
	}
	ret.Data = tlv.GetBytes(fields, schema.FieldData)
	return ret, nil
}

// Marshal renders f as it appears on a stream.
func Marshal(f frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, frame.DefaultLimits()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses exactly one frame from b.
func Unmarshal(b []byte) (frame.Frame, error) {
	r := bytes.NewReader(b)
	f, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		return frame.Frame{}, err
	}
	if r.Len() != 0 {
		return frame.Frame{}, fmt.Errorf("wire: %d trailing bytes after frame", r.Len())
	}
	return f, nil
}

func envelopeFields(path, method string, data []byte) []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.String(schema.FieldPath, path),
		tlv.String(schema.FieldMethod, method),
		tlv.Bytes(schema.FieldData, data),
	})
}

func decodeValidated(f frame.Frame) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}
