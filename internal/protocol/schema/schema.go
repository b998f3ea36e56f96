package schema

import (
	"fmt"

	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/danmuck/fusion/internal/protocol/tlv"
)

// Message type IDs.
const (
	MsgSignal       uint32 = 1
	MsgMethodCall   uint32 = 2
	MsgMethodReturn uint32 = 3
)

// Field IDs.
const (
	FieldPath   uint16 = 1
	FieldMethod uint16 = 2
	FieldData   uint16 = 3
	FieldError  uint16 = 4
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgSignal: {
		{FieldPath, tlv.TypeString},
		{FieldMethod, tlv.TypeString},
		{FieldData, tlv.TypeBytes},
	},
	MsgMethodCall: {
		{FieldPath, tlv.TypeString},
		{FieldMethod, tlv.TypeString},
		{FieldData, tlv.TypeBytes},
	},
	MsgMethodReturn: {},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		logs.Warnf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logs.Warnf(
				"schema.Validate missing field message_type=%d field_id=%d",
				messageType,
				req.ID,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logs.Warnf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

// ValidateReturn checks a method-return body: an error reply carries FieldError,
// a success reply carries FieldData.
func ValidateReturn(isError bool, fields []tlv.Field) error {
	want := Requirement{FieldData, tlv.TypeBytes}
	if isError {
		want = Requirement{FieldError, tlv.TypeString}
	}
	f, found := tlv.GetField(fields, want.ID)
	if !found {
		return ValidationError{MessageType: MsgMethodReturn, FieldID: want.ID, Reason: "missing required field"}
	}
	if f.Type != want.Type {
		return ValidationError{MessageType: MsgMethodReturn, FieldID: want.ID, Reason: "type mismatch"}
	}
	return nil
}
