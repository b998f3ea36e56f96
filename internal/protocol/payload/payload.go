// Package payload encodes method arguments and replies as CBOR.
//
// Creation and setter arguments travel as CBOR arrays; masks and pulse data
// are CBOR maps with string keys.
package payload

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var ErrMapInvalid = errors.New("payload: not a well-formed keyed map")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("payload: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("payload: cbor dec mode: %v", err))
	}
}

// Marshal encodes v.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Args encodes values as one CBOR array.
func Args(values ...any) ([]byte, error) {
	if values == nil {
		values = []any{}
	}
	return encMode.Marshal(values)
}

// SplitArgs decodes a CBOR array into its raw elements.
func SplitArgs(data []byte) ([]cbor.RawMessage, error) {
	var out []cbor.RawMessage
	if err := decMode.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Arg decodes the element at index i of raw into v.
func Arg(raw []cbor.RawMessage, i int, v any) error {
	if i >= len(raw) {
		return fmt.Errorf("payload: missing argument %d of %d", i, len(raw))
	}
	if err := decMode.Unmarshal(raw[i], v); err != nil {
		return fmt.Errorf("payload: argument %d: %w", i, err)
	}
	return nil
}

// Map encodes m as a keyed map.
func Map(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return encMode.Marshal(m)
}

// ReadMap returns data as a map, or ErrMapInvalid. No field-level detail is
// reported.
func ReadMap(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := decMode.Unmarshal(data, &m); err != nil || m == nil {
		return nil, ErrMapInvalid
	}
	return m, nil
}

// ValidateMap reports whether data is a well-formed keyed map.
func ValidateMap(data []byte) error {
	_, err := ReadMap(data)
	return err
}
