package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Blob forces a value to travel by copy as an opaque payload, even when it
// could be expressed structurally.
type Blob struct {
	Value any
}

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// MarshalValue serializes a value for transfer by copy.
func MarshalValue(v any) ([]byte, error) {
	data, err := cborEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %T: %w", v, err)
	}
	return data, nil
}

// UnmarshalValue deserializes a value into its generic form: maps become
// map[string]any, arrays []any, integers int64 or uint64.
func UnmarshalValue(data []byte) (any, error) {
	var v any
	if err := cborDecMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("codec: unmarshal value: %w", err)
	}
	return v, nil
}

// UnmarshalInto deserializes a value into out, which must be a pointer.
func UnmarshalInto(data []byte, out any) error {
	if err := cborDecMode.Unmarshal(data, out); err != nil {
		return fmt.Errorf("codec: unmarshal into %T: %w", out, err)
	}
	return nil
}
