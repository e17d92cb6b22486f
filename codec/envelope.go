// Package codec converts commands, references and values to and from the wire.
//
// Commands travel as JSON envelopes with one discriminator key ("create",
// "call" or "get"). Inside an envelope, two typed markers separate a pointer
// to remote state from a value sent by copy:
//
//	{"__jsonclass__": ["Promise", "<id>"]}      reference to a registry entry
//	{"__jsonclass__": ["PyObject", "<base64>"]} CBOR-encoded value
//
// Blob markers are decoded as soon as the envelope is parsed. Reference
// markers are kept as command.Reference placeholders until Resolve substitutes
// the live objects right before execution.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"reflect"

	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/errors"
)

const (
	markerKey    = "__jsonclass__"
	TagReference = "Promise"
	TagBlob      = "PyObject"
)

// Referrer is implemented by client-side stand-ins for remote objects.
type Referrer interface {
	Reference() command.Reference
}

type createBody struct {
	Module       string         `json:"module"`
	Class        string         `json:"class"`
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	Result       string         `json:"result,omitempty"`
	ReturnResult bool           `json:"return_result,omitempty"`
}

type callBody struct {
	Object       any            `json:"object"`
	Method       string         `json:"method"`
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	Result       string         `json:"result,omitempty"`
	ReturnResult bool           `json:"return_result,omitempty"`
}

type getBody struct {
	Object       any    `json:"object"`
	Member       string `json:"member,omitempty"`
	Result       string `json:"result,omitempty"`
	ReturnResult bool   `json:"return_result,omitempty"`
}

// Encode renders a command as a JSON envelope.
func Encode(cmd command.Command) ([]byte, error) {
	var body any
	switch c := cmd.(type) {
	case *command.Create:
		args, kwargs, err := encodeArgs(c.Args, c.Kwargs)
		if err != nil {
			return nil, err
		}
		body = createBody{
			Module: c.Module, Class: c.Class, Args: args, Kwargs: kwargs,
			Result: string(c.Result), ReturnResult: c.ReturnResult,
		}
	case *command.Call:
		args, kwargs, err := encodeArgs(c.Args, c.Kwargs)
		if err != nil {
			return nil, err
		}
		body = callBody{
			Object: referenceMarker(c.Object), Method: c.Method, Args: args, Kwargs: kwargs,
			Result: string(c.Result), ReturnResult: c.ReturnResult,
		}
	case *command.Get:
		body = getBody{
			Object: referenceMarker(c.Object), Member: c.Member,
			Result: string(c.Result), ReturnResult: c.ReturnResult,
		}
	default:
		return nil, errors.Newf(errors.ValidationFailed, "codec.encode", "unsupported command %T", cmd)
	}
	data, err := json.Marshal(map[string]any{string(cmd.Kind()): body})
	if err != nil {
		return nil, errors.New(errors.ValidationFailed, "codec.encode", err)
	}
	return data, nil
}

// KindOf returns the discriminator of a JSON envelope without decoding its
// body.
func KindOf(data []byte) (command.Kind, error) {
	key, _, err := envelope(data)
	if err != nil {
		return "", err
	}
	if k := command.Kind(key); k.Valid() {
		return k, nil
	}
	return "", invalid("unknown command %q", key)
}

func envelope(data []byte) (string, json.RawMessage, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return "", nil, invalid("malformed envelope: %v", err)
	}
	if len(outer) != 1 {
		return "", nil, invalid("envelope must have exactly one key, got %d", len(outer))
	}
	key, raw := soleEntry(outer)
	return key, raw, nil
}

// Decode parses a JSON envelope. Every failure is ValidationFailed.
func Decode(data []byte) (command.Command, error) {
	key, raw, err := envelope(data)
	if err != nil {
		return nil, err
	}
	switch command.Kind(key) {
	case command.KindCreate:
		var b createBody
		if err := strictUnmarshal(raw, &b); err != nil {
			return nil, err
		}
		if b.Module == "" || b.Class == "" {
			return nil, invalid("create requires module and class")
		}
		args, kwargs, err := decodeArgs(b.Args, b.Kwargs)
		if err != nil {
			return nil, err
		}
		return &command.Create{
			Header: command.Header{Result: command.Reference(b.Result), ReturnResult: b.ReturnResult},
			Module: b.Module, Class: b.Class, Args: args, Kwargs: kwargs,
		}, nil

	case command.KindCall:
		var b callBody
		if err := strictUnmarshal(raw, &b); err != nil {
			return nil, err
		}
		if b.Method == "" {
			return nil, invalid("call requires method")
		}
		obj, err := decodeObject(b.Object)
		if err != nil {
			return nil, err
		}
		args, kwargs, err := decodeArgs(b.Args, b.Kwargs)
		if err != nil {
			return nil, err
		}
		return &command.Call{
			Header: command.Header{Result: command.Reference(b.Result), ReturnResult: b.ReturnResult},
			Object: obj, Method: b.Method, Args: args, Kwargs: kwargs,
		}, nil

	case command.KindGet:
		var b getBody
		if err := strictUnmarshal(raw, &b); err != nil {
			return nil, err
		}
		obj, err := decodeObject(b.Object)
		if err != nil {
			return nil, err
		}
		return &command.Get{
			Header: command.Header{Result: command.Reference(b.Result), ReturnResult: b.ReturnResult},
			Object: obj, Member: b.Member,
		}, nil

	default:
		return nil, invalid("unknown command %q", key)
	}
}

func soleEntry(m map[string]json.RawMessage) (string, json.RawMessage) {
	for k, v := range m {
		return k, v
	}
	return "", nil
}

// EncodeValue renders one argument value in its wire form.
func EncodeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, json.Number:
		return x, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x, nil
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return blobMarker(x)
		}
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return blobMarker(x)
		}
		return x, nil
	case command.Reference:
		return referenceMarker(x), nil
	case Referrer:
		return referenceMarker(x.Reference()), nil
	case Blob:
		return blobMarker(x.Value)
	case *Blob:
		return blobMarker(x.Value)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ev, err := EncodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			ev, err := EncodeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	default:
		return blobMarker(x)
	}
}

// DecodeValue converts a generically decoded JSON value, replacing markers.
func DecodeValue(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			dv, err := DecodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	case map[string]any:
		if m, ok := x[markerKey]; ok && len(x) == 1 {
			return decodeMarker(m)
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			dv, err := DecodeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	default:
		return x, nil
	}
}

func encodeArgs(args []any, kwargs map[string]any) ([]any, map[string]any, error) {
	var outArgs []any
	if len(args) > 0 {
		v, err := EncodeValue(args)
		if err != nil {
			return nil, nil, err
		}
		outArgs = v.([]any)
	}
	var outKwargs map[string]any
	if len(kwargs) > 0 {
		v, err := EncodeValue(kwargs)
		if err != nil {
			return nil, nil, err
		}
		outKwargs = v.(map[string]any)
	}
	return outArgs, outKwargs, nil
}

func decodeArgs(args []any, kwargs map[string]any) ([]any, map[string]any, error) {
	var outArgs []any
	if args != nil {
		v, err := DecodeValue(args)
		if err != nil {
			return nil, nil, err
		}
		outArgs = v.([]any)
	}
	var outKwargs map[string]any
	if kwargs != nil {
		v, err := DecodeValue(kwargs)
		if err != nil {
			return nil, nil, err
		}
		outKwargs = v.(map[string]any)
	}
	return outArgs, outKwargs, nil
}

// decodeObject accepts a reference marker or a bare identifier string.
func decodeObject(v any) (command.Reference, error) {
	switch x := v.(type) {
	case string:
		if x == "" {
			return "", invalid("empty object reference")
		}
		return command.Reference(x), nil
	case map[string]any:
		dv, err := DecodeValue(x)
		if err != nil {
			return "", err
		}
		if ref, ok := dv.(command.Reference); ok {
			return ref, nil
		}
	}
	return "", invalid("object must be a reference, got %T", v)
}

func decodeMarker(m any) (any, error) {
	pair, ok := m.([]any)
	if !ok || len(pair) != 2 {
		return nil, invalid("marker must be a [tag, payload] pair")
	}
	tag, _ := pair[0].(string)
	payload, ok := pair[1].(string)
	if !ok {
		return nil, invalid("marker payload must be a string")
	}
	switch tag {
	case TagReference:
		if payload == "" {
			return nil, invalid("empty reference marker")
		}
		return command.Reference(payload), nil
	case TagBlob:
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, invalid("blob is not base64: %v", err)
		}
		v, err := UnmarshalValue(data)
		if err != nil {
			return nil, invalid("%v", err)
		}
		return v, nil
	default:
		return nil, invalid("unknown marker tag %q", tag)
	}
}

func referenceMarker(ref command.Reference) map[string]any {
	return map[string]any{markerKey: []any{TagReference, string(ref)}}
}

func blobMarker(v any) (map[string]any, error) {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func || rv.Kind() == reflect.Chan {
		return nil, invalid("%T cannot travel by copy", v)
	}
	data, err := MarshalValue(v)
	if err != nil {
		return nil, errors.New(errors.ValidationFailed, "codec.encode", err)
	}
	return map[string]any{markerKey: []any{TagBlob, base64.StdEncoding.EncodeToString(data)}}, nil
}

func strictUnmarshal(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.Newf(errors.ValidationFailed, "codec.decode", format, args...)
}
