package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/astaric/orangeremote/codec"
)

// As converts a decoded wire value to T. Wire numbers arrive as json.Number
// or CBOR integers, sequences as []any and mappings as map[string]any; As
// bridges those to typed Go values.
func As[T any](v any) (T, error) {
	var zero T
	if t, ok := v.(T); ok {
		return t, nil
	}
	rv, err := convert(v, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	out, _ := rv.Interface().(T)
	return out, nil
}

// Arg returns argument i, or the keyword argument name when fewer positional
// arguments were passed, converted to T.
func Arg[T any](args []any, kwargs map[string]any, i int, name string) (T, error) {
	var zero T
	v, ok := lookupArg(args, kwargs, i, name)
	if !ok {
		return zero, fmt.Errorf("TypeError: missing required argument %q (position %d)", name, i)
	}
	t, err := As[T](v)
	if err != nil {
		return zero, fmt.Errorf("TypeError: argument %q: %w", name, err)
	}
	return t, nil
}

// OptArg is Arg with a default for absent arguments.
func OptArg[T any](args []any, kwargs map[string]any, i int, name string, def T) (T, error) {
	if _, ok := lookupArg(args, kwargs, i, name); !ok {
		return def, nil
	}
	return Arg[T](args, kwargs, i, name)
}

func lookupArg(args []any, kwargs map[string]any, i int, name string) (any, bool) {
	if i >= 0 && i < len(args) {
		return args[i], true
	}
	v, ok := kwargs[name]
	return v, ok
}

func convert(v any, to reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch to.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
			return reflect.Zero(to), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use None as %s", to)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(to) {
		return rv, nil
	}

	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt64(v)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(to).Elem()
		if out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", i, to)
		}
		out.SetInt(i)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := toUint64(v)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(to).Elem()
		if out.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", u, to)
		}
		out.SetUint(u)
		return out, nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(v)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(to).Elem()
		out.SetFloat(f)
		return out, nil
	case reflect.String:
		if b, ok := v.([]byte); ok {
			return reflect.ValueOf(string(b)).Convert(to), nil
		}
		if rv.Kind() == reflect.String {
			return rv.Convert(to), nil
		}
	case reflect.Bool:
		if rv.Kind() == reflect.Bool {
			return rv.Convert(to), nil
		}
	case reflect.Slice:
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			out := reflect.MakeSlice(to, rv.Len(), rv.Len())
			for i := 0; i < rv.Len(); i++ {
				e, err := convert(rv.Index(i).Interface(), to.Elem())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
				}
				out.Index(i).Set(e)
			}
			return out, nil
		}
	case reflect.Map:
		if rv.Kind() == reflect.Map {
			out := reflect.MakeMapWithSize(to, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				k, err := convert(iter.Key().Interface(), to.Key())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
				}
				e, err := convert(iter.Value().Interface(), to.Elem())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("value for %v: %w", iter.Key(), err)
				}
				out.SetMapIndex(k, e)
			}
			return out, nil
		}
	case reflect.Pointer:
		e, err := convert(v, to.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(to.Elem())
		p.Elem().Set(e)
		return p, nil
	case reflect.Struct:
		if m, ok := v.(map[string]any); ok {
			return structFromMap(m, to)
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, to)
}

// structFromMap fills a struct through a CBOR round trip, so field names and
// cbor tags match the way blobs encode structs.
func structFromMap(m map[string]any, to reflect.Type) (reflect.Value, error) {
	data, err := codec.MarshalValue(normalizeNumbers(m))
	if err != nil {
		return reflect.Value{}, err
	}
	p := reflect.New(to)
	if err := codec.UnmarshalInto(data, p.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return p.Elem(), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeNumbers(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeNumbers(e)
		}
		return out
	}
	return v
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x.String())
		}
		return floatToInt(f)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return floatToInt(rv.Float())
	}
	return 0, fmt.Errorf("cannot convert %T to an integer", v)
}

func toUint64(v any) (uint64, error) {
	if u, ok := v.(uint64); ok {
		return u, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("%d is negative", i)
	}
	return uint64(i), nil
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

func toFloat64(v any) (float64, error) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n.String())
		}
		return f, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("cannot convert %T to a float", v)
}
