package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// BuiltinModule is the module name of the classes every catalog carries.
const BuiltinModule = "builtins"

func builtinClasses() []*Class {
	return []*Class{
		{Module: BuiltinModule, Name: "int", Type: reflect.TypeFor[int](), New: newInt},
		{Module: BuiltinModule, Name: "float", Type: reflect.TypeFor[float64](), New: newFloat},
		{Module: BuiltinModule, Name: "str", Type: reflect.TypeFor[string](), New: newStr},
		{Module: BuiltinModule, Name: "list", Type: reflect.TypeFor[[]any](), New: newList},
		{Module: BuiltinModule, Name: "dict", Type: reflect.TypeFor[map[string]any](), New: newDict},
	}
}

func newInt(args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return 0, nil
	}
	if len(args) > 2 {
		return nil, fmt.Errorf("TypeError: int() takes at most 2 arguments (%d given)", len(args))
	}
	s, isString := args[0].(string)
	if !isString {
		if len(args) == 2 {
			return nil, fmt.Errorf("TypeError: int() can't convert non-string with explicit base")
		}
		if f, ok := args[0].(float64); ok {
			return truncate(f)
		}
		if n, ok := args[0].(json.Number); ok {
			if f, err := n.Float64(); err == nil && strings.ContainsAny(n.String(), ".eE") {
				return truncate(f)
			}
		}
		i, err := toInt64(args[0])
		if err != nil {
			return nil, fmt.Errorf("TypeError: int() argument must be a string or a number, not %T", args[0])
		}
		return int(i), nil
	}

	base := 10
	if len(args) == 2 {
		b, err := As[int](args[1])
		if err != nil {
			return nil, fmt.Errorf("TypeError: int() base must be an integer")
		}
		base = b
	}
	i, err := strconv.ParseInt(strings.TrimSpace(s), base, 64)
	if err != nil {
		return nil, fmt.Errorf("ValueError: invalid literal for int() with base %d: %s", base, strconv.Quote(s))
	}
	return int(i), nil
}

// truncate converts f to int rounding toward zero.
func truncate(f float64) (any, error) {
	switch {
	case math.IsNaN(f):
		return nil, fmt.Errorf("ValueError: cannot convert float NaN to integer")
	case math.IsInf(f, 0):
		return nil, fmt.Errorf("OverflowError: cannot convert float infinity to integer")
	}
	f = math.Trunc(f)
	if f < math.MinInt || f >= math.MaxInt {
		return nil, fmt.Errorf("OverflowError: %v does not fit in int", f)
	}
	return int(f), nil
}

func newFloat(args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return 0.0, nil
	}
	if s, ok := args[0].(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("ValueError: could not convert string to float: %s", strconv.Quote(s))
		}
		return f, nil
	}
	f, err := toFloat64(args[0])
	if err != nil {
		return nil, fmt.Errorf("TypeError: float() argument must be a string or a number, not %T", args[0])
	}
	return f, nil
}

func newStr(args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return "", nil
	}
	return Str(args[0]), nil
}

func newList(args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return []any{}, nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	case reflect.String:
		var out []any
		for _, r := range rv.String() {
			out = append(out, string(r))
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	case reflect.Map:
		keys := make([]any, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.Interface())
		}
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
		})
		return keys, nil
	}
	return nil, fmt.Errorf("TypeError: %T object is not iterable", args[0])
}

func newDict(args []any, kwargs map[string]any) (any, error) {
	out := make(map[string]any, len(kwargs))
	if len(args) > 0 {
		rv := reflect.ValueOf(args[0])
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("TypeError: cannot convert %T to dict", args[0])
		}
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
	}
	for k, v := range kwargs {
		out[k] = v
	}
	return out, nil
}
