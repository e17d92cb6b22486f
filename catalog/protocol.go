package catalog

import (
	"fmt"
	"reflect"
	"strconv"
	"unicode/utf8"
)

// Lener is implemented by values with a length.
type Lener interface {
	Len() int
}

// Indexer is implemented by values that answer __getitem__ themselves.
type Indexer interface {
	Item(key any) (any, error)
}

type protocolOp func(self any, args []any) (any, error)

// protocol holds the operations every value supports unless its class
// overrides them.
var protocol = map[string]protocolOp{
	"__str__":     opStr,
	"__repr__":    opRepr,
	"__len__":     opLen,
	"__getitem__": opGetItem,
}

func opStr(self any, args []any) (any, error) {
	return Str(self), nil
}

func opRepr(self any, args []any) (any, error) {
	switch v := self.(type) {
	case string:
		return strconv.Quote(v), nil
	case fmt.GoStringer:
		return v.GoString(), nil
	}
	return fmt.Sprintf("%#v", self), nil
}

func opLen(self any, args []any) (any, error) {
	return Len(self)
}

func opGetItem(self any, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("TypeError: __getitem__ takes exactly one argument (%d given)", len(args))
	}
	return Item(self, args[0])
}

// Str renders v the way __str__ does.
func Str(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}
	return fmt.Sprint(v)
}

// Len returns the length of v.
func Len(v any) (int, error) {
	if l, ok := v.(Lener); ok {
		return l.Len(), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return utf8.RuneCountInString(rv.String()), nil
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Chan:
		return rv.Len(), nil
	case reflect.Pointer:
		if !rv.IsNil() && rv.Elem().Kind() == reflect.Array {
			return rv.Elem().Len(), nil
		}
	}
	return 0, fmt.Errorf("TypeError: object of type %T has no len()", v)
}

// Item returns v[key]. Sequence indexes may be negative and count from the
// end.
func Item(v any, key any) (any, error) {
	if ix, ok := v.(Indexer); ok {
		return ix.Item(key)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Array {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		i, err := As[int](key)
		if err != nil {
			return nil, fmt.Errorf("TypeError: indices must be integers, not %T", key)
		}
		var runes []rune
		n := rv.Len()
		if rv.Kind() == reflect.String {
			// Strings are sequences of runes.
			runes = []rune(rv.String())
			n = len(runes)
		}
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, fmt.Errorf("IndexError: index %v out of range for length %d", key, n)
		}
		if runes != nil {
			return string(runes[i]), nil
		}
		return rv.Index(i).Interface(), nil
	case reflect.Map:
		k, err := convert(key, rv.Type().Key())
		if err != nil {
			return nil, fmt.Errorf("TypeError: bad key type %T: %w", key, err)
		}
		e := rv.MapIndex(k)
		if !e.IsValid() {
			return nil, fmt.Errorf("KeyError: %v", key)
		}
		return e.Interface(), nil
	}
	return nil, fmt.Errorf("TypeError: %T object is not subscriptable", v)
}
