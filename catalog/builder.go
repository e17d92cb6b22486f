package catalog

import (
	"fmt"
	"reflect"
)

// Builder assembles a Class whose instances have type T.
type Builder[T any] struct {
	cls *Class
}

// Define starts a class definition for instances of type T.
//
//	catalog.Define[*Dummy]("tests", "Dummy").
//		Constructor(func(args []any, kwargs map[string]any) (*Dummy, error) { return &Dummy{B: "b"}, nil }).
//		Method("a", func(d *Dummy, args []any, kwargs map[string]any) (any, error) { return d.A(), nil }).
//		Class()
func Define[T any](module, name string) *Builder[T] {
	return &Builder[T]{cls: &Class{
		Module:  module,
		Name:    name,
		Type:    reflect.TypeFor[T](),
		Methods: make(map[string]MethodFunc),
		Members: make(map[string]MemberFunc),
	}}
}

// Constructor sets the function New calls.
func (b *Builder[T]) Constructor(fn func(args []any, kwargs map[string]any) (T, error)) *Builder[T] {
	b.cls.New = func(args []any, kwargs map[string]any) (any, error) {
		v, err := fn(args, kwargs)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return b
}

// Method adds a method.
func (b *Builder[T]) Method(name string, fn func(self T, args []any, kwargs map[string]any) (any, error)) *Builder[T] {
	qualified := b.cls.QualifiedName()
	b.cls.Methods[name] = func(self any, args []any, kwargs map[string]any) (any, error) {
		t, ok := self.(T)
		if !ok {
			return nil, fmt.Errorf("TypeError: %s.%s called on %T", qualified, name, self)
		}
		return fn(t, args, kwargs)
	}
	return b
}

// Member adds a readable member.
func (b *Builder[T]) Member(name string, fn func(self T) any) *Builder[T] {
	qualified := b.cls.QualifiedName()
	b.cls.Members[name] = func(self any) (any, error) {
		t, ok := self.(T)
		if !ok {
			return nil, fmt.Errorf("TypeError: %s.%s read on %T", qualified, name, self)
		}
		return fn(t), nil
	}
	return b
}

// Class returns the assembled class.
func (b *Builder[T]) Class() *Class {
	return b.cls
}
