// Package catalog is the explicit registry of classes an executor can
// construct and dispatch on.
//
// A Class binds a (module, name) pair to a constructor, a method table and a
// member table. Live values find their class by dynamic Go type; names a class
// does not define fall back to the builtin protocol operations (__str__,
// __len__, __getitem__, __repr__).
package catalog

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ConstructorFunc builds a new instance from decoded arguments.
type ConstructorFunc func(args []any, kwargs map[string]any) (any, error)

// MethodFunc implements a method on a live value.
type MethodFunc func(self any, args []any, kwargs map[string]any) (any, error)

// MemberFunc reads a member of a live value.
type MemberFunc func(self any) (any, error)

// Class describes one constructible type.
type Class struct {
	Module string
	Name   string
	// Type is the dynamic type of the instances New returns. It may be nil
	// for classes whose instances are never dispatched on.
	Type    reflect.Type
	New     ConstructorFunc
	Methods map[string]MethodFunc
	Members map[string]MemberFunc
}

// QualifiedName returns "module.name".
func (c *Class) QualifiedName() string {
	return c.Module + "." + c.Name
}

// LookupMethod finds a method by name.
func (c *Class) LookupMethod(name string) MethodFunc {
	if c == nil {
		return nil
	}
	return c.Methods[name]
}

// LookupMember finds a member by name.
func (c *Class) LookupMember(name string) MemberFunc {
	if c == nil {
		return nil
	}
	return c.Members[name]
}

// Catalog maps qualified names and Go types to classes.
// Thread-safe for concurrent registration and lookup.
type Catalog struct {
	mu      sync.RWMutex
	classes map[string]*Class
	byType  map[reflect.Type]*Class
}

// New creates a catalog holding the builtins module.
func New() *Catalog {
	c := &Catalog{
		classes: make(map[string]*Class),
		byType:  make(map[reflect.Type]*Class),
	}
	for _, cls := range builtinClasses() {
		c.MustRegister(cls)
	}
	return c
}

// Register adds a class. A qualified name can only be registered once; a Go
// type keeps the first class registered for it.
func (c *Catalog) Register(cls *Class) error {
	if cls == nil || cls.Module == "" || cls.Name == "" {
		return fmt.Errorf("catalog: class needs a module and a name")
	}
	if cls.New == nil {
		return fmt.Errorf("catalog: class %s has no constructor", cls.QualifiedName())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cls.QualifiedName()
	if _, ok := c.classes[key]; ok {
		return fmt.Errorf("catalog: class %s already registered", key)
	}
	c.classes[key] = cls
	if cls.Type != nil {
		if _, ok := c.byType[cls.Type]; !ok {
			c.byType[cls.Type] = cls
		}
	}
	return nil
}

// MustRegister is Register that panics on error, for package init code.
func (c *Catalog) MustRegister(classes ...*Class) {
	for _, cls := range classes {
		if err := c.Register(cls); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the class registered under module and name.
func (c *Catalog) Lookup(module, name string) (*Class, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cls, ok := c.classes[module+"."+name]
	return cls, ok
}

// ClassOf returns the class of a live value, or nil.
func (c *Catalog) ClassOf(v any) *Class {
	if v == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.byType[reflect.TypeOf(v)]
}

// Classes returns all classes sorted by qualified name.
func (c *Catalog) Classes() []*Class {
	c.mu.RLock()
	out := make([]*Class, 0, len(c.classes))
	for _, cls := range c.classes {
		out = append(out, cls)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out
}

// Construct instantiates module.class.
func (c *Catalog) Construct(module, class string, args []any, kwargs map[string]any) (any, error) {
	cls, ok := c.Lookup(module, class)
	if !ok {
		return nil, fmt.Errorf("ModuleNotFoundError: no class %s.%s", module, class)
	}
	return cls.New(args, kwargs)
}

// Invoke calls method on self. Methods the class defines take precedence
// over the protocol operations.
func (c *Catalog) Invoke(self any, method string, args []any, kwargs map[string]any) (any, error) {
	cls := c.ClassOf(self)
	if fn := cls.LookupMethod(method); fn != nil {
		return fn(self, args, kwargs)
	}
	if op, ok := protocol[method]; ok {
		return op(self, args)
	}
	return nil, fmt.Errorf("AttributeError: %s has no method %q", describeType(cls, self), method)
}

// Member reads name from self. Map values answer by key and struct values by
// exported field name when the class defines no such member.
func (c *Catalog) Member(self any, name string) (any, error) {
	cls := c.ClassOf(self)
	if fn := cls.LookupMember(name); fn != nil {
		return fn(self)
	}
	if v, ok := reflectMember(self, name); ok {
		return v, nil
	}
	return nil, fmt.Errorf("AttributeError: %s has no attribute %q", describeType(cls, self), name)
}

func describeType(cls *Class, v any) string {
	if cls != nil {
		return cls.QualifiedName()
	}
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

func reflectMember(self any, name string) (any, bool) {
	rv := reflect.ValueOf(self)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Struct:
		f, ok := rv.Type().FieldByName(name)
		if !ok || !f.IsExported() {
			return nil, false
		}
		return rv.FieldByIndex(f.Index).Interface(), true
	}
	return nil, false
}
