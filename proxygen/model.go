// Package proxygen introspects Go packages and generates catalog bindings
// and typed proxies for their exported struct types.
package proxygen

import "go/types"

// PackageModel is the in-memory representation of a Go package's exported API.
type PackageModel struct {
	ImportPath string
	Name       string // short package name (e.g., "strings")
	Types      []TypeModel
}

// TypeModel represents an exported struct type.
type TypeModel struct {
	Name   string
	Fields []FieldModel
	// Methods are the pointer-receiver methods defined on the type itself.
	Methods []FunctionModel
	// Constructor is the New<Name> function, if the package has a usable one.
	Constructor *FunctionModel
}

// FunctionModel represents an exported function or method.
type FunctionModel struct {
	Name       string
	Params     []ParamModel
	Results    []ParamModel
	Variadic   bool
	ReturnsErr bool // true if last result is error
}

// ParamModel represents a function parameter or result.
type ParamModel struct {
	Name   string
	GoType types.Type
}

// FieldModel represents a struct field.
type FieldModel struct {
	Name   string
	GoType types.Type
}

// Skipped records an exported name that could not be bound.
type Skipped struct {
	Name   string
	Reason string
}
