// Package errors classifies the failures that cross the proxy protocol.
//
// Every failure that leaves a package boundary is an *Error carrying a Kind.
// The Kind decides how bindings report it (HTTP status, Connect code, queue
// header) and lets a client rebuild the same classification on its side.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Kind classifies a protocol failure.
type Kind int

const (
	// KindUnknown is the zero value; it is never produced on purpose.
	KindUnknown Kind = iota
	// ValidationFailed marks a malformed envelope or unknown command field.
	ValidationFailed
	// ReferenceNotFound marks an identifier absent from the registry.
	ReferenceNotFound
	// ExecutionFailed marks a constructor, method or member access that failed.
	ExecutionFailed
	// TransportFailure marks a connection-level failure.
	TransportFailure
	// Timeout marks a wait that ran past its deadline.
	Timeout
	// AttributeAbsent marks a reserved attribute refused locally by a proxy.
	AttributeAbsent
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	ValidationFailed:  "validation_failed",
	ReferenceNotFound: "reference_not_found",
	ExecutionFailed:   "execution_failed",
	TransportFailure:  "transport_failure",
	Timeout:           "timeout",
	AttributeAbsent:   "attribute_absent",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a wire name back to a Kind. Unrecognised names yield KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "executor.execute".
	Op string
	// Call describes the attempted remote call, e.g. "builtins.int(*['a'], **{})".
	Call string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Call != "" {
		msg += " in " + e.Call
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so errors.Is(err, errors.New(errors.Timeout, "", nil))
// and the sentinel values below match any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Call == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: ValidationFailed}
	ErrReferenceNotFound = &Error{Kind: ReferenceNotFound}
	ErrExecution         = &Error{Kind: ExecutionFailed}
	ErrTransport         = &Error{Kind: TransportFailure}
	ErrTimeout           = &Error{Kind: Timeout}
	ErrAttributeAbsent   = &Error{Kind: AttributeAbsent}
)

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithCall returns a copy of e annotated with a call description.
// An existing description is kept.
func (e *Error) WithCall(call string) *Error {
	if e.Call != "" {
		return e
	}
	c := *e
	c.Call = call
	return &c
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap classifies err as kind unless it is already classified.
func Wrap(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}
	return New(kind, op, err)
}

// wireError is the JSON form shared by every binding.
type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Call    string `json:"call,omitempty"`
}

// Marshal renders err in its wire form. Unclassified errors are reported as
// ExecutionFailed, the only kind a remote cause can legitimately have.
func Marshal(err error) []byte {
	w := wireError{Kind: ExecutionFailed.String(), Message: err.Error()}
	var e *Error
	if stderrors.As(err, &e) {
		w.Kind = e.Kind.String()
		w.Call = e.Call
		if e.Err != nil {
			w.Message = e.Err.Error()
		} else {
			w.Message = e.Kind.String()
		}
	}
	data, _ := json.Marshal(w)
	return data
}

// Unmarshal rebuilds a classified error from its wire form. Bodies that are
// not wire errors become the message of an error of the fallback kind.
func Unmarshal(data []byte, op string, fallback Kind) *Error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil || w.Kind == "" {
		return &Error{Kind: fallback, Op: op, Err: stderrors.New(string(data))}
	}
	kind := ParseKind(w.Kind)
	if kind == KindUnknown {
		kind = fallback
	}
	return &Error{Kind: kind, Op: op, Call: w.Call, Err: &RemoteError{Message: w.Message}}
}

// RemoteError carries the message of a failure raised inside the executor.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
