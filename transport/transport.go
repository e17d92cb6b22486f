// Package transport carries encoded commands from a proxy client to an
// executor.
//
// Every binding answers the same three questions: deliver a command, read a
// stored value, store a raw value. The HTTP, Connect and gRPC bindings live
// here; the NATS binding lives in package queue.
package transport

import (
	"context"
	stderrors "errors"

	"github.com/tliron/commonlog"

	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/errors"
)

var log = commonlog.GetLogger("orange.transport")

// Mode says how long Send blocks.
type Mode int

const (
	// ModeAsync returns as soon as the command is handed over. Bindings that
	// cannot tell delivery from acceptance behave as ModeReference.
	ModeAsync Mode = iota
	// ModeReference blocks until the executor has accepted the command.
	ModeReference
	// ModeValue blocks until the command has run and returns its value.
	ModeValue
)

func (m Mode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeReference:
		return "reference"
	case ModeValue:
		return "value"
	}
	return "unknown"
}

// Outbound is a command on its way to the executor. Send sets the command's
// ReturnResult flag from Mode.
type Outbound struct {
	Command command.Command
	Mode    Mode
}

// Reply is the answer to an Outbound.
type Reply struct {
	Reference command.Reference
	// Value holds the CBOR encoded result for ModeValue.
	Value []byte
}

// Transport delivers commands to one executor.
type Transport interface {
	Send(ctx context.Context, out Outbound) (Reply, error)
	// Fetch returns the CBOR encoded value of ref, waiting while it is
	// pending.
	Fetch(ctx context.Context, ref command.Reference) ([]byte, error)
	// Upload stores a CBOR encoded value and returns its reference.
	Upload(ctx context.Context, data []byte) (command.Reference, error)
	Close() error
}

// Prepare sets the command's ReturnResult flag for mode.
func Prepare(out Outbound) {
	out.Command.Head().ReturnResult = out.Mode == ModeValue
}

// Classify turns a failure of a call made under ctx into a classified error.
// Already classified errors pass through; expired contexts become Timeout and
// everything else is a TransportFailure.
func Classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	if ctx.Err() != nil || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.Timeout, op, err)
	}
	return errors.New(errors.TransportFailure, op, err)
}
