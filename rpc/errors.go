package rpc

import (
	stderrors "errors"

	"connectrpc.com/connect"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/astaric/orangeremote/errors"
)

var kindCodes = map[errors.Kind]connect.Code{
	errors.ValidationFailed:  connect.CodeInvalidArgument,
	errors.ReferenceNotFound: connect.CodeNotFound,
	errors.ExecutionFailed:   connect.CodeAborted,
	errors.TransportFailure:  connect.CodeUnavailable,
	errors.Timeout:           connect.CodeDeadlineExceeded,
	errors.AttributeAbsent:   connect.CodeFailedPrecondition,
}

// CodeOf maps an error kind to a status code.
func CodeOf(kind errors.Kind) connect.Code {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return connect.CodeInternal
}

// KindOfCode maps a status code back to an error kind.
func KindOfCode(code connect.Code) errors.Kind {
	for kind, c := range kindCodes {
		if c == code {
			return kind
		}
	}
	if code == connect.CodeCanceled {
		return errors.Timeout
	}
	return errors.TransportFailure
}

// ToConnectError converts err to a Connect error whose message is the wire
// form of the classified error.
func ToConnectError(err error) *connect.Error {
	return connect.NewError(CodeOf(errors.KindOf(err)), stderrors.New(string(errors.Marshal(err))))
}

// FromConnectError rebuilds the classified error a Connect call returned.
func FromConnectError(err error, op string) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if !stderrors.As(err, &ce) {
		return errors.New(errors.TransportFailure, op, err)
	}
	return errors.Unmarshal([]byte(ce.Message()), op, KindOfCode(ce.Code()))
}

// FromGRPCError rebuilds the classified error a grpc-go call returned.
// gRPC and Connect share status code numbering.
func FromGRPCError(err error, op string) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok || (st.Code() == codes.Unknown && st.Message() == "") {
		return errors.New(errors.TransportFailure, op, err)
	}
	return errors.Unmarshal([]byte(st.Message()), op, KindOfCode(connect.Code(st.Code())))
}
