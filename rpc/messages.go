// Package rpc defines the ExecutorService procedures shared by the Connect
// handler, the Connect client and the gRPC client. Messages travel as CBOR.
package rpc

const (
	// ExecutorServiceName is the fully-qualified name of the service.
	ExecutorServiceName = "orange.v1.ExecutorService"

	ExecutorServiceSubmitProcedure  = "/orange.v1.ExecutorService/Submit"
	ExecutorServiceFetchProcedure   = "/orange.v1.ExecutorService/Fetch"
	ExecutorServiceUploadProcedure  = "/orange.v1.ExecutorService/Upload"
	ExecutorServiceReleaseProcedure = "/orange.v1.ExecutorService/Release"
)

// SubmitRequest carries one JSON command envelope.
type SubmitRequest struct {
	Envelope []byte `cbor:"envelope"`
	Session  string `cbor:"session,omitempty"`
}

// SubmitResponse names the result reference and, for commands that asked
// for it, the CBOR-encoded result.
type SubmitResponse struct {
	Reference string `cbor:"reference"`
	Value     []byte `cbor:"value,omitempty"`
	HasValue  bool   `cbor:"has_value,omitempty"`
}

type FetchRequest struct {
	Reference string `cbor:"reference"`
}

type FetchResponse struct {
	Value []byte `cbor:"value"`
}

type UploadRequest struct {
	Value   []byte `cbor:"value"`
	Session string `cbor:"session,omitempty"`
}

type UploadResponse struct {
	Reference string `cbor:"reference"`
}

// ReleaseRequest releases one reference, or every reference of Session when
// Reference is empty.
type ReleaseRequest struct {
	Reference string `cbor:"reference,omitempty"`
	Session   string `cbor:"session,omitempty"`
}

type ReleaseResponse struct {
	Released int `cbor:"released"`
}
