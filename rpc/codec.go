package rpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CodecName is registered as the content subtype: application/cbor for
// Connect, application/grpc+cbor for gRPC.
const CodecName = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("rpc: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("rpc: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Codec marshals messages as CBOR. It satisfies both connect.Codec and the
// grpc encoding.Codec interface.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
