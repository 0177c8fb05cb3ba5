package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype under which the codec is registered.
const CodecName = "provider"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals wire messages for gRPC. Clients select it per call with
// grpc.CallContentSubtype(CodecName); servers pick it up from the registry.
type Codec struct{}

// Marshal encodes a wire message.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("wire: cannot marshal %T", v)
	}
	return m.Marshal()
}

// Unmarshal decodes into a wire message.
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("wire: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}

// Name returns CodecName.
func (Codec) Name() string { return CodecName }
