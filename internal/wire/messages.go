// Package wire defines the messages and gRPC service shared by the provider
// client and every provider process.
//
// Messages use the protobuf binary format with field numbers declared here:
//
//	message Empty {}
//	message Text { string value = 1; }
//	message ProviderRequest { bytes list = 1; bytes task = 2; string id = 3; string parent = 4; }
//	message ProviderResponse { bool successful = 1; string message = 2; bytes data = 3; string reason = 4; }
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every type carried by the Provider service.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

// Empty is the request of methods that take no arguments.
type Empty struct{}

// Text carries a single string result.
type Text struct {
	Value string
}

// ProviderRequest carries JSON-encoded canonical records or bare identifiers.
type ProviderRequest struct {
	List   []byte
	Task   []byte
	ID     string
	Parent string
}

// ProviderResponse is the envelope reporting a business outcome. When
// Successful is false, Data is empty and Message is user-displayable.
type ProviderResponse struct {
	Successful bool
	Message    string
	Data       []byte
	Reason     string
}

func (m *Empty) Marshal() ([]byte, error) { return nil, nil }

func (m *Empty) Unmarshal(b []byte) error {
	return consumeFields(b, func(protowire.Number, protowire.Type, []byte) (int, error) {
		return -1, nil
	})
}

func (m *Text) Marshal() ([]byte, error) {
	return appendString(nil, 1, m.Value), nil
}

func (m *Text) Unmarshal(b []byte) error {
	*m = Text{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(typ, b, &m.Value)
		}
		return -1, nil
	})
}

func (m *ProviderRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 1, m.List)
	b = appendBytes(b, 2, m.Task)
	b = appendString(b, 3, m.ID)
	b = appendString(b, 4, m.Parent)
	return b, nil
}

func (m *ProviderRequest) Unmarshal(b []byte) error {
	*m = ProviderRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(typ, b, &m.List)
		case 2:
			return consumeBytes(typ, b, &m.Task)
		case 3:
			return consumeString(typ, b, &m.ID)
		case 4:
			return consumeString(typ, b, &m.Parent)
		}
		return -1, nil
	})
}

func (m *ProviderResponse) Marshal() ([]byte, error) {
	var b []byte
	if m.Successful {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	b = appendString(b, 2, m.Message)
	b = appendBytes(b, 3, m.Data)
	b = appendString(b, 4, m.Reason)
	return b, nil
}

func (m *ProviderResponse) Unmarshal(b []byte) error {
	*m = ProviderResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBool(typ, b, &m.Successful)
		case 2:
			return consumeString(typ, b, &m.Message)
		case 3:
			return consumeBytes(typ, b, &m.Data)
		case 4:
			return consumeString(typ, b, &m.Reason)
		}
		return -1, nil
	})
}

// consumeFields walks the fields of an encoded message. field returns the
// number of bytes it consumed, or -1 to have an unknown field skipped.
func consumeFields(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	// The transport may reuse its buffer after Unmarshal returns.
	*dst = append([]byte(nil), v...)
	return n, nil
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}
