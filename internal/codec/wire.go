package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrVersion is returned for payloads written by an unsupported encoder.
var ErrVersion = errors.New("unsupported encoding version")

// field is one decoded protobuf field. Unknown wire types are skipped by
// parseFields so newer encoders may add fields.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.varint = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.bytes = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (f field) message() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("field %d: expected length-delimited, got wire type %d", f.num, f.typ)
	}
	return f.bytes, nil
}

func (f field) str() (string, error) {
	b, err := f.message()
	return string(b), err
}

func (f field) uint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("field %d: expected varint, got wire type %d", f.num, f.typ)
	}
	return f.varint, nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// header is the 4-byte magic plus one version byte.
const headerSize = 5

func writeHeader(magic string, version byte) []byte {
	out := make([]byte, 0, 64)
	out = append(out, magic...)
	return append(out, version)
}

func readHeader(data []byte, magic string, supported byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("data too short")
	}
	if string(data[:4]) != magic {
		return nil, fmt.Errorf("invalid magic number, expected %s", magic)
	}
	if data[4] != supported {
		return nil, fmt.Errorf("%w: %d (supported: %d)", ErrVersion, data[4], supported)
	}
	return data[headerSize:], nil
}
