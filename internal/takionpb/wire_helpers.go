// Package takionpb hand-encodes the Takion protobuf messages named in
// spec §6 using google.golang.org/protobuf/encoding/protowire directly,
// since no .proto files are compiled in this environment. Each message
// type implements Marshal/Unmarshal by hand against the wire-format
// primitives protowire exposes; MessageType dispatch mirrors the
// TakionMessage.type field the engine switches on (§4.10).
package takionpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	return appendBytesField(b, num, []byte(s))
}

// fieldVisitor is called once per decoded field; it returns the number of
// consumed bytes for the field's value (not including the tag), or a
// negative number to indicate a malformed value. Unknown field numbers are
// always accepted and skipped: this deliberately does not make unrecognized
// fields fatal to unmarshaling, matching protobuf's own forward-compatible
// wire semantics.
type fieldVisitor func(num protowire.Number, typ protowire.Type, b []byte) (n int, handled bool)

func walkFields(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("takionpb: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		consumed, handled := visit(num, typ, b)
		if handled {
			if consumed < 0 {
				return fmt.Errorf("takionpb: bad field %d: %w", num, protowire.ParseError(consumed))
			}
			b = b[consumed:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("takionpb: bad field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func consumeVarintField(b []byte) (uint64, int) {
	return protowire.ConsumeVarint(b)
}

func consumeBytesField(b []byte) ([]byte, int) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n
}
