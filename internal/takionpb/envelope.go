package takionpb

import "google.golang.org/protobuf/encoding/protowire"

// Wrap builds a TakionMessage: {type: varint=1, payload: bytes=2}. This is
// the outer message carried by every data_type=0 DATA packet (§4.10); the
// session dispatches on Type before unmarshaling the inner message.
func Wrap(t MessageType, payload []byte) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(t))
	b = appendBytesField(b, 2, payload)
	return b
}

// Unwrap extracts the MessageType and inner payload from a TakionMessage.
func Unwrap(b []byte) (MessageType, []byte, error) {
	var t MessageType
	var payload []byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch num {
		case 1:
			v, n := consumeVarintField(data)
			t = MessageType(v)
			return n, true
		case 2:
			v, n := consumeBytesField(data)
			payload = v
			return n, true
		}
		return 0, false
	})
	return t, payload, err
}
