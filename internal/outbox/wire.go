package outbox

import (
	"encoding/binary"
	"errors"
)

// Kafka header keys set on every delivered record.
const (
	HeaderEventType     = "event_type"
	HeaderSchemaSubject = "schema_subject"
	HeaderEventID       = "event_id"
)

const (
	wireMagicByte  = 0
	wireHeaderSize = 5
)

// ErrUnframedPayload is returned for values missing the schema registry prefix.
var ErrUnframedPayload = errors.New("payload is not schema registry framed")

// encodeWireFormat prefixes payload with the magic byte and the big-endian schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, wireHeaderSize+len(payload))
	frame[0] = wireMagicByte
	binary.BigEndian.PutUint32(frame[1:wireHeaderSize], uint32(schemaID))
	copy(frame[wireHeaderSize:], payload)
	return frame
}

// DecodeWireFormat splits a framed record value into its schema id and payload.
func DecodeWireFormat(frame []byte) (int, []byte, error) {
	if len(frame) < wireHeaderSize || frame[0] != wireMagicByte {
		return 0, nil, ErrUnframedPayload
	}
	return int(binary.BigEndian.Uint32(frame[1:wireHeaderSize])), frame[wireHeaderSize:], nil
}
