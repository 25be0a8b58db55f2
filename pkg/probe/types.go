package probe

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors. Callers count these per class and drop the frame;
// none of them is fatal.
var (
	ErrBufferTooShort     = errors.New("buffer too short")
	ErrBadSyncBytes       = errors.New("bad sync bytes")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrShortPayload       = errors.New("payload shorter than declared minimum")
	ErrUnknownProductType = errors.New("unknown product type")
)

// ProductType identifies the kind of device behind an advertisement.
type ProductType byte

const (
	ProductTypeUnknown ProductType = 0x00
	ProductTypeProbe   ProductType = 0x01
	ProductTypeNode    ProductType = 0x02
)

// String returns a human-readable product type
func (p ProductType) String() string {
	switch p {
	case ProductTypeProbe:
		return "probe"
	case ProductTypeNode:
		return "node"
	default:
		return "unknown"
	}
}

// SerialNumber is the 32-bit serial a probe advertises. The device
// transmits it little-endian but it is read in reverse byte order, so
// the display form matches the label printed on the hardware.
type SerialNumber uint32

// String returns the serial as uppercase hexadecimal
func (s SerialNumber) String() string {
	return fmt.Sprintf("%08X", uint32(s))
}

// MarshalJSON implements json.Marshaler
func (s SerialNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (s *SerialNumber) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	parsed, err := ParseSerialNumber(str)
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

// ParseSerialNumber parses the uppercase-hex display form
func ParseSerialNumber(s string) (SerialNumber, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("invalid serial number length %d", len(s))
	}

	var v uint32
	if _, err := fmt.Sscanf(s, "%08X", &v); err != nil {
		return 0, fmt.Errorf("invalid serial number %q: %w", s, err)
	}

	return SerialNumber(v), nil
}

// MessageType identifies a request/response frame on the UART channel.
type MessageType byte

const (
	// MessageTypeLog requests historical records; the device answers
	// with one response frame per record.
	MessageTypeLog MessageType = 0x04
)

// minResponsePayloadLen returns the minimum payload length for a
// response of the given type, or false for unrecognized types.
func minResponsePayloadLen(t MessageType) (int, bool) {
	switch t {
	case MessageTypeLog:
		return logResponsePayloadLen, true
	default:
		return 0, false
	}
}
