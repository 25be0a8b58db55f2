package probe

import (
	"encoding/binary"
	"fmt"
)

// StatusPayloadLen is the fixed size of the device-status
// characteristic value.
const StatusPayloadLen = 4 + 4 + PackedTemperatureLen

// DeviceStatus is a decoded status notification: the record window the
// device currently retains plus the latest temperature snapshot.
// MaxSequence identifies the record the temperatures belong to.
type DeviceStatus struct {
	MinSequence  uint32
	MaxSequence  uint32
	Temperatures Temperatures
}

// DecodeDeviceStatus decodes a status-characteristic notification
func DecodeDeviceStatus(data []byte) (*DeviceStatus, error) {
	if len(data) < StatusPayloadLen {
		return nil, fmt.Errorf("status payload %d bytes: %w", len(data), ErrBufferTooShort)
	}

	temps, err := DecodeTemperatures(data[8 : 8+PackedTemperatureLen])
	if err != nil {
		return nil, fmt.Errorf("decode status temperatures: %w", err)
	}

	return &DeviceStatus{
		MinSequence:  binary.LittleEndian.Uint32(data[0:4]),
		MaxSequence:  binary.LittleEndian.Uint32(data[4:8]),
		Temperatures: temps,
	}, nil
}

// EncodeDeviceStatus builds a status payload
func EncodeDeviceStatus(s *DeviceStatus) []byte {
	data := make([]byte, StatusPayloadLen)
	binary.LittleEndian.PutUint32(data[0:4], s.MinSequence)
	binary.LittleEndian.PutUint32(data[4:8], s.MaxSequence)

	block := EncodeTemperatures(s.Temperatures)
	copy(data[8:], block[:])

	return data
}
