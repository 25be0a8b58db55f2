package probe

import (
	"encoding/binary"
	"fmt"
)

// AdvertisingPayloadLen is the manufacturer-data length a probe
// broadcasts: product type, serial, latest temperature block.
const AdvertisingPayloadLen = 1 + 4 + PackedTemperatureLen

// Advertising is a decoded advertising payload. Ephemeral; the caller
// associates it with a MAC address.
type Advertising struct {
	ProductType  ProductType
	SerialNumber SerialNumber
	Temperatures Temperatures
}

// DecodeAdvertising decodes the manufacturer data of a probe
// advertisement.
func DecodeAdvertising(data []byte) (*Advertising, error) {
	if len(data) < AdvertisingPayloadLen {
		return nil, fmt.Errorf("advertising payload %d bytes: %w", len(data), ErrBufferTooShort)
	}

	pt := ProductType(data[0])
	switch pt {
	case ProductTypeUnknown, ProductTypeProbe, ProductTypeNode:
	default:
		return nil, fmt.Errorf("product type 0x%02X: %w", data[0], ErrUnknownProductType)
	}

	// The serial is little-endian on the wire but read in reverse byte
	// order, which matches the label on the device.
	serial := SerialNumber(binary.BigEndian.Uint32(data[1:5]))

	temps, err := DecodeTemperatures(data[5 : 5+PackedTemperatureLen])
	if err != nil {
		return nil, fmt.Errorf("decode advertising temperatures: %w", err)
	}

	return &Advertising{
		ProductType:  pt,
		SerialNumber: serial,
		Temperatures: temps,
	}, nil
}

// EncodeAdvertising builds a probe advertisement payload. Used by
// tests and synthetic frame generation.
func EncodeAdvertising(a *Advertising) []byte {
	data := make([]byte, AdvertisingPayloadLen)
	data[0] = byte(a.ProductType)
	binary.BigEndian.PutUint32(data[1:5], uint32(a.SerialNumber))

	block := EncodeTemperatures(a.Temperatures)
	copy(data[5:], block[:])

	return data
}
