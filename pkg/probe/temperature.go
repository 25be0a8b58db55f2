package probe

import (
	"fmt"
	"math"
)

// The probe packs eight 13-bit raw thermistor counts into 13 bytes and
// transmits them in reverse byte order. A raw count c maps to degrees
// Celsius as c*0.05 - 20.0. This layout is a hardware contract; both
// ends of the scale (-20.00 to +389.55) are exact.
const (
	PackedTemperatureLen = 13
	TemperatureCount     = 8

	rawCountBits = 13
	rawCountMask = 0x1FFF

	temperatureStep   = 0.05
	temperatureOffset = -20.0
)

// Temperatures holds one decoded 8-channel snapshot in degrees Celsius,
// T1 first.
type Temperatures [TemperatureCount]float64

// RawCounts holds the undecoded 13-bit sensor counts, T1 first.
type RawCounts [TemperatureCount]uint16

// Celsius converts a raw 13-bit count to degrees Celsius
func Celsius(count uint16) float64 {
	return float64(count)*temperatureStep + temperatureOffset
}

// Count converts a temperature back to the raw 13-bit count. Inverse of
// Celsius for every representable value.
func Count(celsius float64) uint16 {
	return uint16(math.Round((celsius-temperatureOffset)/temperatureStep)) & rawCountMask
}

// DecodeRawCounts extracts the eight packed 13-bit counts from a 13-byte
// block in transmit order. Field i occupies bits [13*i, 13*i+13) of the
// byte-reversed block, MSB first.
func DecodeRawCounts(data []byte) (RawCounts, error) {
	var counts RawCounts
	if len(data) < PackedTemperatureLen {
		return counts, fmt.Errorf("packed temperature block %d bytes: %w", len(data), ErrBufferTooShort)
	}

	// Undo the transmit byte order.
	var block [PackedTemperatureLen]byte
	for i := 0; i < PackedTemperatureLen; i++ {
		block[i] = data[PackedTemperatureLen-1-i]
	}

	for i := 0; i < TemperatureCount; i++ {
		bitOffset := i * rawCountBits
		byteIdx := bitOffset / 8
		shift := bitOffset % 8

		// Collect up to 24 bits starting at byteIdx; the last field
		// ends exactly on the block boundary.
		v := uint32(block[byteIdx]) << 16
		if byteIdx+1 < PackedTemperatureLen {
			v |= uint32(block[byteIdx+1]) << 8
		}
		if byteIdx+2 < PackedTemperatureLen {
			v |= uint32(block[byteIdx+2])
		}

		counts[i] = uint16(v >> (24 - rawCountBits - shift) & rawCountMask)
	}

	return counts, nil
}

// DecodeTemperatures decodes a transmit-order 13-byte block into eight
// calibrated temperatures.
func DecodeTemperatures(data []byte) (Temperatures, error) {
	var temps Temperatures

	counts, err := DecodeRawCounts(data)
	if err != nil {
		return temps, err
	}

	for i, c := range counts {
		temps[i] = Celsius(c)
	}

	return temps, nil
}

// EncodeRawCounts packs eight 13-bit counts into a 13-byte block in
// transmit order. Counts above 13 bits are truncated.
func EncodeRawCounts(counts RawCounts) [PackedTemperatureLen]byte {
	var block [PackedTemperatureLen]byte

	for i := 0; i < TemperatureCount; i++ {
		c := uint32(counts[i]) & rawCountMask

		bitOffset := i * rawCountBits
		byteIdx := bitOffset / 8
		shift := bitOffset % 8

		spread := c << (24 - rawCountBits - shift)
		block[byteIdx] |= byte(spread >> 16)
		if byteIdx+1 < PackedTemperatureLen {
			block[byteIdx+1] |= byte(spread >> 8)
		}
		if byteIdx+2 < PackedTemperatureLen {
			block[byteIdx+2] |= byte(spread)
		}
	}

	// Back to transmit byte order.
	var out [PackedTemperatureLen]byte
	for i := 0; i < PackedTemperatureLen; i++ {
		out[i] = block[PackedTemperatureLen-1-i]
	}

	return out
}

// EncodeTemperatures is the inverse of DecodeTemperatures
func EncodeTemperatures(temps Temperatures) [PackedTemperatureLen]byte {
	var counts RawCounts
	for i, t := range temps {
		counts[i] = Count(t)
	}
	return EncodeRawCounts(counts)
}
