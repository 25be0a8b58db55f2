package probe

import (
	"math"
	"math/rand"
	"testing"
)

func TestCelsiusMapping(t *testing.T) {
	tests := []struct {
		count uint16
		want  float64
	}{
		{0, -20.0},
		{400, 0.0},
		{420, 1.0},
		{8191, 389.55},
	}

	for _, tt := range tests {
		got := Celsius(tt.count)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Celsius(%d) = %v, want %v", tt.count, got, tt.want)
		}
		if back := Count(got); back != tt.count {
			t.Errorf("Count(Celsius(%d)) = %d", tt.count, back)
		}
	}
}

func TestDecodeRawCountsFirstField(t *testing.T) {
	// Transmit order is reversed, so the last transmitted byte holds
	// the top of field 0. 0xFF there puts ones in bits 0..7 of the
	// bitstream: field 0 = 0b1111111100000.
	data := make([]byte, PackedTemperatureLen)
	data[PackedTemperatureLen-1] = 0xFF

	counts, err := DecodeRawCounts(data)
	if err != nil {
		t.Fatalf("DecodeRawCounts: %v", err)
	}

	if counts[0] != 0x1FE0 {
		t.Errorf("counts[0] = %#x, want 0x1FE0", counts[0])
	}
	for i := 1; i < TemperatureCount; i++ {
		if counts[i] != 0 {
			t.Errorf("counts[%d] = %d, want 0", i, counts[i])
		}
	}
}

func TestDecodeRawCountsAllOnes(t *testing.T) {
	data := make([]byte, PackedTemperatureLen)
	for i := range data {
		data[i] = 0xFF
	}

	counts, err := DecodeRawCounts(data)
	if err != nil {
		t.Fatalf("DecodeRawCounts: %v", err)
	}

	for i, c := range counts {
		if c != rawCountMask {
			t.Errorf("counts[%d] = %d, want %d", i, c, rawCountMask)
		}
	}
}

func TestRawCountsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	cases := []RawCounts{
		{},
		{8191, 8191, 8191, 8191, 8191, 8191, 8191, 8191},
		{1, 2, 3, 4, 5, 6, 7, 8},
		{8191, 0, 8191, 0, 8191, 0, 8191, 0},
	}
	for i := 0; i < 200; i++ {
		var c RawCounts
		for j := range c {
			c[j] = uint16(rng.Intn(1 << rawCountBits))
		}
		cases = append(cases, c)
	}

	for _, counts := range cases {
		block := EncodeRawCounts(counts)
		got, err := DecodeRawCounts(block[:])
		if err != nil {
			t.Fatalf("DecodeRawCounts: %v", err)
		}
		if got != counts {
			t.Errorf("round trip %v -> %v", counts, got)
		}
	}
}

func TestTemperaturesRoundTrip(t *testing.T) {
	temps := Temperatures{-20.0, 0.0, 25.5, 100.0, 204.85, 389.55, 37.0, 1.05}

	block := EncodeTemperatures(temps)
	got, err := DecodeTemperatures(block[:])
	if err != nil {
		t.Fatalf("DecodeTemperatures: %v", err)
	}

	for i := range temps {
		if math.Abs(got[i]-temps[i]) > 1e-9 {
			t.Errorf("channel %d: got %v, want %v", i+1, got[i], temps[i])
		}
	}
}

func TestDecodeRawCountsShortBuffer(t *testing.T) {
	if _, err := DecodeRawCounts(make([]byte, 12)); err == nil {
		t.Error("expected error for 12-byte block")
	}
}
