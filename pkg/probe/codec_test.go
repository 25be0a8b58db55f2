package probe

import (
	"errors"
	"testing"
)

func TestDecodeAdvertising(t *testing.T) {
	adv := &Advertising{
		ProductType:  ProductTypeProbe,
		SerialNumber: 0x10001DE5,
		Temperatures: Temperatures{20.0, 21.0, 22.0, 23.0, 24.0, 25.0, 26.0, 27.0},
	}

	got, err := DecodeAdvertising(EncodeAdvertising(adv))
	if err != nil {
		t.Fatalf("DecodeAdvertising: %v", err)
	}

	if got.ProductType != ProductTypeProbe {
		t.Errorf("product type = %v", got.ProductType)
	}
	if got.SerialNumber != adv.SerialNumber {
		t.Errorf("serial = %v, want %v", got.SerialNumber, adv.SerialNumber)
	}
	if got.SerialNumber.String() != "10001DE5" {
		t.Errorf("serial string = %q, want 10001DE5", got.SerialNumber.String())
	}
}

func TestDecodeAdvertisingSerialByteOrder(t *testing.T) {
	// Serial bytes appear on the wire most significant first relative
	// to the display form.
	data := make([]byte, AdvertisingPayloadLen)
	data[0] = byte(ProductTypeNode)
	copy(data[1:5], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	got, err := DecodeAdvertising(data)
	if err != nil {
		t.Fatalf("DecodeAdvertising: %v", err)
	}
	if got.SerialNumber.String() != "DEADBEEF" {
		t.Errorf("serial = %q, want DEADBEEF", got.SerialNumber.String())
	}
}

func TestDecodeAdvertisingErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", make([]byte, 17), ErrBufferTooShort},
		{"bad product type", append([]byte{0x09}, make([]byte, 17)...), ErrUnknownProductType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAdvertising(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeDeviceStatus(t *testing.T) {
	status := &DeviceStatus{
		MinSequence:  10,
		MaxSequence:  15,
		Temperatures: Temperatures{30.0, 31.0, 32.0, 33.0, 34.0, 35.0, 36.0, 37.0},
	}

	got, err := DecodeDeviceStatus(EncodeDeviceStatus(status))
	if err != nil {
		t.Fatalf("DecodeDeviceStatus: %v", err)
	}

	if got.MinSequence != 10 || got.MaxSequence != 15 {
		t.Errorf("window = [%d, %d], want [10, 15]", got.MinSequence, got.MaxSequence)
	}
}

func TestDecodeDeviceStatusShortBuffer(t *testing.T) {
	_, err := DecodeDeviceStatus(make([]byte, 20))
	if !errors.Is(err, ErrBufferTooShort) {
		t.Errorf("got %v, want ErrBufferTooShort", err)
	}
}

func TestLogRequestEncode(t *testing.T) {
	req := &LogRequest{MinSequence: 10, MaxSequence: 15}
	frame := req.Encode()

	want := []byte{
		0xCA, 0xFE, 0x00, 0x00, 0x04, 0x08,
		0x0A, 0x00, 0x00, 0x00,
		0x0F, 0x00, 0x00, 0x00,
	}
	if len(frame) != len(want) {
		t.Fatalf("frame length = %d, want %d", len(frame), len(want))
	}
	for i := range want {
		if frame[i] != want[i] {
			t.Errorf("frame[%d] = %#02x, want %#02x", i, frame[i], want[i])
		}
	}

	back, err := DecodeLogRequest(frame)
	if err != nil {
		t.Fatalf("DecodeLogRequest: %v", err)
	}
	if *back != *req {
		t.Errorf("round trip = %+v, want %+v", back, req)
	}
}

func TestDecodeResponse(t *testing.T) {
	resp := &LogResponse{
		Success:        true,
		SequenceNumber: 42,
		Temperatures:   Temperatures{20.0, 20.0, 20.0, 20.0, 20.0, 20.0, 20.0, 20.0},
	}

	got, err := DecodeResponse(EncodeResponse(resp))
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if !got.Success || got.SequenceNumber != 42 {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeResponseRejects(t *testing.T) {
	valid := EncodeResponse(&LogResponse{Success: true, SequenceNumber: 1})

	badSync := append([]byte{}, valid...)
	badSync[0] = 0xDE

	badType := append([]byte{}, valid...)
	badType[4] = 0x7F

	shortPayload := append([]byte{}, valid...)
	shortPayload[6] = 5

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated header", valid[:6], ErrBufferTooShort},
		{"bad sync", badSync, ErrBadSyncBytes},
		{"unknown type", badType, ErrUnknownMessageType},
		{"short payload", shortPayload, ErrShortPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseSerialNumber(t *testing.T) {
	s, err := ParseSerialNumber("10001DE5")
	if err != nil {
		t.Fatalf("ParseSerialNumber: %v", err)
	}
	if s != 0x10001DE5 {
		t.Errorf("parsed = %#x", uint32(s))
	}

	if _, err := ParseSerialNumber("XYZ"); err == nil {
		t.Error("expected error for invalid serial")
	}
}
