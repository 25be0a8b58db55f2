package probe

import (
	"encoding/binary"
	"fmt"
)

// Request/response framing on the UART characteristics. Both directions
// start with the 0xCA 0xFE sync word; requests carry a 6-byte header,
// responses a 7-byte header with an extra success flag.
const (
	syncByte0 = 0xCA
	syncByte1 = 0xFE

	requestHeaderLen  = 6
	responseHeaderLen = 7

	logRequestPayloadLen  = 8
	logResponsePayloadLen = 4 + PackedTemperatureLen
)

// LogRequest asks the device to stream the records in
// [MinSequence, MaxSequence], one response frame each.
type LogRequest struct {
	MinSequence uint32
	MaxSequence uint32
}

// Encode serializes the request into a transport-ready frame
func (r *LogRequest) Encode() []byte {
	frame := make([]byte, requestHeaderLen+logRequestPayloadLen)
	frame[0] = syncByte0
	frame[1] = syncByte1
	// frame[2], frame[3] reserved
	frame[4] = byte(MessageTypeLog)
	frame[5] = logRequestPayloadLen
	binary.LittleEndian.PutUint32(frame[6:10], r.MinSequence)
	binary.LittleEndian.PutUint32(frame[10:14], r.MaxSequence)
	return frame
}

// DecodeLogRequest parses a request frame. Only used by tests and
// device simulators; the phone side never receives requests.
func DecodeLogRequest(data []byte) (*LogRequest, error) {
	if len(data) < requestHeaderLen+logRequestPayloadLen {
		return nil, fmt.Errorf("request frame %d bytes: %w", len(data), ErrBufferTooShort)
	}
	if data[0] != syncByte0 || data[1] != syncByte1 {
		return nil, fmt.Errorf("request sync %02X %02X: %w", data[0], data[1], ErrBadSyncBytes)
	}
	if MessageType(data[4]) != MessageTypeLog {
		return nil, fmt.Errorf("request type 0x%02X: %w", data[4], ErrUnknownMessageType)
	}
	if int(data[5]) < logRequestPayloadLen {
		return nil, fmt.Errorf("request payload length %d: %w", data[5], ErrShortPayload)
	}

	return &LogRequest{
		MinSequence: binary.LittleEndian.Uint32(data[6:10]),
		MaxSequence: binary.LittleEndian.Uint32(data[10:14]),
	}, nil
}

// LogResponse is one historical record streamed back during a bulk
// transfer.
type LogResponse struct {
	Success        bool
	SequenceNumber uint32
	Temperatures   Temperatures
}

// DecodeResponse parses a UART-TX notification. Frames with bad sync
// bytes, an unrecognized message type, or a payload shorter than the
// type's minimum are rejected with a typed error; the caller counts
// and drops them.
func DecodeResponse(data []byte) (*LogResponse, error) {
	if len(data) < responseHeaderLen {
		return nil, fmt.Errorf("response frame %d bytes: %w", len(data), ErrBufferTooShort)
	}
	if data[0] != syncByte0 || data[1] != syncByte1 {
		return nil, fmt.Errorf("response sync %02X %02X: %w", data[0], data[1], ErrBadSyncBytes)
	}

	msgType := MessageType(data[4])
	minLen, ok := minResponsePayloadLen(msgType)
	if !ok {
		return nil, fmt.Errorf("response type 0x%02X: %w", data[4], ErrUnknownMessageType)
	}

	payloadLen := int(data[6])
	if payloadLen < minLen || len(data) < responseHeaderLen+minLen {
		return nil, fmt.Errorf("response payload length %d, want >= %d: %w", payloadLen, minLen, ErrShortPayload)
	}

	payload := data[responseHeaderLen:]
	temps, err := DecodeTemperatures(payload[4 : 4+PackedTemperatureLen])
	if err != nil {
		return nil, fmt.Errorf("decode response temperatures: %w", err)
	}

	return &LogResponse{
		Success:        data[5] != 0,
		SequenceNumber: binary.LittleEndian.Uint32(payload[0:4]),
		Temperatures:   temps,
	}, nil
}

// EncodeResponse builds a log-response frame. Test/simulator helper.
func EncodeResponse(r *LogResponse) []byte {
	frame := make([]byte, responseHeaderLen+logResponsePayloadLen)
	frame[0] = syncByte0
	frame[1] = syncByte1
	frame[4] = byte(MessageTypeLog)
	if r.Success {
		frame[5] = 1
	}
	frame[6] = logResponsePayloadLen
	binary.LittleEndian.PutUint32(frame[7:11], r.SequenceNumber)

	block := EncodeTemperatures(r.Temperatures)
	copy(frame[11:], block[:])

	return frame
}
