package models

import (
	"time"

	"github.com/probe-link/probe-link-server/internal/reconcile"
	"github.com/probe-link/probe-link-server/pkg/probe"
)

// NATS subjects carrying probe traffic. The transport bridge publishes
// inbound frames exactly as delivered by the phone apps; the server
// publishes reconciled records, state transitions and outbound request
// frames.
const (
	SubjectAdvertising = "probe.%s.adv"
	SubjectStatus      = "probe.%s.status"
	SubjectUARTRX      = "probe.%s.uart.rx"
	SubjectUARTTX      = "probe.%s.uart.tx"
	SubjectConnection  = "probe.%s.connection"
	SubjectRecord      = "probe.%s.record"
	SubjectState       = "probe.%s.state"
	SubjectEvent       = "probe.%s.event"
)

// FrameEnvelope wraps one raw frame buffer. The transport delivers
// frames already delimited; no reassembly happens anywhere downstream.
type FrameEnvelope struct {
	SerialNumber probe.SerialNumber `json:"serialNumber"`
	Payload      []byte             `json:"payload"`
	ReceivedAt   time.Time          `json:"receivedAt"`
}

// ConnectionEnvelope carries a transport connection transition
type ConnectionEnvelope struct {
	SerialNumber probe.SerialNumber `json:"serialNumber"`
	State        ConnectionState    `json:"state"`
	ChangedAt    time.Time          `json:"changedAt"`
}

// RecordEnvelope publishes one newly reconciled record
type RecordEnvelope struct {
	SerialNumber   probe.SerialNumber `json:"serialNumber"`
	SessionID      string             `json:"sessionId"`
	SequenceNumber uint32             `json:"sequenceNumber"`
	Temperatures   []float64          `json:"temperatures"`
	ReceivedAt     time.Time          `json:"receivedAt"`
}

// StateEnvelope publishes one upload-state transition
type StateEnvelope struct {
	SerialNumber probe.SerialNumber    `json:"serialNumber"`
	State        reconcile.UploadState `json:"state"`
	ChangedAt    time.Time             `json:"changedAt"`
}

// EventEnvelope publishes one engine transition event
type EventEnvelope struct {
	SerialNumber probe.SerialNumber    `json:"serialNumber"`
	Event        reconcile.EngineEvent `json:"event"`
	OccurredAt   time.Time             `json:"occurredAt"`
}
