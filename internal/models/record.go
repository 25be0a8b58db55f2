package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/probe-link/probe-link-server/pkg/probe"
)

// TemperatureRecord is one persisted sample of the merged log
type TemperatureRecord struct {
	ID           uuid.UUID          `json:"id" db:"id"`
	SerialNumber probe.SerialNumber `json:"serialNumber" db:"serial_number"`

	SessionID      string    `json:"sessionId" db:"session_id"`
	SequenceNumber uint32    `json:"sequenceNumber" db:"sequence_number"`
	Temperatures   []float64 `json:"temperatures" db:"temperatures"`

	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`
}
