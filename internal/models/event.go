package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/probe-link/probe-link-server/pkg/probe"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	SerialNumber *probe.SerialNumber `json:"serialNumber,omitempty" db:"serial_number"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Probe lifecycle
	EventTypeProbeSeen    EventType = "PROBE_SEEN"
	EventTypeConnection   EventType = "CONNECTION"
	EventTypeSessionStart EventType = "SESSION_STARTED"

	// Transfers
	EventTypeTransferStarted  EventType = "TRANSFER_STARTED"
	EventTypeTransferComplete EventType = "TRANSFER_COMPLETE"
	EventTypeTransferStalled  EventType = "TRANSFER_STALLED"
	EventTypeBackfill         EventType = "BACKFILL"

	// Frame handling
	EventTypeDecodeError EventType = "DECODE_ERROR"
	EventTypeIntegration EventType = "INTEGRATION"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)
