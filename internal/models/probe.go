package models

import (
	"time"

	"github.com/probe-link/probe-link-server/pkg/probe"
)

// Probe represents a registered temperature probe
type Probe struct {
	SerialNumber probe.SerialNumber `json:"serialNumber" db:"serial_number"`
	ProductType  probe.ProductType  `json:"-" db:"product_type"`
	Name         string             `json:"name" db:"name"`
	Description  string             `json:"description" db:"description"`

	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
}

// ConnectionState mirrors the transport's view of a probe. The engine
// only cares about transitions into and out of connected; the rest is
// carried through for observability.
type ConnectionState string

const (
	ConnectionConnecting    ConnectionState = "CONNECTING"
	ConnectionConnected     ConnectionState = "CONNECTED"
	ConnectionDisconnecting ConnectionState = "DISCONNECTING"
	ConnectionDisconnected  ConnectionState = "DISCONNECTED"
	ConnectionOutOfRange    ConnectionState = "OUT_OF_RANGE"
	ConnectionAdvertising   ConnectionState = "ADVERTISING"
)

// IsConnected reports whether the state counts as connected for the
// reconciliation engine.
func (c ConnectionState) IsConnected() bool {
	return c == ConnectionConnected
}

// Valid reports whether the state is one the transport may emit
func (c ConnectionState) Valid() bool {
	switch c {
	case ConnectionConnecting, ConnectionConnected, ConnectionDisconnecting,
		ConnectionDisconnected, ConnectionOutOfRange, ConnectionAdvertising:
		return true
	}
	return false
}
