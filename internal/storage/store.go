package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/pkg/probe"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// EventLogFilters narrows event log listings
type EventLogFilters struct {
	SerialNumber *probe.SerialNumber
	Type         *models.EventType
	Level        *models.EventLevel
	StartTime    *time.Time
	EndTime      *time.Time
}

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error)

	// Probe methods
	UpsertProbe(ctx context.Context, p *models.Probe) error
	GetProbe(ctx context.Context, serial probe.SerialNumber) (*models.Probe, error)
	UpdateProbe(ctx context.Context, p *models.Probe) error
	DeleteProbe(ctx context.Context, serial probe.SerialNumber) error
	ListProbes(ctx context.Context, limit, offset int) ([]*models.Probe, int64, error)
	TouchProbe(ctx context.Context, serial probe.SerialNumber) error

	// Temperature record methods
	UpsertTemperatureRecord(ctx context.Context, rec *models.TemperatureRecord) error
	ListTemperatureRecords(ctx context.Context, serial probe.SerialNumber, limit, offset int) ([]*models.TemperatureRecord, int64, error)
	ListAllTemperatureRecords(ctx context.Context, serial probe.SerialNumber) ([]*models.TemperatureRecord, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	Close() error
}
