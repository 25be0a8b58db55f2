package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/pkg/probe"
)

// ========== Temperature Record Methods ==========

// UpsertTemperatureRecord stores a reconciled record. Re-ingesting the
// same (serial, session, sequence) overwrites the temperatures, which
// matches the engine's latest-write-wins duplicate handling.
func (s *PostgresStore) UpsertTemperatureRecord(ctx context.Context, rec *models.TemperatureRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	query := `
        INSERT INTO temperature_records (
            id, serial_number, session_id, sequence_number,
            temperatures, received_at
        ) VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (serial_number, session_id, sequence_number) DO UPDATE SET
            temperatures = EXCLUDED.temperatures,
            received_at = EXCLUDED.received_at`

	_, err := s.getDB().ExecContext(ctx, query,
		rec.ID, int64(rec.SerialNumber), rec.SessionID, int64(rec.SequenceNumber),
		pq.Float64Array(rec.Temperatures), rec.ReceivedAt,
	)
	return err
}

// ListTemperatureRecords lists records for a probe with pagination,
// ordered chronologically: session id first (ids sort by creation
// time), sequence number within each session.
func (s *PostgresStore) ListTemperatureRecords(ctx context.Context, serial probe.SerialNumber, limit, offset int) ([]*models.TemperatureRecord, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM temperature_records WHERE serial_number = $1`,
		int64(serial)).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, serial_number, session_id, sequence_number,
               temperatures, received_at
        FROM temperature_records
        WHERE serial_number = $1
        ORDER BY session_id, sequence_number
        LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, int64(serial), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records, err := scanTemperatureRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListAllTemperatureRecords returns a probe's full merged log in
// chronological order, for export.
func (s *PostgresStore) ListAllTemperatureRecords(ctx context.Context, serial probe.SerialNumber) ([]*models.TemperatureRecord, error) {
	query := `
        SELECT id, serial_number, session_id, sequence_number,
               temperatures, received_at
        FROM temperature_records
        WHERE serial_number = $1
        ORDER BY session_id, sequence_number`

	rows, err := s.getDB().QueryContext(ctx, query, int64(serial))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTemperatureRecords(rows)
}

func scanTemperatureRecords(rows *sql.Rows) ([]*models.TemperatureRecord, error) {
	var records []*models.TemperatureRecord

	for rows.Next() {
		rec := &models.TemperatureRecord{}
		var serialValue, seq int64
		var temps pq.Float64Array

		if err := rows.Scan(
			&rec.ID, &serialValue, &rec.SessionID, &seq,
			&temps, &rec.ReceivedAt,
		); err != nil {
			return nil, err
		}

		rec.SerialNumber = probe.SerialNumber(serialValue)
		rec.SequenceNumber = uint32(seq)
		rec.Temperatures = []float64(temps)
		records = append(records, rec)
	}

	return records, rows.Err()
}
