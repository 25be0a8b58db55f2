package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/pkg/probe"
)

// ========== Probe Methods ==========

// UpsertProbe creates a probe or refreshes its metadata on re-contact
func (s *PostgresStore) UpsertProbe(ctx context.Context, p *models.Probe) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
        INSERT INTO probes (
            serial_number, product_type, name, description,
            created_at, updated_at, last_seen_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (serial_number) DO UPDATE SET
            product_type = EXCLUDED.product_type,
            updated_at = EXCLUDED.updated_at,
            last_seen_at = EXCLUDED.last_seen_at`

	_, err := s.getDB().ExecContext(ctx, query,
		int64(p.SerialNumber), int16(p.ProductType), p.Name, p.Description,
		p.CreatedAt, p.UpdatedAt, p.LastSeenAt,
	)
	return err
}

// GetProbe gets a probe by serial number
func (s *PostgresStore) GetProbe(ctx context.Context, serial probe.SerialNumber) (*models.Probe, error) {
	query := `
        SELECT serial_number, product_type, name, description,
               created_at, updated_at, last_seen_at
        FROM probes
        WHERE serial_number = $1`

	p := &models.Probe{}
	var serialValue int64
	var productType int16

	err := s.getDB().QueryRowContext(ctx, query, int64(serial)).Scan(
		&serialValue, &productType, &p.Name, &p.Description,
		&p.CreatedAt, &p.UpdatedAt, &p.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.SerialNumber = probe.SerialNumber(serialValue)
	p.ProductType = probe.ProductType(productType)
	return p, nil
}

// UpdateProbe updates the user-editable probe fields
func (s *PostgresStore) UpdateProbe(ctx context.Context, p *models.Probe) error {
	p.UpdatedAt = time.Now()

	query := `
        UPDATE probes
        SET name = $2, description = $3, updated_at = $4
        WHERE serial_number = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		int64(p.SerialNumber), p.Name, p.Description, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProbe deletes a probe and its records
func (s *PostgresStore) DeleteProbe(ctx context.Context, serial probe.SerialNumber) error {
	if _, err := s.getDB().ExecContext(ctx,
		`DELETE FROM temperature_records WHERE serial_number = $1`, int64(serial)); err != nil {
		return err
	}

	result, err := s.getDB().ExecContext(ctx,
		`DELETE FROM probes WHERE serial_number = $1`, int64(serial))
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProbes lists probes with pagination
func (s *PostgresStore) ListProbes(ctx context.Context, limit, offset int) ([]*models.Probe, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM probes`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT serial_number, product_type, name, description,
               created_at, updated_at, last_seen_at
        FROM probes
        ORDER BY serial_number
        LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var probes []*models.Probe
	for rows.Next() {
		p := &models.Probe{}
		var serialValue int64
		var productType int16

		if err := rows.Scan(
			&serialValue, &productType, &p.Name, &p.Description,
			&p.CreatedAt, &p.UpdatedAt, &p.LastSeenAt,
		); err != nil {
			return nil, 0, err
		}

		p.SerialNumber = probe.SerialNumber(serialValue)
		p.ProductType = probe.ProductType(productType)
		probes = append(probes, p)
	}

	return probes, total, rows.Err()
}

// TouchProbe updates a probe's last-seen timestamp
func (s *PostgresStore) TouchProbe(ctx context.Context, serial probe.SerialNumber) error {
	_, err := s.getDB().ExecContext(ctx,
		`UPDATE probes SET last_seen_at = $2, updated_at = $2 WHERE serial_number = $1`,
		int64(serial), time.Now())
	return err
}
