package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Abmarne/tadreeblms/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const licenseColumns = `id, license_key, status, max_users, license_type, licensed_to,
	licensee_email, expiry_date, support_valid_until, last_validated_at,
	validation_response, metadata, is_active, created_at, updated_at`

// GetActiveLicense returns the license with is_active=true, or nil if none.
func (db *DB) GetActiveLicense(ctx context.Context) (*models.License, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE is_active
	`)

	lic, err := scanLicense(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get active license: %w", err)
	}
	return lic, nil
}

// GetLicenseByID returns a license by ID, or nil if not found.
func (db *DB) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE id = $1
	`, id)

	lic, err := scanLicense(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get license by id: %w", err)
	}
	return lic, nil
}

// ListLicenses returns all license records, newest first. Deactivated records
// are kept as audit history.
func (db *DB) ListLicenses(ctx context.Context, limit, offset int) ([]*models.License, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, lic)
	}
	return licenses, rows.Err()
}

// ActivateLicense inserts a new license with is_active=true, deactivating any
// currently active record in the same transaction. The partial unique index
// on is_active backstops the single-active invariant against concurrent
// activations.
func (db *DB) ActivateLicense(ctx context.Context, lic *models.License) error {
	now := time.Now()
	if lic.ID == uuid.Nil {
		lic.ID = uuid.New()
	}
	lic.IsActive = true
	lic.CreatedAt = now
	lic.UpdatedAt = now

	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE licenses SET is_active = FALSE, updated_at = $1 WHERE is_active
		`, now); err != nil {
			return fmt.Errorf("deactivate previous license: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO licenses (id, license_key, status, max_users, license_type,
				licensed_to, licensee_email, expiry_date, support_valid_until,
				last_validated_at, validation_response, metadata, is_active,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			lic.ID, lic.LicenseKey, string(lic.Status), lic.MaxUsers, lic.LicenseType,
			lic.LicensedTo, lic.LicenseeEmail, lic.ExpiryDate, lic.SupportValidUntil,
			lic.LastValidatedAt, lic.ValidationResponse, lic.Metadata, lic.IsActive,
			lic.CreatedAt, lic.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert license: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("activate license: %w", err)
	}
	return nil
}

// UpdateLicense refreshes the validation-derived fields of a license record.
// It never changes is_active; use ActivateLicense / DeactivateLicense for that.
func (db *DB) UpdateLicense(ctx context.Context, lic *models.License) error {
	lic.UpdatedAt = time.Now()
	_, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET status = $2, max_users = $3, license_type = $4, licensed_to = $5,
			licensee_email = $6, expiry_date = $7, support_valid_until = $8,
			last_validated_at = $9, validation_response = $10, metadata = $11,
			updated_at = $12
		WHERE id = $1
	`,
		lic.ID, string(lic.Status), lic.MaxUsers, lic.LicenseType, lic.LicensedTo,
		lic.LicenseeEmail, lic.ExpiryDate, lic.SupportValidUntil, lic.LastValidatedAt,
		lic.ValidationResponse, lic.Metadata, lic.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	return nil
}

// DeactivateLicense sets is_active=false on the given record. Idempotent; the
// record itself is preserved as audit history.
func (db *DB) DeactivateLicense(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE licenses SET is_active = FALSE, updated_at = $2 WHERE id = $1
	`, id, time.Now())
	if err != nil {
		return fmt.Errorf("deactivate license: %w", err)
	}
	return nil
}

// scanLicense scans a license row into a License model.
func scanLicense(row pgx.Row) (*models.License, error) {
	var lic models.License
	var status string

	err := row.Scan(
		&lic.ID, &lic.LicenseKey, &status, &lic.MaxUsers, &lic.LicenseType,
		&lic.LicensedTo, &lic.LicenseeEmail, &lic.ExpiryDate, &lic.SupportValidUntil,
		&lic.LastValidatedAt, &lic.ValidationResponse, &lic.Metadata, &lic.IsActive,
		&lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	lic.Status = models.LicenseStatus(status)
	return &lic, nil
}
