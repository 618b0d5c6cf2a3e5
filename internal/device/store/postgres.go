package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"clinicsync/internal/device"
)

// PostgresStore persists devices. The partial unique index on
// (tenant_id, organization_id, hardware_hash) WHERE status = 'ACTIVE' backs
// the one-active-device invariant even under concurrent registrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, d device.Device) error {
	query := `
		INSERT INTO devices (
			device_id, device_name, tenant_id, organization_id, clinic_id,
			user_id, platform, os_version, app_version, hardware_hash,
			cpu_arch, total_memory_mb, status, access_token, last_seen_at,
			registered_at, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	clinicID := sql.NullString{String: d.ClinicID, Valid: d.ClinicID != ""}
	var revokedAt sql.NullTime
	if d.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: *d.RevokedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		d.DeviceID, d.DeviceName, d.TenantID, d.OrganizationID, clinicID,
		d.UserID, string(d.Metadata.Platform), d.Metadata.OSVersion,
		d.Metadata.AppVersion, d.Metadata.HardwareHash, d.Metadata.CPUArch,
		d.Metadata.TotalMemoryMB, string(d.Status), d.AccessToken,
		d.LastSeenAt, d.RegisteredAt, revokedAt,
	)
	if err != nil {
		// The only realistic unique violation here is the partial index
		// on (tenant_id, organization_id, hardware_hash) for ACTIVE rows.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return device.ErrDuplicateHardware
		}
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, deviceID uuid.UUID, tenantID string) (device.Device, error) {
	row := s.db.QueryRowContext(ctx, selectDevice+` WHERE device_id = $1 AND tenant_id = $2`, deviceID, tenantID)
	return scanDevice(row)
}

func (s *PostgresStore) FindActiveByHardware(ctx context.Context, tenantID, organizationID, hardwareHash string) (device.Device, error) {
	row := s.db.QueryRowContext(ctx, selectDevice+`
		WHERE tenant_id = $1 AND organization_id = $2 AND hardware_hash = $3 AND status = 'ACTIVE'`,
		tenantID, organizationID, hardwareHash,
	)
	return scanDevice(row)
}

func (s *PostgresStore) UpdateLastSeen(ctx context.Context, deviceID uuid.UUID, tenantID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = $1 WHERE device_id = $2 AND tenant_id = $3`,
		at, deviceID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) MarkRevoked(ctx context.Context, deviceID uuid.UUID, tenantID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET status = 'REVOKED', revoked_at = $1
		WHERE device_id = $2 AND tenant_id = $3 AND status = 'ACTIVE'`,
		at, deviceID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("mark revoked: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListActiveByUser(ctx context.Context, userID, tenantID string) ([]device.Device, error) {
	rows, err := s.db.QueryContext(ctx, selectDevice+`
		WHERE tenant_id = $1 AND user_id = $2 AND status = 'ACTIVE'
		ORDER BY last_seen_at DESC`,
		tenantID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []device.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return out, nil
}

const selectDevice = `
	SELECT device_id, device_name, tenant_id, organization_id, clinic_id,
	       user_id, platform, os_version, app_version, hardware_hash,
	       cpu_arch, total_memory_mb, status, access_token, last_seen_at,
	       registered_at, revoked_at
	FROM devices`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (device.Device, error) {
	var (
		d         device.Device
		clinicID  sql.NullString
		platform  string
		status    string
		revokedAt sql.NullTime
	)
	err := row.Scan(
		&d.DeviceID, &d.DeviceName, &d.TenantID, &d.OrganizationID, &clinicID,
		&d.UserID, &platform, &d.Metadata.OSVersion, &d.Metadata.AppVersion,
		&d.Metadata.HardwareHash, &d.Metadata.CPUArch, &d.Metadata.TotalMemoryMB,
		&status, &d.AccessToken, &d.LastSeenAt, &d.RegisteredAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return device.Device{}, device.ErrNotFound
	}
	if err != nil {
		return device.Device{}, fmt.Errorf("scan device: %w", err)
	}
	d.ClinicID = clinicID.String
	d.Metadata.Platform = device.Platform(platform)
	d.Status = device.Status(status)
	if revokedAt.Valid {
		d.RevokedAt = &revokedAt.Time
	}
	return d, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return device.ErrNotFound
	}
	return nil
}
