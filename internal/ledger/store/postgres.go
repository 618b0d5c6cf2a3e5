package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"clinicsync/internal/ledger"
)

// PostgresStore persists the ledger in the change_records table. Sequence
// numbers are assigned by the service's SequenceAuthority before Append is
// called; the unique index on sequence_number is the last line of defense
// against a misconfigured authority.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, record ledger.ChangeRecord) error {
	query := `
		INSERT INTO change_records (
			change_id, sequence_number, tenant_id, organization_id, clinic_id,
			entity_type, entity_id, operation, data, previous_data, ts,
			source_device_id, event_id, event_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ChangeID,
		record.SequenceNumber,
		record.TenantID,
		record.OrganizationID,
		nullString(record.ClinicID),
		record.EntityType,
		record.EntityID,
		string(record.Operation),
		nullBytes(record.Data),
		nullBytes(record.PreviousData),
		record.Timestamp,
		nullString(record.SourceDeviceID),
		nullString(record.EventID),
		nullString(record.EventType),
	)
	if err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Since(ctx context.Context, q ledger.Query) ([]ledger.ChangeRecord, error) {
	query := `
		SELECT change_id, sequence_number, tenant_id, organization_id, clinic_id,
		       entity_type, entity_id, operation, data, previous_data, ts,
		       source_device_id, event_id, event_type
		FROM change_records
		WHERE tenant_id = $1 AND sequence_number > $2
	`
	args := []any{q.TenantID, q.SinceSequence}
	if q.OrganizationID != "" {
		args = append(args, q.OrganizationID)
		query += " AND organization_id = $" + strconv.Itoa(len(args))
	}
	if q.ClinicID != "" {
		// Org-level records carry no clinic and are visible everywhere.
		args = append(args, q.ClinicID)
		query += " AND (clinic_id = $" + strconv.Itoa(len(args)) + " OR clinic_id IS NULL)"
	}
	if q.EntityType != "" {
		args = append(args, q.EntityType)
		query += " AND entity_type = $" + strconv.Itoa(len(args))
	}
	args = append(args, q.Limit)
	query += " ORDER BY sequence_number ASC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) LatestSequence(ctx context.Context, tenantID string) (int64, error) {
	var latest int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM change_records WHERE tenant_id = $1`,
		tenantID,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("query latest sequence: %w", err)
	}
	return latest, nil
}

func (s *PostgresStore) MaxSequence(ctx context.Context) (int64, error) {
	var latest int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM change_records`,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("query max sequence: %w", err)
	}
	return latest, nil
}

func (s *PostgresStore) ByEntity(ctx context.Context, tenantID, entityType, entityID string, limit int) ([]ledger.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, sequence_number, tenant_id, organization_id, clinic_id,
		       entity_type, entity_id, operation, data, previous_data, ts,
		       source_device_id, event_id, event_type
		FROM change_records
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY sequence_number DESC
		LIMIT $4
	`, tenantID, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query entity history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]ledger.ChangeRecord, error) {
	var out []ledger.ChangeRecord
	for rows.Next() {
		var (
			rec            ledger.ChangeRecord
			changeID       uuid.UUID
			clinicID       sql.NullString
			data           []byte
			previousData   []byte
			operation      string
			sourceDeviceID sql.NullString
			eventID        sql.NullString
			eventType      sql.NullString
		)
		err := rows.Scan(
			&changeID, &rec.SequenceNumber, &rec.TenantID, &rec.OrganizationID,
			&clinicID, &rec.EntityType, &rec.EntityID, &operation, &data,
			&previousData, &rec.Timestamp, &sourceDeviceID, &eventID, &eventType,
		)
		if err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		rec.ChangeID = changeID
		rec.ClinicID = clinicID.String
		rec.Operation = ledger.Operation(operation)
		rec.Data = data
		rec.PreviousData = previousData
		rec.SourceDeviceID = sourceDeviceID.String
		rec.EventID = eventID.String
		rec.EventType = eventType.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change records: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
