package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Operation classifies what a change did to its entity.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ChangeRecord is the ledger's atomic unit: one entity change, stamped with a
// tenant-scoped monotonically increasing sequence number. Records are
// immutable once appended; there is no update or delete path.
//
// Entity payloads are opaque documents - the ledger never inspects Data
// beyond storing and returning it.
type ChangeRecord struct {
	ChangeID       uuid.UUID       `json:"changeId"`
	SequenceNumber int64           `json:"sequenceNumber"`
	TenantID       string          `json:"tenantId"`
	OrganizationID string          `json:"organizationId"`
	ClinicID       string          `json:"clinicId,omitempty"`
	EntityType     string          `json:"entityType"`
	EntityID       string          `json:"entityId"`
	Operation      Operation       `json:"operation"`
	Data           json.RawMessage `json:"data,omitempty"`
	PreviousData   json.RawMessage `json:"previousData,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	// SourceDeviceID is empty for server-originated records (event bridge).
	SourceDeviceID string `json:"sourceDeviceId,omitempty"`
	EventID        string `json:"eventId,omitempty"`
	EventType      string `json:"eventType,omitempty"`
}

// Query scopes a cursor read of the ledger. ClinicID, when set, matches
// records tagged with that clinic or records with no clinic at all:
// org-level changes are visible to every clinic.
type Query struct {
	TenantID       string
	OrganizationID string
	ClinicID       string
	SinceSequence  int64
	Limit          int
	EntityType     string
}
