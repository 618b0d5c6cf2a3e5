package sync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"clinicsync/internal/ledger"
	domainerrors "clinicsync/pkg/domain-errors"
)

// Strategy picks how a cross-device conflict is resolved.
type Strategy string

const (
	StrategyServerWins Strategy = "SERVER_WINS"
	StrategyClientWins Strategy = "CLIENT_WINS"
	StrategyMerge      Strategy = "MERGE"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyServerWins, StrategyClientWins, StrategyMerge:
		return Strategy(s), nil
	}
	return "", domainerrors.New(domainerrors.CodeBadRequest, "unknown conflict strategy: "+s)
}

// Batch is one client upload: the device's cursor plus its candidate changes.
// Batches are transient; only the resulting ledger records persist.
type Batch struct {
	DeviceID       uuid.UUID     `json:"deviceId"`
	TenantID       string        `json:"tenantId"`
	OrganizationID string        `json:"organizationId"`
	ClinicID       string        `json:"clinicId,omitempty"`
	LastSequence   int64         `json:"lastSequence"`
	Changes        []BatchChange `json:"changes"`
	Timestamp      time.Time     `json:"timestamp"`
}

// BatchChange is one candidate change inside a batch. ChangeID is the
// client's correlation id; the ledger assigns its own record identity.
type BatchChange struct {
	ChangeID     uuid.UUID        `json:"changeId"`
	EntityType   string           `json:"entityType"`
	EntityID     string           `json:"entityId"`
	Operation    ledger.Operation `json:"operation"`
	Data         json.RawMessage  `json:"data,omitempty"`
	PreviousData json.RawMessage  `json:"previousData,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// ConflictResult tells the client how one of its changes was reconciled. The
// client must adopt ResolvedData locally; the resolution itself is persisted
// as a new ledger record, not as this struct.
type ConflictResult struct {
	ChangeID      uuid.UUID       `json:"changeId"`
	EntityType    string          `json:"entityType"`
	EntityID      string          `json:"entityId"`
	Strategy      Strategy        `json:"strategy"`
	ResolvedData  json.RawMessage `json:"resolvedData,omitempty"`
	ServerVersion int64           `json:"serverVersion"`
	ClientVersion int64           `json:"clientVersion"`
}

// UploadResult summarizes one processed batch.
type UploadResult struct {
	Accepted    int              `json:"accepted"`
	Rejected    int              `json:"rejected"`
	Conflicts   []ConflictResult `json:"conflicts"`
	NewSequence int64            `json:"newSequence"`
	Timestamp   time.Time        `json:"timestamp"`
}

// DownloadResult is a cursor page of ledger records.
type DownloadResult struct {
	Changes         []ledger.ChangeRecord `json:"changes"`
	CurrentSequence int64                 `json:"currentSequence"`
	HasMore         bool                  `json:"hasMore"`
}
