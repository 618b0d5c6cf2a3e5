package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinicsync/internal/device"
	"clinicsync/internal/ledger"
	"clinicsync/internal/platform/metrics"
	domainerrors "clinicsync/pkg/domain-errors"
)

// DeviceVerifier is the registry gate the coordinator checks before touching
// the ledger on a device's behalf.
type DeviceVerifier interface {
	Verify(ctx context.Context, deviceID uuid.UUID, tenantID string) (*device.Device, error)
}

// Coordinator orchestrates client uploads (conflict detection, resolution,
// ledger append) and cursor downloads.
//
// Conflict detection inspects only the most recent window records per entity.
// That avoids a full version table at the cost of missing conflicts when more
// than window interleaving writes land between a client's sync cycles - a
// deliberate trade-off, not a defect.
type Coordinator struct {
	ledger  *ledger.Service
	devices DeviceVerifier
	metrics *metrics.Metrics
	logger  *slog.Logger

	strategy     Strategy
	window       int
	limitDefault int
	limitMax     int
}

// Options tune the coordinator. Zero values fall back to the documented
// defaults (SERVER_WINS, window 5, limits 100/1000).
type Options struct {
	Strategy     Strategy
	Window       int
	LimitDefault int
	LimitMax     int
}

func NewCoordinator(lgr *ledger.Service, devices DeviceVerifier, m *metrics.Metrics, logger *slog.Logger, opts Options) *Coordinator {
	if opts.Strategy == "" {
		opts.Strategy = StrategyServerWins
	}
	if opts.Window <= 0 {
		opts.Window = 5
	}
	if opts.LimitDefault <= 0 {
		opts.LimitDefault = 100
	}
	if opts.LimitMax <= 0 {
		opts.LimitMax = 1000
	}
	return &Coordinator{
		ledger:       lgr,
		devices:      devices,
		metrics:      m,
		logger:       logger,
		strategy:     opts.Strategy,
		window:       opts.Window,
		limitDefault: opts.LimitDefault,
		limitMax:     opts.LimitMax,
	}
}

// Upload processes a batch. Changes are handled strictly sequentially so
// per-entity conflict checks stay consistent within the batch; a failure on
// one change rejects only that change. The whole batch is refused only when
// the submitting device is not ACTIVE.
func (c *Coordinator) Upload(ctx context.Context, batch Batch) (UploadResult, error) {
	if _, err := c.devices.Verify(ctx, batch.DeviceID, batch.TenantID); err != nil {
		return UploadResult{}, err
	}
	c.metrics.SyncBatches.Inc()

	result := UploadResult{Timestamp: time.Now().UTC()}
	for _, change := range batch.Changes {
		conflict, err := c.processChange(ctx, batch, change)
		if err != nil {
			result.Rejected++
			c.metrics.SyncRejected.Inc()
			c.logger.WarnContext(ctx, "change rejected",
				"tenant_id", batch.TenantID,
				"device_id", batch.DeviceID,
				"entity_type", change.EntityType,
				"entity_id", change.EntityID,
				"error", err,
			)
			continue
		}
		result.Accepted++
		if conflict != nil {
			result.Conflicts = append(result.Conflicts, *conflict)
		}
	}

	newSequence, err := c.ledger.Latest(ctx, batch.TenantID)
	if err != nil {
		return UploadResult{}, err
	}
	result.NewSequence = newSequence
	return result, nil
}

// processChange appends one change, resolving a conflict first if the entity
// window shows a newer record from another device. A reconciled conflict
// still counts as accepted - the client adopts the resolved data.
func (c *Coordinator) processChange(ctx context.Context, batch Batch, change BatchChange) (*ConflictResult, error) {
	if !change.Operation.Valid() {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "unknown operation: "+string(change.Operation))
	}

	window, err := c.ledger.ByEntity(ctx, batch.TenantID, change.EntityType, change.EntityID, c.window)
	if err != nil {
		return nil, err
	}

	// A conflict exists iff a window record is newer than the client's
	// cursor and came from somewhere else. Same-device echoes never
	// conflict; that is the idempotent-replay guard.
	var serverRecord *ledger.ChangeRecord
	deviceID := batch.DeviceID.String()
	for i := range window {
		rec := &window[i]
		if rec.SequenceNumber > batch.LastSequence && rec.SourceDeviceID != deviceID {
			serverRecord = rec
			break // window is sequence-descending; first hit is newest
		}
	}

	record := ledger.ChangeRecord{
		TenantID:       batch.TenantID,
		OrganizationID: batch.OrganizationID,
		ClinicID:       batch.ClinicID,
		EntityType:     change.EntityType,
		EntityID:       change.EntityID,
		Operation:      change.Operation,
		Data:           change.Data,
		PreviousData:   change.PreviousData,
		Timestamp:      change.Timestamp,
		SourceDeviceID: deviceID,
	}

	if serverRecord == nil {
		record.EventType = "sync." + strings.ToLower(string(change.Operation))
		if _, err := c.ledger.Append(ctx, record); err != nil {
			return nil, err
		}
		c.metrics.ChangesAppended.WithLabelValues("device").Inc()
		return nil, nil
	}

	resolved := c.resolve(change.Data, serverRecord.Data)
	record.Data = resolved
	record.PreviousData = serverRecord.Data
	record.EventType = "sync.conflict." + strings.ToLower(string(change.Operation))
	if _, err := c.ledger.Append(ctx, record); err != nil {
		return nil, err
	}
	c.metrics.ChangesAppended.WithLabelValues("device").Inc()
	c.metrics.SyncConflicts.WithLabelValues(string(c.strategy)).Inc()

	return &ConflictResult{
		ChangeID:      change.ChangeID,
		EntityType:    change.EntityType,
		EntityID:      change.EntityID,
		Strategy:      c.strategy,
		ResolvedData:  resolved,
		ServerVersion: serverRecord.SequenceNumber,
		ClientVersion: batch.LastSequence,
	}, nil
}

func (c *Coordinator) resolve(clientData, serverData json.RawMessage) json.RawMessage {
	switch c.strategy {
	case StrategyClientWins:
		return clientData
	case StrategyMerge:
		return mergeDocuments(clientData, serverData)
	default:
		return serverData
	}
}

// mergeDocuments shallow-merges two opaque documents: client fields form the
// base, server fields override on key overlap. Documents that are not JSON
// objects cannot be merged field-wise; the server side wins outright.
func mergeDocuments(clientData, serverData json.RawMessage) json.RawMessage {
	var client, server map[string]json.RawMessage
	if err := json.Unmarshal(clientData, &client); err != nil {
		return serverData
	}
	if err := json.Unmarshal(serverData, &server); err != nil {
		return serverData
	}
	for k, v := range server {
		client[k] = v
	}
	merged, err := json.Marshal(client)
	if err != nil {
		return serverData
	}
	return merged
}

// Download reads the ledger by cursor. hasMore is inferred from a full page.
func (c *Coordinator) Download(ctx context.Context, q ledger.Query) (DownloadResult, error) {
	if q.Limit <= 0 {
		q.Limit = c.limitDefault
	}
	if q.Limit > c.limitMax {
		q.Limit = c.limitMax
	}

	changes, err := c.ledger.Since(ctx, q)
	if err != nil {
		return DownloadResult{}, err
	}
	current, err := c.ledger.Latest(ctx, q.TenantID)
	if err != nil {
		return DownloadResult{}, err
	}
	return DownloadResult{
		Changes:         changes,
		CurrentSequence: current,
		HasMore:         len(changes) == q.Limit,
	}, nil
}
