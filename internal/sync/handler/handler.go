package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"clinicsync/internal/ledger"
	"clinicsync/internal/platform/middleware"
	syncsvc "clinicsync/internal/sync"
	"clinicsync/internal/transport/http/shared"
	domainerrors "clinicsync/pkg/domain-errors"
)

// Coordinator defines the sync operations the handler needs.
type Coordinator interface {
	Upload(ctx context.Context, batch syncsvc.Batch) (syncsvc.UploadResult, error)
	Download(ctx context.Context, q ledger.Query) (syncsvc.DownloadResult, error)
}

// Handler exposes the sync upload and download endpoints. All routes require
// a device token; the tenant/org/clinic scope always comes from the token
// claims, never from the request body.
type Handler struct {
	logger      *slog.Logger
	coordinator Coordinator
	validator   middleware.TokenValidator
}

func New(coordinator Coordinator, logger *slog.Logger, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:      logger,
		coordinator: coordinator,
		validator:   validator,
	}
}

// Register wires the sync routes.
func (h *Handler) Register(r chi.Router) {
	authed := chi.NewRouter()
	authed.Use(middleware.Timeout(30 * time.Second))
	authed.Use(middleware.ContentTypeJSON)
	authed.Use(middleware.RequireDevice(h.validator, h.logger))
	authed.Get("/changes", h.handleDownload)
	authed.Post("/batch", h.handleUpload)
	r.Mount("/sync", authed)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetDeviceClaims(ctx)
	if claims == nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInternal, "authentication context error"))
		return
	}

	var batch syncsvc.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.logger.WarnContext(ctx, "invalid sync batch",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}

	// The token, not the body, decides who is uploading and into which
	// scope. A stale body value is overridden, not rejected.
	deviceID, err := uuid.Parse(claims.DeviceID)
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeUnauthorized, "invalid device claims"))
		return
	}
	if batch.DeviceID != uuid.Nil && batch.DeviceID != deviceID {
		h.logger.WarnContext(ctx, "batch device id does not match token",
			"request_id", middleware.GetRequestID(ctx),
			"claimed", batch.DeviceID,
			"token", claims.DeviceID,
		)
	}
	batch.DeviceID = deviceID
	batch.TenantID = claims.TenantID
	batch.OrganizationID = claims.OrganizationID
	batch.ClinicID = claims.ClinicID

	result, err := h.coordinator.Upload(ctx, batch)
	if err != nil {
		if domainerrors.Is(err, domainerrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "sync batch failed",
				"request_id", middleware.GetRequestID(ctx),
				"error", err.Error(),
			)
		}
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetDeviceClaims(ctx)
	if claims == nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInternal, "authentication context error"))
		return
	}

	q := ledger.Query{
		TenantID:       claims.TenantID,
		OrganizationID: claims.OrganizationID,
		ClinicID:       claims.ClinicID,
		EntityType:     r.URL.Query().Get("entityType"),
	}
	if raw := r.URL.Query().Get("sinceSequence"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || since < 0 {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid sinceSequence"))
			return
		}
		q.SinceSequence = since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid limit"))
			return
		}
		q.Limit = limit
	}

	result, err := h.coordinator.Download(ctx, q)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}
