package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"clinicsync/internal/device"
	"clinicsync/internal/platform/middleware"
	"clinicsync/internal/transport/http/shared"
	domainerrors "clinicsync/pkg/domain-errors"
)

// Service defines the registry operations the handler needs.
type Service interface {
	Register(ctx context.Context, req device.RegisterRequest) (device.RegisterResult, error)
	Revoke(ctx context.Context, deviceID uuid.UUID, tenantID string) error
	ListActiveByUser(ctx context.Context, userID, tenantID string) ([]device.Device, error)
}

// Handler exposes the device registry endpoints.
type Handler struct {
	logger    *slog.Logger
	devices   Service
	validator middleware.TokenValidator
}

func New(devices Service, logger *slog.Logger, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		devices:   devices,
		validator: validator,
	}
}

// Register wires the device routes. Registration is the only unauthenticated
// route; a device cannot hold a token before it exists.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sync/devices/register", h.handleRegister)

	authed := chi.NewRouter()
	authed.Use(middleware.Timeout(10 * time.Second))
	authed.Use(middleware.ContentTypeJSON)
	authed.Use(middleware.RequireDevice(h.validator, h.logger))
	authed.Get("/", h.handleList)
	authed.Delete("/{deviceID}", h.handleRevoke)
	r.Mount("/sync/devices", authed)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req device.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid register request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}
	req.UserAgent = r.UserAgent()

	result, err := h.devices.Register(ctx, req)
	if err != nil {
		if domainerrors.Is(err, domainerrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "device registration failed",
				"request_id", middleware.GetRequestID(ctx),
				"error", err.Error(),
			)
		}
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetDeviceClaims(ctx)
	if claims == nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInternal, "authentication context error"))
		return
	}

	devices, err := h.devices.ListActiveByUser(ctx, claims.UserID, claims.TenantID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetDeviceClaims(ctx)
	if claims == nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInternal, "authentication context error"))
		return
	}

	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid device id"))
		return
	}

	if err := h.devices.Revoke(ctx, deviceID, claims.TenantID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
