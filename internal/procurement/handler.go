package procurement

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/unitstock/internal/inventory"
	"github.com/odyssey-erp/unitstock/internal/platform/httpx"
	"github.com/odyssey-erp/unitstock/internal/saga"
)

var errorMappings = append([]httpx.ErrorMapping{
	{Target: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrDuplicateAcquisition, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: saga.ErrTransactionFailed, Status: http.StatusConflict, Title: "Acquisition Rolled Back"},
}, inventory.ErrorMappings...)

// Handler wires HTTP endpoints for procurement.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/acquisitions", h.handleAcquire)
}

func (h *Handler) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var input AcquisitionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, r, err, errorMappings...)
		return
	}
	result, err := h.service.Acquire(r.Context(), input)
	if err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrDuplicateAcquisition) && !errors.Is(err, saga.ErrTransactionFailed) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "acquisition failed", slog.String("code", input.Code), slog.Any("error", err))
		httpx.RespondError(w, r, err, errorMappings...)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}
