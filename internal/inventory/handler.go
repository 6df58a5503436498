package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/unitstock/internal/platform/httpx"
)

// ErrorMappings translates inventory errors into HTTP problems.
var ErrorMappings = []httpx.ErrorMapping{
	{Target: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrUnitNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrProductNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrDuplicateSerial, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: ErrIntegrityUnavailable, Status: http.StatusServiceUnavailable, Title: "Integrity Check Unavailable"},
}

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger    *slog.Logger
	store     Store
	units     *UnitManager
	stock     *StockCalculator
	checker   *IntegrityChecker
	repairer  *Repairer
	validator *validator.Validate
	checks    singleflight.Group
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, store Store, units *UnitManager, stock *StockCalculator, checker *IntegrityChecker, repairer *Repairer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		store:     store,
		units:     units,
		stock:     stock,
		checker:   checker,
		repairer:  repairer,
		validator: validator.New(),
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Post("/stock:batch", h.handleStockBatch)
		r.Get("/{id}/stock", h.handleStock)
		r.Get("/{id}/units", h.handleListUnits)
		r.Post("/{id}/units", h.handleCreateUnits)
	})
	r.Route("/units/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetUnit)
		r.Post("/status", h.handleUpdateStatus)
		r.Post("/transfer", h.handleTransfer)
		r.Delete("/", h.handleDeleteUnit)
	})
	r.Get("/integrity", h.handleIntegrity)
	r.Post("/integrity/repair", h.handleRepair)
}

type stockBatchRequest struct {
	ProductIDs []uuid.UUID `json:"product_ids" validate:"required,min=1,max=200"`
}

type createUnitsRequest struct {
	Units []UnitEntry `json:"units" validate:"required,min=1,dive"`
}

type createUnitsResponse struct {
	CreateUnitsResult
	Stock int `json:"stock"`
}

type statusRequest struct {
	Status UnitStatus `json:"status" validate:"required,oneof=available reserved sold damaged"`
}

type transferRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
}

type repairResponse struct {
	Report  IntegrityReport `json:"report"`
	Summary RepairSummary   `json:"summary"`
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	level, err := h.stock.FetchStockLevel(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) handleStockBatch(w http.ResponseWriter, r *http.Request) {
	var req stockBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	stock, err := h.stock.FetchEffectiveStockBatch(r.Context(), req.ProductIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock": stock})
}

func (h *Handler) handleListUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.GetProduct(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	units, err := h.units.ListUnits(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"units": units})
}

func (h *Handler) handleCreateUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req createUnitsRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !product.HasSerial {
		h.fail(w, r, validationErr("create units", ErrNotSerialized, "product %s does not track serial numbers", id))
		return
	}
	result, err := h.units.CreateUnits(r.Context(), id, req.Units, product.Pricing)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stock, err := h.stock.RecomputeStock(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if len(result.Created) == 0 {
		status = http.StatusUnprocessableEntity
	}
	httpx.JSON(w, status, createUnitsResponse{CreateUnitsResult: result, Stock: stock})
}

func (h *Handler) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	unit, err := h.units.GetUnit(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	unit, err := h.units.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.stock.RecomputeStock(r.Context(), unit.ProductID); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	before, err := h.units.GetUnit(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	unit, err := h.units.TransferToProduct(r.Context(), id, req.ProductID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.recompute(r.Context(), before.ProductID, unit.ProductID); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) handleDeleteUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	unit, err := h.units.GetUnit(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sales, err := h.store.QuerySalesBySerial(r.Context(), unit.ProductID, unit.SerialNumber)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(sales) > 0 {
		h.fail(w, r, validationErr("delete unit", ErrUnitSold, "unit %s appears in %d sale(s)", id, len(sales)))
		return
	}
	if err := h.units.DeleteUnit(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.recompute(r.Context(), unit.ProductID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	ch := h.checks.DoChan("integrity", func() (interface{}, error) {
		return h.checker.Check(context.WithoutCancel(r.Context()))
	})
	select {
	case <-r.Context().Done():
		h.fail(w, r, r.Context().Err())
	case res := <-ch:
		if res.Err != nil {
			h.fail(w, r, res.Err)
			return
		}
		httpx.JSON(w, http.StatusOK, res.Val)
	}
}

func (h *Handler) handleRepair(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.Check(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summary := h.repairer.RepairAll(r.Context(), report)
	h.logger.Info("integrity repair run",
		slog.Int("drift", report.DriftCount()),
		slog.Int("stock_repaired", summary.Stock.Repaired),
		slog.Int("status_repaired", summary.Status.Repaired),
	)
	httpx.JSON(w, http.StatusOK, repairResponse{Report: report, Summary: summary})
}

func (h *Handler) recompute(ctx context.Context, productIDs ...uuid.UUID) error {
	for _, id := range productIDs {
		if _, err := h.stock.RecomputeStock(ctx, id); err != nil {
			// the source product of an orphaned unit is gone
			if errors.Is(err, ErrProductNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.fail(w, r, validationErr("parse id", nil, "invalid id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		h.fail(w, r, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			h.fail(w, r, validationErr("decode request", nil, "%s failed on %s", fieldErrs[0].Namespace(), fieldErrs[0].Tag()))
			return false
		}
		h.fail(w, r, validationErr("decode request", nil, "%v", err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	level := slog.LevelWarn
	if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrUnitNotFound) && !errors.Is(err, ErrProductNotFound) {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "inventory request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	httpx.RespondError(w, r, err, ErrorMappings...)
}
