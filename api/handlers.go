/*
handlers.go - HTTP API handlers for the cash book

PURPOSE:
  Exposes the consistency core via REST. Handles HTTP request/response,
  JSON serialization, and delegates to core.Engine.

ENDPOINTS:
  Sessions:
    POST   /api/sessions                 Open the register
    GET    /api/sessions                 List sessions, newest first
    GET    /api/sessions/current         The open session, or null
    GET    /api/sessions/{id}            One session
    POST   /api/sessions/{id}/close      Close with the counted balance

  Ledger:
    POST   /api/ledger/entries           Manual income/expense
    GET    /api/ledger/entries           Entries in a period
    POST   /api/ledger/entries/{id}/reverse  Reverse a manual entry
    GET    /api/ledger/statement         Entries + totals
    GET    /api/ledger/expenses          Expenses + total

  Stock:
    GET    /api/stock                    Items (?available=true, ?low=true)
    POST   /api/stock                    Configure an item
    GET    /api/stock/low                Items at or below threshold
    GET    /api/stock/movements          Movements, newest first
    PUT    /api/stock/{id}               Name, price, cost, threshold
    POST   /api/stock/{id}/adjust        Manual in/out
    GET    /api/stock/{id}/movements     Movements of one item

  Revenue:
    POST   /api/appointments             Register a scheduled appointment
    POST   /api/appointments/{id}/complete  Recognize its revenue
    POST   /api/appointments/{id}/cancel
    POST   /api/sales                    Sell a product

  Reports:
    GET    /api/reports/summary          Period summary (JSON)
    GET    /api/reports/summary.xlsx     Period summary (spreadsheet)

  Reference data:
    POST   /api/names                    Display name for an employee/service/client
    GET    /healthz                      Store liveness

  Scenarios (scenarios.go):
    GET    /api/scenarios, GET /api/scenarios/current, POST /api/scenarios/load

PERIOD QUERY PARAMETERS:
  period=day|week|month|year|custom (default month), ref=YYYY-MM-DD
  (default today), start/end=YYYY-MM-DD for custom, employee_id for admins.
  Regular actors are always scoped to themselves.

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the core error:
  - 400: Validation errors, invalid input
  - 401: Missing actor
  - 403: Admin-only route
  - 404: Resource not found
  - 409: Conflict, already closed, invalid state transition
  - 422: Insufficient stock
  - 503: Infrastructure failure (nothing was written)
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/cashbook/core"
	"github.com/warp/cashbook/metrics"
	"github.com/warp/cashbook/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *core.Engine
	Store   core.Store
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Now resolves period presets and dates demo scenarios.
	Now func() time.Time

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over engine and the store it was built on.
// m may be nil.
func NewHandler(store core.Store, engine *core.Engine, logger *zap.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Store:    store,
		Metrics:  m,
		Logger:   logger.Named("api"),
		Now:      func() time.Time { return time.Now().UTC() },
		validate: newValidator(),
	}
}

// =============================================================================
// CASH SESSION HANDLERS
// =============================================================================

// OpenSession opens the register.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.Engine.Sessions.Open(r.Context(), actorFrom(r.Context()), req.OpeningBalance)
	if err != nil {
		h.writeDomainError(w, "Failed to open session", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(s))
}

// CloseSession closes a session with the counted balance.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	var req CloseSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := core.SessionID(chi.URLParam(r, "id"))
	s, err := h.Engine.Sessions.Close(r.Context(), id, actorFrom(r.Context()), req.ClosingBalance, req.Notes)
	if err != nil {
		h.writeDomainError(w, "Failed to close session", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Sessions.Get(r.Context(), core.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get session", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// CurrentSession returns the open session or null.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Sessions.Current(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to get current session", err)
		return
	}
	if s == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*s))
}

// ListSessions returns sessions, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeDomainError(w, "Invalid limit", err)
		return
	}
	sessions, err := h.Engine.Sessions.List(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, "Failed to list sessions", err)
		return
	}
	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// RecordEntry appends a manual income or expense.
func (h *Handler) RecordEntry(w http.ResponseWriter, r *http.Request) {
	var req ManualEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	m := core.ManualMovement{
		Kind:             core.EntryKind(req.Kind),
		Amount:           req.Amount,
		PaymentMethod:    core.NormalizePaymentMethod(req.PaymentMethod),
		Description:      req.Description,
		IdempotencyToken: req.IdempotencyToken,
	}
	if req.OccurredAt != nil {
		m.OccurredAt = *req.OccurredAt
	}

	res, err := h.Engine.Ledger.RecordManualMovement(r.Context(), m, actorFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, "Failed to record entry", err)
		return
	}
	status := http.StatusCreated
	if res.Noop {
		status = http.StatusOK
	}
	writeJSON(w, status, EntryResponse{Entry: toEntryDTO(res.Entry), Noop: res.Noop})
}

// ReverseEntry cancels a manual entry.
func (h *Handler) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	var req ReverseEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := core.EntryID(chi.URLParam(r, "id"))
	e, err := h.Engine.Ledger.Reverse(r.Context(), id, actorFrom(r.Context()), req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to reverse entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, EntryResponse{Entry: toEntryDTO(e)})
}

// ListEntries returns entries in the requested period.
// GET /api/ledger/entries?period=month&kind=expense&limit=50
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	p, scope, err := h.periodAndScope(r)
	if err != nil {
		h.writeDomainError(w, "Invalid period", err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeDomainError(w, "Invalid limit", err)
		return
	}
	kind := core.EntryKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		h.writeDomainError(w, "Invalid kind", &core.ValidationError{Field: "kind", Reason: "must be income or expense"})
		return
	}

	entries, err := h.Engine.Ledger.List(r.Context(), core.EntryFilter{
		Range:      p.Range(),
		Kind:       kind,
		RecordedBy: scope.EmployeeID,
		Limit:      limit,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// Statement returns entries with totals.
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	p, scope, err := h.periodAndScope(r)
	if err != nil {
		h.writeDomainError(w, "Invalid period", err)
		return
	}
	kind := core.EntryKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		h.writeDomainError(w, "Invalid kind", &core.ValidationError{Field: "kind", Reason: "must be income or expense"})
		return
	}
	st, err := h.Engine.Ledger.Statement(r.Context(), p, scope, kind)
	if err != nil {
		h.writeDomainError(w, "Failed to build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// Expenses returns expenses with their total.
func (h *Handler) Expenses(w http.ResponseWriter, r *http.Request) {
	p, scope, err := h.periodAndScope(r)
	if err != nil {
		h.writeDomainError(w, "Invalid period", err)
		return
	}
	st, err := h.Engine.Ledger.Expenses(r.Context(), p, scope)
	if err != nil {
		h.writeDomainError(w, "Failed to list expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// ListStock returns catalog items ordered by name.
// GET /api/stock?available=true&low=true
func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.Engine.Inventory.List(r.Context(), core.StockFilter{
		AvailableOnly: q.Get("available") == "true",
		LowOnly:       q.Get("low") == "true",
	})
	if err != nil {
		h.writeDomainError(w, "Failed to list stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemDTOs(items))
}

// LowStock returns items at or below their reorder threshold.
func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Engine.Inventory.LowStock(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list low stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemDTOs(items))
}

// CreateStockItem configures a new catalog item.
func (h *Handler) CreateStockItem(w http.ResponseWriter, r *http.Request) {
	var req CreateStockItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.Engine.Inventory.CreateItem(r.Context(), core.NewStockItem{
		Name:             req.Name,
		UnitPrice:        req.UnitPrice,
		UnitCost:         req.UnitCost,
		OpeningQuantity:  req.OpeningQuantity,
		ReorderThreshold: req.ReorderThreshold,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create stock item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockItemDTO(item))
}

// UpdateStockItem changes name, price, cost and threshold. Quantity only
// changes through adjustments and sales.
func (h *Handler) UpdateStockItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateStockItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := core.StockItemID(chi.URLParam(r, "id"))
	item, err := h.Engine.Inventory.UpdateItem(r.Context(), id, core.StockItemUpdate{
		Name:             req.Name,
		UnitPrice:        req.UnitPrice,
		UnitCost:         req.UnitCost,
		ReorderThreshold: req.ReorderThreshold,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to update stock item", err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemDTO(item))
}

// AdjustStock records a manual in/out movement.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := core.StockItemID(chi.URLParam(r, "id"))
	res, err := h.Engine.Inventory.Adjust(r.Context(), id, core.Direction(req.Direction), req.Quantity, req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to adjust stock", err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustResponse{
		Item:     toStockItemDTO(res.Item),
		Movement: toMovementDTO(res.Movement),
		LowStock: res.LowStock,
	})
}

// ListMovements returns movements newest first, for one item when {id} is
// in the route.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeDomainError(w, "Invalid limit", err)
		return
	}
	id := core.StockItemID(chi.URLParam(r, "id"))
	if id != "" {
		if _, err := h.Engine.Inventory.Get(r.Context(), id); err != nil {
			h.writeDomainError(w, "Failed to get stock item", err)
			return
		}
	}
	movements, err := h.Engine.Inventory.Movements(r.Context(), core.MovementFilter{StockItemID: id, Limit: limit})
	if err != nil {
		h.writeDomainError(w, "Failed to list movements", err)
		return
	}
	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REVENUE HANDLERS
// =============================================================================

// RegisterAppointment stores a scheduled appointment.
func (h *Handler) RegisterAppointment(w http.ResponseWriter, r *http.Request) {
	var req RegisterAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := time.Parse(core.DateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	a, err := h.Engine.Recognition.RegisterAppointment(r.Context(), core.NewAppointment{
		ID:            core.AppointmentID(req.ID),
		AmountCharged: req.AmountCharged,
		Cost:          req.Cost,
		PaymentMethod: core.NormalizePaymentMethod(req.PaymentMethod),
		EmployeeID:    req.EmployeeID,
		ServiceID:     req.ServiceID,
		ClientID:      req.ClientID,
		Date:          date,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to register appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentDTO(a))
}

// CompleteAppointment recognizes an appointment's revenue. Repeats return
// the existing entry with noop=true.
func (h *Handler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	id := core.AppointmentID(chi.URLParam(r, "id"))
	res, err := h.Engine.Recognition.RecognizeAppointment(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, "Failed to complete appointment", err)
		return
	}
	status := http.StatusCreated
	if res.Noop {
		status = http.StatusOK
	}
	writeJSON(w, status, EntryResponse{Entry: toEntryDTO(res.Entry), Noop: res.Noop})
}

// CancelAppointment moves a scheduled appointment to canceled.
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := core.AppointmentID(chi.URLParam(r, "id"))
	a, err := h.Engine.Recognition.CancelAppointment(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, "Failed to cancel appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(a))
}

// RecordSale sells a product: stock out, sale row and income entry in one
// transaction.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Recognition.RecognizeProductSale(r.Context(), core.SaleRequest{
		SaleID:        core.SaleID(req.SaleID),
		StockItemID:   core.StockItemID(req.StockItemID),
		Quantity:      req.Quantity,
		UnitPrice:     req.UnitPrice,
		DiscountPct:   req.DiscountPct,
		PaymentMethod: core.NormalizePaymentMethod(req.PaymentMethod),
	}, actorFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, "Failed to record sale", err)
		return
	}

	resp := SaleResponse{Sale: toSaleDTO(res.Sale), Entry: toEntryDTO(res.Entry), Noop: res.Noop}
	status := http.StatusOK
	if !res.Noop {
		status = http.StatusCreated
		onHand := res.Adjustment.NewQuantity
		resp.OnHand = &onHand
		resp.LowStock = res.Adjustment.LowStock
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// Summary returns the period summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, ok := h.summarize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// SummaryXLSX returns the period summary as a spreadsheet.
func (h *Handler) SummaryXLSX(w http.ResponseWriter, r *http.Request) {
	sum, ok := h.summarize(w, r)
	if !ok {
		return
	}
	filename := fmt.Sprintf("summary-%s-%s.xlsx",
		sum.Period.Start.Format(core.DateLayout), sum.Period.End.Format(core.DateLayout))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	if err := report.WriteSummaryXLSX(w, sum); err != nil {
		// Headers may be gone already; log instead of writing a JSON body.
		h.Logger.Error("failed to write summary spreadsheet", zap.Error(err))
	}
}

func (h *Handler) summarize(w http.ResponseWriter, r *http.Request) (core.PeriodSummary, bool) {
	p, scope, err := h.periodAndScope(r)
	if err != nil {
		h.writeDomainError(w, "Invalid period", err)
		return core.PeriodSummary{}, false
	}
	sum, err := h.Engine.Reports.Summarize(r.Context(), p, scope)
	if err != nil {
		h.writeDomainError(w, "Failed to build summary", err)
		return core.PeriodSummary{}, false
	}
	return sum, true
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// SaveName upserts a display name used by reports.
func (h *Handler) SaveName(w http.ResponseWriter, r *http.Request) {
	var req SaveNameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Store.SaveName(r.Context(), core.NameKind(req.Kind), req.ID, req.Name); err != nil {
		h.writeDomainError(w, "Failed to save name", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var err error
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		err = p.Ping(ctx)
	} else {
		_, err = h.Store.CurrentSession(ctx)
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// periodAndScope resolves the period query parameters and the actor's scope.
func (h *Handler) periodAndScope(r *http.Request) (core.Period, core.Scope, error) {
	q := r.URL.Query()
	ref := h.Now()
	if s := q.Get("ref"); s != "" {
		t, err := time.Parse(core.DateLayout, s)
		if err != nil {
			return core.Period{}, core.Scope{}, &core.ValidationError{Field: "ref", Reason: "use YYYY-MM-DD"}
		}
		ref = t
	}
	start, err := dateParam(q.Get("start"), "start")
	if err != nil {
		return core.Period{}, core.Scope{}, err
	}
	end, err := dateParam(q.Get("end"), "end")
	if err != nil {
		return core.Period{}, core.Scope{}, err
	}

	preset := core.Preset(q.Get("period"))
	if preset == "" && start != nil && end != nil {
		preset = core.PresetCustom
	}
	p, err := core.PeriodFor(preset, ref, start, end)
	if err != nil {
		return core.Period{}, core.Scope{}, err
	}
	return p, core.ScopeFor(actorFrom(r.Context()), q.Get("employee_id")), nil
}

func dateParam(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(core.DateLayout, s)
	if err != nil {
		return nil, &core.ValidationError{Field: field, Reason: "use YYYY-MM-DD"}
	}
	return &t, nil
}

func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &core.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

// statusFor maps core errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrConflict),
		errors.Is(err, core.ErrAlreadyClosed),
		errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, core.ErrInfrastructure):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	resp := ErrorResponse{Error: message, Details: err.Error()}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = map[string]string{verr.Field: verr.Reason}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
