/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the stock ledger engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Auth:
    POST   /api/auth/login         Operator login, returns a JWT

  Stock:
    GET    /api/inventory          Current on-hand stock (filters)
    POST   /api/inbound            Single inbound receipt
    POST   /api/outbound           Single outbound issue
    POST   /api/move               Relocation between two locations
    POST   /api/inbound/import     Excel inbound workbook (multipart)
    POST   /api/init/import        Excel initial-stock workbook (multipart)

  Audit & rollback:
    GET    /api/history            Audit trail (year/month/day filters)
    POST   /api/rollback           Reverse one entry
    POST   /api/rollback/batch     Reverse an import batch

  Damage / CS:
    GET    /api/damage/codes       Damage taxonomy
    POST   /api/damage             Record a damage entry
    GET    /api/damage/history     Damage history (year/month filters)
    GET    /api/damage/summary     Per-category counts

  Reconciliation:
    POST   /api/erp/verify         Compare an ERP extract (multipart)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator)
  3. Call domain logic (ledger, importer)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation, insufficient stock, ambiguous brand
  - 401: Missing or invalid session token
  - 404: Audit entry not found
  - 409: Already reversed, not reversible, duplicate idempotency key
  - 500: Storage faults (logged, generic body)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/stock-ledger/auth"
	"github.com/warp/stock-ledger/importer"
	"github.com/warp/stock-ledger/ledger"
)

// maxUploadBytes bounds workbook uploads.
const maxUploadBytes = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.StockLedger
	Auth   auth.AuthProvider
	Tokens *auth.TokenIssuer
	Log    *logrus.Logger

	validate *validator.Validate
}

// NewHandler creates a handler with the given dependencies.
func NewHandler(l *ledger.StockLedger, provider auth.AuthProvider, tokens *auth.TokenIssuer, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Ledger:   l,
		Auth:     provider,
		Tokens:   tokens,
		Log:      log,
		validate: validator.New(),
	}
}

// decodeAndValidate parses a JSON body into dst and runs the validator.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid fields", err)
		return false
	}
	return true
}

// operator returns the authenticated operator's display name. Routes
// behind RequireAuth always have one.
func operator(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p.DisplayName
	}
	return ""
}

// =============================================================================
// AUTH
// =============================================================================

// Login authenticates an operator and returns a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	principal, err := h.Auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid username or password", nil)
			return
		}
		h.Log.WithError(err).Error("authentication backend failed")
		writeError(w, http.StatusInternalServerError, "Authentication failed", nil)
		return
	}

	token, expiresAt, err := h.Tokens.Issue(*principal)
	if err != nil {
		h.Log.WithError(err).Error("failed to issue session token")
		writeError(w, http.StatusInternalServerError, "Authentication failed", nil)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:       token,
		ExpiresAt:   expiresAt,
		DisplayName: principal.DisplayName,
	})
}

// =============================================================================
// STOCK WRITES
// =============================================================================

// Inbound records a single inbound receipt.
func (h *Handler) Inbound(w http.ResponseWriter, r *http.Request) {
	var req StockWriteRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	err := h.Ledger.Inbound(r.Context(), ledger.WriteRequest{
		Warehouse: req.Warehouse, Location: req.Location, Brand: req.Brand,
		ItemCode: req.ItemCode, ItemName: req.ItemName, Lot: req.Lot, Spec: req.Spec,
		Qty: req.Qty, Note: req.Note, Operator: operator(r),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

// Outbound records a single outbound issue.
func (h *Handler) Outbound(w http.ResponseWriter, r *http.Request) {
	var req StockWriteRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	err := h.Ledger.Outbound(r.Context(), ledger.WriteRequest{
		Warehouse: req.Warehouse, Location: req.Location, Brand: req.Brand,
		ItemCode: req.ItemCode, ItemName: req.ItemName, Lot: req.Lot, Spec: req.Spec,
		Qty: req.Qty, Note: req.Note, Operator: operator(r),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

// Move relocates stock between two locations.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveStockRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	err := h.Ledger.Move(r.Context(), ledger.MoveRequest{
		Warehouse: req.Warehouse, FromLocation: req.FromLocation, ToLocation: req.ToLocation,
		Brand: req.Brand, ItemCode: req.ItemCode, ItemName: req.ItemName,
		Lot: req.Lot, Spec: req.Spec, Qty: req.Qty, Note: req.Note,
		Operator: operator(r), IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

// Inventory returns current stock matching the query filters.
func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := h.Ledger.Inventory(r.Context(), ledger.InventoryFilter{
		Warehouse: q.Get("warehouse"),
		Location:  q.Get("location"),
		Brand:     q.Get("brand"),
		ItemCode:  q.Get("item_code"),
		Lot:       q.Get("lot"),
		Spec:      q.Get("spec"),
		Limit:     queryInt(q.Get("limit"), 500),
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	dtos := make([]StockRecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toStockRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BULK IMPORTS
// =============================================================================

// ImportInbound applies an uploaded inbound workbook as one batch.
func (h *Handler) ImportInbound(w http.ResponseWriter, r *http.Request) {
	h.runImport(w, r, h.Ledger.ImportInbound)
}

// ImportInitial seeds stock from an uploaded initial-stock workbook.
func (h *Handler) ImportInitial(w http.ResponseWriter, r *http.Request) {
	h.runImport(w, r, h.Ledger.ImportInitial)
}

func (h *Handler) runImport(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, rows []ledger.ImportRow, operator string) (*ledger.BatchResult, error)) {

	file, ok := h.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	rows, parseErrs, err := importer.ParseStockWorkbook(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable workbook", err)
		return
	}

	result, err := apply(r.Context(), rows, operator(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	resp := ImportResponse{
		BatchID:   result.BatchID,
		Succeeded: result.Succeeded,
		Skipped:   result.Skipped,
		Errors:    append(parseErrs, result.Errors...),
	}
	writeJSON(w, http.StatusCreated, resp)
}

// uploadedFile extracts the "file" part of a multipart upload.
func (h *Handler) uploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart upload", err)
		return nil, false
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, `Missing "file" upload`, err)
		return nil, false
	}
	return file, true
}

// =============================================================================
// AUDIT & ROLLBACK
// =============================================================================

// History returns audit entries matching the calendar filters.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.Ledger.History(r.Context(), ledger.AuditFilter{
		Year:  queryInt(q.Get("year"), 0),
		Month: queryInt(q.Get("month"), 0),
		Day:   queryInt(q.Get("day"), 0),
		Limit: queryInt(q.Get("limit"), 500),
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Rollback reverses one audit entry.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.Ledger.RollbackOne(r.Context(), req.EntryID, operator(r), req.Note); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reversed", "entry_id": req.EntryID})
}

// RollbackBatch reverses every entry of one import batch.
func (h *Handler) RollbackBatch(w http.ResponseWriter, r *http.Request) {
	var req RollbackBatchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	count, err := h.Ledger.RollbackBatch(r.Context(), req.BatchID, operator(r), req.Note)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RollbackBatchResponse{BatchID: req.BatchID, Reversed: count})
}

// =============================================================================
// DAMAGE / CS
// =============================================================================

// ListDamageCodes returns the active damage taxonomy.
func (h *Handler) ListDamageCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Ledger.DamageCodes(r.Context())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	dtos := make([]DamageCodeDTO, 0, len(codes))
	for _, c := range codes {
		dtos = append(dtos, DamageCodeDTO{
			ID: c.ID, Category: c.Category, Type: c.Type,
			Situation: c.Situation, Description: c.Description,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordDamage records a damage entry, optionally deducting stock.
func (h *Handler) RecordDamage(w http.ResponseWriter, r *http.Request) {
	var req DamageReportRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	entryID, err := h.Ledger.RecordDamage(r.Context(), ledger.DamageRequest{
		OccurredAt: req.OccurredAt, Warehouse: req.Warehouse, Location: req.Location,
		Brand: req.Brand, ItemCode: req.ItemCode, ItemName: req.ItemName,
		Lot: req.Lot, Spec: req.Spec, Qty: req.Qty,
		DamageCodeID: req.DamageCodeID, Detail: req.Detail,
		Operator: operator(r), DeductInventory: req.DeductInventory,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, DamageReportResponse{EntryID: entryID, Deducted: req.DeductInventory})
}

// DamageHistory returns damage entries matching the calendar filters.
func (h *Handler) DamageHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.Ledger.DamageHistory(r.Context(), ledger.DamageFilter{
		Year:  queryInt(q.Get("year"), 0),
		Month: queryInt(q.Get("month"), 0),
		Limit: queryInt(q.Get("limit"), 500),
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	dtos := make([]DamageEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toDamageEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DamageSummary returns per-category damage counts.
func (h *Handler) DamageSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	counts, err := h.Ledger.DamageSummary(r.Context(), ledger.DamageFilter{
		Year:  queryInt(q.Get("year"), 0),
		Month: queryInt(q.Get("month"), 0),
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// VerifyERP compares an uploaded ERP extract against on-hand stock.
func (h *Handler) VerifyERP(w http.ResponseWriter, r *http.Request) {
	file, ok := h.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	external, err := importer.ParseERPExtract(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable extract", err)
		return
	}

	report, err := h.Ledger.Reconcile(r.Context(), external)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// ERROR MAPPING & HELPERS
// =============================================================================

// writeLedgerError maps engine errors onto the status contract.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientStockError
	if errors.As(err, &insufficient) {
		available := insufficient.Available
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     "Insufficient stock",
			Details:   err.Error(),
			Available: &available,
		})
		return
	}

	var ambiguous *ledger.AmbiguousBrandError
	if errors.As(err, &ambiguous) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Multiple brands match; specify one",
			Details: err.Error(),
			Brands:  ambiguous.Brands,
		})
		return
	}

	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Entry not found", err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflicting state", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Rejected", err)
	default:
		h.Log.WithError(err).Error("storage operation failed")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
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

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
