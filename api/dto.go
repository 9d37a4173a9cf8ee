/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUANTITIES:
  Quantities cross the wire as JSON numbers or strings; decimal.Decimal
  accepts both and the engine re-normalizes to 3 decimal places either
  way. Floats never touch a quantity.

VALIDATION:
  Struct tags drive go-playground/validator; handlers run the validator
  before touching the engine, so the engine only ever sees requests with
  the required fields present.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The domain types these project
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// AUTH
// =============================================================================

// LoginRequest authenticates an operator.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	DisplayName string    `json:"display_name"`
}

// =============================================================================
// STOCK WRITES
// =============================================================================

// StockWriteRequest is a single inbound or outbound submission.
type StockWriteRequest struct {
	Warehouse      string          `json:"warehouse" validate:"required"`
	Location       string          `json:"location" validate:"required"`
	Brand          string          `json:"brand"`
	ItemCode       string          `json:"item_code" validate:"required"`
	ItemName       string          `json:"item_name"`
	Lot            string          `json:"lot"`
	Spec           string          `json:"spec"`
	Qty            decimal.Decimal `json:"qty" validate:"required"`
	Note           string          `json:"note"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// MoveStockRequest relocates stock between two locations.
type MoveStockRequest struct {
	Warehouse      string          `json:"warehouse" validate:"required"`
	FromLocation   string          `json:"from_location" validate:"required"`
	ToLocation     string          `json:"to_location" validate:"required"`
	Brand          string          `json:"brand"`
	ItemCode       string          `json:"item_code" validate:"required"`
	ItemName       string          `json:"item_name"`
	Lot            string          `json:"lot"`
	Spec           string          `json:"spec"`
	Qty            decimal.Decimal `json:"qty" validate:"required"`
	Note           string          `json:"note"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// =============================================================================
// ROLLBACK
// =============================================================================

// RollbackRequest reverses one audit entry.
type RollbackRequest struct {
	EntryID int64  `json:"entry_id" validate:"required"`
	Note    string `json:"note"`
}

// RollbackBatchRequest reverses every entry of one import batch.
type RollbackBatchRequest struct {
	BatchID string `json:"batch_id" validate:"required"`
	Note    string `json:"note"`
}

// RollbackBatchResponse reports how many entries were reversed.
type RollbackBatchResponse struct {
	BatchID  string `json:"batch_id"`
	Reversed int    `json:"reversed"`
}

// =============================================================================
// DAMAGE / CS
// =============================================================================

// DamageReportRequest records a damage/CS event.
type DamageReportRequest struct {
	OccurredAt      string          `json:"occurred_at" validate:"required"`
	Warehouse       string          `json:"warehouse" validate:"required"`
	Location        string          `json:"location" validate:"required"`
	Brand           string          `json:"brand"`
	ItemCode        string          `json:"item_code" validate:"required"`
	ItemName        string          `json:"item_name"`
	Lot             string          `json:"lot"`
	Spec            string          `json:"spec"`
	Qty             decimal.Decimal `json:"qty" validate:"required"`
	DamageCodeID    int64           `json:"damage_code_id" validate:"required"`
	Detail          string          `json:"detail"`
	DeductInventory bool            `json:"deduct_inventory"`
}

// DamageReportResponse returns the created entry id.
type DamageReportResponse struct {
	EntryID  int64 `json:"entry_id"`
	Deducted bool  `json:"deducted"`
}

// =============================================================================
// RESPONSE PROJECTIONS
// =============================================================================

// StockRecordDTO is one on-hand stock row.
type StockRecordDTO struct {
	ID        int64           `json:"id"`
	Warehouse string          `json:"warehouse"`
	Location  string          `json:"location"`
	Brand     string          `json:"brand"`
	ItemCode  string          `json:"item_code"`
	ItemName  string          `json:"item_name"`
	Lot       string          `json:"lot"`
	Spec      string          `json:"spec"`
	Qty       decimal.Decimal `json:"qty"`
	Note      string          `json:"note,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toStockRecordDTO(r ledger.StockRecord) StockRecordDTO {
	return StockRecordDTO{
		ID:        r.ID,
		Warehouse: r.Key.Warehouse,
		Location:  r.Key.Location,
		Brand:     r.Key.Brand,
		ItemCode:  r.Key.ItemCode,
		ItemName:  r.ItemName,
		Lot:       r.Key.Lot,
		Spec:      r.Key.Spec,
		Qty:       r.Qty,
		Note:      r.Note,
		UpdatedAt: r.UpdatedAt,
	}
}

// AuditEntryDTO is one audit-trail row.
type AuditEntryDTO struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	Warehouse    string          `json:"warehouse"`
	Operator     string          `json:"operator"`
	Brand        string          `json:"brand"`
	ItemCode     string          `json:"item_code"`
	ItemName     string          `json:"item_name"`
	Lot          string          `json:"lot"`
	Spec         string          `json:"spec"`
	FromLocation string          `json:"from_location,omitempty"`
	ToLocation   string          `json:"to_location,omitempty"`
	Location     string          `json:"location"`
	Qty          decimal.Decimal `json:"qty"`
	Note         string          `json:"note,omitempty"`
	BatchID      string          `json:"batch_id,omitempty"`
	RolledBack   bool            `json:"rolled_back"`
	RollbackAt   *time.Time      `json:"rollback_at,omitempty"`
	RollbackBy   string          `json:"rollback_by,omitempty"`
	RollbackNote string          `json:"rollback_note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toAuditEntryDTO(e ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:           e.ID,
		Type:         string(e.Type),
		Warehouse:    e.Warehouse,
		Operator:     e.Operator,
		Brand:        e.Brand,
		ItemCode:     e.ItemCode,
		ItemName:     e.ItemName,
		Lot:          e.Lot,
		Spec:         e.Spec,
		FromLocation: e.FromLoc,
		ToLocation:   e.ToLoc,
		Location:     e.DisplayLocation(),
		Qty:          e.Qty,
		Note:         e.Note,
		BatchID:      e.BatchID,
		RolledBack:   e.RolledBack,
		RollbackAt:   e.RollbackAt,
		RollbackBy:   e.RollbackBy,
		RollbackNote: e.RollbackNote,
		CreatedAt:    e.CreatedAt,
	}
}

// DamageCodeDTO is one taxonomy row.
type DamageCodeDTO struct {
	ID          int64  `json:"id"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Situation   string `json:"situation,omitempty"`
	Description string `json:"description,omitempty"`
}

// DamageEntryDTO is one damage-history row with its taxonomy joined in.
type DamageEntryDTO struct {
	ID         int64           `json:"id"`
	OccurredAt string          `json:"occurred_at"`
	Warehouse  string          `json:"warehouse"`
	Location   string          `json:"location"`
	Brand      string          `json:"brand"`
	ItemCode   string          `json:"item_code"`
	ItemName   string          `json:"item_name"`
	Lot        string          `json:"lot"`
	Spec       string          `json:"spec"`
	Qty        decimal.Decimal `json:"qty"`
	Category   string          `json:"category"`
	Type       string          `json:"type"`
	Situation  string          `json:"situation,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	Deducted   bool            `json:"deducted"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toDamageEntryDTO(e ledger.DamageEntry) DamageEntryDTO {
	return DamageEntryDTO{
		ID:         e.ID,
		OccurredAt: e.OccurredAt,
		Warehouse:  e.Warehouse,
		Location:   e.Location,
		Brand:      e.Brand,
		ItemCode:   e.ItemCode,
		ItemName:   e.ItemName,
		Lot:        e.Lot,
		Spec:       e.Spec,
		Qty:        e.Qty,
		Category:   e.Category,
		Type:       e.TypeName,
		Situation:  e.Situation,
		Detail:     e.Detail,
		Deducted:   e.Deducted,
		CreatedAt:  e.CreatedAt,
	}
}

// ImportResponse reports a bulk import, merging workbook parse problems
// with per-row engine rejections.
type ImportResponse struct {
	BatchID   string            `json:"batch_id"`
	Succeeded int               `json:"succeeded"`
	Skipped   int               `json:"skipped"`
	Errors    []ledger.RowError `json:"errors,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	// Brands lists the candidates on an ambiguous-brand rejection so the
	// client can re-prompt.
	Brands []string `json:"brands,omitempty"`

	// Available is the on-hand quantity on an insufficient-stock
	// rejection.
	Available *decimal.Decimal `json:"available,omitempty"`
}
