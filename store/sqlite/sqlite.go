/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  inventory:       Current on-hand quantity per stock key (qty > 0 only)
  history:         Append-only audit trail with batch and rollback columns
  damage_codes:    Damage taxonomy (seeded on first migration)
  damage_history:  CS/damage entries referencing the taxonomy

QUANTITY STORAGE:
  Quantities are stored as canonical decimal strings, never floats, and
  every arithmetic step runs through decimal in Go. Mutations are
  compare-and-swap: the UPDATE/DELETE is conditioned on the quantity
  string that was read, and a zero affected-row count means the row moved
  underneath us.

ZERO-FLOOR:
  A delta that brings a quantity to zero or below deletes the row. There
  is no row with qty <= 0, ever; absence IS the zero state.

APPEND-ONLY ENFORCEMENT:
  history rows are never updated except for the rollback columns, which
  MarkReversed sets exactly once. There are no DELETE statements on
  history.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.New(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go:  Interface definitions and contracts
  - ledger/ledger.go: Operations composed on top of this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// timeLayout is fixed-width UTC with nanoseconds so stored timestamps
// compare lexicographically and calendar prefixes ("2026-08") match.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, q: queries{r: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := store.seedDamageCodes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed damage codes: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Current on-hand stock. Rows exist only while qty > 0.
	CREATE TABLE IF NOT EXISTS inventory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		warehouse TEXT NOT NULL,
		location TEXT NOT NULL,
		brand TEXT NOT NULL DEFAULT '',
		item_code TEXT NOT NULL,
		item_name TEXT NOT NULL DEFAULT '',
		lot TEXT NOT NULL DEFAULT '',
		spec TEXT NOT NULL DEFAULT '',
		qty TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	-- One row per stock key
	CREATE UNIQUE INDEX IF NOT EXISTS idx_inventory_key
		ON inventory(warehouse, location, brand, item_code, lot, spec);
	CREATE INDEX IF NOT EXISTS idx_inventory_item
		ON inventory(item_code);

	-- Append-only audit trail
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		warehouse TEXT NOT NULL,
		operator TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		item_code TEXT NOT NULL,
		item_name TEXT NOT NULL DEFAULT '',
		lot TEXT NOT NULL DEFAULT '',
		spec TEXT NOT NULL DEFAULT '',
		from_location TEXT NOT NULL DEFAULT '',
		to_location TEXT NOT NULL DEFAULT '',
		qty TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		batch_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		rolled_back INTEGER NOT NULL DEFAULT 0,
		rollback_at TEXT,
		rollback_by TEXT NOT NULL DEFAULT '',
		rollback_note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Exactly-once submission guard for clients that send a key
	CREATE UNIQUE INDEX IF NOT EXISTS idx_history_idempotency
		ON history(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Batch rollback selects by batch id
	CREATE INDEX IF NOT EXISTS idx_history_batch
		ON history(batch_id) WHERE batch_id != '';

	-- Calendar-prefix listing (hot path) and fingerprint window lookups
	CREATE INDEX IF NOT EXISTS idx_history_created
		ON history(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_history_fingerprint
		ON history(type, item_code, created_at);

	-- Damage taxonomy
	CREATE TABLE IF NOT EXISTS damage_codes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		type_name TEXT NOT NULL,
		situation TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	-- CS/damage entries
	CREATE TABLE IF NOT EXISTS damage_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TEXT NOT NULL,
		warehouse TEXT NOT NULL,
		location TEXT NOT NULL,
		brand TEXT NOT NULL DEFAULT '',
		item_code TEXT NOT NULL,
		item_name TEXT NOT NULL DEFAULT '',
		lot TEXT NOT NULL DEFAULT '',
		spec TEXT NOT NULL DEFAULT '',
		qty TEXT NOT NULL,
		damage_code_id INTEGER NOT NULL REFERENCES damage_codes(id),
		detail TEXT NOT NULL DEFAULT '',
		deducted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_damage_occurred
		ON damage_history(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_damage_code
		ON damage_history(damage_code_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// seedDamageCodes inserts the default taxonomy on an empty table.
func (s *Store) seedDamageCodes() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM damage_codes").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seed := []struct {
		category, typeName, situation, description string
	}{
		{"Damaged", "Crushed in transit", "carrier", "Packaging or product crushed during transport"},
		{"Damaged", "Dropped during handling", "warehouse", "Dropped while picking, packing or moving"},
		{"Damaged", "Water damage", "warehouse", "Exposure to water or humidity in storage"},
		{"Defective", "Manufacturing defect", "supplier", "Defect present on receipt from supplier"},
		{"Defective", "Wrong label", "supplier", "Label does not match contents"},
		{"Expired", "Past shelf life", "warehouse", "Lot passed its expiry date in storage"},
		{"Lost", "Missing at count", "warehouse", "Unit not found during cycle count"},
		{"Customer Return", "Refused delivery", "customer", "Customer refused the delivery"},
		{"Customer Return", "Wrong item shipped", "warehouse", "Picking error, wrong item sent"},
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, c := range seed {
		if _, err := tx.Exec(
			"INSERT INTO damage_codes (category, type_name, situation, description, active) VALUES (?, ?, ?, ?, 1)",
			c.category, c.typeName, c.situation, c.description,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction. All statements fn
// issues through the passed store - reads included - run on the
// transaction, so a debit can see a credit applied earlier in the same
// operation.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{r: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// LOCKED DELEGATION (ledger.Store interface on *Store)
// =============================================================================

func (s *Store) ApplyDelta(ctx context.Context, key ledger.StockKey, itemName string, delta decimal.Decimal, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.ApplyDelta(ctx, key, itemName, delta, note)
}

func (s *Store) GetRecord(ctx context.Context, key ledger.StockKey) (*ledger.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetRecord(ctx, key)
}

func (s *Store) QueryInventory(ctx context.Context, f ledger.InventoryFilter) ([]ledger.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.QueryInventory(ctx, f)
}

func (s *Store) Candidates(ctx context.Context, key ledger.StockKey) ([]ledger.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Candidates(ctx, key)
}

func (s *Store) ItemFacts(ctx context.Context) ([]ledger.ItemFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ItemFacts(ctx)
}

func (s *Store) AppendAudit(ctx context.Context, e ledger.AuditEntry, dedupWindow time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendAudit(ctx, e, dedupWindow)
}

func (s *Store) GetAudit(ctx context.Context, id int64) (*ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetAudit(ctx, id)
}

func (s *Store) AuditByBatch(ctx context.Context, batchID string) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.AuditByBatch(ctx, batchID)
}

func (s *Store) MarkReversed(ctx context.Context, ids []int64, by, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.MarkReversed(ctx, ids, by, note, at)
}

func (s *Store) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.QueryAudit(ctx, f)
}

func (s *Store) ListDamageCodes(ctx context.Context, activeOnly bool) ([]ledger.DamageCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListDamageCodes(ctx, activeOnly)
}

func (s *Store) GetDamageCode(ctx context.Context, id int64) (*ledger.DamageCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetDamageCode(ctx, id)
}

func (s *Store) AddDamageEntry(ctx context.Context, e ledger.DamageEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AddDamageEntry(ctx, e)
}

func (s *Store) QueryDamage(ctx context.Context, f ledger.DamageFilter) ([]ledger.DamageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.QueryDamage(ctx, f)
}

func (s *Store) DamageSummaryByCategory(ctx context.Context, f ledger.DamageFilter) ([]ledger.DamageCategoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.DamageSummaryByCategory(ctx, f)
}

// =============================================================================
// QUERIES - shared between *sql.DB and *sql.Tx
// =============================================================================

type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store against any runner. No locking here:
// *Store wraps calls with its mutex, and inside WithTx the write lock is
// already held.
type queries struct {
	r runner
}

// =============================================================================
// INVENTORY
// =============================================================================

// ApplyDelta applies a signed quantity change with compare-and-swap.
func (q *queries) ApplyDelta(ctx context.Context, key ledger.StockKey, itemName string, delta decimal.Decimal, note string) (bool, error) {
	key = key.Normalize()
	delta = ledger.Round3(delta)
	itemName = strings.TrimSpace(itemName)
	note = strings.TrimSpace(note)
	now := time.Now().UTC().Format(timeLayout)

	var id int64
	var qtyStr string
	err := q.r.QueryRowContext(ctx, `
		SELECT id, qty FROM inventory
		WHERE warehouse = ? AND location = ? AND brand = ? AND item_code = ? AND lot = ? AND spec = ?
		ORDER BY updated_at DESC, id DESC LIMIT 1`,
		key.Warehouse, key.Location, key.Brand, key.ItemCode, key.Lot, key.Spec,
	).Scan(&id, &qtyStr)

	if err == sql.ErrNoRows {
		if delta.IsZero() {
			return true, nil
		}
		if delta.IsNegative() {
			// Decrease on a missing record: refused, absence is zero.
			return false, nil
		}
		_, err := q.r.ExecContext(ctx, `
			INSERT INTO inventory (warehouse, location, brand, item_code, item_name, lot, spec, qty, note, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key.Warehouse, key.Location, key.Brand, key.ItemCode, itemName,
			key.Lot, key.Spec, delta.String(), note, now,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert stock record: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read stock record: %w", err)
	}

	current, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return false, fmt.Errorf("corrupt quantity %q for record %d: %w", qtyStr, id, err)
	}
	next := ledger.Round3(current.Add(delta))

	if next.IsNegative() {
		return false, nil
	}

	if next.IsZero() {
		// Zero-floor: the row is deleted, conditioned on the quantity
		// we read so a concurrent change surfaces instead of vanishing.
		res, err := q.r.ExecContext(ctx,
			"DELETE FROM inventory WHERE id = ? AND qty = ?", id, qtyStr)
		if err != nil {
			return false, fmt.Errorf("failed to delete zeroed record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, fmt.Errorf("stock record %d changed concurrently", id)
		}
		return true, nil
	}

	query := "UPDATE inventory SET qty = ?, updated_at = ?"
	args := []any{next.String(), now}
	if itemName != "" {
		query += ", item_name = ?"
		args = append(args, itemName)
	}
	if note != "" {
		query += ", note = ?"
		args = append(args, note)
	}
	query += " WHERE id = ? AND qty = ?"
	args = append(args, id, qtyStr)

	res, err := q.r.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update stock record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("stock record %d changed concurrently", id)
	}
	return true, nil
}

const stockColumns = "id, warehouse, location, brand, item_code, item_name, lot, spec, qty, note, updated_at"

func (q *queries) GetRecord(ctx context.Context, key ledger.StockKey) (*ledger.StockRecord, error) {
	key = key.Normalize()
	rows, err := q.r.QueryContext(ctx, `
		SELECT `+stockColumns+` FROM inventory
		WHERE warehouse = ? AND location = ? AND brand = ? AND item_code = ? AND lot = ? AND spec = ?
		ORDER BY updated_at DESC, id DESC LIMIT 1`,
		key.Warehouse, key.Location, key.Brand, key.ItemCode, key.Lot, key.Spec,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanStockRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, rows.Err()
}

func (q *queries) QueryInventory(ctx context.Context, f ledger.InventoryFilter) ([]ledger.StockRecord, error) {
	query := "SELECT " + stockColumns + " FROM inventory WHERE 1=1"
	var args []any
	if v := strings.TrimSpace(f.Warehouse); v != "" {
		query += " AND warehouse = ?"
		args = append(args, v)
	}
	if v := strings.TrimSpace(f.Brand); v != "" {
		query += " AND brand = ?"
		args = append(args, v)
	}
	for col, v := range map[string]string{
		"location": f.Location, "item_code": f.ItemCode, "lot": f.Lot, "spec": f.Spec,
	} {
		if v = strings.TrimSpace(v); v != "" {
			query += " AND " + col + " LIKE ?"
			args = append(args, "%"+v+"%")
		}
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return q.queryStockRecords(ctx, query, args...)
}

func (q *queries) Candidates(ctx context.Context, key ledger.StockKey) ([]ledger.StockRecord, error) {
	key = key.Normalize()
	return q.queryStockRecords(ctx, `
		SELECT `+stockColumns+` FROM inventory
		WHERE warehouse = ? AND location = ? AND item_code = ? AND lot = ? AND spec = ?
		ORDER BY updated_at DESC, id DESC`,
		key.Warehouse, key.Location, key.ItemCode, key.Lot, key.Spec,
	)
}

func (q *queries) ItemFacts(ctx context.Context) ([]ledger.ItemFact, error) {
	// Sums run through decimal in Go; SUM() on text columns would go
	// through floats.
	rows, err := q.r.QueryContext(ctx,
		"SELECT item_code, lot, spec, qty FROM inventory ORDER BY item_code, lot, spec")
	if err != nil {
		return nil, fmt.Errorf("failed to query item facts: %w", err)
	}
	defer rows.Close()

	index := map[ledger.ItemKey]int{}
	var facts []ledger.ItemFact
	for rows.Next() {
		var code, lot, spec, qtyStr string
		if err := rows.Scan(&code, &lot, &spec, &qtyStr); err != nil {
			return nil, fmt.Errorf("failed to scan item fact: %w", err)
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt quantity %q for item %s: %w", qtyStr, code, err)
		}
		k := ledger.ItemKey{ItemCode: code, Lot: lot, Spec: spec}
		if i, ok := index[k]; ok {
			facts[i].Qty = facts[i].Qty.Add(qty)
			continue
		}
		index[k] = len(facts)
		facts = append(facts, ledger.ItemFact{ItemCode: code, Lot: lot, Spec: spec, Qty: qty})
	}
	return facts, rows.Err()
}

func (q *queries) queryStockRecords(ctx context.Context, query string, args ...any) ([]ledger.StockRecord, error) {
	rows, err := q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var records []ledger.StockRecord
	for rows.Next() {
		rec, err := scanStockRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanStockRecord(rows *sql.Rows) (ledger.StockRecord, error) {
	var (
		rec       ledger.StockRecord
		qtyStr    string
		updatedAt string
	)
	err := rows.Scan(
		&rec.ID,
		&rec.Key.Warehouse, &rec.Key.Location, &rec.Key.Brand,
		&rec.Key.ItemCode, &rec.ItemName, &rec.Key.Lot, &rec.Key.Spec,
		&qtyStr, &rec.Note, &updatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan stock record: %w", err)
	}
	rec.Qty, err = decimal.NewFromString(qtyStr)
	if err != nil {
		return rec, fmt.Errorf("corrupt quantity %q for record %d: %w", qtyStr, rec.ID, err)
	}
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return rec, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AppendAudit appends one history row. An existing idempotency key is a
// hard rejection; a fingerprint hit inside the window is a silent no-op.
func (q *queries) AppendAudit(ctx context.Context, e ledger.AuditEntry, dedupWindow time.Duration) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()
	qty := ledger.Round3(e.Qty).String()

	if dedupWindow > 0 {
		cutoff := createdAt.Add(-dedupWindow).Format(timeLayout)
		var count int
		err := q.r.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM history
			WHERE type = ? AND warehouse = ? AND item_code = ? AND lot = ? AND spec = ?
			  AND from_location = ? AND to_location = ? AND qty = ?
			  AND created_at >= ?`,
			string(e.Type), e.Warehouse, e.ItemCode, e.Lot, e.Spec,
			e.FromLoc, e.ToLoc, qty, cutoff,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check dedup window: %w", err)
		}
		if count > 0 {
			// Same fingerprint inside the window: one logical event.
			return nil
		}
	}

	_, err := q.r.ExecContext(ctx, `
		INSERT INTO history
		(type, warehouse, operator, brand, item_code, item_name, lot, spec,
		 from_location, to_location, qty, note, batch_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), e.Warehouse, e.Operator, e.Brand, e.ItemCode, e.ItemName,
		e.Lot, e.Spec, e.FromLoc, e.ToLoc, qty, e.Note, e.BatchID,
		nullString(e.IdempotencyKey), createdAt.Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

const auditColumns = `id, type, warehouse, operator, brand, item_code, item_name, lot, spec,
	from_location, to_location, qty, note, batch_id, idempotency_key,
	rolled_back, rollback_at, rollback_by, rollback_note, created_at`

func (q *queries) GetAudit(ctx context.Context, id int64) (*ledger.AuditEntry, error) {
	entries, err := q.queryAuditEntries(ctx,
		"SELECT "+auditColumns+" FROM history WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (q *queries) AuditByBatch(ctx context.Context, batchID string) ([]ledger.AuditEntry, error) {
	// Reversal rows inherit the batch id for traceability but are never
	// themselves part of the reversible set.
	return q.queryAuditEntries(ctx, `
		SELECT `+auditColumns+` FROM history
		WHERE batch_id = ? AND rolled_back = 0 AND type != ?
		ORDER BY id DESC`,
		batchID, string(ledger.EventReversal),
	)
}

func (q *queries) MarkReversed(ctx context.Context, ids []int64, by, note string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := []any{at.UTC().Format(timeLayout), by, note}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	res, err := q.r.ExecContext(ctx, `
		UPDATE history
		SET rolled_back = 1, rollback_at = ?, rollback_by = ?, rollback_note = ?
		WHERE id IN (`+strings.Join(placeholders, ", ")+`) AND rolled_back = 0`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to mark entries reversed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("marked %d of %d entries: reversal state changed concurrently", n, len(ids))
	}
	return nil
}

func (q *queries) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query := "SELECT " + auditColumns + " FROM history WHERE 1=1"
	var args []any
	if prefix := calendarPrefix(f.Year, f.Month, f.Day); prefix != "" {
		query += " AND created_at LIKE ?"
		args = append(args, prefix+"%")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return q.queryAuditEntries(ctx, query, args...)
}

func (q *queries) queryAuditEntries(ctx context.Context, query string, args ...any) ([]ledger.AuditEntry, error) {
	rows, err := q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanAuditEntry(rows *sql.Rows) (ledger.AuditEntry, error) {
	var (
		e              ledger.AuditEntry
		typeStr        string
		qtyStr         string
		idempotencyKey sql.NullString
		rolledBack     int
		rollbackAt     sql.NullString
		createdAt      string
	)
	err := rows.Scan(
		&e.ID, &typeStr, &e.Warehouse, &e.Operator, &e.Brand,
		&e.ItemCode, &e.ItemName, &e.Lot, &e.Spec,
		&e.FromLoc, &e.ToLoc, &qtyStr, &e.Note, &e.BatchID, &idempotencyKey,
		&rolledBack, &rollbackAt, &e.RollbackBy, &e.RollbackNote, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	// Unknown stored types are a migration error, not data to carry along.
	e.Type, err = ledger.ParseEventType(typeStr)
	if err != nil {
		return e, fmt.Errorf("history entry %d: %w", e.ID, err)
	}
	e.Qty, err = decimal.NewFromString(qtyStr)
	if err != nil {
		return e, fmt.Errorf("corrupt quantity %q for entry %d: %w", qtyStr, e.ID, err)
	}
	e.IdempotencyKey = idempotencyKey.String
	e.RolledBack = rolledBack != 0
	if rollbackAt.Valid {
		t, _ := time.Parse(timeLayout, rollbackAt.String)
		e.RollbackAt = &t
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return e, nil
}

// =============================================================================
// DAMAGE / CS
// =============================================================================

func (q *queries) ListDamageCodes(ctx context.Context, activeOnly bool) ([]ledger.DamageCode, error) {
	query := "SELECT id, category, type_name, situation, description, active FROM damage_codes"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY category, type_name, id"

	rows, err := q.r.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query damage codes: %w", err)
	}
	defer rows.Close()

	var codes []ledger.DamageCode
	for rows.Next() {
		var c ledger.DamageCode
		var active int
		if err := rows.Scan(&c.ID, &c.Category, &c.Type, &c.Situation, &c.Description, &active); err != nil {
			return nil, fmt.Errorf("failed to scan damage code: %w", err)
		}
		c.Active = active != 0
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (q *queries) GetDamageCode(ctx context.Context, id int64) (*ledger.DamageCode, error) {
	var c ledger.DamageCode
	var active int
	err := q.r.QueryRowContext(ctx,
		"SELECT id, category, type_name, situation, description, active FROM damage_codes WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Category, &c.Type, &c.Situation, &c.Description, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read damage code: %w", err)
	}
	c.Active = active != 0
	return &c, nil
}

func (q *queries) AddDamageEntry(ctx context.Context, e ledger.DamageEntry) (int64, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	deducted := 0
	if e.Deducted {
		deducted = 1
	}

	res, err := q.r.ExecContext(ctx, `
		INSERT INTO damage_history
		(occurred_at, warehouse, location, brand, item_code, item_name, lot, spec,
		 qty, damage_code_id, detail, deducted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OccurredAt, e.Warehouse, e.Location, e.Brand, e.ItemCode, e.ItemName,
		e.Lot, e.Spec, ledger.Round3(e.Qty).String(), e.DamageCodeID, e.Detail,
		deducted, createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert damage entry: %w", err)
	}
	return res.LastInsertId()
}

func (q *queries) QueryDamage(ctx context.Context, f ledger.DamageFilter) ([]ledger.DamageEntry, error) {
	query := `
		SELECT h.id, h.occurred_at, h.warehouse, h.location, h.brand, h.item_code,
		       h.item_name, h.lot, h.spec, h.qty, h.damage_code_id, h.detail,
		       h.deducted, h.created_at, c.category, c.type_name, c.situation
		FROM damage_history h
		JOIN damage_codes c ON c.id = h.damage_code_id
		WHERE 1=1`
	var args []any
	if prefix := calendarPrefix(f.Year, f.Month, 0); prefix != "" {
		query += " AND h.occurred_at LIKE ?"
		args = append(args, prefix+"%")
	}
	query += " ORDER BY h.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query damage history: %w", err)
	}
	defer rows.Close()

	var entries []ledger.DamageEntry
	for rows.Next() {
		var (
			e         ledger.DamageEntry
			qtyStr    string
			deducted  int
			createdAt string
		)
		err := rows.Scan(
			&e.ID, &e.OccurredAt, &e.Warehouse, &e.Location, &e.Brand, &e.ItemCode,
			&e.ItemName, &e.Lot, &e.Spec, &qtyStr, &e.DamageCodeID, &e.Detail,
			&deducted, &createdAt, &e.Category, &e.TypeName, &e.Situation,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan damage entry: %w", err)
		}
		e.Qty, err = decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt quantity %q for damage entry %d: %w", qtyStr, e.ID, err)
		}
		e.Deducted = deducted != 0
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *queries) DamageSummaryByCategory(ctx context.Context, f ledger.DamageFilter) ([]ledger.DamageCategoryCount, error) {
	query := `
		SELECT c.category, COUNT(*)
		FROM damage_history h
		JOIN damage_codes c ON c.id = h.damage_code_id
		WHERE 1=1`
	var args []any
	if prefix := calendarPrefix(f.Year, f.Month, 0); prefix != "" {
		query += " AND h.occurred_at LIKE ?"
		args = append(args, prefix+"%")
	}
	query += " GROUP BY c.category ORDER BY COUNT(*) DESC, c.category"

	rows, err := q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query damage summary: %w", err)
	}
	defer rows.Close()

	var counts []ledger.DamageCategoryCount
	for rows.Next() {
		var c ledger.DamageCategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan damage summary: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Helper functions

// calendarPrefix builds the created_at/occurred_at LIKE prefix for a
// year / year-month / year-month-day filter.
func calendarPrefix(year, month, day int) string {
	if year <= 0 {
		return ""
	}
	prefix := fmt.Sprintf("%04d", year)
	if month <= 0 {
		return prefix
	}
	prefix += fmt.Sprintf("-%02d", month)
	if day <= 0 {
		return prefix
	}
	return prefix + fmt.Sprintf("-%02d", day)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
