/*
Package sqlite provides a SQLite-backed reference implementation of the
assortment Backend.

PURPOSE:
  Holds warehouses, GRNs, GRN line items with their remaining carats,
  packets, packet code sequences and the log of accepted assortments.
  It is the authoritative ledger the assortment engine defers to.

INTERFACES IMPLEMENTED:
  assortment.Backend

CONSERVATION:
  AssortGrnToPackets runs in one database transaction:
  1. Load the GRN's line items
  2. Reject if any line's summed allocations exceed its remaining qty
  3. Reject unknown packets, packets of another purchase order, and new
     packets without code or classification
  4. Decrement remaining_qty, credit packets, log the assortment
  Any failure rolls everything back.

KEY TABLES:
  grn_items:             remaining_qty is the balance the engine reads
  packets:               one row per packet code (UNIQUE)
  packet_code_sequences: last issued sequence per code prefix
  assortments / assortment_rows: append-only log of accepted requests

QUANTITIES:
  Carats are stored as TEXT and read back through decimal.Decimal, which
  implements sql.Scanner and driver.Valuer.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, as SQLite allows a single writer.

USAGE:
  store, err := sqlite.New("./data/assortment.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - assortment/backend.go: Interface definition
  - assortment/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/gemvault/assortment-engine/assortment"
)

// Store implements assortment.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
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
	CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grns (
		id TEXT PRIMARY KEY,
		grn_number TEXT NOT NULL,
		warehouse_id TEXT NOT NULL REFERENCES warehouses(id),
		purchase_order_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grns_warehouse
		ON grns(warehouse_id);

	-- remaining_qty is decremented by every accepted assortment
	CREATE TABLE IF NOT EXISTS grn_items (
		id TEXT PRIMARY KEY,
		grn_id TEXT NOT NULL REFERENCES grns(id),
		position INTEGER NOT NULL,
		description TEXT,
		received_qty TEXT NOT NULL,
		remaining_qty TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grn_items_grn
		ON grn_items(grn_id, position);

	CREATE TABLE IF NOT EXISTS packets (
		id TEXT PRIMARY KEY,
		packet_code TEXT NOT NULL UNIQUE,
		warehouse_id TEXT NOT NULL,
		purchase_order_id TEXT,
		shape TEXT,
		color TEXT,
		clarity TEXT,
		stage TEXT,
		carats TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_packets_scope
		ON packets(warehouse_id, purchase_order_id);

	CREATE TABLE IF NOT EXISTS packet_code_sequences (
		prefix TEXT PRIMARY KEY,
		last_seq INTEGER NOT NULL
	);

	-- Append-only log of accepted assortments
	CREATE TABLE IF NOT EXISTS assortments (
		id TEXT PRIMARY KEY,
		grn_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assortment_rows (
		assortment_id TEXT NOT NULL REFERENCES assortments(id),
		position INTEGER NOT NULL,
		grn_item_id TEXT NOT NULL,
		packet_id TEXT NOT NULL,
		carats TEXT NOT NULL,
		PRIMARY KEY (assortment_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// WAREHOUSES & GRNS
// =============================================================================

func (s *Store) SaveWarehouse(ctx context.Context, w assortment.Warehouse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warehouses (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, w.ID, w.Name, now())
	if err != nil {
		return fmt.Errorf("failed to save warehouse: %w", err)
	}
	return nil
}

func (s *Store) ListWarehouses(ctx context.Context) ([]assortment.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM warehouses ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list warehouses: %w", err)
	}
	defer rows.Close()

	var out []assortment.Warehouse
	for rows.Next() {
		var w assortment.Warehouse
		if err := rows.Scan(&w.ID, &w.Name); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SaveGrn stores a GRN and its line items. RemainingQty is stored as given, so
// a fully assorted line is seeded with zero.
func (s *Store) SaveGrn(ctx context.Context, g assortment.Grn, items ...assortment.GrnLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO grns (id, grn_number, warehouse_id, purchase_order_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, g.ID, g.GrnNumber, g.WarehouseID, nullString(g.PurchaseOrderID), now())
	if err != nil {
		return fmt.Errorf("failed to save GRN: %w", err)
	}

	for i, it := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO grn_items (id, grn_id, position, description, received_qty, remaining_qty)
			VALUES (?, ?, ?, ?, ?, ?)
		`, it.ID, g.ID, i, nullString(it.Description), it.ReceivedQty, it.RemainingQty)
		if err != nil {
			return fmt.Errorf("failed to save GRN item %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListGrns(ctx context.Context, warehouseID string) ([]assortment.Grn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, grn_number, warehouse_id, purchase_order_id FROM grns`
	var args []any
	if warehouseID != "" {
		query += ` WHERE warehouse_id = ?`
		args = append(args, warehouseID)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list GRNs: %w", err)
	}
	defer rows.Close()

	var out []assortment.Grn
	for rows.Next() {
		var (
			g  assortment.Grn
			po sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.GrnNumber, &g.WarehouseID, &po); err != nil {
			return nil, fmt.Errorf("failed to scan GRN: %w", err)
		}
		g.PurchaseOrderID = po.String
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) GrnItemsWithRemainingQty(ctx context.Context, grnID string) ([]assortment.GrnLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := loadGrn(ctx, s.db, grnID); err != nil {
		return nil, err
	}
	return loadItems(ctx, s.db, grnID)
}

func loadGrn(ctx context.Context, q queryer, id string) (assortment.Grn, error) {
	var (
		g  assortment.Grn
		po sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, grn_number, warehouse_id, purchase_order_id FROM grns WHERE id = ?`, id,
	).Scan(&g.ID, &g.GrnNumber, &g.WarehouseID, &po)
	if errors.Is(err, sql.ErrNoRows) {
		return g, assortment.ErrGrnNotFound
	}
	if err != nil {
		return g, fmt.Errorf("failed to get GRN: %w", err)
	}
	g.PurchaseOrderID = po.String
	return g, nil
}

func loadItems(ctx context.Context, q queryer, grnID string) ([]assortment.GrnLineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, grn_id, description, received_qty, remaining_qty
		FROM grn_items WHERE grn_id = ? ORDER BY position
	`, grnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query GRN items: %w", err)
	}
	defer rows.Close()

	var out []assortment.GrnLineItem
	for rows.Next() {
		var (
			it   assortment.GrnLineItem
			desc sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.GrnID, &desc, &it.ReceivedQty, &it.RemainingQty); err != nil {
			return nil, fmt.Errorf("failed to scan GRN item: %w", err)
		}
		it.Description = desc.String
		out = append(out, it)
	}
	return out, rows.Err()
}

// =============================================================================
// PACKETS
// =============================================================================

func (s *Store) SavePacket(ctx context.Context, p assortment.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := insertPacket(ctx, s.db, p); err != nil {
		return err
	}
	return nil
}

func insertPacket(ctx context.Context, q queryer, p assortment.Packet) error {
	ts := now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO packets
		(id, packet_code, warehouse_id, purchase_order_id, shape, color, clarity, stage, carats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.PacketCode, p.WarehouseID, nullString(p.PurchaseOrderID),
		p.Shape, p.Color, p.Clarity, p.Stage, p.Carats, ts, ts)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &assortment.BackendError{Message: fmt.Sprintf("packet code %s already exists", p.PacketCode)}
		}
		return fmt.Errorf("failed to insert packet: %w", err)
	}
	return nil
}

const packetColumns = `id, packet_code, warehouse_id, purchase_order_id, shape, color, clarity, stage, carats`

func (s *Store) ListPackets(ctx context.Context, f assortment.PacketFilter) ([]assortment.Packet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.WarehouseID != "" {
		where = append(where, "warehouse_id = ?")
		args = append(args, f.WarehouseID)
	}
	if f.PurchaseOrderID != "" {
		where = append(where, "purchase_order_id = ?")
		args = append(args, f.PurchaseOrderID)
	}
	query := `SELECT ` + packetColumns + ` FROM packets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY packet_code`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list packets: %w", err)
	}
	defer rows.Close()

	var out []assortment.Packet
	for rows.Next() {
		p, err := scanPacket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPacketByCode returns nil when no packet has the code.
func (s *Store) GetPacketByCode(ctx context.Context, code string) (*assortment.Packet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findPacket(ctx, s.db, "packet_code", code)
}

func findPacket(ctx context.Context, q queryer, column, value string) (*assortment.Packet, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+packetColumns+` FROM packets WHERE `+column+` = ?`, value)
	if err != nil {
		return nil, fmt.Errorf("failed to get packet: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanPacket(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPacket(rows *sql.Rows) (assortment.Packet, error) {
	var (
		p                     assortment.Packet
		po                    sql.NullString
		shape, color, clarity sql.NullString
		stage                 sql.NullString
	)
	err := rows.Scan(&p.ID, &p.PacketCode, &p.WarehouseID, &po, &shape, &color, &clarity, &stage, &p.Carats)
	if err != nil {
		return p, fmt.Errorf("failed to scan packet: %w", err)
	}
	p.PurchaseOrderID = po.String
	p.Shape, p.Color, p.Clarity, p.Stage = shape.String, color.String, clarity.String, stage.String
	return p, nil
}

// GeneratePacketCode issues the next free code for the classification.
func (s *Store) GeneratePacketCode(ctx context.Context, attrs assortment.Attributes) (string, error) {
	if !attrs.Complete() {
		return "", &assortment.BackendError{Message: assortment.ErrAttributesRequired.Error(), Err: assortment.ErrAttributesRequired}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prefix := assortment.CodePrefix(attrs)
	var last int
	err = tx.QueryRowContext(ctx, `SELECT last_seq FROM packet_code_sequences WHERE prefix = ?`, prefix).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read code sequence: %w", err)
	}

	var code string
	for {
		last++
		code = assortment.FormatPacketCode(prefix, last)
		var taken int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM packets WHERE packet_code = ?`, code).Scan(&taken); err != nil {
			return "", fmt.Errorf("failed to check packet code: %w", err)
		}
		if taken == 0 {
			break
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO packet_code_sequences (prefix, last_seq) VALUES (?, ?)
		ON CONFLICT(prefix) DO UPDATE SET last_seq = excluded.last_seq
	`, prefix, last)
	if err != nil {
		return "", fmt.Errorf("failed to advance code sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit code sequence: %w", err)
	}
	return code, nil
}

// =============================================================================
// ASSORTMENT
// =============================================================================

// AssortGrnToPackets applies an assortment atomically.
func (s *Store) AssortGrnToPackets(ctx context.Context, req assortment.AssortRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	grn, err := loadGrn(ctx, tx, req.GrnID)
	if errors.Is(err, assortment.ErrGrnNotFound) {
		return &assortment.BackendError{Message: "GRN not found", Err: err}
	}
	if err != nil {
		return err
	}
	if req.WarehouseID != "" && req.WarehouseID != grn.WarehouseID {
		return &assortment.BackendError{Message: "GRN does not belong to the selected warehouse"}
	}
	if len(req.Allocations) == 0 {
		return &assortment.BackendError{Message: "no allocations", Err: assortment.ErrNoValidAllocations}
	}

	items, err := loadItems(ctx, tx, grn.ID)
	if err != nil {
		return err
	}
	if err := assortment.CheckRemaining(items, req.Allocations); err != nil {
		return err
	}

	// Resolve destinations before writing anything
	packetIDs := make([]string, len(req.Allocations))
	for i, r := range req.Allocations {
		id, err := s.resolveDestination(ctx, tx, r, grn)
		if err != nil {
			return err
		}
		packetIDs[i] = id
	}

	totals := assortment.LineTotals(req.Allocations)
	for _, it := range items {
		allocated, ok := totals[it.ID]
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx, `UPDATE grn_items SET remaining_qty = ? WHERE id = ?`,
			it.RemainingQty.Sub(allocated), it.ID)
		if err != nil {
			return fmt.Errorf("failed to update remaining quantity: %w", err)
		}
	}

	assortmentID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assortments (id, grn_id, warehouse_id, created_at) VALUES (?, ?, ?, ?)
	`, assortmentID, grn.ID, grn.WarehouseID, now())
	if err != nil {
		return fmt.Errorf("failed to log assortment: %w", err)
	}

	for i, r := range req.Allocations {
		if r.CreateNewPacket && packetIDs[i] == "" {
			p := assortment.Packet{
				ID:              uuid.NewString(),
				PacketCode:      r.PacketCode,
				WarehouseID:     grn.WarehouseID,
				PurchaseOrderID: grn.PurchaseOrderID,
				Shape:           r.Attributes.Shape,
				Color:           r.Attributes.Color,
				Clarity:         r.Attributes.Clarity,
				Stage:           assortment.DefaultStage,
				Carats:          r.Carats,
			}
			if err := insertPacket(ctx, tx, p); err != nil {
				return err
			}
			packetIDs[i] = p.ID
			// Later rows for the same new code credit this packet
			for j := i + 1; j < len(req.Allocations); j++ {
				if req.Allocations[j].CreateNewPacket && req.Allocations[j].PacketCode == r.PacketCode {
					packetIDs[j] = p.ID
				}
			}
		} else if err := creditPacket(ctx, tx, packetIDs[i], r.Carats); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO assortment_rows (assortment_id, position, grn_item_id, packet_id, carats)
			VALUES (?, ?, ?, ?, ?)
		`, assortmentID, i, r.GrnItemID, packetIDs[i], r.Carats)
		if err != nil {
			return fmt.Errorf("failed to log assortment row: %w", err)
		}
	}

	return tx.Commit()
}

// resolveDestination returns the ID of the packet a row credits, or "" for a
// new packet. A new packet's code must not be taken yet; repeats of the same
// code within one request credit the packet the first row creates.
func (s *Store) resolveDestination(ctx context.Context, tx *sql.Tx, r assortment.Row, grn assortment.Grn) (string, error) {
	if r.CreateNewPacket {
		if r.PacketCode == "" || r.Attributes == nil || !r.Attributes.Complete() {
			return "", &assortment.BackendError{
				Message: "new packets need a packet code and shape, color and clarity",
				Err:     assortment.ErrAttributesRequired,
			}
		}
		p, err := findPacket(ctx, tx, "packet_code", r.PacketCode)
		if err != nil {
			return "", err
		}
		if p != nil {
			return "", &assortment.BackendError{Message: fmt.Sprintf("packet code %s already exists", r.PacketCode)}
		}
		return "", nil
	}

	p, err := findPacket(ctx, tx, "id", r.PacketID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", &assortment.BackendError{
			Message: fmt.Sprintf("packet %s not found", r.PacketID),
			Err:     assortment.ErrPacketNotFound,
		}
	}
	if grn.PurchaseOrderID != "" && p.PurchaseOrderID != grn.PurchaseOrderID {
		return "", &assortment.BackendError{Message: fmt.Sprintf("packet %s belongs to another purchase order", p.PacketCode)}
	}
	return p.ID, nil
}

func creditPacket(ctx context.Context, tx *sql.Tx, packetID string, carats decimal.Decimal) error {
	var current decimal.Decimal
	if err := tx.QueryRowContext(ctx, `SELECT carats FROM packets WHERE id = ?`, packetID).Scan(&current); err != nil {
		return fmt.Errorf("failed to read packet carats: %w", err)
	}
	_, err := tx.ExecContext(ctx, `UPDATE packets SET carats = ?, updated_at = ? WHERE id = ?`,
		current.Add(carats), now(), packetID)
	if err != nil {
		return fmt.Errorf("failed to credit packet: %w", err)
	}
	return nil
}

// AssortmentCount returns how many assortments were accepted for a GRN.
func (s *Store) AssortmentCount(ctx context.Context, grnID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assortments WHERE grn_id = ?`, grnID).Scan(&n)
	return n, err
}

// Helper functions

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
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

var _ assortment.Backend = (*Store)(nil)
