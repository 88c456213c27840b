package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/cashbook/core"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement. It runs against *sql.DB for store-level
// reads and against *sql.Tx inside WithTx.
type queries struct {
	q querier
	d *Dialect
}

func (qs queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := qs.q.ExecContext(ctx, qs.d.Rebind(query), args...)
	return res, qs.classify(err)
}

func (qs queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := qs.q.QueryContext(ctx, qs.d.Rebind(query), args...)
	return rows, qs.classify(err)
}

func (qs queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return qs.q.QueryRowContext(ctx, qs.d.Rebind(query), args...)
}

// classify tags driver errors the core needs to recognise.
func (qs queries) classify(err error) error {
	if err == nil {
		return nil
	}
	if signal := qs.d.Classify(err); signal != nil {
		return fmt.Errorf("%w: %w", signal, err)
	}
	return err
}

// =============================================================================
// CASH SESSIONS
// =============================================================================

const sessionColumns = `id, opened_at, closed_at, opening_balance, closing_balance,
	expected_balance, status, opened_by, closed_by, notes`

func scanSession(r rowScanner) (core.CashSession, error) {
	var (
		s                 core.CashSession
		closing, expected decimal.NullDecimal
		closedBy, notes   sql.NullString
	)
	err := r.Scan(&s.ID, timeCol{&s.OpenedAt}, nullTimeCol{&s.ClosedAt}, &s.OpeningBalance,
		&closing, &expected, &s.Status, &s.OpenedBy, &closedBy, &notes)
	if err != nil {
		return s, err
	}
	if closing.Valid {
		s.ClosingBalance = &closing.Decimal
	}
	if expected.Valid {
		s.ExpectedBalance = &expected.Decimal
	}
	s.ClosedBy = closedBy.String
	s.Notes = notes.String
	return s, nil
}

func (qs queries) getSession(ctx context.Context, lock string, id core.SessionID) (*core.CashSession, error) {
	row := qs.queryRow(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = ?`+lock, string(id))
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qs.classify(fmt.Errorf("failed to get session: %w", err))
	}
	return &s, nil
}

func (qs queries) GetSession(ctx context.Context, id core.SessionID) (*core.CashSession, error) {
	return qs.getSession(ctx, "", id)
}

func (qs queries) CurrentSession(ctx context.Context) (*core.CashSession, error) {
	row := qs.queryRow(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE status = 'open'`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qs.classify(fmt.Errorf("failed to get current session: %w", err))
	}
	return &s, nil
}

func (qs queries) ListSessions(ctx context.Context, limit int) ([]core.CashSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM cash_sessions ORDER BY opened_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := qs.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []core.CashSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (qs *txStore) InsertSession(ctx context.Context, s core.CashSession) error {
	_, err := qs.exec(ctx, `
		INSERT INTO cash_sessions (id, opened_at, opening_balance, status, opened_by)
		VALUES (?, ?, ?, ?, ?)`,
		string(s.ID), qs.d.EncodeTime(s.OpenedAt), s.OpeningBalance, string(s.Status), s.OpenedBy)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (qs *txStore) UpdateSession(ctx context.Context, s core.CashSession) error {
	var closedAt any
	if s.ClosedAt != nil {
		closedAt = qs.d.EncodeTime(*s.ClosedAt)
	}
	res, err := qs.exec(ctx, `
		UPDATE cash_sessions
		SET closed_at = ?, closing_balance = ?, expected_balance = ?, status = ?, closed_by = ?, notes = ?
		WHERE id = ?`,
		closedAt, nullDecimal(s.ClosingBalance), nullDecimal(s.ExpectedBalance), string(s.Status),
		nullString(s.ClosedBy), nullString(s.Notes), string(s.ID))
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "session", ID: string(s.ID)}
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

const entryColumns = `id, kind, amount, payment_method, description, occurred_at,
	recorded_by, correlation_key, reverses, created_at`

func scanEntry(r rowScanner) (core.LedgerEntry, error) {
	var (
		e                     core.LedgerEntry
		description           sql.NullString
		correlation, reverses sql.NullString
	)
	err := r.Scan(&e.ID, &e.Kind, &e.Amount, &e.PaymentMethod, &description, timeCol{&e.OccurredAt},
		&e.RecordedBy, &correlation, &reverses, timeCol{&e.CreatedAt})
	if err != nil {
		return e, err
	}
	e.Description = description.String
	e.CorrelationKey = correlation.String
	e.Reverses = core.EntryID(reverses.String)
	return e, nil
}

func (qs queries) getEntry(ctx context.Context, column string, value string) (*core.LedgerEntry, error) {
	row := qs.queryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE `+column+` = ?`, value)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qs.classify(fmt.Errorf("failed to get entry: %w", err))
	}
	return &e, nil
}

func (qs queries) GetEntry(ctx context.Context, id core.EntryID) (*core.LedgerEntry, error) {
	return qs.getEntry(ctx, "id", string(id))
}

func (qs queries) GetEntryByCorrelationKey(ctx context.Context, key string) (*core.LedgerEntry, error) {
	return qs.getEntry(ctx, "correlation_key", key)
}

func (qs queries) ListEntries(ctx context.Context, f core.EntryFilter) ([]core.LedgerEntry, error) {
	var w where
	qs.timeRange(&w, "occurred_at", f.Range)
	qs.timeRange(&w, "created_at", f.CreatedRange)
	if f.Kind != "" {
		w.add("kind = ?", string(f.Kind))
	}
	if f.RecordedBy != "" {
		w.add("recorded_by = ?", f.RecordedBy)
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries` + w.String() +
		` ORDER BY occurred_at ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		w.args = append(w.args, f.Limit)
	}

	rows, err := qs.query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (qs *txStore) InsertEntry(ctx context.Context, e core.LedgerEntry) error {
	_, err := qs.exec(ctx, `
		INSERT INTO ledger_entries
		(id, kind, amount, payment_method, description, occurred_at, recorded_by,
		 correlation_key, reverses, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.Kind), e.Amount, string(e.PaymentMethod), e.Description,
		qs.d.EncodeTime(e.OccurredAt), e.RecordedBy, nullString(e.CorrelationKey),
		nullString(string(e.Reverses)), qs.d.EncodeTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (qs queries) timeRange(w *where, column string, r core.TimeRange) {
	if !r.From.IsZero() {
		w.add(column+" >= ?", qs.d.EncodeTime(r.From))
	}
	if !r.To.IsZero() {
		w.add(column+" < ?", qs.d.EncodeTime(r.To))
	}
}

// =============================================================================
// STOCK
// =============================================================================

const itemColumns = `id, name, unit_price, unit_cost, on_hand, reorder_threshold, created_at, updated_at`

func scanItem(r rowScanner) (core.StockItem, error) {
	var item core.StockItem
	err := r.Scan(&item.ID, &item.Name, &item.UnitPrice, &item.UnitCost, &item.OnHand,
		&item.ReorderThreshold, timeCol{&item.CreatedAt}, timeCol{&item.UpdatedAt})
	return item, err
}

func (qs queries) getStockItem(ctx context.Context, lock string, id core.StockItemID) (*core.StockItem, error) {
	row := qs.queryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id = ?`+lock, string(id))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qs.classify(fmt.Errorf("failed to get stock item: %w", err))
	}
	return &item, nil
}

func (qs queries) GetStockItem(ctx context.Context, id core.StockItemID) (*core.StockItem, error) {
	return qs.getStockItem(ctx, "", id)
}

func (qs queries) ListStockItems(ctx context.Context, f core.StockFilter) ([]core.StockItem, error) {
	var w where
	if f.AvailableOnly {
		w.add("on_hand > 0")
	}
	if f.LowOnly {
		w.add("on_hand <= reorder_threshold")
	}
	rows, err := qs.query(ctx, `SELECT `+itemColumns+` FROM stock_items`+w.String()+` ORDER BY name ASC, id ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock items: %w", err)
	}
	defer rows.Close()

	var out []core.StockItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (qs *txStore) InsertStockItem(ctx context.Context, item core.StockItem) error {
	_, err := qs.exec(ctx, `
		INSERT INTO stock_items (id, name, unit_price, unit_cost, on_hand, reorder_threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(item.ID), item.Name, item.UnitPrice, item.UnitCost, item.OnHand, item.ReorderThreshold,
		qs.d.EncodeTime(item.CreatedAt), qs.d.EncodeTime(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert stock item: %w", err)
	}
	return nil
}

func (qs *txStore) UpdateStockPricing(ctx context.Context, item core.StockItem) error {
	res, err := qs.exec(ctx, `
		UPDATE stock_items SET name = ?, unit_price = ?, unit_cost = ?, reorder_threshold = ?, updated_at = ?
		WHERE id = ?`,
		item.Name, item.UnitPrice, item.UnitCost, item.ReorderThreshold, qs.d.EncodeTime(item.UpdatedAt), string(item.ID))
	if err != nil {
		return fmt.Errorf("failed to update stock item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "stock item", ID: string(item.ID)}
	}
	return nil
}

// AddStock applies delta only if the result stays at or above zero. The
// floor is part of the UPDATE, so it holds even without a prior row lock.
func (qs *txStore) AddStock(ctx context.Context, id core.StockItemID, delta int64) (int64, error) {
	var onHand int64
	err := qs.queryRow(ctx, `
		UPDATE stock_items SET on_hand = on_hand + ?
		WHERE id = ? AND on_hand + ? >= 0
		RETURNING on_hand`,
		delta, string(id), delta).Scan(&onHand)
	if err == nil {
		return onHand, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, qs.classify(fmt.Errorf("failed to adjust stock: %w", err))
	}

	current, err := qs.GetStockItem(ctx, id)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return 0, &core.NotFoundError{Kind: "stock item", ID: string(id)}
	}
	return current.OnHand, &core.InsufficientStockError{StockItemID: id, OnHand: current.OnHand, Requested: -delta}
}

const movementColumns = `id, stock_item_id, direction, quantity, occurred_at, reason`

func (qs queries) ListMovements(ctx context.Context, f core.MovementFilter) ([]core.StockMovement, error) {
	var w where
	if f.StockItemID != "" {
		w.add("stock_item_id = ?", string(f.StockItemID))
	}
	query := `SELECT ` + movementColumns + ` FROM stock_movements` + w.String() + ` ORDER BY occurred_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		w.args = append(w.args, f.Limit)
	}

	rows, err := qs.query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []core.StockMovement
	for rows.Next() {
		var (
			mv     core.StockMovement
			reason sql.NullString
		)
		if err := rows.Scan(&mv.ID, &mv.StockItemID, &mv.Direction, &mv.Quantity, timeCol{&mv.OccurredAt}, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		mv.Reason = reason.String
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (qs *txStore) InsertMovement(ctx context.Context, mv core.StockMovement) error {
	_, err := qs.exec(ctx, `
		INSERT INTO stock_movements (id, stock_item_id, direction, quantity, occurred_at, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(mv.ID), string(mv.StockItemID), string(mv.Direction), mv.Quantity,
		qs.d.EncodeTime(mv.OccurredAt), mv.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

const appointmentColumns = `id, status, amount_charged, cost, payment_method,
	employee_id, service_id, client_id, scheduled_for`

func scanAppointment(r rowScanner) (core.Appointment, error) {
	var (
		a               core.Appointment
		service, client sql.NullString
	)
	err := r.Scan(&a.ID, &a.Status, &a.AmountCharged, &a.Cost, &a.PaymentMethod,
		&a.EmployeeID, &service, &client, timeCol{&a.Date})
	a.ServiceID = service.String
	a.ClientID = client.String
	return a, err
}

func (qs queries) getAppointment(ctx context.Context, lock string, id core.AppointmentID) (*core.Appointment, error) {
	row := qs.queryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`+lock, string(id))
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qs.classify(fmt.Errorf("failed to get appointment: %w", err))
	}
	return &a, nil
}

func (qs queries) GetAppointment(ctx context.Context, id core.AppointmentID) (*core.Appointment, error) {
	return qs.getAppointment(ctx, "", id)
}

func (qs queries) ListAppointments(ctx context.Context, f core.AppointmentFilter) ([]core.Appointment, error) {
	var w where
	qs.timeRange(&w, "scheduled_for", f.Range)
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.EmployeeID != "" {
		w.add("employee_id = ?", f.EmployeeID)
	}
	rows, err := qs.query(ctx, `SELECT `+appointmentColumns+` FROM appointments`+w.String()+
		` ORDER BY scheduled_for ASC, id ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	var out []core.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (qs *txStore) InsertAppointment(ctx context.Context, a core.Appointment) error {
	_, err := qs.exec(ctx, `
		INSERT INTO appointments
		(id, status, amount_charged, cost, payment_method, employee_id, service_id, client_id, scheduled_for)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), string(a.Status), a.AmountCharged, a.Cost, string(a.PaymentMethod),
		a.EmployeeID, nullString(a.ServiceID), nullString(a.ClientID), qs.d.EncodeTime(a.Date))
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

func (qs *txStore) SetAppointmentStatus(ctx context.Context, id core.AppointmentID, status core.AppointmentStatus) error {
	res, err := qs.exec(ctx, `UPDATE appointments SET status = ? WHERE id = ?`, string(status), string(id))
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Kind: "appointment", ID: string(id)}
	}
	return nil
}

// =============================================================================
// PRODUCT SALES
// =============================================================================

const saleColumns = `id, stock_item_id, quantity, unit_price, unit_cost, discount_pct,
	total_amount, payment_method, occurred_at, recorded_by`

func scanSale(r rowScanner) (core.ProductSale, error) {
	var s core.ProductSale
	err := r.Scan(&s.ID, &s.StockItemID, &s.Quantity, &s.UnitPrice, &s.UnitCost, &s.DiscountPct,
		&s.TotalAmount, &s.PaymentMethod, timeCol{&s.OccurredAt}, &s.RecordedBy)
	return s, err
}

func (qs queries) GetSale(ctx context.Context, id core.SaleID) (*core.ProductSale, error) {
	row := qs.queryRow(ctx, `SELECT `+saleColumns+` FROM product_sales WHERE id = ?`, string(id))
	s, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qs.classify(fmt.Errorf("failed to get sale: %w", err))
	}
	return &s, nil
}

func (qs queries) ListSales(ctx context.Context, f core.SaleFilter) ([]core.ProductSale, error) {
	var w where
	qs.timeRange(&w, "occurred_at", f.Range)
	if f.RecordedBy != "" {
		w.add("recorded_by = ?", f.RecordedBy)
	}
	rows, err := qs.query(ctx, `SELECT `+saleColumns+` FROM product_sales`+w.String()+
		` ORDER BY occurred_at ASC, id ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var out []core.ProductSale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (qs *txStore) InsertSale(ctx context.Context, s core.ProductSale) error {
	_, err := qs.exec(ctx, `
		INSERT INTO product_sales
		(id, stock_item_id, quantity, unit_price, unit_cost, discount_pct, total_amount,
		 payment_method, occurred_at, recorded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(s.ID), string(s.StockItemID), s.Quantity, s.UnitPrice, s.UnitCost, s.DiscountPct,
		s.TotalAmount, string(s.PaymentMethod), qs.d.EncodeTime(s.OccurredAt), s.RecordedBy)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}
