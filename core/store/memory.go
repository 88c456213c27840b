// Package store provides an in-memory core.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/cashbook/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every collection in maps guarded by one RWMutex. WithTx holds
// the write lock for the whole transaction, so transactions are serial and
// reads never observe a partial write.
type Memory struct {
	mu sync.RWMutex
	s  *state
}

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

type state struct {
	sessions     map[core.SessionID]core.CashSession
	entries      []core.LedgerEntry
	byKey        map[string]int
	items        map[core.StockItemID]core.StockItem
	movements    []core.StockMovement
	appointments map[core.AppointmentID]core.Appointment
	sales        map[core.SaleID]core.ProductSale
	names        map[core.NameKind]map[string]string
}

func newState() *state {
	return &state{
		sessions:     make(map[core.SessionID]core.CashSession),
		byKey:        make(map[string]int),
		items:        make(map[core.StockItemID]core.StockItem),
		appointments: make(map[core.AppointmentID]core.Appointment),
		sales:        make(map[core.SaleID]core.ProductSale),
		names:        make(map[core.NameKind]map[string]string),
	}
}

// snapshot copies every collection. Rows are values, so a shallow copy of
// each map and slice is enough.
func (s *state) snapshot() *state {
	c := &state{
		sessions:     make(map[core.SessionID]core.CashSession, len(s.sessions)),
		entries:      append([]core.LedgerEntry(nil), s.entries...),
		byKey:        make(map[string]int, len(s.byKey)),
		items:        make(map[core.StockItemID]core.StockItem, len(s.items)),
		movements:    append([]core.StockMovement(nil), s.movements...),
		appointments: make(map[core.AppointmentID]core.Appointment, len(s.appointments)),
		sales:        make(map[core.SaleID]core.ProductSale, len(s.sales)),
		names:        make(map[core.NameKind]map[string]string, len(s.names)),
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.byKey {
		c.byKey[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	for kind, names := range s.names {
		m := make(map[string]string, len(names))
		for k, v := range names {
			m[k] = v
		}
		c.names[kind] = m
	}
	return c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(core.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.s.snapshot()
	if err := fn(&txView{state: m.s}); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// txView is the Tx handed to WithTx callbacks. The store's write lock is
// already held, so locking reads are plain reads.
type txView struct {
	*state
}

func (t *txView) LockSession(ctx context.Context, id core.SessionID) (*core.CashSession, error) {
	return t.GetSession(ctx, id)
}

func (t *txView) LockStockItem(ctx context.Context, id core.StockItemID) (*core.StockItem, error) {
	return t.GetStockItem(ctx, id)
}

func (t *txView) LockAppointment(ctx context.Context, id core.AppointmentID) (*core.Appointment, error) {
	return t.GetAppointment(ctx, id)
}

func (t *txView) InsertSession(_ context.Context, s core.CashSession) error {
	if s.Status == core.SessionOpen {
		for _, existing := range t.sessions {
			if existing.Status == core.SessionOpen {
				return core.ErrSessionAlreadyOpen
			}
		}
	}
	t.sessions[s.ID] = s
	return nil
}

func (t *txView) UpdateSession(_ context.Context, s core.CashSession) error {
	if _, ok := t.sessions[s.ID]; !ok {
		return &core.NotFoundError{Kind: "session", ID: string(s.ID)}
	}
	t.sessions[s.ID] = s
	return nil
}

func (t *txView) InsertEntry(_ context.Context, e core.LedgerEntry) error {
	if e.CorrelationKey != "" {
		if _, dup := t.byKey[e.CorrelationKey]; dup {
			return core.ErrDuplicateCorrelationKey
		}
		t.byKey[e.CorrelationKey] = len(t.entries)
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *txView) InsertStockItem(_ context.Context, item core.StockItem) error {
	t.items[item.ID] = item
	return nil
}

func (t *txView) UpdateStockPricing(_ context.Context, item core.StockItem) error {
	current, ok := t.items[item.ID]
	if !ok {
		return &core.NotFoundError{Kind: "stock item", ID: string(item.ID)}
	}
	current.Name = item.Name
	current.UnitPrice = item.UnitPrice
	current.UnitCost = item.UnitCost
	current.ReorderThreshold = item.ReorderThreshold
	current.UpdatedAt = item.UpdatedAt
	t.items[item.ID] = current
	return nil
}

func (t *txView) AddStock(_ context.Context, id core.StockItemID, delta int64) (int64, error) {
	item, ok := t.items[id]
	if !ok {
		return 0, &core.NotFoundError{Kind: "stock item", ID: string(id)}
	}
	if item.OnHand+delta < 0 {
		return item.OnHand, &core.InsufficientStockError{StockItemID: id, OnHand: item.OnHand, Requested: -delta}
	}
	item.OnHand += delta
	t.items[id] = item
	return item.OnHand, nil
}

func (t *txView) InsertMovement(_ context.Context, mv core.StockMovement) error {
	t.movements = append(t.movements, mv)
	return nil
}

func (t *txView) InsertAppointment(_ context.Context, a core.Appointment) error {
	t.appointments[a.ID] = a
	return nil
}

func (t *txView) SetAppointmentStatus(_ context.Context, id core.AppointmentID, status core.AppointmentStatus) error {
	a, ok := t.appointments[id]
	if !ok {
		return &core.NotFoundError{Kind: "appointment", ID: string(id)}
	}
	a.Status = status
	t.appointments[id] = a
	return nil
}

func (t *txView) InsertSale(_ context.Context, sale core.ProductSale) error {
	t.sales[sale.ID] = sale
	return nil
}

// =============================================================================
// READS - shared by Memory (under RLock) and txView (under the write lock)
// =============================================================================

func (s *state) GetSession(_ context.Context, id core.SessionID) (*core.CashSession, error) {
	if v, ok := s.sessions[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *state) CurrentSession(_ context.Context) (*core.CashSession, error) {
	for _, v := range s.sessions {
		if v.Status == core.SessionOpen {
			return &v, nil
		}
	}
	return nil, nil
}

func (s *state) ListSessions(_ context.Context, limit int) ([]core.CashSession, error) {
	out := make([]core.CashSession, 0, len(s.sessions))
	for _, v := range s.sessions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.After(out[j].OpenedAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, limit), nil
}

func (s *state) GetEntry(_ context.Context, id core.EntryID) (*core.LedgerEntry, error) {
	for _, e := range s.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *state) GetEntryByCorrelationKey(_ context.Context, key string) (*core.LedgerEntry, error) {
	if i, ok := s.byKey[key]; ok {
		e := s.entries[i]
		return &e, nil
	}
	return nil, nil
}

func (s *state) ListEntries(_ context.Context, f core.EntryFilter) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if !f.Range.Contains(e.OccurredAt) || !f.CreatedRange.Contains(e.CreatedAt) {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.RecordedBy != "" && e.RecordedBy != f.RecordedBy {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return truncate(out, f.Limit), nil
}

func (s *state) GetStockItem(_ context.Context, id core.StockItemID) (*core.StockItem, error) {
	if v, ok := s.items[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *state) ListStockItems(_ context.Context, f core.StockFilter) ([]core.StockItem, error) {
	var out []core.StockItem
	for _, item := range s.items {
		if f.AvailableOnly && item.OnHand <= 0 {
			continue
		}
		if f.LowOnly && !item.IsLow() {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) ListMovements(_ context.Context, f core.MovementFilter) ([]core.StockMovement, error) {
	var out []core.StockMovement
	for i := len(s.movements) - 1; i >= 0; i-- {
		mv := s.movements[i]
		if f.StockItemID != "" && mv.StockItemID != f.StockItemID {
			continue
		}
		out = append(out, mv)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return truncate(out, f.Limit), nil
}

func (s *state) GetAppointment(_ context.Context, id core.AppointmentID) (*core.Appointment, error) {
	if v, ok := s.appointments[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *state) ListAppointments(_ context.Context, f core.AppointmentFilter) ([]core.Appointment, error) {
	var out []core.Appointment
	for _, a := range s.appointments {
		if !f.Range.Contains(a.Date) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.EmployeeID != "" && a.EmployeeID != f.EmployeeID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) GetSale(_ context.Context, id core.SaleID) (*core.ProductSale, error) {
	if v, ok := s.sales[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *state) ListSales(_ context.Context, f core.SaleFilter) ([]core.ProductSale, error) {
	var out []core.ProductSale
	for _, sale := range s.sales {
		if !f.Range.Contains(sale.OccurredAt) {
			continue
		}
		if f.RecordedBy != "" && sale.RecordedBy != f.RecordedBy {
			continue
		}
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// =============================================================================
// STORE-LEVEL READS
// =============================================================================

func (m *Memory) GetSession(ctx context.Context, id core.SessionID) (*core.CashSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetSession(ctx, id)
}

func (m *Memory) CurrentSession(ctx context.Context) (*core.CashSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.CurrentSession(ctx)
}

func (m *Memory) ListSessions(ctx context.Context, limit int) ([]core.CashSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListSessions(ctx, limit)
}

func (m *Memory) GetEntry(ctx context.Context, id core.EntryID) (*core.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetEntry(ctx, id)
}

func (m *Memory) GetEntryByCorrelationKey(ctx context.Context, key string) (*core.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetEntryByCorrelationKey(ctx, key)
}

func (m *Memory) ListEntries(ctx context.Context, f core.EntryFilter) ([]core.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListEntries(ctx, f)
}

func (m *Memory) GetStockItem(ctx context.Context, id core.StockItemID) (*core.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetStockItem(ctx, id)
}

func (m *Memory) ListStockItems(ctx context.Context, f core.StockFilter) ([]core.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListStockItems(ctx, f)
}

func (m *Memory) ListMovements(ctx context.Context, f core.MovementFilter) ([]core.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListMovements(ctx, f)
}

func (m *Memory) GetAppointment(ctx context.Context, id core.AppointmentID) (*core.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetAppointment(ctx, id)
}

func (m *Memory) ListAppointments(ctx context.Context, f core.AppointmentFilter) ([]core.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListAppointments(ctx, f)
}

func (m *Memory) GetSale(ctx context.Context, id core.SaleID) (*core.ProductSale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetSale(ctx, id)
}

func (m *Memory) ListSales(ctx context.Context, f core.SaleFilter) ([]core.ProductSale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListSales(ctx, f)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (m *Memory) SaveName(_ context.Context, kind core.NameKind, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	names, ok := m.s.names[kind]
	if !ok {
		names = make(map[string]string)
		m.s.names[kind] = names
	}
	names[id] = name
	return nil
}

func (m *Memory) DisplayNames(_ context.Context, kind core.NameKind) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.s.names[kind]))
	for k, v := range m.s.names[kind] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = newState()
	return nil
}

var (
	_ core.Store = (*Memory)(nil)
	_ core.Tx    = (*txView)(nil)
)
