/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the core model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers that add flags (noop, low_stock) to a DTO

MONEY:
  Amounts are decimal.Decimal. They marshal as JSON strings ("12.50") and
  unmarshal from either strings or numbers.

VALIDATION:
  Request shape is checked with go-playground/validator struct tags before a
  handler runs. Business rules (positive amounts, stock floors, state
  transitions) are enforced by the core and surface as core errors.

SEE ALSO:
  - handlers.go: Uses these types
  - validation.go: Tag-to-message mapping
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cashbook/core"
)

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CASH SESSIONS
// =============================================================================

type OpenSessionRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type CloseSessionRequest struct {
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Notes          string          `json:"notes" validate:"max=1000"`
}

type SessionDTO struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	OpenedAt        time.Time        `json:"opened_at"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
	OpeningBalance  decimal.Decimal  `json:"opening_balance"`
	ClosingBalance  *decimal.Decimal `json:"closing_balance,omitempty"`
	ExpectedBalance *decimal.Decimal `json:"expected_balance,omitempty"`
	Variance        *decimal.Decimal `json:"variance,omitempty"`
	OpenedBy        string           `json:"opened_by"`
	ClosedBy        string           `json:"closed_by,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

func toSessionDTO(s core.CashSession) SessionDTO {
	dto := SessionDTO{
		ID:              string(s.ID),
		Status:          string(s.Status),
		OpenedAt:        s.OpenedAt,
		ClosedAt:        s.ClosedAt,
		OpeningBalance:  s.OpeningBalance,
		ClosingBalance:  s.ClosingBalance,
		ExpectedBalance: s.ExpectedBalance,
		OpenedBy:        s.OpenedBy,
		ClosedBy:        s.ClosedBy,
		Notes:           s.Notes,
	}
	if s.Status == core.SessionClosed {
		v := s.Variance()
		dto.Variance = &v
	}
	return dto
}

// =============================================================================
// LEDGER
// =============================================================================

type ManualEntryRequest struct {
	Kind             string          `json:"kind" validate:"required,oneof=income expense"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    string          `json:"payment_method" validate:"max=40"`
	Description      string          `json:"description" validate:"max=500"`
	OccurredAt       *time.Time      `json:"occurred_at,omitempty"`
	IdempotencyToken string          `json:"idempotency_token,omitempty" validate:"max=128"`
}

type ReverseEntryRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type EntryDTO struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	Description    string          `json:"description,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	RecordedBy     string          `json:"recorded_by"`
	CorrelationKey string          `json:"correlation_key,omitempty"`
	Reverses       string          `json:"reverses,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toEntryDTO(e core.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:             string(e.ID),
		Kind:           string(e.Kind),
		Amount:         e.Amount,
		PaymentMethod:  string(e.PaymentMethod),
		Description:    e.Description,
		OccurredAt:     e.OccurredAt,
		RecordedBy:     e.RecordedBy,
		CorrelationKey: e.CorrelationKey,
		Reverses:       string(e.Reverses),
		CreatedAt:      e.CreatedAt,
	}
}

func toEntryDTOs(entries []core.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

// EntryResponse is returned by every call that may append an entry.
type EntryResponse struct {
	Entry EntryDTO `json:"entry"`
	Noop  bool     `json:"noop"`
}

type PeriodDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toPeriodDTO(p core.Period) PeriodDTO {
	return PeriodDTO{Start: p.Start.Format(core.DateLayout), End: p.End.Format(core.DateLayout)}
}

type StatementDTO struct {
	Period       PeriodDTO       `json:"period"`
	EmployeeID   string          `json:"employee_id,omitempty"`
	Entries      []EntryDTO      `json:"entries"`
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalExpense decimal.Decimal `json:"total_expense"`
	Net          decimal.Decimal `json:"net"`
}

func toStatementDTO(s core.Statement) StatementDTO {
	return StatementDTO{
		Period:       toPeriodDTO(s.Period),
		EmployeeID:   s.Scope.EmployeeID,
		Entries:      toEntryDTOs(s.Entries),
		TotalIncome:  s.TotalIncome,
		TotalExpense: s.TotalExpense,
		Net:          s.Net,
	}
}

// =============================================================================
// STOCK
// =============================================================================

type CreateStockItemRequest struct {
	Name             string          `json:"name" validate:"required,max=200"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	OpeningQuantity  int64           `json:"opening_quantity" validate:"gte=0"`
	ReorderThreshold int64           `json:"reorder_threshold" validate:"gte=0"`
}

type UpdateStockItemRequest struct {
	Name             string          `json:"name" validate:"required,max=200"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	ReorderThreshold int64           `json:"reorder_threshold" validate:"gte=0"`
}

type AdjustStockRequest struct {
	Direction string `json:"direction" validate:"required,oneof=in out"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
	Reason    string `json:"reason" validate:"max=500"`
}

type StockItemDTO struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	OnHand           int64           `json:"on_hand"`
	ReorderThreshold int64           `json:"reorder_threshold"`
	LowStock         bool            `json:"low_stock"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func toStockItemDTO(i core.StockItem) StockItemDTO {
	return StockItemDTO{
		ID:               string(i.ID),
		Name:             i.Name,
		UnitPrice:        i.UnitPrice,
		UnitCost:         i.UnitCost,
		OnHand:           i.OnHand,
		ReorderThreshold: i.ReorderThreshold,
		LowStock:         i.IsLow(),
		UpdatedAt:        i.UpdatedAt,
	}
}

func toStockItemDTOs(items []core.StockItem) []StockItemDTO {
	dtos := make([]StockItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toStockItemDTO(item)
	}
	return dtos
}

type MovementDTO struct {
	ID          string    `json:"id"`
	StockItemID string    `json:"stock_item_id"`
	Direction   string    `json:"direction"`
	Quantity    int64     `json:"quantity"`
	OccurredAt  time.Time `json:"occurred_at"`
	Reason      string    `json:"reason,omitempty"`
}

func toMovementDTO(m core.StockMovement) MovementDTO {
	return MovementDTO{
		ID:          string(m.ID),
		StockItemID: string(m.StockItemID),
		Direction:   string(m.Direction),
		Quantity:    m.Quantity,
		OccurredAt:  m.OccurredAt,
		Reason:      m.Reason,
	}
}

type AdjustResponse struct {
	Item     StockItemDTO `json:"item"`
	Movement MovementDTO  `json:"movement"`
	LowStock bool         `json:"low_stock"`
}

// =============================================================================
// APPOINTMENTS AND SALES
// =============================================================================

type RegisterAppointmentRequest struct {
	ID            string          `json:"id" validate:"max=64"`
	AmountCharged decimal.Decimal `json:"amount_charged"`
	Cost          decimal.Decimal `json:"cost"`
	PaymentMethod string          `json:"payment_method" validate:"max=40"`
	EmployeeID    string          `json:"employee_id" validate:"required,max=64"`
	ServiceID     string          `json:"service_id" validate:"max=64"`
	ClientID      string          `json:"client_id" validate:"max=64"`
	Date          string          `json:"date" validate:"required,datetime=2006-01-02"`
}

type AppointmentDTO struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	AmountCharged decimal.Decimal `json:"amount_charged"`
	Cost          decimal.Decimal `json:"cost"`
	PaymentMethod string          `json:"payment_method"`
	EmployeeID    string          `json:"employee_id"`
	ServiceID     string          `json:"service_id,omitempty"`
	ClientID      string          `json:"client_id,omitempty"`
	Date          string          `json:"date"`
}

func toAppointmentDTO(a core.Appointment) AppointmentDTO {
	return AppointmentDTO{
		ID:            string(a.ID),
		Status:        string(a.Status),
		AmountCharged: a.AmountCharged,
		Cost:          a.Cost,
		PaymentMethod: string(a.PaymentMethod),
		EmployeeID:    a.EmployeeID,
		ServiceID:     a.ServiceID,
		ClientID:      a.ClientID,
		Date:          a.Date.Format(core.DateLayout),
	}
}

type SaleRequest struct {
	SaleID        string           `json:"sale_id,omitempty" validate:"max=64"`
	StockItemID   string           `json:"stock_item_id" validate:"required"`
	Quantity      int64            `json:"quantity" validate:"gt=0"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountPct   decimal.Decimal  `json:"discount_pct"`
	PaymentMethod string           `json:"payment_method" validate:"max=40"`
}

type SaleDTO struct {
	ID            string          `json:"id"`
	StockItemID   string          `json:"stock_item_id"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	DiscountPct   decimal.Decimal `json:"discount_pct"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	OccurredAt    time.Time       `json:"occurred_at"`
	RecordedBy    string          `json:"recorded_by"`
}

func toSaleDTO(s core.ProductSale) SaleDTO {
	return SaleDTO{
		ID:            string(s.ID),
		StockItemID:   string(s.StockItemID),
		Quantity:      s.Quantity,
		UnitPrice:     s.UnitPrice,
		UnitCost:      s.UnitCost,
		DiscountPct:   s.DiscountPct,
		TotalAmount:   s.TotalAmount,
		PaymentMethod: string(s.PaymentMethod),
		OccurredAt:    s.OccurredAt,
		RecordedBy:    s.RecordedBy,
	}
}

type SaleResponse struct {
	Sale     SaleDTO  `json:"sale"`
	Entry    EntryDTO `json:"entry"`
	Noop     bool     `json:"noop"`
	LowStock bool     `json:"low_stock"`
	OnHand   *int64   `json:"on_hand,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type BreakdownRowDTO struct {
	Key    string          `json:"key"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

type TrendBucketDTO struct {
	Month  string          `json:"month"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

type ProfitDTO struct {
	ServiceRevenue decimal.Decimal `json:"service_revenue"`
	ServiceCost    decimal.Decimal `json:"service_cost"`
	ServiceProfit  decimal.Decimal `json:"service_profit"`
	ProductRevenue decimal.Decimal `json:"product_revenue"`
	ProductCost    decimal.Decimal `json:"product_cost"`
	ProductProfit  decimal.Decimal `json:"product_profit"`
	Gross          decimal.Decimal `json:"gross"`
}

type SummaryDTO struct {
	Period           PeriodDTO         `json:"period"`
	EmployeeID       string            `json:"employee_id,omitempty"`
	AppointmentCount int               `json:"appointment_count"`
	TotalIncome      decimal.Decimal   `json:"total_income"`
	TotalExpense     decimal.Decimal   `json:"total_expense"`
	Net              decimal.Decimal   `json:"net"`
	ByPaymentMethod  []BreakdownRowDTO `json:"by_payment_method"`
	ByEmployee       []BreakdownRowDTO `json:"by_employee"`
	ByService        []BreakdownRowDTO `json:"by_service"`
	ByClient         []BreakdownRowDTO `json:"by_client"`
	ByProduct        []BreakdownRowDTO `json:"by_product"`
	Trend            []TrendBucketDTO  `json:"trend"`
	Profit           ProfitDTO         `json:"profit"`
}

func toRows(rows []core.BreakdownRow) []BreakdownRowDTO {
	dtos := make([]BreakdownRowDTO, len(rows))
	for i, r := range rows {
		dtos[i] = BreakdownRowDTO{Key: r.Key, Label: r.Label, Amount: r.Amount, Count: r.Count}
	}
	return dtos
}

func toSummaryDTO(s core.PeriodSummary) SummaryDTO {
	trend := make([]TrendBucketDTO, len(s.Trend))
	for i, b := range s.Trend {
		trend[i] = TrendBucketDTO{Month: b.Month, Label: b.Label, Amount: b.Amount}
	}
	return SummaryDTO{
		Period:           toPeriodDTO(s.Period),
		EmployeeID:       s.Scope.EmployeeID,
		AppointmentCount: s.AppointmentCount,
		TotalIncome:      s.TotalIncome,
		TotalExpense:     s.TotalExpense,
		Net:              s.Net,
		ByPaymentMethod:  toRows(s.ByPaymentMethod),
		ByEmployee:       toRows(s.ByEmployee),
		ByService:        toRows(s.ByService),
		ByClient:         toRows(s.ByClient),
		ByProduct:        toRows(s.ByProduct),
		Trend:            trend,
		Profit: ProfitDTO{
			ServiceRevenue: s.Profit.ServiceRevenue,
			ServiceCost:    s.Profit.ServiceCost,
			ServiceProfit:  s.Profit.ServiceProfit,
			ProductRevenue: s.Profit.ProductRevenue,
			ProductCost:    s.Profit.ProductCost,
			ProductProfit:  s.Profit.ProductProfit,
			Gross:          s.Profit.Gross,
		},
	}
}

// =============================================================================
// REFERENCE DATA AND SCENARIOS
// =============================================================================

type SaveNameRequest struct {
	Kind string `json:"kind" validate:"required,oneof=employee service client"`
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=200"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ScenarioResult reports what a scenario loader observed.
type ScenarioResult struct {
	Scenario string   `json:"scenario"`
	Status   string   `json:"status"`
	Steps    []string `json:"steps"`
}
