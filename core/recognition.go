/*
recognition.go - Revenue recognition

PURPOSE:
  Converts business events into ledger entries exactly once.

EVENTS:
  Appointment completion   -> income entry keyed appointment:<id>
  Product sale             -> stock out + ProductSale + income entry keyed sale:<id>

EXACTLY ONCE:
  The correlation key is the idempotency guard. Recognition looks the key
  up inside the transaction and returns the existing entry with Noop=true
  when it is already there. Two racing recognitions of the same event are
  serialized by the appointment row lock; if a store lets both through,
  the unique key rejects the second insert and the retry observes the
  first one's entry.

ALL OR NOTHING:
  A sale's stock check, stock mutation, sale row and ledger entry share one
  Tx. InsufficientStockError aborts it with no side effects.

SEE ALSO:
  - inventory.go: adjustTx
  - ledger.go: manual movements
*/
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Recognizer struct {
	base
	inventory *Inventory
}

// RecognitionResult carries the entry for the event. Noop means the event
// had already been recognized and nothing was written.
type RecognitionResult struct {
	Entry LedgerEntry
	Noop  bool
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

// NewAppointment is written by the scheduling layer.
type NewAppointment struct {
	ID            AppointmentID // generated when empty
	AmountCharged decimal.Decimal
	Cost          decimal.Decimal
	PaymentMethod PaymentMethod
	EmployeeID    string
	ServiceID     string
	ClientID      string
	Date          time.Time
}

// RegisterAppointment stores a scheduled appointment so it can later be
// recognized or canceled.
func (r *Recognizer) RegisterAppointment(ctx context.Context, in NewAppointment) (Appointment, error) {
	if err := nonNegative("amount_charged", in.AmountCharged); err != nil {
		return Appointment{}, err
	}
	if err := nonNegative("cost", in.Cost); err != nil {
		return Appointment{}, err
	}
	if strings.TrimSpace(in.EmployeeID) == "" {
		return Appointment{}, &ValidationError{Field: "employee_id", Reason: "is required"}
	}
	if in.Date.IsZero() {
		return Appointment{}, &ValidationError{Field: "date", Reason: "is required"}
	}

	a := Appointment{
		ID:            in.ID,
		Status:        AppointmentScheduled,
		AmountCharged: in.AmountCharged,
		Cost:          in.Cost,
		PaymentMethod: NormalizePaymentMethod(string(in.PaymentMethod)),
		EmployeeID:    in.EmployeeID,
		ServiceID:     in.ServiceID,
		ClientID:      in.ClientID,
		Date:          in.Date.UTC(),
	}
	if a.ID == "" {
		a.ID = AppointmentID(r.opts.newID())
	}

	err := r.atomic(ctx, "appointments.register", func(tx Tx) error {
		existing, err := tx.GetAppointment(ctx, a.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &InvalidStateError{Kind: "appointment", ID: string(a.ID), State: string(existing.Status), Action: "register"}
		}
		return tx.InsertAppointment(ctx, a)
	})
	if err != nil {
		return Appointment{}, err
	}
	return a, nil
}

// RecognizeAppointment completes a scheduled appointment and books its
// income. Recognizing it again returns the existing entry.
func (r *Recognizer) RecognizeAppointment(ctx context.Context, id AppointmentID, actor Actor) (RecognitionResult, error) {
	if err := actor.validate(); err != nil {
		return RecognitionResult{}, err
	}

	description := r.describeAppointment(ctx, id)
	key := AppointmentKey(id)

	var result RecognitionResult
	err := r.atomic(ctx, "recognition.appointment", func(tx Tx) error {
		result = RecognitionResult{}
		a, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return &NotFoundError{Kind: "appointment", ID: string(id)}
		}

		existing, err := tx.GetEntryByCorrelationKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			result = RecognitionResult{Entry: *existing, Noop: true}
			return nil
		}

		if a.Status != AppointmentScheduled {
			return &InvalidStateError{Kind: "appointment", ID: string(id), State: string(a.Status), Action: "complete"}
		}
		if err := positive("amount_charged", a.AmountCharged); err != nil {
			return err
		}

		if err := tx.SetAppointmentStatus(ctx, id, AppointmentCompleted); err != nil {
			return err
		}
		now := r.now()
		entry := LedgerEntry{
			ID:             EntryID(r.opts.newID()),
			Kind:           EntryIncome,
			Amount:         a.AmountCharged,
			PaymentMethod:  a.PaymentMethod,
			Description:    description,
			OccurredAt:     now,
			RecordedBy:     actor.ID,
			CorrelationKey: key,
			CreatedAt:      now,
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result = RecognitionResult{Entry: entry}
		return nil
	})
	if err != nil {
		return RecognitionResult{}, err
	}

	if result.Noop {
		r.log.Debug("appointment already recognized", zap.String("appointment", string(id)))
		return result, nil
	}
	r.opts.recorder.EntryRecorded(EntryIncome, "appointment", result.Entry.Amount.InexactFloat64())
	r.log.Info("appointment recognized",
		zap.String("appointment", string(id)),
		zap.String("entry", string(result.Entry.ID)),
		zap.String("amount", result.Entry.Amount.String()))
	return result, nil
}

// describeAppointment stamps display names onto the entry. Lookup failures
// fall back to the id; the appointment itself is validated in the Tx.
func (r *Recognizer) describeAppointment(ctx context.Context, id AppointmentID) string {
	description := "Appointment " + string(id)
	a, err := r.store.GetAppointment(ctx, id)
	if err != nil || a == nil {
		return description
	}
	services, err := r.store.DisplayNames(ctx, NameService)
	if err != nil {
		r.log.Debug("service names unavailable", zap.String("appointment", string(id)), zap.Error(err))
	}
	clients, err := r.store.DisplayNames(ctx, NameClient)
	if err != nil {
		r.log.Debug("client names unavailable", zap.String("appointment", string(id)), zap.Error(err))
	}
	if name := displayName(services, a.ServiceID); name != "" {
		description = "Service: " + name
	}
	if name := displayName(clients, a.ClientID); name != "" {
		description += " - " + name
	}
	return description
}

// CancelAppointment moves a scheduled appointment to canceled. No ledger
// entry is written.
func (r *Recognizer) CancelAppointment(ctx context.Context, id AppointmentID, actor Actor) (Appointment, error) {
	if err := actor.validate(); err != nil {
		return Appointment{}, err
	}

	var canceled Appointment
	err := r.atomic(ctx, "appointments.cancel", func(tx Tx) error {
		a, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return &NotFoundError{Kind: "appointment", ID: string(id)}
		}
		if a.Status != AppointmentScheduled {
			return &InvalidStateError{Kind: "appointment", ID: string(id), State: string(a.Status), Action: "cancel"}
		}
		if err := tx.SetAppointmentStatus(ctx, id, AppointmentCanceled); err != nil {
			return err
		}
		a.Status = AppointmentCanceled
		canceled = *a
		return nil
	})
	if err != nil {
		return Appointment{}, err
	}

	r.log.Info("appointment canceled", zap.String("appointment", string(id)), zap.String("actor", actor.ID))
	return canceled, nil
}

// =============================================================================
// PRODUCT SALES
// =============================================================================

type SaleRequest struct {
	// SaleID makes the call idempotent when set; generated otherwise.
	SaleID      SaleID
	StockItemID StockItemID
	Quantity    int64
	// UnitPrice overrides the catalog price when set.
	UnitPrice     *decimal.Decimal
	DiscountPct   decimal.Decimal
	PaymentMethod PaymentMethod
}

type SaleResult struct {
	Sale  ProductSale
	Entry LedgerEntry
	// Adjustment is zero when Noop is set.
	Adjustment AdjustResult
	Noop       bool
}

var hundred = decimal.NewFromInt(100)

// SaleTotal is quantity * unit_price * (1 - discount_pct/100), rounded to
// cents.
func SaleTotal(quantity int64, unitPrice, discountPct decimal.Decimal) decimal.Decimal {
	factor := hundred.Sub(discountPct).Div(hundred)
	return unitPrice.Mul(decimal.NewFromInt(quantity)).Mul(factor).Round(2)
}

func validateSale(req SaleRequest) error {
	if req.StockItemID == "" {
		return &ValidationError{Field: "stock_item_id", Reason: "is required"}
	}
	if req.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if req.UnitPrice != nil {
		if err := nonNegative("unit_price", *req.UnitPrice); err != nil {
			return err
		}
	}
	if req.DiscountPct.IsNegative() || req.DiscountPct.GreaterThan(hundred) {
		return &ValidationError{Field: "discount_pct", Reason: "must be between 0 and 100"}
	}
	return cents("discount_pct", req.DiscountPct)
}

// RecognizeProductSale takes stock out and books the sale's income as one
// unit. Insufficient stock aborts the whole sale.
func (r *Recognizer) RecognizeProductSale(ctx context.Context, req SaleRequest, actor Actor) (SaleResult, error) {
	if err := actor.validate(); err != nil {
		return SaleResult{}, err
	}
	if err := validateSale(req); err != nil {
		return SaleResult{}, err
	}
	saleID := req.SaleID
	if saleID == "" {
		saleID = SaleID(r.opts.newID())
	}
	key := SaleKey(saleID)

	var result SaleResult
	err := r.atomic(ctx, "recognition.sale", func(tx Tx) error {
		result = SaleResult{}
		existing, err := tx.GetEntryByCorrelationKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			sale, err := tx.GetSale(ctx, saleID)
			if err != nil {
				return err
			}
			if sale == nil {
				return fmt.Errorf("sale %s missing for entry %s", saleID, existing.ID)
			}
			result = SaleResult{Sale: *sale, Entry: *existing, Noop: true}
			return nil
		}

		item, err := tx.GetStockItem(ctx, req.StockItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return &NotFoundError{Kind: "stock item", ID: string(req.StockItemID)}
		}
		unitPrice := item.UnitPrice
		if req.UnitPrice != nil {
			unitPrice = *req.UnitPrice
		}
		total := SaleTotal(req.Quantity, unitPrice, req.DiscountPct)
		if err := positive("total_amount", total); err != nil {
			return err
		}

		adj, err := r.inventory.adjustTx(ctx, tx, req.StockItemID, DirectionOut, req.Quantity, "sale "+string(saleID))
		if err != nil {
			return err
		}

		now := r.now()
		sale := ProductSale{
			ID:            saleID,
			StockItemID:   req.StockItemID,
			Quantity:      req.Quantity,
			UnitPrice:     unitPrice,
			UnitCost:      adj.Item.UnitCost,
			DiscountPct:   req.DiscountPct,
			TotalAmount:   total,
			PaymentMethod: NormalizePaymentMethod(string(req.PaymentMethod)),
			OccurredAt:    now,
			RecordedBy:    actor.ID,
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		entry := LedgerEntry{
			ID:             EntryID(r.opts.newID()),
			Kind:           EntryIncome,
			Amount:         total,
			PaymentMethod:  sale.PaymentMethod,
			Description:    fmt.Sprintf("Sale: %dx %s", req.Quantity, adj.Item.Name),
			OccurredAt:     now,
			RecordedBy:     actor.ID,
			CorrelationKey: key,
			CreatedAt:      now,
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result = SaleResult{Sale: sale, Entry: entry, Adjustment: adj}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}

	if result.Noop {
		return result, nil
	}
	r.inventory.signal(result.Adjustment)
	r.opts.recorder.EntryRecorded(EntryIncome, "sale", result.Entry.Amount.InexactFloat64())
	r.log.Info("sale recognized",
		zap.String("sale", string(saleID)),
		zap.String("item", string(req.StockItemID)),
		zap.Int64("quantity", req.Quantity),
		zap.String("total", result.Sale.TotalAmount.String()))
	return result, nil
}

func displayName(names map[string]string, id string) string {
	if id == "" {
		return ""
	}
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}
