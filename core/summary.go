/*
summary.go - Period summaries

PURPOSE:
  Computes the dashboard rollups for a period and scope by reading the
  ledger, the appointments and the sales. Nothing here writes.

SOURCES:
  Totals, by payment method  <- ledger entries by occurred_at (reversals subtract)
  By employee/service/client <- completed appointments by appointment date
  By product                 <- product sales by occurred_at
  Trend                      <- completed appointments + income entries not
                                keyed appointment:* (those are the same money)

ADDITIVITY:
  Every figure except Trend is a sum over rows selected by a half-open time
  range, so the summary of [s, e] equals the sum of the summaries of any
  contiguous partition of [s, e]. Trend is anchored on the month of the
  period end and is not partitioned.

  When a consumer sums partitioned summaries, add every figure except Trend.
  Each part carries the whole trend of its own end month, so summing trends
  double counts.

STALENESS:
  Reads run outside a transaction, concurrently, at the store's default
  isolation. A summary computed while writes are in flight may include some
  of them and not others. It is never cached.
*/
package core

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// TrendMonths is the number of calendar months in the revenue trend.
const TrendMonths = 6

type Aggregator struct {
	base
}

type BreakdownRow struct {
	Key    string
	Label  string
	Amount decimal.Decimal
	Count  int
}

type TrendBucket struct {
	Month  string // 2006-01
	Label  string // Jan/2006
	Amount decimal.Decimal
}

// Profit compares service and product revenue with their recorded costs.
type Profit struct {
	ServiceRevenue decimal.Decimal
	ServiceCost    decimal.Decimal
	ServiceProfit  decimal.Decimal
	ProductRevenue decimal.Decimal
	ProductCost    decimal.Decimal
	ProductProfit  decimal.Decimal
	Gross          decimal.Decimal
}

type PeriodSummary struct {
	Period           Period
	Scope            Scope
	AppointmentCount int
	TotalIncome      decimal.Decimal
	TotalExpense     decimal.Decimal
	Net              decimal.Decimal

	ByPaymentMethod []BreakdownRow // always one row per PaymentMethods entry
	ByEmployee      []BreakdownRow
	ByService       []BreakdownRow
	ByClient        []BreakdownRow
	ByProduct       []BreakdownRow

	Trend  []TrendBucket // oldest first, always TrendMonths buckets
	Profit Profit
}

// summaryInput is everything Summarize reads.
type summaryInput struct {
	entries      []LedgerEntry
	appointments []Appointment
	sales        []ProductSale
	items        []StockItem

	trendEntries      []LedgerEntry
	trendAppointments []Appointment

	employees, services, clients map[string]string
}

// Summarize computes the summary for p restricted to scope.
func (a *Aggregator) Summarize(ctx context.Context, p Period, scope Scope) (PeriodSummary, error) {
	in, err := a.load(ctx, p, scope)
	if err != nil {
		return PeriodSummary{}, &InfrastructureError{Op: "reports.summary", Cause: err}
	}
	return buildSummary(p, scope, in), nil
}

func (a *Aggregator) load(ctx context.Context, p Period, scope Scope) (*summaryInput, error) {
	in := &summaryInput{}
	r := p.Range()
	trendStart := AddMonths(StartOfMonth(p.End), -(TrendMonths - 1))
	trend := TimeRange{From: trendStart, To: AddMonths(StartOfMonth(p.End), 1)}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.entries, err = a.store.ListEntries(ctx, EntryFilter{Range: r, RecordedBy: scope.EmployeeID})
		return err
	})
	g.Go(func() (err error) {
		in.appointments, err = a.store.ListAppointments(ctx, AppointmentFilter{Range: r, EmployeeID: scope.EmployeeID})
		return err
	})
	g.Go(func() (err error) {
		in.sales, err = a.store.ListSales(ctx, SaleFilter{Range: r, RecordedBy: scope.EmployeeID})
		return err
	})
	g.Go(func() (err error) {
		in.items, err = a.store.ListStockItems(ctx, StockFilter{})
		return err
	})
	g.Go(func() (err error) {
		in.trendEntries, err = a.store.ListEntries(ctx, EntryFilter{Range: trend, Kind: EntryIncome, RecordedBy: scope.EmployeeID})
		return err
	})
	g.Go(func() (err error) {
		in.trendAppointments, err = a.store.ListAppointments(ctx, AppointmentFilter{
			Range: trend, Status: AppointmentCompleted, EmployeeID: scope.EmployeeID,
		})
		return err
	})
	g.Go(func() (err error) {
		in.employees, err = a.store.DisplayNames(ctx, NameEmployee)
		return err
	})
	g.Go(func() (err error) {
		in.services, err = a.store.DisplayNames(ctx, NameService)
		return err
	})
	g.Go(func() (err error) {
		in.clients, err = a.store.DisplayNames(ctx, NameClient)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func buildSummary(p Period, scope Scope, in *summaryInput) PeriodSummary {
	s := PeriodSummary{
		Period:       p,
		Scope:        scope,
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
	}

	// Ledger totals and payment methods.
	methods := make(map[PaymentMethod]*BreakdownRow, len(PaymentMethods))
	for _, m := range PaymentMethods {
		s.ByPaymentMethod = append(s.ByPaymentMethod, BreakdownRow{Key: string(m), Label: paymentLabel(m), Amount: decimal.Zero})
	}
	for i := range s.ByPaymentMethod {
		methods[PaymentMethod(s.ByPaymentMethod[i].Key)] = &s.ByPaymentMethod[i]
	}
	for _, e := range in.entries {
		if e.Kind == EntryExpense {
			s.TotalExpense = s.TotalExpense.Add(e.signed())
			continue
		}
		s.TotalIncome = s.TotalIncome.Add(e.signed())
		row := methods[NormalizePaymentMethod(string(e.PaymentMethod))]
		row.Amount = row.Amount.Add(e.signed())
		row.Count += countDelta(e)
	}
	s.Net = s.TotalIncome.Sub(s.TotalExpense)

	// Appointments.
	employees := newGrouping(in.employees)
	services := newGrouping(in.services)
	clients := newGrouping(in.clients)
	profit := Profit{
		ServiceRevenue: decimal.Zero, ServiceCost: decimal.Zero,
		ProductRevenue: decimal.Zero, ProductCost: decimal.Zero,
	}
	for _, a := range in.appointments {
		s.AppointmentCount++
		if a.Status != AppointmentCompleted {
			continue
		}
		employees.add(a.EmployeeID, a.AmountCharged)
		services.add(a.ServiceID, a.AmountCharged)
		clients.add(a.ClientID, a.AmountCharged)
		profit.ServiceRevenue = profit.ServiceRevenue.Add(a.AmountCharged)
		profit.ServiceCost = profit.ServiceCost.Add(a.Cost)
	}
	s.ByEmployee = employees.rows()
	s.ByService = services.rows()
	s.ByClient = clients.rows()

	// Sales.
	itemNames := make(map[string]string, len(in.items))
	for _, item := range in.items {
		itemNames[string(item.ID)] = item.Name
	}
	products := newGrouping(itemNames)
	for _, sale := range in.sales {
		products.add(string(sale.StockItemID), sale.TotalAmount)
		profit.ProductRevenue = profit.ProductRevenue.Add(sale.TotalAmount)
		profit.ProductCost = profit.ProductCost.Add(sale.Cost())
	}
	s.ByProduct = products.rows()

	profit.ServiceProfit = profit.ServiceRevenue.Sub(profit.ServiceCost)
	profit.ProductProfit = profit.ProductRevenue.Sub(profit.ProductCost)
	profit.Gross = profit.ServiceProfit.Add(profit.ProductProfit)
	s.Profit = profit

	s.Trend = buildTrend(p, in.trendAppointments, in.trendEntries)
	return s
}

func buildTrend(p Period, appointments []Appointment, entries []LedgerEntry) []TrendBucket {
	first := AddMonths(StartOfMonth(p.End), -(TrendMonths - 1))
	buckets := make([]TrendBucket, TrendMonths)
	index := make(map[string]int, TrendMonths)
	for i := range buckets {
		m := AddMonths(first, i)
		buckets[i] = TrendBucket{Month: m.Format("2006-01"), Label: m.Format("Jan/2006"), Amount: decimal.Zero}
		index[buckets[i].Month] = i
	}
	add := bucketAdder(index, buckets)
	for _, a := range appointments {
		add(a.Date.UTC().Format("2006-01"), a.AmountCharged)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.CorrelationKey, keyAppointment) {
			continue
		}
		add(e.OccurredAt.UTC().Format("2006-01"), e.signed())
	}
	return buckets
}

func bucketAdder(index map[string]int, buckets []TrendBucket) func(month string, amount decimal.Decimal) {
	return func(month string, amount decimal.Decimal) {
		if i, ok := index[month]; ok {
			buckets[i].Amount = buckets[i].Amount.Add(amount)
		}
	}
}

// countDelta counts a reversal as taking its original out of the tally.
func countDelta(e LedgerEntry) int {
	if e.IsReversal() {
		return -1
	}
	return 1
}

func paymentLabel(m PaymentMethod) string {
	switch m {
	case PaymentCash:
		return "Cash"
	case PaymentDebitCard:
		return "Debit card"
	case PaymentCreditCard:
		return "Credit card"
	case PaymentWire:
		return "Wire transfer"
	default:
		return "Other"
	}
}

// =============================================================================
// GROUPING
// =============================================================================

type grouping struct {
	names map[string]string
	byKey map[string]*BreakdownRow
}

func newGrouping(names map[string]string) *grouping {
	return &grouping{names: names, byKey: make(map[string]*BreakdownRow)}
}

func (g *grouping) add(key string, amount decimal.Decimal) {
	row, ok := g.byKey[key]
	if !ok {
		label := displayName(g.names, key)
		if label == "" {
			label = "Unassigned"
		}
		row = &BreakdownRow{Key: key, Label: label, Amount: decimal.Zero}
		g.byKey[key] = row
	}
	row.Amount = row.Amount.Add(amount)
	row.Count++
}

// rows orders by amount descending, then label, then key.
func (g *grouping) rows() []BreakdownRow {
	out := make([]BreakdownRow, 0, len(g.byKey))
	for _, r := range g.byKey {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Key < out[j].Key
	})
	return out
}
