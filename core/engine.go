package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE - Wires the components around one Store
// =============================================================================

// Engine bundles the components that share a Store.
type Engine struct {
	Ledger      *Ledger
	Sessions    *SessionManager
	Inventory   *Inventory
	Recognition *Recognizer
	Reports     *Aggregator
}

// Recorder receives observable side effects (metrics, alerts).
type Recorder interface {
	EntryRecorded(kind EntryKind, source string, amount float64)
	LowStock(item StockItem)
	TxRetried(op string)
	TxConflict(op string)
}

type nopRecorder struct{}

func (nopRecorder) EntryRecorded(EntryKind, string, float64) {}
func (nopRecorder) LowStock(StockItem)                       {}
func (nopRecorder) TxRetried(string)                         {}
func (nopRecorder) TxConflict(string)                        {}

type options struct {
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
	recorder   Recorder
	maxRetries uint64
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option        { return func(o *options) { o.logger = l } }
func WithClock(now func() time.Time) Option  { return func(o *options) { o.now = now } }
func WithIDGenerator(f func() string) Option { return func(o *options) { o.newID = f } }
func WithRecorder(r Recorder) Option         { return func(o *options) { o.recorder = r } }

// WithMaxRetries bounds how many times a transaction that hit a transient
// lock conflict is re-run. Default 3.
func WithMaxRetries(n uint64) Option { return func(o *options) { o.maxRetries = n } }

func newOptions(opts []Option) *options {
	o := &options{
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		recorder:   nopRecorder{},
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// base is embedded by every component.
type base struct {
	store Store
	opts  *options
	log   *zap.Logger
}

func (b base) now() time.Time { return b.opts.now().UTC() }

func (b base) atomic(ctx context.Context, op string, fn func(tx Tx) error) error {
	return runTx(ctx, b.store, b.opts, op, fn)
}

// New builds an Engine over store.
func New(store Store, opts ...Option) *Engine {
	o := newOptions(opts)
	b := func(name string) base {
		return base{store: store, opts: o, log: o.logger.Named(name)}
	}

	inv := &Inventory{base: b("inventory")}
	return &Engine{
		Ledger:      &Ledger{base: b("ledger")},
		Sessions:    &SessionManager{base: b("sessions")},
		Inventory:   inv,
		Recognition: &Recognizer{base: b("recognition"), inventory: inv},
		Reports:     &Aggregator{base: b("reports")},
	}
}
