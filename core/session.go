/*
session.go - Cash register sessions

PURPOSE:
  Opens and closes the register. At most one session is open at any
  instant, system-wide.

STATE MACHINE:
  open -> closed (terminal). There are no other transitions.

SINGLE OPEN SESSION:
  Enforced by the store, not by process state. Open() checks for a current
  session and inserts the new one in the same transaction; the store's
  uniqueness constraint on the open slot turns a lost race into
  ErrSessionAlreadyOpen, which is reported as a ConflictError.

RECONCILIATION:
  On close the expected drawer balance is computed from cash entries
  recorded while the session was open. Entries are selected by CreatedAt,
  so a back-dated entry written during the session still counts:

    expected = opening + cash income - cash expense

  Variance (closing - expected) is informational. A non-zero variance does
  not block the close.
*/
package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SessionManager struct {
	base
}

// Open starts a new register session.
func (m *SessionManager) Open(ctx context.Context, actor Actor, openingBalance decimal.Decimal) (CashSession, error) {
	if err := actor.validate(); err != nil {
		return CashSession{}, err
	}
	if err := nonNegative("opening_balance", openingBalance); err != nil {
		return CashSession{}, err
	}

	session := CashSession{
		ID:             SessionID(m.opts.newID()),
		OpenedAt:       m.now(),
		OpeningBalance: openingBalance,
		Status:         SessionOpen,
		OpenedBy:       actor.ID,
	}

	err := m.atomic(ctx, "sessions.open", func(tx Tx) error {
		current, err := tx.CurrentSession(ctx)
		if err != nil {
			return err
		}
		if current != nil {
			return &ConflictError{Op: "sessions.open", Cause: ErrSessionAlreadyOpen}
		}
		if err := tx.InsertSession(ctx, session); err != nil {
			if errors.Is(err, ErrSessionAlreadyOpen) {
				return &ConflictError{Op: "sessions.open", Cause: err}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return CashSession{}, err
	}

	m.log.Info("session opened",
		zap.String("session", string(session.ID)),
		zap.String("opening_balance", openingBalance.String()),
		zap.String("actor", actor.ID))
	return session, nil
}

// Close ends a session, recording the counted balance.
func (m *SessionManager) Close(ctx context.Context, id SessionID, actor Actor, closingBalance decimal.Decimal, notes string) (CashSession, error) {
	if err := actor.validate(); err != nil {
		return CashSession{}, err
	}
	if err := nonNegative("closing_balance", closingBalance); err != nil {
		return CashSession{}, err
	}

	var closed CashSession
	err := m.atomic(ctx, "sessions.close", func(tx Tx) error {
		s, err := tx.LockSession(ctx, id)
		if err != nil {
			return err
		}
		if s == nil {
			return &NotFoundError{Kind: "session", ID: string(id)}
		}
		if s.Status == SessionClosed {
			var at time.Time
			if s.ClosedAt != nil {
				at = *s.ClosedAt
			}
			return &AlreadyClosedError{SessionID: id, ClosedAt: at}
		}

		now := m.now()
		expected, err := expectedBalance(ctx, tx, *s, now)
		if err != nil {
			return err
		}

		s.ClosedAt = &now
		s.ClosingBalance = &closingBalance
		s.ExpectedBalance = &expected
		s.ClosedBy = actor.ID
		s.Notes = strings.TrimSpace(notes)
		s.Status = SessionClosed
		if err := tx.UpdateSession(ctx, *s); err != nil {
			return err
		}
		closed = *s
		return nil
	})
	if err != nil {
		return CashSession{}, err
	}

	m.log.Info("session closed",
		zap.String("session", string(id)),
		zap.String("closing_balance", closingBalance.String()),
		zap.String("variance", closed.Variance().String()),
		zap.String("actor", actor.ID))
	return closed, nil
}

func expectedBalance(ctx context.Context, r Reader, s CashSession, until time.Time) (decimal.Decimal, error) {
	entries, err := r.ListEntries(ctx, EntryFilter{
		CreatedRange: TimeRange{From: s.OpenedAt, To: until.Add(time.Nanosecond)},
	})
	if err != nil {
		return decimal.Zero, err
	}
	balance := s.OpeningBalance
	for _, e := range entries {
		if e.PaymentMethod != PaymentCash {
			continue
		}
		if e.Kind == EntryIncome {
			balance = balance.Add(e.signed())
		} else {
			balance = balance.Sub(e.signed())
		}
	}
	return balance, nil
}

func (m *SessionManager) Get(ctx context.Context, id SessionID) (CashSession, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return CashSession{}, &InfrastructureError{Op: "sessions.get", Cause: err}
	}
	if s == nil {
		return CashSession{}, &NotFoundError{Kind: "session", ID: string(id)}
	}
	return *s, nil
}

// Current returns the open session, or nil when the register is closed.
func (m *SessionManager) Current(ctx context.Context) (*CashSession, error) {
	s, err := m.store.CurrentSession(ctx)
	if err != nil {
		return nil, &InfrastructureError{Op: "sessions.current", Cause: err}
	}
	return s, nil
}

// List returns the most recent sessions first.
func (m *SessionManager) List(ctx context.Context, limit int) ([]CashSession, error) {
	sessions, err := m.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, &InfrastructureError{Op: "sessions.list", Cause: err}
	}
	return sessions, nil
}
