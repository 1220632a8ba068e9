package storage

import (
	"context"
	"errors"

	"fintrack/internal/core"
)

var (
	// ErrNotFound is returned when a record does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateOccurrence is returned when a transaction for the same
	// (recurring_id, date) pair already exists.
	ErrDuplicateOccurrence = errors.New("occurrence already materialized")
)

// DefaultListLimit caps ListTransactions when the filter does not set one.
const DefaultListLimit = 100

// Ports for persistence adapters.
type (
	RecurringRepository interface {
		ListRecurring(ctx context.Context, userID string) ([]core.RecurringTransaction, error)
		GetRecurring(ctx context.Context, userID, id string) (core.RecurringTransaction, error)
		CreateRecurring(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error)
		UpdateRecurring(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error)
		DeleteRecurring(ctx context.Context, userID, id string) error
		// ListRecurringUsers returns every user owning at least one definition.
		ListRecurringUsers(ctx context.Context) ([]string, error)
	}

	TransactionRepository interface {
		// LastMaterializedDate returns the date of the newest transaction spawned
		// by recurringID. ok is false when none exists.
		LastMaterializedDate(ctx context.Context, recurringID string) (date core.Date, ok bool, err error)
		InsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]core.Transaction, error)
	}

	CategoryRepository interface {
		// ListCategories returns the defaults plus the user's own categories,
		// ordered by name. An empty kind matches both kinds.
		ListCategories(ctx context.Context, userID string, kind core.CategoryKind) ([]core.Category, error)
	}

	Store interface {
		RecurringRepository
		TransactionRepository
		CategoryRepository
		Ping(ctx context.Context) error
		Close() error
	}
)

// TransactionFilter narrows ListTransactions. Zero values mean no constraint.
type TransactionFilter struct {
	RecurringID string
	From        *core.Date
	To          *core.Date
	Limit       int
}

// EffectiveLimit returns the limit to apply, falling back to DefaultListLimit.
func (f TransactionFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return DefaultListLimit
	}
	return f.Limit
}

// Match reports whether tx satisfies the filter.
func (f TransactionFilter) Match(tx core.Transaction) bool {
	if f.RecurringID != "" && (tx.RecurringID == nil || *tx.RecurringID != f.RecurringID) {
		return false
	}
	if f.From != nil && tx.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Date.After(*f.To) {
		return false
	}
	return true
}
