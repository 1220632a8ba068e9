package services

import (
	"context"
	"fmt"
	"log/slog"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

// RecurringService orchestrates recurring definition management for a user.
type RecurringService struct {
	recurring    storage.RecurringRepository
	transactions storage.TransactionRepository
}

func NewRecurringService(recurring storage.RecurringRepository, transactions storage.TransactionRepository) *RecurringService {
	return &RecurringService{
		recurring:    recurring,
		transactions: transactions,
	}
}

// List returns the user's definitions, newest first.
func (s *RecurringService) List(ctx context.Context, userID string) ([]core.RecurringTransaction, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	items, err := s.recurring.ListRecurring(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list recurring: %w", err)
	}
	return items, nil
}

// Create validates rt and stores it for userID.
func (s *RecurringService) Create(ctx context.Context, userID string, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	if userID == "" {
		return core.RecurringTransaction{}, core.ErrUnauthenticated
	}
	rt.ID = ""
	rt.UserID = userID
	if err := rt.Validate(); err != nil {
		return core.RecurringTransaction{}, err
	}

	created, err := s.recurring.CreateRecurring(ctx, rt)
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("create recurring: %w", err)
	}
	slog.InfoContext(ctx, "Recurring transaction created",
		applog.FieldRecurringID, created.ID,
		applog.FieldUserID, userID,
		"frequency", created.Frequency,
		"start_date", created.StartDate.String())
	return created, nil
}

// Update replaces the editable fields of an existing definition owned by userID.
func (s *RecurringService) Update(ctx context.Context, userID string, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	if userID == "" {
		return core.RecurringTransaction{}, core.ErrUnauthenticated
	}
	rt.UserID = userID
	if err := rt.Validate(); err != nil {
		return core.RecurringTransaction{}, err
	}

	updated, err := s.recurring.UpdateRecurring(ctx, rt)
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("update recurring: %w", err)
	}
	slog.InfoContext(ctx, "Recurring transaction updated", applog.FieldRecurringID, updated.ID, applog.FieldUserID, userID)
	return updated, nil
}

// Delete removes a definition. Transactions it already produced are kept.
func (s *RecurringService) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return core.ErrUnauthenticated
	}
	if err := s.recurring.DeleteRecurring(ctx, userID, id); err != nil {
		return fmt.Errorf("delete recurring: %w", err)
	}
	slog.InfoContext(ctx, "Recurring transaction deleted", applog.FieldRecurringID, id, applog.FieldUserID, userID)
	return nil
}

// Transactions lists the user's transactions matching filter.
func (s *RecurringService) Transactions(ctx context.Context, userID string, filter storage.TransactionFilter) ([]core.Transaction, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	items, err := s.transactions.ListTransactions(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return items, nil
}
