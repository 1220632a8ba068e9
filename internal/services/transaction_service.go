package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

// TransactionService records user-entered income and expenses.
type TransactionService struct {
	transactions storage.TransactionRepository
	categories   storage.CategoryRepository
	publisher    TransactionPublisher
}

// NewTransactionService wires the service. publisher may be nil.
func NewTransactionService(transactions storage.TransactionRepository, categories storage.CategoryRepository, publisher TransactionPublisher) *TransactionService {
	return &TransactionService{
		transactions: transactions,
		categories:   categories,
		publisher:    publisher,
	}
}

// AddExpense stores tx as an expense owned by userID.
func (s *TransactionService) AddExpense(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error) {
	tx.IsIncome = false
	return s.add(ctx, userID, tx)
}

// AddIncome stores tx as income owned by userID.
func (s *TransactionService) AddIncome(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error) {
	tx.IsIncome = true
	return s.add(ctx, userID, tx)
}

// Categories lists the categories userID may file transactions under.
func (s *TransactionService) Categories(ctx context.Context, userID string, kind core.CategoryKind) ([]core.Category, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	items, err := s.categories.ListCategories(ctx, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return items, nil
}

func (s *TransactionService) add(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error) {
	if userID == "" {
		return core.Transaction{}, core.ErrUnauthenticated
	}
	tx.ID = ""
	tx.UserID = userID
	tx.RecurringID = nil
	tx.Tags = cleanTags(tx.Tags)
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.checkCategory(ctx, userID, tx); err != nil {
		return core.Transaction{}, err
	}

	saved, err := s.transactions.InsertTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	slog.InfoContext(ctx, "Transaction recorded",
		applog.FieldTransactionID, saved.ID,
		applog.FieldUserID, userID,
		applog.FieldAmountCents, saved.Amount.Cents,
		"is_income", saved.IsIncome)

	// The transaction is stored; a failed notification only delays the mirror.
	if s.publisher != nil {
		if err := s.publisher.PublishTransactionMaterialized(ctx, saved); err != nil {
			slog.ErrorContext(ctx, "Failed to publish transaction",
				applog.FieldTransactionID, saved.ID,
				applog.FieldError, err)
		}
	}
	return saved, nil
}

// ErrUnknownCategory rejects a category the user cannot file the transaction under.
var ErrUnknownCategory = fmt.Errorf("%w: unknown category", core.ErrValidation)

func (s *TransactionService) checkCategory(ctx context.Context, userID string, tx core.Transaction) error {
	kind := core.KindOf(tx.IsIncome)
	items, err := s.categories.ListCategories(ctx, userID, kind)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	if !slices.ContainsFunc(items, func(c core.Category) bool { return c.ID == tx.CategoryID }) {
		return fmt.Errorf("%w %q for %s", ErrUnknownCategory, tx.CategoryID, kind)
	}
	return nil
}

// cleanTags trims and dedupes tags. The recurring marker is reserved for
// materialized transactions.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || tag == core.RecurringTag || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}
