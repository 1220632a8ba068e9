package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/sheets"
	"fintrack/internal/storage"
)

// TransactionSource is the storage the sheets worker reads from.
type TransactionSource interface {
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	ListTransactions(ctx context.Context, userID string, filter storage.TransactionFilter) ([]core.Transaction, error)
	ListRecurringUsers(ctx context.Context) ([]string, error)
}

// SheetsWorker mirrors materialized transactions into a spreadsheet.
type SheetsWorker struct {
	store TransactionSource
	sink  sheets.TransactionSink
	// lookback is how many recent transactions per user StartupSyncCheck inspects.
	lookback int

	// mirrorMu serializes the Contains/Append pair so the consumer and the
	// periodic sync check never both append the same transaction.
	mirrorMu sync.Mutex
}

func NewSheetsWorker(store TransactionSource, sink sheets.TransactionSink, lookback int) *SheetsWorker {
	if lookback <= 0 {
		lookback = storage.DefaultListLimit
	}
	return &SheetsWorker{store: store, sink: sink, lookback: lookback}
}

// HandleMaterialized processes a single transaction materialized message from AMQP.
// A returned error requeues the message.
func (w *SheetsWorker) HandleMaterialized(ctx context.Context, msg *amqp.TransactionMaterializedMessage) error {
	slog.InfoContext(ctx, "Processing materialized message",
		applog.FieldTransactionID, msg.TransactionID,
		applog.FieldRecurringID, msg.RecurringID)

	tx, err := w.store.GetTransaction(ctx, msg.TransactionID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted before the worker caught up; nothing left to mirror.
		slog.WarnContext(ctx, "Transaction no longer exists, dropping message",
			applog.FieldTransactionID, msg.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}
	if msg.UserID != "" && msg.UserID != tx.UserID {
		slog.WarnContext(ctx, "Message user does not own transaction, dropping message",
			applog.FieldTransactionID, tx.ID,
			applog.FieldUserID, msg.UserID)
		return nil
	}

	_, err = w.mirror(ctx, tx)
	return err
}

// StartupSyncCheck mirrors recent recurring transactions that are missing from
// the sheet, recovering from messages lost while the worker was down.
func (w *SheetsWorker) StartupSyncCheck(ctx context.Context) error {
	users, err := w.store.ListRecurringUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users for startup check: %w", err)
	}

	synced, failed := 0, 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		txs, err := w.store.ListTransactions(ctx, userID, storage.TransactionFilter{Limit: w.lookback})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to list transactions for startup sync",
				applog.FieldUserID, userID, applog.FieldError, err)
			failed++
			continue
		}
		for _, tx := range txs {
			if !tx.IsRecurring() {
				continue
			}
			appended, err := w.mirror(ctx, tx)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to sync transaction during startup",
					applog.FieldTransactionID, tx.ID, applog.FieldError, err)
				failed++
				continue
			}
			if appended {
				synced++
			}
		}
	}

	slog.InfoContext(ctx, "Startup sync completed",
		applog.FieldOperation, applog.OpSync,
		"users", len(users),
		"synced", synced,
		"errors", failed)
	return nil
}

// mirror appends tx unless the sheet already has it and reports whether a row was written.
func (w *SheetsWorker) mirror(ctx context.Context, tx core.Transaction) (bool, error) {
	w.mirrorMu.Lock()
	defer w.mirrorMu.Unlock()

	exists, err := w.sink.Contains(ctx, tx)
	if err != nil {
		return false, fmt.Errorf("check sheet for transaction: %w", err)
	}
	if exists {
		slog.DebugContext(ctx, "Transaction already in sheet", applog.FieldTransactionID, tx.ID)
		return false, nil
	}

	ref, err := w.sink.Append(ctx, tx)
	if err != nil {
		return false, fmt.Errorf("append to sheets: %w", err)
	}

	slog.InfoContext(ctx, "Successfully synced transaction",
		applog.FieldTransactionID, tx.ID,
		applog.FieldSheetsRef, ref,
		"description", tx.Description,
		applog.FieldAmountCents, tx.Amount.Cents)
	return true, nil
}
