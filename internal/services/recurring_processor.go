package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

// EndDatePolicy decides how a definition's end date limits catch-up.
type EndDatePolicy string

const (
	// EndDateBoundsOccurrence materializes every missed occurrence dated on or
	// before the end date, even when the end date is already in the past.
	EndDateBoundsOccurrence EndDatePolicy = "occurrence"

	// EndDateBeforeToday stops a definition as soon as its end date is before
	// today, dropping occurrences still owed between the last run and the end date.
	EndDateBeforeToday EndDatePolicy = "today"
)

// Valid reports whether p is a known policy.
func (p EndDatePolicy) Valid() bool {
	return p == EndDateBoundsOccurrence || p == EndDateBeforeToday
}

// RecurringSource is the storage the processor reads definitions from and
// writes materialized transactions to.
type RecurringSource interface {
	ListRecurring(ctx context.Context, userID string) ([]core.RecurringTransaction, error)
	LastMaterializedDate(ctx context.Context, recurringID string) (core.Date, bool, error)
	InsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
}

// TransactionPublisher announces newly materialized transactions.
type TransactionPublisher interface {
	PublishTransactionMaterialized(ctx context.Context, tx core.Transaction) error
}

// RecurringProcessorConfig holds configuration for the recurring processor
type RecurringProcessorConfig struct {
	// MaxOccurrences caps how many occurrences one definition may materialize
	// in a single run (default: 1000).
	MaxOccurrences int

	// EndDatePolicy selects how end dates limit catch-up (default: occurrence).
	EndDatePolicy EndDatePolicy

	// Location is used to decide which calendar day "today" is (default: UTC).
	Location *time.Location

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// DefaultRecurringProcessorConfig returns sensible defaults
func DefaultRecurringProcessorConfig() RecurringProcessorConfig {
	return RecurringProcessorConfig{
		MaxOccurrences: 1000,
		EndDatePolicy:  EndDateBoundsOccurrence,
		Location:       time.UTC,
		Now:            time.Now,
	}
}

func (c RecurringProcessorConfig) withDefaults() RecurringProcessorConfig {
	def := DefaultRecurringProcessorConfig()
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = def.MaxOccurrences
	}
	if !c.EndDatePolicy.Valid() {
		c.EndDatePolicy = def.EndDatePolicy
	}
	if c.Location == nil {
		c.Location = def.Location
	}
	if c.Now == nil {
		c.Now = def.Now
	}
	return c
}

// Failure stages reported in ProcessResult.Failures.
const (
	StageValidate = "validate"
	StageLastDate = "last_date"
	StageInsert   = "insert"
)

// DefinitionFailure describes a definition that could not be fully processed.
type DefinitionFailure struct {
	RecurringID string
	Stage       string
	Err         error
}

// Truncation reports a definition that hit MaxOccurrences while still owing
// occurrences. The next run resumes from the last materialized date.
type Truncation struct {
	RecurringID string
	Created     int
	NextDue     core.Date
}

// ProcessResult is the outcome of one ProcessDue run.
type ProcessResult struct {
	Today        core.Date
	Checked      int
	Transactions []core.Transaction
	Failures     []DefinitionFailure
	Truncated    []Truncation
}

// Summary returns the user facing message for the run.
func (r *ProcessResult) Summary() string {
	switch {
	case r == nil || r.Checked == 0:
		return "No recurring transactions found"
	case len(r.Transactions) == 0:
		return "No recurring transactions were due"
	default:
		return fmt.Sprintf("Processed %d recurring transactions", len(r.Transactions))
	}
}

// RecurringProcessor materializes due occurrences of recurring transactions.
type RecurringProcessor struct {
	store     RecurringSource
	publisher TransactionPublisher
	config    RecurringProcessorConfig

	inflight singleflight.Group

	mu   sync.Mutex
	runs map[string]*sharedRun
}

// sharedRun is the context of one in-flight run. It is cancelled only once
// every caller waiting on it has gone away.
type sharedRun struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewRecurringProcessor creates a new recurring transaction processor.
// publisher may be nil.
func NewRecurringProcessor(store RecurringSource, publisher TransactionPublisher, config RecurringProcessorConfig) *RecurringProcessor {
	return &RecurringProcessor{
		store:     store,
		publisher: publisher,
		config:    config.withDefaults(),
		runs:      make(map[string]*sharedRun),
	}
}

// Today returns the current calendar day in the configured location.
func (p *RecurringProcessor) Today() core.Date {
	return core.DateOf(p.config.Now(), p.config.Location)
}

// ProcessDue materializes every owed occurrence for the user's definitions up
// to today. Errors limited to one definition are recorded in the result and
// never abort the run; a missing user or a failure to list definitions does.
//
// Concurrent calls for the same user within this process share one run.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, userID string) (*ProcessResult, error) {
	if p.store == nil {
		return nil, fmt.Errorf("processor not properly initialized")
	}
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.awaitRun(ctx, userID)
}

// awaitRun joins or starts the user's run and waits for it or for ctx.
func (p *RecurringProcessor) awaitRun(ctx context.Context, userID string) (*ProcessResult, error) {
	run := p.joinRun(ctx, userID)
	defer p.leaveRun(userID, run)

	ch := p.inflight.DoChan(userID, func() (any, error) {
		defer p.forgetRun(userID, run)
		return p.processUser(run.ctx, userID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			slog.DebugContext(ctx, "Joined in-flight recurring run", applog.FieldUserID, userID)
		}
		res, _ := r.Val.(*ProcessResult)
		return res, r.Err
	}
}

func (p *RecurringProcessor) joinRun(ctx context.Context, userID string) *sharedRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	run := p.runs[userID]
	if run == nil {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		run = &sharedRun{ctx: runCtx, cancel: cancel}
		p.runs[userID] = run
	}
	run.waiters++
	return run
}

func (p *RecurringProcessor) leaveRun(userID string, run *sharedRun) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run.waiters--
	if run.waiters > 0 {
		return
	}
	// Nobody wants this run anymore: stop it and make sure the next caller
	// starts a fresh one instead of joining it while it winds down.
	run.cancel()
	if p.runs[userID] == run {
		delete(p.runs, userID)
		p.inflight.Forget(userID)
	}
}

func (p *RecurringProcessor) forgetRun(userID string, run *sharedRun) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runs[userID] == run {
		delete(p.runs, userID)
	}
}

func (p *RecurringProcessor) processUser(ctx context.Context, userID string) (*ProcessResult, error) {
	today := p.Today()
	result := &ProcessResult{Today: today}

	definitions, err := p.store.ListRecurring(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("list recurring transactions: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring transactions",
		applog.FieldUserID, userID,
		"total", len(definitions),
		"processing_date", today.String(),
		"end_date_policy", p.config.EndDatePolicy)

	for _, rt := range definitions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		p.processDefinition(ctx, rt, today, result)
	}

	slog.InfoContext(ctx, "Recurring transaction processing complete",
		applog.FieldUserID, userID,
		"created", len(result.Transactions),
		"failed", len(result.Failures),
		"truncated", len(result.Truncated),
		"total_checked", result.Checked)

	return result, nil
}

func (p *RecurringProcessor) processDefinition(ctx context.Context, rt core.RecurringTransaction, today core.Date, result *ProcessResult) {
	fail := func(stage string, err error) {
		result.Failures = append(result.Failures, DefinitionFailure{RecurringID: rt.ID, Stage: stage, Err: err})
	}

	if err := rt.ValidateSchedule(); err != nil {
		slog.ErrorContext(ctx, "Skipping unschedulable recurring transaction",
			applog.FieldRecurringID, rt.ID,
			applog.FieldError, err)
		fail(StageValidate, err)
		return
	}

	var last *core.Date
	lastDate, ok, err := p.store.LastMaterializedDate(ctx, rt.ID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to get last materialized date",
			applog.FieldRecurringID, rt.ID,
			applog.FieldError, err)
		fail(StageLastDate, err)
		return
	}
	if ok {
		last = &lastDate
	}

	attempts := 0
	for {
		next, owed, err := p.nextOwed(rt, last, today)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to compute next occurrence",
				applog.FieldRecurringID, rt.ID,
				"frequency", rt.Frequency,
				applog.FieldError, err)
			fail(StageValidate, err)
			return
		}
		if !owed {
			return
		}

		if attempts >= p.config.MaxOccurrences {
			slog.WarnContext(ctx, "Recurring catch-up truncated",
				applog.FieldRecurringID, rt.ID,
				"max_occurrences", p.config.MaxOccurrences,
				"next_due", next.String())
			result.Truncated = append(result.Truncated, Truncation{
				RecurringID: rt.ID,
				Created:     attempts,
				NextDue:     next,
			})
			return
		}
		attempts++

		saved, err := p.store.InsertTransaction(ctx, core.Materialize(rt, next))
		if errors.Is(err, storage.ErrDuplicateOccurrence) {
			// Another run already wrote this occurrence.
			slog.InfoContext(ctx, "Occurrence already materialized",
				applog.FieldRecurringID, rt.ID,
				applog.FieldOccurrenceDate, next.String())
			last = &next
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to create transaction from recurring template",
				applog.FieldRecurringID, rt.ID,
				"description", rt.Description,
				applog.FieldOccurrenceDate, next.String(),
				applog.FieldError, err)
			fail(StageInsert, err)
			return
		}

		last = &next
		result.Transactions = append(result.Transactions, saved)
		slog.InfoContext(ctx, "Created transaction from recurring template",
			applog.FieldRecurringID, rt.ID,
			applog.FieldTransactionID, saved.ID,
			applog.FieldOccurrenceDate, next.String(),
			applog.FieldAmountCents, rt.Amount.Cents,
			"frequency", rt.Frequency)

		p.publish(ctx, saved)
	}
}

// nextOwed returns the next occurrence after last and whether it is owed today.
func (p *RecurringProcessor) nextOwed(rt core.RecurringTransaction, last *core.Date, today core.Date) (core.Date, bool, error) {
	if p.config.EndDatePolicy == EndDateBeforeToday {
		due, err := IsDue(rt, last, today)
		if err != nil || !due {
			return core.Date{}, false, err
		}
		next, err := NextOccurrence(rt, last)
		return next, err == nil, err
	}

	next, err := NextOccurrence(rt, last)
	if err != nil {
		return core.Date{}, false, err
	}
	if next.After(today) {
		return next, false, nil
	}
	if rt.EndDate != nil && next.After(*rt.EndDate) {
		return next, false, nil
	}
	return next, true, nil
}

func (p *RecurringProcessor) publish(ctx context.Context, tx core.Transaction) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishTransactionMaterialized(ctx, tx); err != nil {
		// The transaction is stored; only the downstream mirror misses it.
		slog.ErrorContext(ctx, "Failed to publish materialized transaction",
			applog.FieldTransactionID, tx.ID,
			applog.FieldError, err)
	}
}
