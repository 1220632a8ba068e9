package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
	"fintrack/internal/storage/memory"
)

const testUser = "user-1"

func clockAt(d core.Date) func() time.Time {
	return func() time.Time { return d.Add(12 * time.Hour) }
}

func newTestProcessor(store RecurringSource, today core.Date, mutate ...func(*RecurringProcessorConfig)) *RecurringProcessor {
	cfg := DefaultRecurringProcessorConfig()
	cfg.Now = clockAt(today)
	for _, m := range mutate {
		m(&cfg)
	}
	return NewRecurringProcessor(store, nil, cfg)
}

func addDefinition(t *testing.T, store *memory.Store, rt core.RecurringTransaction) core.RecurringTransaction {
	t.Helper()
	if rt.UserID == "" {
		rt.UserID = testUser
	}
	if rt.Amount.Cents == 0 {
		rt.Amount = core.Money{Cents: 2500}
	}
	if rt.Description == "" {
		rt.Description = "Subscription"
	}
	if rt.CategoryID == "" {
		rt.CategoryID = "cat-bills"
	}
	created, err := store.CreateRecurring(context.Background(), rt)
	if err != nil {
		t.Fatalf("create recurring: %v", err)
	}
	return created
}

func dates(txs []core.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Date.String()
	}
	return out
}

func assertDates(t *testing.T, txs []core.Transaction, want ...string) {
	t.Helper()
	got := dates(txs)
	if len(got) != len(want) {
		t.Fatalf("got %d transactions %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transaction %d dated %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestProcessDue_WeeklyCatchUp(t *testing.T) {
	store := memory.New()
	rt := addDefinition(t, store, core.RecurringTransaction{
		Frequency: core.Weekly,
		StartDate: core.NewDate(2024, 1, 1),
	})

	p := newTestProcessor(store, core.NewDate(2024, 1, 22))
	res, err := p.ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}

	assertDates(t, res.Transactions, "2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22")
	for _, tx := range res.Transactions {
		if tx.RecurringID == nil || *tx.RecurringID != rt.ID {
			t.Fatalf("transaction not linked to definition: %+v", tx)
		}
		if len(tx.Tags) != 1 || tx.Tags[0] != core.RecurringTag {
			t.Fatalf("missing recurring tag: %v", tx.Tags)
		}
		if tx.ID == "" {
			t.Fatal("stored transaction should have an id")
		}
	}
	if got := res.Summary(); got != "Processed 4 recurring transactions" {
		t.Fatalf("Summary() = %q", got)
	}
}

func TestProcessDue_EndDateInThePast(t *testing.T) {
	end := core.NewDate(2024, 1, 10)
	def := core.RecurringTransaction{
		Frequency: core.Weekly,
		StartDate: core.NewDate(2024, 1, 1),
		EndDate:   &end,
	}
	today := core.NewDate(2024, 1, 22)

	t.Run("occurrence policy stops at end date", func(t *testing.T) {
		store := memory.New()
		addDefinition(t, store, def)
		res, err := newTestProcessor(store, today).ProcessDue(context.Background(), testUser)
		if err != nil {
			t.Fatal(err)
		}
		assertDates(t, res.Transactions, "2024-01-01", "2024-01-08")
	})

	t.Run("today policy treats the definition as expired", func(t *testing.T) {
		store := memory.New()
		addDefinition(t, store, def)
		p := newTestProcessor(store, today, func(c *RecurringProcessorConfig) {
			c.EndDatePolicy = EndDateBeforeToday
		})
		res, err := p.ProcessDue(context.Background(), testUser)
		if err != nil {
			t.Fatal(err)
		}
		assertDates(t, res.Transactions)
	})
}

func TestProcessDue_EndDateInTheFuture(t *testing.T) {
	for _, policy := range []EndDatePolicy{EndDateBoundsOccurrence, EndDateBeforeToday} {
		t.Run(string(policy), func(t *testing.T) {
			end := core.NewDate(2024, 2, 1)
			store := memory.New()
			addDefinition(t, store, core.RecurringTransaction{
				Frequency: core.Weekly,
				StartDate: core.NewDate(2024, 1, 1),
				EndDate:   &end,
			})
			p := newTestProcessor(store, core.NewDate(2024, 1, 16), func(c *RecurringProcessorConfig) {
				c.EndDatePolicy = policy
			})
			res, err := p.ProcessDue(context.Background(), testUser)
			if err != nil {
				t.Fatal(err)
			}
			assertDates(t, res.Transactions, "2024-01-01", "2024-01-08", "2024-01-15")
		})
	}
}

func TestProcessDue_DailyCatchUpEndsToday(t *testing.T) {
	today := core.NewDate(2024, 3, 10)
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{
		Frequency: core.Daily,
		StartDate: today.AddDays(-4),
	})

	res, err := newTestProcessor(store, today).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-03-06", "2024-03-07", "2024-03-08", "2024-03-09", "2024-03-10")
}

func TestProcessDue_SecondRunCreatesNothing(t *testing.T) {
	today := core.NewDate(2024, 5, 20)
	store := memory.New()
	for _, f := range core.Frequencies() {
		addDefinition(t, store, core.RecurringTransaction{Frequency: f, StartDate: core.NewDate(2023, 11, 3)})
	}
	p := newTestProcessor(store, today)

	first, err := p.ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Transactions) == 0 {
		t.Fatal("first run should materialize transactions")
	}

	second, err := p.ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Transactions) != 0 {
		t.Fatalf("second run created %d transactions: %v", len(second.Transactions), dates(second.Transactions))
	}
	if got := second.Summary(); got != "No recurring transactions were due" {
		t.Fatalf("Summary() = %q", got)
	}
}

func TestProcessDue_ResumesFromLastMaterializedDate(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Monthly, StartDate: core.NewDate(2024, 1, 10)})

	res, err := newTestProcessor(store, core.NewDate(2024, 2, 20)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-01-10", "2024-02-10")

	res, err = newTestProcessor(store, core.NewDate(2024, 4, 10)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-03-10", "2024-04-10")
}

func TestProcessDue_MonthEndChainsFromPreviousOccurrence(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Monthly, StartDate: core.NewDate(2024, 1, 31)})

	res, err := newTestProcessor(store, core.NewDate(2024, 4, 15)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	// Each step is taken from the previous occurrence, so the day drifts after overflow.
	assertDates(t, res.Transactions, "2024-01-31", "2024-03-02", "2024-04-02")
}

func TestProcessDue_StartInTheFuture(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Daily, StartDate: core.NewDate(2024, 2, 1)})

	res, err := newTestProcessor(store, core.NewDate(2024, 1, 31)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions)
}

func TestProcessDue_ReadFailureSkipsDefinition(t *testing.T) {
	store := memory.New()
	broken := addDefinition(t, store, core.RecurringTransaction{Frequency: core.Weekly, StartDate: core.NewDate(2024, 1, 1)})
	healthy := addDefinition(t, store, core.RecurringTransaction{Frequency: core.Weekly, StartDate: core.NewDate(2024, 1, 8)})

	readErr := errors.New("connection reset")
	store.LastDateErr = func(id string) error {
		if id == broken.ID {
			return readErr
		}
		return nil
	}

	res, err := newTestProcessor(store, core.NewDate(2024, 1, 22)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatalf("per-definition failure must not abort the batch: %v", err)
	}
	assertDates(t, res.Transactions, "2024-01-08", "2024-01-15", "2024-01-22")
	for _, tx := range res.Transactions {
		if *tx.RecurringID != healthy.ID {
			t.Fatalf("unexpected transaction for %s", *tx.RecurringID)
		}
	}
	if len(res.Failures) != 1 || res.Failures[0].RecurringID != broken.ID || res.Failures[0].Stage != StageLastDate {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, readErr) {
		t.Fatalf("failure should carry the read error, got %v", res.Failures[0].Err)
	}
}

func TestProcessDue_WriteFailureStopsOnlyThatDefinition(t *testing.T) {
	store := memory.New()
	failing := addDefinition(t, store, core.RecurringTransaction{Frequency: core.Daily, StartDate: core.NewDate(2024, 1, 1)})
	other := addDefinition(t, store, core.RecurringTransaction{Frequency: core.Weekly, StartDate: core.NewDate(2024, 1, 1)})

	attempts := 0
	store.InsertErr = func(tx core.Transaction) error {
		if *tx.RecurringID != failing.ID {
			return nil
		}
		attempts++
		if tx.Date.Equal(core.NewDate(2024, 1, 3)) {
			return errors.New("disk full")
		}
		return nil
	}

	res, err := newTestProcessor(store, core.NewDate(2024, 1, 10)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("failing definition should stop after the failed write, attempts = %d", attempts)
	}

	var failingDates, otherDates []core.Transaction
	for _, tx := range res.Transactions {
		switch *tx.RecurringID {
		case failing.ID:
			failingDates = append(failingDates, tx)
		case other.ID:
			otherDates = append(otherDates, tx)
		}
	}
	assertDates(t, failingDates, "2024-01-01", "2024-01-02")
	assertDates(t, otherDates, "2024-01-01", "2024-01-08")
	if len(res.Failures) != 1 || res.Failures[0].Stage != StageInsert {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}

	// The next run picks up where the failed write left off.
	store.InsertErr = nil
	res, err = newTestProcessor(store, core.NewDate(2024, 1, 4)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-01-03", "2024-01-04")
}

func TestProcessDue_DuplicateOccurrenceIsSkipped(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Weekly, StartDate: core.NewDate(2024, 1, 1)})

	store.InsertErr = func(tx core.Transaction) error {
		if tx.Date.Equal(core.NewDate(2024, 1, 8)) {
			return storage.ErrDuplicateOccurrence
		}
		return nil
	}

	res, err := newTestProcessor(store, core.NewDate(2024, 1, 22)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-01-01", "2024-01-15", "2024-01-22")
	if len(res.Failures) != 0 {
		t.Fatalf("duplicates are not failures: %+v", res.Failures)
	}
}

func TestProcessDue_CapsCatchUpAndReportsTruncation(t *testing.T) {
	store := memory.New()
	rt := addDefinition(t, store, core.RecurringTransaction{Frequency: core.Daily, StartDate: core.NewDate(2024, 1, 1)})
	today := core.NewDate(2024, 1, 8)
	capped := func(c *RecurringProcessorConfig) { c.MaxOccurrences = 3 }

	res, err := newTestProcessor(store, today, capped).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-01-01", "2024-01-02", "2024-01-03")
	if len(res.Truncated) != 1 {
		t.Fatalf("expected one truncation, got %+v", res.Truncated)
	}
	tr := res.Truncated[0]
	if tr.RecurringID != rt.ID || tr.Created != 3 || !tr.NextDue.Equal(core.NewDate(2024, 1, 4)) {
		t.Fatalf("unexpected truncation %+v", tr)
	}

	res, _ = newTestProcessor(store, today, capped).ProcessDue(context.Background(), testUser)
	assertDates(t, res.Transactions, "2024-01-04", "2024-01-05", "2024-01-06")

	res, _ = newTestProcessor(store, today, capped).ProcessDue(context.Background(), testUser)
	assertDates(t, res.Transactions, "2024-01-07", "2024-01-08")
	if len(res.Truncated) != 0 {
		t.Fatalf("caught up run should not be truncated: %+v", res.Truncated)
	}
}

func TestProcessDue_DecadesOfDailyHistoryIsBounded(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Daily, StartDate: core.NewDate(1990, 1, 1)})

	res, err := newTestProcessor(store, core.NewDate(2024, 1, 1)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Transactions) != DefaultRecurringProcessorConfig().MaxOccurrences {
		t.Fatalf("created %d transactions", len(res.Transactions))
	}
	if len(res.Truncated) != 1 {
		t.Fatalf("expected truncation warning")
	}
}

func TestProcessDue_InvalidDefinitionIsSkipped(t *testing.T) {
	store := memory.New()
	bad := addDefinition(t, store, core.RecurringTransaction{Frequency: "fortnightly", StartDate: core.NewDate(2024, 1, 1)})
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Weekly, StartDate: core.NewDate(2024, 1, 1)})

	res, err := newTestProcessor(store, core.NewDate(2024, 1, 8)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-01-01", "2024-01-08")
	if len(res.Failures) != 1 || res.Failures[0].RecurringID != bad.ID || res.Failures[0].Stage != StageValidate {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, core.ErrInvalidFrequency) {
		t.Fatalf("expected invalid frequency, got %v", res.Failures[0].Err)
	}
}

func TestProcessDue_Unauthenticated(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Daily, StartDate: core.NewDate(2024, 1, 1)})
	inserts := 0
	store.InsertErr = func(core.Transaction) error { inserts++; return nil }

	p := newTestProcessor(store, core.NewDate(2024, 1, 5))
	if _, err := p.ProcessDue(context.Background(), ""); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	store.ListErr = func(string) error { return core.ErrUnauthenticated }
	res, err := p.ProcessDue(context.Background(), testUser)
	if !errors.Is(err, core.ErrUnauthenticated) || res != nil {
		t.Fatalf("expected auth failure to abort, got res=%v err=%v", res, err)
	}
	if inserts != 0 {
		t.Fatalf("no writes expected before authentication, got %d", inserts)
	}
}

func TestProcessDue_ListFailureAborts(t *testing.T) {
	store := memory.New()
	listErr := errors.New("database unreachable")
	store.ListErr = func(string) error { return listErr }

	res, err := newTestProcessor(store, core.NewDate(2024, 1, 5)).ProcessDue(context.Background(), testUser)
	if !errors.Is(err, listErr) || res != nil {
		t.Fatalf("expected list error, got res=%v err=%v", res, err)
	}
}

func TestProcessDue_NoDefinitions(t *testing.T) {
	res, err := newTestProcessor(memory.New(), core.NewDate(2024, 1, 5)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary() != "No recurring transactions found" {
		t.Fatalf("Summary() = %q", res.Summary())
	}
}

func TestProcessDue_OnlyTouchesTheCallersDefinitions(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{UserID: "someone-else", Frequency: core.Daily, StartDate: core.NewDate(2024, 1, 1)})
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Yearly, StartDate: core.NewDate(2024, 1, 1)})

	res, err := newTestProcessor(store, core.NewDate(2024, 1, 5)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-01-01")
	if res.Transactions[0].UserID != testUser {
		t.Fatalf("materialized for wrong user: %s", res.Transactions[0].UserID)
	}
}

func TestProcessDue_CancelledContext(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Daily, StartDate: core.NewDate(2024, 1, 1)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestProcessor(store, core.NewDate(2024, 1, 5)).ProcessDue(ctx, testUser)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessDue_UsesConfiguredLocationForToday(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Weekly, StartDate: core.NewDate(2024, 1, 1)})

	p := NewRecurringProcessor(store, nil, RecurringProcessorConfig{
		Location: time.FixedZone("UTC+10", 10*3600),
		Now:      func() time.Time { return time.Date(2024, 1, 21, 20, 0, 0, 0, time.UTC) },
	})
	if got := p.Today(); !got.Equal(core.NewDate(2024, 1, 22)) {
		t.Fatalf("Today() = %s", got)
	}
	res, err := p.ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22")
}

func TestProcessDue_ConcurrentRunsDoNotDuplicate(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Daily, StartDate: core.NewDate(2024, 1, 1)})
	today := core.NewDate(2024, 1, 31)

	// Separate processors model separate processes sharing one database.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := newTestProcessor(store, today).ProcessDue(context.Background(), testUser); err != nil {
				t.Errorf("ProcessDue() error = %v", err)
			}
		}()
	}
	wg.Wait()

	all, err := store.ListTransactions(context.Background(), testUser, storage.TransactionFilter{Limit: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 31 {
		t.Fatalf("expected 31 transactions, got %d", len(all))
	}
}

// gatedSource holds ListRecurring until release is closed.
type gatedSource struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSource) ListRecurring(ctx context.Context, userID string) ([]core.RecurringTransaction, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Store.ListRecurring(ctx, userID)
}

func (p *RecurringProcessor) waitersFor(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if run := p.runs[userID]; run != nil {
		return run.waiters
	}
	return 0
}

func TestProcessDue_SharedRunSurvivesFirstCallerCancelling(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Daily, StartDate: core.NewDate(2024, 1, 1)})
	src := &gatedSource{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	p := newTestProcessor(src, core.NewDate(2024, 1, 5))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.ProcessDue(firstCtx, testUser)
		firstErr <- err
	}()
	<-src.entered

	type outcome struct {
		res *ProcessResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := p.ProcessDue(context.Background(), testUser)
		second <- outcome{res, err}
	}()
	deadline := time.Now().Add(5 * time.Second)
	for p.waitersFor(testUser) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second caller never joined the run")
		}
		time.Sleep(time.Millisecond)
	}

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller error = %v, want context.Canceled", err)
	}
	close(src.release)

	got := <-second
	if got.err != nil {
		t.Fatalf("second caller error = %v", got.err)
	}
	assertDates(t, got.res.Transactions, "2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05")
	if len(got.res.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", got.res.Failures)
	}
}

func TestProcessDue_StoredDefinitionBelowEntryMinimumIsProcessed(t *testing.T) {
	store := memory.New()
	rt := addDefinition(t, store, core.RecurringTransaction{
		Amount:    core.Money{Cents: 100},
		Frequency: core.Monthly,
		StartDate: core.NewDate(2024, 1, 1),
	})
	if err := rt.Validate(); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("definition should fail entry validation, got %v", err)
	}

	res, err := newTestProcessor(store, core.NewDate(2024, 2, 1)).ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, res.Transactions, "2024-01-01", "2024-02-01")
	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	ids  []string
	fail error
}

func (r *recordingPublisher) PublishTransactionMaterialized(_ context.Context, tx core.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, tx.ID)
	return r.fail
}

func TestProcessDue_PublishesEachTransaction(t *testing.T) {
	store := memory.New()
	addDefinition(t, store, core.RecurringTransaction{Frequency: core.Weekly, StartDate: core.NewDate(2024, 1, 1)})

	pub := &recordingPublisher{fail: errors.New("broker down")}
	cfg := DefaultRecurringProcessorConfig()
	cfg.Now = clockAt(core.NewDate(2024, 1, 15))
	p := NewRecurringProcessor(store, pub, cfg)

	res, err := p.ProcessDue(context.Background(), testUser)
	if err != nil {
		t.Fatalf("publish failures must not fail the run: %v", err)
	}
	if len(pub.ids) != len(res.Transactions) || len(pub.ids) != 3 {
		t.Fatalf("published %d, created %d", len(pub.ids), len(res.Transactions))
	}
	for i, tx := range res.Transactions {
		if pub.ids[i] != tx.ID {
			t.Fatalf("published %s, want %s", pub.ids[i], tx.ID)
		}
	}
}

func TestRecurringProcessorConfigDefaults(t *testing.T) {
	p := NewRecurringProcessor(memory.New(), nil, RecurringProcessorConfig{EndDatePolicy: "bogus"})
	if p.config.MaxOccurrences != 1000 {
		t.Errorf("MaxOccurrences = %d", p.config.MaxOccurrences)
	}
	if p.config.EndDatePolicy != EndDateBoundsOccurrence {
		t.Errorf("EndDatePolicy = %q", p.config.EndDatePolicy)
	}
	if p.config.Location != time.UTC || p.config.Now == nil {
		t.Error("location and clock should default")
	}
}

func TestProcessDue_LogsWithSharedFieldNames(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := memory.New()
	rt := addDefinition(t, store, core.RecurringTransaction{Frequency: core.Daily, StartDate: core.NewDate(2024, 1, 1)})
	if _, err := newTestProcessor(store, core.NewDate(2024, 1, 1)).ProcessDue(context.Background(), testUser); err != nil {
		t.Fatal(err)
	}

	found := false
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", sc.Text(), err)
		}
		if entry["msg"] != "Created transaction from recurring template" {
			continue
		}
		found = true
		if entry[applog.FieldRecurringID] != rt.ID || entry[applog.FieldOccurrenceDate] != "2024-01-01" {
			t.Errorf("unexpected fields %v", entry)
		}
		if _, ok := entry[applog.FieldTransactionID]; !ok {
			t.Errorf("missing %s in %v", applog.FieldTransactionID, entry)
		}
	}
	if !found {
		t.Fatalf("no creation log in %s", buf.String())
	}
}
