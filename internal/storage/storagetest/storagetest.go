// Package storagetest holds behaviour every storage.Store backend must share.
package storagetest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// Run exercises store against the storage contract. newStore must return an
// empty store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("recurring crud", func(t *testing.T) { testRecurringCRUD(t, newStore(t)) })
	t.Run("ownership", func(t *testing.T) { testOwnership(t, newStore(t)) })
	t.Run("duplicate occurrence", func(t *testing.T) { testDuplicateOccurrence(t, newStore(t)) })
	t.Run("last materialized date", func(t *testing.T) { testLastMaterializedDate(t, newStore(t)) })
	t.Run("list transactions", func(t *testing.T) { testListTransactions(t, newStore(t)) })
	t.Run("delete keeps transactions", func(t *testing.T) { testDeleteKeepsTransactions(t, newStore(t)) })
	t.Run("recurring users", func(t *testing.T) { testRecurringUsers(t, newStore(t)) })
	t.Run("manual transactions", func(t *testing.T) { testManualTransactions(t, newStore(t)) })
	t.Run("default categories", func(t *testing.T) { testDefaultCategories(t, newStore(t)) })
}

func definition(userID string) core.RecurringTransaction {
	end := core.NewDate(2024, 12, 31)
	return core.RecurringTransaction{
		UserID:      userID,
		Amount:      core.Money{Cents: 4200},
		Description: "Gym membership",
		CategoryID:  "cat-health",
		Frequency:   core.Monthly,
		StartDate:   core.NewDate(2024, 1, 15),
		EndDate:     &end,
	}
}

func testRecurringCRUD(t *testing.T, s storage.Store) {
	ctx := context.Background()

	created, err := s.CreateRecurring(ctx, definition("u1"))
	if err != nil {
		t.Fatalf("CreateRecurring() error = %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("CreateRecurring() should assign id and timestamps: %+v", created)
	}

	got, err := s.GetRecurring(ctx, "u1", created.ID)
	if err != nil {
		t.Fatalf("GetRecurring() error = %v", err)
	}
	if got.Description != "Gym membership" || got.Amount.Cents != 4200 || got.Frequency != core.Monthly {
		t.Errorf("GetRecurring() = %+v", got)
	}
	if !got.StartDate.Equal(core.NewDate(2024, 1, 15)) {
		t.Errorf("start date = %s", got.StartDate)
	}
	if got.EndDate == nil || !got.EndDate.Equal(core.NewDate(2024, 12, 31)) {
		t.Errorf("end date = %v", got.EndDate)
	}

	got.EndDate = nil
	got.IsIncome = true
	got.Frequency = core.Quarterly
	updated, err := s.UpdateRecurring(ctx, got)
	if err != nil {
		t.Fatalf("UpdateRecurring() error = %v", err)
	}
	if updated.EndDate != nil || !updated.IsIncome || updated.Frequency != core.Quarterly {
		t.Errorf("UpdateRecurring() = %+v", updated)
	}

	list, err := s.ListRecurring(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("ListRecurring() = %+v", list)
	}

	if err := s.DeleteRecurring(ctx, "u1", created.ID); err != nil {
		t.Fatalf("DeleteRecurring() error = %v", err)
	}
	if _, err := s.GetRecurring(ctx, "u1", created.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetRecurring() after delete error = %v", err)
	}
}

func testOwnership(t *testing.T, s storage.Store) {
	ctx := context.Background()
	created, err := s.CreateRecurring(ctx, definition("owner"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetRecurring(ctx, "other", created.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetRecurring() by other user error = %v", err)
	}
	hijack := created
	hijack.UserID = "other"
	if _, err := s.UpdateRecurring(ctx, hijack); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateRecurring() by other user error = %v", err)
	}
	if err := s.DeleteRecurring(ctx, "other", created.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteRecurring() by other user error = %v", err)
	}
	list, err := s.ListRecurring(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("ListRecurring() leaked %d definitions", len(list))
	}
}

func testDuplicateOccurrence(t *testing.T, s storage.Store) {
	ctx := context.Background()
	rt, err := s.CreateRecurring(ctx, definition("u1"))
	if err != nil {
		t.Fatal(err)
	}

	tx := core.Materialize(rt, core.NewDate(2024, 2, 15))
	first, err := s.InsertTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}
	if first.ID == "" {
		t.Fatal("InsertTransaction() should assign an id")
	}
	if _, err := s.InsertTransaction(ctx, tx); !errors.Is(err, storage.ErrDuplicateOccurrence) {
		t.Fatalf("second InsertTransaction() error = %v, want ErrDuplicateOccurrence", err)
	}

	// Hand-entered transactions on the same day never collide.
	manual := core.Transaction{
		UserID:      "u1",
		Amount:      core.Money{Cents: 500},
		Description: "Coffee",
		Date:        core.NewDate(2024, 2, 15),
		CategoryID:  "cat-food",
	}
	for i := 0; i < 2; i++ {
		if _, err := s.InsertTransaction(ctx, manual); err != nil {
			t.Fatalf("manual InsertTransaction() #%d error = %v", i, err)
		}
	}

	got, err := s.GetTransaction(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if got.RecurringID == nil || *got.RecurringID != rt.ID {
		t.Errorf("recurring id = %v", got.RecurringID)
	}
	if !slices.Equal(got.Tags, []string{core.RecurringTag}) {
		t.Errorf("tags = %v", got.Tags)
	}
	if !got.Date.Equal(core.NewDate(2024, 2, 15)) || got.Amount.Cents != 4200 {
		t.Errorf("GetTransaction() = %+v", got)
	}
	if _, err := s.GetTransaction(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetTransaction(missing) error = %v", err)
	}
}

func testLastMaterializedDate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	rt, err := s.CreateRecurring(ctx, definition("u1"))
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, err := s.LastMaterializedDate(ctx, rt.ID); err != nil || ok {
		t.Fatalf("LastMaterializedDate() on empty = ok %v err %v", ok, err)
	}

	for _, d := range []core.Date{core.NewDate(2024, 1, 15), core.NewDate(2024, 3, 15), core.NewDate(2024, 2, 15)} {
		if _, err := s.InsertTransaction(ctx, core.Materialize(rt, d)); err != nil {
			t.Fatal(err)
		}
	}
	last, ok, err := s.LastMaterializedDate(ctx, rt.ID)
	if err != nil || !ok {
		t.Fatalf("LastMaterializedDate() ok %v err %v", ok, err)
	}
	if !last.Equal(core.NewDate(2024, 3, 15)) {
		t.Errorf("LastMaterializedDate() = %s, want 2024-03-15", last)
	}
}

func testListTransactions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a, err := s.CreateRecurring(ctx, definition("u1"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateRecurring(ctx, definition("u1"))
	if err != nil {
		t.Fatal(err)
	}
	other, err := s.CreateRecurring(ctx, definition("u2"))
	if err != nil {
		t.Fatal(err)
	}

	for day := 1; day <= 5; day++ {
		for _, rt := range []core.RecurringTransaction{a, b, other} {
			if _, err := s.InsertTransaction(ctx, core.Materialize(rt, core.NewDate(2024, 4, day))); err != nil {
				t.Fatal(err)
			}
		}
	}

	all, err := s.ListTransactions(ctx, "u1", storage.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 10 {
		t.Fatalf("ListTransactions() returned %d, want 10", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Date.After(all[i-1].Date) {
			t.Fatalf("ListTransactions() not newest first at %d", i)
		}
	}

	from, to := core.NewDate(2024, 4, 2), core.NewDate(2024, 4, 3)
	ranged, err := s.ListTransactions(ctx, "u1", storage.TransactionFilter{RecurringID: a.ID, From: &from, To: &to})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranged) != 2 || !ranged[0].Date.Equal(to) || !ranged[1].Date.Equal(from) {
		t.Fatalf("ranged ListTransactions() = %+v", ranged)
	}
	for _, tx := range ranged {
		if *tx.RecurringID != a.ID {
			t.Fatalf("filter leaked recurring %s", *tx.RecurringID)
		}
	}

	limited, err := s.ListTransactions(ctx, "u1", storage.TransactionFilter{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 3 {
		t.Fatalf("limited ListTransactions() returned %d", len(limited))
	}
}

func testDeleteKeepsTransactions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	rt, err := s.CreateRecurring(ctx, definition("u1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertTransaction(ctx, core.Materialize(rt, core.NewDate(2024, 1, 15))); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRecurring(ctx, "u1", rt.ID); err != nil {
		t.Fatal(err)
	}
	txs, err := s.ListTransactions(ctx, "u1", storage.TransactionFilter{RecurringID: rt.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Fatalf("transactions after delete = %d, want 1", len(txs))
	}
}

func testRecurringUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for _, u := range []string{"zoe", "adam", "zoe"} {
		if _, err := s.CreateRecurring(ctx, definition(u)); err != nil {
			t.Fatal(err)
		}
	}
	users, err := s.ListRecurringUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(users, []string{"adam", "zoe"}) {
		t.Fatalf("ListRecurringUsers() = %v", users)
	}
}

func testManualTransactions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	entry := core.Transaction{
		UserID:      "u1",
		Amount:      core.Money{Cents: 12000},
		Description: "Groceries",
		Date:        core.NewDate(2024, 3, 1),
		CategoryID:  "cat-food",
		Tags:        []string{"weekly-shop"},
	}
	// Two identical entries on the same day are both kept.
	for i := 0; i < 2; i++ {
		if _, err := s.InsertTransaction(ctx, entry); err != nil {
			t.Fatalf("InsertTransaction() #%d error = %v", i+1, err)
		}
	}

	list, err := s.ListTransactions(ctx, "u1", storage.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("ListTransactions() = %d rows, want 2", len(list))
	}
	for _, tx := range list {
		if tx.IsRecurring() || !slices.Equal(tx.Tags, []string{"weekly-shop"}) {
			t.Errorf("manual transaction round trip = %+v", tx)
		}
	}
}

func testDefaultCategories(t *testing.T, s storage.Store) {
	ctx := context.Background()
	defaults := core.DefaultCategories()

	all, err := s.ListCategories(ctx, "anyone", "")
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(all) != len(defaults) {
		t.Fatalf("ListCategories() = %d categories, want %d", len(all), len(defaults))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name > all[i].Name {
			t.Fatalf("categories not ordered by name: %q before %q", all[i-1].Name, all[i].Name)
		}
	}

	income, err := s.ListCategories(ctx, "anyone", core.CategoryIncome)
	if err != nil {
		t.Fatal(err)
	}
	if len(income) == 0 {
		t.Fatal("expected default income categories")
	}
	for _, c := range income {
		if c.Kind != core.CategoryIncome || !c.IsDefault || c.UserID != "" {
			t.Errorf("unexpected income category %+v", c)
		}
	}
}
