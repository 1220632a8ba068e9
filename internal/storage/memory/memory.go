package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps recurring definitions and transactions in process memory.
// It enforces the same (recurring_id, date) uniqueness as the SQL backends.
type Store struct {
	mu           sync.Mutex
	recurring    map[string]core.RecurringTransaction
	transactions []core.Transaction
	occurrences  map[string]struct{}
	categories   []core.Category

	now func() time.Time

	// Test hooks; a non-nil return value is returned in place of the real result.
	ListErr     func(userID string) error
	LastDateErr func(recurringID string) error
	InsertErr   func(tx core.Transaction) error
}

func New() *Store {
	return &Store{
		recurring:   make(map[string]core.RecurringTransaction),
		occurrences: make(map[string]struct{}),
		categories:  core.DefaultCategories(),
		now:         time.Now,
	}
}

func occurrenceKey(recurringID string, d core.Date) string {
	return recurringID + "|" + d.String()
}

func (s *Store) ListRecurring(_ context.Context, userID string) ([]core.RecurringTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		if err := s.ListErr(userID); err != nil {
			return nil, err
		}
	}

	var out []core.RecurringTransaction
	for _, rt := range s.recurring {
		if rt.UserID == userID {
			out = append(out, rt)
		}
	}
	// Newest first, id as tie breaker for deterministic output.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetRecurring(_ context.Context, userID, id string) (core.RecurringTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.recurring[id]
	if !ok || rt.UserID != userID {
		return core.RecurringTransaction{}, fmt.Errorf("recurring %s: %w", id, storage.ErrNotFound)
	}
	return rt, nil
}

func (s *Store) CreateRecurring(_ context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	now := s.now().UTC()
	rt.CreatedAt, rt.UpdatedAt = now, now
	s.recurring[rt.ID] = rt
	return rt, nil
}

func (s *Store) UpdateRecurring(_ context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.recurring[rt.ID]
	if !ok || existing.UserID != rt.UserID {
		return core.RecurringTransaction{}, fmt.Errorf("recurring %s: %w", rt.ID, storage.ErrNotFound)
	}
	rt.CreatedAt = existing.CreatedAt
	rt.UpdatedAt = s.now().UTC()
	s.recurring[rt.ID] = rt
	return rt, nil
}

// DeleteRecurring removes the definition. Materialized transactions are kept.
func (s *Store) DeleteRecurring(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.recurring[id]
	if !ok || rt.UserID != userID {
		return fmt.Errorf("recurring %s: %w", id, storage.ErrNotFound)
	}
	delete(s.recurring, id)
	return nil
}

func (s *Store) ListRecurringUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var users []string
	for _, rt := range s.recurring {
		if _, ok := seen[rt.UserID]; ok {
			continue
		}
		seen[rt.UserID] = struct{}{}
		users = append(users, rt.UserID)
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) LastMaterializedDate(_ context.Context, recurringID string) (core.Date, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LastDateErr != nil {
		if err := s.LastDateErr(recurringID); err != nil {
			return core.Date{}, false, err
		}
	}

	var (
		last  core.Date
		found bool
	)
	for _, tx := range s.transactions {
		if tx.RecurringID == nil || *tx.RecurringID != recurringID {
			continue
		}
		if !found || tx.Date.After(last) {
			last, found = tx.Date, true
		}
	}
	return last, found, nil
}

func (s *Store) InsertTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		if err := s.InsertErr(tx); err != nil {
			return core.Transaction{}, err
		}
	}

	if tx.RecurringID != nil {
		key := occurrenceKey(*tx.RecurringID, tx.Date)
		if _, dup := s.occurrences[key]; dup {
			return core.Transaction{}, fmt.Errorf("recurring %s on %s: %w", *tx.RecurringID, tx.Date, storage.ErrDuplicateOccurrence)
		}
		s.occurrences[key] = struct{}{}
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = s.now().UTC()
	tx.Tags = slices.Clone(tx.Tags)
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.transactions {
		if tx.ID == id {
			return tx, nil
		}
	}
	return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
}

// ListTransactions returns matching transactions, newest date first.
func (s *Store) ListTransactions(_ context.Context, userID string, filter storage.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.transactions {
		if tx.UserID == userID && filter.Match(tx) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListCategories(_ context.Context, userID string, kind core.CategoryKind) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.categories {
		if !c.IsDefault && c.UserID != userID {
			continue
		}
		if kind != "" && c.Kind != kind {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AddCategory stores a user category next to the defaults.
func (s *Store) AddCategory(c core.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.categories = append(s.categories, c)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// SetClock overrides the timestamp source used for created/updated fields.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
