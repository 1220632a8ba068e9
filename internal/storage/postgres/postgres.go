// Package postgres implements storage.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

var _ storage.Store = (*Store)(nil)

const uniqueViolation = "23505"

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL, applies migrations and returns a ready store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// RunMigrations applies the embedded schema through a short lived database/sql handle.
func RunMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	if version, dirty, err := m.Version(); err == nil {
		slog.Info("Postgres schema ready", "version", version, "dirty", dirty)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const recurringColumns = `id, user_id, amount_cents, description, is_income, category_id, frequency, start_date, end_date, created_at, updated_at`

func scanRecurring(row pgx.Row) (core.RecurringTransaction, error) {
	var (
		rt        core.RecurringTransaction
		frequency string
		start     time.Time
		end       *time.Time
	)
	if err := row.Scan(&rt.ID, &rt.UserID, &rt.Amount.Cents, &rt.Description, &rt.IsIncome,
		&rt.CategoryID, &frequency, &start, &end, &rt.CreatedAt, &rt.UpdatedAt); err != nil {
		return rt, err
	}
	rt.Frequency = core.Frequency(frequency)
	rt.StartDate = core.DateOf(start, time.UTC)
	if end != nil {
		d := core.DateOf(*end, time.UTC)
		rt.EndDate = &d
	}
	return rt, nil
}

func dateArg(d *core.Date) *time.Time {
	if d == nil {
		return nil
	}
	return &d.Time
}

func (s *Store) ListRecurring(ctx context.Context, userID string) ([]core.RecurringTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recurringColumns+` FROM recurring_transactions WHERE user_id = $1 ORDER BY created_at DESC, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query recurring: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTransaction
	for rows.Next() {
		rt, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (s *Store) GetRecurring(ctx context.Context, userID, id string) (core.RecurringTransaction, error) {
	rt, err := scanRecurring(s.pool.QueryRow(ctx,
		`SELECT `+recurringColumns+` FROM recurring_transactions WHERE id = $1 AND user_id = $2`,
		id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.RecurringTransaction{}, fmt.Errorf("recurring %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("get recurring: %w", err)
	}
	return rt, nil
}

func (s *Store) CreateRecurring(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	created, err := scanRecurring(s.pool.QueryRow(ctx,
		`INSERT INTO recurring_transactions
		   (id, user_id, amount_cents, description, is_income, category_id, frequency, start_date, end_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+recurringColumns,
		rt.ID, rt.UserID, rt.Amount.Cents, rt.Description, rt.IsIncome, rt.CategoryID,
		string(rt.Frequency), rt.StartDate.Time, dateArg(rt.EndDate)))
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("insert recurring: %w", err)
	}
	return created, nil
}

func (s *Store) UpdateRecurring(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	updated, err := scanRecurring(s.pool.QueryRow(ctx,
		`UPDATE recurring_transactions
		 SET amount_cents = $1, description = $2, is_income = $3, category_id = $4, frequency = $5,
		     start_date = $6, end_date = $7, updated_at = now()
		 WHERE id = $8 AND user_id = $9
		 RETURNING `+recurringColumns,
		rt.Amount.Cents, rt.Description, rt.IsIncome, rt.CategoryID, string(rt.Frequency),
		rt.StartDate.Time, dateArg(rt.EndDate), rt.ID, rt.UserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.RecurringTransaction{}, fmt.Errorf("recurring %s: %w", rt.ID, storage.ErrNotFound)
	}
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("update recurring: %w", err)
	}
	return updated, nil
}

func (s *Store) DeleteRecurring(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recurring_transactions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete recurring: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recurring %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRecurringUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM recurring_transactions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query recurring users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan recurring users: %w", err)
	}
	return users, nil
}

func (s *Store) LastMaterializedDate(ctx context.Context, recurringID string) (core.Date, bool, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(date) FROM transactions WHERE recurring_id = $1`, recurringID).Scan(&last)
	if err != nil {
		return core.Date{}, false, fmt.Errorf("query last materialized date: %w", err)
	}
	if last == nil {
		return core.Date{}, false, nil
	}
	return core.DateOf(*last, time.UTC), true, nil
}

const transactionColumns = `id, user_id, amount_cents, description, date, category_id, is_income, recurring_id, tags, created_at`

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		tx   core.Transaction
		date time.Time
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.Amount.Cents, &tx.Description, &date, &tx.CategoryID,
		&tx.IsIncome, &tx.RecurringID, &tx.Tags, &tx.CreatedAt); err != nil {
		return tx, err
	}
	tx.Date = core.DateOf(date, time.UTC)
	return tx, nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Tags == nil {
		tx.Tags = []string{}
	}
	saved, err := scanTransaction(s.pool.QueryRow(ctx,
		`INSERT INTO transactions (id, user_id, amount_cents, description, date, category_id, is_income, recurring_id, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+transactionColumns,
		tx.ID, tx.UserID, tx.Amount.Cents, tx.Description, tx.Date.Time, tx.CategoryID,
		tx.IsIncome, tx.RecurringID, tx.Tags))

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return core.Transaction{}, fmt.Errorf("%s on %s: %w", pgErr.ConstraintName, tx.Date, storage.ErrDuplicateOccurrence)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return saved, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	tx, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, filter storage.TransactionFilter) ([]core.Transaction, error) {
	args := []any{userID}
	where := []string{"user_id = $1"}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.RecurringID != "" {
		add("recurring_id = $%d", filter.RecurringID)
	}
	if filter.From != nil {
		add("date >= $%d", filter.From.Time)
	}
	if filter.To != nil {
		add("date <= $%d", filter.To.Time)
	}
	args = append(args, filter.EffectiveLimit())

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY date DESC, created_at DESC LIMIT $%d`,
			transactionColumns, strings.Join(where, " AND "), len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) ListCategories(ctx context.Context, userID string, kind core.CategoryKind) ([]core.Category, error) {
	query := `SELECT id, COALESCE(user_id, ''), name, type, color, icon, is_default
		FROM categories WHERE (user_id = $1 OR is_default)`
	args := []any{userID}
	if kind != "" {
		query += ` AND type = $2`
		args = append(args, string(kind))
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Kind, &c.Color, &c.Icon, &c.IsDefault); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
