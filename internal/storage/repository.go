package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
)

var _ Store = (*SQLiteRepository)(nil)

// Fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer keeps concurrent sweeps from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const recurringColumns = `id, user_id, amount_cents, description, is_income, category_id, frequency, start_date, end_date, created_at, updated_at`

func scanRecurring(row rowScanner) (core.RecurringTransaction, error) {
	var (
		rt                   core.RecurringTransaction
		frequency, start     string
		end                  sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&rt.ID, &rt.UserID, &rt.Amount.Cents, &rt.Description, &rt.IsIncome,
		&rt.CategoryID, &frequency, &start, &end, &createdAt, &updatedAt); err != nil {
		return rt, err
	}

	// Frequencies are stored verbatim; unknown values surface later as validation failures.
	rt.Frequency = core.Frequency(frequency)

	var err error
	if rt.StartDate, err = core.ParseDate(start); err != nil {
		return rt, fmt.Errorf("recurring %s start_date: %w", rt.ID, err)
	}
	if end.Valid {
		d, err := core.ParseDate(end.String)
		if err != nil {
			return rt, fmt.Errorf("recurring %s end_date: %w", rt.ID, err)
		}
		rt.EndDate = &d
	}
	rt.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	rt.UpdatedAt, _ = time.Parse(timestampLayout, updatedAt)
	return rt, nil
}

func nullableDate(d *core.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func (r *SQLiteRepository) ListRecurring(ctx context.Context, userID string) ([]core.RecurringTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_transactions WHERE user_id = ? ORDER BY created_at DESC, id`,
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

func (r *SQLiteRepository) GetRecurring(ctx context.Context, userID, id string) (core.RecurringTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_transactions WHERE id = ? AND user_id = ?`,
		id, userID)
	rt, err := scanRecurring(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTransaction{}, fmt.Errorf("recurring %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("get recurring: %w", err)
	}
	return rt, nil
}

func (r *SQLiteRepository) CreateRecurring(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	now := r.now().UTC()
	rt.CreatedAt, rt.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recurring_transactions (`+recurringColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rt.ID, rt.UserID, rt.Amount.Cents, rt.Description, rt.IsIncome, rt.CategoryID,
		string(rt.Frequency), rt.StartDate.String(), nullableDate(rt.EndDate),
		now.Format(timestampLayout), now.Format(timestampLayout))
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("insert recurring: %w", err)
	}

	slog.InfoContext(ctx, "Recurring transaction saved to SQLite",
		applog.FieldRecurringID, rt.ID,
		applog.FieldUserID, rt.UserID,
		"frequency", rt.Frequency)
	return rt, nil
}

func (r *SQLiteRepository) UpdateRecurring(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recurring_transactions
		 SET amount_cents = ?, description = ?, is_income = ?, category_id = ?, frequency = ?,
		     start_date = ?, end_date = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		rt.Amount.Cents, rt.Description, rt.IsIncome, rt.CategoryID, string(rt.Frequency),
		rt.StartDate.String(), nullableDate(rt.EndDate), r.now().UTC().Format(timestampLayout),
		rt.ID, rt.UserID)
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("update recurring: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.RecurringTransaction{}, fmt.Errorf("recurring %s: %w", rt.ID, ErrNotFound)
	}
	return r.GetRecurring(ctx, rt.UserID, rt.ID)
}

func (r *SQLiteRepository) DeleteRecurring(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM recurring_transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete recurring: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recurring %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListRecurringUsers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM recurring_transactions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query recurring users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recurring user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (r *SQLiteRepository) LastMaterializedDate(ctx context.Context, recurringID string) (core.Date, bool, error) {
	var last sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM transactions WHERE recurring_id = ?`, recurringID).Scan(&last)
	if err != nil {
		return core.Date{}, false, fmt.Errorf("query last materialized date: %w", err)
	}
	if !last.Valid {
		return core.Date{}, false, nil
	}
	d, err := core.ParseDate(last.String)
	if err != nil {
		return core.Date{}, false, err
	}
	return d, true, nil
}

const transactionColumns = `id, user_id, amount_cents, description, date, category_id, is_income, recurring_id, tags, created_at`

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = r.now().UTC()
	if tx.Tags == nil {
		tx.Tags = []string{}
	}
	tags, err := json.Marshal(tx.Tags)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("encode tags: %w", err)
	}

	var recurringID sql.NullString
	if tx.RecurringID != nil {
		recurringID = sql.NullString{String: *tx.RecurringID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Amount.Cents, tx.Description, tx.Date.String(), tx.CategoryID,
		tx.IsIncome, recurringID, string(tags), tx.CreatedAt.Format(timestampLayout))
	if isUniqueViolation(err) {
		return core.Transaction{}, fmt.Errorf("recurring %s on %s: %w", recurringID.String, tx.Date, ErrDuplicateOccurrence)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx                    core.Transaction
		date, tags, createdAt string
		recurringID           sql.NullString
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.Amount.Cents, &tx.Description, &date, &tx.CategoryID,
		&tx.IsIncome, &recurringID, &tags, &createdAt); err != nil {
		return tx, err
	}
	var err error
	if tx.Date, err = core.ParseDate(date); err != nil {
		return tx, fmt.Errorf("transaction %s date: %w", tx.ID, err)
	}
	if recurringID.Valid {
		id := recurringID.String
		tx.RecurringID = &id
	}
	if err := json.Unmarshal([]byte(tags), &tx.Tags); err != nil {
		return tx, fmt.Errorf("transaction %s tags: %w", tx.ID, err)
	}
	tx.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	return tx, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]core.Transaction, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if filter.RecurringID != "" {
		where = append(where, "recurring_id = ?")
		args = append(args, filter.RecurringID)
	}
	if filter.From != nil {
		where = append(where, "date >= ?")
		args = append(args, filter.From.String())
	}
	if filter.To != nil {
		where = append(where, "date <= ?")
		args = append(args, filter.To.String())
	}
	args = append(args, filter.EffectiveLimit())

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE `+strings.Join(where, " AND ")+
			` ORDER BY date DESC, created_at DESC LIMIT ?`,
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

func (r *SQLiteRepository) ListCategories(ctx context.Context, userID string, kind core.CategoryKind) ([]core.Category, error) {
	query := `SELECT id, COALESCE(user_id, ''), name, type, color, icon, is_default
		FROM categories WHERE (user_id = ? OR is_default = 1)`
	args := []any{userID}
	if kind != "" {
		query += ` AND type = ?`
		args = append(args, string(kind))
	}
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY name, id`, args...)
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
