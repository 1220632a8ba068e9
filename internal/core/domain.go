package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// RecurringTag marks transactions created by the recurring processor.
const RecurringTag = "recurring_transaction"

// MinAmountCents is the smallest amount, 100.00, accepted on user input
// for both definitions and entered transactions.
const MinAmountCents = 10000

const maxDescriptionLen = 200

type (
	Frequency string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurringTransaction is a template that repeats on a fixed schedule.
	RecurringTransaction struct {
		ID          string
		UserID      string
		Amount      Money
		Description string
		IsIncome    bool
		CategoryID  string
		Frequency   Frequency
		StartDate   Date
		EndDate     *Date // nil when open-ended
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// Transaction is a concrete dated entry. RecurringID is nil for user-entered ones.
	Transaction struct {
		ID          string
		UserID      string
		Amount      Money
		Description string
		Date        Date
		CategoryID  string
		IsIncome    bool
		RecurringID *string
		Tags        []string
		CreatedAt   time.Time
	}
)

var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthenticated = errors.New("not authenticated")

	ErrInvalidFrequency = fmt.Errorf("%w: invalid frequency", ErrValidation)
	ErrInvalidAmount    = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrEmptyDescription = fmt.Errorf("%w: empty description", ErrValidation)
	ErrEmptyCategory    = fmt.Errorf("%w: empty category", ErrValidation)
	ErrInvalidDate      = fmt.Errorf("%w: invalid date", ErrValidation)
)

// Frequencies returns every supported frequency in display order.
func Frequencies() []Frequency {
	return []Frequency{Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly}
}

// ParseFrequency converts user or storage input into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
	return f, nil
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly:
		return true
	default:
		return false
	}
}

// Label returns the human readable name of the frequency.
func (f Frequency) Label() string {
	switch f {
	case Daily:
		return "Daily"
	case Weekly:
		return "Weekly"
	case Biweekly:
		return "Every 2 weeks"
	case Monthly:
		return "Monthly"
	case Quarterly:
		return "Quarterly"
	case Yearly:
		return "Yearly"
	default:
		return string(f)
	}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

// Before reports whether d is an earlier calendar day than o.
func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time)
}

// After reports whether d is a later calendar day than o.
func (d Date) After(o Date) bool {
	return d.Time.After(o.Time)
}

// Equal reports whether both dates are the same calendar day.
func (d Date) Equal(o Date) bool {
	return d.Time.Equal(o.Time)
}

// AddDays returns the date n days later (or earlier if n is negative).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks a definition entered by a user.
func (rt RecurringTransaction) Validate() error {
	if err := rt.ValidateSchedule(); err != nil {
		return err
	}
	return validateEntry(rt.Amount, rt.Description, rt.CategoryID)
}

// ValidateSchedule checks only what is needed to compute occurrences. Stored
// definitions that fail it cannot be processed.
func (rt RecurringTransaction) ValidateSchedule() error {
	if rt.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidDate)
	}
	if rt.EndDate != nil && rt.EndDate.Before(rt.StartDate) {
		return fmt.Errorf("%w: end date must not be before start date", ErrInvalidDate)
	}
	if !rt.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, rt.Frequency)
	}
	return nil
}

// Validate checks a transaction entered by a user.
func (t Transaction) Validate() error {
	if t.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidDate)
	}
	return validateEntry(t.Amount, t.Description, t.CategoryID)
}

func validateEntry(amount Money, description, categoryID string) error {
	if len(strings.TrimSpace(description)) == 0 {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return fmt.Errorf("%w: description too long (max %d characters)", ErrValidation, maxDescriptionLen)
	}

	if amount.Cents < MinAmountCents {
		return fmt.Errorf("%w: must be at least %s", ErrInvalidAmount, Money{Cents: MinAmountCents})
	}

	if strings.TrimSpace(categoryID) == "" {
		return ErrEmptyCategory
	}

	return nil
}

// Materialize builds the concrete transaction owed by rt on date.
func Materialize(rt RecurringTransaction, date Date) Transaction {
	recurringID := rt.ID
	return Transaction{
		UserID:      rt.UserID,
		Amount:      rt.Amount,
		Description: rt.Description,
		Date:        date,
		CategoryID:  rt.CategoryID,
		IsIncome:    rt.IsIncome,
		RecurringID: &recurringID,
		Tags:        []string{RecurringTag},
	}
}

// IsRecurring reports whether t was generated from a recurring definition.
func (t Transaction) IsRecurring() bool {
	return t.RecurringID != nil
}
