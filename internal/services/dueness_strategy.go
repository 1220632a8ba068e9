// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for recurring transaction scheduling.
// Each frequency type has its own stepper that moves an occurrence date
// forward by exactly one period; the due predicate is built on top of it.

package services

import (
	"fmt"

	"fintrack/internal/core"
)

// Stepper is the strategy interface for advancing an occurrence date.
type Stepper interface {
	// Next returns the occurrence that follows d.
	Next(d core.Date) core.Date
}

// dayStepper adds a fixed number of days.
type dayStepper struct{ days int }

func (s dayStepper) Next(d core.Date) core.Date {
	return d.AddDays(s.days)
}

// monthStepper adds calendar months. Day overflow is normalized by
// time.AddDate, so 2024-01-31 + 1 month is 2024-03-02 and 2023-01-31 is 2023-03-03.
type monthStepper struct{ months int }

func (s monthStepper) Next(d core.Date) core.Date {
	return core.Date{Time: d.AddDate(0, s.months, 0)}
}

// yearStepper adds calendar years. Feb 29 + 1 year lands on Mar 1.
type yearStepper struct{}

func (yearStepper) Next(d core.Date) core.Date {
	return core.Date{Time: d.AddDate(1, 0, 0)}
}

// steppers maps frequencies to their stepping strategy.
var steppers = map[core.Frequency]Stepper{
	core.Daily:     dayStepper{days: 1},
	core.Weekly:    dayStepper{days: 7},
	core.Biweekly:  dayStepper{days: 14},
	core.Monthly:   monthStepper{months: 1},
	core.Quarterly: monthStepper{months: 3},
	core.Yearly:    yearStepper{},
}

// GetStepper returns the stepper for a frequency.
// Returns an error if the frequency is not supported.
func GetStepper(frequency core.Frequency) (Stepper, error) {
	s, ok := steppers[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidFrequency, frequency)
	}
	return s, nil
}

// Advance returns d moved forward by exactly one period of frequency.
func Advance(d core.Date, frequency core.Frequency) (core.Date, error) {
	s, err := GetStepper(frequency)
	if err != nil {
		return core.Date{}, err
	}
	return s.Next(d), nil
}

// IsDue reports whether rt owes at least one more occurrence on or before today.
//
// last is the date of the most recent materialized transaction, nil if none
// was ever created. An end date earlier than today makes the definition
// inactive regardless of history.
func IsDue(rt core.RecurringTransaction, last *core.Date, today core.Date) (bool, error) {
	if rt.EndDate != nil && rt.EndDate.Before(today) {
		return false, nil
	}
	if last == nil {
		return !rt.StartDate.After(today), nil
	}
	next, err := Advance(*last, rt.Frequency)
	if err != nil {
		return false, err
	}
	return !next.After(today), nil
}

// NextOccurrence returns the occurrence that follows last, or the start date
// when nothing was materialized yet.
func NextOccurrence(rt core.RecurringTransaction, last *core.Date) (core.Date, error) {
	if last == nil {
		return rt.StartDate, nil
	}
	return Advance(*last, rt.Frequency)
}
