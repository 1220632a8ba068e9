// Package http provides HTTP server and handler implementations.
//
// This file implements the JSON request payloads and query parsing shared by
// the handlers.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

const maxBodyBytes = 1 << 20

// requestError is a client error detected before reaching the service layer.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		case errors.As(err, &maxErr):
			return badRequest("request body too large")
		default:
			return badRequest("invalid JSON body: %v", err)
		}
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON object")
	}
	return nil
}

// recurringRequest is the create/update payload. Amount is a decimal string
// ("12.50" or "12,50").
type recurringRequest struct {
	Amount      string  `json:"amount"`
	Description string  `json:"description"`
	IsIncome    bool    `json:"is_income"`
	CategoryID  string  `json:"category_id"`
	Frequency   string  `json:"frequency"`
	StartDate   string  `json:"start_date"`
	EndDate     *string `json:"end_date"`
}

// toDomain converts the payload. Field-level problems are validation errors
// so the client receives 422 like for any other invalid definition.
func (req recurringRequest) toDomain() (core.RecurringTransaction, error) {
	amount, err := core.ParseMoney(req.Amount)
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("amount: %w", err)
	}
	frequency, err := core.ParseFrequency(req.Frequency)
	if err != nil {
		return core.RecurringTransaction{}, err
	}
	start, err := core.ParseDate(req.StartDate)
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("start_date: %w", err)
	}

	rt := core.RecurringTransaction{
		Amount:      amount,
		Description: sanitizeInput(req.Description),
		IsIncome:    req.IsIncome,
		CategoryID:  strings.TrimSpace(req.CategoryID),
		Frequency:   frequency,
		StartDate:   start,
	}
	if req.EndDate != nil && strings.TrimSpace(*req.EndDate) != "" {
		end, err := core.ParseDate(*req.EndDate)
		if err != nil {
			return core.RecurringTransaction{}, fmt.Errorf("end_date: %w", err)
		}
		rt.EndDate = &end
	}
	return rt, nil
}

// transactionRequest is the payload for a user-entered transaction.
type transactionRequest struct {
	Amount      string   `json:"amount"`
	Description string   `json:"description"`
	IsIncome    bool     `json:"is_income"`
	CategoryID  string   `json:"category_id"`
	Date        string   `json:"date"`
	Tags        []string `json:"tags"`
}

func (req transactionRequest) toDomain() (core.Transaction, error) {
	amount, err := core.ParseMoney(req.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("amount: %w", err)
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("date: %w", err)
	}
	tags := make([]string, 0, len(req.Tags))
	for _, tag := range req.Tags {
		tags = append(tags, sanitizeInput(tag))
	}
	return core.Transaction{
		Amount:      amount,
		Description: sanitizeInput(req.Description),
		IsIncome:    req.IsIncome,
		CategoryID:  strings.TrimSpace(req.CategoryID),
		Date:        date,
		Tags:        tags,
	}, nil
}

// parseTransactionFilter reads recurring_id, from, to and limit.
func parseTransactionFilter(query url.Values) (storage.TransactionFilter, error) {
	filter := storage.TransactionFilter{
		RecurringID: strings.TrimSpace(query.Get("recurring_id")),
	}

	parseDate := func(key string) (*core.Date, error) {
		v := strings.TrimSpace(query.Get(key))
		if v == "" {
			return nil, nil
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return nil, badRequest("invalid %s %q: expected YYYY-MM-DD", key, v)
		}
		return &d, nil
	}
	var err error
	if filter.From, err = parseDate("from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseDate("to"); err != nil {
		return filter, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, badRequest("to must not be before from")
	}

	if v := strings.TrimSpace(query.Get("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, badRequest("invalid limit %q: must be a positive integer", v)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// sanitizeInput removes control characters except tab and newlines and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
