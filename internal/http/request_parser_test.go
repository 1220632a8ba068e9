package http

import (
	"errors"
	"net/url"
	"testing"

	"fintrack/internal/core"
)

func strPtr(s string) *string { return &s }

func TestRecurringRequestToDomain(t *testing.T) {
	tests := []struct {
		name    string
		req     recurringRequest
		wantErr error
		check   func(t *testing.T, rt core.RecurringTransaction)
	}{
		{
			name: "comma decimal and trimmed fields",
			req: recurringRequest{
				Amount: "12,345", Description: "  Gym\x00 ", CategoryID: " cat-health ",
				Frequency: "Monthly", StartDate: "2024-01-31", EndDate: strPtr(""),
			},
			check: func(t *testing.T, rt core.RecurringTransaction) {
				if rt.Amount.Cents != 1235 {
					t.Errorf("cents = %d, want 1235", rt.Amount.Cents)
				}
				if rt.Description != "Gym" || rt.CategoryID != "cat-health" {
					t.Errorf("unexpected text fields %q %q", rt.Description, rt.CategoryID)
				}
				if rt.Frequency != core.Monthly {
					t.Errorf("frequency = %s", rt.Frequency)
				}
				if rt.EndDate != nil {
					t.Error("blank end_date should mean open-ended")
				}
			},
		},
		{
			name: "end date parsed",
			req:  recurringRequest{Amount: "5", Frequency: "yearly", StartDate: "2024-02-29", EndDate: strPtr("2030-01-01")},
			check: func(t *testing.T, rt core.RecurringTransaction) {
				if rt.EndDate == nil || rt.EndDate.String() != "2030-01-01" {
					t.Errorf("end date = %v", rt.EndDate)
				}
			},
		},
		{name: "bad amount", req: recurringRequest{Amount: "abc", Frequency: "daily", StartDate: "2024-01-01"}, wantErr: core.ErrInvalidAmount},
		{name: "bad frequency", req: recurringRequest{Amount: "5", Frequency: "fortnightly", StartDate: "2024-01-01"}, wantErr: core.ErrInvalidFrequency},
		{name: "bad start", req: recurringRequest{Amount: "5", Frequency: "daily", StartDate: "2024-13-01"}, wantErr: core.ErrInvalidDate},
		{name: "bad end", req: recurringRequest{Amount: "5", Frequency: "daily", StartDate: "2024-01-01", EndDate: strPtr("soon")}, wantErr: core.ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := tt.req.toDomain()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				if !errors.Is(err, core.ErrValidation) {
					t.Errorf("error %v should be a validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, rt)
		})
	}
}

func TestParseTransactionFilter(t *testing.T) {
	filter, err := parseTransactionFilter(url.Values{
		"recurring_id": {" rec-1 "},
		"from":         {"2024-01-01"},
		"to":           {"2024-01-31"},
		"limit":        {"25"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filter.RecurringID != "rec-1" || filter.Limit != 25 {
		t.Errorf("unexpected filter %+v", filter)
	}
	if filter.From.String() != "2024-01-01" || filter.To.String() != "2024-01-31" {
		t.Errorf("unexpected range %v..%v", filter.From, filter.To)
	}

	empty, err := parseTransactionFilter(url.Values{})
	if err != nil || empty.From != nil || empty.To != nil || empty.Limit != 0 {
		t.Errorf("empty query = %+v, %v", empty, err)
	}

	for _, q := range []url.Values{
		{"from": {"2024/01/01"}},
		{"to": {"tomorrow"}},
		{"limit": {"-1"}},
		{"from": {"2024-02-01"}, "to": {"2024-01-01"}},
	} {
		_, err := parseTransactionFilter(q)
		var reqErr *requestError
		if !errors.As(err, &reqErr) {
			t.Errorf("%v: expected request error, got %v", q, err)
		}
	}
}
