package http

import (
	"net/http"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

type recurringResponse struct {
	ID          string    `json:"id"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
	IsIncome    bool      `json:"is_income"`
	CategoryID  string    `json:"category_id"`
	Frequency   string    `json:"frequency"`
	Label       string    `json:"frequency_label"`
	StartDate   string    `json:"start_date"`
	EndDate     *string   `json:"end_date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRecurringResponse(rt core.RecurringTransaction) recurringResponse {
	resp := recurringResponse{
		ID:          rt.ID,
		Amount:      rt.Amount.String(),
		AmountCents: rt.Amount.Cents,
		Description: rt.Description,
		IsIncome:    rt.IsIncome,
		CategoryID:  rt.CategoryID,
		Frequency:   string(rt.Frequency),
		Label:       rt.Frequency.Label(),
		StartDate:   rt.StartDate.String(),
		CreatedAt:   rt.CreatedAt,
		UpdatedAt:   rt.UpdatedAt,
	}
	if rt.EndDate != nil {
		end := rt.EndDate.String()
		resp.EndDate = &end
	}
	return resp
}

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Recurring.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.fail(w, r, "list recurring", err)
		return
	}
	out := make([]recurringResponse, 0, len(items))
	for _, rt := range items {
		out = append(out, toRecurringResponse(rt))
	}
	NewJSONResponse().Body(map[string]any{"recurring": out}).Write(w)
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req recurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "create recurring", err)
		return
	}
	rt, err := req.toDomain()
	if err != nil {
		s.fail(w, r, "create recurring", err)
		return
	}

	created, err := s.deps.Recurring.Create(r.Context(), auth.UserID(r.Context()), rt)
	if err != nil {
		s.fail(w, r, "create recurring", err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/recurring/"+created.ID).
		Body(toRecurringResponse(created)).
		Write(w)
}

func (s *Server) handleUpdateRecurring(w http.ResponseWriter, r *http.Request) {
	var req recurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "update recurring", err)
		return
	}
	rt, err := req.toDomain()
	if err != nil {
		s.fail(w, r, "update recurring", err)
		return
	}
	rt.ID = r.PathValue("id")

	updated, err := s.deps.Recurring.Update(r.Context(), auth.UserID(r.Context()), rt)
	if err != nil {
		s.fail(w, r, "update recurring", err)
		return
	}
	NewJSONResponse().Body(toRecurringResponse(updated)).Write(w)
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Recurring.Delete(r.Context(), auth.UserID(r.Context()), r.PathValue("id")); err != nil {
		s.fail(w, r, "delete recurring", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

type failureResponse struct {
	RecurringID string `json:"recurring_id"`
	Stage       string `json:"stage"`
	Error       string `json:"error"`
}

type truncationResponse struct {
	RecurringID string `json:"recurring_id"`
	Created     int    `json:"created"`
	NextDue     string `json:"next_due"`
}

type processResponse struct {
	Message      string                `json:"message"`
	Today        string                `json:"today"`
	Checked      int                   `json:"checked"`
	Created      int                   `json:"created"`
	Transactions []transactionResponse `json:"transactions"`
	Failures     []failureResponse     `json:"failures"`
	Truncated    []truncationResponse  `json:"truncated"`
}

func toProcessResponse(res *services.ProcessResult) processResponse {
	resp := processResponse{
		Message:      res.Summary(),
		Today:        res.Today.String(),
		Checked:      res.Checked,
		Created:      len(res.Transactions),
		Transactions: make([]transactionResponse, 0, len(res.Transactions)),
		Failures:     make([]failureResponse, 0, len(res.Failures)),
		Truncated:    make([]truncationResponse, 0, len(res.Truncated)),
	}
	for _, tx := range res.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(tx))
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, failureResponse{RecurringID: f.RecurringID, Stage: f.Stage, Error: f.Err.Error()})
	}
	for _, t := range res.Truncated {
		resp.Truncated = append(resp.Truncated, truncationResponse{RecurringID: t.RecurringID, Created: t.Created, NextDue: t.NextDue.String()})
	}
	return resp
}

func (s *Server) handleProcessRecurring(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	res, err := s.deps.Processor.ProcessDue(r.Context(), userID)
	if err != nil {
		s.fail(w, r, "process recurring", err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Recurring processing triggered",
		applog.FieldUserID, userID,
		applog.FieldOperation, applog.OpProcess,
		"created", len(res.Transactions))
	NewJSONResponse().Body(toProcessResponse(res)).Write(w)
}

// fail logs err with request context and writes the mapped error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := errorFor(err)
	logger := applog.FromContext(r.Context())
	if resp.statusCode >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			applog.FieldOperation, op,
			applog.FieldUserID, auth.UserID(r.Context()),
			applog.FieldError, err)
	} else {
		logger.Logger.DebugContext(r.Context(), "Request rejected",
			applog.FieldOperation, op,
			applog.FieldError, err)
	}
	resp.Write(w)
}
