package http

import (
	"net/http"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/core"
)

type transactionResponse struct {
	ID          string    `json:"id"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
	Date        string    `json:"date"`
	CategoryID  string    `json:"category_id"`
	IsIncome    bool      `json:"is_income"`
	RecurringID *string   `json:"recurring_id"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTransactionResponse(tx core.Transaction) transactionResponse {
	tags := tx.Tags
	if tags == nil {
		tags = []string{}
	}
	return transactionResponse{
		ID:          tx.ID,
		Amount:      tx.Amount.String(),
		AmountCents: tx.Amount.Cents,
		Description: tx.Description,
		Date:        tx.Date.String(),
		CategoryID:  tx.CategoryID,
		IsIncome:    tx.IsIncome,
		RecurringID: tx.RecurringID,
		Tags:        tags,
		CreatedAt:   tx.CreatedAt,
	}
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, "list transactions", err)
		return
	}

	items, err := s.deps.Recurring.Transactions(r.Context(), auth.UserID(r.Context()), filter)
	if err != nil {
		s.fail(w, r, "list transactions", err)
		return
	}
	out := make([]transactionResponse, 0, len(items))
	for _, tx := range items {
		out = append(out, toTransactionResponse(tx))
	}
	NewJSONResponse().Body(map[string]any{
		"transactions": out,
		"limit":        filter.EffectiveLimit(),
	}).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "create transaction", err)
		return
	}
	tx, err := req.toDomain()
	if err != nil {
		s.fail(w, r, "create transaction", err)
		return
	}

	userID := auth.UserID(r.Context())
	add := s.deps.Transactions.AddExpense
	if tx.IsIncome {
		add = s.deps.Transactions.AddIncome
	}
	saved, err := add(r.Context(), userID, tx)
	if err != nil {
		s.fail(w, r, "create transaction", err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Body(toTransactionResponse(saved)).
		Write(w)
}

type categoryResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Color     string `json:"color"`
	Icon      string `json:"icon"`
	IsDefault bool   `json:"is_default"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseCategoryKind(r.URL.Query().Get("type"))
	if err != nil {
		s.fail(w, r, "list categories", badRequest("invalid type %q: expected income or expense", r.URL.Query().Get("type")))
		return
	}
	items, err := s.deps.Transactions.Categories(r.Context(), auth.UserID(r.Context()), kind)
	if err != nil {
		s.fail(w, r, "list categories", err)
		return
	}
	out := make([]categoryResponse, 0, len(items))
	for _, c := range items {
		out = append(out, categoryResponse{
			ID:        c.ID,
			Name:      c.Name,
			Type:      string(c.Kind),
			Color:     c.Color,
			Icon:      c.Icon,
			IsDefault: c.IsDefault,
		})
	}
	NewJSONResponse().Body(map[string]any{"categories": out}).Write(w)
}
