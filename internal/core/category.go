package core

import (
	"fmt"
	"strings"
)

// CategoryKind tells whether a category groups income or expenses.
type CategoryKind string

const (
	CategoryIncome  CategoryKind = "income"
	CategoryExpense CategoryKind = "expense"
)

// Category labels transactions. Defaults have no owner and are visible to everyone.
type Category struct {
	ID        string
	UserID    string
	Name      string
	Kind      CategoryKind
	Color     string
	Icon      string
	IsDefault bool
}

// ParseCategoryKind accepts "income" or "expense". An empty string means any kind.
func ParseCategoryKind(s string) (CategoryKind, error) {
	k := CategoryKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case "", CategoryIncome, CategoryExpense:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown category type %q", ErrValidation, s)
	}
}

// KindOf returns the category kind a transaction must be filed under.
func KindOf(isIncome bool) CategoryKind {
	if isIncome {
		return CategoryIncome
	}
	return CategoryExpense
}

// DefaultCategories are seeded into every backend.
func DefaultCategories() []Category {
	return []Category{
		{ID: "cat-bills", Name: "Bills", Kind: CategoryExpense, Color: "#f97316", Icon: "receipt", IsDefault: true},
		{ID: "cat-food", Name: "Food", Kind: CategoryExpense, Color: "#22c55e", Icon: "utensils", IsDefault: true},
		{ID: "cat-health", Name: "Health", Kind: CategoryExpense, Color: "#ef4444", Icon: "heart", IsDefault: true},
		{ID: "cat-home", Name: "Home", Kind: CategoryExpense, Color: "#3b82f6", Icon: "home", IsDefault: true},
		{ID: "cat-transport", Name: "Transport", Kind: CategoryExpense, Color: "#a855f7", Icon: "car", IsDefault: true},
		{ID: "cat-other-expense", Name: "Other", Kind: CategoryExpense, Color: "#6b7280", Icon: "tag", IsDefault: true},
		{ID: "cat-salary", Name: "Salary", Kind: CategoryIncome, Color: "#10b981", Icon: "briefcase", IsDefault: true},
		{ID: "cat-freelance", Name: "Freelance", Kind: CategoryIncome, Color: "#14b8a6", Icon: "laptop", IsDefault: true},
		{ID: "cat-other-income", Name: "Other", Kind: CategoryIncome, Color: "#6b7280", Icon: "tag", IsDefault: true},
	}
}
