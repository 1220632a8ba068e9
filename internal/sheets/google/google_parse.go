package google

import (
	"fmt"
	"strconv"
	"strings"

	"fintrack/internal/core"
)

// Column layout: Date | Description | Amount | Type | Category | Recurring ID | ID
const idColumn = "G"

// buildRow renders tx in the sheet's column order. Amounts are always
// positive; the Type column carries the direction.
func buildRow(tx core.Transaction) []any {
	kind := "expense"
	if tx.IsIncome {
		kind = "income"
	}
	recurringID := ""
	if tx.RecurringID != nil {
		recurringID = *tx.RecurringID
	}
	return []any{
		tx.Date.String(),
		tx.Description,
		tx.Amount.String(),
		kind,
		tx.CategoryID,
		recurringID,
		tx.ID,
	}
}

// columnContains reports whether any cell of a single column matrix equals id.
func columnContains(values [][]any, id string) bool {
	for _, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return true
		}
	}
	return false
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
