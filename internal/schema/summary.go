package schema

import "github.com/shopspring/decimal"

// CategoryTotal is the per-category slice of an ExpenseSummary.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}

// MonthlyTotal is one YYYY-MM bucket of an ExpenseSummary.
type MonthlyTotal struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// ExpenseSummary aggregates a user's expenses over an optional date range.
//
// CategoryBreakdown is ordered by total descending; MonthlyTrend by month
// ascending.
type ExpenseSummary struct {
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	TotalCount        int             `json:"totalCount"`
	AverageAmount     decimal.Decimal `json:"averageAmount"`
	CategoryBreakdown []CategoryTotal `json:"categoryBreakdown"`
	MonthlyTrend      []MonthlyTotal  `json:"monthlyTrend"`
}
