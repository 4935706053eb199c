package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Clients send and expect amounts as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	// DefaultCurrency is applied when a record is created without a currency.
	DefaultCurrency = "USD"

	// MaxTitleLength bounds the title of an expense.
	MaxTitleLength = 500
)

// Expense is the server-held copy of one personal expense.
//
// SyncedAt is nil until the record has been confirmed by a reconciliation pass.
// UpdatedAt is maintained by storage on every write and drives delta queries.
type Expense struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Currency    string          `json:"currency"`
	Date        time.Time       `json:"date"`
	Description *string         `json:"description"`
	UserID      string          `json:"userId"`
	SyncedAt    *time.Time      `json:"syncedAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Validate checks if the Expense has valid field values.
func (e *Expense) Validate() error {
	if e.ID == "" {
		return invalid("id", "id is required")
	}
	if e.UserID == "" {
		return invalid("userId", "user id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return invalid("title", "title is required")
	}
	if len(e.Title) > MaxTitleLength {
		return invalid("title", fmt.Sprintf("title must be %d characters or less (got %d)", MaxTitleLength, len(e.Title)))
	}
	if e.Amount.IsNegative() {
		return invalid("amount", fmt.Sprintf("amount must not be negative (got %s)", e.Amount))
	}
	if strings.TrimSpace(e.Category) == "" {
		return invalid("category", "category is required")
	}
	if e.Currency == "" {
		return invalid("currency", "currency is required")
	}
	if e.Date.IsZero() {
		return invalid("date", "date is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (e *Expense) SetDefaults(now time.Time) {
	if e.Currency == "" {
		e.Currency = DefaultCurrency
	}
	if e.Date.IsZero() {
		e.Date = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
}

// IsSynced reports whether the record has been confirmed by a reconciliation pass.
func (e *Expense) IsSynced() bool {
	return e.SyncedAt != nil
}

// ParseDate parses a client-supplied ISO date.
//
// Accepted layouts, in order: RFC 3339 with optional fraction, a local
// date-time without zone (read as UTC) and a bare calendar date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid("date", fmt.Sprintf("date %q is not an ISO 8601 timestamp", s))
}
