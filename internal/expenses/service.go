// Package expenses implements direct expense management for an online
// client: create, read, partial update, delete, filtered listing with
// pagination and a spending summary.
//
// These paths do not write the sync ledger; only reconciled batches do.
package expenses

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgersync/expsync/internal/cache"
	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/schema"
	"github.com/shopspring/decimal"
)

const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 100
)

// Input is the body of a create request. Currency, Date and Description
// are optional.
type Input struct {
	Title       string          `json:"title"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Currency    string          `json:"currency,omitempty"`
	Date        string          `json:"date,omitempty"`
	Description *string         `json:"description,omitempty"`
}

// Patch is the body of an update request. Only non-nil fields change.
type Patch struct {
	Title       *string          `json:"title,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Currency    *string          `json:"currency,omitempty"`
	Date        *string          `json:"date,omitempty"`
	Description *string          `json:"description,omitempty"`
}

// Query filters List. Dates are ISO strings as received from the client.
type Query struct {
	Category  string
	StartDate string
	EndDate   string
	Page      int
	Limit     int
}

// Pagination describes the page returned by List.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is one page of List results.
type Page struct {
	Expenses   []*schema.Expense `json:"expenses"`
	Pagination Pagination        `json:"pagination"`
}

// Service manages a user's expenses.
type Service struct {
	db     *db.DB
	cache  cache.Cache
	logger *log.Logger
	now    func() time.Time
}

// New creates a Service. A nil cache disables caching; a nil logger writes
// to stderr.
func New(database *db.DB, c cache.Cache, logger *log.Logger) *Service {
	if c == nil {
		c = cache.Noop()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[expenses] ", log.LstdFlags)
	}
	return &Service{db: database, cache: c, logger: logger, now: time.Now}
}

// Create stores a new expense owned by userID. The date defaults to now and
// the record is marked synced.
func (s *Service) Create(ctx context.Context, userID string, in Input) (*schema.Expense, error) {
	fields := schema.ExpenseFields{
		Title:       in.Title,
		Amount:      in.Amount,
		Category:    in.Category,
		Currency:    in.Currency,
		Description: in.Description,
	}.Normalize()
	if in.Date != "" {
		d, err := schema.ParseDate(in.Date)
		if err != nil {
			return nil, err
		}
		fields.Date = &d
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	e := fields.NewExpense(uuid.NewString(), userID, now)
	e.SyncedAt = &now

	if err := s.db.CreateExpense(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Printf("Expense created with ID: %s", e.ID)
	s.invalidate(ctx, userID)
	return e, nil
}

// Get returns one expense. It fails with db.ErrNotFound or db.ErrForbidden.
func (s *Service) Get(ctx context.Context, userID, id string) (*schema.Expense, error) {
	return s.db.GetOwnedExpense(ctx, userID, id)
}

// Update applies a partial change and marks the record synced.
func (s *Service) Update(ctx context.Context, userID, id string, p Patch) (*schema.Expense, error) {
	p = normalizePatch(p)
	if err := validatePatch(p); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	upd := db.ExpenseUpdate{
		Title:       p.Title,
		Amount:      p.Amount,
		Category:    p.Category,
		Currency:    p.Currency,
		Description: p.Description,
		SyncedAt:    &now,
	}
	if p.Date != nil {
		d, err := schema.ParseDate(*p.Date)
		if err != nil {
			return nil, err
		}
		upd.Date = &d
	}

	e, err := s.db.UpdateOwnedExpense(ctx, userID, id, upd, now)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	return e, nil
}

// normalizePatch applies the same normalization as schema.ExpenseFields to
// the supplied fields.
func normalizePatch(p Patch) Patch {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		p.Title = &t
	}
	if p.Category != nil {
		c := strings.TrimSpace(*p.Category)
		p.Category = &c
	}
	if p.Currency != nil {
		c := schema.NormalizeCurrency(*p.Currency)
		p.Currency = &c
	}
	return p
}

func validatePatch(p Patch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &schema.ValidationError{Field: "title", Message: "title must not be empty"}
	}
	if p.Title != nil && len(*p.Title) > schema.MaxTitleLength {
		return &schema.ValidationError{Field: "title", Message: fmt.Sprintf("title must be %d characters or less (got %d)", schema.MaxTitleLength, len(*p.Title))}
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) == "" {
		return &schema.ValidationError{Field: "category", Message: "category must not be empty"}
	}
	if p.Amount != nil && p.Amount.IsNegative() {
		return &schema.ValidationError{Field: "amount", Message: fmt.Sprintf("amount must not be negative (got %s)", p.Amount)}
	}
	return nil
}

// Delete removes an expense and returns it.
func (s *Service) Delete(ctx context.Context, userID, id string) (*schema.Expense, error) {
	e, err := s.db.DeleteOwnedExpense(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	return e, nil
}

// List returns one page of the user's expenses, newest date first.
func (s *Service) List(ctx context.Context, userID string, q Query) (*Page, error) {
	filter, err := dateFilter(userID, q.StartDate, q.EndDate)
	if err != nil {
		return nil, err
	}
	filter.Category = q.Category

	page, limit, err := normalizePage(q.Page, q.Limit)
	if err != nil {
		return nil, err
	}

	total, err := s.db.CountExpenses(ctx, filter)
	if err != nil {
		return nil, err
	}

	filter.Limit = limit
	filter.Offset = (page - 1) * limit
	expenses, err := s.db.ListExpenses(ctx, filter)
	if err != nil {
		return nil, err
	}

	s.logger.Printf("Found %d expenses out of %d total", len(expenses), total)

	return &Page{
		Expenses: expenses,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

// Summary aggregates the user's expenses over an optional date range.
// Results are cached per user until the next write.
func (s *Service) Summary(ctx context.Context, userID, startDate, endDate string) (*schema.ExpenseSummary, error) {
	filter, err := dateFilter(userID, startDate, endDate)
	if err != nil {
		return nil, err
	}

	key := cache.Key(userID, "summary", startDate, endDate)
	return cache.Remember(ctx, s.cache, s.logger, key, func(ctx context.Context) (*schema.ExpenseSummary, error) {
		return s.db.SummarizeExpenses(ctx, filter)
	})
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		s.logger.Printf("WARNING: %v", err)
	}
}

func dateFilter(userID, startDate, endDate string) (db.ExpenseFilter, error) {
	filter := db.ExpenseFilter{UserID: userID}
	if startDate != "" {
		d, err := schema.ParseDate(startDate)
		if err != nil {
			return filter, err
		}
		filter.StartDate = &d
	}
	if endDate != "" {
		d, err := schema.ParseDate(endDate)
		if err != nil {
			return filter, err
		}
		filter.EndDate = &d
	}
	return filter, nil
}

func normalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 1 {
		return 0, 0, &schema.ValidationError{Field: "page", Message: "page must be at least 1"}
	}
	if limit < 1 || limit > MaxLimit {
		return 0, 0, &schema.ValidationError{Field: "limit", Message: fmt.Sprintf("limit must be between 1 and %d", MaxLimit)}
	}
	return page, limit, nil
}
