package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ledgersync/expsync/internal/schema"
	"github.com/shopspring/decimal"
)

const expenseColumns = `id, title, amount, category, currency, date, description,
	user_id, synced_at, created_at, updated_at`

// ExpenseUpdate carries a partial set of expense fields. Nil fields keep the
// stored value.
type ExpenseUpdate struct {
	Title       *string
	Amount      *decimal.Decimal
	Category    *string
	Currency    *string
	Date        *time.Time
	Description *string
	SyncedAt    *time.Time
}

// ExpenseFilter configures ListExpenses and CountExpenses.
type ExpenseFilter struct {
	// UserID restricts results to one owner (required)
	UserID string
	// Category filters by exact category (empty = all)
	Category string
	// StartDate includes expenses dated at or after it (nil = unbounded)
	StartDate *time.Time
	// EndDate includes expenses dated at or before it (nil = unbounded)
	EndDate *time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results (for pagination)
	Offset int
}

func (f ExpenseFilter) where() (string, []any) {
	conditions := []string{"user_id = ?"}
	args := []any{f.UserID}

	if f.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, f.Category)
	}
	if f.StartDate != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, formatTime(*f.StartDate))
	}
	if f.EndDate != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, formatTime(*f.EndDate))
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// CreateExpense inserts a new expense record.
func (q queries) CreateExpense(ctx context.Context, e *schema.Expense) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid expense: %w", err)
	}

	query := `
	INSERT INTO expenses (` + expenseColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.exec(ctx, query,
		e.ID,
		e.Title,
		e.Amount.String(),
		e.Category,
		e.Currency,
		formatTime(e.Date),
		stringToNull(e.Description),
		e.UserID,
		timeToNullString(e.SyncedAt),
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}

	return nil
}

// GetExpense retrieves a single expense by ID regardless of owner.
// Returns ErrNotFound if it does not exist.
func (q queries) GetExpense(ctx context.Context, id string) (*schema.Expense, error) {
	row := q.queryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)

	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense %s: %w", id, err)
	}
	return e, nil
}

// GetOwnedExpense retrieves an expense that belongs to userID.
// Returns ErrNotFound if it does not exist and ErrForbidden if another user
// owns it.
func (q queries) GetOwnedExpense(ctx context.Context, userID, id string) (*schema.Expense, error) {
	e, err := q.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, ErrForbidden
	}
	return e, nil
}

// UpdateOwnedExpense applies upd to the expense if and only if userID owns
// it, and returns the stored result. The ownership check and the write are a
// single statement. updated_at is set to now.
func (q queries) UpdateOwnedExpense(ctx context.Context, userID, id string, upd ExpenseUpdate, now time.Time) (*schema.Expense, error) {
	var amount sql.NullString
	if upd.Amount != nil {
		amount = sql.NullString{String: upd.Amount.String(), Valid: true}
	}

	query := `
	UPDATE expenses SET
		title = COALESCE(?, title),
		amount = COALESCE(?, amount),
		category = COALESCE(?, category),
		currency = COALESCE(?, currency),
		date = COALESCE(?, date),
		description = COALESCE(?, description),
		synced_at = COALESCE(?, synced_at),
		updated_at = ?
	WHERE id = ? AND user_id = ?
	RETURNING ` + expenseColumns

	row := q.queryRow(ctx, query,
		stringToNull(upd.Title),
		amount,
		stringToNull(upd.Category),
		stringToNull(upd.Currency),
		timeToNullString(upd.Date),
		stringToNull(upd.Description),
		timeToNullString(upd.SyncedAt),
		formatTime(now),
		id,
		userID,
	)

	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, q.ownershipError(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update expense %s: %w", id, err)
	}
	return e, nil
}

// DeleteOwnedExpense removes the expense if and only if userID owns it and
// returns the removed record.
func (q queries) DeleteOwnedExpense(ctx context.Context, userID, id string) (*schema.Expense, error) {
	query := `DELETE FROM expenses WHERE id = ? AND user_id = ? RETURNING ` + expenseColumns

	e, err := scanExpense(q.queryRow(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, q.ownershipError(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete expense %s: %w", id, err)
	}
	return e, nil
}

// ownershipError explains why a conditional write matched no row.
func (q queries) ownershipError(ctx context.Context, id string) error {
	var owner string
	err := q.queryRow(ctx, `SELECT user_id FROM expenses WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up expense %s: %w", id, err)
	}
	return ErrForbidden
}

// ListExpenses retrieves the user's expenses matching the filter.
// Results are ordered by date DESC, then created_at DESC.
func (q queries) ListExpenses(ctx context.Context, filter ExpenseFilter) ([]*schema.Expense, error) {
	where, args := filter.where()
	query := `SELECT ` + expenseColumns + ` FROM expenses` + where +
		` ORDER BY date DESC, created_at DESC, id ASC`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 && q.dialect == SQLite {
			// SQLite requires LIMIT before OFFSET.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	return scanExpenses(rows)
}

// CountExpenses counts the user's expenses matching the filter. Limit and
// Offset are ignored.
func (q queries) CountExpenses(ctx context.Context, filter ExpenseFilter) (int, error) {
	where, args := filter.where()

	var count int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM expenses`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count expenses: %w", err)
	}
	return count, nil
}

// SummarizeExpenses aggregates the user's expenses matching the filter.
//
// Sums are computed with exact decimal arithmetic. The average is rounded to
// two decimal places.
func (q queries) SummarizeExpenses(ctx context.Context, filter ExpenseFilter) (*schema.ExpenseSummary, error) {
	where, args := filter.where()

	rows, err := q.query(ctx, `SELECT category, amount, date FROM expenses`+where+` ORDER BY date ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expense summary: %w", err)
	}
	defer rows.Close()

	summary := &schema.ExpenseSummary{
		TotalAmount:       decimal.Zero,
		AverageAmount:     decimal.Zero,
		CategoryBreakdown: []schema.CategoryTotal{},
		MonthlyTrend:      []schema.MonthlyTotal{},
	}
	categories := map[string]int{}
	months := map[string]int{}

	for rows.Next() {
		var category, amountStr, date string
		if err := rows.Scan(&category, &amountStr, &date); err != nil {
			return nil, fmt.Errorf("failed to scan expense amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amountStr, err)
		}

		summary.TotalAmount = summary.TotalAmount.Add(amount)
		summary.TotalCount++

		i, ok := categories[category]
		if !ok {
			i = len(summary.CategoryBreakdown)
			categories[category] = i
			summary.CategoryBreakdown = append(summary.CategoryBreakdown, schema.CategoryTotal{Category: category, Total: decimal.Zero})
		}
		summary.CategoryBreakdown[i].Total = summary.CategoryBreakdown[i].Total.Add(amount)
		summary.CategoryBreakdown[i].Count++

		// Rows arrive in date order, so months are appended ascending.
		month := date[:7]
		j, ok := months[month]
		if !ok {
			j = len(summary.MonthlyTrend)
			months[month] = j
			summary.MonthlyTrend = append(summary.MonthlyTrend, schema.MonthlyTotal{Month: month, Total: decimal.Zero})
		}
		summary.MonthlyTrend[j].Total = summary.MonthlyTrend[j].Total.Add(amount)
		summary.MonthlyTrend[j].Count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}

	if summary.TotalCount > 0 {
		summary.AverageAmount = summary.TotalAmount.Div(decimal.NewFromInt(int64(summary.TotalCount))).Round(2)
	}
	sortCategoryTotals(summary.CategoryBreakdown)

	return summary, nil
}

// sortCategoryTotals orders by total descending, then category name.
func sortCategoryTotals(totals []schema.CategoryTotal) {
	slices.SortStableFunc(totals, func(a, b schema.CategoryTotal) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return strings.Compare(a.Category, b.Category)
	})
}

// ExpensesUpdatedSince returns the user's expenses with updated_at strictly
// after since, newest first.
func (q queries) ExpensesUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*schema.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses
	WHERE user_id = ? AND updated_at > ?
	ORDER BY updated_at DESC, id ASC`

	rows, err := q.query(ctx, query, userID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query updated expenses: %w", err)
	}
	defer rows.Close()

	return scanExpenses(rows)
}

// CountPendingExpenses counts the user's expenses never confirmed by a sync.
func (q queries) CountPendingExpenses(ctx context.Context, userID string) (int, error) {
	var count int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM expenses WHERE user_id = ? AND synced_at IS NULL`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending expenses: %w", err)
	}
	return count, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanExpense reads one expense in expenseColumns order. sql.ErrNoRows is
// returned unwrapped.
func scanExpense(row rowScanner) (*schema.Expense, error) {
	var (
		e                     schema.Expense
		amount, date          string
		createdAt, updatedAt  string
		description, syncedAt sql.NullString
	)

	err := row.Scan(
		&e.ID,
		&e.Title,
		&amount,
		&e.Category,
		&e.Currency,
		&date,
		&description,
		&e.UserID,
		&syncedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	if e.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.SyncedAt, err = nullStringToTime(syncedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		d := description.String
		e.Description = &d
	}

	return &e, nil
}

// scanExpenses is a helper function to scan multiple expenses from query results.
func scanExpenses(rows *sql.Rows) ([]*schema.Expense, error) {
	expenses := []*schema.Expense{}

	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}

	return expenses, nil
}
