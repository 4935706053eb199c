package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OperationKind names the change a client asks for.
type OperationKind string

const (
	OpCreate OperationKind = "CREATE"
	OpUpdate OperationKind = "UPDATE"
	OpDelete OperationKind = "DELETE"
)

const (
	// EntityTypeExpense tags ledger entries written for expense records.
	EntityTypeExpense = "EXPENSE"

	// UnknownEntityID is logged when an operation carries neither a server id
	// nor a client-local id.
	UnknownEntityID = "unknown"
)

// IsValid reports whether k is one of the three known kinds.
func (k OperationKind) IsValid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// SyncOperation is one change submitted by an offline client.
//
// ID is the server id and is required for UPDATE and DELETE. LocalID is the
// client's own identifier for records it created offline; it is echoed back in
// the result so the client can match the server id to its local row.
type SyncOperation struct {
	ID          string          `json:"id,omitempty"`
	Title       string          `json:"title"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Currency    string          `json:"currency,omitempty"`
	Date        string          `json:"date,omitempty"`
	Description *string         `json:"description,omitempty"`
	Operation   OperationKind   `json:"operation"`
	LocalID     string          `json:"localId,omitempty"`
}

// EntityID returns the identifier a ledger entry should reference: the server
// id, else the client-local id, else UnknownEntityID.
func (o SyncOperation) EntityID() string {
	if o.ID != "" {
		return o.ID
	}
	if o.LocalID != "" {
		return o.LocalID
	}
	return UnknownEntityID
}

// Op is the resolved form of a SyncOperation. The set of implementations is
// closed: CreateOp, UpdateOp and DeleteOp.
type Op interface {
	Kind() OperationKind
	op()
}

// ExpenseFields carries the mutable fields of an expense.
//
// A nil Date or Description and an empty Currency mean "not supplied".
type ExpenseFields struct {
	Title       string
	Amount      decimal.Decimal
	Category    string
	Currency    string
	Date        *time.Time
	Description *string
}

// Validate checks the fields a client must always supply.
func (f ExpenseFields) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return invalid("title", "title is required")
	}
	if len(f.Title) > MaxTitleLength {
		return invalid("title", fmt.Sprintf("title must be %d characters or less (got %d)", MaxTitleLength, len(f.Title)))
	}
	if f.Amount.IsNegative() {
		return invalid("amount", fmt.Sprintf("amount must not be negative (got %s)", f.Amount))
	}
	if strings.TrimSpace(f.Category) == "" {
		return invalid("category", "category is required")
	}
	return nil
}

// Normalize trims the title and category and upper-cases the currency code.
// Every write path applies it before Validate.
func (f ExpenseFields) Normalize() ExpenseFields {
	f.Title = strings.TrimSpace(f.Title)
	f.Category = strings.TrimSpace(f.Category)
	f.Currency = NormalizeCurrency(f.Currency)
	return f
}

// NormalizeCurrency trims and upper-cases an ISO currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewExpense builds a record owned by userID from the fields. Date and
// currency defaults are applied against now.
func (f ExpenseFields) NewExpense(id, userID string, now time.Time) *Expense {
	e := &Expense{
		ID:          id,
		Title:       f.Title,
		Amount:      f.Amount,
		Category:    f.Category,
		Currency:    f.Currency,
		Description: f.Description,
		UserID:      userID,
	}
	if f.Date != nil {
		e.Date = *f.Date
	}
	e.SetDefaults(now)
	return e
}

// CreateOp inserts a new record owned by the caller.
type CreateOp struct {
	Fields ExpenseFields
}

// UpdateOp overwrites the mutable fields of an owned record.
type UpdateOp struct {
	ID     string
	Fields ExpenseFields
}

// DeleteOp removes an owned record.
type DeleteOp struct {
	ID string
}

func (CreateOp) Kind() OperationKind { return OpCreate }
func (UpdateOp) Kind() OperationKind { return OpUpdate }
func (DeleteOp) Kind() OperationKind { return OpDelete }

func (CreateOp) op() {}
func (UpdateOp) op() {}
func (DeleteOp) op() {}

// Resolve turns the wire form into its tagged variant.
//
// UPDATE and DELETE need a server id; without one, and for any other kind,
// the operation resolves to a CreateOp. Field errors match ErrInvalid.
func (o SyncOperation) Resolve() (Op, error) {
	switch {
	case o.Operation == OpDelete && o.ID != "":
		return DeleteOp{ID: o.ID}, nil

	case o.Operation == OpUpdate && o.ID != "":
		fields, err := o.fields()
		if err != nil {
			return nil, err
		}
		return UpdateOp{ID: o.ID, Fields: fields}, nil

	default:
		fields, err := o.fields()
		if err != nil {
			return nil, err
		}
		return CreateOp{Fields: fields}, nil
	}
}

func (o SyncOperation) fields() (ExpenseFields, error) {
	f := ExpenseFields{
		Title:       o.Title,
		Amount:      o.Amount,
		Category:    o.Category,
		Currency:    o.Currency,
		Description: o.Description,
	}.Normalize()
	if o.Date != "" {
		d, err := ParseDate(o.Date)
		if err != nil {
			return ExpenseFields{}, err
		}
		f.Date = &d
	}
	if err := f.Validate(); err != nil {
		return ExpenseFields{}, err
	}
	return f, nil
}
