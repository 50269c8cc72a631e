package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StatusCompleted is the conventional status for a settled expense. The status
// set is open: any non-blank label is accepted.
const StatusCompleted = "Completed"

type (
	// User is an identified person. Users are created out-of-band and are
	// never written by this module.
	User struct {
		FirstName string
		LastName  string
		UserID    string
	}

	// Expense is a persisted ledger row.
	Expense struct {
		ID           int64
		UserID       string
		Merchant     string
		PurchaseDate time.Time
		Amount       string // decimal text, scale preserved
		Currency     string
		Category     string
		Status       string
		ImageURL     *string
		Comment      *string
		CreatedAt    time.Time
	}

	// NewExpense is the caller-supplied input for a ledger insert.
	NewExpense struct {
		UserID       string
		Merchant     string
		PurchaseDate time.Time
		Amount       string
		Currency     string
		Category     string
		Status       string
		ImageURL     *string
		Comment      *string
	}
)

// Validate checks every required field and the amount before any remote call.
func (e NewExpense) Validate() error {
	required := []struct {
		field, value string
	}{
		{"user_id", e.UserID},
		{"merchant", e.Merchant},
		{"amount", e.Amount},
		{"currency", e.Currency},
		{"category", e.Category},
		{"status", e.Status},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: r.field, Reason: "is required"}
		}
	}
	if e.PurchaseDate.IsZero() {
		return &ValidationError{Field: "purchase_date", Reason: "is required"}
	}
	amount, err := ParseAmount(e.Amount)
	if err != nil {
		return &ValidationError{Field: "amount", Reason: "must be a decimal number"}
	}
	if amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if e.ImageURL != nil && strings.TrimSpace(*e.ImageURL) == "" {
		return &ValidationError{Field: "image_url", Reason: "must not be blank when set"}
	}
	return nil
}

// Normalize trims text fields and moves the purchase date to UTC.
// Call after Validate.
func (e NewExpense) Normalize() NewExpense {
	e.UserID = strings.TrimSpace(e.UserID)
	e.Merchant = strings.TrimSpace(e.Merchant)
	e.Amount = strings.TrimSpace(e.Amount)
	e.Currency = strings.TrimSpace(e.Currency)
	e.Category = strings.TrimSpace(e.Category)
	e.Status = strings.TrimSpace(e.Status)
	e.PurchaseDate = e.PurchaseDate.UTC()
	if e.Comment != nil {
		c := strings.TrimSpace(*e.Comment)
		if c == "" {
			e.Comment = nil
		} else {
			e.Comment = &c
		}
	}
	return e
}

// AmountValue returns the parsed amount, or zero when the stored text does
// not parse.
func (e Expense) AmountValue() decimal.Decimal {
	d, err := ParseAmount(e.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}
