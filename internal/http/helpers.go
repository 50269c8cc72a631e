package http

import (
	"net/http"
	"strings"
	"time"

	"expensesync/internal/core"
)

// purchaseDateLayouts are tried in order. Values without a zone are UTC.
var purchaseDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parsePurchaseDate accepts RFC 3339, datetime-local and plain dates.
func parsePurchaseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &core.ValidationError{Field: "purchase_date", Reason: "is required"}
	}
	for _, layout := range purchaseDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &core.ValidationError{Field: "purchase_date", Reason: "must be an ISO-8601 date or timestamp"}
}

// sanitizeInput removes control characters (except tab and newlines) and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// pathUserID returns the {userID} path segment.
func pathUserID(r *http.Request) (string, error) {
	id := sanitizeInput(r.PathValue("userID"))
	if id == "" || strings.Contains(id, "/") {
		return "", &core.ValidationError{Field: "user_id", Reason: "is required"}
	}
	return id, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
