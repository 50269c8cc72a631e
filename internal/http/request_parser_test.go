package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"expensesync/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePurchaseDate(t *testing.T) {
	want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-15T10:00:00Z", want},
		{"2024-01-15T11:00:00+01:00", want},
		{"2024-01-15T10:00:00", want},
		{"2024-01-15T10:00", want},
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePurchaseDate(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	for _, bad := range []string{"", "15/01/2024", "yesterday"} {
		_, err := parsePurchaseDate(bad)
		assert.True(t, core.IsValidation(err), "input %q", bad)
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "Coop", sanitizeInput("  Coop\x00 "))
	assert.Equal(t, "a\tb\nc", sanitizeInput("a\tb\nc"))
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantErr     string
	}{
		{"json", `{"firstName":"Ada","lastName":"Lovelace","userId":"u1"}`, "application/json", ""},
		{"form", "firstName=Ada&lastName=Lovelace&userId=u1", "application/x-www-form-urlencoded", ""},
		{"missing user id", `{"firstName":"Ada","lastName":"Lovelace"}`, "application/json", "userId"},
		{"blank name", `{"firstName":"  ","lastName":"Lovelace","userId":"u1"}`, "application/json", "firstName"},
		{"malformed json", `{"firstName":`, "application/json", "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/identify", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)

			id, err := parseIdentity(req)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, core.IsValidation(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, identityRequest{FirstName: "Ada", LastName: "Lovelace", UserID: "u1"}, id)
		})
	}
}

func TestRequestBodyParserNumbers(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userId":42,"flag":true}`))
	p := NewRequestBodyParser(req)
	require.NoError(t, p.Parse())
	assert.True(t, p.IsJSON())
	assert.Equal(t, "42", p.Get("userId"))
	assert.Equal(t, "true", p.Get("flag"))
	assert.Empty(t, p.Get("missing"))
}
