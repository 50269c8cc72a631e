package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"expensesync/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Test", "1").
		Body(map[string]int{"id": 7}).
		Write(w)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("X-Test"))
	assert.JSONEq(t, `{"id":7}`, w.Body.String())
}

func TestJSONResponseBuilder_NoBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Body(map[string]any{"c": make(chan int)}).Write(w)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMethodNotAllowedError(t *testing.T) {
	w := httptest.NewRecorder()
	MethodNotAllowedError("GET, POST").Write(w)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, POST", w.Header().Get("Allow"))
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"validation", &core.ValidationError{Field: "amount", Reason: "must be a decimal number"}, 400, `"field":"amount"`},
		{"wrapped validation", fmt.Errorf("submit: %w", &core.ValidationError{Field: "merchant", Reason: "is required"}), 400, `"kind":"validation"`},
		{"not found", core.ErrUserNotFound(), 404, `"error":"User not found"`},
		{"upload rejected", &core.UploadRejectedError{Key: "k", Code: "413", Reason: "too big"}, 422, `"code":"413"`},
		{"remote", core.Remote("list", "5", errors.New("locked")), 502, `"kind":"remote"`},
		{"unknown", errors.New("oops"), 500, `"error":"internal error"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			resp, _ := ErrorFor(tt.err)
			resp.Write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}
