// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// the identity body (JSON or form) and the multipart expense and comment
// forms with their optional image part.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"expensesync/internal/assets"
	"expensesync/internal/core"
)

// maxFormMemory is how much of a multipart form is kept in memory; the rest
// spills to temporary files.
const maxFormMemory = 1 << 20

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = io.ReadAll(r.Body)
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	// Try JSON first if content looks like JSON
	if p.body[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// identityRequest is the identification triple.
type identityRequest struct {
	FirstName string
	LastName  string
	UserID    string
}

// parseIdentity reads firstName, lastName and userId from a JSON or form
// body. All three are required.
func parseIdentity(r *http.Request) (identityRequest, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return identityRequest{}, &core.ValidationError{Reason: "malformed request body"}
	}
	id := identityRequest{
		FirstName: p.Get("firstName"),
		LastName:  p.Get("lastName"),
		UserID:    p.Get("userId"),
	}
	for _, f := range []struct{ name, value string }{
		{"firstName", id.FirstName},
		{"lastName", id.LastName},
		{"userId", id.UserID},
	} {
		if f.value == "" {
			return identityRequest{}, &core.ValidationError{Field: f.name, Reason: "is required"}
		}
	}
	return id, nil
}

// multipartForm wraps a parsed form and closes its files.
type multipartForm struct {
	r     *http.Request
	files []multipart.File
}

func parseMultipart(r *http.Request) (*multipartForm, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &core.ValidationError{Field: "image", Reason: fmt.Sprintf("request exceeds %d bytes", tooLarge.Limit)}
		}
		return nil, &core.ValidationError{Reason: "expected a multipart form"}
	}
	return &multipartForm{r: r}, nil
}

func (f *multipartForm) value(name string) string {
	return sanitizeInput(f.r.FormValue(name))
}

// image returns the optional image part, or nil when none was sent.
func (f *multipartForm) image() (*assets.File, error) {
	file, header, err := f.r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, &core.ValidationError{Field: "image", Reason: "could not be read"}
	}
	f.files = append(f.files, file)
	return &assets.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, nil
}

func (f *multipartForm) Close() {
	for _, file := range f.files {
		_ = file.Close()
	}
	if f.r.MultipartForm != nil {
		_ = f.r.MultipartForm.RemoveAll()
	}
}

// expenseForm reads the expense fields. Validation of their content is left
// to core.NewExpense.Validate except for the date, which must parse here.
func (f *multipartForm) expense(userID string) (core.NewExpense, error) {
	date, err := parsePurchaseDate(f.value("purchase_date"))
	if err != nil {
		return core.NewExpense{}, err
	}
	return core.NewExpense{
		UserID:       userID,
		Merchant:     f.value("merchant"),
		PurchaseDate: date,
		Amount:       f.value("amount"),
		Currency:     strings.ToUpper(f.value("currency")),
		Category:     f.value("category"),
		Status:       f.value("status"),
		Comment:      optional(f.value("comment")),
	}, nil
}
