// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for JSON responses and the
// mapping from the error taxonomy to status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"expensesync/internal/core"
	"expensesync/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	data, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(data)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
	Code  string `json:"code,omitempty"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// MethodNotAllowedError creates a 405 Method Not Allowed error response.
func MethodNotAllowedError(allowedMethods string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").
		Header("Allow", allowedMethods)
}

// ErrorFor maps err onto a response: validation 400, not found 404, upload
// rejected 422, remote 502, anything else 500. The error type for logging
// is returned alongside.
func ErrorFor(err error) (*JSONResponseBuilder, string) {
	var (
		validation *core.ValidationError
		notFound   *core.NotFoundError
		rejected   *core.UploadRejectedError
		remote     *core.RemoteQueryError
	)
	switch {
	case errors.As(err, &validation):
		return NewJSONResponse().Status(http.StatusBadRequest).Body(errorBody{
			Error: validation.Error(), Kind: "validation", Field: validation.Field,
		}), log.ErrorTypeValidation
	case errors.As(err, &notFound):
		return NewJSONResponse().Status(http.StatusNotFound).Body(errorBody{
			Error: notFound.Error(), Kind: "not_found",
		}), log.ErrorTypeNotFound
	case errors.As(err, &rejected):
		return NewJSONResponse().Status(http.StatusUnprocessableEntity).Body(errorBody{
			Error: rejected.Error(), Kind: "upload_rejected", Code: rejected.Code,
		}), log.ErrorTypeUploadRejected
	case errors.As(err, &remote):
		return NewJSONResponse().Status(http.StatusBadGateway).Body(errorBody{
			Error: remote.Error(), Kind: "remote", Code: remote.Code,
		}), log.ErrorTypeRemote
	default:
		return InternalServerError("internal error"), log.ErrorTypeInternal
	}
}
