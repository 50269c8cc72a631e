package core

import (
	"errors"
	"fmt"
)

// MsgUserNotFound is the user-facing message for an identity lookup miss.
const MsgUserNotFound = "User not found"

// ValidationError is a local precondition failure. It never reaches the
// remote tier.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// RemoteQueryError is a store or network failure. Code keeps the backend
// status (HTTP status, SQLite result code, AMQP reply code) when known.
type RemoteQueryError struct {
	Op   string
	Code string
	Err  error
}

func (e *RemoteQueryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: remote error (code %s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: remote error: %v", e.Op, e.Err)
}

func (e *RemoteQueryError) Unwrap() error { return e.Err }

// UploadRejectedError means the object store refused an otherwise locally
// valid upload.
type UploadRejectedError struct {
	Key    string
	Code   string
	Reason string
}

func (e *UploadRejectedError) Error() string {
	return fmt.Sprintf("upload of %q rejected (code %s): %s", e.Key, e.Code, e.Reason)
}

// NotFoundError is a point-lookup miss.
type NotFoundError struct {
	Resource string
	Message  string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Resource + " not found"
}

// ErrUserNotFound returns the identity lookup miss error.
func ErrUserNotFound() error {
	return &NotFoundError{Resource: "user", Message: MsgUserNotFound}
}

// Remote wraps err as a RemoteQueryError unless it already carries a
// taxonomy type.
func Remote(op, code string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsRemote(err) || IsUploadRejected(err) || IsNotFound(err) {
		return err
	}
	return &RemoteQueryError{Op: op, Code: code, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsRemote(err error) bool {
	var r *RemoteQueryError
	return errors.As(err, &r)
}

func IsUploadRejected(err error) bool {
	var u *UploadRejectedError
	return errors.As(err, &u)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}
