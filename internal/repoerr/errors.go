// Package repoerr defines the error taxonomy shared by every repokit layer.
//
// Storage errors are never wrapped in an Error; they propagate unmodified so
// callers can inspect driver errors directly.
package repoerr

import (
	"errors"
	"fmt"
)

// Error represents a caller-visible repository failure.
//
// Errors include:
//   - NotFound: no record matched an id
//   - AlreadyDeleted: soft delete of a soft-deleted record
//   - FilterFieldNotAllowed / IncludeNotAllowed: whitelist violations
//   - InvalidIdentifierFormat: id malformed for the backend
//   - InvalidFilterValue: encoded value empty or undefined
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Field names the offending field, relation or id when there is one.
	Field string
}

// Code categorizes repository errors.
type Code string

const (
	// CodeNotFound indicates no record matched the id.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAlreadyDeleted indicates a soft delete of a soft-deleted record.
	CodeAlreadyDeleted Code = "ALREADY_DELETED"

	// CodeFilterFieldNotAllowed indicates an external where key outside the whitelist.
	CodeFilterFieldNotAllowed Code = "FILTER_FIELD_NOT_ALLOWED"

	// CodeIncludeNotAllowed indicates an external include outside the whitelist.
	CodeIncludeNotAllowed Code = "INCLUDE_NOT_ALLOWED"

	// CodeInvalidIdentifierFormat indicates an id the backend cannot address.
	CodeInvalidIdentifierFormat Code = "INVALID_IDENTIFIER_FORMAT"

	// CodeInvalidFilterValue indicates an empty or undefined encoded value.
	CodeInvalidFilterValue Code = "INVALID_FILTER_VALUE"

	// CodeInvalidOrderDirection indicates an orderBy direction other than asc/desc.
	CodeInvalidOrderDirection Code = "INVALID_ORDER_DIRECTION"

	// CodeInvalidFieldName indicates a field or relation name that is not an identifier path.
	CodeInvalidFieldName Code = "INVALID_FIELD_NAME"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrAlreadyDeleted          = &Error{Code: CodeAlreadyDeleted}
	ErrFilterFieldNotAllowed   = &Error{Code: CodeFilterFieldNotAllowed}
	ErrIncludeNotAllowed       = &Error{Code: CodeIncludeNotAllowed}
	ErrInvalidIdentifierFormat = &Error{Code: CodeInvalidIdentifierFormat}
	ErrInvalidFilterValue      = &Error{Code: CodeInvalidFilterValue}
	ErrInvalidOrderDirection   = &Error{Code: CodeInvalidOrderDirection}
	ErrInvalidFieldName        = &Error{Code: CodeInvalidFieldName}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, msg, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func hasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound returns true if the error is a not-found error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsAlreadyDeleted returns true if the error is an already-deleted error.
func IsAlreadyDeleted(err error) bool { return hasCode(err, CodeAlreadyDeleted) }

// IsInvalidIdentifier returns true if the error is an invalid-identifier error.
func IsInvalidIdentifier(err error) bool { return hasCode(err, CodeInvalidIdentifierFormat) }

// IsInvalidFilterValue returns true if the error is an invalid-filter-value error.
func IsInvalidFilterValue(err error) bool { return hasCode(err, CodeInvalidFilterValue) }

// IsWhitelistViolation returns true for both whitelist error kinds.
func IsWhitelistViolation(err error) bool {
	return hasCode(err, CodeFilterFieldNotAllowed) || hasCode(err, CodeIncludeNotAllowed)
}

// IsCallerError returns true for every code caused by the request itself
// rather than by missing data.
func IsCallerError(err error) bool {
	switch CodeOf(err) {
	case CodeFilterFieldNotAllowed, CodeIncludeNotAllowed, CodeInvalidIdentifierFormat,
		CodeInvalidFilterValue, CodeInvalidOrderDirection, CodeInvalidFieldName:
		return true
	}
	return false
}

// NotFound creates an Error for a missing record. resource may be empty.
func NotFound(resource, id string) *Error {
	msg := "record not found"
	if resource != "" {
		msg = resource + " not found"
	}
	return &Error{Code: CodeNotFound, Message: msg, Field: id}
}

// AlreadyDeleted creates an Error for a repeated soft delete.
func AlreadyDeleted(id string) *Error {
	return &Error{Code: CodeAlreadyDeleted, Message: "record is already deleted", Field: id}
}

// FilterFieldNotAllowed creates an Error for a where key outside the whitelist.
func FilterFieldNotAllowed(field string) *Error {
	return &Error{
		Code:    CodeFilterFieldNotAllowed,
		Message: fmt.Sprintf("filtering by %q is not allowed", field),
		Field:   field,
	}
}

// IncludeNotAllowed creates an Error for a relation outside the whitelist.
func IncludeNotAllowed(relation string) *Error {
	return &Error{
		Code:    CodeIncludeNotAllowed,
		Message: fmt.Sprintf("including %q is not allowed", relation),
		Field:   relation,
	}
}

// InvalidIdentifierFormat creates an Error for a malformed id.
func InvalidIdentifierFormat(id, reason string) *Error {
	return &Error{
		Code:    CodeInvalidIdentifierFormat,
		Message: fmt.Sprintf("invalid identifier %q: %s", id, reason),
		Field:   id,
	}
}

// InvalidFilterValue creates an Error for an unusable encoded value.
func InvalidFilterValue(field, reason string) *Error {
	return &Error{
		Code:    CodeInvalidFilterValue,
		Message: reason,
		Field:   field,
	}
}

// InvalidOrderDirection creates an Error for an unknown sort direction.
func InvalidOrderDirection(field, direction string) *Error {
	return &Error{
		Code:    CodeInvalidOrderDirection,
		Message: fmt.Sprintf("direction %q must be asc or desc", direction),
		Field:   field,
	}
}

// InvalidFieldName creates an Error for a name that is not an identifier path.
func InvalidFieldName(name string) *Error {
	return &Error{
		Code:    CodeInvalidFieldName,
		Message: fmt.Sprintf("%q is not a valid field name", name),
		Field:   name,
	}
}
