package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine readable error code returned to callers
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeForbidden           Code = "FORBIDDEN"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeInsufficientStock   Code = "INSUFFICIENT_STOCK"
	CodeOutOfStock          Code = "OUT_OF_STOCK"
	CodeAlreadyLinkedActive Code = "ALREADY_LINKED_ACTIVE"
	CodeAlreadyRequested    Code = "ALREADY_REQUESTED"
	CodeLinkNotFound        Code = "LINK_NOT_FOUND"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)

// Error is an application error carrying a stable code and a human readable message
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code, so sentinels match any
// error built with that code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with a formatted message
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with a formatted message around a cause
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Sentinels for errors.Is checks
var (
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "Resource not found"}
	ErrForbidden           = &Error{Code: CodeForbidden, Message: "Access to this resource is forbidden"}
	ErrInvalidState        = &Error{Code: CodeInvalidState, Message: "Operation not allowed in current state"}
	ErrInvalidInput        = &Error{Code: CodeInvalidInput, Message: "Invalid input provided"}
	ErrInsufficientStock   = &Error{Code: CodeInsufficientStock, Message: "Insufficient stock available"}
	ErrOutOfStock          = &Error{Code: CodeOutOfStock, Message: "Product is out of stock"}
	ErrAlreadyLinkedActive = &Error{Code: CodeAlreadyLinkedActive, Message: "Salesperson already linked to a distributor"}
	ErrAlreadyRequested    = &Error{Code: CodeAlreadyRequested, Message: "Link already requested"}
	ErrLinkNotFound        = &Error{Code: CodeLinkNotFound, Message: "Link not found"}
	ErrStoreUnavailable    = &Error{Code: CodeStoreUnavailable, Message: "Store unavailable"}
)

// CodeOf extracts the code of err, or CodeInternal for foreign errors
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the human readable message of err
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps an error to its HTTP status class
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound, CodeLinkNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeInvalidState, CodeInsufficientStock, CodeOutOfStock, CodeAlreadyLinkedActive, CodeAlreadyRequested:
		return http.StatusConflict
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
