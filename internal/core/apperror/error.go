// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes following domain-driven design
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Scan pipeline rejections (422)
	CodeUnrecognizedBarcode = "UNRECOGNIZED_BARCODE"
	CodeNoProduct           = "NO_PRODUCT_RESOLVED"
	CodeDuplicateSerial     = "DUPLICATE_SERIAL"
	CodeSerialQtyMismatch   = "SERIAL_QTY_MISMATCH"
	CodeAmbiguousBarcode    = "AMBIGUOUS_BARCODE"
	CodeUomIncompatible     = "UOM_INCOMPATIBLE"
	CodeGateRejected        = "GATE_REJECTED"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict = "CONFLICT"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (barcode, models, quantities, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewUnrecognizedBarcode is returned when no resolution stage recognized the scan.
func NewUnrecognizedBarcode(barcode string) *AppError {
	return &AppError{
		Code:       CodeUnrecognizedBarcode,
		Message:    fmt.Sprintf("Barcode %q was not recognized", barcode),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"barcode": barcode},
	}
}

// NewNoProduct is returned when the pipeline could not settle on a product.
// The message depends on whether package scanning is enabled for the operation.
func NewNoProduct(barcode string, multiPackage bool) *AppError {
	msg := "You are expected to scan one or more products."
	if multiPackage {
		msg = "You are expected to scan one or more products or a package available at the picking location."
	}
	return &AppError{
		Code:       CodeNoProduct,
		Message:    msg,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"barcode": barcode},
	}
}

// NewDuplicateSerial rejects a serial number already counted for the product.
func NewDuplicateSerial(product, serial string) *AppError {
	return &AppError{
		Code:       CodeDuplicateSerial,
		Message:    fmt.Sprintf("Serial number %s was already scanned for %s", serial, product),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"product": product, "serial": serial},
	}
}

// NewSerialQtyMismatch rejects a quantity above one alongside a serial number.
func NewSerialQtyMismatch(serial string) *AppError {
	return &AppError{
		Code:       CodeSerialQtyMismatch,
		Message:    "A serial number tracks exactly one unit; the scanned quantity was reset to 1",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"serial": serial},
	}
}

// NewAmbiguousBarcode warns that several models claim the same barcode.
func NewAmbiguousBarcode(barcode string, models []string) *AppError {
	return &AppError{
		Code:       CodeAmbiguousBarcode,
		Message:    fmt.Sprintf("Barcode %q matches records of several kinds", barcode),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"barcode": barcode, "models": models},
	}
}

// NewGateRejected is returned when the configured scan gate refused a barcode.
func NewGateRejected(title, message string) *AppError {
	return &AppError{
		Code:       CodeGateRejected,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"title": title},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeNotFound
	}
	return false
}

// HasCode checks the error chain for a specific application code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
