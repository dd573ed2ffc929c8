package apperror

import (
	"errors"
	"fmt"
)

// Backend error codes as reported by the Lightning node backend API.
// Only the *-not-found codes mean the remote object is gone for good;
// everything else is treated as transient.
const (
	BackendCodeInvoiceNotFound = "invoice-not-found"
	BackendCodePaymentNotFound = "payment-not-found"
	BackendCodeNoRoute         = "could-not-find-route"
	BackendCodeGeneric         = "generic-error"
)

// BackendError is a typed error returned by the Lightning backend client.
type BackendError struct {
	BackendCode string
	Message     string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error [%s]: %s", e.BackendCode, e.Message)
}

// NewBackendError creates a BackendError with the given code and message.
func NewBackendError(code, message string) *BackendError {
	return &BackendError{BackendCode: code, Message: message}
}

// IsBackendCode reports whether err is a BackendError with one of the given codes.
func IsBackendCode(err error, codes ...string) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	for _, code := range codes {
		if be.BackendCode == code {
			return true
		}
	}
	return false
}
