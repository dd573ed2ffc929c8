package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Is reports whether err is an AppError carrying the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Wallet & Balance (WAL) ----

func ErrInsufficientBalance(balanceMsat, amountMsat int64) *AppError {
	return New("WAL_001",
		fmt.Sprintf("Insufficient balance: %d msat — tried to send %d msat", balanceMsat, amountMsat),
		http.StatusPaymentRequired)
}

// ErrInsufficientBalanceWithReserve is the external-send variant, which keeps
// a fee reserve on top of the amount.
func ErrInsufficientBalanceWithReserve(balanceMsat, amountMsat, feeReserveMsat int64) *AppError {
	return New("WAL_001",
		fmt.Sprintf("Insufficient balance: %d msat — tried to send %d msat and need to keep a fee reserve of %d msat",
			balanceMsat, amountMsat, feeReserveMsat),
		http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New("WAL_002", "Amount should be a non-negative value", http.StatusBadRequest)
}

func ErrAmountRequired() *AppError {
	return New("WAL_003", "Amount must be defined for a zero-amount payment request", http.StatusBadRequest)
}

func ErrWalletHasBalance() *AppError {
	return New("WAL_004", "This wallet still has a balance", http.StatusConflict)
}

func ErrWalletNotFound() *AppError {
	return New("WAL_005", "Wallet not found", http.StatusNotFound)
}

// ---- Payment Request Validation (PRQ) ----

func ErrPaymentRequestExpired(expiresAt string) *AppError {
	return New("PRQ_001", fmt.Sprintf("Payment request already expired at %s", expiresAt), http.StatusBadRequest)
}

func ErrPaymentRequestSettled() *AppError {
	return New("PRQ_002", "Payment request has already been settled", http.StatusConflict)
}

func ErrPaymentRequestPaid() *AppError {
	return New("PRQ_003", "Payment request has already been paid", http.StatusConflict)
}

func ErrMalformedPaymentRequest(err error) *AppError {
	return Wrap("PRQ_004", "Malformed payment request", http.StatusBadRequest, err)
}

func ErrDescriptionHashMismatch() *AppError {
	return New("PRQ_005", "Description hash does not match the provided metadata", http.StatusBadRequest)
}

// ---- Address Resolution (LNA) ----

// ErrAddressResolution wraps an LNURL / Lightning Address resolution failure.
// The destination is kept in the message so callers can render it.
func ErrAddressResolution(destination string, err error) *AppError {
	return Wrap("LNA_001", fmt.Sprintf("Resolving %s failed", destination), http.StatusBadRequest, err)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
