package nwc

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when no wallet response arrives within the call
// window. Distinct from WalletError: a timeout says nothing about the
// payment, so callers must treat it as "still unknown", never as failed.
var ErrTimeout = errors.New("nwc: request timed out")

// WalletError is a protocol-level error object returned by the wallet.
// Terminal for the call; this client never retries it.
type WalletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WalletError) Error() string {
	return fmt.Sprintf("nwc: wallet rejected request: %s: %s", e.Code, e.Message)
}

// Standard error codes from NIP-47
const (
	CodeRateLimited         = "RATE_LIMITED"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeRestricted          = "RESTRICTED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL"
	CodeOther               = "OTHER"
	CodePaymentFailed       = "PAYMENT_FAILED"
	CodeNotFound            = "NOT_FOUND"
)
