package types

import "time"

// InvoiceState enumerates the possible settlement states of a Lightning
// invoice as observed through the merchant wallet.
type InvoiceState int

const (
	// InvoiceUnknown means the wallet could not be reached or did not answer
	// in time. Callers must keep polling; it is never a terminal state.
	InvoiceUnknown InvoiceState = iota
	// InvoicePending means the wallet knows the invoice but no payment has
	// settled yet.
	InvoicePending
	// InvoiceSettled means the payment was received.
	InvoiceSettled
	// InvoiceExpired means the wallet reported the invoice as expired or
	// not found.
	InvoiceExpired
)

func (s InvoiceState) String() string {
	switch s {
	case InvoicePending:
		return "pending"
	case InvoiceSettled:
		return "settled"
	case InvoiceExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// InvoiceStatus is the result of a lookup_invoice round-trip. It is derived
// on every lookup, never stored.
type InvoiceStatus struct {
	State     InvoiceState
	SettledAt time.Time // zero unless State == InvoiceSettled
	Preimage  string    // hex, empty unless State == InvoiceSettled
}
