package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nostrpay-server/internal/types"
)

// Transaction mirrors the NIP-47 transaction object returned by
// lookup_invoice and list_transactions.
type Transaction struct {
	Type            string `json:"type"` // "incoming" or "outgoing"
	Invoice         string `json:"invoice,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Preimage        string `json:"preimage,omitempty"`
	PaymentHash     string `json:"payment_hash,omitempty"`
	Amount          int64  `json:"amount"` // millisatoshis
	FeesPaid        int64  `json:"fees_paid,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
	SettledAt       int64  `json:"settled_at,omitempty"`
}

// PayInvoiceResult is the result of a successful pay_invoice call.
type PayInvoiceResult struct {
	Preimage string `json:"preimage"`
	FeesPaid int64  `json:"fees_paid,omitempty"`
}

// BalanceResult is the result of get_balance.
type BalanceResult struct {
	Balance int64 `json:"balance"` // millisatoshis
}

// ListTransactionsResult is the result of list_transactions.
type ListTransactionsResult struct {
	Transactions []Transaction `json:"transactions"`
}

// LookupInvoice queries the wallet for an invoice and maps the answer onto
// InvoiceStatus. An unreachable or silent wallet yields Unknown, never
// Expired: a network blip must not mark an order as failed.
func (c *Client) LookupInvoice(ctx context.Context, conn *Connection, invoice string) (types.InvoiceStatus, error) {
	resp, err := c.Call(ctx, conn, "lookup_invoice", map[string]interface{}{
		"invoice": invoice,
	})
	if err != nil {
		var walletErr *WalletError
		if errors.As(err, &walletErr) && walletErr.Code == CodeNotFound {
			// Wallets report expired invoices as not found
			return types.InvoiceStatus{State: types.InvoiceExpired}, nil
		}
		return types.InvoiceStatus{State: types.InvoiceUnknown}, err
	}

	var tx Transaction
	if err := json.Unmarshal(resp.Result, &tx); err != nil {
		return types.InvoiceStatus{State: types.InvoiceUnknown}, fmt.Errorf("nwc: parse lookup_invoice result: %w", err)
	}

	return invoiceStatusFromTransaction(&tx, time.Now()), nil
}

// StatusFromTransaction derives InvoiceStatus from a wallet transaction
// object, for callers that obtained one outside lookup_invoice.
func StatusFromTransaction(tx *Transaction) types.InvoiceStatus {
	return invoiceStatusFromTransaction(tx, time.Now())
}

// invoiceStatusFromTransaction derives InvoiceStatus from a wallet
// transaction object.
func invoiceStatusFromTransaction(tx *Transaction, now time.Time) types.InvoiceStatus {
	if tx.SettledAt > 0 {
		return types.InvoiceStatus{
			State:     types.InvoiceSettled,
			SettledAt: time.Unix(tx.SettledAt, 0),
			Preimage:  tx.Preimage,
		}
	}
	if tx.ExpiresAt > 0 && now.Unix() > tx.ExpiresAt {
		return types.InvoiceStatus{State: types.InvoiceExpired}
	}
	return types.InvoiceStatus{State: types.InvoicePending}
}

// PayInvoice asks the wallet to pay a BOLT11 invoice.
func (c *Client) PayInvoice(ctx context.Context, conn *Connection, bolt11 string) (*PayInvoiceResult, error) {
	resp, err := c.Call(ctx, conn, "pay_invoice", map[string]interface{}{
		"invoice": bolt11,
	})
	if err != nil {
		return nil, err
	}

	var result PayInvoiceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("nwc: parse pay_invoice result: %w", err)
	}
	return &result, nil
}

// GetBalance queries the wallet balance. Useful as a connectivity probe.
func (c *Client) GetBalance(ctx context.Context, conn *Connection) (*BalanceResult, error) {
	resp, err := c.Call(ctx, conn, "get_balance", nil)
	if err != nil {
		return nil, err
	}

	var result BalanceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("nwc: parse get_balance result: %w", err)
	}
	return &result, nil
}

// MakeInvoice asks the merchant wallet to create a new invoice. amountMsat
// is in millisatoshis.
func (c *Client) MakeInvoice(ctx context.Context, conn *Connection, amountMsat int64, description string) (*Transaction, error) {
	resp, err := c.Call(ctx, conn, "make_invoice", map[string]interface{}{
		"amount":      amountMsat,
		"description": description,
	})
	if err != nil {
		return nil, err
	}

	var tx Transaction
	if err := json.Unmarshal(resp.Result, &tx); err != nil {
		return nil, fmt.Errorf("nwc: parse make_invoice result: %w", err)
	}
	return &tx, nil
}

// ListTransactions retrieves recent wallet transactions, newest first.
func (c *Client) ListTransactions(ctx context.Context, conn *Connection, limit int) (*ListTransactionsResult, error) {
	params := map[string]interface{}{}
	if limit > 0 {
		params["limit"] = limit
	}
	resp, err := c.Call(ctx, conn, "list_transactions", params)
	if err != nil {
		return nil, err
	}

	var result ListTransactionsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("nwc: parse list_transactions result: %w", err)
	}
	return &result, nil
}
