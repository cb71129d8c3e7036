package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nostrpay-server/internal/nwc"
	"nostrpay-server/internal/relay"
	"nostrpay-server/internal/types"
)

// ErrWalletNotConfigured is returned when no NWC connection string has been
// stored yet.
var ErrWalletNotConfigured = errors.New("wallet not configured")

// WalletManager talks to the wallet named by the stored connection string.
// The raw string in the settings store is the only durable state: every call
// re-parses it, so the keypair never outlives the request that needed it and
// a rotated string takes effect on the next call without a restart.
type WalletManager struct {
	settings *SettingsStore
	client   *nwc.Client
}

// NewWalletManager creates a manager using the given relay pool and
// encryption scheme for all wallet traffic.
func NewWalletManager(settings *SettingsStore, pool *relay.Pool, scheme nwc.EncryptionScheme, timeout time.Duration) *WalletManager {
	return &WalletManager{
		settings: settings,
		client:   nwc.NewClient(pool, scheme, timeout),
	}
}

// connection parses the currently stored connection string. Parsing is a few
// EC operations, cheap next to the relay round-trip that follows.
func (m *WalletManager) connection(ctx context.Context) (*nwc.Connection, error) {
	raw, err := m.settings.NWCConnection(ctx)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, ErrWalletNotConfigured
	}
	conn, err := nwc.ParseConnectionString(raw)
	if err != nil {
		return nil, fmt.Errorf("stored wallet connection is invalid: %w", err)
	}
	return conn, nil
}

// SetConnection validates and stores a new connection string. The string is
// stored verbatim; validation only gates acceptance.
func (m *WalletManager) SetConnection(ctx context.Context, raw string) error {
	if _, err := nwc.ParseConnectionString(raw); err != nil {
		return err
	}
	return m.settings.SetNWCConnection(ctx, raw)
}

// LookupInvoice checks an invoice against the configured wallet. Wallets
// that do not implement lookup_invoice are handled by scanning recent
// transactions for the same invoice.
func (m *WalletManager) LookupInvoice(ctx context.Context, invoice string) (types.InvoiceStatus, error) {
	conn, err := m.connection(ctx)
	if err != nil {
		return types.InvoiceStatus{State: types.InvoiceUnknown}, err
	}
	nwcRequestsTotal.Add(1)
	status, err := m.client.LookupInvoice(ctx, conn, invoice)
	if errors.Is(err, nwc.ErrTimeout) {
		nwcTimeoutsTotal.Add(1)
	}
	var walletErr *nwc.WalletError
	if errors.As(err, &walletErr) && walletErr.Code == nwc.CodeNotImplemented {
		status, err = m.lookupViaTransactions(ctx, conn, invoice)
	}
	if status.State == types.InvoiceSettled {
		invoicesSettled.Add(1)
	}
	return status, err
}

// lookupViaTransactions matches an invoice against the wallet's recent
// transaction list. An invoice absent from the list cannot be told apart
// from one the wallet never saw, so the answer stays Unknown.
func (m *WalletManager) lookupViaTransactions(ctx context.Context, conn *nwc.Connection, invoice string) (types.InvoiceStatus, error) {
	nwcRequestsTotal.Add(1)
	result, err := m.client.ListTransactions(ctx, conn, 50)
	if err != nil {
		if errors.Is(err, nwc.ErrTimeout) {
			nwcTimeoutsTotal.Add(1)
		}
		return types.InvoiceStatus{State: types.InvoiceUnknown}, err
	}
	for i := range result.Transactions {
		tx := &result.Transactions[i]
		if tx.Invoice == invoice {
			return nwc.StatusFromTransaction(tx), nil
		}
	}
	return types.InvoiceStatus{State: types.InvoiceUnknown}, nil
}

// MakeInvoice asks the wallet to create a new invoice.
func (m *WalletManager) MakeInvoice(ctx context.Context, amountMsat int64, description string) (*nwc.Transaction, error) {
	conn, err := m.connection(ctx)
	if err != nil {
		return nil, err
	}
	nwcRequestsTotal.Add(1)
	tx, err := m.client.MakeInvoice(ctx, conn, amountMsat, description)
	if errors.Is(err, nwc.ErrTimeout) {
		nwcTimeoutsTotal.Add(1)
	}
	return tx, err
}

// GetBalance probes the wallet. Used by the status endpoint to confirm the
// connection works end to end.
func (m *WalletManager) GetBalance(ctx context.Context) (*nwc.BalanceResult, error) {
	conn, err := m.connection(ctx)
	if err != nil {
		return nil, err
	}
	nwcRequestsTotal.Add(1)
	balance, err := m.client.GetBalance(ctx, conn)
	if errors.Is(err, nwc.ErrTimeout) {
		nwcTimeoutsTotal.Add(1)
	}
	return balance, err
}

// WalletInfo describes the configured wallet without exposing its secret.
type WalletInfo struct {
	Configured   bool   `json:"configured"`
	WalletPubKey string `json:"wallet_pubkey,omitempty"`
	Relays       int    `json:"relays,omitempty"`
	Lud16        string `json:"lud16,omitempty"`
}

// Info reports non-secret details about the stored connection.
func (m *WalletManager) Info(ctx context.Context) (WalletInfo, error) {
	conn, err := m.connection(ctx)
	if errors.Is(err, ErrWalletNotConfigured) {
		return WalletInfo{}, nil
	}
	if err != nil {
		return WalletInfo{}, err
	}
	return WalletInfo{
		Configured:   true,
		WalletPubKey: conn.WalletPubKeyHex(),
		Relays:       len(conn.Relays),
		Lud16:        conn.Lud16,
	}, nil
}
