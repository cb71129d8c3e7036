package main

import (
	"context"
	"fmt"

	"nostrpay-server/internal/cache"
)

// Settings keys. Values persist with no TTL.
const (
	settingNWCConnection = "settings:nwc_connection"
	settingPaymentNotes  = "settings:payment_notes"
)

// SettingsStore persists operator-editable settings in the shared cache
// backend so every instance sees updates without a restart.
//
// The NWC connection string is stored exactly as the operator entered it.
// It is parsed on use, never rewritten, so a value that fails to parse can
// be read back and corrected.
type SettingsStore struct {
	backend cache.Backend
}

// NewSettingsStore wraps a cache backend as a settings store.
func NewSettingsStore(backend cache.Backend) *SettingsStore {
	return &SettingsStore{backend: backend}
}

func (s *SettingsStore) get(ctx context.Context, key string) (string, error) {
	value, found, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	if !found {
		return "", nil
	}
	return string(value), nil
}

func (s *SettingsStore) set(ctx context.Context, key, value string) error {
	if err := s.backend.Set(ctx, key, []byte(value), 0); err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// NWCConnection returns the stored wallet connection string, verbatim.
// Empty string means no wallet is configured.
func (s *SettingsStore) NWCConnection(ctx context.Context) (string, error) {
	return s.get(ctx, settingNWCConnection)
}

// SetNWCConnection stores the wallet connection string verbatim.
func (s *SettingsStore) SetNWCConnection(ctx context.Context, raw string) error {
	return s.set(ctx, settingNWCConnection, raw)
}

// PaymentNotes returns the operator's markdown notes shown on the checkout
// page.
func (s *SettingsStore) PaymentNotes(ctx context.Context) (string, error) {
	return s.get(ctx, settingPaymentNotes)
}

// SetPaymentNotes stores the checkout page notes.
func (s *SettingsStore) SetPaymentNotes(ctx context.Context, notes string) error {
	return s.set(ctx, settingPaymentNotes, notes)
}
