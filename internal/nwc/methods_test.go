package nwc

import (
	"testing"
	"time"

	"nostrpay-server/internal/types"
)

func TestInvoiceStatusFromTransaction(t *testing.T) {
	now := time.Unix(1700000000, 0)

	cases := []struct {
		name string
		tx   Transaction
		want types.InvoiceState
	}{
		{
			"settled",
			Transaction{SettledAt: now.Unix() - 10, Preimage: "aabb"},
			types.InvoiceSettled,
		},
		{
			"settled wins over expired",
			Transaction{SettledAt: now.Unix() - 600, ExpiresAt: now.Unix() - 300},
			types.InvoiceSettled,
		},
		{
			"expired",
			Transaction{ExpiresAt: now.Unix() - 1},
			types.InvoiceExpired,
		},
		{
			"not yet expired",
			Transaction{ExpiresAt: now.Unix() + 600},
			types.InvoicePending,
		},
		{
			"no expiry, unsettled",
			Transaction{},
			types.InvoicePending,
		},
	}

	for _, tc := range cases {
		status := invoiceStatusFromTransaction(&tc.tx, now)
		if status.State != tc.want {
			t.Errorf("%s: state = %s, want %s", tc.name, status.State, tc.want)
		}
	}
}

func TestInvoiceStatusSettledFields(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tx := Transaction{SettledAt: 1699999000, Preimage: "deadbeef"}

	status := invoiceStatusFromTransaction(&tx, now)
	if status.SettledAt.Unix() != 1699999000 {
		t.Errorf("settled_at = %d", status.SettledAt.Unix())
	}
	if status.Preimage != "deadbeef" {
		t.Errorf("preimage = %s", status.Preimage)
	}
}

func TestWalletErrorFormat(t *testing.T) {
	err := &WalletError{Code: CodeNotFound, Message: "invoice not found"}
	if err.Error() == "" {
		t.Error("WalletError.Error() is empty")
	}
}
