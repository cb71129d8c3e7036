// NWC connection checker
// Parses a Nostr Wallet Connect string and optionally probes the wallet so
// operators can verify a connection before pasting it into the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"nostrpay-server/internal/nwc"
	"nostrpay-server/internal/relay"
)

func main() {
	var (
		connString = flag.String("conn", os.Getenv("NWC_CONNECTION"), "nostr+walletconnect:// connection string (default: NWC_CONNECTION env)")
		invoice    = flag.String("invoice", "", "optional bolt11 invoice to look up")
		pay        = flag.String("pay", "", "optional bolt11 invoice to pay (spends real funds)")
		listTx     = flag.Int("list", 0, "list the N most recent wallet transactions")
		encryption = flag.String("encryption", "nip44", "encryption scheme: nip44 or nip04")
		timeout    = flag.Duration("timeout", 15*time.Second, "per-request timeout")
		parseOnly  = flag.Bool("parse-only", false, "only parse the connection string, no network calls")
	)
	flag.Parse()

	if *connString == "" {
		fmt.Fprintln(os.Stderr, "no connection string: pass -conn or set NWC_CONNECTION")
		os.Exit(2)
	}

	conn, err := nwc.ParseConnectionString(*connString)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wallet pubkey: %s\n", conn.WalletPubKeyHex())
	fmt.Printf("client pubkey: %s\n", conn.ClientPubKeyHex())
	fmt.Printf("relays:        %d\n", len(conn.Relays))
	for _, r := range conn.Relays {
		fmt.Printf("  %s\n", r)
	}
	if conn.Lud16 != "" {
		fmt.Printf("lud16:         %s\n", conn.Lud16)
	}

	if *parseOnly {
		return
	}

	scheme := nwc.EncryptionNip44
	if *encryption == "nip04" {
		scheme = nwc.EncryptionNip04
	}

	pool := relay.NewPool()
	defer pool.Close()
	client := nwc.NewClient(pool, scheme, *timeout)

	ctx := context.Background()

	fmt.Println("\nprobing get_balance...")
	balance, err := client.GetBalance(ctx, conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get_balance failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("balance: %d msat (%d sat)\n", balance.Balance, balance.Balance/1000)

	if *invoice != "" {
		fmt.Println("\nprobing lookup_invoice...")
		status, err := client.LookupInvoice(ctx, conn, *invoice)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lookup_invoice failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("invoice state: %s\n", status.State)
		if !status.SettledAt.IsZero() {
			fmt.Printf("settled at:    %s\n", status.SettledAt.Format(time.RFC3339))
		}
		if status.Preimage != "" {
			fmt.Printf("preimage:      %s\n", status.Preimage)
		}
	}

	if *listTx > 0 {
		fmt.Println("\nprobing list_transactions...")
		result, err := client.ListTransactions(ctx, conn, *listTx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list_transactions failed: %v\n", err)
			os.Exit(1)
		}
		for _, tx := range result.Transactions {
			settled := "pending"
			if tx.SettledAt > 0 {
				settled = time.Unix(tx.SettledAt, 0).Format(time.RFC3339)
			}
			fmt.Printf("  %-9s %12d msat  %s\n", tx.Type, tx.Amount, settled)
		}
	}

	if *pay != "" {
		fmt.Println("\nprobing pay_invoice...")
		result, err := client.PayInvoice(ctx, conn, *pay)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pay_invoice failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("paid, preimage: %s\n", result.Preimage)
		if result.FeesPaid > 0 {
			fmt.Printf("fees:           %d msat\n", result.FeesPaid)
		}
	}
}
