package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"
)

var checkoutTemplate = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.StoreName}} — Pay with Lightning</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 32rem; margin: 2rem auto; padding: 0 1rem; }
.qr { display: block; margin: 1rem auto; }
.invoice { word-break: break-all; font-family: monospace; font-size: 0.8rem; background: #f4f4f4; padding: 0.5rem; border-radius: 4px; }
.amount { font-size: 1.4rem; text-align: center; }
.status { text-align: center; color: #666; }
.notes { border-top: 1px solid #ddd; margin-top: 1.5rem; padding-top: 1rem; }
</style>
</head>
<body>
<h1>{{.StoreName}}</h1>
<p class="amount">{{.AmountSats}} sats{{if .FiatAmount}} ({{.FiatAmount}} {{.Currency}}){{end}}</p>
<img class="qr" src="{{.QRDataURL}}" alt="Invoice QR code" width="256" height="256">
<p class="invoice">{{.Invoice}}</p>
<p class="status" id="status" data-invoice="{{.Invoice}}">Waiting for payment…</p>
{{if .Notes}}<div class="notes">{{.Notes}}</div>{{end}}
<script src="/static/checkout.js"></script>
</body>
</html>
`))

type checkoutPageData struct {
	StoreName  string
	AmountSats int64
	FiatAmount string
	Currency   string
	Invoice    string
	QRDataURL  template.URL
	Notes      template.HTML
}

var notesSanitizer = bluemonday.UGCPolicy()

// renderPaymentNotes converts the operator's markdown notes to sanitized
// HTML. Untrusted markup never reaches the page unsanitized.
func renderPaymentNotes(notes string) (template.HTML, error) {
	if strings.TrimSpace(notes) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(notes), &buf); err != nil {
		return "", err
	}
	return template.HTML(notesSanitizer.SanitizeBytes(buf.Bytes())), nil
}

// invoiceQRDataURL encodes an invoice as a PNG QR code data URL. Wallets
// expect the lightning: scheme and uppercase bolt11 for compact QR modes.
func invoiceQRDataURL(invoice string) (template.URL, error) {
	png, err := qrcode.Encode("lightning:"+strings.ToUpper(invoice), qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}

// checkoutHandler creates an invoice for the requested amount and renders
// the payment page with a QR code and the operator's notes.
func checkoutHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var amountMsat int64
	var fiatAmount string
	currency := cfg.Currency

	if msatStr := q.Get("amount_msat"); msatStr != "" {
		parsed, err := strconv.ParseInt(msatStr, 10, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid amount_msat", http.StatusBadRequest)
			return
		}
		amountMsat = parsed
	} else if amountStr := q.Get("amount"); amountStr != "" {
		amount, err := strconv.ParseFloat(amountStr, 64)
		if err != nil || amount <= 0 {
			http.Error(w, "invalid amount", http.StatusBadRequest)
			return
		}
		if c := q.Get("currency"); c != "" {
			currency = strings.ToUpper(c)
		}
		amountMsat, err = rateFetcher.FiatToMsat(r.Context(), amount, currency)
		if err != nil {
			LoggerFromContext(r.Context()).Error("rate conversion failed", "error", err)
			http.Error(w, "exchange rate unavailable", http.StatusServiceUnavailable)
			return
		}
		fiatAmount = amountStr
	} else {
		http.Error(w, "missing amount", http.StatusBadRequest)
		return
	}

	memo := q.Get("memo")
	if memo == "" {
		memo = fmt.Sprintf("%s order", cfg.StoreName)
	}

	tx, err := wallet.MakeInvoice(r.Context(), amountMsat, memo)
	if errors.Is(err, ErrWalletNotConfigured) {
		http.Error(w, "wallet not configured", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		LoggerFromContext(r.Context()).Error("make_invoice failed", "error", err)
		http.Error(w, "wallet error", http.StatusBadGateway)
		return
	}

	qrURL, err := invoiceQRDataURL(tx.Invoice)
	if err != nil {
		LoggerFromContext(r.Context()).Error("qr encoding failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	rawNotes, err := settingsStore.PaymentNotes(r.Context())
	if err != nil {
		LoggerFromContext(r.Context()).Warn("loading payment notes failed", "error", err)
	}
	notes, err := renderPaymentNotes(rawNotes)
	if err != nil {
		LoggerFromContext(r.Context()).Warn("rendering payment notes failed", "error", err)
	}

	data := checkoutPageData{
		StoreName:  cfg.StoreName,
		AmountSats: amountMsat / 1000,
		FiatAmount: fiatAmount,
		Currency:   currency,
		Invoice:    tx.Invoice,
		QRDataURL:  qrURL,
		Notes:      notes,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := checkoutTemplate.Execute(w, data); err != nil {
		LoggerFromContext(r.Context()).Error("rendering checkout failed", "error", err)
	}
}
