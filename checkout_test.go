package main

import (
	"strings"
	"testing"
)

func TestRenderPaymentNotesMarkdown(t *testing.T) {
	html, err := renderPaymentNotes("**bold** and [a link](https://example.com)")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(string(html), "<strong>bold</strong>") {
		t.Errorf("markdown not rendered: %s", html)
	}
	if !strings.Contains(string(html), `href="https://example.com"`) {
		t.Errorf("link not rendered: %s", html)
	}
}

func TestRenderPaymentNotesSanitized(t *testing.T) {
	html, err := renderPaymentNotes("hello <script>alert(1)</script> <img src=x onerror=alert(2)>")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if strings.Contains(string(html), "<script") {
		t.Errorf("script tag survived sanitization: %s", html)
	}
	if strings.Contains(string(html), "onerror") {
		t.Errorf("event handler survived sanitization: %s", html)
	}
}

func TestRenderPaymentNotesEmpty(t *testing.T) {
	for _, notes := range []string{"", "   ", "\n\t"} {
		html, err := renderPaymentNotes(notes)
		if err != nil {
			t.Fatalf("render failed: %v", err)
		}
		if html != "" {
			t.Errorf("blank notes rendered as %q", html)
		}
	}
}

func TestInvoiceQRDataURL(t *testing.T) {
	url, err := invoiceQRDataURL("lnbc210n1pjk7g3upp5example")
	if err != nil {
		t.Fatalf("QR encoding failed: %v", err)
	}
	if !strings.HasPrefix(string(url), "data:image/png;base64,") {
		t.Errorf("unexpected data URL prefix: %.40s", url)
	}
}

func TestTruncatePubKey(t *testing.T) {
	long := "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	if got := truncatePubKey(long); got != "79be667ef9dcbbac" {
		t.Errorf("truncatePubKey = %q", got)
	}
	if got := truncatePubKey("short"); got != "short" {
		t.Errorf("short pubkey altered: %q", got)
	}
}
