package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nostrpay-server/internal/auth"
	"nostrpay-server/internal/nwc"
	"nostrpay-server/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sessionFromRequest extracts and verifies the session token from the cookie
// or an Authorization: Bearer header.
func sessionFromRequest(r *http.Request) (*auth.SessionClaims, error) {
	token := ""
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		token = cookie.Value
	}
	if token == "" {
		header := r.Header.Get("Authorization")
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = after
		}
	}
	if token == "" {
		return nil, auth.ErrInvalidSession
	}
	return loginEngine.VerifySession(token)
}

// challengeHandler mints a single-use login nonce.
func challengeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	challenge, err := loginEngine.IssueChallenge(r.Context())
	if err != nil {
		LoggerFromContext(r.Context()).Error("issuing challenge failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	challengesIssuedTotal.Add(1)

	writeJSON(w, http.StatusOK, map[string]any{
		"challenge":  challenge.Nonce,
		"expires_in": int(challenge.TTL.Seconds()),
	})
}

type loginRequest struct {
	Event *types.Event `json:"event"`
	// Optional kind 0 event so clients can decorate the account with
	// display name, about, picture and nip05 in the same round-trip.
	Profile *types.Event `json:"profile"`
}

// loginHandler accepts a signed auth event presenting a challenge.
//
// All rejections return the same generic 401: the reason goes to logs and
// metrics, never to the client, so the endpoint can't be used as an oracle
// for which check failed.
func loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := loginEngine.Login(r.Context(), req.Event)
	if err != nil {
		LoggerFromContext(r.Context()).Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if result.Identity == nil {
		loginRejectedTotal.Add(1)
		LoggerFromContext(r.Context()).Warn("login rejected",
			"reason", result.Reason.String(),
			"pubkey", truncatePubKey(req.Event.PubKey))
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	loginEngine.ApplyProfile(r.Context(), result.Identity, req.Profile)

	loginSuccessTotal.Add(1)
	if result.Created {
		accountsCreatedTotal.Add(1)
	}

	SetSessionCookie(w, r, sessionCookieName, result.Token, int(cfg.SessionTTL.Seconds()))
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      result.Token,
		"account_id": result.Identity.AccountID,
		"pubkey":     result.Identity.PubKey,
		"username":   result.Identity.Username,
		"created":    result.Created,
	})
}

func logoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	DeleteCookie(w, r, sessionCookieName, "/")
	w.WriteHeader(http.StatusNoContent)
}

// meHandler returns the logged-in identity.
func meHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accountID, err := claims.AccountID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"pubkey":     claims.PubKey,
		"username":   claims.Username,
	})
}

// payStatusHandler reports the wallet's view of an invoice. An unreachable
// or slow wallet yields state "unknown", which clients should retry; only a
// wallet that answered reports "expired" or "settled".
func payStatusHandler(w http.ResponseWriter, r *http.Request) {
	invoice := strings.TrimSpace(r.URL.Query().Get("invoice"))
	if invoice == "" {
		writeError(w, http.StatusBadRequest, "missing invoice parameter")
		return
	}

	status, err := wallet.LookupInvoice(r.Context(), invoice)
	if errors.Is(err, ErrWalletNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "wallet not configured")
		return
	}
	if err != nil {
		LoggerFromContext(r.Context()).Warn("invoice lookup failed", "error", err)
	}

	response := map[string]any{
		"state":      status.State.String(),
		"checked_at": time.Now().Unix(),
	}
	if status.State == types.InvoiceSettled {
		response["settled_at"] = status.SettledAt.Unix()
		if status.Preimage != "" {
			response["preimage"] = status.Preimage
		}
	}
	writeJSON(w, http.StatusOK, response)
}

type createInvoiceRequest struct {
	AmountMsat int64   `json:"amount_msat"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Memo       string  `json:"memo"`
}

// createInvoiceHandler asks the wallet for a fresh invoice. The amount is
// given either directly in millisats or as a fiat amount converted at the
// current exchange rate.
func createInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amountMsat := req.AmountMsat
	if amountMsat == 0 && req.Amount > 0 {
		currency := req.Currency
		if currency == "" {
			currency = cfg.Currency
		}
		var err error
		amountMsat, err = rateFetcher.FiatToMsat(r.Context(), req.Amount, currency)
		if err != nil {
			LoggerFromContext(r.Context()).Error("rate conversion failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "exchange rate unavailable")
			return
		}
	}
	if amountMsat <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	tx, err := wallet.MakeInvoice(r.Context(), amountMsat, req.Memo)
	if errors.Is(err, ErrWalletNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "wallet not configured")
		return
	}
	if err != nil {
		LoggerFromContext(r.Context()).Error("make_invoice failed", "error", err)
		writeError(w, http.StatusBadGateway, "wallet error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"invoice":      tx.Invoice,
		"payment_hash": tx.PaymentHash,
		"amount_msat":  tx.Amount,
		"expires_at":   tx.ExpiresAt,
	})
}

// requireAdmin gates a handler on a session whose pubkey is in
// ADMIN_PUBKEYS.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := sessionFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		for _, pk := range cfg.AdminPubKeys {
			if claims.PubKey == pk {
				next(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "forbidden")
	}
}

// adminWalletHandler reads or updates the wallet connection. GET never
// returns the secret, only derived public details.
func adminWalletHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		info, err := wallet.Info(r.Context())
		if err != nil {
			LoggerFromContext(r.Context()).Error("wallet info failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, info)

	case http.MethodPost:
		var req struct {
			Connection string `json:"connection"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := wallet.SetConnection(r.Context(), req.Connection); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// adminWalletProbeHandler checks the connection end to end with a balance
// call.
func adminWalletProbeHandler(w http.ResponseWriter, r *http.Request) {
	balance, err := wallet.GetBalance(r.Context())
	if errors.Is(err, ErrWalletNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "wallet not configured")
		return
	}
	if err != nil {
		var walletErr *nwc.WalletError
		if errors.As(err, &walletErr) {
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error": walletErr.Code,
			})
			return
		}
		writeError(w, http.StatusBadGateway, "wallet unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance_msat": balance.Balance})
}

// adminNotesHandler updates the markdown notes shown on the checkout page.
func adminNotesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := settingsStore.SetPaymentNotes(r.Context(), req.Notes); err != nil {
		LoggerFromContext(r.Context()).Error("saving notes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func truncatePubKey(pubkey string) string {
	if len(pubkey) > 16 {
		return pubkey[:16]
	}
	return pubkey
}
