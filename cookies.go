package main

import (
	"net/http"
	"strings"
)

// sessionCookieName carries the signed session token.
const sessionCookieName = "nostrpay_session"

// shouldSecureCookie reports whether the Secure flag should be set, based on
// whether the request arrived over TLS (directly or via a proxy).
func shouldSecureCookie(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// SetCookie sets an HTTP cookie with standard security defaults.
func SetCookie(w http.ResponseWriter, r *http.Request, name, value, path string, maxAge int, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   shouldSecureCookie(r),
		SameSite: sameSite,
	})
}

// SetSessionCookie sets a session cookie with strict security defaults.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	SetCookie(w, r, name, value, "/", maxAge, http.SameSiteStrictMode)
}

// DeleteCookie deletes a cookie by setting MaxAge to -1.
func DeleteCookie(w http.ResponseWriter, r *http.Request, name, path string) {
	SetCookie(w, r, name, "", path, -1, http.SameSiteStrictMode)
}
