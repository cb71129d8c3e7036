package main

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// HTTP metrics
var (
	httpRequestsTotal atomic.Int64
	httpErrorsTotal   atomic.Int64
)

// Login metrics
var (
	challengesIssuedTotal atomic.Int64
	loginSuccessTotal     atomic.Int64
	loginRejectedTotal    atomic.Int64
	accountsCreatedTotal  atomic.Int64
)

// Wallet metrics
var (
	nwcRequestsTotal atomic.Int64
	nwcTimeoutsTotal atomic.Int64
	invoicesSettled  atomic.Int64
)

var serverStartTime = time.Now()

// metricsHandler serves Prometheus-compatible metrics
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP nostrpay_build_info Build and configuration information\n")
	fmt.Fprintf(w, "# TYPE nostrpay_build_info gauge\n")
	fmt.Fprintf(w, "nostrpay_build_info{go_version=%q} 1\n\n", runtime.Version())

	fmt.Fprintf(w, "# HELP process_start_time_seconds Unix timestamp of process start\n")
	fmt.Fprintf(w, "# TYPE process_start_time_seconds gauge\n")
	fmt.Fprintf(w, "process_start_time_seconds %d\n\n", serverStartTime.Unix())

	fmt.Fprintf(w, "# HELP process_uptime_seconds Time since process started\n")
	fmt.Fprintf(w, "# TYPE process_uptime_seconds gauge\n")
	fmt.Fprintf(w, "process_uptime_seconds %.0f\n\n", time.Since(serverStartTime).Seconds())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	fmt.Fprintf(w, "# HELP go_goroutines Number of active goroutines\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Currently allocated memory in bytes\n")
	fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n\n", memStats.Alloc)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", httpRequestsTotal.Load())

	fmt.Fprintf(w, "# HELP http_errors_total Total number of HTTP 5xx errors\n")
	fmt.Fprintf(w, "# TYPE http_errors_total counter\n")
	fmt.Fprintf(w, "http_errors_total %d\n\n", httpErrorsTotal.Load())

	fmt.Fprintf(w, "# HELP login_challenges_issued_total Login challenges issued\n")
	fmt.Fprintf(w, "# TYPE login_challenges_issued_total counter\n")
	fmt.Fprintf(w, "login_challenges_issued_total %d\n\n", challengesIssuedTotal.Load())

	fmt.Fprintf(w, "# HELP login_success_total Successful pubkey logins\n")
	fmt.Fprintf(w, "# TYPE login_success_total counter\n")
	fmt.Fprintf(w, "login_success_total %d\n\n", loginSuccessTotal.Load())

	fmt.Fprintf(w, "# HELP login_rejected_total Rejected login attempts\n")
	fmt.Fprintf(w, "# TYPE login_rejected_total counter\n")
	fmt.Fprintf(w, "login_rejected_total %d\n\n", loginRejectedTotal.Load())

	fmt.Fprintf(w, "# HELP accounts_created_total Accounts created on first login\n")
	fmt.Fprintf(w, "# TYPE accounts_created_total counter\n")
	fmt.Fprintf(w, "accounts_created_total %d\n\n", accountsCreatedTotal.Load())

	fmt.Fprintf(w, "# HELP nwc_requests_total Wallet requests sent over NWC\n")
	fmt.Fprintf(w, "# TYPE nwc_requests_total counter\n")
	fmt.Fprintf(w, "nwc_requests_total %d\n\n", nwcRequestsTotal.Load())

	fmt.Fprintf(w, "# HELP nwc_timeouts_total Wallet requests that timed out\n")
	fmt.Fprintf(w, "# TYPE nwc_timeouts_total counter\n")
	fmt.Fprintf(w, "nwc_timeouts_total %d\n\n", nwcTimeoutsTotal.Load())

	fmt.Fprintf(w, "# HELP invoices_settled_total Invoice lookups that reported settled\n")
	fmt.Fprintf(w, "# TYPE invoices_settled_total counter\n")
	fmt.Fprintf(w, "invoices_settled_total %d\n", invoicesSettled.Load())
}
