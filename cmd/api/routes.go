package main

import (
	"log"
	"net/http"

	httphandlers "finsync/internal/interfaces/http"
	"finsync/internal/shared/config"
	"finsync/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("/health", httphandlers.HandleHealth)
	mux.HandleFunc("/ready", httphandlers.HandleReady(deps.DB))

	customer := func(h http.HandlerFunc) http.Handler {
		return middleware.Customer(h)
	}

	// Link lifecycle
	mux.Handle("/api/link/activate", customer(deps.LinkHandler.HandleActivate))
	mux.Handle("/api/link/deactivate", customer(deps.LinkHandler.HandleDeactivate))
	mux.Handle("/api/link/status", customer(deps.LinkHandler.HandleStatus))

	// Sync triggers
	mux.Handle("/api/sync", customer(deps.SyncHandler.HandleTriggerSync))
	mux.Handle("/api/sync/fiscal", customer(deps.SyncHandler.HandleTriggerFiscalSync))
	mux.Handle("/api/sync/status", customer(deps.SyncHandler.HandleSyncStatus))

	// Mirrored data
	mux.Handle("/api/accounts", customer(deps.AccountHandler.HandleListAccounts))
	mux.Handle("/api/balances", customer(deps.AccountHandler.HandleBalances))
	mux.Handle("/api/transactions", customer(deps.TransactionHandler.HandleListTransactions))
	mux.Handle("/api/invoices", customer(deps.FiscalHandler.HandleListInvoices))
	mux.Handle("/api/tax-returns", customer(deps.FiscalHandler.HandleListTaxReturns))

	// Apply global middleware
	handler := middleware.Logging(middleware.Tracing(middleware.CORS(cfg.Server.AllowedHosts)(middleware.NoStore(mux))))
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	}

	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		log.Println("TLS security middleware enabled (HSTS)")
	}

	return handler
}
