package main

//go:generate swag init

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/facturo/ledger/db"
	_ "github.com/facturo/ledger/docs"
	"github.com/facturo/ledger/handlers"
	"github.com/facturo/ledger/ledger"
	"github.com/facturo/ledger/models"
)

// @title           Facturo Ledger API
// @version         1.0.0
// @description     Payment ledger and document-status reconciliation for client and supplier invoices.
// @host            localhost:8080
// @BasePath        /api/v1
// @securityDefinitions.basic  BasicAuth

func main() {
	// Optional .env for local development
	godotenv.Load()

	// Configure structured logging
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	// Open database
	database, err := db.Open()
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	// Run migrations
	if err := db.Migrate(database); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Wire the reconciliation engine and the change-event broker
	broker := ledger.NewBroker()
	engine := ledger.NewEngine(database, broker)
	handlers.DB = database
	handlers.Ledger = engine
	handlers.Events = broker

	// Catch up on due dates that passed while the service was down, then
	// sweep hourly.
	sweepOverdue(engine)
	go func() {
		for range time.Tick(time.Hour) {
			sweepOverdue(engine)
		}
	}()

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// API routes with basic auth
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(handlers.BasicAuth)

		// Parties (clients and suppliers)
		r.Get("/parties", handlers.ListParties)
		r.Post("/parties", handlers.CreateParty)
		r.Get("/parties/{id}", handlers.GetParty)
		r.Put("/parties/{id}", handlers.UpdateParty)
		r.Delete("/parties/{id}", handlers.DeleteParty)
		r.Get("/parties/{id}/payments", handlers.ListPartyPayments)

		// Client invoices (receivable) and supplier invoices (payable):
		// two instantiations of the same document handlers.
		documentRoutes(r, "/invoices", models.DocumentReceivable)
		documentRoutes(r, "/supplier-invoices", models.DocumentPayable)

		// Payments
		r.Get("/payments", handlers.ListPayments)
		r.Post("/payments", handlers.CreatePayment)
		r.Get("/payments/{id}", handlers.GetPayment)
		r.Put("/payments/{id}", handlers.UpdatePayment)
		r.Delete("/payments/{id}", handlers.DeletePayment)

		// Reconciliation
		r.Post("/reconcile/overdue", handlers.RefreshOverdue)

		// Dashboard
		r.Get("/dashboard", handlers.GetDashboard)

		// Change-event stream
		r.Get("/events", handlers.StreamEvents)
	})

	// Swagger UI
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := fmt.Sprintf(":%s", port)
	slog.Info("server starting", "address", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func documentRoutes(r chi.Router, prefix string, kind models.DocumentKind) {
	r.Get(prefix, handlers.ListDocuments(kind))
	r.Post(prefix, handlers.CreateDocument(kind))
	r.Get(prefix+"/{id}", handlers.GetDocument(kind))
	r.Put(prefix+"/{id}", handlers.UpdateDocument(kind))
	r.Delete(prefix+"/{id}", handlers.DeleteDocument(kind))
	r.Get(prefix+"/{id}/payments", handlers.ListDocumentPayments(kind))
}

func sweepOverdue(engine *ledger.Engine) {
	n, err := engine.RefreshOverdue(context.Background())
	if err != nil {
		slog.Error("overdue sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("overdue sweep", "documents_updated", n)
	}
}
