package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/csrf"
	"github.com/gorilla/sessions"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/access"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/cart"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/chat"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/config"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/fulfillment"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/handlers"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/mailer"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// 2. Init DB
	db, err := store.NewStore(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	// 3. Session Setup
	sessionStore := sessions.NewCookieStore(cfg.SessionKey)
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.Secure = cfg.CookieSecure
	sessionStore.Options.SameSite = http.SameSiteLaxMode
	sessionStore.Options.Path = "/"
	if cfg.CookieDomain != "" {
		sessionStore.Options.Domain = cfg.CookieDomain
	}

	// 4. Init Templates
	templates := handlers.NewTemplateCache()
	if err := templates.Load(); err != nil {
		slog.Error("Failed to load templates", "error", err)
		os.Exit(1)
	}

	// 5. Services
	var mail mailer.Mailer = mailer.LogMailer{}
	if cfg.MailEnabled() {
		mail = &mailer.SMTPMailer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			Timeout:  mailer.DefaultTimeout,
		}
	} else {
		slog.Warn("SMTP_HOST not set, outgoing mail is written to the log")
	}

	outbox := mailer.NewOutbox(mail, mailer.DefaultTimeout)
	tokens := access.NewIssuer(db, cfg.LinkTTL)
	checkout := fulfillment.NewService(db, tokens, outbox, cfg.BaseURL)
	chats := chat.NewService(db, cfg.MediaDir)
	carts := cart.New(sessionStore)

	// 6. Setup Handlers
	homeHandler := &handlers.HomeHandler{
		Store:        db,
		Templates:    templates,
		SessionStore: sessionStore,
		Cart:         carts,
	}
	orderHandler := &handlers.OrderHandler{
		Store:        db,
		Templates:    templates,
		SessionStore: sessionStore,
		Cart:         carts,
		Checkout:     checkout,
		Tokens:       tokens,
		Chat:         chats,
		Outbox:       outbox,
		BaseURL:      cfg.BaseURL,
	}
	adminHandler := &handlers.AdminHandler{
		Store:        db,
		SessionStore: sessionStore,
		Templates:    templates,
		Chat:         chats,
		MediaDir:     cfg.MediaDir,
	}

	mux := handlers.NewRouter(homeHandler, orderHandler, adminHandler, handlers.DefaultLimiters(), cfg.MediaDir)

	// 7. Middleware Setup
	CSRF := csrf.Protect(
		cfg.CSRFKey,
		csrf.Secure(cfg.CookieSecure),
		csrf.Path("/"),
		csrf.TrustedOrigins([]string{"localhost:" + cfg.Port, "127.0.0.1:" + cfg.Port, "localhost", "127.0.0.1"}),
	)

	handler := handlers.Handler(mux, CSRF)

	// 8. Start Server with Graceful Shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Server starting", "port", cfg.Port, "base_url", cfg.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to listen and serve", "error", err)
			os.Exit(1)
		}
	}()

	<-stop

	slog.Info("Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}
	outbox.Wait()

	slog.Info("Server exited gracefully.")
}
