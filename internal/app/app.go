package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"consumo/internal/bot"
	"consumo/internal/config"
	"consumo/internal/journal/ch"
	"consumo/internal/ledger"
	"consumo/internal/logging"
	"consumo/internal/storage"
	"consumo/internal/storage/azure"
	"consumo/internal/storage/badger"
	"consumo/internal/storage/stubs"
	"consumo/internal/storage/valkey"
)

// updateHandler processes updates delivered to the webhook
type updateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// App represents the application
type App struct {
	config  *config.Config
	logger  *zap.Logger
	store   storage.Service
	journal *ch.Journal
	ledger  *ledger.Ledger
	bot     *bot.Bot
	server  *http.Server
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{config: cfg, logger: logger, ctx: ctx, cancel: cancel}

	logger.Info("Starting fuel consumption bot...",
		zap.String("storage_backend", cfg.StorageBackend),
		zap.Bool("journal", cfg.JournalEnabled()),
	)

	if err := app.initStorage(); err != nil {
		cancel()
		return nil, err
	}

	if err := app.initJournal(); err != nil {
		app.closeBackends()
		cancel()
		return nil, err
	}

	if err := app.initBot(); err != nil {
		app.closeBackends()
		cancel()
		return nil, err
	}

	app.initHTTPServer()

	return app, nil
}

// NewStorage creates the storage backend selected in cfg
func NewStorage(cfg *config.Config, logger *zap.Logger) (storage.Service, error) {
	var (
		svc storage.Service
		err error
	)
	switch cfg.StorageBackend {
	case config.BackendAzure:
		svc, err = azure.NewTableService(azure.Options{
			Account:  cfg.AzureAccount,
			Key:      cfg.AzureKey,
			Table:    cfg.AzureTableName,
			Endpoint: cfg.AzureEndpoint,
		}, logger)
	case config.BackendValkey:
		svc, err = valkey.NewStore(valkey.Options{
			Addr:      cfg.ValkeyAddr,
			Password:  cfg.ValkeyPassword,
			Namespace: cfg.ValkeyNamespace,
		}, logger)
	case config.BackendBadger:
		svc, err = badger.NewStore(badger.Options{Path: cfg.BadgerPath}, logger)
	case config.BackendMemory:
		svc = stubs.NewMockService()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", cfg.StorageBackend, err)
	}
	return storage.NewInstrumented(svc), nil
}

// initStorage creates the key-value store. Connections are opened on first use.
func (a *App) initStorage() error {
	svc, err := NewStorage(a.config, a.logger)
	if err != nil {
		return err
	}
	if a.config.StorageBackend == config.BackendMemory {
		a.logger.Warn("Using in-memory storage, readings are lost on restart")
	}
	a.store = svc
	return nil
}

// initJournal connects to ClickHouse when it is configured
func (a *App) initJournal() error {
	if !a.config.JournalEnabled() {
		a.logger.Info("ClickHouse journal disabled")
		return nil
	}

	tlsStatus := "without TLS"
	if a.config.ClickHouseUseTLS {
		tlsStatus = "with TLS"
	}
	a.logger.Info("Connecting to ClickHouse journal",
		zap.String("host", a.config.ClickHouseHost),
		zap.Int("port", a.config.ClickHousePort),
		zap.String("database", a.config.ClickHouseDatabase),
		zap.String("user", a.config.ClickHouseUser),
		zap.String("tls", tlsStatus),
	)

	journal, err := ch.NewJournal(a.ctx, ch.Options{
		Host:     a.config.ClickHouseHost,
		Port:     a.config.ClickHousePort,
		Database: a.config.ClickHouseDatabase,
		User:     a.config.ClickHouseUser,
		Password: a.config.ClickHousePassword,
		UseTLS:   a.config.ClickHouseUseTLS,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	a.journal = journal
	return nil
}

// initBot initializes the ledger and the Telegram bot
func (a *App) initBot() error {
	var opts []ledger.Option
	if a.journal != nil {
		opts = append(opts, ledger.WithJournal(a.journal))
	}
	a.ledger = ledger.New(a.store, a.logger, opts...)

	telegramBot, err := bot.NewBot(a.config.TelegramToken, a.ledger, a.config.AllowedUserIDs, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	if a.journal != nil {
		telegramBot.SetExporter(a.journal)
	}
	a.logger.Info("Bot created successfully", zap.Int64s("allowed_users", a.config.AllowedUserIDs))

	a.bot = telegramBot
	return nil
}

// Routes builds the HTTP handler for health checks, metrics and the webhook
func Routes(ctx context.Context, mode string, handler updateHandler, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Fuel consumption bot is running (mode: %s)", mode)
	})

	// Webhook endpoint (only used in webhook mode)
	mux.HandleFunc("/telegram-webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			logger.Warn("Error decoding webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Process update in background to respond quickly to Telegram
		go handler.HandleUpdate(ctx, update)

		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// initHTTPServer initializes the HTTP server for health checks, metrics and webhook
func (a *App) initHTTPServer() {
	mode := "polling"
	if a.config.WebhookMode {
		mode = "webhook"
	}

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      Routes(a.ctx, mode, a.bot, a.logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)

	// Start bot in appropriate mode
	if a.config.WebhookMode {
		a.logger.Info("Starting bot in WEBHOOK mode", zap.String("webhook_url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			a.Shutdown()
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured. Bot will receive updates via HTTP endpoint /telegram-webhook")
	} else {
		go func() {
			a.logger.Info("Starting bot in POLLING mode...")
			if err := a.bot.Start(a.ctx); err != nil {
				errChan <- fmt.Errorf("bot stopped: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-sigChan:
		a.logger.Info("Received shutdown signal")
	case runErr = <-errChan:
		a.logger.Error("Bot failed", zap.Error(runErr))
	}

	a.logger.Info("Shutting down...")
	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	a.cancel()

	// Shutdown HTTP server gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	err := a.closeBackends()
	if err == nil {
		a.logger.Info("Shutdown complete")
	}
	a.logger.Sync()
	return err
}

// closeBackends closes the journal and the store
func (a *App) closeBackends() error {
	var errs []error
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Error("Error closing ClickHouse journal", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Error closing storage", zap.Error(err), zap.String("backend", a.store.Name()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
