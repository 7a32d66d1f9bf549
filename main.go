package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/printflow/printflow/api"
	"github.com/printflow/printflow/conversion"
	"github.com/printflow/printflow/datastore"
	"github.com/printflow/printflow/download"
	"github.com/printflow/printflow/ingestion"
	"github.com/printflow/printflow/notify"
	"github.com/printflow/printflow/poller"
	"github.com/printflow/printflow/printing"
	rh "github.com/printflow/printflow/route-handlers"
	"github.com/printflow/printflow/storage"
	"github.com/printflow/printflow/webhooks"
)

const (
	defaultPort        = "8080"
	defaultDatabaseURL = "user=postgres password=password dbname=printflow host=localhost port=5432 sslmode=disable"
	defaultStorageDir  = "./order_files"
	dbPingTimeout      = 5 * time.Second
	shutdownTimeout    = 15 * time.Second
	dbMaxOpenConns     = 25
	dbMaxIdleConns     = 25
	dbConnMaxLifetime  = 5 * time.Minute
)

type config struct {
	port             string
	databaseURL      string
	storageDir       string
	printerName      string
	fetchConcurrency int
	autoStartPolling bool
}

func main() {
	cfg := loadConfig()

	db, err := setupDatabase(cfg.databaseURL)
	if err != nil {
		log.Fatalf("Database setup failed: %v", err)
	}
	defer db.Close()

	orderRepo := datastore.NewOrderRepository(db)
	printJobRepo := datastore.NewPrintJobRepository(db)
	attachmentRepo := datastore.NewAttachmentRepository(db)
	logRepo := datastore.NewProcessingLogRepository(db)
	settingsRepo := datastore.NewMailSettingsRepository(db)
	processedRepo := datastore.NewProcessedMessageRepository(db)

	orderStorage, err := storage.NewOrderStorage(cfg.storageDir)
	if err != nil {
		log.Fatalf("Storage setup failed: %v", err)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	hub := notify.NewHub()
	go hub.Run(rootCtx)

	pipeline := ingestion.NewPipeline(ingestion.PipelineConfig{
		Orders:           orderRepo,
		PrintJobs:        printJobRepo,
		Attachments:      attachmentRepo,
		Activity:         logRepo,
		Notifier:         hub,
		Folders:          orderStorage,
		Fetcher:          download.NewFetcher(download.DefaultTimeout),
		Labels:           conversion.NewLabelConverter(),
		BodyWriter:       conversion.NewBodyDocumentWriter(),
		Printer:          printing.NewPrinter(cfg.printerName),
		FetchConcurrency: cfg.fetchConcurrency,
	})

	mailPoller := poller.New(poller.Config{
		Settings:  settingsRepo,
		Seen:      processedRepo,
		Sweeper:   orderRepo,
		Processor: pipeline,
		Notifier:  hub,
	})
	go mailPoller.Run(rootCtx)
	if cfg.autoStartPolling {
		mailPoller.Start()
	}

	router := api.NewRouter(api.Handlers{
		Orders:     rh.NewOrderHandler(orderRepo, attachmentRepo, printJobRepo, logRepo),
		Config:     rh.NewConfigHandler(settingsRepo),
		Processing: rh.NewProcessingHandler(mailPoller, logRepo),
		Inbound:    webhooks.NewInboundEmailHandler(settingsRepo, processedRepo, pipeline),
		Events:     hub,
	})

	startServer(cfg.port, router)
	cancelRoot()
}

func loadConfig() config {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	dbURL := os.Getenv("DB_CONNECTION_STRING")
	if dbURL == "" {
		dbURL = defaultDatabaseURL
		log.Println("WARNING: DB_CONNECTION_STRING not set, using default local connection string.")
	}

	storageDir := os.Getenv("ORDER_STORAGE_DIR")
	if storageDir == "" {
		storageDir = defaultStorageDir
	}

	printerName := os.Getenv("PRINTER_NAME")

	fetchConcurrency := 0
	if raw := os.Getenv("FETCH_CONCURRENCY"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			fetchConcurrency = parsed
		} else {
			log.Printf("WARNING: ignoring invalid FETCH_CONCURRENCY value %q", raw)
		}
	}

	autoStart := os.Getenv("START_POLLING") == "true"

	return config{
		port:             port,
		databaseURL:      dbURL,
		storageDir:       storageDir,
		printerName:      printerName,
		fetchConcurrency: fetchConcurrency,
		autoStartPolling: autoStart,
	}
}

func setupDatabase(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbMaxOpenConns)
	db.SetMaxIdleConns(dbMaxIdleConns)
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close() // Close unusable connection pool
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection successful")
	return db, nil
}

func startServer(port string, router http.Handler) {
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownSignal // Block until signal received
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}
