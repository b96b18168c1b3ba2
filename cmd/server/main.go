package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwalther/belegmatch/internal/clients/erp"
	"github.com/mwalther/belegmatch/internal/config"
	"github.com/mwalther/belegmatch/internal/database"
	"github.com/mwalther/belegmatch/internal/events"
	"github.com/mwalther/belegmatch/internal/modules/classify"
	"github.com/mwalther/belegmatch/internal/modules/documents"
	"github.com/mwalther/belegmatch/internal/modules/matching"
	"github.com/mwalther/belegmatch/internal/modules/reconcile"
	"github.com/mwalther/belegmatch/internal/modules/rules"
	"github.com/mwalther/belegmatch/internal/modules/settlement"
	"github.com/mwalther/belegmatch/internal/modules/transactions"
	"github.com/mwalther/belegmatch/internal/scheduler"
	"github.com/mwalther/belegmatch/internal/server"
	"github.com/mwalther/belegmatch/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting belegmatch")

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Create schemas
	if err := initSchemas(db.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schemas")
	}

	eventManager := events.NewManager(log)

	// Repositories
	txRepo := transactions.NewRepository(db.Conn(), log)
	docRepo := documents.NewRepository(db.Conn(), log)
	ruleRepo := rules.NewRepository(db.Conn(), log)
	postingRepo := settlement.NewRepository(db.Conn(), log)

	// Classification tables
	tables, err := classify.LoadTables(cfg.ClassifierConfig, log)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ClassifierConfig).Msg("Failed to load classifier tables")
	}

	// Core services
	matcher := matching.NewMatcher(matching.DefaultConfig(), log)
	classifier := classify.NewClassifier(tables, ruleRepo, log)

	reconcileCfg := reconcile.DefaultConfig()
	reconcileCfg.MinConfidence = cfg.ClassifyMinScore
	reconcileCfg.ClassifyWorkers = cfg.ClassifyWorkers
	reconciler := reconcile.NewService(
		reconcileCfg, txRepo, docRepo, matcher, classifier,
		ruleRepo, eventManager, log,
	)

	// ERP extract source and jobs
	erpClient := erp.NewClient(cfg.ERPBaseURL, log)
	aggregator := settlement.NewAggregator(log)
	importJob := scheduler.NewSettlementImportJob(scheduler.SettlementImportConfig{
		Log:        log,
		Source:     erpClient,
		Aggregator: aggregator,
		Documents:  docRepo,
		Postings:   postingRepo,
		Events:     eventManager,
	})
	reconcileJob := scheduler.NewReconcileJob(reconciler, 30, log)

	// Scheduler
	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.ImportSchedule, importJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register settlement import job")
	}
	if err := sched.AddJob(cfg.ReconcileSchedule, reconcileJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register reconciliation job")
	}
	sched.Start()
	defer sched.Stop()

	// Initialize HTTP server
	srv := server.New(server.Config{
		Port:       cfg.Port,
		Log:        log,
		DB:         db,
		Reconciler: reconciler,
		Rules:      ruleRepo,
		Postings:   postingRepo,
		ImportJob:  importJob,
		Events:     eventManager,
		DevMode:    cfg.DevMode,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func initSchemas(db *sql.DB) error {
	for _, init := range []func(*sql.DB) error{
		transactions.InitSchema,
		documents.InitSchema,
		rules.InitSchema,
		settlement.InitSchema,
	} {
		if err := init(db); err != nil {
			return err
		}
	}
	return nil
}
