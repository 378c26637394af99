package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fiat-reconciliation-backend/internal/config"
	handler "fiat-reconciliation-backend/internal/handlers"
	"fiat-reconciliation-backend/internal/payout"
	"fiat-reconciliation-backend/internal/repository"
	"fiat-reconciliation-backend/internal/routes"
	"fiat-reconciliation-backend/internal/scheduler"
	service "fiat-reconciliation-backend/internal/services/reconciliation"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := config.InitDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Database unavailable", zap.Error(err))
	}
	meta := repository.NewMetaRepository(db)
	if err := meta.Ping(context.Background(), time.Now()); err != nil {
		logger.Fatal("Database check failed", zap.Error(err))
	}
	logger.Info("Database connected")

	var payer payout.Payer = payout.LogPayer{Logger: logger}
	if cfg.QuorumRPCURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := payout.Dial(ctx, cfg.Payout(), logger)
		cancel()
		if err != nil {
			logger.Fatal("Quorum node unavailable", zap.Error(err))
		}
		defer client.Close()
		payer = client
	} else {
		logger.Warn("QUORUM_RPC_URL not set, payouts are only logged")
	}

	titles := repository.NewTitleRepository(db)
	reconService := service.NewReconciliationService(service.Stores{
		Invoices:     repository.NewInvoiceRepository(db),
		Transactions: repository.NewBankTransactionRepository(db),
		Batches:      repository.NewBatchRepository(db),
		Audit:        repository.NewAuditRepository(db),
	}, payer, logger, service.Options{
		Workers:       cfg.MatchWorkers,
		ProgressEvery: cfg.ProgressEvery,
	})

	var inbox *scheduler.Scheduler
	if cfg.InboxDir != "" {
		inbox = scheduler.NewScheduler(reconService, logger, scheduler.Config{
			InboxDir:   cfg.InboxDir,
			ArchiveDir: cfg.ArchiveDir,
			Schedule:   cfg.InboxScanSchedule,
		})
		if err := inbox.Start(); err != nil {
			logger.Fatal("Failed to start inbox scheduler", zap.Error(err))
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	reconHandler := handler.NewReconciliationHandler(reconService, titles, logger)
	routes.RegisterRoutes(r, reconHandler, handler.NewHealthHandler(meta, logger))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		logger.Fatal("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	if inbox != nil {
		<-inbox.Stop().Done()
	}
	// let uploaded files finish: a half-dispatched batch would need a rerun
	reconHandler.Wait()
}
