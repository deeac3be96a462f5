package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/config"
	"github.com/topasig/PolicyBroker/internal/db"
	"github.com/topasig/PolicyBroker/internal/directory"
	"github.com/topasig/PolicyBroker/internal/documents"
	relayhttp "github.com/topasig/PolicyBroker/internal/http"
	"github.com/topasig/PolicyBroker/internal/http/api"
	"github.com/topasig/PolicyBroker/internal/http/api/handlers"
	"github.com/topasig/PolicyBroker/internal/issuance"
	"github.com/topasig/PolicyBroker/internal/mail"
	"github.com/topasig/PolicyBroker/internal/payment"
	"github.com/topasig/PolicyBroker/internal/provider/medical"
	"github.com/topasig/PolicyBroker/internal/provider/qrpay"
	"github.com/topasig/PolicyBroker/internal/provider/rca"
	"github.com/topasig/PolicyBroker/internal/reconcile"
	"github.com/topasig/PolicyBroker/internal/settings"
	"github.com/topasig/PolicyBroker/internal/storage"
	"github.com/topasig/PolicyBroker/internal/tasks"
	"gorm.io/gorm"
)

const (
	taskRecordTTL           = 24 * time.Hour
	maxTaskRecords          = 1000
	memoryQueueSize         = 256
	workerConcurrency       = 4
	settingsRefreshInterval = time.Minute
	shutdownTimeout         = 15 * time.Second
	readHeaderTimeout       = 10 * time.Second
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.Info("database migrated")
	return nil
}

// RunServer boots the broker and blocks until ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("load runtime settings failed, using configured defaults")
	}

	// Background work stops with runCtx, which also ends when the listener fails.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go refreshSettings(runCtx, conn)

	blobs, errStorage := storage.New(ctx, cfg.Storage)
	if errStorage != nil {
		return errStorage
	}
	gateway, errGateway := qrpay.New(cfg.QR, cfg.Server.PublicURL)
	if errGateway != nil {
		return errGateway
	}
	rcaClient := rca.NewClient(cfg.RCA)
	medicalClient := medical.NewClient(cfg.Medical)

	queue, closeQueue, errQueue := newQueue(ctx, cfg.Redis)
	if errQueue != nil {
		return errQueue
	}
	defer closeQueue()
	taskStore := tasks.NewStore(taskRecordTTL, maxTaskRecords)
	dispatcher := tasks.NewDispatcher(queue, taskStore)

	docStore := documents.NewStore(conn, blobs)
	pipeline := documents.NewPipeline(docStore, rcaClient, medicalClient, documents.NewPDFMerger(), documents.DefaultFetchConcurrency)
	if cfg.Assets.StampPath != "" {
		stamper, errStamp := documents.LoadPDFStamper(cfg.Assets.StampPath)
		if errStamp != nil {
			return errStamp
		}
		pipeline.WithStamper(stamper)
	}

	tokens := payment.NewStore(conn, cfg.Reconcile.ExpiryWindow)
	payments := payment.NewService(tokens, gateway, docStore, dispatcher, payment.Options{
		Debug:          cfg.Server.Debug,
		DebugPaidDelay: cfg.Server.DebugPaidDelay,
	})
	dir := directory.New(conn, cfg.Assets.DefaultLogoURL)
	issuer := issuance.NewService(conn, tokens, rcaClient, medicalClient, dir, dispatcher, cfg.Server.PublicURL)

	worker := tasks.NewWorker(queue, taskStore, workerConcurrency)
	worker.Handle(tasks.TypeRetrieveDocuments, pipeline.RetrieveTask)
	worker.Handle(tasks.TypeMarkPaid, payments.MarkPaidTask)
	worker.Start(runCtx)

	if poller := reconcile.NewPoller(tokens, payments, cfg.Reconcile.Interval, cfg.Reconcile.MaxConcurrency); poller != nil {
		poller.Start(runCtx)
	}

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(relayhttp.RecoveryMiddleware(), relayhttp.RequestLogMiddleware())
	api.RegisterRoutes(engine, api.Handlers{
		RCA:     handlers.NewRCAHandler(issuer, pipeline, mail.NewSender(cfg.Mail)),
		Medical: handlers.NewMedicalHandler(issuer, medicalClient),
		QR:      handlers.NewQRHandler(payments),
		Tasks:   handlers.NewTaskHandler(taskStore),
		Health:  handlers.NewHealthHandler(conn, rcaClient),
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("http server shutdown failed")
		}
	}()

	log.Infof("starting policy broker on %s (config=%s, qr=%s)", cfg.Server.Addr, cfg.Path, gateway.Name())
	errServe := server.ListenAndServe()
	cancel()
	worker.Wait()
	if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return errServe
	}
	return nil
}

// newQueue selects the Redis-backed queue when an address is configured, else the in-process one.
func newQueue(ctx context.Context, cfg config.RedisConfig) (tasks.Queue, func(), error) {
	if cfg.Addr == "" {
		log.Info("task queue: in-process (no redis address configured)")
		queue := tasks.NewMemoryQueue(memoryQueueSize)
		return queue, func() { _ = queue.Close() }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("task queue: redis %s: %w", cfg.Addr, errPing)
	}
	log.Infof("task queue: redis %s (%s)", cfg.Addr, cfg.Queue)
	queue := tasks.NewRedisQueue(client, cfg.Queue)
	return queue, func() {
		_ = queue.Close()
		if errClose := client.Close(); errClose != nil {
			log.WithError(errClose).Warn("close redis client failed")
		}
	}, nil
}

// refreshSettings reloads the runtime settings snapshot until ctx ends.
func refreshSettings(ctx context.Context, conn *gorm.DB) {
	ticker := time.NewTicker(settingsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
				log.WithError(errRefresh).Warn("refresh runtime settings failed")
			}
		}
	}
}
