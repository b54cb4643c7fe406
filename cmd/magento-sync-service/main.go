package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/shipstream/magento-sync/config"
	"github.com/shipstream/magento-sync/magentosync"
	"github.com/shipstream/magento-sync/models"
	"github.com/shipstream/magento-sync/utils"
)

const defaultPort = "8080"

func main() {
	_ = godotenv.Load()

	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the startup probe passes. Until Redis is
	// ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// The state store lives in Redis; nothing works without it.
		if config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Callback-Key")
	corsConfig.AddExposeHeaders("Content-Length")

	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())

	settings, err := magentosync.LoadSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err.Error())
	}

	fulfillment, err := magentosync.NewFulfillmentClient()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "fulfillment"}).Fatal(err.Error())
	}

	queue, inline := buildQueue()

	connector, err := magentosync.NewConnector(settings, magentosync.NewRedisStateStore(), fulfillment, queue)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "connector"}).Fatal(err.Error())
	}
	if inline != nil {
		inline.Handler = connector.HandleTask
	}

	r.GET("/diagnostics", magentosync.DiagnosticsHandler(connector))
	r.POST("/sync/orders", magentosync.SyncOrdersHandler(connector))
	r.POST("/sync/inventory", magentosync.SyncInventoryHandler(connector))
	r.POST("/orders/:orderRef/import", magentosync.ImportOrderHandler(connector))
	r.GET("/sync/runs", magentosync.SyncRunsHandler())
	r.POST("/register", magentosync.RegisterHandler(connector))
	r.POST("/unregister", magentosync.UnregisterHandler(connector))
	r.POST("/pubsub", magentosync.PubSubPushHandler(connector))

	callbacks := r.Group("/callback", magentosync.CallbackAuthMiddleware(connector))
	callbacks.POST("/inventoryWithLock", magentosync.InventoryWithLockHandler(connector))
	callbacks.POST("/unlockOrderImport", magentosync.UnlockOrderImportHandler(connector))
	callbacks.POST("/event", magentosync.EventWebhookHandler(connector))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	cronCtx, cancelCron := context.WithCancel(context.Background())
	defer cancelCron()
	go runSyncCron(cronCtx, connector, logger)

	logger.WithFields(logrus.Fields{"port": port}).Info("magento-sync service started")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	cancelCron()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func buildQueue() (magentosync.TaskQueue, *magentosync.InlineQueue) {
	if utils.EnvBool("SYNC_TASK_USE_PUBSUB", false) {
		return magentosync.NewPubSubQueue(), nil
	}
	inline := &magentosync.InlineQueue{}
	return inline, inline
}

// runSyncCron drives periodic order and inventory sync. The redis lock keeps
// multiple replicas from stampeding the commerce API; each replica's own
// import lock still protects the data.
func runSyncCron(ctx context.Context, connector *magentosync.Connector, logger *logrus.Logger) {
	if !utils.EnvBool("SYNC_CRON_ENABLED", true) {
		logger.WithFields(logrus.Fields{"field": "cron"}).Warn("SYNC_CRON_ENABLED=false; periodic sync disabled")
		return
	}
	interval := time.Duration(utils.EnvInt("SYNC_CRON_INTERVAL_SECONDS", 300)) * time.Second
	inventoryEvery := utils.EnvInt("SYNC_CRON_INVENTORY_EVERY", 12)
	if inventoryEvery <= 0 {
		inventoryEvery = 12
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tick++

		runCtx, cancel := context.WithTimeout(ctx, interval)
		cronTick(runCtx, connector, logger, tick%inventoryEvery == 0)
		cancel()
	}
}

func cronTick(ctx context.Context, connector *magentosync.Connector, logger *logrus.Logger, withInventory bool) {
	// Best-effort replica coordination; a missing lock only means duplicate
	// polling, which the import path tolerates.
	var lock *redislock.Lock
	if locker := config.GetRedisLock(); locker != nil {
		var err error
		lock, err = locker.Obtain(ctx, "magentosync:cron", 2*time.Minute, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return
		} else if err != nil {
			logger.WithFields(logrus.Fields{"field": "cron"}).Warn("error obtaining cron lock; proceeding: " + err.Error())
			lock = nil
		}
	}
	defer func() {
		if lock != nil {
			if releaseErr := lock.Release(ctx); releaseErr != nil {
				logger.WithFields(logrus.Fields{"field": "cron"}).Warn(fmt.Sprintf("failed to release cron lock: %v", releaseErr))
			}
		}
	}()

	if err := connector.SyncOrders(ctx, "", models.SyncTriggeredCron); err != nil {
		config.LogError(logger, "cron", "SyncOrders", "", nil, err)
	}
	if withInventory {
		if err := connector.SyncInventory(ctx, models.SyncTriggeredCron); err != nil {
			config.LogError(logger, "cron", "SyncInventory", "", nil, err)
		}
	}
}
