package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/forwardfactor/scanner/internal/config"
	"github.com/forwardfactor/scanner/internal/health"
	"github.com/forwardfactor/scanner/internal/provider/polygon"
	"github.com/forwardfactor/scanner/internal/scanner"
	"github.com/forwardfactor/scanner/internal/scheduler"
	"github.com/forwardfactor/scanner/internal/snapshotcache"
	"github.com/forwardfactor/scanner/internal/store"
	"github.com/forwardfactor/scanner/internal/tracker"
	"github.com/forwardfactor/scanner/pkg/cache"
	"github.com/forwardfactor/scanner/pkg/common"
	"github.com/forwardfactor/scanner/pkg/logger"
	"github.com/forwardfactor/scanner/pkg/postgres"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the scan worker pool",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadScanner(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting Scan Worker Pool", logger.Field("name", cfg.App.Name))

	db, err := postgres.NewDB(postgres.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, DBName: cfg.Database.DBName, SSLMode: cfg.Database.SSLMode,
		MaxIdleConns: cfg.Database.MaxIdleConns, MaxOpenConns: cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}

	redisClient, err := cache.NewClient(cache.Config{
		Host: cfg.Redis.Host, Port: cfg.Redis.Port, Password: cfg.Redis.Password,
		DB: cfg.Redis.DB, PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize Redis", logger.ErrorField(err))
	}
	defer redisClient.Close()

	if err := redisClient.Client.XGroupCreateMkStream(context.Background(), common.RedisStreamScanJobs, common.RedisStreamScanGroup, "0").Err(); err != nil {
		if !isBusyGroup(err) {
			appLogger.Fatal("Failed to create scan jobs consumer group", logger.ErrorField(err))
		}
	}

	st := store.New(db.DB)
	snaps := snapshotcache.New(redisClient.Client)
	trk := tracker.New(redisClient.Client)
	chainProvider := polygon.New(cfg.Polygon.APIKey, cfg.Polygon.RequestsPerMinute, appLogger)

	cadence := scheduler.DefaultCadence
	blockTimeout := config.ParseDuration(cfg.Scanner.BlockTimeout, 5*time.Second)

	worker := scanner.New(redisClient.Client, st, snaps, chainProvider, trk, cadence, cfg.Scanner.MaxFetchAttempts, blockTimeout, appLogger)

	concurrency := cfg.Scanner.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	checker := health.New(db.DB, redisClient.Client, 5*time.Minute)
	worker.SetHeartbeat(func() { checker.Heartbeat("scanner") })
	worker.Start(ctx, concurrency)

	e := echo.New()
	e.HideBanner = true
	e.GET("/healthz", func(c echo.Context) error {
		status := checker.Check(c.Request().Context())
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, status)
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.API.Port)
		appLogger.Info("HTTP server starting", logger.Field("address", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed to start", logger.ErrorField(err))
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down scan worker pool...")
	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server forced to shutdown", logger.ErrorField(err))
	}
	appLogger.Info("Scan worker pool exiting")
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func main() {
	rootCmd := &cobra.Command{Use: "scanner"}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config-scanner.yaml", "Path to the configuration file")
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing scanner CLI: %s\n", err)
		os.Exit(1)
	}
}
