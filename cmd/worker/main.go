package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailsentry/internal/mailbox"
	"mailsentry/internal/repository"
	"mailsentry/internal/service"
	"mailsentry/pkg/config"
	"mailsentry/pkg/db"
	"mailsentry/pkg/logger"
	"mailsentry/pkg/redis"
	"mailsentry/pkg/util"
)

// The worker runs the periodic mailbox sync loop. The API server can
// trigger the same pass on demand; the per-binding redis lock keeps the
// two from overlapping.
func main() {
	cfg, err := config.Load(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.New()
	defer zlog.Sync()

	zlog.Info("Starting sync worker...")

	dbConn, err := db.NewConnection(cfg.DB, zlog)
	if err != nil {
		zlog.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	rdb := redis.NewClient(cfg.Redis)
	defer rdb.Close()

	emailRepo := repository.NewEmailRepository(dbConn, zlog)
	bindingRepo := repository.NewBindingRepository(dbConn, zlog)
	locker := util.NewSyncLocker(rdb, cfg.Detection.SyncLockTTL, zlog)

	syncService := service.NewSyncService(
		bindingRepo,
		emailRepo,
		mailbox.NewIMAPClient(),
		locker,
		zlog,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Detection.SyncInterval)
	defer ticker.Stop()

	zlog.Info("Sync worker ready",
		zap.Duration("interval", cfg.Detection.SyncInterval),
	)

	runOnce(ctx, syncService, zlog)
	for {
		select {
		case <-ctx.Done():
			zlog.Info("Sync worker shutting down")
			return
		case <-ticker.C:
			runOnce(ctx, syncService, zlog)
		}
	}
}

func runOnce(ctx context.Context, syncService *service.SyncService, zlog *zap.Logger) {
	if _, err := syncService.SyncAll(ctx); err != nil {
		zlog.Error("Sync run failed", zap.Error(err))
	}
}
