package main

import (
	"log"

	"go.uber.org/zap"

	"mailsentry/internal/api"
	"mailsentry/internal/evaluator"
	"mailsentry/internal/mailbox"
	"mailsentry/internal/repository"
	"mailsentry/internal/service"
	"mailsentry/pkg/config"
	"mailsentry/pkg/db"
	"mailsentry/pkg/logger"
	"mailsentry/pkg/mq"
	"mailsentry/pkg/redis"
	"mailsentry/pkg/util"
)

func main() {
	cfg, err := config.Load(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.New()
	defer zlog.Sync()

	dbConn, err := db.NewConnection(cfg.DB, zlog)
	if err != nil {
		zlog.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		zlog.Fatal("MQ initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	rdb := redis.NewClient(cfg.Redis)
	defer rdb.Close()

	emailRepo := repository.NewEmailRepository(dbConn, zlog)
	detectionRepo := repository.NewDetectionRepository(dbConn, zlog)
	bindingRepo := repository.NewBindingRepository(dbConn, zlog)

	eval := evaluator.NewClient(
		cfg.Evaluator.BaseURL,
		cfg.Evaluator.APIKey,
		cfg.Evaluator.Model,
		cfg.Evaluator.Temperature,
		cfg.Evaluator.MaxBodySize,
		zlog,
	)

	notifier := service.NewMQNotifier(publisher)
	orchestrator := service.NewOrchestrator(
		detectionRepo,
		notifier,
		cfg.Detection.Workers,
		cfg.Detection.TaskTimeout,
		zlog,
	)

	detectionService := service.NewDetectionService(
		emailRepo,
		detectionRepo,
		eval,
		eval,
		eval,
		orchestrator,
		cfg.Detection.FusionThreshold,
		zlog,
	)

	locker := util.NewSyncLocker(rdb, cfg.Detection.SyncLockTTL, zlog)
	syncService := service.NewSyncService(
		bindingRepo,
		emailRepo,
		mailbox.NewIMAPClient(),
		locker,
		zlog,
	)

	detectionHandler := api.NewDetectionHandler(detectionService, zlog)
	syncHandler := api.NewSyncHandler(syncService, zlog)

	router := api.NewRouter(detectionHandler, syncHandler, cfg.JWT.Secret, zlog, dbConn)

	zlog.Info("Starting server", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		zlog.Fatal("server start failed", zap.Error(err))
	}
}
