package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-equipment/internal/config"
	"wisefido-equipment/internal/consumer"
	"wisefido-equipment/internal/database"
	"wisefido-equipment/internal/escalation"
	"wisefido-equipment/internal/evaluator"
	"wisefido-equipment/internal/notifier"
	rediscommon "wisefido-equipment/internal/redis"
	"wisefido-equipment/internal/repository"
	"wisefido-equipment/internal/store"
	"wisefido-equipment/internal/warning"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EquipmentService 设备监控服务（整合各层）
type EquipmentService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	deviceRepo   *repository.DeviceRepository
	endpointRepo *repository.EndpointRepository
	warningRepo  *repository.WarningRepository
	notifRepo    *repository.NotificationRepository
	cache        *store.CacheManager
	telemetry    *store.TelemetryStore
	evaluator    *evaluator.Evaluator
	scheduler    *escalation.Scheduler
	warnings     *warning.Manager
	pipeline     *consumer.Pipeline
	endpoints    *consumer.EndpointManager
}

// NewEquipmentService 创建设备监控服务
func NewEquipmentService(cfg *config.Config, logger *zap.Logger) (*EquipmentService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	deviceRepo := repository.NewDeviceRepository(db, logger)
	endpointRepo := repository.NewEndpointRepository(db, logger)
	telemetryRepo := repository.NewTelemetryRepository(db, logger)
	warningRepo := repository.NewWarningRepository(db, logger)
	notifRepo := repository.NewNotificationRepository(db, logger)

	// 4. 创建缓存层
	kv := store.NewRedisKVStore(redisClient)
	cache := store.NewCacheManager(cfg, kv, logger)

	// 5. 创建阈值评估器（配置文件缺失时回退到内置默认档案）
	profiles, err := evaluator.LoadProfiles(cfg.Evaluator.ThresholdsFile, logger)
	if err != nil {
		database.Close(db)
		rediscommon.Close(redisClient)
		return nil, fmt.Errorf("failed to load threshold profiles: %w", err)
	}
	eval := evaluator.NewEvaluator(profiles, logger)

	// 6. 创建通知与升级调度
	webhook := notifier.NewWebhookNotifier(
		cfg.Notifier.WebhookURL,
		time.Duration(cfg.Notifier.TimeoutSeconds)*time.Second,
		logger,
	)
	scheduler := escalation.NewScheduler(cfg, warningRepo, notifRepo, cache, webhook, logger)

	// 7. 创建告警生命周期管理器
	warnings := warning.NewManager(cfg, warningRepo, scheduler, cache, logger)

	// 8. 创建遥测存储与读数管道
	telemetry := store.NewTelemetryStore(telemetryRepo, cache, redisClient, cfg.Cache.ReadingStream, logger)
	pipeline := consumer.NewPipeline(telemetry, deviceRepo, eval, warnings, logger)

	// 9. 创建端点连接管理器
	endpoints := consumer.NewEndpointManager(cfg, endpointRepo, telemetry, pipeline, logger)

	return &EquipmentService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		logger:       logger,
		deviceRepo:   deviceRepo,
		endpointRepo: endpointRepo,
		warningRepo:  warningRepo,
		notifRepo:    notifRepo,
		cache:        cache,
		telemetry:    telemetry,
		evaluator:    eval,
		scheduler:    scheduler,
		warnings:     warnings,
		pipeline:     pipeline,
		endpoints:    endpoints,
	}, nil
}

// Start 启动服务：先启动升级调度循环，再建立全部端点连接
func (s *EquipmentService) Start(ctx context.Context) error {
	s.logger.Info("Starting equipment service")

	s.scheduler.Start(ctx)

	if err := s.endpoints.InitializeAll(ctx); err != nil {
		return fmt.Errorf("failed to initialize endpoints: %w", err)
	}

	return nil
}

// Stop 停止服务：断开端点、停调度循环，再释放连接资源
func (s *EquipmentService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping equipment service")

	s.endpoints.DisconnectAll(ctx)
	s.scheduler.Stop()

	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	return nil
}

// Endpoints 返回端点连接管理器（用于手动连接/断开指定端点）
func (s *EquipmentService) Endpoints() *consumer.EndpointManager {
	return s.endpoints
}

// Warnings 返回告警生命周期管理器（用于确认/忽略告警）
func (s *EquipmentService) Warnings() *warning.Manager {
	return s.warnings
}
