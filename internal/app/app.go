// Package app 提供 eidos-bridge 服务的应用生命周期管理
//
// ## 服务职责
// eidos-bridge 是 aBTC 跨链桥的账本服务:
// 1. 验证者多签: 各链授权验证者提交观测, 达到阈值后推进状态
// 2. 状态机: 充值 (BTC → aBTC)、赎回 (aBTC → BTC)、跨链 (aBTC → aBTC)
// 3. 结算: 金库结算 PSBT 构造、退款 PSBT 构造、Merkle 校验
//
// ## Kafka 对接 (参见 internal/kafka)
// - 生产: signature-requests, token-mints, bridge-events, dead-letter
// - 消费: signature-results → SigningService.Resume
// - kafka.enabled=false 时签名结果只能通过 HTTP 回调提交
//
// ## 定时任务
// - 签名超时扫描 (signing.sweep_cron)
// - 重试耗尽充值转入退款 (同一调度)
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/btc"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/handler"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/kafka"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/registry"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/router"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// refundSweepLimit 每轮最多处理的重试耗尽记录数
const refundSweepLimit = 100

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db     *gorm.DB
	redis  *redis.Client
	locker lock.Locker

	// 协作方
	chains  *registry.ChainRegistry
	params  *registry.ParamRegistry
	oracle  *blockchain.Client
	builder *btc.Builder

	// 服务
	quorumSvc     *service.QuorumService
	depositSvc    *service.DepositService
	redemptionSvc *service.RedemptionService
	bridgingSvc   *service.BridgingService
	signingSvc    *service.SigningService
	settlementSvc *service.SettlementService
	adminSvc      *service.AdminService

	// Kafka
	kafkaProducer *kafka.Producer
	kafkaConsumer *kafka.Consumer

	// 服务器
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	scheduler    *cron.Cron

	// 运行控制
	stopCh chan struct{}
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initCollaborators(); err != nil {
		return nil, fmt.Errorf("failed to init collaborators: %w", err)
	}

	if err := app.initKafkaProducer(); err != nil {
		return nil, fmt.Errorf("failed to init kafka producer: %w", err)
	}

	app.initServices()

	if err := app.initKafkaConsumer(); err != nil {
		return nil, fmt.Errorf("failed to init kafka consumer: %w", err)
	}

	if err := app.initScheduler(); err != nil {
		return nil, fmt.Errorf("failed to init scheduler: %w", err)
	}

	app.initHTTP()
	app.initGRPC()

	return app, nil
}

// initInfrastructure 初始化数据库、Redis 与事件锁
func (a *App) initInfrastructure() error {
	db, err := gorm.Open(postgres.Open(a.cfg.Postgres.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	if a.cfg.Lock.Backend == "local" {
		a.locker = lock.NewLocalLocker()
		logger.Warn("using in-process event lock, run a single instance only")
		return nil
	}

	redisAddr := "localhost:6379"
	if len(a.cfg.Redis.Addresses) > 0 {
		redisAddr = a.cfg.Redis.Addresses[0]
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})
	if err := a.redis.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	logger.Info("redis connected", zap.String("addr", redisAddr))

	a.locker = lock.NewRedisLocker(a.redis, lock.RedisLockerConfig{
		KeyPrefix:     a.cfg.Service.Name + ":lock:",
		Expiration:    a.cfg.Lock.Expiration,
		RetryInterval: a.cfg.Lock.RetryInterval,
		MaxRetries:    a.cfg.Lock.MaxRetries,
	})
	return nil
}

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.DepositRecord{},
		&model.RedemptionRecord{},
		&model.BridgingRecord{},
		&model.ValidatorChain{},
		&model.Attestation{},
		&model.SigningRequest{},
		&model.SettlementBatch{},
	)
}

// initCollaborators 初始化注册表、EVM 交易参数与 BTC 构造器
func (a *App) initCollaborators() error {
	a.chains = registry.NewChainRegistry(a.cfg.Chains)
	a.params = registry.NewParamRegistry(a.cfg.Bridge)
	a.oracle = blockchain.NewClient(a.cfg.Chains, a.cfg.EVM)

	builder, err := btc.NewBuilder(btc.BuilderConfig{
		Network:       a.cfg.Bridge.BtcNetwork,
		ChangeAddress: a.cfg.Bridge.ChangeAddress,
	})
	if err != nil {
		return fmt.Errorf("failed to create btc builder: %w", err)
	}
	a.builder = builder

	logger.Info("collaborators initialized",
		zap.Int("chains", len(a.cfg.Chains)),
		zap.String("btc_network", a.cfg.Bridge.BtcNetwork))
	return nil
}

// initKafkaProducer 签名请求、铸造指令与事件广播共用一个生产者
func (a *App) initKafkaProducer() error {
	if !a.cfg.Kafka.Enabled {
		logger.Warn("kafka disabled, signing results must be posted over HTTP")
		return nil
	}
	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return err
	}
	a.kafkaProducer = producer
	logger.Info("kafka producer initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initServices 初始化仓储与服务
func (a *App) initServices() {
	deposits := repository.NewDepositRepository(a.db)
	redemptions := repository.NewRedemptionRepository(a.db)
	bridgings := repository.NewBridgingRepository(a.db)
	auth := repository.NewAuthorizationRepository(a.db)
	requests := repository.NewSigningRepository(a.db)
	batches := repository.NewSettlementRepository(a.db)

	var (
		signer service.Signer      = logSigner{}
		ledger service.TokenLedger = logLedger{}
	)
	if a.kafkaProducer != nil {
		signer = a.kafkaProducer
		ledger = a.kafkaProducer
	}

	a.signingSvc = service.NewSigningService(requests, deposits, redemptions, bridgings,
		a.chains, a.params, signer, ledger, a.locker, a.cfg.Signing.Timeout)
	a.quorumSvc = service.NewQuorumService(deposits, redemptions, bridgings, auth, a.params, a.locker)
	a.depositSvc = service.NewDepositService(deposits, a.chains, a.params, a.signingSvc, a.oracle, a.builder, a.locker)
	a.redemptionSvc = service.NewRedemptionService(redemptions, a.chains, a.params, a.locker)
	a.bridgingSvc = service.NewBridgingService(bridgings, a.chains, a.params, a.signingSvc, a.oracle, a.locker)
	a.settlementSvc = service.NewSettlementService(bridgings, batches, a.params, a.builder, a.locker, a.cfg.Bridge.SettlementBatchLimit)
	a.adminSvc = service.NewAdminService(auth, deposits, redemptions, bridgings, a.chains)

	if a.kafkaProducer != nil {
		a.signingSvc.SetNotifier(a.kafkaProducer)
		a.settlementSvc.SetNotifier(a.kafkaProducer)
	}

	logger.Info("services initialized")
}

// initKafkaConsumer 消费签名结果
func (a *App) initKafkaConsumer() error {
	if a.kafkaProducer == nil {
		return nil
	}
	consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers:    a.cfg.Kafka.Brokers,
		GroupID:    a.cfg.Kafka.GroupID,
		Resumer:    a.signingSvc,
		DeadLetter: a.kafkaProducer,
	})
	if err != nil {
		return err
	}
	a.kafkaConsumer = consumer
	return nil
}

// initScheduler 注册定时任务
func (a *App) initScheduler() error {
	a.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := a.scheduler.AddFunc(a.cfg.Signing.SweepCron, a.sweep); err != nil {
		return fmt.Errorf("invalid sweep cron %q: %w", a.cfg.Signing.SweepCron, err)
	}
	return nil
}

// sweep 签名超时与重试耗尽的充值
func (a *App) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if n, err := a.signingSvc.SweepExpired(ctx); err != nil {
		logger.Error("sweep expired signing requests failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("expired signing requests failed", zap.Int("count", n))
	}

	stuck, err := a.depositSvc.ListStuckForRefund(ctx, refundSweepLimit)
	if err != nil {
		logger.Error("list stuck deposits failed", zap.Error(err))
		return
	}
	for _, rec := range stuck {
		if _, err := a.depositSvc.Rollback(ctx, rec.BtcTxnHash); err != nil {
			logger.Warn("move deposit to refunding failed",
				zap.String("btc_txn_hash", rec.BtcTxnHash),
				zap.Error(err))
		}
	}
}

// initHTTP 初始化 HTTP 服务
func (a *App) initHTTP() {
	if a.cfg.Service.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	if a.cfg.Service.AdminKey == "" {
		logger.Warn("admin_key not configured, admin API is disabled")
	}

	engine := router.New(&router.Handlers{
		Attestation: handler.NewAttestationHandler(a.quorumSvc),
		Deposit:     handler.NewDepositHandler(a.depositSvc),
		Redemption:  handler.NewRedemptionHandler(a.redemptionSvc),
		Bridging:    handler.NewBridgingHandler(a.bridgingSvc),
		Settlement:  handler.NewSettlementHandler(a.settlementSvc),
		Signing:     handler.NewSigningHandler(a.signingSvc),
		Admin:       handler.NewAdminHandler(a.adminSvc),
	}, a.cfg.Service.AdminKey, a.healthCheck)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// initGRPC 初始化 gRPC 健康检查
func (a *App) initGRPC() {
	a.grpcServer = grpc.NewServer()
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
}

// healthCheck 数据库与 Redis 连通性
func (a *App) healthCheck(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Run 运行应用
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start kafka consumer: %w", err)
		}
	}

	a.scheduler.Start()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("gRPC server listening", zap.Int("port", a.cfg.Service.GRPCPort))
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", a.cfg.Service.HTTPPort))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	}

	return a.shutdown()
}

// shutdown 关闭应用
func (a *App) shutdown() error {
	logger.Info("shutting down...")

	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 等待正在执行的定时任务
	if a.scheduler != nil {
		<-a.scheduler.Stop().Done()
	}

	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Stop(); err != nil {
			logger.Error("kafka consumer stop error", zap.Error(err))
		}
	}

	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	if a.kafkaProducer != nil {
		if err := a.kafkaProducer.Close(); err != nil {
			logger.Error("kafka producer close error", zap.Error(err))
		}
	}

	if a.oracle != nil {
		a.oracle.Close()
	}

	if a.redis != nil {
		a.redis.Close()
	}

	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// Stop 停止应用
func (a *App) Stop() {
	close(a.stopCh)
}
