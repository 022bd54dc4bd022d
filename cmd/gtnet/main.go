package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/grafioschtrader/gtnet/internal/gtnet/application"
	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/internal/gtnet/infrastructure/messaging"
	"github.com/grafioschtrader/gtnet/internal/gtnet/infrastructure/persistence/mysql"
	redisrepo "github.com/grafioschtrader/gtnet/internal/gtnet/infrastructure/persistence/redis"
	grpcserver "github.com/grafioschtrader/gtnet/internal/gtnet/interfaces/grpc"
	httpserver "github.com/grafioschtrader/gtnet/internal/gtnet/interfaces/http"
	"github.com/grafioschtrader/gtnet/pkg/cache"
	"github.com/grafioschtrader/gtnet/pkg/config"
	"github.com/grafioschtrader/gtnet/pkg/db"
	"github.com/grafioschtrader/gtnet/pkg/logger"
	"github.com/grafioschtrader/gtnet/pkg/metrics"
	"github.com/grafioschtrader/gtnet/pkg/middleware"
	"github.com/grafioschtrader/gtnet/pkg/mq"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var configPath = flag.String("config", "configs/gtnet/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error(ctx, "gtnet exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "gtnet exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	// 3. 初始化指标
	m := metrics.New()

	// 4. 初始化基础设施
	database, err := db.Init(ctx, db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if cfg.Database.AutoMigrate {
		if err := mysql.AutoMigrate(ctx, database); err != nil {
			return err
		}
		if err := messaging.AutoMigrate(ctx, database.DB); err != nil {
			return fmt.Errorf("outbox auto migrate: %w", err)
		}
	}

	// 5. 初始化仓储
	peers := mysql.NewPeerRepository(database)
	states := mysql.NewExchangeStateRepository(database)
	messages := mysql.NewMessageRepository(database)
	rules := mysql.NewRuleRepository(database)
	pool := mysql.NewInstrumentPoolRepository(database)
	local := mysql.NewLocalInstrumentRepository(database)
	tx := mysql.NewTxManager(database)

	scheduler := messaging.NewOutboxScheduler(database.DB, cfg.GTNet.ExchangeSyncTopic)
	negotiator := application.NewExchangeNegotiator(states, scheduler)
	defaultMode := domain.AcceptModeByName(cfg.GTNet.DefaultAcceptMode)
	if err := ensureLocalPeer(ctx, peers, negotiator, cfg.GTNet.LocalDomain, defaultMode); err != nil {
		return err
	}

	opts := []application.ServiceOption{application.WithMetrics(m)}
	if cfg.Redis.Addr != "" {
		client, err := cache.New(ctx, cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		opts = append(opts, application.WithRequestCounter(redisrepo.NewDailyRequestCounter(client)))
	}

	// 6. 初始化应用服务
	threshold := cfg.GTNet.HistoryBatchThresholdDays
	history := application.NewHistoryquoteService(
		application.NewOpenStrategy(local, local, threshold, time.Now),
		application.NewPushOpenStrategy(pool, local, local, threshold, time.Now),
	)
	deps := &application.Dependencies{
		Pipeline:   &application.PipelineDeps{Messages: messages, Resolver: application.NewResolver(rules, m)},
		Peers:      peers,
		States:     states,
		Negotiator: negotiator,
		History:    history,
		Policy: application.Policy{
			AcceptUnknownPeers: cfg.GTNet.AcceptUnknownPeers,
			DefaultAcceptMode:  defaultMode,
		},
	}
	registry, err := application.NewRegistry(application.DefaultHandlers(deps)...)
	if err != nil {
		return err
	}
	service := application.NewMessageService(registry, peers, messages, rules, tx, opts...)

	// 7. 初始化接口层
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.GinRecoveryMiddleware(), middleware.GinLoggingMiddleware(m))
	httpserver.NewGTNetHandler(service).RegisterRoutes(r)
	if cfg.Metrics.Enabled {
		httpserver.RegisterMetrics(r, cfg.Metrics.Path, m)
	}
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 8. 启动服务
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(ctx, "HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var grpcSrv *grpc.Server
	if cfg.GRPC.Enabled {
		grpcSrv = grpc.NewServer(grpc.ChainUnaryInterceptor(
			middleware.GRPCRecoveryInterceptor(),
			middleware.GRPCLoggingInterceptor(),
		))
		health := grpcserver.NewHealthServer(grpcSrv, service, cfg.GTNet.HealthPollInterval())
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr())
			if err != nil {
				return err
			}
			logger.Info(ctx, "gRPC server starting", "addr", cfg.GRPC.Addr())
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error { return health.Run(ctx) })
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewProducer(mq.KafkaConfig{Brokers: cfg.Kafka.Brokers, WriteTimeout: cfg.Kafka.WriteTimeout})
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
		relay := messaging.NewRelay(database.DB, producer, m, messaging.RelayConfig{
			Interval:  cfg.GTNet.OutboxRelayInterval(),
			BatchSize: cfg.GTNet.OutboxBatchSize,
		})
		g.Go(func() error { return relay.Run(ctx) })
	} else {
		logger.Warn(ctx, "kafka brokers not configured, exchange sync tasks stay in the outbox")
	}

	// 9. 优雅关闭
	g.Go(func() error {
		<-ctx.Done()
		logger.Info(context.Background(), "shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ensureLocalPeer 首次启动时创建本地节点记录，并补齐本地各数据种类的接受模式
func ensureLocalPeer(ctx context.Context, peers domain.PeerRepository, negotiator *application.ExchangeNegotiator,
	localDomain string, mode domain.AcceptMode) error {
	local, err := peers.FindLocal(ctx)
	if err != nil {
		return err
	}
	if local != nil && local.DomainName != localDomain {
		logger.Warn(ctx, "configured local domain differs from stored local peer",
			"configured", localDomain, "stored", local.DomainName)
	}
	if local == nil {
		local = &domain.Peer{
			DomainName:   localDomain,
			TimeZone:     "UTC",
			IsLocal:      true,
			OnlineStatus: domain.OnlineStatusOnline,
			ServerState:  domain.ServerStateOpen,
		}
		if err := peers.Save(ctx, local); err != nil {
			return fmt.Errorf("create local peer: %w", err)
		}
		logger.Info(ctx, "local peer created", "domain", localDomain)
	}
	created, err := negotiator.EnsureLocalStates(ctx, local, mode, time.Now())
	if err != nil {
		return fmt.Errorf("seed local exchange states: %w", err)
	}
	if created > 0 {
		logger.Info(ctx, "local exchange states seeded", "count", created, "accept_mode", mode.String())
	}
	return nil
}
