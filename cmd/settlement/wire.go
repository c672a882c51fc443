package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	accountapp "github.com/wyfcoding/banksettlement/internal/account/application"
	accountdomain "github.com/wyfcoding/banksettlement/internal/account/domain"
	accountmemory "github.com/wyfcoding/banksettlement/internal/account/infrastructure/persistence/memory"
	accountmysql "github.com/wyfcoding/banksettlement/internal/account/infrastructure/persistence/mysql"
	accounthttp "github.com/wyfcoding/banksettlement/internal/account/interfaces/http"
	clearingapp "github.com/wyfcoding/banksettlement/internal/clearing/application"
	clearing "github.com/wyfcoding/banksettlement/internal/clearing/domain"
	"github.com/wyfcoding/banksettlement/internal/clearing/infrastructure/barrier"
	clearinggrpc "github.com/wyfcoding/banksettlement/internal/clearing/interfaces/grpc"
	clearinghttp "github.com/wyfcoding/banksettlement/internal/clearing/interfaces/http"
	settlementapp "github.com/wyfcoding/banksettlement/internal/settlement/application"
	settlement "github.com/wyfcoding/banksettlement/internal/settlement/domain"
	"github.com/wyfcoding/banksettlement/internal/settlement/infrastructure/client"
	kafkaqueue "github.com/wyfcoding/banksettlement/internal/settlement/infrastructure/messaging/kafka"
	memoryqueue "github.com/wyfcoding/banksettlement/internal/settlement/infrastructure/messaging/memory"
	"github.com/wyfcoding/banksettlement/internal/settlement/infrastructure/partner"
	paymentmemory "github.com/wyfcoding/banksettlement/internal/settlement/infrastructure/persistence/memory"
	paymentmysql "github.com/wyfcoding/banksettlement/internal/settlement/infrastructure/persistence/mysql"
	"github.com/wyfcoding/banksettlement/internal/settlement/interfaces/consumer"
	settlementhttp "github.com/wyfcoding/banksettlement/internal/settlement/interfaces/http"
	treasuryapp "github.com/wyfcoding/banksettlement/internal/treasury/application"
	treasurydomain "github.com/wyfcoding/banksettlement/internal/treasury/domain"
	"github.com/wyfcoding/banksettlement/internal/treasury/infrastructure/persistence"
	ratememory "github.com/wyfcoding/banksettlement/internal/treasury/infrastructure/persistence/memory"
	ratemysql "github.com/wyfcoding/banksettlement/internal/treasury/infrastructure/persistence/mysql"
	rateredis "github.com/wyfcoding/banksettlement/internal/treasury/infrastructure/persistence/redis"
	treasuryhttp "github.com/wyfcoding/banksettlement/internal/treasury/interfaces/http"
	verificationapp "github.com/wyfcoding/banksettlement/internal/verification/application"
	verificationdomain "github.com/wyfcoding/banksettlement/internal/verification/domain"
	verificationmemory "github.com/wyfcoding/banksettlement/internal/verification/infrastructure/persistence/memory"
	verificationmysql "github.com/wyfcoding/banksettlement/internal/verification/infrastructure/persistence/mysql"
	verificationhttp "github.com/wyfcoding/banksettlement/internal/verification/interfaces/http"
	"github.com/wyfcoding/banksettlement/pkg/cache"
	"github.com/wyfcoding/banksettlement/pkg/config"
	"github.com/wyfcoding/banksettlement/pkg/db"
	"github.com/wyfcoding/banksettlement/pkg/grpcclient"
	"github.com/wyfcoding/banksettlement/pkg/idgen"
	"github.com/wyfcoding/banksettlement/pkg/metrics"
	"github.com/wyfcoding/banksettlement/pkg/middleware"
	"github.com/wyfcoding/banksettlement/pkg/mq"
	"github.com/wyfcoding/banksettlement/pkg/ratelimit"
	"github.com/wyfcoding/banksettlement/pkg/retry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

type worker func(ctx context.Context) error

type app struct {
	router  *gin.Engine
	grpc    *grpc.Server
	workers map[string]worker
	closers []func() error
	log     *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("close resource", "error", err)
		}
	}
}

// stores 各模块的持久化实现
type stores struct {
	ledger       accountdomain.Ledger
	payments     settlement.PaymentRepository
	rates        treasurydomain.RateRepository
	verification verificationdomain.Repository
	guard        clearing.BranchGuard
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{workers: make(map[string]worker), log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.ServiceName)
	}
	ids, err := idgen.NewSnowflake(cfg.Bank.NodeID)
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg, log, a)
	if err != nil {
		return nil, err
	}

	var limiter ratelimit.Limiter
	if cfg.Redis.Enabled {
		rc, err := cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			Namespace:    cfg.ServiceName,
		}, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		ttl := time.Duration(cfg.Redis.RateTTL) * time.Second
		st.rates = persistence.NewCompositeRateRepository(st.rates, rateredis.NewRateCache(rc, ttl), log)
		limiter = ratelimit.NewRedisLimiter(rc.GetClient())
	}

	home := strings.ToUpper(cfg.Bank.HomeCurrency)
	resolver := treasuryapp.NewRateResolver(st.rates, treasuryapp.ResolverConfig{
		HomeCurrency: home,
		Commission:   cfg.Bank.CommissionRate(),
		AmountScale:  cfg.Bank.AmountScale,
	}, log)
	if cfg.Database.Driver == "memory" {
		if err := seedRates(ctx, resolver); err != nil {
			return nil, err
		}
	}

	// 收款行
	receiver := clearingapp.NewService(st.ledger, resolver, st.guard, clearingapp.Config{
		FeeRate:     cfg.Interbank.FeeRate(),
		AmountScale: cfg.Bank.AmountScale,
	}, log)

	// 付款行
	bank, err := partnerBank(cfg, log, receiver, a)
	if err != nil {
		return nil, err
	}

	queue, runQueue, err := transactionQueue(cfg, log, a)
	if err != nil {
		return nil, err
	}

	sender := settlementapp.NewInterbankSender(st.payments, st.ledger, bank, queue, settlementapp.SenderConfig{
		Policy:           retry.Policy{MaxAttempts: cfg.Interbank.MaxAttempts, Delay: cfg.Interbank.RetryInterval()},
		RecoveryAfter:    time.Duration(cfg.Interbank.RecoveryAfter) * time.Second,
		RecoveryInterval: time.Duration(cfg.Interbank.RecoveryInterval) * time.Second,
		RecoveryBatch:    100,
	}, m, log)
	settler := settlementapp.NewSettlementService(st.payments, st.ledger, resolver, sender, m, log)

	verifier := verificationapp.NewService(st.verification, ids, verificationapp.Config{
		TTL:           cfg.Verification.Expiry(),
		MaxAttempts:   cfg.Verification.MaxAttempts,
		SweepInterval: time.Duration(cfg.Verification.SweepInterval) * time.Second,
	}, log)
	var gateway settlement.VerificationGateway = client.NewLocalVerification(verifier)
	if cfg.Verification.Mode == "remote" {
		gateway = client.NewRemoteVerification(cfg.Verification.URL, 5*time.Second)
	}
	var clients settlement.ClientDirectory
	if cfg.Services.UserURL != "" {
		clients = client.NewUserDirectory(cfg.Services.UserURL, 5*time.Second)
	}

	gate := settlementapp.NewPaymentCommandService(settlementapp.GateDeps{
		Payments:     st.payments,
		Ledger:       st.ledger,
		Clients:      clients,
		Verification: gateway,
		Queue:        queue,
		Router:       settlement.NewAccountRouter(cfg.Interbank.PartnerPrefixes),
		IDs:          ids,
		HomeCurrency: home,
		AmountScale:  cfg.Bank.AmountScale,
		Metrics:      m,
		Logger:       log,
	})
	verifier.SetDecider(gate)

	dispatcher := consumer.NewDispatcher(settler, sender, nil, m, log)
	a.workers["transaction-queue"] = func(ctx context.Context) error { return runQueue(ctx, dispatcher) }
	a.workers["interbank-recovery"] = sender.RunRecovery
	if cfg.Verification.Mode != "remote" {
		a.workers["verification-sweeper"] = verifier.RunSweeper
	}

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		otelgin.Middleware(cfg.ServiceName),
		middleware.GinRequestID(),
		middleware.GinLogging(log, m),
		middleware.GinRecovery(log),
	)
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if m != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	var paymentLimit, interbankLimit []gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		if limiter == nil {
			limiter = ratelimit.NewLocalLimiter()
		}
		limit := ratelimit.PerSecond(cfg.RateLimit.QPS, cfg.RateLimit.Burst)
		paymentLimit = append(paymentLimit, middleware.RateLimit(limiter, "payments", limit, middleware.ByClient, log))
		interbankLimit = append(interbankLimit, middleware.RateLimit(limiter, "interbank", limit, middleware.ByIP, log))
	}

	var internal []gin.HandlerFunc
	if cfg.Services.InternalToken != "" {
		internal = append(internal, middleware.RequireServiceToken(cfg.Services.InternalToken))
	}

	accounthttp.NewAccountHandler(accountapp.NewAccountQueryService(st.ledger)).RegisterRoutes(router)
	treasuryhttp.NewRateHandler(resolver).RegisterRoutes(router)
	settlementhttp.NewHandler(gate, settlementapp.NewPaymentQueryService(st.payments)).RegisterRoutes(router, paymentLimit, internal...)
	verificationhttp.NewHandler(verifier).RegisterRoutes(router, internal...)
	clearinghttp.NewHandler(receiver).RegisterRoutes(router, interbankLimit...)
	a.router = router

	// gRPC
	a.grpc = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(middleware.GRPCRecovery(log), middleware.GRPCLogging(log)),
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentStreams)),
	)
	clearinggrpc.Register(a.grpc, receiver)

	ok = true
	return a, nil
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger, a *app) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory storage, data is lost on restart")
		ledger := accountmemory.NewLedger(seedAccounts(cfg.Bank.HomeCurrency)...)
		return &stores{
			ledger:       ledger,
			payments:     paymentmemory.NewPaymentRepository(),
			rates:        ratememory.NewRateRepository(),
			verification: verificationmemory.NewRepository(),
			guard:        barrier.NewMemoryGuard(ledger),
		}, nil
	}

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	}, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, database.Close)

	if cfg.Database.AutoMigrate {
		err := database.Migrate(ctx,
			&accountmysql.AccountModel{},
			&ratemysql.ExchangeRateModel{},
			&paymentmysql.PaymentModel{},
			&verificationmysql.RequestModel{},
		)
		if err != nil {
			return nil, err
		}
		if err := barrier.Migrate(database.DB, database.Driver()); err != nil {
			return nil, fmt.Errorf("migrate barrier table: %w", err)
		}
	}

	return &stores{
		ledger:       accountmysql.NewLedger(database.DB),
		payments:     paymentmysql.NewPaymentRepository(database.DB),
		rates:        ratemysql.NewRateRepository(database.DB),
		verification: verificationmysql.NewRepository(database.DB),
		guard:        barrier.NewSQLGuard(database.DB, database.Driver()),
	}, nil
}

// partnerBank 未配置对手行地址时回环到本行的收款服务
func partnerBank(cfg *config.Config, log *slog.Logger, loopback clearing.Protocol, a *app) (settlement.PartnerBank, error) {
	timeout := time.Duration(cfg.Interbank.Timeout) * time.Second
	var next clearing.Protocol
	switch {
	case cfg.Interbank.Transport == "grpc" && cfg.Interbank.Target != "":
		conn, err := grpcclient.NewClient(grpcclient.ClientConfig{
			Target:         cfg.Interbank.Target,
			ConnTimeout:    5,
			RequestTimeout: cfg.Interbank.Timeout,
			ContentSubtype: clearinggrpc.CodecName,
		}, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		next = partner.NewGRPCClient(conn)
	case cfg.Interbank.Transport == "http" && cfg.Interbank.BaseURL != "":
		next = partner.NewHTTPClient(cfg.Interbank.BaseURL, timeout)
	default:
		log.Warn("no partner bank configured, interbank payments loop back to the local clearing service")
		return loopback, nil
	}
	return partner.NewBreaker("interbank", next, partner.BreakerConfig{
		Failures:    uint32(cfg.Interbank.BreakerFailures),
		OpenTimeout: time.Duration(cfg.Interbank.BreakerTimeout) * time.Second,
	}, log), nil
}

// transactionQueue 配置了 Kafka 时使用持久化队列，否则使用进程内队列
func transactionQueue(cfg *config.Config, log *slog.Logger, a *app) (settlement.TransactionQueue, func(context.Context, *consumer.Dispatcher) error, error) {
	delay := time.Duration(cfg.Kafka.Delay) * time.Second
	if len(cfg.Kafka.Brokers) == 0 {
		q := memoryqueue.NewQueue(1024, delay, log)
		run := func(ctx context.Context, d *consumer.Dispatcher) error {
			return q.Run(ctx, cfg.Kafka.Workers, d.HandleMessage)
		}
		return q, run, nil
	}

	mqCfg := mq.Config{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	producer := mq.NewProducer(mqCfg, log)
	a.closers = append(a.closers, producer.Close)
	live := mq.NewConsumer(mqCfg, cfg.Kafka.Topic, log)
	delayed := mq.NewConsumer(mqCfg, cfg.Kafka.DelayTopic, log, mq.WithDelay(delay))
	a.closers = append(a.closers, live.Close, delayed.Close)

	run := func(ctx context.Context, d *consumer.Dispatcher) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return live.Run(ctx, d.KafkaHandler()) })
		g.Go(func() error { return delayed.Run(ctx, d.KafkaHandler()) })
		return g.Wait()
	}
	return kafkaqueue.NewQueue(producer, cfg.Kafka.Topic, cfg.Kafka.DelayTopic, log), run, nil
}
