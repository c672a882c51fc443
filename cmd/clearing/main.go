// Package main 收款行服务：单独对外提供跨行结算协议，用于联调与演练
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	accountdomain "github.com/wyfcoding/banksettlement/internal/account/domain"
	accountmemory "github.com/wyfcoding/banksettlement/internal/account/infrastructure/persistence/memory"
	accountmysql "github.com/wyfcoding/banksettlement/internal/account/infrastructure/persistence/mysql"
	"github.com/wyfcoding/banksettlement/internal/clearing/application"
	"github.com/wyfcoding/banksettlement/internal/clearing/domain"
	"github.com/wyfcoding/banksettlement/internal/clearing/infrastructure/barrier"
	grpcserver "github.com/wyfcoding/banksettlement/internal/clearing/interfaces/grpc"
	httpserver "github.com/wyfcoding/banksettlement/internal/clearing/interfaces/http"
	treasury "github.com/wyfcoding/banksettlement/internal/treasury/application"
	ratememory "github.com/wyfcoding/banksettlement/internal/treasury/infrastructure/persistence/memory"
	ratemysql "github.com/wyfcoding/banksettlement/internal/treasury/infrastructure/persistence/mysql"
	"github.com/wyfcoding/banksettlement/pkg/config"
	"github.com/wyfcoding/banksettlement/pkg/db"
	"github.com/wyfcoding/banksettlement/pkg/logger"
	"github.com/wyfcoding/banksettlement/pkg/metrics"
	"github.com/wyfcoding/banksettlement/pkg/middleware"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

func main() {
	configPath := flag.String("config", "configs/clearing.toml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.Init(logger.Config{
		Service: cfg.ServiceName,
		Level:   cfg.Logger.Level,
		Format:  cfg.Logger.Format,
		Output:  "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := newService(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build clearing service", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	m := metrics.New(cfg.ServiceName)
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.GinRequestID(), middleware.GinLogging(log, m), middleware.GinRecovery(log))
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	httpserver.NewHandler(svc).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:     router,
		ReadTimeout: time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
	}

	grpcSrv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(middleware.GRPCRecovery(log), middleware.GRPCLogging(log)),
	)
	grpcserver.Register(grpcSrv, svc)
	reflection.Register(grpcSrv)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port))
		if err != nil {
			return err
		}
		log.Info("starting gRPC server", "addr", lis.Addr().String())
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("clearing service stopped with error", "error", err)
		os.Exit(1)
	}
}

func newService(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application.Service, func(), error) {
	resolverCfg := treasury.ResolverConfig{
		HomeCurrency: strings.ToUpper(cfg.Bank.HomeCurrency),
		Commission:   decimal.NewFromInt(1),
		AmountScale:  cfg.Bank.AmountScale,
	}
	svcCfg := application.Config{FeeRate: cfg.Interbank.FeeRate(), AmountScale: cfg.Bank.AmountScale}

	if cfg.Database.Driver == "memory" {
		ledger := accountmemory.NewLedger(demoAccounts(cfg.Interbank.PartnerPrefixes)...)
		rates := treasury.NewRateResolver(ratememory.NewRateRepository(), resolverCfg, log)
		for _, cmd := range []treasury.SaveRateCommand{
			{From: "EUR", To: "USD", Rate: decimal.RequireFromString("1.08"), Source: "seed"},
			{From: "USD", To: "EUR", Rate: decimal.RequireFromString("0.925"), Source: "seed"},
			{From: "EUR", To: "RSD", Rate: decimal.RequireFromString("117.20"), Source: "seed"},
			{From: "USD", To: "RSD", Rate: decimal.RequireFromString("108.50"), Source: "seed"},
		} {
			if err := rates.SaveRate(ctx, cmd); err != nil {
				return nil, nil, err
			}
		}
		var guard domain.BranchGuard = barrier.NewMemoryGuard(ledger)
		return application.NewService(ledger, rates, guard, svcCfg, log), func() {}, nil
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
		return nil, nil, err
	}
	cleanup := func() { _ = database.Close() }
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, &accountmysql.AccountModel{}, &ratemysql.ExchangeRateModel{}); err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := barrier.Migrate(database.DB, database.Driver()); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	rates := treasury.NewRateResolver(ratemysql.NewRateRepository(database.DB), resolverCfg, log)
	svc := application.NewService(accountmysql.NewLedger(database.DB), rates,
		barrier.NewSQLGuard(database.DB, database.Driver()), svcCfg, log)
	return svc, cleanup, nil
}

// demoAccounts 对手行的演示账户，账号使用对手行前缀
func demoAccounts(prefixes []string) []*accountdomain.Account {
	prefix := "222"
	if len(prefixes) > 0 && prefixes[0] != "" {
		prefix = prefixes[0]
	}
	var out []*accountdomain.Account
	for i, cur := range []string{"RSD", "EUR", "USD"} {
		out = append(out, &accountdomain.Account{
			AccountNumber:    fmt.Sprintf("%s00010000000%d", prefix, i+1),
			ClientID:         int64(i + 1),
			OwnerName:        "Partner client " + cur,
			Currency:         cur,
			Balance:          decimal.Zero,
			AvailableBalance: decimal.Zero,
			Status:           accountdomain.AccountStatusActive,
			Kind:             accountdomain.AccountKindClient,
		})
	}
	return out
}
