package main

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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/xela07ax/groupflow/internal/admission"
	"github.com/xela07ax/groupflow/internal/approvers"
	"github.com/xela07ax/groupflow/internal/audit"
	"github.com/xela07ax/groupflow/internal/console/handler"
	"github.com/xela07ax/groupflow/internal/console/server"
	"github.com/xela07ax/groupflow/internal/console/service"
	"github.com/xela07ax/groupflow/internal/infra"
	"github.com/xela07ax/groupflow/internal/infra/auth"
	"github.com/xela07ax/groupflow/internal/metrics"
	"github.com/xela07ax/groupflow/internal/notify"
	"github.com/xela07ax/groupflow/internal/workflow"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	addUser := pflag.String("add-user", "", "create a local user and exit (password from GROUPFLOW_PASSWORD)")
	email := pflag.String("email", "", "email of the user created with --add-user")
	rank := pflag.String("rank", "", "rank of the user created with --add-user")
	pflag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *addUser != "" {
		err = createUser(cfg, logger, *addUser, *email, *rank)
	} else {
		err = run(cfg, logger)
	}
	if err != nil {
		logger.Fatal("console exited with error", zap.Error(err))
	}
}

func createUser(cfg *infra.Config, logger *zap.Logger, username, email, rank string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := openStorage(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.close()

	svc := service.NewAuthService(store.users, nil, cfg.Auth.BcryptCost)
	user, err := svc.Register(ctx, username, email, os.Getenv("GROUPFLOW_PASSWORD"), rank)
	if err != nil {
		return err
	}
	logger.Info("user created", zap.String("id", user.ID), zap.String("username", user.Username), zap.String("rank", user.Rank))
	return nil
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизненного цикла: SIGINT/SIGTERM отменяет его
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура и ресурсы
	initCtx, cancel := context.WithTimeout(appCtx, 15*time.Second)
	defer cancel()

	store, err := openStorage(initCtx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.close()

	var rdb *redis.Client
	if cfg.Notify.Backend == "redis" || cfg.Sequence.Backend == "redis" {
		if rdb, err = newRedis(initCtx, cfg.Redis); err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}

	reg := newRegistry()
	m := metrics.NewMetrics(reg)

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return fmt.Errorf("auth public key: %w", err)
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		return fmt.Errorf("auth private key: %w", err)
	}

	// 2. Аудит: пишет пачками в фоне
	recorder := audit.NewRecorder(store.audit, cfg.Audit, m, logger)
	recorder.Start()
	defer recorder.Stop()

	// 3. Ядро: каталог, полномочия, допуск, номера групп, уведомления
	gateway := newDirectory(cfg.Directory, m, logger)
	authority := approvers.NewAuthority(cfg.Approvers, store.users, logger)
	// Прогрев кэша согласующих: ошибка не фатальна, список подтянется при первом чтении
	if _, err := authority.DefaultApprovers(initCtx); err != nil {
		logger.Warn("approvers warm-up failed", zap.Error(err))
	}

	ids, err := newGenerator(initCtx, cfg.Sequence, store.counter, rdb, logger)
	if err != nil {
		return err
	}

	var notifier workflow.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notify.Backend == "redis" {
		notifier = notify.NewRedisPublisher(rdb, logger)
	}

	flow := workflow.NewService(workflow.Deps{
		Repo:      store.requests,
		Directory: gateway,
		Authority: authority,
		Admission: admission.NewController(cfg.Admission, gateway, m, logger),
		IDs:       ids,
		Notifier:  notifier,
		Auditor:   recorder,
		Metrics:   m,
		Logger:    logger,
	})

	// 4. Transport: REST
	authSvc := service.NewAuthService(store.users, auth.NewSigner(privKey, cfg.Auth.TokenTTL), cfg.Auth.BcryptCost)
	console := server.NewConsoleServer(auth.NewVerifier(pubKey), reg, server.Handlers{
		Auth:      handler.NewAuthHandler(authSvc, logger),
		Requests:  handler.NewRequestHandler(flow, logger),
		Directory: handler.NewDirectoryHandler(authority, gateway, logger),
		Audit:     handler.NewAuditHandler(service.NewAuditService(store.audit), logger),
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 5. gRPC health для оркестратора
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC health server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()
	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// 6. Graceful Shutdown
	select {
	case <-appCtx.Done():
		logger.Info("console stopping...")
	case err = <-errCh:
		logger.Error("server failed, stopping", zap.Error(err))
	}

	healthSrv.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("server shutdown failed", zap.Error(shutdownErr))
	}
	grpcSrv.GracefulStop()
	logger.Info("console exited properly")
	return err
}
