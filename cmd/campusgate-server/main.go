package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/campusgate/server/internal/config"
	"github.com/campusgate/server/internal/db"
	"github.com/campusgate/server/internal/gate/lock"
	"github.com/campusgate/server/internal/gate/service"
	"github.com/campusgate/server/internal/gate/store"
	"github.com/campusgate/server/internal/gate/store/memory"
	"github.com/campusgate/server/internal/gate/store/postgres"
	"github.com/campusgate/server/internal/gate/store/sqlite"
	"github.com/campusgate/server/internal/gate/types"
	"github.com/campusgate/server/internal/httpapi"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("campusgate-server stopped")
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano, FullTimestamp: true})
	}
	return l
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.WithField("component", "main")

	// Store
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Identity locks
	locker, closeLocker, err := openLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	// Services
	policy := service.DefaultAccessPolicy()
	if len(cfg.AllowedStates) > 0 {
		policy = service.AccessPolicy{}
		for _, s := range cfg.AllowedStates {
			policy.AllowedStates = append(policy.AllowedStates, types.LifecycleState(s))
		}
	}
	clock := service.SystemClock()

	issuer := service.NewIssuer(st, st, clock, logger.WithField("component", "issuer"))
	recorder := service.NewRecorder(st, locker, policy, clock, logger.WithField("component", "recorder"))
	expirer := service.NewExpirer(st, recorder, clock, logger.WithField("component", "expirer"))
	resolver := service.NewResolver(st, issuer, expirer, service.ResolverConfig{
		AutoProvision: cfg.AutoProvision,
	}, clock, logger.WithField("component", "resolver"))
	status := service.NewStatusQuery(st, policy, cfg.Location(), clock)

	sweeper := service.NewExpirySweeper(expirer, service.SweeperConfig{
		Interval:    cfg.SweepInterval,
		WarningLead: cfg.WarningLead,
	}, logger.WithField("component", "sweeper"))
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// gRPC health
	if cfg.GRPCAddr != "" {
		stopGRPC, err := startHealthServer(cfg.GRPCAddr, log)
		if err != nil {
			return err
		}
		defer stopGRPC()
	}

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger.WithField("component", "http"),
		Addr:     cfg.HTTPAddr,
		Resolver: resolver,
		Recorder: recorder,
		Issuer:   issuer,
		Expirer:  expirer,
		Status:   status,
	})

	go func() {
		log.WithFields(logrus.Fields{
			"addr":           cfg.HTTPAddr,
			"store":          cfg.StoreDriver,
			"auto_provision": cfg.AutoProvision,
		}).Info("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil

	case "postgres":
		conn, err := db.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.New(conn), func() { conn.Close() }, nil

	default:
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := seed(ctx, cfg, conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		writer := db.NewWorker(conn)
		return sqlite.New(conn, writer), func() {
			writer.Close()
			conn.Close()
		}, nil
	}
}

// seed fills a fresh dev database with demo members. Only the SQLite store
// is seeded.
func seed(ctx context.Context, cfg config.Config, conn *sql.DB) error {
	if cfg.Env != "dev" {
		return nil
	}
	if err := db.SeedDev(ctx, conn, db.SeedDevOptions{DocumentNumbers: cfg.SeedDocuments}); err != nil {
		return fmt.Errorf("seed dev data: %w", err)
	}
	return nil
}

func openLocker(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewKeyedMutex(cfg.LockWait), func() {}, nil
	}

	rl, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
		URL:  cfg.RedisURL,
		Wait: cfg.LockWait,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("identity locks shared through redis")
	return rl, func() { _ = rl.Close() }, nil
}

func startHealthServer(addr string, log logrus.FieldLogger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}

	gs := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	go func() {
		log.WithField("addr", addr).Info("grpc health listening")
		if err := gs.Serve(lis); err != nil {
			log.WithError(err).Error("grpc server error")
		}
	}()

	return func() {
		hs.Shutdown()
		gs.GracefulStop()
	}, nil
}
