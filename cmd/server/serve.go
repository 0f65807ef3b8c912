package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"canon/internal/audit/outbox"
	identityhandler "canon/internal/identity/handler"
	"canon/internal/identity/lock"
	identitymetrics "canon/internal/identity/metrics"
	identityservice "canon/internal/identity/service"
	identitystore "canon/internal/identity/store"
	jwttoken "canon/internal/jwt_token"
	"canon/internal/platform/config"
	"canon/internal/platform/httpserver"
	"canon/internal/platform/kafka"
	"canon/internal/platform/logger"
	platformmetrics "canon/internal/platform/metrics"
	"canon/internal/platform/postgres"
	platformredis "canon/internal/platform/redis"
	"canon/internal/policy"
	policyhandler "canon/internal/policy/handler"
	policymetrics "canon/internal/policy/metrics"
	"canon/internal/policy/ports"
	"canon/internal/risk/engine"
	riskhandler "canon/internal/risk/handler"
	riskmetrics "canon/internal/risk/metrics"
	riskservice "canon/internal/risk/service"
	"canon/pkg/platform/middleware/auth"
	"canon/pkg/platform/middleware/metadata"
	request "canon/pkg/platform/middleware/request"
	"canon/pkg/platform/middleware/requesttime"
)

// deps are the long-lived resources built once per process.
type deps struct {
	store    identityservice.Store
	db       *sql.DB
	redis    *platformredis.Client
	producer *kafka.Producer
}

func (d *deps) Close() {
	if d.producer != nil {
		d.producer.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrate, _ := cmd.Flags().GetBool("migrate")
	d, err := buildDeps(ctx, cfg, migrate, log)
	if err != nil {
		return err
	}
	defer d.Close()

	riskPolicy, err := engine.LoadPolicy(cfg.Risk.PolicyFile)
	if err != nil {
		return err
	}
	eng, err := engine.New(riskPolicy)
	if err != nil {
		return err
	}

	locker := lock.Locker(lock.NewLocal())
	if d.redis != nil {
		locker = lock.NewFallback(
			lock.NewRedis(d.redis.Client, lock.WithTTL(cfg.Redis.LockTTL)),
			lock.NewLocal(),
			log,
		)
	}

	identities := identityservice.New(d.store,
		identityservice.WithLogger(log),
		identityservice.WithMetrics(identitymetrics.New()),
		identityservice.WithLocker(locker),
		identityservice.WithMatchWeights(riskPolicy.Matching),
	)
	risk := riskservice.New(d.store, eng,
		riskservice.WithLogger(log),
		riskservice.WithMetrics(riskmetrics.New()),
	)

	gate, err := buildGate(cfg, d, log)
	if err != nil {
		return err
	}

	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer))
	router := newRouter(log, validator,
		identityhandler.New(identities, log),
		riskhandler.New(risk, log),
		policyhandler.New(gate, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	log.InfoContext(ctx, "starting canon", "store", cfg.Store.Backend, "env", cfg.Environment)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, log)
	})
	if d.producer != nil {
		relay, err := outbox.NewRelay(outbox.NewPostgresStore(d.db), d.producer,
			outbox.WithLogger(log),
			outbox.WithMetrics(outbox.NewMetrics()),
			outbox.WithInterval(cfg.Outbox.PollInterval),
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("canon stopped")
	return err
}

func buildDeps(ctx context.Context, cfg config.Server, migrate bool, log *slog.Logger) (*deps, error) {
	d := &deps{}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	d.redis = client

	switch cfg.Store.Backend {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.db = db
		if migrate {
			if err := postgres.Migrate(ctx, db, log); err != nil {
				return nil, err
			}
		}

		var appender identitystore.OutboxAppender
		if len(cfg.Kafka.Brokers) > 0 {
			producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
			if err != nil {
				return nil, err
			}
			d.producer = producer
			if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
				log.WarnContext(ctx, "audit topic bootstrap failed", "topic", cfg.Kafka.AuditTopic, "error", err)
			}
			appender = outbox.NewPostgresStore(db)
		}
		d.store = identitystore.NewPostgres(db, appender)
	default:
		log.WarnContext(ctx, "using in-memory identity store; data is lost on restart")
		d.store = identitystore.NewInMemory()
	}

	ok = true
	return d, nil
}

func buildGate(cfg config.Server, d *deps, log *slog.Logger) (*policy.Gate, error) {
	src, err := policy.LoadFile(cfg.Policy.File)
	if err != nil {
		return nil, err
	}
	var lookup ports.PolicyLookup = src
	if d.redis != nil {
		lookup = policy.NewCachedLookup(d.redis.Client, src, cfg.Policy.CacheTTL, log)
	}
	return policy.NewGate(d.store, lookup, src,
		policy.WithLogger(log),
		policy.WithMetrics(policymetrics.New()),
	), nil
}

func newRouter(log *slog.Logger, validator auth.TokenValidator,
	identities *identityhandler.Handler, risk *riskhandler.Handler, gate *policyhandler.Handler,
) http.Handler {
	m := platformmetrics.New()

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(m.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", platformmetrics.Handler())

	identities.Register(r)
	risk.Register(r)
	gate.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireOperator(validator, log))
		identities.RegisterOperator(r)
		risk.RegisterOperator(r)
	})
	return r
}
