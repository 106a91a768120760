// Command server runs the onboarding API: invitations, tenant provisioning,
// the member directory, and permission evaluation. Wiring lives here; business
// logic stays in the feature packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"orgdesk/internal/cache"
	cachemetrics "orgdesk/internal/cache/metrics"
	diaghandler "orgdesk/internal/diagnostics/handler"
	diagservice "orgdesk/internal/diagnostics/service"
	dirhandler "orgdesk/internal/directory/handler"
	dirmetrics "orgdesk/internal/directory/metrics"
	dirservice "orgdesk/internal/directory/service"
	dirmem "orgdesk/internal/directory/store/memory"
	dirpg "orgdesk/internal/directory/store/postgres"
	httpapi "orgdesk/internal/http"
	invhandler "orgdesk/internal/invitation/handler"
	invmetrics "orgdesk/internal/invitation/metrics"
	invservice "orgdesk/internal/invitation/service"
	invmem "orgdesk/internal/invitation/store/memory"
	invpg "orgdesk/internal/invitation/store/postgres"
	"orgdesk/internal/invitation/token"
	jwttoken "orgdesk/internal/jwt_token"
	"orgdesk/internal/platform/config"
	"orgdesk/internal/platform/httpserver"
	"orgdesk/internal/platform/logger"
	platformmetrics "orgdesk/internal/platform/metrics"
	platformredis "orgdesk/internal/platform/redis"
	provhandler "orgdesk/internal/provisioning/handler"
	provmetrics "orgdesk/internal/provisioning/metrics"
	provservice "orgdesk/internal/provisioning/service"
	rbachandler "orgdesk/internal/rbac/handler"
	rbacmetrics "orgdesk/internal/rbac/metrics"
	rbacservice "orgdesk/internal/rbac/service"
	rbacmem "orgdesk/internal/rbac/store/memory"
	rbacpg "orgdesk/internal/rbac/store/postgres"
	"orgdesk/pkg/platform/audit"
	auditmem "orgdesk/pkg/platform/audit/store/memory"
	auditpg "orgdesk/pkg/platform/audit/store/postgres"
	"orgdesk/pkg/platform/tx"
)

const auditInboxSize = 256

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		log.Info("using postgres stores")
	} else {
		log.Info("using in-memory stores")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Audit events are appended off the request path by a single worker.
	var auditStore audit.Store
	if db != nil {
		auditStore = auditpg.New(db)
	} else {
		auditStore = auditmem.NewInMemoryStore()
	}
	auditInbox := make(chan audit.Event, auditInboxSize)
	auditWorker := audit.NewWorker(auditStore, auditInbox)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()
	publisher := audit.NewAsyncPublisher(auditInbox)

	manager := cache.New(
		cache.WithLogger(log),
		cache.WithMetrics(cachemetrics.New()),
		cache.WithMaxEntries(cfg.CacheMaxEntries),
	)
	defer func() {
		_ = manager.Shutdown(context.Background())
	}()

	var rbacStore rbacservice.Store
	if db != nil {
		rbacStore = rbacpg.New(db)
	} else {
		rbacStore = rbacmem.NewStore()
	}

	rbacMx := rbacmetrics.New()
	roleOpts := []rbacservice.Option{
		rbacservice.WithLogger(log),
		rbacservice.WithAuditPublisher(publisher),
		rbacservice.WithMetrics(rbacMx),
	}
	if redisClient != nil {
		broadcaster := cache.NewBroadcaster(redisClient.Client, manager, cache.WithBroadcasterLogger(log))
		go func() {
			if err := broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("cache broadcaster stopped", "error", err)
			}
		}()
		roleOpts = append(roleOpts, rbacservice.WithInvalidator(broadcaster))
	}
	roles := rbacservice.New(rbacStore, manager, roleOpts...)

	// Seeding is idempotent; on postgres it runs in one transaction so a
	// half-seeded catalog never becomes visible.
	if db != nil {
		err = tx.Run(ctx, db, func(ctx context.Context) error {
			return roles.SeedDefaultCatalog(ctx)
		})
	} else {
		err = roles.SeedDefaultCatalog(ctx)
	}
	if err != nil {
		return fmt.Errorf("seed role catalog: %w", err)
	}

	evaluator := rbacservice.NewEvaluator(roles,
		rbacservice.WithEvaluatorLogger(log),
		rbacservice.WithEvaluatorAuditPublisher(publisher),
		rbacservice.WithEvaluatorMetrics(rbacMx),
	)

	var directory *dirservice.Service
	dirOpts := []dirservice.Option{
		dirservice.WithLogger(log),
		dirservice.WithAuditPublisher(publisher),
		dirservice.WithMetrics(dirmetrics.New()),
	}
	if db != nil {
		store := dirpg.New(db)
		directory = dirservice.New(store, store, store, dirOpts...)
	} else {
		store := dirmem.NewStore()
		directory = dirservice.New(store, store, store, dirOpts...)
	}

	var invStore invservice.Store
	if db != nil {
		invStore = invpg.New(db)
	} else {
		invStore = invmem.NewStore()
	}
	inviteCodes := token.NewIssuer(cfg.JWTSigningKey, "orgdesk")
	invitations := invservice.New(invStore, directory, inviteCodes,
		invservice.WithLogger(log),
		invservice.WithAuditPublisher(publisher),
		invservice.WithMetrics(invmetrics.New()),
		invservice.WithTTL(cfg.InvitationTTL),
	)

	provisioning := provservice.New(invitations, directory, roles, inviteCodes,
		provservice.WithLogger(log),
		provservice.WithAuditPublisher(publisher),
		provservice.WithMetrics(provmetrics.New()),
	)

	diagOpts := []diagservice.Option{diagservice.WithLogger(log)}
	if db != nil {
		diagOpts = append(diagOpts, diagservice.WithDB(db))
	}
	if redisClient != nil {
		diagOpts = append(diagOpts, diagservice.WithRedis(redisClient))
	}
	diagnostics := diagservice.New(invitations, directory, roles, manager, diagOpts...)

	go runSweeper(ctx, invitations, cfg.SweepInterval, log)

	accessTokens := jwttoken.NewService(cfg.JWTSigningKey, "orgdesk", "orgdesk-api")

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:         log,
		Metrics:        platformmetrics.New(),
		TokenValidator: jwttoken.NewValidator(accessTokens),
		AdminToken:     cfg.AdminToken,
		Invitations:    invhandler.New(invitations, log),
		Directory:      dirhandler.New(directory, log),
		Permissions:    rbachandler.New(evaluator, log),
		Provisioning:   provhandler.New(provisioning, log),
		Diagnostics:    diaghandler.New(diagnostics, log),
	})

	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// runSweeper periodically expires overdue pending invitations so redemption
// attempts and the pending count reflect reality between requests.
func runSweeper(ctx context.Context, invitations *invservice.Service, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := invitations.SweepExpired(ctx)
			if err != nil {
				log.ErrorContext(ctx, "invitation sweep failed", "error", err)
				continue
			}
			if count > 0 {
				log.InfoContext(ctx, "invitation sweep", "expired", count)
			}
		}
	}
}
