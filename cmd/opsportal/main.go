package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/config"
	"github.com/tm-acme-shop/acme-ops-portal/internal/handlers"
	"github.com/tm-acme-shop/acme-ops-portal/internal/healthcheck"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/migrations"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository"
	"github.com/tm-acme-shop/acme-ops-portal/internal/server"
	"github.com/tm-acme-shop/acme-ops-portal/internal/service"
	"github.com/tm-acme-shop/acme-ops-portal/internal/sso"

	_ "github.com/lib/pq"
)

const shutdownTimeout = 30 * time.Second

var logger = logging.NewLoggerV2("ops-portal")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "opsportal",
		Short:        "Ops portal API server with the legacy SSO bridge",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(loadConfig())
		},
	}
	root.AddCommand(newMigrateCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations, or roll back the latest with --down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			migrator := migrations.NewMigrator(db)
			if down {
				return migrator.Rollback(cmd.Context())
			}
			applied, err := migrator.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func loadConfig() *config.Config {
	cfg := config.Load()
	logging.Configure(cfg.LogLevel, cfg.IsProduction())
	return cfg
}

func serve(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("starting", logging.Fields{
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	})

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	applied, err := migrations.NewMigrator(db).Run(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		logger.Info("migrations applied", logging.Fields{"count": applied})
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	postgresUsers := repository.NewPostgresUserStore(db)
	var cache repository.UserCache = repository.NewNoOpUserCache()
	if cfg.Features.EnableUserCache {
		cache = repository.NewRedisUserCache(redisClient, cfg.Redis.TTL)
	}
	userStore := repository.NewCachedUserStore(postgresUsers, cache)
	auditStore := repository.NewPostgresAuditStore(db)
	systemStore := repository.NewPostgresSystemStore(db)

	passwordService := auth.NewPasswordService()
	jwtService := auth.NewJWTService(cfg.JWT)
	sessionService := auth.NewSessionService(redisClient, cfg.JWT.RefreshExpires)

	auditService := service.NewAuditService(auditStore)
	authService := service.NewAuthService(userStore, passwordService, jwtService, sessionService, auditService)
	userService := service.NewUserService(userStore, passwordService, sessionService, auditService)
	checker := healthcheck.NewChecker(systemStore, cfg.HealthCheck)
	systemService := service.NewSystemService(systemStore, userStore, checker, auditService)

	var ssoService *service.SSOService
	if cfg.Features.EnableSSO {
		codec, err := newCodec(cfg.SSO)
		if err != nil {
			return err
		}
		ssoService = service.NewSSOService(codec, userStore, authService, auditService, cfg.SSO.PeerURL)
	}

	if cfg.Bootstrap.AdminUsername != "" {
		created, err := userService.EnsureAdmin(ctx, cfg.Bootstrap)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Warn("bootstrap admin created", logging.Fields{"username": cfg.Bootstrap.AdminUsername})
		}
	}

	if cfg.Features.EnableHealthCheck {
		checkCtx, stopChecks := context.WithCancel(ctx)
		stop, err := checker.Start(checkCtx)
		if err != nil {
			stopChecks()
			return fmt.Errorf("start health checker: %w", err)
		}
		defer func() {
			stopChecks()
			stop()
		}()
	}

	h := handlers.NewHandlers(userService, authService, ssoService, auditService, systemService, cfg,
		handlers.ReadinessCheck{Name: "postgres", Ping: postgresUsers.Ping},
		handlers.ReadinessCheck{Name: "redis", Ping: sessionService.Ping},
	)
	srv := server.New(h, cfg)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", logging.Fields{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", logging.Fields{"error": err.Error()})
		return err
	}

	logger.Info("server exited")
	return nil
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	logger.Info("database connected", logging.Fields{"host": cfg.Database.Host})
	return db, nil
}

func newCodec(cfg config.SSOConfig) (*sso.Codec, error) {
	mode, ok := sso.ParseSignatureMode(cfg.SignMode)
	if !ok {
		return nil, fmt.Errorf("unknown SSO sign mode %q", cfg.SignMode)
	}
	return sso.NewCodec(
		sso.SharedSecret{SysKey: cfg.SysKey, Salt: cfg.Salt},
		sso.WithSignatureMode(mode),
		sso.WithDefaultUserAgent(cfg.DefaultUserAgent),
	)
}
