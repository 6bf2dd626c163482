package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gocalceum/calc/internal/adapter/cache"
	"github.com/gocalceum/calc/internal/adapter/hmrc"
	"github.com/gocalceum/calc/internal/config"
	"github.com/gocalceum/calc/internal/cryptox"
	"github.com/gocalceum/calc/internal/entity"
	httpx "github.com/gocalceum/calc/internal/http"
	"github.com/gocalceum/calc/internal/http/handler"
	"github.com/gocalceum/calc/internal/identity"
	"github.com/gocalceum/calc/internal/migrations"
	"github.com/gocalceum/calc/internal/repository"
	"github.com/gocalceum/calc/internal/server"
	"github.com/gocalceum/calc/internal/service/connect"
	"github.com/gocalceum/calc/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			newSnowflakeNode,
			newPGXPool,
			newRedisClient,
			newStateStore,
			newConnectionRepo,
			newAuditRepo,
			newEntityRepo,
			newFieldCipher,
			newHMRCClient,
			newAuthorizer,
			newVerifier,
			newConnectService,
			handler.NewConnectHandler,
			newRouter,
			newHTTPServer,
		),
		fx.Invoke(runMigrations, registerHooks),
	)
	app.Run()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return pool.Ping(ctx) },
		OnStop:  func(context.Context) error { pool.Close(); return nil },
	})
	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) redis.UniversalClient {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		OnStop:  func(context.Context) error { return client.Close() },
	})
	return client
}

func newStateStore(client redis.UniversalClient) repository.OAuthStateStore {
	return cache.NewRedisStateStore(client)
}

func newConnectionRepo(pool *pgxpool.Pool, node *snowflake.Node) repository.ConnectionRepository {
	return repository.NewPostgresConnectionRepo(pool, node)
}

func newAuditRepo(pool *pgxpool.Pool, node *snowflake.Node) repository.AuditLogRepository {
	return repository.NewPostgresAuditRepo(pool, node)
}

func newEntityRepo(pool *pgxpool.Pool) repository.EntityRepository {
	return repository.NewPostgresEntityRepo(pool)
}

func newFieldCipher(cfg config.Config) (*cryptox.FieldCipher, error) {
	return cryptox.NewFieldCipher(cfg.EncryptionKey)
}

func newHMRCClient(cfg config.Config) hmrc.API {
	return hmrc.NewClient(hmrc.Config{
		ClientID:        cfg.HMRCClientID,
		ClientSecret:    cfg.HMRCClientSecret,
		APIBaseURL:      cfg.HMRCAPIBaseURL,
		AuthBaseURL:     cfg.HMRCAuthBaseURL,
		RedirectURI:     cfg.HMRCRedirectURI,
		SandboxNINO:     cfg.HMRCSandboxNINO,
		VendorVersion:   cfg.VendorVersion,
		VendorLicenseID: cfg.VendorLicenseID,
	}, nil)
}

func newAuthorizer(repo repository.EntityRepository, logger *zap.Logger) connect.Authorizer {
	return entity.NewResolver(repo, logger)
}

func newVerifier(cfg config.Config) *identity.Verifier {
	return identity.NewVerifier(cfg.IdentityJWTSecret, cfg.IdentityIssuer)
}

func newConnectService(
	connections repository.ConnectionRepository,
	audit repository.AuditLogRepository,
	states repository.OAuthStateStore,
	authorizer connect.Authorizer,
	api hmrc.API,
	cipher *cryptox.FieldCipher,
	logger *zap.Logger,
	cfg config.Config,
) *connect.Service {
	return connect.NewService(connections, audit, states, authorizer, api, cipher, logger, connect.Options{
		StateTTL:      cfg.StateTTL,
		DefaultScopes: cfg.HMRCDefaultScopes,
	})
}

func newRouter(cfg config.Config, logger *zap.Logger, verifier *identity.Verifier, h *handler.ConnectHandler) *gin.Engine {
	return httpx.NewRouter(cfg, logger, verifier, h)
}

func newHTTPServer(engine *gin.Engine, cfg config.Config, logger *zap.Logger) *server.HTTPServer {
	return server.NewHTTPServer(engine, cfg.HTTPPort, logger)
}

func runMigrations(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			db, err := sql.Open("pgx", cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open migration connection: %w", err)
			}
			defer db.Close()

			if err := migrations.Up(ctx, db); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	})
}

func registerHooks(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	var (
		shutdownTracing func(context.Context) error
		cancel          context.CancelFunc
		done            chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			shutdown, err := telemetry.Setup(ctx, telemetry.Options{
				ServiceName: cfg.ServiceName,
				Environment: cfg.Environment,
				Endpoint:    cfg.TelemetryEndpoint,
				Insecure:    cfg.TelemetryInsecure,
			})
			if err != nil {
				return err
			}
			shutdownTracing = shutdown

			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done != nil {
				select {
				case <-done:
				case <-ctx.Done():
					logger.Warn("server drain timed out")
				}
			}
			if shutdownTracing != nil {
				return shutdownTracing(ctx)
			}
			return nil
		},
	})
}
