package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/gocalceum/calc/internal/config"
	"github.com/gocalceum/calc/internal/http/handler"
	"github.com/gocalceum/calc/internal/http/middleware"
	"github.com/gocalceum/calc/internal/identity"
)

// NewRouter assembles the gin engine with the full middleware chain and
// routes.
func NewRouter(
	cfg config.Config,
	logger *zap.Logger,
	verifier *identity.Verifier,
	connectHandler *handler.ConnectHandler,
) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		middleware.RequestID(),
		middleware.RequestLogger(logger),
		middleware.NewRateLimiter(cfg.RateLimitRPM).Handler(),
		middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   cfg.CORSAllowedMethods,
			AllowedHeaders:   cfg.CORSAllowedHeaders,
			AllowCredentials: cfg.CORSAllowCredentials,
		}),
	)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	hmrc := engine.Group("/hmrc", middleware.Authenticate(verifier))
	{
		hmrc.POST("/auth/initiate", connectHandler.Initiate)
		hmrc.POST("/auth/callback", connectHandler.Callback)
		hmrc.POST("/sync", connectHandler.Sync)
		hmrc.POST("/disconnect", connectHandler.Disconnect)
	}

	return engine
}
