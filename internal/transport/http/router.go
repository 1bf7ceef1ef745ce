package http

import (
	"net/http"

	"github.com/astro-web3/request-authorizer/internal/config"
	"github.com/astro-web3/request-authorizer/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter wires the HTTP routes. rpcPath and rpcHandler mount the Connect
// service; the metrics endpoint is only served when rec is non-nil.
func NewRouter(
	handler *Handler,
	cfg *config.Config,
	rec *metrics.Recorder,
	rpcPath string,
	rpcHandler http.Handler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	if cfg.Observability.TraceEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if rec != nil {
		router.GET("/metrics", gin.WrapH(rec.Handler()))
	}

	router.POST("/v1/authorize", handler.Authorize)
	router.Any("/auth/check/*path", handler.Check)

	if rpcHandler != nil {
		router.Any(rpcPath+"*method", gin.WrapH(rpcHandler))
	}

	return router
}
