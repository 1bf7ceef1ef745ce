package http

import (
	"log/slog"
	"net/http"

	"github.com/astro-web3/request-authorizer/internal/app/authz"
	"github.com/astro-web3/request-authorizer/internal/config"
	domain "github.com/astro-web3/request-authorizer/internal/domain/authz"
	"github.com/astro-web3/request-authorizer/pkg/logger"
	"github.com/astro-web3/request-authorizer/pkg/tracer"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const (
	transportName = "http"

	headerForwardedMethod = "X-Forwarded-Method"
	headerForwardedURI    = "X-Forwarded-Uri"
)

type Handler struct {
	appService     authz.Service
	principalIDKey string
	roleKey        string
}

func NewHandler(appService authz.Service, cfg *config.Config) *Handler {
	return &Handler{
		appService:     appService,
		principalIDKey: cfg.Auth.HeaderKeys.PrincipalID,
		roleKey:        cfg.Auth.HeaderKeys.Role,
	}
}

// Authorize answers a JSON authorizer request. The decision document is
// returned with 200 for allow and deny alike.
func (h *Handler) Authorize(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Authorize")
	defer span.End()

	var in domain.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		tracer.Fail(span, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	doc, err := h.appService.Authorize(ctx, transportName, in)
	if err != nil {
		logger.ErrorContext(ctx, "authorization failed internally, denying", logger.Err(err))
	}
	span.SetAttributes(attribute.String("authz.effect", doc.Effect))

	c.JSON(http.StatusOK, doc)
}

// Check is a forward-auth endpoint for reverse proxies. The original request
// is described by X-Forwarded-Method and X-Forwarded-Uri, falling back to this
// request's own method and the path below the route.
func (h *Handler) Check(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Check")
	defer span.End()

	method := c.GetHeader(headerForwardedMethod)
	if method == "" {
		method = c.Request.Method
	}
	uri := c.GetHeader(headerForwardedURI)
	if uri == "" {
		uri = c.Param("path")
	}

	doc, err := h.appService.Authorize(ctx, transportName, domain.Input{
		Token:        c.GetHeader("Authorization"),
		ResourcePath: uri,
		HTTPMethod:   method,
	})
	if err != nil {
		logger.ErrorContext(ctx, "authorization failed internally, denying", logger.Err(err))
	}

	if !doc.Allowed() {
		span.SetAttributes(attribute.Bool("authz.allowed", false))
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	span.SetAttributes(attribute.Bool("authz.allowed", true))
	logger.DebugContext(ctx, "forward auth allowed", slog.String("resource", doc.Resource))

	c.Header(h.principalIDKey, doc.Context[domain.ContextPrincipalID])
	c.Header(h.roleKey, doc.Context[domain.ContextRole])
	c.Status(http.StatusOK)
}
