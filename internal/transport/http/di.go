package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	authzapp "github.com/astro-web3/request-authorizer/internal/app/authz"
	"github.com/astro-web3/request-authorizer/internal/config"
	authzdomain "github.com/astro-web3/request-authorizer/internal/domain/authz"
	"github.com/astro-web3/request-authorizer/internal/domain/token"
	"github.com/astro-web3/request-authorizer/internal/infra/cache"
	"github.com/astro-web3/request-authorizer/internal/infra/jwks"
	grpctransport "github.com/astro-web3/request-authorizer/internal/transport/grpc"
	httpclient "github.com/astro-web3/request-authorizer/pkg/http"
	"github.com/astro-web3/request-authorizer/pkg/logger"
	"github.com/astro-web3/request-authorizer/pkg/metrics"
	"github.com/astro-web3/request-authorizer/pkg/otel"
	"github.com/astro-web3/request-authorizer/pkg/tracer"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	httpServer  *http.Server
	keys        *jwks.KeySource
	redisClient *redis.Client
}

const (
	idleTimeoutMultiplier = 2
	serviceName           = "request-authorizer"
)

func NewServer(cfg *config.Config) (*Server, error) {
	logger.InitLogger(logger.Options{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.Format,
		AddSource: cfg.Observability.LogSource,
	})

	otelCfg := otel.DefaultConfig(serviceName)
	otelCfg.EndpointURL = cfg.Observability.TracingEndpointURL
	otelCfg.Enabled = cfg.Observability.TraceEnabled
	otelCfg.SampleRatio = cfg.Observability.SampleRatio
	if err := tracer.InitTracer(otelCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	var rec *metrics.Recorder
	if cfg.Observability.MetricsEnabled {
		rec = metrics.NewRecorder()
	}

	keyOpts := []jwks.Option{
		jwks.WithCacheTTL(cfg.Auth.JWKS.CacheTTL),
		jwks.WithFetchTimeout(cfg.Auth.JWKS.FetchTimeout),
		jwks.WithMinRefreshInterval(cfg.Auth.JWKS.MinRefreshInterval),
		jwks.WithMetrics(rec),
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		redisClient = client
		keyOpts = append(keyOpts, jwks.WithSharedCache(cache.NewKeySetCache(client)))
	}

	fetcher := jwks.NewHTTPFetcher(httpclient.NewClient(
		httpclient.WithTimeout(cfg.Auth.JWKS.FetchTimeout),
		httpclient.WithRetryCount(cfg.Auth.JWKS.RetryCount),
	))
	keys := jwks.NewKeySource(cfg.Auth.JWKS.URL, fetcher, keyOpts...)

	validator := token.NewValidator(keys,
		token.WithAlgorithms(cfg.Auth.AllowedAlgorithms...),
		token.WithGroupsClaim(cfg.Auth.GroupsClaim),
	)
	domainService := authzdomain.NewService(
		validator,
		authzdomain.NewClaimsExtractor(cfg.Auth.AdminGroup),
		authzdomain.NewPolicyEngine(),
		authzdomain.Settings{
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			CollectionPath: cfg.Auth.Resource.CollectionPath,
		},
		rec,
	)
	appService := authzapp.NewService(domainService, rec)

	rpcPath, rpcHandler := grpctransport.NewRouter(appService, cfg)
	router := NewRouter(NewHandler(appService, cfg), cfg, rec, rpcPath, rpcHandler)

	// Envoy calls ext_authz over cleartext HTTP/2.
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		Protocols:    protocols,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * idleTimeoutMultiplier,
	}

	return &Server{
		httpServer:  httpServer,
		keys:        keys,
		redisClient: redisClient,
	}, nil
}

// Warm loads the signing keys before traffic arrives. A failure is logged and
// left to the first request to retry.
func (s *Server) Warm(ctx context.Context) {
	if err := s.keys.Refresh(ctx); err != nil {
		logger.WarnContext(ctx, "signing keys not preloaded", logger.Err(err))
		return
	}
	logger.InfoContext(ctx, "signing keys preloaded")
}

func (s *Server) ListenAndServe() error {
	logger.InfoContext(context.Background(), "starting HTTP server", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.redisClient != nil {
		err = errors.Join(err, s.redisClient.Close())
	}
	return err
}
