package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/astro-web3/request-authorizer/internal/app/authz"
	"github.com/astro-web3/request-authorizer/internal/config"
	"github.com/astro-web3/request-authorizer/pkg/logger"
)

// NewRouter serves Envoy's external authorization service and returns the
// path prefix it should be mounted under.
func NewRouter(appService authz.Service, cfg *config.Config) (string, http.Handler) {
	handler := NewHandler(appService, cfg)

	mux := http.NewServeMux()
	mux.Handle(CheckProcedure, connect.NewUnaryHandler(
		CheckProcedure,
		handler.Check,
		connect.WithInterceptors(
			recoveryInterceptor(),
			loggingInterceptor(),
		),
	))
	return ServicePath, mux
}

func recoveryInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "panic recovered", slog.Any("panic", r))
					resp, err = nil, connect.NewError(connect.CodeInternal, errors.New("internal error"))
				}
			}()
			return next(ctx, req)
		}
	}
}

func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "request failed",
					slog.String("method", req.Spec().Procedure),
					slog.Duration("duration", duration),
					logger.Err(err),
				)
			} else {
				logger.InfoContext(ctx, "request completed",
					slog.String("method", req.Spec().Procedure),
					slog.Duration("duration", duration),
				)
			}

			return resp, err
		}
	}
}
