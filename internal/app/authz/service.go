package authz

import (
	"context"
	"time"

	"github.com/astro-web3/request-authorizer/internal/domain/authz"
	"github.com/astro-web3/request-authorizer/pkg/metrics"
	"github.com/astro-web3/request-authorizer/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
)

type Service interface {
	Authorize(ctx context.Context, transport string, in authz.Input) (authz.Document, error)
}

type service struct {
	domainService authz.Service
	metrics       *metrics.Recorder
}

func NewService(domainService authz.Service, m *metrics.Recorder) Service {
	return &service{
		domainService: domainService,
		metrics:       m,
	}
}

// Authorize traces and times one decision. transport labels the latency
// histogram.
func (s *service) Authorize(ctx context.Context, transport string, in authz.Input) (authz.Document, error) {
	ctx, span := tracer.Start(ctx, "app.authz.Authorize")
	defer span.End()

	span.SetAttributes(
		attribute.String("authz.transport", transport),
		attribute.String("authz.method", in.HTTPMethod),
		attribute.String("authz.path", in.ResourcePath),
		attribute.Bool("authz.token_present", in.Token != ""),
	)

	start := time.Now()
	doc, err := s.domainService.Authorize(ctx, in)
	s.metrics.ObserveAuthorize(transport, time.Since(start).Seconds())

	if err != nil {
		tracer.Fail(span, err)
	}
	span.SetAttributes(
		attribute.String("authz.effect", doc.Effect),
		attribute.String("authz.principal_id", doc.PrincipalID),
	)

	return doc, err
}
