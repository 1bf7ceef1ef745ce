package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/astro-web3/request-authorizer/internal/domain/token"
	"github.com/astro-web3/request-authorizer/pkg/logger"
	"github.com/astro-web3/request-authorizer/pkg/metrics"
)

var ErrMissingToken = errors.New("bearer token is empty")

// TokenValidator is the part of token.Validator the service depends on.
type TokenValidator interface {
	Validate(ctx context.Context, raw, issuer, audience string) (*token.Claims, error)
}

type Service interface {
	// Authorize always returns a document. Every failure yields the same deny
	// document; a non-nil error reports an internal fault for logging only.
	Authorize(ctx context.Context, in Input) (Document, error)
}

type Settings struct {
	Issuer         string
	Audience       string
	CollectionPath string
}

type service struct {
	validator TokenValidator
	extractor ClaimsExtractor
	engine    *PolicyEngine
	settings  Settings
	metrics   *metrics.Recorder
}

func NewService(
	validator TokenValidator,
	extractor ClaimsExtractor,
	engine *PolicyEngine,
	settings Settings,
	m *metrics.Recorder,
) Service {
	return &service{
		validator: validator,
		extractor: extractor,
		engine:    engine,
		settings:  settings,
		metrics:   m,
	}
}

func (s *service) Authorize(ctx context.Context, in Input) (Document, error) {
	req := ParseResourceRequest(in.HTTPMethod, in.ResourcePath, s.settings.CollectionPath)
	resource := req.Resource()

	raw := bearerToken(in.Token)
	if raw == "" {
		return s.deny(ctx, resource, ErrMissingToken), nil
	}

	claims, err := s.validator.Validate(ctx, raw, s.settings.Issuer, s.settings.Audience)
	if err != nil {
		return s.deny(ctx, resource, err), nil
	}

	principal := s.extractor.Extract(claims)
	decision := s.engine.Decide(principal, req)

	doc, err := BuildDocument(decision)
	if err != nil {
		logger.ErrorContext(ctx, "failed to build decision document",
			slog.String("resource", resource),
			logger.Err(err),
		)
		s.metrics.Decision(EffectDeny.String(), string(KindUpstream))
		return DenyDocument(resource), fmt.Errorf("build decision document: %w", err)
	}

	if decision.Effect != EffectAllow {
		logger.InfoContext(ctx, "request denied",
			slog.String("kind", string(KindAuthorization)),
			slog.String("principal_id", principal.SubjectID),
			slog.String("role", principal.Role.String()),
			slog.String("resource", resource),
		)
		s.metrics.Decision(EffectDeny.String(), string(KindAuthorization))
		return DenyDocument(resource), nil
	}

	logger.DebugContext(ctx, "request allowed",
		slog.String("principal_id", principal.SubjectID),
		slog.String("role", principal.Role.String()),
		slog.String("rule", decision.Rule),
		slog.String("resource", resource),
	)
	s.metrics.Decision(EffectAllow.String(), string(KindNone))
	return doc, nil
}

func (s *service) deny(ctx context.Context, resource string, cause error) Document {
	kind := Classify(cause)
	attrs := []slog.Attr{
		slog.String("kind", string(kind)),
		slog.String("resource", resource),
		logger.Err(cause),
	}
	if kind == KindUpstream {
		logger.ErrorContext(ctx, "request denied", attrs...)
	} else {
		logger.WarnContext(ctx, "request denied", attrs...)
	}
	s.metrics.Decision(EffectDeny.String(), string(kind))
	return DenyDocument(resource)
}

// bearerToken strips an optional "Bearer " scheme.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
		header = header[len("bearer "):]
	}
	return strings.TrimSpace(header)
}
