package authz

import (
	"errors"

	"github.com/astro-web3/request-authorizer/internal/domain/token"
	"github.com/astro-web3/request-authorizer/internal/infra/jwks"
)

// Kind classifies why a request was denied. It is logged and counted, never
// returned to the caller.
type Kind string

const (
	KindNone           Kind = "none"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindUpstream       Kind = "upstream"
)

// Classify maps a validation error to its Kind. Unknown errors are treated
// as upstream failures.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, jwks.ErrKeyUnavailable):
		return KindUpstream
	case errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrUnsupportedAlgorithm),
		errors.Is(err, token.ErrSignatureInvalid),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrIssuerMismatch),
		errors.Is(err, token.ErrAudienceMismatch),
		errors.Is(err, ErrMissingToken):
		return KindAuthentication
	default:
		return KindUpstream
	}
}
