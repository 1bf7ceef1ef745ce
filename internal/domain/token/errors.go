package token

import "errors"

// Validation failures, in the order the validator checks them.
var (
	ErrMalformed            = errors.New("token is malformed")
	ErrUnsupportedAlgorithm = errors.New("token signing algorithm is not allowed")
	ErrSignatureInvalid     = errors.New("token signature is invalid")
	ErrExpired              = errors.New("token is expired")
	ErrIssuerMismatch       = errors.New("token issuer mismatch")
	ErrAudienceMismatch     = errors.New("token audience mismatch")
)
