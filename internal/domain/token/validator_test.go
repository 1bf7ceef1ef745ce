package token_test

import (
	"context"
	"crypto"
	"encoding/base64"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/astro-web3/request-authorizer/internal/domain/token"
	"github.com/astro-web3/request-authorizer/internal/infra/jwks"
	"github.com/astro-web3/request-authorizer/internal/testutil/idptest"
	httpclient "github.com/astro-web3/request-authorizer/pkg/http"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingKeys struct {
	inner token.KeySource
	calls atomic.Int32
}

func (c *countingKeys) Get(ctx context.Context, kid string) (crypto.PublicKey, error) {
	c.calls.Add(1)
	return c.inner.Get(ctx, kid)
}

func newValidator(t *testing.T, opts ...token.Option) (*idptest.IDP, *countingKeys, *token.Validator) {
	t.Helper()
	idp := idptest.New(t)
	keys := &countingKeys{
		inner: jwks.NewKeySource(idp.JWKSURL(), jwks.NewHTTPFetcher(httpclient.NewClient(httpclient.WithRetryCount(0)))),
	}
	return idp, keys, token.NewValidator(keys, opts...)
}

func validate(v *token.Validator, raw string) (*token.Claims, error) {
	return v.Validate(context.Background(), raw, idptest.Issuer, idptest.Audience)
}

func encodeSegment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestValidator_ValidToken(t *testing.T) {
	idp, _, v := newValidator(t)

	claims, err := validate(v, idp.Token(idptest.Claims("u1", "admin", "staff")))
	require.NoError(t, err)

	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, []string{"admin", "staff"}, claims.Groups)
	assert.Equal(t, idptest.Issuer, claims.Issuer)
	assert.Equal(t, []string{idptest.Audience}, claims.Audience)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
	assert.False(t, claims.IssuedAt.IsZero())
	assert.True(t, claims.InGroup("admin"))
}

func TestValidator_NoGroupsClaim(t *testing.T) {
	idp, _, v := newValidator(t)

	claims, err := validate(v, idp.Token(idptest.Claims("u1")))
	require.NoError(t, err)
	assert.Empty(t, claims.Groups)
}

func TestValidator_CustomGroupsClaim(t *testing.T) {
	idp, _, v := newValidator(t, token.WithGroupsClaim("groups"))

	c := idptest.Claims("u1")
	c["groups"] = []string{"admin"}
	claims, err := validate(v, idp.Token(c))
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, claims.Groups)
}

func TestValidator_AudienceArray(t *testing.T) {
	idp, _, v := newValidator(t)

	c := idptest.Claims("u1")
	c["aud"] = []string{"other-client", idptest.Audience}
	_, err := validate(v, idp.Token(c))
	require.NoError(t, err)
}

func TestValidator_Malformed(t *testing.T) {
	idp, keys, v := newValidator(t)
	header := encodeSegment(`{"alg":"RS256","kid":"` + idptest.KeyID + `"}`)

	withClaims := func(mutate func(jwt.MapClaims)) string {
		c := idptest.Claims("u1")
		mutate(c)
		return idp.Token(c)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "one segment", raw: "abc"},
		{name: "two segments", raw: "abc.def"},
		{name: "four segments", raw: "a.b.c.d"},
		{name: "header not base64", raw: "!!!." + encodeSegment(`{"sub":"u1"}`) + ".sig"},
		{name: "header not json", raw: encodeSegment("nope") + "." + encodeSegment(`{"sub":"u1"}`) + ".sig"},
		{name: "payload not json", raw: header + "." + encodeSegment("nope") + ".sig"},
		{name: "missing sub", raw: withClaims(func(c jwt.MapClaims) { delete(c, "sub") })},
		{name: "empty sub", raw: withClaims(func(c jwt.MapClaims) { c["sub"] = "" })},
		{name: "numeric sub", raw: withClaims(func(c jwt.MapClaims) { c["sub"] = 42 })},
		{name: "missing exp", raw: withClaims(func(c jwt.MapClaims) { delete(c, "exp") })},
		{name: "string exp", raw: withClaims(func(c jwt.MapClaims) { c["exp"] = "tomorrow" })},
		{name: "numeric iss", raw: withClaims(func(c jwt.MapClaims) { c["iss"] = 7 })},
		{name: "numeric aud", raw: withClaims(func(c jwt.MapClaims) { c["aud"] = 7 })},
		{name: "object aud", raw: withClaims(func(c jwt.MapClaims) { c["aud"] = map[string]any{"client": idptest.Audience} })},
		{name: "aud with non-string entry", raw: withClaims(func(c jwt.MapClaims) { c["aud"] = []any{idptest.Audience, 1} })},
		{name: "boolean aud", raw: withClaims(func(c jwt.MapClaims) { c["aud"] = true })},
		{name: "groups not an array", raw: withClaims(func(c jwt.MapClaims) { c["cognito:groups"] = "admin" })},
		{name: "groups with non-string entry", raw: withClaims(func(c jwt.MapClaims) { c["cognito:groups"] = []any{"admin", 1} })},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validate(v, tc.raw)
			assert.ErrorIs(t, err, token.ErrMalformed)
		})
	}
	assert.Zero(t, keys.calls.Load(), "malformed tokens must not reach the key source")
}

func TestValidator_MistypedAudienceIsMalformedNotMismatch(t *testing.T) {
	idp, keys, v := newValidator(t)

	c := idptest.Claims("u1")
	c["aud"] = 7
	_, err := validate(v, idp.Token(c))
	require.ErrorIs(t, err, token.ErrMalformed)
	assert.NotErrorIs(t, err, token.ErrAudienceMismatch)
	assert.Zero(t, keys.calls.Load())
}

func TestValidator_MalformedWinsOverUnsupportedAlgorithm(t *testing.T) {
	_, _, v := newValidator(t)

	c := idptest.Claims("u1")
	delete(c, "exp")
	_, err := validate(v, idptest.Unsigned(t, c))
	assert.ErrorIs(t, err, token.ErrMalformed)
}

func TestValidator_UnsupportedAlgorithm(t *testing.T) {
	idp, keys, v := newValidator(t)
	signed := idp.Token(idptest.Claims("u1", "admin"))

	tests := []struct {
		name string
		raw  string
	}{
		{name: "none", raw: idptest.Unsigned(t, idptest.Claims("u1", "admin"))},
		{name: "unknown alg", raw: idptest.WithHeader(t, map[string]any{"alg": "XYZ", "kid": idptest.KeyID}, signed)},
		{name: "missing alg", raw: idptest.WithHeader(t, map[string]any{"kid": idptest.KeyID}, signed)},
		{name: "registered but not allowed", raw: idptest.WithHeader(t, map[string]any{"alg": "HS256", "kid": idptest.KeyID}, signed)},
		{name: "PS256 not allowed", raw: idptest.WithHeader(t, map[string]any{"alg": "PS256", "kid": idptest.KeyID}, signed)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validate(v, tc.raw)
			assert.ErrorIs(t, err, token.ErrUnsupportedAlgorithm)
		})
	}
	assert.Zero(t, keys.calls.Load())
}

func TestValidator_NoneRejectedEvenWhenConfigured(t *testing.T) {
	_, _, v := newValidator(t, token.WithAlgorithms("none", "RS256"))

	_, err := validate(v, idptest.Unsigned(t, idptest.Claims("u1", "admin")))
	assert.ErrorIs(t, err, token.ErrUnsupportedAlgorithm)

	_, _, onlyNone := newValidator(t, token.WithAlgorithms("NONE"))
	_, err = validate(onlyNone, idptest.Unsigned(t, idptest.Claims("u1", "admin")))
	assert.ErrorIs(t, err, token.ErrUnsupportedAlgorithm)
}

func TestValidator_SymmetricConfusionRejected(t *testing.T) {
	_, _, v := newValidator(t, token.WithAlgorithms("RS256", "HS256"))

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, idptest.Claims("u1", "admin"))
	hs.Header["kid"] = idptest.KeyID
	raw, err := hs.SignedString([]byte("guessable-secret"))
	require.NoError(t, err)

	_, err = validate(v, raw)
	assert.ErrorIs(t, err, token.ErrSignatureInvalid)
}

func TestValidator_SignatureInvalid(t *testing.T) {
	idp, _, v := newValidator(t)
	signed := idp.Token(idptest.Claims("u1"))
	parts := strings.Split(signed, ".")

	tampered := idp.Token(idptest.Claims("u1", "admin"))
	tamperedParts := strings.Split(tampered, ".")

	tests := []struct {
		name string
		raw  string
	}{
		{name: "forged with unpublished key", raw: idp.Forge(idptest.KeyID, idptest.Claims("u1", "admin"))},
		{name: "payload swapped", raw: parts[0] + "." + tamperedParts[1] + "." + parts[2]},
		{name: "signature stripped", raw: parts[0] + "." + parts[1] + "."},
		{name: "missing kid", raw: idptest.WithHeader(t, map[string]any{"alg": "RS256", "typ": "JWT"}, signed)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validate(v, tc.raw)
			assert.ErrorIs(t, err, token.ErrSignatureInvalid)
		})
	}
}

func TestValidator_ExpiryUsesTrustedClock(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	c := idptest.Claims("u1")
	c["exp"] = exp.Unix()

	tests := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{name: "one second before expiry", now: exp.Add(-time.Second)},
		{name: "at expiry", now: exp, wantErr: token.ErrExpired},
		{name: "after expiry", now: exp.Add(time.Minute), wantErr: token.ErrExpired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			idp, _, v := newValidator(t, token.WithClock(func() time.Time { return tc.now }))
			_, err := validate(v, idp.Token(c))
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidator_IssuerAndAudience(t *testing.T) {
	idp, _, v := newValidator(t)

	wrongIss := idptest.Claims("u1")
	wrongIss["iss"] = "https://evil.test"
	_, err := validate(v, idp.Token(wrongIss))
	assert.ErrorIs(t, err, token.ErrIssuerMismatch)

	wrongAud := idptest.Claims("u1")
	wrongAud["aud"] = "other-client"
	_, err = validate(v, idp.Token(wrongAud))
	assert.ErrorIs(t, err, token.ErrAudienceMismatch)

	noAud := idptest.Claims("u1")
	delete(noAud, "aud")
	_, err = validate(v, idp.Token(noAud))
	assert.ErrorIs(t, err, token.ErrAudienceMismatch)
}

func TestValidator_CheckOrder(t *testing.T) {
	idp, _, v := newValidator(t)

	expiredElsewhere := idptest.Claims("u1")
	expiredElsewhere["exp"] = time.Now().Add(-time.Minute).Unix()
	expiredElsewhere["iss"] = "https://evil.test"
	expiredElsewhere["aud"] = "other-client"

	// a forged signature is reported before expiry and issuer problems
	_, err := validate(v, idp.Forge(idptest.KeyID, expiredElsewhere))
	assert.ErrorIs(t, err, token.ErrSignatureInvalid)

	_, err = validate(v, idp.Token(expiredElsewhere))
	assert.ErrorIs(t, err, token.ErrExpired)

	wrongBoth := idptest.Claims("u1")
	wrongBoth["iss"] = "https://evil.test"
	wrongBoth["aud"] = "other-client"
	_, err = validate(v, idp.Token(wrongBoth))
	assert.ErrorIs(t, err, token.ErrIssuerMismatch)
}

func TestValidator_KeyUnavailable(t *testing.T) {
	idp, _, v := newValidator(t)

	unknownKid := idptest.WithHeader(t, map[string]any{"alg": "RS256", "kid": "ghost"}, idp.Token(idptest.Claims("u1")))
	_, err := validate(v, unknownKid)
	assert.ErrorIs(t, err, jwks.ErrKeyUnavailable)
	assert.NotErrorIs(t, err, token.ErrSignatureInvalid)
}
