// Package idptest provides an in-process identity provider for tests: it
// holds RSA signing keys, publishes them as a JWKS document and mints tokens.
package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	Issuer   = "https://idp.test/pool"
	Audience = "client-123"
	KeyID    = "test-key-1"
)

type IDP struct {
	t *testing.T

	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey

	server   *httptest.Server
	requests atomic.Int32
}

// New starts an identity provider with one key published under KeyID.
func New(t *testing.T) *IDP {
	t.Helper()
	p := &IDP{t: t, keys: make(map[string]*rsa.PrivateKey)}
	p.AddKey(KeyID)

	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		p.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(p.Document())
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *IDP) JWKSURL() string {
	return p.server.URL + "/.well-known/jwks.json"
}

// Requests reports how many times the JWKS endpoint was hit.
func (p *IDP) Requests() int {
	return int(p.requests.Load())
}

func (p *IDP) AddKey(kid string) *rsa.PrivateKey {
	p.t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		p.t.Fatalf("failed to generate RSA key: %v", err)
	}
	p.mu.Lock()
	p.keys[kid] = key
	p.mu.Unlock()
	return key
}

func (p *IDP) RemoveKey(kid string) {
	p.mu.Lock()
	delete(p.keys, kid)
	p.mu.Unlock()
}

// Document renders the published key set.
func (p *IDP) Document() []byte {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	set := jwk.NewSet()
	for kid, priv := range p.keys {
		key, err := jwk.FromRaw(&priv.PublicKey)
		if err != nil {
			p.t.Fatalf("failed to build jwk: %v", err)
		}
		_ = key.Set(jwk.KeyIDKey, kid)
		_ = key.Set(jwk.KeyUsageKey, jwk.ForSignature)
		_ = key.Set(jwk.AlgorithmKey, jwa.RS256)
		if err := set.AddKey(key); err != nil {
			p.t.Fatalf("failed to add jwk: %v", err)
		}
	}

	doc, err := json.Marshal(set)
	if err != nil {
		p.t.Fatalf("failed to marshal jwks: %v", err)
	}
	return doc
}

// Claims returns a valid claim set for subject with the given groups.
func Claims(subject string, groups ...string) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": Issuer,
		"aud": Audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if groups != nil {
		claims["cognito:groups"] = groups
	}
	return claims
}

// Sign signs claims with RS256 under kid.
func (p *IDP) Sign(kid string, claims jwt.MapClaims) string {
	p.t.Helper()
	p.mu.Lock()
	key, ok := p.keys[kid]
	p.mu.Unlock()
	if !ok {
		p.t.Fatalf("no key published under %q", kid)
	}
	return sign(p.t, key, kid, claims)
}

// Forge signs claims with a fresh key that is never published, under a kid
// the provider does publish.
func (p *IDP) Forge(kid string, claims jwt.MapClaims) string {
	p.t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		p.t.Fatalf("failed to generate RSA key: %v", err)
	}
	return sign(p.t, key, kid, claims)
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// Token signs claims with the default key.
func (p *IDP) Token(claims jwt.MapClaims) string {
	p.t.Helper()
	return p.Sign(KeyID, claims)
}

// Unsigned builds a token declaring alg=none with an empty signature.
func Unsigned(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token.Header["kid"] = KeyID
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}
	return signed
}

// WithHeader re-encodes the header of a signed token, keeping payload and
// signature. Used to forge algorithm confusion attempts.
func WithHeader(t *testing.T, header map[string]any, signed string) string {
	t.Helper()
	raw, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("failed to marshal header: %v", err)
	}
	parts := strings.SplitN(signed, ".", 3)
	if len(parts) != 3 {
		t.Fatalf("not a compact token: %q", signed)
	}
	return base64.RawURLEncoding.EncodeToString(raw) + "." + parts[1] + "." + parts[2]
}
