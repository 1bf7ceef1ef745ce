package token

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultGroupsClaim is where Cognito user pools publish group membership.
const DefaultGroupsClaim = "cognito:groups"

// Claims is the typed view of a validated token's payload.
type Claims struct {
	Subject   string
	Groups    []string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// InGroup reports whether group is one of the token's group memberships.
func (c *Claims) InGroup(group string) bool {
	return slices.Contains(c.Groups, group)
}

// HasAudience reports whether aud is one of the token's audiences.
func (c *Claims) HasAudience(aud string) bool {
	return slices.Contains(c.Audience, aud)
}

// decodeClaims type-checks the registered claims and the groups claim. Any
// wrong type, a missing subject or a missing expiry makes the token malformed.
func decodeClaims(m jwt.MapClaims, groupsClaim string) (*Claims, error) {
	sub, err := m.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: sub: %w", ErrMalformed, err)
	}
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformed)
	}

	exp, err := m.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %w", ErrMalformed, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrMalformed)
	}

	iss, err := m.GetIssuer()
	if err != nil {
		return nil, fmt.Errorf("%w: iss: %w", ErrMalformed, err)
	}
	aud, err := decodeAudience(m["aud"])
	if err != nil {
		return nil, fmt.Errorf("%w: aud: %w", ErrMalformed, err)
	}
	iat, err := m.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%w: iat: %w", ErrMalformed, err)
	}

	groups, err := decodeGroups(m[groupsClaim])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, groupsClaim, err)
	}

	claims := &Claims{
		Subject:   sub,
		Groups:    groups,
		Issuer:    iss,
		Audience:  aud,
		ExpiresAt: exp.Time,
	}
	if iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims, nil
}

// decodeAudience accepts an absent claim, a single string or an array of
// strings. MapClaims.GetAudience lets other types through as an empty list.
func decodeAudience(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		aud := make([]string, 0, len(v))
		for _, a := range v {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("audience entry has type %T", a)
			}
			aud = append(aud, s)
		}
		return aud, nil
	default:
		return nil, fmt.Errorf("expected a string or an array of strings, got %T", raw)
	}
}

// decodeGroups accepts an absent claim or an array of strings.
func decodeGroups(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		groups := make([]string, 0, len(v))
		for _, g := range v {
			s, ok := g.(string)
			if !ok {
				return nil, fmt.Errorf("group entry has type %T", g)
			}
			groups = append(groups, s)
		}
		return groups, nil
	default:
		return nil, fmt.Errorf("expected an array of strings, got %T", raw)
	}
}
