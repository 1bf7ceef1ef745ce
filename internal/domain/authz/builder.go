package authz

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNonStringContext = errors.New("decision context values must be strings")
	ErrMissingContext   = errors.New("decision context is missing a required key")
)

// BuildDocument renders d for the gateway. Context values that are not plain
// strings are rejected instead of being stringified.
func BuildDocument(d Decision) (Document, error) {
	ctx := make(map[string]string, len(d.Context))

	keys := make([]string, 0, len(d.Context))
	for k := range d.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s, ok := d.Context[k].(string)
		if !ok {
			return Document{}, fmt.Errorf("%w: %q has type %T", ErrNonStringContext, k, d.Context[k])
		}
		ctx[k] = s
	}

	for _, k := range []string{ContextPrincipalID, ContextRole} {
		if _, ok := ctx[k]; !ok {
			return Document{}, fmt.Errorf("%w: %q", ErrMissingContext, k)
		}
	}

	return Document{
		PrincipalID: d.PrincipalID,
		Effect:      d.Effect.String(),
		Resource:    d.Resource,
		Context:     ctx,
	}, nil
}

const (
	AnonymousPrincipal = "anonymous"
	noRole             = "none"
)

// DenyDocument is the single deny shape returned for every failure, so the
// caller cannot tell which check rejected the request.
func DenyDocument(resource string) Document {
	return Document{
		PrincipalID: AnonymousPrincipal,
		Effect:      EffectDeny.String(),
		Resource:    resource,
		Context: map[string]string{
			ContextPrincipalID: AnonymousPrincipal,
			ContextRole:        noRole,
		},
	}
}
