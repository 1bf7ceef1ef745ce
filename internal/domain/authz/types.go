package authz

import (
	"path"
	"strings"
)

// Role is the principal's privilege level. It has exactly two values.
type Role uint8

const (
	RoleUser Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "Admin"
	}
	return "User"
}

// Principal is the identity a validated token speaks for.
type Principal struct {
	SubjectID string
	Role      Role
}

// Effect is the outcome of a decision. The zero value is EffectDeny.
type Effect uint8

const (
	EffectDeny Effect = iota
	EffectAllow
)

func (e Effect) String() string {
	if e == EffectAllow {
		return "Allow"
	}
	return "Deny"
}

// ResourceRequest is the operation a caller wants to perform.
type ResourceRequest struct {
	Method string
	Path   string
	// OwnerID is set when Path addresses a single record of the collection.
	OwnerID string
}

// ParseResourceRequest normalizes method and path and extracts the owner id
// when the path has the shape {collection}/{id}. Query strings are dropped.
func ParseResourceRequest(method, rawPath, collection string) ResourceRequest {
	if i := strings.IndexAny(rawPath, "?#"); i >= 0 {
		rawPath = rawPath[:i]
	}
	cleaned := path.Clean("/" + rawPath)

	req := ResourceRequest{
		Method: strings.ToUpper(strings.TrimSpace(method)),
		Path:   cleaned,
	}

	prefix := strings.TrimSuffix(path.Clean("/"+collection), "/") + "/"
	if rest, ok := strings.CutPrefix(cleaned, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
		req.OwnerID = rest
	}
	return req
}

// Resource is the identifier a decision applies to.
func (r ResourceRequest) Resource() string {
	return r.Method + " " + r.Path
}

// Decision is the engine's verdict. Context values must be strings by the
// time the decision reaches BuildDocument.
type Decision struct {
	Effect      Effect
	PrincipalID string
	Resource    string
	Context     map[string]any
	// Rule names the rule that allowed the request; empty on deny.
	Rule string
}

// Input is what the gateway hands the authorizer per request.
type Input struct {
	Token        string `json:"token"`
	ResourcePath string `json:"resourcePath"`
	HTTPMethod   string `json:"httpMethod"`
}

// Document is the decision in the shape the gateway consumes.
type Document struct {
	PrincipalID string            `json:"principalId"`
	Effect      string            `json:"effect"`
	Resource    string            `json:"resource"`
	Context     map[string]string `json:"context"`
}

func (d Document) Allowed() bool {
	return d.Effect == EffectAllow.String()
}
