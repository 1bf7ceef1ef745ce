package authz

import "net/http"

const (
	ContextPrincipalID = "principalId"
	ContextRole        = "role"
)

// Rule grants access when Matches returns true. Rules never deny; a request
// no rule matches is denied.
type Rule struct {
	Name    string
	Matches func(Principal, ResourceRequest) bool
}

// AdminRule lets admins perform any operation.
func AdminRule() Rule {
	return Rule{
		Name: "admin",
		Matches: func(p Principal, _ ResourceRequest) bool {
			return p.Role == RoleAdmin
		},
	}
}

// OwnerRule lets a principal read, update or delete its own record.
func OwnerRule() Rule {
	return Rule{
		Name: "owner",
		Matches: func(p Principal, req ResourceRequest) bool {
			if req.OwnerID == "" || req.OwnerID != p.SubjectID {
				return false
			}
			switch req.Method {
			case http.MethodGet, http.MethodPut, http.MethodDelete:
				return true
			default:
				return false
			}
		},
	}
}

func DefaultRules() []Rule {
	return []Rule{AdminRule(), OwnerRule()}
}

// PolicyEngine evaluates rules in order; the first match allows.
type PolicyEngine struct {
	rules []Rule
}

func NewPolicyEngine(rules ...Rule) *PolicyEngine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &PolicyEngine{rules: rules}
}

func (e *PolicyEngine) Decide(p Principal, req ResourceRequest) Decision {
	d := Decision{
		PrincipalID: p.SubjectID,
		Resource:    req.Resource(),
		Context: map[string]any{
			ContextPrincipalID: p.SubjectID,
			ContextRole:        p.Role.String(),
		},
	}

	for _, rule := range e.rules {
		if rule.Matches != nil && rule.Matches(p, req) {
			d.Effect = EffectAllow
			d.Rule = rule.Name
			return d
		}
	}
	return d
}
