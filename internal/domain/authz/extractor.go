package authz

import "github.com/astro-web3/request-authorizer/internal/domain/token"

// DefaultAdminGroup is the group whose members may act on any resource.
const DefaultAdminGroup = "admin"

// ClaimsExtractor maps validated claims to a Principal. A token without a
// groups claim yields RoleUser.
type ClaimsExtractor struct {
	adminGroup string
}

func NewClaimsExtractor(adminGroup string) ClaimsExtractor {
	if adminGroup == "" {
		adminGroup = DefaultAdminGroup
	}
	return ClaimsExtractor{adminGroup: adminGroup}
}

func (x ClaimsExtractor) Extract(claims *token.Claims) Principal {
	p := Principal{SubjectID: claims.Subject, Role: RoleUser}
	if claims.InGroup(x.adminGroup) {
		p.Role = RoleAdmin
	}
	return p
}
