package schema

import "idmcore/pkg/domain"

// Attribute names introduced by the core schema beyond those the engine
// references directly.
const (
	AttrOauth2RSScopeMap = "oauth2_rs_scope_map"
)

// CoreAttributes returns the attribute types every store starts with.
func CoreAttributes() []domain.AttributeType {
	return []domain.AttributeType{
		{Name: domain.AttrClass, Description: "object classes of the entry", Syntax: domain.SyntaxClass, MultiValue: true, System: true},
		{Name: domain.AttrUUID, Description: "immutable entry identifier", Syntax: domain.SyntaxUUID, System: true},
		{Name: domain.AttrName, Description: "unique login or object name", Syntax: domain.SyntaxIname, System: true},
		{Name: domain.AttrDescription, Description: "free text description", Syntax: domain.SyntaxUtf8, System: true},
		{Name: domain.AttrDisplayName, Description: "human readable name", Syntax: domain.SyntaxUtf8, System: true},
		{Name: domain.AttrVersion, Description: "system data version", Syntax: domain.SyntaxUint32, System: true},
		{Name: domain.AttrUserAuthTokenSession, Description: "authentication sessions of an account", Syntax: domain.SyntaxSession, MultiValue: true, System: true},
		{Name: domain.AttrOauth2Session, Description: "oauth2 sessions derived from account sessions", Syntax: domain.SyntaxOauth2Session, MultiValue: true, System: true},
		{Name: domain.AttrOauth2RSName, Description: "oauth2 resource server name", Syntax: domain.SyntaxIname, System: true},
		{Name: domain.AttrOauth2RSOrigin, Description: "oauth2 resource server origin", Syntax: domain.SyntaxURL, System: true},
		{Name: AttrOauth2RSScopeMap, Description: "groups granted scopes on a resource server", Syntax: domain.SyntaxRefer, MultiValue: true, System: true},
	}
}

// CoreClasses returns the class types every store starts with.
func CoreClasses() []domain.ClassType {
	return []domain.ClassType{
		{
			Name:       domain.ClassObject,
			SystemMust: []string{domain.AttrClass, domain.AttrUUID},
			SystemMay:  []string{domain.AttrDescription},
		},
		{
			Name:       domain.ClassSystemInfo,
			SystemMust: []string{domain.AttrVersion},
		},
		{
			Name:       domain.ClassPerson,
			SystemMust: []string{domain.AttrName, domain.AttrDisplayName},
		},
		{
			Name:       domain.ClassAccount,
			SystemMust: []string{domain.AttrName, domain.AttrDisplayName},
			SystemMay:  []string{domain.AttrUserAuthTokenSession, domain.AttrOauth2Session},
		},
		{
			Name:       domain.ClassOauth2ResourceServer,
			SystemMust: []string{domain.AttrOauth2RSName, domain.AttrOauth2RSOrigin},
			SystemMay:  []string{domain.AttrDisplayName, AttrOauth2RSScopeMap},
		},
		{
			Name: domain.ClassOauth2ResourceServerBasic,
		},
	}
}
