package oauth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"idgate.org/internal/identity"
	"idgate.org/internal/scope"
)

// Client is a registered OAuth application. Exactly one of UserID and OrgID
// is set: a client is owned by a user or by an organization, never both and
// never neither.
type Client struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	OrgID           string    `json:"org_id,omitempty"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Website         string    `json:"website"`
	RedirectURI     string    `json:"redirect_uri,omitempty"`
	NotificationURI string    `json:"notification_uri,omitempty"`
	Active          bool      `json:"active"`
	AllowAnyLogin   bool      `json:"allow_any_login"`
	TeamAccess      bool      `json:"team_access"`
	Key             string    `json:"key"`    // 22-char, unique
	Secret          string    `json:"-"`      // 44-char, fixed at creation
	Trusted         bool      `json:"trusted"` // trusted clients skip user consent
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SecretIs checks the candidate client secret in constant time.
func (c *Client) SecretIs(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(candidate)) == 1
}

// checkOwner enforces the user-xor-org ownership invariant.
func (c *Client) checkOwner() error {
	if (c.UserID == "") == (c.OrgID == "") {
		return fmt.Errorf("%w: client must have exactly one owner", ErrInvalidArgument)
	}
	return nil
}

// OwnerIs reports whether the viewer owns the client directly or through the
// owning organization's owners team.
func (c *Client) OwnerIs(v identity.Viewer) bool {
	if !v.Present() {
		return false
	}
	return v.IsUser(c.UserID) || (c.OrgID != "" && v.OwnsOrg(c.OrgID))
}

// Capabilities resolves the viewer's capabilities on the client. Everyone
// may view; only the owner may mutate.
func (c *Client) Capabilities(v identity.Viewer) identity.CapSet {
	caps := identity.BaseCaps()
	if c.OwnerIs(v) {
		caps.Add("edit", "delete", "assign-permissions", "new-resource")
	}
	return caps
}

// TeamAccessLevel controls how much of an organization's teams a client may
// see.
type TeamAccessLevel int

const (
	TeamAccessNone TeamAccessLevel = 0
	TeamAccessAll  TeamAccessLevel = 1
	// TeamAccessPartial is reserved; per-team grants are not implemented.
	TeamAccessPartial TeamAccessLevel = 2
)

// ClientTeamAccess grants a client visibility into an organization's teams.
type ClientTeamAccess struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"org_id"`
	ClientID    string          `json:"client_id"`
	AccessLevel TeamAccessLevel `json:"access_level"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Resource is a protected data surface provided by a client application.
// Other clients request access by naming it in a scope. Names are unique
// across all clients.
type Resource struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"` // <=20 chars, globally unique
	ClientID     string    `json:"client_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	SiteResource bool      `json:"siteresource"`
	Trusted      bool      `json:"trusted"`
	CreatedAt    time.Time `json:"created_at"`
}

// Capabilities resolves the viewer's capabilities on the resource; the
// owning client record must be supplied.
func (r *Resource) Capabilities(v identity.Viewer, owner *Client) identity.CapSet {
	caps := identity.BaseCaps()
	if owner != nil && owner.ID == r.ClientID && owner.OwnerIs(v) {
		caps.Add("edit", "delete", "new-action")
	}
	return caps
}

// ResourceAction is an operation on a resource. Names are unique within the
// parent resource only.
type ResourceAction struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ResourceID  string    `json:"resource_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Capabilities resolves the viewer's capabilities on the action.
func (a *ResourceAction) Capabilities(v identity.Viewer, owner *Client) identity.CapSet {
	caps := identity.BaseCaps()
	if owner != nil && owner.OwnerIs(v) {
		caps.Add("edit", "delete")
	}
	return caps
}

// Permission is a named capability token. It is owned by exactly one of a
// user and an organization, or is global (AllUsers) and ownerless.
type Permission struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	OrgID       string    `json:"org_id,omitempty"`
	Name        string    `json:"name"` // not globally unique by itself
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AllUsers    bool      `json:"allusers"`
	CreatedAt   time.Time `json:"created_at"`
}

// OwnerIs reports whether the viewer owns the permission definition.
func (p *Permission) OwnerIs(v identity.Viewer) bool {
	if !v.Present() {
		return false
	}
	return v.IsUser(p.UserID) || (p.OrgID != "" && v.OwnsOrg(p.OrgID))
}

// Capabilities resolves the viewer's capabilities on the permission.
func (p *Permission) Capabilities(v identity.Viewer) identity.CapSet {
	caps := identity.BaseCaps()
	if p.OwnerIs(v) {
		caps.Add("edit", "delete")
	}
	return caps
}

// UserClientPermissions assigns a set of permission tokens to a (user,
// client) pair. There is never more than one row per pair; the set lives
// inside the row and is stored as a sorted, space-joined string.
type UserClientPermissions struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Access    scope.Set `json:"permissions"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TeamClientPermissions assigns a set of permission tokens to a (team,
// client) pair, one row per pair.
type TeamClientPermissions struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	ClientID  string    `json:"client_id"`
	Access    scope.Set `json:"permissions"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthCode is a short-lived single-use authorization grant for one (user,
// client) pair. Scope serializes in insertion order. Lifetime is enforced by
// the exchanging caller's TTL check, not stored on the row.
type AuthCode struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ClientID    string    `json:"client_id"`
	Code        string    `json:"code"` // 44-char random
	Scope       scope.Set `json:"scope"`
	RedirectURI string    `json:"redirect_uri"`
	Used        bool      `json:"used"`
	CreatedAt   time.Time `json:"created_at"`
}

// Supported MAC algorithms for AuthToken.
const (
	AlgHMACSHA1   = "hmac-sha-1"
	AlgHMACSHA256 = "hmac-sha-256"
)

// AuthToken is an access token belonging to a client and optionally to a
// user. A token with no user is the client's own identity (client-only
// token) and carries no refresh token. At most one token exists per
// user-attached (user, client) pair; scope is extended in place, stored
// sorted.
type AuthToken struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"` // empty for client-only tokens
	ClientID     string    `json:"client_id"`
	Token        string    `json:"token"` // 22-char, unique
	TokenType    string    `json:"token_type"`
	Secret       string    `json:"-"`
	Algorithm    string    `json:"algorithm,omitempty"`
	Scope        scope.Set `json:"scope"`
	Validity     int       `json:"validity"` // seconds; 0 = non-expiring
	RefreshToken string    `json:"refresh_token,omitempty"` // unique, user-attached only
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Refreshable reports whether the token can be rotated: only user-attached
// tokens carry a refresh token.
func (t *AuthToken) Refreshable() bool { return t.RefreshToken != "" }

// SetAlgorithm sets the MAC algorithm. An empty algorithm clears the secret
// as well.
func (t *AuthToken) SetAlgorithm(alg string) error {
	switch alg {
	case "":
		t.Algorithm = ""
		t.Secret = ""
	case AlgHMACSHA1, AlgHMACSHA256:
		t.Algorithm = alg
	default:
		return fmt.Errorf("%w: unrecognized algorithm %q", ErrInvalidArgument, alg)
	}
	return nil
}
