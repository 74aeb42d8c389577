package oauth

import (
	"context"
	"time"

	"idgate.org/internal/scope"
)

// Store is the persistence boundary for clients, scope vocabulary, the
// permission ledger and token issuance. Implementations must be safe for
// concurrent use. Multi-row operations (exchange, migrate, cascading
// deletes) are atomic inside the store.
type Store interface {
	// Clients.
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id string) (*Client, error)
	// GetClientByKey resolves an active client by its public key.
	GetClientByKey(ctx context.Context, key string) (*Client, error)
	UpdateClient(ctx context.Context, c *Client) error
	// DeleteClient removes the client and everything hanging off it:
	// resources and their actions, auth codes, auth tokens, user and team
	// permission assignments, and team access grants.
	DeleteClient(ctx context.Context, id string) error
	ListClientsByUser(ctx context.Context, userID string) ([]*Client, error)
	ListClientsByOrg(ctx context.Context, orgID string) ([]*Client, error)

	// Team access. SetTeamAccess upserts the single row per (org, client).
	SetTeamAccess(ctx context.Context, a *ClientTeamAccess) error
	ListTeamAccess(ctx context.Context, clientID string) ([]*ClientTeamAccess, error)

	// Scope vocabulary.
	CreateResource(ctx context.Context, r *Resource) error
	GetResource(ctx context.Context, id string) (*Resource, error)
	GetResourceByName(ctx context.Context, name string) (*Resource, error)
	ListResources(ctx context.Context, clientID string) ([]*Resource, error)
	// DeleteResource removes the resource and its actions.
	DeleteResource(ctx context.Context, id string) error
	CreateResourceAction(ctx context.Context, a *ResourceAction) error
	GetResourceAction(ctx context.Context, resourceID, name string) (*ResourceAction, error)
	ListResourceActions(ctx context.Context, resourceID string) ([]*ResourceAction, error)
	DeleteResourceAction(ctx context.Context, id string) error

	// Permission definitions.
	CreatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	GetPermissionAllUsers(ctx context.Context, name string) (*Permission, error)
	GetPermissionByUser(ctx context.Context, name, userID string) (*Permission, error)
	GetPermissionByOrg(ctx context.Context, name, orgID string) (*Permission, error)
	// ListAvailablePermissions returns global permissions plus those owned
	// by the given user or org (exactly one of which is set), ordered by
	// name.
	ListAvailablePermissions(ctx context.Context, userID, orgID string) ([]*Permission, error)
	DeletePermission(ctx context.Context, id string) error

	// Permission assignments. Grants merge into the existing row for the
	// pair, creating it if absent.
	GrantUserClientPermissions(ctx context.Context, userID, clientID string, tokens scope.Set) (*UserClientPermissions, error)
	GetUserClientPermissions(ctx context.Context, userID, clientID string) (*UserClientPermissions, error)
	ListUserClientPermissions(ctx context.Context, clientID string) ([]*UserClientPermissions, error)
	RevokeUserClientPermissions(ctx context.Context, userID, clientID string) error
	GrantTeamClientPermissions(ctx context.Context, teamID, clientID string, tokens scope.Set) (*TeamClientPermissions, error)
	GetTeamClientPermissions(ctx context.Context, teamID, clientID string) (*TeamClientPermissions, error)
	ListTeamClientPermissions(ctx context.Context, clientID string) ([]*TeamClientPermissions, error)
	RevokeTeamClientPermissions(ctx context.Context, teamID, clientID string) error
	// MigrateUserClientPermissions moves the old user's assignments to the
	// new user, merging token sets where the new user already holds a row
	// for the same client. Idempotent.
	MigrateUserClientPermissions(ctx context.Context, oldUserID, newUserID string) error

	// Authorization codes and tokens.
	CreateAuthCode(ctx context.Context, c *AuthCode) error
	GetAuthCode(ctx context.Context, code string) (*AuthCode, error)
	// ExchangeAuthCode atomically validates the code (unused, owned by the
	// client, matching redirect URI, issued after the cutoff), marks it
	// used, and creates or extends the user's token for the client. A code
	// that fails any check is left untouched and ErrInvalidGrant is
	// returned.
	ExchangeAuthCode(ctx context.Context, code, clientID, redirectURI string, issuedAfter time.Time) (*AuthToken, error)

	// UpsertAuthToken returns the single token for a user-attached (user,
	// client) pair, unioning the requested scope into it, or creates a new
	// token. With an empty userID a fresh client-only token is always
	// created; such tokens carry no refresh token.
	UpsertAuthToken(ctx context.Context, userID, clientID string, s scope.Set, validity int) (*AuthToken, error)
	GetAuthToken(ctx context.Context, token string) (*AuthToken, error)
	GetAuthTokenByRefresh(ctx context.Context, refreshToken string) (*AuthToken, error)
	// RotateAuthToken replaces the token value and secret, keeping the
	// refresh token. Rotating a token without a refresh token is a no-op
	// returning the token unchanged.
	RotateAuthToken(ctx context.Context, token string) (*AuthToken, error)
	ListAuthTokensByUser(ctx context.Context, userID string) ([]*AuthToken, error)
	DeleteAuthToken(ctx context.Context, token string) error
	// MigrateAuthTokens reassigns the old user's tokens to the new user.
	// Where the new user already holds a token for the same client, the old
	// token's scope is merged into it and the old token is dropped.
	// Client-only tokens are never touched. Idempotent.
	MigrateAuthTokens(ctx context.Context, oldUserID, newUserID string) error
}
