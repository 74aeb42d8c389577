package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"idgate.org/internal/identity"
	"idgate.org/internal/ids"
	"idgate.org/internal/scope"
)

// DefaultCodeTTL is how long an authorization code stays exchangeable.
const DefaultCodeTTL = 3 * time.Minute

// Engine drives the authorization flows: client registration and
// verification, scope validation against the resource vocabulary, the
// code-for-token exchange, token refresh and identity migration.
type Engine struct {
	store    Store
	registry *identity.Service
	now      func() time.Time
	codeTTL  time.Duration
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithCodeTTL overrides the authorization code lifetime.
func WithCodeTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.codeTTL = d
		}
	}
}

// NewEngine wires the engine to its store and the identity registry.
func NewEngine(store Store, registry *identity.Service, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("oauth store is required")
	}
	if registry == nil {
		return nil, errors.New("identity registry is required")
	}
	e := &Engine{store: store, registry: registry, now: time.Now, codeTTL: DefaultCodeTTL}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// --- Client registry ---

// RegisterClient creates a client with fresh credentials. Exactly one of
// UserID and OrgID must be set; the key and secret are assigned here and
// never change afterwards.
func (e *Engine) RegisterClient(ctx context.Context, c *Client) (*Client, error) {
	if c.Title == "" || c.Website == "" {
		return nil, fmt.Errorf("%w: title and website are required", ErrInvalidArgument)
	}
	if err := c.checkOwner(); err != nil {
		return nil, err
	}
	c.Key = ids.Key()
	c.Secret = ids.Secret()
	c.Active = true
	if err := e.store.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) GetClient(ctx context.Context, id string) (*Client, error) {
	return e.store.GetClient(ctx, id)
}

func (e *Engine) GetClientByKey(ctx context.Context, key string) (*Client, error) {
	return e.store.GetClientByKey(ctx, key)
}

func (e *Engine) UpdateClient(ctx context.Context, c *Client) error {
	return e.store.UpdateClient(ctx, c)
}

// DeleteClient removes the client and all dependent rows.
func (e *Engine) DeleteClient(ctx context.Context, id string) error {
	return e.store.DeleteClient(ctx, id)
}

func (e *Engine) ListClientsByUser(ctx context.Context, userID string) ([]*Client, error) {
	return e.store.ListClientsByUser(ctx, userID)
}

func (e *Engine) ListClientsByOrg(ctx context.Context, orgID string) ([]*Client, error) {
	return e.store.ListClientsByOrg(ctx, orgID)
}

// OwnerTitle resolves the display name of the client's owner. A client with
// no resolvable owner is a broken record.
func (e *Engine) OwnerTitle(ctx context.Context, c *Client) (string, error) {
	switch {
	case c.UserID != "":
		u, err := e.registry.UserByID(ctx, c.UserID)
		if err != nil {
			return "", fmt.Errorf("%w: client %s owner", ErrConsistency, c.ID)
		}
		return u.PickerName(), nil
	case c.OrgID != "":
		org, err := e.registry.OrganizationByID(ctx, c.OrgID)
		if err != nil {
			return "", fmt.Errorf("%w: client %s owner", ErrConsistency, c.ID)
		}
		return org.PickerName(), nil
	default:
		return "", fmt.Errorf("%w: client %s has no owner", ErrConsistency, c.ID)
	}
}

// ValidateClientCredentials authenticates a client by key and secret. The
// secret comparison is constant time; an unknown key or inactive client
// reports the same error as a bad secret.
func (e *Engine) ValidateClientCredentials(ctx context.Context, key, secret string) (*Client, error) {
	c, err := e.store.GetClientByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad client credentials", ErrUnauthorized)
	}
	if !c.SecretIs(secret) {
		return nil, fmt.Errorf("%w: bad client credentials", ErrUnauthorized)
	}
	return c, nil
}

// SetTeamAccess records how much of an organization's teams a client may
// read. The client must have opted in to team access.
func (e *Engine) SetTeamAccess(ctx context.Context, c *Client, orgID string, level TeamAccessLevel) error {
	if !c.TeamAccess {
		return fmt.Errorf("%w: client does not use team access", ErrInvalidArgument)
	}
	return e.store.SetTeamAccess(ctx, &ClientTeamAccess{OrgID: orgID, ClientID: c.ID, AccessLevel: level})
}

// OrgsWithTeamAccess lists organizations that granted the client full team
// visibility.
func (e *Engine) OrgsWithTeamAccess(ctx context.Context, c *Client) ([]*identity.Organization, error) {
	grants, err := e.store.ListTeamAccess(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	var orgs []*identity.Organization
	for _, g := range grants {
		if g.AccessLevel != TeamAccessAll {
			continue
		}
		org, err := e.registry.OrganizationByID(ctx, g.OrgID)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}

// --- Scope vocabulary ---

// maxResourceNameLen bounds resource names so scopes stay short.
const maxResourceNameLen = 20

// NewResource registers a resource under the client.
func (e *Engine) NewResource(ctx context.Context, c *Client, name, title string, siteResource, trusted bool) (*Resource, error) {
	if !identity.ValidName(name) || len(name) > maxResourceNameLen {
		return nil, fmt.Errorf("%w: bad resource name %q", ErrInvalidArgument, name)
	}
	r := &Resource{
		Name:         name,
		ClientID:     c.ID,
		Title:        title,
		SiteResource: siteResource,
		Trusted:      trusted,
	}
	if err := e.store.CreateResource(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// NewResourceAction registers an action on the resource. Action names are
// unique per resource, not globally.
func (e *Engine) NewResourceAction(ctx context.Context, r *Resource, name, title string) (*ResourceAction, error) {
	if !identity.ValidName(name) {
		return nil, fmt.Errorf("%w: bad action name %q", ErrInvalidArgument, name)
	}
	a := &ResourceAction{Name: name, ResourceID: r.ID, Title: title}
	if err := e.store.CreateResourceAction(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (e *Engine) GetResource(ctx context.Context, id string) (*Resource, error) {
	return e.store.GetResource(ctx, id)
}

func (e *Engine) ListResources(ctx context.Context, clientID string) ([]*Resource, error) {
	return e.store.ListResources(ctx, clientID)
}

func (e *Engine) ListResourceActions(ctx context.Context, resourceID string) ([]*ResourceAction, error) {
	return e.store.ListResourceActions(ctx, resourceID)
}

// VerifyScope checks every requested token against the registered
// vocabulary. A token is either a resource name or resource/action; a bare
// resource name covers all its actions.
func (e *Engine) VerifyScope(ctx context.Context, s scope.Set) error {
	for _, token := range s {
		name, action, _ := strings.Cut(token, "/")
		r, err := e.store.GetResourceByName(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: unknown resource %q", scope.ErrInvalidScope, name)
		}
		if action == "" {
			continue
		}
		if _, err := e.store.GetResourceAction(ctx, r.ID, action); err != nil {
			return fmt.Errorf("%w: unknown action %q on %q", scope.ErrInvalidScope, action, name)
		}
	}
	return nil
}

// --- Authorization flows ---

// Authorize issues a single-use authorization code for the user and client.
// The requested scope must be non-empty and fully registered; its insertion
// order is preserved on the code.
func (e *Engine) Authorize(ctx context.Context, u *identity.User, c *Client, requested scope.Set, redirectURI string) (*AuthCode, error) {
	if u == nil || !u.IsActive() {
		return nil, fmt.Errorf("%w: no active user", ErrUnauthorized)
	}
	if !c.Active {
		return nil, fmt.Errorf("%w: inactive client", ErrUnauthorized)
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: empty scope", scope.ErrInvalidScope)
	}
	if err := e.VerifyScope(ctx, requested); err != nil {
		return nil, err
	}
	code := &AuthCode{
		UserID:      u.ID,
		ClientID:    c.ID,
		Code:        ids.Secret(),
		Scope:       requested.Clone(),
		RedirectURI: redirectURI,
	}
	if err := e.store.CreateAuthCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// Exchange trades an authorization code for the user's token. The code must
// be unused, issued to this client with this redirect URI, and younger than
// the code TTL; the whole check-and-consume runs atomically in the store.
func (e *Engine) Exchange(ctx context.Context, c *Client, code, redirectURI string) (*AuthToken, error) {
	cutoff := e.now().UTC().Add(-e.codeTTL)
	return e.store.ExchangeAuthCode(ctx, code, c.ID, redirectURI, cutoff)
}

// ExtendToken lets a trusted client obtain or extend a user's token without
// the code flow.
func (e *Engine) ExtendToken(ctx context.Context, u *identity.User, c *Client, requested scope.Set) (*AuthToken, error) {
	if !c.Trusted {
		return nil, fmt.Errorf("%w: client is not trusted", ErrUnauthorized)
	}
	if u == nil || !u.IsActive() {
		return nil, fmt.Errorf("%w: no active user", ErrUnauthorized)
	}
	if err := e.VerifyScope(ctx, requested); err != nil {
		return nil, err
	}
	return e.store.UpsertAuthToken(ctx, u.ID, c.ID, requested, 0)
}

// ClientToken issues a client-only token carrying the client's own identity.
// Such tokens expire and cannot be refreshed.
func (e *Engine) ClientToken(ctx context.Context, c *Client, requested scope.Set, validity int) (*AuthToken, error) {
	if err := e.VerifyScope(ctx, requested); err != nil {
		return nil, err
	}
	return e.store.UpsertAuthToken(ctx, "", c.ID, requested, validity)
}

// Refresh rotates the token identified by its refresh token: a new token
// value and secret are issued while the refresh token stays stable.
func (e *Engine) Refresh(ctx context.Context, c *Client, refreshToken string) (*AuthToken, error) {
	t, err := e.store.GetAuthTokenByRefresh(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token", ErrInvalidGrant)
	}
	if t.ClientID != c.ID {
		return nil, fmt.Errorf("%w: refresh token", ErrInvalidGrant)
	}
	return e.store.RotateAuthToken(ctx, t.Token)
}

// VerifyToken resolves a presented access token, rejecting expired ones.
// Validity counts from the last rotation.
func (e *Engine) VerifyToken(ctx context.Context, token string) (*AuthToken, error) {
	t, err := e.store.GetAuthToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: auth token", ErrUnauthorized)
	}
	if t.Validity > 0 {
		expiry := t.UpdatedAt.Add(time.Duration(t.Validity) * time.Second)
		if e.now().UTC().After(expiry) {
			return nil, fmt.Errorf("%w: auth token expired", ErrUnauthorized)
		}
	}
	return t, nil
}

func (e *Engine) ListAuthTokensByUser(ctx context.Context, userID string) ([]*AuthToken, error) {
	return e.store.ListAuthTokensByUser(ctx, userID)
}

func (e *Engine) RevokeAuthToken(ctx context.Context, token string) error {
	return e.store.DeleteAuthToken(ctx, token)
}

// --- Identity migration ---

// MigrateUser moves the old user's tokens and permission assignments to the
// new user, merging where the new user already holds rows for the same
// client. Safe to run again after a partial failure.
func (e *Engine) MigrateUser(ctx context.Context, oldUser, newUser *identity.User) error {
	if oldUser == nil || newUser == nil || oldUser.ID == newUser.ID {
		return fmt.Errorf("%w: need two distinct users", ErrInvalidArgument)
	}
	if err := e.store.MigrateAuthTokens(ctx, oldUser.ID, newUser.ID); err != nil {
		return err
	}
	return e.store.MigrateUserClientPermissions(ctx, oldUser.ID, newUser.ID)
}
