package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"idgate.org/internal/identity"
	"idgate.org/internal/scope"
)

type testEnv struct {
	engine   *Engine
	registry *identity.Service
	store    *InMemory
	now      *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg, err := identity.NewService(identity.NewInMemory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	st := NewInMemory()
	cur := time.Now()
	e, err := NewEngine(st, reg, WithClock(func() time.Time { return cur }))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &testEnv{engine: e, registry: reg, store: st, now: &cur}
}

func (env *testEnv) user(t *testing.T, username string) *identity.User {
	t.Helper()
	u, err := env.registry.RegisterUser(context.Background(), "Test "+username, username, "hunter2horse")
	if err != nil {
		t.Fatalf("RegisterUser(%s): %v", username, err)
	}
	return u
}

func (env *testEnv) client(t *testing.T, owner *identity.User) *Client {
	t.Helper()
	c, err := env.engine.RegisterClient(context.Background(), &Client{
		UserID:  owner.ID,
		Title:   "Test App",
		Website: "https://app.example.com",
	})
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	return c
}

// resource registers "profile" with read and write actions.
func (env *testEnv) vocabulary(t *testing.T, c *Client) *Resource {
	t.Helper()
	ctx := context.Background()
	r, err := env.engine.NewResource(ctx, c, "profile", "Profile", false, false)
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	for _, name := range []string{"read", "write"} {
		if _, err := env.engine.NewResourceAction(ctx, r, name, name); err != nil {
			t.Fatalf("NewResourceAction(%s): %v", name, err)
		}
	}
	return r
}

func TestRegisterClientOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")

	if _, err := env.engine.RegisterClient(ctx, &Client{Title: "x", Website: "https://x"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ownerless client: got %v, want ErrInvalidArgument", err)
	}
	if _, err := env.engine.RegisterClient(ctx, &Client{UserID: u.ID, OrgID: "org", Title: "x", Website: "https://x"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("doubly owned client: got %v, want ErrInvalidArgument", err)
	}

	c := env.client(t, u)
	if len(c.Key) != 22 {
		t.Fatalf("client key length = %d, want 22", len(c.Key))
	}
	if len(c.Secret) != 44 {
		t.Fatalf("client secret length = %d, want 44", len(c.Secret))
	}
	if !c.Active {
		t.Fatal("new client should be active")
	}
}

func TestClientCredentialsFixedAtCreation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.client(t, env.user(t, "alice"))

	key, secret := c.Key, c.Secret
	c.Title = "Renamed"
	c.Key = "forged-key-value-00000"
	c.Secret = "forged-secret"
	if err := env.engine.UpdateClient(ctx, c); err != nil {
		t.Fatalf("UpdateClient: %v", err)
	}
	got, err := env.engine.GetClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got.Key != key || got.Secret != secret {
		t.Fatal("key and secret must not change on update")
	}
	if got.Title != "Renamed" {
		t.Fatalf("title = %q, want Renamed", got.Title)
	}
}

func TestValidateClientCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.client(t, env.user(t, "alice"))

	got, err := env.engine.ValidateClientCredentials(ctx, c.Key, c.Secret)
	if err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
	if got.ID != c.ID {
		t.Fatalf("resolved client %s, want %s", got.ID, c.ID)
	}
	if _, err := env.engine.ValidateClientCredentials(ctx, c.Key, "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad secret: got %v, want ErrUnauthorized", err)
	}
	if _, err := env.engine.ValidateClientCredentials(ctx, "no-such-key", c.Secret); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown key: got %v, want ErrUnauthorized", err)
	}

	c.Active = false
	if err := env.engine.UpdateClient(ctx, c); err != nil {
		t.Fatalf("UpdateClient: %v", err)
	}
	if _, err := env.engine.ValidateClientCredentials(ctx, c.Key, c.Secret); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("inactive client: got %v, want ErrUnauthorized", err)
	}
}

func TestVerifyScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.client(t, env.user(t, "alice"))
	env.vocabulary(t, c)

	for _, good := range []string{"profile", "profile/read", "profile profile/write"} {
		s, err := scope.Parse(good)
		if err != nil {
			t.Fatalf("Parse(%q): %v", good, err)
		}
		if err := env.engine.VerifyScope(ctx, s); err != nil {
			t.Fatalf("VerifyScope(%q): %v", good, err)
		}
	}
	for _, bad := range []string{"calendar", "profile/delete"} {
		s, err := scope.Parse(bad)
		if err != nil {
			t.Fatalf("Parse(%q): %v", bad, err)
		}
		if err := env.engine.VerifyScope(ctx, s); !errors.Is(err, scope.ErrInvalidScope) {
			t.Fatalf("VerifyScope(%q): got %v, want ErrInvalidScope", bad, err)
		}
	}
}

func TestAuthorizeExchange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")
	c := env.client(t, u)
	env.vocabulary(t, c)
	redirect := "https://app.example.com/callback"

	requested, _ := scope.Parse("profile/write profile/read")
	code, err := env.engine.Authorize(ctx, u, c, requested, redirect)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	// Codes keep request order; tokens sort.
	if code.Scope.String() != "profile/write profile/read" {
		t.Fatalf("code scope = %q, want request order preserved", code.Scope.String())
	}

	// A wrong-client attempt must not consume the code.
	other := env.client(t, u)
	if _, err := env.engine.Exchange(ctx, other, code.Code, redirect); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("wrong client: got %v, want ErrInvalidGrant", err)
	}
	if _, err := env.engine.Exchange(ctx, c, code.Code, "https://elsewhere"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("wrong redirect: got %v, want ErrInvalidGrant", err)
	}

	tok, err := env.engine.Exchange(ctx, c, code.Code, redirect)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if tok.UserID != u.ID || tok.ClientID != c.ID {
		t.Fatal("token attached to wrong pair")
	}
	if tok.Scope.Sorted() != "profile/read profile/write" {
		t.Fatalf("token scope = %q, want sorted", tok.Scope.Sorted())
	}
	if !tok.Refreshable() {
		t.Fatal("user token must carry a refresh token")
	}

	// Single use.
	if _, err := env.engine.Exchange(ctx, c, code.Code, redirect); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("reused code: got %v, want ErrInvalidGrant", err)
	}
}

func TestExchangeExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")
	c := env.client(t, u)
	env.vocabulary(t, c)

	requested, _ := scope.Parse("profile")
	code, err := env.engine.Authorize(ctx, u, c, requested, "https://cb")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	*env.now = env.now.Add(DefaultCodeTTL + time.Minute)
	if _, err := env.engine.Exchange(ctx, c, code.Code, "https://cb"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expired code: got %v, want ErrInvalidGrant", err)
	}
	// Expiry must not mark the code used.
	got, err := env.store.GetAuthCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("GetAuthCode: %v", err)
	}
	if got.Used {
		t.Fatal("expired code was marked used")
	}
}

func TestOneTokenPerPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")
	c := env.client(t, u)
	env.vocabulary(t, c)
	redirect := "https://cb"

	first, _ := scope.Parse("profile/read")
	code1, err := env.engine.Authorize(ctx, u, c, first, redirect)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	tok1, err := env.engine.Exchange(ctx, c, code1.Code, redirect)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	second, _ := scope.Parse("profile/write")
	code2, err := env.engine.Authorize(ctx, u, c, second, redirect)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	tok2, err := env.engine.Exchange(ctx, c, code2.Code, redirect)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	if tok2.Token != tok1.Token {
		t.Fatal("second exchange must extend the existing token, not mint a new one")
	}
	if tok2.RefreshToken != tok1.RefreshToken {
		t.Fatal("refresh token must survive scope extension")
	}
	if tok2.Scope.Sorted() != "profile/read profile/write" {
		t.Fatalf("token scope = %q, want union", tok2.Scope.Sorted())
	}
	all, err := env.engine.ListAuthTokensByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListAuthTokensByUser: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("tokens for pair = %d, want 1", len(all))
	}
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")
	c := env.client(t, u)
	env.vocabulary(t, c)

	requested, _ := scope.Parse("profile")
	code, _ := env.engine.Authorize(ctx, u, c, requested, "https://cb")
	tok, err := env.engine.Exchange(ctx, c, code.Code, "https://cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	rotated, err := env.engine.Refresh(ctx, c, tok.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.Token == tok.Token {
		t.Fatal("refresh must issue a new token value")
	}
	if rotated.Secret == tok.Secret {
		t.Fatal("refresh must issue a new secret")
	}
	if rotated.RefreshToken != tok.RefreshToken {
		t.Fatal("refresh token itself must be stable")
	}
	if _, err := env.engine.VerifyToken(ctx, tok.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old token value: got %v, want ErrUnauthorized", err)
	}
	if _, err := env.engine.VerifyToken(ctx, rotated.Token); err != nil {
		t.Fatalf("rotated token rejected: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, c, "no-such-refresh"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("unknown refresh token: got %v, want ErrInvalidGrant", err)
	}
	other := env.client(t, u)
	if _, err := env.engine.Refresh(ctx, other, tok.RefreshToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("foreign client refresh: got %v, want ErrInvalidGrant", err)
	}
}

func TestClientOnlyToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.client(t, env.user(t, "alice"))
	env.vocabulary(t, c)

	requested, _ := scope.Parse("profile")
	tok, err := env.engine.ClientToken(ctx, c, requested, 3600)
	if err != nil {
		t.Fatalf("ClientToken: %v", err)
	}
	if tok.UserID != "" {
		t.Fatal("client-only token must carry no user")
	}
	if tok.Refreshable() {
		t.Fatal("client-only token must carry no refresh token")
	}

	// Rotating a non-refreshable token is a no-op.
	same, err := env.store.RotateAuthToken(ctx, tok.Token)
	if err != nil {
		t.Fatalf("RotateAuthToken: %v", err)
	}
	if same.Token != tok.Token || same.Secret != tok.Secret {
		t.Fatal("rotation of a non-refreshable token must change nothing")
	}

	if _, err := env.engine.VerifyToken(ctx, tok.Token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	*env.now = env.now.Add(2 * time.Hour)
	if _, err := env.engine.VerifyToken(ctx, tok.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token: got %v, want ErrUnauthorized", err)
	}
}

func TestExtendTokenTrustedOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")
	c := env.client(t, u)
	env.vocabulary(t, c)
	requested, _ := scope.Parse("profile")

	if _, err := env.engine.ExtendToken(ctx, u, c, requested); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("untrusted client: got %v, want ErrUnauthorized", err)
	}
	c.Trusted = true
	if err := env.engine.UpdateClient(ctx, c); err != nil {
		t.Fatalf("UpdateClient: %v", err)
	}
	tok, err := env.engine.ExtendToken(ctx, u, c, requested)
	if err != nil {
		t.Fatalf("ExtendToken: %v", err)
	}
	if tok.UserID != u.ID {
		t.Fatal("extended token must belong to the user")
	}
}

func TestSetAlgorithm(t *testing.T) {
	tok := &AuthToken{Secret: "s3cret"}
	if err := tok.SetAlgorithm(AlgHMACSHA256); err != nil {
		t.Fatalf("SetAlgorithm(sha256): %v", err)
	}
	if err := tok.SetAlgorithm("md5"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("bad algorithm: got %v, want ErrInvalidArgument", err)
	}
	if err := tok.SetAlgorithm(""); err != nil {
		t.Fatalf("SetAlgorithm(empty): %v", err)
	}
	if tok.Secret != "" {
		t.Fatal("clearing the algorithm must clear the secret")
	}
}

func TestMigrateUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	oldUser := env.user(t, "duplicate")
	newUser := env.user(t, "canonical")
	appA := env.client(t, newUser)
	appB := env.client(t, newUser)
	env.vocabulary(t, appA)

	// Old user holds tokens for both apps; new user only for app A.
	readScope, _ := scope.Parse("profile/read")
	writeScope, _ := scope.Parse("profile/write")
	if _, err := env.store.UpsertAuthToken(ctx, oldUser.ID, appA.ID, readScope, 0); err != nil {
		t.Fatalf("UpsertAuthToken: %v", err)
	}
	if _, err := env.store.UpsertAuthToken(ctx, oldUser.ID, appB.ID, readScope, 0); err != nil {
		t.Fatalf("UpsertAuthToken: %v", err)
	}
	kept, err := env.store.UpsertAuthToken(ctx, newUser.ID, appA.ID, writeScope, 0)
	if err != nil {
		t.Fatalf("UpsertAuthToken: %v", err)
	}
	if _, err := env.store.GrantUserClientPermissions(ctx, oldUser.ID, appA.ID, scope.Set{"siteadmin"}); err != nil {
		t.Fatalf("GrantUserClientPermissions: %v", err)
	}
	if _, err := env.store.GrantUserClientPermissions(ctx, newUser.ID, appA.ID, scope.Set{"editor"}); err != nil {
		t.Fatalf("GrantUserClientPermissions: %v", err)
	}
	clientOnly, err := env.store.UpsertAuthToken(ctx, "", appA.ID, readScope, 0)
	if err != nil {
		t.Fatalf("UpsertAuthToken: %v", err)
	}

	if err := env.engine.MigrateUser(ctx, oldUser, newUser); err != nil {
		t.Fatalf("MigrateUser: %v", err)
	}
	// Running it again must be harmless.
	if err := env.engine.MigrateUser(ctx, oldUser, newUser); err != nil {
		t.Fatalf("MigrateUser (repeat): %v", err)
	}

	if left, _ := env.engine.ListAuthTokensByUser(ctx, oldUser.ID); len(left) != 0 {
		t.Fatalf("old user still holds %d tokens", len(left))
	}
	got, err := env.engine.ListAuthTokensByUser(ctx, newUser.ID)
	if err != nil {
		t.Fatalf("ListAuthTokensByUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("new user tokens = %d, want 2", len(got))
	}
	for _, tok := range got {
		if tok.ClientID == appA.ID {
			if tok.Token != kept.Token {
				t.Fatal("collision must keep the new user's token")
			}
			if tok.Scope.Sorted() != "profile/read profile/write" {
				t.Fatalf("merged scope = %q", tok.Scope.Sorted())
			}
		}
	}
	grant, err := env.store.GetUserClientPermissions(ctx, newUser.ID, appA.ID)
	if err != nil {
		t.Fatalf("GetUserClientPermissions: %v", err)
	}
	if grant.Access.Sorted() != "editor siteadmin" {
		t.Fatalf("merged permissions = %q", grant.Access.Sorted())
	}
	if _, err := env.store.GetAuthToken(ctx, clientOnly.Token); err != nil {
		t.Fatal("client-only token must survive migration untouched")
	}

	if err := env.engine.MigrateUser(ctx, oldUser, oldUser); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("self migration: got %v, want ErrInvalidArgument", err)
	}
}

func TestPermissionOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")

	if _, err := env.engine.NewPermission(ctx, &Permission{Name: "admin", Title: "Admin"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ownerless permission: got %v, want ErrInvalidArgument", err)
	}
	global, err := env.engine.NewPermission(ctx, &Permission{Name: "siteadmin", Title: "Site admin", AllUsers: true, UserID: u.ID})
	if err != nil {
		t.Fatalf("NewPermission(allusers): %v", err)
	}
	if global.UserID != "" {
		t.Fatal("global permission must be ownerless")
	}
	if _, err := env.engine.NewPermission(ctx, &Permission{Name: "editor", Title: "Editor", UserID: u.ID}); err != nil {
		t.Fatalf("NewPermission(user): %v", err)
	}

	// allusers lookup ignores owner arguments.
	if _, err := env.engine.GetPermission(ctx, "siteadmin", u.ID, "ignored-org", true); err != nil {
		t.Fatalf("GetPermission(allusers): %v", err)
	}
	if _, err := env.engine.GetPermission(ctx, "editor", u.ID, "org", false); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("both owners: got %v, want ErrInvalidArgument", err)
	}
	if _, err := env.engine.GetPermission(ctx, "editor", u.ID, "", false); err != nil {
		t.Fatalf("GetPermission(user): %v", err)
	}
}

func TestAvailablePermissionsOrdered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	for _, p := range []*Permission{
		{Name: "zeta", Title: "Zeta", UserID: alice.ID},
		{Name: "siteadmin", Title: "Site admin", AllUsers: true},
		{Name: "alpha", Title: "Alpha", UserID: alice.ID},
		{Name: "hidden", Title: "Hidden", UserID: bob.ID},
	} {
		if _, err := env.engine.NewPermission(ctx, p); err != nil {
			t.Fatalf("NewPermission(%s): %v", p.Name, err)
		}
	}
	got, err := env.engine.AvailablePermissions(ctx, alice.ID, "")
	if err != nil {
		t.Fatalf("AvailablePermissions: %v", err)
	}
	var names []string
	for _, p := range got {
		names = append(names, p.Name)
	}
	want := []string{"alpha", "siteadmin", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
	if _, err := env.engine.AvailablePermissions(ctx, alice.ID, "org"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("both owners: got %v, want ErrInvalidArgument", err)
	}
}

func TestGrantMergesIntoSingleRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")
	c := env.client(t, u)

	if _, err := env.engine.GrantUserPermissions(ctx, u, c, scope.Set{"editor"}); err != nil {
		t.Fatalf("GrantUserPermissions: %v", err)
	}
	g, err := env.engine.GrantUserPermissions(ctx, u, c, scope.Set{"reviewer", "editor"})
	if err != nil {
		t.Fatalf("GrantUserPermissions (merge): %v", err)
	}
	if g.Access.Sorted() != "editor reviewer" {
		t.Fatalf("merged access = %q", g.Access.Sorted())
	}
	rows, err := env.store.ListUserClientPermissions(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListUserClientPermissions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want one row per pair", len(rows))
	}
}

func TestUserPermissionsForUnionsTeams(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")
	c := env.client(t, u)
	org, err := env.registry.NewOrganization(ctx, u, "acme", "Acme")
	if err != nil {
		t.Fatalf("NewOrganization: %v", err)
	}
	team, err := env.registry.NewTeam(ctx, org, "Editors")
	if err != nil {
		t.Fatalf("NewTeam: %v", err)
	}
	if err := env.registry.AddTeamMember(ctx, team.ID, u.ID); err != nil {
		t.Fatalf("AddTeamMember: %v", err)
	}

	if _, err := env.engine.GrantUserPermissions(ctx, u, c, scope.Set{"direct"}); err != nil {
		t.Fatalf("GrantUserPermissions: %v", err)
	}
	if _, err := env.engine.GrantTeamPermissions(ctx, team, c, scope.Set{"via-team"}); err != nil {
		t.Fatalf("GrantTeamPermissions: %v", err)
	}
	got, err := env.engine.UserPermissionsFor(ctx, u, c)
	if err != nil {
		t.Fatalf("UserPermissionsFor: %v", err)
	}
	if got.String() != "direct via-team" {
		t.Fatalf("effective permissions = %q", got.String())
	}
}

// flakyGrantStore fails permission reads with an infrastructure error.
type flakyGrantStore struct {
	Store
	err error
}

func (s *flakyGrantStore) GetUserClientPermissions(ctx context.Context, userID, clientID string) (*UserClientPermissions, error) {
	return nil, s.err
}

func TestUserPermissionsForSurfacesStoreErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")
	c := env.client(t, u)

	storeErr := errors.New("connection reset")
	broken, err := NewEngine(&flakyGrantStore{Store: env.store, err: storeErr}, env.registry)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	// A backend failure must come back as an error, not as an empty
	// permission set.
	if _, err := broken.UserPermissionsFor(ctx, u, c); !errors.Is(err, storeErr) {
		t.Fatalf("UserPermissionsFor: got %v, want the store error", err)
	}
}

func TestDeleteClientCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "alice")
	c := env.client(t, u)
	r := env.vocabulary(t, c)

	requested, _ := scope.Parse("profile")
	code, _ := env.engine.Authorize(ctx, u, c, requested, "https://cb")
	tok, err := env.engine.Exchange(ctx, c, code.Code, "https://cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if _, err := env.engine.GrantUserPermissions(ctx, u, c, scope.Set{"editor"}); err != nil {
		t.Fatalf("GrantUserPermissions: %v", err)
	}

	if err := env.engine.DeleteClient(ctx, c.ID); err != nil {
		t.Fatalf("DeleteClient: %v", err)
	}
	if _, err := env.store.GetResource(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resource after cascade: got %v, want ErrNotFound", err)
	}
	if _, err := env.store.GetAuthToken(ctx, tok.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("token after cascade: got %v, want ErrNotFound", err)
	}
	if _, err := env.store.GetUserClientPermissions(ctx, u.ID, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("grant after cascade: got %v, want ErrNotFound", err)
	}
}

func TestResourceNameRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.client(t, env.user(t, "alice"))

	if _, err := env.engine.NewResource(ctx, c, "Profile", "Profile", false, false); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("uppercase name: got %v, want ErrInvalidArgument", err)
	}
	if _, err := env.engine.NewResource(ctx, c, "a-very-long-resource-name", "Long", false, false); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("overlong name: got %v, want ErrInvalidArgument", err)
	}
	r, err := env.engine.NewResource(ctx, c, "notes", "Notes", false, false)
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	if _, err := env.engine.NewResource(ctx, c, "notes", "Dup", false, false); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate resource name: got %v, want ErrConflict", err)
	}
	if _, err := env.engine.NewResourceAction(ctx, r, "read", "Read"); err != nil {
		t.Fatalf("NewResourceAction: %v", err)
	}
	if _, err := env.engine.NewResourceAction(ctx, r, "read", "Read again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate action name: got %v, want ErrConflict", err)
	}
}
