package oauth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"idgate.org/internal/ids"
	"idgate.org/internal/scope"
)

var _ Store = (*InMemory)(nil)

// InMemory is a non-durable Store used in tests and local development.
type InMemory struct {
	mu sync.RWMutex

	clients    map[string]*Client // by id
	clientKeys map[string]string  // key -> id

	teamAccess map[string]*ClientTeamAccess // orgID+"/"+clientID

	resources     map[string]*Resource // by id
	resourceNames map[string]string    // name -> id
	actions       map[string]*ResourceAction

	perms map[string]*Permission

	userGrants map[string]*UserClientPermissions // userID+"/"+clientID
	teamGrants map[string]*TeamClientPermissions // teamID+"/"+clientID

	codes map[string]*AuthCode // by code value

	tokens      map[string]*AuthToken // by id
	tokenIndex  map[string]string     // token value -> id
	refreshIdx  map[string]string     // refresh token value -> id
	pairIndex   map[string]string     // userID+"/"+clientID -> id, user-attached only
	now         func() time.Time
}

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		clients:       make(map[string]*Client),
		clientKeys:    make(map[string]string),
		teamAccess:    make(map[string]*ClientTeamAccess),
		resources:     make(map[string]*Resource),
		resourceNames: make(map[string]string),
		actions:       make(map[string]*ResourceAction),
		perms:         make(map[string]*Permission),
		userGrants:    make(map[string]*UserClientPermissions),
		teamGrants:    make(map[string]*TeamClientPermissions),
		codes:         make(map[string]*AuthCode),
		tokens:        make(map[string]*AuthToken),
		tokenIndex:    make(map[string]string),
		refreshIdx:    make(map[string]string),
		pairIndex:     make(map[string]string),
		now:           time.Now,
	}
}

func pairKey(a, b string) string { return a + "/" + b }

func cloneClient(c *Client) *Client { cp := *c; return &cp }

func cloneResource(r *Resource) *Resource { cp := *r; return &cp }

func cloneAction(a *ResourceAction) *ResourceAction { cp := *a; return &cp }

func clonePermission(p *Permission) *Permission { cp := *p; return &cp }

func cloneUserGrant(g *UserClientPermissions) *UserClientPermissions {
	cp := *g
	cp.Access = g.Access.Clone()
	return &cp
}

func cloneTeamGrant(g *TeamClientPermissions) *TeamClientPermissions {
	cp := *g
	cp.Access = g.Access.Clone()
	return &cp
}

func cloneCode(c *AuthCode) *AuthCode {
	cp := *c
	cp.Scope = c.Scope.Clone()
	return &cp
}

func cloneToken(t *AuthToken) *AuthToken {
	cp := *t
	cp.Scope = t.Scope.Clone()
	return &cp
}

// --- Clients ---

func (m *InMemory) CreateClient(ctx context.Context, c *Client) error {
	if err := c.checkOwner(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	if _, ok := m.clients[c.ID]; ok {
		return fmt.Errorf("%w: client %s", ErrConflict, c.ID)
	}
	if _, ok := m.clientKeys[c.Key]; ok {
		return fmt.Errorf("%w: client key", ErrConflict)
	}
	c.CreatedAt = m.now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.clients[c.ID] = cloneClient(c)
	m.clientKeys[c.Key] = c.ID
	return nil
}

func (m *InMemory) GetClient(ctx context.Context, id string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: client %s", ErrNotFound, id)
	}
	return cloneClient(c), nil
}

func (m *InMemory) GetClientByKey(ctx context.Context, key string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.clientKeys[key]
	if !ok {
		return nil, fmt.Errorf("%w: client key", ErrNotFound)
	}
	c := m.clients[id]
	if !c.Active {
		return nil, fmt.Errorf("%w: client key", ErrNotFound)
	}
	return cloneClient(c), nil
}

func (m *InMemory) UpdateClient(ctx context.Context, c *Client) error {
	if err := c.checkOwner(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.clients[c.ID]
	if !ok {
		return fmt.Errorf("%w: client %s", ErrNotFound, c.ID)
	}
	// Key and secret are fixed at creation.
	c.Key = cur.Key
	c.Secret = cur.Secret
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = m.now().UTC()
	m.clients[c.ID] = cloneClient(c)
	return nil
}

func (m *InMemory) DeleteClient(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return fmt.Errorf("%w: client %s", ErrNotFound, id)
	}
	for rid, r := range m.resources {
		if r.ClientID != id {
			continue
		}
		for aid, a := range m.actions {
			if a.ResourceID == rid {
				delete(m.actions, aid)
			}
		}
		delete(m.resourceNames, r.Name)
		delete(m.resources, rid)
	}
	for code, ac := range m.codes {
		if ac.ClientID == id {
			delete(m.codes, code)
		}
	}
	for tid, t := range m.tokens {
		if t.ClientID == id {
			m.dropTokenLocked(tid, t)
		}
	}
	for k, g := range m.userGrants {
		if g.ClientID == id {
			delete(m.userGrants, k)
		}
	}
	for k, g := range m.teamGrants {
		if g.ClientID == id {
			delete(m.teamGrants, k)
		}
	}
	for k, a := range m.teamAccess {
		if a.ClientID == id {
			delete(m.teamAccess, k)
		}
	}
	delete(m.clientKeys, c.Key)
	delete(m.clients, id)
	return nil
}

func (m *InMemory) ListClientsByUser(ctx context.Context, userID string) ([]*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Client
	for _, c := range m.clients {
		if c.UserID == userID && userID != "" {
			out = append(out, cloneClient(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) ListClientsByOrg(ctx context.Context, orgID string) ([]*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Client
	for _, c := range m.clients {
		if c.OrgID == orgID && orgID != "" {
			out = append(out, cloneClient(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Team access ---

func (m *InMemory) SetTeamAccess(ctx context.Context, a *ClientTeamAccess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(a.OrgID, a.ClientID)
	if cur, ok := m.teamAccess[key]; ok {
		cur.AccessLevel = a.AccessLevel
		a.ID = cur.ID
		a.CreatedAt = cur.CreatedAt
		return nil
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.CreatedAt = m.now().UTC()
	cp := *a
	m.teamAccess[key] = &cp
	return nil
}

func (m *InMemory) ListTeamAccess(ctx context.Context, clientID string) ([]*ClientTeamAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ClientTeamAccess
	for _, a := range m.teamAccess {
		if a.ClientID == clientID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgID < out[j].OrgID })
	return out, nil
}

// --- Resources ---

func (m *InMemory) CreateResource(ctx context.Context, r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resourceNames[r.Name]; ok {
		return fmt.Errorf("%w: resource %q", ErrConflict, r.Name)
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	r.CreatedAt = m.now().UTC()
	m.resources[r.ID] = cloneResource(r)
	m.resourceNames[r.Name] = r.ID
	return nil
}

func (m *InMemory) GetResource(ctx context.Context, id string) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, id)
	}
	return cloneResource(r), nil
}

func (m *InMemory) GetResourceByName(ctx context.Context, name string) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.resourceNames[name]
	if !ok {
		return nil, fmt.Errorf("%w: resource %q", ErrNotFound, name)
	}
	return cloneResource(m.resources[id]), nil
}

func (m *InMemory) ListResources(ctx context.Context, clientID string) ([]*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Resource
	for _, r := range m.resources {
		if r.ClientID == clientID {
			out = append(out, cloneResource(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *InMemory) DeleteResource(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return fmt.Errorf("%w: resource %s", ErrNotFound, id)
	}
	for aid, a := range m.actions {
		if a.ResourceID == id {
			delete(m.actions, aid)
		}
	}
	delete(m.resourceNames, r.Name)
	delete(m.resources, id)
	return nil
}

func (m *InMemory) CreateResourceAction(ctx context.Context, a *ResourceAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[a.ResourceID]; !ok {
		return fmt.Errorf("%w: resource %s", ErrNotFound, a.ResourceID)
	}
	for _, cur := range m.actions {
		if cur.ResourceID == a.ResourceID && cur.Name == a.Name {
			return fmt.Errorf("%w: action %q", ErrConflict, a.Name)
		}
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.CreatedAt = m.now().UTC()
	m.actions[a.ID] = cloneAction(a)
	return nil
}

func (m *InMemory) GetResourceAction(ctx context.Context, resourceID, name string) (*ResourceAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.actions {
		if a.ResourceID == resourceID && a.Name == name {
			return cloneAction(a), nil
		}
	}
	return nil, fmt.Errorf("%w: action %q", ErrNotFound, name)
}

func (m *InMemory) ListResourceActions(ctx context.Context, resourceID string) ([]*ResourceAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ResourceAction
	for _, a := range m.actions {
		if a.ResourceID == resourceID {
			out = append(out, cloneAction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *InMemory) DeleteResourceAction(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[id]; !ok {
		return fmt.Errorf("%w: action %s", ErrNotFound, id)
	}
	delete(m.actions, id)
	return nil
}

// --- Permission definitions ---

func (m *InMemory) CreatePermission(ctx context.Context, p *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.perms {
		if cur.Name != p.Name {
			continue
		}
		if p.AllUsers && cur.AllUsers {
			return fmt.Errorf("%w: permission %q", ErrConflict, p.Name)
		}
		if !p.AllUsers && !cur.AllUsers &&
			((p.UserID != "" && cur.UserID == p.UserID) || (p.OrgID != "" && cur.OrgID == p.OrgID)) {
			return fmt.Errorf("%w: permission %q", ErrConflict, p.Name)
		}
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.CreatedAt = m.now().UTC()
	m.perms[p.ID] = clonePermission(p)
	return nil
}

func (m *InMemory) GetPermission(ctx context.Context, id string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.perms[id]
	if !ok {
		return nil, fmt.Errorf("%w: permission %s", ErrNotFound, id)
	}
	return clonePermission(p), nil
}

func (m *InMemory) GetPermissionAllUsers(ctx context.Context, name string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.perms {
		if p.AllUsers && p.Name == name {
			return clonePermission(p), nil
		}
	}
	return nil, fmt.Errorf("%w: permission %q", ErrNotFound, name)
}

func (m *InMemory) GetPermissionByUser(ctx context.Context, name, userID string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.perms {
		if !p.AllUsers && p.Name == name && p.UserID == userID && userID != "" {
			return clonePermission(p), nil
		}
	}
	return nil, fmt.Errorf("%w: permission %q", ErrNotFound, name)
}

func (m *InMemory) GetPermissionByOrg(ctx context.Context, name, orgID string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.perms {
		if !p.AllUsers && p.Name == name && p.OrgID == orgID && orgID != "" {
			return clonePermission(p), nil
		}
	}
	return nil, fmt.Errorf("%w: permission %q", ErrNotFound, name)
}

func (m *InMemory) ListAvailablePermissions(ctx context.Context, userID, orgID string) ([]*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Permission
	for _, p := range m.perms {
		switch {
		case p.AllUsers:
			out = append(out, clonePermission(p))
		case userID != "" && p.UserID == userID:
			out = append(out, clonePermission(p))
		case orgID != "" && p.OrgID == orgID:
			out = append(out, clonePermission(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *InMemory) DeletePermission(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[id]; !ok {
		return fmt.Errorf("%w: permission %s", ErrNotFound, id)
	}
	delete(m.perms, id)
	return nil
}

// --- Permission assignments ---

func (m *InMemory) GrantUserClientPermissions(ctx context.Context, userID, clientID string, tokens scope.Set) (*UserClientPermissions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(userID, clientID)
	if cur, ok := m.userGrants[key]; ok {
		cur.Access = cur.Access.Add(tokens...)
		cur.UpdatedAt = m.now().UTC()
		return cloneUserGrant(cur), nil
	}
	g := &UserClientPermissions{
		ID:        ids.New(),
		UserID:    userID,
		ClientID:  clientID,
		Access:    tokens.Clone(),
		CreatedAt: m.now().UTC(),
	}
	g.UpdatedAt = g.CreatedAt
	m.userGrants[key] = g
	return cloneUserGrant(g), nil
}

func (m *InMemory) GetUserClientPermissions(ctx context.Context, userID, clientID string) (*UserClientPermissions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.userGrants[pairKey(userID, clientID)]
	if !ok {
		return nil, fmt.Errorf("%w: no permissions for user %s", ErrNotFound, userID)
	}
	return cloneUserGrant(g), nil
}

func (m *InMemory) ListUserClientPermissions(ctx context.Context, clientID string) ([]*UserClientPermissions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*UserClientPermissions
	for _, g := range m.userGrants {
		if g.ClientID == clientID {
			out = append(out, cloneUserGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *InMemory) RevokeUserClientPermissions(ctx context.Context, userID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(userID, clientID)
	if _, ok := m.userGrants[key]; !ok {
		return fmt.Errorf("%w: no permissions for user %s", ErrNotFound, userID)
	}
	delete(m.userGrants, key)
	return nil
}

func (m *InMemory) GrantTeamClientPermissions(ctx context.Context, teamID, clientID string, tokens scope.Set) (*TeamClientPermissions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(teamID, clientID)
	if cur, ok := m.teamGrants[key]; ok {
		cur.Access = cur.Access.Add(tokens...)
		cur.UpdatedAt = m.now().UTC()
		return cloneTeamGrant(cur), nil
	}
	g := &TeamClientPermissions{
		ID:        ids.New(),
		TeamID:    teamID,
		ClientID:  clientID,
		Access:    tokens.Clone(),
		CreatedAt: m.now().UTC(),
	}
	g.UpdatedAt = g.CreatedAt
	m.teamGrants[key] = g
	return cloneTeamGrant(g), nil
}

func (m *InMemory) GetTeamClientPermissions(ctx context.Context, teamID, clientID string) (*TeamClientPermissions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.teamGrants[pairKey(teamID, clientID)]
	if !ok {
		return nil, fmt.Errorf("%w: no permissions for team %s", ErrNotFound, teamID)
	}
	return cloneTeamGrant(g), nil
}

func (m *InMemory) ListTeamClientPermissions(ctx context.Context, clientID string) ([]*TeamClientPermissions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TeamClientPermissions
	for _, g := range m.teamGrants {
		if g.ClientID == clientID {
			out = append(out, cloneTeamGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out, nil
}

func (m *InMemory) RevokeTeamClientPermissions(ctx context.Context, teamID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(teamID, clientID)
	if _, ok := m.teamGrants[key]; !ok {
		return fmt.Errorf("%w: no permissions for team %s", ErrNotFound, teamID)
	}
	delete(m.teamGrants, key)
	return nil
}

func (m *InMemory) MigrateUserClientPermissions(ctx context.Context, oldUserID, newUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, g := range m.userGrants {
		if g.UserID != oldUserID {
			continue
		}
		newKey := pairKey(newUserID, g.ClientID)
		if cur, ok := m.userGrants[newKey]; ok {
			cur.Access = cur.Access.Add(g.Access...)
			cur.UpdatedAt = m.now().UTC()
		} else {
			g.UserID = newUserID
			g.UpdatedAt = m.now().UTC()
			m.userGrants[newKey] = g
		}
		delete(m.userGrants, key)
	}
	return nil
}

// --- Authorization codes and tokens ---

func (m *InMemory) CreateAuthCode(ctx context.Context, c *AuthCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[c.Code]; ok {
		return fmt.Errorf("%w: auth code", ErrConflict)
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	c.CreatedAt = m.now().UTC()
	m.codes[c.Code] = cloneCode(c)
	return nil
}

func (m *InMemory) GetAuthCode(ctx context.Context, code string) (*AuthCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: auth code", ErrNotFound)
	}
	return cloneCode(c), nil
}

func (m *InMemory) ExchangeAuthCode(ctx context.Context, code, clientID, redirectURI string, issuedAfter time.Time) (*AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || c.Used || c.ClientID != clientID || c.RedirectURI != redirectURI {
		return nil, fmt.Errorf("%w: auth code", ErrInvalidGrant)
	}
	if !c.CreatedAt.After(issuedAfter) {
		return nil, fmt.Errorf("%w: auth code expired", ErrInvalidGrant)
	}
	c.Used = true
	return m.upsertTokenLocked(c.UserID, clientID, c.Scope, 0)
}

func (m *InMemory) UpsertAuthToken(ctx context.Context, userID, clientID string, s scope.Set, validity int) (*AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertTokenLocked(userID, clientID, s, validity)
}

// upsertTokenLocked implements the one-token-per-pair rule. Callers hold the
// write lock.
func (m *InMemory) upsertTokenLocked(userID, clientID string, s scope.Set, validity int) (*AuthToken, error) {
	if userID != "" {
		if id, ok := m.pairIndex[pairKey(userID, clientID)]; ok {
			t := m.tokens[id]
			t.Scope = t.Scope.Add(s...)
			if validity != 0 {
				t.Validity = validity
			}
			t.UpdatedAt = m.now().UTC()
			return cloneToken(t), nil
		}
	}
	t := &AuthToken{
		ID:        ids.New(),
		UserID:    userID,
		ClientID:  clientID,
		Token:     ids.Key(),
		TokenType: "bearer",
		Secret:    ids.Secret(),
		Scope:     s.Clone(),
		Validity:  validity,
		CreatedAt: m.now().UTC(),
	}
	t.UpdatedAt = t.CreatedAt
	if userID != "" {
		t.RefreshToken = ids.Key()
		m.pairIndex[pairKey(userID, clientID)] = t.ID
		m.refreshIdx[t.RefreshToken] = t.ID
	}
	m.tokens[t.ID] = t
	m.tokenIndex[t.Token] = t.ID
	return cloneToken(t), nil
}

func (m *InMemory) GetAuthToken(ctx context.Context, token string) (*AuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tokenIndex[token]
	if !ok {
		return nil, fmt.Errorf("%w: auth token", ErrNotFound)
	}
	return cloneToken(m.tokens[id]), nil
}

func (m *InMemory) GetAuthTokenByRefresh(ctx context.Context, refreshToken string) (*AuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.refreshIdx[refreshToken]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	return cloneToken(m.tokens[id]), nil
}

func (m *InMemory) RotateAuthToken(ctx context.Context, token string) (*AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokenIndex[token]
	if !ok {
		return nil, fmt.Errorf("%w: auth token", ErrNotFound)
	}
	t := m.tokens[id]
	if !t.Refreshable() {
		return cloneToken(t), nil
	}
	delete(m.tokenIndex, t.Token)
	t.Token = ids.Key()
	t.Secret = ids.Secret()
	t.UpdatedAt = m.now().UTC()
	m.tokenIndex[t.Token] = id
	return cloneToken(t), nil
}

func (m *InMemory) ListAuthTokensByUser(ctx context.Context, userID string) ([]*AuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*AuthToken
	for _, t := range m.tokens {
		if t.UserID == userID && userID != "" {
			out = append(out, cloneToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (m *InMemory) DeleteAuthToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokenIndex[token]
	if !ok {
		return fmt.Errorf("%w: auth token", ErrNotFound)
	}
	m.dropTokenLocked(id, m.tokens[id])
	return nil
}

func (m *InMemory) dropTokenLocked(id string, t *AuthToken) {
	delete(m.tokenIndex, t.Token)
	if t.RefreshToken != "" {
		delete(m.refreshIdx, t.RefreshToken)
	}
	if t.UserID != "" {
		delete(m.pairIndex, pairKey(t.UserID, t.ClientID))
	}
	delete(m.tokens, id)
}

func (m *InMemory) MigrateAuthTokens(ctx context.Context, oldUserID, newUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tokens {
		if t.UserID != oldUserID || t.UserID == "" {
			continue
		}
		newKey := pairKey(newUserID, t.ClientID)
		if curID, ok := m.pairIndex[newKey]; ok {
			cur := m.tokens[curID]
			cur.Scope = cur.Scope.Add(t.Scope...)
			cur.UpdatedAt = m.now().UTC()
			m.dropTokenLocked(id, t)
		} else {
			delete(m.pairIndex, pairKey(oldUserID, t.ClientID))
			t.UserID = newUserID
			t.UpdatedAt = m.now().UTC()
			m.pairIndex[newKey] = id
		}
	}
	return nil
}
