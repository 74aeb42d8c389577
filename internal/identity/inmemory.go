package identity

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and by deployments without a database.
type InMemory struct {
	mu          sync.RWMutex
	users       map[string]*User
	orgs        map[string]*Organization
	teams       map[string]*Team
	memberships map[string]map[string]struct{} // teamID -> userID set
	oldIDs      map[string]*UserOldID
	emails      map[string]*UserEmail
	claims      map[string]*UserEmailClaim
	externalIDs map[string]*UserExternalID
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty identity store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:       make(map[string]*User),
		orgs:        make(map[string]*Organization),
		teams:       make(map[string]*Team),
		memberships: make(map[string]map[string]struct{}),
		oldIDs:      make(map[string]*UserOldID),
		emails:      make(map[string]*UserEmail),
		claims:      make(map[string]*UserEmailClaim),
		externalIDs: make(map[string]*UserExternalID),
	}
}

func (s *InMemory) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.users {
		if other.PublicID == u.PublicID || (u.Username != "" && other.Username == u.Username) {
			return ErrConflict
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *InMemory) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemory) GetUserByPublicID(ctx context.Context, publicID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.PublicID == publicID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username != "" && u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) UpdateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *InMemory) CreateOrganization(ctx context.Context, org *Organization, owners *Team, ownerUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.orgs {
		if other.PublicID == org.PublicID || (org.Name != "" && other.Name == org.Name) {
			return ErrConflict
		}
	}
	if _, ok := s.users[ownerUserID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	owners.CreatedAt, owners.UpdatedAt = now, now
	orgCp, teamCp := *org, *owners
	s.orgs[org.ID] = &orgCp
	s.teams[owners.ID] = &teamCp
	s.memberships[owners.ID] = map[string]struct{}{ownerUserID: {}}
	return nil
}

func (s *InMemory) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *InMemory) GetOrganizationByPublicID(ctx context.Context, publicID string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orgs {
		if o.PublicID == publicID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) GetOrganizationByName(ctx context.Context, name string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orgs {
		if o.Name != "" && o.Name == name {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) UpdateOrganization(ctx context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; !ok {
		return ErrNotFound
	}
	org.UpdatedAt = time.Now().UTC()
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *InMemory) CreateTeam(ctx context.Context, t *Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[t.OrgID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	s.teams[t.ID] = &cp
	s.memberships[t.ID] = make(map[string]struct{})
	return nil
}

func (s *InMemory) GetTeam(ctx context.Context, id string) (*Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemory) ListTeams(ctx context.Context, orgID string) ([]*Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Team
	for _, t := range s.teams {
		if t.OrgID == orgID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemory) AddTeamMember(ctx context.Context, teamID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[teamID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	if s.memberships[teamID] == nil {
		s.memberships[teamID] = make(map[string]struct{})
	}
	s.memberships[teamID][userID] = struct{}{}
	return nil
}

func (s *InMemory) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if members, ok := s.memberships[teamID]; ok {
		delete(members, userID)
	}
	return nil
}

func (s *InMemory) ListTeamMembers(ctx context.Context, teamID string) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.memberships[teamID]
	if !ok {
		return nil, ErrNotFound
	}
	var out []*User
	for userID := range members {
		if u, ok := s.users[userID]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemory) ListUserTeams(ctx context.Context, userID string) ([]*Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Team
	for teamID, members := range s.memberships {
		if _, ok := members[userID]; ok {
			if t, ok := s.teams[teamID]; ok {
				cp := *t
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (s *InMemory) MigrateTeamMemberships(ctx context.Context, oldUserID, newUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, members := range s.memberships {
		if _, ok := members[oldUserID]; ok {
			members[newUserID] = struct{}{}
			delete(members, oldUserID)
		}
	}
	return nil
}

func (s *InMemory) RecordOldID(ctx context.Context, rec *UserOldID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert so a repeated merge stays idempotent.
	if prev, ok := s.oldIDs[rec.PublicID]; ok {
		prev.UserID = rec.UserID
		return nil
	}
	rec.CreatedAt = time.Now().UTC()
	cp := *rec
	s.oldIDs[rec.PublicID] = &cp
	return nil
}

func (s *InMemory) ResolveOldID(ctx context.Context, publicID string) (*UserOldID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.oldIDs[publicID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemory) CreateEmail(ctx context.Context, e *UserEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.emails {
		if other.Email.String() == e.Email.String() {
			return ErrConflict
		}
	}
	if e.Primary {
		for _, other := range s.emails {
			if other.UserID == e.UserID {
				other.Primary = false
			}
		}
	}
	e.CreatedAt = time.Now().UTC()
	cp := *e
	s.emails[e.ID] = &cp
	return nil
}

func (s *InMemory) DeleteEmail(ctx context.Context, userID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed *UserEmail
	for id, e := range s.emails {
		if e.UserID == userID && e.Email.String() == address {
			removed = e
			delete(s.emails, id)
			break
		}
	}
	if removed == nil {
		return ErrNotFound
	}
	if removed.Primary {
		for _, e := range s.emails {
			if e.UserID == userID {
				e.Primary = true
				break
			}
		}
	}
	return nil
}

func (s *InMemory) GetEmailByAddress(ctx context.Context, address string) (*UserEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.emails {
		if e.Email.String() == address {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) GetEmailByMD5(ctx context.Context, md5sum string) (*UserEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.emails {
		if e.Email.MD5Sum() == md5sum {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) ListEmails(ctx context.Context, userID string) ([]*UserEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*UserEmail
	for _, e := range s.emails {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemory) CreateEmailClaim(ctx context.Context, c *UserEmailClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.CreatedAt = time.Now().UTC()
	cp := *c
	s.claims[c.ID] = &cp
	return nil
}

func (s *InMemory) GetEmailClaim(ctx context.Context, userID, address string) (*UserEmailClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.claims {
		if c.UserID == userID && c.Email.String() == address {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) DeleteEmailClaim(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, id)
	return nil
}

func (s *InMemory) CreateExternalID(ctx context.Context, x *UserExternalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.externalIDs {
		if other.Service == x.Service && other.ExternalUserID == x.ExternalUserID {
			return ErrConflict
		}
	}
	x.CreatedAt = time.Now().UTC()
	cp := *x
	s.externalIDs[x.ID] = &cp
	return nil
}

func (s *InMemory) GetExternalID(ctx context.Context, service, externalUserID string) (*UserExternalID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, x := range s.externalIDs {
		if x.Service == service && x.ExternalUserID == externalUserID {
			cp := *x
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) GetExternalIDByUsername(ctx context.Context, service, username string) (*UserExternalID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, x := range s.externalIDs {
		if x.Service == service && x.ExternalUsername == username {
			cp := *x
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
