package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"idgate.org/internal/ids"
)

var nameRx = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Service provides the identity registry: users, organizations, teams and
// the account-merge migration for memberships.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the registry service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ValidName reports whether a username or organization name is well formed:
// lowercase alphanumeric with interior hyphens.
func ValidName(name string) bool {
	return name != "" && len(name) <= 80 && nameRx.MatchString(name)
}

// nameAvailable checks the shared user/organization namespace. A username
// may not collide with any username, public user id or organization name.
func (s *Service) nameAvailable(ctx context.Context, name, selfUserID, selfOrgID string) error {
	if u, err := s.store.GetUserByUsername(ctx, name); err == nil {
		if u.ID != selfUserID {
			return fmt.Errorf("%w: name %q is taken", ErrConflict, name)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if u, err := s.store.GetUserByPublicID(ctx, name); err == nil {
		if u.ID != selfUserID {
			return fmt.Errorf("%w: name %q is taken", ErrConflict, name)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if o, err := s.store.GetOrganizationByName(ctx, name); err == nil {
		if o.ID != selfOrgID {
			return fmt.Errorf("%w: name %q is taken", ErrConflict, name)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// RegisterUser creates an active user. Username and password are optional.
func (s *Service) RegisterUser(ctx context.Context, fullname, username, password string) (*User, error) {
	u := &User{
		ID:       ids.New(),
		PublicID: ids.Key(),
		Fullname: strings.TrimSpace(fullname),
		Status:   StatusActive,
	}
	if username != "" {
		username = strings.ToLower(strings.TrimSpace(username))
		if !ValidName(username) {
			return nil, fmt.Errorf("%w: invalid username %q", ErrInvalidArgument, username)
		}
		if err := s.nameAvailable(ctx, username, u.ID, ""); err != nil {
			return nil, err
		}
		u.Username = username
	}
	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser returns an active user by username or public id. Exactly one of
// the two must be given.
func (s *Service) GetUser(ctx context.Context, username, publicID string) (*User, error) {
	if (username == "") == (publicID == "") {
		return nil, fmt.Errorf("%w: either username or userid should be specified", ErrInvalidArgument)
	}
	var (
		u   *User
		err error
	)
	if publicID != "" {
		u, err = s.store.GetUserByPublicID(ctx, publicID)
		if errors.Is(err, ErrNotFound) || (err == nil && u.Status == StatusMerged) {
			// A merged account's public id is kept as a tombstone
			// pointing at the surviving user.
			return s.resolveMerged(ctx, publicID)
		}
	} else {
		u, err = s.store.GetUserByUsername(ctx, username)
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive() {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *Service) resolveMerged(ctx context.Context, publicID string) (*User, error) {
	rec, err := s.store.ResolveOldID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive() {
		return nil, ErrNotFound
	}
	return u, nil
}

// UserByID returns a user by internal id, regardless of status.
func (s *Service) UserByID(ctx context.Context, id string) (*User, error) {
	return s.store.GetUser(ctx, id)
}

// Authenticate verifies a password login and returns the user.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.GetUser(ctx, username, "")
	if err != nil {
		return nil, ErrUnauthorized
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// SetUsername validates and updates the user's handle.
func (s *Service) SetUsername(ctx context.Context, u *User, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if !ValidName(username) {
		return fmt.Errorf("%w: invalid username %q", ErrInvalidArgument, username)
	}
	if err := s.nameAvailable(ctx, username, u.ID, ""); err != nil {
		return err
	}
	u.Username = username
	return s.store.UpdateUser(ctx, u)
}

// NewOrganization creates an organization with its owners team in one step
// and adds the founding user to it. The owners team is never null after
// construction.
func (s *Service) NewOrganization(ctx context.Context, owner *User, name, title string) (*Organization, error) {
	if owner == nil || !owner.IsActive() {
		return nil, fmt.Errorf("%w: an active owner is required", ErrInvalidArgument)
	}
	org := &Organization{
		ID:       ids.New(),
		PublicID: ids.Key(),
		Title:    strings.TrimSpace(title),
	}
	if name != "" {
		name = strings.ToLower(strings.TrimSpace(name))
		if !ValidName(name) {
			return nil, fmt.Errorf("%w: invalid organization name %q", ErrInvalidArgument, name)
		}
		if err := s.nameAvailable(ctx, name, "", org.ID); err != nil {
			return nil, err
		}
		org.Name = name
	}
	owners := &Team{
		ID:       ids.New(),
		PublicID: ids.Key(),
		Title:    "Owners",
		OrgID:    org.ID,
	}
	org.OwnersTeamID = owners.ID
	if err := s.store.CreateOrganization(ctx, org, owners, owner.ID); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization returns an organization by name or public id. Exactly one
// of the two must be given.
func (s *Service) GetOrganization(ctx context.Context, name, publicID string) (*Organization, error) {
	if (name == "") == (publicID == "") {
		return nil, fmt.Errorf("%w: either name or userid should be specified", ErrInvalidArgument)
	}
	if publicID != "" {
		return s.store.GetOrganizationByPublicID(ctx, publicID)
	}
	return s.store.GetOrganizationByName(ctx, name)
}

// TeamsOf lists the teams the user belongs to.
func (s *Service) TeamsOf(ctx context.Context, userID string) ([]*Team, error) {
	return s.store.ListUserTeams(ctx, userID)
}

// OrganizationByID returns an organization by internal id.
func (s *Service) OrganizationByID(ctx context.Context, id string) (*Organization, error) {
	return s.store.GetOrganization(ctx, id)
}

// TeamByID returns a team by internal id.
func (s *Service) TeamByID(ctx context.Context, id string) (*Team, error) {
	return s.store.GetTeam(ctx, id)
}

// NewTeam creates a team within the organization.
func (s *Service) NewTeam(ctx context.Context, org *Organization, title string) (*Team, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: team title is required", ErrInvalidArgument)
	}
	t := &Team{
		ID:       ids.New(),
		PublicID: ids.Key(),
		Title:    title,
		OrgID:    org.ID,
	}
	if err := s.store.CreateTeam(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddTeamMember is idempotent.
func (s *Service) AddTeamMember(ctx context.Context, teamID, userID string) error {
	return s.store.AddTeamMember(ctx, teamID, userID)
}

// RemoveTeamMember removes a membership.
func (s *Service) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	return s.store.RemoveTeamMember(ctx, teamID, userID)
}

// Organizations returns the organizations the user belongs to via any team.
func (s *Service) Organizations(ctx context.Context, userID string) ([]*Organization, error) {
	teams, err := s.store.ListUserTeams(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var orgs []*Organization
	for _, t := range teams {
		if _, ok := seen[t.OrgID]; ok {
			continue
		}
		seen[t.OrgID] = struct{}{}
		org, err := s.store.GetOrganization(ctx, t.OrgID)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}

// OrganizationsOwned returns the organizations whose owners team includes
// the user.
func (s *Service) OrganizationsOwned(ctx context.Context, userID string) ([]*Organization, error) {
	teams, err := s.store.ListUserTeams(ctx, userID)
	if err != nil {
		return nil, err
	}
	var orgs []*Organization
	for _, t := range teams {
		org, err := s.store.GetOrganization(ctx, t.OrgID)
		if err != nil {
			return nil, err
		}
		if org.OwnersTeamID == t.ID {
			orgs = append(orgs, org)
		}
	}
	return orgs, nil
}

// IsOrgOwner reports whether the user is in the organization's owners team.
func (s *Service) IsOrgOwner(ctx context.Context, userID, orgID string) (bool, error) {
	orgs, err := s.OrganizationsOwned(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, o := range orgs {
		if o.ID == orgID {
			return true, nil
		}
	}
	return false, nil
}

// ViewerFor precomputes the ownership and membership context used by
// capability resolution. A nil user yields an anonymous viewer.
func (s *Service) ViewerFor(ctx context.Context, u *User) (Viewer, error) {
	if u == nil {
		return Viewer{}, nil
	}
	teams, err := s.store.ListUserTeams(ctx, u.ID)
	if err != nil {
		return Viewer{}, err
	}
	v := Viewer{
		User:        u,
		OwnedOrgIDs: make(map[string]struct{}),
		TeamIDs:     make(map[string]struct{}, len(teams)),
	}
	for _, t := range teams {
		v.TeamIDs[t.ID] = struct{}{}
		org, err := s.store.GetOrganization(ctx, t.OrgID)
		if err != nil {
			return Viewer{}, err
		}
		if org.OwnersTeamID == t.ID {
			v.OwnedOrgIDs[org.ID] = struct{}{}
		}
	}
	return v, nil
}

// MergeUsers migrates team memberships from the old account to the new one,
// records the old public id as a tombstone and marks the old account merged.
// Token and permission-assignment migration is the authorization engine's
// half of the same administrative operation. Idempotent for memberships.
func (s *Service) MergeUsers(ctx context.Context, oldUser, newUser *User) error {
	if oldUser == nil || newUser == nil {
		return fmt.Errorf("%w: both users are required", ErrInvalidArgument)
	}
	if oldUser.ID == newUser.ID {
		return fmt.Errorf("%w: cannot merge a user into itself", ErrInvalidArgument)
	}
	if !newUser.IsActive() {
		return fmt.Errorf("%w: target user is not active", ErrInvalidArgument)
	}
	if err := s.store.MigrateTeamMemberships(ctx, oldUser.ID, newUser.ID); err != nil {
		return err
	}
	if err := s.store.RecordOldID(ctx, &UserOldID{PublicID: oldUser.PublicID, UserID: newUser.ID}); err != nil {
		return err
	}
	oldUser.Status = StatusMerged
	return s.store.UpdateUser(ctx, oldUser)
}

// AddEmail attaches a verified email address to the user.
func (s *Service) AddEmail(ctx context.Context, userID, address string, primary bool) (*UserEmail, error) {
	e := &UserEmail{
		ID:      ids.New(),
		UserID:  userID,
		Email:   NewEmailAddress(address),
		Primary: primary,
	}
	if err := s.store.CreateEmail(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// DelEmail removes an address; the store promotes another address to
// primary when the primary one is removed.
func (s *Service) DelEmail(ctx context.Context, userID, address string) error {
	return s.store.DeleteEmail(ctx, userID, address)
}

// PrimaryEmail returns the user's primary address, falling back to any
// address, or the zero value when the user has none.
func (s *Service) PrimaryEmail(ctx context.Context, userID string) (EmailAddress, error) {
	emails, err := s.store.ListEmails(ctx, userID)
	if err != nil {
		return EmailAddress{}, err
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, nil
	}
	return EmailAddress{}, nil
}

// ClaimEmail records an unverified claim with a fresh verification secret.
func (s *Service) ClaimEmail(ctx context.Context, userID, address string) (*UserEmailClaim, error) {
	c := &UserEmailClaim{
		ID:               ids.New(),
		UserID:           userID,
		Email:            NewEmailAddress(address),
		VerificationCode: ids.Secret(),
	}
	if err := s.store.CreateEmailClaim(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// VerifyEmailClaim converts a claim into a verified address when the
// verification code matches.
func (s *Service) VerifyEmailClaim(ctx context.Context, userID, address, code string) (*UserEmail, error) {
	claim, err := s.store.GetEmailClaim(ctx, userID, address)
	if err != nil {
		return nil, err
	}
	if claim.VerificationCode != code {
		return nil, ErrUnauthorized
	}
	if err := s.store.DeleteEmailClaim(ctx, claim.ID); err != nil {
		return nil, err
	}
	return s.AddEmail(ctx, userID, address, false)
}

// GetExternalID returns the external identity for a service by external user
// id or username. Exactly one of the two must be given.
func (s *Service) GetExternalID(ctx context.Context, service, externalUserID, username string) (*UserExternalID, error) {
	if (externalUserID == "") == (username == "") {
		return nil, fmt.Errorf("%w: either userid or username should be specified", ErrInvalidArgument)
	}
	if externalUserID != "" {
		return s.store.GetExternalID(ctx, service, externalUserID)
	}
	return s.store.GetExternalIDByUsername(ctx, service, username)
}

// LinkExternalID records an external identity for the user.
func (s *Service) LinkExternalID(ctx context.Context, x *UserExternalID) error {
	if x.Service == "" || x.ExternalUserID == "" {
		return fmt.Errorf("%w: service and external user id are required", ErrInvalidArgument)
	}
	if x.ID == "" {
		x.ID = ids.New()
	}
	return s.store.CreateExternalID(ctx, x)
}
