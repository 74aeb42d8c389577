package identity

import "context"

// Store describes persistence operations required by the identity registry.
// Multi-step operations (organization construction, membership migration,
// primary email promotion) are atomic within each implementation.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByPublicID(ctx context.Context, publicID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	// CreateOrganization persists the organization together with its owners
	// team and the initial owner membership in one atomic step.
	CreateOrganization(ctx context.Context, org *Organization, owners *Team, ownerUserID string) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationByPublicID(ctx context.Context, publicID string) (*Organization, error)
	GetOrganizationByName(ctx context.Context, name string) (*Organization, error)
	UpdateOrganization(ctx context.Context, org *Organization) error

	CreateTeam(ctx context.Context, t *Team) error
	GetTeam(ctx context.Context, id string) (*Team, error)
	ListTeams(ctx context.Context, orgID string) ([]*Team, error)
	AddTeamMember(ctx context.Context, teamID, userID string) error
	RemoveTeamMember(ctx context.Context, teamID, userID string) error
	ListTeamMembers(ctx context.Context, teamID string) ([]*User, error)
	ListUserTeams(ctx context.Context, userID string) ([]*Team, error)

	// MigrateTeamMemberships moves every membership of oldUserID to
	// newUserID, skipping teams the new user already belongs to, atomically.
	MigrateTeamMemberships(ctx context.Context, oldUserID, newUserID string) error

	RecordOldID(ctx context.Context, rec *UserOldID) error
	ResolveOldID(ctx context.Context, publicID string) (*UserOldID, error)

	CreateEmail(ctx context.Context, e *UserEmail) error
	// DeleteEmail removes the address and, if it was primary, promotes
	// another of the user's addresses in the same step.
	DeleteEmail(ctx context.Context, userID, address string) error
	GetEmailByAddress(ctx context.Context, address string) (*UserEmail, error)
	GetEmailByMD5(ctx context.Context, md5sum string) (*UserEmail, error)
	ListEmails(ctx context.Context, userID string) ([]*UserEmail, error)

	CreateEmailClaim(ctx context.Context, c *UserEmailClaim) error
	GetEmailClaim(ctx context.Context, userID, address string) (*UserEmailClaim, error)
	DeleteEmailClaim(ctx context.Context, id string) error

	CreateExternalID(ctx context.Context, x *UserExternalID) error
	GetExternalID(ctx context.Context, service, externalUserID string) (*UserExternalID, error)
	GetExternalIDByUsername(ctx context.Context, service, username string) (*UserExternalID, error)
}
