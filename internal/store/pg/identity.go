package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"idgate.org/internal/identity"
)

var _ identity.Store = (*Store)(nil)

const userColumns = `id, public_id, fullname, username, password_hash, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*identity.User, error) {
	var (
		u        identity.User
		username sql.NullString
	)
	err := row.Scan(&u.ID, &u.PublicID, &u.Fullname, &username, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if username.Valid {
		u.Username = username.String
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, public_id, fullname, username, password_hash, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.PublicID, u.Fullname, nullIfEmpty(u.Username), u.PasswordHash, u.Status, u.CreatedAt, u.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return identity.ErrConflict
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*identity.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (s *Store) GetUserByPublicID(ctx context.Context, publicID string) (*identity.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where public_id = $1`, publicID))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*identity.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where username = $1`, username))
}

func (s *Store) UpdateUser(ctx context.Context, u *identity.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		update users
		set fullname = $2, username = $3, password_hash = $4, status = $5, updated_at = $6
		where id = $1
	`, u.ID, u.Fullname, nullIfEmpty(u.Username), u.PasswordHash, u.Status, u.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return identity.ErrConflict
	}
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) CreateOrganization(ctx context.Context, org *identity.Organization, owners *identity.Team, ownerUserID string) error {
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	owners.CreatedAt, owners.UpdatedAt = now, now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// owners_team_id carries no FK so the org row can precede its team.
	if _, err := tx.ExecContext(ctx, `
		insert into organizations (id, public_id, name, title, description, owners_team_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, org.ID, org.PublicID, nullIfEmpty(org.Name), org.Title, org.Description, org.OwnersTeamID, org.CreatedAt, org.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into teams (id, public_id, title, org_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, owners.ID, owners.PublicID, owners.Title, owners.OrgID, owners.CreatedAt, owners.UpdatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into team_membership (team_id, user_id, created_at)
		values ($1, $2, $3)
	`, owners.ID, ownerUserID, now); err != nil {
		return err
	}
	return tx.Commit()
}

const orgColumns = `id, public_id, name, title, description, owners_team_id, created_at, updated_at`

func scanOrg(row interface{ Scan(...any) error }) (*identity.Organization, error) {
	var (
		o    identity.Organization
		name sql.NullString
	)
	err := row.Scan(&o.ID, &o.PublicID, &name, &o.Title, &o.Description, &o.OwnersTeamID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if name.Valid {
		o.Name = name.String
	}
	return &o, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*identity.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where id = $1`, id))
}

func (s *Store) GetOrganizationByPublicID(ctx context.Context, publicID string) (*identity.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where public_id = $1`, publicID))
}

func (s *Store) GetOrganizationByName(ctx context.Context, name string) (*identity.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where name = $1`, name))
}

func (s *Store) UpdateOrganization(ctx context.Context, org *identity.Organization) error {
	org.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		update organizations
		set name = $2, title = $3, description = $4, owners_team_id = $5, updated_at = $6
		where id = $1
	`, org.ID, nullIfEmpty(org.Name), org.Title, org.Description, org.OwnersTeamID, org.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return identity.ErrConflict
	}
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

const teamColumns = `id, public_id, title, org_id, created_at, updated_at`

func scanTeam(row interface{ Scan(...any) error }) (*identity.Team, error) {
	var t identity.Team
	err := row.Scan(&t.ID, &t.PublicID, &t.Title, &t.OrgID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTeam(ctx context.Context, t *identity.Team) error {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		insert into teams (id, public_id, title, org_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.PublicID, t.Title, t.OrgID, t.CreatedAt, t.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return identity.ErrConflict
		case pgErrForeignKeyViolation:
			return identity.ErrNotFound
		}
	}
	return err
}

func (s *Store) GetTeam(ctx context.Context, id string) (*identity.Team, error) {
	return scanTeam(s.db.QueryRowContext(ctx, `select `+teamColumns+` from teams where id = $1`, id))
}

func (s *Store) ListTeams(ctx context.Context, orgID string) ([]*identity.Team, error) {
	rows, err := s.db.QueryContext(ctx, `select `+teamColumns+` from teams where org_id = $1 order by title`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []*identity.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *Store) AddTeamMember(ctx context.Context, teamID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into team_membership (team_id, user_id, created_at)
		values ($1, $2, $3)
		on conflict (team_id, user_id) do nothing
	`, teamID, userID, time.Now().UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return identity.ErrNotFound
	}
	return err
}

func (s *Store) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from team_membership where team_id = $1 and user_id = $2
	`, teamID, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) ListTeamMembers(ctx context.Context, teamID string) ([]*identity.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select u.id, u.public_id, u.fullname, u.username, u.password_hash, u.status, u.created_at, u.updated_at
		from team_membership m
		join users u on u.id = m.user_id
		where m.team_id = $1
		order by u.fullname
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*identity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) ListUserTeams(ctx context.Context, userID string) ([]*identity.Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		select t.id, t.public_id, t.title, t.org_id, t.created_at, t.updated_at
		from team_membership m
		join teams t on t.id = m.team_id
		where m.user_id = $1
		order by t.title
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []*identity.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *Store) MigrateTeamMemberships(ctx context.Context, oldUserID, newUserID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into team_membership (team_id, user_id, created_at)
		select team_id, $2, now() from team_membership where user_id = $1
		on conflict (team_id, user_id) do nothing
	`, oldUserID, newUserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		delete from team_membership where user_id = $1
	`, oldUserID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RecordOldID(ctx context.Context, rec *identity.UserOldID) error {
	rec.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into user_old_ids (public_id, user_id, created_at)
		values ($1, $2, $3)
		on conflict (public_id) do update set user_id = excluded.user_id
	`, rec.PublicID, rec.UserID, rec.CreatedAt)
	return err
}

func (s *Store) ResolveOldID(ctx context.Context, publicID string) (*identity.UserOldID, error) {
	var rec identity.UserOldID
	err := s.db.QueryRowContext(ctx, `
		select public_id, user_id, created_at from user_old_ids where public_id = $1
	`, publicID).Scan(&rec.PublicID, &rec.UserID, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) CreateEmail(ctx context.Context, e *identity.UserEmail) error {
	e.CreatedAt = time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if e.Primary {
		if _, err := tx.ExecContext(ctx, `
			update user_emails set is_primary = false where user_id = $1
		`, e.UserID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		insert into user_emails (id, user_id, email, md5sum, is_primary, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, e.Email.String(), e.Email.MD5Sum(), e.Primary, e.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteEmail(ctx context.Context, userID, address string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var wasPrimary bool
	err = tx.QueryRowContext(ctx, `
		delete from user_emails where user_id = $1 and email = $2 returning is_primary
	`, userID, address).Scan(&wasPrimary)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.ErrNotFound
	}
	if err != nil {
		return err
	}
	if wasPrimary {
		if _, err := tx.ExecContext(ctx, `
			update user_emails set is_primary = true
			where id = (
				select id from user_emails where user_id = $1 order by created_at limit 1
			)
		`, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanEmail(row interface{ Scan(...any) error }) (*identity.UserEmail, error) {
	var (
		e    identity.UserEmail
		addr string
		md5  string
	)
	err := row.Scan(&e.ID, &e.UserID, &addr, &md5, &e.Primary, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Email = identity.NewEmailAddress(addr)
	return &e, nil
}

const emailColumns = `id, user_id, email, md5sum, is_primary, created_at`

func (s *Store) GetEmailByAddress(ctx context.Context, address string) (*identity.UserEmail, error) {
	return scanEmail(s.db.QueryRowContext(ctx, `select `+emailColumns+` from user_emails where email = $1`, address))
}

func (s *Store) GetEmailByMD5(ctx context.Context, md5sum string) (*identity.UserEmail, error) {
	return scanEmail(s.db.QueryRowContext(ctx, `select `+emailColumns+` from user_emails where md5sum = $1`, md5sum))
}

func (s *Store) ListEmails(ctx context.Context, userID string) ([]*identity.UserEmail, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+emailColumns+` from user_emails where user_id = $1 order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []*identity.UserEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

func (s *Store) CreateEmailClaim(ctx context.Context, c *identity.UserEmailClaim) error {
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into user_email_claims (id, user_id, email, md5sum, verification_code, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.UserID, c.Email.String(), c.Email.MD5Sum(), c.VerificationCode, c.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return identity.ErrConflict
	}
	return err
}

func (s *Store) GetEmailClaim(ctx context.Context, userID, address string) (*identity.UserEmailClaim, error) {
	var (
		c    identity.UserEmailClaim
		addr string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, email, verification_code, created_at
		from user_email_claims
		where user_id = $1 and email = $2
	`, userID, address).Scan(&c.ID, &c.UserID, &addr, &c.VerificationCode, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Email = identity.NewEmailAddress(addr)
	return &c, nil
}

func (s *Store) DeleteEmailClaim(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from user_email_claims where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

const externalIDColumns = `id, user_id, service, external_user_id, external_username, oauth_token, oauth_token_secret, oauth_token_type, created_at`

func scanExternalID(row interface{ Scan(...any) error }) (*identity.UserExternalID, error) {
	var x identity.UserExternalID
	err := row.Scan(&x.ID, &x.UserID, &x.Service, &x.ExternalUserID, &x.ExternalUsername, &x.OAuthToken, &x.OAuthTokenSecret, &x.OAuthTokenType, &x.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &x, nil
}

func (s *Store) CreateExternalID(ctx context.Context, x *identity.UserExternalID) error {
	x.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into user_external_ids (id, user_id, service, external_user_id, external_username, oauth_token, oauth_token_secret, oauth_token_type, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, x.ID, x.UserID, x.Service, x.ExternalUserID, x.ExternalUsername, x.OAuthToken, x.OAuthTokenSecret, x.OAuthTokenType, x.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return identity.ErrConflict
		case pgErrForeignKeyViolation:
			return identity.ErrNotFound
		}
	}
	return err
}

func (s *Store) GetExternalID(ctx context.Context, service, externalUserID string) (*identity.UserExternalID, error) {
	return scanExternalID(s.db.QueryRowContext(ctx, `
		select `+externalIDColumns+` from user_external_ids
		where service = $1 and external_user_id = $2
	`, service, externalUserID))
}

func (s *Store) GetExternalIDByUsername(ctx context.Context, service, username string) (*identity.UserExternalID, error) {
	return scanExternalID(s.db.QueryRowContext(ctx, `
		select `+externalIDColumns+` from user_external_ids
		where service = $1 and external_username = $2
		order by created_at
		limit 1
	`, service, username))
}
