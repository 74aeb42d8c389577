package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"idgate.org/internal/ids"
	"idgate.org/internal/oauth"
	"idgate.org/internal/scope"
)

var _ oauth.Store = (*Store)(nil)

const clientColumns = `id, user_id, org_id, title, description, website, redirect_uri, notification_uri, active, allow_any_login, team_access, key, secret, trusted, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (*oauth.Client, error) {
	var (
		c      oauth.Client
		userID sql.NullString
		orgID  sql.NullString
	)
	err := row.Scan(&c.ID, &userID, &orgID, &c.Title, &c.Description, &c.Website, &c.RedirectURI,
		&c.NotificationURI, &c.Active, &c.AllowAnyLogin, &c.TeamAccess, &c.Key, &c.Secret, &c.Trusted,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		c.UserID = userID.String
	}
	if orgID.Valid {
		c.OrgID = orgID.String
	}
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, c *oauth.Client) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		insert into clients (id, user_id, org_id, title, description, website, redirect_uri, notification_uri, active, allow_any_login, team_access, key, secret, trusted, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, c.ID, nullIfEmpty(c.UserID), nullIfEmpty(c.OrgID), c.Title, c.Description, c.Website,
		c.RedirectURI, c.NotificationURI, c.Active, c.AllowAnyLogin, c.TeamAccess, c.Key, c.Secret,
		c.Trusted, c.CreatedAt, c.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return oauth.ErrConflict
		case pgErrForeignKeyViolation:
			return oauth.ErrNotFound
		case pgErrCheckViolation:
			return fmt.Errorf("%w: client must be owned by a user or an org", oauth.ErrInvalidArgument)
		}
	}
	return err
}

func (s *Store) GetClient(ctx context.Context, id string) (*oauth.Client, error) {
	return scanClient(s.db.QueryRowContext(ctx, `select `+clientColumns+` from clients where id = $1`, id))
}

func (s *Store) GetClientByKey(ctx context.Context, key string) (*oauth.Client, error) {
	return scanClient(s.db.QueryRowContext(ctx, `select `+clientColumns+` from clients where key = $1 and active`, key))
}

func (s *Store) UpdateClient(ctx context.Context, c *oauth.Client) error {
	c.UpdatedAt = time.Now().UTC()
	// Key and secret are fixed at creation and deliberately absent here.
	res, err := s.db.ExecContext(ctx, `
		update clients
		set user_id = $2, org_id = $3, title = $4, description = $5, website = $6,
		    redirect_uri = $7, notification_uri = $8, active = $9, allow_any_login = $10,
		    team_access = $11, trusted = $12, updated_at = $13
		where id = $1
	`, c.ID, nullIfEmpty(c.UserID), nullIfEmpty(c.OrgID), c.Title, c.Description, c.Website,
		c.RedirectURI, c.NotificationURI, c.Active, c.AllowAnyLogin, c.TeamAccess, c.Trusted, c.UpdatedAt)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Cascade edges are explicit so each dependent table is accounted for.
	for _, q := range []string{
		`delete from resource_actions where resource_id in (select id from resources where client_id = $1)`,
		`delete from resources where client_id = $1`,
		`delete from auth_codes where client_id = $1`,
		`delete from auth_tokens where client_id = $1`,
		`delete from user_client_permissions where client_id = $1`,
		`delete from team_client_permissions where client_id = $1`,
		`delete from client_team_access where client_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `delete from clients where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return oauth.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) listClients(ctx context.Context, where string, arg any) ([]*oauth.Client, error) {
	rows, err := s.db.QueryContext(ctx, `select `+clientColumns+` from clients where `+where+` order by title`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*oauth.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListClientsByUser(ctx context.Context, userID string) ([]*oauth.Client, error) {
	return s.listClients(ctx, `user_id = $1`, userID)
}

func (s *Store) ListClientsByOrg(ctx context.Context, orgID string) ([]*oauth.Client, error) {
	return s.listClients(ctx, `org_id = $1`, orgID)
}

func (s *Store) SetTeamAccess(ctx context.Context, a *oauth.ClientTeamAccess) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into client_team_access (id, org_id, client_id, access_level, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (org_id, client_id) do update set access_level = excluded.access_level
	`, a.ID, a.OrgID, a.ClientID, int(a.AccessLevel), a.CreatedAt)
	return err
}

func (s *Store) ListTeamAccess(ctx context.Context, clientID string) ([]*oauth.ClientTeamAccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, org_id, client_id, access_level, created_at
		from client_team_access
		where client_id = $1
		order by org_id
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*oauth.ClientTeamAccess
	for rows.Next() {
		var (
			a     oauth.ClientTeamAccess
			level int
		)
		if err := rows.Scan(&a.ID, &a.OrgID, &a.ClientID, &level, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.AccessLevel = oauth.TeamAccessLevel(level)
		out = append(out, &a)
	}
	return out, rows.Err()
}

const resourceColumns = `id, name, client_id, title, description, siteresource, trusted, created_at`

func scanResource(row interface{ Scan(...any) error }) (*oauth.Resource, error) {
	var r oauth.Resource
	err := row.Scan(&r.ID, &r.Name, &r.ClientID, &r.Title, &r.Description, &r.SiteResource, &r.Trusted, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateResource(ctx context.Context, r *oauth.Resource) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into resources (id, name, client_id, title, description, siteresource, trusted, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.Name, r.ClientID, r.Title, r.Description, r.SiteResource, r.Trusted, r.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return oauth.ErrConflict
		case pgErrForeignKeyViolation:
			return oauth.ErrNotFound
		}
	}
	return err
}

func (s *Store) GetResource(ctx context.Context, id string) (*oauth.Resource, error) {
	return scanResource(s.db.QueryRowContext(ctx, `select `+resourceColumns+` from resources where id = $1`, id))
}

func (s *Store) GetResourceByName(ctx context.Context, name string) (*oauth.Resource, error) {
	return scanResource(s.db.QueryRowContext(ctx, `select `+resourceColumns+` from resources where name = $1`, name))
}

func (s *Store) ListResources(ctx context.Context, clientID string) ([]*oauth.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `select `+resourceColumns+` from resources where client_id = $1 order by name`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*oauth.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteResource(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from resource_actions where resource_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from resources where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return oauth.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) CreateResourceAction(ctx context.Context, a *oauth.ResourceAction) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into resource_actions (id, name, resource_id, title, description, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.Name, a.ResourceID, a.Title, a.Description, a.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return oauth.ErrConflict
		case pgErrForeignKeyViolation:
			return oauth.ErrNotFound
		}
	}
	return err
}

func (s *Store) GetResourceAction(ctx context.Context, resourceID, name string) (*oauth.ResourceAction, error) {
	var a oauth.ResourceAction
	err := s.db.QueryRowContext(ctx, `
		select id, name, resource_id, title, description, created_at
		from resource_actions
		where resource_id = $1 and name = $2
	`, resourceID, name).Scan(&a.ID, &a.Name, &a.ResourceID, &a.Title, &a.Description, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListResourceActions(ctx context.Context, resourceID string) ([]*oauth.ResourceAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, resource_id, title, description, created_at
		from resource_actions
		where resource_id = $1
		order by name
	`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*oauth.ResourceAction
	for rows.Next() {
		var a oauth.ResourceAction
		if err := rows.Scan(&a.ID, &a.Name, &a.ResourceID, &a.Title, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteResourceAction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from resource_actions where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

const permColumns = `id, user_id, org_id, name, title, description, allusers, created_at`

func scanPermission(row interface{ Scan(...any) error }) (*oauth.Permission, error) {
	var (
		p      oauth.Permission
		userID sql.NullString
		orgID  sql.NullString
	)
	err := row.Scan(&p.ID, &userID, &orgID, &p.Name, &p.Title, &p.Description, &p.AllUsers, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		p.UserID = userID.String
	}
	if orgID.Valid {
		p.OrgID = orgID.String
	}
	return &p, nil
}

func (s *Store) CreatePermission(ctx context.Context, p *oauth.Permission) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, user_id, org_id, name, title, description, allusers, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, nullIfEmpty(p.UserID), nullIfEmpty(p.OrgID), p.Name, p.Title, p.Description, p.AllUsers, p.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return oauth.ErrConflict
		case pgErrForeignKeyViolation:
			return oauth.ErrNotFound
		}
	}
	return err
}

func (s *Store) GetPermission(ctx context.Context, id string) (*oauth.Permission, error) {
	return scanPermission(s.db.QueryRowContext(ctx, `select `+permColumns+` from permissions where id = $1`, id))
}

func (s *Store) GetPermissionAllUsers(ctx context.Context, name string) (*oauth.Permission, error) {
	return scanPermission(s.db.QueryRowContext(ctx, `select `+permColumns+` from permissions where name = $1 and allusers`, name))
}

func (s *Store) GetPermissionByUser(ctx context.Context, name, userID string) (*oauth.Permission, error) {
	return scanPermission(s.db.QueryRowContext(ctx, `
		select `+permColumns+` from permissions where name = $1 and user_id = $2 and not allusers
	`, name, userID))
}

func (s *Store) GetPermissionByOrg(ctx context.Context, name, orgID string) (*oauth.Permission, error) {
	return scanPermission(s.db.QueryRowContext(ctx, `
		select `+permColumns+` from permissions where name = $1 and org_id = $2 and not allusers
	`, name, orgID))
}

func (s *Store) ListAvailablePermissions(ctx context.Context, userID, orgID string) ([]*oauth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+permColumns+` from permissions
		where allusers or user_id = $1 or org_id = $2
		order by name
	`, nullIfEmpty(userID), nullIfEmpty(orgID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*oauth.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

// grantPermissions merges tokens into the single access row for a pair in
// either assignment table. The table and subject column are trusted
// constants, never caller input.
func (s *Store) grantPermissions(ctx context.Context, table, subjectCol, subjectID, clientID string, tokens scope.Set) (scope.Set, string, time.Time, time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", time.Time{}, time.Time{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var (
		id      string
		access  string
		created time.Time
	)
	err = tx.QueryRowContext(ctx,
		`select id, access, created_at from `+table+` where `+subjectCol+` = $1 and client_id = $2 for update`,
		subjectID, clientID).Scan(&id, &access, &created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = ids.New()
		created = now
		merged := tokens.Clone()
		if _, err := tx.ExecContext(ctx,
			`insert into `+table+` (id, `+subjectCol+`, client_id, access, created_at, updated_at) values ($1, $2, $3, $4, $5, $6)`,
			id, subjectID, clientID, merged.Sorted(), created, now); err != nil {
			return nil, "", time.Time{}, time.Time{}, err
		}
		if err := tx.Commit(); err != nil {
			return nil, "", time.Time{}, time.Time{}, err
		}
		return merged, id, created, now, nil
	case err != nil:
		return nil, "", time.Time{}, time.Time{}, err
	}

	existing, err := scope.Parse(access)
	if err != nil {
		return nil, "", time.Time{}, time.Time{}, fmt.Errorf("%w: stored access %q", oauth.ErrConsistency, access)
	}
	merged := existing.Add(tokens...)
	if _, err := tx.ExecContext(ctx,
		`update `+table+` set access = $2, updated_at = $3 where id = $1`,
		id, merged.Sorted(), now); err != nil {
		return nil, "", time.Time{}, time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return nil, "", time.Time{}, time.Time{}, err
	}
	return merged, id, created, now, nil
}

func (s *Store) GrantUserClientPermissions(ctx context.Context, userID, clientID string, tokens scope.Set) (*oauth.UserClientPermissions, error) {
	merged, id, created, updated, err := s.grantPermissions(ctx, "user_client_permissions", "user_id", userID, clientID, tokens)
	if err != nil {
		return nil, err
	}
	return &oauth.UserClientPermissions{
		ID: id, UserID: userID, ClientID: clientID, Access: merged,
		CreatedAt: created, UpdatedAt: updated,
	}, nil
}

func (s *Store) GrantTeamClientPermissions(ctx context.Context, teamID, clientID string, tokens scope.Set) (*oauth.TeamClientPermissions, error) {
	merged, id, created, updated, err := s.grantPermissions(ctx, "team_client_permissions", "team_id", teamID, clientID, tokens)
	if err != nil {
		return nil, err
	}
	return &oauth.TeamClientPermissions{
		ID: id, TeamID: teamID, ClientID: clientID, Access: merged,
		CreatedAt: created, UpdatedAt: updated,
	}, nil
}

func (s *Store) GetUserClientPermissions(ctx context.Context, userID, clientID string) (*oauth.UserClientPermissions, error) {
	var (
		g      oauth.UserClientPermissions
		access string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, client_id, access, created_at, updated_at
		from user_client_permissions
		where user_id = $1 and client_id = $2
	`, userID, clientID).Scan(&g.ID, &g.UserID, &g.ClientID, &access, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Access, err = scope.Parse(access)
	if err != nil {
		return nil, fmt.Errorf("%w: stored access %q", oauth.ErrConsistency, access)
	}
	return &g, nil
}

func (s *Store) ListUserClientPermissions(ctx context.Context, clientID string) ([]*oauth.UserClientPermissions, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, client_id, access, created_at, updated_at
		from user_client_permissions
		where client_id = $1
		order by user_id
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*oauth.UserClientPermissions
	for rows.Next() {
		var (
			g      oauth.UserClientPermissions
			access string
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.ClientID, &access, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		if g.Access, err = scope.Parse(access); err != nil {
			return nil, fmt.Errorf("%w: stored access %q", oauth.ErrConsistency, access)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *Store) RevokeUserClientPermissions(ctx context.Context, userID, clientID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_client_permissions where user_id = $1 and client_id = $2
	`, userID, clientID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

func (s *Store) GetTeamClientPermissions(ctx context.Context, teamID, clientID string) (*oauth.TeamClientPermissions, error) {
	var (
		g      oauth.TeamClientPermissions
		access string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, team_id, client_id, access, created_at, updated_at
		from team_client_permissions
		where team_id = $1 and client_id = $2
	`, teamID, clientID).Scan(&g.ID, &g.TeamID, &g.ClientID, &access, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Access, err = scope.Parse(access)
	if err != nil {
		return nil, fmt.Errorf("%w: stored access %q", oauth.ErrConsistency, access)
	}
	return &g, nil
}

func (s *Store) ListTeamClientPermissions(ctx context.Context, clientID string) ([]*oauth.TeamClientPermissions, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, team_id, client_id, access, created_at, updated_at
		from team_client_permissions
		where client_id = $1
		order by team_id
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*oauth.TeamClientPermissions
	for rows.Next() {
		var (
			g      oauth.TeamClientPermissions
			access string
		)
		if err := rows.Scan(&g.ID, &g.TeamID, &g.ClientID, &access, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		if g.Access, err = scope.Parse(access); err != nil {
			return nil, fmt.Errorf("%w: stored access %q", oauth.ErrConsistency, access)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *Store) RevokeTeamClientPermissions(ctx context.Context, teamID, clientID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from team_client_permissions where team_id = $1 and client_id = $2
	`, teamID, clientID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

func (s *Store) MigrateUserClientPermissions(ctx context.Context, oldUserID, newUserID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		select id, client_id, access from user_client_permissions where user_id = $1 for update
	`, oldUserID)
	if err != nil {
		return err
	}
	type grant struct {
		id       string
		clientID string
		access   string
	}
	var grants []grant
	for rows.Next() {
		var g grant
		if err := rows.Scan(&g.id, &g.clientID, &g.access); err != nil {
			rows.Close()
			return err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	now := time.Now().UTC()
	for _, g := range grants {
		var (
			targetID     string
			targetAccess string
		)
		err := tx.QueryRowContext(ctx, `
			select id, access from user_client_permissions where user_id = $1 and client_id = $2 for update
		`, newUserID, g.clientID).Scan(&targetID, &targetAccess)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				update user_client_permissions set user_id = $2, updated_at = $3 where id = $1
			`, g.id, newUserID, now); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			oldSet, err := scope.Parse(g.access)
			if err != nil {
				return fmt.Errorf("%w: stored access %q", oauth.ErrConsistency, g.access)
			}
			newSet, err := scope.Parse(targetAccess)
			if err != nil {
				return fmt.Errorf("%w: stored access %q", oauth.ErrConsistency, targetAccess)
			}
			merged := newSet.Union(oldSet)
			if _, err := tx.ExecContext(ctx, `
				update user_client_permissions set access = $2, updated_at = $3 where id = $1
			`, targetID, merged.Sorted(), now); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				delete from user_client_permissions where id = $1
			`, g.id); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) CreateAuthCode(ctx context.Context, c *oauth.AuthCode) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into auth_codes (id, user_id, client_id, code, scope, redirect_uri, used, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.UserID, c.ClientID, c.Code, c.Scope.String(), c.RedirectURI, c.Used, c.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return oauth.ErrConflict
		case pgErrForeignKeyViolation:
			return oauth.ErrNotFound
		}
	}
	return err
}

func (s *Store) GetAuthCode(ctx context.Context, code string) (*oauth.AuthCode, error) {
	var (
		c   oauth.AuthCode
		raw string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, client_id, code, scope, redirect_uri, used, created_at
		from auth_codes where code = $1
	`, code).Scan(&c.ID, &c.UserID, &c.ClientID, &c.Code, &raw, &c.RedirectURI, &c.Used, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Scope, err = scope.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: stored scope %q", oauth.ErrConsistency, raw)
	}
	return &c, nil
}

func (s *Store) ExchangeAuthCode(ctx context.Context, code, clientID, redirectURI string, issuedAfter time.Time) (*oauth.AuthToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		codeID    string
		userID    string
		rawScope  string
		redirect  string
		used      bool
		createdAt time.Time
	)
	err = tx.QueryRowContext(ctx, `
		select id, user_id, scope, redirect_uri, used, created_at
		from auth_codes
		where code = $1 and client_id = $2
		for update
	`, code, clientID).Scan(&codeID, &userID, &rawScope, &redirect, &used, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: auth code", oauth.ErrInvalidGrant)
	}
	if err != nil {
		return nil, err
	}
	if used || redirect != redirectURI || !createdAt.After(issuedAfter) {
		return nil, fmt.Errorf("%w: auth code", oauth.ErrInvalidGrant)
	}
	requested, err := scope.Parse(rawScope)
	if err != nil {
		return nil, fmt.Errorf("%w: stored scope %q", oauth.ErrConsistency, rawScope)
	}
	if _, err := tx.ExecContext(ctx, `update auth_codes set used = true where id = $1`, codeID); err != nil {
		return nil, err
	}
	t, err := upsertAuthTokenTx(ctx, tx, userID, clientID, requested, 0)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) UpsertAuthToken(ctx context.Context, userID, clientID string, sc scope.Set, validity int) (*oauth.AuthToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := upsertAuthTokenTx(ctx, tx, userID, clientID, sc, validity)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

// upsertAuthTokenTx enforces the one-token-per-pair rule for user-attached
// tokens inside the caller's transaction.
func upsertAuthTokenTx(ctx context.Context, tx *sql.Tx, userID, clientID string, sc scope.Set, validity int) (*oauth.AuthToken, error) {
	now := time.Now().UTC()
	if userID != "" {
		var (
			t        oauth.AuthToken
			rawScope string
			refresh  sql.NullString
			alg      sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			select id, user_id, client_id, token, token_type, secret, algorithm, scope, validity, refresh_token, created_at, updated_at
			from auth_tokens
			where user_id = $1 and client_id = $2
			for update
		`, userID, clientID).Scan(&t.ID, &t.UserID, &t.ClientID, &t.Token, &t.TokenType, &t.Secret,
			&alg, &rawScope, &t.Validity, &refresh, &t.CreatedAt, &t.UpdatedAt)
		switch {
		case err == nil:
			if refresh.Valid {
				t.RefreshToken = refresh.String
			}
			if alg.Valid {
				t.Algorithm = alg.String
			}
			existing, perr := scope.Parse(rawScope)
			if perr != nil {
				return nil, fmt.Errorf("%w: stored scope %q", oauth.ErrConsistency, rawScope)
			}
			t.Scope = existing.Add(sc...)
			if validity != 0 {
				t.Validity = validity
			}
			t.UpdatedAt = now
			if _, err := tx.ExecContext(ctx, `
				update auth_tokens set scope = $2, validity = $3, updated_at = $4 where id = $1
			`, t.ID, t.Scope.Sorted(), t.Validity, t.UpdatedAt); err != nil {
				return nil, err
			}
			return &t, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, err
		}
	}

	t := &oauth.AuthToken{
		ID:        ids.New(),
		UserID:    userID,
		ClientID:  clientID,
		Token:     ids.Key(),
		TokenType: "bearer",
		Secret:    ids.Secret(),
		Scope:     sc.Clone(),
		Validity:  validity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if userID != "" {
		t.RefreshToken = ids.Key()
	}
	if _, err := tx.ExecContext(ctx, `
		insert into auth_tokens (id, user_id, client_id, token, token_type, secret, algorithm, scope, validity, refresh_token, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, nullIfEmpty(t.UserID), t.ClientID, t.Token, t.TokenType, t.Secret, nullIfEmpty(t.Algorithm),
		t.Scope.Sorted(), t.Validity, nullIfEmpty(t.RefreshToken), t.CreatedAt, t.UpdatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

const tokenColumns = `id, user_id, client_id, token, token_type, secret, algorithm, scope, validity, refresh_token, created_at, updated_at`

func scanToken(row interface{ Scan(...any) error }) (*oauth.AuthToken, error) {
	var (
		t        oauth.AuthToken
		userID   sql.NullString
		alg      sql.NullString
		rawScope string
		refresh  sql.NullString
	)
	err := row.Scan(&t.ID, &userID, &t.ClientID, &t.Token, &t.TokenType, &t.Secret, &alg, &rawScope,
		&t.Validity, &refresh, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		t.UserID = userID.String
	}
	if alg.Valid {
		t.Algorithm = alg.String
	}
	if refresh.Valid {
		t.RefreshToken = refresh.String
	}
	t.Scope, err = scope.Parse(rawScope)
	if err != nil {
		return nil, fmt.Errorf("%w: stored scope %q", oauth.ErrConsistency, rawScope)
	}
	return &t, nil
}

func (s *Store) GetAuthToken(ctx context.Context, token string) (*oauth.AuthToken, error) {
	return scanToken(s.db.QueryRowContext(ctx, `select `+tokenColumns+` from auth_tokens where token = $1`, token))
}

func (s *Store) GetAuthTokenByRefresh(ctx context.Context, refreshToken string) (*oauth.AuthToken, error) {
	return scanToken(s.db.QueryRowContext(ctx, `select `+tokenColumns+` from auth_tokens where refresh_token = $1`, refreshToken))
}

func (s *Store) RotateAuthToken(ctx context.Context, token string) (*oauth.AuthToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanToken(tx.QueryRowContext(ctx, `select `+tokenColumns+` from auth_tokens where token = $1 for update`, token))
	if err != nil {
		return nil, err
	}
	if !t.Refreshable() {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return t, nil
	}
	t.Token = ids.Key()
	t.Secret = ids.Secret()
	t.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update auth_tokens set token = $2, secret = $3, updated_at = $4 where id = $1
	`, t.ID, t.Token, t.Secret, t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) ListAuthTokensByUser(ctx context.Context, userID string) ([]*oauth.AuthToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+tokenColumns+` from auth_tokens where user_id = $1 order by client_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*oauth.AuthToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAuthToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `delete from auth_tokens where token = $1`, token)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

func (s *Store) MigrateAuthTokens(ctx context.Context, oldUserID, newUserID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		select id, client_id, scope from auth_tokens where user_id = $1 for update
	`, oldUserID)
	if err != nil {
		return err
	}
	type tok struct {
		id       string
		clientID string
		rawScope string
	}
	var toks []tok
	for rows.Next() {
		var t tok
		if err := rows.Scan(&t.id, &t.clientID, &t.rawScope); err != nil {
			rows.Close()
			return err
		}
		toks = append(toks, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	now := time.Now().UTC()
	for _, t := range toks {
		var (
			targetID    string
			targetScope string
		)
		err := tx.QueryRowContext(ctx, `
			select id, scope from auth_tokens where user_id = $1 and client_id = $2 for update
		`, newUserID, t.clientID).Scan(&targetID, &targetScope)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				update auth_tokens set user_id = $2, updated_at = $3 where id = $1
			`, t.id, newUserID, now); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			oldSet, perr := scope.Parse(t.rawScope)
			if perr != nil {
				return fmt.Errorf("%w: stored scope %q", oauth.ErrConsistency, t.rawScope)
			}
			newSet, perr := scope.Parse(targetScope)
			if perr != nil {
				return fmt.Errorf("%w: stored scope %q", oauth.ErrConsistency, targetScope)
			}
			merged := newSet.Union(oldSet)
			if _, err := tx.ExecContext(ctx, `
				update auth_tokens set scope = $2, updated_at = $3 where id = $1
			`, targetID, merged.Sorted(), now); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `delete from auth_tokens where id = $1`, t.id); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
