package oauth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"idgate.org/internal/identity"
	"idgate.org/internal/scope"
)

// NewPermission defines a permission token. A global (AllUsers) permission
// carries no owner; otherwise exactly one of user and org must own it.
func (e *Engine) NewPermission(ctx context.Context, p *Permission) (*Permission, error) {
	p.Name = strings.TrimSpace(p.Name)
	if !scope.ValidToken(p.Name) {
		return nil, fmt.Errorf("%w: bad permission name %q", ErrInvalidArgument, p.Name)
	}
	if p.AllUsers {
		p.UserID = ""
		p.OrgID = ""
	} else if (p.UserID == "") == (p.OrgID == "") {
		return nil, fmt.Errorf("%w: permission must have exactly one owner", ErrInvalidArgument)
	}
	if err := e.store.CreatePermission(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPermission looks up a permission by name. With allusers set the owner
// arguments are ignored; otherwise exactly one of userID and orgID selects
// the owner.
func (e *Engine) GetPermission(ctx context.Context, name, userID, orgID string, allusers bool) (*Permission, error) {
	if allusers {
		return e.store.GetPermissionAllUsers(ctx, name)
	}
	if (userID == "") == (orgID == "") {
		return nil, fmt.Errorf("%w: specify user or org, not both", ErrInvalidArgument)
	}
	if userID != "" {
		return e.store.GetPermissionByUser(ctx, name, userID)
	}
	return e.store.GetPermissionByOrg(ctx, name, orgID)
}

// AvailablePermissions lists what the given user or org (exactly one) may
// assign: all global permissions plus their own, ordered by name.
func (e *Engine) AvailablePermissions(ctx context.Context, userID, orgID string) ([]*Permission, error) {
	if (userID == "") == (orgID == "") {
		return nil, fmt.Errorf("%w: specify user or org, not both", ErrInvalidArgument)
	}
	return e.store.ListAvailablePermissions(ctx, userID, orgID)
}

func (e *Engine) PermissionByID(ctx context.Context, id string) (*Permission, error) {
	return e.store.GetPermission(ctx, id)
}

func (e *Engine) DeletePermission(ctx context.Context, id string) error {
	return e.store.DeletePermission(ctx, id)
}

// GrantUserPermissions merges the tokens into the user's single assignment
// row for the client.
func (e *Engine) GrantUserPermissions(ctx context.Context, u *identity.User, c *Client, tokens scope.Set) (*UserClientPermissions, error) {
	if u == nil || len(tokens) == 0 {
		return nil, fmt.Errorf("%w: user and tokens are required", ErrInvalidArgument)
	}
	return e.store.GrantUserClientPermissions(ctx, u.ID, c.ID, tokens)
}

// GrantTeamPermissions merges the tokens into the team's single assignment
// row for the client.
func (e *Engine) GrantTeamPermissions(ctx context.Context, t *identity.Team, c *Client, tokens scope.Set) (*TeamClientPermissions, error) {
	if t == nil || len(tokens) == 0 {
		return nil, fmt.Errorf("%w: team and tokens are required", ErrInvalidArgument)
	}
	return e.store.GrantTeamClientPermissions(ctx, t.ID, c.ID, tokens)
}

func (e *Engine) RevokeUserPermissions(ctx context.Context, userID, clientID string) error {
	return e.store.RevokeUserClientPermissions(ctx, userID, clientID)
}

func (e *Engine) RevokeTeamPermissions(ctx context.Context, teamID, clientID string) error {
	return e.store.RevokeTeamClientPermissions(ctx, teamID, clientID)
}

// UserPermissionsFor resolves the effective permission tokens a client sees
// for a user: the direct user assignment unioned with assignments of every
// team the user belongs to.
func (e *Engine) UserPermissionsFor(ctx context.Context, u *identity.User, c *Client) (scope.Set, error) {
	out := scope.Set{}
	g, err := e.store.GetUserClientPermissions(ctx, u.ID, c.ID)
	switch {
	case err == nil:
		out = out.Add(g.Access...)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	teams, err := e.registry.TeamsOf(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range teams {
		tg, err := e.store.GetTeamClientPermissions(ctx, t.ID, c.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = out.Add(tg.Access...)
	}
	sort.Strings(out)
	return out, nil
}
