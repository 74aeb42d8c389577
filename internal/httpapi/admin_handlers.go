package httpapi

import (
	"net/http"
	"strings"

	"idgate.org/internal/audit"
	"idgate.org/internal/identity"
	"idgate.org/internal/oauth"
	"idgate.org/internal/scope"
)

type orgResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

func orgToResponse(o *identity.Organization) orgResponse {
	return orgResponse{ID: o.PublicID, Name: o.Name, Title: o.Title}
}

type teamResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	OrgID string `json:"org_id"`
}

func teamToResponse(t *identity.Team) teamResponse {
	return teamResponse{ID: t.ID, Title: t.Title, OrgID: t.OrgID}
}

type clientResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Website     string `json:"website"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Key         string `json:"key"`
	Active      bool   `json:"active"`
	Trusted     bool   `json:"trusted"`
	TeamAccess  bool   `json:"team_access"`
}

func (a *API) clientToResponse(r *http.Request, c *oauth.Client) clientResponse {
	resp := clientResponse{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Website:     c.Website,
		RedirectURI: c.RedirectURI,
		Key:         c.Key,
		Active:      c.Active,
		Trusted:     c.Trusted,
		TeamAccess:  c.TeamAccess,
	}
	if title, err := a.engine.OwnerTitle(r.Context(), c); err == nil {
		resp.Owner = title
	}
	return resp
}

// resolveOrg accepts an organization name or public id.
func (a *API) resolveOrg(r *http.Request, ref string) (*identity.Organization, error) {
	org, err := a.registry.GetOrganization(r.Context(), ref, "")
	if err != nil {
		org, err = a.registry.GetOrganization(r.Context(), "", ref)
	}
	return org, err
}

func (a *API) viewerFor(w http.ResponseWriter, r *http.Request, u *identity.User) (identity.Viewer, bool) {
	v, err := a.registry.ViewerFor(r.Context(), u)
	if err != nil {
		handleIdentityError(w, r, err)
		return identity.Viewer{}, false
	}
	return v, true
}

// --- organizations and teams ---

func (a *API) handleOrgsCollection(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		orgs, err := a.registry.Organizations(r.Context(), u.ID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		items := make([]orgResponse, 0, len(orgs))
		for _, org := range orgs {
			items = append(items, orgToResponse(org))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req struct {
			Name  string `json:"name"`
			Title string `json:"title"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org, err := a.registry.NewOrganization(r.Context(), u, req.Name, req.Title)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "org.created", map[string]any{"org": org.PublicID, "user": u.PublicID})
		writeJSON(w, http.StatusCreated, orgToResponse(org))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrgResource(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/orgs/")
	ref, sub, _ := strings.Cut(rest, "/")
	if ref == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	org, err := a.resolveOrg(r, ref)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	v, ok := a.viewerFor(w, r, u)
	if !ok {
		return
	}
	caps := org.Capabilities(v)

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !caps.Has("view") {
			writeError(w, r, http.StatusForbidden, "not an organization member")
			return
		}
		writeJSON(w, http.StatusOK, orgToResponse(org))
	case "teams":
		switch r.Method {
		case http.MethodGet:
			if !caps.Has("view-teams") {
				writeError(w, r, http.StatusForbidden, "owner access required")
				return
			}
			teams, err := a.registry.TeamsOf(r.Context(), u.ID)
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			items := make([]teamResponse, 0, len(teams))
			for _, t := range teams {
				if t.OrgID == org.ID {
					items = append(items, teamToResponse(t))
				}
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			if !caps.Has("new-team") {
				writeError(w, r, http.StatusForbidden, "owner access required")
				return
			}
			var req struct {
				Title string `json:"title"`
			}
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			team, err := a.registry.NewTeam(r.Context(), org, req.Title)
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, teamToResponse(team))
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleTeamResource(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/teams/")
	teamID, sub, _ := strings.Cut(rest, "/")
	if teamID == "" || sub != "members" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var req struct {
		User string `json:"user"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	member, err := a.registry.GetUser(r.Context(), req.User, "")
	if err != nil {
		member, err = a.registry.GetUser(r.Context(), "", req.User)
	}
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	// Only owners of the team's organization manage membership.
	team, err := a.registry.TeamByID(r.Context(), teamID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	isOwner, err := a.registry.IsOrgOwner(r.Context(), u.ID, team.OrgID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if !isOwner {
		writeError(w, r, http.StatusForbidden, "owner access required")
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := a.registry.AddTeamMember(r.Context(), teamID, member.ID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case http.MethodDelete:
		if err := a.registry.RemoveTeamMember(r.Context(), teamID, member.ID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

// --- clients ---

func (a *API) handleClientsCollection(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		clients, err := a.engine.ListClientsByUser(r.Context(), u.ID)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		orgs, err := a.registry.OrganizationsOwned(r.Context(), u.ID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		for _, org := range orgs {
			orgClients, err := a.engine.ListClientsByOrg(r.Context(), org.ID)
			if err != nil {
				handleOAuthError(w, r, err)
				return
			}
			clients = append(clients, orgClients...)
		}
		items := make([]clientResponse, 0, len(clients))
		for _, c := range clients {
			items = append(items, a.clientToResponse(r, c))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req struct {
			Title           string `json:"title"`
			Description     string `json:"description"`
			Website         string `json:"website"`
			RedirectURI     string `json:"redirect_uri"`
			NotificationURI string `json:"notification_uri"`
			AllowAnyLogin   bool   `json:"allow_any_login"`
			TeamAccess      bool   `json:"team_access"`
			Org             string `json:"org"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		c := &oauth.Client{
			Title:           req.Title,
			Description:     req.Description,
			Website:         req.Website,
			RedirectURI:     req.RedirectURI,
			NotificationURI: req.NotificationURI,
			AllowAnyLogin:   req.AllowAnyLogin,
			TeamAccess:      req.TeamAccess,
		}
		if req.Org != "" {
			org, err := a.resolveOrg(r, req.Org)
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			isOwner, err := a.registry.IsOrgOwner(r.Context(), u.ID, org.ID)
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			if !isOwner {
				writeError(w, r, http.StatusForbidden, "owner access required")
				return
			}
			c.OrgID = org.ID
		} else {
			c.UserID = u.ID
		}
		created, err := a.engine.RegisterClient(r.Context(), c)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "client.registered", map[string]any{
			"client": created.Key,
			"user":   u.PublicID,
		})
		// The secret is shown exactly once, at registration.
		resp := a.clientToResponse(r, created)
		writeJSON(w, http.StatusCreated, map[string]any{
			"client": resp,
			"secret": created.Secret,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleClientResource(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/clients/")
	clientID, sub, _ := strings.Cut(rest, "/")
	if clientID == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	client, err := a.engine.GetClient(r.Context(), clientID)
	if err != nil {
		handleOAuthError(w, r, err)
		return
	}
	v, ok := a.viewerFor(w, r, u)
	if !ok {
		return
	}
	caps := client.Capabilities(v)

	switch sub {
	case "":
		a.handleClientRoot(w, r, client, caps)
	case "resources":
		a.handleClientResources(w, r, client, caps)
	case "team-access":
		a.handleClientTeamAccess(w, r, client, caps)
	case "grants":
		a.handleClientGrants(w, r, u, client, caps)
	case "permissions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		perms, err := a.engine.UserPermissionsFor(r.Context(), u, client)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleClientRoot(w http.ResponseWriter, r *http.Request, client *oauth.Client, caps identity.CapSet) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.clientToResponse(r, client))
	case http.MethodPut:
		if !caps.Has("edit") {
			writeError(w, r, http.StatusForbidden, "owner access required")
			return
		}
		var req struct {
			Title           string `json:"title"`
			Description     string `json:"description"`
			Website         string `json:"website"`
			RedirectURI     string `json:"redirect_uri"`
			NotificationURI string `json:"notification_uri"`
			AllowAnyLogin   bool   `json:"allow_any_login"`
			Active          bool   `json:"active"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		client.Title = req.Title
		client.Description = req.Description
		client.Website = req.Website
		client.RedirectURI = req.RedirectURI
		client.NotificationURI = req.NotificationURI
		client.AllowAnyLogin = req.AllowAnyLogin
		client.Active = req.Active
		if err := a.engine.UpdateClient(r.Context(), client); err != nil {
			handleOAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a.clientToResponse(r, client))
	case http.MethodDelete:
		if !caps.Has("delete") {
			writeError(w, r, http.StatusForbidden, "owner access required")
			return
		}
		if err := a.engine.DeleteClient(r.Context(), client.ID); err != nil {
			handleOAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "client.deleted", map[string]any{"client": client.Key})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleClientResources(w http.ResponseWriter, r *http.Request, client *oauth.Client, caps identity.CapSet) {
	switch r.Method {
	case http.MethodGet:
		resources, err := a.engine.ListResources(r.Context(), client.ID)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(resources))
		for _, res := range resources {
			items = append(items, map[string]any{
				"id":    res.ID,
				"name":  res.Name,
				"title": res.Title,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !caps.Has("new-resource") {
			writeError(w, r, http.StatusForbidden, "owner access required")
			return
		}
		var req struct {
			Name         string `json:"name"`
			Title        string `json:"title"`
			SiteResource bool   `json:"siteresource"`
			Trusted      bool   `json:"trusted"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		res, err := a.engine.NewResource(r.Context(), client, req.Name, req.Title, req.SiteResource, req.Trusted)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":    res.ID,
			"name":  res.Name,
			"title": res.Title,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleClientTeamAccess(w http.ResponseWriter, r *http.Request, client *oauth.Client, caps identity.CapSet) {
	switch r.Method {
	case http.MethodGet:
		orgs, err := a.engine.OrgsWithTeamAccess(r.Context(), client)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		items := make([]orgResponse, 0, len(orgs))
		for _, org := range orgs {
			items = append(items, orgToResponse(org))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !caps.Has("edit") {
			writeError(w, r, http.StatusForbidden, "owner access required")
			return
		}
		var req struct {
			Org   string `json:"org"`
			Level int    `json:"level"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org, err := a.resolveOrg(r, req.Org)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		if err := a.engine.SetTeamAccess(r.Context(), client, org.ID, oauth.TeamAccessLevel(req.Level)); err != nil {
			handleOAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleClientGrants(w http.ResponseWriter, r *http.Request, u *identity.User, client *oauth.Client, caps identity.CapSet) {
	if !caps.Has("assign-permissions") {
		writeError(w, r, http.StatusForbidden, "owner access required")
		return
	}
	var req struct {
		User  string `json:"user,omitempty"`
		Team  string `json:"team,omitempty"`
		Perms string `json:"perms,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if (req.User == "") == (req.Team == "") {
		writeError(w, r, http.StatusBadRequest, "specify exactly one of user or team")
		return
	}

	switch r.Method {
	case http.MethodPost:
		tokens, err := scope.Parse(req.Perms)
		if err != nil || len(tokens) == 0 {
			writeError(w, r, http.StatusBadRequest, "perms are required")
			return
		}
		if req.User != "" {
			subject, err := a.registry.GetUser(r.Context(), req.User, "")
			if err != nil {
				subject, err = a.registry.GetUser(r.Context(), "", req.User)
			}
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			grant, err := a.engine.GrantUserPermissions(r.Context(), subject, client, tokens)
			if err != nil {
				handleOAuthError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "perms.granted", map[string]any{
				"client": client.Key,
				"user":   subject.PublicID,
				"perms":  grant.Access.Sorted(),
			})
			writeJSON(w, http.StatusOK, map[string]any{"access": grant.Access.Sorted()})
			return
		}
		team, err := a.registry.TeamByID(r.Context(), req.Team)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		// Team grants are only meaningful for org-owned clients and teams
		// of the same organization.
		if client.OrgID == "" || team.OrgID != client.OrgID {
			writeError(w, r, http.StatusBadRequest, "team must belong to the client's organization")
			return
		}
		grant, err := a.engine.GrantTeamPermissions(r.Context(), team, client, tokens)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access": grant.Access.Sorted()})
	case http.MethodDelete:
		if req.User != "" {
			subject, err := a.registry.GetUser(r.Context(), req.User, "")
			if err != nil {
				subject, err = a.registry.GetUser(r.Context(), "", req.User)
			}
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			if err := a.engine.RevokeUserPermissions(r.Context(), subject.ID, client.ID); err != nil {
				handleOAuthError(w, r, err)
				return
			}
		} else {
			if err := a.engine.RevokeTeamPermissions(r.Context(), req.Team, client.ID); err != nil {
				handleOAuthError(w, r, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

// --- scope vocabulary and permission definitions ---

func (a *API) handleResourceResource(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/resources/")
	resourceID, sub, _ := strings.Cut(rest, "/")
	if resourceID == "" || sub != "actions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	res, err := a.engine.GetResource(r.Context(), resourceID)
	if err != nil {
		handleOAuthError(w, r, err)
		return
	}
	owner, err := a.engine.GetClient(r.Context(), res.ClientID)
	if err != nil {
		handleOAuthError(w, r, err)
		return
	}
	v, ok := a.viewerFor(w, r, u)
	if !ok {
		return
	}
	caps := res.Capabilities(v, owner)

	switch r.Method {
	case http.MethodGet:
		actions, err := a.engine.ListResourceActions(r.Context(), res.ID)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(actions))
		for _, act := range actions {
			items = append(items, map[string]any{"id": act.ID, "name": act.Name, "title": act.Title})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !caps.Has("new-action") {
			writeError(w, r, http.StatusForbidden, "owner access required")
			return
		}
		var req struct {
			Name  string `json:"name"`
			Title string `json:"title"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		act, err := a.engine.NewResourceAction(r.Context(), res, req.Name, req.Title)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": act.ID, "name": act.Name, "title": act.Title})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionsCollection(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		orgID := ""
		if ref := r.URL.Query().Get("org"); ref != "" {
			org, err := a.resolveOrg(r, ref)
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			orgID = org.ID
		}
		userID := u.ID
		if orgID != "" {
			userID = ""
		}
		perms, err := a.engine.AvailablePermissions(r.Context(), userID, orgID)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(perms))
		for _, p := range perms {
			items = append(items, map[string]any{
				"id":       p.ID,
				"name":     p.Name,
				"title":    p.Title,
				"allusers": p.AllUsers,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			Title       string `json:"title"`
			Description string `json:"description"`
			AllUsers    bool   `json:"allusers"`
			Org         string `json:"org"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p := &oauth.Permission{
			Name:        req.Name,
			Title:       req.Title,
			Description: req.Description,
			AllUsers:    req.AllUsers,
		}
		if req.Org != "" {
			org, err := a.resolveOrg(r, req.Org)
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			isOwner, err := a.registry.IsOrgOwner(r.Context(), u.ID, org.ID)
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			if !isOwner {
				writeError(w, r, http.StatusForbidden, "owner access required")
				return
			}
			p.OrgID = org.ID
		} else if !req.AllUsers {
			p.UserID = u.ID
		}
		created, err := a.engine.NewPermission(r.Context(), p)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":       created.ID,
			"name":     created.Name,
			"title":    created.Title,
			"allusers": created.AllUsers,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/permissions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	perm, err := a.engine.PermissionByID(r.Context(), id)
	if err != nil {
		handleOAuthError(w, r, err)
		return
	}
	v, ok := a.viewerFor(w, r, u)
	if !ok {
		return
	}
	if !perm.Capabilities(v).Has("delete") {
		writeError(w, r, http.StatusForbidden, "owner access required")
		return
	}
	if err := a.engine.DeletePermission(r.Context(), perm.ID); err != nil {
		handleOAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
