package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"idgate.org/internal/audit"
	"idgate.org/internal/identity"
	"idgate.org/internal/notify"
	"idgate.org/internal/obs"
	"idgate.org/internal/session"
)

type userResponse struct {
	ID       string `json:"id"`
	Fullname string `json:"fullname"`
	Username string `json:"username,omitempty"`
	Status   int    `json:"status"`
}

func userToResponse(u *identity.User) userResponse {
	return userResponse{
		ID:       u.PublicID,
		Fullname: u.Fullname,
		Username: u.Username,
		Status:   int(u.Status),
	}
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Fullname string `json:"fullname"`
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.registry.RegisterUser(r.Context(), req.Fullname, req.Username, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if addr := strings.TrimSpace(req.Email); addr != "" {
		if _, err := a.registry.ClaimEmail(r.Context(), u.ID, addr); err != nil {
			handleIdentityError(w, r, err)
			return
		}
	}
	obs.RecordRegistration()
	a.hub.Publish(notify.Event{Type: notify.EventRegistration, UserID: u.PublicID})
	_ = audit.LogEvent(r.Context(), "user.registered", map[string]any{"user": u.PublicID})
	writeJSON(w, http.StatusCreated, userToResponse(u))
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ref := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if ref == "" || strings.Contains(ref, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	// Lookup by username first, then by public id; merged accounts resolve
	// through their tombstone.
	u, err := a.registry.GetUser(r.Context(), ref, "")
	if err != nil {
		u, err = a.registry.GetUser(r.Context(), "", ref)
	}
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(u))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.registry.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		obs.RecordLogin("failure")
		_ = audit.LogEvent(r.Context(), "login.failure", map[string]any{"username": req.Username})
		handleIdentityError(w, r, err)
		return
	}
	token, err := session.Generate(u.PublicID, u.Username, a.sessionTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session generation failed")
		return
	}
	obs.RecordLogin("success")
	a.hub.Publish(notify.Event{Type: notify.EventLogin, UserID: u.PublicID})
	_ = audit.LogEvent(r.Context(), "login.success", map[string]any{"user": u.PublicID})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": time.Now().UTC().Add(a.sessionTTL).Format(time.RFC3339),
		"user":       userToResponse(u),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	// Sessions are stateless JWTs; logout is advisory and feeds the event
	// stream so relying clients can drop their own sessions.
	a.hub.Publish(notify.Event{Type: notify.EventLogout, UserID: u.PublicID})
	_ = audit.LogEvent(r.Context(), "logout", map[string]any{"user": u.PublicID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	orgs, err := a.registry.Organizations(r.Context(), u.ID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	orgRefs := make([]map[string]string, 0, len(orgs))
	for _, org := range orgs {
		orgRefs = append(orgRefs, map[string]string{"id": org.PublicID, "name": org.Name, "title": org.Title})
	}
	resp := map[string]any{
		"user": userToResponse(u),
		"orgs": orgRefs,
	}
	if primary, err := a.registry.PrimaryEmail(r.Context(), u.ID); err == nil {
		resp["email"] = primary.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSetUsername(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.registry.SetUsername(r.Context(), u, req.Username); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(u))
}

func (a *API) handleEmails(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		primary, err := a.registry.PrimaryEmail(r.Context(), u.ID)
		if err != nil && !isNotFound(err) {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"primary": primary.String()})
	case http.MethodPost:
		var req struct {
			Email string `json:"email"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		claim, err := a.registry.ClaimEmail(r.Context(), u.ID, req.Email)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		// The verification code is delivered out of band; it is never
		// returned in the response.
		_ = audit.LogEvent(r.Context(), "email.claimed", map[string]any{
			"user":  u.PublicID,
			"email": claim.Email.MD5Sum(),
		})
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "verification_pending"})
	case http.MethodDelete:
		var req struct {
			Email string `json:"email"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.registry.DelEmail(r.Context(), u.ID, req.Email); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleEmailVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email, err := a.registry.VerifyEmailClaim(r.Context(), u.ID, req.Email, req.Code)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "email.verified", map[string]any{
		"user":  u.PublicID,
		"email": email.Email.MD5Sum(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"email":   email.Email.String(),
		"primary": email.Primary,
	})
}

// handleMerge folds another account the caller controls into the current one.
// The caller proves control by authenticating as the old account.
func (a *API) handleMerge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	oldUser, err := a.registry.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if err := a.registry.MergeUsers(r.Context(), oldUser, u); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if err := a.engine.MigrateUser(r.Context(), oldUser, u); err != nil {
		handleOAuthError(w, r, err)
		return
	}
	obs.RecordUserMerge()
	a.hub.Publish(notify.Event{Type: notify.EventUserMerged, UserID: u.PublicID, Detail: oldUser.PublicID})
	_ = audit.LogEvent(r.Context(), "user.merged", map[string]any{
		"user": u.PublicID,
		"old":  oldUser.PublicID,
	})
	writeJSON(w, http.StatusOK, userToResponse(u))
}

func isNotFound(err error) bool {
	return errors.Is(err, identity.ErrNotFound)
}
