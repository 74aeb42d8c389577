package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"idgate.org/internal/audit"
	"idgate.org/internal/notify"
	"idgate.org/internal/oauth"
	"idgate.org/internal/obs"
	"idgate.org/internal/scope"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

func tokenToResponse(t *oauth.AuthToken) tokenResponse {
	return tokenResponse{
		AccessToken:  t.Token,
		TokenType:    t.TokenType,
		ExpiresIn:    t.Validity,
		RefreshToken: t.RefreshToken,
		Scope:        t.Scope.Sorted(),
	}
}

// clientFromRequest authenticates the calling application. HTTP Basic
// carries the client key and secret; form fields are the fallback.
func (a *API) clientFromRequest(r *http.Request) (*oauth.Client, error) {
	key, secret, ok := r.BasicAuth()
	if !ok {
		key = r.PostFormValue("client_id")
		secret = r.PostFormValue("client_secret")
	}
	return a.engine.ValidateClientCredentials(r.Context(), key, secret)
}

// handleAuthorize issues an authorization code for the signed-in user. The
// UI fronting this endpoint renders the consent screen; by the time this is
// called the user has accepted the requested scope.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		ClientKey   string `json:"client_id"`
		Scope       string `json:"scope"`
		RedirectURI string `json:"redirect_uri"`
		State       string `json:"state"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	client, err := a.engine.GetClientByKey(r.Context(), req.ClientKey)
	if err != nil {
		handleOAuthError(w, r, err)
		return
	}
	requested, err := scope.Parse(req.Scope)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_scope")
		return
	}
	code, err := a.engine.Authorize(r.Context(), u, client, requested, req.RedirectURI)
	if err != nil {
		handleOAuthError(w, r, err)
		return
	}
	obs.RecordAuthCodeIssued()
	_ = audit.LogEvent(r.Context(), "oauth.code.issued", map[string]any{
		"user":   u.PublicID,
		"client": client.Key,
		"scope":  code.Scope.String(),
	})
	resp := map[string]any{"code": code.Code}
	if req.State != "" {
		resp["state"] = req.State
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleToken is the OAuth2 token endpoint. Requests are form-encoded per
// the protocol; client credentials arrive via HTTP Basic or form fields.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed form body")
		return
	}
	client, err := a.clientFromRequest(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		writeError(w, r, http.StatusUnauthorized, "invalid_client")
		return
	}

	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case "authorization_code":
		token, err := a.engine.Exchange(r.Context(), client, r.PostFormValue("code"), r.PostFormValue("redirect_uri"))
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		obs.RecordTokenIssued(grantType)
		a.hub.Publish(notify.Event{Type: notify.EventTokenIssued, UserID: token.UserID, ClientID: client.ID})
		_ = audit.LogEvent(r.Context(), "oauth.token.issued", map[string]any{
			"client": client.Key,
			"grant":  grantType,
		})
		writeJSON(w, http.StatusOK, tokenToResponse(token))

	case "client_credentials":
		requested, err := scope.Parse(r.PostFormValue("scope"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_scope")
			return
		}
		validity, err := parseValidity(r.PostFormValue("validity"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		token, err := a.engine.ClientToken(r.Context(), client, requested, validity)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		obs.RecordTokenIssued(grantType)
		writeJSON(w, http.StatusOK, tokenToResponse(token))

	case "refresh_token":
		token, err := a.engine.Refresh(r.Context(), client, r.PostFormValue("refresh_token"))
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		obs.RecordTokenIssued(grantType)
		writeJSON(w, http.StatusOK, tokenToResponse(token))

	default:
		writeError(w, r, http.StatusBadRequest, "unsupported_grant_type")
	}
}

// handleTokenVerify lets resource servers validate an access token they
// received. The caller authenticates as a client; trusted clients see the
// token's user, others only validity and scope.
func (a *API) handleTokenVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed form body")
		return
	}
	client, err := a.clientFromRequest(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		writeError(w, r, http.StatusUnauthorized, "invalid_client")
		return
	}
	token, err := a.engine.VerifyToken(r.Context(), r.PostFormValue("access_token"))
	if err != nil {
		handleOAuthError(w, r, err)
		return
	}
	if want := strings.TrimSpace(r.PostFormValue("resource")); want != "" {
		if !tokenCoversResource(token.Scope, want) {
			writeError(w, r, http.StatusForbidden, "insufficient_scope")
			return
		}
	}
	resp := map[string]any{
		"active":     true,
		"scope":      token.Scope.Sorted(),
		"token_type": token.TokenType,
	}
	if client.Trusted && token.UserID != "" {
		if u, err := a.registry.UserByID(r.Context(), token.UserID); err == nil {
			resp["user"] = userToResponse(u)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// tokenCoversResource reports whether the scope includes the resource, either
// by bare name or by any of its actions.
func tokenCoversResource(s scope.Set, resource string) bool {
	if s.Has(resource) {
		return true
	}
	for _, tok := range s {
		if name, _, found := strings.Cut(tok, "/"); found && name == resource {
			return true
		}
	}
	return false
}

func (a *API) handleTokens(w http.ResponseWriter, r *http.Request) {
	u, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		tokens, err := a.engine.ListAuthTokensByUser(r.Context(), u.ID)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(tokens))
		for _, t := range tokens {
			items = append(items, map[string]any{
				"client_id": t.ClientID,
				"scope":     t.Scope.Sorted(),
				"validity":  t.Validity,
				"issued_at": t.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodDelete:
		var req struct {
			ClientID string `json:"client_id"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		tokens, err := a.engine.ListAuthTokensByUser(r.Context(), u.ID)
		if err != nil {
			handleOAuthError(w, r, err)
			return
		}
		revoked := 0
		for _, t := range tokens {
			if t.ClientID != req.ClientID {
				continue
			}
			if err := a.engine.RevokeAuthToken(r.Context(), t.Token); err != nil {
				handleOAuthError(w, r, err)
				return
			}
			revoked++
		}
		if revoked == 0 {
			writeError(w, r, http.StatusNotFound, "no tokens for client")
			return
		}
		a.hub.Publish(notify.Event{Type: notify.EventTokenRevoked, UserID: u.PublicID, ClientID: req.ClientID})
		_ = audit.LogEvent(r.Context(), "oauth.token.revoked", map[string]any{
			"user":   u.PublicID,
			"client": req.ClientID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func parseValidity(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 || val > 10*365*24*3600 {
		return 0, errors.New("validity must be a non-negative number of seconds")
	}
	return val, nil
}
