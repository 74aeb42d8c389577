package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"idgate.org/internal/identity"
	"idgate.org/internal/notify"
	"idgate.org/internal/oauth"
	"idgate.org/internal/session"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	token   string
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("IDGATE_SESSION_SECRET", "test-secret")
	session.ResetSecretForTests()
	t.Cleanup(session.ResetSecretForTests)

	registry, err := identity.NewService(identity.NewInMemory())
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	engine, err := oauth.NewEngine(oauth.NewInMemory(), registry)
	if err != nil {
		t.Fatalf("oauth.NewEngine: %v", err)
	}

	api := New(registry, engine, notify.New(), ReadyProbe{}, "test")
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any) *http.Response {
	return c.do(http.MethodPost, path, body)
}

func (c *apiClient) get(path string) *http.Response {
	return c.do(http.MethodGet, path, nil)
}

func (c *apiClient) postForm(path string, form url.Values, basicUser, basicPass string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, basicPass)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func (c *apiClient) register(fullname, username, password string) {
	c.t.Helper()
	resp := c.post("/v1/users", map[string]any{
		"fullname": fullname,
		"username": username,
		"password": password,
	})
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func (c *apiClient) login(username, password string) {
	c.t.Helper()
	resp := c.post("/v1/login", map[string]any{"username": username, "password": password})
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login: status %d", resp.StatusCode)
	}
	body := decodeBody(c.t, resp)
	token, _ := body["token"].(string)
	if token == "" {
		c.t.Fatal("login returned no token")
	}
	c.token = token
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["service"] != "idgate-api" {
		t.Fatalf("unexpected service: %v", body["service"])
	}

	resp = c.get("/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterLoginMe(t *testing.T) {
	c := newTestAPI(t)
	c.register("Alice Smith", "alice", "correct-battery")

	// Wrong password
	resp := c.post("/v1/login", map[string]any{"username": "alice", "password": "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	c.login("alice", "correct-battery")

	resp = c.get("/v1/me")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	user, _ := body["user"].(map[string]any)
	if user["username"] != "alice" {
		t.Fatalf("unexpected user: %v", body)
	}
}

func TestMeRequiresSession(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/v1/me")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	c.token = "not-a-session"
	resp = c.get("/v1/me")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage session: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuthorizationCodeFlow(t *testing.T) {
	c := newTestAPI(t)
	c.register("Alice", "alice", "pw")
	c.login("alice", "pw")

	// Register a client application.
	resp := c.post("/v1/clients", map[string]any{
		"title":        "Test App",
		"website":      "https://app.example.com",
		"redirect_uri": "https://app.example.com/cb",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register client: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	secret, _ := body["secret"].(string)
	client, _ := body["client"].(map[string]any)
	key, _ := client["key"].(string)
	clientID, _ := client["id"].(string)
	if key == "" || secret == "" {
		t.Fatalf("client registration incomplete: %v", body)
	}

	// Define the scope vocabulary.
	resp = c.post("/v1/clients/"+clientID+"/resources", map[string]any{
		"name":  "profile",
		"title": "Profile",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create resource: status %d", resp.StatusCode)
	}
	resBody := decodeBody(t, resp)
	resourceID, _ := resBody["id"].(string)

	resp = c.post("/v1/resources/"+resourceID+"/actions", map[string]any{
		"name":  "read",
		"title": "Read profile",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create action: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Authorize and exchange.
	resp = c.post("/v1/auth/authorize", map[string]any{
		"client_id":    key,
		"scope":        "profile/read",
		"redirect_uri": "https://app.example.com/cb",
		"state":        "xyz",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authorize: status %d", resp.StatusCode)
	}
	authBody := decodeBody(t, resp)
	code, _ := authBody["code"].(string)
	if code == "" || authBody["state"] != "xyz" {
		t.Fatalf("authorize response incomplete: %v", authBody)
	}

	resp = c.postForm("/v1/token", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example.com/cb"},
	}, key, secret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token exchange: status %d", resp.StatusCode)
	}
	tokenBody := decodeBody(t, resp)
	accessToken, _ := tokenBody["access_token"].(string)
	refreshToken, _ := tokenBody["refresh_token"].(string)
	if accessToken == "" || refreshToken == "" {
		t.Fatalf("token response incomplete: %v", tokenBody)
	}
	if tokenBody["scope"] != "profile/read" {
		t.Fatalf("unexpected scope: %v", tokenBody["scope"])
	}

	// A code is single use.
	resp = c.postForm("/v1/token", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example.com/cb"},
	}, key, secret)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("code reuse: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Verify the token as the client.
	resp = c.postForm("/v1/token/verify", url.Values{
		"access_token": {accessToken},
		"resource":     {"profile"},
	}, key, secret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token verify: status %d", resp.StatusCode)
	}
	verifyBody := decodeBody(t, resp)
	if verifyBody["active"] != true {
		t.Fatalf("token not active: %v", verifyBody)
	}

	// Refresh rotates the access token.
	resp = c.postForm("/v1/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}, key, secret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status %d", resp.StatusCode)
	}
	refreshBody := decodeBody(t, resp)
	if refreshBody["access_token"] == accessToken {
		t.Fatal("refresh must rotate the access token")
	}

	// The user can see and revoke the authorization.
	resp = c.get("/v1/tokens")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tokens: status %d", resp.StatusCode)
	}
	listBody := decodeBody(t, resp)
	items, _ := listBody["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one token, got %v", listBody)
	}

	resp = c.do(http.MethodDelete, "/v1/tokens", map[string]any{"client_id": clientID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestClientCredentialsGrant(t *testing.T) {
	c := newTestAPI(t)
	c.register("Alice", "alice", "pw")
	c.login("alice", "pw")

	resp := c.post("/v1/clients", map[string]any{
		"title":   "Robot",
		"website": "https://robot.example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register client: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	secret, _ := body["secret"].(string)
	client, _ := body["client"].(map[string]any)
	key, _ := client["key"].(string)

	resp = c.postForm("/v1/token", url.Values{
		"grant_type": {"client_credentials"},
		"validity":   {"3600"},
	}, key, secret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("client credentials: status %d", resp.StatusCode)
	}
	tokenBody := decodeBody(t, resp)
	if tokenBody["access_token"] == "" {
		t.Fatalf("no access token: %v", tokenBody)
	}
	if _, hasRefresh := tokenBody["refresh_token"]; hasRefresh {
		t.Fatal("client-only tokens must not carry a refresh token")
	}

	// Wrong credentials are rejected uniformly.
	resp = c.postForm("/v1/token", url.Values{
		"grant_type": {"client_credentials"},
	}, key, "wrong-secret")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad client secret: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestOrgAndPermissionGrants(t *testing.T) {
	c := newTestAPI(t)
	c.register("Alice", "alice", "pw")
	c.register("Bob", "bob", "pw")
	c.login("alice", "pw")

	resp := c.post("/v1/orgs", map[string]any{"name": "acme", "title": "Acme"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create org: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/clients", map[string]any{
		"title":   "Acme App",
		"website": "https://acme.example.com",
		"org":     "acme",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register org client: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	client, _ := body["client"].(map[string]any)
	clientID, _ := client["id"].(string)

	resp = c.post("/v1/permissions", map[string]any{
		"name":  "siteadmin",
		"title": "Site admin",
		"org":   "acme",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create permission: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/clients/"+clientID+"/grants", map[string]any{
		"user":  "bob",
		"perms": "siteadmin",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grant: status %d", resp.StatusCode)
	}
	grantBody := decodeBody(t, resp)
	if grantBody["access"] != "siteadmin" {
		t.Fatalf("unexpected access: %v", grantBody)
	}

	// Granting again merges into the same assignment.
	resp = c.post("/v1/clients/"+clientID+"/grants", map[string]any{
		"user":  "bob",
		"perms": "editor",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second grant: status %d", resp.StatusCode)
	}
	grantBody = decodeBody(t, resp)
	if grantBody["access"] != "editor siteadmin" {
		t.Fatalf("grants did not merge: %v", grantBody)
	}

	// Bob cannot manage Alice's client.
	bob := &apiClient{baseURL: c.baseURL, client: c.client, t: t}
	bob.login("bob", "pw")
	resp = bob.do(http.MethodDelete, "/v1/clients/"+clientID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign delete: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMergeEndpoint(t *testing.T) {
	c := newTestAPI(t)
	c.register("Dup", "dup", "pw")
	c.register("Canon", "canon", "pw")
	c.login("canon", "pw")

	resp := c.post("/v1/me/merge", map[string]any{"username": "dup", "password": "pw"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("merge: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["username"] != "canon" {
		t.Fatalf("unexpected surviving user: %v", body)
	}

	// The merged account can no longer log in.
	resp = c.post("/v1/login", map[string]any{"username": "dup", "password": "pw"})
	if resp.StatusCode == http.StatusOK {
		t.Fatal("merged account must not authenticate")
	}
	resp.Body.Close()
}
