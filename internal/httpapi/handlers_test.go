package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"uniplex.org/internal/auth"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemStore
	svc     *auth.Service
	t       *testing.T
}

func newTestAPI(t *testing.T, opts ...auth.ServiceOption) *apiClient {
	t.Helper()

	store := auth.NewMemStore()
	iss, err := auth.NewIssuer("test-secret-test-secret")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	svc, err := auth.NewService(store, iss, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	api := New(svc, ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler(nil))
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		svc:     svc,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// register + login shortcut for tests that need an authenticated subject.
func (c *apiClient) loginUser(email, password string) (userID, token string) {
	c.t.Helper()
	ctx := context.Background()
	user, err := c.svc.Register(ctx, email, password)
	if err != nil {
		c.t.Fatalf("register %s: %v", email, err)
	}
	res, err := c.svc.Login(ctx, email, password)
	if err != nil {
		c.t.Fatalf("login %s: %v", email, err)
	}
	return user.ID, res.Token
}

func TestProtectedPathsRequireToken(t *testing.T) {
	c := newTestAPI(t, auth.WithoutBootstrapAdmin())

	resp := c.do(http.MethodGet, "/auth/me", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /auth/me without token = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/auth/me", nil, "garbage-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /auth/me with garbage token = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterLoginAndMe(t *testing.T) {
	c := newTestAPI(t, auth.WithoutBootstrapAdmin())

	resp := c.do(http.MethodPost, "/auth/register", map[string]string{
		"email":    "alice@example.edu",
		"password": "s3cret",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[map[string]any](t, resp)
	if created["email"] != "alice@example.edu" {
		t.Fatalf("register body = %v", created)
	}
	if _, leaked := created["password_hash"]; leaked {
		t.Fatal("password hash leaked in response")
	}

	// Re-registering the same email is a client error, not a conflict.
	resp = c.do(http.MethodPost, "/auth/register", map[string]string{
		"email":    "alice@example.edu",
		"password": "another",
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.edu",
		"password": "s3cret",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login = %d, want 200", resp.StatusCode)
	}
	login := decodeBody[map[string]any](t, resp)
	token, _ := login["token"].(string)
	if token == "" {
		t.Fatalf("login body = %v", login)
	}
	if _, ok := login["mfaRequired"]; !ok {
		t.Fatalf("login body = %v", login)
	}
	if _, ok := login["expiresAt"]; !ok {
		t.Fatalf("login body = %v", login)
	}

	resp = c.do(http.MethodGet, "/auth/me", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me = %d, want 200", resp.StatusCode)
	}
	me := decodeBody[map[string]any](t, resp)
	if me["email"] != "alice@example.edu" {
		t.Fatalf("me body = %v", me)
	}

	resp = c.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.edu",
		"password": "wrong",
	}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMFASetupChangesLoginToPending(t *testing.T) {
	c := newTestAPI(t, auth.WithoutBootstrapAdmin())
	_, token := c.loginUser("alice@example.edu", "s3cret")

	resp := c.do(http.MethodPost, "/auth/mfa/setup", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mfa setup = %d, want 200", resp.StatusCode)
	}
	enrollment := decodeBody[map[string]any](t, resp)
	if enrollment["secret"] == "" || enrollment["otpauthUrl"] == "" {
		t.Fatalf("enrollment = %v", enrollment)
	}

	resp = c.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.edu",
		"password": "s3cret",
	}, "")
	login := decodeBody[map[string]any](t, resp)
	if login["mfaRequired"] != true {
		t.Fatalf("login after setup = %v", login)
	}
	pending, _ := login["pendingToken"].(string)
	if pending == "" {
		t.Fatal("no pending token issued")
	}

	// A pending token is not a bearer credential.
	resp = c.do(http.MethodGet, "/auth/me", nil, pending)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me with pending token = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// A wrong code keeps the challenge open.
	resp = c.do(http.MethodPost, "/auth/mfa/verify", map[string]string{
		"pendingToken": pending,
		"code":         "000000",
	}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong code = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVocabularyWritesAreAdminOnly(t *testing.T) {
	c := newTestAPI(t)
	if err := c.store.CreateRole(context.Background(), &auth.Role{Name: "admin"}); err != nil {
		t.Fatalf("seed admin role: %v", err)
	}

	// First login wins the bootstrap grant; the second user stays plain.
	_, adminToken := c.loginUser("root@example.edu", "pw")
	_, plainToken := c.loginUser("user@example.edu", "pw")

	body := map[string]string{"name": "enrollments", "description": "Course enrollments"}

	resp := c.do(http.MethodPost, "/rbac/resources", body, plainToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin create = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/rbac/resources", body, adminToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin create = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	// Reads are open to any authenticated subject.
	resp = c.do(http.MethodGet, "/rbac/resources", nil, plainToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read = %d, want 200", resp.StatusCode)
	}
	listed := decodeBody[[]map[string]any](t, resp)
	if len(listed) != 1 || listed[0]["name"] != "enrollments" {
		t.Fatalf("listed = %v", listed)
	}
}

func TestSelfUpdateBypassAndItsLimits(t *testing.T) {
	c := newTestAPI(t, auth.WithoutBootstrapAdmin())
	aliceID, aliceToken := c.loginUser("alice@example.edu", "pw")
	bobID, _ := c.loginUser("bob@example.edu", "pw")

	resp := c.do(http.MethodPut, "/auth/users/"+aliceID, map[string]string{
		"email": "alice+new@example.edu",
	}, aliceToken)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("self update = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/auth/users/"+bobID, map[string]string{
		"email": "bob+hacked@example.edu",
	}, aliceToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user update = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// Deletion has no self bypass.
	resp = c.do(http.MethodDelete, "/auth/users/"+aliceID, nil, aliceToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("self delete = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHasPermissionAndPermissionMap(t *testing.T) {
	c := newTestAPI(t, auth.WithoutBootstrapAdmin())
	ctx := context.Background()

	userID, token := c.loginUser("carol@example.edu", "pw")

	role := &auth.Role{Name: "registrar"}
	res := &auth.Resource{Name: "enrollments"}
	op := &auth.Operation{Name: "create"}
	for _, err := range []error{
		c.store.CreateRole(ctx, role),
		c.store.CreateResource(ctx, res),
		c.store.CreateOperation(ctx, op),
		c.store.AssignRole(ctx, userID, role.ID),
		c.store.GrantPermission(ctx, &auth.RolePermission{RoleID: role.ID, ResourceID: res.ID, OperationID: op.ID}),
	} {
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	resp := c.do(http.MethodGet, "/auth/has-permission?resource=enrollments&operation=create", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("has-permission = %d", resp.StatusCode)
	}
	verdict := decodeBody[map[string]bool](t, resp)
	if !verdict["allowed"] {
		t.Fatalf("verdict = %v", verdict)
	}

	// POST with a JSON body answers the same question.
	resp = c.do(http.MethodPost, "/auth/has-permission", map[string]string{
		"resource":  "enrollments",
		"operation": "create",
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("has-permission via POST = %d", resp.StatusCode)
	}
	verdict = decodeBody[map[string]bool](t, resp)
	if !verdict["allowed"] {
		t.Fatalf("POST verdict = %v", verdict)
	}

	resp = c.do(http.MethodPost, "/auth/has-permission", map[string]string{
		"resource":  "enrollments",
		"operation": "delete",
	}, token)
	verdict = decodeBody[map[string]bool](t, resp)
	if verdict["allowed"] {
		t.Fatalf("ungranted verdict = %v", verdict)
	}

	resp = c.do(http.MethodGet, "/auth/permissions", nil, token)
	perms := decodeBody[map[string]any](t, resp)
	if perms["admin"] != false {
		t.Fatalf("permission map = %v", perms)
	}
	granted, _ := perms["permissions"].([]any)
	if len(granted) != 1 {
		t.Fatalf("grants = %v", granted)
	}
}

func TestMethodNotAllowedAndUnknownRoutes(t *testing.T) {
	c := newTestAPI(t, auth.WithoutBootstrapAdmin())

	resp := c.do(http.MethodGet, "/auth/register", nil, "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /auth/register = %d, want 405", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != "POST" {
		t.Fatalf("Allow = %q", allow)
	}
	resp.Body.Close()

	// Unknown paths are protected like everything else, then 404.
	resp = c.do(http.MethodGet, "/nope", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /nope without token = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	_, token := c.loginUser("dave@example.edu", "pw")
	resp = c.do(http.MethodGet, "/nope", nil, token)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /nope = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMFAToggleDefaultsToSelf(t *testing.T) {
	c := newTestAPI(t, auth.WithoutBootstrapAdmin())
	_, token := c.loginUser("erin@example.edu", "pw")

	// Enable the caller's own MFA without naming a target.
	resp := c.do(http.MethodPost, "/auth/mfa/setup", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mfa setup = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/auth/mfa/toggle", map[string]any{
		"enable": false,
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("self toggle = %d, want 200", resp.StatusCode)
	}
	user := decodeBody[map[string]any](t, resp)
	if user["isMfaEnabled"] != false {
		t.Fatalf("toggled user = %v", user)
	}

	// Naming somebody else still needs a grant.
	otherID, _ := c.loginUser("frank@example.edu", "pw")
	resp = c.do(http.MethodPost, "/auth/mfa/toggle", map[string]any{
		"userId": otherID,
		"enable": false,
	}, token)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user toggle = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}
