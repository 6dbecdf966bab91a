package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/vaultkeeper/internal/engine"
	"github.com/starford/vaultkeeper/internal/noteservice"
	"github.com/starford/vaultkeeper/internal/query"
	"github.com/starford/vaultkeeper/internal/router"
	"github.com/starford/vaultkeeper/internal/testutil"
)

// testEnv sets up a temp vault, SQLite DB, engine and router for testing.
// A non-empty authToken enables token mode.
func testEnv(t *testing.T, authToken string) (*testutil.Env, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*testutil.Env, http.Handler) {
	t.Helper()
	env := testutil.NewEnv(t)
	eng := engine.New(env.Store, env.DB, &testutil.FakeCapability{}, nil, engine.Settings{SelfEntity: "Me"}, testutil.Quiet())
	return env, NewRouter(noteservice.NewService(eng), authEnabled, token, sseHandler)
}

func post(t *testing.T, h http.Handler, path, text string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"text": text})
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestUtteranceRemembers(t *testing.T) {
	env, h := testEnv(t, "")

	w := post(t, h, "/utterances", "Michael likes flowers")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp router.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Kind != router.KindRemembered {
		t.Errorf("kind = %q, want %q", resp.Kind, router.KindRemembered)
	}
	if got := env.Files(t); len(got) != 1 || got[0] != "michael.md" {
		t.Errorf("files = %v, want [michael.md]", got)
	}
}

func TestUtteranceValidation(t *testing.T) {
	_, h := testEnv(t, "")

	if w := post(t, h, "/utterances", ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty text = %d, want 400", w.Code)
	}
	if w := post(t, h, "/utterances", strings.Repeat("a", maxUtteranceLen+1)); w.Code != http.StatusBadRequest {
		t.Errorf("long text = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/utterances", strings.NewReader("{"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid json = %d, want 400", w.Code)
	}
}

func TestAskUnknownEntityWritesNothing(t *testing.T) {
	env, h := testEnv(t, "")

	w := post(t, h, "/ask", "what do I know about Melanie?")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp router.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Text != query.NoInformation {
		t.Errorf("text = %q, want %q", resp.Text, query.NoInformation)
	}
	if files := env.Files(t); len(files) != 0 {
		t.Errorf("query created files: %v", files)
	}
}

func TestRememberEndpointSkipsClassification(t *testing.T) {
	_, h := testEnv(t, "")

	w := post(t, h, "/remember", "I like cookies")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp router.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Kind != router.KindRemembered {
		t.Errorf("kind = %q, want %q", resp.Kind, router.KindRemembered)
	}
}

func TestEntityEndpoints(t *testing.T) {
	_, h := testEnv(t, "")
	post(t, h, "/utterances", "my sister is Anna")
	post(t, h, "/utterances", "Anna lives in Paris")

	w := get(h, "/entities")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list EntityListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	// Me, Anna and Paris.
	if list.Total != 3 {
		t.Errorf("total = %d, want 3", list.Total)
	}

	w = get(h, "/entities/anna")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var detail EntityDetail
	_ = json.Unmarshal(w.Body.Bytes(), &detail)
	if detail.Name != "Anna" {
		t.Errorf("name = %q, want Anna", detail.Name)
	}
	if len(detail.Facts["lives_in"]) != 1 {
		t.Errorf("lives_in = %v", detail.Facts["lives_in"])
	}
	if len(detail.Backlinks) != 1 || detail.Backlinks[0].Entity != "me" {
		t.Errorf("backlinks = %v, want one from me", detail.Backlinks)
	}

	w = get(h, "/entities/anna/about")
	if w.Code != http.StatusOK {
		t.Fatalf("about status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Anna lives in Paris") {
		t.Errorf("about body = %s", w.Body.String())
	}

	w = get(h, "/entities/anna/backlinks")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"entity":"me"`) {
		t.Errorf("backlinks = %d %s", w.Code, w.Body.String())
	}
}

func TestGetEntity_NotFound(t *testing.T) {
	_, h := testEnv(t, "")

	if w := get(h, "/entities/nope"); w.Code != http.StatusNotFound {
		t.Errorf("missing entity = %d, want 404", w.Code)
	}
	if w := get(h, "/entities/..%2Fsecret"); w.Code != http.StatusNotFound {
		t.Errorf("traversal = %d, want 404", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, h := testEnv(t, "")
	post(t, h, "/utterances", "Michael likes flowers")

	w := get(h, "/search?q=flowers")
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) == 0 || resp.Results[0].ID != "michael" {
		t.Errorf("results = %+v, want michael first", resp.Results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, h := testEnv(t, "")

	if w := get(h, "/search"); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestGraphEndpoint(t *testing.T) {
	_, h := testEnv(t, "")
	post(t, h, "/utterances", "my sister is Anna")

	w := get(h, "/graph")
	if w.Code != http.StatusOK {
		t.Fatalf("graph status = %d", w.Code)
	}
	var g GraphResponse
	_ = json.Unmarshal(w.Body.Bytes(), &g)
	if len(g.Nodes) != 2 {
		t.Errorf("nodes = %d, want 2", len(g.Nodes))
	}
	if len(g.Links) != 1 || g.Links[0].Source != "me" || g.Links[0].Target != "anna" {
		t.Errorf("links = %+v, want me -> anna", g.Links)
	}
}

func TestRepairEndpoint(t *testing.T) {
	_, h := testEnv(t, "")
	post(t, h, "/utterances", "my sister is Anna")

	req := httptest.NewRequest(http.MethodPost, "/repair", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("repair status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"added":0`) {
		t.Errorf("consistent vault should need no repair: %s", w.Body.String())
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, h := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"text": "Michael likes flowers"})
	req := httptest.NewRequest(http.MethodPost, "/utterances", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed utterance = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, h := testEnv(t, "secret123")

	if w := get(h, "/entities"); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, h := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/entities", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, h := testEnv(t, "")

	if w := get(h, "/entities"); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context ends.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, h := testEnvWithSSE(t, true, "secret", blockingSSE)

	if w := get(h, "/events"); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, h := testEnvWithSSE(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
