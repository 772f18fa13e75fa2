package application

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kraikub/katrade-accounts/internal/auth"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

type fixture struct {
	svc    *Service
	jwt    *auth.JWT
	router *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j, err := auth.NewJWT("handler-test-secret-123", "katrade-test", time.Hour)
	require.NoError(t, err)
	svc := newService(t, nil)
	authMw := auth.NewMiddleware(j)
	h := NewHandler(svc, authMw, zap.NewNop().Sugar())

	r := mux.NewRouter()
	api := r.PathPrefix("/api/app").Subrouter()
	api.Handle("", authMw.RequireSession(http.HandlerFunc(h.Create))).Methods(http.MethodPost)
	api.Handle("", authMw.RequireSession(http.HandlerFunc(h.List))).Methods(http.MethodGet)
	api.Handle("/has-name", authMw.RequireSession(http.HandlerFunc(h.HasName))).Methods(http.MethodGet)
	api.HandleFunc("/{clientId}", h.Resource)
	return &fixture{svc: svc, jwt: j, router: r}
}

func (f *fixture) do(t *testing.T, method, path, uid string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if uid != "" {
		token, _, err := f.jwt.Issue(auth.IssueParams{UID: uid, Scope: "openid"})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestResourceRequiresAuth(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodGet, "/api/app/xyz", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Unauthorized", env.Message)
}

func TestResourceRejectsClientToken(t *testing.T) {
	f := newFixture(t)
	created := createApp(t, f.svc, "owner", "mine")
	token, _, err := f.jwt.Issue(auth.IssueParams{UID: "owner", Scope: "openid", ClientID: "third-party"})
	require.NoError(t, err)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/app/"+created.ClientID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, method)
	}

	_, err = f.svc.Get(context.Background(), created.ClientID)
	assert.NoError(t, err, "application survives")
}

func TestResourceMissingClientID(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, auth.NewMiddleware(f.jwt), zap.NewNop().Sugar())
	token, _, err := f.jwt.Issue(auth.IssueParams{UID: "owner"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/app/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.Resource(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Require clientId.")
}

func TestResourceGet(t *testing.T) {
	f := newFixture(t)
	created := createApp(t, f.svc, "owner", "app")

	rec, env := f.do(t, http.MethodGet, "/api/app/unknown", "owner", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "null", string(env.Payload))

	rec, env = f.do(t, http.MethodGet, "/api/app/"+created.ClientID, "someone-else", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Not the application owner.", env.Message)

	rec, env = f.do(t, http.MethodGet, "/api/app/"+created.ClientID, "owner", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var app map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &app))
	assert.Equal(t, created.ClientID, app["clientId"])
	assert.NotContains(t, app, "clientSecret")
}

// PUT by the owner.
func TestResourcePutByOwner(t *testing.T) {
	f := newFixture(t)
	created := createApp(t, f.svc, "owner", "app")

	rec, env := f.do(t, http.MethodPut, "/api/app/"+created.ClientID, "owner", map[string]string{"appDescription": "new"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "Update complete", env.Message)
	var app map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &app))
	assert.Equal(t, "new", app["appDescription"])
	assert.Equal(t, "https://app.example/cb", app["callbackUrl"])
}

func TestResourcePutFailures(t *testing.T) {
	f := newFixture(t)
	created := createApp(t, f.svc, "owner", "app")

	rec, env := f.do(t, http.MethodPut, "/api/app/"+created.ClientID, "intruder", map[string]string{"appDescription": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, env.Success)

	rec, _ = f.do(t, http.MethodPut, "/api/app/missing", "owner", map[string]string{"appDescription": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPut, "/api/app/"+created.ClientID, "owner", map[string]string{"callbackUrl": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// DELETE by a non-owner, then by the owner.
func TestResourceDelete(t *testing.T) {
	f := newFixture(t)
	created := createApp(t, f.svc, "owner", "app")

	rec, env := f.do(t, http.MethodDelete, "/api/app/"+created.ClientID, "intruder", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, env.Success)

	rec, env = f.do(t, http.MethodDelete, "/api/app/"+created.ClientID, "owner", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Delete complete", env.Message)
	assert.Equal(t, "null", string(env.Payload))
}

func TestResourceOtherMethod(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodPatch, "/api/app/xyz", "owner", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed.", env.Message)
}

func TestCreateListHasName(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/app", "owner", map[string]string{
		"appName":     "Shiny",
		"callbackUrl": "https://shiny.example/cb",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &created))
	assert.NotEmpty(t, created["clientSecret"])
	assert.Equal(t, "owner", created["ownerId"])

	rec, _ = f.do(t, http.MethodPost, "/api/app", "other", map[string]string{
		"appName":     "Shiny",
		"callbackUrl": "https://shiny.example/cb",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, env = f.do(t, http.MethodGet, "/api/app", "owner", nil)
	var apps []map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, "Shiny", apps[0]["appName"])

	_, env = f.do(t, http.MethodGet, "/api/app/has-name?name=Shiny", "owner", nil)
	assert.Equal(t, "true", string(env.Payload))
	rec, _ = f.do(t, http.MethodGet, "/api/app/has-name", "owner", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
