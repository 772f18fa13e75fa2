package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-0123456789"

func newJWT(t *testing.T) *JWT {
	t.Helper()
	j, err := NewJWT(testSecret, "katrade-test", time.Hour)
	require.NoError(t, err)
	return j
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAuthenticateMissingHeader(t *testing.T) {
	m := NewMiddleware(newJWT(t))
	rec := httptest.NewRecorder()

	res := m.Authenticate(rec, httptest.NewRequest(http.MethodGet, "/api/app/x", nil))

	assert.False(t, res.Success)
	assert.Equal(t, AccessTokenBody{}, res.Payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := envelope(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Unauthorized", body["message"])
}

func TestAuthenticateInvalidToken(t *testing.T) {
	m := NewMiddleware(newJWT(t))
	for _, header := range []string{"Bearer not-a-jwt", "Bearer", "garbage", "Bearer  "} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)

		res := m.Authenticate(rec, req)

		assert.False(t, res.Success, header)
		assert.Equal(t, AccessTokenBody{}, res.Payload, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Contains(t, envelope(t, rec)["message"], "Unauthorized: ", header)
	}
}

func TestAuthenticateWrongSecret(t *testing.T) {
	other, err := NewJWT("another-secret-0123456789", "katrade-test", time.Hour)
	require.NoError(t, err)
	token, _, err := other.Issue(IssueParams{UID: "u1"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	assert.False(t, NewMiddleware(newJWT(t)).Authenticate(rec, req).Success)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	j := newJWT(t)
	j.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := j.Issue(IssueParams{UID: "u1"})
	require.NoError(t, err)

	ok, payload, msg := newJWT(t).Verify(token)
	assert.False(t, ok)
	assert.Nil(t, payload)
	assert.Contains(t, msg, "expired")
}

func TestAuthenticateValidToken(t *testing.T) {
	j := newJWT(t)
	token, exp, err := j.Issue(IssueParams{UID: "u1", StdID: "6210500000", Scope: "openid student", ClientID: "client-1"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	_, verified, _ := j.Verify(token)
	require.NotNil(t, verified)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := NewMiddleware(j).Authenticate(rec, req)

	require.True(t, res.Success)
	assert.Equal(t, *verified, res.Payload)
	assert.Equal(t, "u1", res.Payload.UID)
	assert.Equal(t, "6210500000", res.Payload.StdID)
	assert.Equal(t, "openid student", res.Payload.Scope)
	assert.Equal(t, "client-1", res.Payload.ClientID)
	assert.NotEmpty(t, res.Payload.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestRequireStoresClaims(t *testing.T) {
	j := newJWT(t)
	token, _, err := j.Issue(IssueParams{UID: "u9"})
	require.NoError(t, err)

	var got AccessTokenBody
	h := NewMiddleware(j).Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "u9", got.UID)

	called := false
	h = NewMiddleware(j).Require(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateTakesSecondField(t *testing.T) {
	j := newJWT(t)
	token, _, err := j.Issue(IssueParams{UID: "u1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token+" trailing")
	assert.True(t, NewMiddleware(j).Authenticate(httptest.NewRecorder(), req).Success)
}

func TestRequireSessionRejectsClientToken(t *testing.T) {
	j := newJWT(t)
	session, _, err := j.Issue(IssueParams{UID: "u1"})
	require.NoError(t, err)
	client, _, err := j.Issue(IssueParams{UID: "u1", Scope: "openid", ClientID: "third-party"})
	require.NoError(t, err)

	called := 0
	h := NewMiddleware(j).RequireSession(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called++ }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+client)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, 0, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, envelope(t, rec)["success"])

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+session)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, 1, called)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
