package router

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kraikub/katrade-accounts/internal/application"
	"github.com/kraikub/katrade-accounts/internal/auth"
	"github.com/kraikub/katrade-accounts/internal/mail"
	"github.com/kraikub/katrade-accounts/internal/oauth"
	"github.com/kraikub/katrade-accounts/internal/signin"
	"github.com/kraikub/katrade-accounts/internal/user"
	"github.com/kraikub/katrade-accounts/pkg/database/dbtest"
)

const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

func sha256sum(v string) string {
	sum := sha256.Sum256([]byte(v))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

type testServer struct {
	*httptest.Server
	jwt   *auth.JWT
	mails chan map[string]string
}

func newServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	logger := zap.NewNop().Sugar()

	mails := make(chan map[string]string, 4)
	mailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mails <- body
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(mailSrv.Close)
	mailer, err := mail.NewService(mailSrv.URL, nil)
	require.NoError(t, err)

	db := dbtest.Open(t)
	j, err := auth.NewJWT("router-test-secret-123", "katrade-test", time.Hour)
	require.NoError(t, err)
	authMw := auth.NewMiddleware(j)
	users := user.NewUserService(db, user.BcryptHasher{Cost: bcrypt.MinCost}, mailer, logger)
	apps := application.NewService(db, users, 3)
	oauthSvc := oauth.NewService(db, apps, users, j, 10*time.Minute)

	h := RegisterRoutes(logger, Deps{
		Auth:          authMw,
		Applications:  application.NewHandler(apps, authMw, logger),
		OAuth:         oauth.NewHandler(oauthSvc, logger),
		Users:         user.NewHandler(users, logger),
		SigninLimiter: limiter,
		Ping:          db.PingContext,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, jwt: j, mails: mails}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

func (s *testServer) call(t *testing.T, method, path, token string, body any) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func (s *testServer) token(t *testing.T, uid string) string {
	t.Helper()
	tok, _, err := s.jwt.Issue(auth.IssueParams{UID: uid})
	require.NoError(t, err)
	return tok
}

func TestHealthAndMiddleware(t *testing.T) {
	s := newServer(t, nil)

	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "given-id", resp.Header.Get(RequestIDHeader))

	resp, env := s.call(t, http.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.Success)
}

func TestApplicationRoutes(t *testing.T) {
	s := newServer(t, nil)
	owner := s.token(t, "owner-1")

	resp, env := s.call(t, http.MethodGet, "/api/app", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized", env.Message)

	resp, env = s.call(t, http.MethodPost, "/api/app", owner, map[string]string{
		"appName":     "demo",
		"callbackUrl": "https://app.example/cb",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Message)
	var created struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &created))
	assert.NotEmpty(t, created.ClientSecret)

	_, env = s.call(t, http.MethodGet, "/api/app/has-name?name=demo", owner, nil)
	assert.Equal(t, "true", string(env.Payload))

	resp, env = s.call(t, http.MethodPut, "/api/app/"+created.ClientID, owner, map[string]string{"appDescription": "hello"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Update complete", env.Message)

	resp, env = s.call(t, http.MethodDelete, "/api/app/"+created.ClientID, s.token(t, "intruder"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, env.Success)

	resp, env = s.call(t, http.MethodPatch, "/api/app/"+created.ClientID, owner, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "Method not allowed.", env.Message)

	resp, env = s.call(t, http.MethodDelete, "/api/app/"+created.ClientID, owner, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Delete complete", env.Message)
}

func TestClientTokenIsNotASession(t *testing.T) {
	s := newServer(t, nil)
	owner := s.token(t, "owner-1")
	_, env := s.call(t, http.MethodPost, "/api/app", owner, map[string]string{
		"appName":     "mine",
		"callbackUrl": "https://mine.example/cb",
	})
	require.True(t, env.Success, env.Message)
	var created struct {
		ClientID string `json:"clientId"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &created))

	clientTok, _, err := s.jwt.Issue(auth.IssueParams{UID: "owner-1", Scope: "openid", ClientID: "some-third-party"})
	require.NoError(t, err)

	resp, env := s.call(t, http.MethodDelete, "/api/app/"+created.ClientID, clientTok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, env.Success)
	for _, path := range []string{"/api/app", "/api/user", "/api/auth/consent?client_id=" + created.ClientID} {
		resp, _ = s.call(t, http.MethodGet, path, clientTok, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
	}
	resp, _ = s.call(t, http.MethodPost, "/api/app", clientTok, map[string]string{"appName": "sneaky", "callbackUrl": "https://x.example/cb"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, env = s.call(t, http.MethodPost, "/api/auth/signin", clientTok, map[string]any{
		"clientId":       created.ClientID,
		"scope":          "openid",
		"response_type":  "code",
		"code_challenge": "plain-challenge",
		"options":        map[string]string{"signin_method": "credential"},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, env.Success)

	// the owner's session still works and the app is untouched
	resp, _ = s.call(t, http.MethodGet, "/api/app/"+created.ClientID, owner, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSigninRateLimit(t *testing.T) {
	s := newServer(t, NewRateLimiter(2))
	body := map[string]string{"username": "nobody"}
	for i := 0; i < 2; i++ {
		resp, _ := s.call(t, http.MethodPost, "/api/auth/signin-signature", "", body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, env := s.call(t, http.MethodPost, "/api/auth/signin-signature", "", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.False(t, env.Success)

	// other route groups are not limited
	resp, _ = s.call(t, http.MethodGet, "/api/user", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(60)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	for i := 0; i < 60; i++ {
		require.True(t, rl.Allow("10.0.0.1"))
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
}

// Signup, verify, sign in through the client flow, exchange the code and
// come back as the session user.
func TestSigninEndToEnd(t *testing.T) {
	s := newServer(t, NewRateLimiter(100))
	ctx := context.Background()

	resp, env := s.call(t, http.MethodPost, "/api/user/signup", "", map[string]string{
		"username":      "alice",
		"password":      "correct-horse",
		"personalEmail": "alice@example.com",
		"name":          "Alice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Message)

	var sent map[string]string
	select {
	case sent = <-s.mails:
	case <-time.After(5 * time.Second):
		t.Fatal("verification email was not sent")
	}
	assert.Equal(t, "alice@example.com", sent["to"])
	assert.Equal(t, "en", sent["lang"])
	resp, env = s.call(t, http.MethodPost, "/api/user/verify-email", "", map[string]string{"email": "alice@example.com", "code": sent["code"]})
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Message)

	_, env = s.call(t, http.MethodPost, "/api/app", s.token(t, "owner-1"), map[string]string{
		"appName":     "demo",
		"callbackUrl": "https://app.example/cb",
	})
	var app struct {
		ClientID string `json:"clientId"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &app))

	sum := sha256sum(verifier)
	q, err := signin.ParseQueryString(s.URL + "/signin?" + url.Values{
		"client_id":             {app.ClientID},
		"scope":                 {"openid personal_email"},
		"state":                 {"st-9"},
		"redirect_uri":          {"https://app.example/cb"},
		"response_type":         {"code"},
		"code_challenge":        {sum},
		"code_challenge_method": {"S256"},
	}.Encode())
	require.NoError(t, err)

	store := signin.FileTokenStore{Path: filepath.Join(t.TempDir(), "token.json")}
	client := signin.NewAPIClient(s.URL, nil, store)

	var navigated string
	var notices []*signin.Error
	f := signin.New(signin.Options{
		Query:     q,
		Device:    signin.DeviceConfig{CookieConsent: true, Lang: true},
		Auth:      client,
		Users:     client,
		Navigator: signin.NavigatorFunc(func(u string) error { navigated = u; return nil }),
		Notifier:  signin.NotifierFunc(func(e *signin.Error) { notices = append(notices, e) }),
		Delay:     time.Millisecond,
	})
	require.NoError(t, f.Mount(ctx))
	require.Equal(t, signin.FormStep, f.State())

	require.NoError(t, f.Submit(ctx, "alice", "wrong-password"))
	require.NoError(t, f.Accept(ctx))
	require.True(t, f.PDPAOpen(), "first sign-in asks for PDPA agreement")
	assert.Error(t, f.AgreePDPA(ctx))
	assert.Equal(t, signin.FormStep, f.State())
	require.Len(t, notices, 1)
	assert.Equal(t, signin.FailureMessage, notices[0].Message)

	require.NoError(t, f.Submit(ctx, "alice", "correct-horse"))
	require.NoError(t, f.Accept(ctx))
	require.NoError(t, f.AgreePDPA(ctx))
	require.Equal(t, signin.Completed, f.State())

	u, err := url.Parse(navigated)
	require.NoError(t, err)
	assert.Equal(t, "app.example", u.Host)
	assert.Equal(t, "st-9", u.Query().Get("state"))
	code := u.Query().Get("code")
	require.NotEmpty(t, code)

	tok, err := client.Exchange(ctx, app.ClientID, code, "https://app.example/cb", verifier)
	require.NoError(t, err)
	assert.Equal(t, "openid personal_email", tok.Scope)
	_, err = client.Exchange(ctx, app.ClientID, code, "https://app.example/cb", verifier)
	assert.ErrorContains(t, err, "invalid_grant", "codes are single use")

	resp, _ = s.call(t, http.MethodGet, "/api/user", tok.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "client tokens do not open the portal")

	resp, env = s.call(t, http.MethodGet, "/api/user/info", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &info))
	assert.Equal(t, "alice", info["username"])
	assert.Equal(t, "alice@example.com", info["personalEmail"])
	assert.NotContains(t, info, "student")

	// With a stored session the next flow offers the active user and
	// hands the code to the SDK callback.
	var sdkCode string
	again := signin.New(signin.Options{
		Query:            q,
		Device:           signin.DeviceConfig{CookieConsent: true, Lang: true},
		Auth:             client,
		Users:            client,
		OnSigninComplete: func(c string) { sdkCode = c },
		Navigator:        signin.NavigatorFunc(func(string) error { t.Fatal("no navigation in SDK mode"); return nil }),
	})
	require.NoError(t, again.Mount(ctx))
	require.Equal(t, signin.UserSelect, again.State())
	assert.Equal(t, "alice", again.ActiveUser().Username)
	require.NoError(t, again.Proceed(ctx))
	assert.NotEmpty(t, sdkCode)
	assert.NotEqual(t, code, sdkCode)
}
