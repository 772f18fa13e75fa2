package signin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	userentity "github.com/kraikub/katrade-accounts/internal/user/entity"
)

// TokenKey is the name the access token is stored under.
const TokenKey = "access"

// TokenStore persists the portal session token between runs.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// FileTokenStore keeps tokens in a small JSON file, {"access": "..."}.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Load() (string, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return "", fmt.Errorf("read token file %s: %w", s.Path, err)
	}
	return m[TokenKey], nil
}

func (s FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(map[string]string{TokenKey: token})
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, b, 0o600)
}

func (s FileTokenStore) Clear() error {
	err := os.Remove(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

// APIClient talks to the accounts API and implements AuthService and
// UserService.
type APIClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
}

// NewAPIClient builds a client for baseURL. A nil httpClient gets a 10
// second timeout; tokens may be nil when no session is kept.
func NewAPIClient(baseURL string, httpClient *http.Client, tokens TokenStore) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, tokens: tokens}
}

func (c *APIClient) token() string {
	if c.tokens == nil {
		return ""
	}
	t, err := c.tokens.Load()
	if err != nil {
		return ""
	}
	return t
}

func (c *APIClient) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response (%s): %w", method, path, resp.Status, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, env.Message)
	}
	if out != nil {
		return json.Unmarshal(env.Payload, out)
	}
	return nil
}

func (c *APIClient) ValidateSigninSignature(ctx context.Context, username string) (bool, error) {
	var out struct {
		ValidateResult bool `json:"validateResult"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/signin-signature", map[string]string{"username": username}, "", &out)
	return out.ValidateResult, err
}

// Signin posts the sign-in request. The stored session token is attached
// for the credential method, and a new one from a password sign-in is
// stored.
func (c *APIClient) Signin(ctx context.Context, req Request) (*Result, error) {
	var bearer string
	if req.Options != nil && req.Options.SigninMethod == methodCredential {
		bearer = c.token()
	}
	var res Result
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", req, bearer, &res); err != nil {
		return nil, err
	}
	if res.SessionToken != "" && c.tokens != nil {
		if err := c.tokens.Save(res.SessionToken); err != nil {
			return nil, fmt.Errorf("store session token: %w", err)
		}
	}
	return &res, nil
}

// Current returns the session user, or nil when no token is stored.
func (c *APIClient) Current(ctx context.Context) (*userentity.FullUserData, error) {
	token := c.token()
	if token == "" {
		return nil, nil
	}
	var u userentity.FullUserData
	if err := c.do(ctx, http.MethodGet, "/api/user", nil, token, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Token is the response of the token endpoint.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Exchange trades an authorization code for an access token. The token
// belongs to the client and is not kept as the session.
func (c *APIClient) Exchange(ctx context.Context, clientID, code, redirectURI, verifier string) (*Token, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return nil, fmt.Errorf("token exchange: %s: %s %s", resp.Status, e.Error, e.Description)
	}
	var t Token
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("token exchange: decode: %w", err)
	}
	return &t, nil
}
