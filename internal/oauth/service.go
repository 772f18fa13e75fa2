package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kraikub/katrade-accounts/internal/application"
	appentity "github.com/kraikub/katrade-accounts/internal/application/entity"
	"github.com/kraikub/katrade-accounts/internal/auth"
	"github.com/kraikub/katrade-accounts/internal/oauth/repo"
	"github.com/kraikub/katrade-accounts/internal/scope"
	"github.com/kraikub/katrade-accounts/internal/user"
	userentity "github.com/kraikub/katrade-accounts/internal/user/entity"
	"github.com/kraikub/katrade-accounts/pkg/utilities"
)

const (
	MethodPlain = "plain"
	MethodS256  = "S256"

	signinMethodCredential = "credential"
)

// Error is an OAuth-style failure carrying the HTTP status to answer with.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

func newError(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

// Clients looks up registered applications.
type Clients interface {
	Get(ctx context.Context, clientID string) (*appentity.Application, error)
}

// Users is the part of the user service sign-in relies on.
type Users interface {
	AuthenticatePassword(ctx context.Context, identifier, password string) (*userentity.User, error)
	GetUser(ctx context.Context, uid string) (*userentity.User, error)
	HasAcceptedPDPA(ctx context.Context, identifier string) (bool, error)
	AcceptPDPA(ctx context.Context, uid string) error
}

// Tokens verifies session tokens and mints access tokens.
type Tokens interface {
	auth.Verifier
	Issue(p auth.IssueParams) (string, time.Time, error)
}

// Service implements sign-in, consent bookkeeping and the code exchange.
type Service struct {
	codes    *repo.CodeRepo
	consents *repo.ConsentRepo
	clients  Clients
	users    Users
	tokens   Tokens
	codeTTL  time.Duration
	now      func() time.Time
}

func NewService(db *sqlx.DB, clients Clients, users Users, tokens Tokens, codeTTL time.Duration) *Service {
	if codeTTL <= 0 {
		codeTTL = 10 * time.Minute
	}
	return &Service{
		codes:    repo.NewCodeRepo(db),
		consents: repo.NewConsentRepo(db),
		clients:  clients,
		users:    users,
		tokens:   tokens,
		codeTTL:  codeTTL,
		now:      time.Now,
	}
}

// ValidateSigninSignature reports whether username can skip the PDPA
// interstitial.
func (s *Service) ValidateSigninSignature(ctx context.Context, username string) (bool, error) {
	if strings.TrimSpace(username) == "" {
		return false, nil
	}
	return s.users.HasAcceptedPDPA(ctx, username)
}

// Signin authenticates the user for a client and issues an authorization
// code. bearer is only used when the credential sign-in method is requested.
func (s *Service) Signin(ctx context.Context, req SigninRequest, bearer string) (*SigninResult, error) {
	if req.ClientID == "" {
		return nil, newError("invalid_request", "clientId is required", http.StatusBadRequest)
	}
	app, err := s.clients.Get(ctx, req.ClientID)
	if errors.Is(err, application.ErrNotFound) {
		return nil, newError("invalid_client", "unknown client", http.StatusNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	if req.ResponseType != "code" {
		return nil, newError("unsupported_response_type", "response_type must be code", http.StatusBadRequest)
	}
	if !scope.IsValidScope(req.Scope) {
		return nil, newError("invalid_scope", "scope is invalid", http.StatusBadRequest)
	}
	method, err := challengeMethod(req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return nil, err
	}
	redirect, err := s.redirectFor(app, req)
	if err != nil {
		return nil, err
	}

	u, err := s.identify(ctx, req, bearer)
	if err != nil {
		return nil, err
	}

	if err := s.users.AcceptPDPA(ctx, u.UID); err != nil {
		return nil, fmt.Errorf("record pdpa agreement: %w", err)
	}
	now := s.now().UTC()
	if err := s.consents.Upsert(ctx, &repo.ConsentRow{
		ID:        uuid.NewString(),
		UID:       u.UID,
		ClientID:  app.ClientID,
		Scope:     req.Scope,
		GrantedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("record consent: %w", err)
	}

	code, err := utilities.RandomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	if err := s.codes.Save(ctx, &repo.CodeRow{
		Code:                code,
		ClientID:            app.ClientID,
		UID:                 u.UID,
		Scope:               req.Scope,
		RedirectURI:         redirect,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(s.codeTTL),
		CreatedAt:           now,
	}); err != nil {
		return nil, fmt.Errorf("save code: %w", err)
	}

	target, err := withCode(redirect, code, req.State)
	if err != nil {
		return nil, err
	}
	res := &SigninResult{Code: code, URL: target}
	if req.Options.SigninMethod != signinMethodCredential {
		// the portal keeps this for the next UserSelect; the client only sees the code
		res.SessionToken, _, err = s.tokens.Issue(auth.IssueParams{UID: u.UID, StdID: u.StdID})
		if err != nil {
			return nil, fmt.Errorf("issue session: %w", err)
		}
	}
	return res, nil
}

func (s *Service) identify(ctx context.Context, req SigninRequest, bearer string) (*userentity.User, error) {
	if req.Options.SigninMethod == signinMethodCredential {
		ok, claims, msg := s.tokens.Verify(bearer)
		if !ok {
			return nil, newError("access_denied", "invalid session: "+msg, http.StatusUnauthorized)
		}
		if !claims.IsSession() {
			return nil, newError("access_denied", "client access tokens cannot start a sign-in", http.StatusForbidden)
		}
		u, err := s.users.GetUser(ctx, claims.UID)
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, newError("access_denied", "session user not found", http.StatusUnauthorized)
		}
		return u, err
	}

	u, err := s.users.AuthenticatePassword(ctx, req.Username, req.Password)
	switch {
	case errors.Is(err, user.ErrBadCredentials):
		return nil, newError("access_denied", "invalid credentials", http.StatusUnauthorized)
	case errors.Is(err, user.ErrLocked), errors.Is(err, user.ErrDisabled):
		return nil, newError("access_denied", err.Error(), http.StatusForbidden)
	case err != nil:
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return u, nil
}

// redirectFor picks the registered callback. Dev mode uses the dev callback
// and requires the client secret.
func (s *Service) redirectFor(app *appentity.Application, req SigninRequest) (string, error) {
	expected := app.CallbackURL
	if req.Dev {
		if req.Secret == "" || subtle.ConstantTimeCompare([]byte(req.Secret), []byte(app.ClientSecret)) != 1 {
			return "", newError("unauthorized_client", "dev mode requires the client secret", http.StatusUnauthorized)
		}
		expected = app.DevCallbackURL
	}
	if expected == "" {
		return "", newError("invalid_request", "client has no callback url registered", http.StatusBadRequest)
	}
	if req.RedirectURI != "" && req.RedirectURI != expected {
		return "", newError("invalid_request", "redirect_uri mismatch", http.StatusBadRequest)
	}
	return expected, nil
}

func challengeMethod(challenge, method string) (string, error) {
	if challenge == "" {
		return "", newError("invalid_request", "code_challenge is required", http.StatusBadRequest)
	}
	switch method {
	case "", MethodPlain:
		return MethodPlain, nil
	case MethodS256:
		return MethodS256, nil
	}
	return "", newError("invalid_request", "unsupported code_challenge_method", http.StatusBadRequest)
}

func withCode(redirect, code, state string) (string, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return "", newError("invalid_request", "registered callback is not a url", http.StatusBadRequest)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// VerifyPKCE checks a code_verifier against the stored challenge.
func VerifyPKCE(method, challenge, verifier string) bool {
	if verifier == "" {
		return false
	}
	computed := verifier
	if method == MethodS256 {
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// Exchange trades an authorization code for an access token.
func (s *Service) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType == "" {
		return nil, newError("invalid_request", "grant_type is required", http.StatusBadRequest)
	}
	if req.GrantType != "authorization_code" {
		return nil, newError("unsupported_grant_type", "only authorization_code is supported", http.StatusBadRequest)
	}
	if req.ClientID == "" {
		return nil, newError("invalid_client", "client authentication failed", http.StatusUnauthorized)
	}
	if req.Code == "" {
		return nil, newError("invalid_request", "code is required", http.StatusBadRequest)
	}

	app, err := s.clients.Get(ctx, req.ClientID)
	if errors.Is(err, application.ErrNotFound) {
		return nil, newError("invalid_client", "client authentication failed", http.StatusUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	if req.ClientSecret != "" && subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(app.ClientSecret)) != 1 {
		return nil, newError("invalid_client", "client authentication failed", http.StatusUnauthorized)
	}

	c, err := s.codes.Get(ctx, req.Code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError("invalid_grant", "authorization code is invalid or expired", http.StatusBadRequest)
	}
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}
	if c.ClientID != app.ClientID {
		return nil, newError("invalid_grant", "authorization code was not issued to this client", http.StatusBadRequest)
	}
	if s.now().UTC().After(c.ExpiresAt) {
		_, _ = s.codes.Consume(ctx, c.Code)
		return nil, newError("invalid_grant", "authorization code has expired", http.StatusBadRequest)
	}
	if req.RedirectURI != "" && req.RedirectURI != c.RedirectURI {
		return nil, newError("invalid_grant", "redirect_uri mismatch", http.StatusBadRequest)
	}
	if !VerifyPKCE(c.CodeChallengeMethod, c.CodeChallenge, req.CodeVerifier) {
		return nil, newError("invalid_grant", "code_verifier does not match", http.StatusBadRequest)
	}

	consumed, err := s.codes.Consume(ctx, c.Code)
	if err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if !consumed {
		return nil, newError("invalid_grant", "authorization code is invalid or expired", http.StatusBadRequest)
	}

	u, err := s.users.GetUser(ctx, c.UID)
	if errors.Is(err, user.ErrUserNotFound) {
		return nil, newError("invalid_grant", "user no longer exists", http.StatusBadRequest)
	}
	if err != nil {
		return nil, err
	}
	// always bound to the client so it never passes as a portal session
	token, exp, err := s.tokens.Issue(auth.IssueParams{
		UID:      u.UID,
		StdID:    u.StdID,
		Scope:    c.Scope,
		ClientID: app.ClientID,
	})
	if err != nil {
		return nil, err
	}
	expiresIn := int64(exp.Sub(s.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       c.Scope,
	}, nil
}

// Consent returns the scope uid last granted to clientID, or "".
func (s *Service) Consent(ctx context.Context, uid, clientID string) (string, error) {
	c, err := s.consents.Get(ctx, uid, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.Scope, nil
}

// PurgeExpiredCodes deletes codes that can no longer be exchanged.
func (s *Service) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	return s.codes.DeleteExpired(ctx, s.now().UTC())
}
