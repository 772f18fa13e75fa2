package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/kraikub/katrade-accounts/internal/response"
)

type ctxKey struct{}

// Result is what Authenticate hands back. When Success is false the 401
// response has already been written and the caller must stop.
type Result struct {
	Success bool
	Payload AccessTokenBody
}

type Middleware struct {
	verifier Verifier
}

func NewMiddleware(v Verifier) *Middleware {
	return &Middleware{verifier: v}
}

// Authenticate checks the Authorization header of r.
func (m *Middleware) Authenticate(w http.ResponseWriter, r *http.Request) Result {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		response.Write(w, http.StatusUnauthorized, response.Create(false, "Unauthorized", map[string]any{}))
		return Result{}
	}
	var token string
	if parts := strings.Fields(authorization); len(parts) > 1 {
		token = parts[1]
	}

	ok, payload, errMsg := m.verifier.Verify(token)
	if !ok || payload == nil {
		response.Write(w, http.StatusUnauthorized, response.Create(false, "Unauthorized: "+errMsg, map[string]any{}))
		return Result{}
	}
	return Result{
		Success: true,
		Payload: AccessTokenBody{
			AccessToken: payload.AccessToken,
			Scope:       payload.Scope,
			StdID:       payload.StdID,
			ClientID:    payload.ClientID,
			UID:         payload.UID,
		},
	}
}

// AuthenticateSession is Authenticate restricted to portal session tokens.
// A client access token gets 403 and Success false.
func (m *Middleware) AuthenticateSession(w http.ResponseWriter, r *http.Request) Result {
	res := m.Authenticate(w, r)
	if !res.Success {
		return res
	}
	if !res.Payload.IsSession() {
		response.Write(w, http.StatusForbidden, response.Create(false, "Forbidden: client access tokens cannot be used here", map[string]any{}))
		return Result{}
	}
	return res
}

// Require rejects unauthenticated requests and stores the claims in the
// request context for next.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := m.Authenticate(w, r)
		if !res.Success {
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), res.Payload)))
	})
}

// RequireSession is Require for routes that act on the user's account and
// only accept portal session tokens.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := m.AuthenticateSession(w, r)
		if !res.Success {
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), res.Payload)))
	})
}

func NewContext(ctx context.Context, body AccessTokenBody) context.Context {
	return context.WithValue(ctx, ctxKey{}, body)
}

// FromContext returns the claims stored by Require.
func FromContext(ctx context.Context) (AccessTokenBody, bool) {
	body, ok := ctx.Value(ctxKey{}).(AccessTokenBody)
	return body, ok
}
