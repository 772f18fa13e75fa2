package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenBody is the verified claims payload handed to handlers.
type AccessTokenBody struct {
	AccessToken string `json:"accessToken"`
	Scope       string `json:"scope"`
	StdID       string `json:"stdId"`
	ClientID    string `json:"clientId"`
	UID         string `json:"uid"`
}

// IsSession reports whether the token is a portal session rather than an
// access token issued to a client by the code exchange.
func (b AccessTokenBody) IsSession() bool { return b.ClientID == "" }

// Claims is the JWT claim set. The registered ID doubles as the opaque
// access token id.
type Claims struct {
	Scope    string `json:"scope"`
	StdID    string `json:"stdId"`
	ClientID string `json:"clientId"`
	jwt.RegisteredClaims
}

// Verifier checks a bearer token. It mirrors the (success, payload, error)
// contract the middleware relies on.
type Verifier interface {
	Verify(token string) (bool, *AccessTokenBody, string)
}

// IssueParams describes the subject of a new access token. An empty
// ClientID mints a portal session token.
type IssueParams struct {
	UID      string
	StdID    string
	Scope    string
	ClientID string
}

// JWT issues and verifies HS256 access tokens.
type JWT struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWT(secret, issuer string, ttl time.Duration) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be greater than zero")
	}
	return &JWT{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of issued tokens.
func (j *JWT) TTL() time.Duration { return j.ttl }

// Issue signs a token for p and returns it with its expiry.
func (j *JWT) Issue(p IssueParams) (string, time.Time, error) {
	now := j.now()
	exp := now.Add(j.ttl)
	claims := Claims{
		Scope:    p.Scope,
		StdID:    p.StdID,
		ClientID: p.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    j.issuer,
			Subject:   p.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates token.
func (j *JWT) Verify(token string) (bool, *AccessTokenBody, string) {
	if token == "" {
		return false, nil, "token is empty"
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return false, nil, err.Error()
	}
	if claims.Subject == "" {
		return false, nil, "token has no subject"
	}
	return true, &AccessTokenBody{
		AccessToken: claims.ID,
		Scope:       claims.Scope,
		StdID:       claims.StdID,
		ClientID:    claims.ClientID,
		UID:         claims.Subject,
	}, ""
}
