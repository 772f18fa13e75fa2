// Package signin drives the client side of the sign-in and consent flow:
// device checks, account selection, credential entry, scope consent, the
// PDPA interstitial and the final redirect or SDK callback.
package signin

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kraikub/katrade-accounts/internal/scope"
)

// Cookie names that carry the device preferences.
const (
	CookieLang          = "LANG"
	CookieAcceptCookies = "ACCEPT_COOKIES"
)

var ErrInvalidQuery = errors.New("invalid signin query")

// Query holds the OAuth parameters of one sign-in attempt.
type Query struct {
	ClientID            string
	State               string
	Scope               string
	Dev                 bool
	Secret              string
	RedirectURI         string
	ResponseType        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ParseQuery reads a Query from URL query values.
func ParseQuery(v url.Values) (Query, error) {
	q := Query{
		ClientID:            v.Get("client_id"),
		State:               v.Get("state"),
		Scope:               v.Get("scope"),
		Secret:              v.Get("secret"),
		RedirectURI:         v.Get("redirect_uri"),
		ResponseType:        v.Get("response_type"),
		CodeChallenge:       v.Get("code_challenge"),
		CodeChallengeMethod: v.Get("code_challenge_method"),
	}
	switch strings.ToLower(v.Get("dev")) {
	case "1", "true", "yes":
		q.Dev = true
	}
	if q.ClientID == "" {
		return q, fmt.Errorf("%w: client_id is required", ErrInvalidQuery)
	}
	if !scope.IsValidScope(q.Scope) {
		return q, fmt.Errorf("%w: scope %q", ErrInvalidQuery, q.Scope)
	}
	return q, nil
}

// ParseQueryString is ParseQuery over a raw query or a full URL.
func ParseQueryString(raw string) (Query, error) {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	v, err := url.ParseQuery(raw)
	if err != nil {
		return Query{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return ParseQuery(v)
}

// DeviceConfig records which first-run preferences the device has set.
type DeviceConfig struct {
	CookieConsent bool
	Lang          bool
}

// Ready reports whether the setup screens can be skipped.
func (d DeviceConfig) Ready() bool { return d.CookieConsent && d.Lang }

func DeviceConfigFromCookies(cookies []*http.Cookie) DeviceConfig {
	var d DeviceConfig
	for _, c := range cookies {
		switch c.Name {
		case CookieLang:
			d.Lang = d.Lang || c.Value != ""
		case CookieAcceptCookies:
			d.CookieConsent = d.CookieConsent || c.Value != ""
		}
	}
	return d
}
