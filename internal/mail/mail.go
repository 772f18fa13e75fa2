// Package mail sends notifications through the external mail microservice.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// ErrMissingHost is returned by NewService when no host is configured.
var ErrMissingHost = errors.New("mail service host is not configured")

// Args are the optional template values of a verification email.
type Args struct {
	Code       string `json:"code,omitempty"`
	Name       string `json:"name,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

// Template languages of the mail service. The first one is the fallback.
var languages = []language.Tag{language.English, language.Thai}

var matcher = language.NewMatcher(languages)

// NormalizeLang maps a preference such as "th-TH" or "th,en;q=0.8" onto a
// template language. Anything unrecognized gets English.
func NormalizeLang(pref string) string {
	tags, _, err := language.ParseAcceptLanguage(pref)
	if err != nil || len(tags) == 0 {
		return "en"
	}
	_, i, conf := matcher.Match(tags...)
	if conf == language.No {
		return "en"
	}
	base, _ := languages[i].Base()
	return base.String()
}

type verifyEmailRequest struct {
	To   string `json:"to"`
	Lang string `json:"lang"`
	Args
}

// Service is a client of the mail microservice.
type Service struct {
	host   string
	client *http.Client
}

// NewService validates host. A nil client gets a 10 second timeout.
func NewService(host string, client *http.Client) (*Service, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return nil, ErrMissingHost
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{host: host, client: client}, nil
}

func (s *Service) Host() string { return s.host }

// SendVerificationEmail posts one verification email request. It is not
// retried. On success the caller owns the response body.
func (s *Service) SendVerificationEmail(ctx context.Context, to, lang string, args Args) (*http.Response, error) {
	body, err := json.Marshal(verifyEmailRequest{To: to, Lang: lang, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode verify email request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+"/api/v1/verify-email", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build verify email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send verify email: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("send verify email: mail service responded %s", resp.Status)
	}
	return resp, nil
}
