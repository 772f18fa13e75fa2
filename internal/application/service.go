package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kraikub/katrade-accounts/internal/application/entity"
	"github.com/kraikub/katrade-accounts/internal/application/repo"
	"github.com/kraikub/katrade-accounts/pkg/utilities"
)

var (
	ErrNotFound      = errors.New("application not found")
	ErrNotOwner      = errors.New("not the application owner")
	ErrNameTaken     = errors.New("application name is taken")
	ErrQuotaExceeded = errors.New("application quota exceeded")
	ErrInvalidInput  = errors.New("invalid application input")
)

// QuotaChecker reports how many applications a user may own.
type QuotaChecker interface {
	AppQuota(ctx context.Context, uid string) (int, error)
}

// Service is the application usecase layer.
type Service struct {
	repo         *repo.Repo
	quota        QuotaChecker
	defaultQuota int
	now          func() time.Time
}

// NewService wires the service. A nil quota checker makes every owner use
// defaultQuota.
func NewService(db *sqlx.DB, quota QuotaChecker, defaultQuota int) *Service {
	return &Service{repo: repo.NewRepo(db), quota: quota, defaultQuota: defaultQuota, now: time.Now}
}

// Get returns ErrNotFound when clientID is unknown.
func (s *Service) Get(ctx context.Context, clientID string) (*entity.Application, error) {
	app, err := s.repo.GetByClientID(ctx, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application %s: %w", clientID, err)
	}
	return app, nil
}

func (s *Service) ListOwned(ctx context.Context, ownerID string) ([]*entity.Application, error) {
	apps, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// HasName reports whether an application already uses name.
func (s *Service) HasName(ctx context.Context, name string) (bool, error) {
	return s.repo.NameExists(ctx, strings.TrimSpace(name))
}

// Create registers a new application for ownerID. The returned value
// carries the plaintext client secret.
func (s *Service) Create(ctx context.Context, ownerID string, in entity.CreateInput) (*entity.CreatedApplication, error) {
	name := strings.TrimSpace(in.AppName)
	if name == "" {
		return nil, fmt.Errorf("%w: appName is required", ErrInvalidInput)
	}
	if err := validateCallback(in.CallbackURL, true); err != nil {
		return nil, err
	}
	if err := validateCallback(in.DevCallbackURL, false); err != nil {
		return nil, err
	}

	quota := s.defaultQuota
	if s.quota != nil {
		q, err := s.quota.AppQuota(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("read app quota: %w", err)
		}
		quota = q
	}
	owned, err := s.repo.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count owned applications: %w", err)
	}
	if owned >= quota {
		return nil, ErrQuotaExceeded
	}

	taken, err := s.repo.NameExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check application name: %w", err)
	}
	if taken {
		return nil, ErrNameTaken
	}

	secret, err := utilities.RandomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generate client secret: %w", err)
	}
	now := s.now().UTC()
	app := &entity.Application{
		ClientID:       utilities.NewKSUID(),
		ClientSecret:   secret,
		OwnerID:        ownerID,
		AppName:        name,
		AppDescription: in.AppDescription,
		CreatorName:    in.CreatorName,
		AppType:        in.AppType,
		CallbackURL:    in.CallbackURL,
		DevCallbackURL: in.DevCallbackURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	return &entity.CreatedApplication{Application: app, ClientSecret: secret}, nil
}

// Update applies a partial update on behalf of ownerID. Concurrent updates
// are last-writer-wins.
func (s *Service) Update(ctx context.Context, ownerID, clientID string, in entity.UpdateInput) (*entity.Application, error) {
	app, err := s.owned(ctx, ownerID, clientID)
	if err != nil {
		return nil, err
	}
	if in.CallbackURL != nil {
		if err := validateCallback(*in.CallbackURL, true); err != nil {
			return nil, err
		}
		app.CallbackURL = *in.CallbackURL
	}
	if in.DevCallbackURL != nil {
		if err := validateCallback(*in.DevCallbackURL, false); err != nil {
			return nil, err
		}
		app.DevCallbackURL = *in.DevCallbackURL
	}
	if in.AppDescription != nil {
		app.AppDescription = *in.AppDescription
	}
	if in.CreatorName != nil {
		app.CreatorName = *in.CreatorName
	}
	app.UpdatedAt = s.now().UTC()

	ok, err := s.repo.Update(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("update application %s: %w", clientID, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return app, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, clientID string) error {
	if _, err := s.owned(ctx, ownerID, clientID); err != nil {
		return err
	}
	ok, err := s.repo.Delete(ctx, clientID)
	if err != nil {
		return fmt.Errorf("delete application %s: %w", clientID, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *Service) owned(ctx context.Context, ownerID, clientID string) (*entity.Application, error) {
	app, err := s.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if app.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return app, nil
}

// validateCallback accepts absolute http(s) URLs. Empty is allowed unless
// required is set.
func validateCallback(raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%w: callbackUrl is required", ErrInvalidInput)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidInput, raw)
	}
	return nil
}
