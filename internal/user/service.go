package user

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kraikub/katrade-accounts/internal/mail"
	"github.com/kraikub/katrade-accounts/internal/scope"
	"github.com/kraikub/katrade-accounts/internal/user/entity"
	userrepo "github.com/kraikub/katrade-accounts/internal/user/repo"
	"github.com/kraikub/katrade-accounts/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface.
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports whether hash was produced with a lower cost than b.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return c < b.cost()
}

// Mailer sends the signup verification email.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, lang string, args mail.Args) (*http.Response, error)
}

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrLocked         = errors.New("user locked")
	ErrDisabled       = errors.New("user disabled")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrUsernameTaken  = errors.New("username is taken")
	ErrInvalidInput   = errors.New("invalid signup input")
	ErrInvalidCode    = errors.New("invalid verification code")
	ErrCodeExpired    = errors.New("verification code expired")
)

// UserService orchestrates authentication and user lifecycle flows.
type UserService struct {
	repo   *userrepo.UserRepo
	hasher PasswordHasher
	mailer Mailer
	logger *zap.SugaredLogger
	now    func() time.Time

	MaxFailed    int
	LockDuration time.Duration
	VerifyTTL    time.Duration
	DefaultQuota int
}

func NewUserService(db *sqlx.DB, hasher PasswordHasher, mailer Mailer, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{
		repo:         userrepo.NewUserRepo(db),
		hasher:       hasher,
		mailer:       mailer,
		logger:       logger,
		now:          time.Now,
		MaxFailed:    6,
		LockDuration: 15 * time.Minute,
		VerifyTTL:    24 * time.Hour,
		DefaultQuota: 3,
	}
}

// Repo exposes the underlying repository.
func (s *UserService) Repo() *userrepo.UserRepo { return s.repo }

// lookup resolves a sign-in identifier: a personal email when it has an @,
// otherwise a username.
func (s *UserService) lookup(ctx context.Context, identifier string) (*entity.User, error) {
	if strings.Contains(identifier, "@") {
		return s.repo.GetByEmail(ctx, strings.ToLower(identifier))
	}
	return s.repo.GetByUsername(ctx, identifier)
}

// AuthenticatePassword checks a username (or personal email) and password.
// On success it resets the failure counter and returns the user.
func (s *UserService) AuthenticatePassword(ctx context.Context, identifier, password string) (*entity.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrBadCredentials
	}

	u, err := s.lookup(ctx, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		// same answer as a wrong password
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if u.Status == "locked" && u.LockedUntil != nil && u.LockedUntil.Before(now) {
		if err := s.repo.Unlock(ctx, u.UID, now); err == nil {
			u.Status = "active"
			u.LockedUntil = nil
		}
	}
	switch u.Status {
	case "locked":
		return nil, ErrLocked
	case "disabled":
		return nil, ErrDisabled
	}

	if !s.hasher.Verify(u.PasswordHash, password) {
		attempts, incErr := s.repo.IncrementFailedLogin(ctx, u.UID, now)
		if incErr == nil && attempts >= s.MaxFailed {
			if err := s.repo.Lock(ctx, u.UID, now.Add(s.LockDuration), now); err != nil {
				s.logger.Warnw("lock user failed", "uid", u.UID, "err", err)
			}
		}
		return nil, ErrBadCredentials
	}

	if err := s.repo.ResetLoginSuccess(ctx, u.UID, now); err != nil {
		return nil, err
	}
	u.LoginFailedAttempts = 0
	u.LastLoginAt = &now

	if s.hasher.NeedsRehash(u.PasswordHash) {
		if h, err := s.hasher.Hash(password); err == nil {
			if err := s.repo.UpdatePassword(ctx, u.UID, h, now); err != nil {
				s.logger.Warnw("password rehash failed", "uid", u.UID, "err", err)
			}
		}
	}
	return u, nil
}

// GetUser returns ErrUserNotFound when uid is unknown.
func (s *UserService) GetUser(ctx context.Context, uid string) (*entity.User, error) {
	u, err := s.repo.GetByUID(ctx, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// GetFullUserData loads the user with the student record and educations.
func (s *UserService) GetFullUserData(ctx context.Context, uid string) (*entity.FullUserData, error) {
	u, err := s.GetUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	st, err := s.repo.GetStudent(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	eds, err := s.repo.ListEducations(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("list educations: %w", err)
	}
	return &entity.FullUserData{User: *u, Student: st, Educations: eds}, nil
}

// UserInfo projects the user onto the granted scope.
func (s *UserService) UserInfo(ctx context.Context, uid, granted string) (*entity.UserInfo, error) {
	full, err := s.GetFullUserData(ctx, uid)
	if err != nil {
		return nil, err
	}
	info := &entity.UserInfo{UID: full.UID}
	if scope.Has(granted, scope.OpenID) {
		info.Username = full.Username
		info.StdID = full.StdID
	}
	if scope.Has(granted, scope.PersonalEmail) {
		info.PersonalEmail = &full.PersonalEmail
	}
	if scope.Has(granted, scope.UniversityEmail) {
		info.UniversityEmail = &full.UniversityEmail
	}
	if scope.Has(granted, scope.ProfilePic) {
		info.ProfileImageURL = &full.ProfileImageURL
	}
	if scope.Has(granted, scope.Student) {
		info.Student = full.Student
	}
	if scope.Has(granted, scope.Educations) {
		info.Educations = full.Educations
	}
	return info, nil
}

// SignupInput is the body of POST /api/user/signup.
type SignupInput struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	PersonalEmail string `json:"personalEmail"`
	Name          string `json:"name"`
	Lang          string `json:"lang"`
	DeviceName    string `json:"deviceName"`
}

// Signup creates a user and sends the verification email without waiting
// for it. A mail failure is only logged.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*entity.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.PersonalEmail))
	switch {
	case username == "" || strings.ContainsAny(username, " @"):
		return nil, fmt.Errorf("%w: username", ErrInvalidInput)
	case len(in.Password) < 8:
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	case email == "" || !strings.Contains(email, "@"):
		return nil, fmt.Errorf("%w: personalEmail", ErrInvalidInput)
	}

	taken, err := s.repo.UsernameExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &entity.User{
		UID:           utilities.NewSnowflakeID(),
		Username:      username,
		PersonalEmail: email,
		PasswordHash:  hash,
		Status:        "active",
		AppQuota:      s.DefaultQuota,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	code, err := verificationCode()
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveEmailVerification(ctx, &entity.EmailVerification{
		UID:       u.UID,
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(s.VerifyTTL),
	}); err != nil {
		return nil, fmt.Errorf("save email verification: %w", err)
	}

	if s.mailer != nil {
		lang := mail.NormalizeLang(in.Lang)
		args := mail.Args{Code: code, Name: in.Name, DeviceName: in.DeviceName}
		go s.sendVerification(context.WithoutCancel(ctx), email, lang, args)
	}
	return u, nil
}

func (s *UserService) sendVerification(ctx context.Context, to, lang string, args mail.Args) {
	resp, err := s.mailer.SendVerificationEmail(ctx, to, lang, args)
	if err != nil {
		s.logger.Warnw("verification email failed", "to", to, "err", err)
		return
	}
	resp.Body.Close()
	s.logger.Debugw("verification email sent", "to", to)
}

// VerifyEmail confirms a personal email with the code that was mailed.
func (s *UserService) VerifyEmail(ctx context.Context, email, code string) error {
	v, err := s.repo.GetEmailVerification(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidCode
	}
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(v.Code), []byte(code)) != 1 {
		return ErrInvalidCode
	}
	now := s.now().UTC()
	if now.After(v.ExpiresAt) {
		return ErrCodeExpired
	}
	if err := s.repo.MarkEmailVerified(ctx, v.UID, now); err != nil {
		return err
	}
	return s.repo.DeleteEmailVerification(ctx, v.UID)
}

// HasAcceptedPDPA reports whether the user named by identifier, a username
// or personal email, exists and has agreed to PDPA.
func (s *UserService) HasAcceptedPDPA(ctx context.Context, identifier string) (bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false, nil
	}
	u, err := s.lookup(ctx, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.PDPAAcceptedAt != nil, nil
}

func (s *UserService) AcceptPDPA(ctx context.Context, uid string) error {
	return s.repo.AcceptPDPA(ctx, uid, s.now().UTC())
}

// AppQuota is the number of applications uid may own.
func (s *UserService) AppQuota(ctx context.Context, uid string) (int, error) {
	u, err := s.repo.GetByUID(ctx, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return s.DefaultQuota, nil
	}
	if err != nil {
		return 0, err
	}
	return u.AppQuota, nil
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
