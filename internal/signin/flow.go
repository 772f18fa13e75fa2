package signin

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	userentity "github.com/kraikub/katrade-accounts/internal/user/entity"
)

// State is the current screen of the flow.
type State int

const (
	Loading State = iota
	NeedsSetup
	FormStep
	ConsentStep
	UserSelect
	Completed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case NeedsSetup:
		return "needs-setup"
	case FormStep:
		return "form"
	case ConsentStep:
		return "consent"
	case UserSelect:
		return "user-select"
	case Completed:
		return "completed"
	}
	return "unknown"
}

const (
	// FailureMessage is the only text shown for a failed sign-in.
	FailureMessage = "Sign in failed, please try again."
	// MissingFieldsMessage is shown when a password sign-in lacks credentials.
	MissingFieldsMessage = "Some field is missing."

	methodCredential = "credential"
)

var (
	ErrBusy              = errors.New("signin: another action is in progress")
	ErrInvalidTransition = errors.New("signin: action not allowed in current state")
	ErrMissingFields     = errors.New("signin: username and password are required")
)

// Error is what the Notifier receives. Message is safe to show to the user;
// Err keeps the underlying cause for logs.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// Request is the body sent to the sign-in endpoint.
type Request struct {
	Username            string          `json:"username"`
	Password            string          `json:"password"`
	ClientID            string          `json:"clientId"`
	Scope               string          `json:"scope"`
	State               string          `json:"state"`
	Secret              string          `json:"secret,omitempty"`
	RedirectURI         string          `json:"redirectUri"`
	ResponseType        string          `json:"response_type"`
	CodeChallenge       string          `json:"code_challenge"`
	CodeChallengeMethod string          `json:"code_challenge_method"`
	Dev                 bool            `json:"dev,omitempty"`
	Options             *RequestOptions `json:"options,omitempty"`
}

type RequestOptions struct {
	SigninMethod string `json:"signin_method"`
}

// Result is the sign-in endpoint payload. SessionToken is set after a
// password sign-in.
type Result struct {
	Code         string `json:"code"`
	URL          string `json:"url"`
	SessionToken string `json:"sessionToken,omitempty"`
}

type AuthService interface {
	ValidateSigninSignature(ctx context.Context, username string) (bool, error)
	Signin(ctx context.Context, req Request) (*Result, error)
}

// UserService returns the active session user, or nil when there is none.
type UserService interface {
	Current(ctx context.Context) (*userentity.FullUserData, error)
}

type Navigator interface {
	Navigate(url string) error
}

type Notifier interface {
	Notify(err *Error)
}

type NavigatorFunc func(url string) error

func (f NavigatorFunc) Navigate(url string) error { return f(url) }

type NotifierFunc func(err *Error)

func (f NotifierFunc) Notify(err *Error) { f(err) }

// Options configure a Flow.
type Options struct {
	Query  Query
	Device DeviceConfig
	// Secret overrides Query.Secret when set.
	Secret string
	// OnSigninComplete switches the flow to SDK mode: the code is handed to
	// the callback and no navigation happens.
	OnSigninComplete func(code string)

	Auth      AuthService
	Users     UserService
	Navigator Navigator
	Notifier  Notifier
	Logger    *zap.SugaredLogger

	// Delay paces the form to consent transition. Zero means one second.
	Delay time.Duration
}

// Flow is one sign-in attempt. Methods are safe for concurrent use; an
// action started while another is in flight returns ErrBusy.
type Flow struct {
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	state      State
	busy       bool
	pdpaOpen   bool
	activeUser *userentity.FullUserData
	username   string
	password   string
}

func New(opts Options) *Flow {
	if opts.Delay == 0 {
		opts.Delay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Flow{opts: opts, sleep: sleepCtx, state: Loading}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// PDPAOpen reports whether the PDPA interstitial is shown.
func (f *Flow) PDPAOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pdpaOpen
}

// Busy reports whether an action is in flight.
func (f *Flow) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *Flow) ActiveUser() *userentity.FullUserData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeUser
}

// begin claims the flow for an action allowed in one of the given states.
func (f *Flow) begin(allowed ...State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return ErrBusy
	}
	for _, s := range allowed {
		if f.state == s {
			f.busy = true
			return nil
		}
	}
	return ErrInvalidTransition
}

func (f *Flow) end(mutate func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mutate != nil {
		mutate()
	}
	f.busy = false
}

// Mount checks the device preferences and looks up the session user.
func (f *Flow) Mount(ctx context.Context) error {
	if err := f.begin(Loading); err != nil {
		return err
	}
	if !f.opts.Device.Ready() {
		f.end(func() { f.state = NeedsSetup })
		return nil
	}

	u, err := f.opts.Users.Current(ctx)
	if err != nil {
		f.opts.Logger.Debugw("active user lookup failed", "err", err)
		u = nil
	}
	f.end(func() {
		f.activeUser = u
		if u != nil {
			f.state = UserSelect
		} else {
			f.state = FormStep
		}
	})
	return nil
}

// Submit records the credentials and moves to the consent step after the
// pacing delay. Empty fields keep the form and make no call.
func (f *Flow) Submit(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return ErrMissingFields
	}
	if err := f.begin(FormStep); err != nil {
		return err
	}
	if err := f.sleep(ctx, f.opts.Delay); err != nil {
		f.end(nil)
		return err
	}
	f.end(func() {
		f.username, f.password = username, password
		f.state = ConsentStep
	})
	return nil
}

// Accept validates the signature of the entered username. A user who has
// not agreed to PDPA gets the interstitial instead of a sign-in.
func (f *Flow) Accept(ctx context.Context) error {
	if err := f.begin(ConsentStep); err != nil {
		return err
	}
	f.mu.Lock()
	username := f.username
	f.mu.Unlock()

	ok, err := f.opts.Auth.ValidateSigninSignature(ctx, username)
	if err != nil {
		return f.fail("validate-signature", err)
	}
	if !ok {
		f.end(func() { f.pdpaOpen = true })
		return nil
	}
	return f.signin(ctx, "")
}

// AgreePDPA signs in from the interstitial.
func (f *Flow) AgreePDPA(ctx context.Context) error {
	if err := f.begin(ConsentStep); err != nil {
		return err
	}
	if !f.PDPAOpen() {
		f.end(nil)
		return ErrInvalidTransition
	}
	return f.signin(ctx, "")
}

// DisagreePDPA closes the interstitial and returns to the form. It fails
// with ErrInvalidTransition when the interstitial is not open.
func (f *Flow) DisagreePDPA() error {
	if err := f.begin(ConsentStep); err != nil {
		return err
	}
	if !f.PDPAOpen() {
		f.end(nil)
		return ErrInvalidTransition
	}
	f.end(func() {
		f.pdpaOpen = false
		f.state = FormStep
	})
	return nil
}

// ClosePDPA dismisses the interstitial without leaving the consent step.
func (f *Flow) ClosePDPA() {
	f.mu.Lock()
	f.pdpaOpen = false
	f.mu.Unlock()
}

// RejectConsent returns to the form.
func (f *Flow) RejectConsent() error {
	if err := f.begin(ConsentStep); err != nil {
		return err
	}
	f.end(func() {
		f.pdpaOpen = false
		f.state = FormStep
	})
	return nil
}

// Proceed signs in as the active session user.
func (f *Flow) Proceed(ctx context.Context) error {
	if err := f.begin(UserSelect); err != nil {
		return err
	}
	return f.signin(ctx, methodCredential)
}

// RejectUser forgets the session user and shows the form.
func (f *Flow) RejectUser() error {
	if err := f.begin(UserSelect); err != nil {
		return err
	}
	f.end(func() {
		f.activeUser = nil
		f.state = FormStep
	})
	return nil
}

// signin runs with the flow already claimed by begin.
func (f *Flow) signin(ctx context.Context, method string) error {
	f.mu.Lock()
	username, password := f.username, f.password
	f.mu.Unlock()

	if method != methodCredential && (username == "" || password == "") {
		e := &Error{Op: "signin", Message: MissingFieldsMessage, Err: ErrMissingFields}
		f.end(nil)
		f.notify(e)
		return e
	}

	q := f.opts.Query
	secret := f.opts.Secret
	if secret == "" {
		secret = q.Secret
	}
	req := Request{
		Username:            username,
		Password:            password,
		ClientID:            q.ClientID,
		Scope:               q.Scope,
		State:               q.State,
		Secret:              secret,
		RedirectURI:         q.RedirectURI,
		ResponseType:        q.ResponseType,
		CodeChallenge:       q.CodeChallenge,
		CodeChallengeMethod: q.CodeChallengeMethod,
		Dev:                 q.Dev,
	}
	if method != "" {
		req.Options = &RequestOptions{SigninMethod: method}
	}

	res, err := f.opts.Auth.Signin(ctx, req)
	if err != nil {
		return f.fail("signin", err)
	}
	if f.opts.OnSigninComplete != nil {
		f.end(func() { f.state = Completed })
		f.opts.OnSigninComplete(res.Code)
		return nil
	}
	if err := f.opts.Navigator.Navigate(res.URL); err != nil {
		return f.fail("navigate", err)
	}
	f.end(func() { f.state = Completed })
	return nil
}

// fail resets to the form and reports the single generic message.
func (f *Flow) fail(op string, cause error) error {
	f.opts.Logger.Debugw("signin flow failed", "op", op, "err", cause)
	e := &Error{Op: op, Message: FailureMessage, Err: cause}
	f.end(func() {
		f.pdpaOpen = false
		f.state = FormStep
	})
	f.notify(e)
	return e
}

func (f *Flow) notify(e *Error) {
	if f.opts.Notifier != nil {
		f.opts.Notifier.Notify(e)
	}
}
