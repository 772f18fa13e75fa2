// Command signin walks the sign-in and consent flow against a running
// accounts server from a terminal, then exchanges the code for a token.
package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/buger/goterm"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kraikub/katrade-accounts/internal/signin"
	"github.com/kraikub/katrade-accounts/pkg/utilities"
)

func main() {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()
	var (
		server    = flag.String("server", envOr("KATRADE_SERVER", "http://localhost:8431"), "accounts server base URL")
		clientID  = flag.String("client-id", os.Getenv("KATRADE_CLIENT_ID"), "application client id")
		scopes    = flag.String("scope", "openid", "space separated scopes")
		redirect  = flag.String("redirect-uri", "", "registered callback URL")
		state     = flag.String("state", "", "opaque state echoed back on the redirect")
		secret    = flag.String("secret", "", "client secret (dev mode)")
		dev       = flag.Bool("dev", false, "use the dev callback")
		username  = flag.String("username", "", "username or email; prompted when empty")
		tokenFile = flag.String("token-file", filepath.Join(home, ".katrade", "token.json"), "where the portal session token is kept")
		agree     = flag.Bool("agree-pdpa", false, "agree to PDPA without prompting")
		fresh     = flag.Bool("new-session", false, "ignore the stored session and sign in with a password")
		sdk       = flag.Bool("sdk", false, "print the code instead of following the redirect")
		logLevel  = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	lg, err := utilities.Init(utilities.Config{Level: *logLevel, Dev: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, sugar, options{
		server:    *server,
		clientID:  *clientID,
		scope:     *scopes,
		redirect:  *redirect,
		state:     *state,
		secret:    *secret,
		dev:       *dev,
		username:  *username,
		tokenFile: *tokenFile,
		agree:     *agree,
		fresh:     *fresh,
		sdk:       *sdk,
	}); err != nil {
		fmt.Fprintln(os.Stderr, goterm.Color(err.Error(), goterm.RED))
		os.Exit(1)
	}
}

type options struct {
	server, clientID, scope, redirect, state, secret string
	username, tokenFile                              string
	dev, agree, fresh, sdk                           bool
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(ctx context.Context, logger *zap.SugaredLogger, o options) error {
	verifier, err := utilities.RandomToken(32)
	if err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	q, err := signin.ParseQuery(url.Values{
		"client_id":             {o.clientID},
		"scope":                 {o.scope},
		"state":                 {o.state},
		"redirect_uri":          {o.redirect},
		"response_type":         {"code"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"dev":                   {fmt.Sprint(o.dev)},
	})
	if err != nil {
		return err
	}

	store := signin.FileTokenStore{Path: o.tokenFile}
	if o.fresh {
		if err := store.Clear(); err != nil {
			return err
		}
	}
	client := signin.NewAPIClient(o.server, nil, store)
	in := bufio.NewReader(os.Stdin)

	var code, landed string
	opts := signin.Options{
		Query:     q,
		Device:    signin.DeviceConfig{CookieConsent: true, Lang: true},
		Secret:    o.secret,
		Auth:      client,
		Users:     client,
		Navigator: signin.NavigatorFunc(func(u string) error { landed = u; return nil }),
		Notifier:  signin.NotifierFunc(func(e *signin.Error) { fmt.Fprintln(os.Stderr, goterm.Color(e.Message, goterm.RED)) }),
		Logger:    logger,
	}
	if o.sdk {
		opts.OnSigninComplete = func(c string) { code = c }
	}
	f := signin.New(opts)

	if err := f.Mount(ctx); err != nil {
		return err
	}
	if f.State() == signin.UserSelect {
		u := f.ActiveUser()
		if confirm(in, fmt.Sprintf("Continue as %s?", u.Username)) {
			if err := f.Proceed(ctx); err != nil {
				return err
			}
		} else if err := f.RejectUser(); err != nil {
			return err
		}
	}

	for attempt := 0; f.State() == signin.FormStep; attempt++ {
		if attempt == 3 {
			return errors.New("too many attempts")
		}
		name := o.username
		if name == "" {
			name = prompt(in, "Username: ")
		}
		password := prompt(in, "Password: ")
		if err := f.Submit(ctx, name, password); errors.Is(err, signin.ErrMissingFields) {
			fmt.Fprintln(os.Stderr, goterm.Color(signin.MissingFieldsMessage, goterm.RED))
			continue
		} else if err != nil {
			return err
		}

		fmt.Printf("%s is requesting: %s\n", goterm.Bold(q.ClientID), strings.Join(strings.Fields(q.Scope), ", "))
		if !confirm(in, "Allow?") {
			if err := f.RejectConsent(); err != nil {
				return err
			}
			return errors.New("consent rejected")
		}
		if err := f.Accept(ctx); err != nil {
			continue
		}
		if f.PDPAOpen() {
			if !o.agree && !confirm(in, "Do you agree to the personal data protection policy (PDPA)?") {
				if err := f.DisagreePDPA(); err != nil {
					return err
				}
				return errors.New("PDPA agreement is required to sign in")
			}
			if err := f.AgreePDPA(ctx); err != nil {
				continue
			}
		}
	}

	if f.State() != signin.Completed {
		return fmt.Errorf("sign-in stopped at %s", f.State())
	}
	if code == "" {
		fmt.Println("redirect:", landed)
		u, err := url.Parse(landed)
		if err != nil {
			return err
		}
		code = u.Query().Get("code")
	} else {
		fmt.Println("code:", code)
	}

	tok, err := client.Exchange(ctx, q.ClientID, code, q.RedirectURI, verifier)
	if err != nil {
		return err
	}
	fmt.Println(goterm.Color("signed in", goterm.GREEN))
	fmt.Printf("access token (expires in %ds, scope %q):\n%s\n", tok.ExpiresIn, tok.Scope, tok.AccessToken)
	return nil
}

func prompt(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func confirm(in *bufio.Reader, question string) bool {
	switch strings.ToLower(prompt(in, question+" [y/N] ")) {
	case "y", "yes":
		return true
	}
	return false
}
