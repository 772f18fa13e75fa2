package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kraikub/katrade-accounts/internal/application"
	"github.com/kraikub/katrade-accounts/internal/auth"
	"github.com/kraikub/katrade-accounts/internal/config"
	"github.com/kraikub/katrade-accounts/internal/mail"
	"github.com/kraikub/katrade-accounts/internal/oauth"
	"github.com/kraikub/katrade-accounts/internal/router"
	"github.com/kraikub/katrade-accounts/internal/user"
	"github.com/kraikub/katrade-accounts/pkg/database"
	"github.com/kraikub/katrade-accounts/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting katrade-accounts")

	if err := utilities.SetSnowflakeNode(cfg.SnowflakeNode); err != nil {
		sugar.Fatalf("snowflake node: %v", err)
	}

	// init db
	db, err := database.Connect(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	version, err := database.Migrate(db)
	if err != nil {
		sugar.Fatalf("db migrate: %v", err)
	}
	sugar.Infow("database ready", "driver", cfg.Database.Driver, "schema_version", version)

	tokens, err := auth.NewJWT(cfg.JWTSecret, cfg.Issuer, cfg.TokenTTL)
	if err != nil {
		sugar.Fatalf("jwt: %v", err)
	}
	mailer, err := mail.NewService(cfg.MailServiceHost, &http.Client{Timeout: cfg.MailTimeout})
	if err != nil {
		sugar.Fatalf("mail service: %v", err)
	}

	users := user.NewUserService(db, user.BcryptHasher{}, mailer, sugar)
	users.DefaultQuota = cfg.DefaultAppQuota
	apps := application.NewService(db, users, cfg.DefaultAppQuota)
	oauthSvc := oauth.NewService(db, apps, users, tokens, cfg.CodeTTL)
	authMw := auth.NewMiddleware(tokens)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go purgeCodes(ctx, oauthSvc, cfg.CodeTTL, sugar)

	// mount http server
	handler := router.RegisterRoutes(sugar, router.Deps{
		Auth:          authMw,
		Applications:  application.NewHandler(apps, authMw, sugar),
		OAuth:         oauth.NewHandler(oauthSvc, sugar),
		Users:         user.NewHandler(users, sugar),
		SigninLimiter: router.NewRateLimiter(cfg.SigninRatePerMinute),
		Ping:          db.PingContext,
	})
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	sugar.Infow("service is running; press Ctrl+C to stop", "addr", srv.Addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

type codePurger interface {
	PurgeExpiredCodes(ctx context.Context) (int64, error)
}

// purgeCodes removes expired authorization codes once per code lifetime.
func purgeCodes(ctx context.Context, p codePurger, every time.Duration, logger *zap.SugaredLogger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.PurgeExpiredCodes(ctx)
			if err != nil {
				logger.Warnw("purge expired codes failed", "err", err)
				continue
			}
			logger.Debugw("purged expired codes", "count", n)
		}
	}
}
