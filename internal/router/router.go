package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kraikub/katrade-accounts/internal/application"
	"github.com/kraikub/katrade-accounts/internal/auth"
	"github.com/kraikub/katrade-accounts/internal/oauth"
	"github.com/kraikub/katrade-accounts/internal/response"
	"github.com/kraikub/katrade-accounts/internal/user"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
// It must run inside RequestID to pick up the request id.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
				"request_id", RequestIDFrom(r.Context()),
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
// It is intentionally simple and conservative so it works with most setups.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Clickjacking protection
			w.Header().Set("X-Frame-Options", "DENY")

			// Referrer policy
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")

			// Permissions policy (formerly Feature-Policy) - tighten common features
			// allow none for camera, microphone, geolocation by default
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Basic Content-Security-Policy - block mixed content and restrict sources to self by default
			// Keep this conservative; callers may opt to override with more specific policy downstream.
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}

			// HSTS - instruct browsers to use HTTPS for future requests. Only set if request is over TLS.
			if r.TLS != nil {
				// 30 days by default
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the handlers and services the route table mounts.
type Deps struct {
	Auth         *auth.Middleware
	Applications *application.Handler
	OAuth        *oauth.Handler
	Users        *user.Handler
	// SigninLimiter guards /api/auth/*; nil disables rate limiting.
	SigninLimiter *RateLimiter
	// Ping, when set, is checked by /health.
	Ping func(ctx context.Context) error
}

// RegisterRoutes mounts the API on a gorilla/mux router wrapped with the
// request id, logging, security header and recovery middleware.
func RegisterRoutes(logger *zap.SugaredLogger, d Deps) http.Handler {
	r := mux.NewRouter()

	// health
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ping(ctx); err != nil {
				logger.Warnw("health check failed", "err", err)
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// application routes; has-name goes before {clientId}
	app := d.Applications
	api.Handle("/app", d.Auth.RequireSession(http.HandlerFunc(app.Create))).Methods(http.MethodPost)
	api.Handle("/app", d.Auth.RequireSession(http.HandlerFunc(app.List))).Methods(http.MethodGet)
	api.Handle("/app/has-name", d.Auth.RequireSession(http.HandlerFunc(app.HasName))).Methods(http.MethodGet)
	api.HandleFunc("/app/{clientId}", app.Resource)

	// sign-in and consent
	authRoutes := api.PathPrefix("/auth").Subrouter()
	if d.SigninLimiter != nil {
		authRoutes.Use(d.SigninLimiter.Middleware)
	}
	authRoutes.HandleFunc("/signin", d.OAuth.Signin).Methods(http.MethodPost)
	authRoutes.HandleFunc("/signin-signature", d.OAuth.SigninSignature).Methods(http.MethodPost)
	authRoutes.Handle("/consent", d.Auth.RequireSession(http.HandlerFunc(d.OAuth.Consent))).Methods(http.MethodGet)
	api.HandleFunc("/oauth/token", d.OAuth.Token).Methods(http.MethodPost)

	// user routes; /user/info is the only one a client access token reaches
	api.Handle("/user", d.Auth.RequireSession(http.HandlerFunc(d.Users.Me))).Methods(http.MethodGet)
	api.Handle("/user/info", d.Auth.Require(http.HandlerFunc(d.Users.Info))).Methods(http.MethodGet)
	api.HandleFunc("/user/signup", d.Users.Signup).Methods(http.MethodPost)
	api.HandleFunc("/user/verify-email", d.Users.VerifyEmail).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.HandleErrResponse(w, http.StatusNotFound, "Not found.", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.HandleErrResponse(w, http.StatusMethodNotAllowed, "Method not allowed.", nil)
	})

	// request id outermost so every log line and error carries it
	var handler http.Handler = r
	handler = response.Recover(logger)(handler)
	handler = SecurityHeadersMiddleware()(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = RequestID()(handler)
	return handler
}
