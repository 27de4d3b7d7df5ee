package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"imagetovideo/internal/auth"
	"imagetovideo/internal/blob"
	"imagetovideo/internal/config"
	"imagetovideo/internal/email"
	"imagetovideo/internal/ledger"
	"imagetovideo/internal/metrics"
	"imagetovideo/internal/payment"
)

// Deps are the collaborators the HTTP surface composes.
type Deps struct {
	Store     Pinger
	Ledger    *ledger.Ledger
	Tokens    *auth.TokenService
	Mailer    email.Sender
	Blobs     *blob.Service
	Generator Submitter
	Poller    VideoPoller
	Payments  *payment.Service
	Hosting   UploadPresigner
}

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	resolver, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("initializing client IP resolver: %w", err)
	}

	magicLinkLimiter := rateLimit(resolver, 5, time.Minute)
	uploadLimiter := rateLimit(resolver, 10, time.Minute)
	pollLimiter := rateLimit(resolver, 120, time.Minute)

	authHandler := NewAuthHandler(
		deps.Ledger,
		deps.Tokens,
		deps.Mailer,
		cfg.Server.BaseURL,
		cfg.SecureCookies(),
		cfg.Hosting.PublicBaseURL,
		cfg.Hosting.KeyPrefix,
	)
	uploadHandler := NewUploadHandler(deps.Ledger, deps.Blobs, deps.Generator)
	pollHandler := NewPollHandler(deps.Poller)
	paymentHandler := NewPaymentHandler(deps.Ledger, deps.Payments)
	hostingHandler := NewHostingHandler(deps.Ledger, deps.Hosting)
	healthHandler := NewHealthHandler(deps.Store)

	authMiddleware := NewAuthMiddleware(deps.Tokens, cfg.SecureCookies())

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Stripe signs the raw body; the handler applies its own size cap.
	r.Post("/webhook", paymentHandler.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.LoadSession)
		r.Get("/session", authHandler.Session)
		r.With(magicLinkLimiter).Get("/magic-link", authHandler.MagicLink)
		r.Get("/logout", authHandler.Logout)
		r.Get("/checkout", paymentHandler.Checkout)
		r.With(pollLimiter).Get("/poll", pollHandler.Poll)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireSession)
		r.With(uploadLimiter).Post("/upload", uploadHandler.Upload)
		r.With(maxBodySizeMiddleware(1<<20)).Post("/hosting", hostingHandler.Request)
	})

	return &Server{
		router: r,
		config: cfg,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// corsMiddleware allows the configured origins plus loopback origins for
// local development. Requests without an Origin header pass untouched.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed = append(allowed, o)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !slices.Contains(allowed, origin) && !isLoopbackOrigin(origin) {
				writeError(w, http.StatusForbidden, ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"component", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
