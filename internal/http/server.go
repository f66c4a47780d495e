// Package http exposes the JSON API: statement import, fact queries and
// edits, rule administration, and the data-access and erasure endpoints.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"loonie/internal/core"
	"loonie/internal/export"
	"loonie/internal/log"
	"loonie/internal/services"
	"loonie/internal/storage"
)

// Importer is the synchronous import pipeline.
type Importer interface {
	ImportBatch(ctx context.Context, internalUserID int64, txs []core.RawTransaction) (services.Summary, error)
	RecordCorrection(ctx context.Context, internalUserID int64, token string, factID int64, category, label string) error
}

// TokenResolver maps the authenticated identity to its analytics token.
type TokenResolver interface {
	GetOrCreateToken(ctx context.Context, internalUserID int64) (string, error)
}

// BatchPublisher enqueues a batch for asynchronous import. Nil when no
// broker is configured; the async endpoint then returns 503.
type BatchPublisher interface {
	PublishStatementBatch(ctx context.Context, internalUserID int64, txs []TransactionRequest) (batchID string, err error)
}

// RuleStore is the admin surface over category rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule core.Rule) (core.Rule, error)
	UpdateRule(ctx context.Context, rule core.Rule) error
	DeleteRule(ctx context.Context, id int64) error
	ListRules(ctx context.Context, filter storage.RuleFilter) ([]core.Rule, error)
}

// RuleInvalidator drops the categorization snapshot after rule mutations.
type RuleInvalidator interface {
	Invalidate()
}

// FactStore is the per-token read and edit surface over transaction facts.
type FactStore interface {
	ListFacts(ctx context.Context, token string, from, to core.Date) ([]core.Fact, error)
	DeleteFact(ctx context.Context, token string, factID int64) error
	CashflowSummary(ctx context.Context, token string, from, to core.Date) (core.CashflowSummary, error)
}

// IdentityStore is the PII profile surface for account endpoints.
type IdentityStore interface {
	UpsertPIIUser(ctx context.Context, u core.PIIUser) error
	GetPIIUser(ctx context.Context, internalUserID int64) (core.PIIUser, error)
	MarkPIIDeleted(ctx context.Context, internalUserID int64) error
}

type Server struct {
	http.Server

	importer  Importer
	tokens    TokenResolver
	publisher BatchPublisher
	rules     RuleStore
	ruleCache RuleInvalidator
	facts     FactStore
	identity  IdentityStore
	facexp    export.FactExporter
	profexp   export.ProfileExporter

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// Deps carries the server's collaborators; publisher and exporters may be
// nil when the corresponding backend is not configured.
type Deps struct {
	Importer  Importer
	Tokens    TokenResolver
	Publisher BatchPublisher
	Rules     RuleStore
	RuleCache RuleInvalidator
	Facts     FactStore
	Identity  IdentityStore
	FactExp   export.FactExporter
	ProfExp   export.ProfileExporter
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		importer:    deps.Importer,
		tokens:      deps.Tokens,
		publisher:   deps.Publisher,
		rules:       deps.Rules,
		ruleCache:   deps.RuleCache,
		facts:       deps.Facts,
		identity:    deps.Identity,
		facexp:      deps.FactExp,
		profexp:     deps.ProfExp,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("POST /api/import", s.withMiddleware(s.handleImport))
	mux.HandleFunc("POST /api/import/async", s.withMiddleware(s.handleImportAsync))

	mux.HandleFunc("GET /api/facts", s.withMiddleware(s.handleListFacts))
	mux.HandleFunc("PATCH /api/facts/{id}", s.withMiddleware(s.handleRecategorizeFact))
	mux.HandleFunc("DELETE /api/facts/{id}", s.withMiddleware(s.handleDeleteFact))
	mux.HandleFunc("GET /api/summary", s.withMiddleware(s.handleSummary))

	mux.HandleFunc("GET /api/rules", s.withMiddleware(s.handleListRules))
	mux.HandleFunc("POST /api/rules", s.withMiddleware(s.handleCreateRule))
	mux.HandleFunc("PUT /api/rules/{id}", s.withMiddleware(s.handleUpdateRule))
	mux.HandleFunc("DELETE /api/rules/{id}", s.withMiddleware(s.handleDeleteRule))

	mux.HandleFunc("PUT /api/profile", s.withMiddleware(s.handleUpsertProfile))
	mux.HandleFunc("POST /api/export", s.withMiddleware(s.handleExport))
	mux.HandleFunc("DELETE /api/account", s.withMiddleware(s.handleDeleteAccount))

	return s
}

// withMiddleware adds request logging, rate limiting, and response headers.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			"client_ip", clientIP)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, duration.Milliseconds())
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
