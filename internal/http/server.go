package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

// RecurringManager is the definition and history API the handlers call.
type RecurringManager interface {
	List(ctx context.Context, userID string) ([]core.RecurringTransaction, error)
	Create(ctx context.Context, userID string, rt core.RecurringTransaction) (core.RecurringTransaction, error)
	Update(ctx context.Context, userID string, rt core.RecurringTransaction) (core.RecurringTransaction, error)
	Delete(ctx context.Context, userID, id string) error
	Transactions(ctx context.Context, userID string, filter storage.TransactionFilter) ([]core.Transaction, error)
}

// TransactionManager records user-entered transactions.
type TransactionManager interface {
	AddExpense(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error)
	AddIncome(ctx context.Context, userID string, tx core.Transaction) (core.Transaction, error)
	Categories(ctx context.Context, userID string, kind core.CategoryKind) ([]core.Category, error)
}

// DueProcessor runs the catch-up for one user.
type DueProcessor interface {
	ProcessDue(ctx context.Context, userID string) (*services.ProcessResult, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators NewServer wires into the routes.
type Dependencies struct {
	Recurring     RecurringManager
	Transactions  TransactionManager
	Processor     DueProcessor
	Store         Pinger
	Authenticator auth.Authenticator
	Logger        *applog.Logger
}

// Options tune the middleware chain.
type Options struct {
	RateLimitPerMinute int
	// TrustedProxies are CIDRs whose forwarding headers are honoured.
	TrustedProxies []string
}

type Server struct {
	http.Server
	deps    Dependencies
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Dependencies, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentHTTP)
	}

	ips := security.NewClientIPResolver()
	for _, cidr := range opts.TrustedProxies {
		if err := ips.AddTrustedProxy(cidr); err != nil {
			deps.Logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}

	rlConfig := ratelimit.DefaultConfig()
	if opts.RateLimitPerMinute > 0 {
		rlConfig.RequestsPerMinute = opts.RateLimitPerMinute
	}

	s := &Server{
		deps:    deps,
		limiter: ratelimit.NewLimiter(rlConfig),
		tracer:  trace.NewMiddleware(ips.ExtractClientIP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	authed := auth.Middleware(deps.Authenticator)
	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}
	recurring := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(applog.ComponentMiddleware(applog.ComponentRecurring)(h)))
	}
	recurring("GET /api/recurring", s.handleListRecurring)
	recurring("POST /api/recurring", s.handleCreateRecurring)
	recurring("PUT /api/recurring/{id}", s.handleUpdateRecurring)
	recurring("DELETE /api/recurring/{id}", s.handleDeleteRecurring)
	recurring("POST /api/recurring/process", s.handleProcessRecurring)
	api("GET /api/transactions", s.handleListTransactions)
	api("POST /api/transactions", s.handleCreateTransaction)
	api("GET /api/categories", s.handleListCategories)

	onLimit := func(w http.ResponseWriter, r *http.Request) {
		slog.WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, ips.ExtractClientIP(r),
			applog.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
	}

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.limiter.Middleware(ips.ExtractClientIP, onLimit)(handler)
	handler = s.tracer.Middleware(handler)
	handler = applog.Middleware(deps.Logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// TraceMetrics exposes request counters for diagnostics.
func (s *Server) TraceMetrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).ErrorContext(ctx, "Readiness check failed", applog.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "store unavailable").Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
