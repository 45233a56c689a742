package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/groupflow/internal/console/handler"
	"github.com/xela07ax/groupflow/internal/infra/auth"
	"github.com/xela07ax/groupflow/internal/workflow"
	"go.uber.org/zap"
)

// Handlers: обработчики бизнес-доменов.
type Handlers struct {
	Auth      *handler.AuthHandler      // /auth/token
	Requests  *handler.RequestHandler   // /v1/requests
	Directory *handler.DirectoryHandler // /v1/approvers, /v1/groups
	Audit     *handler.AuditHandler     // /v1/audit
}

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256)
	authValidator auth.TokenValidator
	gatherer      prometheus.Gatherer
	handlers      Handlers
}

// NewConsoleServer собирает роутер консоли со всеми зависимостями.
func NewConsoleServer(validator auth.TokenValidator, gatherer prometheus.Gatherer, h Handlers, logger *zap.Logger) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		gatherer:      gatherer,
		handlers:      h,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.handlers.Auth.Login)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Mount("/v1/requests", s.handlers.Requests.Routes())
		r.Get("/v1/approvers", s.handlers.Directory.Approvers)
		r.Get("/v1/groups/{id}", s.handlers.Directory.Group)
		r.Get("/v1/audit", s.handlers.Audit.GetLogs)
	})
}

// TracingMiddleware берет Trace-ID из заголовка или генерирует новый
// и возвращает его клиенту.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(workflow.WithTraceID(r.Context(), traceID)))
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
