package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"rewardjar/internal/artifactcache"
	"rewardjar/internal/domain"
	"rewardjar/internal/logging"
	"rewardjar/internal/queue"
	"rewardjar/internal/repo"
	"rewardjar/internal/simulator"
	"rewardjar/internal/wallet"
	"rewardjar/internal/wallet/apple"
	"rewardjar/internal/wallet/google"
	"rewardjar/internal/wallet/pwa"
)

const basePath = "/api"

// Config for the HTTP API handler. Every dependency is passed in; the
// handler owns none of them.
type Config struct {
	DB        *sql.DB
	Repo      repo.Repo
	Queue     queue.Service
	Loader    wallet.Loader
	Apple     *apple.Renderer
	Google    *google.Renderer
	PWA       *pwa.Renderer
	Simulator simulator.Simulator
	Cache     *artifactcache.Cache
	Auth      AuthConfig
	Logger    *zap.Logger

	CORSOrigins []string
	// RateLimit is the per-IP request budget per minute on public wallet routes.
	RateLimit      int
	RequestTimeout time.Duration
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"configuration_error"`
	Message string         `json:"message" example:"apple wallet not configured: missing team identifier"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type server struct {
	cfg Config
	log *zap.Logger
}

// New returns an HTTP handler exposing the RewardJar wallet API.
func New(cfg Config) (http.Handler, error) {
	if cfg.DB == nil {
		return nil, errors.New("database handle required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &server{cfg: cfg, log: cfg.Logger.Named("http")}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logging.Middleware(s.log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(timeout))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Api-Key"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	router.Use(limitPublicWallet(cfg.RateLimit))
	router.Use(newAuthMiddleware(cfg.Auth, cfg.Repo, s.log))

	hcfg := huma.DefaultConfig("RewardJar Wallet API", "1.0.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	applyAuthSecurity(api.OpenAPI())
	group := huma.NewGroup(api, basePath)

	registerDocs(router)
	s.registerHealth(api)
	s.registerWallet(group)
	s.registerRequests(group)
	s.registerScan(group)
	s.registerAdmin(group)

	return router, nil
}

// limitPublicWallet applies a per-IP limit to the unauthenticated wallet
// routes. Queue and admin routes are not limited.
func limitPublicWallet(perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if perMinute <= 0 {
			return next
		}
		limited := httprate.LimitByIP(perMinute, time.Minute)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicWalletPath(r.URL.Path) {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPublicWalletPath(p string) bool {
	const prefix = basePath + "/wallet/"
	return strings.HasPrefix(p, prefix) && !strings.HasPrefix(p, prefix+"requests")
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain errors onto the envelope. Generation failures
// are logged in full and answered with a generic message.
func (s *server) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var cfgErr domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return newAPIError(http.StatusServiceUnavailable, "configuration_error", err.Error(), map[string]any{
			"platform": string(cfgErr.Platform), "missing": cfgErr.Missing,
		})
	}
	var verr domain.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": verr.Field})
	}
	if errors.Is(err, domain.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var terr domain.TransitionError
	if errors.As(err, &terr) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": string(terr.From), "to": string(terr.To),
		})
	}
	if errors.Is(err, domain.ErrWaitTimeout) {
		return newAPIError(http.StatusGatewayTimeout, "timeout", err.Error(), nil)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newAPIError(http.StatusServiceUnavailable, "request_cancelled", "request cancelled", nil)
	}
	var gen domain.GenerationError
	if errors.As(err, &gen) {
		s.log.Error("wallet generation failed", zap.String("platform", string(gen.Platform)), zap.String("stage", gen.Stage), zap.Error(gen.Err))
		return newAPIError(http.StatusInternalServerError, "generation_failed", "wallet generation failed", map[string]any{
			"platform": string(gen.Platform), "stage": gen.Stage,
		})
	}
	s.log.Error("request failed", zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router) {
	r.Get(basePath+"/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
}

// authenticated is the security requirement of operations that call requireRole.
var authenticated = []map[string][]string{
	{"bearerAuth": {}},
	{"apiKeyAuth": {}},
}

func swaggerHTML() string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>RewardJar API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, basePath+"/openapi.json")
}

func (s *server) registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Status int
		Body   HealthResponse
	}, error) {
		out := &struct {
			Status int
			Body   HealthResponse
		}{Status: http.StatusOK, Body: HealthResponse{Status: "ok", Database: "ok"}}
		if err := s.cfg.DB.PingContext(ctx); err != nil {
			out.Status = http.StatusServiceUnavailable
			out.Body.Status = "degraded"
			out.Body.Database = err.Error()
		}
		if s.cfg.Cache != nil {
			out.Body.Cache = "ok"
			if err := s.cfg.Cache.Ping(ctx); err != nil {
				out.Body.Cache = err.Error()
			}
		}
		return out, nil
	})
}

// rawResponse carries a non-JSON body, or JSON encoded by the handler.
type rawResponse struct {
	Status             int
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	CacheControl       string `header:"Cache-Control"`
	Body               []byte
}

func jsonResponse(v any) (*rawResponse, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &rawResponse{Status: http.StatusOK, ContentType: "application/json", CacheControl: "no-store", Body: b}, nil
}
