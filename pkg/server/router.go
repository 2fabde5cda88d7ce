package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/observability"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
)

// Route paths
const (
	HealthPath  = "/health"
	MCPPath     = "/mcp"
	MetricsPath = "/metrics"
)

// RouterConfig configures the HTTP surface
type RouterConfig struct {
	// AllowedOrigins lists the CORS origins; "*" allows any origin
	AllowedOrigins []string

	// RateLimitRPS limits /mcp requests per second; zero disables the limit
	RateLimitRPS   float64
	RateLimitBurst int

	// MetricsEnabled mounts the Prometheus handler on /metrics
	MetricsEnabled bool
}

// NewRouter mounts the health, metrics and MCP routes
func NewRouter(mcp http.Handler, observer *observability.Observer, logger logging.Logger, cfg RouterConfig) http.Handler {
	if observer == nil {
		observer = observability.NewObserver(nil, nil)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.HTTPMiddleware(logger))
	r.Use(observer.HTTPMiddleware)
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	r.Get(HealthPath, handleHealth)
	if cfg.MetricsEnabled {
		r.Method(http.MethodGet, MetricsPath, observer.Metrics().Handler())
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(rateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}
		r.Handle(MCPPath, mcp)
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func rateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = int(rps * 2)
		if burst < 1 {
			burst = 1
		}
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSONRPCError(w, http.StatusTooManyRequests, protocol.ErrorCode(-32000), "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	corsHeaders = "Content-Type, Authorization, Accept, X-Request-ID, Mcp-Protocol-Version, Mcp-Session-Id"
)

// corsMiddleware answers preflight requests and marks responses for allowed
// origins. Requests without an Origin header pass through untouched.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	wildcard := false
	origins := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			wildcard = true
		}
		if origin != "" {
			origins[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			_, listed := origins[origin]
			if !wildcard && !listed {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Expose-Headers", "X-Request-ID")

			if preflight {
				h.Set("Access-Control-Allow-Methods", corsMethods)
				if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
					h.Set("Access-Control-Allow-Headers", requested)
				} else {
					h.Set("Access-Control-Allow-Headers", corsHeaders)
				}
				h.Set("Access-Control-Max-Age", strconv.Itoa(600))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
