package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/unrolled/secure"

	"github.com/astanek/livechat-relay/pkg/logger"
)

// Config selects which middleware the stack applies. The zero value
// enables nothing; use DefaultConfig as the base.
type Config struct {
	Logger         logger.Logger // required when EnableLogging is set
	AllowedOrigins []string      // CORS origins, empty means any
	Timeout        time.Duration

	EnableCorrelationID bool
	EnableLogging       bool
	EnableRecovery      bool
	EnableCORS          bool
	EnableSecurity      bool
	EnableRealIP        bool
	EnableHeartbeat     bool
	EnableTimeout       bool
}

// DefaultConfig enables the production stack. Logging stays off until a
// logger is supplied.
func DefaultConfig() Config {
	return Config{
		Timeout:             60 * time.Second,
		EnableCorrelationID: true,
		EnableRecovery:      true,
		EnableCORS:          true,
		EnableSecurity:      true,
		EnableRealIP:        true,
		EnableHeartbeat:     true,
		EnableTimeout:       true,
	}
}

// Apply installs the configured middleware on the router in execution
// order: correlation id, security headers, real IP, logging, recovery,
// CORS, timeout, heartbeat.
func Apply(router chi.Router, cfg Config) {
	if cfg.EnableCorrelationID {
		router.Use(CorrelationID())
	}
	if cfg.EnableSecurity {
		router.Use(Security())
	}
	if cfg.EnableRealIP {
		router.Use(middleware.RealIP)
	}
	if cfg.EnableLogging && cfg.Logger != nil {
		router.Use(cfg.Logger.HTTPMiddleware)
	}
	if cfg.EnableRecovery {
		router.Use(middleware.Recoverer)
	}
	if cfg.EnableCORS {
		router.Use(CORS(cfg.AllowedOrigins))
	}
	if cfg.EnableTimeout && cfg.Timeout > 0 {
		router.Use(middleware.Timeout(cfg.Timeout))
	}
	if cfg.EnableHeartbeat {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// CORS configures cross-origin access for the widget's origins. An
// empty list allows any origin, matching the websocket endpoint's
// default.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Upgrade", "Connection"},
		MaxAge:         300,
	})
}

// Security adds the standard security headers.
func Security() func(http.Handler) http.Handler {
	return secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	}).Handler
}
