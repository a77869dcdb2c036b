// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"net/http"

	"github.com/JaimeStill/rxflow/internal/audit"
	"github.com/JaimeStill/rxflow/internal/config"
	"github.com/JaimeStill/rxflow/internal/infrastructure"
	"github.com/JaimeStill/rxflow/pkg/middleware"
	"github.com/JaimeStill/rxflow/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
// Audit middleware is registered last so it sees the matched route pattern.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, error) {
	runtime := NewRuntime(cfg, infra)
	domain, err := NewDomain(runtime)
	if err != nil {
		return nil, err
	}
	if err := domain.Start(runtime); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.RequestID())
	m.Use(middleware.Logger(runtime.Infrastructure.Logger))
	m.Use(audit.Middleware(domain.Audit, cfg.API.BasePath))

	return m, nil
}
