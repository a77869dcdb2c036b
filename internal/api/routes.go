package api

import (
	"net/http"

	"github.com/JaimeStill/rxflow/internal/config"
	"github.com/JaimeStill/rxflow/internal/uploads"
	"github.com/JaimeStill/rxflow/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	routes.Register(
		mux,
		uploads.NewHandler(
			domain.Uploads,
			runtime.Storage,
			domain.Dispatcher,
			runtime.Logger,
			runtime.Pagination,
			cfg.API.MaxUploadSizeBytes(),
		).Routes(),
	)
}
