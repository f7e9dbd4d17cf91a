package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handlers "github.com/de-tools/hubcost/pkg/handlers/report"
	hubcostmiddleware "github.com/de-tools/hubcost/pkg/server/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type WebAPI struct {
	router          *chi.Mux
	logger          *zerolog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

type Dependencies struct {
	Calculator   handlers.Calculator
	MaxRangeDays int
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

func NewWebAPI(logger zerolog.Logger, config Config) *WebAPI {
	router := ConfigureRouter(logger, config.Dependencies)

	return &WebAPI{
		router:          router,
		logger:          &logger,
		shutdownTimeout: config.ShutdownTimeout,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func ConfigureRouter(logger zerolog.Logger, deps Dependencies) *chi.Mux {
	reportHandler := handlers.NewHandler(deps.Calculator, deps.MaxRangeDays)

	router := chi.NewRouter()

	router.Use(hubcostmiddleware.Logger(&logger))
	router.Use(middleware.Recoverer)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/hub-names", reportHandler.HubNames)
		r.Get("/total-costs", reportHandler.TotalCosts)
		r.Get("/total-costs-per-hub", reportHandler.CostsPerHub)
		r.Get("/total-costs-per-component", reportHandler.CostsPerComponent)
		r.Get("/total-usage", reportHandler.TotalUsage)
		r.Get("/costs-per-user", reportHandler.CostsPerUser)
		r.Get("/costs-per-group", reportHandler.CostsPerGroup)
		r.Get("/users-with-multiple-groups", reportHandler.MultiGroupUsers)
		r.Get("/users-with-no-groups", reportHandler.UngroupedUsers)
	})

	return router
}

func (w *WebAPI) Start() error {
	serverErrors := make(chan error, 1)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-shutdown:
		w.logger.Info().Msg("shutdown initiated")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
		defer cancel()

		err := w.server.Shutdown(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			err = w.server.Close()
		}

		if err != nil {
			return err
		}
	}

	return nil
}
