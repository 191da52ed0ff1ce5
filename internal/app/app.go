// Package app wires every component into a runnable HTTP server, in the
// shape of the teacher codebase's own internal/app package: a constructor
// builds every dependency and a gin.Engine, the caller starts an
// http.Server around it and drives shutdown.
package app

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/admin"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/audit"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/catalog"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/config"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/dispatcher"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/enginecore"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/evaluator"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/ingress"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/installer"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/middleware"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/pipeline"
)

// App holds every wired dependency plus the gin.Engine that serves them.
type App struct {
	cfg    config.AppConfig
	engine *enginecore.Handle
	router *gin.Engine
	logger *zap.Logger
}

// New constructs every component and wires the HTTP router. The engine
// file is opened (and its schema bootstrapped) as part of construction.
func New(logger *zap.Logger, cfg config.AppConfig) (*App, error) {
	engineHandle, err := enginecore.Open(cfg.EngineDBPath, logger)
	if err != nil {
		return nil, err
	}

	cat := catalog.New(engineHandle, logger)
	inst := installer.New(engineHandle, cat, logger)
	cat.SetDropper(inst)

	eval := evaluator.New(engineHandle, logger)
	disp := dispatcher.New(cfg.DispatchTimeout, logger)
	aud := audit.New(engineHandle, logger)
	pipe := pipeline.New(cat, eval, disp, aud, logger)

	if err := inst.LoadAllUDFs(context.Background()); err != nil {
		logger.Error("failed to load persisted udfs at startup", zap.Error(err))
	}

	router := gin.New()
	router.Use(middleware.Logger(logger), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "X-API-Key"},
	}))

	adminHandler := admin.New(engineHandle, cat, inst, aud, pipe, logger)
	adminGroup := router.Group("/", middleware.RequireAPIKey(cfg.APIKey))
	adminHandler.Register(adminGroup)

	ingressHandler := ingress.New(pipe, logger)
	router.NoRoute(ingressHandler.Handle)

	return &App{cfg: cfg, engine: engineHandle, router: router, logger: logger}, nil
}

// Router exposes the wired gin.Engine for http.Server to serve.
func (a *App) Router() *gin.Engine { return a.router }

// Addr returns the configured listen address.
func (a *App) Addr() string { return a.cfg.ListenAddr }

// Shutdown releases the engine's connection. Call after http.Server.Shutdown
// has drained in-flight requests.
func (a *App) Shutdown(_ context.Context) error {
	return a.engine.Close()
}
