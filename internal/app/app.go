package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/movescan/movescan-backend/internal/clients/openai"
	"github.com/movescan/movescan-backend/internal/clients/pinecone"
	redisbus "github.com/movescan/movescan-backend/internal/clients/redis"
	"github.com/movescan/movescan-backend/internal/clients/revela"
	"github.com/movescan/movescan-backend/internal/db"
	"github.com/movescan/movescan-backend/internal/handlers"
	"github.com/movescan/movescan-backend/internal/jobs"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/observability"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/server"
	"github.com/movescan/movescan-backend/internal/services"
	"github.com/movescan/movescan-backend/internal/utils"
)

// App owns the fully wired service graph and its lifecycle.
type App struct {
	Log    *logger.Logger
	Router *gin.Engine

	worker       *jobs.Worker
	progressBus  redisbus.ProgressBus
	shutdownOTel func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	shutdownOTel, err := observability.InitTracer(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("tracing init: %w", err)
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, err
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, err
	}
	gdb := pg.DB()

	// Clients.
	aiClient, err := openai.NewClient(log)
	if err != nil {
		return nil, err
	}
	pcClient, err := pinecone.NewFromEnv(log)
	if err != nil {
		return nil, err
	}
	vectors, err := pinecone.NewVectorStore(log, pcClient)
	if err != nil {
		return nil, err
	}
	resolver, err := revela.NewClient(log)
	if err != nil {
		return nil, err
	}

	var progressBus redisbus.ProgressBus
	if utils.GetEnv("REDIS_ENABLED", "true", log) == "true" {
		progressBus, err = redisbus.NewProgressBus(log)
		if err != nil {
			log.Warn("redis progress bus unavailable, job progress events disabled", "error", err.Error())
			progressBus = nil
		}
	}

	prompts, err := services.LoadPrompts()
	if err != nil {
		return nil, err
	}

	// Repos.
	packageRepo := repos.NewPackageRepo(gdb, log)
	moduleRepo := repos.NewModuleRepo(gdb, log)
	functionRepo := repos.NewModuleFunctionRepo(gdb, log)
	analysisRepo := repos.NewAnalysisRepo(gdb, log)
	edgeRepo := repos.NewAnalysisEdgeRepo(gdb, log)
	ragDocRepo := repos.NewRagDocumentRepo(gdb, log)
	summaryRepo := repos.NewGlobalSummaryRepo(gdb, log)
	chatRepo := repos.NewRagChatRepo(gdb, log)
	messageRepo := repos.NewRagMessageRepo(gdb, log)
	jobRunRepo := repos.NewJobRunRepo(gdb, log)

	// Services.
	sourceSvc := services.NewSourceService(log, resolver, packageRepo, moduleRepo)
	indexerSvc := services.NewIndexerService(log, aiClient, vectors, sourceSvc, moduleRepo, packageRepo, functionRepo, ragDocRepo)
	explainerSvc := services.NewExplainerService(log, aiClient, vectors, sourceSvc, indexerSvc, prompts, moduleRepo, packageRepo, analysisRepo, ragDocRepo, summaryRepo)
	chatSvc := services.NewRagChatService(log, aiClient, vectors, prompts, chatRepo, messageRepo, analysisRepo, packageRepo, moduleRepo, ragDocRepo)
	orchestratorSvc := services.NewAnalysisRagService(log, sourceSvc, indexerSvc, explainerSvc, analysisRepo, packageRepo, moduleRepo, functionRepo)
	enrichmentSvc := services.NewEnrichmentService(log, sourceSvc, analysisRepo, edgeRepo)

	// Job worker.
	registry := jobs.NewRegistry()
	jobs.RegisterAnalysisRag(registry, orchestratorSvc)
	worker := jobs.NewWorker(log, jobRunRepo, registry, progressBus)

	// HTTP.
	ragHandler := handlers.NewRagHandler(log, indexerSvc, explainerSvc, chatSvc)
	analysisHandler := handlers.NewAnalysisHandler(log, explainerSvc, enrichmentSvc, jobRunRepo)
	router := server.NewRouter(log, ragHandler, analysisHandler)

	return &App{
		Log:          log,
		Router:       router,
		worker:       worker,
		progressBus:  progressBus,
		shutdownOTel: shutdownOTel,
	}, nil
}

func (a *App) Start() {
	a.worker.Start()
}

func (a *App) Shutdown(ctx context.Context) {
	a.worker.Stop()
	if a.progressBus != nil {
		_ = a.progressBus.Close()
	}
	if a.shutdownOTel != nil {
		_ = a.shutdownOTel(ctx)
	}
}
