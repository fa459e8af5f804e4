package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/movescan/movescan-backend/internal/handlers"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/utils"
)

// NewRouter assembles the gin engine with CORS, tracing middleware and
// all API routes.
func NewRouter(
	log *logger.Logger,
	rag *handlers.RagHandler,
	analysis *handlers.AnalysisHandler,
) *gin.Engine {
	mode := utils.GetEnv("GIN_MODE", gin.DebugMode, log)
	gin.SetMode(mode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("movescan-backend"))

	origins := utils.GetEnv("CORS_ALLOWED_ORIGINS", "*", log)
	corsCfg := cors.DefaultConfig()
	if origins == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = strings.Split(origins, ",")
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	router.GET("/healthcheck", handlers.Healthcheck)

	api := router.Group("/api")
	{
		api.POST("/rag/chat", rag.Chat)
		api.GET("/rag/chats/:id", rag.GetChat)
		api.DELETE("/rag/chats/:id", rag.DeleteChat)

		api.POST("/modules/:ref/index", rag.IndexModule)
		api.POST("/modules/:ref/explanation", rag.ExplainModule)
		api.POST("/packages/:ref/explanation", rag.ExplainPackage)

		api.POST("/analyses/:id/summary", analysis.GenerateSummary)
		api.POST("/analyses/:id/rag", analysis.EnqueueRag)
		api.GET("/jobs/:id", analysis.GetJob)

		api.POST("/analyses/:id/enrich", analysis.Enrich)
		api.GET("/analyses/:id/enrichment", analysis.EnrichmentStatus)
	}

	return router
}
