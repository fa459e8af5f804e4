package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/movescan/movescan-backend/internal/jobs"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/services"
	"github.com/movescan/movescan-backend/internal/types"
)

// AnalysisHandler exposes the post-analysis pipeline: global summaries,
// the durable RAG job, and edge enrichment.
type AnalysisHandler struct {
	log        *logger.Logger
	explainer  services.ExplainerService
	enrichment services.EnrichmentService
	jobRuns    repos.JobRunRepo
}

func NewAnalysisHandler(
	log *logger.Logger,
	explainer services.ExplainerService,
	enrichment services.EnrichmentService,
	jobRuns repos.JobRunRepo,
) *AnalysisHandler {
	return &AnalysisHandler{
		log:        log.With("handler", "AnalysisHandler"),
		explainer:  explainer,
		enrichment: enrichment,
		jobRuns:    jobRuns,
	}
}

func (h *AnalysisHandler) GenerateSummary(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid analysis id")
		return
	}

	var req forceRequest
	_ = c.ShouldBindJSON(&req)

	summary, err := h.explainer.GenerateGlobalAnalysisSummary(c.Request.Context(), id, services.ExplainOptions{Force: req.Force})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, gin.H{"summary": summary})
}

// EnqueueRag enqueues the analysis_rag job and returns the job id; the
// worker picks it up and reports progress through the job row and the
// redis bus.
func (h *AnalysisHandler) EnqueueRag(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid analysis id")
		return
	}

	payload, err := json.Marshal(jobs.AnalysisRagPayload{AnalysisID: id})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := h.jobRuns.Enqueue(c.Request.Context(), nil, &types.JobRun{
		JobType: jobs.JobTypeAnalysisRag,
		Payload: payload,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusAccepted, gin.H{"job_id": job.ID})
}

func (h *AnalysisHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.jobRuns.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, job)
}

func (h *AnalysisHandler) Enrich(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid analysis id")
		return
	}
	if err := h.enrichment.EnrichAnalysis(c.Request.Context(), id); err != nil {
		RespondAppError(c, err)
		return
	}
	status, err := h.enrichment.GetEnrichmentStatus(c.Request.Context(), id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, status)
}

func (h *AnalysisHandler) EnrichmentStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid analysis id")
		return
	}
	status, err := h.enrichment.GetEnrichmentStatus(c.Request.Context(), id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, status)
}
