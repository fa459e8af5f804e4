package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/movescan/movescan-backend/internal/services"
)

// AnalysisRagPayload is the JobRun payload for JobTypeAnalysisRag.
type AnalysisRagPayload struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
}

// RegisterAnalysisRag wires the post-analysis RAG pipeline as a durable
// job: the orchestrator's progress callback is forwarded to the job row
// and the progress bus.
func RegisterAnalysisRag(registry *Registry, svc services.AnalysisRagService) {
	registry.Register(JobTypeAnalysisRag, func(jc *JobContext) error {
		var payload AnalysisRagPayload
		if err := json.Unmarshal(jc.Job.Payload, &payload); err != nil {
			return fmt.Errorf("invalid analysis_rag payload: %w", err)
		}
		if payload.AnalysisID == uuid.Nil {
			return fmt.Errorf("analysis_rag payload missing analysis_id")
		}

		result, err := svc.ProcessAnalysisForRag(jc.Ctx, payload.AnalysisID, func(progress int, stage string) {
			jc.Progress(progress, stage)
		})
		if err != nil {
			return err
		}
		jc.SetResult(result)
		return nil
	})
}
