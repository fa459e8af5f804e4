package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/movescan/movescan-backend/internal/clients/revela"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/types"
)

type EnrichmentStatus struct {
	Total      int     `json:"total"`
	Enriched   int     `json:"enriched"`
	Percentage float64 `json:"percentage"`
}

// EnrichmentService refines coarse module-call edges with precise
// function-level call evidence once decompiled source is available. The
// refinement is strictly additive: edges with no precise matches are left
// untouched.
type EnrichmentService interface {
	EnrichAnalysis(ctx context.Context, analysisID uuid.UUID) error
	GetEnrichmentStatus(ctx context.Context, analysisID uuid.UUID) (*EnrichmentStatus, error)
}

type enrichmentService struct {
	log      *logger.Logger
	source   SourceService
	analyses repos.AnalysisRepo
	edges    repos.AnalysisEdgeRepo
}

func NewEnrichmentService(
	log *logger.Logger,
	source SourceService,
	analyses repos.AnalysisRepo,
	edges repos.AnalysisEdgeRepo,
) EnrichmentService {
	return &enrichmentService{
		log:      log.With("service", "EnrichmentService"),
		source:   source,
		analyses: analyses,
		edges:    edges,
	}
}

func (s *enrichmentService) EnrichAnalysis(ctx context.Context, analysisID uuid.UUID) error {
	analysis, err := s.analyses.GetByID(ctx, nil, analysisID)
	if err != nil {
		return err
	}
	edges, err := s.edges.ListByAnalysis(ctx, nil, analysisID)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}

	bySource := map[string][]*types.AnalysisEdge{}
	for _, e := range edges {
		bySource[e.SourceModule] = append(bySource[e.SourceModule], e)
	}

	for sourceModule, moduleEdges := range bySource {
		addr, name, ok := types.SplitModuleFullName(sourceModule)
		if !ok {
			s.log.Warn("skipping edges with malformed source module", "source_module", sourceModule)
			continue
		}

		// One fetch per distinct source module; a failed fetch skips all
		// of its edges.
		resolved, err := s.source.Resolve(ctx, addr, name, analysis.Network)
		if err != nil {
			s.log.Warn("source fetch failed, skipping edges",
				"source_module", sourceModule,
				"edges", len(moduleEdges),
				"error", err.Error(),
			)
			continue
		}

		for _, edge := range moduleEdges {
			calls := matchPreciseCalls(resolved.Functions, addr, edge.TargetModule)
			if len(calls) == 0 {
				continue
			}
			if err := s.augmentEdge(ctx, edge, calls); err != nil {
				s.log.Warn("edge evidence update failed",
					"edge_id", edge.ID.String(),
					"error", err.Error(),
				)
			}
		}
	}
	return nil
}

// matchPreciseCalls scans a source module's function call lists for calls
// targeting targetModule. Call-target module names may appear fully
// qualified or bare, so a bare name is qualified with the caller's own
// package address, and a bare target tail is accepted independently.
// Known limitation: a bare-name call into a different package qualifies
// to the wrong address and is matched only through the bare tail.
func matchPreciseCalls(functions []revela.Function, callerPackage, targetModule string) []types.PreciseCall {
	_, targetName, targetOK := types.SplitModuleFullName(targetModule)
	if !targetOK {
		targetName = targetModule
	}

	var out []types.PreciseCall
	for _, fn := range functions {
		for _, call := range fn.Calls {
			callModule := strings.TrimSpace(call.Module)
			if callModule == "" {
				continue
			}
			qualified := callModule
			if !strings.Contains(callModule, "::") {
				qualified = callerPackage + "::" + callModule
			}
			if qualified != targetModule && callModule != targetName {
				continue
			}
			out = append(out, types.PreciseCall{
				CallerFunction: fn.Name,
				CalleeModule:   qualified,
				CalleeFunction: call.Func,
			})
		}
	}
	return out
}

// augmentEdge merges the call list and enrichment markers into the
// existing evidence blob without discarding prior keys.
func (s *enrichmentService) augmentEdge(ctx context.Context, edge *types.AnalysisEdge, calls []types.PreciseCall) error {
	evidence := map[string]any{}
	if len(edge.Evidence) > 0 {
		if err := json.Unmarshal(edge.Evidence, &evidence); err != nil {
			s.log.Warn("edge evidence not a JSON object, rebuilding",
				"edge_id", edge.ID.String(),
			)
			evidence = map[string]any{}
		}
	}
	evidence["calls"] = calls
	evidence["enriched"] = true
	evidence["enriched_at"] = time.Now().UTC().Format(time.RFC3339)
	evidence["method"] = "revela_source"

	raw, err := json.Marshal(evidence)
	if err != nil {
		return err
	}
	return s.edges.UpdateEvidence(ctx, nil, edge.ID, raw)
}

func (s *enrichmentService) GetEnrichmentStatus(ctx context.Context, analysisID uuid.UUID) (*EnrichmentStatus, error) {
	if _, err := s.analyses.GetByID(ctx, nil, analysisID); err != nil {
		return nil, err
	}
	edges, err := s.edges.ListByAnalysis(ctx, nil, analysisID)
	if err != nil {
		return nil, err
	}

	status := &EnrichmentStatus{Total: len(edges)}
	for _, e := range edges {
		if len(e.Evidence) == 0 {
			continue
		}
		var evidence map[string]any
		if err := json.Unmarshal(e.Evidence, &evidence); err != nil {
			continue
		}
		if enriched, ok := evidence["enriched"].(bool); ok && enriched {
			status.Enriched++
		}
	}
	if status.Total > 0 {
		status.Percentage = float64(status.Enriched) * 100 / float64(status.Total)
	}
	return status, nil
}
