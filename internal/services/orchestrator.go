package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/types"
)

type ProcessResult struct {
	Indexed             int        `json:"indexed"`
	Failed              int        `json:"failed"`
	ModuleExplanations  BulkResult `json:"module_explanations"`
	PackageExplanations BulkResult `json:"package_explanations"`
}

// ProgressFunc receives a monotone 0-100 percentage plus the stage label.
type ProgressFunc func(progress int, stage string)

// Display names assigned to the well-known system packages.
var wellKnownPackageNames = map[string]string{
	"0x1": "MoveStdlib",
	"0x2": "SuiFramework",
}

// Phase boundaries of the combined progress signal: module processing,
// module explanations, package explanations.
const (
	phaseModulesEnd     = 34
	phaseModuleExplEnd  = 67
	phasePackageExplEnd = 100
	pacingEvery         = 5
	pacingDelay         = 200 * time.Millisecond
)

// AnalysisRagService is the top-level pipeline run after a package-graph
// analysis completes: it walks every discovered module, resolves source,
// upserts package/module/function rows, indexes, then fans out module and
// package explanation generation.
type AnalysisRagService interface {
	ProcessAnalysisForRag(ctx context.Context, analysisID uuid.UUID, onProgress ProgressFunc) (*ProcessResult, error)
	// ProcessAnalysisForRagAsync launches the pipeline without awaiting
	// it; the terminal result is only logged.
	ProcessAnalysisForRagAsync(analysisID uuid.UUID)
}

type analysisRagService struct {
	log       *logger.Logger
	source    SourceService
	indexer   IndexerService
	explainer ExplainerService
	analyses  repos.AnalysisRepo
	packages  repos.PackageRepo
	modules   repos.ModuleRepo
	functions repos.ModuleFunctionRepo

	pacing time.Duration
}

func NewAnalysisRagService(
	log *logger.Logger,
	source SourceService,
	indexer IndexerService,
	explainer ExplainerService,
	analyses repos.AnalysisRepo,
	packages repos.PackageRepo,
	modules repos.ModuleRepo,
	functions repos.ModuleFunctionRepo,
) AnalysisRagService {
	return &analysisRagService{
		log:       log.With("service", "AnalysisRagService"),
		source:    source,
		indexer:   indexer,
		explainer: explainer,
		analyses:  analyses,
		packages:  packages,
		modules:   modules,
		functions: functions,
		pacing:    pacingDelay,
	}
}

func (s *analysisRagService) ProcessAnalysisForRag(ctx context.Context, analysisID uuid.UUID, onProgress ProgressFunc) (*ProcessResult, error) {
	analysis, err := s.analyses.GetByID(ctx, nil, analysisID)
	if err != nil {
		return nil, err
	}
	snap, err := analysis.Snapshot()
	if err != nil {
		return nil, err
	}

	report := func(progress int, stage string) {
		if onProgress != nil {
			onProgress(progress, stage)
		}
		if err := s.analyses.UpdateProgress(ctx, nil, analysisID, progress); err != nil {
			s.log.Warn("analysis progress update failed",
				"analysis_id", analysisID.String(),
				"error", err.Error(),
			)
		}
	}

	result := &ProcessResult{}
	var moduleRefs []string

	// Phase 1: per-module processing.
	total := len(snap.Nodes)
	for i, node := range snap.Nodes {
		fullName := node.FullName
		addr, name, ok := types.SplitModuleFullName(fullName)
		if !ok {
			s.log.Warn("skipping malformed module full name", "full_name", fullName)
			continue
		}

		module, procErr := s.processModule(ctx, analysis, snap, node, addr, name)
		if procErr != nil {
			result.Failed++
			s.log.Warn("module processing failed",
				"module", fullName,
				"error", procErr.Error(),
			)
			continue
		}
		moduleRefs = append(moduleRefs, module.FullName)

		// Index only when source was obtained; no source counts as an
		// indexing failure but never stops the run.
		if module.SourceCode == nil {
			result.Failed++
		} else {
			idxRes, idxErr := s.indexer.IndexModule(ctx, module.ID.String(), IndexOptions{Force: false})
			switch {
			case idxErr != nil:
				result.Failed++
				s.log.Warn("indexing failed", "module", fullName, "error", idxErr.Error())
			case idxRes.Indexed:
				result.Indexed++
			}
		}

		if total > 0 {
			report((i+1)*phaseModulesEnd/total, "modules")
		}
		if (i+1)%pacingEvery == 0 {
			time.Sleep(s.pacing)
		}
	}

	// Phase 2: module explanations.
	modBulk, err := s.explainer.GenerateAllModuleExplanations(ctx, moduleRefs, BulkOptions{
		OnProgress: func(started, bulkTotal int) {
			report(phaseModulesEnd+started*(phaseModuleExplEnd-phaseModulesEnd)/bulkTotal, "module_explanations")
		},
	})
	if err != nil {
		return nil, err
	}
	result.ModuleExplanations = *modBulk

	// Phase 3: package explanations over the deduped address list.
	pkgRefs := snap.PackageAddresses()
	pkgBulk, err := s.explainer.GenerateAllPackageExplanations(ctx, pkgRefs, BulkOptions{
		OnProgress: func(started, bulkTotal int) {
			report(phaseModuleExplEnd+started*(phasePackageExplEnd-phaseModuleExplEnd)/bulkTotal, "package_explanations")
		},
	})
	if err != nil {
		return nil, err
	}
	result.PackageExplanations = *pkgBulk

	report(phasePackageExplEnd, "done")
	return result, nil
}

func (s *analysisRagService) processModule(
	ctx context.Context,
	analysis *types.Analysis,
	snap *types.GraphSnapshot,
	node types.GraphNode,
	addr, name string,
) (*types.Module, error) {
	pkg := &types.Package{Address: addr, Network: analysis.Network}
	if display, ok := wellKnownPackageNames[addr]; ok {
		pkg.Name = &display
	}
	pkg, err := s.packages.UpsertByAddress(ctx, nil, pkg)
	if err != nil {
		return nil, err
	}

	friendsJSON, _ := json.Marshal(node.Friends)
	var moduleFlags []types.GraphFlag
	for _, f := range snap.Flags {
		if f.Module == node.FullName || f.Module == name {
			moduleFlags = append(moduleFlags, f)
		}
	}
	flagsJSON, _ := json.Marshal(moduleFlags)

	module, err := s.modules.UpsertByFullName(ctx, nil, &types.Module{
		FullName:  node.FullName,
		Name:      name,
		PackageID: pkg.ID,
		Friends:   friendsJSON,
		Flags:     flagsJSON,
	})
	if err != nil {
		return nil, err
	}

	// Source fetch failure is tolerated; indexing for this module is
	// simply skipped.
	if _, srcErr := s.source.EnsureSource(ctx, module); srcErr != nil {
		s.log.Warn("source fetch failed",
			"module", module.FullName,
			"error", srcErr.Error(),
		)
	}

	for _, fn := range node.Functions {
		visibility := fn.Visibility
		if visibility == "" {
			visibility = "private"
		}
		if err := s.functions.Upsert(ctx, nil, &types.ModuleFunction{
			ModuleID:   module.ID,
			Name:       fn.Name,
			Visibility: visibility,
			IsEntry:    fn.IsEntry,
		}); err != nil {
			s.log.Warn("function upsert failed",
				"module", module.FullName,
				"function", fn.Name,
				"error", err.Error(),
			)
		}
	}

	return module, nil
}

func (s *analysisRagService) ProcessAnalysisForRagAsync(analysisID uuid.UUID) {
	go func() {
		result, err := s.ProcessAnalysisForRag(context.Background(), analysisID, nil)
		if err != nil {
			s.log.Error("background analysis RAG processing failed",
				"analysis_id", analysisID.String(),
				"error", err.Error(),
			)
			return
		}
		s.log.Info("background analysis RAG processing finished",
			"analysis_id", analysisID.String(),
			"indexed", result.Indexed,
			"failed", result.Failed,
			"module_explanations", result.ModuleExplanations.Generated,
			"package_explanations", result.PackageExplanations.Generated,
		)
	}()
}
