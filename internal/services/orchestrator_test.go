package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/movescan/movescan-backend/internal/types"
)

func seedAnalysis(t *testing.T, e *env, packageAddress string, snap types.GraphSnapshot) *types.Analysis {
	t.Helper()
	graph, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal graph: %v", err)
	}
	analysis, err := e.repos.analyses.Create(context.Background(), nil, &types.Analysis{
		PackageAddress: packageAddress,
		Network:        "mainnet",
		Status:         "done",
		Graph:          graph,
	})
	if err != nil {
		t.Fatalf("seed analysis: %v", err)
	}
	return analysis
}

func TestProcessAnalysisForRagEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// A::m1 decompiles; B::m2 does not.
	e.resolver.set("0xaaa::m1", sampleSource("0xaaa::m1"))
	e.resolver.fail("0xbbb::m2")
	e.ai.completions = []string{"explained\nULTRA_SUMMARY: Fine.", "package synthesis"}

	analysis := seedAnalysis(t, e, "0xaaa", types.GraphSnapshot{
		Nodes: []types.GraphNode{
			{
				FullName: "0xaaa::m1",
				Friends:  []string{"0xaaa::m3"},
				Functions: []types.GraphFunction{
					{Name: "mint", Visibility: "public", IsEntry: true},
					{Name: "burn", Visibility: "private"},
				},
			},
			{FullName: "0xbbb::m2"},
		},
		Flags: []types.GraphFlag{{Module: "0xaaa::m1", Kind: "upgradeable", Severity: "info"}},
	})

	var progress []int
	result, err := e.pipeline.ProcessAnalysisForRag(ctx, analysis.ID, func(p int, _ string) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	// Both package rows and both module rows exist.
	for _, addr := range []string{"0xaaa", "0xbbb"} {
		if _, err := e.repos.packages.GetByAddress(ctx, nil, addr); err != nil {
			t.Fatalf("package %s missing: %v", addr, err)
		}
	}
	m1, err := e.repos.modules.GetByFullName(ctx, nil, "0xaaa::m1")
	if err != nil {
		t.Fatalf("module m1 missing: %v", err)
	}
	if _, err := e.repos.modules.GetByFullName(ctx, nil, "0xbbb::m2"); err != nil {
		t.Fatalf("module m2 missing: %v", err)
	}

	// Only m1 was indexable.
	if result.Indexed != 1 {
		t.Fatalf("indexed = %d, want 1", result.Indexed)
	}
	if result.Failed < 1 {
		t.Fatalf("failed = %d, want >= 1", result.Failed)
	}

	// Functions from the graph node were upserted.
	fns, err := e.repos.functions.ListByModuleID(ctx, nil, m1.ID)
	if err != nil {
		t.Fatalf("functions: %v", err)
	}
	if len(fns) != 2 {
		t.Fatalf("functions = %d, want 2", len(fns))
	}

	// Flags scoped to m1 landed on the module row.
	var flags []types.GraphFlag
	if err := json.Unmarshal(m1.Flags, &flags); err != nil || len(flags) != 1 || flags[0].Kind != "upgradeable" {
		t.Fatalf("flags = %s", string(m1.Flags))
	}

	// Explanations were attempted for both; m2 fails with source
	// unavailable and is counted, not thrown.
	if result.ModuleExplanations.Total != 2 {
		t.Fatalf("module explanation total = %d, want 2", result.ModuleExplanations.Total)
	}
	if result.ModuleExplanations.Failed < 1 {
		t.Fatalf("module explanation failed = %d, want >= 1", result.ModuleExplanations.Failed)
	}
	if result.PackageExplanations.Total != 2 {
		t.Fatalf("package explanation total = %d, want 2", result.PackageExplanations.Total)
	}

	// Progress is monotone and terminal.
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress not monotone: %v", progress)
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("progress = %v, want terminal 100", progress)
	}

	fresh, err := e.repos.analyses.GetByID(ctx, nil, analysis.ID)
	if err != nil {
		t.Fatalf("reload analysis: %v", err)
	}
	if fresh.Progress != 100 {
		t.Fatalf("persisted progress = %d, want 100", fresh.Progress)
	}
}

func TestProcessAnalysisSkipsMalformedFullNames(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.resolver.set("0xaaa::m1", sampleSource("0xaaa::m1"))
	e.ai.completions = []string{"explained\nULTRA_SUMMARY: Fine.", "package synthesis"}

	analysis := seedAnalysis(t, e, "0xaaa", types.GraphSnapshot{
		Nodes: []types.GraphNode{
			{FullName: "not-a-module-name"},
			{FullName: "0xaaa::m1"},
		},
	})

	result, err := e.pipeline.ProcessAnalysisForRag(ctx, analysis.ID, nil)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if result.Indexed != 1 {
		t.Fatalf("indexed = %d, want 1", result.Indexed)
	}
	if result.ModuleExplanations.Total != 1 {
		t.Fatalf("module explanation total = %d, want the malformed node dropped", result.ModuleExplanations.Total)
	}

	var n int64
	e.db.Model(&types.Module{}).Count(&n)
	if n != 1 {
		t.Fatalf("module rows = %d, want 1", n)
	}
}

func TestProcessAnalysisAssignsWellKnownPackageNames(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.resolver.fail("0x1::coin")
	e.ai.completions = []string{"package synthesis"}

	analysis := seedAnalysis(t, e, "0x1", types.GraphSnapshot{
		Nodes: []types.GraphNode{{FullName: "0x1::coin"}},
	})

	if _, err := e.pipeline.ProcessAnalysisForRag(ctx, analysis.ID, nil); err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	pkg, err := e.repos.packages.GetByAddress(ctx, nil, "0x1")
	if err != nil {
		t.Fatalf("package missing: %v", err)
	}
	if pkg.Name == nil || *pkg.Name != "MoveStdlib" {
		t.Fatalf("package name = %v, want MoveStdlib", pkg.Name)
	}
}

func TestProcessAnalysisSecondRunSkipsIndexedModules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.resolver.set("0xaaa::m1", sampleSource("0xaaa::m1"))
	e.ai.completions = []string{"explained\nULTRA_SUMMARY: Fine.", "package synthesis"}

	analysis := seedAnalysis(t, e, "0xaaa", types.GraphSnapshot{
		Nodes: []types.GraphNode{{FullName: "0xaaa::m1"}},
	})

	first, err := e.pipeline.ProcessAnalysisForRag(ctx, analysis.ID, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Indexed != 1 {
		t.Fatalf("first run indexed = %d, want 1", first.Indexed)
	}

	second, err := e.pipeline.ProcessAnalysisForRag(ctx, analysis.ID, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Indexed != 0 || second.Failed != 0 {
		t.Fatalf("second run = %+v, want everything already in place", second)
	}
	if second.ModuleExplanations.Skipped != 1 {
		t.Fatalf("second run explanations = %+v, want cached skip", second.ModuleExplanations)
	}
}
