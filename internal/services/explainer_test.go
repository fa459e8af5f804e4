package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/types"
)

func TestGenerateModuleExplanationCachesAndForces(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := sampleSource("0xabc::coin")
	module := e.seedModule(t, "0xabc::coin", &src)
	if err := e.repos.modules.UpdateExplanation(ctx, nil, module.ID, "cached explanation", nil, types.ExplanationDone); err != nil {
		t.Fatalf("seed explanation: %v", err)
	}

	// Cache respect: no completion call for a cached module.
	out, err := e.explainer.GenerateModuleExplanation(ctx, module.ID.String(), ExplainOptions{})
	if err != nil {
		t.Fatalf("cached explanation: %v", err)
	}
	if out.Explanation != "cached explanation" {
		t.Fatalf("explanation = %q, want cached", out.Explanation)
	}
	if e.ai.completeCalls != 0 {
		t.Fatalf("completion called despite cache")
	}

	// Cache override: force always regenerates.
	e.ai.completions = []string{"fresh explanation\nULTRA_SUMMARY: Mints coins."}
	out, err = e.explainer.GenerateModuleExplanation(ctx, module.ID.String(), ExplainOptions{Force: true})
	if err != nil {
		t.Fatalf("forced explanation: %v", err)
	}
	if e.ai.completeCalls != 1 {
		t.Fatalf("completion calls = %d, want 1", e.ai.completeCalls)
	}
	if out.Explanation != "fresh explanation" {
		t.Fatalf("explanation = %q", out.Explanation)
	}
	if out.UltraSummary == nil || *out.UltraSummary != "Mints coins." {
		t.Fatalf("ultra summary = %v", out.UltraSummary)
	}
}

func TestParseUltraSummary(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		explanation string
		ultra       string
	}{
		{
			name:        "marker on last line",
			response:    "...body text...\nULTRA_SUMMARY: Does X.",
			explanation: "...body text...",
			ultra:       "Does X.",
		},
		{
			name:        "marker absent",
			response:    "just a body",
			explanation: "just a body",
			ultra:       "",
		},
		{
			name:        "extra whitespace",
			response:    "body\nULTRA_SUMMARY:    Trimmed sentence.  ",
			explanation: "body",
			ultra:       "Trimmed sentence.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			explanation, ultra := parseUltraSummary(tc.response)
			if explanation != tc.explanation {
				t.Fatalf("explanation = %q, want %q", explanation, tc.explanation)
			}
			if tc.ultra == "" {
				if ultra != nil {
					t.Fatalf("ultra = %q, want nil", *ultra)
				}
				return
			}
			if ultra == nil || *ultra != tc.ultra {
				t.Fatalf("ultra = %v, want %q", ultra, tc.ultra)
			}
		})
	}
}

func TestGenerateModuleExplanationPersistsAndIndexes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := sampleSource("0xabc::coin")
	module := e.seedModule(t, "0xabc::coin", &src)
	e.ai.completions = []string{"explained body\nULTRA_SUMMARY: A coin module."}

	if _, err := e.explainer.GenerateModuleExplanation(ctx, module.ID.String(), ExplainOptions{}); err != nil {
		t.Fatalf("explanation: %v", err)
	}

	fresh, err := e.repos.modules.GetByID(ctx, nil, module.ID)
	if err != nil {
		t.Fatalf("reload module: %v", err)
	}
	if fresh.ExplanationStatus != types.ExplanationDone {
		t.Fatalf("status = %q, want done", fresh.ExplanationStatus)
	}
	if fresh.Explanation == nil || *fresh.Explanation != "explained body" {
		t.Fatalf("explanation = %v", fresh.Explanation)
	}
	if fresh.UltraSummary == nil || *fresh.UltraSummary != "A coin module." {
		t.Fatalf("ultra summary = %v", fresh.UltraSummary)
	}

	// Best-effort module_analysis doc landed.
	if _, err := e.repos.ragDocs.GetByModuleAndType(ctx, nil, module.ID, types.DocTypeModuleAnalysis); err != nil {
		t.Fatalf("module_analysis doc missing: %v", err)
	}
}

func TestGenerateModuleExplanationFailureSetsErrorStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	module := e.seedModule(t, "0xabc::coin", nil)
	e.resolver.fail("0xabc::coin")

	_, err := e.explainer.GenerateModuleExplanation(ctx, module.ID.String(), ExplainOptions{})
	if err == nil {
		t.Fatalf("expected failure when source unavailable")
	}

	fresh, err := e.repos.modules.GetByID(ctx, nil, module.ID)
	if err != nil {
		t.Fatalf("reload module: %v", err)
	}
	if fresh.ExplanationStatus != types.ExplanationError {
		t.Fatalf("status = %q, want error", fresh.ExplanationStatus)
	}
	if fresh.Explanation != nil {
		t.Fatalf("explanation set despite failure")
	}
}

func TestGeneratePackageExplanation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	srcA := sampleSource("0xabc::coin")
	srcB := sampleSource("0xabc::pool")
	e.seedModule(t, "0xabc::coin", &srcA)
	e.seedModule(t, "0xabc::pool", &srcB)
	e.ai.completions = []string{
		"coin explained\nULTRA_SUMMARY: Handles coins.",
		"pool explained\nULTRA_SUMMARY: Handles pools.",
		"package level synthesis",
	}

	out, err := e.explainer.GeneratePackageExplanation(ctx, "0xabc", ExplainOptions{})
	if err != nil {
		t.Fatalf("package explanation: %v", err)
	}
	if out.Explanation != "package level synthesis" {
		t.Fatalf("explanation = %q", out.Explanation)
	}

	pkg, err := e.repos.packages.GetByAddress(ctx, nil, "0xabc")
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	if pkg.ExplanationStatus != types.ExplanationDone {
		t.Fatalf("status = %q, want done", pkg.ExplanationStatus)
	}

	// The synthesis prompt carried the module ultra-summaries.
	mustContain(t, e.ai.lastMessages[len(e.ai.lastMessages)-1].Content, "Handles coins.")
}

func TestGeneratePackageExplanationContinuesPastModuleFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := sampleSource("0xabc::coin")
	e.seedModule(t, "0xabc::coin", &src)
	e.seedModule(t, "0xabc::broken", nil)
	e.resolver.fail("0xabc::broken")
	e.ai.completions = []string{
		"coin explained\nULTRA_SUMMARY: Handles coins.",
		"package level synthesis",
	}

	out, err := e.explainer.GeneratePackageExplanation(ctx, "0xabc", ExplainOptions{})
	if err != nil {
		t.Fatalf("package explanation should tolerate module failure: %v", err)
	}
	if out.Explanation != "package level synthesis" {
		t.Fatalf("explanation = %q", out.Explanation)
	}
}

func TestGlobalSummaryCacheAndInvalidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	pkgA, _ := e.repos.packages.UpsertByAddress(ctx, nil, &types.Package{Address: "0xaaa", Network: "mainnet"})
	pkgB, _ := e.repos.packages.UpsertByAddress(ctx, nil, &types.Package{Address: "0xbbb", Network: "mainnet"})
	_ = e.repos.packages.UpdateExplanation(ctx, nil, pkgA.ID, "package A explained", types.ExplanationDone)
	_ = e.repos.packages.UpdateExplanation(ctx, nil, pkgB.ID, "package B explained", types.ExplanationDone)

	graph, _ := json.Marshal(types.GraphSnapshot{Nodes: []types.GraphNode{
		{FullName: "0xaaa::m1"},
		{FullName: "0xbbb::m2"},
	}})
	analysis, err := e.repos.analyses.Create(ctx, nil, &types.Analysis{
		PackageAddress: "0xaaa",
		Network:        "mainnet",
		Status:         "done",
		Graph:          graph,
	})
	if err != nil {
		t.Fatalf("seed analysis: %v", err)
	}

	e.ai.completions = []string{"summary for A"}
	summary, err := e.explainer.GenerateGlobalAnalysisSummary(ctx, analysis.ID, ExplainOptions{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != "summary for A" {
		t.Fatalf("summary = %q", summary)
	}
	mustContain(t, e.ai.lastMessages[len(e.ai.lastMessages)-1].Content, "[PRIMARY] 0xaaa")
	mustContain(t, e.ai.lastMessages[len(e.ai.lastMessages)-1].Content, "[DEPENDENCY] 0xbbb")

	// Same primary, no force: cached.
	calls := e.ai.completeCalls
	if _, err := e.explainer.GenerateGlobalAnalysisSummary(ctx, analysis.ID, ExplainOptions{}); err != nil {
		t.Fatalf("cached summary: %v", err)
	}
	if e.ai.completeCalls != calls {
		t.Fatalf("completion called despite valid cache")
	}

	// Recomputed primary invalidates the cache without force.
	if err := e.db.Model(&types.Analysis{}).Where("id = ?", analysis.ID).
		Update("package_address", "0xbbb").Error; err != nil {
		t.Fatalf("repoint analysis: %v", err)
	}
	e.ai.completions = []string{"summary for B"}
	e.ai.completeCalls = 0
	summary, err = e.explainer.GenerateGlobalAnalysisSummary(ctx, analysis.ID, ExplainOptions{})
	if err != nil {
		t.Fatalf("regenerated summary: %v", err)
	}
	if summary != "summary for B" || e.ai.completeCalls != 1 {
		t.Fatalf("summary = %q, completeCalls = %d; want regeneration", summary, e.ai.completeCalls)
	}

	stored, err := e.repos.summaries.GetByAnalysisID(ctx, nil, analysis.ID)
	if err != nil {
		t.Fatalf("stored summary: %v", err)
	}
	if stored.PrimaryPackageID != pkgB.ID {
		t.Fatalf("stored primary = %s, want %s", stored.PrimaryPackageID, pkgB.ID)
	}
}

func TestGlobalSummaryFailsFastWithoutPrimaryExplanation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	pkgB, _ := e.repos.packages.UpsertByAddress(ctx, nil, &types.Package{Address: "0xbbb", Network: "mainnet"})
	_ = e.repos.packages.UpdateExplanation(ctx, nil, pkgB.ID, "package B explained", types.ExplanationDone)
	if _, err := e.repos.packages.UpsertByAddress(ctx, nil, &types.Package{Address: "0xaaa", Network: "mainnet"}); err != nil {
		t.Fatalf("seed package: %v", err)
	}

	graph, _ := json.Marshal(types.GraphSnapshot{Nodes: []types.GraphNode{
		{FullName: "0xaaa::m1"},
		{FullName: "0xbbb::m2"},
	}})
	analysis, _ := e.repos.analyses.Create(ctx, nil, &types.Analysis{
		PackageAddress: "0xaaa",
		Network:        "mainnet",
		Status:         "done",
		Graph:          graph,
	})

	_, err := e.explainer.GenerateGlobalAnalysisSummary(ctx, analysis.ID, ExplainOptions{})
	if err == nil {
		t.Fatalf("expected failure naming the primary package")
	}
	mustContain(t, err.Error(), "0xaaa")
}

func TestGenerateAllModuleExplanationsAccounting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	srcA := sampleSource("0xabc::coin")
	e.seedModule(t, "0xabc::coin", &srcA)
	e.seedModule(t, "0xabc::broken", nil)
	e.resolver.fail("0xabc::broken")
	e.ai.completions = []string{"explained\nULTRA_SUMMARY: Fine."}

	var started []int
	res, err := e.explainer.GenerateAllModuleExplanations(ctx, []string{"0xabc::coin", "0xabc::broken"}, BulkOptions{
		OnProgress: func(started_, total int) {
			started = append(started, started_)
			if total != 2 {
				t.Errorf("total = %d, want 2", total)
			}
		},
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.Generated+res.Failed != 2 || res.Skipped != 0 {
		t.Fatalf("bulk result = %+v, want generated+failed==2 and skipped==0", res)
	}
	if res.Generated != 1 || res.Failed != 1 {
		t.Fatalf("bulk result = %+v", res)
	}
	if len(started) != 2 {
		t.Fatalf("progress callbacks = %v, want one per unit", started)
	}
}

func TestGenerateAllPackageExplanationsExplicitSkip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pkg, _ := e.repos.packages.UpsertByAddress(ctx, nil, &types.Package{Address: "0xabc", Network: "mainnet"})
	_ = e.repos.packages.UpdateExplanation(ctx, nil, pkg.ID, "cached", types.ExplanationDone)

	res, err := e.explainer.GenerateAllPackageExplanations(ctx, []string{"0xabc"}, BulkOptions{})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.Skipped != 1 || res.Generated != 0 || res.Failed != 0 {
		t.Fatalf("bulk result = %+v, want explicit skip", res)
	}
	if e.ai.completeCalls != 0 {
		t.Fatalf("completion called for a skipped package")
	}
}

func TestBulkFailureIsProviderScoped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	module := e.seedModule(t, "0xabc::coin", nil)
	e.resolver.fail("0xabc::coin")

	res, err := e.explainer.GenerateAllModuleExplanations(ctx, []string{module.FullName}, BulkOptions{})
	if err != nil {
		t.Fatalf("bulk must not throw on unit failure: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("bulk result = %+v", res)
	}

	fresh, _ := e.repos.modules.GetByID(ctx, nil, module.ID)
	if fresh.ExplanationStatus != types.ExplanationError {
		t.Fatalf("status = %q, want error", fresh.ExplanationStatus)
	}
	if !errorsIsSourceUnavailable(e, ctx, module.FullName) {
		t.Fatalf("expected the unit failure to be SourceUnavailable")
	}
}

func errorsIsSourceUnavailable(e *env, ctx context.Context, ref string) bool {
	_, err := e.explainer.GenerateModuleExplanation(ctx, ref, ExplainOptions{})
	return err != nil && errors.Is(err, apperrors.ErrSourceUnavailable)
}
