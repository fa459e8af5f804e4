package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/clients/openai"
	"github.com/movescan/movescan-backend/internal/clients/pinecone"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/types"
)

type ExplainOptions struct {
	Force bool
}

type ModuleExplanation struct {
	Explanation  string  `json:"explanation"`
	UltraSummary *string `json:"ultra_summary,omitempty"`
}

type PackageExplanation struct {
	Explanation string `json:"explanation"`
}

type BulkOptions struct {
	Force      bool
	OnProgress func(started, total int)
}

type BulkResult struct {
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Completion token limits per explanation tier.
const (
	moduleExplainTemperature  = 0.5
	moduleExplainMaxTokens    = 2000
	packageExplainMaxTokens   = 2500
	globalSummaryMaxTokens    = 600
	siblingContextLimit       = 3
	siblingContextMaxChars    = 2000
	packageContextModuleLimit = 5
	bulkConcurrency           = 4
)

var ultraSummaryRe = regexp.MustCompile(`ULTRA_SUMMARY:\s*(.+)`)

// ExplainerService drives the completion provider to produce module-,
// package-, and analysis-level explanations, caching results on the rows
// and advancing the none/pending/done/error status machine.
type ExplainerService interface {
	GenerateModuleExplanation(ctx context.Context, ref string, opts ExplainOptions) (*ModuleExplanation, error)
	GeneratePackageExplanation(ctx context.Context, ref string, opts ExplainOptions) (*PackageExplanation, error)
	GenerateGlobalAnalysisSummary(ctx context.Context, analysisID uuid.UUID, opts ExplainOptions) (string, error)
	GenerateAllModuleExplanations(ctx context.Context, refs []string, opts BulkOptions) (*BulkResult, error)
	GenerateAllPackageExplanations(ctx context.Context, refs []string, opts BulkOptions) (*BulkResult, error)
}

type explainerService struct {
	log       *logger.Logger
	ai        openai.Client
	vectors   pinecone.VectorStore
	source    SourceService
	indexer   IndexerService
	prompts   *PromptSet
	modules   repos.ModuleRepo
	packages  repos.PackageRepo
	analyses  repos.AnalysisRepo
	ragDocs   repos.RagDocumentRepo
	summaries repos.GlobalSummaryRepo
}

func NewExplainerService(
	log *logger.Logger,
	ai openai.Client,
	vectors pinecone.VectorStore,
	source SourceService,
	indexer IndexerService,
	prompts *PromptSet,
	modules repos.ModuleRepo,
	packages repos.PackageRepo,
	analyses repos.AnalysisRepo,
	ragDocs repos.RagDocumentRepo,
	summaries repos.GlobalSummaryRepo,
) ExplainerService {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &explainerService{
		log:       log.With("service", "ExplainerService"),
		ai:        ai,
		vectors:   vectors,
		source:    source,
		indexer:   indexer,
		prompts:   prompts,
		modules:   modules,
		packages:  packages,
		analyses:  analyses,
		ragDocs:   ragDocs,
		summaries: summaries,
	}
}

func (s *explainerService) GenerateModuleExplanation(ctx context.Context, ref string, opts ExplainOptions) (*ModuleExplanation, error) {
	module, err := s.modules.ResolveRef(ctx, nil, ref)
	if err != nil {
		return nil, err
	}

	if !opts.Force && module.Explanation != nil && strings.TrimSpace(*module.Explanation) != "" {
		return &ModuleExplanation{
			Explanation:  *module.Explanation,
			UltraSummary: module.UltraSummary,
		}, nil
	}

	if err := s.modules.UpdateStatus(ctx, nil, module.ID, types.ExplanationPending); err != nil {
		return nil, err
	}

	out, err := s.generateModuleExplanation(ctx, module)
	if err != nil {
		if stErr := s.modules.UpdateStatus(ctx, nil, module.ID, types.ExplanationError); stErr != nil {
			s.log.Warn("failed to mark module explanation error",
				"module", module.FullName,
				"error", stErr.Error(),
			)
		}
		return nil, err
	}

	// Best-effort: keep the analysis document fresh. Never fails the
	// explanation itself.
	if _, idxErr := s.indexer.IndexModuleAnalysis(ctx, module.ID.String(), IndexOptions{Force: true}); idxErr != nil {
		s.log.Warn("module analysis re-index failed",
			"module", module.FullName,
			"error", idxErr.Error(),
		)
	}

	return out, nil
}

func (s *explainerService) generateModuleExplanation(ctx context.Context, module *types.Module) (*ModuleExplanation, error) {
	sourceCode, err := s.source.EnsureSource(ctx, module)
	if err != nil {
		return nil, err
	}

	addr, _, ok := types.SplitModuleFullName(module.FullName)
	if !ok {
		return nil, apperrors.Validation("malformed module full name %q", module.FullName)
	}

	siblingContext := s.siblingContext(ctx, module, addr)

	var user strings.Builder
	fmt.Fprintf(&user, "Module: %s\n\n", module.FullName)
	if siblingContext != "" {
		fmt.Fprintf(&user, "Related modules in the same package:\n%s\n", siblingContext)
	}
	fmt.Fprintf(&user, "Decompiled source:\n%s\n", sourceCode)

	response, err := s.ai.Complete(ctx, []openai.Message{
		{Role: "system", Content: s.prompts.ModuleSystem},
		{Role: "user", Content: user.String()},
	}, openai.CompleteOptions{
		Temperature: moduleExplainTemperature,
		MaxTokens:   moduleExplainMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	explanation, ultra := parseUltraSummary(response)
	if err := s.modules.UpdateExplanation(ctx, nil, module.ID, explanation, ultra, types.ExplanationDone); err != nil {
		return nil, err
	}
	module.Explanation = &explanation
	module.UltraSummary = ultra

	return &ModuleExplanation{Explanation: explanation, UltraSummary: ultra}, nil
}

// siblingContext retrieves up to 3 nearest documents from the same
// package, excluding the module's own documents. Best-effort: retrieval
// failures degrade to an empty context block.
func (s *explainerService) siblingContext(ctx context.Context, module *types.Module, packageAddress string) string {
	query := fmt.Sprintf("%s source code analysis", module.FullName)
	vecs, err := s.ai.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		s.log.Warn("sibling context embed failed", "module", module.FullName)
		return ""
	}

	matches, err := s.vectors.Query(ctx, "", vecs[0], siblingContextLimit+2, map[string]any{
		"package_address": packageAddress,
	})
	if err != nil {
		s.log.Warn("sibling context query failed", "module", module.FullName, "error", err.Error())
		return ""
	}

	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		if id, err := uuid.Parse(m.ID); err == nil {
			ids = append(ids, id)
		}
	}
	docs, err := s.ragDocs.GetByIDs(ctx, nil, ids)
	if err != nil {
		return ""
	}
	byID := make(map[uuid.UUID]*types.RagDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	var b strings.Builder
	included := 0
	for _, m := range matches {
		if included >= siblingContextLimit {
			break
		}
		id, err := uuid.Parse(m.ID)
		if err != nil {
			continue
		}
		doc, ok := byID[id]
		if !ok || doc.ModuleID == module.ID {
			continue
		}
		content := doc.Content
		if len(content) > siblingContextMaxChars {
			content = content[:siblingContextMaxChars]
		}
		fmt.Fprintf(&b, "--- %s::%s (%s) ---\n%s\n", doc.PackageAddress, doc.ModuleName, doc.DocType, content)
		included++
	}
	return b.String()
}

func parseUltraSummary(response string) (explanation string, ultra *string) {
	loc := ultraSummaryRe.FindStringSubmatchIndex(response)
	if loc == nil {
		return strings.TrimSpace(response), nil
	}
	summary := strings.TrimSpace(response[loc[2]:loc[3]])
	explanation = strings.TrimSpace(response[:loc[0]])
	if summary == "" {
		return explanation, nil
	}
	return explanation, &summary
}

func (s *explainerService) GeneratePackageExplanation(ctx context.Context, ref string, opts ExplainOptions) (*PackageExplanation, error) {
	pkg, err := s.packages.ResolveRef(ctx, nil, ref)
	if err != nil {
		return nil, err
	}

	if !opts.Force && pkg.Explanation != nil && strings.TrimSpace(*pkg.Explanation) != "" {
		return &PackageExplanation{Explanation: *pkg.Explanation}, nil
	}

	if err := s.packages.UpdateStatus(ctx, nil, pkg.ID, types.ExplanationPending); err != nil {
		return nil, err
	}

	out, err := s.generatePackageExplanation(ctx, pkg)
	if err != nil {
		if stErr := s.packages.UpdateStatus(ctx, nil, pkg.ID, types.ExplanationError); stErr != nil {
			s.log.Warn("failed to mark package explanation error",
				"package", pkg.Address,
				"error", stErr.Error(),
			)
		}
		return nil, err
	}

	// Best-effort package analysis document.
	if fresh, gErr := s.packages.GetByID(ctx, nil, pkg.ID); gErr == nil {
		if _, idxErr := s.indexer.IndexPackageAnalysis(ctx, fresh, IndexOptions{Force: true}); idxErr != nil {
			s.log.Warn("package analysis re-index failed",
				"package", pkg.Address,
				"error", idxErr.Error(),
			)
		}
	}

	return out, nil
}

func (s *explainerService) generatePackageExplanation(ctx context.Context, pkg *types.Package) (*PackageExplanation, error) {
	mods, err := s.modules.ListByPackageID(ctx, nil, pkg.ID)
	if err != nil {
		return nil, err
	}

	// Fill explanation gaps first; a failing module does not sink the
	// package.
	for _, m := range mods {
		if m.Name == types.SentinelModuleName {
			continue
		}
		if m.Explanation != nil && strings.TrimSpace(*m.Explanation) != "" {
			continue
		}
		if _, genErr := s.GenerateModuleExplanation(ctx, m.FullName, ExplainOptions{}); genErr != nil {
			s.log.Warn("module explanation failed during package explanation",
				"module", m.FullName,
				"error", genErr.Error(),
			)
		}
	}

	mods, err = s.modules.ListByPackageID(ctx, nil, pkg.ID)
	if err != nil {
		return nil, err
	}

	var bullets strings.Builder
	var bodies strings.Builder
	bodyCount := 0
	for _, m := range mods {
		if m.Name == types.SentinelModuleName {
			continue
		}
		if m.UltraSummary != nil && strings.TrimSpace(*m.UltraSummary) != "" {
			fmt.Fprintf(&bullets, "- %s: %s\n", m.Name, *m.UltraSummary)
		}
		if bodyCount < packageContextModuleLimit && m.Explanation != nil && strings.TrimSpace(*m.Explanation) != "" {
			fmt.Fprintf(&bodies, "=== %s ===\n%s\n\n", m.FullName, *m.Explanation)
			bodyCount++
		}
	}

	displayName := pkg.Address
	if pkg.Name != nil && strings.TrimSpace(*pkg.Name) != "" {
		displayName = *pkg.Name
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Package: %s (%s)\n\n", displayName, pkg.Address)
	if bullets.Len() > 0 {
		fmt.Fprintf(&user, "Module summaries:\n%s\n", bullets.String())
	}
	if bodies.Len() > 0 {
		fmt.Fprintf(&user, "Module explanations:\n%s", bodies.String())
	}

	response, err := s.ai.Complete(ctx, []openai.Message{
		{Role: "system", Content: s.prompts.PackageSystem},
		{Role: "user", Content: user.String()},
	}, openai.CompleteOptions{
		Temperature: moduleExplainTemperature,
		MaxTokens:   packageExplainMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	explanation := strings.TrimSpace(response)
	if err := s.packages.UpdateExplanation(ctx, nil, pkg.ID, explanation, types.ExplanationDone); err != nil {
		return nil, err
	}
	return &PackageExplanation{Explanation: explanation}, nil
}

func (s *explainerService) GenerateGlobalAnalysisSummary(ctx context.Context, analysisID uuid.UUID, opts ExplainOptions) (string, error) {
	analysis, err := s.analyses.GetByID(ctx, nil, analysisID)
	if err != nil {
		return "", err
	}
	snap, err := analysis.Snapshot()
	if err != nil {
		return "", err
	}
	addrs := snap.PackageAddresses()
	if len(addrs) == 0 {
		return "", apperrors.Validation("analysis %s has no packages in its graph", analysisID)
	}

	// Primary package: the one the analysis was requested for, else the
	// first in the snapshot.
	primaryAddr := addrs[0]
	for _, a := range addrs {
		if sameAddress(a, analysis.PackageAddress) {
			primaryAddr = a
			break
		}
	}

	primaryPkg, err := s.packages.GetByAddress(ctx, nil, primaryAddr)
	if err != nil {
		return "", err
	}

	// Cache is valid only for the same primary package; a recomputed
	// primary regenerates even without force.
	if existing, getErr := s.summaries.GetByAnalysisID(ctx, nil, analysisID); getErr == nil {
		if !opts.Force && existing.PrimaryPackageID == primaryPkg.ID {
			return existing.Summary, nil
		}
	}

	type labeled struct {
		pkg     *types.Package
		primary bool
	}
	var explained []labeled
	primaryExplained := false
	for _, addr := range addrs {
		pkg, getErr := s.packages.GetByAddress(ctx, nil, addr)
		if getErr != nil {
			continue
		}
		if pkg.Explanation == nil || strings.TrimSpace(*pkg.Explanation) == "" {
			continue
		}
		isPrimary := pkg.ID == primaryPkg.ID
		if isPrimary {
			primaryExplained = true
		}
		explained = append(explained, labeled{pkg: pkg, primary: isPrimary})
	}

	if len(explained) == 0 {
		return "", apperrors.Validation("no package explanations found for analysis %s", analysisID)
	}
	if !primaryExplained {
		return "", apperrors.Validation("primary package %s has no explanation", primaryAddr)
	}

	var user strings.Builder
	for _, l := range explained {
		label := "DEPENDENCY"
		if l.primary {
			label = "PRIMARY"
		}
		name := l.pkg.Address
		if l.pkg.Name != nil && strings.TrimSpace(*l.pkg.Name) != "" {
			name = *l.pkg.Name
		}
		fmt.Fprintf(&user, "[%s] %s (%s):\n%s\n\n", label, name, l.pkg.Address, *l.pkg.Explanation)
	}

	response, err := s.ai.Complete(ctx, []openai.Message{
		{Role: "system", Content: s.prompts.GlobalSystem},
		{Role: "user", Content: user.String()},
	}, openai.CompleteOptions{
		Temperature: moduleExplainTemperature,
		MaxTokens:   globalSummaryMaxTokens,
	})
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(response)
	if _, err := s.summaries.Upsert(ctx, nil, &types.GlobalAnalysisSummary{
		AnalysisID:       analysisID,
		PrimaryPackageID: primaryPkg.ID,
		Summary:          summary,
	}); err != nil {
		return "", err
	}
	return summary, nil
}

func (s *explainerService) GenerateAllModuleExplanations(ctx context.Context, refs []string, opts BulkOptions) (*BulkResult, error) {
	return s.bulkGenerate(ctx, refs, opts, func(ctx context.Context, ref string, force bool) (skipped bool, err error) {
		module, err := s.modules.ResolveRef(ctx, nil, ref)
		if err != nil {
			return false, err
		}
		if !force && module.Explanation != nil && strings.TrimSpace(*module.Explanation) != "" {
			return true, nil
		}
		_, err = s.GenerateModuleExplanation(ctx, ref, ExplainOptions{Force: force})
		return false, err
	})
}

func (s *explainerService) GenerateAllPackageExplanations(ctx context.Context, refs []string, opts BulkOptions) (*BulkResult, error) {
	return s.bulkGenerate(ctx, refs, opts, func(ctx context.Context, ref string, force bool) (skipped bool, err error) {
		pkg, err := s.packages.ResolveRef(ctx, nil, ref)
		if err != nil {
			return false, err
		}
		if !force && pkg.Explanation != nil && strings.TrimSpace(*pkg.Explanation) != "" {
			return true, nil
		}
		_, err = s.GeneratePackageExplanation(ctx, ref, ExplainOptions{Force: force})
		return false, err
	})
}

// bulkGenerate fans out with bounded concurrency and all-settled
// semantics; per-item outcomes are collected and reduced after the wait,
// never counted from inside the goroutines.
func (s *explainerService) bulkGenerate(
	ctx context.Context,
	refs []string,
	opts BulkOptions,
	unit func(ctx context.Context, ref string, force bool) (skipped bool, err error),
) (*BulkResult, error) {
	total := len(refs)
	result := &BulkResult{Total: total}
	if total == 0 {
		return result, nil
	}

	type outcome struct {
		skipped bool
		err     error
	}
	outcomes := make([]outcome, total)

	sem := semaphore.NewWeighted(bulkConcurrency)
	var g errgroup.Group
	for i, ref := range refs {
		i, ref := i, ref
		if opts.OnProgress != nil {
			opts.OnProgress(i+1, total)
		}
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = outcome{err: err}
				return nil
			}
			defer sem.Release(1)
			skipped, err := unit(ctx, ref, opts.Force)
			outcomes[i] = outcome{skipped: skipped, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch {
		case o.err != nil:
			result.Failed++
			s.log.Warn("bulk explanation unit failed",
				"ref", refs[i],
				"error", o.err.Error(),
			)
		case o.skipped:
			result.Skipped++
		default:
			result.Generated++
		}
	}
	return result, nil
}

// sameAddress compares on-chain addresses ignoring case, the 0x prefix
// and leading zero padding.
func sameAddress(a, b string) bool {
	return normalizeAddress(a) == normalizeAddress(b)
}

func normalizeAddress(addr string) string {
	a := strings.ToLower(strings.TrimSpace(addr))
	a = strings.TrimPrefix(a, "0x")
	a = strings.TrimLeft(a, "0")
	if a == "" {
		a = "0"
	}
	return a
}
