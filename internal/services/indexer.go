package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/clients/openai"
	"github.com/movescan/movescan-backend/internal/clients/pinecone"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/types"
)

type IndexOptions struct {
	Force bool
}

type IndexResult struct {
	Indexed       bool `json:"indexed"`
	AlreadyExists bool `json:"already_exists"`
}

type ReindexOptions struct {
	BatchSize  int
	Force      bool
	OnProgress func(processed, total int)
}

type ReindexResult struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// IndexerService builds structured text documents from module source and
// generated explanations, embeds them, and upserts both the document row
// and the vector. The document row's existence is the dedup source of
// truth; no in-process cache.
type IndexerService interface {
	IndexModule(ctx context.Context, ref string, opts IndexOptions) (*IndexResult, error)
	IndexModuleAnalysis(ctx context.Context, ref string, opts IndexOptions) (*IndexResult, error)
	IndexPackageAnalysis(ctx context.Context, pkg *types.Package, opts IndexOptions) (*IndexResult, error)
	ReindexAllModules(ctx context.Context, opts ReindexOptions) (*ReindexResult, error)
}

type indexerService struct {
	log       *logger.Logger
	ai        openai.Client
	vectors   pinecone.VectorStore
	source    SourceService
	modules   repos.ModuleRepo
	packages  repos.PackageRepo
	functions repos.ModuleFunctionRepo
	ragDocs   repos.RagDocumentRepo

	batchPause time.Duration
}

func NewIndexerService(
	log *logger.Logger,
	ai openai.Client,
	vectors pinecone.VectorStore,
	source SourceService,
	modules repos.ModuleRepo,
	packages repos.PackageRepo,
	functions repos.ModuleFunctionRepo,
	ragDocs repos.RagDocumentRepo,
) IndexerService {
	return &indexerService{
		log:        log.With("service", "IndexerService"),
		ai:         ai,
		vectors:    vectors,
		source:     source,
		modules:    modules,
		packages:   packages,
		functions:  functions,
		ragDocs:    ragDocs,
		batchPause: 500 * time.Millisecond,
	}
}

func (s *indexerService) IndexModule(ctx context.Context, ref string, opts IndexOptions) (*IndexResult, error) {
	module, err := s.modules.ResolveRef(ctx, nil, ref)
	if err != nil {
		return nil, err
	}

	// Existence short-circuit before any provider call.
	if !opts.Force {
		exists, err := s.ragDocs.Exists(ctx, nil, module.ID, types.DocTypeSource)
		if err != nil {
			return nil, err
		}
		if exists {
			return &IndexResult{Indexed: false, AlreadyExists: true}, nil
		}
	}

	sourceCode, err := s.source.EnsureSource(ctx, module)
	if err != nil {
		return nil, err
	}

	fns, err := s.functions.ListByModuleID(ctx, nil, module.ID)
	if err != nil {
		return nil, err
	}

	addr, name, ok := types.SplitModuleFullName(module.FullName)
	if !ok {
		return nil, apperrors.Validation("malformed module full name %q", module.FullName)
	}

	content := buildSourceDocument(addr, name, sourceCode, fns)
	if err := s.embedAndUpsert(ctx, module, types.DocTypeSource, addr, name, content); err != nil {
		return nil, err
	}
	return &IndexResult{Indexed: true, AlreadyExists: false}, nil
}

func (s *indexerService) IndexModuleAnalysis(ctx context.Context, ref string, opts IndexOptions) (*IndexResult, error) {
	module, err := s.modules.ResolveRef(ctx, nil, ref)
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		exists, err := s.ragDocs.Exists(ctx, nil, module.ID, types.DocTypeModuleAnalysis)
		if err != nil {
			return nil, err
		}
		if exists {
			return &IndexResult{Indexed: false, AlreadyExists: true}, nil
		}
	}

	// Soft skip: nothing to index until the explainer has run.
	if module.Explanation == nil || strings.TrimSpace(*module.Explanation) == "" {
		return &IndexResult{Indexed: false, AlreadyExists: false}, nil
	}

	addr, name, ok := types.SplitModuleFullName(module.FullName)
	if !ok {
		return nil, apperrors.Validation("malformed module full name %q", module.FullName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Module: %s\nPackage: %s\n\nAnalysis:\n%s\n", module.FullName, addr, *module.Explanation)
	if module.UltraSummary != nil && strings.TrimSpace(*module.UltraSummary) != "" {
		fmt.Fprintf(&b, "\nSummary: %s\n", *module.UltraSummary)
	}

	if err := s.embedAndUpsert(ctx, module, types.DocTypeModuleAnalysis, addr, name, b.String()); err != nil {
		return nil, err
	}
	return &IndexResult{Indexed: true, AlreadyExists: false}, nil
}

func (s *indexerService) IndexPackageAnalysis(ctx context.Context, pkg *types.Package, opts IndexOptions) (*IndexResult, error) {
	if pkg == nil {
		return nil, apperrors.Validation("package required")
	}
	if pkg.Explanation == nil || strings.TrimSpace(*pkg.Explanation) == "" {
		return &IndexResult{Indexed: false, AlreadyExists: false}, nil
	}

	// Package-level documents live on a sentinel module row so they never
	// collide with real modules.
	sentinel, err := s.modules.UpsertByFullName(ctx, nil, &types.Module{
		FullName:  types.SentinelModuleFullName(pkg.Address),
		Name:      types.SentinelModuleName,
		PackageID: pkg.ID,
	})
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		exists, err := s.ragDocs.Exists(ctx, nil, sentinel.ID, types.DocTypePackageAnalysis)
		if err != nil {
			return nil, err
		}
		if exists {
			return &IndexResult{Indexed: false, AlreadyExists: true}, nil
		}
	}

	displayName := pkg.Address
	if pkg.Name != nil && strings.TrimSpace(*pkg.Name) != "" {
		displayName = *pkg.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Package: %s (%s)\n\nAnalysis:\n%s\n", displayName, pkg.Address, *pkg.Explanation)

	if err := s.embedAndUpsert(ctx, sentinel, types.DocTypePackageAnalysis, pkg.Address, types.SentinelModuleName, b.String()); err != nil {
		return nil, err
	}
	return &IndexResult{Indexed: true, AlreadyExists: false}, nil
}

func (s *indexerService) ReindexAllModules(ctx context.Context, opts ReindexOptions) (*ReindexResult, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}

	total64, err := s.modules.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	result := &ReindexResult{Total: int(total64)}

	processed := 0
	for offset := 0; offset < result.Total; offset += batchSize {
		batch, err := s.modules.ListBatch(ctx, nil, offset, batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		type outcome struct {
			res *IndexResult
			err error
		}
		outcomes := make([]outcome, len(batch))

		// Parallel within a batch, serial across batches. Failures never
		// abort siblings; every goroutine records its own slot.
		var g errgroup.Group
		for i, m := range batch {
			i, m := i, m
			g.Go(func() error {
				res, err := s.IndexModule(ctx, m.ID.String(), IndexOptions{Force: opts.Force})
				outcomes[i] = outcome{res: res, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, o := range outcomes {
			switch {
			case o.err != nil:
				result.Failed++
				s.log.Warn("reindex failed for module",
					"module", batch[i].FullName,
					"error", o.err.Error(),
				)
			case o.res.Indexed:
				result.Indexed++
			default:
				result.Skipped++
			}
		}

		processed += len(batch)
		if opts.OnProgress != nil {
			opts.OnProgress(processed, result.Total)
		}

		// Inter-batch pause to stay under the embedding provider's rate
		// limits.
		if processed < result.Total {
			time.Sleep(s.batchPause)
		}
	}

	return result, nil
}

func (s *indexerService) embedAndUpsert(ctx context.Context, module *types.Module, docType, packageAddress, moduleName, content string) error {
	vecs, err := s.ai.Embed(ctx, []string{content})
	if err != nil {
		return err
	}
	if len(vecs) != 1 {
		return apperrors.Provider("embedding returned %d vectors for 1 input", len(vecs))
	}

	embeddingJSON, err := json.Marshal(vecs[0])
	if err != nil {
		return err
	}

	doc, err := s.ragDocs.Upsert(ctx, nil, &types.RagDocument{
		ModuleID:       module.ID,
		DocType:        docType,
		PackageAddress: packageAddress,
		ModuleName:     moduleName,
		Content:        content,
		Embedding:      embeddingJSON,
	})
	if err != nil {
		return err
	}

	return s.vectors.Upsert(ctx, "", []pinecone.Vector{{
		ID:     doc.ID.String(),
		Values: vecs[0],
		Metadata: map[string]any{
			"package_address": packageAddress,
			"doc_type":        docType,
			"module_name":     moduleName,
		},
	}})
}

func buildSourceDocument(packageAddress, moduleName, sourceCode string, fns []*types.ModuleFunction) string {
	var entry, public []string
	for _, f := range fns {
		if f.IsEntry {
			entry = append(entry, f.Name)
		}
		if strings.EqualFold(f.Visibility, "public") {
			public = append(public, f.Name)
		}
	}
	structs := scanStructNames(sourceCode)

	var b strings.Builder
	fmt.Fprintf(&b, "Module: %s::%s\n", packageAddress, moduleName)
	fmt.Fprintf(&b, "Package: %s\n", packageAddress)
	fmt.Fprintf(&b, "Entry functions: %s\n", joinOrNone(entry))
	fmt.Fprintf(&b, "Public functions: %s\n", joinOrNone(public))
	fmt.Fprintf(&b, "Structs: %s\n", joinOrNone(structs))
	b.WriteString("\nSource code:\n")
	b.WriteString(sourceCode)
	return b.String()
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

var structDeclRe = regexp.MustCompile(`\bstruct\s+([A-Za-z_][A-Za-z0-9_]*)`)

// scanStructNames extracts struct names with a line/brace-depth scan.
// Best-effort metadata, not a parser: declarations are only recognized at
// module body depth, so identifiers inside function bodies are ignored.
func scanStructNames(source string) []string {
	var out []string
	seen := map[string]bool{}
	depth := 0
	for _, line := range strings.Split(source, "\n") {
		if depth <= 1 {
			if m := structDeclRe.FindStringSubmatch(line); m != nil {
				if !seen[m[1]] {
					seen[m[1]] = true
					out = append(out, m[1])
				}
			}
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
	}
	return out
}
