package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/clients/openai"
	"github.com/movescan/movescan-backend/internal/clients/pinecone"
	"github.com/movescan/movescan-backend/internal/clients/revela"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection so the in-memory database is shared across goroutines.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&types.Package{},
		&types.Module{},
		&types.ModuleFunction{},
		&types.Analysis{},
		&types.AnalysisEdge{},
		&types.RagDocument{},
		&types.GlobalAnalysisSummary{},
		&types.RagChat{},
		&types.RagMessage{},
		&types.JobRun{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testRepos struct {
	packages  repos.PackageRepo
	modules   repos.ModuleRepo
	functions repos.ModuleFunctionRepo
	analyses  repos.AnalysisRepo
	edges     repos.AnalysisEdgeRepo
	ragDocs   repos.RagDocumentRepo
	summaries repos.GlobalSummaryRepo
	chats     repos.RagChatRepo
	messages  repos.RagMessageRepo
}

func newTestRepos(db *gorm.DB) *testRepos {
	log := logger.NewNop()
	return &testRepos{
		packages:  repos.NewPackageRepo(db, log),
		modules:   repos.NewModuleRepo(db, log),
		functions: repos.NewModuleFunctionRepo(db, log),
		analyses:  repos.NewAnalysisRepo(db, log),
		edges:     repos.NewAnalysisEdgeRepo(db, log),
		ragDocs:   repos.NewRagDocumentRepo(db, log),
		summaries: repos.NewGlobalSummaryRepo(db, log),
		chats:     repos.NewRagChatRepo(db, log),
		messages:  repos.NewRagMessageRepo(db, log),
	}
}

// fakeAI is an in-memory openai.Client. Embeddings are deterministic;
// completions replay queued responses (the last one repeats).
type fakeAI struct {
	mu sync.Mutex

	embedCalls    int
	completeCalls int

	completions  []string
	embedErr     error
	completeErr  error
	lastMessages []openai.Message
	lastOptions  openai.CompleteOptions
}

func (f *fakeAI) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	f.embedCalls++
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(len(inputs[i])), 1, 2}
	}
	return out, nil
}

func (f *fakeAI) Complete(_ context.Context, messages []openai.Message, opts openai.CompleteOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return "", f.completeErr
	}
	f.lastMessages = messages
	f.lastOptions = opts
	idx := f.completeCalls
	f.completeCalls++
	if len(f.completions) == 0 {
		return "generated explanation", nil
	}
	if idx >= len(f.completions) {
		idx = len(f.completions) - 1
	}
	return f.completions[idx], nil
}

type fakeVectorEntry struct {
	values   []float32
	metadata map[string]any
}

// fakeVectors is an in-memory pinecone.VectorStore: Query returns all
// vectors passing the metadata filter, scored by insertion recency.
type fakeVectors struct {
	mu      sync.Mutex
	order   []string
	entries map[string]fakeVectorEntry

	queryErr error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{entries: map[string]fakeVectorEntry{}}
}

func (f *fakeVectors) Upsert(_ context.Context, _ string, vectors []pinecone.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		if _, exists := f.entries[v.ID]; !exists {
			f.order = append(f.order, v.ID)
		}
		f.entries[v.ID] = fakeVectorEntry{values: v.Values, metadata: v.Metadata}
	}
	return nil
}

func (f *fakeVectors) Query(_ context.Context, _ string, _ []float32, topK int, filter map[string]any) ([]pinecone.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []pinecone.Match
	score := 0.99
	for _, id := range f.order {
		if len(out) >= topK {
			break
		}
		entry := f.entries[id]
		matches := true
		for k, want := range filter {
			if entry.metadata[k] != want {
				matches = false
				break
			}
		}
		if !matches {
			continue
		}
		out = append(out, pinecone.Match{ID: id, Score: score})
		score -= 0.01
	}
	return out, nil
}

func (f *fakeVectors) Delete(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.entries, id)
	}
	return nil
}

// fakeResolver maps "addr::name" to a canned decompile result or error.
type fakeResolver struct {
	mu      sync.Mutex
	results map[string]*revela.DecompileResult
	failing map[string]bool
	calls   int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		results: map[string]*revela.DecompileResult{},
		failing: map[string]bool{},
	}
}

func (f *fakeResolver) set(fullName, source string, functions ...revela.Function) {
	f.results[fullName] = &revela.DecompileResult{SourceCode: source, Functions: functions}
}

func (f *fakeResolver) fail(fullName string) {
	f.failing[fullName] = true
}

func (f *fakeResolver) Decompile(_ context.Context, packageAddress, moduleName, _ string) (*revela.DecompileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := packageAddress + "::" + moduleName
	if f.failing[key] {
		return nil, apperrors.SourceUnavailable("no source for %s", key)
	}
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return nil, apperrors.SourceUnavailable("no source for %s", key)
}

// env bundles a fully wired service graph over fakes for tests.
type env struct {
	db       *gorm.DB
	repos    *testRepos
	ai       *fakeAI
	vectors  *fakeVectors
	resolver *fakeResolver

	source    SourceService
	indexer   IndexerService
	explainer ExplainerService
	chat      RagChatService
	pipeline  AnalysisRagService
	enricher  EnrichmentService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logger.NewNop()
	db := newTestDB(t)
	r := newTestRepos(db)

	e := &env{
		db:       db,
		repos:    r,
		ai:       &fakeAI{},
		vectors:  newFakeVectors(),
		resolver: newFakeResolver(),
	}
	e.source = NewSourceService(log, e.resolver, r.packages, r.modules)
	e.indexer = NewIndexerService(log, e.ai, e.vectors, e.source, r.modules, r.packages, r.functions, r.ragDocs)
	e.indexer.(*indexerService).batchPause = 0
	e.explainer = NewExplainerService(log, e.ai, e.vectors, e.source, e.indexer, nil, r.modules, r.packages, r.analyses, r.ragDocs, r.summaries)
	e.chat = NewRagChatService(log, e.ai, e.vectors, nil, r.chats, r.messages, r.analyses, r.packages, r.modules, r.ragDocs)
	e.pipeline = NewAnalysisRagService(log, e.source, e.indexer, e.explainer, r.analyses, r.packages, r.modules, r.functions)
	e.pipeline.(*analysisRagService).pacing = 0
	e.enricher = NewEnrichmentService(log, e.source, r.analyses, r.edges)
	return e
}

// seedModule creates a package row and a module row for full name
// "addr::name", optionally with cached source.
func (e *env) seedModule(t *testing.T, fullName string, source *string) *types.Module {
	t.Helper()
	ctx := context.Background()
	addr, name, ok := types.SplitModuleFullName(fullName)
	if !ok {
		t.Fatalf("bad full name %q", fullName)
	}
	pkg, err := e.repos.packages.UpsertByAddress(ctx, nil, &types.Package{Address: addr, Network: "mainnet"})
	if err != nil {
		t.Fatalf("seed package: %v", err)
	}
	module, err := e.repos.modules.UpsertByFullName(ctx, nil, &types.Module{
		FullName:  fullName,
		Name:      name,
		PackageID: pkg.ID,
	})
	if err != nil {
		t.Fatalf("seed module: %v", err)
	}
	if source != nil {
		if err := e.repos.modules.UpdateSource(ctx, nil, module.ID, *source); err != nil {
			t.Fatalf("seed source: %v", err)
		}
		module.SourceCode = source
	}
	return module
}

func strPtr(s string) *string { return &s }

func sampleSource(moduleName string) string {
	return fmt.Sprintf(`module %s {
    struct Treasury has key {
        balance: u64,
    }

    public entry fun mint(amount: u64) {
    }

    public fun balance(): u64 {
        0
    }
}`, moduleName)
}

func systemMessage(t *testing.T, msgs []openai.Message) string {
	t.Helper()
	if len(msgs) == 0 || msgs[0].Role != "system" {
		t.Fatalf("expected leading system message, got %d messages", len(msgs))
	}
	return msgs[0].Content
}

func mustContain(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q to contain %q", truncateForLog(haystack), needle)
	}
}

func truncateForLog(s string) string {
	if len(s) > 400 {
		return s[:400] + "..."
	}
	return s
}
