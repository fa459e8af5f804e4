package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/clients/openai"
	"github.com/movescan/movescan-backend/internal/clients/pinecone"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/types"
)

const (
	chatTemperature     = 0.7
	chatMaxTokens       = 1500
	chatHistoryLimit    = 10
	defaultRetrievalTop = 20
)

type ChatParams struct {
	Question   string     `json:"question"`
	ChatID     *uuid.UUID `json:"chat_id,omitempty"`
	AnalysisID *uuid.UUID `json:"analysis_id,omitempty"`
	// PackageRef is a package id or address; an unresolvable ref degrades
	// to an unscoped query instead of failing.
	PackageRef string     `json:"package_ref,omitempty"`
	ModuleID   *uuid.UUID `json:"module_id,omitempty"`
}

type ChatSource struct {
	DocumentID     uuid.UUID `json:"document_id"`
	PackageAddress string    `json:"package_address"`
	ModuleName     string    `json:"module_name"`
	DocType        string    `json:"doc_type"`
	Score          float64   `json:"score"`
}

type ChatResult struct {
	Answer  string       `json:"answer"`
	ChatID  uuid.UUID    `json:"chat_id"`
	Sources []ChatSource `json:"sources_used"`
}

// RagChatService answers multi-turn questions over the indexed corpus.
// The user message is persisted before any retrieval or generation, so a
// failed answer still leaves the question in the session.
type RagChatService interface {
	Chat(ctx context.Context, params ChatParams) (*ChatResult, error)
	GetChat(ctx context.Context, id uuid.UUID) (*types.RagChat, error)
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]*types.RagMessage, error)
	DeleteChat(ctx context.Context, id uuid.UUID) error
}

type ragChatService struct {
	log      *logger.Logger
	ai       openai.Client
	vectors  pinecone.VectorStore
	prompts  *PromptSet
	chats    repos.RagChatRepo
	messages repos.RagMessageRepo
	analyses repos.AnalysisRepo
	packages repos.PackageRepo
	modules  repos.ModuleRepo
	ragDocs  repos.RagDocumentRepo
}

func NewRagChatService(
	log *logger.Logger,
	ai openai.Client,
	vectors pinecone.VectorStore,
	prompts *PromptSet,
	chats repos.RagChatRepo,
	messages repos.RagMessageRepo,
	analyses repos.AnalysisRepo,
	packages repos.PackageRepo,
	modules repos.ModuleRepo,
	ragDocs repos.RagDocumentRepo,
) RagChatService {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &ragChatService{
		log:      log.With("service", "RagChatService"),
		ai:       ai,
		vectors:  vectors,
		prompts:  prompts,
		chats:    chats,
		messages: messages,
		analyses: analyses,
		packages: packages,
		modules:  modules,
		ragDocs:  ragDocs,
	}
}

func (s *ragChatService) Chat(ctx context.Context, params ChatParams) (*ChatResult, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return nil, apperrors.Validation("question required")
	}

	// Package scope resolves id-or-address; unresolvable means unscoped.
	var scopedPkg *types.Package
	if strings.TrimSpace(params.PackageRef) != "" {
		pkg, err := s.packages.ResolveRef(ctx, nil, strings.TrimSpace(params.PackageRef))
		if err == nil {
			scopedPkg = pkg
		} else {
			s.log.Warn("package scope unresolvable, proceeding unscoped",
				"ref", params.PackageRef,
			)
		}
	}

	chat, err := s.resolveChat(ctx, params, scopedPkg)
	if err != nil {
		return nil, err
	}

	// Step 1: the question is recorded even if everything after fails.
	userMsg, err := s.messages.Append(ctx, nil, &types.RagMessage{
		ChatID:  chat.ID,
		Role:    types.RoleUser,
		Content: question,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.answer(ctx, chat, userMsg, question, params, scopedPkg)
	if err != nil {
		s.log.Error("chat answer generation failed",
			"chat_id", chat.ID.String(),
			"error", err.Error(),
		)
		return nil, err
	}
	return result, nil
}

func (s *ragChatService) resolveChat(ctx context.Context, params ChatParams, scopedPkg *types.Package) (*types.RagChat, error) {
	if params.ChatID != nil {
		return s.chats.GetByID(ctx, nil, *params.ChatID)
	}
	chat := &types.RagChat{
		AnalysisID: params.AnalysisID,
		ModuleID:   params.ModuleID,
	}
	if scopedPkg != nil {
		id := scopedPkg.ID
		chat.PackageID = &id
	}
	return s.chats.Create(ctx, nil, chat)
}

func (s *ragChatService) answer(
	ctx context.Context,
	chat *types.RagChat,
	userMsg *types.RagMessage,
	question string,
	params ChatParams,
	scopedPkg *types.Package,
) (*ChatResult, error) {
	var snap *types.GraphSnapshot
	if params.AnalysisID != nil {
		analysis, err := s.analyses.GetByID(ctx, nil, *params.AnalysisID)
		if err != nil {
			return nil, err
		}
		snap, err = analysis.Snapshot()
		if err != nil {
			return nil, err
		}
	}

	// Step 2: dynamic limit sized so every in-scope entity's source and
	// analysis documents can plausibly all be retrieved.
	limit := defaultRetrievalTop
	var scopeAddrs []string
	if snap != nil {
		scopeAddrs = snap.PackageAddresses()
		if n := 2 * (len(snap.Nodes) + len(scopeAddrs)); n > 0 {
			limit = n
		}
	}

	// Step 3: scope-biased query. Vector search cannot hard-scope by
	// analysis, so the in-scope entities prefix the question.
	enhanced := question
	if snap != nil {
		var names []string
		for _, n := range snap.Nodes {
			names = append(names, n.FullName)
		}
		enhanced = fmt.Sprintf("Packages in scope: %s. Modules in scope: %s.\n\n%s",
			strings.Join(scopeAddrs, ", "), strings.Join(names, ", "), question)
	} else if scopedPkg != nil {
		enhanced = fmt.Sprintf("Package in scope: %s.\n\n%s", scopedPkg.Address, question)
	}

	// Steps 4-5: filtered retrieval.
	var filter map[string]any
	if scopedPkg != nil {
		filter = map[string]any{"package_address": scopedPkg.Address}
	}
	qVecs, err := s.ai.Embed(ctx, []string{enhanced})
	if err != nil {
		return nil, err
	}
	if len(qVecs) != 1 {
		return nil, apperrors.Provider("embedding returned %d vectors for 1 input", len(qVecs))
	}
	matches, err := s.vectors.Query(ctx, "", qVecs[0], limit, filter)
	if err != nil {
		return nil, err
	}

	docs, scores, err := s.loadMatchedDocs(ctx, matches)
	if err != nil {
		return nil, err
	}

	// Step 6: prefer cached explanations over raw retrieved content.
	moduleExplanations := map[uuid.UUID]string{}
	explainedModule := map[uuid.UUID]bool{}
	for _, doc := range docs {
		if explainedModule[doc.ModuleID] {
			continue
		}
		m, getErr := s.modules.GetByID(ctx, nil, doc.ModuleID)
		if getErr != nil {
			continue
		}
		if m.Explanation != nil && strings.TrimSpace(*m.Explanation) != "" {
			moduleExplanations[doc.ModuleID] = fmt.Sprintf("=== %s ===\n%s", m.FullName, *m.Explanation)
		}
		explainedModule[doc.ModuleID] = true
	}

	// Step 7: history, oldest-first, with the just-persisted question
	// excluded from the replay.
	history, err := s.messages.ListRecent(ctx, nil, chat.ID, chatHistoryLimit)
	if err != nil {
		return nil, err
	}

	// Step 8: context assembly.
	contextBlock := s.buildContext(snap, scopedPkg, docs, moduleExplanations)

	// Steps 9-10: grounded completion over the conversation.
	msgs := []openai.Message{{
		Role:    "system",
		Content: s.prompts.ChatSystem + "\n\nContext:\n" + contextBlock,
	}}
	for _, h := range history {
		if h.ID == userMsg.ID {
			continue
		}
		msgs = append(msgs, openai.Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, openai.Message{Role: types.RoleUser, Content: question})

	answer, err := s.ai.Complete(ctx, msgs, openai.CompleteOptions{
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)

	// Step 11.
	if _, err := s.messages.Append(ctx, nil, &types.RagMessage{
		ChatID:  chat.ID,
		Role:    types.RoleAssistant,
		Content: answer,
	}); err != nil {
		return nil, err
	}

	sources := make([]ChatSource, 0, len(docs))
	for _, doc := range docs {
		sources = append(sources, ChatSource{
			DocumentID:     doc.ID,
			PackageAddress: doc.PackageAddress,
			ModuleName:     doc.ModuleName,
			DocType:        doc.DocType,
			Score:          scores[doc.ID],
		})
	}

	return &ChatResult{
		Answer:  answer,
		ChatID:  chat.ID,
		Sources: sources,
	}, nil
}

// loadMatchedDocs resolves vector matches to document rows, preserving the
// retrieval order and score per row.
func (s *ragChatService) loadMatchedDocs(ctx context.Context, matches []pinecone.Match) ([]*types.RagDocument, map[uuid.UUID]float64, error) {
	ids := make([]uuid.UUID, 0, len(matches))
	scores := make(map[uuid.UUID]float64, len(matches))
	for _, m := range matches {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		scores[id] = m.Score
	}

	rows, err := s.ragDocs.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[uuid.UUID]*types.RagDocument, len(rows))
	for _, d := range rows {
		byID[d.ID] = d
	}

	ordered := make([]*types.RagDocument, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			ordered = append(ordered, d)
		}
	}
	return ordered, scores, nil
}

func (s *ragChatService) buildContext(
	snap *types.GraphSnapshot,
	scopedPkg *types.Package,
	docs []*types.RagDocument,
	moduleExplanations map[uuid.UUID]string,
) string {
	var b strings.Builder

	// Full inventory so "list all X" questions are answerable even when
	// similarity search returns nothing relevant.
	if snap != nil {
		b.WriteString("Analysis inventory (complete):\n")
		b.WriteString("Packages: " + strings.Join(snap.PackageAddresses(), ", ") + "\n")
		b.WriteString("Modules:\n")
		for _, n := range snap.Nodes {
			b.WriteString("- " + n.FullName + "\n")
		}
		b.WriteString("Note: package addresses may appear with or without leading zero padding; treat such variants as the same address.\n\n")
	}

	if scopedPkg != nil && scopedPkg.Explanation != nil && strings.TrimSpace(*scopedPkg.Explanation) != "" {
		fmt.Fprintf(&b, "Package explanation (%s):\n%s\n\n", scopedPkg.Address, *scopedPkg.Explanation)
	}

	written := map[uuid.UUID]bool{}
	for _, doc := range docs {
		if expl, ok := moduleExplanations[doc.ModuleID]; ok {
			if !written[doc.ModuleID] {
				b.WriteString(expl + "\n\n")
				written[doc.ModuleID] = true
			}
			continue
		}
		fmt.Fprintf(&b, "--- %s::%s (%s) ---\n%s\n\n", doc.PackageAddress, doc.ModuleName, doc.DocType, doc.Content)
	}

	if b.Len() == 0 {
		b.WriteString("(no matching documents)\n")
	}
	return b.String()
}

func (s *ragChatService) GetChat(ctx context.Context, id uuid.UUID) (*types.RagChat, error) {
	return s.chats.GetByID(ctx, nil, id)
}

func (s *ragChatService) ListMessages(ctx context.Context, chatID uuid.UUID) ([]*types.RagMessage, error) {
	if _, err := s.chats.GetByID(ctx, nil, chatID); err != nil {
		return nil, err
	}
	return s.messages.ListByChat(ctx, nil, chatID)
}

func (s *ragChatService) DeleteChat(ctx context.Context, id uuid.UUID) error {
	if _, err := s.chats.GetByID(ctx, nil, id); err != nil {
		return err
	}
	return s.chats.Delete(ctx, nil, id)
}
