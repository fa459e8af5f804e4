package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/services"
)

// RagHandler exposes the indexing, explanation and chat operations.
type RagHandler struct {
	log       *logger.Logger
	indexer   services.IndexerService
	explainer services.ExplainerService
	chat      services.RagChatService
}

func NewRagHandler(
	log *logger.Logger,
	indexer services.IndexerService,
	explainer services.ExplainerService,
	chat services.RagChatService,
) *RagHandler {
	return &RagHandler{
		log:       log.With("handler", "RagHandler"),
		indexer:   indexer,
		explainer: explainer,
		chat:      chat,
	}
}

type chatRequest struct {
	Question   string  `json:"question" binding:"required"`
	ChatID     *string `json:"chat_id"`
	AnalysisID *string `json:"analysis_id"`
	PackageRef string  `json:"package_ref"`
	ModuleID   *string `json:"module_id"`
}

func (h *RagHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params := services.ChatParams{
		Question:   req.Question,
		PackageRef: req.PackageRef,
	}
	var err error
	if params.ChatID, err = parseOptionalUUID(req.ChatID); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid chat_id")
		return
	}
	if params.AnalysisID, err = parseOptionalUUID(req.AnalysisID); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid analysis_id")
		return
	}
	if params.ModuleID, err = parseOptionalUUID(req.ModuleID); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid module_id")
		return
	}

	result, err := h.chat.Chat(c.Request.Context(), params)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, result)
}

func (h *RagHandler) GetChat(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid chat id")
		return
	}
	chat, err := h.chat.GetChat(c.Request.Context(), id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	messages, err := h.chat.ListMessages(c.Request.Context(), id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, gin.H{"chat": chat, "messages": messages})
}

func (h *RagHandler) DeleteChat(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid chat id")
		return
	}
	if err := h.chat.DeleteChat(c.Request.Context(), id); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, gin.H{"deleted": true})
}

type forceRequest struct {
	Force bool `json:"force"`
}

func (h *RagHandler) IndexModule(c *gin.Context) {
	var req forceRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.indexer.IndexModule(c.Request.Context(), c.Param("ref"), services.IndexOptions{Force: req.Force})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, result)
}

func (h *RagHandler) ExplainModule(c *gin.Context) {
	var req forceRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.explainer.GenerateModuleExplanation(c.Request.Context(), c.Param("ref"), services.ExplainOptions{Force: req.Force})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, result)
}

func (h *RagHandler) ExplainPackage(c *gin.Context) {
	var req forceRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.explainer.GeneratePackageExplanation(c.Request.Context(), c.Param("ref"), services.ExplainOptions{Force: req.Force})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, result)
}

func parseOptionalUUID(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
