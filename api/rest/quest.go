package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emberworks/questengine/audit"
	"github.com/emberworks/questengine/engine/quest"
	mw "github.com/emberworks/questengine/middleware"
)

// QuestHandler handles quest instance REST endpoints.
type QuestHandler struct {
	quests *quest.Service
}

// NewQuestHandler creates a QuestHandler.
func NewQuestHandler(quests *quest.Service) *QuestHandler {
	return &QuestHandler{quests: quests}
}

// traced threads the request trace id into the audit context.
func traced(c *gin.Context) context.Context {
	return audit.WithTrace(c.Request.Context(), mw.GetTraceID(c))
}

type startQuestRequest struct {
	CharacterID int64  `json:"character_id" binding:"required"`
	TemplateID  string `json:"template_id"  binding:"required"`
}

// Start handles POST /api/quests.
func (h *QuestHandler) Start(c *gin.Context) {
	var req startQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, err := h.quests.Start(traced(c), req.CharacterID, req.TemplateID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"quest": inst})
}

// Get handles GET /api/quests/:id.
func (h *QuestHandler) Get(c *gin.Context) {
	inst, err := h.quests.Get(traced(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quest": inst})
}

type advanceRequest struct {
	Transition string `json:"transition" binding:"required"`
}

// Advance handles POST /api/quests/:id/advance. It takes the named branch
// transition from the current node.
func (h *QuestHandler) Advance(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, err := h.quests.AdvanceBranch(traced(c), c.Param("id"), req.Transition)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quest": inst})
}

// Complete handles POST /api/quests/:id/complete.
func (h *QuestHandler) Complete(c *gin.Context) {
	inst, err := h.quests.Complete(traced(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quest": inst})
}

// Abandon handles POST /api/quests/:id/abandon.
func (h *QuestHandler) Abandon(c *gin.Context) {
	if err := h.quests.Abandon(traced(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type failRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Fail handles POST /api/quests/:id/fail. World shards use this for failures
// the engine cannot see, such as the quest giver dying.
func (h *QuestHandler) Fail(c *gin.Context) {
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.quests.Fail(traced(c), c.Param("id"), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type setFlagRequest struct {
	Value quest.FlagValue `json:"value"`
}

// SetFlag handles PUT /api/quests/:id/flags/:key. The value must be a JSON
// boolean, integer, or string.
func (h *QuestHandler) SetFlag(c *gin.Context) {
	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.quests.SetFlag(traced(c), c.Param("id"), c.Param("key"), req.Value); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type setDialogueRequest struct {
	Node string `json:"node" binding:"required"`
}

// SetDialogue handles PUT /api/quests/:id/dialogue.
func (h *QuestHandler) SetDialogue(c *gin.Context) {
	var req setDialogueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.quests.SetDialogueNode(traced(c), c.Param("id"), req.Node); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
