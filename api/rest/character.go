package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/emberworks/questengine/engine/challenge"
	"github.com/emberworks/questengine/engine/quest"
	"github.com/emberworks/questengine/model"
)

// CharacterHandler serves per-character progression views and accepts
// character snapshots pushed by world shards.
type CharacterHandler struct {
	db         *gorm.DB
	quests     *quest.Service
	challenges *challenge.Service
}

// NewCharacterHandler creates a CharacterHandler.
func NewCharacterHandler(db *gorm.DB, quests *quest.Service, challenges *challenge.Service) *CharacterHandler {
	return &CharacterHandler{db: db, quests: quests, challenges: challenges}
}

func charID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid character id"})
		return 0, false
	}
	return id, true
}

type upsertCharacterRequest struct {
	Name       string         `json:"name"  binding:"required,min=1,max=32"`
	Level      int            `json:"level" binding:"required,min=1"`
	Gold       int64          `json:"gold"`
	FactionRep map[string]int `json:"faction_rep"`
}

// Upsert handles PUT /api/characters/:id. World shards push snapshots here
// so requirement checks and reroll debits see current values.
func (h *CharacterHandler) Upsert(c *gin.Context) {
	id, ok := charID(c)
	if !ok {
		return
	}
	var req upsertCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rep := datatypes.JSON([]byte("{}"))
	if req.FactionRep != nil {
		raw, err := json.Marshal(req.FactionRep)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid faction_rep"})
			return
		}
		rep = datatypes.JSON(raw)
	}

	char := &model.Character{
		ID:         id,
		Name:       req.Name,
		Level:      req.Level,
		Gold:       req.Gold,
		FactionRep: rep,
	}
	if err := h.db.WithContext(c.Request.Context()).Save(char).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": char})
}

// Get handles GET /api/characters/:id.
func (h *CharacterHandler) Get(c *gin.Context) {
	id, ok := charID(c)
	if !ok {
		return
	}
	var char model.Character
	if err := h.db.WithContext(c.Request.Context()).First(&char, id).Error; err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": char})
}

// ListQuests handles GET /api/characters/:id/quests.
func (h *CharacterHandler) ListQuests(c *gin.Context) {
	id, ok := charID(c)
	if !ok {
		return
	}
	insts, err := h.quests.ListByCharacter(traced(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quests": insts})
}

// ListChallenges handles GET /api/characters/:id/challenges. Challenges for
// the current periods are dealt on first read.
func (h *CharacterHandler) ListChallenges(c *gin.Context) {
	id, ok := charID(c)
	if !ok {
		return
	}
	insts, err := h.challenges.ListByCharacter(traced(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": insts})
}

// Dashboard handles GET /api/characters/:id/dashboard: the character row
// plus active quests and current-period challenges in one response.
func (h *CharacterHandler) Dashboard(c *gin.Context) {
	id, ok := charID(c)
	if !ok {
		return
	}
	ctx := traced(c)

	var char model.Character
	if err := h.db.WithContext(ctx).First(&char, id).Error; err != nil {
		writeError(c, err)
		return
	}
	quests, err := h.quests.ListByCharacter(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	challenges, err := h.challenges.ListByCharacter(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"character":  char,
		"quests":     quests,
		"challenges": challenges,
	})
}
