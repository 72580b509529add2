package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emberworks/questengine/engine/challenge"
)

// ChallengeHandler handles rotating challenge REST endpoints.
type ChallengeHandler struct {
	challenges *challenge.Service
}

// NewChallengeHandler creates a ChallengeHandler.
func NewChallengeHandler(challenges *challenge.Service) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges}
}

// Get handles GET /api/challenges/:id.
func (h *ChallengeHandler) Get(c *gin.Context) {
	inst, err := h.challenges.Get(traced(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": inst})
}

// Reroll handles POST /api/challenges/:id/reroll. The character pays the
// template's reroll cost and receives a different challenge for the same slot.
func (h *ChallengeHandler) Reroll(c *gin.Context) {
	inst, err := h.challenges.Reroll(traced(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": inst})
}
