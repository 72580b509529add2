package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emberworks/questengine/engine/reward"
)

// RewardHandler exposes reward request lookups so sinks can reconcile.
type RewardHandler struct {
	rewards *reward.Service
}

// NewRewardHandler creates a RewardHandler.
func NewRewardHandler(rewards *reward.Service) *RewardHandler {
	return &RewardHandler{rewards: rewards}
}

// Get handles GET /api/rewards/:instance_id.
func (h *RewardHandler) Get(c *gin.Context) {
	req, err := h.rewards.Get(traced(c), c.Param("instance_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reward": req})
}
