package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emberworks/questengine/cache"
	"github.com/emberworks/questengine/catalog"
	"github.com/emberworks/questengine/config"
	"github.com/emberworks/questengine/engine/locks"
	mw "github.com/emberworks/questengine/middleware"
	"github.com/emberworks/questengine/model"
	"github.com/emberworks/questengine/scheduler"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	loader *catalog.Loader
	sched  *scheduler.Scheduler
	reg    *locks.Registry
	c      cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	loader *catalog.Loader,
	sched *scheduler.Scheduler,
	reg *locks.Registry,
	c cache.Cache,
	sec config.SecurityConfig,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, loader: loader, sched: sched, reg: reg, c: c, sec: sec, logger: logger}
}

// Metrics returns engine health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	ctx := c.Request.Context()
	var activeQuests, activeChallenges, pendingRewards int64
	h.db.WithContext(ctx).Model(&model.QuestInstance{}).
		Where("status = ?", model.StatusActive).Count(&activeQuests)
	h.db.WithContext(ctx).Model(&model.ChallengeInstance{}).
		Where("status = ?", model.StatusActive).Count(&activeChallenges)
	h.db.WithContext(ctx).Model(&model.RewardRequest{}).
		Where("dispatched_at IS NULL").Count(&pendingRewards)

	c.JSON(http.StatusOK, gin.H{
		"active_quests":     activeQuests,
		"active_challenges": activeChallenges,
		"pending_rewards":   pendingRewards,
		"held_locks":        h.reg.Len(),
		"scheduler_tasks":   h.sched.Tasks(),
	})
}

// ReloadCatalog re-reads quest and challenge templates from disk.
// POST /api/admin/catalog/reload
func (h *AdminHandler) ReloadCatalog(c *gin.Context) {
	if err := h.loader.Reload(); err != nil {
		h.logger.Error("catalog reload failed", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("catalog reloaded")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListSchedulerTasks returns registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// RunSchedulerTask triggers a named ticker task immediately.
// POST /api/admin/scheduler/:name/run
func (h *AdminHandler) RunSchedulerTask(c *gin.Context) {
	name := c.Param("name")
	if !h.sched.RunNow(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such task"})
		return
	}
	h.logger.Info("admin ran scheduler task", zap.String("task", name))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type mintTokenRequest struct {
	Service string `json:"service" binding:"required,min=1,max=64"`
}

// MintToken issues a service JWT.
// POST /api/admin/tokens
func (h *AdminHandler) MintToken(c *gin.Context) {
	var req mintTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := mw.GenerateToken(req.Service, h.sec.JWTSecret, h.sec.JWTTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Info("minted service token", zap.String("service", req.Service))
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in_s": int(h.sec.JWTTTL.Seconds())})
}

type revokeServiceRequest struct {
	Revoked bool `json:"revoked"`
}

// RevokeService marks a service's tokens revoked (or clears the mark).
// POST /api/admin/services/:name/revoke
func (h *AdminHandler) RevokeService(c *gin.Context) {
	name := c.Param("name")
	var req revokeServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key := "svc.revoked:" + name
	var err error
	if req.Revoked {
		// Revocation outlives any token minted with the current TTL.
		err = h.c.Set(c.Request.Context(), key, "1", h.sec.JWTTTL+time.Hour)
	} else {
		err = h.c.Del(c.Request.Context(), key)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Info("service revocation updated",
		zap.String("service", name), zap.Bool("revoked", req.Revoked))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
