package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberworks/questengine/audit"
	"github.com/emberworks/questengine/engine/progress"
	mw "github.com/emberworks/questengine/middleware"
)

// EventHandler ingests gameplay events from world shards.
type EventHandler struct {
	tracker *progress.Tracker
	logger  *zap.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(tracker *progress.Tracker, logger *zap.Logger) *EventHandler {
	return &EventHandler{tracker: tracker, logger: logger}
}

type eventRequest struct {
	EventID     string         `json:"event_id"`
	CharacterID int64          `json:"character_id" binding:"required"`
	Kind        string         `json:"kind"         binding:"required"`
	Payload     map[string]any `json:"payload"`
}

// Apply handles POST /api/events. Callers should send a stable event_id so
// gateway retries are absorbed; one is generated if missing.
func (h *EventHandler) Apply(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EventID == "" {
		req.EventID = uuid.New().String()
	}

	ctx := audit.WithTrace(c.Request.Context(), mw.GetTraceID(c))
	updates, err := h.tracker.ApplyEvent(ctx, progress.Event{
		ID:          req.EventID,
		CharacterID: req.CharacterID,
		Kind:        req.Kind,
		Payload:     req.Payload,
	})
	if err != nil {
		h.logger.Warn("event apply failed",
			zap.String("event_id", req.EventID),
			zap.String("kind", req.Kind),
			zap.Error(err))
		writeError(c, err)
		return
	}
	if updates == nil {
		updates = []progress.Update{}
	}
	c.JSON(http.StatusOK, gin.H{"event_id": req.EventID, "updates": updates})
}

// ApplyBatch handles POST /api/events/batch. Events are applied in order;
// the response reports per-event results so a shard can retry only failures.
func (h *EventHandler) ApplyBatch(c *gin.Context) {
	var reqs []eventRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(reqs) > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch too large"})
		return
	}

	ctx := audit.WithTrace(c.Request.Context(), mw.GetTraceID(c))
	type result struct {
		EventID string            `json:"event_id"`
		Updates []progress.Update `json:"updates,omitempty"`
		Error   string            `json:"error,omitempty"`
	}
	results := make([]result, 0, len(reqs))
	for _, req := range reqs {
		if req.EventID == "" {
			req.EventID = uuid.New().String()
		}
		updates, err := h.tracker.ApplyEvent(ctx, progress.Event{
			ID:          req.EventID,
			CharacterID: req.CharacterID,
			Kind:        req.Kind,
			Payload:     req.Payload,
		})
		r := result{EventID: req.EventID, Updates: updates}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
