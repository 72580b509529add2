package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emberworks/questengine/cache"
	"github.com/emberworks/questengine/model"
	"go.uber.org/zap"
)

const (
	// RewardChannel carries settled reward requests to the reward sink.
	RewardChannel = "reward.requests"
)

// CharacterChannel is the per-character snapshot stream consumed by the SSE
// surface.
func CharacterChannel(characterID int64) string {
	return fmt.Sprintf("char.%d.snapshots", characterID)
}

// Notifier publishes instance snapshots and reward requests over pub/sub.
// Delivery is fire-and-forget; downstream consumers must tolerate duplicates
// (reward requests carry their idempotency key).
type Notifier struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// New creates a Notifier.
func New(ps cache.PubSub, logger *zap.Logger) *Notifier {
	return &Notifier{ps: ps, logger: logger}
}

type snapshot struct {
	Kind string `json:"kind"` // quest | challenge
	Data any    `json:"data"`
}

// QuestChanged publishes the instance's current state to the owning
// character's channel.
func (n *Notifier) QuestChanged(ctx context.Context, inst *model.QuestInstance) {
	n.publish(ctx, CharacterChannel(inst.CharacterID), snapshot{Kind: "quest", Data: inst})
}

// ChallengeChanged publishes the instance's current state to the owning
// character's channel.
func (n *Notifier) ChallengeChanged(ctx context.Context, inst *model.ChallengeInstance) {
	n.publish(ctx, CharacterChannel(inst.CharacterID), snapshot{Kind: "challenge", Data: inst})
}

// Deliver publishes a reward request to the reward channel. Implements the
// reward sink contract; at-least-once, so it is also safe to call from the
// redelivery tick.
func (n *Notifier) Deliver(ctx context.Context, req *model.RewardRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return n.ps.Publish(ctx, RewardChannel, string(raw))
}

func (n *Notifier) publish(ctx context.Context, channel string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		n.logger.Error("snapshot marshal failed", zap.Error(err))
		return
	}
	if err := n.ps.Publish(ctx, channel, string(raw)); err != nil {
		n.logger.Warn("snapshot publish failed",
			zap.String("channel", channel), zap.Error(err))
	}
}
