package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/emberworks/questengine/cache"
	"github.com/emberworks/questengine/model"
)

func setupNotifier(t *testing.T) (*Notifier, cache.PubSub) {
	t.Helper()
	ps, err := cache.NewPubSub(cache.Config{})
	require.NoError(t, err)
	return New(ps, zap.NewNop()), ps
}

func recv(t *testing.T, ch <-chan *cache.Message) *cache.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestCharacterChannel(t *testing.T) {
	assert.Equal(t, "char.42.snapshots", CharacterChannel(42))
}

func TestQuestChanged_PublishesSnapshot(t *testing.T) {
	n, ps := setupNotifier(t)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, CharacterChannel(7))
	require.NoError(t, err)
	defer cancel()

	n.QuestChanged(ctx, &model.QuestInstance{
		ID: "inst-1", CharacterID: 7, TemplateID: "cull",
		Status: model.StatusActive, Progress: datatypes.JSON([]byte("{}")),
	})

	msg := recv(t, ch)
	var snap struct {
		Kind string              `json:"kind"`
		Data model.QuestInstance `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &snap))
	assert.Equal(t, "quest", snap.Kind)
	assert.Equal(t, "inst-1", snap.Data.ID)
	assert.Equal(t, model.StatusActive, snap.Data.Status)
}

func TestChallengeChanged_PublishesSnapshot(t *testing.T) {
	n, ps := setupNotifier(t)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, CharacterChannel(7))
	require.NoError(t, err)
	defer cancel()

	n.ChallengeChanged(ctx, &model.ChallengeInstance{
		ID: "ch-1", CharacterID: 7, TemplateID: "daily_cull",
		Period: "DAILY", PeriodKey: "2025-06-10", Status: model.StatusCompleted,
	})

	msg := recv(t, ch)
	var snap struct {
		Kind string                  `json:"kind"`
		Data model.ChallengeInstance `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &snap))
	assert.Equal(t, "challenge", snap.Kind)
	assert.Equal(t, model.StatusCompleted, snap.Data.Status)
}

func TestDeliver_PublishesRewardRequest(t *testing.T) {
	n, ps := setupNotifier(t)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, RewardChannel)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, n.Deliver(ctx, &model.RewardRequest{
		ID: "req-1", InstanceID: "inst-1", CharacterID: 7, Source: "quest",
		Payload: datatypes.JSON([]byte(`{"xp":90}`)),
	}))

	msg := recv(t, ch)
	var req model.RewardRequest
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &req))
	assert.Equal(t, "inst-1", req.InstanceID)
	assert.Equal(t, "quest", req.Source)
}
