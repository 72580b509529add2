package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emberworks/questengine/catalog"
	"github.com/emberworks/questengine/engine/clock"
	"github.com/emberworks/questengine/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sink receives settled reward requests. Delivery is at-least-once; the
// instance id inside the payload is the downstream idempotency key.
type Sink interface {
	Deliver(ctx context.Context, req *model.RewardRequest) error
}

// Payload is the flat, resolved reward structure recorded at settlement.
// Values are computed once from the character snapshot at completion time and
// never recomputed.
type Payload struct {
	XP             int                  `json:"xp"`
	Currency       int64                `json:"currency"`
	Items          []catalog.ItemReward `json:"items,omitempty"`
	TrackEntries   []string             `json:"track_entries,omitempty"`
	CharacterLevel int                  `json:"character_level"`
}

// Snapshot answers the character-state questions settlement needs.
type Snapshot interface {
	Level(ctx context.Context, characterID int64) (int, error)
}

// Service settles completed instances into reward requests, exactly once per
// instance. It is called only by the state machines' COMPLETED transitions
// and by the recovery sweeps, never by external callers.
type Service struct {
	db       *gorm.DB
	clock    clock.Clock
	snapshot Snapshot
	sink     Sink
	logger   *zap.Logger
}

// NewService creates a reward settlement Service.
func NewService(db *gorm.DB, clk clock.Clock, snapshot Snapshot, sink Sink, logger *zap.Logger) *Service {
	return &Service{db: db, clock: clk, snapshot: snapshot, sink: sink, logger: logger}
}

// Settle resolves the rewards into a persisted RewardRequest keyed by
// instance id. A repeat call for an already-settled instance returns the
// previously recorded request unchanged.
func (svc *Service) Settle(ctx context.Context, instanceID string, characterID int64,
	source string, rewards catalog.Rewards) (*model.RewardRequest, error) {

	if existing, err := svc.lookup(ctx, instanceID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	level, err := svc.snapshot.Level(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("reward: snapshot for character %d: %w", characterID, err)
	}
	payload := Payload{
		XP:             scaleXP(rewards.XP, level),
		Currency:       rewards.Currency,
		Items:          rewards.Items,
		TrackEntries:   rewards.TrackEntries,
		CharacterLevel: level,
	}
	raw, _ := json.Marshal(payload)

	req := &model.RewardRequest{
		ID:          uuid.NewString(),
		InstanceID:  instanceID,
		CharacterID: characterID,
		Source:      source,
		Payload:     datatypes.JSON(raw),
	}
	// The unique index on instance_id is the idempotency guard: a concurrent
	// settlement loses the insert and reads the winner's row instead.
	res := svc.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(req)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return svc.lookup(ctx, instanceID)
	}

	svc.logger.Info("reward settled",
		zap.String("instance_id", instanceID),
		zap.Int64("character_id", characterID),
		zap.String("source", source))
	svc.dispatch(ctx, req)
	return req, nil
}

// Redeliver re-publishes every settled request not yet acknowledged as
// dispatched. Run from a scheduler tick; duplicates are tolerated downstream.
func (svc *Service) Redeliver(ctx context.Context) (int, error) {
	var pending []model.RewardRequest
	if err := svc.db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("created_at").
		Limit(200).
		Find(&pending).Error; err != nil {
		return 0, err
	}
	sent := 0
	for i := range pending {
		if svc.dispatch(ctx, &pending[i]) {
			sent++
		}
	}
	return sent, nil
}

// Get returns the recorded request for an instance, if settled.
func (svc *Service) Get(ctx context.Context, instanceID string) (*model.RewardRequest, error) {
	return svc.lookup(ctx, instanceID)
}

func (svc *Service) lookup(ctx context.Context, instanceID string) (*model.RewardRequest, error) {
	var req model.RewardRequest
	if err := svc.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (svc *Service) dispatch(ctx context.Context, req *model.RewardRequest) bool {
	if err := svc.sink.Deliver(ctx, req); err != nil {
		svc.logger.Warn("reward dispatch failed, will redeliver",
			zap.String("instance_id", req.InstanceID), zap.Error(err))
		return false
	}
	now := svc.clock.Now().UTC()
	if err := svc.db.WithContext(ctx).Model(&model.RewardRequest{}).
		Where("id = ?", req.ID).
		Update("dispatched_at", now).Error; err != nil {
		svc.logger.Warn("reward dispatch mark failed",
			zap.String("instance_id", req.InstanceID), zap.Error(err))
	}
	return true
}

// scaleXP applies the level band multiplier captured at completion. Low-level
// characters get the full base value; the award tapers as the content turns
// gray.
func scaleXP(base, level int) int {
	switch {
	case level <= 10:
		return base
	case level <= 25:
		return base * 9 / 10
	case level <= 40:
		return base * 3 / 4
	default:
		return base / 2
	}
}
