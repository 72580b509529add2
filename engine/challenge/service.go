package challenge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/emberworks/questengine/audit"
	"github.com/emberworks/questengine/catalog"
	"github.com/emberworks/questengine/engine/clock"
	"github.com/emberworks/questengine/engine/domain"
	"github.com/emberworks/questengine/engine/locks"
	"github.com/emberworks/questengine/engine/notify"
	"github.com/emberworks/questengine/engine/progress"
	"github.com/emberworks/questengine/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var allPeriods = []catalog.Period{catalog.PeriodDaily, catalog.PeriodWeekly, catalog.PeriodSeasonal}

// Wallet charges reroll costs. Backed by the account service; Debit returns
// account.ErrInsufficientFunds when the character cannot pay, and Credit
// unwinds a charge whose reroll never applied.
type Wallet interface {
	Debit(ctx context.Context, characterID int64, amount int64) error
	Credit(ctx context.Context, characterID int64, amount int64) error
}

// Settler resolves a completed instance into its reward request.
type Settler interface {
	Settle(ctx context.Context, instanceID string, characterID int64, source string, rewards catalog.Rewards) (*model.RewardRequest, error)
}

// Service is the challenge cycle manager: per-period issuance, reroll, expiry
// at period boundaries, completion. It shares the progress tracker contract
// and the per-instance lock registry with the quest state machine.
type Service struct {
	db        *gorm.DB
	catalog   catalog.Provider
	locks     *locks.Registry
	clock     clock.Clock
	wallet    Wallet
	settler   Settler
	journal   *audit.Journal
	notifier  *notify.Notifier
	perPeriod int
	logger    *zap.Logger
}

// NewService creates the challenge cycle manager. perPeriod is how many
// challenges each character is dealt per period window.
func NewService(db *gorm.DB, cat catalog.Provider, reg *locks.Registry, clk clock.Clock,
	wallet Wallet, settler Settler, journal *audit.Journal, notifier *notify.Notifier,
	perPeriod int, logger *zap.Logger) *Service {
	if perPeriod <= 0 {
		perPeriod = 3
	}
	return &Service{
		db:        db,
		catalog:   cat,
		locks:     reg,
		clock:     clk,
		wallet:    wallet,
		settler:   settler,
		journal:   journal,
		notifier:  notifier,
		perPeriod: perPeriod,
		logger:    logger,
	}
}

// IssueForCharacter deals the character's challenges for every period window
// they do not yet have instances in. The draw is weighted-random without
// replacement, seeded by character+period, so reissuing is deterministic.
func (svc *Service) IssueForCharacter(ctx context.Context, characterID int64) ([]model.ChallengeInstance, error) {
	now := svc.clock.Now()
	var issued []model.ChallengeInstance
	for _, period := range allPeriods {
		key := PeriodKey(period, now)
		var n int64
		if err := svc.db.WithContext(ctx).Model(&model.ChallengeInstance{}).
			Where("character_id = ? AND period = ? AND period_key = ?", characterID, string(period), key).
			Count(&n).Error; err != nil {
			return nil, err
		}
		if n > 0 {
			continue
		}
		candidates := svc.catalog.ChallengeTemplates(period)
		if len(candidates) == 0 {
			continue
		}
		rng := rand.New(rand.NewSource(seed(characterID, key, 0)))
		for _, tpl := range weightedSample(rng, candidates, svc.perPeriod) {
			inst := model.ChallengeInstance{
				ID:          uuid.NewString(),
				CharacterID: characterID,
				TemplateID:  tpl.ID,
				Period:      string(period),
				PeriodKey:   key,
				Status:      model.StatusActive,
				Progress:    progress.Seed(tpl.Objectives).Encode(),
				StartedAt:   now.UTC(),
			}
			if err := svc.db.WithContext(ctx).Create(&inst).Error; err != nil {
				return issued, err
			}
			svc.journal.Record(audit.Entry{
				TraceID:     audit.Trace(ctx),
				InstanceID:  inst.ID,
				CharacterID: characterID,
				Source:      "challenge",
				ToStatus:    model.StatusActive,
				Reason:      "Issued",
				Detail:      map[string]any{"template_id": tpl.ID, "period_key": key},
			})
			svc.notifier.ChallengeChanged(ctx, &inst)
			issued = append(issued, inst)
		}
	}
	return issued, nil
}

// Rollover retires every ACTIVE instance whose period window has passed
// (FAILED, reason PeriodExpired, no partial reward) and deals the new window
// to every known character. Safe to run concurrently with event-driven
// transitions: each retirement goes through the instance lock and the
// ACTIVE-guarded status write.
func (svc *Service) Rollover(ctx context.Context) (retired, dealt int, err error) {
	now := svc.clock.Now()
	current := make(map[string]string, len(allPeriods))
	for _, p := range allPeriods {
		current[string(p)] = PeriodKey(p, now)
	}

	var active []model.ChallengeInstance
	if err := svc.db.WithContext(ctx).
		Where("status = ?", model.StatusActive).
		Find(&active).Error; err != nil {
		return 0, 0, err
	}
	for i := range active {
		inst := active[i]
		if inst.PeriodKey == current[inst.Period] {
			continue
		}
		lockErr := svc.locks.Do(inst.ID, func() error {
			return svc.terminateLocked(ctx, inst.ID, model.StatusFailed, domain.ReasonPeriodExpired)
		})
		if lockErr == nil {
			retired++
		} else if !errors.Is(lockErr, domain.ErrAlreadyTerminal) {
			svc.logger.Warn("challenge retirement failed",
				zap.String("instance_id", inst.ID), zap.Error(lockErr))
		}
	}

	var characterIDs []int64
	if err := svc.db.WithContext(ctx).Model(&model.Character{}).
		Pluck("id", &characterIDs).Error; err != nil {
		return retired, 0, err
	}
	for _, id := range characterIDs {
		issued, err := svc.IssueForCharacter(ctx, id)
		if err != nil {
			return retired, dealt, err
		}
		dealt += len(issued)
	}
	return retired, dealt, nil
}

// Reroll swaps the instance's template for another of the same period,
// resets its progress and charges the reroll cost. Limited by the template's
// max reroll count.
func (svc *Service) Reroll(ctx context.Context, instanceID string) (*model.ChallengeInstance, error) {
	var out *model.ChallengeInstance
	err := svc.locks.Do(instanceID, func() error {
		var inst model.ChallengeInstance
		if err := svc.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
			return err
		}
		if inst.Status != model.StatusActive {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}
		tpl, err := svc.catalog.ChallengeTemplate(inst.TemplateID)
		if err != nil {
			return err
		}
		if inst.Rerolls >= tpl.MaxRerolls {
			return fmt.Errorf("instance %s: %d rerolls used: %w",
				instanceID, inst.Rerolls, domain.ErrRerollLimitExceeded)
		}

		var candidates []*catalog.ChallengeTemplate
		for _, c := range svc.catalog.ChallengeTemplates(tpl.Period) {
			if c.ID != inst.TemplateID {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			return fmt.Errorf("challenge %q: no alternative templates to reroll into", inst.TemplateID)
		}

		if err := svc.wallet.Debit(ctx, inst.CharacterID, tpl.RerollCost); err != nil {
			return err
		}

		rng := rand.New(rand.NewSource(seed(inst.CharacterID, inst.PeriodKey, inst.Rerolls+1)))
		next := weightedSample(rng, candidates, 1)[0]

		res := svc.db.WithContext(ctx).Model(&model.ChallengeInstance{}).
			Where("id = ? AND status = ?", instanceID, model.StatusActive).
			Updates(map[string]any{
				"template_id": next.ID,
				"progress":    progress.Seed(next.Objectives).Encode(),
				"rerolls":     inst.Rerolls + 1,
			})
		if res.Error != nil || res.RowsAffected == 0 {
			// The charge must not stand when the reroll never applied.
			if refundErr := svc.wallet.Credit(ctx, inst.CharacterID, tpl.RerollCost); refundErr != nil {
				svc.logger.Error("reroll refund failed",
					zap.String("instance_id", instanceID),
					zap.Int64("character_id", inst.CharacterID),
					zap.Error(refundErr))
			}
			if res.Error != nil {
				return res.Error
			}
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}

		inst.TemplateID = next.ID
		inst.Progress = progress.Seed(next.Objectives).Encode()
		inst.Rerolls++
		svc.journal.Record(audit.Entry{
			TraceID:     audit.Trace(ctx),
			InstanceID:  instanceID,
			CharacterID: inst.CharacterID,
			Source:      "challenge",
			FromStatus:  model.StatusActive,
			ToStatus:    model.StatusActive,
			Reason:      "Rerolled",
			Detail:      map[string]any{"from": tpl.ID, "to": next.ID, "rerolls": inst.Rerolls},
		})
		svc.notifier.ChallengeChanged(ctx, &inst)
		out = &inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OnObjectivesComplete is the tracker's transition request: completes the
// instance once every template objective is satisfied and settles its reward.
func (svc *Service) OnObjectivesComplete(ctx context.Context, instanceID string) error {
	return svc.locks.Do(instanceID, func() error {
		var inst model.ChallengeInstance
		if err := svc.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
			return err
		}
		if inst.Status != model.StatusActive {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}
		tpl, err := svc.catalog.ChallengeTemplate(inst.TemplateID)
		if err != nil {
			return err
		}
		pmap, err := progress.Decode(inst.Progress)
		if err != nil {
			return err
		}
		if !pmap.AllComplete(tpl.Objectives) {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrObjectivesIncomplete)
		}

		now := svc.clock.Now().UTC()
		res := svc.db.WithContext(ctx).Model(&model.ChallengeInstance{}).
			Where("id = ? AND status = ?", instanceID, model.StatusActive).
			Updates(map[string]any{
				"status":       model.StatusCompleted,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}

		inst.Status = model.StatusCompleted
		inst.CompletedAt = &now
		svc.journal.Record(audit.Entry{
			TraceID:     audit.Trace(ctx),
			InstanceID:  instanceID,
			CharacterID: inst.CharacterID,
			Source:      "challenge",
			FromStatus:  model.StatusActive,
			ToStatus:    model.StatusCompleted,
			Reason:      "Completed",
		})
		svc.notifier.ChallengeChanged(ctx, &inst)

		if _, err := svc.settler.Settle(ctx, instanceID, inst.CharacterID, "challenge", tpl.Rewards); err != nil {
			svc.logger.Error("settlement failed after completion",
				zap.String("instance_id", instanceID), zap.Error(err))
		}
		return nil
	})
}

// SettleBacklog re-settles COMPLETED instances missing a reward request.
func (svc *Service) SettleBacklog(ctx context.Context) error {
	var insts []model.ChallengeInstance
	err := svc.db.WithContext(ctx).
		Where("status = ? AND id NOT IN (?)", model.StatusCompleted,
			svc.db.Model(&model.RewardRequest{}).Select("instance_id")).
		Find(&insts).Error
	if err != nil {
		return err
	}
	for i := range insts {
		inst := &insts[i]
		tpl, err := svc.catalog.ChallengeTemplate(inst.TemplateID)
		if err != nil {
			continue
		}
		if _, err := svc.settler.Settle(ctx, inst.ID, inst.CharacterID, "challenge", tpl.Rewards); err != nil {
			svc.logger.Warn("backlog settlement failed",
				zap.String("instance_id", inst.ID), zap.Error(err))
		}
	}
	return nil
}

// Get returns one instance by id.
func (svc *Service) Get(ctx context.Context, instanceID string) (*model.ChallengeInstance, error) {
	var inst model.ChallengeInstance
	if err := svc.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListByCharacter returns the character's instances for the current period
// windows, issuing them first if this is the character's first touch of a
// window.
func (svc *Service) ListByCharacter(ctx context.Context, characterID int64) ([]model.ChallengeInstance, error) {
	if _, err := svc.IssueForCharacter(ctx, characterID); err != nil {
		return nil, err
	}
	now := svc.clock.Now()
	keys := make([]string, 0, len(allPeriods))
	for _, p := range allPeriods {
		keys = append(keys, PeriodKey(p, now))
	}
	var insts []model.ChallengeInstance
	err := svc.db.WithContext(ctx).
		Where("character_id = ? AND period_key IN ?", characterID, keys).
		Order("period").
		Find(&insts).Error
	return insts, err
}

func (svc *Service) terminateLocked(ctx context.Context, instanceID string, status model.InstanceStatus, reason string) error {
	var inst model.ChallengeInstance
	if err := svc.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
		return err
	}
	if inst.Status != model.StatusActive {
		return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
	}
	now := svc.clock.Now().UTC()
	res := svc.db.WithContext(ctx).Model(&model.ChallengeInstance{}).
		Where("id = ? AND status = ?", instanceID, model.StatusActive).
		Updates(map[string]any{
			"status":       status,
			"fail_reason":  reason,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
	}
	inst.Status = status
	inst.FailReason = reason
	inst.CompletedAt = &now
	svc.journal.Record(audit.Entry{
		TraceID:     audit.Trace(ctx),
		InstanceID:  instanceID,
		CharacterID: inst.CharacterID,
		Source:      "challenge",
		FromStatus:  model.StatusActive,
		ToStatus:    status,
		Reason:      reason,
	})
	svc.notifier.ChallengeChanged(ctx, &inst)
	return nil
}
