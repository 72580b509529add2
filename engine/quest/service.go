package quest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

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
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Oracle answers the requirement checks used by Start. Backed by the account
// service in production.
type Oracle interface {
	Level(ctx context.Context, characterID int64) (int, error)
	FactionStanding(ctx context.Context, characterID int64, faction string) (int, error)
	HasCompletedQuest(ctx context.Context, characterID int64, templateID string) (bool, error)
}

// Settler resolves a completed instance into its reward request, exactly once
// per instance id.
type Settler interface {
	Settle(ctx context.Context, instanceID string, characterID int64, source string, rewards catalog.Rewards) (*model.RewardRequest, error)
}

// Service is the quest instance state machine. Every transition for an
// instance runs inside that instance's lock and writes its status with an
// ACTIVE-guarded update, so a racing sweep, event or abandon observes
// ErrAlreadyTerminal instead of clobbering the winner.
type Service struct {
	db       *gorm.DB
	catalog  catalog.Provider
	locks    *locks.Registry
	clock    clock.Clock
	oracle   Oracle
	settler  Settler
	journal  *audit.Journal
	notifier *notify.Notifier
	logger   *zap.Logger
}

// NewService creates the quest state machine service.
func NewService(db *gorm.DB, cat catalog.Provider, reg *locks.Registry, clk clock.Clock,
	oracle Oracle, settler Settler, journal *audit.Journal, notifier *notify.Notifier,
	logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		catalog:  cat,
		locks:    reg,
		clock:    clk,
		oracle:   oracle,
		settler:  settler,
		journal:  journal,
		notifier: notifier,
		logger:   logger,
	}
}

// Start creates an ACTIVE instance at the template's root node. It fails with
// domain.ErrPrerequisiteNotMet when requirements are unsatisfied and with
// domain.ErrAlreadyActive when a non-repeatable template already has a live
// instance for the character.
func (svc *Service) Start(ctx context.Context, characterID int64, templateID string) (*model.QuestInstance, error) {
	tpl, err := svc.catalog.QuestTemplate(templateID)
	if err != nil {
		return nil, err
	}
	if err := svc.checkRequirements(ctx, characterID, tpl); err != nil {
		return nil, err
	}

	root, ok := tpl.Node(tpl.RootNode)
	if !ok {
		return nil, fmt.Errorf("quest %q: root node %q missing", templateID, tpl.RootNode)
	}

	var inst *model.QuestInstance
	// The synthetic start lock serializes concurrent Start calls for the same
	// character+template so the AlreadyActive check cannot race itself.
	err = svc.locks.Do(fmt.Sprintf("start:%d:%s", characterID, templateID), func() error {
		if !tpl.Repeatable {
			var n int64
			if err := svc.db.WithContext(ctx).Model(&model.QuestInstance{}).
				Where("character_id = ? AND template_id = ? AND status = ?",
					characterID, templateID, model.StatusActive).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("quest %q: %w", templateID, domain.ErrAlreadyActive)
			}
		}
		inst = &model.QuestInstance{
			ID:          uuid.NewString(),
			CharacterID: characterID,
			TemplateID:  templateID,
			Status:      model.StatusActive,
			BranchNode:  tpl.RootNode,
			Progress:    progress.Seed(root.Objectives).Encode(),
			Flags:       datatypes.JSON([]byte("{}")),
			StartedAt:   svc.clock.Now().UTC(),
		}
		return svc.db.WithContext(ctx).Create(inst).Error
	})
	if err != nil {
		return nil, err
	}

	svc.journal.Record(audit.Entry{
		TraceID:     audit.Trace(ctx),
		InstanceID:  inst.ID,
		CharacterID: characterID,
		Source:      "quest",
		ToStatus:    model.StatusActive,
		Reason:      "Started",
		Detail:      map[string]any{"template_id": templateID},
	})
	svc.notifier.QuestChanged(ctx, inst)
	return inst, nil
}

// AdvanceBranch follows the branch-graph edge for the chosen transition key.
// Requires the current node's objectives to be complete.
func (svc *Service) AdvanceBranch(ctx context.Context, instanceID, transitionKey string) (*model.QuestInstance, error) {
	var out *model.QuestInstance
	err := svc.locks.Do(instanceID, func() error {
		inst, tpl, node, pmap, err := svc.loadActive(ctx, instanceID)
		if err != nil {
			return err
		}
		var advErr error
		out, advErr = svc.advanceLocked(ctx, inst, tpl, node, pmap, transitionKey, map[string]bool{node.ID: true})
		return advErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete transitions an ACTIVE instance whose terminal node objectives are
// all satisfied into COMPLETED and settles its reward.
func (svc *Service) Complete(ctx context.Context, instanceID string) (*model.QuestInstance, error) {
	var out *model.QuestInstance
	err := svc.locks.Do(instanceID, func() error {
		inst, tpl, node, pmap, err := svc.loadActive(ctx, instanceID)
		if err != nil {
			return err
		}
		var cErr error
		out, cErr = svc.completeLocked(ctx, inst, tpl, node, pmap)
		return cErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Fail transitions an ACTIVE instance to FAILED with the given reason.
func (svc *Service) Fail(ctx context.Context, instanceID, reason string) error {
	return svc.locks.Do(instanceID, func() error {
		return svc.terminateLocked(ctx, instanceID, model.StatusFailed, reason)
	})
}

// Abandon is the externally triggered terminal cancellation. Racing an
// in-flight completion is safe: whichever transition reaches the instance
// lock first wins and the loser observes ErrAlreadyTerminal.
func (svc *Service) Abandon(ctx context.Context, instanceID string) error {
	return svc.locks.Do(instanceID, func() error {
		return svc.terminateLocked(ctx, instanceID, model.StatusAbandoned, "Abandoned")
	})
}

// SetFlag writes a narrative flag on an ACTIVE instance.
func (svc *Service) SetFlag(ctx context.Context, instanceID, key string, value FlagValue) error {
	return svc.locks.Do(instanceID, func() error {
		var inst model.QuestInstance
		if err := svc.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
			return err
		}
		if inst.Status != model.StatusActive {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}
		flags, err := DecodeFlags(inst.Flags)
		if err != nil {
			return err
		}
		flags[key] = value
		res := svc.db.WithContext(ctx).Model(&model.QuestInstance{}).
			Where("id = ? AND status = ?", instanceID, model.StatusActive).
			Update("flags", flags.Encode())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}
		return nil
	})
}

// SetDialogueNode records the character's position in a dialogue tree.
func (svc *Service) SetDialogueNode(ctx context.Context, instanceID, node string) error {
	return svc.locks.Do(instanceID, func() error {
		res := svc.db.WithContext(ctx).Model(&model.QuestInstance{}).
			Where("id = ? AND status = ?", instanceID, model.StatusActive).
			Update("dialogue_node", node)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}
		return nil
	})
}

// OnObjectivesComplete is the tracker's transition request. Under the
// instance lock it re-checks the node's objectives, then either completes a
// terminal node or auto-advances when the node has an unambiguous next edge
// (an objective's branch trigger, or a single outgoing transition). Nodes
// with several open choices wait for an explicit AdvanceBranch.
func (svc *Service) OnObjectivesComplete(ctx context.Context, instanceID string) error {
	return svc.locks.Do(instanceID, func() error {
		inst, tpl, node, pmap, err := svc.loadActive(ctx, instanceID)
		if err != nil {
			return err
		}
		if !pmap.AllComplete(node.Objectives) {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrObjectivesIncomplete)
		}
		if node.Terminal {
			_, err := svc.completeLocked(ctx, inst, tpl, node, pmap)
			return err
		}
		if key, ok := autoTransition(node, pmap); ok {
			_, err := svc.advanceLocked(ctx, inst, tpl, node, pmap, key, map[string]bool{node.ID: true})
			return err
		}
		return nil
	})
}

// ExpireSweep fails every ACTIVE instance whose template time limit has
// elapsed, reason TimedOut. Instances are re-checked under their lock, so a
// completion that lands first always wins. Returns the number expired.
func (svc *Service) ExpireSweep(ctx context.Context) (int, error) {
	var insts []model.QuestInstance
	if err := svc.db.WithContext(ctx).
		Where("status = ?", model.StatusActive).
		Find(&insts).Error; err != nil {
		return 0, err
	}
	now := svc.clock.Now()

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range insts {
		inst := insts[i]
		tpl, err := svc.catalog.QuestTemplate(inst.TemplateID)
		if err != nil || tpl.TimeLimit() == 0 {
			continue
		}
		if now.Sub(inst.StartedAt) <= tpl.TimeLimit() {
			continue
		}
		g.Go(func() error {
			err := svc.locks.Do(inst.ID, func() error {
				return svc.terminateLocked(gctx, inst.ID, model.StatusFailed, domain.ReasonTimedOut)
			})
			if errors.Is(err, domain.ErrAlreadyTerminal) {
				return nil // completion or abandon won the race
			}
			if err == nil {
				expired.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return int(expired.Load()), err
	}
	return int(expired.Load()), nil
}

// SettleBacklog re-settles COMPLETED instances missing a reward request, for
// recovery after a settlement write failed mid-completion.
func (svc *Service) SettleBacklog(ctx context.Context) error {
	var insts []model.QuestInstance
	err := svc.db.WithContext(ctx).
		Where("status = ? AND id NOT IN (?)", model.StatusCompleted,
			svc.db.Model(&model.RewardRequest{}).Select("instance_id")).
		Find(&insts).Error
	if err != nil {
		return err
	}
	for i := range insts {
		inst := &insts[i]
		tpl, err := svc.catalog.QuestTemplate(inst.TemplateID)
		if err != nil {
			continue
		}
		if _, err := svc.settler.Settle(ctx, inst.ID, inst.CharacterID, "quest", tpl.Rewards); err != nil {
			svc.logger.Warn("backlog settlement failed",
				zap.String("instance_id", inst.ID), zap.Error(err))
		}
	}
	return nil
}

// Get returns one instance by id.
func (svc *Service) Get(ctx context.Context, instanceID string) (*model.QuestInstance, error) {
	var inst model.QuestInstance
	if err := svc.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListByCharacter returns the character's instances, newest first.
func (svc *Service) ListByCharacter(ctx context.Context, characterID int64) ([]model.QuestInstance, error) {
	var insts []model.QuestInstance
	err := svc.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("started_at DESC").
		Find(&insts).Error
	return insts, err
}

// ---- locked helpers ----

// loadActive loads the instance plus its template, current node and progress
// map. Callers must hold the instance lock.
func (svc *Service) loadActive(ctx context.Context, instanceID string) (*model.QuestInstance, *catalog.QuestTemplate, *catalog.BranchNode, progress.Map, error) {
	var inst model.QuestInstance
	if err := svc.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
		return nil, nil, nil, nil, err
	}
	if inst.Status != model.StatusActive {
		return nil, nil, nil, nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
	}
	tpl, err := svc.catalog.QuestTemplate(inst.TemplateID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	node, ok := tpl.Node(inst.BranchNode)
	if !ok {
		return nil, nil, nil, nil, fmt.Errorf("instance %s: branch node %q missing from template %q",
			instanceID, inst.BranchNode, inst.TemplateID)
	}
	pmap, err := progress.Decode(inst.Progress)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return &inst, tpl, node, pmap, nil
}

// advanceLocked follows one edge and then keeps auto-advancing while the
// entered node is already satisfied. visited holds every node id the chain
// has passed through; revisiting one means the template carries an
// auto-advance cycle, which is refused rather than spun on forever.
func (svc *Service) advanceLocked(ctx context.Context, inst *model.QuestInstance, tpl *catalog.QuestTemplate,
	node *catalog.BranchNode, pmap progress.Map, transitionKey string, visited map[string]bool) (*model.QuestInstance, error) {

	if !pmap.AllComplete(node.Objectives) {
		return nil, fmt.Errorf("node %q objectives incomplete: %w", node.ID, domain.ErrInvalidTransition)
	}
	nextID, ok := node.Transitions[transitionKey]
	if !ok {
		return nil, fmt.Errorf("node %q has no transition %q: %w", node.ID, transitionKey, domain.ErrInvalidTransition)
	}
	if visited[nextID] {
		return nil, fmt.Errorf("node %q transition %q re-enters %q: %w",
			node.ID, transitionKey, nextID, domain.ErrInvalidTransition)
	}
	visited[nextID] = true
	next, ok := tpl.Node(nextID)
	if !ok {
		return nil, fmt.Errorf("template %q: transition target %q missing", tpl.ID, nextID)
	}

	newProgress := progress.Reseed(next.Objectives, pmap).Encode()
	res := svc.db.WithContext(ctx).Model(&model.QuestInstance{}).
		Where("id = ? AND status = ?", inst.ID, model.StatusActive).
		Updates(map[string]any{
			"branch_node": next.ID,
			"progress":    newProgress,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("instance %s: %w", inst.ID, domain.ErrAlreadyTerminal)
	}

	inst.BranchNode = next.ID
	inst.Progress = newProgress
	svc.journal.Record(audit.Entry{
		TraceID:     audit.Trace(ctx),
		InstanceID:  inst.ID,
		CharacterID: inst.CharacterID,
		Source:      "quest",
		FromStatus:  model.StatusActive,
		ToStatus:    model.StatusActive,
		Reason:      "BranchAdvanced",
		Detail:      map[string]any{"from": node.ID, "to": next.ID, "key": transitionKey},
	})
	svc.notifier.QuestChanged(ctx, inst)

	// A freshly entered node can already be satisfied by carried-over
	// objectives; resolve it now rather than waiting for another event.
	newMap, _ := progress.Decode(inst.Progress)
	if newMap.AllComplete(next.Objectives) {
		if next.Terminal {
			return svc.completeLocked(ctx, inst, tpl, next, newMap)
		}
		if key, ok := autoTransition(next, newMap); ok {
			return svc.advanceLocked(ctx, inst, tpl, next, newMap, key, visited)
		}
	}
	return inst, nil
}

func (svc *Service) completeLocked(ctx context.Context, inst *model.QuestInstance, tpl *catalog.QuestTemplate,
	node *catalog.BranchNode, pmap progress.Map) (*model.QuestInstance, error) {

	if !node.Terminal {
		return nil, fmt.Errorf("node %q is not terminal: %w", node.ID, domain.ErrObjectivesIncomplete)
	}
	if !pmap.AllComplete(node.Objectives) {
		return nil, fmt.Errorf("node %q: %w", node.ID, domain.ErrObjectivesIncomplete)
	}

	now := svc.clock.Now().UTC()
	res := svc.db.WithContext(ctx).Model(&model.QuestInstance{}).
		Where("id = ? AND status = ?", inst.ID, model.StatusActive).
		Updates(map[string]any{
			"status":       model.StatusCompleted,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("instance %s: %w", inst.ID, domain.ErrAlreadyTerminal)
	}

	inst.Status = model.StatusCompleted
	inst.CompletedAt = &now
	svc.journal.Record(audit.Entry{
		TraceID:     audit.Trace(ctx),
		InstanceID:  inst.ID,
		CharacterID: inst.CharacterID,
		Source:      "quest",
		FromStatus:  model.StatusActive,
		ToStatus:    model.StatusCompleted,
		Reason:      "Completed",
	})
	svc.notifier.QuestChanged(ctx, inst)

	// Completion is already durable; a settlement failure here is recovered
	// by SettleBacklog, never by rolling the status back.
	if _, err := svc.settler.Settle(ctx, inst.ID, inst.CharacterID, "quest", tpl.Rewards); err != nil {
		svc.logger.Error("settlement failed after completion",
			zap.String("instance_id", inst.ID), zap.Error(err))
	}
	return inst, nil
}

func (svc *Service) terminateLocked(ctx context.Context, instanceID string, status model.InstanceStatus, reason string) error {
	var inst model.QuestInstance
	if err := svc.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
		return err
	}
	if inst.Status != model.StatusActive {
		return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
	}
	now := svc.clock.Now().UTC()
	res := svc.db.WithContext(ctx).Model(&model.QuestInstance{}).
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
		Source:      "quest",
		FromStatus:  model.StatusActive,
		ToStatus:    status,
		Reason:      reason,
	})
	svc.notifier.QuestChanged(ctx, &inst)
	return nil
}

func (svc *Service) checkRequirements(ctx context.Context, characterID int64, tpl *catalog.QuestTemplate) error {
	req := tpl.Requirements
	if req.MinLevel > 0 {
		level, err := svc.oracle.Level(ctx, characterID)
		if err != nil {
			return err
		}
		if level < req.MinLevel {
			return fmt.Errorf("level %d < %d: %w", level, req.MinLevel, domain.ErrPrerequisiteNotMet)
		}
	}
	for _, prior := range req.QuestsCompleted {
		done, err := svc.oracle.HasCompletedQuest(ctx, characterID, prior)
		if err != nil {
			return err
		}
		if !done {
			return fmt.Errorf("quest %q not completed: %w", prior, domain.ErrPrerequisiteNotMet)
		}
	}
	for faction, min := range req.FactionRep {
		rep, err := svc.oracle.FactionStanding(ctx, characterID, faction)
		if err != nil {
			return err
		}
		if rep < min {
			return fmt.Errorf("faction %q standing %d < %d: %w", faction, rep, min, domain.ErrPrerequisiteNotMet)
		}
	}
	return nil
}

// autoTransition returns the edge to follow without an explicit player
// choice: a completed objective's branch trigger if it names a real edge,
// otherwise the node's single outgoing transition.
func autoTransition(node *catalog.BranchNode, pmap progress.Map) (string, bool) {
	for _, obj := range node.Objectives {
		if obj.BranchTrigger == "" {
			continue
		}
		if e, ok := pmap[obj.ID]; ok && e.Complete {
			if _, ok := node.Transitions[obj.BranchTrigger]; ok {
				return obj.BranchTrigger, true
			}
		}
	}
	if len(node.Transitions) == 1 {
		for key := range node.Transitions {
			return key, true
		}
	}
	return "", false
}
