package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emberworks/questengine/cache"
	"github.com/emberworks/questengine/catalog"
	"github.com/emberworks/questengine/engine/domain"
	"github.com/emberworks/questengine/engine/locks"
	"github.com/emberworks/questengine/engine/notify"
	"github.com/emberworks/questengine/model"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Event is one gameplay event delivered by the event source. ID is the
// caller-supplied idempotency key; redelivery with the same ID never double
// counts. An empty ID means the caller takes responsibility for dedup.
type Event struct {
	ID          string         `json:"event_id"`
	CharacterID int64          `json:"character_id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
}

// Update reports one applied objective increment.
type Update struct {
	InstanceID  string `json:"instance_id"`
	ObjectiveID string `json:"objective_id"`
	Delta       int    `json:"delta"`
	Source      string `json:"source"` // quest | challenge
}

// Completer receives the tracker's transition requests once every objective
// required by an instance's current node is complete. Implementations
// re-check state under the instance lock; the tracker calls with no locks
// held.
type Completer interface {
	OnObjectivesComplete(ctx context.Context, instanceID string) error
}

// Options tunes the tracker's idempotency window.
type Options struct {
	DedupTTL     time.Duration
	DedupLRUSize int
	Parallelism  int
}

// Tracker matches gameplay events against the objectives of every ACTIVE
// instance owned by the character and applies clamped increments. Instances
// are processed in parallel, each under its own lock, never more than one
// lock per goroutine.
type Tracker struct {
	db         *gorm.DB
	catalog    catalog.Provider
	locks      *locks.Registry
	cache      cache.Cache
	seen       *lru.Cache[string, struct{}]
	dedupTTL   time.Duration
	par        int
	quests     Completer
	challenges Completer
	notifier   *notify.Notifier
	logger     *zap.Logger
}

// NewTracker creates a Tracker. quests and challenges receive the completion
// callbacks for their respective instance types.
func NewTracker(db *gorm.DB, cat catalog.Provider, reg *locks.Registry, c cache.Cache,
	quests, challenges Completer, notifier *notify.Notifier, opts Options, logger *zap.Logger) (*Tracker, error) {

	size := opts.DedupLRUSize
	if size <= 0 {
		size = 65536
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	ttl := opts.DedupTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	par := opts.Parallelism
	if par <= 0 {
		par = 8
	}
	return &Tracker{
		db:         db,
		catalog:    cat,
		locks:      reg,
		cache:      c,
		seen:       seen,
		dedupTTL:   ttl,
		par:        par,
		quests:     quests,
		challenges: challenges,
		notifier:   notifier,
		logger:     logger,
	}, nil
}

// ApplyEvent fans the event out to the character's ACTIVE quest and challenge
// instances. It returns every applied increment; per-instance failures are
// joined into the returned error without blocking the other instances. An
// event whose kind matches no objective is a no-op, not an error.
func (t *Tracker) ApplyEvent(ctx context.Context, ev Event) ([]Update, error) {
	if ev.Kind == "" {
		return nil, fmt.Errorf("progress: event kind required")
	}

	var qinsts []model.QuestInstance
	if err := t.db.WithContext(ctx).
		Where("character_id = ? AND status = ?", ev.CharacterID, model.StatusActive).
		Find(&qinsts).Error; err != nil {
		return nil, err
	}
	var cinsts []model.ChallengeInstance
	if err := t.db.WithContext(ctx).
		Where("character_id = ? AND status = ?", ev.CharacterID, model.StatusActive).
		Find(&cinsts).Error; err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		updates []Update
		ready   []readyCallback
		errs    []error
	)
	collect := func(ups []Update, rc *readyCallback, err error) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, ups...)
		if rc != nil {
			ready = append(ready, *rc)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.par)
	for i := range qinsts {
		id := qinsts[i].ID
		g.Go(func() error {
			ups, rc, err := t.applyQuest(gctx, id, ev)
			collect(ups, rc, err)
			return nil
		})
	}
	for i := range cinsts {
		id := cinsts[i].ID
		g.Go(func() error {
			ups, rc, err := t.applyChallenge(gctx, id, ev)
			collect(ups, rc, err)
			return nil
		})
	}
	_ = g.Wait()

	// Transition requests run after every instance lock is released.
	for _, rc := range ready {
		if err := rc.completer.OnObjectivesComplete(ctx, rc.instanceID); err != nil {
			if errors.Is(err, domain.ErrAlreadyTerminal) || errors.Is(err, domain.ErrObjectivesIncomplete) {
				t.logger.Debug("transition request lost race",
					zap.String("instance_id", rc.instanceID), zap.Error(err))
				continue
			}
			errs = append(errs, fmt.Errorf("instance %s: %w", rc.instanceID, err))
		}
	}
	return updates, errors.Join(errs...)
}

type readyCallback struct {
	instanceID string
	completer  Completer
}

func (t *Tracker) applyQuest(ctx context.Context, instanceID string, ev Event) ([]Update, *readyCallback, error) {
	var ups []Update
	var rc *readyCallback
	err := t.locks.Do(instanceID, func() error {
		var inst model.QuestInstance
		if err := t.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
			return err
		}
		if inst.Status != model.StatusActive {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}
		if dup, err := t.seenBefore(ctx, instanceID, ev.ID); err != nil {
			return err
		} else if dup {
			return nil
		}

		tpl, err := t.catalog.QuestTemplate(inst.TemplateID)
		if err != nil {
			// Catalog drift: an instance of a retired template stays inert.
			t.logger.Warn("active instance references unknown template",
				zap.String("instance_id", instanceID),
				zap.String("template_id", inst.TemplateID))
			return nil
		}
		node, ok := tpl.Node(inst.BranchNode)
		if !ok {
			t.logger.Warn("active instance references unknown branch node",
				zap.String("instance_id", instanceID),
				zap.String("node", inst.BranchNode))
			return nil
		}

		pmap, err := Decode(inst.Progress)
		if err != nil {
			return err
		}
		for _, obj := range node.Objectives {
			if !Matches(obj, ev.Kind, ev.Payload) {
				continue
			}
			if delta := pmap.Apply(obj.ID, Contribution(obj, ev.Payload)); delta > 0 {
				ups = append(ups, Update{
					InstanceID:  instanceID,
					ObjectiveID: obj.ID,
					Delta:       delta,
					Source:      "quest",
				})
			}
		}
		if len(ups) == 0 {
			return nil
		}

		inst.Progress = pmap.Encode()
		res := t.db.WithContext(ctx).Model(&model.QuestInstance{}).
			Where("id = ? AND status = ?", instanceID, model.StatusActive).
			Update("progress", inst.Progress)
		if res.Error != nil {
			ups = nil
			return res.Error
		}
		if res.RowsAffected == 0 {
			ups = nil
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}
		t.markSeen(ctx, instanceID, ev.ID)
		if t.notifier != nil {
			t.notifier.QuestChanged(ctx, &inst)
		}
		if pmap.AllComplete(node.Objectives) {
			rc = &readyCallback{instanceID: instanceID, completer: t.quests}
		}
		return nil
	})
	return ups, rc, err
}

func (t *Tracker) applyChallenge(ctx context.Context, instanceID string, ev Event) ([]Update, *readyCallback, error) {
	var ups []Update
	var rc *readyCallback
	err := t.locks.Do(instanceID, func() error {
		var inst model.ChallengeInstance
		if err := t.db.WithContext(ctx).Where("id = ?", instanceID).First(&inst).Error; err != nil {
			return err
		}
		if inst.Status != model.StatusActive {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}
		if dup, err := t.seenBefore(ctx, instanceID, ev.ID); err != nil {
			return err
		} else if dup {
			return nil
		}

		tpl, err := t.catalog.ChallengeTemplate(inst.TemplateID)
		if err != nil {
			t.logger.Warn("active challenge references unknown template",
				zap.String("instance_id", instanceID),
				zap.String("template_id", inst.TemplateID))
			return nil
		}

		pmap, err := Decode(inst.Progress)
		if err != nil {
			return err
		}
		for _, obj := range tpl.Objectives {
			if !Matches(obj, ev.Kind, ev.Payload) {
				continue
			}
			if delta := pmap.Apply(obj.ID, Contribution(obj, ev.Payload)); delta > 0 {
				ups = append(ups, Update{
					InstanceID:  instanceID,
					ObjectiveID: obj.ID,
					Delta:       delta,
					Source:      "challenge",
				})
			}
		}
		if len(ups) == 0 {
			return nil
		}

		inst.Progress = pmap.Encode()
		res := t.db.WithContext(ctx).Model(&model.ChallengeInstance{}).
			Where("id = ? AND status = ?", instanceID, model.StatusActive).
			Update("progress", inst.Progress)
		if res.Error != nil {
			ups = nil
			return res.Error
		}
		if res.RowsAffected == 0 {
			ups = nil
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyTerminal)
		}
		t.markSeen(ctx, instanceID, ev.ID)
		if t.notifier != nil {
			t.notifier.ChallengeChanged(ctx, &inst)
		}
		if pmap.AllComplete(tpl.Objectives) {
			rc = &readyCallback{instanceID: instanceID, completer: t.challenges}
		}
		return nil
	})
	return ups, rc, err
}

// seenBefore checks the two-tier idempotency window without marking, so a
// failed write can be retried with the same event id.
func (t *Tracker) seenBefore(ctx context.Context, instanceID, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	key := dedupKey(instanceID, eventID)
	if t.seen.Contains(key) {
		return true, nil
	}
	exists, err := t.cache.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// markSeen records the event id after the progress write succeeded.
func (t *Tracker) markSeen(ctx context.Context, instanceID, eventID string) {
	if eventID == "" {
		return
	}
	key := dedupKey(instanceID, eventID)
	t.seen.Add(key, struct{}{})
	if _, err := t.cache.SetNX(ctx, key, "1", t.dedupTTL); err != nil {
		t.logger.Warn("dedup mark failed", zap.String("key", key), zap.Error(err))
	}
}

func dedupKey(instanceID, eventID string) string {
	return "dedup:" + instanceID + ":" + eventID
}
