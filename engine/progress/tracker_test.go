package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/emberworks/questengine/catalog"
	"github.com/emberworks/questengine/engine/locks"
	"github.com/emberworks/questengine/model"
	"github.com/emberworks/questengine/testutil"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCompleter) OnObjectivesComplete(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, instanceID)
	return nil
}

func (f *fakeCompleter) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func trackerQuest() *catalog.QuestTemplate {
	return &catalog.QuestTemplate{
		ID:       "cull",
		Name:     "Cull",
		Type:     catalog.QuestSide,
		RootNode: "hunt",
		Nodes: map[string]*catalog.BranchNode{
			"hunt": {
				ID:       "hunt",
				Terminal: true,
				Objectives: []catalog.Objective{{
					ID: "kills", Kind: catalog.ObjectiveKillCount, EventKind: "enemy_killed",
					Target: 2, Match: map[string]string{"enemy": "rat"},
				}},
			},
		},
	}
}

func trackerChallenge() *catalog.ChallengeTemplate {
	return &catalog.ChallengeTemplate{
		ID: "daily_cull", Period: catalog.PeriodDaily, Weight: 1,
		Objectives: []catalog.Objective{{
			ID: "kills", Kind: catalog.ObjectiveKillCount, EventKind: "enemy_killed",
			Target: 3, Match: map[string]string{"enemy": "rat"},
		}},
	}
}

func setupTracker(t *testing.T) (*Tracker, *gorm.DB, *fakeCompleter, *fakeCompleter) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	cat := catalog.NewStatic(
		[]*catalog.QuestTemplate{trackerQuest()},
		[]*catalog.ChallengeTemplate{trackerChallenge()},
	)
	qc := &fakeCompleter{}
	cc := &fakeCompleter{}
	tr, err := NewTracker(db, cat, locks.NewRegistry(), c, qc, cc, nil, Options{}, zap.NewNop())
	require.NoError(t, err)
	return tr, db, qc, cc
}

func seedQuestInstance(t *testing.T, db *gorm.DB, charID int64, templateID, node string, objs []catalog.Objective) string {
	t.Helper()
	inst := &model.QuestInstance{
		ID:          uuid.NewString(),
		CharacterID: charID,
		TemplateID:  templateID,
		Status:      model.StatusActive,
		BranchNode:  node,
		Progress:    Seed(objs).Encode(),
		Flags:       datatypes.JSON([]byte("{}")),
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(inst).Error)
	return inst.ID
}

func seedChallengeInstance(t *testing.T, db *gorm.DB, charID int64, tpl *catalog.ChallengeTemplate) string {
	t.Helper()
	inst := &model.ChallengeInstance{
		ID:          uuid.NewString(),
		CharacterID: charID,
		TemplateID:  tpl.ID,
		Period:      string(tpl.Period),
		PeriodKey:   "2025-06-10",
		Status:      model.StatusActive,
		Progress:    Seed(tpl.Objectives).Encode(),
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(inst).Error)
	return inst.ID
}

func killEvent(id string, charID int64) Event {
	return Event{
		ID:          id,
		CharacterID: charID,
		Kind:        "enemy_killed",
		Payload:     map[string]any{"enemy": "rat"},
	}
}

func TestApplyEvent_IncrementsMatchingInstances(t *testing.T) {
	tr, db, _, _ := setupTracker(t)
	tpl := trackerQuest()
	questID := seedQuestInstance(t, db, 1, tpl.ID, "hunt", tpl.Nodes["hunt"].Objectives)
	chalID := seedChallengeInstance(t, db, 1, trackerChallenge())

	updates, err := tr.ApplyEvent(context.Background(), killEvent("e1", 1))
	require.NoError(t, err)
	require.Len(t, updates, 2)

	sources := map[string]string{}
	for _, u := range updates {
		sources[u.InstanceID] = u.Source
		assert.Equal(t, 1, u.Delta)
		assert.Equal(t, "kills", u.ObjectiveID)
	}
	assert.Equal(t, "quest", sources[questID])
	assert.Equal(t, "challenge", sources[chalID])

	var inst model.QuestInstance
	require.NoError(t, db.Where("id = ?", questID).First(&inst).Error)
	pmap, err := Decode(inst.Progress)
	require.NoError(t, err)
	assert.Equal(t, 1, pmap["kills"].Current)
}

func TestApplyEvent_DuplicateEventIDAbsorbed(t *testing.T) {
	tr, db, _, _ := setupTracker(t)
	tpl := trackerQuest()
	questID := seedQuestInstance(t, db, 1, tpl.ID, "hunt", tpl.Nodes["hunt"].Objectives)

	updates, err := tr.ApplyEvent(context.Background(), killEvent("e1", 1))
	require.NoError(t, err)
	require.Len(t, updates, 1)

	updates, err = tr.ApplyEvent(context.Background(), killEvent("e1", 1))
	require.NoError(t, err)
	assert.Empty(t, updates)

	var inst model.QuestInstance
	require.NoError(t, db.Where("id = ?", questID).First(&inst).Error)
	pmap, _ := Decode(inst.Progress)
	assert.Equal(t, 1, pmap["kills"].Current)
}

func TestApplyEvent_NonMatchingIsNoOp(t *testing.T) {
	tr, db, qc, _ := setupTracker(t)
	tpl := trackerQuest()
	seedQuestInstance(t, db, 1, tpl.ID, "hunt", tpl.Nodes["hunt"].Objectives)

	updates, err := tr.ApplyEvent(context.Background(), Event{
		ID: "e1", CharacterID: 1, Kind: "chest_opened", Payload: nil,
	})
	require.NoError(t, err)
	assert.Empty(t, updates)
	assert.Empty(t, qc.called())
}

func TestApplyEvent_CompletionTriggersCallback(t *testing.T) {
	tr, db, qc, cc := setupTracker(t)
	tpl := trackerQuest()
	questID := seedQuestInstance(t, db, 1, tpl.ID, "hunt", tpl.Nodes["hunt"].Objectives)

	_, err := tr.ApplyEvent(context.Background(), killEvent("e1", 1))
	require.NoError(t, err)
	assert.Empty(t, qc.called())

	_, err = tr.ApplyEvent(context.Background(), killEvent("e2", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{questID}, qc.called())
	assert.Empty(t, cc.called())
}

func TestApplyEvent_TerminalInstanceUntouched(t *testing.T) {
	tr, db, _, _ := setupTracker(t)
	tpl := trackerQuest()
	questID := seedQuestInstance(t, db, 1, tpl.ID, "hunt", tpl.Nodes["hunt"].Objectives)
	require.NoError(t, db.Model(&model.QuestInstance{}).
		Where("id = ?", questID).Update("status", model.StatusFailed).Error)

	updates, err := tr.ApplyEvent(context.Background(), killEvent("e1", 1))
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestApplyEvent_CatalogDriftIsInert(t *testing.T) {
	tr, db, _, _ := setupTracker(t)
	tpl := trackerQuest()
	seedQuestInstance(t, db, 1, "retired_template", "hunt", tpl.Nodes["hunt"].Objectives)

	updates, err := tr.ApplyEvent(context.Background(), killEvent("e1", 1))
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestApplyEvent_OtherCharactersUnaffected(t *testing.T) {
	tr, db, _, _ := setupTracker(t)
	tpl := trackerQuest()
	otherID := seedQuestInstance(t, db, 2, tpl.ID, "hunt", tpl.Nodes["hunt"].Objectives)

	updates, err := tr.ApplyEvent(context.Background(), killEvent("e1", 1))
	require.NoError(t, err)
	assert.Empty(t, updates)

	var inst model.QuestInstance
	require.NoError(t, db.Where("id = ?", otherID).First(&inst).Error)
	pmap, _ := Decode(inst.Progress)
	assert.Equal(t, 0, pmap["kills"].Current)
}

func TestApplyEvent_MissingKindRejected(t *testing.T) {
	tr, _, _, _ := setupTracker(t)
	_, err := tr.ApplyEvent(context.Background(), Event{ID: "e1", CharacterID: 1})
	assert.Error(t, err)
}
