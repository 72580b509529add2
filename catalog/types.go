package catalog

import "time"

// QuestType categorizes a quest template.
type QuestType string

const (
	QuestMain        QuestType = "MAIN"
	QuestSide        QuestType = "SIDE"
	QuestFaction     QuestType = "FACTION"
	QuestDaily       QuestType = "DAILY"
	QuestWeekly      QuestType = "WEEKLY"
	QuestRandomEvent QuestType = "RANDOM_EVENT"
)

// Period is a challenge issuance window.
type Period string

const (
	PeriodDaily    Period = "DAILY"
	PeriodWeekly   Period = "WEEKLY"
	PeriodSeasonal Period = "SEASONAL"
)

// Valid reports whether p is one of the known periods.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodSeasonal:
		return true
	}
	return false
}

// ObjectiveKind is the closed set of objective variants the tracker can
// dispatch on. New kinds require tracker support, not just catalog data.
type ObjectiveKind string

const (
	ObjectiveKillCount     ObjectiveKind = "kill_count"
	ObjectiveCollectCount  ObjectiveKind = "collect_count"
	ObjectiveReachLocation ObjectiveKind = "reach_location"
	ObjectiveDialogueFlag  ObjectiveKind = "dialogue_flag"
	ObjectiveSkillCheck    ObjectiveKind = "skill_check"
)

// Valid reports whether k is one of the known objective kinds.
func (k ObjectiveKind) Valid() bool {
	switch k {
	case ObjectiveKillCount, ObjectiveCollectCount, ObjectiveReachLocation,
		ObjectiveDialogueFlag, ObjectiveSkillCheck:
		return true
	}
	return false
}

// Objective is one countable or boolean condition inside a branch node.
// EventKind names the gameplay event vocabulary entry that advances it;
// Match is an equality predicate over the event payload. For collect-style
// objectives CountField names the payload field carrying the quantity
// (contribution defaults to 1 otherwise).
type Objective struct {
	ID            string            `json:"id"`
	Kind          ObjectiveKind     `json:"kind"`
	EventKind     string            `json:"event_kind"`
	Target        int               `json:"target"`
	Match         map[string]string `json:"match,omitempty"`
	CountField    string            `json:"count_field,omitempty"`
	BranchTrigger string            `json:"branch_trigger,omitempty"`
}

// Requirements gate quest acceptance.
type Requirements struct {
	MinLevel        int            `json:"min_level,omitempty"`
	QuestsCompleted []string       `json:"quests_completed,omitempty"`
	FactionRep      map[string]int `json:"faction_rep,omitempty"` // faction → min standing
}

// ItemReward is a single item grant.
type ItemReward struct {
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

// Rewards is the template-level reward definition. XP is a base value; the
// settled amount is scaled by the character's level at completion.
type Rewards struct {
	XP           int          `json:"xp,omitempty"`
	Currency     int64        `json:"currency,omitempty"`
	Items        []ItemReward `json:"items,omitempty"`
	TrackEntries []string     `json:"track_entries,omitempty"`
}

// BranchNode is one point in a quest's narrative graph. Transitions map a
// transition key (objective outcome or dialogue choice) to the next node id;
// the graph is id-indexed, never pointer-linked, so nodes may be shared.
type BranchNode struct {
	ID          string            `json:"id"`
	Objectives  []Objective       `json:"objectives"`
	Transitions map[string]string `json:"transitions,omitempty"`
	Terminal    bool              `json:"terminal,omitempty"`
}

// QuestTemplate is an immutable catalog quest definition.
type QuestTemplate struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Type         QuestType              `json:"type"`
	Faction      string                 `json:"faction,omitempty"`
	Repeatable   bool                   `json:"repeatable,omitempty"`
	TimeLimitS   int                    `json:"time_limit_s,omitempty"`
	Requirements Requirements           `json:"requirements"`
	Rewards      Rewards                `json:"rewards"`
	RootNode     string                 `json:"root_node"`
	Nodes        map[string]*BranchNode `json:"nodes"`
}

// TimeLimit returns the quest time limit, or zero if unbounded.
func (t *QuestTemplate) TimeLimit() time.Duration {
	return time.Duration(t.TimeLimitS) * time.Second
}

// Node returns the branch node with the given id.
func (t *QuestTemplate) Node(id string) (*BranchNode, bool) {
	n, ok := t.Nodes[id]
	return n, ok
}

// ChallengeTemplate is an immutable catalog challenge definition. Weight
// biases the per-period sampling; MaxRerolls and RerollCost bound the reroll
// operation.
type ChallengeTemplate struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Period     Period      `json:"period"`
	Weight     int         `json:"weight"`
	MaxRerolls int         `json:"max_rerolls"`
	RerollCost int64       `json:"reroll_cost"`
	Objectives []Objective `json:"objectives"`
	Rewards    Rewards     `json:"rewards"`
}
