package progress

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/emberworks/questengine/catalog"
	"gorm.io/datatypes"
)

// Entry is the accumulated state of one objective.
type Entry struct {
	Current  int  `json:"current"`
	Target   int  `json:"target"`
	Complete bool `json:"complete"`
}

// Map holds per-objective progress, keyed by objective id.
type Map map[string]*Entry

// Seed returns a zero-valued Map for the given objectives.
func Seed(objs []catalog.Objective) Map {
	m := make(Map, len(objs))
	for _, obj := range objs {
		m[obj.ID] = &Entry{Target: obj.Target}
	}
	return m
}

// Reseed builds a Map for the given objectives, carrying over entries already
// satisfied under a previous branch node when the objective id is shared.
func Reseed(objs []catalog.Objective, prev Map) Map {
	m := Seed(objs)
	for id, e := range prev {
		if e.Complete {
			if _, ok := m[id]; ok {
				m[id] = &Entry{Current: e.Current, Target: e.Target, Complete: true}
			}
		}
	}
	return m
}

// Decode parses a stored progress column. A nil column decodes to an empty Map.
func Decode(raw datatypes.JSON) (Map, error) {
	m := make(Map)
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("progress: decode: %w", err)
	}
	return m, nil
}

// Encode serializes the Map for storage.
func (m Map) Encode() datatypes.JSON {
	raw, _ := json.Marshal(m)
	return datatypes.JSON(raw)
}

// Apply adds delta to the objective's entry, clamped to its target, and
// recomputes the completion flag. It returns the applied delta, which is zero
// when the objective is already complete.
func (m Map) Apply(objectiveID string, delta int) int {
	e, ok := m[objectiveID]
	if !ok || e.Complete || delta <= 0 {
		return 0
	}
	if e.Current+delta > e.Target {
		delta = e.Target - e.Current
	}
	e.Current += delta
	e.Complete = e.Current >= e.Target
	return delta
}

// AllComplete reports whether every given objective is complete in the Map.
func (m Map) AllComplete(objs []catalog.Objective) bool {
	for _, obj := range objs {
		e, ok := m[obj.ID]
		if !ok || !e.Complete {
			return false
		}
	}
	return true
}

// Matches reports whether the event kind and payload satisfy the objective's
// matcher. Unknown event kinds simply never match; the catalog and the event
// producers may evolve their vocabularies independently.
func Matches(obj catalog.Objective, eventKind string, payload map[string]any) bool {
	if obj.EventKind != eventKind {
		return false
	}
	for field, want := range obj.Match {
		got, ok := payload[field]
		if !ok || payloadString(got) != want {
			return false
		}
	}
	return true
}

// Contribution returns the event's contribution for the objective: the
// payload-supplied quantity for collect-style objectives, 1 otherwise.
func Contribution(obj catalog.Objective, payload map[string]any) int {
	if obj.CountField == "" {
		return 1
	}
	v, ok := payload[obj.CountField]
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 1
		}
		return int(i)
	default:
		return 1
	}
}

func payloadString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprintf("%v", s)
	}
}
