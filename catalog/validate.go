package catalog

import "fmt"

// ValidateQuest checks a quest template for structural problems: missing root,
// dangling transitions, unreachable completion, bad objectives. Content bugs
// caught here never reach a live instance.
func ValidateQuest(t *QuestTemplate) error {
	if t.ID == "" {
		return fmt.Errorf("quest template missing id")
	}
	if len(t.Nodes) == 0 {
		return fmt.Errorf("quest %q: no branch nodes", t.ID)
	}
	if _, ok := t.Nodes[t.RootNode]; !ok {
		return fmt.Errorf("quest %q: root node %q not defined", t.ID, t.RootNode)
	}
	terminal := false
	for id, node := range t.Nodes {
		if node.ID != id {
			return fmt.Errorf("quest %q: node keyed %q declares id %q", t.ID, id, node.ID)
		}
		if node.Terminal {
			terminal = true
		}
		for key, next := range node.Transitions {
			if _, ok := t.Nodes[next]; !ok {
				return fmt.Errorf("quest %q: node %q transition %q targets unknown node %q",
					t.ID, id, key, next)
			}
		}
		if !node.Terminal && len(node.Transitions) == 0 {
			return fmt.Errorf("quest %q: node %q is a dead end", t.ID, id)
		}
		if err := validateObjectives(node.Objectives); err != nil {
			return fmt.Errorf("quest %q: node %q: %w", t.ID, id, err)
		}
	}
	if !terminal {
		return fmt.Errorf("quest %q: no terminal node", t.ID)
	}
	if hit := autoAdvanceLoop(t); hit != "" {
		return fmt.Errorf("quest %q: node %q sits on an objective-less auto-advance cycle", t.ID, hit)
	}
	if t.TimeLimitS < 0 {
		return fmt.Errorf("quest %q: negative time limit", t.ID)
	}
	return nil
}

// ValidateChallenge checks a challenge template.
func ValidateChallenge(t *ChallengeTemplate) error {
	if t.ID == "" {
		return fmt.Errorf("challenge template missing id")
	}
	if !t.Period.Valid() {
		return fmt.Errorf("challenge %q: invalid period %q", t.ID, t.Period)
	}
	if t.Weight < 1 {
		return fmt.Errorf("challenge %q: weight must be >= 1", t.ID)
	}
	if t.MaxRerolls < 0 || t.RerollCost < 0 {
		return fmt.Errorf("challenge %q: negative reroll settings", t.ID)
	}
	if len(t.Objectives) == 0 {
		return fmt.Errorf("challenge %q: no objectives", t.ID)
	}
	if err := validateObjectives(t.Objectives); err != nil {
		return fmt.Errorf("challenge %q: %w", t.ID, err)
	}
	return nil
}

// autoAdvanceLoop reports the first node found on a cycle of objective-less,
// single-transition nodes. Such a node is followed the instant it is entered,
// so a cycle of them would never hand control back to the caller.
func autoAdvanceLoop(t *QuestTemplate) string {
	const (
		visiting = 1
		settled  = 2
	)
	state := make(map[string]int, len(t.Nodes))
	var walk func(id string) string
	walk = func(id string) string {
		node := t.Nodes[id]
		if node == nil || node.Terminal || len(node.Objectives) > 0 || len(node.Transitions) != 1 {
			return ""
		}
		switch state[id] {
		case visiting:
			return id
		case settled:
			return ""
		}
		state[id] = visiting
		for _, next := range node.Transitions {
			if hit := walk(next); hit != "" {
				return hit
			}
		}
		state[id] = settled
		return ""
	}
	for id := range t.Nodes {
		if hit := walk(id); hit != "" {
			return hit
		}
	}
	return ""
}

func validateObjectives(objs []Objective) error {
	seen := make(map[string]bool, len(objs))
	for _, obj := range objs {
		if obj.ID == "" {
			return fmt.Errorf("objective missing id")
		}
		if seen[obj.ID] {
			return fmt.Errorf("duplicate objective id %q", obj.ID)
		}
		seen[obj.ID] = true
		if !obj.Kind.Valid() {
			return fmt.Errorf("objective %q: unknown kind %q", obj.ID, obj.Kind)
		}
		if obj.EventKind == "" {
			return fmt.Errorf("objective %q: missing event_kind", obj.ID)
		}
		if obj.Target < 1 {
			return fmt.Errorf("objective %q: target must be >= 1", obj.ID)
		}
	}
	return nil
}
