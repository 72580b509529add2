package catalog

import "fmt"

// Static is an in-memory Provider. Used by tests and by embedders that build
// their catalog from something other than JSON files.
type Static struct {
	Quests     map[string]*QuestTemplate
	Challenges map[string]*ChallengeTemplate
}

// NewStatic builds a Static provider from template slices.
func NewStatic(quests []*QuestTemplate, challenges []*ChallengeTemplate) *Static {
	s := &Static{
		Quests:     make(map[string]*QuestTemplate, len(quests)),
		Challenges: make(map[string]*ChallengeTemplate, len(challenges)),
	}
	for _, q := range quests {
		s.Quests[q.ID] = q
	}
	for _, c := range challenges {
		s.Challenges[c.ID] = c
	}
	return s
}

func (s *Static) QuestTemplate(id string) (*QuestTemplate, error) {
	tpl, ok := s.Quests[id]
	if !ok {
		return nil, fmt.Errorf("quest %q: %w", id, ErrNotFound)
	}
	return tpl, nil
}

func (s *Static) ChallengeTemplate(id string) (*ChallengeTemplate, error) {
	tpl, ok := s.Challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %q: %w", id, ErrNotFound)
	}
	return tpl, nil
}

func (s *Static) ChallengeTemplates(period Period) []*ChallengeTemplate {
	out := make([]*ChallengeTemplate, 0, len(s.Challenges))
	for _, tpl := range s.Challenges {
		if tpl.Period == period {
			out = append(out, tpl)
		}
	}
	return out
}
