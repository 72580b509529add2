package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a template id is not in the catalog.
var ErrNotFound = errors.New("catalog: template not found")

// Provider is the read-only catalog view the engine consumes.
type Provider interface {
	QuestTemplate(id string) (*QuestTemplate, error)
	ChallengeTemplate(id string) (*ChallengeTemplate, error)
	// ChallengeTemplates returns all challenge templates for the given period.
	ChallengeTemplates(period Period) []*ChallengeTemplate
}

// Loader loads quest and challenge templates from JSON files (one template
// per file) and serves them process-wide. Reload builds a fresh catalog and
// swaps it atomically; the published maps are never mutated in place.
type Loader struct {
	questDir     string
	challengeDir string
	logger       *zap.Logger

	mu         sync.RWMutex
	quests     map[string]*QuestTemplate
	challenges map[string]*ChallengeTemplate
}

// NewLoader creates a Loader for the given content directories.
func NewLoader(questDir, challengeDir string, logger *zap.Logger) *Loader {
	return &Loader{
		questDir:     questDir,
		challengeDir: challengeDir,
		logger:       logger,
		quests:       make(map[string]*QuestTemplate),
		challenges:   make(map[string]*ChallengeTemplate),
	}
}

// Load reads both content directories. On any error the previously loaded
// catalog stays in effect.
func (l *Loader) Load() error {
	quests := make(map[string]*QuestTemplate)
	if err := eachJSON(l.questDir, func(path string, raw []byte) error {
		tpl := &QuestTemplate{}
		if err := json.Unmarshal(raw, tpl); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := ValidateQuest(tpl); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if _, dup := quests[tpl.ID]; dup {
			return fmt.Errorf("%s: duplicate quest id %q", path, tpl.ID)
		}
		quests[tpl.ID] = tpl
		return nil
	}); err != nil {
		return err
	}

	challenges := make(map[string]*ChallengeTemplate)
	if err := eachJSON(l.challengeDir, func(path string, raw []byte) error {
		tpl := &ChallengeTemplate{}
		if err := json.Unmarshal(raw, tpl); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := ValidateChallenge(tpl); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if _, dup := challenges[tpl.ID]; dup {
			return fmt.Errorf("%s: duplicate challenge id %q", path, tpl.ID)
		}
		challenges[tpl.ID] = tpl
		return nil
	}); err != nil {
		return err
	}

	l.mu.Lock()
	l.quests = quests
	l.challenges = challenges
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Info("catalog loaded",
			zap.Int("quests", len(quests)),
			zap.Int("challenges", len(challenges)))
	}
	return nil
}

// Reload is Load with explicit naming for the admin surface.
func (l *Loader) Reload() error { return l.Load() }

func (l *Loader) QuestTemplate(id string) (*QuestTemplate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tpl, ok := l.quests[id]
	if !ok {
		return nil, fmt.Errorf("quest %q: %w", id, ErrNotFound)
	}
	return tpl, nil
}

func (l *Loader) ChallengeTemplate(id string) (*ChallengeTemplate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tpl, ok := l.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %q: %w", id, ErrNotFound)
	}
	return tpl, nil
}

func (l *Loader) ChallengeTemplates(period Period) []*ChallengeTemplate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*ChallengeTemplate, 0, len(l.challenges))
	for _, tpl := range l.challenges {
		if tpl.Period == period {
			out = append(out, tpl)
		}
	}
	return out
}

// eachJSON calls fn for every .json file directly under dir. A missing
// directory is not an error; an engine may run with quests only.
func eachJSON(dir string, fn func(path string, raw []byte) error) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := fn(path, raw); err != nil {
			return err
		}
	}
	return nil
}
