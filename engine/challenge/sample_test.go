package challenge

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberworks/questengine/catalog"
)

func pool(weights map[string]int) []*catalog.ChallengeTemplate {
	out := make([]*catalog.ChallengeTemplate, 0, len(weights))
	for id, w := range weights {
		out = append(out, &catalog.ChallengeTemplate{ID: id, Weight: w})
	}
	return out
}

func ids(tpls []*catalog.ChallengeTemplate) []string {
	out := make([]string, len(tpls))
	for i, tpl := range tpls {
		out[i] = tpl.ID
	}
	return out
}

func TestWeightedSample_WithoutReplacement(t *testing.T) {
	candidates := pool(map[string]int{"a": 1, "b": 2, "c": 3, "d": 4})
	picked := weightedSample(rand.New(rand.NewSource(42)), candidates, 3)
	require.Len(t, picked, 3)
	seen := map[string]bool{}
	for _, tpl := range picked {
		assert.False(t, seen[tpl.ID], "template %s drawn twice", tpl.ID)
		seen[tpl.ID] = true
	}
}

func TestWeightedSample_NLargerThanPool(t *testing.T) {
	candidates := pool(map[string]int{"a": 1, "b": 1})
	picked := weightedSample(rand.New(rand.NewSource(1)), candidates, 5)
	assert.Len(t, picked, 2)
}

func TestWeightedSample_DeterministicForSeed(t *testing.T) {
	candidates := pool(map[string]int{"a": 5, "b": 3, "c": 2, "d": 7, "e": 1})
	first := weightedSample(rand.New(rand.NewSource(99)), candidates, 3)
	second := weightedSample(rand.New(rand.NewSource(99)), candidates, 3)
	assert.Equal(t, ids(first), ids(second))
}

func TestWeightedSample_IgnoresInputOrder(t *testing.T) {
	forward := pool(map[string]int{"a": 5, "b": 3, "c": 2})
	reversed := []*catalog.ChallengeTemplate{forward[2], forward[1], forward[0]}
	first := weightedSample(rand.New(rand.NewSource(7)), forward, 2)
	second := weightedSample(rand.New(rand.NewSource(7)), reversed, 2)
	assert.Equal(t, ids(first), ids(second))
}

func TestWeightedSample_BiasFollowsWeight(t *testing.T) {
	candidates := pool(map[string]int{"heavy": 90, "light": 10})
	rng := rand.New(rand.NewSource(0))
	heavyFirst := 0
	for i := 0; i < 1000; i++ {
		picked := weightedSample(rng, candidates, 1)
		if picked[0].ID == "heavy" {
			heavyFirst++
		}
	}
	// Expect close to 900 of 1000; a wide band keeps the test stable.
	assert.Greater(t, heavyFirst, 800)
}
