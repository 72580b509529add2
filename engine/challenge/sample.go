package challenge

import (
	"math/rand"
	"sort"

	"github.com/emberworks/questengine/catalog"
)

// weightedSample draws up to n templates without replacement, biased by
// template weight. Candidates are sorted by id first so the draw depends only
// on the rng seed, not map iteration order.
func weightedSample(rng *rand.Rand, candidates []*catalog.ChallengeTemplate, n int) []*catalog.ChallengeTemplate {
	pool := make([]*catalog.ChallengeTemplate, len(candidates))
	copy(pool, candidates)
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	if n > len(pool) {
		n = len(pool)
	}
	picked := make([]*catalog.ChallengeTemplate, 0, n)
	for len(picked) < n {
		total := 0
		for _, tpl := range pool {
			total += tpl.Weight
		}
		r := rng.Intn(total)
		for i, tpl := range pool {
			r -= tpl.Weight
			if r < 0 {
				picked = append(picked, tpl)
				pool = append(pool[:i], pool[i+1:]...)
				break
			}
		}
	}
	return picked
}
