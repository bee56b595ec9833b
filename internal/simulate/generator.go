package simulate

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/okian/tiara/internal/domain/model"
)

// favoriteShare is the chance each pick is drawn from the favorites, so
// that predictions cluster the way real fan votes do.
const favoriteShare = 0.7

// generator produces fans and an official result from one seed.
type generator struct {
	rng        *rand.Rand
	candidates []string
	favorites  []string
}

func newGenerator(seed uint64, candidates []model.Candidate) *generator {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	g := &generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), candidates: ids}
	shuffled := g.shuffle(ids)
	g.favorites = shuffled[:min(len(shuffled), model.MaxSemiFinalists/2+1)]
	return g
}

func (g *generator) shuffle(ids []string) []string {
	out := append([]string(nil), ids...)
	g.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// fans returns n fans with distinct ids and valid predictions.
func (g *generator) fans(n int) []Fan {
	out := make([]Fan, n)
	for i := range out {
		out[i] = Fan{UserID: uuid.NewString(), Ranked: g.prediction()}
	}
	return out
}

func (g *generator) prediction() []string {
	seen := make(map[string]bool, model.FinalPositions)
	ranked := make([]string, 0, model.FinalPositions)
	for len(ranked) < model.FinalPositions {
		pool := g.candidates
		if g.rng.Float64() < favoriteShare {
			pool = g.favorites
		}
		id := pool[g.rng.IntN(len(pool))]
		if seen[id] {
			continue
		}
		seen[id] = true
		ranked = append(ranked, id)
	}
	return ranked
}

// outcome picks semi-finalists, the top five among them and the final
// order of the top five. Favorites are more likely to advance.
func (g *generator) outcome() (semis, topFive, final []string) {
	semiCount := min(len(g.candidates), model.MaxSemiFinalists)
	picked := make(map[string]bool, semiCount)
	for _, id := range g.shuffle(g.favorites) {
		if len(semis) >= semiCount-semiCount/3 {
			break
		}
		picked[id] = true
		semis = append(semis, id)
	}
	for _, id := range g.shuffle(g.candidates) {
		if len(semis) >= semiCount {
			break
		}
		if !picked[id] {
			picked[id] = true
			semis = append(semis, id)
		}
	}
	topFive = g.shuffle(semis)[:min(len(semis), model.MaxTopFive)]
	final = g.shuffle(topFive)
	return semis, topFive, final
}
