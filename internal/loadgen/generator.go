package loadgen

import (
	"math/rand/v2"
)

var (
	plans     = []string{"free", "trial", "pro"}
	countries = []string{"US", "DE", "BR", "JP"}
	platforms = []string{"ios", "android", "web"}
)

// generateRequests builds n resolve requests with attributes drawn from a
// small fixed vocabulary so that rules written against it match some of them.
func generateRequests(cfg *Config, rng *rand.Rand) []Request {
	reqs := make([]Request, cfg.Requests)
	for i := range reqs {
		reqs[i] = Request{
			Event: cfg.Event,
			User: map[string]any{
				"plan":    plans[rng.IntN(len(plans))],
				"country": countries[rng.IntN(len(countries))],
				"age":     18 + rng.IntN(50),
			},
			Device: map[string]any{
				"os": platforms[rng.IntN(len(platforms))],
			},
			Params: map[string]any{
				"screen": i % 5,
			},
			DryRun: cfg.DryRun,
		}
	}
	return reqs
}
