// Package selector turns a raw model catalog into a deterministic,
// quality-ordered cascade list.
package selector

import (
	"sort"
	"strings"
	"time"

	"github.com/casaviva/hestia/internal/provider"
)

// DefaultLimit caps how many candidates a cascade will probe.
const DefaultLimit = 5

// Scored pairs a model with its quality score. Scores are recomputed on
// every ranking; they are a pure function of the descriptor's fields and
// the reference time.
type Scored struct {
	provider.Model
	Score int
}

// FilterFree keeps models whose prompt price is exactly zero and whose
// expiration, if any, is strictly in the future. Order is preserved.
func FilterFree(models []provider.Model, now time.Time) []provider.Model {
	var out []provider.Model
	for _, m := range models {
		if !m.Free() {
			continue
		}
		if !m.ExpiresAt.IsZero() && !m.ExpiresAt.After(now) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Score rates a model on a roughly 0-100 scale: up to 40 points for
// context window size, 10 per extra capability, up to 20 for the privacy
// policy, and up to 10 for freshness. The weights are a local heuristic,
// not an upstream contract.
func Score(m provider.Model, now time.Time) int {
	score := contextScore(m.ContextWindow)

	for _, c := range []provider.Capability{
		provider.CapMultimodal,
		provider.CapFunctionCalling,
		provider.CapStructuredOutput,
	} {
		if m.Has(c) {
			score += 10
		}
	}

	score += privacyScore(m.PrivacyPolicy)
	score += freshnessScore(m.ExpiresAt, now)
	return score
}

func contextScore(window int) int {
	switch {
	case window >= 100_000:
		return 40
	case window >= 50_000:
		return 30
	case window >= 32_000:
		return 20
	case window >= 16_000:
		return 10
	default:
		return 0
	}
}

func privacyScore(policy string) int {
	p := strings.ToLower(policy)
	switch {
	case strings.Contains(p, "no log") || strings.Contains(p, "no-log") ||
		strings.Contains(p, "does not log") || strings.Contains(p, "anonymous"):
		return 20
	case !strings.Contains(p, "train"):
		return 10
	default:
		return 0
	}
}

func freshnessScore(expires time.Time, now time.Time) int {
	if expires.IsZero() {
		return 10
	}
	days := int(expires.Sub(now).Hours() / 24)
	switch {
	case days > 90:
		return 8
	case days > 30:
		return 5
	case days > 7:
		return 2
	default:
		return 0
	}
}

// Rank sorts models by descending score. The sort is stable: ties keep
// the catalog's original relative order, so ranking is deterministic for
// a fixed snapshot.
func Rank(models []provider.Model, now time.Time) []Scored {
	scored := make([]Scored, len(models))
	for i, m := range models {
		scored[i] = Scored{Model: m, Score: Score(m, now)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// CascadeOrder produces the ranked free-tier candidate list, capped at
// limit (DefaultLimit when limit <= 0). An empty eligible set is a hard
// stop: there is no one to ask.
func CascadeOrder(catalog []provider.Model, limit int, now time.Time) ([]Scored, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ranked := Rank(FilterFree(catalog, now), now)
	if len(ranked) == 0 {
		return nil, &provider.NoModelsError{}
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
