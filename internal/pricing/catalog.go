// Package pricing resolves model names to per-token rates and computes call
// costs.
//
// DESIGN: The catalog is an immutable snapshot behind an atomic pointer.
// Lookups never lock; registering custom entries builds a whole new snapshot
// and swaps it in (copy-on-write), so concurrent readers never observe a
// partially updated table.
//
// Resolution order:
//  1. exact alias match after normalizing case and stripping separators
//  2. similarity scoring against every alias (provider-scoped when a hint
//     is given), deterministic tie-breaks, tunable threshold
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// SimilarityThreshold is the minimum score a fuzzy candidate must reach.
// Below this, Resolve fails with ErrUnknownModel.
const SimilarityThreshold = 0.75

// ErrUnknownModel is returned when no catalog entry scores above
// SimilarityThreshold for the requested model name.
var ErrUnknownModel = errors.New("unknown model")

type aliasRef struct {
	norm      string // normalized alias
	alias     string // original alias spelling
	canonical string
	provider  string
}

// snapshot is one immutable generation of the catalog.
type snapshot struct {
	entries map[string]Entry  // canonical id -> entry
	exact   map[string]string // normalized alias -> canonical id
	aliases []aliasRef        // sorted by alias for deterministic scans
}

// Catalog maps model names to pricing entries.
type Catalog struct {
	snap atomic.Pointer[snapshot]
}

// NewCatalog builds a catalog from the built-in table.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.snap.Store(buildSnapshot(builtinEntries, builtinAliases, nil))
	return c
}

// RegisterCustom overlays operator-supplied entries over the built-ins.
// Custom entries win on canonical id conflicts. The swap is atomic; readers
// keep using the previous snapshot until it completes.
func (c *Catalog) RegisterCustom(custom []Entry) {
	c.snap.Store(buildSnapshot(builtinEntries, builtinAliases, custom))
}

func buildSnapshot(builtin []Entry, aliasMap map[string]string, custom []Entry) *snapshot {
	s := &snapshot{
		entries: make(map[string]Entry, len(builtin)+len(custom)),
		exact:   make(map[string]string, len(builtin)+len(aliasMap)+len(custom)),
	}
	for _, e := range builtin {
		s.entries[e.CanonicalID] = e
	}
	for _, e := range custom {
		s.entries[e.CanonicalID] = e
	}

	addAlias := func(alias, canonical string) {
		e, ok := s.entries[canonical]
		if !ok {
			return
		}
		norm := Normalize(alias)
		if norm == "" {
			return
		}
		if _, dup := s.exact[norm]; !dup {
			s.exact[norm] = canonical
		}
		s.aliases = append(s.aliases, aliasRef{
			norm: norm, alias: alias, canonical: canonical, provider: e.Provider,
		})
	}

	for id := range s.entries {
		addAlias(id, id)
	}
	for alias, canonical := range aliasMap {
		addAlias(alias, canonical)
	}

	sort.Slice(s.aliases, func(i, j int) bool {
		return s.aliases[i].alias < s.aliases[j].alias
	})
	return s
}

// Normalize lowercases a model name and strips separator characters so
// spelling variants like "GPT-4o", "gpt_4o" and "gpt4o" collapse to one key.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve finds the pricing entry for a raw model name. matchedExactly is
// true when the name hit a known alias after normalization; false means the
// entry was picked by similarity scoring. providerHint, when non-empty,
// restricts fuzzy candidates to that provider.
func (c *Catalog) Resolve(providerHint, rawModel string) (Entry, bool, error) {
	s := c.snap.Load()
	norm := Normalize(rawModel)
	if norm == "" {
		return Entry{}, false, fmt.Errorf("%w: %q", ErrUnknownModel, rawModel)
	}

	if canonical, ok := s.exact[norm]; ok {
		return s.entries[canonical], true, nil
	}

	var (
		best      aliasRef
		bestScore float64
		found     bool
	)
	for _, ref := range s.aliases {
		if providerHint != "" && ref.provider != providerHint {
			continue
		}
		score := similarity(norm, ref.norm)
		switch {
		case !found || score > bestScore:
			best, bestScore, found = ref, score, true
		case score == bestScore && betterTie(ref, best):
			// Ties go to the shortest alias, then lexical order, for
			// deterministic results.
			best = ref
		}
	}

	if !found || bestScore < SimilarityThreshold {
		return Entry{}, false, fmt.Errorf("%w: %q", ErrUnknownModel, rawModel)
	}
	return s.entries[best.canonical], false, nil
}

func betterTie(a, b aliasRef) bool {
	if len(a.alias) != len(b.alias) {
		return len(a.alias) < len(b.alias)
	}
	return a.alias < b.alias
}

// Entry returns the entry for a canonical id, if present.
func (c *Catalog) Entry(canonicalID string) (Entry, bool) {
	e, ok := c.snap.Load().entries[canonicalID]
	return e, ok
}

// Entries returns all entries, optionally filtered by provider, sorted by
// provider then canonical id.
func (c *Catalog) Entries(provider string) []Entry {
	s := c.snap.Load()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if provider == "" || e.Provider == provider {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].CanonicalID < out[j].CanonicalID
	})
	return out
}

// Cost computes the call cost for an entry with integer arithmetic.
// The two-step multiply keeps full precision without overflowing int64 for
// any realistic token count.
func Cost(e Entry, inputTokens, outputTokens int64) Amount {
	return perTokenCost(inputTokens, int64(e.InputPerMTok)) +
		perTokenCost(outputTokens, int64(e.OutputPerMTok))
}

// CostWithCache adds Anthropic prompt-cache billing on top of Cost.
// Anthropic reports input_tokens as the non-cached count; cache writes bill
// at 1.25x the input rate and cache reads at 0.1x.
func CostWithCache(e Entry, inputTokens, outputTokens, cacheCreationTokens, cacheReadTokens int64) Amount {
	rate := int64(e.InputPerMTok)
	return Cost(e, inputTokens, outputTokens) +
		perTokenCost(cacheCreationTokens, rate+rate/4) +
		perTokenCost(cacheReadTokens, rate/10)
}

func perTokenCost(tokens, ratePerMTok int64) Amount {
	whole := tokens * (ratePerMTok / 1_000_000)
	frac := tokens * (ratePerMTok % 1_000_000) / 1_000_000
	return Amount(whole + frac)
}

// similarity scores two normalized names in [0,1]. Family prefixes (dated
// model variants) get a boosted score so "gpt-4o-mini-2024-07-18" lands on
// gpt-4o-mini; otherwise the score blends normalized edit distance with
// character-bigram overlap.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
		shorter, longer := len(a), len(b)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return 0.6 + 0.4*float64(shorter)/float64(longer)
	}
	return 0.5*editSimilarity(a, b) + 0.5*bigramSimilarity(a, b)
}

func editSimilarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// bigramSimilarity is the Sorensen-Dice coefficient over character bigrams.
func bigramSimilarity(a, b string) float64 {
	if len(a) < 2 || len(b) < 2 {
		return 0
	}
	grams := make(map[string]int, len(a)-1)
	for i := 0; i+2 <= len(a); i++ {
		grams[a[i:i+2]]++
	}
	matches := 0
	for i := 0; i+2 <= len(b); i++ {
		if grams[b[i:i+2]] > 0 {
			grams[b[i:i+2]]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(len(a)-1+len(b)-1)
}
