package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GPT-4o", "gpt4o"},
		{"gpt_4o", "gpt4o"},
		{"claude-3.5-sonnet", "claude35sonnet"},
		{"  Claude-3-5-Sonnet  ", "claude35sonnet"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestResolve_ExactAndAliases(t *testing.T) {
	c := NewCatalog()

	// All of these are spellings of the same catalog entry and must resolve
	// identically.
	spellings := []string{
		"gpt-4o", "GPT-4o", "gpt_4o", "gpt4o", " gpt-4o ",
	}
	for _, s := range spellings {
		e, exact, err := c.Resolve("", s)
		require.NoError(t, err, "Resolve(%q)", s)
		assert.Equal(t, "gpt-4o", e.CanonicalID, "Resolve(%q)", s)
		assert.True(t, exact, "Resolve(%q) should be an exact match", s)
	}
}

func TestResolve_FuzzyDatedVariant(t *testing.T) {
	c := NewCatalog()

	e, exact, err := c.Resolve("", "gpt-4o-2024-08-06")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", e.CanonicalID)
	assert.False(t, exact)
}

func TestResolve_UnknownModel(t *testing.T) {
	c := NewCatalog()

	_, _, err := c.Resolve("", "totally-unknown-model-xyz")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownModel))
	assert.Contains(t, err.Error(), "totally-unknown-model-xyz")
}

func TestResolve_Deterministic(t *testing.T) {
	c := NewCatalog()

	first, _, err := c.Resolve("", "claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		e, _, err := c.Resolve("", "claude-3-5-sonnet-20241022")
		require.NoError(t, err)
		assert.Equal(t, first.CanonicalID, e.CanonicalID)
	}
}

func TestRegisterCustom_OverridesBuiltin(t *testing.T) {
	c := NewCatalog()
	c.RegisterCustom([]Entry{
		{
			CanonicalID:   "gpt-4o",
			Provider:      "openai",
			InputPerMTok:  FromDollars(1.00),
			OutputPerMTok: FromDollars(2.00),
		},
		{
			CanonicalID:   "my-local-model",
			Provider:      "local",
			InputPerMTok:  FromDollars(0),
			OutputPerMTok: FromDollars(0),
		},
	})

	e, _, err := c.Resolve("", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, FromDollars(1.00), e.InputPerMTok, "custom rate should win")

	e, exact, err := c.Resolve("", "my-local-model")
	require.NoError(t, err)
	assert.True(t, exact)
	assert.Equal(t, Amount(0), Cost(e, 100000, 100000))
}

func TestCost(t *testing.T) {
	c := NewCatalog()
	e, _, err := c.Resolve("", "gpt-4o")
	require.NoError(t, err)

	// 1500 input at $2.50/MTok + 500 output at $10.00/MTok = $0.00875.
	got := Cost(e, 1500, 500)
	assert.Equal(t, FromDollars(0.00875), got)
	assert.InDelta(t, 0.00875, got.Dollars(), 1e-12)
	assert.Equal(t, int64(1), got.Cents(), "rounds to the nearest cent")

	assert.Equal(t, Amount(0), Cost(e, 0, 0))
}

func TestCostWithCache(t *testing.T) {
	c := NewCatalog()
	e, _, err := c.Resolve("", "claude-sonnet-4")
	require.NoError(t, err)

	// 1000 input at $3/MTok, 100 output at $15/MTok, 400k cache writes at
	// 1.25x input ($3.75/MTok), 2M cache reads at 0.1x input ($0.30/MTok).
	got := CostWithCache(e, 1000, 100, 400_000, 2_000_000)
	assert.Equal(t, FromDollars(2.1045), got)

	assert.Equal(t, Cost(e, 1000, 100), CostWithCache(e, 1000, 100, 0, 0),
		"no cache activity matches the plain cost")
	assert.Equal(t, Amount(0), CostWithCache(e, 0, 0, 0, 0))
}

func TestCost_Monotone(t *testing.T) {
	c := NewCatalog()
	e, _, err := c.Resolve("", "claude-sonnet-4")
	require.NoError(t, err)

	prev := Cost(e, 0, 0)
	for _, tok := range []int64{1, 10, 1000, 1_000_000, 50_000_000} {
		cur := Cost(e, tok, tok)
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestCost_LargeCounts(t *testing.T) {
	c := NewCatalog()
	e, _, err := c.Resolve("", "claude-opus-4")
	require.NoError(t, err)

	// 2 billion tokens each way must not overflow int64 nano-dollars.
	got := Cost(e, 2_000_000_000, 2_000_000_000)
	// 2000 MTok * ($15 + $75) = $180000.
	assert.Equal(t, FromDollars(180000), got)
}

func TestEntries_FilterByProvider(t *testing.T) {
	c := NewCatalog()

	all := c.Entries("")
	openai := c.Entries("openai")
	assert.NotEmpty(t, openai)
	assert.Less(t, len(openai), len(all))
	for _, e := range openai {
		assert.Equal(t, "openai", e.Provider)
	}
}

func TestAmountFormatting(t *testing.T) {
	assert.Equal(t, "$0.0088", FromDollars(0.00875).String())
	assert.Equal(t, "$12.5000", FromDollars(12.5).String())
	assert.Equal(t, int64(1250), FromDollars(12.5).Cents())
}
