package pricing

// Built-in pricing table. Rates are USD per million tokens.
//
// Keep entries sorted by provider, then roughly by capability. Operator
// supplied custom entries (config custom_models) overlay this table and win
// on canonical id conflicts.

// mtok converts a dollars-per-million-tokens rate to nano-dollars.
func mtok(d float64) Amount {
	return FromDollars(d)
}

// Entry holds pricing for one canonical model id.
type Entry struct {
	CanonicalID   string
	Provider      string
	InputPerMTok  Amount // USD per million input tokens
	OutputPerMTok Amount // USD per million output tokens
}

// UnknownModelID is the sentinel canonical id persisted when pricing
// resolution fails. Records carrying it have zero cost and are flagged.
const UnknownModelID = "unknown"

var builtinEntries = []Entry{
	// OpenAI
	{"gpt-4o", "openai", mtok(2.50), mtok(10.00)},
	{"gpt-4o-mini", "openai", mtok(0.15), mtok(0.60)},
	{"gpt-4-turbo", "openai", mtok(10.00), mtok(30.00)},
	{"gpt-4", "openai", mtok(30.00), mtok(60.00)},
	{"gpt-3.5-turbo", "openai", mtok(0.50), mtok(1.50)},
	{"o1", "openai", mtok(15.00), mtok(60.00)},
	{"o1-mini", "openai", mtok(3.00), mtok(12.00)},
	{"o3-mini", "openai", mtok(1.10), mtok(4.40)},

	// Anthropic
	{"claude-opus-4", "anthropic", mtok(15.00), mtok(75.00)},
	{"claude-sonnet-4", "anthropic", mtok(3.00), mtok(15.00)},
	{"claude-3.5-sonnet", "anthropic", mtok(3.00), mtok(15.00)},
	{"claude-3.5-haiku", "anthropic", mtok(0.80), mtok(4.00)},
	{"claude-3-haiku", "anthropic", mtok(0.25), mtok(1.25)},

	// Google
	{"gemini-2.0-flash", "google", mtok(0.10), mtok(0.40)},
	{"gemini-2.0-pro", "google", mtok(1.25), mtok(10.00)},
	{"gemini-1.5-pro", "google", mtok(1.25), mtok(5.00)},
	{"gemini-1.5-flash", "google", mtok(0.075), mtok(0.30)},

	// Mistral
	{"mistral-large", "mistral", mtok(2.00), mtok(6.00)},
	{"mistral-small", "mistral", mtok(0.20), mtok(0.60)},
	{"codestral", "mistral", mtok(0.30), mtok(0.90)},
}

// builtinAliases maps known alternate spellings to canonical ids. Casing and
// separator noise is already handled by normalization, so only genuinely
// different spellings belong here.
var builtinAliases = map[string]string{
	"claude-3-5-sonnet":          "claude-3.5-sonnet",
	"claude-3-5-haiku":           "claude-3.5-haiku",
	"claude-3-5-sonnet-20241022": "claude-3.5-sonnet",
	"claude-3-5-haiku-20241022":  "claude-3.5-haiku",
	"claude-3-haiku-20240307":    "claude-3-haiku",
	"gpt-4o-2024-11-20":          "gpt-4o",
	"gpt-4o-mini-2024-07-18":     "gpt-4o-mini",
	"gemini-2.0-flash-001":       "gemini-2.0-flash",
	"mistral-large-latest":       "mistral-large",
	"mistral-small-latest":       "mistral-small",
	"codestral-latest":           "codestral",
}
