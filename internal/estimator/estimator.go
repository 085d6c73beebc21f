// Package estimator computes pre-call token and cost estimates from raw
// text, without any network call.
//
// OpenAI-provider models use tiktoken (model encoding when known, else
// cl100k_base); everything else falls back to the chars-per-token heuristic.
package estimator

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/AbdullahTarakji/tokencost/internal/config"
	"github.com/AbdullahTarakji/tokencost/internal/pricing"
)

const fallbackEncoding = "cl100k_base"

// Estimate is the result of a pre-call estimate. Nothing is persisted.
type Estimate struct {
	Model       string
	TokenCount  int64
	InputCost   pricing.Amount
	ExactTokens bool // true when a real tokenizer was used
}

// Estimator estimates token counts and input costs against a catalog.
type Estimator struct {
	catalog *pricing.Catalog
}

// New creates an estimator over the given catalog.
func New(catalog *pricing.Catalog) *Estimator {
	return &Estimator{catalog: catalog}
}

// Estimate counts tokens in text and prices them at the model's input rate.
// Fails with pricing.ErrUnknownModel when the model cannot be resolved.
func (e *Estimator) Estimate(text, model string) (Estimate, error) {
	entry, _, err := e.catalog.Resolve("", model)
	if err != nil {
		return Estimate{}, fmt.Errorf("estimate: %w", err)
	}

	tokens, exact := CountTokens(text, model, entry.Provider)
	return Estimate{
		Model:       entry.CanonicalID,
		TokenCount:  tokens,
		InputCost:   pricing.Cost(entry, tokens, 0),
		ExactTokens: exact,
	}, nil
}

// CountTokens estimates the token count of text for a model. Returns the
// count and whether it came from a real tokenizer.
func CountTokens(text, model, provider string) (int64, bool) {
	if provider == "openai" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return int64(len(enc.Encode(text, nil, nil))), true
		}
		if enc, err := tiktoken.GetEncoding(fallbackEncoding); err == nil {
			return int64(len(enc.Encode(text, nil, nil))), true
		}
	}
	n := int64(len(text) / config.TokenEstimateRatio)
	if n < 1 {
		n = 1
	}
	return n, false
}
