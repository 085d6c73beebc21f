// Package meter turns token usage into persisted cost records.
//
// Both write paths go through here: the CLI manual-log entry point and the
// proxy's background metering worker. Pricing resolution failure never drops
// data: the record is persisted with the sentinel model id, zero cost, and
// the unresolved flag, so spend is undercounted rather than lost.
package meter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/pricing"
)

// Params describes one exchange to record.
type Params struct {
	Model        string // model name as reported (raw)
	Provider     string // optional provider hint
	InputTokens  int64
	OutputTokens int64

	// Anthropic prompt-cache counts, zero elsewhere. input_tokens on the
	// wire excludes these, so they are priced separately.
	CacheCreationTokens int64
	CacheReadTokens     int64

	Project   string
	Source    string    // ledger.SourceManual / SourceProxy / SourceEstimate
	Timestamp time.Time // zero = now
}

// Meter resolves pricing and appends records.
type Meter struct {
	catalog *pricing.Catalog
	store   *ledger.Store
}

// New creates a meter over the given catalog and ledger.
func New(catalog *pricing.Catalog, store *ledger.Store) *Meter {
	return &Meter{catalog: catalog, store: store}
}

// Log resolves pricing for the usage, computes the cost, and appends a
// record. An unresolvable model yields a sentinel record, not an error; only
// ledger write failures are returned.
func (m *Meter) Log(ctx context.Context, p Params) (ledger.Record, error) {
	if p.InputTokens < 0 || p.OutputTokens < 0 || p.CacheCreationTokens < 0 || p.CacheReadTokens < 0 {
		return ledger.Record{}, fmt.Errorf("token counts must be >= 0")
	}

	rec := ledger.Record{
		Timestamp:           p.Timestamp,
		Provider:            p.Provider,
		RequestedModel:      p.Model,
		InputTokens:         p.InputTokens,
		OutputTokens:        p.OutputTokens,
		CacheCreationTokens: p.CacheCreationTokens,
		CacheReadTokens:     p.CacheReadTokens,
		Project:             p.Project,
		Source:              p.Source,
	}

	entry, _, err := m.catalog.Resolve(p.Provider, p.Model)
	switch {
	case err == nil:
		rec.Model = entry.CanonicalID
		if rec.Provider == "" {
			rec.Provider = entry.Provider
		}
		rec.Cost = pricing.CostWithCache(entry, p.InputTokens, p.OutputTokens,
			p.CacheCreationTokens, p.CacheReadTokens)
	case errors.Is(err, pricing.ErrUnknownModel):
		rec.Model = pricing.UnknownModelID
		rec.Unresolved = true
	default:
		return ledger.Record{}, err
	}

	id, err := m.store.Append(ctx, rec)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("meter log: %w", err)
	}
	rec.ID = id
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	return rec, nil
}

// Catalog returns the underlying pricing catalog.
func (m *Meter) Catalog() *pricing.Catalog {
	return m.catalog
}
