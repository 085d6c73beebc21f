// Package export writes ledger records to interchange formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/utils"
)

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// csvHeader is the column order for CSV output.
var csvHeader = []string{
	"id", "timestamp", "provider", "model", "requested_model",
	"input_tokens", "output_tokens", "cache_creation_tokens", "cache_read_tokens",
	"cost_usd", "project", "source",
}

// Write renders records in the given format. Costs are emitted in dollars.
func Write(w io.Writer, format string, records []ledger.Record) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, records)
	case FormatJSON:
		return writeJSON(w, records)
	default:
		return fmt.Errorf("unsupported export format: %q", format)
	}
}

func writeCSV(w io.Writer, records []ledger.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Provider,
			r.Model,
			r.RequestedModel,
			strconv.FormatInt(r.InputTokens, 10),
			strconv.FormatInt(r.OutputTokens, 10),
			strconv.FormatInt(r.CacheCreationTokens, 10),
			strconv.FormatInt(r.CacheReadTokens, 10),
			strconv.FormatFloat(r.Cost.Dollars(), 'f', -1, 64),
			r.Project,
			r.Source,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// jsonRecord is the export shape; nano-dollar amounts are converted to
// plain dollars so the output is useful without knowing the internal unit.
type jsonRecord struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	RequestedModel string    `json:"requested_model,omitempty"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	CacheCreation  int64     `json:"cache_creation_tokens,omitempty"`
	CacheRead      int64     `json:"cache_read_tokens,omitempty"`
	CostUSD        float64   `json:"cost_usd"`
	Project        string    `json:"project"`
	Source         string    `json:"source"`
}

func writeJSON(w io.Writer, records []ledger.Record) error {
	out := make([]jsonRecord, 0, len(records))
	for _, r := range records {
		out = append(out, jsonRecord{
			ID:             r.ID,
			Timestamp:      r.Timestamp.UTC(),
			Provider:       r.Provider,
			Model:          r.Model,
			RequestedModel: r.RequestedModel,
			InputTokens:    r.InputTokens,
			OutputTokens:   r.OutputTokens,
			CacheCreation:  r.CacheCreationTokens,
			CacheRead:      r.CacheReadTokens,
			CostUSD:        r.Cost.Dollars(),
			Project:        r.Project,
			Source:         r.Source,
		})
	}
	data, err := utils.MarshalNoEscape(out)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
