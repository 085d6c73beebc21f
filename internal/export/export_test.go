package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/pricing"
)

func sampleRecords() []ledger.Record {
	return []ledger.Record{
		{
			ID:             1,
			Timestamp:      time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC),
			Provider:       "openai",
			Model:          "gpt-4o",
			RequestedModel: "gpt-4o-2024-08-06",
			InputTokens:    1500,
			OutputTokens:   500,
			Cost:           pricing.FromDollars(0.00875),
			Project:        "research",
			Source:         ledger.SourceProxy,
		},
		{
			ID:                  2,
			Timestamp:           time.Date(2026, 8, 16, 9, 0, 0, 0, time.UTC),
			Provider:            "anthropic",
			Model:               "claude-sonnet-4",
			InputTokens:         200,
			OutputTokens:        80,
			CacheCreationTokens: 100,
			CacheReadTokens:     400,
			Cost:                pricing.FromDollars(0.0018),
			Project:             "default",
			Source:              ledger.SourceManual,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two records")

	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2026-08-15T10:30:00Z", rows[1][1])
	assert.Equal(t, "gpt-4o", rows[1][3])
	assert.Equal(t, "0", rows[1][7], "no cache activity on the openai row")
	assert.Equal(t, "0.00875", rows[1][9])
	assert.Equal(t, "claude-sonnet-4", rows[2][3])
	assert.Equal(t, "100", rows[2][7])
	assert.Equal(t, "400", rows[2][8])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleRecords()))

	out := buf.String()
	require.True(t, gjson.Valid(out))
	assert.Equal(t, int64(2), gjson.Get(out, "#").Int())
	assert.Equal(t, "gpt-4o", gjson.Get(out, "0.model").String())
	assert.Equal(t, "gpt-4o-2024-08-06", gjson.Get(out, "0.requested_model").String())
	assert.InDelta(t, 0.00875, gjson.Get(out, "0.cost_usd").Float(), 1e-12)
	assert.Equal(t, int64(400), gjson.Get(out, "1.cache_read_tokens").Int())
	// Omitted when the requested name matched exactly, or with no cache use.
	assert.False(t, gjson.Get(out, "1.requested_model").Exists())
	assert.False(t, gjson.Get(out, "0.cache_creation_tokens").Exists())
}

func TestWriteJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWrite_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, "xml", sampleRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}
