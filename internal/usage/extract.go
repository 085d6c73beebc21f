// Package usage extracts token usage from completed LLM API exchanges.
//
// DESIGN: One entry point, Extract(), handles both wire shapes:
//   - plain JSON bodies (chat/completions/messages/embeddings responses)
//   - reassembled SSE streams (see stream.go)
//
// Extraction failure is a normal outcome, not a bug: error statuses and
// usage-free responses return an UnextractableError with a reason code, and
// the caller forwards the original response untouched either way.
package usage

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"
)

// Providers whose wire formats are understood.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Unextractable reason codes.
const (
	ReasonErrorStatus = "error_status" // upstream returned >= 400
	ReasonEmptyBody   = "empty_body"
	ReasonBadJSON     = "bad_json"
	ReasonNoUsage     = "no_usage" // valid response without a usage object
)

// UnextractableError signals that usage could not be determined from an
// exchange. The proxy logs it and moves on; it never affects the client.
type UnextractableError struct {
	Reason string
}

func (e *UnextractableError) Error() string {
	return fmt.Sprintf("usage unextractable: %s", e.Reason)
}

func unextractable(reason string) error {
	return &UnextractableError{Reason: reason}
}

// Usage is the normalized token usage for one exchange.
type Usage struct {
	Model                    string
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64 // Anthropic cache writes
	CacheReadInputTokens     int64 // Anthropic cache reads
}

// Total returns the sum of all token counts.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// Extract pulls usage out of a completed exchange. requestBody is consulted
// only for the model name when the response omits it.
func Extract(provider string, statusCode int, requestBody, responseBody []byte) (Usage, error) {
	if statusCode >= 400 {
		return Usage{}, unextractable(ReasonErrorStatus)
	}
	body := bytes.TrimSpace(responseBody)
	if len(body) == 0 {
		return Usage{}, unextractable(ReasonEmptyBody)
	}

	if looksLikeSSE(body) {
		dec := NewStreamDecoder(provider)
		dec.Feed(body)
		return dec.Result()
	}

	if !gjson.ValidBytes(body) {
		return Usage{}, unextractable(ReasonBadJSON)
	}

	u := usageFromJSON(provider, body)
	if u.Model == "" {
		u.Model = gjson.GetBytes(requestBody, "model").String()
	}
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return Usage{}, unextractable(ReasonNoUsage)
	}
	return u, nil
}

// looksLikeSSE reports whether a captured body is a server-sent-event stream
// rather than a single JSON document.
func looksLikeSSE(body []byte) bool {
	return bytes.HasPrefix(body, []byte("data:")) || bytes.HasPrefix(body, []byte("event:"))
}

func usageFromJSON(provider string, body []byte) Usage {
	u := Usage{Model: gjson.GetBytes(body, "model").String()}

	switch provider {
	case ProviderAnthropic:
		u.InputTokens = gjson.GetBytes(body, "usage.input_tokens").Int()
		u.OutputTokens = gjson.GetBytes(body, "usage.output_tokens").Int()
		u.CacheCreationInputTokens = gjson.GetBytes(body, "usage.cache_creation_input_tokens").Int()
		u.CacheReadInputTokens = gjson.GetBytes(body, "usage.cache_read_input_tokens").Int()
	case ProviderOpenAI:
		u.InputTokens = gjson.GetBytes(body, "usage.prompt_tokens").Int()
		u.OutputTokens = gjson.GetBytes(body, "usage.completion_tokens").Int()
	default:
		// Unknown provider: accept either key set.
		u.InputTokens = gjson.GetBytes(body, "usage.input_tokens").Int()
		u.OutputTokens = gjson.GetBytes(body, "usage.output_tokens").Int()
		if u.InputTokens == 0 && u.OutputTokens == 0 {
			u.InputTokens = gjson.GetBytes(body, "usage.prompt_tokens").Int()
			u.OutputTokens = gjson.GetBytes(body, "usage.completion_tokens").Int()
		}
	}
	return u
}
