// SSE stream reassembly and usage extraction.
//
// DESIGN: StreamDecoder buffers raw chunks as they are relayed to the client
// and parses complete SSE events out of the buffer. The relay never waits on
// the decoder; it feeds bytes and moves on. Only structured "data: {json}"
// events are inspected, so token-like key names inside generated text cannot
// produce false positives.
//
// Event grammars:
//   - Anthropic: message_start carries model and input/cache token counts,
//     message_delta carries the final output token count.
//   - OpenAI: each chunk carries the model; the terminal chunk carries the
//     usage object (when stream_options.include_usage is set).
package usage

import (
	"bytes"

	"github.com/tidwall/gjson"
)

const decoderBufferSize = 4096

// StreamDecoder incrementally extracts usage from an SSE response stream.
type StreamDecoder struct {
	provider string
	buffer   []byte
	usage    Usage
	sawUsage bool
	flushed  bool
}

// NewStreamDecoder returns a decoder for the given provider's event grammar.
func NewStreamDecoder(provider string) *StreamDecoder {
	return &StreamDecoder{
		provider: provider,
		buffer:   make([]byte, 0, decoderBufferSize),
	}
}

// Feed appends a raw chunk and processes any complete events.
func (d *StreamDecoder) Feed(chunk []byte) {
	d.buffer = append(d.buffer, chunk...)
	d.parse(false)
}

// Result flushes any trailing partial event and returns the accumulated
// usage. A stream that never produced a usage object (including a prefix cut
// short by client disconnect) yields an UnextractableError.
func (d *StreamDecoder) Result() (Usage, error) {
	if !d.flushed {
		d.parse(true)
		d.flushed = true
	}
	if !d.sawUsage {
		return Usage{}, unextractable(ReasonNoUsage)
	}
	return d.usage, nil
}

func (d *StreamDecoder) parse(flush bool) {
	for {
		event, rest, ok := nextEvent(d.buffer, flush)
		if !ok {
			return
		}
		d.buffer = rest
		d.parseEvent(event)
	}
}

// nextEvent splits the next complete SSE event off the buffer. Events are
// delimited by a blank line; both LF and CRLF framing occur in the wild.
func nextEvent(buf []byte, flush bool) ([]byte, []byte, bool) {
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return buf[:idx], buf[idx+4:], true
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		return buf[:idx], buf[idx+2:], true
	}
	if flush {
		trimmed := bytes.TrimSpace(buf)
		if len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

func (d *StreamDecoder) parseEvent(event []byte) {
	dataLines := make([][]byte, 0, 2)
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		dataLines = append(dataLines, payload)
	}
	if len(dataLines) == 0 {
		return
	}

	data := bytes.Join(dataLines, []byte("\n"))
	if !gjson.ValidBytes(data) {
		return
	}

	switch d.provider {
	case ProviderAnthropic:
		d.applyAnthropic(data)
	default:
		d.applyOpenAI(data)
	}
}

func (d *StreamDecoder) applyAnthropic(data []byte) {
	if model := gjson.GetBytes(data, "message.model").String(); model != "" {
		d.usage.Model = model
	}
	d.apply(
		gjson.GetBytes(data, "message.usage.input_tokens").Int(),
		maxInt64(
			gjson.GetBytes(data, "message.usage.output_tokens").Int(),
			gjson.GetBytes(data, "usage.output_tokens").Int(),
		),
		gjson.GetBytes(data, "message.usage.cache_creation_input_tokens").Int(),
		gjson.GetBytes(data, "message.usage.cache_read_input_tokens").Int(),
	)
	if in := gjson.GetBytes(data, "usage.input_tokens").Int(); in > 0 {
		d.usage.InputTokens = in
		d.sawUsage = true
	}
}

func (d *StreamDecoder) applyOpenAI(data []byte) {
	if model := gjson.GetBytes(data, "model").String(); model != "" {
		d.usage.Model = model
	}
	if !gjson.GetBytes(data, "usage").IsObject() {
		return
	}
	d.apply(
		gjson.GetBytes(data, "usage.prompt_tokens").Int(),
		gjson.GetBytes(data, "usage.completion_tokens").Int(),
		0, 0,
	)
}

// apply folds token counts into the accumulated usage. Input and cache
// counts are set once (message_start); output counts only ever grow
// (message_delta reports the running total).
func (d *StreamDecoder) apply(in, out, cacheCreate, cacheRead int64) {
	if in > 0 {
		d.usage.InputTokens = in
		d.sawUsage = true
	}
	if out > d.usage.OutputTokens {
		d.usage.OutputTokens = out
		d.sawUsage = true
	}
	if cacheCreate > 0 {
		d.usage.CacheCreationInputTokens = cacheCreate
		d.sawUsage = true
	}
	if cacheRead > 0 {
		d.usage.CacheReadInputTokens = cacheRead
		d.sawUsage = true
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
