package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbdullahTarakji/tokencost/internal/budget"
	"github.com/AbdullahTarakji/tokencost/internal/config"
	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/meter"
	"github.com/AbdullahTarakji/tokencost/internal/monitoring"
	"github.com/AbdullahTarakji/tokencost/internal/pricing"
	"github.com/AbdullahTarakji/tokencost/internal/usage"
)

const openAIUsageResponse = `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":1500,"completion_tokens":500}}`

type testProxy struct {
	server *Server
	front  *httptest.Server
	store  *ledger.Store
}

// newTestProxy wires a full proxy against the given upstream URL and serves
// it from an httptest frontend, with the metering worker running.
func newTestProxy(t *testing.T, upstream string) *testProxy {
	t.Helper()

	store, err := ledger.Open(filepath.Join(t.TempDir(), "tokencost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	catalog := pricing.NewCatalog()
	events, err := monitoring.NewRecorder("", false)
	require.NoError(t, err)

	cfg := config.ProxyConfig{
		Port:           config.DefaultProxyPort,
		Upstream:       upstream,
		MeterQueueSize: 16,
	}
	s := New(cfg, meter.New(catalog, store), budget.NewMonitor(store), events, "testproj")
	go s.meterLoop()

	front := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(front.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	return &testProxy{server: s, front: front, store: store}
}

func (p *testProxy) records(t *testing.T) []ledger.Record {
	t.Helper()
	records, err := p.store.Records(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	return records
}

// recordCount is safe to call from Eventually's polling goroutine.
func (p *testProxy) recordCount() int {
	records, err := p.store.Records(context.Background(), ledger.Filter{})
	if err != nil {
		return -1
	}
	return len(records)
}

func TestProxy_PassthroughAndMetering(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream-Custom", "yes")
		_, _ = w.Write([]byte(openAIUsageResponse))
	}))
	defer upstream.Close()

	p := newTestProxy(t, upstream.URL)

	reqBody := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req, err := http.NewRequest(http.MethodPost, p.front.URL+"/v1/chat/completions?stream=false", bytes.NewBufferString(reqBody))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk-test-123")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The exchange passes through byte for byte, headers included.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, openAIUsageResponse, string(body))
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream-Custom"))
	assert.Equal(t, "/v1/chat/completions?stream=false", gotPath)
	assert.Equal(t, "Bearer sk-test-123", gotAuth)
	assert.Equal(t, reqBody, string(gotBody))

	// Metering happens off the request path; the record shows up shortly.
	require.Eventually(t, func() bool {
		return p.recordCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	rec := p.records(t)[0]
	assert.Equal(t, "gpt-4o", rec.Model)
	assert.Equal(t, int64(1500), rec.InputTokens)
	assert.Equal(t, int64(500), rec.OutputTokens)
	assert.Equal(t, pricing.FromDollars(0.00875), rec.Cost)
	assert.Equal(t, ledger.SourceProxy, rec.Source)
	assert.Equal(t, "testproj", rec.Project)
}

func TestProxy_StreamingRelay(t *testing.T) {
	stream := "event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-sonnet-4\",\"usage\":{\"input_tokens\":480,\"output_tokens\":1}}}\n\n" +
		"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":57}}\n\n" +
		"data: {\"type\":\"message_stop\"}\n\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(stream))
	}))
	defer upstream.Close()

	p := newTestProxy(t, upstream.URL)

	req, err := http.NewRequest(http.MethodPost, p.front.URL+"/v1/messages", bytes.NewBufferString(`{"model":"claude-sonnet-4","stream":true}`))
	require.NoError(t, err)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, stream, string(body), "stream relayed unmodified")

	require.Eventually(t, func() bool {
		return p.recordCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	rec := p.records(t)[0]
	assert.Equal(t, "claude-sonnet-4", rec.Model)
	assert.Equal(t, "anthropic", rec.Provider)
	assert.Equal(t, int64(480), rec.InputTokens)
	assert.Equal(t, int64(57), rec.OutputTokens)
}

func TestProxy_AnthropicCacheTokensMetered(t *testing.T) {
	response := `{"id":"msg_1","model":"claude-sonnet-4","content":[{"type":"text","text":"hi"}],` +
		`"usage":{"input_tokens":1000,"output_tokens":100,` +
		`"cache_creation_input_tokens":400000,"cache_read_input_tokens":2000000}}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	defer upstream.Close()

	p := newTestProxy(t, upstream.URL)

	req, err := http.NewRequest(http.MethodPost, p.front.URL+"/v1/messages", bytes.NewBufferString(`{"model":"claude-sonnet-4"}`))
	require.NoError(t, err)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	require.Eventually(t, func() bool {
		return p.recordCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Cache writes bill at 1.25x the input rate, reads at 0.1x; the counts
	// land on the record alongside the priced cost.
	rec := p.records(t)[0]
	assert.Equal(t, int64(400_000), rec.CacheCreationTokens)
	assert.Equal(t, int64(2_000_000), rec.CacheReadTokens)
	assert.Equal(t, pricing.FromDollars(2.1045), rec.Cost)
}

func TestProxy_NoUsageMeansNoRecord(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer upstream.Close()

	p := newTestProxy(t, upstream.URL)

	resp, err := http.Get(p.front.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, p.records(t))
}

func TestProxy_ErrorStatusIsRelayedNotMetered(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer upstream.Close()

	p := newTestProxy(t, upstream.URL)

	resp, err := http.Post(p.front.URL+"/v1/chat/completions", "application/json", bytes.NewBufferString(`{"model":"gpt-4o"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, string(body), "rate limited")

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, p.records(t))
}

func TestProxy_UpstreamDown(t *testing.T) {
	// A listener that is immediately closed gives a refused connection.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	p := newTestProxy(t, deadURL)

	resp, err := http.Post(p.front.URL+"/v1/chat/completions", "application/json", bytes.NewBufferString(`{"model":"gpt-4o"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "upstream request failed")

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, p.records(t), "failed forwards are never metered")
}

func TestProxy_UnknownModelRecordedAsSentinel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"totally-unknown-model-xyz","usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer upstream.Close()

	p := newTestProxy(t, upstream.URL)

	resp, err := http.Post(p.front.URL+"/v1/chat/completions", "application/json", bytes.NewBufferString(`{"model":"totally-unknown-model-xyz"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return p.recordCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	rec := p.records(t)[0]
	assert.Equal(t, pricing.UnknownModelID, rec.Model)
	assert.Equal(t, "totally-unknown-model-xyz", rec.RequestedModel)
	assert.True(t, rec.Unresolved)
	assert.Equal(t, pricing.Amount(0), rec.Cost)
}

func TestProxy_Healthz(t *testing.T) {
	p := newTestProxy(t, "http://localhost:1")

	resp, err := http.Get(p.front.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"ok"`)
}

func TestProxy_MetricsEndpoint(t *testing.T) {
	p := newTestProxy(t, "http://localhost:1")

	resp, err := http.Get(p.front.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"anthropic version header", map[string]string{"anthropic-version": "2023-06-01"}, usage.ProviderAnthropic},
		{"anthropic api key", map[string]string{"x-api-key": "sk-ant-api03-xyz"}, usage.ProviderAnthropic},
		{"anthropic bearer", map[string]string{"Authorization": "Bearer sk-ant-api03-xyz"}, usage.ProviderAnthropic},
		{"openai bearer", map[string]string{"Authorization": "Bearer sk-proj-123"}, usage.ProviderOpenAI},
		{"no headers", nil, usage.ProviderOpenAI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, detectProvider(r))
		})
	}
}

func TestTargetURL(t *testing.T) {
	s := &Server{cfg: config.ProxyConfig{}}

	r := httptest.NewRequest(http.MethodPost, "/v1/messages?beta=true", nil)
	r.Header.Set("anthropic-version", "2023-06-01")

	got, err := s.targetURL(r, usage.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "https://api.anthropic.com/v1/messages?beta=true", got)

	// An explicit header target wins over everything.
	r.Header.Set(HeaderTargetURL, "http://localhost:11434/")
	got, err = s.targetURL(r, usage.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1/messages?beta=true", got)

	// Configured upstream beats provider default.
	r.Header.Del(HeaderTargetURL)
	s.cfg.Upstream = "http://10.0.0.5:8000"
	got, err = s.targetURL(r, usage.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8000/v1/messages?beta=true", got)
}

func TestSubmit_QueueFullDropsWithoutBlocking(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "tokencost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	events, err := monitoring.NewRecorder("", false)
	require.NoError(t, err)

	cfg := config.ProxyConfig{Port: config.DefaultProxyPort, MeterQueueSize: 2}
	s := New(cfg, meter.New(pricing.NewCatalog(), store), budget.NewMonitor(store), events, "p")
	// No worker running: the queue fills up and further submits must drop
	// immediately instead of blocking the relay path.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.submit(&exchange{requestID: "r", provider: usage.ProviderOpenAI})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submit blocked on a full queue")
	}
	assert.Len(t, s.meterCh, 2)
}

func TestSubmit_AfterShutdownDropsWithoutPanic(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "tokencost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	events, err := monitoring.NewRecorder("", false)
	require.NoError(t, err)

	cfg := config.ProxyConfig{Port: config.DefaultProxyPort, MeterQueueSize: 2}
	s := New(cfg, meter.New(pricing.NewCatalog(), store), budget.NewMonitor(store), events, "p")
	go s.meterLoop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	// A handler that was still in flight when shutdown completed must not
	// send on the closed metering channel.
	require.NotPanics(t, func() {
		s.submit(&exchange{requestID: "late", provider: usage.ProviderOpenAI})
	})

	records, err := store.Records(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records, "a post-shutdown submit is dropped, not metered")
}
