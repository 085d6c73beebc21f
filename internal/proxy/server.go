// HTTP intercept proxy for metering LLM API calls.
//
// DESIGN: Main request flow:
//   - handleProxy():  Entry point for all upstream-bound requests
//   - forward():      Build and send the upstream request unchanged
//   - relay paths:    Buffered relay for JSON, flushing relay for SSE
//
// The response is relayed to the client byte-for-byte; metering happens
// afterwards through a bounded queue (see meter.go) and can never delay or
// alter the client-visible exchange. Upstream calls are never retried, since
// a duplicated generation call is billed work on the provider's side.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/AbdullahTarakji/tokencost/internal/budget"
	"github.com/AbdullahTarakji/tokencost/internal/config"
	"github.com/AbdullahTarakji/tokencost/internal/meter"
	"github.com/AbdullahTarakji/tokencost/internal/metrics"
	"github.com/AbdullahTarakji/tokencost/internal/monitoring"
	"github.com/AbdullahTarakji/tokencost/internal/usage"
	"github.com/AbdullahTarakji/tokencost/internal/utils"
)

// HeaderTargetURL lets clients pin the upstream explicitly instead of
// relying on provider auto-detection.
const HeaderTargetURL = "X-Target-URL"

// HeaderRequestID carries a client-supplied request id, if any.
const HeaderRequestID = "X-Request-ID"

// providerBaseURLs are the default upstream hosts per provider.
var providerBaseURLs = map[string]string{
	usage.ProviderOpenAI:    "https://api.openai.com",
	usage.ProviderAnthropic: "https://api.anthropic.com",
}

// hopHeaders are stripped when forwarding (RFC 9110 connection-scoped).
var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Server is the intercept proxy.
type Server struct {
	cfg     config.ProxyConfig
	meter   *meter.Meter
	monitor *budget.Monitor
	events  *monitoring.Recorder
	live    *liveHub
	project string

	httpClient *http.Client
	httpServer *http.Server

	// meterMu orders submit against the channel close in Shutdown; a
	// handler still in flight when the shutdown context expires must see
	// meterClosed instead of sending on a closed channel.
	meterMu     sync.Mutex
	meterClosed bool
	meterCh     chan *exchange
	workerDone  chan struct{}
}

// New creates a proxy server. defaultProject tags every metered record.
func New(cfg config.ProxyConfig, m *meter.Meter, monitor *budget.Monitor,
	events *monitoring.Recorder, defaultProject string) *Server {

	s := &Server{
		cfg:     cfg,
		meter:   m,
		monitor: monitor,
		events:  events,
		live:    newLiveHub(),
		project: defaultProject,
		httpClient: &http.Client{
			Timeout: config.DefaultUpstreamTimeout,
		},
		meterCh:    make(chan *exchange, cfg.MeterQueueSize),
		workerDone: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/", s.handleProxy)

	s.httpServer = &http.Server{
		Addr:         ":" + itoa(cfg.Port),
		Handler:      mux,
		ReadTimeout:  config.DefaultServerReadTimeout,
		WriteTimeout: config.DefaultServerWriteTimeout,
	}
	return s
}

// Start runs the metering worker and blocks on the HTTP server.
func (s *Server) Start() error {
	go s.meterLoop()
	log.Info().Int("port", s.cfg.Port).Str("upstream", s.cfg.Upstream).Msg("proxy listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, then drains the metering queue.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.meterMu.Lock()
	if !s.meterClosed {
		s.meterClosed = true
		close(s.meterCh)
	}
	s.meterMu.Unlock()
	select {
	case <-s.workerDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleProxy forwards a request to the upstream provider and relays the
// response, capturing the exchange for metering off the client path.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	requestID := s.getRequestID(r)

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, "failed to read request", http.StatusBadRequest)
		return
	}

	provider := detectProvider(r)
	targetURL, err := s.targetURL(r, provider)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Debug().
		Str("request_id", requestID).
		Str("provider", provider).
		Str("target", targetURL).
		Str("x-api-key", utils.MaskKey(r.Header.Get("x-api-key"))).
		Msg("forwarding request")

	forwardStart := time.Now()
	resp, err := s.forward(r, targetURL, body)
	if err != nil {
		metrics.ProxyUpstreamErrors.Inc()
		log.Error().Err(err).Str("target", targetURL).Msg("upstream request failed")
		s.writeError(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ProxyForwardDuration.WithLabelValues(provider).Observe(time.Since(forwardStart).Seconds())
	metrics.ProxyRequestsTotal.WithLabelValues(provider, itoa(resp.StatusCode)).Inc()

	ex := &exchange{
		requestID:   requestID,
		provider:    provider,
		project:     s.project,
		statusCode:  resp.StatusCode,
		requestBody: body,
		receivedAt:  forwardStart,
	}

	copyHeaders(w, resp.Header)
	if isEventStream(resp.Header) {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(resp.StatusCode)
		ex.stream = s.relayStream(w, resp.Body, provider)
	} else {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			log.Debug().Err(readErr).Msg("upstream body truncated")
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(respBody)
		ex.responseBody = respBody
	}

	s.submit(ex)
}

// forward sends the captured request to the upstream unchanged. It never
// retries: a second attempt at a non-idempotent generation call would
// duplicate billed work.
func (s *Server) forward(r *http.Request, targetURL string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.Header.Del("Host")
	// Proxy control headers are ours, not the provider's.
	req.Header.Del(HeaderTargetURL)
	return s.httpClient.Do(req)
}

// relayStream copies SSE chunks to the client as they arrive, flushing each
// one, while feeding a decoder for usage extraction. A client disconnect
// stops the relay; the decoder keeps whatever prefix was captured.
func (s *Server) relayStream(w http.ResponseWriter, reader io.Reader, provider string) *usage.StreamDecoder {
	dec := usage.NewStreamDecoder(provider)
	flusher, canFlush := w.(http.Flusher)

	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			dec.Feed(chunk)
			if _, writeErr := w.Write(chunk); writeErr != nil {
				log.Debug().Err(writeErr).Msg("client disconnected mid-stream")
				break
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("error reading upstream stream")
			}
			break
		}
	}
	return dec
}

// targetURL builds the upstream URL, preserving path and query. Priority:
// X-Target-URL header, configured upstream, provider default host.
func (s *Server) targetURL(r *http.Request, provider string) (string, error) {
	base := r.Header.Get(HeaderTargetURL)
	if base == "" {
		base = s.cfg.Upstream
	}
	if base == "" {
		base = providerBaseURLs[provider]
	}
	if base == "" {
		return "", errUnroutable
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errUnroutable
	}
	target := u.String() + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target, nil
}

var errUnroutable = &routeError{}

type routeError struct{}

func (*routeError) Error() string { return "cannot determine upstream target" }

// detectProvider infers the provider from request headers. The
// anthropic-version header is definitive; Anthropic API keys are
// recognizable by prefix; everything else is treated as OpenAI-style.
func detectProvider(r *http.Request) string {
	if r.Header.Get("anthropic-version") != "" {
		return usage.ProviderAnthropic
	}
	if strings.HasPrefix(strings.TrimSpace(r.Header.Get("x-api-key")), "sk-ant-") {
		return usage.ProviderAnthropic
	}
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer sk-ant-") {
		return usage.ProviderAnthropic
	}
	return usage.ProviderOpenAI
}

func (s *Server) getRequestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.New().String()
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": msg, "type": "proxy_error"},
	})
}

// copyHeaders copies HTTP headers from source to destination.
func copyHeaders(w http.ResponseWriter, src http.Header) {
	for k, v := range src {
		w.Header()[k] = v
	}
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(h.Get("Content-Type"), "text/event-stream")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
