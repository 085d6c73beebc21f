package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AbdullahTarakji/tokencost/internal/budget"
	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/meter"
	"github.com/AbdullahTarakji/tokencost/internal/metrics"
	"github.com/AbdullahTarakji/tokencost/internal/monitoring"
	"github.com/AbdullahTarakji/tokencost/internal/usage"
)

// meterTimeout bounds a single metering pass, including the ledger write.
const meterTimeout = 10 * time.Second

// exchange is a captured request/response pair queued for metering. For
// streaming responses the decoder holds the accumulated usage instead of
// the raw body.
type exchange struct {
	requestID    string
	provider     string
	project      string
	statusCode   int
	requestBody  []byte
	responseBody []byte
	stream       *usage.StreamDecoder
	receivedAt   time.Time
}

// submit queues an exchange for metering without blocking. When the queue
// is full, or the server is already shutting down, the exchange is dropped
// and counted; the relay path never waits on the meter.
func (s *Server) submit(ex *exchange) {
	s.meterMu.Lock()
	queued := false
	if !s.meterClosed {
		select {
		case s.meterCh <- ex:
			queued = true
		default:
		}
	}
	s.meterMu.Unlock()

	if queued {
		metrics.MeterQueueDepth.Set(float64(len(s.meterCh)))
		return
	}
	metrics.MeterDrops.Inc()
	log.Warn().Str("request_id", ex.requestID).Msg("meter queue full, dropping exchange")
	s.events.Record(&monitoring.MeterEvent{
		Timestamp: time.Now().UTC(),
		RequestID: ex.requestID,
		Provider:  ex.provider,
		Outcome:   monitoring.OutcomeDropped,
	})
}

func (s *Server) meterLoop() {
	defer close(s.workerDone)
	for ex := range s.meterCh {
		metrics.MeterQueueDepth.Set(float64(len(s.meterCh)))
		s.meterExchange(ex)
	}
}

// meterExchange extracts usage from a completed exchange, prices it, and
// records it. Failures here never surface to the client; they are logged
// and counted.
func (s *Server) meterExchange(ex *exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), meterTimeout)
	defer cancel()

	var (
		u   usage.Usage
		err error
	)
	if ex.stream != nil {
		u, err = ex.stream.Result()
	} else {
		u, err = usage.Extract(ex.provider, ex.statusCode, ex.requestBody, ex.responseBody)
	}
	if err != nil {
		var unex *usage.UnextractableError
		reason := "unknown"
		if errors.As(err, &unex) {
			reason = unex.Reason
		}
		metrics.MeterRecords.WithLabelValues(monitoring.OutcomeUnextractable).Inc()
		log.Debug().
			Str("request_id", ex.requestID).
			Str("reason", reason).
			Int("status", ex.statusCode).
			Msg("exchange not meterable")
		s.events.Record(&monitoring.MeterEvent{
			Timestamp: time.Now().UTC(),
			RequestID: ex.requestID,
			Provider:  ex.provider,
			Outcome:   monitoring.OutcomeUnextractable,
			Reason:    reason,
		})
		return
	}

	rec, err := s.meter.Log(ctx, meter.Params{
		Model:               u.Model,
		Provider:            ex.provider,
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheCreationTokens: u.CacheCreationInputTokens,
		CacheReadTokens:     u.CacheReadInputTokens,
		Project:             ex.project,
		Source:              ledger.SourceProxy,
		Timestamp:           ex.receivedAt,
	})
	if err != nil {
		metrics.LedgerWriteFailures.Inc()
		metrics.MeterRecords.WithLabelValues(monitoring.OutcomeWriteFailure).Inc()
		log.Error().Err(err).Str("request_id", ex.requestID).Msg("failed to record usage")
		s.events.Record(&monitoring.MeterEvent{
			Timestamp: time.Now().UTC(),
			RequestID: ex.requestID,
			Provider:  ex.provider,
			Model:     u.Model,
			Outcome:   monitoring.OutcomeWriteFailure,
			Reason:    err.Error(),
		})
		return
	}

	outcome := monitoring.OutcomeRecorded
	if rec.Unresolved {
		outcome = monitoring.OutcomeUnknownModel
	}
	metrics.MeterRecords.WithLabelValues(outcome).Inc()

	event := monitoring.MeterEvent{
		Timestamp:      rec.Timestamp,
		RequestID:      ex.requestID,
		Provider:       rec.Provider,
		Model:          rec.Model,
		RequestedModel: rec.RequestedModel,
		InputTokens:    rec.InputTokens,
		OutputTokens:   rec.OutputTokens,
		CacheCreation:  rec.CacheCreationTokens,
		CacheRead:      rec.CacheReadTokens,
		CostUSD:        rec.Cost.Dollars(),
		Project:        rec.Project,
		Outcome:        outcome,
	}
	s.events.Record(&event)
	s.live.broadcast(&event)

	log.Info().
		Str("request_id", ex.requestID).
		Str("model", rec.Model).
		Int64("input_tokens", rec.InputTokens).
		Int64("output_tokens", rec.OutputTokens).
		Str("cost", rec.Cost.String()).
		Msg("usage recorded")

	s.checkBudgets(ctx)
}

// checkBudgets logs when any configured budget crosses its warning or
// exceeded threshold.
func (s *Server) checkBudgets(ctx context.Context) {
	statuses, err := s.monitor.All(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("budget check failed")
		return
	}
	for _, st := range statuses {
		if !st.HasLimit {
			continue
		}
		switch st.AlertLevel {
		case budget.LevelExceeded:
			log.Warn().
				Str("period", st.Period).
				Str("spent", st.Spent.String()).
				Str("limit", st.Limit.String()).
				Msg("budget exceeded")
		case budget.LevelWarning:
			log.Warn().
				Str("period", st.Period).
				Str("spent", st.Spent.String()).
				Str("limit", st.Limit.String()).
				Msg("budget warning threshold crossed")
		}
	}
}
