package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type requestMetrics struct {
	logger         *log.Logger
	method         string
	route          string
	start          time.Time
	decodeDuration time.Duration
	boardDuration  time.Duration
	idempotencyKey bool
	errorStage     string
}

func newRequestMetrics(logger *log.Logger, method, route string) *requestMetrics {
	return &requestMetrics{
		logger: logger,
		method: method,
		route:  route,
		start:  time.Now(),
	}
}

func (m *requestMetrics) ObserveDecode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.decodeDuration = duration
}

func (m *requestMetrics) ObserveBoard(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.boardDuration = duration
}

func (m *requestMetrics) SetIdempotencyKey(provided bool) {
	m.idempotencyKey = provided
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"method":          m.method,
		"route":           m.route,
		"status":          status,
		"total_ms":        durationToMillis(time.Since(m.start)),
		"idempotency_key": m.idempotencyKey,
	}
	if m.decodeDuration > 0 {
		fields["decode_ms"] = durationToMillis(m.decodeDuration)
	}
	if m.boardDuration > 0 {
		fields["board_ms"] = durationToMillis(m.boardDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("board.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
