package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("stickyboard/api")

// saveRequestMetrics collects per-request timings for the note-save route and
// emits them as one structured log line plus an otel span.
type saveRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	decodeDuration time.Duration
	saveDuration   time.Duration
	items          int
	archived       bool
	errorStage     string
}

func newSaveRequestMetrics(ctx context.Context, logger *log.Logger) (*saveRequestMetrics, context.Context) {
	spanCtx, span := tracer.Start(ctx, "note.save")
	return &saveRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *saveRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *saveRequestMetrics) ObserveDecode(d time.Duration) {
	if d > 0 {
		m.decodeDuration = d
	}
}

func (m *saveRequestMetrics) ObserveSave(d time.Duration) {
	if d > 0 {
		m.saveDuration = d
	}
}

func (m *saveRequestMetrics) SetItems(count int) {
	if count < 0 {
		count = 0
	}
	m.items = count
}

func (m *saveRequestMetrics) SetArchived(archived bool) {
	m.archived = archived
}

func (m *saveRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *saveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("note.items", m.items),
			attribute.Bool("note.archived", m.archived),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("error.stage", m.errorStage))
		}
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    "/boards/:boardId/notes/:noteId",
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
		"items":    m.items,
		"archived": m.archived,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.decodeDuration > 0 {
		fields["decode_ms"] = durationToMillis(m.decodeDuration)
	}
	if m.saveDuration > 0 {
		fields["save_ms"] = durationToMillis(m.saveDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("notes.save.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
