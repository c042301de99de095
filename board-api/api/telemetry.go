package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/board-api/domain"
)

const (
	tracerName         = "prism-board/board-api"
	requestEventName   = "board.request"
	requestEventDomain = "prism.board"
	observabilityEvent = "observability.event"

	ctxUserID  = "prism.user_id"
	ctxFailure = "prism.failure"
)

// Telemetry opens a server span per request and, once the handler is done,
// records the outcome both as a span event and as a structured log entry.
func Telemetry(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			ctx, span := otel.Tracer(tracerName).Start(req.Context(), req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			if err != nil {
				// Render now so the recorded status is the one sent.
				c.Error(err)
			}
			recordRequest(c, span, logger, route, time.Since(start), err)
			return nil
		}
	}
}

func recordRequest(c echo.Context, span trace.Span, logger *log.Logger, route string, elapsed time.Duration, err error) {
	status := c.Response().Status
	failure := err
	if f, ok := c.Get(ctxFailure).(error); ok && failure == nil {
		failure = f
	}

	attrs := map[string]any{
		"http.method":          c.Request().Method,
		"http.route":           route,
		"http.status_code":     status,
		"prism.board.total_ms": durationToMillis(elapsed),
	}
	if projectID := c.Param("projectId"); projectID != "" {
		attrs["prism.board.project_id"] = projectID
	}
	if taskID := c.Param("taskId"); taskID != "" {
		attrs["prism.board.task_id"] = taskID
	}
	if userID, ok := c.Get(ctxUserID).(string); ok && userID != "" {
		attrs["enduser.id"] = userID
	}
	if failure != nil {
		attrs["prism.board.error_kind"] = domain.KindOf(failure).String()
		attrs["error.message"] = failure.Error()
	}

	sevText, sevNumber := severityForStatus(status, err)

	kvs := toKeyValues(attrs)
	span.SetAttributes(kvs...)
	span.AddEvent(observabilityEvent, trace.WithAttributes(append(kvs,
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", sevText),
		attribute.Int("severity_number", sevNumber),
	)...))
	if sevNumber >= 17 {
		desc := http.StatusText(status)
		if failure != nil {
			desc = failure.Error()
		}
		span.SetStatus(codes.Error, desc)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrs,
		"severity_text":   sevText,
		"severity_number": sevNumber,
	}
	if sc := span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	logger.WithFields(fields).Log(levelForSeverity(sevNumber), observabilityEvent)
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= 500 || (status == 0 && err != nil):
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
