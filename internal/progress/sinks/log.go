package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DavidLozzi/starwars-graph/internal/progress"
)

// stageLogs maps each stage to its log message and level. Session boundaries
// and failures are visible at the default level; per-page traffic is debug.
var stageLogs = map[progress.Stage]struct {
	msg   string
	level zapcore.Level
}{
	progress.StageCrawlStart:  {"crawl session started", zapcore.InfoLevel},
	progress.StageCrawlDone:   {"crawl session finished", zapcore.InfoLevel},
	progress.StageFetchDone:   {"page fetched", zapcore.DebugLevel},
	progress.StageFetchFailed: {"fetch abandoned", zapcore.WarnLevel},
	progress.StagePageAdded:   {"page added", zapcore.DebugLevel},
	progress.StagePageUpdated: {"page updated", zapcore.DebugLevel},
	progress.StagePageFailed:  {"page not stored", zapcore.WarnLevel},
	progress.StageLinkSkipped: {"link skipped", zapcore.DebugLevel},
	progress.StageDeduped:     {"already captured", zapcore.DebugLevel},
}

// LogSink writes one structured log line per progress event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger. A nil logger discards everything.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		entry, ok := stageLogs[evt.Stage]
		if !ok {
			entry.msg, entry.level = "progress event", zapcore.DebugLevel
		}
		ce := s.logger.Check(entry.level, entry.msg)
		if ce == nil {
			continue
		}
		ce.Write(eventFields(evt)...)
	}
	return nil
}

func eventFields(evt progress.Event) []zap.Field {
	fields := []zap.Field{
		zap.String("session_id", evt.SessionUUID().String()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.URL != "" {
		fields = append(fields, zap.String("url", evt.URL))
	}
	if evt.Site != "" {
		fields = append(fields, zap.String("site", evt.Site))
	}
	if evt.StatusClass != "" {
		fields = append(fields, zap.String("status_class", string(evt.StatusClass)))
	}
	if evt.Bytes > 0 {
		fields = append(fields, zap.Int64("bytes", evt.Bytes))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("duration", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}

// Close flushes the logger.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	return nil
}
