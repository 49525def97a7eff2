package logging

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type recordingProvider struct {
	embedded.LoggerProvider
	logger *recordingLogger
}

func (p *recordingProvider) Logger(string, ...log.LoggerOption) log.Logger {
	return p.logger
}

type recordingLogger struct {
	embedded.Logger

	mu     sync.Mutex
	bodies []string
}

func (l *recordingLogger) Emit(_ context.Context, r log.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bodies = append(l.bodies, r.Body().AsString())
}

func (l *recordingLogger) Enabled(context.Context, log.EnabledParameters) bool {
	return true
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.bodies...)
}

func TestNewLogger_OTELBridge(t *testing.T) {
	rec := &recordingLogger{}
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.InfoLevel
	cfg.Sampling.Enabled = false
	cfg.Output = io.Discard
	cfg.OTELProvider = &recordingProvider{logger: rec}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	logger.Debug(ctx, "below level")
	logger.Info(ctx, "document upserted", zap.String("id", "doc1"))
	logger.Named("chromem").Warn(ctx, "slow query")

	assert.Equal(t, []string{"document upserted", "slow query"}, rec.messages())
}
