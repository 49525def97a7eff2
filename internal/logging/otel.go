package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap/zapcore"
)

// newCore builds the writer core and, when an OTEL provider is configured,
// tees it with the otelzap bridge. Redaction only applies to the writer
// output; bridged entries carry raw field values.
func newCore(cfg *Config) (zapcore.Core, error) {
	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(cfg.writer()), cfg.Level)

	if cfg.OTELProvider != nil {
		otelCore := otelzap.NewCore("github.com/iapropria/iapropria",
			otelzap.WithLoggerProvider(cfg.OTELProvider),
		)
		core = zapcore.NewTee(core, levelFiltered{Core: otelCore, level: cfg.Level})
	}

	return newSampledCore(core, cfg.Sampling), nil
}

// levelFiltered applies the configured level to the bridge, which
// otherwise forwards everything its provider accepts.
type levelFiltered struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (c levelFiltered) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c levelFiltered) With(fields []zapcore.Field) zapcore.Core {
	return levelFiltered{Core: c.Core.With(fields), level: c.level}
}

func (c levelFiltered) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}
