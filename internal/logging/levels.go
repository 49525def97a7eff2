package logging

import (
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug and is meant for wire-level detail such as
// request bodies sent to the vector store. Almost always filtered out.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, supporting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
