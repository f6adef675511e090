package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel checks the string-to-level mapping including the fallback.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		want  zapcore.Level
		ok    bool
	}{
		{"debug", zapcore.DebugLevel, true},
		{" INFO ", zapcore.InfoLevel, true},
		{"warn", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"fatal", zapcore.FatalLevel, true},
		{"whatever", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
	}

	for _, tc := range cases {
		level, ok := ParseLogLevel(tc.input)
		require.Equal(t, tc.ok, ok, "input %q", tc.input)
		require.Equal(t, tc.want, level, "input %q", tc.input)
	}
}

// TestFromContext_Fallback verifies the global logger is returned for bare contexts.
func TestFromContext_Fallback(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
	require.Same(t, Logger(), FromContext(nil)) //nolint:staticcheck // Nil context fallback is part of the contract.
}

// TestWithName_AttachesNamedLogger verifies a named logger is carried in the context.
func TestWithName_AttachesNamedLogger(t *testing.T) {
	t.Parallel()

	core, observed := newObservedLogger()
	ctx := ToContext(context.Background(), core)
	ctx = WithName(ctx, "bus")

	Info(ctx, "hello")

	entries := observed.All()
	require.Len(t, entries, 1)
	require.Equal(t, "bus", entries[0].LoggerName)
}

// newObservedLogger builds a sugared logger backed by an in-memory sink.
func newObservedLogger() (*zap.SugaredLogger, *observedSink) {
	sink := &observedSink{}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(discardWriter{}),
		zapcore.DebugLevel,
	)

	hooked := zap.New(core, zap.Hooks(func(entry zapcore.Entry) error {
		sink.append(entry)

		return nil
	}))

	return hooked.Sugar(), sink
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// observedSink records log entries for assertions.
type observedSink struct {
	entries []zapcore.Entry
}

func (s *observedSink) append(e zapcore.Entry) {
	s.entries = append(s.entries, e)
}

func (s *observedSink) All() []zapcore.Entry {
	return s.entries
}
