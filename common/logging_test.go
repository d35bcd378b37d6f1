package common

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOutputSplitter_WriteReturnsLength tests Write returns correct length
func TestOutputSplitter_WriteReturnsLength(t *testing.T) {
	splitter := &OutputSplitter{}

	tests := []struct {
		name    string
		message []byte
	}{
		{
			name:    "ErrorLevel",
			message: []byte(`time="2024-01-15T10:30:00Z" level=error msg="backend connection failed"`),
		},
		{
			name:    "InfoLevel",
			message: []byte(`time="2024-01-15T10:30:00Z" level=info msg="service started"`),
		},
		{
			name:    "EmptyMessage",
			message: []byte(""),
		},
		{
			name:    "WithNewlines",
			message: []byte("Line 1\nLine 2\nLine 3\n"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := splitter.Write(tt.message)
			assert.NoError(t, err)
			assert.Equal(t, len(tt.message), n)
		})
	}
}

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected logrus.Level
	}{
		{LogLevelDebug, logrus.DebugLevel},
		{LogLevelInfo, logrus.InfoLevel},
		{LogLevelWarn, logrus.WarnLevel},
		{LogLevelError, logrus.ErrorLevel},
		{LogLevelFatal, logrus.FatalLevel},
		{LogLevel("bogus"), logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			cfg := DefaultLoggerConfig()
			cfg.Level = tt.level
			logger := NewLogger(cfg)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}

func TestNewServiceLoggerFields(t *testing.T) {
	cfg := DefaultLoggerConfig()
	cfg.Service = "wellness-memory"

	entry := NewServiceLogger(cfg, "coordinator")
	require.NotNil(t, entry)

	assert.Equal(t, "wellness-memory", entry.Data["service"])
	assert.Equal(t, "coordinator", entry.Data["component"])
}
