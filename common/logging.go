// Package common provides centralized logging infrastructure for the wellness
// memory service. This file implements intelligent log output routing that
// automatically directs error messages to stderr while sending other log
// levels to stdout, enabling proper stream separation for containerized and
// scripted environments.
//
// The logging system is built on logrus for structured logging capabilities
// with custom output handling that supports both development workflows and
// production deployment patterns.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter implements log output routing based on log content analysis.
// This custom writer examines log messages and directs them to appropriate
// output streams (stdout vs stderr) based on their severity level.
//
// Routing Logic:
//
//	The splitter analyzes each log message for error indicators and routes
//	them accordingly:
//	- Error messages (containing "level=error" or "level":"error") → stderr
//	- All other messages (info, debug, warn) → stdout
type OutputSplitter struct{}

// Write implements the io.Writer interface for the OutputSplitter.
// It uses efficient byte searching to identify error-level messages without
// complex parsing; logrus writes error-level entries as "level=error" with
// the text formatter and as "level":"error" with the JSON formatter.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger provides the global logger instance for the wellness memory service.
// This logger is pre-configured with the OutputSplitter for intelligent log
// routing. Components constructed without an explicit logger do not use it;
// each falls back to its own warn-level logrus logger.
var Logger = func() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&OutputSplitter{})
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
	return logger
}()
