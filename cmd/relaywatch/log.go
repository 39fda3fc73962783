package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"

	"relaywatch/internal/conntrack"
	"relaywatch/internal/relay"
	"relaywatch/internal/ui"
)

// logWriter implements an io.Writer that outputs to the log rotator when
// one is configured and is silent otherwise. Logs never go to the
// terminal: the dashboard owns it.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	if logRotator == nil {
		return len(p), nil
	}
	return logRotator.Write(p)
}

// Loggers per subsystem.  A single backend is created and all subsystem
// loggers created from it share the rotator.
var (
	backendLog = slog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	mainLog = backendLog.Logger("MAIN")
	coreLog = backendLog.Logger("CORE")
	ctrlLog = backendLog.Logger("CTRL")
	uiLog   = backendLog.Logger("TUI")
)

// subsystemLoggers maps each subsystem identifier to its associated
// logger.
var subsystemLoggers = map[string]slog.Logger{
	"MAIN": mainLog,
	"CORE": coreLog,
	"CTRL": ctrlLog,
	"TUI":  uiLog,
}

func init() {
	conntrack.UseLogger(coreLog)
	relay.UseLogger(ctrlLog)
	ui.UseLogger(uiLog)
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory.  It must be called before
// the package-global log rotator variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

func validLogLevel(level string) bool {
	_, ok := slog.LevelFromString(level)
	return ok
}

// setLogLevels sets the log level for all subsystem loggers.
func setLogLevels(level string) {
	lvl, _ := slog.LevelFromString(level)
	for _, logger := range subsystemLoggers {
		logger.SetLevel(lvl)
	}
}
