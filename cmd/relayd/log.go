package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/btcrelay/relay"
	"github.com/btcsuite/btcrelay/relaydb"
	"github.com/btcsuite/btcrelay/relayhttp"
	"github.com/jrick/logrotate/rotator"
)

// logWriter duplicates log output to stdout and the log rotator, if one is
// active.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}

	return len(p), nil
}

var (
	backendLog = btclog.NewBackend(logWriter{})

	logRotator *rotator.Rotator

	reldLog = backendLog.Logger("RELD")
	rlayLog = backendLog.Logger("RLAY")
	rddbLog = backendLog.Logger("RDDB")
	rapiLog = backendLog.Logger("RAPI")
)

// subsystemLoggers maps each subsystem identifier to its logger.
var subsystemLoggers = map[string]btclog.Logger{
	"RELD": reldLog,
	"RLAY": rlayLog,
	"RDDB": rddbLog,
	"RAPI": rapiLog,
}

func init() {
	relay.UseLogger(rlayLog)
	relaydb.UseLogger(rddbLog)
	relayhttp.UseLogger(rapiLog)
}

// initLogRotator starts the log file rotator for the given path. It must be
// called before logging output lands in the file.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r

	return nil
}

// setLogLevels assigns the same log level to every subsystem logger.
func setLogLevels(logLevel string) {
	level, _ := btclog.LevelFromString(logLevel)
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}

// validLogLevel reports whether logLevel names a supported level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)

	return ok
}
