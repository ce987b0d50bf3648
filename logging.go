package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// newLogger builds the process logger. verbosity counts -v flags and raises
// the configured level by one step each.
func newLogger(base logrus.Level, verbosity int) *logrus.Logger {
	level := base
	for i := 0; i < verbosity && level < logrus.TraceLevel; i++ {
		level++
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return log
}
