// Package applog builds the process-wide structured logger. Every
// component in this repository takes a *logrus.Entry at construction
// rather than reaching for a package-global logger, so tests can pass
// in a discarding entry and production code can carry request-scoped
// fields (host, digest prefix, component name).
package applog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures the root logger.
type Options struct {
	// Debug selects the human-readable, verbose development logger.
	// When false, a terse JSON production logger is used instead.
	Debug bool

	// Name, Version identify the server build; attached to every log line.
	Name    string
	Version string
}

// New builds the root *logrus.Entry for the process.
func New(opts Options) *logrus.Entry {
	log := logrus.New()
	if opts.Debug {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	log.SetOutput(os.Stderr)

	return log.WithFields(logrus.Fields{
		"name":    opts.Name,
		"version": opts.Version,
	})
}

// Discard returns an entry that drops everything, for use in tests.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
