// Package logging holds the process logger used by the vkcompute command.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// Init configures the process logger. An unknown level falls back to info.
// Output goes to stderr when console is set and is appended to file when one
// is named.
func Init(level, file string, console bool) error {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	var writers []io.Writer
	if console {
		writers = append(writers, os.Stderr)
	}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return errors.Wrap(err, "create log directory")
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		writers = append(writers, f)
	}
	switch len(writers) {
	case 0:
		l.SetOutput(io.Discard)
	case 1:
		l.SetOutput(writers[0])
	default:
		l.SetOutput(io.MultiWriter(writers...))
	}

	log = l
	return nil
}

// Get returns the process logger, creating a default one if Init was not
// called.
func Get() *logrus.Logger {
	if log == nil {
		log = logrus.New()
	}
	return log
}

// For returns an entry tagged with the given component name.
func For(component string) *logrus.Entry {
	return Get().WithField("component", component)
}
