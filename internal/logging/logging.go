// Package logging builds the process logger from the main configuration.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"depotci/internal/errs"
)

// Options selects level, format and destination.
type Options struct {
	Level  string
	Format string
	// File, when set, receives a rotated copy of the log besides stderr.
	File string
}

// Configure applies opts to logger. Close the returned closer on exit to
// flush the log file.
func Configure(logger *logrus.Logger, opts Options) (io.Closer, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, errs.Wrap(errs.CodeConfiguration, err, "main.log_level")
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch opts.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errs.Configf("main.log_format must be text or json, got %q", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, rotated))
		closer = rotated
	}
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
