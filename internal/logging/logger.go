package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger writing to the given output
func New(level zerolog.Level, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stdout
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// NewFromConfig creates a logger from a level string and console toggle.
// Unknown levels fall back to info. Console output is human-readable; the
// default is JSON lines on stdout.
func NewFromConfig(levelStr string, console bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var output io.Writer = os.Stdout
	if console {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return New(level, output)
}
