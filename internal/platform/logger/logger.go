package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns the process logger: JSON on stderr, or a console writer with debug level in dev.
func Setup(dev bool) zerolog.Logger {
	return New(os.Stderr, dev)
}

func New(w io.Writer, dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	l := zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
	if dev {
		l = l.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).Level(level)
	}
	return l
}
