// Package logger builds the process-wide zerolog logger and adapts it for
// libraries that expect a Printf-style sink.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger for the given environment. Local and dev
// environments get a human-readable console writer, prod gets JSON.
func New(env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	w := io.Writer(os.Stdout)
	if env != "prod" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger()
}

// Printf adapts a zerolog logger to the Printf interface used by gorm's logger.
type Printf struct {
	Log zerolog.Logger
}

func (p Printf) Printf(format string, args ...interface{}) {
	p.Log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
