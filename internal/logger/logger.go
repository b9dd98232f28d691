package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. dev gets human-readable console output,
// everything else gets JSON lines.
func New(env, service string) zerolog.Logger {
	level := zerolog.InfoLevel
	if lv := os.Getenv("LOG_LEVEL"); lv != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(lv)); err == nil {
			level = parsed
		}
	}

	var log zerolog.Logger
	if env == "dev" {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		log = zerolog.New(out)
	} else {
		log = zerolog.New(os.Stderr)
	}

	return log.Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()
}
