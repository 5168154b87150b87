package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// InitLogging initializes logging. Debug mode writes human readable console
// output; anything else writes JSON lines.
func InitLogging(mode, level string) {
	var out io.Writer = os.Stdout
	if mode == "debug" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// SetOutput redirects all log output, used by tests to capture lines.
func SetOutput(w io.Writer) {
	logger = logger.Output(w)
}

// Logger returns the underlying zerolog logger.
func Logger() *zerolog.Logger {
	return &logger
}

// With returns a child logger carrying the given key/value pairs.
func With(fields map[string]interface{}) zerolog.Logger {
	return logger.With().Fields(fields).Logger()
}

// Debugf logs debug level messages
func Debugf(format string, v ...interface{}) {
	logger.Debug().Msg(fmt.Sprintf(format, v...))
}

// Infof logs info level messages
func Infof(format string, v ...interface{}) {
	logger.Info().Msg(fmt.Sprintf(format, v...))
}

// Warnf logs warning level messages
func Warnf(format string, v ...interface{}) {
	logger.Warn().Msg(fmt.Sprintf(format, v...))
}

// Errorf logs error level messages
func Errorf(format string, v ...interface{}) {
	logger.Error().Msg(fmt.Sprintf(format, v...))
}
