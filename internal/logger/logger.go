package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is usable before Init; it then writes JSON to stderr at the default level.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures the global logger from LOG_LEVEL (debug|info|warn|error, default info)
// and LOG_FORMAT (console|json, default console).
func Init(serviceName string) {
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		out = os.Stderr
	}

	Logger = zerolog.New(out).
		With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

func WithJobID(jobID int64) *zerolog.Logger {
	l := Logger.With().Int64("job_id", jobID).Logger()
	return &l
}

func WithWishID(wishID int64) *zerolog.Logger {
	l := Logger.With().Int64("wish_id", wishID).Logger()
	return &l
}

func WithBatchID(batchID string) *zerolog.Logger {
	l := Logger.With().Str("batch_id", batchID).Logger()
	return &l
}

func WithCorrelationID(correlationID string) *zerolog.Logger {
	l := Logger.With().Str("correlation_id", correlationID).Logger()
	return &l
}
