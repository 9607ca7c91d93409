package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger returns the structured request logger used by the admin surface.
// It shares the global level set by the logging package.
func InitLogger(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("app", app).Logger()
}
