package observability

import (
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/rs/zerolog"
)

// ComponentLogger returns the process logger tagged with app.
func ComponentLogger(app string) zerolog.Logger {
	return logs.Logger().With().Str("app", app).Logger()
}
