package utils

import (
	"io"

	"github.com/clipsync/clipsync/internal/logger"
)

// CloseLogged closes c and logs a failure under what.
// Use for best-effort cleanup where the error cannot be returned.
func CloseLogged(c io.Closer, what string, log logger.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("failed to close", logger.String("component", what), logger.Error(err))
	}
}
