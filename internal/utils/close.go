package utils

import (
	"io"

	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Closer is something to release at shutdown, with a name for the logs.
type Closer struct {
	Name string
	io.Closer
}

// CloseFunc adapts a plain func to io.Closer.
type CloseFunc func() error

func (f CloseFunc) Close() error { return f() }

// CloseAll closes cs in order and logs failures; it never stops early.
func CloseAll(log logger.Logger, cs ...Closer) {
	for _, c := range cs {
		if c.Closer == nil {
			continue
		}
		if err := c.Close(); err != nil {
			log.Warn("failed to close", logger.String("component", c.Name), logger.Error(err))
			continue
		}
		log.Debug("closed", logger.String("component", c.Name))
	}
}
