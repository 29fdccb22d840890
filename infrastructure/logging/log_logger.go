package logging

import (
	"log"

	"pqproxy/application"
)

// LogLogger satisfies application.Logger with the standard library logger.
// Constructors across the module take the interface, so a structured
// backend can replace this without touching call sites.
type LogLogger struct {
}

func NewLogLogger() application.Logger {
	return &LogLogger{}
}

func (l LogLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}
