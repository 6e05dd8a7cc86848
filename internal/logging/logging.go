package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
)

var levels = map[string]pterm.LogLevel{
	"trace": pterm.LogLevelTrace,
	"debug": pterm.LogLevelDebug,
	"info":  pterm.LogLevelInfo,
	"warn":  pterm.LogLevelWarn,
	"error": pterm.LogLevelError,
}

// New builds a pterm logger writing to w.
func New(level string, format string, w io.Writer) (*pterm.Logger, error) {
	lvl, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}
	formatter := pterm.LogFormatterColorful
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "colorful":
	case "json":
		formatter = pterm.LogFormatterJSON
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return pterm.DefaultLogger.
		WithLevel(lvl).
		WithFormatter(formatter).
		WithWriter(w).
		WithTime(true), nil
}

// Discard returns a logger that drops everything.
func Discard() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelDisabled).WithWriter(io.Discard)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *pterm.Logger) *pterm.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
