// Package logger contains a minimal leveled logger used across the pipeline.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
)

// Level is a log level.
type Level int

// Log levels, ordered by severity.
const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Writer is implemented by anything that can receive log lines.
// Components depend on this interface rather than a concrete logger so
// that tests can inject a recording stub.
type Writer interface {
	Log(level Level, format string, args ...interface{})
}

// Logger writes leveled, timestamped lines to stdout.
type Logger struct {
	level Level
	out   io.Writer
	color bool

	mutex sync.Mutex
}

// New allocates a Logger at the given minimum level.
func New(level Level) *Logger {
	return &Logger{
		level: level,
		out:   os.Stdout,
		color: true,
	}
}

func levelTag(level Level, useColor bool) string {
	switch level {
	case Debug:
		if useColor {
			return color.RenderString(color.Gray.Code(), "DEB")
		}
		return "DEB"
	case Info:
		if useColor {
			return color.RenderString(color.Green.Code(), "INF")
		}
		return "INF"
	case Warn:
		if useColor {
			return color.RenderString(color.Warn.Code(), "WAR")
		}
		return "WAR"
	default:
		if useColor {
			return color.RenderString(color.Error.Code(), "ERR")
		}
		return "ERR"
	}
}

// Log implements Writer.
func (l *Logger) Log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	var buf bytes.Buffer
	buf.WriteString(time.Now().Format("2006/01/02 15:04:05"))
	buf.WriteByte(' ')
	buf.WriteString(levelTag(level, l.color))
	buf.WriteByte(' ')
	fmt.Fprintf(&buf, format, args...)
	buf.WriteByte('\n')

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.out.Write(buf.Bytes()) //nolint:errcheck
}

// Prefixed wraps a Writer, prepending a fixed prefix to every line,
// used for per-component "[session-id] "-style tagging.
type Prefixed struct {
	Prefix string
	Parent Writer
}

// Log implements Writer.
func (p *Prefixed) Log(level Level, format string, args ...interface{}) {
	if p.Parent == nil {
		return
	}
	p.Parent.Log(level, p.Prefix+format, args...)
}
