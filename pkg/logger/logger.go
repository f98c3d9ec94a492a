// Package logger wraps logrus with the defaults used across the bridge client.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a logrus logger tagged with the component that owns it.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls logger construction.
type Config struct {
	Level  string    `yaml:"level" env:"BRIDGE_LOG_LEVEL"`
	Format string    `yaml:"format" env:"BRIDGE_LOG_FORMAT"` // "json" or "text"
	Output io.Writer `yaml:"-"`
}

// New creates a logger for component using cfg.
func New(component string, cfg Config) *Logger {
	l := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return &Logger{Logger: l, component: component}
}

// NewDefault creates an info-level text logger for component.
func NewDefault(component string) *Logger {
	return New(component, Config{Level: "info"})
}

// NewDiscard returns a logger that drops everything. Useful in tests.
func NewDiscard() *Logger {
	return New("discard", Config{Level: "panic", Output: io.Discard})
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// WithField returns an entry tagged with the component and key=value.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.base().WithField(key, value)
}

// WithFields returns an entry tagged with the component and fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.base().WithFields(fields)
}

// WithError returns an entry tagged with the component and err.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.base().WithError(err)
}

// Named derives a logger sharing output and level under a sub-component name.
func (l *Logger) Named(sub string) *Logger {
	return &Logger{Logger: l.Logger, component: l.component + "." + sub}
}

func (l *Logger) base() *logrus.Entry {
	return logrus.NewEntry(l.Logger).WithField("component", l.component)
}
