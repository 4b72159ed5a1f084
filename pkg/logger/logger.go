// Package logger wraps a structured logger behind the small Info/Error/
// Debug surface the rest of the daemon calls.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a thin façade over logrus so call sites never import logrus
// directly and fields stay consistent daemon-wide.
type Logger struct {
	entry *logrus.Entry
}

var Default = New()

// New builds a Logger writing structured text entries to stdout.
func New() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: logrus.NewEntry(l)}
}

// With returns a Logger that attaches the given key/value pairs to every
// entry it emits, e.g. logger.Default.With("client", addr).Info("connected").
func (l *Logger) With(kv ...any) *Logger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Info(format string, v ...any) {
	l.entry.Infof(format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	l.entry.Errorf(format, v...)
}

func (l *Logger) Debug(format string, v ...any) {
	l.entry.Debugf(format, v...)
}

func With(kv ...any) *Logger {
	return Default.With(kv...)
}

func Info(format string, v ...any) {
	Default.Info(format, v...)
}

func Error(format string, v ...any) {
	Default.Error(format, v...)
}

func Debug(format string, v ...any) {
	Default.Debug(format, v...)
}
