package log

import (
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/natefinch/lumberjack.v2"
)

type MultiWriter struct {
	writers []io.Writer
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		_, e := w.Write(p)
		if e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

func (m *MultiWriter) AddFileAppender(options FileAppenderOpt) *MultiWriter {
	writer := &lumberjack.Logger{
		Filename:   options.Filename,
		MaxSize:    options.MaxSize,
		MaxBackups: options.MaxBackups,
		MaxAge:     options.MaxAge,
		Compress:   options.Compress,
	}
	m.writers = append(m.writers, writer)
	return m
}

// Len is the number of attached writers.
func (m *MultiWriter) Len() int {
	return len(m.writers)
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}

// buildWriter turns appender configs into a single writer. No appenders
// means stdout.
func buildWriter(appenders []AppenderConfig) (*MultiWriter, error) {
	w := NewMultiWriter()
	for _, a := range appenders {
		switch a.Type {
		case "console", "stdout":
			w.Add(os.Stdout)
		case "stderr":
			w.Add(os.Stderr)
		case "file":
			var opt FileAppenderOpt
			if err := mapstructure.Decode(a.Options, &opt); err != nil {
				return nil, fmt.Errorf("file appender options: %w", err)
			}
			if opt.Filename == "" {
				return nil, fmt.Errorf("file appender requires 'filename'")
			}
			w.AddFileAppender(opt)
		default:
			return nil, fmt.Errorf("unknown appender type: %q", a.Type)
		}
	}
	if w.Len() == 0 {
		w.Add(os.Stdout)
	}
	return w, nil
}
