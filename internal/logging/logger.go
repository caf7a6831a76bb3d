package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file kept under <output>/logs.
const FileName = "flowgraph.log"

// Options tune New.
type Options struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	// Console, when set, receives the same lines as the log file.
	Console io.Writer
}

// Logger writes console-encoded lines to a rotated file under the graph
// output directory so users can inspect a run after the scheduler exits.
type Logger struct {
	*zap.Logger
	path string
	sink *lumberjack.Logger
}

// New creates (or reuses) the log file for the given output directory.
func New(outputDir string, opts Options) (*Logger, error) {
	logDir := filepath.Join(outputDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return nil, fmt.Errorf("logging: level %q: %w", opts.Level, err)
		}
	}
	path := filepath.Join(logDir, FileName)
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     7,
		LocalTime:  true,
	}
	encoder := zapcore.NewConsoleEncoder(encoderConfig())
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(sink), level)}
	if opts.Console != nil {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(opts.Console), level))
	}
	return &Logger{
		Logger: zap.New(zapcore.NewTee(cores...), zap.AddCaller()),
		path:   path,
		sink:   sink,
	}, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:       "T",
		LevelKey:      "L",
		MessageKey:    "M",
		CallerKey:     "C",
		NameKey:       "N",
		StacktraceKey: "S",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Local().Format("2006-01-02 15:04:05.000"))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// Path returns the file backing this logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes and releases the log file.
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	_ = l.Sync()
	return l.sink.Close()
}

// Tail returns up to maxLines of the most recent lines of path together
// with the total number of lines in the file.
func Tail(path string, maxLines int) ([]string, int) {
	if maxLines <= 0 {
		return nil, 0
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	total := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		total++
		lines = append(lines, scanner.Text())
		if len(lines) > maxLines {
			lines = lines[1:]
		}
	}
	if len(lines) == 0 {
		return nil, total
	}
	return lines, total
}
