// Package logger предоставляет тонкую обёртку над slog.
// Весь вывод идёт в stderr: stdout зарезервирован под JSON-контракт движка.
package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger — интерфейс логирования, используемый во всех слоях приложения.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(err error, format string, args ...any)
}

type slogLogger struct {
	log *slog.Logger
}

// NewSlogLogger создает логгер на основе slog с текстовым хендлером в stderr.
func NewSlogLogger() Logger {
	return newWithLevel(slog.LevelInfo)
}

// NewQuietLogger создает логгер, пишущий только ошибки (режим --quiet).
func NewQuietLogger() Logger {
	return newWithLevel(slog.LevelError)
}

func newWithLevel(level slog.Level) Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogLogger{log: slog.New(handler)}
}

func (s *slogLogger) Debugf(format string, args ...any) {
	s.log.Debug(fmt.Sprintf(format, args...))
}

func (s *slogLogger) Infof(format string, args ...any) {
	s.log.Info(fmt.Sprintf(format, args...))
}

func (s *slogLogger) Warnf(format string, args ...any) {
	s.log.Warn(fmt.Sprintf(format, args...))
}

func (s *slogLogger) Errorf(err error, format string, args ...any) {
	s.log.Error(fmt.Sprintf(format, args...), slog.Any("error", err))
}
