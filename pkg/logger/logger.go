// Package logger предоставляет структурированное логирование медиа движка
// поверх logrus.
//
// Каждый компонент получает собственный *logrus.Entry с полем "component",
// к которому сессии и процессоры добавляют свой контекст (session_id,
// remote, codec). Глобальная настройка (уровень, формат, вывод) выполняется
// один раз при старте процесса через Configure.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config конфигурация логирования
type Config struct {
	Level  string    // trace, debug, info, warn, error
	JSON   bool      // JSON формат вместо текстового
	Output io.Writer // Куда писать (по умолчанию os.Stderr)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		JSON:   false,
		Output: os.Stderr,
	}
}

var (
	mu   sync.RWMutex
	base = newBase(DefaultConfig())
)

func newBase(cfg Config) *logrus.Logger {
	l := logrus.New()
	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	}
	l.SetLevel(ParseLevel(cfg.Level))
	if cfg.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// Configure заменяет базовый логгер. Уже созданные Entry продолжают писать
// в прежний логгер, поэтому вызывать нужно до создания сессий.
func Configure(cfg Config) {
	l := newBase(cfg)

	mu.Lock()
	base = l
	mu.Unlock()
}

// ParseLevel преобразует строку в уровень logrus. Неизвестное значение - info.
func ParseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Base возвращает текущий базовый логгер
func Base() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent создает логгер для указанного компонента
func WithComponent(component string) *logrus.Entry {
	return Base().WithField("component", component)
}

// Discard возвращает логгер, который ничего не пишет. Используется в тестах.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
