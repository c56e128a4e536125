// Package stream описывает потоки, между которыми работает конвейер обработки:
// сетевые RTP потоки и потоки медиа устройств.
//
// Поток открывается один раз, читается или пишется из одной рабочей горутины
// и закрывается ровно один раз. Close безопасен параллельно с заблокированным
// Read: закрытие прерывает чтение, после чего Read возвращает io.EOF.
package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/arzzra/rcs_media/pkg/codec"
)

var (
	// ErrClosed операция над закрытым потоком
	ErrClosed = errors.New("поток закрыт")
	// ErrNotOpen поток еще не открыт
	ErrNotOpen = errors.New("поток не открыт")
	// ErrAlreadyOpen повторное открытие потока
	ErrAlreadyOpen = errors.New("поток уже открыт")
)

// InputStream источник буферов. Read блокируется до появления данных;
// io.EOF или nil буфер означают конец потока.
type InputStream interface {
	Open() error
	Read() (*codec.Buffer, error)
	Close() error
}

// OutputStream приемник буферов
type OutputStream interface {
	Open() error
	Write(buf *codec.Buffer) error
	Close() error
}

// NetworkInputStream входящий RTP поток
type NetworkInputStream interface {
	InputStream

	// SetExtensionHeaderID задает id расширения ориентации видео.
	// Вызывается до Open, чтобы расширение распознавалось с первого пакета.
	SetExtensionHeaderID(id uint8)
	AddStreamListener(l Listener)

	// SessionContext возвращает RTP контекст потока, nil до Open
	SessionContext() *SessionContext
}

// NetworkOutputStream исходящий RTP поток
type NetworkOutputStream interface {
	OutputStream
	AddStreamListener(l Listener)
}

// EventType тип события потока
type EventType int

const (
	// EventTimeout нет входящих пакетов в течение окна неактивности
	EventTimeout EventType = iota
	// EventAborted транспорт завершился с ошибкой
	EventAborted
	// EventRTCP получен RTCP пакет (payload не интерпретируется)
	EventRTCP
	// EventResumed пакеты снова поступают после EventTimeout
	EventResumed
)

func (t EventType) String() string {
	switch t {
	case EventTimeout:
		return "timeout"
	case EventAborted:
		return "aborted"
	case EventRTCP:
		return "rtcp"
	case EventResumed:
		return "resumed"
	default:
		return fmt.Sprintf("event_%d", int(t))
	}
}

// Event событие уровня транспорта
type Event struct {
	Type    EventType
	Payload []byte
	Err     error
}

// Listener получает события потока. Вызывается из горутины потока,
// поэтому не должен блокироваться надолго.
type Listener interface {
	OnStreamEvent(ev Event)
}

// ListenerFunc адаптер функции к Listener
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnStreamEvent(ev Event) { f(ev) }

// listeners потокобезопасный список слушателей
type listeners struct {
	mu   sync.RWMutex
	list []Listener
}

func (l *listeners) add(listener Listener) {
	if listener == nil {
		return
	}
	l.mu.Lock()
	l.list = append(l.list, listener)
	l.mu.Unlock()
}

func (l *listeners) notify(ev Event) {
	l.mu.RLock()
	list := l.list
	l.mu.RUnlock()

	for _, listener := range list {
		listener.OnStreamEvent(ev)
	}
}
