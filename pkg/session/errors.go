package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrUnsupportedFormat кодировка отсутствует в реестре
	ErrUnsupportedFormat = errors.New("формат не поддерживается")
	// ErrInvalidState операция недопустима в текущем состоянии сессии
	ErrInvalidState = errors.New("недопустимое состояние сессии")
)

// SetupError ошибка подготовки сессии. Все потоки, открытые в этой попытке,
// к моменту возврата ошибки уже закрыты.
type SetupError struct {
	RemoteAddress       string
	RemotePort          int
	OrientationHeaderID uint8
	Err                 error
}

func (e *SetupError) Error() string {
	msg := "session setup failed for remote " + net.JoinHostPort(e.RemoteAddress, strconv.Itoa(e.RemotePort))
	if e.OrientationHeaderID > 0 {
		msg += fmt.Sprintf(", orientation-header %d", e.OrientationHeaderID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
