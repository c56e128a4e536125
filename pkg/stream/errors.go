package stream

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// NetworkErrorType класс сетевой ошибки
type NetworkErrorType int

const (
	ErrorTypeUnknown    NetworkErrorType = iota
	ErrorTypeTimeout                     // Таймаут операции
	ErrorTypeConnection                  // Удаленная сторона недоступна (ICMP unreachable)
	ErrorTypePermanent                   // Повтор бессмысленен
)

func (t NetworkErrorType) String() string {
	switch t {
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// NetworkError сетевая ошибка с классификацией
type NetworkError struct {
	Type      NetworkErrorType
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v (type: %s)", e.Operation, e.Err, e.Type)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Temporary сообщает, имеет ли смысл повторить операцию
func (e *NetworkError) Temporary() bool {
	return e.Type == ErrorTypeTimeout || e.Type == ErrorTypeConnection
}

// classifyNetworkError оборачивает ошибку сокета
func classifyNetworkError(operation string, err error) error {
	if err == nil {
		return nil
	}

	classified := &NetworkError{Operation: operation, Err: err}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		classified.Type = ErrorTypeTimeout
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		classified.Type = ErrorTypeConnection
	case errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.EINVAL),
		errors.Is(err, syscall.EAFNOSUPPORT):
		classified.Type = ErrorTypePermanent
	}

	return classified
}
