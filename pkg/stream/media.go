package stream

import (
	"io"
	"sync"

	"github.com/arzzra/rcs_media/pkg/codec"
)

// MediaSource устройство захвата. Read блокируется до готовности кадра;
// nil буфер или io.EOF означают конец данных.
type MediaSource interface {
	Read() (*codec.Buffer, error)
}

// MediaSink устройство воспроизведения
type MediaSink interface {
	Write(buf *codec.Buffer) error
}

// Opener реализуется устройствами, которым нужна подготовка перед работой
type Opener interface {
	Open() error
}

// MediaInputStream поток с устройства захвата. Проставляет формат в буферы.
// Чтение с устройства идет в отдельной горутине, поэтому Close освобождает
// ожидающий Read даже для источника без метода Close.
type MediaInputStream struct {
	source MediaSource
	format codec.Format

	mu     sync.Mutex
	opened bool
	closed bool
	done   chan struct{}
}

type readResult struct {
	buf *codec.Buffer
	err error
}

// NewMediaInputStream оборачивает источник
func NewMediaInputStream(source MediaSource, format codec.Format) *MediaInputStream {
	return &MediaInputStream{source: source, format: format, done: make(chan struct{})}
}

// Open открывает устройство, если оно это поддерживает
func (s *MediaInputStream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return ErrAlreadyOpen
	}
	if o, ok := s.source.(Opener); ok {
		if err := o.Open(); err != nil {
			return err
		}
	}
	s.opened = true
	return nil
}

// Read возвращает следующий кадр. После Close возвращает io.EOF.
func (s *MediaInputStream) Read() (*codec.Buffer, error) {
	if s.isClosed() {
		return nil, io.EOF
	}

	// канал с буфером: горутина завершится, даже если результат уже не нужен
	result := make(chan readResult, 1)
	go func() {
		buf, err := s.source.Read()
		result <- readResult{buf: buf, err: err}
	}()

	var r readResult
	select {
	case r = <-result:
	case <-s.done:
		return nil, io.EOF
	}
	if s.isClosed() {
		return nil, io.EOF
	}
	buf, err := r.buf, r.err
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, io.EOF
	}

	if buf.Format.IsZero() {
		buf.Format = s.format
	}
	if buf.PayloadType == 0 {
		buf.PayloadType = s.format.PayloadType
	}
	return buf, nil
}

func (s *MediaInputStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close освобождает ожидающий Read и закрывает устройство,
// если оно реализует io.Closer
func (s *MediaInputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if c, ok := s.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MediaOutputStream поток на устройство воспроизведения
type MediaOutputStream struct {
	sink MediaSink

	mu     sync.Mutex
	opened bool
	closed bool
}

// NewMediaOutputStream оборачивает приемник
func NewMediaOutputStream(sink MediaSink) *MediaOutputStream {
	return &MediaOutputStream{sink: sink}
}

// Open открывает устройство, если оно это поддерживает
func (s *MediaOutputStream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return ErrAlreadyOpen
	}
	if o, ok := s.sink.(Opener); ok {
		if err := o.Open(); err != nil {
			return err
		}
	}
	s.opened = true
	return nil
}

// Write передает буфер устройству. Отброшенные буферы пропускаются.
func (s *MediaOutputStream) Write(buf *codec.Buffer) error {
	if buf == nil || buf.Discard {
		return nil
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.sink.Write(buf)
}

// Close закрывает устройство, если оно реализует io.Closer
func (s *MediaOutputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if c, ok := s.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
