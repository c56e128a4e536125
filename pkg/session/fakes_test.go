package session

import (
	"errors"
	"io"
	"sync"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/stream"
)

// fakeNetworkInput входящий поток с заранее заданными буферами.
// nil в очереди означает конец потока.
type fakeNetworkInput struct {
	mu        sync.Mutex
	calls     []string
	extID     uint8
	queue     []*codec.Buffer
	listeners []stream.Listener
	closes    int
	openErr   error
	blocking  bool
	closed    chan struct{}
	cfg       stream.RTPInputConfig
}

func newFakeNetworkInput(buffers ...*codec.Buffer) *fakeNetworkInput {
	return &fakeNetworkInput{queue: buffers, closed: make(chan struct{})}
}

func (f *fakeNetworkInput) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeNetworkInput) SetExtensionHeaderID(id uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extID = id
	f.calls = append(f.calls, "set_extension_header_id")
}

func (f *fakeNetworkInput) AddStreamListener(l stream.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *fakeNetworkInput) SessionContext() *stream.SessionContext { return nil }

func (f *fakeNetworkInput) Open() error {
	f.record("open")
	return f.openErr
}

func (f *fakeNetworkInput) Read() (*codec.Buffer, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		buf := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return buf, nil
	}
	blocking := f.blocking
	f.mu.Unlock()

	if blocking {
		<-f.closed
		return nil, io.EOF
	}
	return nil, nil
}

func (f *fakeNetworkInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.closes == 1 {
		close(f.closed)
	}
	f.calls = append(f.calls, "close")
	return nil
}

func (f *fakeNetworkInput) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeNetworkInput) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeNetworkOutput struct {
	mu      sync.Mutex
	written []*codec.Buffer
	closes  int
	openErr error
	cfg     stream.RTPOutputConfig
}

func (f *fakeNetworkOutput) AddStreamListener(stream.Listener) {}

func (f *fakeNetworkOutput) Open() error { return f.openErr }

func (f *fakeNetworkOutput) Write(buf *codec.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closes > 0 {
		return stream.ErrClosed
	}
	f.written = append(f.written, buf)
	return nil
}

func (f *fakeNetworkOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeNetworkOutput) buffers() []*codec.Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*codec.Buffer(nil), f.written...)
}

func (f *fakeNetworkOutput) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeNetwork отдает заранее созданные фейковые потоки
type fakeNetwork struct {
	input  *fakeNetworkInput
	output *fakeNetworkOutput

	mu      sync.Mutex
	created int
}

func (n *fakeNetwork) NewInputStream(cfg stream.RTPInputConfig) stream.NetworkInputStream {
	n.mu.Lock()
	n.created++
	n.mu.Unlock()
	n.input.cfg = cfg
	return n.input
}

func (n *fakeNetwork) NewOutputStream(cfg stream.RTPOutputConfig) stream.NetworkOutputStream {
	n.mu.Lock()
	n.created++
	n.mu.Unlock()
	n.output.cfg = cfg
	return n.output
}

// recordSink устройство воспроизведения, запоминающее буферы
type recordSink struct {
	mu      sync.Mutex
	written []*codec.Buffer
	closes  int
	openErr error
}

func (s *recordSink) Open() error { return s.openErr }

func (s *recordSink) Write(buf *codec.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, buf)
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordSink) buffers() []*codec.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*codec.Buffer(nil), s.written...)
}

// frameSource устройство захвата: отдает кадры, затем блокируется до Close
type frameSource struct {
	frames  []*codec.Buffer
	closed  chan struct{}
	once    sync.Once
	openErr error
}

func newFrameSource(frames ...*codec.Buffer) *frameSource {
	return &frameSource{frames: frames, closed: make(chan struct{})}
}

func (s *frameSource) Open() error { return s.openErr }

func (s *frameSource) Read() (*codec.Buffer, error) {
	if len(s.frames) > 0 {
		buf := s.frames[0]
		s.frames = s.frames[1:]
		return buf, nil
	}
	<-s.closed
	return nil, io.EOF
}

func (s *frameSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

var errDeviceBusy = errors.New("device busy")

// blockingSource устройство захвата только с Read: блокируется до release
type blockingSource struct {
	release chan struct{}
	reading chan struct{}
	once    sync.Once
}

func newBlockingSource() *blockingSource {
	return &blockingSource{release: make(chan struct{}), reading: make(chan struct{})}
}

func (s *blockingSource) Read() (*codec.Buffer, error) {
	s.once.Do(func() { close(s.reading) })
	<-s.release
	return nil, io.EOF
}
