// Package processor реализует конвейер обработки буферов: одна рабочая
// горутина читает буфер из входного потока, прогоняет его через цепочку
// кодеков и пишет результат в выходной поток.
//
// Жизненный цикл: New (без I/O) -> StartProcessing -> StopProcessing.
// Остановленный процессор повторно не запускается, для новой сессии нужен
// новый процессор и новые потоки.
package processor

import (
	"errors"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/logger"
	"github.com/arzzra/rcs_media/pkg/stream"
)

// State состояние процессора
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason причина остановки
type StopReason int

const (
	StopNone StopReason = iota
	// StopRequested вызван StopProcessing
	StopRequested
	// StopStreamEnded входной поток вернул конец данных
	StopStreamEnded
	// StopChainFailure стадия цепочки вернула ошибку
	StopChainFailure
	// StopTransportError ошибка чтения или записи потока
	StopTransportError
	// StopFault перехвачена паника
	StopFault
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopRequested:
		return "requested"
	case StopStreamEnded:
		return "stream_ended"
	case StopChainFailure:
		return "chain_failure"
	case StopTransportError:
		return "transport_error"
	case StopFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Observer получает уведомления о работе конвейера. Методы вызываются
// из рабочей горутины.
type Observer interface {
	Started()
	BufferProcessed(result codec.Result)
	Stopped(reason StopReason, err error)
}

// Option настройка процессора
type Option func(*Processor)

// WithLogger задает логгер
func WithLogger(l *logrus.Entry) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithObserver задает наблюдателя
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		p.observer = o
	}
}

// Processor конвейер обработки одного направления медиа
type Processor struct {
	input    stream.InputStream
	output   stream.OutputStream
	chain    *codec.Chain
	log      *logrus.Entry
	observer Observer

	stopping  atomic.Bool
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}

	mu     sync.Mutex
	state  State
	reason StopReason
	err    error
}

// New создает процессор. Выходной поток становится терминальным приемником
// цепочки. Пустой набор стадий допустим.
func New(input stream.InputStream, output stream.OutputStream, stages []codec.Codec, opts ...Option) *Processor {
	p := &Processor{
		input:  input,
		output: output,
		chain:  codec.NewChain(output, stages...),
		log:    logger.WithComponent("processor"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StartProcessing запускает рабочую горутину. Повторный вызов и вызов
// после остановки ничего не делают.
func (p *Processor) StartProcessing() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		p.log.WithField("state", p.state).Debug("повторный запуск процессора проигнорирован")
		return
	}
	p.state = StateRunning

	p.log.WithField("chain", p.chain.String()).Debug("процессор запущен")
	if p.observer != nil {
		p.observer.Started()
	}
	go p.run()
}

// StopProcessing выставляет флаг остановки и закрывает выходной, затем
// входной поток. Закрытие входного потока прерывает заблокированное чтение.
// Идемпотентен, безопасен до запуска.
func (p *Processor) StopProcessing() {
	p.shutdown(StopRequested, nil)
}

// Done закрывается, когда рабочая горутина завершилась (или процессор
// остановлен, так и не запустившись)
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// State возвращает текущее состояние
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StopReason возвращает причину остановки, StopNone пока процессор работает
func (p *Processor) StopReason() StopReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Err возвращает ошибку, остановившую процессор. nil для штатной остановки.
func (p *Processor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// shutdown общая процедура остановки для вызывающего и рабочей горутины
func (p *Processor) shutdown(reason StopReason, err error) {
	p.stopping.Store(true)

	p.mu.Lock()
	if p.reason == StopNone {
		p.reason = reason
		p.err = err
	}
	neverStarted := p.state == StateIdle
	p.state = StateStopped
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		if cerr := p.output.Close(); cerr != nil {
			p.log.WithError(cerr).Debug("ошибка закрытия выходного потока")
		}
		if cerr := p.input.Close(); cerr != nil {
			p.log.WithError(cerr).Debug("ошибка закрытия входного потока")
		}
	})

	if neverStarted {
		p.doneOnce.Do(func() { close(p.done) })
	}
}

func (p *Processor) run() {
	var (
		reason StopReason
		err    error
		count  uint64
	)

	for !p.stopping.Load() {
		var cont bool
		cont, reason, err = p.step()
		if !cont {
			break
		}
		count++
	}

	if p.stopping.Load() && reason == StopNone {
		reason = StopRequested
	}
	p.shutdown(reason, err)

	final := p.StopReason()
	finalErr := p.Err()
	fields := logrus.Fields{"reason": final, "buffers": count}
	switch final {
	case StopFault:
		var fault *FaultError
		if errors.As(finalErr, &fault) {
			fields["stack"] = string(fault.Stack)
		}
		p.log.WithFields(fields).WithError(finalErr).Error("процессор остановлен после сбоя")
	case StopChainFailure, StopTransportError:
		p.log.WithFields(fields).WithError(finalErr).Warn("процессор остановлен с ошибкой")
	default:
		p.log.WithFields(fields).Debug("процессор остановлен")
	}

	if p.observer != nil {
		p.observer.Stopped(final, finalErr)
	}
	p.doneOnce.Do(func() { close(p.done) })
}

// step одна итерация рабочего цикла. Паника при чтении или в цепочке
// превращается в FaultError и останавливает цикл.
func (p *Processor) step() (cont bool, reason StopReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			cont = false
			reason = StopFault
			err = &FaultError{Value: r, Stack: debug.Stack()}
		}
	}()

	buf, err := p.input.Read()
	if err != nil || buf == nil {
		switch {
		case p.stopping.Load():
			return false, StopRequested, nil
		case err == nil, errors.Is(err, io.EOF):
			return false, StopStreamEnded, nil
		default:
			return false, StopTransportError, err
		}
	}

	result, err := p.chain.Process(buf)
	if p.observer != nil {
		p.observer.BufferProcessed(result)
	}

	if err != nil {
		var chainErr *codec.ChainError
		switch {
		case errors.As(err, &chainErr):
			return false, StopChainFailure, &ChainProcessingError{Chain: p.chain.String(), Result: result, Err: err}
		case p.stopping.Load():
			return false, StopRequested, nil
		default:
			return false, StopTransportError, err
		}
	}
	if !result.Continue() {
		return false, StopChainFailure, &ChainProcessingError{Chain: p.chain.String(), Result: result}
	}
	return true, StopNone, nil
}
