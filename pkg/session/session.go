// Package session связывает согласованный на уровне SIP/SDP адрес, порт и
// формат с конвейером обработки: открывает сетевой поток и поток устройства,
// берет цепочку кодеков из реестра и управляет процессором.
//
// Сессия однонаправленная (прием или отправка) и одноразовая:
// idle -> prepared -> started -> stopped. Для нового адреса нужна новая сессия.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/logger"
	"github.com/arzzra/rcs_media/pkg/metrics"
	"github.com/arzzra/rcs_media/pkg/processor"
	"github.com/arzzra/rcs_media/pkg/registry"
	"github.com/arzzra/rcs_media/pkg/stream"
)

// State состояние сессии
type State string

const (
	StateIdle     State = "idle"
	StatePrepared State = "prepared"
	StateStarted  State = "started"
	StateStopped  State = "stopped"
)

const (
	eventPrepare = "prepare"
	eventStart   = "start"
	eventStop    = "stop"
)

// Направления для логов и метрик
const (
	DirectionReceive = "receive"
	DirectionSend    = "send"
	DirectionDummy   = "dummy"
)

// DefaultStopTimeout время ожидания завершения рабочей горутины в StopSession
const DefaultStopTimeout = 2 * time.Second

// Endpoint параметры соединения. Задаются в PrepareSession и не меняются.
type Endpoint struct {
	RemoteAddress     string
	RemotePort        int
	LocalPort         int
	ExtensionHeaderID uint8 // Только видео, 0 - не используется
}

// StateChangeHandler вызывается при смене состояния сессии
type StateChangeHandler func(from, to State)

// TerminationHandler вызывается, когда конвейер остановился сам: входной
// поток завершился, цепочка вернула ошибку или произошел сбой. Уровень
// управления звонком должен считать это отказом сессии.
type TerminationHandler func(sessionID string, reason processor.StopReason, err error)

// NetworkFactory создает сетевые потоки. В тестах подменяется фейками.
type NetworkFactory interface {
	NewInputStream(cfg stream.RTPInputConfig) stream.NetworkInputStream
	NewOutputStream(cfg stream.RTPOutputConfig) stream.NetworkOutputStream
}

// RTPFactory создает RTP потоки поверх UDP
type RTPFactory struct{}

func (RTPFactory) NewInputStream(cfg stream.RTPInputConfig) stream.NetworkInputStream {
	return stream.NewRTPInputStream(cfg)
}

func (RTPFactory) NewOutputStream(cfg stream.RTPOutputConfig) stream.NetworkOutputStream {
	return stream.NewRTPOutputStream(cfg)
}

// Config конфигурация сессии
type Config struct {
	LocalAddress string
	LocalPort    int // Порт приема, 0 - выбрать свободный

	Registry *registry.Registry
	Network  NetworkFactory
	Metrics  *metrics.Collector // nil - метрики не собираются

	// Socket параметры сокета, nil - по типу медиа
	Socket            *stream.SocketConfig
	InactivityTimeout time.Duration
	StopTimeout       time.Duration
	// RTCP отчеты SR/RR с SDES и BYE при остановке
	RTCP stream.RTCPConfig

	OnStateChange StateChangeHandler
	OnTerminated  TerminationHandler

	Logger *logrus.Entry
}

// DefaultConfig возвращает конфигурацию с реестром по умолчанию и RTP/UDP
func DefaultConfig() Config {
	return Config{
		Registry:          registry.Default(),
		Network:           RTPFactory{},
		InactivityTimeout: stream.DefaultInactivityTimeout,
		StopTimeout:       DefaultStopTimeout,
		RTCP:              stream.RTCPConfig{Interval: stream.DefaultRTCPInterval},
	}
}

// ApplyDefaults заполняет незаданные поля
func (c *Config) ApplyDefaults() {
	if c.Registry == nil {
		c.Registry = registry.Default()
	}
	if c.Network == nil {
		c.Network = RTPFactory{}
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.Logger == nil {
		c.Logger = logger.WithComponent("session")
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("некорректный локальный порт %d", c.LocalPort)
	}
	if c.StopTimeout < 0 {
		return errors.New("таймаут остановки не может быть отрицательным")
	}
	if c.Socket != nil {
		return c.Socket.Validate()
	}
	return nil
}

func (c *Config) socket(kind codec.Kind) stream.SocketConfig {
	if c.Socket != nil {
		return *c.Socket
	}
	return stream.DefaultSocketConfig(kind)
}

// session общая часть отправителя и приемника: автомат состояний и процессор
type session struct {
	id        string
	direction string
	cfg       Config
	log       *logrus.Entry
	machine   *fsm.FSM

	mu       sync.Mutex
	endpoint Endpoint
	format   codec.Format
	proc     *processor.Processor

	// afterStop вызывается после остановки процессора (отправитель закрывает сетевой поток)
	afterStop func()
}

func newSession(direction string, cfg Config) *session {
	cfg.ApplyDefaults()

	s := &session{
		id:        uuid.NewString(),
		direction: direction,
		cfg:       cfg,
	}
	s.log = cfg.Logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"direction":  direction,
	})

	s.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventPrepare, Src: []string{string(StateIdle)}, Dst: string(StatePrepared)},
			{Name: eventStart, Src: []string{string(StatePrepared)}, Dst: string(StateStarted)},
			{Name: eventStop, Src: []string{string(StateIdle), string(StatePrepared), string(StateStarted)}, Dst: string(StateStopped)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.handleStateChange(e)
			},
		},
	)
	return s
}

func (s *session) handleStateChange(e *fsm.Event) {
	s.log.WithFields(logrus.Fields{"from": e.Src, "to": e.Dst}).Debug("смена состояния сессии")
	if h := s.cfg.OnStateChange; h != nil {
		h(State(e.Src), State(e.Dst))
	}
}

// ID возвращает идентификатор сессии
func (s *session) ID() string {
	return s.id
}

// State возвращает текущее состояние
func (s *session) State() State {
	return State(s.machine.Current())
}

// Endpoint возвращает параметры соединения
func (s *session) Endpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Format возвращает формат сессии
func (s *session) Format() codec.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Done закрывается, когда конвейер завершил работу. До PrepareSession
// возвращает nil.
func (s *session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	return s.proc.Done()
}

// Err возвращает ошибку, остановившую конвейер
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	return s.proc.Err()
}

// checkPrepare проверяет, что сессию можно подготовить
func (s *session) checkPrepare() error {
	if !s.machine.Can(eventPrepare) {
		return fmt.Errorf("%w: prepare в состоянии %s", ErrInvalidState, s.machine.Current())
	}
	return nil
}

// lookup проверяет поддержку формата и возвращает его канонический вид
// с согласованным payload type
func (s *session) lookup(format codec.Format) (codec.Format, error) {
	canonical, ok := s.cfg.Registry.FormatFor(format.Encoding)
	if !ok {
		return codec.Format{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format.Encoding)
	}
	if format.PayloadType != 0 || canonical.PayloadType == 0 {
		canonical.PayloadType = format.PayloadType
	}
	return canonical, nil
}

// setupFailed оформляет ошибку подготовки
func (s *session) setupFailed(ep Endpoint, err error) error {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetupFailed(s.direction)
	}
	s.log.WithFields(logrus.Fields{
		"remote": fmt.Sprintf("%s:%d", ep.RemoteAddress, ep.RemotePort),
	}).WithError(err).Warn("ошибка подготовки сессии")

	return &SetupError{
		RemoteAddress:       ep.RemoteAddress,
		RemotePort:          ep.RemotePort,
		OrientationHeaderID: ep.ExtensionHeaderID,
		Err:                 err,
	}
}

// prepared сохраняет процессор и переводит сессию в prepared
func (s *session) prepared(ep Endpoint, format codec.Format, input stream.InputStream, output stream.OutputStream, stages []codec.Codec) error {
	opts := []processor.Option{processor.WithLogger(s.log.WithField("component", "processor"))}
	if s.cfg.Metrics != nil {
		opts = append(opts, processor.WithObserver(s.cfg.Metrics.Observer(s.direction)))
	}
	proc := processor.New(input, output, stages, opts...)

	s.mu.Lock()
	s.endpoint = ep
	s.format = format
	s.proc = proc
	s.mu.Unlock()

	if err := s.machine.Event(context.Background(), eventPrepare); err != nil {
		proc.StopProcessing()
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	s.log.WithFields(logrus.Fields{
		"remote": fmt.Sprintf("%s:%d", ep.RemoteAddress, ep.RemotePort),
		"local":  ep.LocalPort,
		"format": format.String(),
		"chain":  codec.Names(stages),
	}).Info("сессия подготовлена")
	return nil
}

// StartSession запускает конвейер. Без PrepareSession и после остановки
// ничего не делает.
func (s *session) StartSession() {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil || !s.machine.Can(eventStart) {
		s.log.WithField("state", s.machine.Current()).Warn("запуск сессии проигнорирован")
		return
	}
	if err := s.machine.Event(context.Background(), eventStart); err != nil {
		s.log.WithError(err).Warn("запуск сессии проигнорирован")
		return
	}

	proc.StartProcessing()
	go s.watch(proc)
}

// watch ждет завершения конвейера и сообщает о самопроизвольной остановке
func (s *session) watch(proc *processor.Processor) {
	<-proc.Done()

	reason, err := proc.StopReason(), proc.Err()
	if reason == processor.StopRequested {
		return
	}

	s.log.WithFields(logrus.Fields{"reason": reason}).WithError(err).Warn("конвейер сессии остановился")

	s.stop()
	if h := s.cfg.OnTerminated; h != nil {
		h(s.id, reason, err)
	}
}

// StopSession останавливает конвейер и закрывает потоки. Повторный вызов безопасен.
func (s *session) StopSession() {
	s.stop()
}

func (s *session) stop() {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if s.machine.Can(eventStop) {
		if err := s.machine.Event(context.Background(), eventStop); err != nil {
			s.log.WithError(err).Debug("ошибка перехода в stopped")
		}
	}

	if proc == nil {
		return
	}
	proc.StopProcessing()

	if s.cfg.StopTimeout > 0 {
		select {
		case <-proc.Done():
		case <-time.After(s.cfg.StopTimeout):
			s.log.WithField("timeout", s.cfg.StopTimeout).Warn("рабочая горутина не завершилась вовремя")
		}
	}

	if s.afterStop != nil {
		s.afterStop()
	}
}

// closeAll закрывает потоки, открытые в неудачной попытке подготовки
func closeAll(closers ...interface{ Close() error }) {
	for _, c := range closers {
		if c != nil {
			_ = c.Close()
		}
	}
}

func portOf(addr net.Addr) int {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.Port
	}
	return 0
}
