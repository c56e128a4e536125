package stream

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/rcs_media/pkg/codec"
)

// DSCP значения для QoS согласно RFC 4594
const (
	DSCPExpeditedForwarding = 46 // EF для интерактивного аудио
	DSCPAssuredForwarding41 = 34 // AF41 для видео
	DSCPBestEffort          = 0
)

const (
	// DefaultSocketBuffer размер буферов сокета по умолчанию
	DefaultSocketBuffer = 64 * 1024
	// voicePriority значение SO_PRIORITY для медиа трафика
	voicePriority = 6
)

// SocketConfig параметры UDP сокета
type SocketConfig struct {
	DSCP          int // 0 - без маркировки
	Priority      int // SO_PRIORITY (только Linux), 0 - не менять
	ReceiveBuffer int
	SendBuffer    int
}

// DefaultSocketConfig возвращает параметры сокета для типа медиа
func DefaultSocketConfig(kind codec.Kind) SocketConfig {
	cfg := SocketConfig{
		DSCP:          DSCPExpeditedForwarding,
		Priority:      voicePriority,
		ReceiveBuffer: DefaultSocketBuffer,
		SendBuffer:    DefaultSocketBuffer,
	}
	if kind == codec.KindVideo {
		cfg.DSCP = DSCPAssuredForwarding41
		cfg.ReceiveBuffer = 4 * DefaultSocketBuffer
	}
	return cfg
}

// Validate проверяет параметры сокета
func (c SocketConfig) Validate() error {
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("DSCP должен быть в диапазоне 0-63: %d", c.DSCP)
	}
	if c.ReceiveBuffer < 0 || c.SendBuffer < 0 {
		return fmt.Errorf("размер буфера сокета не может быть отрицательным")
	}
	return nil
}

// listenUDP открывает UDP сокет и применяет настройки
func listenUDP(address string, port int, cfg SocketConfig, log *logrus.Entry) (*net.UDPConn, error) {
	ip := net.ParseIP(address)
	if address != "" && ip == nil {
		return nil, fmt.Errorf("некорректный локальный адрес %q", address)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP сокета на порту %d: %w", port, err)
	}

	if err := configureSocket(conn, cfg, log); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// configureSocket задает размеры буферов и маркировку QoS. Маркировку
// в контейнерах часто запрещают: такая ошибка пишется в лог, сокет
// остается рабочим.
func configureSocket(conn *net.UDPConn, cfg SocketConfig, log *logrus.Entry) error {
	if cfg.ReceiveBuffer > 0 {
		if err := conn.SetReadBuffer(cfg.ReceiveBuffer); err != nil {
			return fmt.Errorf("SO_RCVBUF (%d): %w", cfg.ReceiveBuffer, err)
		}
	}
	if cfg.SendBuffer > 0 {
		if err := conn.SetWriteBuffer(cfg.SendBuffer); err != nil {
			return fmt.Errorf("SO_SNDBUF (%d): %w", cfg.SendBuffer, err)
		}
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("не удалось получить системный сокет: %w", err)
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = setSockOptQoS(int(fd), cfg)
	})
	if err != nil {
		return fmt.Errorf("ошибка управления сокетом: %w", err)
	}
	if sockErr != nil {
		log.WithError(sockErr).WithFields(logrus.Fields{
			"dscp":     cfg.DSCP,
			"priority": cfg.Priority,
		}).Debug("маркировка QoS не применена")
	}
	return nil
}

// resolveRemote разрешает адрес удаленной стороны. Порт 0 допустим для
// входящего потока, который фильтрует только по IP.
func resolveRemote(address string, port int) (*net.UDPAddr, error) {
	if address == "" {
		return nil, nil
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("некорректный удаленный порт %d", port)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(address, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения удаленного адреса: %w", err)
	}
	return addr, nil
}
