//go:build linux

package stream

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// setSockOptQoS выставляет DSCP и приоритет сокета (Linux).
// Ошибки отдельных опций объединяются, остальные опции все равно применяются.
func setSockOptQoS(fd int, cfg SocketConfig) error {
	var errs []error
	if cfg.DSCP > 0 {
		// DSCP находится в старших 6 битах поля TOS
		tos := cfg.DSCP << 2
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
			errs = append(errs, fmt.Errorf("IP_TOS (%d): %w", tos, err))
		}
		// для IPv4 сокета IPV6_TCLASS недоступен, это не ошибка
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos); err != nil &&
			!errors.Is(err, unix.ENOPROTOOPT) && !errors.Is(err, unix.EOPNOTSUPP) {
			errs = append(errs, fmt.Errorf("IPV6_TCLASS (%d): %w", tos, err))
		}
	}
	if cfg.Priority > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, cfg.Priority); err != nil {
			errs = append(errs, fmt.Errorf("SO_PRIORITY (%d): %w", cfg.Priority, err))
		}
	}
	return errors.Join(errs...)
}
