//go:build !linux

package stream

// setSockOptQoS на остальных платформах маркировка не выставляется
func setSockOptQoS(fd int, cfg SocketConfig) error {
	return nil
}
