//go:build linux

package stream

import (
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/arzzra/rcs_media/pkg/codec"
)

func TestSetSockOptQoSReportsErrors(t *testing.T) {
	err := setSockOptQoS(-1, SocketConfig{DSCP: DSCPExpeditedForwarding, Priority: voicePriority})
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EBADF)
	assert.Contains(t, err.Error(), "IP_TOS")
	assert.Contains(t, err.Error(), "SO_PRIORITY")
}

func TestConfigureSocketMarksTOS(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	conn, err := listenUDP("127.0.0.1", 0, DefaultSocketConfig(codec.KindAudio), logrus.NewEntry(base))
	require.NoError(t, err)
	defer conn.Close()

	raw, err := conn.SyscallConn()
	require.NoError(t, err)

	var tos int
	var getErr error
	require.NoError(t, raw.Control(func(fd uintptr) {
		tos, getErr = unix.GetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS)
	}))
	require.NoError(t, getErr)

	if len(hook.AllEntries()) == 0 {
		assert.Equal(t, DSCPExpeditedForwarding<<2, tos)
	}
	assert.IsType(t, &net.UDPAddr{}, conn.LocalAddr())
}
