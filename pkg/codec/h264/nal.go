// Package h264 реализует стадии пакетизации и депакетизации H.264 по RFC 6184
// (режим пакетизации 1: single NAL, STAP-A, FU-A).
package h264

// Типы NAL unit, используемые при (де)пакетизации
const (
	NALTypeNonIDR = 1
	NALTypeIDR    = 5
	NALTypeSPS    = 7
	NALTypePPS    = 8
	NALTypeSTAPA  = 24
	NALTypeFUA    = 28

	nalTypeMask      = 0x1F
	nalForbiddenMask = 0x80
	nalRefIdcMask    = 0x60 | nalForbiddenMask

	fuStartBit = 0x80
	fuEndBit   = 0x40

	fuHeaderSize   = 2
	stapALengthLen = 2
)

// PacketizationMode поддерживаемый режим пакетизации (fmtp packetization-mode)
const PacketizationMode = 1

// MaxFragments максимальное число RTP пакетов на один кадр
const MaxFragments = 32

// DefaultMTU максимальный размер RTP payload при фрагментации
const DefaultMTU = 1300

// nalType возвращает тип первого NAL unit. Стартовый код Annex B пропускается.
func nalType(data []byte) int {
	data = stripStartCode(data)
	if len(data) == 0 {
		return 0
	}
	return int(data[0] & nalTypeMask)
}

func stripStartCode(data []byte) []byte {
	switch {
	case len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1:
		return data[4:]
	case len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1:
		return data[3:]
	default:
		return data
	}
}

// tsBefore сравнивает RTP timestamp с учетом переполнения
func tsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
