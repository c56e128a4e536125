package codec

import "fmt"

// VideoOrientationURI идентификатор расширения RTP заголовка CVO (3GPP TS 26.114)
const VideoOrientationURI = "urn:3gpp:video-orientation"

// Camera определяет камеру-источник кадра
type Camera uint8

const (
	CameraFront Camera = 0
	CameraBack  Camera = 1
)

// Rotation угол поворота кадра, кратный 90 градусам
type Rotation uint8

const (
	RotationNone Rotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// VideoOrientation содержимое байта CVO:
//
//	0 1 2 3 4 5 6 7
//	0 0 0 0 C F R1 R0
type VideoOrientation struct {
	Camera   Camera
	Flip     bool
	Rotation Rotation
}

// ParseVideoOrientation разбирает байт CVO
func ParseVideoOrientation(b byte) VideoOrientation {
	return VideoOrientation{
		Camera:   Camera((b >> 3) & 0x01),
		Flip:     b&0x04 != 0,
		Rotation: Rotation(b & 0x03),
	}
}

// Byte сериализует ориентацию в байт CVO
func (o VideoOrientation) Byte() byte {
	b := byte(o.Camera&0x01)<<3 | byte(o.Rotation&0x03)
	if o.Flip {
		b |= 0x04
	}
	return b
}

// Degrees возвращает угол поворота в градусах
func (o VideoOrientation) Degrees() int {
	return int(o.Rotation&0x03) * 90
}

func (o VideoOrientation) String() string {
	camera := "front"
	if o.Camera == CameraBack {
		camera = "back"
	}
	return fmt.Sprintf("%s/%d/flip=%t", camera, o.Degrees(), o.Flip)
}
