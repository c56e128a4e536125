// Package codec описывает модель медиа формата и цепочки кодеков движка.
//
// Format идентифицирует согласованную в SDP кодировку, Buffer переносит
// полезную нагрузку между стадиями, Codec - одна стадия преобразования
// (пакетизатор, депакетизатор, кодер), Chain - упорядоченный набор стадий
// с терминальным приемником.
package codec

import (
	"fmt"
	"strings"
)

// Kind определяет тип медиа
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Format описывает согласованную кодировку медиа потока.
// После согласования значение не изменяется.
type Format struct {
	Kind        Kind
	Encoding    string // Например "video/H264" или "AMR-WB"
	PayloadType uint8  // RTP payload type
	ClockRate   uint32 // Частота RTP часов (Hz)
	Channels    int    // Количество каналов, 0 для видео
}

// NewAudioFormat создает аудио формат
func NewAudioFormat(name string, payloadType uint8, clockRate uint32, channels int) Format {
	if channels == 0 {
		channels = 1
	}
	return Format{
		Kind:        KindAudio,
		Encoding:    "audio/" + Token(name),
		PayloadType: payloadType,
		ClockRate:   clockRate,
		Channels:    channels,
	}
}

// NewVideoFormat создает видео формат
func NewVideoFormat(name string, payloadType uint8, clockRate uint32) Format {
	return Format{
		Kind:        KindVideo,
		Encoding:    "video/" + Token(name),
		PayloadType: payloadType,
		ClockRate:   clockRate,
	}
}

// Codec возвращает имя кодека без префикса типа медиа
func (f Format) Codec() string {
	return Token(f.Encoding)
}

// IsZero проверяет, задан ли формат
func (f Format) IsZero() bool {
	return f.Encoding == ""
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%d pt=%d", f.Encoding, f.ClockRate, f.PayloadType)
}

// Token возвращает имя кодека: подстроку после последнего '/'.
// Для "video/H264" это "H264", для "H264" - сама строка.
func Token(encoding string) string {
	encoding = strings.TrimSpace(encoding)
	if i := strings.LastIndexByte(encoding, '/'); i >= 0 {
		return encoding[i+1:]
	}
	return encoding
}
