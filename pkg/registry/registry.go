// Package registry хранит таблицу поддерживаемых кодировок и строит цепочки
// кодеков для отправки и приема.
//
// Реестр создается один раз при старте процесса и передается в сессии по
// указателю. После создания таблица не изменяется, поэтому поиск безопасен
// из любого количества горутин без блокировок.
package registry

import (
	"errors"
	"sort"
	"strings"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/codec/g711"
	"github.com/arzzra/rcs_media/pkg/codec/h264"
	"github.com/arzzra/rcs_media/pkg/codec/opus"
)

// ErrUnknownEncoding кодировка не зарегистрирована
var ErrUnknownEncoding = errors.New("кодировка не поддерживается")

// Factory создает новые экземпляры стадий цепочки
type Factory func() []codec.Codec

// Entry описывает зарегистрированную кодировку
type Entry struct {
	Format codec.Format

	// Encoding стадии отправки (raw -> wire), nil если кодирование нативное
	Encoding Factory
	// Decoding стадии приема (wire -> raw), nil если декодирование нативное
	Decoding Factory
}

// Registry неизменяемая таблица кодировок
type Registry struct {
	entries map[string]Entry
}

// New создает реестр из списка записей. При совпадении имени кодека
// побеждает последняя запись.
func New(entries ...Entry) *Registry {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		r.entries[key(e.Format.Encoding)] = e
	}
	return r
}

// Default возвращает реестр со стандартным набором кодеков
func Default() *Registry {
	return New(
		Entry{
			Format: codec.NewVideoFormat("H264", 96, 90000),
			Encoding: func() []codec.Codec {
				return []codec.Codec{h264.NewPacketizer(h264.DefaultMTU)}
			},
			Decoding: func() []codec.Codec {
				return []codec.Codec{h264.NewDepacketizer()}
			},
		},
		Entry{
			Format: codec.NewAudioFormat("PCMU", 0, 8000, 1),
			Encoding: func() []codec.Codec {
				return []codec.Codec{g711.NewEncoder(g711.ULaw)}
			},
			Decoding: func() []codec.Codec {
				return []codec.Codec{g711.NewDecoder(g711.ULaw)}
			},
		},
		Entry{
			Format: codec.NewAudioFormat("PCMA", 8, 8000, 1),
			Encoding: func() []codec.Codec {
				return []codec.Codec{g711.NewEncoder(g711.ALaw)}
			},
			Decoding: func() []codec.Codec {
				return []codec.Codec{g711.NewDecoder(g711.ALaw)}
			},
		},
		Entry{
			// Кодирование выполняет нативный кодек устройства
			Format: codec.NewAudioFormat("OPUS", 111, 48000, 2),
			Decoding: func() []codec.Codec {
				return []codec.Codec{opus.NewDecoder()}
			},
		},
		Entry{
			Format: codec.NewAudioFormat("AMR-WB", 97, 16000, 1),
		},
	)
}

// IsSupported проверяет, зарегистрирована ли кодировка.
// Принимает "video/H264" и "H264" без учета регистра.
func (r *Registry) IsSupported(encoding string) bool {
	_, ok := r.entries[key(encoding)]
	return ok
}

// FormatFor возвращает канонический формат для кодировки
func (r *Registry) FormatFor(encoding string) (codec.Format, bool) {
	e, ok := r.entries[key(encoding)]
	if !ok {
		return codec.Format{}, false
	}
	return e.Format, true
}

// VideoFormats возвращает видео форматы, упорядоченные по payload type
func (r *Registry) VideoFormats() []codec.Format {
	return r.formats(codec.KindVideo)
}

// AudioFormats возвращает аудио форматы, упорядоченные по payload type
func (r *Registry) AudioFormats() []codec.Format {
	return r.formats(codec.KindAudio)
}

// EncodingChain возвращает стадии отправки. Для неизвестной или нативно
// обрабатываемой кодировки результат пустой.
func (r *Registry) EncodingChain(encoding string) []codec.Codec {
	e, ok := r.entries[key(encoding)]
	if !ok {
		return nil
	}
	return build(e.Encoding)
}

// DecodingChain возвращает стадии приема
func (r *Registry) DecodingChain(encoding string) []codec.Codec {
	e, ok := r.entries[key(encoding)]
	if !ok {
		return nil
	}
	return build(e.Decoding)
}

func (r *Registry) formats(kind codec.Kind) []codec.Format {
	var out []codec.Format
	for _, e := range r.entries {
		if e.Format.Kind == kind {
			out = append(out, e.Format)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PayloadType != out[j].PayloadType {
			return out[i].PayloadType < out[j].PayloadType
		}
		return out[i].Encoding < out[j].Encoding
	})
	return out
}

func (r *Registry) byPayloadType(pt uint8) (codec.Format, bool) {
	for _, e := range r.entries {
		if e.Format.PayloadType == pt {
			return e.Format, true
		}
	}
	return codec.Format{}, false
}

func build(f Factory) []codec.Codec {
	if f == nil {
		return nil
	}
	return f()
}

func key(encoding string) string {
	return strings.ToUpper(codec.Token(encoding))
}
