package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/codec/h264"
)

const (
	attrRTPMap = "rtpmap"
	attrExtMap = "extmap"
)

// ErrPayloadTypeNotFound payload type отсутствует в медиа описании
var ErrPayloadTypeNotFound = errors.New("payload type не найден в медиа описании")

// MediaDescription строит секцию m= со всеми форматами указанного типа.
// orientationID > 0 добавляет extmap для ориентации видео.
func (r *Registry) MediaDescription(kind codec.Kind, port int, orientationID uint8) *sdp.MediaDescription {
	md := sdp.NewJSEPMediaDescription(kind.String(), []string{})
	md.MediaName = sdp.MediaName{
		Media:   kind.String(),
		Port:    sdp.RangedPort{Value: port},
		Protos:  []string{"RTP", "AVP"},
		Formats: []string{},
	}

	for _, f := range r.formats(kind) {
		var channels uint16
		if f.Kind == codec.KindAudio && f.Channels > 1 {
			channels = uint16(f.Channels)
		}
		fmtp := ""
		if f.Codec() == "H264" {
			fmtp = fmt.Sprintf("packetization-mode=%d", h264.PacketizationMode)
		}
		md = md.WithCodec(f.PayloadType, f.Codec(), f.ClockRate, channels, fmtp)
	}

	if kind == codec.KindVideo && orientationID > 0 {
		md = md.WithValueAttribute(attrExtMap, fmt.Sprintf("%d %s", orientationID, codec.VideoOrientationURI))
	}

	return md.WithPropertyAttribute("sendrecv")
}

// FormatFromSDP возвращает канонический формат для согласованного payload type.
// Payload type берется из SDP, остальные параметры из реестра.
func (r *Registry) FormatFromSDP(md *sdp.MediaDescription, payloadType uint8) (codec.Format, error) {
	if md == nil {
		return codec.Format{}, errors.New("медиа описание не задано")
	}

	for _, attr := range md.Attributes {
		if attr.Key != attrRTPMap {
			continue
		}
		pt, name, ok := parseRTPMap(attr.Value)
		if !ok || pt != payloadType {
			continue
		}
		f, found := r.FormatFor(name)
		if !found {
			return codec.Format{}, fmt.Errorf("кодировка %s: %w", name, ErrUnknownEncoding)
		}
		f.PayloadType = payloadType
		return f, nil
	}

	// Статические payload type могут передаваться без rtpmap
	if payloadType < 96 {
		for _, format := range md.MediaName.Formats {
			if format != strconv.Itoa(int(payloadType)) {
				continue
			}
			if f, found := r.byPayloadType(payloadType); found {
				return f, nil
			}
		}
	}

	return codec.Format{}, fmt.Errorf("pt=%d: %w", payloadType, ErrPayloadTypeNotFound)
}

// OrientationExtensionID возвращает id расширения urn:3gpp:video-orientation
func OrientationExtensionID(md *sdp.MediaDescription) (uint8, bool) {
	if md == nil {
		return 0, false
	}
	for _, attr := range md.Attributes {
		if attr.Key != attrExtMap {
			continue
		}
		fields := strings.Fields(attr.Value)
		if len(fields) < 2 || fields[1] != codec.VideoOrientationURI {
			continue
		}
		// Формат: <id>[/<direction>] <uri>
		idStr, _, _ := strings.Cut(fields[0], "/")
		id, err := strconv.ParseUint(idStr, 10, 8)
		if err != nil || id == 0 || id > 14 {
			return 0, false
		}
		return uint8(id), true
	}
	return 0, false
}

// parseRTPMap разбирает значение "96 H264/90000[/2]"
func parseRTPMap(value string) (uint8, string, bool) {
	ptStr, rest, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return 0, "", false
	}
	pt, err := strconv.ParseUint(ptStr, 10, 8)
	if err != nil {
		return 0, "", false
	}
	name, _, _ := strings.Cut(strings.TrimSpace(rest), "/")
	if name == "" {
		return 0, "", false
	}
	return uint8(pt), name, true
}
