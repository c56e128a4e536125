package codec

// Buffer фрагмент медиа данных с метаданными RTP.
// nil вместо Buffer означает конец потока.
type Buffer struct {
	Data           []byte
	Timestamp      uint32 // RTP timestamp в единицах ClockRate
	SequenceNumber uint16
	PayloadType    uint8
	Marker         bool
	Format         Format

	// Orientation ориентация видео кадра из расширения CVO, nil если не передавалась
	Orientation *VideoOrientation

	// Discard выставляется стадией, когда выходной буфер не содержит данных
	Discard bool

	// Fragments заполняется стадией, разбившей вход на несколько выходов
	// (пакетизатор). Следующая стадия получает каждый фрагмент отдельно.
	Fragments []*Buffer
}

// Len возвращает размер полезной нагрузки
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// CopyMetadata копирует метаданные RTP из src без данных и фрагментов
func (b *Buffer) CopyMetadata(src *Buffer) {
	b.Timestamp = src.Timestamp
	b.SequenceNumber = src.SequenceNumber
	b.PayloadType = src.PayloadType
	b.Marker = src.Marker
	b.Format = src.Format
	b.Orientation = src.Orientation
}

// Clone создает глубокую копию буфера
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	c := &Buffer{Discard: b.Discard}
	c.CopyMetadata(b)
	if b.Data != nil {
		c.Data = append([]byte(nil), b.Data...)
	}
	if b.Orientation != nil {
		o := *b.Orientation
		c.Orientation = &o
	}
	if len(b.Fragments) > 0 {
		c.Fragments = make([]*Buffer, len(b.Fragments))
		for i, f := range b.Fragments {
			c.Fragments[i] = f.Clone()
		}
	}
	return c
}
