package codec

import (
	"fmt"
	"strings"
)

// maxInputReuse ограничивает число повторных вызовов стадии с тем же входом
// при InputBufferNotConsumed
const maxInputReuse = 256

// Sink терминальный приемник цепочки (выходной поток)
type Sink interface {
	Write(buf *Buffer) error
}

// SinkFunc адаптер функции к Sink
type SinkFunc func(buf *Buffer) error

func (f SinkFunc) Write(buf *Buffer) error { return f(buf) }

// Chain упорядоченная цепочка стадий с терминальным приемником.
// Не потокобезопасна: вызывается только из рабочей горутины процессора.
type Chain struct {
	stages []Codec
	sink   Sink
}

// NewChain создает цепочку. Пустой набор стадий допустим: буферы передаются
// в приемник без изменений.
func NewChain(sink Sink, stages ...Codec) *Chain {
	return &Chain{
		stages: append([]Codec(nil), stages...),
		sink:   sink,
	}
}

// Len возвращает количество стадий
func (c *Chain) Len() int {
	return len(c.stages)
}

// Names возвращает имена стадий по порядку
func (c *Chain) Names() []string {
	return Names(c.stages)
}

func (c *Chain) String() string {
	return "[" + strings.Join(c.Names(), " -> ") + "]"
}

// Process пропускает буфер через все стадии и записывает результат в приемник.
// Ошибка возвращается только при сбое записи в приемник.
func (c *Chain) Process(buf *Buffer) (Result, error) {
	return c.process(0, buf)
}

func (c *Chain) process(stage int, in *Buffer) (Result, error) {
	if stage == len(c.stages) {
		if err := c.sink.Write(in); err != nil {
			return BufferProcessedFailed, err
		}
		return BufferProcessedOK, nil
	}

	codec := c.stages[stage]
	for i := 0; i < maxInputReuse; i++ {
		out := &Buffer{}
		result := codec.Process(in, out)

		switch result {
		case BufferProcessedOK, InputBufferNotConsumed:
			if r, err := c.forward(stage, out); err != nil || !r.Continue() {
				return r, err
			}
			if result == BufferProcessedOK {
				return BufferProcessedOK, nil
			}
		case OutputBufferNotFilled:
			return OutputBufferNotFilled, nil
		default:
			return result, nil
		}
	}

	return BufferProcessedFailed, &ChainError{
		Stage:  codec.Name(),
		Result: BufferProcessedFailed,
		Reason: fmt.Sprintf("вход не поглощен за %d вызовов", maxInputReuse),
	}
}

// forward передает выход стадии следующей стадии (фрагменты - по одному)
func (c *Chain) forward(stage int, out *Buffer) (Result, error) {
	if len(out.Fragments) > 0 {
		for _, fragment := range out.Fragments {
			if fragment == nil || fragment.Discard {
				continue
			}
			r, err := c.process(stage+1, fragment)
			if err != nil || !r.Continue() {
				return r, err
			}
		}
		return BufferProcessedOK, nil
	}

	if out.Discard {
		return OutputBufferNotFilled, nil
	}
	return c.process(stage+1, out)
}

// ChainError описывает сбой внутри цепочки
type ChainError struct {
	Stage  string
	Result Result
	Reason string
}

func (e *ChainError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("стадия %s: %s (%s)", e.Stage, e.Reason, e.Result)
	}
	return fmt.Sprintf("стадия %s вернула %s", e.Stage, e.Result)
}

// Names возвращает имена стадий
func Names(stages []Codec) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return names
}
