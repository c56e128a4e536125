package codec

import "fmt"

// Result результат обработки буфера стадией
type Result int

const (
	// BufferProcessedOK выходной буфер заполнен и передается дальше
	BufferProcessedOK Result = 0
	// BufferProcessedFailed стадия не смогла обработать вход
	BufferProcessedFailed Result = 1
	// InputBufferNotConsumed выход заполнен, но вход обработан не полностью:
	// стадия будет вызвана с тем же входом повторно
	InputBufferNotConsumed Result = 2
	// OutputBufferNotFilled вход принят, выхода пока нет (например, фрагмент кадра)
	OutputBufferNotFilled Result = 4
)

func (r Result) String() string {
	switch r {
	case BufferProcessedOK:
		return "processed_ok"
	case BufferProcessedFailed:
		return "processed_failed"
	case InputBufferNotConsumed:
		return "input_not_consumed"
	case OutputBufferNotFilled:
		return "output_not_filled"
	default:
		return fmt.Sprintf("error_%d", int(r))
	}
}

// Continue сообщает, может ли конвейер продолжать работу после этого результата
func (r Result) Continue() bool {
	return r == BufferProcessedOK || r == OutputBufferNotFilled
}

// Codec одна стадия преобразования медиа данных.
//
// Стадия может хранить внутреннее состояние между вызовами (сборка
// фрагментированных NAL), но не знает о жизненном цикле конвейера.
// Экземпляр стадии принадлежит ровно одной цепочке.
type Codec interface {
	// Name возвращает имя стадии для логов и проверок
	Name() string

	// Process преобразует in в out
	Process(in, out *Buffer) Result
}
