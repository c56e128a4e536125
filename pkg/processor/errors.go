package processor

import (
	"fmt"

	"github.com/arzzra/rcs_media/pkg/codec"
)

// ChainProcessingError стадия цепочки вернула результат, после которого
// конвейер не может продолжать работу
type ChainProcessingError struct {
	Chain  string
	Result codec.Result
	Err    error
}

func (e *ChainProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ошибка цепочки %s: %v", e.Chain, e.Err)
	}
	return fmt.Sprintf("ошибка цепочки %s: %s", e.Chain, e.Result)
}

func (e *ChainProcessingError) Unwrap() error {
	return e.Err
}

// FaultError паника внутри чтения или цепочки, перехваченная рабочей горутиной
type FaultError struct {
	Value any
	Stack []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("непредвиденный сбой конвейера: %v", e.Value)
}

// Unwrap возвращает ошибку, если паника была вызвана значением error
func (e *FaultError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
