package events

import (
	"github.com/cargoflow/cargoflow/core"
)

// Ошибки контракта событий
var (
	// ErrMalformedEvent конверт не может быть разобран; не повторяется,
	// сразу уходит в dead-letter
	ErrMalformedEvent = core.NewError(core.ErrMalformedEvent, "event envelope cannot be parsed")
	// ErrDelivery публикатор не смог передать событие брокеру;
	// локальная бизнес-операция при этом не откатывается
	ErrDelivery = core.NewError(core.ErrDeliveryFailed, "failed to hand event to broker")
)

// Transient помечает ошибку обработчика как временную: сообщение
// остается неподтвержденным и будет доставлено повторно (с пределом)
func Transient(err error) error {
	return core.Wrap(err, core.ErrHandlerTransient, "transient handler failure")
}

// Permanent помечает ошибку обработчика как постоянную: событие
// не может быть применено никогда, уходит в dead-letter после
// единственной попытки
func Permanent(err error) error {
	return core.Wrap(err, core.ErrHandlerPermanent, "permanent handler failure")
}

// IsMalformed проверяет, является ли ошибка MalformedEventError
func IsMalformed(err error) bool {
	return core.HasCode(err, core.ErrMalformedEvent)
}

// IsTransient проверяет, является ли ошибка временной.
// Неклассифицированные ошибки считаются временными: неизвестный сбой
// безопаснее повторить, чем потерять
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if core.HasCode(err, core.ErrHandlerPermanent) || core.HasCode(err, core.ErrMalformedEvent) {
		return false
	}
	return true
}

// IsPermanent проверяет, является ли ошибка постоянной
func IsPermanent(err error) bool {
	return core.HasCode(err, core.ErrHandlerPermanent)
}
