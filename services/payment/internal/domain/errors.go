package domain

import "errors"

// Ошибки валидации запроса на создание ссылки (HTTP 400).
var (
	// ErrInvalidAmount — сумма должна быть положительной.
	ErrInvalidAmount = errors.New("сумма должна быть больше нуля")

	// ErrInvalidCurrency — код валюты не соответствует ISO 4217 (три латинские буквы).
	ErrInvalidCurrency = errors.New("некорректный код валюты")

	// ErrTextTooLong — описание или заметка длиннее допустимого.
	ErrTextTooLong = errors.New("слишком длинное описание или заметка")

	// ErrInvalidStatus — неизвестный статус заказа.
	ErrInvalidStatus = errors.New("неизвестный статус заказа")
)

// Ошибки операций над заказами.
var (
	// ErrOrderNotFound — заказ не найден.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrLinkNotFound — платёжная ссылка заказа не найдена.
	ErrLinkNotFound = errors.New("платёжная ссылка не найдена")

	// ErrOrderTerminal — заказ уже в финальном статусе, изменение невозможно (HTTP 409).
	ErrOrderTerminal = errors.New("заказ уже в финальном статусе")

	// ErrGatewayUnavailable — платёжный шлюз не ответил или вернул ошибку.
	// Повтор запроса безопасен: локально ничего не сохранено.
	ErrGatewayUnavailable = errors.New("платёжный шлюз недоступен")

	// ErrStaleStatus — статус изменился между чтением и записью (проигран CAS).
	ErrStaleStatus = errors.New("статус заказа изменился параллельно")

	// ErrConcurrentUpdate — CAS проигран несколько раз подряд.
	ErrConcurrentUpdate = errors.New("не удалось применить переход из-за конкурентных изменений")

	// ErrEventNotFound — строка журнала webhook событий не найдена.
	ErrEventNotFound = errors.New("webhook событие не найдено")
)

// IsValidation сообщает, является ли err ошибкой входных данных клиента.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrTextTooLong) ||
		errors.Is(err, ErrInvalidStatus)
}
