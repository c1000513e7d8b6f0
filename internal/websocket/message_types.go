package websocket

// Типы доменных событий, рассылаемых подписчикам
const (
	// PROPHECY_CREATED сообщает о создании нового пророчества
	PROPHECY_CREATED = "prophecy:created"

	// PROPHECY_UPDATED сообщает об изменении пророчества или его агрегатов
	PROPHECY_UPDATED = "prophecy:updated"

	// PROPHECY_DELETED сообщает об удалении пророчества
	PROPHECY_DELETED = "prophecy:deleted"

	// RATING_CREATED сообщает о первой оценке пары (пророчество, оценщик)
	RATING_CREATED = "rating:created"

	// RATING_UPDATED сообщает о повторной оценке той же пары
	RATING_UPDATED = "rating:updated"

	// BADGE_AWARDED сообщает о выдаче значка пользователю
	BADGE_AWARDED = "badge:awarded"
)

// Служебные типы сообщений соединения
const (
	// SERVER_HEARTBEAT периодическое подтверждение живости соединения
	SERVER_HEARTBEAT = "server:heartbeat"

	// SERVER_ERROR уведомляет клиента об ошибке обработки его сообщения
	SERVER_ERROR = "server:error"
)
