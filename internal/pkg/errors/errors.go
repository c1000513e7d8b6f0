package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized используется для ошибок авторизации (неверный токен, нет прав).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden используется, когда у пользователя недостаточно прав для действия
	// (чужое пророчество, оценка собственного пророчества, изменение разрешённого пророчества).
	ErrForbidden = errors.New("forbidden")

	// ErrValidation используется для ошибок валидации входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrDeadlinePassed используется, когда действие выполняется после дедлайна раунда
	// (подача пророчества после submission deadline, оценка после rating deadline).
	ErrDeadlinePassed = errors.New("deadline passed")

	// ErrConflict используется для конфликтов состояния, в том числе для нарушения
	// уникальных ограничений хранилища (повторная выдача бейджа).
	ErrConflict = errors.New("resource state conflict")

	// ErrInternal используется для внутренних ошибок хранилища и инфраструктуры.
	ErrInternal = errors.New("internal error")
)
