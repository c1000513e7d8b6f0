package helper

import (
	"strconv"
)

// PageToLimitOffset преобразует 1-базные параметры страницы в limit/offset
// для репозиториев. Значения вне диапазона приводятся к допустимым.
func PageToLimitOffset(page, pageSize, defaultSize, maxSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultSize
	} else if pageSize > maxSize {
		pageSize = maxSize
	}
	return pageSize, (page - 1) * pageSize
}

// FormatAverage выводит nullable средний рейтинг с двумя знаками.
// NULL означает "нет учитываемых оценок" и отображается прочерком.
func FormatAverage(average *float64) string {
	if average == nil {
		return "—"
	}
	return strconv.FormatFloat(*average, 'f', 2, 64)
}
