package entity

import (
	"time"
)

// Границы значения оценки
const (
	RatingMinValue = -10
	RatingMaxValue = 10

	// RatingNotCounted — сентинельное значение "не учитывается в агрегатах".
	// Строка с таким значением хранится, но исключается из averageRating и ratingCount.
	RatingNotCounted = 0
)

// Rating представляет оценку пророчества одним пользователем.
// Пара (prophecy_id, user_id) уникальна; запись пишется как upsert.
type Rating struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ProphecyID uint      `gorm:"not null;uniqueIndex:idx_prophecy_rater" json:"prophecy_id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_prophecy_rater" json:"user_id"`
	Value      int       `gorm:"not null" json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Rating) TableName() string {
	return "ratings"
}

// IsCounted проверяет, учитывается ли оценка в агрегатах
func (r *Rating) IsCounted() bool {
	return r.Value != RatingNotCounted
}

// IsValidRatingValue проверяет, попадает ли значение в допустимый диапазон
func IsValidRatingValue(value int) bool {
	return value >= RatingMinValue && value <= RatingMaxValue
}
