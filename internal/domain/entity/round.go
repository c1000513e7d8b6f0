package entity

import (
	"time"
)

// Round представляет раунд игры с временными окнами подачи и оценки пророчеств
type Round struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Title              string     `gorm:"size:100;not null" json:"title"`
	SubmissionDeadline time.Time  `gorm:"not null;index" json:"submission_deadline"`
	RatingDeadline     time.Time  `gorm:"not null" json:"rating_deadline"`
	FulfillmentDate    time.Time  `gorm:"not null" json:"fulfillment_date"`
	ResultsPublishedAt *time.Time `gorm:"type:timestamp" json:"results_published_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Round) TableName() string {
	return "rounds"
}

// IsSubmissionOpen проверяет, открыто ли окно подачи пророчеств
func (r *Round) IsSubmissionOpen(now time.Time) bool {
	return !now.After(r.SubmissionDeadline)
}

// IsRatingOpen проверяет, открыто ли окно оценки пророчеств
func (r *Round) IsRatingOpen(now time.Time) bool {
	return !now.After(r.RatingDeadline)
}

// IsResultsPublished проверяет, опубликованы ли результаты раунда
func (r *Round) IsResultsPublished() bool {
	return r.ResultsPublishedAt != nil
}

// HoursUntilSubmissionDeadline возвращает количество часов до дедлайна подачи
func (r *Round) HoursUntilSubmissionDeadline(now time.Time) float64 {
	return r.SubmissionDeadline.Sub(now).Hours()
}

// HoursUntilRatingDeadline возвращает количество часов до дедлайна оценки
func (r *Round) HoursUntilRatingDeadline(now time.Time) float64 {
	return r.RatingDeadline.Sub(now).Hours()
}
