package entity

import (
	"time"
)

// Prophecy представляет пророчество — предсказание пользователя,
// которое другие игроки оценивают в течение раунда
type Prophecy struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Title       string `gorm:"size:255;not null" json:"title"`
	Description string `gorm:"type:text;not null;default:''" json:"description"`
	CreatorID   uint   `gorm:"not null;index" json:"creator_id"`
	RoundID     uint   `gorm:"not null;index" json:"round_id"`

	// Fulfilled — трёхзначное состояние: nil (не разрешено), true (сбылось), false (не сбылось)
	Fulfilled  *bool      `gorm:"type:boolean" json:"fulfilled"`
	ResolvedAt *time.Time `gorm:"type:timestamp" json:"resolved_at,omitempty"`

	// Производные агрегаты. AverageRating равен nil, пока нет ни одной учитываемой оценки.
	// Пересчитываются Aggregation Engine полным перечитыванием оценок, не инкрементально.
	AverageRating *float64 `gorm:"type:numeric(5,2)" json:"average_rating"`
	RatingCount   int      `gorm:"not null;default:0" json:"rating_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Prophecy) TableName() string {
	return "prophecies"
}

// IsResolved проверяет, разрешено ли пророчество (fulfilled выставлен админом)
func (p *Prophecy) IsResolved() bool {
	return p.Fulfilled != nil
}

// IsAccurate проверяет, сбылось ли пророчество
func (p *Prophecy) IsAccurate() bool {
	return p.Fulfilled != nil && *p.Fulfilled
}

// IsOwnedBy проверяет, принадлежит ли пророчество пользователю
func (p *Prophecy) IsOwnedBy(userID uint) bool {
	return p.CreatorID == userID
}
