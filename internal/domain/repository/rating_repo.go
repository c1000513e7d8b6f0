package repository

import (
	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"gorm.io/gorm"
)

// RatingStats представляет агрегаты оценок пророчества, вычисленные
// полным перечитыванием текущих строк. Average равен nil при Count == 0.
type RatingStats struct {
	Average *float64
	Count   int
}

// RatingRepository определяет методы для работы с оценками
type RatingRepository interface {
	GetByProphecyAndRater(prophecyID, raterID uint) (*entity.Rating, error)
	GetByProphecyAndRaterTx(tx *gorm.DB, prophecyID, raterID uint) (*entity.Rating, error)
	// UpsertTx пишет оценку одним INSERT ... ON CONFLICT DO UPDATE по ключу
	// (prophecy_id, user_id); конкурентные записи одной пары сериализуются хранилищем
	UpsertTx(tx *gorm.DB, rating *entity.Rating) error
	// GetStatsTx перечитывает все текущие оценки пророчества одним агрегатным запросом,
	// исключая сентинельное значение 0 и оценки ботов
	GetStatsTx(tx *gorm.DB, prophecyID uint) (*RatingStats, error)
	// DeleteByProphecyTx удаляет все оценки пророчества и возвращает количество удалённых строк
	DeleteByProphecyTx(tx *gorm.DB, prophecyID uint) (int64, error)
	CountByRater(raterID uint) (int64, error)
	ListByProphecy(prophecyID uint) ([]entity.Rating, error)
}
