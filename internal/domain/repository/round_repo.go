package repository

import (
	"github.com/yourusername/prophecy-api/internal/domain/entity"
)

// RoundRepository определяет методы для работы с раундами
type RoundRepository interface {
	Create(round *entity.Round) error
	GetByID(id uint) (*entity.Round, error)
	List(limit, offset int) ([]entity.Round, int64, error)
	Update(round *entity.Round) error
}
