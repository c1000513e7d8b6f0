package postgres

import (
	"errors"

	"gorm.io/gorm"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
)

// RoundRepo реализует repository.RoundRepository
type RoundRepo struct {
	db *gorm.DB
}

// NewRoundRepo создает новый репозиторий раундов
func NewRoundRepo(db *gorm.DB) *RoundRepo {
	return &RoundRepo{db: db}
}

// Create создает новый раунд
func (r *RoundRepo) Create(round *entity.Round) error {
	return r.db.Create(round).Error
}

// GetByID возвращает раунд по ID
func (r *RoundRepo) GetByID(id uint) (*entity.Round, error) {
	var round entity.Round
	err := r.db.First(&round, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &round, nil
}

// List возвращает раунды с пагинацией и общим количеством
func (r *RoundRepo) List(limit, offset int) ([]entity.Round, int64, error) {
	var rounds []entity.Round
	var total int64

	if err := r.db.Model(&entity.Round{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.Limit(limit).Offset(offset).Order("submission_deadline DESC").Find(&rounds).Error
	if err != nil {
		return nil, 0, err
	}

	return rounds, total, nil
}

// Update сохраняет раунд целиком
func (r *RoundRepo) Update(round *entity.Round) error {
	return r.db.Save(round).Error
}
