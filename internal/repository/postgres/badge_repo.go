package postgres

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
)

// BadgeRepo реализует repository.BadgeRepository
type BadgeRepo struct {
	db *gorm.DB
}

// NewBadgeRepo создает новый репозиторий бейджей
func NewBadgeRepo(db *gorm.DB) *BadgeRepo {
	return &BadgeRepo{db: db}
}

// GetByKey возвращает определение бейджа по ключу
func (r *BadgeRepo) GetByKey(key string) (*entity.Badge, error) {
	var badge entity.Badge
	err := r.db.Where("key = ?", key).First(&badge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &badge, nil
}

// GetByID возвращает определение бейджа по ID
func (r *BadgeRepo) GetByID(id uint) (*entity.Badge, error) {
	var badge entity.Badge
	err := r.db.First(&badge, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &badge, nil
}

// List возвращает весь каталог бейджей
func (r *BadgeRepo) List() ([]entity.Badge, error) {
	var badges []entity.Badge
	err := r.db.Order("id").Find(&badges).Error
	return badges, err
}

// CreateUserBadge вставляет запись о выдаче без предварительной проверки существования.
// Нарушение уникальности (user_id, badge_id) транслируется в apperrors.ErrConflict:
// конкурентные выдачи одной пары разрешает само хранилище, а не проверка перед вставкой.
func (r *BadgeRepo) CreateUserBadge(userBadge *entity.UserBadge) error {
	if err := r.db.Create(userBadge).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: badge #%d already awarded to user #%d",
				apperrors.ErrConflict, userBadge.BadgeID, userBadge.UserID)
		}
		return err
	}
	return nil
}

// GetUserBadge возвращает выданный бейдж по паре (user_id, badge_id)
func (r *BadgeRepo) GetUserBadge(userID, badgeID uint) (*entity.UserBadge, error) {
	var userBadge entity.UserBadge
	err := r.db.Where("user_id = ? AND badge_id = ?", userID, badgeID).First(&userBadge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &userBadge, nil
}

// ListUserBadges возвращает все бейджи пользователя
func (r *BadgeRepo) ListUserBadges(userID uint) ([]entity.UserBadge, error) {
	var userBadges []entity.UserBadge
	err := r.db.Where("user_id = ?", userID).Order("earned_at").Find(&userBadges).Error
	return userBadges, err
}
