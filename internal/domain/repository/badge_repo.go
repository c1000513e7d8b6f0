package repository

import (
	"github.com/yourusername/prophecy-api/internal/domain/entity"
)

// BadgeRepository определяет методы для работы с каталогом бейджей и выдачей
type BadgeRepository interface {
	GetByKey(key string) (*entity.Badge, error)
	GetByID(id uint) (*entity.Badge, error)
	List() ([]entity.Badge, error)
	// CreateUserBadge вставляет запись о выдаче без предварительной проверки существования.
	// При нарушении уникальности (user_id, badge_id) возвращает apperrors.ErrConflict —
	// это единственный механизм идемпотентности выдачи.
	CreateUserBadge(userBadge *entity.UserBadge) error
	GetUserBadge(userID, badgeID uint) (*entity.UserBadge, error)
	ListUserBadges(userID uint) ([]entity.UserBadge, error)
}
