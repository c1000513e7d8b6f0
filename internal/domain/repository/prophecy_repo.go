package repository

import (
	"time"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"gorm.io/gorm"
)

// LeaderboardEntry представляет строку лидерборда раунда: автор и его точность
type LeaderboardEntry struct {
	UserID        uint     `json:"user_id"`
	Username      string   `json:"username"`
	ProphecyCount int64    `json:"prophecy_count"`
	ResolvedCount int64    `json:"resolved_count"`
	AccurateCount int64    `json:"accurate_count"`
	AvgRating     *float64 `json:"avg_rating"`
}

// ProphecyRepository определяет методы для работы с пророчествами
type ProphecyRepository interface {
	Create(prophecy *entity.Prophecy) error
	GetByID(id uint) (*entity.Prophecy, error)
	Update(prophecy *entity.Prophecy) error
	UpdateTx(tx *gorm.DB, prophecy *entity.Prophecy) error
	// UpdateAggregatesTx сохраняет производные агрегаты на строке пророчества
	UpdateAggregatesTx(tx *gorm.DB, prophecyID uint, average *float64, count int) error
	DeleteTx(tx *gorm.DB, id uint) error
	ListByRound(roundID uint, limit, offset int) ([]entity.Prophecy, int64, error)
	CountByCreator(creatorID uint) (int64, error)
	CountAccurateByCreator(creatorID uint) (int64, error)
	// HasEarlierInRound проверяет по текущим строкам хранилища, существует ли в раунде
	// пророчество, созданное раньше указанного момента
	HasEarlierInRound(roundID uint, createdBefore time.Time, excludeID uint) (bool, error)
	GetRoundLeaderboard(roundID uint, limit int) ([]LeaderboardEntry, error)
}
