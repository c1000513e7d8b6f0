package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
)

// ProphecyRepo реализует repository.ProphecyRepository
type ProphecyRepo struct {
	db *gorm.DB
}

// NewProphecyRepo создает новый репозиторий пророчеств
func NewProphecyRepo(db *gorm.DB) *ProphecyRepo {
	return &ProphecyRepo{db: db}
}

// Create создает новое пророчество
func (r *ProphecyRepo) Create(prophecy *entity.Prophecy) error {
	return r.db.Create(prophecy).Error
}

// GetByID возвращает пророчество по ID
func (r *ProphecyRepo) GetByID(id uint) (*entity.Prophecy, error) {
	var prophecy entity.Prophecy
	err := r.db.First(&prophecy, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &prophecy, nil
}

// Update сохраняет пророчество целиком
func (r *ProphecyRepo) Update(prophecy *entity.Prophecy) error {
	return r.db.Save(prophecy).Error
}

// UpdateTx сохраняет пророчество целиком внутри транзакции
func (r *ProphecyRepo) UpdateTx(tx *gorm.DB, prophecy *entity.Prophecy) error {
	return tx.Save(prophecy).Error
}

// UpdateAggregatesTx точечно сохраняет производные агрегаты на строке пророчества.
// average = nil пишется как NULL (ни одной учитываемой оценки).
func (r *ProphecyRepo) UpdateAggregatesTx(tx *gorm.DB, prophecyID uint, average *float64, count int) error {
	return tx.Model(&entity.Prophecy{}).
		Where("id = ?", prophecyID).
		Updates(map[string]interface{}{
			"average_rating": average,
			"rating_count":   count,
		}).Error
}

// DeleteTx удаляет пророчество внутри транзакции
func (r *ProphecyRepo) DeleteTx(tx *gorm.DB, id uint) error {
	return tx.Delete(&entity.Prophecy{}, id).Error
}

// ListByRound возвращает пророчества раунда с пагинацией и общим количеством
func (r *ProphecyRepo) ListByRound(roundID uint, limit, offset int) ([]entity.Prophecy, int64, error) {
	var prophecies []entity.Prophecy
	var total int64

	query := r.db.Model(&entity.Prophecy{}).Where("round_id = ?", roundID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Limit(limit).Offset(offset).Order("created_at").Find(&prophecies).Error
	if err != nil {
		return nil, 0, err
	}

	return prophecies, total, nil
}

// CountByCreator возвращает количество пророчеств пользователя
func (r *ProphecyRepo) CountByCreator(creatorID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Prophecy{}).Where("creator_id = ?", creatorID).Count(&count).Error
	return count, err
}

// CountAccurateByCreator возвращает количество сбывшихся пророчеств пользователя
func (r *ProphecyRepo) CountAccurateByCreator(creatorID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Prophecy{}).
		Where("creator_id = ? AND fulfilled = TRUE", creatorID).
		Count(&count).Error
	return count, err
}

// HasEarlierInRound проверяет по текущим строкам, существует ли в раунде
// пророчество, созданное раньше указанного момента
func (r *ProphecyRepo) HasEarlierInRound(roundID uint, createdBefore time.Time, excludeID uint) (bool, error) {
	var count int64
	err := r.db.Model(&entity.Prophecy{}).
		Where("round_id = ? AND created_at < ? AND id <> ?", roundID, createdBefore, excludeID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetRoundLeaderboard возвращает авторов раунда, упорядоченных по точности:
// сначала по числу сбывшихся пророчеств, затем по средней оценке
func (r *ProphecyRepo) GetRoundLeaderboard(roundID uint, limit int) ([]repository.LeaderboardEntry, error) {
	var entries []repository.LeaderboardEntry

	err := r.db.Raw(`
		SELECT
			u.id AS user_id,
			u.username AS username,
			COUNT(p.id) AS prophecy_count,
			COUNT(p.id) FILTER (WHERE p.fulfilled IS NOT NULL) AS resolved_count,
			COUNT(p.id) FILTER (WHERE p.fulfilled = TRUE) AS accurate_count,
			AVG(p.average_rating) AS avg_rating
		FROM prophecies p
		JOIN users u ON u.id = p.creator_id
		WHERE p.round_id = ?
		GROUP BY u.id, u.username
		ORDER BY accurate_count DESC, avg_rating DESC NULLS LAST, prophecy_count DESC
		LIMIT ?`,
		roundID, limit).Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("round #%d leaderboard query failed: %w", roundID, err)
	}

	return entries, nil
}
