package postgres

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
)

// RatingRepo реализует repository.RatingRepository
type RatingRepo struct {
	db *gorm.DB
}

// NewRatingRepo создает новый репозиторий оценок
func NewRatingRepo(db *gorm.DB) *RatingRepo {
	return &RatingRepo{db: db}
}

// GetByProphecyAndRater возвращает оценку по паре (prophecy_id, user_id)
func (r *RatingRepo) GetByProphecyAndRater(prophecyID, raterID uint) (*entity.Rating, error) {
	return r.GetByProphecyAndRaterTx(r.db, prophecyID, raterID)
}

// GetByProphecyAndRaterTx возвращает оценку по паре (prophecy_id, user_id) внутри транзакции
func (r *RatingRepo) GetByProphecyAndRaterTx(tx *gorm.DB, prophecyID, raterID uint) (*entity.Rating, error) {
	var rating entity.Rating
	err := tx.Where("prophecy_id = ? AND user_id = ?", prophecyID, raterID).First(&rating).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &rating, nil
}

// UpsertTx пишет оценку одним INSERT ... ON CONFLICT (prophecy_id, user_id) DO UPDATE.
// Конкурентные записи одной пары сериализуются уникальным индексом на стороне хранилища.
func (r *RatingRepo) UpsertTx(tx *gorm.DB, rating *entity.Rating) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "prophecy_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(rating).Error
	if err != nil {
		return fmt.Errorf("upsert rating for prophecy #%d failed: %w", rating.ProphecyID, err)
	}
	return nil
}

// GetStatsTx перечитывает все текущие оценки пророчества одним агрегатным запросом.
// Сентинельное значение 0 и оценки ботов исключаются самим запросом;
// AVG по пустому набору даёт NULL, что соответствует average_rating = nil.
func (r *RatingRepo) GetStatsTx(tx *gorm.DB, prophecyID uint) (*repository.RatingStats, error) {
	var row struct {
		Average *float64
		Count   int
	}

	err := tx.Raw(`
		SELECT AVG(r.value) AS average, COUNT(*) AS count
		FROM ratings r
		JOIN users u ON u.id = r.user_id
		WHERE r.prophecy_id = ? AND r.value <> 0 AND u.is_bot = FALSE`,
		prophecyID).Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("recompute rating stats for prophecy #%d failed: %w", prophecyID, err)
	}

	return &repository.RatingStats{Average: row.Average, Count: row.Count}, nil
}

// DeleteByProphecyTx удаляет все оценки пророчества и возвращает количество удалённых строк
func (r *RatingRepo) DeleteByProphecyTx(tx *gorm.DB, prophecyID uint) (int64, error) {
	result := tx.Where("prophecy_id = ?", prophecyID).Delete(&entity.Rating{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CountByRater возвращает количество оценок, поставленных пользователем
func (r *RatingRepo) CountByRater(raterID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Rating{}).Where("user_id = ?", raterID).Count(&count).Error
	return count, err
}

// ListByProphecy возвращает все оценки пророчества
func (r *RatingRepo) ListByProphecy(prophecyID uint) ([]entity.Rating, error) {
	var ratings []entity.Rating
	err := r.db.Where("prophecy_id = ?", prophecyID).Order("created_at").Find(&ratings).Error
	return ratings, err
}

// isUniqueViolation проверяет Postgres unique violation (23505) для pgconn и lib/pq драйверов
func isUniqueViolation(err error) bool {
	// pgx/v5 driver (pgconn.PgError)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// lib/pq driver
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
