package postgres

import (
	"gorm.io/gorm"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
)

// AuditRepo реализует repository.AuditRepository.
// Журнал только дописывается: ни Update, ни Delete здесь нет намеренно.
type AuditRepo struct {
	db *gorm.DB
}

// NewAuditRepo создает новый репозиторий журнала аудита
func NewAuditRepo(db *gorm.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append дописывает запись в журнал
func (r *AuditRepo) Append(entry *entity.AuditLogEntry) error {
	return r.db.Create(entry).Error
}

// ListByEntity возвращает страницу записей по конкретной сущности
// и общее количество, новые записи первыми
func (r *AuditRepo) ListByEntity(entityType string, entityID uint, limit, offset int) ([]entity.AuditLogEntry, int64, error) {
	var entries []entity.AuditLogEntry
	var total int64

	query := r.db.Model(&entity.AuditLogEntry{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// ListByProphecy возвращает страницу записей, связанных с пророчеством,
// включая записи о его оценках, и общее количество
func (r *AuditRepo) ListByProphecy(prophecyID uint, limit, offset int) ([]entity.AuditLogEntry, int64, error) {
	var entries []entity.AuditLogEntry
	var total int64

	query := r.db.Model(&entity.AuditLogEntry{}).Where("prophecy_id = ?", prophecyID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
