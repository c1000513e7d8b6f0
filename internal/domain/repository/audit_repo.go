package repository

import (
	"github.com/yourusername/prophecy-api/internal/domain/entity"
)

// AuditLogRepository определяет методы для работы с журналом аудита.
// Журнал только пополняется: операций обновления и удаления нет.
type AuditLogRepository interface {
	Append(entry *entity.AuditLogEntry) error
	ListByEntity(entityType string, entityID uint, limit, offset int) ([]entity.AuditLogEntry, int64, error)
	ListByProphecy(prophecyID uint, limit, offset int) ([]entity.AuditLogEntry, int64, error)
}
