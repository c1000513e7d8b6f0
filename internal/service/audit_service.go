package service

import (
	"fmt"
	"log"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
)

// AuditService ведет журнал аудита доменных мутаций.
// Журнал только дописывается; для разрушающих операций pre-image фиксируется
// отдельной записью до разрушающей транзакции, чтобы след пережил само удаление.
// Ошибки журнала логируются и никогда не возвращаются вызывающей мутации.
type AuditService struct {
	auditRepo repository.AuditLogRepository
}

// NewAuditService создает новый сервис журнала аудита
func NewAuditService(auditRepo repository.AuditLogRepository) *AuditService {
	return &AuditService{auditRepo: auditRepo}
}

// prophecySnapshot собирает снимок изменяемых полей пророчества для журнала
func prophecySnapshot(prophecy *entity.Prophecy) entity.JSONMap {
	return entity.JSONMap{
		"title":       prophecy.Title,
		"description": prophecy.Description,
	}
}

// RecordProphecyCreated дописывает запись CREATE после фиксации вставки
func (s *AuditService) RecordProphecyCreated(prophecy *entity.Prophecy, userID uint) {
	entry := &entity.AuditLogEntry{
		EntityType: entity.AuditEntityProphecy,
		EntityID:   prophecy.ID,
		Action:     entity.AuditActionCreate,
		ProphecyID: &prophecy.ID,
		UserID:     userID,
		NewValue:   prophecySnapshot(prophecy),
		Context:    "создание пророчества",
	}
	s.append(entry)
}

// RecordProphecyUpdated дописывает запись UPDATE со старым и новым снимком
func (s *AuditService) RecordProphecyUpdated(prophecyID, userID uint, oldValue, newValue entity.JSONMap, context string) {
	entry := &entity.AuditLogEntry{
		EntityType: entity.AuditEntityProphecy,
		EntityID:   prophecyID,
		Action:     entity.AuditActionUpdate,
		ProphecyID: &prophecyID,
		UserID:     userID,
		OldValue:   oldValue,
		NewValue:   newValue,
		Context:    context,
	}
	s.append(entry)
}

// RecordProphecyDeletePreImage пишет запись DELETE с pre-image удаляемого пророчества.
// Вызывается строго ДО разрушающей транзакции; запись фиксируется собственной вставкой.
func (s *AuditService) RecordProphecyDeletePreImage(prophecy *entity.Prophecy, userID uint) {
	entry := &entity.AuditLogEntry{
		EntityType: entity.AuditEntityProphecy,
		EntityID:   prophecy.ID,
		Action:     entity.AuditActionDelete,
		ProphecyID: &prophecy.ID,
		UserID:     userID,
		OldValue:   prophecySnapshot(prophecy),
		Context:    "удаление пророчества",
	}
	s.append(entry)
}

// RecordRatingsBulkDeleted сворачивает каскадное удаление оценок пророчества
// в одну запись с количеством вместо построчной детализации
func (s *AuditService) RecordRatingsBulkDeleted(prophecyID, userID uint, count int64, context string) {
	entry := &entity.AuditLogEntry{
		EntityType: entity.AuditEntityRating,
		EntityID:   prophecyID,
		Action:     entity.AuditActionBulkDelete,
		ProphecyID: &prophecyID,
		UserID:     userID,
		OldValue:   entity.JSONMap{"deleted_count": count},
		Context:    fmt.Sprintf("%s (удалено оценок: %d)", context, count),
	}
	s.append(entry)
}

// RecordRatingWritten дописывает запись CREATE либо UPDATE для оценки.
// prior равен nil при первой записи пары (prophecy_id, user_id).
func (s *AuditService) RecordRatingWritten(rating *entity.Rating, prior *entity.Rating, isUpdate bool) {
	entry := &entity.AuditLogEntry{
		EntityType: entity.AuditEntityRating,
		EntityID:   rating.ID,
		Action:     entity.AuditActionCreate,
		ProphecyID: &rating.ProphecyID,
		UserID:     rating.UserID,
		NewValue:   entity.JSONMap{"value": rating.Value},
		Context:    "первая оценка пары",
	}
	if isUpdate {
		entry.Action = entity.AuditActionUpdate
		entry.Context = "повторная оценка пары"
		if prior != nil {
			entry.OldValue = entity.JSONMap{"value": prior.Value}
		}
	}
	s.append(entry)
}

// ProphecyTrail возвращает страницу журнала по пророчеству, новые записи первыми
func (s *AuditService) ProphecyTrail(prophecyID uint, limit, offset int) ([]entity.AuditLogEntry, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.auditRepo.ListByProphecy(prophecyID, limit, offset)
}

// EntityTrail возвращает страницу журнала по типу и ID сущности
func (s *AuditService) EntityTrail(entityType string, entityID uint, limit, offset int) ([]entity.AuditLogEntry, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.auditRepo.ListByEntity(entityType, entityID, limit, offset)
}

func (s *AuditService) append(entry *entity.AuditLogEntry) {
	if err := s.auditRepo.Append(entry); err != nil {
		log.Printf("[AuditService] Не удалось записать %s для %s #%d: %v",
			entry.Action, entry.EntityType, entry.EntityID, err)
	}
}
