package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Действия, фиксируемые в журнале аудита
const (
	AuditActionCreate     = "CREATE"
	AuditActionUpdate     = "UPDATE"
	AuditActionDelete     = "DELETE"
	AuditActionBulkDelete = "BULK_DELETE"
)

// Типы сущностей журнала аудита
const (
	AuditEntityProphecy = "prophecy"
	AuditEntityRating   = "rating"
)

// JSONMap - пользовательский тип для работы с JSONB
type JSONMap map[string]interface{}

// Scan реализует интерфейс sql.Scanner для JSONMap
// Используется GORM для чтения JSONB данных из базы
func (m *JSONMap) Scan(value interface{}) error {
	// Обработка NULL значений из базы данных
	if value == nil {
		*m = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*m = nil
		return nil
	}

	return json.Unmarshal(bytes, m)
}

// Value реализует интерфейс driver.Valuer для JSONMap
// Используется GORM для записи JSONMap в JSONB в базе
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// AuditLogEntry представляет одну неизменяемую запись журнала аудита.
// Записи только добавляются: операций обновления или удаления для них нет.
// Для разрушающих операций pre-image пишется до разрушающей записи в хранилище.
type AuditLogEntry struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	EntityType string  `gorm:"size:30;not null;index:idx_audit_entity" json:"entity_type"`
	EntityID   uint    `gorm:"not null;index:idx_audit_entity" json:"entity_id"`
	Action     string  `gorm:"size:20;not null" json:"action"`
	ProphecyID *uint   `gorm:"index" json:"prophecy_id,omitempty"`
	UserID     uint    `gorm:"not null;index" json:"user_id"`
	OldValue   JSONMap `gorm:"type:jsonb" json:"old_value,omitempty"`
	NewValue   JSONMap `gorm:"type:jsonb" json:"new_value,omitempty"`
	// Context — человекочитаемое описание; для BULK_DELETE заменяет построчную детализацию
	Context   string    `gorm:"size:255;not null;default:''" json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (AuditLogEntry) TableName() string {
	return "audit_log"
}
