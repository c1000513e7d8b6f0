package entity

import (
	"time"
)

// Категории бейджей
const (
	BadgeCategoryActivity = "activity"
	BadgeCategoryAccuracy = "accuracy"
	BadgeCategoryTime     = "time"
	BadgeCategorySpecial  = "special"
	BadgeCategoryHidden   = "hidden"
)

// Редкость бейджей
const (
	BadgeRarityCommon    = "common"
	BadgeRarityRare      = "rare"
	BadgeRarityEpic      = "epic"
	BadgeRarityLegendary = "legendary"
)

// Ключи контекстных бейджей. Выдаются предикатами Badge Rule Engine
// в момент конкретного действия, а не по порогу.
const (
	BadgeKeyLastMinute    = "time_last_minute"
	BadgeKeyEarlyBird     = "time_early_bird"
	BadgeKeyClutchRater   = "time_clutch_rater"
	BadgeKeyNovelist      = "special_novelist"
	BadgeKeyPerfectionist = "special_perfectionist"
	BadgeKeyRegret        = "special_regret"
	BadgeKeyNightOwl      = "hidden_night_owl"
)

// Ключи пороговых бейджей. Порог сравнивается со счётчиком,
// вычисленным по текущим строкам хранилища.
const (
	BadgeKeyFirstProphecy   = "activity_first_prophecy"
	BadgeKeyProlificProphet = "activity_prolific_prophet"
	BadgeKeyFirstRating     = "activity_first_rating"
	BadgeKeyAvidCritic      = "activity_avid_critic"
	BadgeKeyTrueSeer        = "accuracy_true_seer"
)

// Badge представляет определение бейджа из статического каталога.
// Каталог заливается миграцией и для движка доступен только на чтение.
type Badge struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Key         string    `gorm:"size:50;not null;uniqueIndex" json:"key"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Description string    `gorm:"size:255;not null;default:''" json:"description"`
	Category    string    `gorm:"size:20;not null" json:"category"`
	Rarity      string    `gorm:"size:20;not null;default:'common'" json:"rarity"`
	Threshold   int       `gorm:"not null;default:0" json:"threshold"` // 0 для контекстных бейджей
	CreatedAt   time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (Badge) TableName() string {
	return "badges"
}

// IsThresholdBadge проверяет, является ли бейдж пороговым
func (b *Badge) IsThresholdBadge() bool {
	return b.Threshold > 0
}

// UserBadge представляет выданный пользователю бейдж.
// Пара (user_id, badge_id) уникальна; строки никогда не обновляются и не удаляются —
// это ограничение уникальности и есть единственная гарантия идемпотентности выдачи.
type UserBadge struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	UserID   uint      `gorm:"not null;uniqueIndex:idx_user_badge" json:"user_id"`
	BadgeID  uint      `gorm:"not null;uniqueIndex:idx_user_badge" json:"badge_id"`
	EarnedAt time.Time `gorm:"not null" json:"earned_at"`
}

// TableName определяет имя таблицы для GORM
func (UserBadge) TableName() string {
	return "user_badges"
}

// DefaultBadges — статический каталог бейджей, который заливает миграция и cmd/seed
var DefaultBadges = []Badge{
	{Key: BadgeKeyFirstProphecy, Name: "Первое пророчество", Description: "Подано первое пророчество", Category: BadgeCategoryActivity, Rarity: BadgeRarityCommon, Threshold: 1},
	{Key: BadgeKeyProlificProphet, Name: "Плодовитый пророк", Description: "Подано 10 пророчеств", Category: BadgeCategoryActivity, Rarity: BadgeRarityRare, Threshold: 10},
	{Key: BadgeKeyFirstRating, Name: "Первая оценка", Description: "Поставлена первая оценка", Category: BadgeCategoryActivity, Rarity: BadgeRarityCommon, Threshold: 1},
	{Key: BadgeKeyAvidCritic, Name: "Заядлый критик", Description: "Поставлено 50 оценок", Category: BadgeCategoryActivity, Rarity: BadgeRarityEpic, Threshold: 50},
	{Key: BadgeKeyTrueSeer, Name: "Истинный провидец", Description: "5 сбывшихся пророчеств", Category: BadgeCategoryAccuracy, Rarity: BadgeRarityLegendary, Threshold: 5},
	{Key: BadgeKeyLastMinute, Name: "В последнюю минуту", Description: "Пророчество подано менее чем за 24 часа до дедлайна", Category: BadgeCategoryTime, Rarity: BadgeRarityCommon},
	{Key: BadgeKeyEarlyBird, Name: "Ранняя пташка", Description: "Первое пророчество раунда", Category: BadgeCategoryTime, Rarity: BadgeRarityRare},
	{Key: BadgeKeyClutchRater, Name: "Оценка на флажке", Description: "Оценка поставлена менее чем за час до дедлайна", Category: BadgeCategoryTime, Rarity: BadgeRarityRare},
	{Key: BadgeKeyNovelist, Name: "Романист", Description: "Описание пророчества от 500 символов", Category: BadgeCategorySpecial, Rarity: BadgeRarityCommon},
	{Key: BadgeKeyPerfectionist, Name: "Перфекционист", Description: "Пророчество отредактировано после создания", Category: BadgeCategorySpecial, Rarity: BadgeRarityCommon},
	{Key: BadgeKeyRegret, Name: "Сожаление", Description: "Собственное пророчество удалено", Category: BadgeCategorySpecial, Rarity: BadgeRarityRare},
	{Key: BadgeKeyNightOwl, Name: "Ночная сова", Description: "Действие совершено между полуночью и пятью утра", Category: BadgeCategoryHidden, Rarity: BadgeRarityEpic},
}
