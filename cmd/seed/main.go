package main

import (
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/prophecy-api/internal/config"
	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/pkg/database"
)

// Утилита для локальной разработки: применяет миграции и наполняет базу
// демо-данными (каталог бейджей, пользователи, открытый раунд).
// Повторный запуск безопасен - все вставки идут через ON CONFLICT DO NOTHING.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}

	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Fatalf("Не удалось подключиться к базе данных: %v", err)
	}

	if err := database.MigrateDB(db); err != nil {
		log.Fatalf("Не удалось применить миграции: %v", err)
	}

	seedBadges(db)
	users := seedUsers(db)
	round := seedRound(db)
	seedProphecies(db, users, round)

	log.Println("Демо-данные загружены")
}

func seedBadges(db *gorm.DB) {
	badges := entity.DefaultBadges
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&badges).Error
	if err != nil {
		log.Fatalf("Не удалось залить каталог бейджей: %v", err)
	}
	log.Printf("Каталог бейджей: %d записей", len(badges))
}

func seedUsers(db *gorm.DB) []entity.User {
	users := []entity.User{
		{Username: "admin", Email: "admin@example.com", Password: "admin12345", Role: entity.RoleAdmin},
		{Username: "cassandra", Email: "cassandra@example.com", Password: "password123", Role: entity.RoleUser},
		{Username: "nostradamus", Email: "nostradamus@example.com", Password: "password123", Role: entity.RoleUser},
	}

	for i := range users {
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoNothing: true,
		}).Create(&users[i]).Error
		if err != nil {
			log.Fatalf("Не удалось создать пользователя %s: %v", users[i].Email, err)
		}
		// При конфликте ID не заполняется - перечитываем существующую строку
		if users[i].ID == 0 {
			if err := db.Where("email = ?", users[i].Email).First(&users[i]).Error; err != nil {
				log.Fatalf("Не удалось прочитать пользователя %s: %v", users[i].Email, err)
			}
		}
	}

	log.Printf("Пользователи: admin@example.com / admin12345, демо-аккаунты с паролем password123")
	return users
}

func seedRound(db *gorm.DB) *entity.Round {
	var existing entity.Round
	err := db.Where("submission_deadline > ?", time.Now()).First(&existing).Error
	if err == nil {
		log.Printf("Открытый раунд уже есть: #%d %q", existing.ID, existing.Title)
		return &existing
	}

	now := time.Now()
	round := entity.Round{
		Title:              "Демо-раунд: предсказания на месяц",
		SubmissionDeadline: now.Add(72 * time.Hour),
		RatingDeadline:     now.Add(168 * time.Hour),
		FulfillmentDate:    now.Add(720 * time.Hour),
	}
	if err := db.Create(&round).Error; err != nil {
		log.Fatalf("Не удалось создать демо-раунд: %v", err)
	}

	log.Printf("Создан раунд #%d, подача до %s", round.ID, round.SubmissionDeadline.Format(time.RFC3339))
	return &round
}

func seedProphecies(db *gorm.DB, users []entity.User, round *entity.Round) {
	if len(users) < 3 {
		return
	}

	prophecies := []entity.Prophecy{
		{
			RoundID:     round.ID,
			CreatorID:   users[1].ID,
			Title:       "Снег выпадет до конца месяца",
			Description: "К последнему дню месяца в городе будет лежать снег.",
		},
		{
			RoundID:     round.ID,
			CreatorID:   users[2].ID,
			Title:       "Команда выиграет домашний матч",
			Description: "Местная команда возьмёт три очка в ближайшей домашней игре.",
		},
	}

	for i := range prophecies {
		var count int64
		db.Model(&entity.Prophecy{}).
			Where("round_id = ? AND creator_id = ? AND title = ?", round.ID, prophecies[i].CreatorID, prophecies[i].Title).
			Count(&count)
		if count > 0 {
			continue
		}
		if err := db.Create(&prophecies[i]).Error; err != nil {
			log.Fatalf("Не удалось создать демо-пророчество: %v", err)
		}
	}

	log.Printf("Демо-пророчества готовы (раунд #%d)", round.ID)
}
