package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
	"github.com/yourusername/prophecy-api/internal/websocket"
)

// RatingService выполняет запись оценок и пересчет агрегатов пророчества.
// Агрегаты всегда пересчитываются полным перечитыванием текущих оценок внутри
// транзакции мутации: сохранённая пара (average_rating, rating_count) — функция
// одного согласованного снимка, инкрементальных счётчиков нет.
type RatingService struct {
	ratingRepo   repository.RatingRepository
	prophecyRepo repository.ProphecyRepository
	roundRepo    repository.RoundRepository
	db           *gorm.DB
	broadcaster  EventBroadcaster
	auditService *AuditService
	badgeService *BadgeService

	// nowFn подменяется в тестах дедлайнов
	nowFn func() time.Time
}

// NewRatingService создает новый сервис оценок
func NewRatingService(
	ratingRepo repository.RatingRepository,
	prophecyRepo repository.ProphecyRepository,
	roundRepo repository.RoundRepository,
	db *gorm.DB,
	broadcaster EventBroadcaster,
	auditService *AuditService,
	badgeService *BadgeService,
) *RatingService {
	return &RatingService{
		ratingRepo:   ratingRepo,
		prophecyRepo: prophecyRepo,
		roundRepo:    roundRepo,
		db:           db,
		broadcaster:  broadcaster,
		auditService: auditService,
		badgeService: badgeService,
		nowFn:        time.Now,
	}
}

// SubmitRating записывает оценку пользователя для пророчества.
// Значение 0 — сентинель "не учитывается": строка сохраняется, но исключается
// из агрегатов. Возвращает записанную оценку и пророчество с обновлёнными агрегатами.
func (s *RatingService) SubmitRating(prophecyID, raterID uint, value int) (*entity.Rating, *entity.Prophecy, error) {
	// -------------------- Предусловия --------------------

	// 1. Значение в допустимом диапазоне
	if !entity.IsValidRatingValue(value) {
		return nil, nil, fmt.Errorf("%w: значение оценки должно быть в диапазоне [%d, %d]",
			apperrors.ErrValidation, entity.RatingMinValue, entity.RatingMaxValue)
	}

	// 2. Пророчество существует
	prophecy, err := s.prophecyRepo.GetByID(prophecyID)
	if err != nil {
		return nil, nil, err
	}

	round, err := s.roundRepo.GetByID(prophecy.RoundID)
	if err != nil {
		return nil, nil, fmt.Errorf("не удалось прочитать раунд #%d: %w", prophecy.RoundID, err)
	}

	// 3. Окно оценки раунда ещё открыто
	if !round.IsRatingOpen(s.nowFn()) {
		return nil, nil, fmt.Errorf("%w: дедлайн оценки раунда #%d прошёл", apperrors.ErrDeadlinePassed, round.ID)
	}

	// 4. Собственное пророчество оценивать нельзя
	if prophecy.IsOwnedBy(raterID) {
		return nil, nil, fmt.Errorf("%w: нельзя оценивать собственное пророчество", apperrors.ErrForbidden)
	}

	// 5. Разрешённое пророчество неизменяемо
	if prophecy.IsResolved() {
		return nil, nil, fmt.Errorf("%w: пророчество уже разрешено", apperrors.ErrForbidden)
	}

	// -------------------- Транзакция --------------------

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			log.Printf("[RatingService] PANIC при записи оценки для пророчества #%d: %v", prophecyID, r)
		}
	}()
	if tx.Error != nil {
		return nil, nil, fmt.Errorf("не удалось открыть транзакцию: %w", tx.Error)
	}

	// Предыдущая оценка пары — pre-image для журнала и признак isUpdate
	var prior *entity.Rating
	existing, err := s.ratingRepo.GetByProphecyAndRaterTx(tx, prophecyID, raterID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		tx.Rollback()
		return nil, nil, fmt.Errorf("не удалось прочитать предыдущую оценку: %w", err)
	}
	isUpdate := existing != nil
	if isUpdate {
		priorCopy := *existing
		prior = &priorCopy
	}

	rating := &entity.Rating{
		ProphecyID: prophecyID,
		UserID:     raterID,
		Value:      value,
	}
	if isUpdate {
		rating.ID = existing.ID
		rating.CreatedAt = existing.CreatedAt
	}
	if err := s.ratingRepo.UpsertTx(tx, rating); err != nil {
		tx.Rollback()
		return nil, nil, fmt.Errorf("не удалось сохранить оценку: %w", err)
	}

	// Полный пересчет по текущим строкам; 0 и боты исключаются самим запросом
	stats, err := s.ratingRepo.GetStatsTx(tx, prophecyID)
	if err != nil {
		tx.Rollback()
		return nil, nil, fmt.Errorf("не удалось пересчитать агрегаты пророчества #%d: %w", prophecyID, err)
	}
	if err := s.prophecyRepo.UpdateAggregatesTx(tx, prophecyID, stats.Average, stats.Count); err != nil {
		tx.Rollback()
		return nil, nil, fmt.Errorf("не удалось сохранить агрегаты пророчества #%d: %w", prophecyID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, nil, fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}

	prophecy.AverageRating = stats.Average
	prophecy.RatingCount = stats.Count

	// -------------------- После фиксации --------------------

	// Сначала prophecy:updated, затем rating:*. Клиент применяет события
	// в порядке получения, поэтому порядок отправки здесь обязателен.
	s.broadcastRatingEvents(prophecy, rating, isUpdate)

	// Побочные эффекты изолированы: их ошибки не доходят до вызывающего
	s.auditService.RecordRatingWritten(rating, prior, isUpdate)
	s.badgeService.OnRatingSubmitted(raterID, round)

	return rating, prophecy, nil
}

// broadcastRatingEvents шлет prophecy:updated и следом rating:created либо rating:updated
func (s *RatingService) broadcastRatingEvents(prophecy *entity.Prophecy, rating *entity.Rating, isUpdate bool) {
	if s.broadcaster == nil {
		return
	}

	if err := s.broadcaster.BroadcastEvent(websocket.PROPHECY_UPDATED, prophecy); err != nil {
		log.Printf("[RatingService] Не удалось разослать prophecy:updated для #%d: %v", prophecy.ID, err)
	}

	eventType := websocket.RATING_CREATED
	if isUpdate {
		eventType = websocket.RATING_UPDATED
	}
	if err := s.broadcaster.BroadcastEvent(eventType, rating); err != nil {
		log.Printf("[RatingService] Не удалось разослать %s для пророчества #%d: %v", eventType, prophecy.ID, err)
	}
}

// ListRatings возвращает все оценки пророчества
func (s *RatingService) ListRatings(prophecyID uint) ([]entity.Rating, error) {
	if _, err := s.prophecyRepo.GetByID(prophecyID); err != nil {
		return nil, err
	}
	return s.ratingRepo.ListByProphecy(prophecyID)
}

// GetOwnRating возвращает оценку пользователя для пророчества, если она есть
func (s *RatingService) GetOwnRating(prophecyID, raterID uint) (*entity.Rating, error) {
	return s.ratingRepo.GetByProphecyAndRater(prophecyID, raterID)
}
