package service

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
	"github.com/yourusername/prophecy-api/internal/websocket"
)

// ProphecyService управляет жизненным циклом пророчеств: подача, редактирование,
// удаление и разрешение. Каждая мутация после фиксации рассылает событие и
// оставляет след в журнале аудита; для удаления pre-image фиксируется до
// разрушающей транзакции.
type ProphecyService struct {
	prophecyRepo repository.ProphecyRepository
	ratingRepo   repository.RatingRepository
	roundRepo    repository.RoundRepository
	cacheRepo    repository.CacheRepository
	db           *gorm.DB
	broadcaster  EventBroadcaster
	auditService *AuditService
	badgeService *BadgeService

	// nowFn подменяется в тестах дедлайнов
	nowFn func() time.Time
}

// NewProphecyService создает новый сервис пророчеств
func NewProphecyService(
	prophecyRepo repository.ProphecyRepository,
	ratingRepo repository.RatingRepository,
	roundRepo repository.RoundRepository,
	cacheRepo repository.CacheRepository,
	db *gorm.DB,
	broadcaster EventBroadcaster,
	auditService *AuditService,
	badgeService *BadgeService,
) *ProphecyService {
	return &ProphecyService{
		prophecyRepo: prophecyRepo,
		ratingRepo:   ratingRepo,
		roundRepo:    roundRepo,
		cacheRepo:    cacheRepo,
		db:           db,
		broadcaster:  broadcaster,
		auditService: auditService,
		badgeService: badgeService,
		nowFn:        time.Now,
	}
}

// CreateProphecy подает новое пророчество в раунд
func (s *ProphecyService) CreateProphecy(creatorID, roundID uint, title, description string) (*entity.Prophecy, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: заголовок пророчества не может быть пустым", apperrors.ErrValidation)
	}

	round, err := s.roundRepo.GetByID(roundID)
	if err != nil {
		return nil, err
	}
	if !round.IsSubmissionOpen(s.nowFn()) {
		return nil, fmt.Errorf("%w: дедлайн подачи раунда #%d прошёл", apperrors.ErrDeadlinePassed, round.ID)
	}

	prophecy := &entity.Prophecy{
		Title:       title,
		Description: description,
		CreatorID:   creatorID,
		RoundID:     roundID,
	}
	if err := s.prophecyRepo.Create(prophecy); err != nil {
		return nil, fmt.Errorf("не удалось создать пророчество: %w", err)
	}

	log.Printf("[ProphecyService] Пользователь #%d подал пророчество #%d в раунд #%d", creatorID, prophecy.ID, roundID)

	// Побочные эффекты изолированы от результата мутации
	s.auditService.RecordProphecyCreated(prophecy, creatorID)
	s.broadcast(websocket.PROPHECY_CREATED, prophecy)
	s.badgeService.OnProphecyCreated(prophecy, round)

	return prophecy, nil
}

// GetProphecy возвращает пророчество по ID
func (s *ProphecyService) GetProphecy(id uint) (*entity.Prophecy, error) {
	return s.prophecyRepo.GetByID(id)
}

// ListByRound возвращает страницу пророчеств раунда
func (s *ProphecyService) ListByRound(roundID uint, limit, offset int) ([]entity.Prophecy, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.roundRepo.GetByID(roundID); err != nil {
		return nil, 0, err
	}
	return s.prophecyRepo.ListByRound(roundID, limit, offset)
}

// EditProphecy обновляет текст пророчества до дедлайна подачи.
// Редактирование обесценивает прежние суждения: все оценки пророчества
// удаляются в той же транзакции, агрегаты сбрасываются в (NULL, 0).
func (s *ProphecyService) EditProphecy(prophecyID, editorID uint, title, description string) (*entity.Prophecy, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: заголовок пророчества не может быть пустым", apperrors.ErrValidation)
	}

	prophecy, err := s.prophecyRepo.GetByID(prophecyID)
	if err != nil {
		return nil, err
	}
	round, err := s.roundRepo.GetByID(prophecy.RoundID)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать раунд #%d: %w", prophecy.RoundID, err)
	}
	if !round.IsSubmissionOpen(s.nowFn()) {
		return nil, fmt.Errorf("%w: дедлайн подачи раунда #%d прошёл", apperrors.ErrDeadlinePassed, round.ID)
	}
	if !prophecy.IsOwnedBy(editorID) {
		return nil, fmt.Errorf("%w: редактировать пророчество может только автор", apperrors.ErrForbidden)
	}

	oldSnapshot := prophecySnapshot(prophecy)

	// -------------------- Транзакция --------------------

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			log.Printf("[ProphecyService] PANIC при редактировании пророчества #%d: %v", prophecyID, r)
		}
	}()
	if tx.Error != nil {
		return nil, fmt.Errorf("не удалось открыть транзакцию: %w", tx.Error)
	}

	deletedCount, err := s.ratingRepo.DeleteByProphecyTx(tx, prophecyID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("не удалось удалить оценки пророчества #%d: %w", prophecyID, err)
	}

	prophecy.Title = title
	prophecy.Description = description
	prophecy.AverageRating = nil
	prophecy.RatingCount = 0
	if err := s.prophecyRepo.UpdateTx(tx, prophecy); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("не удалось обновить пророчество #%d: %w", prophecyID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}

	log.Printf("[ProphecyService] Пророчество #%d отредактировано, сброшено оценок: %d", prophecyID, deletedCount)

	// -------------------- После фиксации --------------------

	s.auditService.RecordProphecyUpdated(prophecyID, editorID, oldSnapshot, prophecySnapshot(prophecy), "редактирование пророчества")
	if deletedCount > 0 {
		s.auditService.RecordRatingsBulkDeleted(prophecyID, editorID, deletedCount, "сброс оценок при редактировании")
	}
	s.broadcast(websocket.PROPHECY_UPDATED, prophecy)
	s.badgeService.OnProphecyEdited(prophecy)

	return prophecy, nil
}

// DeleteProphecy удаляет пророчество вместе с его оценками.
// Запись DELETE с pre-image фиксируется собственной вставкой до разрушающей
// транзакции: след в журнале переживает удаление, даже если оно сорвётся.
func (s *ProphecyService) DeleteProphecy(prophecyID, requesterID uint, requesterRole string) error {
	prophecy, err := s.prophecyRepo.GetByID(prophecyID)
	if err != nil {
		return err
	}
	round, err := s.roundRepo.GetByID(prophecy.RoundID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать раунд #%d: %w", prophecy.RoundID, err)
	}
	if !round.IsSubmissionOpen(s.nowFn()) {
		return fmt.Errorf("%w: дедлайн подачи раунда #%d прошёл", apperrors.ErrDeadlinePassed, round.ID)
	}
	if !prophecy.IsOwnedBy(requesterID) && requesterRole != entity.RoleAdmin {
		return fmt.Errorf("%w: удалить пророчество может только автор или администратор", apperrors.ErrForbidden)
	}

	// Pre-image до удаления
	s.auditService.RecordProphecyDeletePreImage(prophecy, requesterID)

	// -------------------- Транзакция --------------------

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			log.Printf("[ProphecyService] PANIC при удалении пророчества #%d: %v", prophecyID, r)
		}
	}()
	if tx.Error != nil {
		return fmt.Errorf("не удалось открыть транзакцию: %w", tx.Error)
	}

	deletedRatings, err := s.ratingRepo.DeleteByProphecyTx(tx, prophecyID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("не удалось удалить оценки пророчества #%d: %w", prophecyID, err)
	}
	if err := s.prophecyRepo.DeleteTx(tx, prophecyID); err != nil {
		tx.Rollback()
		return fmt.Errorf("не удалось удалить пророчество #%d: %w", prophecyID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}

	log.Printf("[ProphecyService] Пророчество #%d удалено пользователем #%d вместе с %d оценками",
		prophecyID, requesterID, deletedRatings)

	// -------------------- После фиксации --------------------

	s.broadcast(websocket.PROPHECY_DELETED, map[string]interface{}{
		"id":       prophecy.ID,
		"round_id": prophecy.RoundID,
	})
	s.badgeService.OnProphecyDeleted(prophecy.CreatorID, requesterID)

	return nil
}

// ResolveProphecy выставляет исход пророчества после закрытия окна оценки.
// Доступ администратора обеспечивает middleware; adminID нужен для журнала.
func (s *ProphecyService) ResolveProphecy(prophecyID, adminID uint, fulfilled bool) (*entity.Prophecy, error) {
	prophecy, err := s.prophecyRepo.GetByID(prophecyID)
	if err != nil {
		return nil, err
	}
	if prophecy.IsResolved() {
		return nil, fmt.Errorf("%w: пророчество #%d уже разрешено", apperrors.ErrForbidden, prophecyID)
	}
	round, err := s.roundRepo.GetByID(prophecy.RoundID)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать раунд #%d: %w", prophecy.RoundID, err)
	}
	now := s.nowFn()
	if round.IsRatingOpen(now) {
		return nil, fmt.Errorf("%w: окно оценки раунда #%d ещё открыто", apperrors.ErrConflict, round.ID)
	}

	prophecy.Fulfilled = &fulfilled
	prophecy.ResolvedAt = &now
	if err := s.prophecyRepo.Update(prophecy); err != nil {
		return nil, fmt.Errorf("не удалось разрешить пророчество #%d: %w", prophecyID, err)
	}

	log.Printf("[ProphecyService] Пророчество #%d разрешено администратором #%d: fulfilled=%t",
		prophecyID, adminID, fulfilled)

	// -------------------- После фиксации --------------------

	s.auditService.RecordProphecyUpdated(prophecyID, adminID,
		entity.JSONMap{"fulfilled": nil},
		entity.JSONMap{"fulfilled": fulfilled},
		"разрешение пророчества")
	s.broadcast(websocket.PROPHECY_UPDATED, prophecy)
	s.badgeService.OnProphecyResolved(prophecy.CreatorID)

	// Разрешение меняет точность авторов — снимок лидерборда устарел
	s.invalidateLeaderboard(prophecy.RoundID)

	return prophecy, nil
}

// broadcast рассылает событие, логируя ошибку вместо её возврата
func (s *ProphecyService) broadcast(eventType string, data interface{}) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.BroadcastEvent(eventType, data); err != nil {
		log.Printf("[ProphecyService] Не удалось разослать %s: %v", eventType, err)
	}
}

// invalidateLeaderboard сбрасывает кешированный снимок лидерборда раунда
func (s *ProphecyService) invalidateLeaderboard(roundID uint) {
	if s.cacheRepo == nil {
		return
	}
	if err := s.cacheRepo.Delete(leaderboardCacheKey(roundID)); err != nil {
		log.Printf("[ProphecyService] Не удалось сбросить кеш лидерборда раунда #%d: %v", roundID, err)
	}
}
