package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
)

// Параметры кеширования лидерборда
const (
	// leaderboardCacheSize — канонический размер снимка; запросы с меньшим
	// limit нарезаются из него, поэтому ключ кеша один на раунд
	leaderboardCacheSize = 100

	leaderboardCacheTTL          = 5 * time.Minute
	leaderboardPublishedCacheTTL = 1 * time.Hour

	leaderboardExportSize = 1000
)

// leaderboardCacheKey — единственный ключ снимка лидерборда раунда
func leaderboardCacheKey(roundID uint) string {
	return fmt.Sprintf("round:%d:leaderboard", roundID)
}

// RoundService управляет раундами и агрегированными результатами:
// лидерборд авторов считается SQL-агрегатом по текущим строкам и
// кешируется снимком в Redis
type RoundService struct {
	roundRepo    repository.RoundRepository
	prophecyRepo repository.ProphecyRepository
	cacheRepo    repository.CacheRepository

	// nowFn подменяется в тестах дедлайнов
	nowFn func() time.Time
}

// NewRoundService создает новый сервис раундов
func NewRoundService(
	roundRepo repository.RoundRepository,
	prophecyRepo repository.ProphecyRepository,
	cacheRepo repository.CacheRepository,
) *RoundService {
	return &RoundService{
		roundRepo:    roundRepo,
		prophecyRepo: prophecyRepo,
		cacheRepo:    cacheRepo,
		nowFn:        time.Now,
	}
}

// CreateRound создает новый раунд с проверкой порядка временных окон
func (s *RoundService) CreateRound(title string, submissionDeadline, ratingDeadline, fulfillmentDate time.Time) (*entity.Round, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: название раунда не может быть пустым", apperrors.ErrValidation)
	}
	if !submissionDeadline.Before(ratingDeadline) {
		return nil, fmt.Errorf("%w: дедлайн подачи должен предшествовать дедлайну оценки", apperrors.ErrValidation)
	}
	if fulfillmentDate.Before(ratingDeadline) {
		return nil, fmt.Errorf("%w: дата исполнения не может предшествовать дедлайну оценки", apperrors.ErrValidation)
	}

	round := &entity.Round{
		Title:              title,
		SubmissionDeadline: submissionDeadline,
		RatingDeadline:     ratingDeadline,
		FulfillmentDate:    fulfillmentDate,
	}
	if err := s.roundRepo.Create(round); err != nil {
		return nil, fmt.Errorf("не удалось создать раунд: %w", err)
	}

	log.Printf("[RoundService] Создан раунд #%d %q, подача до %s", round.ID, round.Title,
		round.SubmissionDeadline.Format(time.RFC3339))
	return round, nil
}

// GetRound возвращает раунд по ID
func (s *RoundService) GetRound(id uint) (*entity.Round, error) {
	return s.roundRepo.GetByID(id)
}

// ListRounds возвращает страницу раундов, новые первыми
func (s *RoundService) ListRounds(limit, offset int) ([]entity.Round, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.roundRepo.List(limit, offset)
}

// PublishResults отмечает результаты раунда опубликованными.
// Доступно после закрытия окна оценки; повторная публикация — конфликт.
func (s *RoundService) PublishResults(roundID uint) (*entity.Round, error) {
	round, err := s.roundRepo.GetByID(roundID)
	if err != nil {
		return nil, err
	}
	if round.IsResultsPublished() {
		return nil, fmt.Errorf("%w: результаты раунда #%d уже опубликованы", apperrors.ErrConflict, roundID)
	}
	now := s.nowFn()
	if round.IsRatingOpen(now) {
		return nil, fmt.Errorf("%w: окно оценки раунда #%d ещё открыто", apperrors.ErrConflict, roundID)
	}

	round.ResultsPublishedAt = &now
	if err := s.roundRepo.Update(round); err != nil {
		return nil, fmt.Errorf("не удалось опубликовать результаты раунда #%d: %w", roundID, err)
	}

	// Публикация фиксирует итог — прежний снимок лидерборда устарел
	s.invalidateLeaderboard(roundID)

	log.Printf("[RoundService] Результаты раунда #%d опубликованы", roundID)
	return round, nil
}

// GetLeaderboard возвращает верх лидерборда раунда.
// Снимок канонического размера кешируется целиком и нарезается под limit,
// чтобы сброс кеша работал по одному ключу.
func (s *RoundService) GetLeaderboard(roundID uint, limit int) ([]repository.LeaderboardEntry, error) {
	if limit <= 0 || limit > leaderboardCacheSize {
		limit = leaderboardCacheSize
	}

	round, err := s.roundRepo.GetByID(roundID)
	if err != nil {
		return nil, err
	}

	key := leaderboardCacheKey(roundID)
	var cached []repository.LeaderboardEntry
	if err := s.cacheRepo.GetJSON(key, &cached); err == nil {
		return clipLeaderboard(cached, limit), nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		log.Printf("[RoundService] Ошибка чтения кеша лидерборда раунда #%d: %v", roundID, err)
	}

	entries, err := s.prophecyRepo.GetRoundLeaderboard(roundID, leaderboardCacheSize)
	if err != nil {
		return nil, fmt.Errorf("не удалось построить лидерборд раунда #%d: %w", roundID, err)
	}

	ttl := leaderboardCacheTTL
	if round.IsResultsPublished() {
		ttl = leaderboardPublishedCacheTTL
	}
	if err := s.cacheRepo.SetJSON(key, entries, ttl); err != nil {
		log.Printf("[RoundService] Не удалось закешировать лидерборд раунда #%d: %v", roundID, err)
	}

	return clipLeaderboard(entries, limit), nil
}

// LeaderboardForExport возвращает раунд и полный лидерборд для выгрузки.
// Экспорт доступен только для опубликованных результатов.
func (s *RoundService) LeaderboardForExport(roundID uint) (*entity.Round, []repository.LeaderboardEntry, error) {
	round, err := s.roundRepo.GetByID(roundID)
	if err != nil {
		return nil, nil, err
	}
	if !round.IsResultsPublished() {
		return nil, nil, fmt.Errorf("%w: результаты раунда #%d ещё не опубликованы", apperrors.ErrConflict, roundID)
	}

	// Выгрузка читает хранилище напрямую, минуя кеш
	entries, err := s.prophecyRepo.GetRoundLeaderboard(roundID, leaderboardExportSize)
	if err != nil {
		return nil, nil, fmt.Errorf("не удалось построить лидерборд раунда #%d: %w", roundID, err)
	}
	return round, entries, nil
}

func (s *RoundService) invalidateLeaderboard(roundID uint) {
	if err := s.cacheRepo.Delete(leaderboardCacheKey(roundID)); err != nil {
		log.Printf("[RoundService] Не удалось сбросить кеш лидерборда раунда #%d: %v", roundID, err)
	}
}

func clipLeaderboard(entries []repository.LeaderboardEntry, limit int) []repository.LeaderboardEntry {
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
