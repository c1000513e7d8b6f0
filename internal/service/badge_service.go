package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
	"github.com/yourusername/prophecy-api/internal/pkg/worker"
	"github.com/yourusername/prophecy-api/internal/websocket"
)

// Окна временных предикатов
const (
	lastMinuteWindowHours  = 24.0
	clutchRaterWindowHours = 1.0
	nightOwlUntilHour      = 5 // окно [0,5) по локальному времени
	novelistMinRunes       = 500
)

// notificationSendTimeout ограничивает фоновую отправку письма о бейдже
const notificationSendTimeout = 15 * time.Second

// Наборы пороговых бейджей по источнику счётчика
var (
	prophecyThresholdKeys = []string{entity.BadgeKeyFirstProphecy, entity.BadgeKeyProlificProphet}
	ratingThresholdKeys   = []string{entity.BadgeKeyFirstRating, entity.BadgeKeyAvidCritic}
	accuracyThresholdKeys = []string{entity.BadgeKeyTrueSeer}
)

// UserBadgeDetail объединяет выдачу с определением бейджа из каталога
type UserBadgeDetail struct {
	entity.UserBadge
	Badge entity.Badge `json:"badge"`
}

// BadgeService — движок правил выдачи бейджей.
// Выдача идемпотентна исключительно за счёт уникального индекса (user_id, badge_id):
// вставка выполняется без предварительной проверки, конфликт означает повторную выдачу.
// Пороговые бейджи считаются по текущим строкам хранилища, не по счётчикам в памяти.
// Ошибки движка никогда не блокируют и не откатывают первичную мутацию.
type BadgeService struct {
	badgeRepo    repository.BadgeRepository
	prophecyRepo repository.ProphecyRepository
	ratingRepo   repository.RatingRepository
	userRepo     repository.UserRepository
	broadcaster  EventBroadcaster
	notifier     NotificationService
	pool         *worker.Pool

	// location — зона для временных предикатов (night_owl)
	location *time.Location
	// nowFn подменяется в тестах временных предикатов
	nowFn func() time.Time
}

// NewBadgeService создает новый движок бейджей. Пустой timezone означает UTC.
func NewBadgeService(
	badgeRepo repository.BadgeRepository,
	prophecyRepo repository.ProphecyRepository,
	ratingRepo repository.RatingRepository,
	userRepo repository.UserRepository,
	broadcaster EventBroadcaster,
	notifier NotificationService,
	pool *worker.Pool,
	timezone string,
) (*BadgeService, error) {
	location := time.UTC
	if timezone != "" {
		var err error
		location, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("неизвестная временная зона %q: %w", timezone, err)
		}
	}

	return &BadgeService{
		badgeRepo:    badgeRepo,
		prophecyRepo: prophecyRepo,
		ratingRepo:   ratingRepo,
		userRepo:     userRepo,
		broadcaster:  broadcaster,
		notifier:     notifier,
		pool:         pool,
		location:     location,
		nowFn:        time.Now,
	}, nil
}

// AwardBadge выдает пользователю бейдж по ключу каталога.
// Возвращает (выдача, isNew, ошибка); для неизвестного ключа — (nil, false, nil).
func (s *BadgeService) AwardBadge(userID uint, badgeKey string) (*entity.UserBadge, bool, error) {
	badge, err := s.badgeRepo.GetByKey(badgeKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Printf("[BadgeService] Неизвестный ключ бейджа %q, выдача пропущена", badgeKey)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("не удалось получить бейдж %q: %w", badgeKey, err)
	}
	return s.award(userID, badge)
}

// award вставляет выдачу без предварительной проверки существования.
// Проверка "есть ли уже" перед вставкой здесь запрещена: под конкурентными
// триггерами она выдала бы бейдж дважды. Конфликт уникальности — штатный путь.
func (s *BadgeService) award(userID uint, badge *entity.Badge) (*entity.UserBadge, bool, error) {
	userBadge := &entity.UserBadge{
		UserID:   userID,
		BadgeID:  badge.ID,
		EarnedAt: s.nowFn(),
	}

	if err := s.badgeRepo.CreateUserBadge(userBadge); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			existing, getErr := s.badgeRepo.GetUserBadge(userID, badge.ID)
			if getErr != nil {
				return nil, false, fmt.Errorf("бейдж %q уже выдан, но запись не прочитана: %w", badge.Key, getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("не удалось выдать бейдж %q: %w", badge.Key, err)
	}

	log.Printf("[BadgeService] Пользователю #%d выдан бейдж %q (%s)", userID, badge.Key, badge.Rarity)
	s.announce(userBadge, badge)
	return userBadge, true, nil
}

// announce рассылает badge:awarded и ставит письмо в очередь уведомлений.
// Вызывается ровно один раз на новую выдачу.
func (s *BadgeService) announce(userBadge *entity.UserBadge, badge *entity.Badge) {
	if s.broadcaster != nil {
		payload := map[string]interface{}{
			"id":        userBadge.ID,
			"user_id":   userBadge.UserID,
			"badge_id":  userBadge.BadgeID,
			"earned_at": userBadge.EarnedAt,
			"badge":     badge,
		}
		if err := s.broadcaster.BroadcastEvent(websocket.BADGE_AWARDED, payload); err != nil {
			log.Printf("[BadgeService] Не удалось разослать badge:awarded для пользователя #%d: %v", userBadge.UserID, err)
		}
	}
	s.queueNotification(userBadge.UserID, badge)
}

// queueNotification отправляет письмо о выдаче через пул воркеров,
// чтобы сетевые повторы Resend не удлиняли путь мутации
func (s *BadgeService) queueNotification(userID uint, badge *entity.Badge) {
	if s.notifier == nil {
		return
	}

	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), notificationSendTimeout)
		defer cancel()

		user, err := s.userRepo.GetByID(userID)
		if err != nil {
			log.Printf("[BadgeService] Пользователь #%d для уведомления о бейдже %q не найден: %v", userID, badge.Key, err)
			return
		}
		if err := s.notifier.SendBadgeAwarded(ctx, user.Email, user.Username, badge); err != nil {
			log.Printf("[BadgeService] Не удалось отправить письмо о бейдже %q пользователю #%d: %v", badge.Key, userID, err)
		}
	}

	if s.pool == nil {
		task()
		return
	}
	if !s.pool.Submit(task) {
		log.Printf("[BadgeService] Очередь уведомлений переполнена, письмо о бейдже %q не отправлено", badge.Key)
	}
}

// CheckAndAwardBadges пересчитывает все пороговые бейджи пользователя по текущим
// строкам хранилища и возвращает только новые выдачи
func (s *BadgeService) CheckAndAwardBadges(userID uint) ([]entity.UserBadge, error) {
	prophecyCount, err := s.prophecyRepo.CountByCreator(userID)
	if err != nil {
		return nil, fmt.Errorf("не удалось посчитать пророчества пользователя #%d: %w", userID, err)
	}
	ratingCount, err := s.ratingRepo.CountByRater(userID)
	if err != nil {
		return nil, fmt.Errorf("не удалось посчитать оценки пользователя #%d: %w", userID, err)
	}
	accurateCount, err := s.prophecyRepo.CountAccurateByCreator(userID)
	if err != nil {
		return nil, fmt.Errorf("не удалось посчитать сбывшиеся пророчества пользователя #%d: %w", userID, err)
	}

	var awarded []entity.UserBadge
	awarded = append(awarded, s.awardByThreshold(userID, prophecyThresholdKeys, prophecyCount)...)
	awarded = append(awarded, s.awardByThreshold(userID, ratingThresholdKeys, ratingCount)...)
	awarded = append(awarded, s.awardByThreshold(userID, accuracyThresholdKeys, accurateCount)...)
	return awarded, nil
}

// awardByThreshold выдает бейджи из набора, чей порог достигнут счётчиком
func (s *BadgeService) awardByThreshold(userID uint, keys []string, count int64) []entity.UserBadge {
	var awarded []entity.UserBadge
	for _, key := range keys {
		badge, err := s.badgeRepo.GetByKey(key)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				log.Printf("[BadgeService] Не удалось прочитать пороговый бейдж %q: %v", key, err)
			}
			continue
		}
		if !badge.IsThresholdBadge() || count < int64(badge.Threshold) {
			continue
		}
		userBadge, isNew, err := s.award(userID, badge)
		if err != nil {
			log.Printf("[BadgeService] Ошибка выдачи порогового бейджа %q пользователю #%d: %v", key, userID, err)
			continue
		}
		if isNew && userBadge != nil {
			awarded = append(awarded, *userBadge)
		}
	}
	return awarded
}

// OnProphecyCreated проверяет контекстные и пороговые бейджи после подачи пророчества
func (s *BadgeService) OnProphecyCreated(prophecy *entity.Prophecy, round *entity.Round) {
	now := s.nowFn()

	if round.HoursUntilSubmissionDeadline(now) < lastMinuteWindowHours {
		s.awardLogged(prophecy.CreatorID, entity.BadgeKeyLastMinute)
	}

	hasEarlier, err := s.prophecyRepo.HasEarlierInRound(round.ID, prophecy.CreatedAt, prophecy.ID)
	if err != nil {
		log.Printf("[BadgeService] Не удалось проверить первенство в раунде #%d: %v", round.ID, err)
	} else if !hasEarlier {
		s.awardLogged(prophecy.CreatorID, entity.BadgeKeyEarlyBird)
	}

	if utf8.RuneCountInString(prophecy.Description) >= novelistMinRunes {
		s.awardLogged(prophecy.CreatorID, entity.BadgeKeyNovelist)
	}

	s.checkNightOwl(prophecy.CreatorID, now)

	if count, err := s.prophecyRepo.CountByCreator(prophecy.CreatorID); err != nil {
		log.Printf("[BadgeService] Не удалось посчитать пророчества пользователя #%d: %v", prophecy.CreatorID, err)
	} else {
		s.awardByThreshold(prophecy.CreatorID, prophecyThresholdKeys, count)
	}
}

// OnProphecyEdited проверяет бейджи после успешного редактирования
func (s *BadgeService) OnProphecyEdited(prophecy *entity.Prophecy) {
	s.awardLogged(prophecy.CreatorID, entity.BadgeKeyPerfectionist)

	if utf8.RuneCountInString(prophecy.Description) >= novelistMinRunes {
		s.awardLogged(prophecy.CreatorID, entity.BadgeKeyNovelist)
	}
}

// OnProphecyDeleted выдает special_regret, когда автор удаляет собственное пророчество
func (s *BadgeService) OnProphecyDeleted(creatorID, requesterID uint) {
	if creatorID == requesterID {
		s.awardLogged(creatorID, entity.BadgeKeyRegret)
	}
}

// OnProphecyResolved пересчитывает пороговые бейджи точности автора
func (s *BadgeService) OnProphecyResolved(creatorID uint) {
	count, err := s.prophecyRepo.CountAccurateByCreator(creatorID)
	if err != nil {
		log.Printf("[BadgeService] Не удалось посчитать сбывшиеся пророчества пользователя #%d: %v", creatorID, err)
		return
	}
	s.awardByThreshold(creatorID, accuracyThresholdKeys, count)
}

// OnRatingSubmitted проверяет контекстные и пороговые бейджи после записи оценки
func (s *BadgeService) OnRatingSubmitted(raterID uint, round *entity.Round) {
	now := s.nowFn()

	if round.HoursUntilRatingDeadline(now) < clutchRaterWindowHours {
		s.awardLogged(raterID, entity.BadgeKeyClutchRater)
	}

	s.checkNightOwl(raterID, now)

	if count, err := s.ratingRepo.CountByRater(raterID); err != nil {
		log.Printf("[BadgeService] Не удалось посчитать оценки пользователя #%d: %v", raterID, err)
	} else {
		s.awardByThreshold(raterID, ratingThresholdKeys, count)
	}
}

// checkNightOwl выдает hidden_night_owl, когда час действия в настроенной зоне
// попадает в окно [0,5)
func (s *BadgeService) checkNightOwl(userID uint, now time.Time) {
	if now.In(s.location).Hour() < nightOwlUntilHour {
		s.awardLogged(userID, entity.BadgeKeyNightOwl)
	}
}

// awardLogged выдает бейдж по ключу, логируя ошибку вместо её возврата
func (s *BadgeService) awardLogged(userID uint, badgeKey string) {
	if _, _, err := s.AwardBadge(userID, badgeKey); err != nil {
		log.Printf("[BadgeService] Ошибка выдачи бейджа %q пользователю #%d: %v", badgeKey, userID, err)
	}
}

// ListBadges возвращает каталог бейджей
func (s *BadgeService) ListBadges() ([]entity.Badge, error) {
	return s.badgeRepo.List()
}

// ListUserBadges возвращает выдачи пользователя вместе с определениями из каталога
func (s *BadgeService) ListUserBadges(userID uint) ([]UserBadgeDetail, error) {
	userBadges, err := s.badgeRepo.ListUserBadges(userID)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать бейджи пользователя #%d: %w", userID, err)
	}
	if len(userBadges) == 0 {
		return []UserBadgeDetail{}, nil
	}

	catalog, err := s.badgeRepo.List()
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать каталог бейджей: %w", err)
	}
	byID := make(map[uint]entity.Badge, len(catalog))
	for _, badge := range catalog {
		byID[badge.ID] = badge
	}

	details := make([]UserBadgeDetail, 0, len(userBadges))
	for _, userBadge := range userBadges {
		details = append(details, UserBadgeDetail{
			UserBadge: userBadge,
			Badge:     byID[userBadge.BadgeID],
		})
	}
	return details, nil
}
