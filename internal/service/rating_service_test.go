package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
	"github.com/yourusername/prophecy-api/internal/repository/postgres"
	"github.com/yourusername/prophecy-api/internal/websocket"
)

// ============================================================================
// Моки репозиториев
// Определены здесь и переиспользуются тестами остальных сервисов пакета
// ============================================================================

// MockProphecyRepository реализует repository.ProphecyRepository
type MockProphecyRepository struct {
	mock.Mock
}

func (m *MockProphecyRepository) Create(prophecy *entity.Prophecy) error {
	args := m.Called(prophecy)
	return args.Error(0)
}

func (m *MockProphecyRepository) GetByID(id uint) (*entity.Prophecy, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Prophecy), args.Error(1)
}

func (m *MockProphecyRepository) Update(prophecy *entity.Prophecy) error {
	args := m.Called(prophecy)
	return args.Error(0)
}

func (m *MockProphecyRepository) UpdateTx(tx *gorm.DB, prophecy *entity.Prophecy) error {
	args := m.Called(tx, prophecy)
	return args.Error(0)
}

func (m *MockProphecyRepository) UpdateAggregatesTx(tx *gorm.DB, prophecyID uint, average *float64, count int) error {
	args := m.Called(tx, prophecyID, average, count)
	return args.Error(0)
}

func (m *MockProphecyRepository) DeleteTx(tx *gorm.DB, id uint) error {
	args := m.Called(tx, id)
	return args.Error(0)
}

func (m *MockProphecyRepository) ListByRound(roundID uint, limit, offset int) ([]entity.Prophecy, int64, error) {
	args := m.Called(roundID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]entity.Prophecy), args.Get(1).(int64), args.Error(2)
}

func (m *MockProphecyRepository) CountByCreator(creatorID uint) (int64, error) {
	args := m.Called(creatorID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockProphecyRepository) CountAccurateByCreator(creatorID uint) (int64, error) {
	args := m.Called(creatorID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockProphecyRepository) HasEarlierInRound(roundID uint, createdBefore time.Time, excludeID uint) (bool, error) {
	args := m.Called(roundID, createdBefore, excludeID)
	return args.Bool(0), args.Error(1)
}

func (m *MockProphecyRepository) GetRoundLeaderboard(roundID uint, limit int) ([]repository.LeaderboardEntry, error) {
	args := m.Called(roundID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.LeaderboardEntry), args.Error(1)
}

// MockRatingRepository реализует repository.RatingRepository
type MockRatingRepository struct {
	mock.Mock
}

func (m *MockRatingRepository) GetByProphecyAndRater(prophecyID, raterID uint) (*entity.Rating, error) {
	args := m.Called(prophecyID, raterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Rating), args.Error(1)
}

func (m *MockRatingRepository) GetByProphecyAndRaterTx(tx *gorm.DB, prophecyID, raterID uint) (*entity.Rating, error) {
	args := m.Called(tx, prophecyID, raterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Rating), args.Error(1)
}

func (m *MockRatingRepository) UpsertTx(tx *gorm.DB, rating *entity.Rating) error {
	args := m.Called(tx, rating)
	return args.Error(0)
}

func (m *MockRatingRepository) GetStatsTx(tx *gorm.DB, prophecyID uint) (*repository.RatingStats, error) {
	args := m.Called(tx, prophecyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.RatingStats), args.Error(1)
}

func (m *MockRatingRepository) DeleteByProphecyTx(tx *gorm.DB, prophecyID uint) (int64, error) {
	args := m.Called(tx, prophecyID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRatingRepository) CountByRater(raterID uint) (int64, error) {
	args := m.Called(raterID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRatingRepository) ListByProphecy(prophecyID uint) ([]entity.Rating, error) {
	args := m.Called(prophecyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Rating), args.Error(1)
}

// MockRoundRepository реализует repository.RoundRepository
type MockRoundRepository struct {
	mock.Mock
}

func (m *MockRoundRepository) Create(round *entity.Round) error {
	args := m.Called(round)
	return args.Error(0)
}

func (m *MockRoundRepository) GetByID(id uint) (*entity.Round, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Round), args.Error(1)
}

func (m *MockRoundRepository) List(limit, offset int) ([]entity.Round, int64, error) {
	args := m.Called(limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]entity.Round), args.Get(1).(int64), args.Error(2)
}

func (m *MockRoundRepository) Update(round *entity.Round) error {
	args := m.Called(round)
	return args.Error(0)
}

// ============================================================================
// Записывающие фейки: рассылка событий, журнал аудита, выдача бейджей
// ============================================================================

type recordedEvent struct {
	Type string
	Data interface{}
}

// recordingBroadcaster сохраняет события в порядке рассылки
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) BroadcastEvent(eventType string, data interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Type: eventType, Data: data})
	return nil
}

func (b *recordingBroadcaster) Events() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedEvent(nil), b.events...)
}

func (b *recordingBroadcaster) EventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]string, 0, len(b.events))
	for _, event := range b.events {
		types = append(types, event.Type)
	}
	return types
}

func (b *recordingBroadcaster) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// failingBroadcaster имитирует отказ доставки на каждом событии
type failingBroadcaster struct{}

func (failingBroadcaster) BroadcastEvent(string, interface{}) error {
	return assert.AnError
}

// fakeAuditRepo — журнал аудита в памяти.
// onAppend вызывается в момент записи и позволяет проверить состояние
// хранилища ровно тогда, когда запись фиксируется.
type fakeAuditRepo struct {
	mu       sync.Mutex
	entries  []entity.AuditLogEntry
	onAppend func(entry *entity.AuditLogEntry)
}

func (r *fakeAuditRepo) Append(entry *entity.AuditLogEntry) error {
	if r.onAppend != nil {
		r.onAppend(entry)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uint(len(r.entries) + 1)
	entry.CreatedAt = time.Now()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) ListByEntity(entityType string, entityID uint, limit, offset int) ([]entity.AuditLogEntry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []entity.AuditLogEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].EntityType == entityType && r.entries[i].EntityID == entityID {
			matched = append(matched, r.entries[i])
		}
	}
	return paginateAuditEntries(matched, limit, offset)
}

func (r *fakeAuditRepo) ListByProphecy(prophecyID uint, limit, offset int) ([]entity.AuditLogEntry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []entity.AuditLogEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].ProphecyID != nil && *r.entries[i].ProphecyID == prophecyID {
			matched = append(matched, r.entries[i])
		}
	}
	return paginateAuditEntries(matched, limit, offset)
}

func paginateAuditEntries(entries []entity.AuditLogEntry, limit, offset int) ([]entity.AuditLogEntry, int64, error) {
	total := int64(len(entries))
	if offset >= len(entries) {
		return []entity.AuditLogEntry{}, total, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], total, nil
}

func (r *fakeAuditRepo) Entries() []entity.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.AuditLogEntry(nil), r.entries...)
}

// Actions возвращает действия журнала в порядке записи
func (r *fakeAuditRepo) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func (r *fakeAuditRepo) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// fakeBadgeRepo хранит каталог и выдачи в памяти.
// CreateUserBadge повторяет контракт постгресового репозитория: нарушение
// уникальности (user_id, badge_id) возвращается как apperrors.ErrConflict.
type fakeBadgeRepo struct {
	mu          sync.Mutex
	catalog     []entity.Badge
	awards      []entity.UserBadge
	createCalls int
}

func newFakeBadgeRepo() *fakeBadgeRepo {
	repo := &fakeBadgeRepo{}
	for i, badge := range entity.DefaultBadges {
		badge.ID = uint(i + 1)
		repo.catalog = append(repo.catalog, badge)
	}
	return repo
}

func (r *fakeBadgeRepo) GetByKey(key string) (*entity.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.catalog {
		if r.catalog[i].Key == key {
			badge := r.catalog[i]
			return &badge, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeBadgeRepo) GetByID(id uint) (*entity.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.catalog {
		if r.catalog[i].ID == id {
			badge := r.catalog[i]
			return &badge, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeBadgeRepo) List() ([]entity.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.Badge(nil), r.catalog...), nil
}

func (r *fakeBadgeRepo) CreateUserBadge(userBadge *entity.UserBadge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	for _, award := range r.awards {
		if award.UserID == userBadge.UserID && award.BadgeID == userBadge.BadgeID {
			return apperrors.ErrConflict
		}
	}
	userBadge.ID = uint(len(r.awards) + 1)
	r.awards = append(r.awards, *userBadge)
	return nil
}

func (r *fakeBadgeRepo) GetUserBadge(userID, badgeID uint) (*entity.UserBadge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.awards {
		if r.awards[i].UserID == userID && r.awards[i].BadgeID == badgeID {
			award := r.awards[i]
			return &award, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeBadgeRepo) ListUserBadges(userID uint) ([]entity.UserBadge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var awards []entity.UserBadge
	for _, award := range r.awards {
		if award.UserID == userID {
			awards = append(awards, award)
		}
	}
	return awards, nil
}

// HasAward проверяет наличие выдачи по ключу каталога
func (r *fakeBadgeRepo) HasAward(userID uint, badgeKey string) bool {
	badge, err := r.GetByKey(badgeKey)
	if err != nil {
		return false
	}
	if _, err := r.GetUserBadge(userID, badge.ID); err != nil {
		return false
	}
	return true
}

// CreateCalls возвращает количество попыток вставки выдачи
func (r *fakeBadgeRepo) CreateCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createCalls
}

// ============================================================================
// createTestRatingServiceWithMocks создаёт RatingService для тестов предусловий
// ============================================================================

func createTestRatingServiceWithMocks(
	ratingRepo *MockRatingRepository,
	prophecyRepo *MockProphecyRepository,
	roundRepo *MockRoundRepository,
	now time.Time,
) *RatingService {
	return &RatingService{
		ratingRepo:   ratingRepo,
		prophecyRepo: prophecyRepo,
		roundRepo:    roundRepo,
		db:           nil, // предусловия проверяются до открытия транзакции
		broadcaster:  nil,
		auditService: nil,
		badgeService: nil,
		nowFn:        func() time.Time { return now },
	}
}

// ============================================================================
// Харнес sqlite в памяти
// Пересчет агрегатов и каскадные удаления выполняются внутри транзакций
// gorm поверх реальных репозиториев, поэтому эти пути проверяются на базе,
// а не на моках. Репозиторий бейджей остается фейком: его маппинг ошибки
// 23505 специфичен для Postgres.
// ============================================================================

// engineBaseTime — полдень UTC: вне окна night_owl и вдали от дедлайнов раунда
var engineBaseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func engineNow() time.Time { return engineBaseTime }

type engineFixture struct {
	db          *gorm.DB
	broadcaster *recordingBroadcaster
	auditRepo   *fakeAuditRepo
	badgeRepo   *fakeBadgeRepo

	ratings    *RatingService
	prophecies *ProphecyService

	round    *entity.Round
	creator  *entity.User
	prophecy *entity.Prophecy
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "sqlite в памяти должен открыться")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	require.NoError(t, db.Exec("PRAGMA busy_timeout = 5000").Error)
	require.NoError(t, db.Exec("PRAGMA journal_mode = WAL").Error)

	prepareEngineSchema(t, db)

	broadcaster := &recordingBroadcaster{}
	auditRepo := &fakeAuditRepo{}
	badgeRepo := newFakeBadgeRepo()

	prophecyRepo := postgres.NewProphecyRepo(db)
	ratingRepo := postgres.NewRatingRepo(db)
	roundRepo := postgres.NewRoundRepo(db)
	userRepo := postgres.NewUserRepo(db)

	auditService := NewAuditService(auditRepo)
	badgeService := &BadgeService{
		badgeRepo:    badgeRepo,
		prophecyRepo: prophecyRepo,
		ratingRepo:   ratingRepo,
		userRepo:     userRepo,
		broadcaster:  nil, // события бейджей не смешиваются с событиями движка
		notifier:     nil,
		pool:         nil,
		location:     time.UTC,
		nowFn:        engineNow,
	}

	f := &engineFixture{
		db:          db,
		broadcaster: broadcaster,
		auditRepo:   auditRepo,
		badgeRepo:   badgeRepo,
	}
	f.ratings = &RatingService{
		ratingRepo:   ratingRepo,
		prophecyRepo: prophecyRepo,
		roundRepo:    roundRepo,
		db:           db,
		broadcaster:  broadcaster,
		auditService: auditService,
		badgeService: badgeService,
		nowFn:        engineNow,
	}
	f.prophecies = &ProphecyService{
		prophecyRepo: prophecyRepo,
		ratingRepo:   ratingRepo,
		roundRepo:    roundRepo,
		cacheRepo:    nil,
		db:           db,
		broadcaster:  broadcaster,
		auditService: auditService,
		badgeService: badgeService,
		nowFn:        engineNow,
	}

	f.round = &entity.Round{
		Title:              "Раунд предсказаний",
		SubmissionDeadline: engineBaseTime.Add(36 * time.Hour),
		RatingDeadline:     engineBaseTime.Add(72 * time.Hour),
		FulfillmentDate:    engineBaseTime.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, db.Create(f.round).Error, "раунд должен сохраниться")

	f.creator = f.addUser(t, "prophet", false)
	f.prophecy = f.addProphecy(t, f.creator.ID, "Тестовое пророчество")
	return f
}

func prepareEngineSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	statements := []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			is_bot BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			submission_deadline DATETIME NOT NULL,
			rating_deadline DATETIME NOT NULL,
			fulfillment_date DATETIME NOT NULL,
			results_published_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE prophecies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			creator_id INTEGER NOT NULL,
			round_id INTEGER NOT NULL,
			fulfilled BOOLEAN,
			resolved_at DATETIME,
			average_rating NUMERIC,
			rating_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE ratings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prophecy_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			value INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX idx_prophecy_rater ON ratings (prophecy_id, user_id)`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error, "schema statement должен выполниться")
	}
}

func (f *engineFixture) addUser(t *testing.T, username string, isBot bool) *entity.User {
	t.Helper()
	user := &entity.User{
		Username: username,
		Email:    username + "@example.com",
		// Префикс bcrypt: хук BeforeSave не хеширует значение повторно
		Password: "$2a$10$precomputed.for.engine.tests",
		Role:     entity.RoleUser,
		IsBot:    isBot,
	}
	require.NoError(t, f.db.Create(user).Error, "пользователь должен сохраниться")
	return user
}

func (f *engineFixture) addProphecy(t *testing.T, creatorID uint, title string) *entity.Prophecy {
	t.Helper()
	prophecy := &entity.Prophecy{
		Title:     title,
		CreatorID: creatorID,
		RoundID:   f.round.ID,
	}
	require.NoError(t, f.db.Create(prophecy).Error, "пророчество должно сохраниться")
	return prophecy
}

func (f *engineFixture) reloadProphecy(t *testing.T, id uint) *entity.Prophecy {
	t.Helper()
	var prophecy entity.Prophecy
	require.NoError(t, f.db.First(&prophecy, id).Error, "пророчество должно читаться из базы")
	return &prophecy
}

func (f *engineFixture) countRatingRows(t *testing.T, prophecyID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&entity.Rating{}).Where("prophecy_id = ?", prophecyID).Count(&count).Error)
	return count
}

// ============================================================================
// Тесты предусловий SubmitRating (моки, база не нужна)
// ============================================================================

func TestRatingService_SubmitRating_ValueOutOfRange(t *testing.T) {
	// Arrange
	mockProphecyRepo := new(MockProphecyRepository)
	service := createTestRatingServiceWithMocks(new(MockRatingRepository), mockProphecyRepo, new(MockRoundRepository), engineBaseTime)

	for _, value := range []int{11, -11, 100} {
		// Act
		rating, prophecy, err := service.SubmitRating(1, 2, value)

		// Assert
		assert.ErrorIs(t, err, apperrors.ErrValidation, "значение %d должно отклоняться", value)
		assert.Nil(t, rating)
		assert.Nil(t, prophecy)
	}

	// Значение отклоняется до какого-либо чтения из хранилища
	mockProphecyRepo.AssertNotCalled(t, "GetByID")
}

func TestRatingService_SubmitRating_ProphecyNotFound(t *testing.T) {
	// Arrange
	mockProphecyRepo := new(MockProphecyRepository)
	mockProphecyRepo.On("GetByID", uint(42)).Return(nil, apperrors.ErrNotFound)

	service := createTestRatingServiceWithMocks(new(MockRatingRepository), mockProphecyRepo, new(MockRoundRepository), engineBaseTime)

	// Act
	rating, prophecy, err := service.SubmitRating(42, 2, 5)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Nil(t, rating)
	assert.Nil(t, prophecy)
	mockProphecyRepo.AssertExpectations(t)
}

func TestRatingService_SubmitRating_DeadlinePassed(t *testing.T) {
	// Arrange
	mockProphecyRepo := new(MockProphecyRepository)
	mockRoundRepo := new(MockRoundRepository)
	mockRatingRepo := new(MockRatingRepository)

	mockProphecyRepo.On("GetByID", uint(1)).Return(&entity.Prophecy{ID: 1, CreatorID: 7, RoundID: 3}, nil)
	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{
		ID:                 3,
		SubmissionDeadline: engineBaseTime.Add(-48 * time.Hour),
		RatingDeadline:     engineBaseTime.Add(-time.Hour),
	}, nil)

	service := createTestRatingServiceWithMocks(mockRatingRepo, mockProphecyRepo, mockRoundRepo, engineBaseTime)

	// Act
	_, _, err := service.SubmitRating(1, 2, 5)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrDeadlinePassed, "после дедлайна оценки не принимаются")
	mockRatingRepo.AssertNotCalled(t, "UpsertTx")
}

func TestRatingService_SubmitRating_OwnProphecyForbidden(t *testing.T) {
	// Arrange
	mockProphecyRepo := new(MockProphecyRepository)
	mockRoundRepo := new(MockRoundRepository)
	mockRatingRepo := new(MockRatingRepository)

	mockProphecyRepo.On("GetByID", uint(1)).Return(&entity.Prophecy{ID: 1, CreatorID: 2, RoundID: 3}, nil)
	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{
		ID:                 3,
		SubmissionDeadline: engineBaseTime.Add(24 * time.Hour),
		RatingDeadline:     engineBaseTime.Add(48 * time.Hour),
	}, nil)

	service := createTestRatingServiceWithMocks(mockRatingRepo, mockProphecyRepo, mockRoundRepo, engineBaseTime)

	// Act: пользователь #2 оценивает собственное пророчество
	_, _, err := service.SubmitRating(1, 2, 5)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	mockRatingRepo.AssertNotCalled(t, "UpsertTx")
}

func TestRatingService_SubmitRating_ResolvedProphecyImmutable(t *testing.T) {
	// Arrange
	fulfilled := true
	mockProphecyRepo := new(MockProphecyRepository)
	mockRoundRepo := new(MockRoundRepository)
	mockRatingRepo := new(MockRatingRepository)

	mockProphecyRepo.On("GetByID", uint(1)).Return(&entity.Prophecy{ID: 1, CreatorID: 7, RoundID: 3, Fulfilled: &fulfilled}, nil)
	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{
		ID:                 3,
		SubmissionDeadline: engineBaseTime.Add(24 * time.Hour),
		RatingDeadline:     engineBaseTime.Add(48 * time.Hour),
	}, nil)

	service := createTestRatingServiceWithMocks(mockRatingRepo, mockProphecyRepo, mockRoundRepo, engineBaseTime)

	// Act
	_, _, err := service.SubmitRating(1, 2, 5)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "разрешённое пророчество неизменяемо")
	mockRatingRepo.AssertNotCalled(t, "UpsertTx")
}

func TestRatingService_ListRatings_ProphecyNotFound(t *testing.T) {
	// Arrange
	mockProphecyRepo := new(MockProphecyRepository)
	mockRatingRepo := new(MockRatingRepository)
	mockProphecyRepo.On("GetByID", uint(9)).Return(nil, apperrors.ErrNotFound)

	service := createTestRatingServiceWithMocks(mockRatingRepo, mockProphecyRepo, new(MockRoundRepository), engineBaseTime)

	// Act
	ratings, err := service.ListRatings(9)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Nil(t, ratings)
	mockRatingRepo.AssertNotCalled(t, "ListByProphecy")
}

// ============================================================================
// Тесты транзакционного пути SubmitRating (sqlite)
// ============================================================================

func TestRatingService_SubmitRating_RecomputesAggregates(t *testing.T) {
	// Arrange
	f := setupEngine(t)
	raterA := f.addUser(t, "rater-a", false)
	raterB := f.addUser(t, "rater-b", false)
	raterC := f.addUser(t, "rater-c", false)

	// Act
	_, _, err := f.ratings.SubmitRating(f.prophecy.ID, raterA.ID, 8)
	require.NoError(t, err)
	_, _, err = f.ratings.SubmitRating(f.prophecy.ID, raterB.ID, 4)
	require.NoError(t, err)
	_, updated, err := f.ratings.SubmitRating(f.prophecy.ID, raterC.ID, 6)
	require.NoError(t, err)

	// Assert: возвращённое пророчество несёт агрегаты из последнего пересчета
	assert.Equal(t, 3, updated.RatingCount)
	require.NotNil(t, updated.AverageRating)
	assert.InDelta(t, 6.0, *updated.AverageRating, 0.0001)

	// Строка в базе совпадает с возвращённым снимком
	stored := f.reloadProphecy(t, f.prophecy.ID)
	assert.Equal(t, 3, stored.RatingCount)
	require.NotNil(t, stored.AverageRating)
	assert.InDelta(t, 6.0, *stored.AverageRating, 0.0001)
	assert.Equal(t, int64(3), f.countRatingRows(t, f.prophecy.ID))
}

func TestRatingService_SubmitRating_ZeroIsStoredButNotCounted(t *testing.T) {
	// Arrange
	f := setupEngine(t)
	rater := f.addUser(t, "rater", false)

	// Act: сентинельное значение 0 принимается
	rating, updated, err := f.ratings.SubmitRating(f.prophecy.ID, rater.ID, 0)

	// Assert: строка сохранена, но в агрегаты не входит
	require.NoError(t, err, "значение 0 должно приниматься")
	assert.Equal(t, 0, rating.Value)
	assert.Equal(t, int64(1), f.countRatingRows(t, f.prophecy.ID))
	assert.Equal(t, 0, updated.RatingCount)
	assert.Nil(t, updated.AverageRating, "без учитываемых оценок среднее отсутствует")

	// Повторная запись той же пары делает оценку учитываемой
	_, updated, err = f.ratings.SubmitRating(f.prophecy.ID, rater.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.countRatingRows(t, f.prophecy.ID), "upsert не создает вторую строку")
	assert.Equal(t, 1, updated.RatingCount)
	require.NotNil(t, updated.AverageRating)
	assert.InDelta(t, 5.0, *updated.AverageRating, 0.0001)
}

func TestRatingService_SubmitRating_BotRatingsExcluded(t *testing.T) {
	// Arrange
	f := setupEngine(t)
	bot := f.addUser(t, "oracle-bot", true)
	human := f.addUser(t, "human", false)

	// Act
	_, _, err := f.ratings.SubmitRating(f.prophecy.ID, bot.ID, 10)
	require.NoError(t, err, "оценка бота принимается и хранится")
	_, updated, err := f.ratings.SubmitRating(f.prophecy.ID, human.ID, 4)
	require.NoError(t, err)

	// Assert: обе строки хранятся, в агрегатах только человеческая
	assert.Equal(t, int64(2), f.countRatingRows(t, f.prophecy.ID))
	assert.Equal(t, 1, updated.RatingCount)
	require.NotNil(t, updated.AverageRating)
	assert.InDelta(t, 4.0, *updated.AverageRating, 0.0001)
}

func TestRatingService_SubmitRating_UpdateReplacesValue(t *testing.T) {
	// Arrange
	f := setupEngine(t)
	rater := f.addUser(t, "rater", false)

	// Act
	first, _, err := f.ratings.SubmitRating(f.prophecy.ID, rater.ID, 6)
	require.NoError(t, err)
	second, updated, err := f.ratings.SubmitRating(f.prophecy.ID, rater.ID, 9)
	require.NoError(t, err)

	// Assert: та же строка, новое значение
	assert.Equal(t, first.ID, second.ID, "повторная оценка пары переиспользует строку")
	assert.Equal(t, int64(1), f.countRatingRows(t, f.prophecy.ID))
	assert.Equal(t, 1, updated.RatingCount)
	require.NotNil(t, updated.AverageRating)
	assert.InDelta(t, 9.0, *updated.AverageRating, 0.0001)

	// События: для первой записи rating:created, для повторной rating:updated
	assert.Equal(t, []string{
		websocket.PROPHECY_UPDATED, websocket.RATING_CREATED,
		websocket.PROPHECY_UPDATED, websocket.RATING_UPDATED,
	}, f.broadcaster.EventTypes())

	// Журнал: CREATE, затем UPDATE со старым значением
	entries := f.auditRepo.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, entity.AuditActionCreate, entries[0].Action)
	assert.Equal(t, entity.AuditActionUpdate, entries[1].Action)
	assert.Equal(t, 6, entries[1].OldValue["value"])
	assert.Equal(t, 9, entries[1].NewValue["value"])
}

func TestRatingService_SubmitRating_EventOrder(t *testing.T) {
	// Arrange
	f := setupEngine(t)
	rater := f.addUser(t, "rater", false)

	// Act
	_, _, err := f.ratings.SubmitRating(f.prophecy.ID, rater.ID, 7)
	require.NoError(t, err)

	// Assert: prophecy:updated уходит строго раньше rating:created
	events := f.broadcaster.Events()
	require.Len(t, events, 2)
	assert.Equal(t, websocket.PROPHECY_UPDATED, events[0].Type)
	assert.Equal(t, websocket.RATING_CREATED, events[1].Type)

	// Payload prophecy:updated уже несёт пересчитанные агрегаты
	prophecy, ok := events[0].Data.(*entity.Prophecy)
	require.True(t, ok, "prophecy:updated несёт пророчество")
	assert.Equal(t, 1, prophecy.RatingCount)
	require.NotNil(t, prophecy.AverageRating)
	assert.InDelta(t, 7.0, *prophecy.AverageRating, 0.0001)
}

func TestRatingService_SubmitRating_BroadcastFailureDoesNotFailMutation(t *testing.T) {
	// Arrange
	f := setupEngine(t)
	rater := f.addUser(t, "rater", false)
	f.ratings.broadcaster = failingBroadcaster{}

	// Act
	rating, updated, err := f.ratings.SubmitRating(f.prophecy.ID, rater.ID, 5)

	// Assert: отказ рассылки не всплывает к вызывающему
	require.NoError(t, err)
	require.NotNil(t, rating)
	assert.Equal(t, 1, updated.RatingCount)

	// Запись и агрегаты зафиксированы несмотря на отказ рассылки
	stored := f.reloadProphecy(t, f.prophecy.ID)
	assert.Equal(t, 1, stored.RatingCount)
	require.NotNil(t, stored.AverageRating)
	assert.InDelta(t, 5.0, *stored.AverageRating, 0.0001)
	assert.Equal(t, int64(1), f.countRatingRows(t, f.prophecy.ID))
}

func TestRatingService_SubmitRating_FirstRatingAwardsBadge(t *testing.T) {
	// Arrange
	f := setupEngine(t)
	rater := f.addUser(t, "rater", false)

	// Act
	_, _, err := f.ratings.SubmitRating(f.prophecy.ID, rater.ID, 3)
	require.NoError(t, err)

	// Assert: пороговый бейдж первой оценки выдан после фиксации
	assert.True(t, f.badgeRepo.HasAward(rater.ID, entity.BadgeKeyFirstRating))
}

func TestRatingService_SubmitRating_ConcurrentRatersConverge(t *testing.T) {
	// Arrange
	f := setupEngine(t)
	values := []int{8, -3, 10, 0, 5, -10, 7, 0, 2, -1, 9, 4}
	raters := make([]*entity.User, len(values))
	for i := range values {
		raters[i] = f.addUser(t, fmt.Sprintf("rater-%02d", i), false)
	}

	// Act: все оценщики пишут одновременно
	var wg sync.WaitGroup
	errs := make(chan error, len(values))
	for i := range values {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, err := f.ratings.SubmitRating(f.prophecy.ID, raters[idx].ID, values[idx])
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "конкурентная запись не должна падать")
	}

	// Assert: по строке на пару, агрегаты сходятся к точному пересчету.
	// Два нуля хранятся, но не учитываются: 10 значений, сумма 31.
	assert.Equal(t, int64(len(values)), f.countRatingRows(t, f.prophecy.ID))
	stored := f.reloadProphecy(t, f.prophecy.ID)
	assert.Equal(t, 10, stored.RatingCount)
	require.NotNil(t, stored.AverageRating)
	assert.InDelta(t, 3.1, *stored.AverageRating, 0.0001)
}

func TestRatingService_SubmitRating_ConcurrentSameRaterSingleRow(t *testing.T) {
	// Arrange
	f := setupEngine(t)
	rater := f.addUser(t, "rater", false)
	values := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	// Act: одна пара (prophecy, rater), десять одновременных записей
	var wg sync.WaitGroup
	errs := make(chan error, len(values))
	for _, value := range values {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_, _, err := f.ratings.SubmitRating(f.prophecy.ID, rater.ID, v)
			errs <- err
		}(value)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// Assert: строка одна, победило какое-то из записанных значений,
	// агрегаты согласованы с этой строкой
	require.Equal(t, int64(1), f.countRatingRows(t, f.prophecy.ID), "уникальность пары сериализует записи")

	var winner entity.Rating
	require.NoError(t, f.db.Where("prophecy_id = ? AND user_id = ?", f.prophecy.ID, rater.ID).First(&winner).Error)
	assert.Contains(t, values, winner.Value)

	stored := f.reloadProphecy(t, f.prophecy.ID)
	assert.Equal(t, 1, stored.RatingCount)
	require.NotNil(t, stored.AverageRating)
	assert.InDelta(t, float64(winner.Value), *stored.AverageRating, 0.0001)
}
