package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
)

// ============================================================================
// Моки: MockRoundRepository и MockProphecyRepository определены
// в rating_service_test.go, здесь добавляется только MockCacheRepository
// ============================================================================

// MockCacheRepository реализует repository.CacheRepository
type MockCacheRepository struct {
	mock.Mock
}

func (m *MockCacheRepository) SetJSON(key string, value interface{}, expiration time.Duration) error {
	args := m.Called(key, value, expiration)
	return args.Error(0)
}

func (m *MockCacheRepository) GetJSON(key string, dest interface{}) error {
	args := m.Called(key, dest)
	return args.Error(0)
}

func (m *MockCacheRepository) Delete(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func avgPtr(v float64) *float64 { return &v }

func createTestRoundServiceWithMocks(
	roundRepo *MockRoundRepository,
	prophecyRepo *MockProphecyRepository,
	cacheRepo *MockCacheRepository,
	now time.Time,
) *RoundService {
	return &RoundService{
		roundRepo:    roundRepo,
		prophecyRepo: prophecyRepo,
		cacheRepo:    cacheRepo,
		nowFn:        func() time.Time { return now },
	}
}

// ============================================================================
// Тесты создания раунда
// ============================================================================

func TestRoundService_CreateRound_Success(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	mockRoundRepo.On("Create", mock.AnythingOfType("*entity.Round")).Return(nil).Run(func(args mock.Arguments) {
		args.Get(0).(*entity.Round).ID = 1
	})

	service := createTestRoundServiceWithMocks(mockRoundRepo, new(MockProphecyRepository), new(MockCacheRepository), engineBaseTime)

	// Act
	round, err := service.CreateRound("Весенний раунд",
		engineBaseTime.Add(24*time.Hour),
		engineBaseTime.Add(48*time.Hour),
		engineBaseTime.Add(96*time.Hour))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint(1), round.ID)
	assert.Equal(t, "Весенний раунд", round.Title)
	assert.Nil(t, round.ResultsPublishedAt, "новый раунд не опубликован")
	mockRoundRepo.AssertExpectations(t)
}

func TestRoundService_CreateRound_SubmissionNotBeforeRating(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	service := createTestRoundServiceWithMocks(mockRoundRepo, new(MockProphecyRepository), new(MockCacheRepository), engineBaseTime)

	// Act: дедлайны совпадают
	deadline := engineBaseTime.Add(24 * time.Hour)
	round, err := service.CreateRound("Раунд", deadline, deadline, deadline.Add(time.Hour))

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrValidation, "подача должна закрываться раньше оценки")
	assert.Nil(t, round)
	mockRoundRepo.AssertNotCalled(t, "Create")
}

func TestRoundService_CreateRound_FulfillmentBeforeRating(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	service := createTestRoundServiceWithMocks(mockRoundRepo, new(MockProphecyRepository), new(MockCacheRepository), engineBaseTime)

	// Act
	round, err := service.CreateRound("Раунд",
		engineBaseTime.Add(24*time.Hour),
		engineBaseTime.Add(48*time.Hour),
		engineBaseTime.Add(36*time.Hour))

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Nil(t, round)
	mockRoundRepo.AssertNotCalled(t, "Create")
}

func TestRoundService_CreateRound_EmptyTitle(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	service := createTestRoundServiceWithMocks(mockRoundRepo, new(MockProphecyRepository), new(MockCacheRepository), engineBaseTime)

	// Act
	_, err := service.CreateRound("", engineBaseTime.Add(24*time.Hour), engineBaseTime.Add(48*time.Hour), engineBaseTime.Add(96*time.Hour))

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	mockRoundRepo.AssertNotCalled(t, "Create")
}

// ============================================================================
// Тесты публикации результатов
// ============================================================================

func TestRoundService_PublishResults_RatingWindowStillOpen(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{
		ID:                 3,
		SubmissionDeadline: engineBaseTime.Add(-24 * time.Hour),
		RatingDeadline:     engineBaseTime.Add(time.Hour),
	}, nil)

	service := createTestRoundServiceWithMocks(mockRoundRepo, new(MockProphecyRepository), new(MockCacheRepository), engineBaseTime)

	// Act
	_, err := service.PublishResults(3)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrConflict, "публикация до закрытия окна оценки запрещена")
	mockRoundRepo.AssertNotCalled(t, "Update")
}

func TestRoundService_PublishResults_AlreadyPublished(t *testing.T) {
	// Arrange
	publishedAt := engineBaseTime.Add(-time.Hour)
	mockRoundRepo := new(MockRoundRepository)
	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{
		ID:                 3,
		SubmissionDeadline: engineBaseTime.Add(-72 * time.Hour),
		RatingDeadline:     engineBaseTime.Add(-24 * time.Hour),
		ResultsPublishedAt: &publishedAt,
	}, nil)

	service := createTestRoundServiceWithMocks(mockRoundRepo, new(MockProphecyRepository), new(MockCacheRepository), engineBaseTime)

	// Act
	_, err := service.PublishResults(3)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	mockRoundRepo.AssertNotCalled(t, "Update")
}

func TestRoundService_PublishResults_SetsTimestampAndInvalidatesCache(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	mockCacheRepo := new(MockCacheRepository)
	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{
		ID:                 3,
		SubmissionDeadline: engineBaseTime.Add(-72 * time.Hour),
		RatingDeadline:     engineBaseTime.Add(-24 * time.Hour),
	}, nil)
	mockRoundRepo.On("Update", mock.AnythingOfType("*entity.Round")).Return(nil)
	mockCacheRepo.On("Delete", "round:3:leaderboard").Return(nil)

	service := createTestRoundServiceWithMocks(mockRoundRepo, new(MockProphecyRepository), mockCacheRepo, engineBaseTime)

	// Act
	round, err := service.PublishResults(3)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, round.ResultsPublishedAt)
	assert.Equal(t, engineBaseTime, *round.ResultsPublishedAt)
	mockRoundRepo.AssertExpectations(t)
	mockCacheRepo.AssertExpectations(t)
}

// ============================================================================
// Тесты лидерборда
// ============================================================================

func TestRoundService_GetLeaderboard_CacheHit(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	mockProphecyRepo := new(MockProphecyRepository)
	mockCacheRepo := new(MockCacheRepository)

	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{ID: 3}, nil)
	cached := []repository.LeaderboardEntry{
		{UserID: 1, Username: "first", AccurateCount: 5, AvgRating: avgPtr(7.5)},
		{UserID: 2, Username: "second", AccurateCount: 3, AvgRating: avgPtr(6.0)},
		{UserID: 3, Username: "third", AccurateCount: 1},
	}
	mockCacheRepo.On("GetJSON", "round:3:leaderboard", mock.Anything).Run(func(args mock.Arguments) {
		dest := args.Get(1).(*[]repository.LeaderboardEntry)
		*dest = cached
	}).Return(nil)

	service := createTestRoundServiceWithMocks(mockRoundRepo, mockProphecyRepo, mockCacheRepo, engineBaseTime)

	// Act: запрошено меньше канонического снимка
	entries, err := service.GetLeaderboard(3, 2)

	// Assert: снимок нарезается под limit, хранилище не трогается
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Username)
	assert.Equal(t, "second", entries[1].Username)
	mockProphecyRepo.AssertNotCalled(t, "GetRoundLeaderboard")
}

func TestRoundService_GetLeaderboard_CacheMissBuildsSnapshot(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	mockProphecyRepo := new(MockProphecyRepository)
	mockCacheRepo := new(MockCacheRepository)

	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{ID: 3}, nil)
	mockCacheRepo.On("GetJSON", "round:3:leaderboard", mock.Anything).Return(apperrors.ErrNotFound)

	built := []repository.LeaderboardEntry{
		{UserID: 1, Username: "first", AccurateCount: 5},
		{UserID: 2, Username: "second", AccurateCount: 3},
		{UserID: 3, Username: "third", AccurateCount: 1},
	}
	// Снимок строится каноническим размером независимо от запрошенного limit
	mockProphecyRepo.On("GetRoundLeaderboard", uint(3), 100).Return(built, nil)
	// Для неопубликованного раунда снимок живёт недолго
	mockCacheRepo.On("SetJSON", "round:3:leaderboard", built, 5*time.Minute).Return(nil)

	service := createTestRoundServiceWithMocks(mockRoundRepo, mockProphecyRepo, mockCacheRepo, engineBaseTime)

	// Act
	entries, err := service.GetLeaderboard(3, 2)

	// Assert
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Username)
	mockProphecyRepo.AssertExpectations(t)
	mockCacheRepo.AssertExpectations(t)
}

func TestRoundService_GetLeaderboard_PublishedRoundLongTTL(t *testing.T) {
	// Arrange
	publishedAt := engineBaseTime.Add(-time.Hour)
	mockRoundRepo := new(MockRoundRepository)
	mockProphecyRepo := new(MockProphecyRepository)
	mockCacheRepo := new(MockCacheRepository)

	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{ID: 3, ResultsPublishedAt: &publishedAt}, nil)
	mockCacheRepo.On("GetJSON", "round:3:leaderboard", mock.Anything).Return(apperrors.ErrNotFound)
	built := []repository.LeaderboardEntry{{UserID: 1, Username: "first"}}
	mockProphecyRepo.On("GetRoundLeaderboard", uint(3), 100).Return(built, nil)
	// После публикации лидерборд меняется только новым разрешением, TTL длиннее
	mockCacheRepo.On("SetJSON", "round:3:leaderboard", built, time.Hour).Return(nil)

	service := createTestRoundServiceWithMocks(mockRoundRepo, mockProphecyRepo, mockCacheRepo, engineBaseTime)

	// Act
	_, err := service.GetLeaderboard(3, 10)

	// Assert
	require.NoError(t, err)
	mockCacheRepo.AssertExpectations(t)
}

// ============================================================================
// Тесты выгрузки
// ============================================================================

func TestRoundService_LeaderboardForExport_UnpublishedConflict(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	mockProphecyRepo := new(MockProphecyRepository)
	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{ID: 3}, nil)

	service := createTestRoundServiceWithMocks(mockRoundRepo, mockProphecyRepo, new(MockCacheRepository), engineBaseTime)

	// Act
	_, _, err := service.LeaderboardForExport(3)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrConflict, "выгрузка до публикации запрещена")
	mockProphecyRepo.AssertNotCalled(t, "GetRoundLeaderboard")
}

func TestRoundService_LeaderboardForExport_ReadsStorageDirectly(t *testing.T) {
	// Arrange
	publishedAt := engineBaseTime.Add(-time.Hour)
	mockRoundRepo := new(MockRoundRepository)
	mockProphecyRepo := new(MockProphecyRepository)
	mockCacheRepo := new(MockCacheRepository)
	mockRoundRepo.On("GetByID", uint(3)).Return(&entity.Round{ID: 3, Title: "Раунд", ResultsPublishedAt: &publishedAt}, nil)
	built := []repository.LeaderboardEntry{{UserID: 1, Username: "first", AvgRating: avgPtr(8.25)}}
	mockProphecyRepo.On("GetRoundLeaderboard", uint(3), 1000).Return(built, nil)

	service := createTestRoundServiceWithMocks(mockRoundRepo, mockProphecyRepo, mockCacheRepo, engineBaseTime)

	// Act
	round, entries, err := service.LeaderboardForExport(3)

	// Assert: выгрузка читает хранилище, минуя кеш
	require.NoError(t, err)
	assert.Equal(t, "Раунд", round.Title)
	assert.Equal(t, built, entries)
	mockCacheRepo.AssertNotCalled(t, "GetJSON")
	mockCacheRepo.AssertNotCalled(t, "SetJSON")
}

// ============================================================================
// Тесты списка раундов
// ============================================================================

func TestRoundService_ListRounds_ClampsPagination(t *testing.T) {
	// Arrange
	mockRoundRepo := new(MockRoundRepository)
	mockRoundRepo.On("List", 20, 0).Return([]entity.Round{}, int64(0), nil).Twice()

	service := createTestRoundServiceWithMocks(mockRoundRepo, new(MockProphecyRepository), new(MockCacheRepository), engineBaseTime)

	// Act
	_, _, err := service.ListRounds(-1, -7)
	require.NoError(t, err)
	_, _, err = service.ListRounds(500, 0)
	require.NoError(t, err)

	// Assert
	mockRoundRepo.AssertExpectations(t)
}
