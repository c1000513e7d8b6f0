package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
	"github.com/yourusername/prophecy-api/pkg/auth"
)

// ============================================================================
// Мок репозитория пользователей
// ============================================================================

// MockUserRepository реализует repository.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(user *entity.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(id uint) (*entity.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(email string) (*entity.User, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) GetByUsername(username string) (*entity.User, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func testJWTService(t *testing.T) *auth.JWTService {
	t.Helper()
	jwtService, err := auth.NewJWTService("test-secret-key", 1, 60)
	require.NoError(t, err)
	return jwtService
}

func createTestUserServiceWithMocks(userRepo *MockUserRepository, jwtService *auth.JWTService) *UserService {
	return &UserService{
		userRepo:   userRepo,
		jwtService: jwtService,
	}
}

// ============================================================================
// Тесты регистрации
// ============================================================================

func TestUserService_Register_Success(t *testing.T) {
	// Arrange
	mockUserRepo := new(MockUserRepository)
	mockUserRepo.On("Create", mock.AnythingOfType("*entity.User")).Return(nil).Run(func(args mock.Arguments) {
		args.Get(0).(*entity.User).ID = 7
	})
	jwtService := testJWTService(t)
	service := createTestUserServiceWithMocks(mockUserRepo, jwtService)

	// Act
	user, token, err := service.Register("  seer  ", "  Seer@Example.COM ", "password123")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint(7), user.ID)
	assert.Equal(t, "seer", user.Username, "имя нормализуется")
	assert.Equal(t, "seer@example.com", user.Email, "email приводится к нижнему регистру")
	assert.Equal(t, entity.RoleUser, user.Role)

	claims, err := jwtService.ParseToken(token)
	require.NoError(t, err, "выданный токен должен быть токеном доступа")
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, entity.RoleUser, claims.Role)
	mockUserRepo.AssertExpectations(t)
}

func TestUserService_Register_UsernameTooShort(t *testing.T) {
	// Arrange
	mockUserRepo := new(MockUserRepository)
	service := createTestUserServiceWithMocks(mockUserRepo, testJWTService(t))

	// Act
	_, _, err := service.Register("ab", "seer@example.com", "password123")

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	mockUserRepo.AssertNotCalled(t, "Create")
}

func TestUserService_Register_EmailWithoutAt(t *testing.T) {
	// Arrange
	mockUserRepo := new(MockUserRepository)
	service := createTestUserServiceWithMocks(mockUserRepo, testJWTService(t))

	// Act
	_, _, err := service.Register("seer", "not-an-email", "password123")

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	mockUserRepo.AssertNotCalled(t, "Create")
}

func TestUserService_Register_PasswordTooShort(t *testing.T) {
	// Arrange
	mockUserRepo := new(MockUserRepository)
	service := createTestUserServiceWithMocks(mockUserRepo, testJWTService(t))

	// Act
	_, _, err := service.Register("seer", "seer@example.com", "short")

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	mockUserRepo.AssertNotCalled(t, "Create")
}

func TestUserService_Register_DuplicateDetectedByInsert(t *testing.T) {
	// Arrange: занятость обнаруживает сама вставка, предварительных SELECT нет
	mockUserRepo := new(MockUserRepository)
	mockUserRepo.On("Create", mock.AnythingOfType("*entity.User")).
		Return(fmt.Errorf("%w: имя пользователя уже занято", apperrors.ErrConflict))
	service := createTestUserServiceWithMocks(mockUserRepo, testJWTService(t))

	// Act
	_, _, err := service.Register("seer", "seer@example.com", "password123")

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	mockUserRepo.AssertNotCalled(t, "GetByEmail")
	mockUserRepo.AssertNotCalled(t, "GetByUsername")
}

// ============================================================================
// Тесты входа
// ============================================================================

func TestUserService_Login_Success(t *testing.T) {
	// Arrange
	user := &entity.User{
		ID:       5,
		Username: "seer",
		Email:    "seer@example.com",
		Password: "correct-password",
		Role:     entity.RoleUser,
	}
	require.NoError(t, user.BeforeSave(nil), "хук должен захешировать пароль")

	mockUserRepo := new(MockUserRepository)
	mockUserRepo.On("GetByEmail", "seer@example.com").Return(user, nil)
	jwtService := testJWTService(t)
	service := createTestUserServiceWithMocks(mockUserRepo, jwtService)

	// Act: email нормализуется перед поиском
	loggedIn, token, err := service.Login(" Seer@Example.com ", "correct-password")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint(5), loggedIn.ID)
	claims, err := jwtService.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(5), claims.UserID)
	mockUserRepo.AssertExpectations(t)
}

func TestUserService_Login_UnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	// Arrange
	user := &entity.User{ID: 5, Email: "seer@example.com", Password: "correct-password", Role: entity.RoleUser}
	require.NoError(t, user.BeforeSave(nil))

	mockUserRepo := new(MockUserRepository)
	mockUserRepo.On("GetByEmail", "ghost@example.com").Return(nil, apperrors.ErrNotFound)
	mockUserRepo.On("GetByEmail", "seer@example.com").Return(user, nil)
	service := createTestUserServiceWithMocks(mockUserRepo, testJWTService(t))

	// Act
	_, _, errUnknown := service.Login("ghost@example.com", "whatever-pass")
	_, _, errWrong := service.Login("seer@example.com", "bad-password")

	// Assert: ответ не раскрывает, существует ли email
	assert.ErrorIs(t, errUnknown, apperrors.ErrUnauthorized)
	assert.ErrorIs(t, errWrong, apperrors.ErrUnauthorized)
	assert.Equal(t, errUnknown.Error(), errWrong.Error(), "тексты ошибок должны совпадать")
}

// ============================================================================
// Тесты WebSocket-тикетов
// ============================================================================

func TestUserService_IssueWSTicket_UsageRestricted(t *testing.T) {
	// Arrange
	user := &entity.User{ID: 5, Email: "seer@example.com", Role: entity.RoleUser}
	mockUserRepo := new(MockUserRepository)
	mockUserRepo.On("GetByID", uint(5)).Return(user, nil)
	jwtService := testJWTService(t)
	service := createTestUserServiceWithMocks(mockUserRepo, jwtService)

	// Act
	ticket, err := service.IssueWSTicket(5)

	// Assert: тикет принимается только WS-каналом
	require.NoError(t, err)
	claims, err := jwtService.ParseWSTicket(ticket)
	require.NoError(t, err)
	assert.Equal(t, uint(5), claims.UserID)

	_, err = jwtService.ParseToken(ticket)
	assert.ErrorIs(t, err, auth.ErrWrongUsage, "тикет не должен работать как токен доступа")
}

func TestUserService_IssueWSTicket_UnknownUser(t *testing.T) {
	// Arrange
	mockUserRepo := new(MockUserRepository)
	mockUserRepo.On("GetByID", uint(42)).Return(nil, apperrors.ErrNotFound)
	service := createTestUserServiceWithMocks(mockUserRepo, testJWTService(t))

	// Act
	_, err := service.IssueWSTicket(42)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
