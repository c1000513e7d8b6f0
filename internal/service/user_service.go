package service

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	apperrors "github.com/yourusername/prophecy-api/internal/pkg/errors"
	"github.com/yourusername/prophecy-api/pkg/auth"
)

// UserService предоставляет регистрацию, вход и выдачу токенов.
// Идентичность здесь — только источник creator_id/rater_id для движка:
// сессионной механики сверх JWT и WS-тикетов нет.
type UserService struct {
	userRepo   repository.UserRepository
	jwtService *auth.JWTService
}

// NewUserService создает новый сервис пользователей
func NewUserService(userRepo repository.UserRepository, jwtService *auth.JWTService) *UserService {
	return &UserService{
		userRepo:   userRepo,
		jwtService: jwtService,
	}
}

// Register создает пользователя и сразу выдает токен доступа.
// Занятость имени или email обнаруживается вставкой: уникальные индексы
// хранилища возвращают конфликт, предварительной проверки нет.
func (s *UserService) Register(username, email, password string) (*entity.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if len(username) < 3 {
		return nil, "", fmt.Errorf("%w: имя пользователя должно быть не короче 3 символов", apperrors.ErrValidation)
	}
	if !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("%w: некорректный email", apperrors.ErrValidation)
	}
	if len(password) < 8 {
		return nil, "", fmt.Errorf("%w: пароль должен быть не короче 8 символов", apperrors.ErrValidation)
	}

	user := &entity.User{
		Username: username,
		Email:    email,
		Password: password, // хешируется хуком BeforeSave
		Role:     entity.RoleUser,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, "", err
	}

	token, err := s.jwtService.GenerateToken(user)
	if err != nil {
		return nil, "", fmt.Errorf("пользователь создан, но токен не выдан: %w", err)
	}

	log.Printf("[UserService] Зарегистрирован пользователь #%d (%s)", user.ID, user.Username)
	return user, token, nil
}

// Login проверяет учетные данные и выдает токен доступа.
// Неизвестный email и неверный пароль неразличимы для вызывающего.
func (s *UserService) Login(email, password string) (*entity.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: неверный email или пароль", apperrors.ErrUnauthorized)
		}
		return nil, "", err
	}
	if !user.CheckPassword(password) {
		return nil, "", fmt.Errorf("%w: неверный email или пароль", apperrors.ErrUnauthorized)
	}

	token, err := s.jwtService.GenerateToken(user)
	if err != nil {
		return nil, "", fmt.Errorf("не удалось выдать токен: %w", err)
	}
	return user, token, nil
}

// GetByID возвращает пользователя по ID
func (s *UserService) GetByID(id uint) (*entity.User, error) {
	return s.userRepo.GetByID(id)
}

// IssueWSTicket выдает короткоживущий тикет для установки WebSocket-соединения
func (s *UserService) IssueWSTicket(userID uint) (string, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return "", err
	}
	return s.jwtService.GenerateWSTicket(user)
}
