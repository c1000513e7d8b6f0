package dto

import (
	"time"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
)

// UserResponse представляет пользователя в формате для ответа клиенту.
// Хеш пароля и роль наружу не отдаются.
type UserResponse struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthResponse объединяет пользователя и выданный токен доступа
type AuthResponse struct {
	User  *UserResponse `json:"user"`
	Token string        `json:"token"`
}

// WSTicketResponse содержит короткоживущий тикет для WebSocket
type WSTicketResponse struct {
	Ticket string `json:"ticket"`
}

// NewUserResponse создает DTO для пользователя
func NewUserResponse(user *entity.User) *UserResponse {
	if user == nil {
		return nil
	}
	return &UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		IsBot:     user.IsBot,
		CreatedAt: user.CreatedAt,
	}
}

// NewAuthResponse создает DTO для ответа регистрации или входа
func NewAuthResponse(user *entity.User, token string) *AuthResponse {
	return &AuthResponse{
		User:  NewUserResponse(user),
		Token: token,
	}
}
