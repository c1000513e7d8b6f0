package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
)

// Ошибки разбора токенов
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrWrongUsage   = errors.New("token usage mismatch")
)

// Usage-значения токенов. Тикет для WebSocket короткоживущий и
// не принимается обычным HTTP middleware.
const (
	UsageAccess   = "access"
	UsageWSTicket = "websocket_auth"
)

// JWTCustomClaims содержит пользовательские поля для токена
type JWTCustomClaims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Usage  string `json:"usage,omitempty"`
	jwt.RegisteredClaims
}

// JWTService предоставляет методы для работы с JWT
type JWTService struct {
	secret         []byte
	expirationHrs  int
	wsTicketExpiry time.Duration
}

// NewJWTService создает новый сервис JWT и возвращает ошибку при проблемах
func NewJWTService(secret string, expirationHrs int, wsTicketExpirySec int) (*JWTService, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if expirationHrs <= 0 {
		expirationHrs = 24
	}
	wsExpiry := time.Duration(wsTicketExpirySec) * time.Second
	if wsExpiry <= 0 {
		wsExpiry = 60 * time.Second
	}

	return &JWTService{
		secret:         []byte(secret),
		expirationHrs:  expirationHrs,
		wsTicketExpiry: wsExpiry,
	}, nil
}

// GenerateToken создает токен доступа для пользователя
func (s *JWTService) GenerateToken(user *entity.User) (string, error) {
	return s.generate(user, UsageAccess, time.Hour*time.Duration(s.expirationHrs))
}

// GenerateWSTicket создает короткоживущий тикет для установки WebSocket-соединения.
// Тикет передается в query-параметре, поэтому его время жизни минимально.
func (s *JWTService) GenerateWSTicket(user *entity.User) (string, error) {
	return s.generate(user, UsageWSTicket, s.wsTicketExpiry)
}

func (s *JWTService) generate(user *entity.User, usage string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTCustomClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Usage:  usage,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "prophecy-api",
			Subject:   fmt.Sprintf("%d", user.ID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		log.Printf("[JWT] Ошибка подписи токена для пользователя ID=%d: %v", user.ID, err)
		return "", err
	}
	return signed, nil
}

// ParseToken проверяет токен доступа и возвращает его claims
func (s *JWTService) ParseToken(tokenString string) (*JWTCustomClaims, error) {
	return s.parse(tokenString, UsageAccess)
}

// ParseWSTicket проверяет WebSocket-тикет и возвращает его claims
func (s *JWTService) ParseWSTicket(ticket string) (*JWTCustomClaims, error) {
	return s.parse(ticket, UsageWSTicket)
}

func (s *JWTService) parse(tokenString string, expectedUsage string) (*JWTCustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTCustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Принимаем только HMAC: подмена алгоритма в заголовке не проходит
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTCustomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Пустой usage в старых токенах трактуем как access
	usage := claims.Usage
	if usage == "" {
		usage = UsageAccess
	}
	if usage != expectedUsage {
		return nil, ErrWrongUsage
	}

	return claims, nil
}
