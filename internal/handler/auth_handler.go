package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/prophecy-api/internal/handler/dto"
	"github.com/yourusername/prophecy-api/internal/service"
)

// AuthHandler обрабатывает запросы, связанные с аутентификацией
type AuthHandler struct {
	userService *service.UserService
}

// NewAuthHandler создает новый обработчик аутентификации
func NewAuthHandler(userService *service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// RegisterRequest представляет запрос на регистрацию
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register обрабатывает запрос на регистрацию
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, token, err := h.userService.Register(req.Username, req.Email, req.Password)
	if err != nil {
		respondServiceError(c, "AuthHandler", err)
		return
	}

	log.Printf("[AuthHandler] Пользователь ID=%d (%s) успешно зарегистрирован", user.ID, user.Email)
	c.JSON(http.StatusCreated, dto.NewAuthResponse(user, token))
}

// Login обрабатывает запрос на вход
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, token, err := h.userService.Login(req.Email, req.Password)
	if err != nil {
		respondServiceError(c, "AuthHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAuthResponse(user, token))
}

// WSTicket выдает короткоживущий тикет для подключения к /ws.
// Тикет передается в query-параметре, поэтому access-токен для
// установления WebSocket-соединения не используется напрямую.
func (h *AuthHandler) WSTicket(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	ticket, err := h.userService.IssueWSTicket(userID)
	if err != nil {
		respondServiceError(c, "AuthHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.WSTicketResponse{Ticket: ticket})
}
