package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/prophecy-api/internal/handler/dto"
	"github.com/yourusername/prophecy-api/internal/service"
)

// UserHandler обрабатывает запросы, связанные с пользователями
type UserHandler struct {
	userService  *service.UserService
	badgeService *service.BadgeService
}

// NewUserHandler создает новый обработчик пользователей
func NewUserHandler(userService *service.UserService, badgeService *service.BadgeService) *UserHandler {
	return &UserHandler{
		userService:  userService,
		badgeService: badgeService,
	}
}

// GetMe возвращает профиль текущего пользователя
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	user, err := h.userService.GetByID(userID)
	if err != nil {
		respondServiceError(c, "UserHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserResponse(user))
}

// GetUserBadges возвращает бейджи пользователя вместе с описанием каждого
func (h *UserHandler) GetUserBadges(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	details, err := h.badgeService.ListUserBadges(userID)
	if err != nil {
		respondServiceError(c, "UserHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListUserBadgeResponse(details))
}
