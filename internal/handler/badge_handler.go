package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/prophecy-api/internal/handler/dto"
	"github.com/yourusername/prophecy-api/internal/service"
)

// BadgeHandler обрабатывает запросы к каталогу бейджей
type BadgeHandler struct {
	badgeService *service.BadgeService
}

// NewBadgeHandler создает новый обработчик бейджей
func NewBadgeHandler(badgeService *service.BadgeService) *BadgeHandler {
	return &BadgeHandler{badgeService: badgeService}
}

// ListBadges возвращает полный каталог бейджей
func (h *BadgeHandler) ListBadges(c *gin.Context) {
	badges, err := h.badgeService.ListBadges()
	if err != nil {
		respondServiceError(c, "BadgeHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListBadgeResponse(badges))
}
