package handler

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/prophecy-api/internal/handler/dto"
	"github.com/yourusername/prophecy-api/internal/handler/helper"
	"github.com/yourusername/prophecy-api/internal/service"
)

// ProphecyHandler обрабатывает запросы, связанные с пророчествами и оценками
type ProphecyHandler struct {
	prophecyService *service.ProphecyService
	ratingService   *service.RatingService
}

// NewProphecyHandler создает новый обработчик пророчеств
func NewProphecyHandler(prophecyService *service.ProphecyService, ratingService *service.RatingService) *ProphecyHandler {
	return &ProphecyHandler{
		prophecyService: prophecyService,
		ratingService:   ratingService,
	}
}

// CreateProphecyRequest представляет запрос на создание пророчества
type CreateProphecyRequest struct {
	RoundID     uint   `json:"round_id" binding:"required"`
	Title       string `json:"title" binding:"required,min=3,max=200"`
	Description string `json:"description" binding:"max=2000"`
}

// UpdateProphecyRequest представляет запрос на редактирование пророчества
type UpdateProphecyRequest struct {
	Title       string `json:"title" binding:"required,min=3,max=200"`
	Description string `json:"description" binding:"max=2000"`
}

// ResolveProphecyRequest представляет запрос на разрешение пророчества.
// Fulfilled — указатель, чтобы явное false не считалось отсутствием поля.
type ResolveProphecyRequest struct {
	Fulfilled *bool `json:"fulfilled" binding:"required"`
}

// SubmitRatingRequest представляет запрос на выставление оценки.
// Value — указатель: 0 — допустимое значение-сентинель, а не пропуск поля.
type SubmitRatingRequest struct {
	Value *int `json:"value" binding:"required,min=-10,max=10"`
}

// CreateProphecy обрабатывает запрос на создание пророчества
func (h *ProphecyHandler) CreateProphecy(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	var req CreateProphecyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prophecy, err := h.prophecyService.CreateProphecy(userID, req.RoundID, req.Title, req.Description)
	if err != nil {
		respondServiceError(c, "ProphecyHandler", err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewProphecyResponse(prophecy))
}

// GetProphecy обрабатывает запрос на получение пророчества
func (h *ProphecyHandler) GetProphecy(c *gin.Context) {
	prophecyID := c.MustGet("prophecyID").(uint)

	prophecy, err := h.prophecyService.GetProphecy(prophecyID)
	if err != nil {
		respondServiceError(c, "ProphecyHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewProphecyResponse(prophecy))
}

// ListRoundProphecies обрабатывает запрос на список пророчеств раунда
func (h *ProphecyHandler) ListRoundProphecies(c *gin.Context) {
	roundID := c.MustGet("roundID").(uint)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	limit, offset := helper.PageToLimitOffset(page, pageSize, 20, 100)

	prophecies, total, err := h.prophecyService.ListByRound(roundID, limit, offset)
	if err != nil {
		respondServiceError(c, "ProphecyHandler", err)
		return
	}

	if page < 1 {
		page = 1
	}
	c.JSON(http.StatusOK, dto.NewPaginatedProphecyResponse(prophecies, total, page, limit))
}

// UpdateProphecy обрабатывает запрос на редактирование пророчества.
// Все существующие оценки при этом удаляются, агрегаты сбрасываются.
func (h *ProphecyHandler) UpdateProphecy(c *gin.Context) {
	prophecyID := c.MustGet("prophecyID").(uint)
	userID := c.MustGet("user_id").(uint)

	var req UpdateProphecyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prophecy, err := h.prophecyService.EditProphecy(prophecyID, userID, req.Title, req.Description)
	if err != nil {
		respondServiceError(c, "ProphecyHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewProphecyResponse(prophecy))
}

// DeleteProphecy обрабатывает запрос на удаление пророчества
func (h *ProphecyHandler) DeleteProphecy(c *gin.Context) {
	prophecyID := c.MustGet("prophecyID").(uint)
	userID := c.MustGet("user_id").(uint)
	role := c.MustGet("role").(string)

	if err := h.prophecyService.DeleteProphecy(prophecyID, userID, role); err != nil {
		respondServiceError(c, "ProphecyHandler", err)
		return
	}

	log.Printf("[ProphecyHandler] Пророчество #%d удалено пользователем ID=%d", prophecyID, userID)
	c.JSON(http.StatusOK, gin.H{"message": "Prophecy deleted"})
}

// ResolveProphecy обрабатывает запрос на разрешение пророчества (только админ)
func (h *ProphecyHandler) ResolveProphecy(c *gin.Context) {
	prophecyID := c.MustGet("prophecyID").(uint)
	adminID := c.MustGet("user_id").(uint)

	var req ResolveProphecyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prophecy, err := h.prophecyService.ResolveProphecy(prophecyID, adminID, *req.Fulfilled)
	if err != nil {
		respondServiceError(c, "ProphecyHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewProphecyResponse(prophecy))
}

// SubmitRating обрабатывает запрос на выставление оценки пророчеству
func (h *ProphecyHandler) SubmitRating(c *gin.Context) {
	prophecyID := c.MustGet("prophecyID").(uint)
	userID := c.MustGet("user_id").(uint)

	var req SubmitRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rating, prophecy, err := h.ratingService.SubmitRating(prophecyID, userID, *req.Value)
	if err != nil {
		respondServiceError(c, "ProphecyHandler", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rating":   dto.NewRatingResponse(rating),
		"prophecy": dto.NewProphecyResponse(prophecy),
	})
}

// ListRatings обрабатывает запрос на список оценок пророчества
func (h *ProphecyHandler) ListRatings(c *gin.Context) {
	prophecyID := c.MustGet("prophecyID").(uint)

	ratings, err := h.ratingService.ListRatings(prophecyID)
	if err != nil {
		respondServiceError(c, "ProphecyHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListRatingResponse(ratings))
}
