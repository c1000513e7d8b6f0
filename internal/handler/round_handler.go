package handler

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/domain/repository"
	"github.com/yourusername/prophecy-api/internal/handler/dto"
	"github.com/yourusername/prophecy-api/internal/handler/helper"
	"github.com/yourusername/prophecy-api/internal/service"
)

// RoundHandler обрабатывает запросы, связанные с раундами и лидербордом
type RoundHandler struct {
	roundService *service.RoundService
}

// NewRoundHandler создает новый обработчик раундов
func NewRoundHandler(roundService *service.RoundService) *RoundHandler {
	return &RoundHandler{roundService: roundService}
}

// CreateRoundRequest представляет запрос на создание раунда
type CreateRoundRequest struct {
	Title              string    `json:"title" binding:"required,min=3,max=200"`
	SubmissionDeadline time.Time `json:"submission_deadline" binding:"required"`
	RatingDeadline     time.Time `json:"rating_deadline" binding:"required"`
	FulfillmentDate    time.Time `json:"fulfillment_date" binding:"required"`
}

// CreateRound обрабатывает запрос на создание раунда (только админ)
func (h *RoundHandler) CreateRound(c *gin.Context) {
	var req CreateRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	round, err := h.roundService.CreateRound(req.Title, req.SubmissionDeadline, req.RatingDeadline, req.FulfillmentDate)
	if err != nil {
		respondServiceError(c, "RoundHandler", err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewRoundResponse(round))
}

// GetRound обрабатывает запрос на получение раунда
func (h *RoundHandler) GetRound(c *gin.Context) {
	roundID := c.MustGet("roundID").(uint)

	round, err := h.roundService.GetRound(roundID)
	if err != nil {
		respondServiceError(c, "RoundHandler", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewRoundResponse(round))
}

// ListRounds обрабатывает запрос на список раундов с пагинацией
func (h *RoundHandler) ListRounds(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	limit, offset := helper.PageToLimitOffset(page, pageSize, 20, 100)

	rounds, total, err := h.roundService.ListRounds(limit, offset)
	if err != nil {
		respondServiceError(c, "RoundHandler", err)
		return
	}

	if page < 1 {
		page = 1
	}
	c.JSON(http.StatusOK, dto.NewPaginatedRoundResponse(rounds, total, page, limit))
}

// PublishResults отмечает результаты раунда опубликованными (только админ)
func (h *RoundHandler) PublishResults(c *gin.Context) {
	roundID := c.MustGet("roundID").(uint)

	round, err := h.roundService.PublishResults(roundID)
	if err != nil {
		respondServiceError(c, "RoundHandler", err)
		return
	}

	log.Printf("[RoundHandler] Результаты раунда #%d опубликованы", roundID)
	c.JSON(http.StatusOK, dto.NewRoundResponse(round))
}

// GetLeaderboard обрабатывает запрос на лидерборд раунда
func (h *RoundHandler) GetLeaderboard(c *gin.Context) {
	roundID := c.MustGet("roundID").(uint)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 {
		limit = 10
	}

	entries, err := h.roundService.GetLeaderboard(roundID, limit)
	if err != nil {
		respondServiceError(c, "RoundHandler", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"round_id":    roundID,
		"leaderboard": entries,
	})
}

// ExportLeaderboard экспортирует лидерборд раунда в CSV или Excel формате
// GET /api/rounds/:id/export?format=csv|xlsx
func (h *RoundHandler) ExportLeaderboard(c *gin.Context) {
	roundID := c.MustGet("roundID").(uint)
	format := c.DefaultQuery("format", "csv")

	round, entries, err := h.roundService.LeaderboardForExport(roundID)
	if err != nil {
		respondServiceError(c, "RoundHandler", err)
		return
	}

	filename := fmt.Sprintf("round_%d_leaderboard_%s", roundID, time.Now().Format("2006-01-02"))

	switch format {
	case "xlsx":
		h.exportXLSX(c, entries, round, filename)
	default:
		h.exportCSV(c, entries, round, filename)
	}
}

// exportCSV экспортирует лидерборд в CSV с правильным экранированием спецсимволов
func (h *RoundHandler) exportCSV(c *gin.Context, entries []repository.LeaderboardEntry, round *entity.Round, filename string) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.csv\"", filename))

	// BOM для корректного отображения UTF-8 в Excel
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	// Используем encoding/csv для правильного экранирования запятых/кавычек
	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	// Заголовки
	writer.Write([]string{"Место", "Пользователь", "Пророчеств", "Разрешено", "Сбывшихся", "Средняя оценка"})

	// Данные
	for i, e := range entries {
		writer.Write([]string{
			strconv.Itoa(i + 1),
			sanitizeForExcel(e.Username),
			strconv.FormatInt(e.ProphecyCount, 10),
			strconv.FormatInt(e.ResolvedCount, 10),
			strconv.FormatInt(e.AccurateCount, 10),
			helper.FormatAverage(e.AvgRating),
		})
	}
}

// exportXLSX экспортирует лидерборд в Excel с использованием StreamWriter
func (h *RoundHandler) exportXLSX(c *gin.Context, entries []repository.LeaderboardEntry, round *entity.Round, filename string) {
	// Используем StreamWriter для эффективной работы с большими файлами
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.xlsx\"", filename))

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Лидерборд"
	f.SetSheetName("Sheet1", sheetName)

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		log.Printf("[RoundHandler] Ошибка создания StreamWriter: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}

	// Заголовки
	headers := []interface{}{"Место", "Пользователь", "Пророчеств", "Разрешено", "Сбывшихся", "Средняя оценка"}
	if err := sw.SetRow("A1", headers); err != nil {
		log.Printf("[RoundHandler] Ошибка записи заголовков: %v", err)
	}

	// Данные
	for i, e := range entries {
		rowNum := i + 2 // Начинаем с 2 строки (1 - заголовки)
		cell := fmt.Sprintf("A%d", rowNum)

		avg := ""
		if e.AvgRating != nil {
			avg = helper.FormatAverage(e.AvgRating)
		}

		row := []interface{}{i + 1, sanitizeForExcel(e.Username), e.ProphecyCount, e.ResolvedCount, e.AccurateCount, avg}
		if err := sw.SetRow(cell, row); err != nil {
			log.Printf("[RoundHandler] Ошибка записи строки %d: %v", rowNum, err)
		}
	}

	if err := sw.Flush(); err != nil {
		log.Printf("[RoundHandler] Ошибка при Flush: %v", err)
	}

	// Записываем в response
	if err := f.Write(c.Writer); err != nil {
		log.Printf("[RoundHandler] Ошибка записи Excel в response: %v", err)
	}
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	// Символы, начинающие формулу в Excel/LibreOffice: = + - @ \t \r
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}
