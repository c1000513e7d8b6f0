package dto

import (
	"time"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
	"github.com/yourusername/prophecy-api/internal/service"
)

// ProphecyResponse представляет пророчество в формате для ответа клиенту.
// Тот же вид уходит в data событий prophecy:*, поэтому REST и поток
// событий остаются взаимозаменяемыми для клиента.
type ProphecyResponse struct {
	ID            uint       `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	CreatorID     uint       `json:"creator_id"`
	RoundID       uint       `json:"round_id"`
	Fulfilled     *bool      `json:"fulfilled"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	AverageRating *float64   `json:"average_rating"`
	RatingCount   int        `json:"rating_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RatingResponse представляет оценку в формате для ответа клиенту
type RatingResponse struct {
	ID         uint      `json:"id"`
	ProphecyID uint      `json:"prophecy_id"`
	UserID     uint      `json:"user_id"`
	Value      int       `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoundResponse представляет раунд в формате для ответа клиенту
type RoundResponse struct {
	ID                 uint       `json:"id"`
	Title              string     `json:"title"`
	SubmissionDeadline time.Time  `json:"submission_deadline"`
	RatingDeadline     time.Time  `json:"rating_deadline"`
	FulfillmentDate    time.Time  `json:"fulfillment_date"`
	ResultsPublishedAt *time.Time `json:"results_published_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// BadgeResponse представляет определение бейджа из каталога
type BadgeResponse struct {
	ID          uint   `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Rarity      string `json:"rarity"`
	Threshold   int    `json:"threshold"`
}

// UserBadgeResponse представляет выданный бейдж вместе с его определением
type UserBadgeResponse struct {
	ID       uint          `json:"id"`
	BadgeID  uint          `json:"badge_id"`
	EarnedAt time.Time     `json:"earned_at"`
	Badge    BadgeResponse `json:"badge"`
}

// PaginatedProphecyResponse представляет страницу пророчеств раунда
type PaginatedProphecyResponse struct {
	Prophecies []*ProphecyResponse `json:"prophecies"`
	Total      int64               `json:"total"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
}

// PaginatedRoundResponse представляет страницу раундов
type PaginatedRoundResponse struct {
	Rounds  []*RoundResponse `json:"rounds"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

// NewProphecyResponse создает DTO для пророчества
func NewProphecyResponse(prophecy *entity.Prophecy) *ProphecyResponse {
	if prophecy == nil {
		return nil
	}
	return &ProphecyResponse{
		ID:            prophecy.ID,
		Title:         prophecy.Title,
		Description:   prophecy.Description,
		CreatorID:     prophecy.CreatorID,
		RoundID:       prophecy.RoundID,
		Fulfilled:     prophecy.Fulfilled,
		ResolvedAt:    prophecy.ResolvedAt,
		AverageRating: prophecy.AverageRating,
		RatingCount:   prophecy.RatingCount,
		CreatedAt:     prophecy.CreatedAt,
		UpdatedAt:     prophecy.UpdatedAt,
	}
}

// NewRatingResponse создает DTO для оценки
func NewRatingResponse(rating *entity.Rating) *RatingResponse {
	if rating == nil {
		return nil
	}
	return &RatingResponse{
		ID:         rating.ID,
		ProphecyID: rating.ProphecyID,
		UserID:     rating.UserID,
		Value:      rating.Value,
		CreatedAt:  rating.CreatedAt,
		UpdatedAt:  rating.UpdatedAt,
	}
}

// NewRoundResponse создает DTO для раунда
func NewRoundResponse(round *entity.Round) *RoundResponse {
	if round == nil {
		return nil
	}
	return &RoundResponse{
		ID:                 round.ID,
		Title:              round.Title,
		SubmissionDeadline: round.SubmissionDeadline,
		RatingDeadline:     round.RatingDeadline,
		FulfillmentDate:    round.FulfillmentDate,
		ResultsPublishedAt: round.ResultsPublishedAt,
		CreatedAt:          round.CreatedAt,
	}
}

// NewBadgeResponse создает DTO для определения бейджа
func NewBadgeResponse(badge *entity.Badge) BadgeResponse {
	return BadgeResponse{
		ID:          badge.ID,
		Key:         badge.Key,
		Name:        badge.Name,
		Description: badge.Description,
		Category:    badge.Category,
		Rarity:      badge.Rarity,
		Threshold:   badge.Threshold,
	}
}

// NewListBadgeResponse создает слайс DTO для каталога бейджей
func NewListBadgeResponse(badges []entity.Badge) []BadgeResponse {
	list := make([]BadgeResponse, len(badges))
	for i := range badges {
		list[i] = NewBadgeResponse(&badges[i])
	}
	return list
}

// NewListUserBadgeResponse создает слайс DTO для выданных бейджей
func NewListUserBadgeResponse(details []service.UserBadgeDetail) []UserBadgeResponse {
	list := make([]UserBadgeResponse, len(details))
	for i, detail := range details {
		list[i] = UserBadgeResponse{
			ID:       detail.UserBadge.ID,
			BadgeID:  detail.BadgeID,
			EarnedAt: detail.EarnedAt,
			Badge:    NewBadgeResponse(&detail.Badge),
		}
	}
	return list
}

// NewListRatingResponse создает слайс DTO для списка оценок
func NewListRatingResponse(ratings []entity.Rating) []*RatingResponse {
	list := make([]*RatingResponse, len(ratings))
	for i := range ratings {
		list[i] = NewRatingResponse(&ratings[i])
	}
	return list
}

// NewPaginatedProphecyResponse создает DTO для страницы пророчеств
func NewPaginatedProphecyResponse(prophecies []entity.Prophecy, total int64, page, perPage int) *PaginatedProphecyResponse {
	list := make([]*ProphecyResponse, len(prophecies))
	for i := range prophecies {
		list[i] = NewProphecyResponse(&prophecies[i])
	}
	return &PaginatedProphecyResponse{
		Prophecies: list,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
	}
}

// NewPaginatedRoundResponse создает DTO для страницы раундов
func NewPaginatedRoundResponse(rounds []entity.Round, total int64, page, perPage int) *PaginatedRoundResponse {
	list := make([]*RoundResponse, len(rounds))
	for i := range rounds {
		list[i] = NewRoundResponse(&rounds[i])
	}
	return &PaginatedRoundResponse{
		Rounds:  list,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}
}
