package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/yourusername/prophecy-api/internal/domain/entity"
)

// NotificationService sends best-effort user notifications.
type NotificationService interface {
	SendBadgeAwarded(ctx context.Context, toEmail, username string, badge *entity.Badge) error
}

// NoopNotificationService is used when outbound notifications are disabled.
type NoopNotificationService struct{}

func (s *NoopNotificationService) SendBadgeAwarded(ctx context.Context, toEmail, username string, badge *entity.Badge) error {
	log.Printf("[NotificationService] noop badge notification to=%s badge=%s", toEmail, badge.Key)
	return nil
}

// ResendNotificationService sends notifications via Resend REST API.
type ResendNotificationService struct {
	from   string
	client *resend.Client
}

func NewResendNotificationService(apiKey, from string) (*ResendNotificationService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("notification from address is required")
	}
	return &ResendNotificationService{
		from:   from,
		client: resend.NewClient(apiKey),
	}, nil
}

func (s *ResendNotificationService) SendBadgeAwarded(ctx context.Context, toEmail, username string, badge *entity.Badge) error {
	if toEmail == "" || badge == nil {
		return fmt.Errorf("toEmail and badge are required")
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{toEmail},
		Subject: fmt.Sprintf("Новый бейдж: %s", badge.Name),
		Text: fmt.Sprintf("%s, вы получили бейдж «%s». %s",
			username, badge.Name, badge.Description),
		Html: fmt.Sprintf("<p>%s, вы получили бейдж <strong>%s</strong>.</p><p>%s</p>",
			username, badge.Name, badge.Description),
	}

	// Idempotency key pins the send to one (user, badge) award; the uniqueness
	// of the award itself guarantees at most one key per pair.
	options := &resend.SendEmailOptions{
		IdempotencyKey: fmt.Sprintf("badge-awarded/%s/%s", toEmail, badge.Key),
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := s.client.Emails.SendWithOptions(ctx, params, options)
		if err == nil {
			return nil
		}
		lastErr = err

		if wait, ok := resendRetryDelay(err, attempt); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return fmt.Errorf("resend send failed: %w", err)
	}

	return fmt.Errorf("resend send failed after retries: %w", lastErr)
}

func resendRetryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			if seconds > 30 {
				seconds = 30
			}
			return time.Duration(seconds) * time.Second, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && (netErr.Timeout() || netErr.Temporary()) {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	return 0, false
}
