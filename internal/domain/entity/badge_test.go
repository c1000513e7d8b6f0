package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBadge_IsThresholdBadge(t *testing.T) {
	// Arrange & Act & Assert
	assert.True(t, (&Badge{Threshold: 1}).IsThresholdBadge())
	assert.True(t, (&Badge{Threshold: 50}).IsThresholdBadge())
	assert.False(t, (&Badge{Threshold: 0}).IsThresholdBadge(), "контекстный бейдж не имеет порога")
}

func TestDefaultBadges_KeysUnique(t *testing.T) {
	// Arrange
	seen := make(map[string]bool, len(DefaultBadges))

	// Act & Assert: ключ — внешняя идентичность бейджа, дубликаты сломали бы каталог
	for _, badge := range DefaultBadges {
		assert.NotEmpty(t, badge.Key)
		assert.False(t, seen[badge.Key], "ключ %q встречается дважды", badge.Key)
		seen[badge.Key] = true
	}
}

func TestDefaultBadges_ThresholdsMatchCategories(t *testing.T) {
	// Движок выдает пороговые бейджи по счётчикам, контекстные — предикатами;
	// бейдж не может быть обоими сразу
	for _, badge := range DefaultBadges {
		switch badge.Category {
		case BadgeCategoryActivity, BadgeCategoryAccuracy:
			assert.True(t, badge.IsThresholdBadge(), "бейдж %q должен иметь порог", badge.Key)
		case BadgeCategoryTime, BadgeCategorySpecial, BadgeCategoryHidden:
			assert.False(t, badge.IsThresholdBadge(), "бейдж %q должен быть контекстным", badge.Key)
		default:
			t.Fatalf("неизвестная категория %q у бейджа %q", badge.Category, badge.Key)
		}
	}
}
