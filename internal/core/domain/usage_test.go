package domain_test

import (
	"testing"

	"github.com/thushan/olla/internal/core/domain"
)

func TestUsageTotalTokens(t *testing.T) {
	u := domain.Usage{InputTokens: 120, OutputTokens: 340, CacheReadTokens: 50}
	if got := u.TotalTokens(); got != 460 {
		t.Errorf("TotalTokens() = %d, want 460", got)
	}
}

func TestUsageTotalTokensZeroValue(t *testing.T) {
	var u domain.Usage
	if got := u.TotalTokens(); got != 0 {
		t.Errorf("TotalTokens() on zero value = %d, want 0", got)
	}
}
