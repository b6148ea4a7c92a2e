package domain_test

import (
	"testing"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

func TestBreakerSnapshotAllows(t *testing.T) {
	now := time.Now()

	closed := domain.BreakerSnapshot{State: domain.BreakerClosed}
	if !closed.Allows(now) {
		t.Error("closed breaker should allow")
	}

	halfOpen := domain.BreakerSnapshot{State: domain.BreakerHalfOpen}
	if !halfOpen.Allows(now) {
		t.Error("half-open breaker should allow")
	}

	openFuture := domain.BreakerSnapshot{State: domain.BreakerOpen, OpenUntil: now.Add(time.Minute)}
	if openFuture.Allows(now) {
		t.Error("open breaker with future OpenUntil should not allow")
	}

	openPast := domain.BreakerSnapshot{State: domain.BreakerOpen, OpenUntil: now.Add(-time.Minute)}
	if !openPast.Allows(now) {
		t.Error("open breaker with past OpenUntil should allow (cooldown elapsed)")
	}
}

func TestSessionBindingExpired(t *testing.T) {
	now := time.Now()

	noExpiry := domain.SessionBinding{}
	if noExpiry.Expired(now) {
		t.Error("zero-value ExpiresAt should never be considered expired")
	}

	future := domain.SessionBinding{ExpiresAt: now.Add(time.Minute)}
	if future.Expired(now) {
		t.Error("binding expiring in the future should not be expired")
	}

	past := domain.SessionBinding{ExpiresAt: now.Add(-time.Minute)}
	if !past.Expired(now) {
		t.Error("binding that expired in the past should be expired")
	}
}
