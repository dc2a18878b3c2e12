package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/antonrudenka/blogger-api/internal/repo/redis"
	sessionsvc "github.com/antonrudenka/blogger-api/internal/services/session"
)

func TestLoginTracksOneSessionPerDevice(t *testing.T) {
	svc, cleanup := newSessionServiceForTest(t, sessionsvc.Config{})
	defer cleanup()

	ctx := context.Background()
	first, err := svc.Login(ctx, 1001, sessionsvc.DeviceMeta{DeviceName: "laptop"})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := svc.Login(ctx, 1001, sessionsvc.DeviceMeta{DeviceName: "phone"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if first.DeviceID == second.DeviceID {
		t.Fatalf("each login must mint a fresh device id")
	}

	sessions, err := svc.ListSessions(ctx, 1001)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestRefreshRotatesAndConsumesOldToken(t *testing.T) {
	svc, cleanup := newSessionServiceForTest(t, sessionsvc.Config{})
	defer cleanup()

	ctx := context.Background()
	loginRes, err := svc.Login(ctx, 1002, sessionsvc.DeviceMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshRes, err := svc.Refresh(ctx, loginRes.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshRes.RefreshToken == loginRes.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	if _, err := svc.Refresh(ctx, loginRes.RefreshToken); !errors.Is(err, sessionsvc.ErrTokenReplayed) {
		t.Fatalf("replayed refresh should fail with ErrTokenReplayed, got err=%v", err)
	}
	if err := svc.Logout(ctx, loginRes.RefreshToken); !errors.Is(err, sessionsvc.ErrTokenReplayed) {
		t.Fatalf("logout with consumed token should fail with ErrTokenReplayed, got err=%v", err)
	}

	// The legitimate successor stays usable under the default policy.
	if _, err := svc.Refresh(ctx, refreshRes.RefreshToken); err != nil {
		t.Fatalf("successor refresh token should still rotate: %v", err)
	}
}

func TestLogoutConsumesTokenAndDeletesSession(t *testing.T) {
	svc, cleanup := newSessionServiceForTest(t, sessionsvc.Config{})
	defer cleanup()

	ctx := context.Background()
	loginRes, err := svc.Login(ctx, 1003, sessionsvc.DeviceMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(ctx, loginRes.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := svc.Refresh(ctx, loginRes.RefreshToken); !errors.Is(err, sessionsvc.ErrTokenReplayed) {
		t.Fatalf("refresh after logout should fail with ErrTokenReplayed, got err=%v", err)
	}

	sessions, err := svc.ListSessions(ctx, 1003)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions after logout, got %d", len(sessions))
	}

	if _, err := svc.ValidateAccessToken(ctx, loginRes.AccessToken); !errors.Is(err, sessionsvc.ErrSessionRevoked) {
		t.Fatalf("access token should be rejected after logout, got err=%v", err)
	}
}

func TestConcurrentRefreshSameTokenHasOneWinner(t *testing.T) {
	svc, cleanup := newSessionServiceForTest(t, sessionsvc.Config{})
	defer cleanup()

	ctx := context.Background()
	loginRes, err := svc.Login(ctx, 1004, sessionsvc.DeviceMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = svc.Refresh(ctx, loginRes.RefreshToken)
		}(i)
	}
	wg.Wait()

	var wins, replays int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, sessionsvc.ErrTokenReplayed):
			replays++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning refresh, got %d", wins)
	}
	if replays != attempts-1 {
		t.Fatalf("expected %d replay rejections, got %d", attempts-1, replays)
	}
}

func TestRevokeAllExceptCurrentKeepsOnlyCurrent(t *testing.T) {
	svc, cleanup := newSessionServiceForTest(t, sessionsvc.Config{})
	defer cleanup()

	ctx := context.Background()
	current, err := svc.Login(ctx, 1005, sessionsvc.DeviceMeta{DeviceName: "laptop"})
	if err != nil {
		t.Fatalf("login current device: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, 1005, sessionsvc.DeviceMeta{DeviceName: "other"}); err != nil {
			t.Fatalf("login extra device: %v", err)
		}
	}

	count, err := svc.RevokeAllExceptCurrent(ctx, 1005, current.DeviceID)
	if err != nil {
		t.Fatalf("revoke all except current: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", count)
	}

	sessions, err := svc.ListSessions(ctx, 1005)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].DeviceID != current.DeviceID {
		t.Fatalf("expected only the current device to remain, got %+v", sessions)
	}
}

func TestRevokeDeviceChecksOwnership(t *testing.T) {
	svc, cleanup := newSessionServiceForTest(t, sessionsvc.Config{})
	defer cleanup()

	ctx := context.Background()
	loginRes, err := svc.Login(ctx, 1006, sessionsvc.DeviceMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.RevokeDevice(ctx, 2006, loginRes.DeviceID); !errors.Is(err, sessionsvc.ErrForbidden) {
		t.Fatalf("foreign revoke should fail with ErrForbidden, got err=%v", err)
	}
	if err := svc.RevokeDevice(ctx, 1006, "no-such-device"); !errors.Is(err, sessionsvc.ErrSessionNotFound) {
		t.Fatalf("unknown device revoke should fail with ErrSessionNotFound, got err=%v", err)
	}

	if err := svc.RevokeDevice(ctx, 1006, loginRes.DeviceID); err != nil {
		t.Fatalf("owner revoke: %v", err)
	}
	sessions, err := svc.ListSessions(ctx, 1006)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions after revoke, got %d", len(sessions))
	}
}

func TestRefreshAfterConcurrentRevokeFailsSessionRevoked(t *testing.T) {
	svc, cleanup := newSessionServiceForTest(t, sessionsvc.Config{})
	defer cleanup()

	ctx := context.Background()
	loginRes, err := svc.Login(ctx, 1007, sessionsvc.DeviceMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Revoke out-of-band while the refresh token is still unconsumed.
	if err := svc.RevokeDevice(ctx, 1007, loginRes.DeviceID); err != nil {
		t.Fatalf("revoke device: %v", err)
	}

	if _, err := svc.Refresh(ctx, loginRes.RefreshToken); !errors.Is(err, sessionsvc.ErrSessionRevoked) {
		t.Fatalf("rotation against a revoked session should fail with ErrSessionRevoked, got err=%v", err)
	}
}

func TestReplayRevokesSessionWhenPolicyEnabled(t *testing.T) {
	svc, cleanup := newSessionServiceForTest(t, sessionsvc.Config{RevokeOnReplay: true})
	defer cleanup()

	ctx := context.Background()
	loginRes, err := svc.Login(ctx, 1008, sessionsvc.DeviceMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshRes, err := svc.Refresh(ctx, loginRes.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if _, err := svc.Refresh(ctx, loginRes.RefreshToken); !errors.Is(err, sessionsvc.ErrTokenReplayed) {
		t.Fatalf("replay should fail with ErrTokenReplayed, got err=%v", err)
	}

	sessions, err := svc.ListSessions(ctx, 1008)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("replay should revoke the whole session, got %d sessions", len(sessions))
	}

	// The successor token points at a dead session now.
	if _, err := svc.Refresh(ctx, refreshRes.RefreshToken); !errors.Is(err, sessionsvc.ErrSessionRevoked) {
		t.Fatalf("successor refresh should fail with ErrSessionRevoked, got err=%v", err)
	}
}

func newSessionServiceForTest(t *testing.T, cfg sessionsvc.Config) (*sessionsvc.Service, func()) {
	t.Helper()

	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	registry := redrepo.NewSessionRepo(client)
	blacklist := redrepo.NewBlacklistRepo(client)
	tokenManager := sessionsvc.NewTokenManager("test-secret", 15*time.Minute, 45*24*time.Hour)
	svc := sessionsvc.NewService(tokenManager, registry, blacklist, cfg)

	cleanup := func() {
		_ = client.Close()
		mini.Close()
	}

	return svc, cleanup
}
