package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antonrudenka/blogger-api/internal/domain/model"
)

// SessionRegistry keeps at most one session per deviceID.
type SessionRegistry interface {
	Create(ctx context.Context, session model.Session) error
	UpdateOnRotation(ctx context.Context, deviceID string, issuedAt, expiresAt time.Time) error
	GetByDevice(ctx context.Context, deviceID string) (model.Session, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Session, error)
	DeleteByDevice(ctx context.Context, deviceID string) (bool, error)
	DeleteAllForUserExcept(ctx context.Context, userID int64, keepDeviceID string) (int64, error)
}

// TokenBlacklist records consumed refresh tokens. Add must be an atomic
// check-and-insert per token value: it reports whether this call was the
// first to record the token. That atomicity is what serializes concurrent
// refreshes of the same token.
type TokenBlacklist interface {
	Add(ctx context.Context, token string, ttl time.Duration) (bool, error)
	Contains(ctx context.Context, token string) (bool, error)
}

type Config struct {
	// RevokeOnReplay deletes the whole device session when a spent refresh
	// token is presented again, treating the replay as evidence of a leaked
	// credential. When false only the replayed call is rejected and the
	// legitimately rotated successor token stays valid.
	RevokeOnReplay bool
}

// Service drives the per-device session state machine. It owns no state of
// its own; every transition goes through the registry and the blacklist.
//
// If a caller aborts a refresh after the blacklist add but before the new
// pair is stored, the old token is already dead and no new one was issued:
// the device has to authenticate again. Accepted trade-off.
type Service struct {
	tokens         *TokenManager
	registry       SessionRegistry
	blacklist      TokenBlacklist
	revokeOnReplay bool
	now            func() time.Time
}

func NewService(tokens *TokenManager, registry SessionRegistry, blacklist TokenBlacklist, cfg Config) *Service {
	return &Service{
		tokens:         tokens,
		registry:       registry,
		blacklist:      blacklist,
		revokeOnReplay: cfg.RevokeOnReplay,
		now:            time.Now,
	}
}

// Login mints a fresh deviceID and token pair and registers the session.
func (s *Service) Login(ctx context.Context, userID int64, meta DeviceMeta) (LoginResult, error) {
	if userID <= 0 {
		return LoginResult{}, ErrInvalidInput
	}

	deviceID := uuid.NewString()
	pair, err := s.tokens.MintPair(userID, deviceID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("mint token pair: %w", err)
	}

	sess := model.Session{
		DeviceID:   deviceID,
		UserID:     userID,
		DeviceName: meta.DeviceName,
		UserAgent:  meta.UserAgent,
		IP:         meta.IP,
		IssuedAt:   pair.RefreshIssuedAt,
		ExpiresAt:  pair.RefreshExpiresAt,
	}
	if err := s.registry.Create(ctx, sess); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	return LoginResult{TokenPair: pair, DeviceID: deviceID}, nil
}

// Refresh exchanges a valid, unused refresh token for a new pair. The
// presented token is consumed exactly once: the blacklist add decides the
// winner when the same token races, and a rotation that loses to a
// concurrent revoke fails with ErrSessionRevoked instead of resurrecting
// the session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, ErrInvalidInput
	}

	payload, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	firstUse, err := s.blacklist.Add(ctx, refreshToken, s.blacklistTTL(payload.ExpiresAt))
	if err != nil {
		return TokenPair{}, fmt.Errorf("blacklist refresh token: %w", err)
	}
	if !firstUse {
		if s.revokeOnReplay {
			if _, delErr := s.registry.DeleteByDevice(ctx, payload.DeviceID); delErr != nil {
				return TokenPair{}, fmt.Errorf("revoke session after replay: %w", delErr)
			}
		}
		return TokenPair{}, ErrTokenReplayed
	}

	pair, err := s.tokens.MintPair(payload.UserID, payload.DeviceID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint token pair: %w", err)
	}

	if err := s.registry.UpdateOnRotation(ctx, payload.DeviceID, pair.RefreshIssuedAt, pair.RefreshExpiresAt); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// Revoked while the rotation was in flight; the freshly minted
			// pair is discarded.
			return TokenPair{}, ErrSessionRevoked
		}
		return TokenPair{}, fmt.Errorf("update session on rotation: %w", err)
	}

	return pair, nil
}

// Logout consumes the presented refresh token and deletes the device
// session. Logging out with an expired, tampered or already-used token
// fails the same way a refresh would.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return ErrInvalidInput
	}

	payload, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return err
	}

	firstUse, err := s.blacklist.Add(ctx, refreshToken, s.blacklistTTL(payload.ExpiresAt))
	if err != nil {
		return fmt.Errorf("blacklist refresh token: %w", err)
	}
	if !firstUse {
		return ErrTokenReplayed
	}

	if _, err := s.registry.DeleteByDevice(ctx, payload.DeviceID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

// ListSessions returns the caller's active sessions, newest rotation first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]model.Session, error) {
	if userID <= 0 {
		return nil, ErrInvalidInput
	}

	sessions, err := s.registry.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return sessions, nil
}

// RevokeDevice terminates one session after an ownership check. Tokens
// already issued for the device stay cryptographically valid until expiry,
// but any further rotation fails and access validation stops passing once
// the record is gone.
func (s *Service) RevokeDevice(ctx context.Context, callerUserID int64, deviceID string) error {
	if callerUserID <= 0 || strings.TrimSpace(deviceID) == "" {
		return ErrInvalidInput
	}

	sess, err := s.registry.GetByDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}
	if sess.UserID != callerUserID {
		return ErrForbidden
	}

	deleted, err := s.registry.DeleteByDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return ErrSessionNotFound
	}

	return nil
}

// RevokeAllExceptCurrent terminates every other session of the user and
// reports how many were removed.
func (s *Service) RevokeAllExceptCurrent(ctx context.Context, userID int64, currentDeviceID string) (int64, error) {
	if userID <= 0 || strings.TrimSpace(currentDeviceID) == "" {
		return 0, ErrInvalidInput
	}

	count, err := s.registry.DeleteAllForUserExcept(ctx, userID, currentDeviceID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}

	return count, nil
}

// ValidateAccessToken verifies the access token and confirms the device
// session still exists and belongs to the same user, so a revoked device
// loses API access immediately instead of at access-token expiry.
func (s *Service) ValidateAccessToken(ctx context.Context, accessToken string) (TokenPayload, error) {
	payload, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return TokenPayload{}, err
	}

	sess, err := s.registry.GetByDevice(ctx, payload.DeviceID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return TokenPayload{}, ErrSessionRevoked
		}
		return TokenPayload{}, fmt.Errorf("get session: %w", err)
	}
	if sess.UserID != payload.UserID {
		return TokenPayload{}, ErrInvalidToken
	}

	return payload, nil
}

// blacklistTTL keeps an entry alive exactly as long as the token itself
// could still verify. A floor of one second covers tokens on the edge of
// expiry without leaving the key behind forever.
func (s *Service) blacklistTTL(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}
