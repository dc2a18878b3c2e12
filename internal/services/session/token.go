package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// TokenManager mints and verifies the signed access/refresh token pair.
// Verification is purely cryptographic; the blacklist is consulted by the
// service, never here.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type tokenClaims struct {
	DeviceID string `json:"did"`
	Kind     string `json:"kind"`
	jwt.RegisteredClaims
}

func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 720 * time.Hour
	}

	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// MintPair produces two independently signed tokens for the same user and
// device, each carrying its own iat/exp. The refresh token's deviceID is
// authoritative for session correlation.
func (m *TokenManager) MintPair(userID int64, deviceID string) (TokenPair, error) {
	if len(m.secret) == 0 {
		return TokenPair{}, fmt.Errorf("jwt secret is empty")
	}
	if userID <= 0 || strings.TrimSpace(deviceID) == "" {
		return TokenPair{}, ErrInvalidInput
	}

	accessToken, accessPayload, err := m.sign(userID, deviceID, kindAccess, m.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, refreshPayload, err := m.sign(userID, deviceID, kindRefresh, m.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessPayload.ExpiresAt,
		RefreshIssuedAt:  refreshPayload.IssuedAt,
		RefreshExpiresAt: refreshPayload.ExpiresAt,
	}, nil
}

func (m *TokenManager) VerifyAccess(raw string) (TokenPayload, error) {
	return m.verify(raw, kindAccess)
}

func (m *TokenManager) VerifyRefresh(raw string) (TokenPayload, error) {
	return m.verify(raw, kindRefresh)
}

func (m *TokenManager) sign(userID int64, deviceID, kind string, ttl time.Duration) (string, TokenPayload, error) {
	now := m.now().UTC()
	expiresAt := now.Add(ttl)
	claims := tokenClaims{
		DeviceID: deviceID,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			// jti keeps successive tokens for the same device distinct even
			// when minted within the same second; without it a rotation could
			// reissue the exact string it just blacklisted.
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", TokenPayload{}, err
	}

	return signed, TokenPayload{
		UserID:    userID,
		DeviceID:  deviceID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

func (m *TokenManager) verify(raw, kind string) (TokenPayload, error) {
	if strings.TrimSpace(raw) == "" {
		return TokenPayload{}, ErrInvalidToken
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenPayload{}, ErrTokenExpired
		}
		return TokenPayload{}, ErrInvalidToken
	}
	if token == nil || !token.Valid || claims.Kind != kind {
		return TokenPayload{}, ErrInvalidToken
	}

	userID, parseErr := strconv.ParseInt(claims.Subject, 10, 64)
	if parseErr != nil || userID <= 0 {
		return TokenPayload{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.DeviceID) == "" {
		return TokenPayload{}, ErrInvalidToken
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return TokenPayload{}, ErrInvalidToken
	}

	return TokenPayload{
		UserID:    userID,
		DeviceID:  claims.DeviceID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
