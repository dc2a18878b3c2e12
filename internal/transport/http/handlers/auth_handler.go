package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	sessionsvc "github.com/antonrudenka/blogger-api/internal/services/session"
	"github.com/antonrudenka/blogger-api/internal/transport/http/dto"
	httperrors "github.com/antonrudenka/blogger-api/internal/transport/http/errors"
)

const refreshCookieName = "refreshToken"

type AuthHandler struct {
	service *sessionsvc.Service
	logger  *zap.Logger
}

func NewAuthHandler(service *sessionsvc.Service, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{service: service, logger: logger}
}

// Login expects an already-authenticated user id; credential validation
// happens upstream of this subsystem.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "SESSION_SERVICE_UNAVAILABLE", "session service is unavailable")
		return
	}

	var req dto.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	meta := sessionsvc.DeviceMeta{
		DeviceName: req.DeviceName,
		UserAgent:  r.UserAgent(),
		IP:         remoteIP(r),
	}
	if meta.DeviceName == "" {
		meta.DeviceName = meta.UserAgent
	}

	res, err := h.service.Login(r.Context(), req.UserID, meta)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}

	setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	httperrors.Write(w, http.StatusOK, dto.AuthTokensResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresInSec: secondsUntil(res.AccessExpiresAt),
		DeviceID:     res.DeviceID,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "SESSION_SERVICE_UNAVAILABLE", "session service is unavailable")
		return
	}

	refreshToken, ok := presentedRefreshToken(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	res, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}

	setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	httperrors.Write(w, http.StatusOK, dto.AuthTokensResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresInSec: secondsUntil(res.AccessExpiresAt),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "SESSION_SERVICE_UNAVAILABLE", "session service is unavailable")
		return
	}

	refreshToken, ok := presentedRefreshToken(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	if err := h.service.Logout(r.Context(), refreshToken); err != nil {
		h.handleSessionError(w, err)
		return
	}

	clearRefreshCookie(w)
	httperrors.Write(w, http.StatusOK, dto.LogoutResponse{OK: true})
}

func (h *AuthHandler) handleSessionError(w http.ResponseWriter, err error) {
	handleSessionError(w, err, h.logger)
}

// handleSessionError keeps the client response generic for every token
// rejection; the concrete cause goes to the debug log for abuse detection.
func handleSessionError(w http.ResponseWriter, err error, logger *zap.Logger) {
	switch {
	case errors.Is(err, sessionsvc.ErrInvalidInput):
		writeBadRequest(w, "INVALID_REQUEST", "request validation failed")
	case errors.Is(err, sessionsvc.ErrInvalidToken),
		errors.Is(err, sessionsvc.ErrTokenExpired),
		errors.Is(err, sessionsvc.ErrTokenReplayed),
		errors.Is(err, sessionsvc.ErrSessionRevoked):
		logger.Debug("session token rejected", zap.Error(err))
		writeUnauthorized(w)
	case errors.Is(err, sessionsvc.ErrForbidden):
		httperrors.Write(w, http.StatusForbidden, httperrors.APIError{
			Code:    "FORBIDDEN",
			Message: "session belongs to another user",
		})
	case errors.Is(err, sessionsvc.ErrSessionNotFound):
		httperrors.Write(w, http.StatusNotFound, httperrors.APIError{
			Code:    "NOT_FOUND",
			Message: "session not found",
		})
	default:
		logger.Error("session operation failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "internal server error")
	}
}

func presentedRefreshToken(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return cookie.Value, true
	}

	var req dto.RefreshRequest
	if err := decodeJSON(r, &req); err == nil && strings.TrimSpace(req.RefreshToken) != "" {
		return req.RefreshToken, true
	}

	return "", false
}

func setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/auth",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func remoteIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from the forwarding
	// headers before handlers run.
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func secondsUntil(t time.Time) int64 {
	sec := int64(time.Until(t).Seconds())
	if sec < 0 {
		return 0
	}
	return sec
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
		Code:    "UNAUTHORIZED",
		Message: "authentication required",
	})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}
