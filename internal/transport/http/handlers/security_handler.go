package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	sessionsvc "github.com/antonrudenka/blogger-api/internal/services/session"
	"github.com/antonrudenka/blogger-api/internal/transport/http/dto"
	httperrors "github.com/antonrudenka/blogger-api/internal/transport/http/errors"
)

type SecurityHandler struct {
	service *sessionsvc.Service
	logger  *zap.Logger
}

func NewSecurityHandler(service *sessionsvc.Service, logger *zap.Logger) *SecurityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityHandler{service: service, logger: logger}
}

func (h *SecurityHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), identity.UserID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	views := make([]dto.DeviceSessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, dto.DeviceSessionResponse{
			DeviceID:     sess.DeviceID,
			DeviceName:   sess.DeviceName,
			IP:           sess.IP,
			LastActiveAt: sess.IssuedAt,
			IsCurrent:    sess.DeviceID == identity.DeviceID,
		})
	}

	httperrors.Write(w, http.StatusOK, views)
}

func (h *SecurityHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	if err := h.service.RevokeDevice(r.Context(), identity.UserID, deviceID); err != nil {
		h.handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SecurityHandler) RevokeOtherDevices(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	count, err := h.service.RevokeAllExceptCurrent(r.Context(), identity.UserID, identity.DeviceID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.RevokeAllResponse{Revoked: count})
}

func (h *SecurityHandler) requireIdentity(w http.ResponseWriter, r *http.Request) (sessionsvc.Identity, bool) {
	if h.service == nil {
		writeInternal(w, "SESSION_SERVICE_UNAVAILABLE", "session service is unavailable")
		return sessionsvc.Identity{}, false
	}

	identity, ok := sessionsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return sessionsvc.Identity{}, false
	}

	return identity, true
}

func (h *SecurityHandler) handleError(w http.ResponseWriter, err error) {
	handleSessionError(w, err, h.logger)
}
