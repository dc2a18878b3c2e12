package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/antonrudenka/blogger-api/internal/domain/model"
	sessionsvc "github.com/antonrudenka/blogger-api/internal/services/session"
)

const (
	devicePrefix      = "devices:"
	userDevicesPrefix = "user_devices:"
)

// SessionRepo is the volatile session registry: one hash per device plus a
// per-user set of deviceIDs. Keys expire together with the refresh token,
// so stale sessions vanish on their own.
type SessionRepo struct {
	client *goredis.Client
}

func NewSessionRepo(client *goredis.Client) *SessionRepo {
	return &SessionRepo{client: client}
}

func (r *SessionRepo) Create(ctx context.Context, session model.Session) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(session.DeviceID) == "" || session.UserID <= 0 {
		return sessionsvc.ErrInvalidInput
	}

	// HSETNX on user_id is the atomic claim on the device key; a concurrent
	// Create for the same device loses here.
	claimed, err := r.client.HSetNX(ctx, deviceKey(session.DeviceID), "user_id", session.UserID).Result()
	if err != nil {
		return fmt.Errorf("claim device session: %w", err)
	}
	if !claimed {
		return sessionsvc.ErrDuplicateDevice
	}

	ttl := ttlFor(session.ExpiresAt)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, deviceKey(session.DeviceID), sessionFields(session))
	pipe.Expire(ctx, deviceKey(session.DeviceID), ttl)
	pipe.SAdd(ctx, userDevicesKey(session.UserID), session.DeviceID)
	pipe.Expire(ctx, userDevicesKey(session.UserID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		_ = r.client.Del(ctx, deviceKey(session.DeviceID)).Err()
		return fmt.Errorf("create redis session: %w", err)
	}

	return nil
}

func (r *SessionRepo) UpdateOnRotation(ctx context.Context, deviceID string, issuedAt, expiresAt time.Time) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	userValue, err := r.client.HGet(ctx, deviceKey(deviceID), "user_id").Result()
	if err == goredis.Nil {
		return sessionsvc.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("check device session: %w", err)
	}
	userID, err := strconv.ParseInt(userValue, 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("malformed session hash: bad user_id %q", userValue)
	}

	ttl := ttlFor(expiresAt)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, deviceKey(deviceID), map[string]interface{}{
		"issued_at":  issuedAt.Unix(),
		"expires_at": expiresAt.Unix(),
	})
	pipe.Expire(ctx, deviceKey(deviceID), ttl)
	// The user index has to outlive every rotation, not just the login that
	// created it.
	pipe.SAdd(ctx, userDevicesKey(userID), deviceID)
	pipe.Expire(ctx, userDevicesKey(userID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotate redis session: %w", err)
	}

	return nil
}

func (r *SessionRepo) GetByDevice(ctx context.Context, deviceID string) (model.Session, error) {
	if r.client == nil {
		return model.Session{}, fmt.Errorf("redis client is nil")
	}

	values, err := r.client.HGetAll(ctx, deviceKey(deviceID)).Result()
	if err != nil {
		return model.Session{}, fmt.Errorf("get device hash: %w", err)
	}
	if len(values) == 0 {
		return model.Session{}, sessionsvc.ErrSessionNotFound
	}

	session, err := parseSession(values)
	if err != nil {
		return model.Session{}, err
	}
	session.DeviceID = deviceID
	return session, nil
}

func (r *SessionRepo) ListByUser(ctx context.Context, userID int64) ([]model.Session, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return nil, sessionsvc.ErrInvalidInput
	}

	deviceIDs, err := r.client.SMembers(ctx, userDevicesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user devices: %w", err)
	}

	sessions := make([]model.Session, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		session, err := r.GetByDevice(ctx, deviceID)
		if err != nil {
			if err == sessionsvc.ErrSessionNotFound {
				// Device hash already expired; drop the stale set member.
				_ = r.client.SRem(ctx, userDevicesKey(userID), deviceID).Err()
				continue
			}
			return nil, err
		}
		sessions = append(sessions, session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].IssuedAt.After(sessions[j].IssuedAt)
	})

	return sessions, nil
}

func (r *SessionRepo) DeleteByDevice(ctx context.Context, deviceID string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(deviceID) == "" {
		return false, nil
	}

	userValue, err := r.client.HGet(ctx, deviceKey(deviceID), "user_id").Result()
	if err != nil && err != goredis.Nil {
		return false, fmt.Errorf("load session for delete: %w", err)
	}

	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, deviceKey(deviceID))
	if userID, parseErr := strconv.ParseInt(userValue, 10, 64); parseErr == nil && userID > 0 {
		pipe.SRem(ctx, userDevicesKey(userID), deviceID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	return del.Val() > 0, nil
}

func (r *SessionRepo) DeleteAllForUserExcept(ctx context.Context, userID int64, keepDeviceID string) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return 0, sessionsvc.ErrInvalidInput
	}

	deviceIDs, err := r.client.SMembers(ctx, userDevicesKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user devices: %w", err)
	}

	var deleted int64
	for _, deviceID := range deviceIDs {
		if deviceID == keepDeviceID {
			continue
		}
		ok, err := r.DeleteByDevice(ctx, deviceID)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}

	return deleted, nil
}

func sessionFields(session model.Session) map[string]interface{} {
	return map[string]interface{}{
		"user_id":     session.UserID,
		"device_name": session.DeviceName,
		"user_agent":  session.UserAgent,
		"ip":          session.IP,
		"issued_at":   session.IssuedAt.Unix(),
		"expires_at":  session.ExpiresAt.Unix(),
	}
}

func parseSession(values map[string]string) (model.Session, error) {
	userID, err := strconv.ParseInt(values["user_id"], 10, 64)
	if err != nil || userID <= 0 {
		return model.Session{}, fmt.Errorf("malformed session hash: bad user_id %q", values["user_id"])
	}

	issuedUnix, err := strconv.ParseInt(values["issued_at"], 10, 64)
	if err != nil {
		return model.Session{}, fmt.Errorf("malformed session hash: bad issued_at %q", values["issued_at"])
	}

	expiresUnix, err := strconv.ParseInt(values["expires_at"], 10, 64)
	if err != nil {
		return model.Session{}, fmt.Errorf("malformed session hash: bad expires_at %q", values["expires_at"])
	}

	return model.Session{
		UserID:     userID,
		DeviceName: values["device_name"],
		UserAgent:  values["user_agent"],
		IP:         values["ip"],
		IssuedAt:   time.Unix(issuedUnix, 0).UTC(),
		ExpiresAt:  time.Unix(expiresUnix, 0).UTC(),
	}, nil
}

func ttlFor(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

func deviceKey(deviceID string) string {
	return devicePrefix + deviceID
}

func userDevicesKey(userID int64) string {
	return userDevicesPrefix + strconv.FormatInt(userID, 10)
}
