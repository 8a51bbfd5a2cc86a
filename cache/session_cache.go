package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrSessionNotFound 会话不存在或已过期
var ErrSessionNotFound = errors.New("session not found")

// SessionData 存储在 Redis 中的会话内容
type SessionData struct {
	UserID    int64 `json:"userId"`
	CreatedAt int64 `json:"createdAt"`
}

// SessionStore keeps login sessions in Redis, one key per session plus a set
// of session ids per user so that all of a user's sessions can be ended at once.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore 创建 Redis 会话存储
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// GetSessionKey 根据会话ID生成Redis键
func GetSessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// GetUserSessionsKey 用户的会话集合键
func GetUserSessionsKey(userID int64) string {
	return fmt.Sprintf("user_sessions:%d", userID)
}

// Create 为用户建立新会话，返回会话ID
func (s *SessionStore) Create(ctx context.Context, userID int64) (string, error) {
	sessionID := uuid.NewString()
	data, err := json.Marshal(SessionData{UserID: userID, CreatedAt: time.Now().Unix()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	userKey := GetUserSessionsKey(userID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, GetSessionKey(sessionID), data, s.ttl)
		pipe.SAdd(ctx, userKey, sessionID)
		pipe.Expire(ctx, userKey, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return sessionID, nil
}

// Get 读取会话对应的用户ID
func (s *SessionStore) Get(ctx context.Context, sessionID string) (int64, error) {
	raw, err := s.client.Get(ctx, GetSessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return 0, ErrSessionNotFound
		}
		return 0, fmt.Errorf("failed to get session: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return 0, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return data.UserID, nil
}

// Delete 结束单个会话，不存在时不报错
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	userID, err := s.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, GetSessionKey(sessionID))
		if userID != 0 {
			pipe.SRem(ctx, GetUserSessionsKey(userID), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions 结束用户的全部会话（删除账号时使用）
func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID int64) error {
	userKey := GetUserSessionsKey(userID)
	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to list sessions of user %d: %w", userID, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, GetSessionKey(id))
	}
	keys = append(keys, userKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete sessions of user %d: %w", userID, err)
	}
	return nil
}
