package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
)

// SessionRecord is one issued access token.
type SessionRecord struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionRegistry tracks which issued tokens are still honoured. A token is
// accepted only while its record is active, so revocation takes effect on the
// next request.
type SessionRegistry interface {
	Create(ctx context.Context, rec SessionRecord) error
	Active(ctx context.Context, id string) (bool, error)
	Revoke(ctx context.Context, id string) error
	// RevokeUser revokes every active session of userID except one and
	// returns the revoked ids.
	RevokeUser(ctx context.Context, userID, except string) ([]string, error)
}

// SQLSessions keeps sessions in the sessions table.
type SQLSessions struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQLSessions(db *sqlx.DB) *SQLSessions {
	return &SQLSessions{db: db, now: time.Now}
}

func (s *SQLSessions) Create(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		rec.ID, rec.UserID, rec.CreatedAt.UTC().Format(timeLayout), rec.ExpiresAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLSessions) Active(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM sessions WHERE id = ? AND revoked_at IS NULL AND expires_at > ?`),
		id, s.now().UTC().Format(timeLayout))
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	return n > 0, nil
}

func (s *SQLSessions) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`),
		s.now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *SQLSessions) RevokeUser(ctx context.Context, userID, except string) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`SELECT id FROM sessions WHERE user_id = ? AND id <> ? AND revoked_at IS NULL`), userID, except); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`UPDATE sessions SET revoked_at = ? WHERE id IN (?)`, s.now().UTC().Format(timeLayout), ids)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("revoke sessions: %w", err)
	}
	return ids, nil
}

// RedisSessions keeps one key per session with a TTL equal to the remaining
// token lifetime, plus a set of session ids per user.
type RedisSessions struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client, prefix: "novapharm:session:", now: time.Now}
}

func (s *RedisSessions) sessionKey(id string) string { return s.prefix + id }

func (s *RedisSessions) userKey(userID string) string { return s.prefix + "user:" + userID }

func (s *RedisSessions) Create(ctx context.Context, rec SessionRecord) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("session already expired")
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(rec.ID), rec.UserID, ttl)
	pipe.SAdd(ctx, s.userKey(rec.UserID), rec.ID)
	pipe.Expire(ctx, s.userKey(rec.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisSessions) Active(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	return n > 0, nil
}

func (s *RedisSessions) Revoke(ctx context.Context, id string) error {
	userID, err := s.client.Get(ctx, s.sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.SRem(ctx, s.userKey(userID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisSessions) RevokeUser(ctx context.Context, userID, except string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var revoked []string
	for _, id := range ids {
		if id == except {
			continue
		}
		pipe := s.client.TxPipeline()
		del := pipe.Del(ctx, s.sessionKey(id))
		pipe.SRem(ctx, s.userKey(userID), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return revoked, fmt.Errorf("revoke session: %w", err)
		}
		// Expired keys are gone already and were not active.
		if del.Val() > 0 {
			revoked = append(revoked, id)
		}
	}
	return revoked, nil
}
