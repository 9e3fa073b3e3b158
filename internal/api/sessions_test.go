package api

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novapharm/m/internal/database"
	"novapharm/m/internal/migrations"
)

func exerciseRegistry(t *testing.T, reg SessionRegistry) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	user := uuid.NewString()
	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()

	for _, id := range []string{a, b, c} {
		require.NoError(t, reg.Create(ctx, SessionRecord{ID: id, UserID: user, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	}
	active, err := reg.Active(ctx, a)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, reg.Revoke(ctx, a))
	require.NoError(t, reg.Revoke(ctx, a))
	active, err = reg.Active(ctx, a)
	require.NoError(t, err)
	assert.False(t, active)

	revoked, err := reg.RevokeUser(ctx, user, c)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, revoked)

	active, _ = reg.Active(ctx, b)
	assert.False(t, active)
	active, _ = reg.Active(ctx, c)
	assert.True(t, active)

	active, err = reg.Active(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSQLSessions(t *testing.T) {
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Run(db))
	_, err = db.Exec(`PRAGMA foreign_keys = OFF`)
	require.NoError(t, err)

	exerciseRegistry(t, NewSQLSessions(db))
}

func TestSQLSessionsExpire(t *testing.T) {
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Run(db))

	reg := NewSQLSessions(db)
	now := time.Now()
	require.NoError(t, reg.Create(context.Background(), SessionRecord{ID: "s", UserID: "u", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
	reg.now = func() time.Time { return now.Add(2 * time.Minute) }

	active, err := reg.Active(context.Background(), "s")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRedisSessions(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	exerciseRegistry(t, NewRedisSessions(client))
}
