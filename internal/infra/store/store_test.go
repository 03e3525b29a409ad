package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19stream/internal/app/notification"
	"github.com/osa030/19stream/internal/infra/config"
)

func newMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	mr := newMiniredis(t)

	tests := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{
			name: "memory",
			open: func(t *testing.T) Store { return NewMemoryStore() },
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				s, err := NewSQLiteStore(ctx, ":memory:")
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "redis",
			open: func(t *testing.T) Store {
				s, err := NewRedisStore(ctx, "redis://"+mr.Addr())
				require.NoError(t, err)
				return s
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.open(t)
			defer s.Close()

			_, ok, err := s.Load(ctx, "user:u1:likedSongs")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Save(ctx, "user:u1:likedSongs", []byte(`["a"]`)))
			require.NoError(t, s.Save(ctx, "local:likedSongs", []byte(`["b"]`)))

			v, ok, err := s.Load(ctx, "user:u1:likedSongs")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `["a"]`, string(v))

			// Overwrite
			require.NoError(t, s.Save(ctx, "user:u1:likedSongs", []byte(`["a","c"]`)))
			v, _, err = s.Load(ctx, "user:u1:likedSongs")
			require.NoError(t, err)
			assert.JSONEq(t, `["a","c"]`, string(v))

			// Scopes are independent
			v, _, err = s.Load(ctx, "local:likedSongs")
			require.NoError(t, err)
			assert.JSONEq(t, `["b"]`, string(v))
		})
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Save(context.Background(), "k", buf))
	buf[0] = 'x'

	v, _, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	mr := newMiniredis(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), "local:recentlyPlayed", []byte("[]")))
	got, err := mr.Get("19stream:local:recentlyPlayed")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := newMiniredis(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), "redis://"+addr)
	assert.Error(t, err)

	_, err = NewRedisStore(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestSQLiteStore_File(t *testing.T) {
	path := t.TempDir() + "/stream.db"
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	// Reopen: data survives
	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(ctx, config.StoreConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	_, err = New(ctx, config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestRedisPublisher(t *testing.T) {
	mr := newMiniredis(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sub := rdb.Subscribe(context.Background(), "stream:events")
	defer sub.Close()
	// Wait for the subscription to be active
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	pub := NewRedisPublisher(rdb, "stream:events")
	require.NoError(t, pub.Send(&notification.Notification{
		SequenceNo: 7,
		Reason:     "play",
		State:      map[string]any{"play_state": "loading"},
	}))

	select {
	case msg := <-sub.Channel():
		var got notification.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, uint64(7), got.SequenceNo)
		assert.Equal(t, "play", got.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
