package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要本地 Redis；未启动时跳过
func newTestPresence(t *testing.T) (*redisPresence, *time.Time) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 15})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() {
		_ = rdb.FlushDB(context.Background()).Err()
		_ = rdb.Close()
	})
	require.NoError(t, rdb.FlushDB(ctx).Err())

	clock := time.Unix(1_700_000_000, 0)
	p := &redisPresence{rdb: rdb, now: func() time.Time { return clock }}
	return p, &clock
}

func TestPresence_MembersAndNames(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.AddMember(ctx, "doc-1", 7, "Alice", time.Minute))
	require.NoError(t, p.AddMember(ctx, "doc-1", 8, "Bob", time.Minute))

	members, err := p.GetAliveMembersWithNames(ctx, "doc-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []PresenceMember{{UserID: 7, Username: "Alice"}, {UserID: 8, Username: "Bob"}}, members)

	name, found, err := p.DisplayName(ctx, "doc-1", 8)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Bob", name)

	_, found, err = p.DisplayName(ctx, "doc-1", 99)
	require.NoError(t, err)
	assert.False(t, found)

	docs, err := p.GetDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, docs)
}

func TestPresence_ExpiredMembersAreSwept(t *testing.T) {
	p, clock := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.AddMember(ctx, "doc-1", 7, "Alice", 10*time.Second))
	require.NoError(t, p.AddMember(ctx, "doc-1", 8, "Bob", time.Minute))

	*clock = clock.Add(30 * time.Second)
	members, err := p.GetAliveMembersWithNames(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []PresenceMember{{UserID: 8, Username: "Bob"}}, members)

	_, found, err := p.DisplayName(ctx, "doc-1", 7)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPresence_RemoveMember(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.AddMember(ctx, "doc-2", 7, "Alice", time.Minute))
	require.NoError(t, p.RemoveMember(ctx, "doc-2", 7))

	members, err := p.GetAliveMembersWithNames(ctx, "doc-2")
	require.NoError(t, err)
	assert.Empty(t, members)

	docs, err := p.GetDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
