package cache

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type PresenceCache interface {
	AddMember(ctx context.Context, docID string, userID uint64, username string, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID string, userID uint64) error
	GetDocuments(ctx context.Context) ([]string, error)
	GetAliveMembersWithNames(ctx context.Context, docID string) ([]PresenceMember, error)
	// DisplayName 查询作者显示名，found=false 表示从未加入过该文档
	DisplayName(ctx context.Context, docID string, userID uint64) (name string, found bool, err error)
}

type PresenceMember struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
}

// 过期清理：删掉 score<=now 的成员并同步删除名字
// KEYS[1] = roomKey, KEYS[2] = namesKey, ARGV[1] = now (unix 秒)
var sweepScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

// 具体实现：基于 redis 的 PresenceCache
type redisPresence struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb, now: time.Now}
}

// AddMember 加入或续期；名字表不随成员过期，过期成员的名字由 sweep 清理
func (p *redisPresence) AddMember(ctx context.Context, docID string, userID uint64, username string, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），用于表达“逻辑 TTL”
	expireAt := p.now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: userID})
	if username != "" {
		tx.HSet(ctx, namesKey(docID), userID, username)
	}
	tx.SAdd(ctx, docsKey(), docID)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, docID string, userID uint64) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), userID)
	tx.HDel(ctx, namesKey(docID), strconv.FormatUint(userID, 10))
	_, err := tx.Exec(ctx)
	return err
}

// GetDocuments 返回仍有在线成员的文档，顺带把空文档移出索引
func (p *redisPresence) GetDocuments(ctx context.Context) ([]string, error) {
	docIDs, err := p.rdb.SMembers(ctx, docsKey()).Result()
	if err != nil {
		return nil, err
	}
	documents := make([]string, 0, len(docIDs))
	for _, docID := range docIDs {
		n, err := p.rdb.ZCard(ctx, roomKey(docID)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			p.rdb.SRem(ctx, docsKey(), docID)
			continue
		}
		documents = append(documents, docID)
	}
	sort.Strings(documents)
	return documents, nil
}

func (p *redisPresence) DisplayName(ctx context.Context, docID string, userID uint64) (string, bool, error) {
	name, err := p.rdb.HGet(ctx, namesKey(docID), strconv.FormatUint(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (p *redisPresence) GetAliveMembersWithNames(ctx context.Context, docID string) ([]PresenceMember, error) {
	// step1: 清理过期成员
	now := p.now().Unix()
	if err := sweepScript.Run(ctx, p.rdb, []string{roomKey(docID), namesKey(docID)}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// step2: 查询在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量获取名字
	names, err := p.rdb.HMGet(ctx, namesKey(docID), aliveIDs...).Result()
	if err != nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, aliveID := range aliveIDs {
		// ZRangeByScore 返回的是 member 的字符串表示，这里解析回 uint64
		uid, err := strconv.ParseUint(aliveID, 10, 64)
		if err != nil {
			continue
		}
		name, _ := names[i].(string)
		members = append(members, PresenceMember{UserID: uid, Username: name})
	}
	return members, nil
}
