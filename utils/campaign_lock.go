package utils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// CampaignLocker serializes processing of one campaign across workers. A
// successful Acquire returns a release function; ok is false when another
// holder owns the lock.
type CampaignLocker interface {
	Acquire(ctx context.Context, campaignID uint, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCampaignLocker holds campaign locks as SET NX keys with a TTL.
type RedisCampaignLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisCampaignLocker(client *redis.Client) *RedisCampaignLocker {
	return &RedisCampaignLocker{client: client, prefix: "outreach:campaign-lock:"}
}

func (l *RedisCampaignLocker) Acquire(ctx context.Context, campaignID uint, ttl time.Duration) (func(), bool, error) {
	key := fmt.Sprintf("%s%d", l.prefix, campaignID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire campaign lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The caller's context may already be cancelled at shutdown.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// LocalCampaignLocker is an in-process locker for single-instance deployments.
type LocalCampaignLocker struct {
	mu    sync.Mutex
	held  map[uint]localLock
	clock func() time.Time
}

type localLock struct {
	token   string
	expires time.Time
}

func NewLocalCampaignLocker() *LocalCampaignLocker {
	return &LocalCampaignLocker{held: make(map[uint]localLock), clock: time.Now}
}

func (l *LocalCampaignLocker) Acquire(_ context.Context, campaignID uint, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[campaignID]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.held[campaignID] = localLock{token: token, expires: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[campaignID]; ok && cur.token == token {
			delete(l.held, campaignID)
		}
	}
	return release, true, nil
}
