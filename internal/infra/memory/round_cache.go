package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizmaster/internal/domain"
)

// RoundLoader fetches the rounds of a game from the backing store.
type RoundLoader interface {
	Rounds(ctx context.Context, gameID string) ([]domain.Round, error)
}

// RoundCache caches round lists per game with a TTL so leaderboard and
// navigation reads do not hit the store on every request. Writers call
// Invalidate after they commit.
type RoundCache struct {
	loader RoundLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedRounds
	// gen counts invalidations per game; a load only stores its result
	// when no invalidation happened while it ran.
	gen map[string]uint64
}

type cachedRounds struct {
	rounds    []domain.Round
	expiresAt time.Time
}

func NewRoundCache(loader RoundLoader, ttl time.Duration) *RoundCache {
	return &RoundCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedRounds),
		gen:    make(map[string]uint64),
	}
}

func (c *RoundCache) Rounds(ctx context.Context, gameID string) ([]domain.Round, error) {
	if c.ttl <= 0 {
		return c.loader.Rounds(ctx, gameID)
	}
	if rs, ok := c.lookup(gameID); ok {
		return rs, nil
	}

	result, err, _ := c.sf.Do(gameID, func() (interface{}, error) {
		if rs, ok := c.lookup(gameID); ok {
			return rs, nil
		}
		now := c.clock()
		c.mu.RLock()
		gen := c.gen[gameID]
		c.mu.RUnlock()
		rs, err := c.loader.Rounds(ctx, gameID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen[gameID] == gen {
			c.cache[gameID] = cachedRounds{rounds: rs, expiresAt: now.Add(c.ttlWithJitter())}
		}
		c.mu.Unlock()
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneRounds(result.([]domain.Round)), nil
}

func (c *RoundCache) lookup(gameID string) ([]domain.Round, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[gameID]
	if !ok || !entry.expiresAt.After(now) {
		return nil, false
	}
	return cloneRounds(entry.rounds), true
}

// Invalidate drops the cached rounds of a game.
func (c *RoundCache) Invalidate(_ context.Context, gameID string) {
	c.mu.Lock()
	delete(c.cache, gameID)
	c.gen[gameID]++
	c.mu.Unlock()
	c.sf.Forget(gameID)
}

func (c *RoundCache) ttlWithJitter() time.Duration {
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func cloneRounds(in []domain.Round) []domain.Round {
	out := make([]domain.Round, len(in))
	for i, r := range in {
		out[i] = copyRound(r)
	}
	return out
}
