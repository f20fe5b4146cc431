package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizmaster/internal/domain"
)

// RoundLoader fetches the rounds of a game from the backing store.
type RoundLoader interface {
	Rounds(ctx context.Context, gameID string) ([]domain.Round, error)
}

// RoundCache keeps each game's round list as one JSON value in Redis so
// every instance shares it, and falls back to the loader on a miss:
//
//	SET quizmaster:rounds:{gameID} <json> EX <ttl>
//
// Writers call Invalidate after commit; the TTL bounds staleness when an
// instance misses that call. Invalidate also bumps
// quizmaster:rounds:{gameID}:version, and a load only writes back when that
// version is unchanged since the load began. A TTL of zero disables caching.
type RoundCache struct {
	client *redis.Client
	loader RoundLoader
	ttl    time.Duration
	log    *slog.Logger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewRoundCache(client *redis.Client, loader RoundLoader, ttl time.Duration, log *slog.Logger) *RoundCache {
	if log == nil {
		log = slog.Default()
	}
	return &RoundCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type roundWire struct {
	ID          string            `json:"id"`
	GameID      string            `json:"game_id"`
	ParentID    string            `json:"parent_id,omitempty"`
	Name        string            `json:"name"`
	Order       int               `json:"order"`
	Open        bool              `json:"is_open"`
	Questions   []domain.Question `json:"questions"`
	TimerEndsAt *time.Time        `json:"timer_ends_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (c *RoundCache) Rounds(ctx context.Context, gameID string) ([]domain.Round, error) {
	if c.ttl <= 0 {
		return c.loader.Rounds(ctx, gameID)
	}
	if rs, ok := c.get(ctx, gameID); ok {
		return rs, nil
	}

	result, err, _ := c.sf.Do(gameID, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if rs, ok := c.get(ctx, gameID); ok {
			return rs, nil
		}
		version, err := readVersion(ctx, c.client, gameID)
		if err != nil {
			c.log.WarnContext(ctx, "read rounds version", "game_id", gameID, "error", err)
		}
		rs, err := c.loader.Rounds(ctx, gameID)
		if err != nil {
			return nil, err
		}
		if version >= 0 {
			if err := c.set(ctx, gameID, rs, version); err != nil && !errors.Is(err, errStaleLoad) {
				c.log.WarnContext(ctx, "cache rounds", "game_id", gameID, "error", err)
			}
		}
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Round), nil
}

// Invalidate drops the cached rounds of a game. Failures are logged; the
// entry then expires with its TTL.
func (c *RoundCache) Invalidate(ctx context.Context, gameID string) {
	c.sf.Forget(gameID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(gameID))
		pipe.Del(ctx, roundsKey(gameID))
		return nil
	})
	if err != nil {
		c.log.WarnContext(ctx, "invalidate rounds", "game_id", gameID, "error", err)
	}
}

var errStaleLoad = errors.New("rounds invalidated during load")

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readVersion returns -1 when the version cannot be read, so the caller
// skips the write-back.
func readVersion(ctx context.Context, r getter, gameID string) (int64, error) {
	v, err := r.Get(ctx, versionKey(gameID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return -1, err
	}
	return v, nil
}

func (c *RoundCache) get(ctx context.Context, gameID string) ([]domain.Round, bool) {
	data, err := c.client.Get(ctx, roundsKey(gameID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WarnContext(ctx, "read cached rounds", "game_id", gameID, "error", err)
		}
		return nil, false
	}
	var wire []roundWire
	if err := json.Unmarshal(data, &wire); err != nil {
		c.log.WarnContext(ctx, "decode cached rounds", "game_id", gameID, "error", err)
		return nil, false
	}
	rs := make([]domain.Round, len(wire))
	for i, w := range wire {
		rs[i] = domain.Round{
			ID:          w.ID,
			GameID:      w.GameID,
			ParentID:    w.ParentID,
			Name:        w.Name,
			Order:       w.Order,
			Open:        w.Open,
			Questions:   w.Questions,
			TimerEndsAt: w.TimerEndsAt,
			CreatedAt:   w.CreatedAt,
		}
	}
	return rs, true
}

func (c *RoundCache) set(ctx context.Context, gameID string, rs []domain.Round, version int64) error {
	wire := make([]roundWire, len(rs))
	for i, r := range rs {
		wire[i] = roundWire{
			ID:          r.ID,
			GameID:      r.GameID,
			ParentID:    r.ParentID,
			Name:        r.Name,
			Order:       r.Order,
			Open:        r.Open,
			Questions:   r.Questions,
			TimerEndsAt: r.TimerEndsAt,
			CreatedAt:   r.CreatedAt,
		}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode rounds: %w", err)
	}
	ttl := c.ttlWithJitter()
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readVersion(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if current != version {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, roundsKey(gameID), data, ttl)
			return nil
		})
		return err
	}, versionKey(gameID))
	if errors.Is(err, redis.TxFailedErr) {
		return errStaleLoad
	}
	return err
}

func roundsKey(gameID string) string {
	return "quizmaster:rounds:" + gameID
}

func versionKey(gameID string) string {
	return roundsKey(gameID) + ":version"
}

func (c *RoundCache) ttlWithJitter() time.Duration {
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
