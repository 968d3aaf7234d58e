package match

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const roomTTL = 24 * time.Hour

// RedisStore keeps rooms as JSON blobs with challenge and per-player index
// sets, so several coordinator processes can share one registry.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis room store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Save(ctx context.Context, r *Room) error {
	if r == nil || r.ID == "" {
		return ErrInvalidArgs
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, roomKey(r.ID), raw, roomTTL)
	pipe.SAdd(ctx, keyAllRooms, r.ID)
	pipe.Expire(ctx, keyAllRooms, roomTTL)
	if r.Challenge && r.Status == StatusWaiting && r.PlayerColors.B == "" {
		pipe.SAdd(ctx, keyChallenges, r.ID)
	} else {
		pipe.SRem(ctx, keyChallenges, r.ID)
	}
	pipe.Expire(ctx, keyChallenges, roomTTL)
	for _, addr := range []string{r.PlayerColors.W, r.PlayerColors.B} {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		k := playerKey(addr)
		pipe.SAdd(ctx, k, r.ID)
		pipe.Expire(ctx, k, roomTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Room, error) {
	raw, err := s.rdb.Get(ctx, roomKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, roomKey(id))
	pipe.SRem(ctx, keyAllRooms, id)
	pipe.SRem(ctx, keyChallenges, id)
	if r != nil {
		for _, addr := range []string{r.PlayerColors.W, r.PlayerColors.B} {
			if strings.TrimSpace(addr) != "" {
				pipe.SRem(ctx, playerKey(addr), id)
			}
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Challenges(ctx context.Context) ([]*Room, error) {
	ids, err := s.rdb.SMembers(ctx, keyChallenges).Result()
	if err != nil {
		return nil, err
	}
	var out []*Room
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// Index entries can outlive their room; skip and let TTL clean up.
		if r == nil || !r.Challenge || r.Status != StatusWaiting || r.PlayerColors.B != "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) ByPlayer(ctx context.Context, addr string) ([]*Room, error) {
	ids, err := s.rdb.SMembers(ctx, playerKey(addr)).Result()
	if err != nil {
		return nil, err
	}
	var out []*Room
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r != nil && r.HasPlayer(addr) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, keyAllRooms).Result()
	return int(n), err
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

const (
	keyAllRooms   = "gambit:rooms"
	keyChallenges = "gambit:challenges"
)

func roomKey(id string) string { return "gambit:room:" + strings.TrimSpace(id) }

func playerKey(addr string) string {
	return "gambit:rooms:player:" + strings.ToLower(strings.TrimSpace(addr))
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
