package adapters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/redis/go-redis/v9"
)

// RedisFragmentStore keeps a per-conversation instance counter at <prefix><key>:instance
// and each fragment as JSON at <prefix><key>:<n>.
type RedisFragmentStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisFragmentStore creates a store on client. A zero ttl keeps fragments forever.
func NewRedisFragmentStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisFragmentStore {
	return &RedisFragmentStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisFragmentStore) counterKey(key string) string {
	return s.prefix + key + ":instance"
}

func (s *RedisFragmentStore) fragmentKey(key string, instance int) string {
	return s.prefix + key + ":" + strconv.Itoa(instance)
}

// Fetch loads the fragment the instance counter points at.
func (s *RedisFragmentStore) Fetch(ctx context.Context, key string) (*ports.Fragment, error) {
	instance, err := s.Instances(ctx, key)
	if err != nil || instance == 0 {
		return nil, err
	}
	return s.FetchInstance(ctx, key, instance)
}

// FetchInstance loads fragment n for key.
func (s *RedisFragmentStore) FetchInstance(ctx context.Context, key string, instance int) (*ports.Fragment, error) {
	raw, err := s.client.Get(ctx, s.fragmentKey(key, instance)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fragment: %w", err)
	}

	var f ports.Fragment
	if err := jsonUnmarshal(raw, &f); err != nil {
		return nil, err
	}
	f.Instance = instance
	return &f, nil
}

// Instances reads the instance counter, 0 when the conversation is unknown.
func (s *RedisFragmentStore) Instances(ctx context.Context, key string) (int, error) {
	n, err := s.client.Get(ctx, s.counterKey(key)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get instance counter: %w", err)
	}
	return n, nil
}

// redisSaveAttempts bounds retries when a concurrent writer moves the counter.
const redisSaveAttempts = 5

// Save bumps the counter for a new fragment, otherwise overwrites the current one.
// The fragment and the counter are written in one MULTI/EXEC under WATCH, so a
// failed write never leaves the counter pointing at a missing fragment.
func (s *RedisFragmentStore) Save(ctx context.Context, key string, fragment *ports.Fragment, newFragment bool) error {
	counter := s.counterKey(key)
	var instance int

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, counter).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to get instance counter: %w", err)
		}
		instance = current
		if newFragment || current == 0 {
			instance++
		}

		stored := *fragment
		stored.Instance = instance
		if stored.Messages == nil {
			stored.Messages = []ports.Message{}
		}
		data, err := jsonMarshal(&stored)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.fragmentKey(key, instance), data, s.ttl)
			pipe.Set(ctx, counter, instance, 0)
			return nil
		})
		return err
	}

	var err error
	for range redisSaveAttempts {
		err = s.client.Watch(ctx, txf, counter)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to save fragment: %w", err)
	}

	fragment.Instance = instance
	return nil
}

var (
	_ ports.FragmentStore   = (*RedisFragmentStore)(nil)
	_ ports.FragmentArchive = (*RedisFragmentStore)(nil)
)
