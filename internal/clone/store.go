package clone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryStore is a process-local JobStore.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (s *MemoryStore) Put(_ context.Context, job Job) error {
	if job.ID == "" {
		return errors.New("job id required")
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

const defaultJobTTL = time.Hour

// RedisStore keeps job records in Redis as JSON with a TTL, so a clone
// started by one worker can be polled by another.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithJobTTL sets how long job records live. Zero disables expiry.
func WithJobTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithKeyPrefix sets the key prefix. Default is "terifai".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: defaultJobTTL, prefix: "terifai"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStoreFromURL parses a redis:// URL and returns a store for it.
func NewRedisStoreFromURL(url string, opts ...RedisOption) (*RedisStore, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(o), opts...), nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":clone:job:" + id
}

func (s *RedisStore) Put(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errors.New("job id required")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, s.key(job.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("redis get failed: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }
