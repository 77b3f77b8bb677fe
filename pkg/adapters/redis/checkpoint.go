// Package redis keeps non-authoritative job checkpoints in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the sink.
const DefaultPrefix = "empathyfine:checkpoint:"

// CheckpointSink implements ports.CheckpointSink using Redis.
type CheckpointSink struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*CheckpointSink)

// WithTTL sets the expiration for checkpoints.
func WithTTL(ttl time.Duration) Option {
	return func(s *CheckpointSink) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *CheckpointSink) {
		s.prefix = prefix
	}
}

// New creates a sink connected to address.
func New(address, password string, db int, opts ...Option) *CheckpointSink {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a sink from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *CheckpointSink {
	s := &CheckpointSink{
		client: client,
		prefix: DefaultPrefix,
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CheckpointSink) key(jobID string) string {
	return s.prefix + "job:" + jobID
}

func (s *CheckpointSink) indexKey(projectID string) string {
	return s.prefix + "project:" + projectID
}

// SaveCheckpoint stores the snapshot with TTL and indexes it per project, scored by expiry.
func (s *CheckpointSink) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(cp.JobID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(cp.ProjectID), backend.Z{Score: score, Member: cp.JobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Infrastructure("save checkpoint", err)
	}
	return nil
}

func (s *CheckpointSink) LoadCheckpoint(ctx context.Context, jobID string) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	val, err := s.client.Get(ctx, s.key(jobID)).Result()
	if errors.Is(err, backend.Nil) {
		return cp, domain.NotFound("checkpoint", jobID)
	}
	if err != nil {
		return cp, domain.Infrastructure("load checkpoint", err)
	}
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return cp, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// Jobs lists job ids with a live checkpoint for the project, pruning expired index entries.
func (s *CheckpointSink) Jobs(ctx context.Context, projectID string) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(projectID), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, domain.Infrastructure("prune checkpoints", err)
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(projectID), 0, -1).Result()
	if err != nil {
		return nil, domain.Infrastructure("list checkpoints", err)
	}
	return ids, nil
}

// Delete drops a job's checkpoint.
func (s *CheckpointSink) Delete(ctx context.Context, projectID, jobID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(jobID))
	pipe.ZRem(ctx, s.indexKey(projectID), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Infrastructure("delete checkpoint", err)
	}
	return nil
}

// Close closes the redis client.
func (s *CheckpointSink) Close() error {
	return s.client.Close()
}
