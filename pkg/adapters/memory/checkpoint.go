package memory

import (
	"context"
	"sync"

	"github.com/aretw0/empathyfine/pkg/domain"
)

// Checkpoints implements ports.CheckpointSink in memory.
type Checkpoints struct {
	mu   sync.RWMutex
	data map[string]domain.Checkpoint
}

// NewCheckpoints creates an empty checkpoint sink.
func NewCheckpoints() *Checkpoints {
	return &Checkpoints{data: make(map[string]domain.Checkpoint)}
}

func (c *Checkpoints) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cp.JobID] = cp
	return nil
}

func (c *Checkpoints) LoadCheckpoint(ctx context.Context, jobID string) (domain.Checkpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.data[jobID]
	if !ok {
		return cp, domain.NotFound("checkpoint", jobID)
	}
	return cp, nil
}
