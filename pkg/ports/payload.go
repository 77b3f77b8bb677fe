package ports

import (
	"context"

	"github.com/aretw0/empathyfine/pkg/domain"
)

// PayloadKey addresses the examples of one dataset revision.
// Dir is the project's datasets directory.
type PayloadKey struct {
	Dir       string
	DatasetID string
	Revision  int
}

// ExampleWriter streams examples into a pending payload.
// Nothing is visible to readers until Commit returns.
type ExampleWriter interface {
	Write(ex domain.Example) error
	// Commit publishes the payload and returns its content digest.
	Commit() (digest string, err error)
	// Abort discards everything written. Safe to call after Commit.
	Abort() error
}

// ExampleStore keeps bulk example payloads outside the metadata store.
type ExampleStore interface {
	Create(ctx context.Context, key PayloadKey) (ExampleWriter, error)
	Read(ctx context.Context, key PayloadKey) ([]domain.Example, error)
	// Locate returns the path trainers can read the payload from.
	Locate(key PayloadKey) string
	// Remove deletes every revision of one dataset.
	Remove(ctx context.Context, dir, datasetID string) error
}
