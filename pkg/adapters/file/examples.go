// Package file stores dataset example payloads as JSON Lines files.
package file

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
)

// ExampleStore implements ports.ExampleStore on the local filesystem.
// Each dataset revision is one file: <dir>/<dataset id>/rev-000001.jsonl.
type ExampleStore struct{}

// NewExampleStore creates a filesystem payload store.
func NewExampleStore() *ExampleStore {
	return &ExampleStore{}
}

func (s *ExampleStore) Locate(key ports.PayloadKey) string {
	return filepath.Join(key.Dir, key.DatasetID, fmt.Sprintf("rev-%06d.jsonl", key.Revision))
}

// Create opens a temp file next to the destination so the final rename stays on one filesystem.
func (s *ExampleStore) Create(ctx context.Context, key ports.PayloadKey) (ports.ExampleWriter, error) {
	if key.DatasetID == "" || key.Revision <= 0 {
		return nil, domain.Errorf(domain.KindValidation, "invalid payload key %+v", key)
	}
	dest := s.Locate(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, domain.Infrastructure("ensure dataset directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "tmp-"+filepath.Base(dest)+"-*")
	if err != nil {
		return nil, domain.Infrastructure("create temp payload", err)
	}
	h := sha256.New()
	buf := bufio.NewWriter(io.MultiWriter(tmp, h))
	return &exampleWriter{dest: dest, tmp: tmp, buf: buf, hash: h, enc: json.NewEncoder(buf)}, nil
}

type exampleWriter struct {
	dest string
	tmp  *os.File
	buf  *bufio.Writer
	hash hash.Hash
	enc  *json.Encoder
	done bool
}

func (w *exampleWriter) Write(ex domain.Example) error {
	if w.done {
		return domain.Errorf(domain.KindClosed, "payload writer already finished")
	}
	if err := w.enc.Encode(ex); err != nil {
		return domain.Infrastructure("write example", err)
	}
	return nil
}

// Commit writes through, fsyncs and atomically renames the temp file into place.
func (w *exampleWriter) Commit() (string, error) {
	if w.done {
		return "", domain.Errorf(domain.KindClosed, "payload writer already finished")
	}
	w.done = true
	tmpPath := w.tmp.Name()
	defer func() {
		_ = w.tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if err := w.buf.Flush(); err != nil {
		return "", domain.Infrastructure("flush payload", err)
	}
	if err := w.tmp.Sync(); err != nil {
		return "", domain.Infrastructure("fsync payload", err)
	}
	if err := w.tmp.Close(); err != nil {
		return "", domain.Infrastructure("close payload", err)
	}
	if err := os.Rename(tmpPath, w.dest); err != nil {
		return "", domain.Infrastructure("publish payload", err)
	}
	return hex.EncodeToString(w.hash.Sum(nil)), nil
}

func (w *exampleWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.tmp.Close()
	if err := os.Remove(w.tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.Infrastructure("discard payload", err)
	}
	return nil
}

func (s *ExampleStore) Read(ctx context.Context, key ports.PayloadKey) ([]domain.Example, error) {
	f, err := os.Open(s.Locate(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.NotFound("dataset payload", fmt.Sprintf("%s@%d", key.DatasetID, key.Revision))
	}
	if err != nil {
		return nil, domain.Infrastructure("open payload", err)
	}
	defer f.Close()

	var out []domain.Example
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ex domain.Example
		if err := dec.Decode(&ex); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, domain.Infrastructure("decode payload", err)
		}
		out = append(out, ex)
	}
}

func (s *ExampleStore) Remove(ctx context.Context, dir, datasetID string) error {
	if datasetID == "" {
		return domain.Errorf(domain.KindValidation, "dataset id is required")
	}
	if err := os.RemoveAll(filepath.Join(dir, datasetID)); err != nil {
		return domain.Infrastructure("remove payloads", err)
	}
	return nil
}
