// Package ingest turns raw JSONL and CSV files into validated, revisioned datasets.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/empathyfine/internal/keylock"
	"github.com/aretw0/empathyfine/internal/logging"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
	"github.com/google/uuid"
)

const (
	// DefaultBatchSize is how many records are read between progress reports and cancellation checks.
	DefaultBatchSize = 256

	// DefaultMaxRecordSize caps a single JSON Lines record, in bytes.
	DefaultMaxRecordSize = 1 << 20
)

// Pipeline imports, validates, tags and persists datasets.
type Pipeline struct {
	store             ports.ProjectStore
	payloads          ports.ExampleStore
	maxResponseLength int
	maxRecordSize     int
	batchSize         int
	locks             *keylock.Map
	logger            *slog.Logger
	now               func() time.Time
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithMaxResponseLength sets the response length limit, in characters.
func WithMaxResponseLength(n int) Option {
	return func(p *Pipeline) {
		p.maxResponseLength = n
	}
}

// WithMaxRecordSize sets the largest JSON Lines record accepted, in bytes. Longer
// records are kept as malformed examples.
func WithMaxRecordSize(n int) Option {
	return func(p *Pipeline) {
		p.maxRecordSize = n
	}
}

// WithBatchSize sets how many records are processed between progress reports.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		p.batchSize = n
	}
}

// WithLogger configures a logger for the Pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline storing metadata in store and examples in payloads.
func New(store ports.ProjectStore, payloads ports.ExampleStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:             store,
		payloads:          payloads,
		maxResponseLength: DefaultMaxResponseLength,
		maxRecordSize:     DefaultMaxRecordSize,
		batchSize:         DefaultBatchSize,
		locks:             keylock.New(),
		logger:            logging.NewNop(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultBatchSize
	}
	if p.maxResponseLength <= 0 {
		p.maxResponseLength = DefaultMaxResponseLength
	}
	if p.maxRecordSize <= 0 {
		p.maxRecordSize = DefaultMaxRecordSize
	}
	return p
}

// MaxResponseLength returns the configured response limit.
func (p *Pipeline) MaxResponseLength() int { return p.maxResponseLength }

type importOptions struct {
	name     string
	progress func(Progress)
}

// ImportOption customizes a single import.
type ImportOption func(*importOptions)

// WithName sets the dataset name; it defaults to the file name without extension.
func WithName(name string) ImportOption {
	return func(o *importOptions) {
		o.name = name
	}
}

// WithProgress receives a report after every batch and once at completion.
func WithProgress(fn func(Progress)) ImportOption {
	return func(o *importOptions) {
		o.progress = fn
	}
}

func datasetsDir(p domain.Project) string {
	return filepath.Join(p.WorkspacePath, domain.DirDatasets)
}

// ImportFile streams path record by record into a new dataset of the project.
// Records that fail to parse are kept as examples with ParseError set and show up in the
// report; only an unreadable file or an unsupported encoding fails the import. A cancelled
// import persists nothing.
//
// Examples are written to the payload store and validated as they are read, so memory
// does not grow with the file. The returned dataset carries the metadata and report but
// no examples; call Load to edit them.
func (p *Pipeline) ImportFile(ctx context.Context, projectID, path string, format domain.Format, opts ...ImportOption) (*domain.Dataset, error) {
	o := importOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	progress := func(Progress) {}
	if o.progress != nil {
		progress = o.progress
	}

	proj, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if format == "" {
		if format, err = domain.FormatFromPath(path); err != nil {
			return nil, err
		}
	}
	if format, err = domain.ParseFormat(string(format)); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewError(domain.KindUnreadableFile, path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, domain.NewError(domain.KindUnreadableFile, path, err)
	}
	if info.IsDir() {
		return nil, domain.Errorf(domain.KindUnreadableFile, "%s is a directory", path)
	}

	counter := &countingReader{r: f}
	records, err := newRecordReader(format, counter, p.maxRecordSize)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	name := o.name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	abs, _ := filepath.Abs(path)
	ds := &domain.Dataset{
		ID:         uuid.NewString(),
		ProjectID:  proj.ID,
		Name:       name,
		SourcePath: abs,
		Format:     format,
		Revision:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	key := ports.PayloadKey{Dir: datasetsDir(proj), DatasetID: ds.ID, Revision: ds.Revision}
	w, err := p.payloads.Create(ctx, key)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = w.Abort()
		}
	}()

	percent := func() int {
		if info.Size() == 0 {
			return 100
		}
		return int(min(99, counter.n*100/info.Size()))
	}

	report := newReportBuilder(p.maxResponseLength)
	inBatch := 0
	for {
		ex, err := records.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := w.Write(ex); err != nil {
			return nil, err
		}
		report.add(ex)

		if inBatch++; inBatch == p.batchSize {
			inBatch = 0
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			progress(Progress{Stage: "import", Rows: report.out.Total, Percent: percent()})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := w.Commit()
	committed = true
	if err != nil {
		return nil, err
	}
	ds.Digest = digest
	ds.Report = report.report()

	if err := p.store.SaveDataset(ctx, ds.Meta()); err != nil {
		if rmErr := p.payloads.Remove(context.WithoutCancel(ctx), key.Dir, ds.ID); rmErr != nil {
			p.logger.Warn("Failed to remove orphaned payload", "dataset_id", ds.ID, "err", rmErr)
		}
		return nil, err
	}
	progress(Progress{Stage: "import", Rows: ds.Report.Total, Percent: 100})

	p.logger.Info("Dataset imported",
		"project_id", proj.ID,
		"dataset_id", ds.ID,
		"examples", ds.Report.Total,
		"invalid", ds.Report.Invalid,
	)
	return ds, nil
}

// StartImport runs ImportFile in the background.
func (p *Pipeline) StartImport(ctx context.Context, projectID, path string, format domain.Format, opts ...ImportOption) *Operation[*domain.Dataset] {
	return start(ctx, func(ctx context.Context, report func(Progress)) (*domain.Dataset, error) {
		return p.ImportFile(ctx, projectID, path, format, append(slices.Clone(opts), WithProgress(report))...)
	})
}

// Validate regenerates the dataset's report from its examples. It does not modify ds.
func (p *Pipeline) Validate(ds *domain.Dataset) domain.ValidationReport {
	return Validate(ds.Examples, p.maxResponseLength)
}

// StartValidate validates in the background, reporting progress per batch.
func (p *Pipeline) StartValidate(ctx context.Context, ds *domain.Dataset) *Operation[domain.ValidationReport] {
	examples := slices.Clone(ds.Examples)
	return start(ctx, func(ctx context.Context, report func(Progress)) (domain.ValidationReport, error) {
		total := len(examples)
		return validate(ctx, examples, p.maxResponseLength, p.batchSize, func(done int) {
			pct := 100
			if total > 0 {
				pct = done * 100 / total
			}
			report(Progress{Stage: "validate", Rows: done, Percent: pct})
		})
	})
}

// TagEmotion sets the emotion and intensity of one example. On any error the dataset is
// left untouched. Tagging a revision pinned by a job forks a new revision first.
func (p *Pipeline) TagEmotion(ds *domain.Dataset, index int, emotion domain.Emotion, intensity int) error {
	if index < 0 || index >= len(ds.Examples) {
		return domain.Errorf(domain.KindIndexOutOfRange, "index %d, dataset has %d examples", index, len(ds.Examples))
	}
	e, err := domain.ParseEmotion(string(emotion))
	if err != nil {
		return err
	}
	if !domain.ValidIntensity(intensity) {
		return domain.Errorf(domain.KindInvalidIntensity, "intensity %d out of range [%d,%d]", intensity, domain.MinIntensity, domain.MaxIntensity)
	}

	if ds.Pinned() {
		ds.Examples = slices.Clone(ds.Examples)
		ds.Revision = ds.PinnedRevision + 1
	}
	ex := ds.Examples[index].Clone()
	ex.Emotion = e
	ex.Intensity = &intensity
	ds.Examples[index] = ex
	ds.Report = p.Validate(ds)
	ds.UpdatedAt = p.now().UTC()
	return nil
}

// Save persists the dataset's examples and metadata. A revision that a job has pinned
// in the meantime is never overwritten: the dataset moves to a new revision instead.
func (p *Pipeline) Save(ctx context.Context, ds *domain.Dataset) error {
	return p.locks.WithLock(ctx, ds.ID, func(ctx context.Context) error {
		proj, err := p.store.GetProject(ctx, ds.ProjectID)
		if err != nil {
			return err
		}
		meta, err := p.store.GetDataset(ctx, ds.ID)
		switch {
		case err == nil:
			ds.PinnedRevision = max(ds.PinnedRevision, meta.PinnedRevision)
			ds.Revision = max(ds.Revision, meta.Revision)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		if ds.Revision <= 0 {
			ds.Revision = 1
		}
		if ds.Pinned() {
			ds.Revision = ds.PinnedRevision + 1
		}

		w, err := p.payloads.Create(ctx, ports.PayloadKey{Dir: datasetsDir(proj), DatasetID: ds.ID, Revision: ds.Revision})
		if err != nil {
			return err
		}
		for _, ex := range ds.Examples {
			if err := w.Write(ex); err != nil {
				_ = w.Abort()
				return err
			}
		}
		digest, err := w.Commit()
		if err != nil {
			return err
		}
		ds.Digest = digest
		ds.Report = p.Validate(ds)
		if ds.CreatedAt.IsZero() {
			ds.CreatedAt = p.now().UTC()
		}
		ds.UpdatedAt = p.now().UTC()
		return p.store.SaveDataset(ctx, ds.Meta())
	})
}

// Load reads the current revision of a dataset with a freshly derived report.
func (p *Pipeline) Load(ctx context.Context, datasetID string) (*domain.Dataset, error) {
	meta, err := p.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	proj, err := p.store.GetProject(ctx, meta.ProjectID)
	if err != nil {
		return nil, err
	}
	examples, err := p.payloads.Read(ctx, ports.PayloadKey{Dir: datasetsDir(proj), DatasetID: meta.ID, Revision: meta.Revision})
	if err != nil {
		return nil, err
	}
	ds := &domain.Dataset{
		ID:             meta.ID,
		ProjectID:      meta.ProjectID,
		Name:           meta.Name,
		SourcePath:     meta.SourcePath,
		Format:         meta.Format,
		Revision:       meta.Revision,
		PinnedRevision: meta.PinnedRevision,
		Digest:         meta.Digest,
		Examples:       examples,
		CreatedAt:      meta.CreatedAt,
		UpdatedAt:      meta.UpdatedAt,
	}
	if ds.Examples == nil {
		ds.Examples = []domain.Example{}
	}
	ds.Report = p.Validate(ds)
	return ds, nil
}

// List returns the metadata of every dataset in the project.
func (p *Pipeline) List(ctx context.Context, projectID string) ([]domain.DatasetMeta, error) {
	return p.store.ListDatasets(ctx, projectID)
}

// Pin marks the dataset's current revision as referenced by a job and returns a
// reference trainers can read from.
func (p *Pipeline) Pin(ctx context.Context, datasetID string) (domain.DatasetRef, error) {
	var ref domain.DatasetRef
	err := p.locks.WithLock(ctx, datasetID, func(ctx context.Context) error {
		meta, err := p.store.GetDataset(ctx, datasetID)
		if err != nil {
			return err
		}
		proj, err := p.store.GetProject(ctx, meta.ProjectID)
		if err != nil {
			return err
		}
		if err := p.store.PinDataset(ctx, meta.ID, meta.Revision); err != nil {
			return err
		}
		ref = domain.DatasetRef{
			ID:           meta.ID,
			Revision:     meta.Revision,
			Digest:       meta.Digest,
			Path:         p.payloads.Locate(ports.PayloadKey{Dir: datasetsDir(proj), DatasetID: meta.ID, Revision: meta.Revision}),
			ExampleCount: meta.ExampleCount,
		}
		return nil
	})
	if err != nil {
		return ref, fmt.Errorf("pin dataset: %w", err)
	}
	return ref, nil
}
