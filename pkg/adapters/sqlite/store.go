// Package sqlite implements ports.ProjectStore on a single SQLite file per workspace.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// DefaultFileName is the database file created in a workspace root.
const DefaultFileName = "empathyfine.db"

// Store implements ports.ProjectStore using SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open migrates and opens the database at path, creating parent directories.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.NewError(domain.KindInvalidPath, path, err)
	}
	if err := RunMigrations(path); err != nil {
		return nil, domain.Infrastructure("migrate "+path, err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, domain.Infrastructure("open "+path, err)
	}
	// A single writer connection keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, domain.Infrastructure("ping "+path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Infrastructure("begin", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.Infrastructure("commit", err)
	}
	return nil
}

func (s *Store) CreateProject(ctx context.Context, p domain.Project, initial domain.Configuration) error {
	cfg, err := encodeJSON(initial.Clone())
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, base_model, framework, workspace_path, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.BaseModel, string(p.Framework), p.WorkspacePath, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return domain.Errorf(domain.KindDuplicateName, "project %q already exists", p.Name)
			}
			return domain.Infrastructure("insert project", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO configuration_revisions (project_id, revision, configuration, created_at)
			VALUES (?, 1, ?, ?)`, p.ID, cfg, formatTime(p.CreatedAt))
		if err != nil {
			return domain.Infrastructure("insert revision", err)
		}
		return nil
	})
}

const projectColumns = `
	p.id, p.name, p.base_model, p.framework, p.workspace_path, p.created_at, p.updated_at,
	r.revision, r.configuration, r.created_at`

const projectJoin = `
	FROM projects p
	JOIN configuration_revisions r ON r.project_id = p.id
	 AND r.revision = (SELECT MAX(revision) FROM configuration_revisions WHERE project_id = p.id)`

func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+projectJoin+` WHERE p.id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, domain.NotFound("project", id)
	}
	return p, err
}

func (s *Store) FindProjectByName(ctx context.Context, name string) (domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+projectJoin+` WHERE p.name = ?`, name)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, domain.NotFound("project", name)
	}
	return p, err
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+projectJoin+` ORDER BY p.name`)
	if err != nil {
		return nil, domain.Infrastructure("list projects", err)
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Infrastructure("list projects", err)
	}
	return out, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return domain.Infrastructure("delete project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("project", id)
	}
	return nil
}

func (s *Store) AppendRevision(ctx context.Context, projectID string, cfg domain.Configuration, at time.Time) (domain.ConfigurationRevision, error) {
	rev := domain.ConfigurationRevision{ProjectID: projectID, Configuration: cfg.Clone(), CreatedAt: at}
	raw, err := encodeJSON(rev.Configuration)
	if err != nil {
		return rev, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := projectExists(ctx, tx, projectID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(revision), 0) + 1 FROM configuration_revisions WHERE project_id = ?`,
			projectID).Scan(&rev.Revision); err != nil {
			return domain.Infrastructure("next revision", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO configuration_revisions (project_id, revision, configuration, created_at)
			VALUES (?, ?, ?, ?)`, projectID, rev.Revision, raw, formatTime(at)); err != nil {
			return domain.Infrastructure("insert revision", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, formatTime(at), projectID); err != nil {
			return domain.Infrastructure("touch project", err)
		}
		return nil
	})
	return rev, err
}

func (s *Store) Revisions(ctx context.Context, projectID string) ([]domain.ConfigurationRevision, error) {
	if err := projectExists(ctx, s.db, projectID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT revision, configuration, created_at FROM configuration_revisions
		WHERE project_id = ? ORDER BY revision`, projectID)
	if err != nil {
		return nil, domain.Infrastructure("list revisions", err)
	}
	defer rows.Close()

	var out []domain.ConfigurationRevision
	for rows.Next() {
		rev := domain.ConfigurationRevision{ProjectID: projectID}
		var raw, created string
		if err := rows.Scan(&rev.Revision, &raw, &created); err != nil {
			return nil, domain.Infrastructure("scan revision", err)
		}
		if err := json.Unmarshal([]byte(raw), &rev.Configuration); err != nil {
			return nil, domain.Infrastructure("decode revision", err)
		}
		rev.CreatedAt = parseTime(created)
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Infrastructure("list revisions", err)
	}
	return out, nil
}

func (s *Store) SaveDataset(ctx context.Context, m domain.DatasetMeta) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := projectExists(ctx, tx, m.ProjectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO datasets (id, project_id, name, source_path, format, revision, pinned_revision,
			                      digest, example_count, valid_count, invalid_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				source_path = excluded.source_path,
				format = excluded.format,
				revision = excluded.revision,
				pinned_revision = MAX(datasets.pinned_revision, excluded.pinned_revision),
				digest = excluded.digest,
				example_count = excluded.example_count,
				valid_count = excluded.valid_count,
				invalid_count = excluded.invalid_count,
				updated_at = excluded.updated_at`,
			m.ID, m.ProjectID, m.Name, m.SourcePath, string(m.Format), m.Revision, m.PinnedRevision,
			m.Digest, m.ExampleCount, m.ValidCount, m.InvalidCount, formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
		if err != nil {
			return domain.Infrastructure("save dataset", err)
		}
		return nil
	})
}

const datasetColumns = `id, project_id, name, source_path, format, revision, pinned_revision,
	digest, example_count, valid_count, invalid_count, created_at, updated_at`

func (s *Store) GetDataset(ctx context.Context, id string) (domain.DatasetMeta, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id)
	m, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return m, domain.NotFound("dataset", id)
	}
	return m, err
}

func (s *Store) ListDatasets(ctx context.Context, projectID string) ([]domain.DatasetMeta, error) {
	if err := projectExists(ctx, s.db, projectID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, domain.Infrastructure("list datasets", err)
	}
	defer rows.Close()

	var out []domain.DatasetMeta
	for rows.Next() {
		m, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Infrastructure("list datasets", err)
	}
	return out, nil
}

func (s *Store) PinDataset(ctx context.Context, id string, revision int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET pinned_revision = MAX(pinned_revision, ?) WHERE id = ?`, revision, id)
	if err != nil {
		return domain.Infrastructure("pin dataset", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("dataset", id)
	}
	return nil
}

func (s *Store) AppendHistory(ctx context.Context, e domain.HistoryEntry) error {
	final, err := encodeJSON(e.FinalMetrics)
	if err != nil {
		return err
	}
	summary, err := encodeJSON(e.Summary)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := projectExists(ctx, tx, e.ProjectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO history_entries (job_id, project_id, state, config_revision, dataset_id, dataset_revision,
			                             dataset_digest, submitted_at, started_at, ended_at, metric_count,
			                             final_metrics, summary, artifact, error_kind, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_id) DO NOTHING`,
			e.JobID, e.ProjectID, string(e.State), e.ConfigRevision, e.Dataset.ID, e.Dataset.Revision,
			e.Dataset.Digest, formatTime(e.SubmittedAt), formatTime(e.StartedAt), formatTime(e.EndedAt), e.MetricCount,
			final, summary, e.Artifact, string(e.ErrorKind), e.Error)
		if err != nil {
			return domain.Infrastructure("append history", err)
		}
		return nil
	})
}

func (s *Store) History(ctx context.Context, projectID string) ([]domain.HistoryEntry, error) {
	if err := projectExists(ctx, s.db, projectID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, project_id, state, config_revision, dataset_id, dataset_revision, dataset_digest,
		       submitted_at, started_at, ended_at, metric_count, final_metrics, summary, artifact, error_kind, error
		FROM history_entries WHERE project_id = ? ORDER BY ended_at, rowid`, projectID)
	if err != nil {
		return nil, domain.Infrastructure("list history", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e                         domain.HistoryEntry
			state, kind               string
			submitted, started, ended string
			final, summary            string
		)
		if err := rows.Scan(&e.JobID, &e.ProjectID, &state, &e.ConfigRevision, &e.Dataset.ID, &e.Dataset.Revision,
			&e.Dataset.Digest, &submitted, &started, &ended, &e.MetricCount, &final, &summary, &e.Artifact, &kind, &e.Error); err != nil {
			return nil, domain.Infrastructure("scan history", err)
		}
		e.State = domain.JobState(state)
		e.ErrorKind = domain.Kind(kind)
		e.SubmittedAt, e.StartedAt, e.EndedAt = parseTime(submitted), parseTime(started), parseTime(ended)
		if err := decodeMetrics(final, &e.FinalMetrics); err != nil {
			return nil, err
		}
		if err := decodeMetrics(summary, &e.Summary); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Infrastructure("list history", err)
	}
	return out, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func projectExists(ctx context.Context, q queryer, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound("project", id)
	}
	if err != nil {
		return domain.Infrastructure("lookup project", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (domain.Project, error) {
	var (
		p                          domain.Project
		framework, raw             string
		created, updated, revStamp string
	)
	err := row.Scan(&p.ID, &p.Name, &p.BaseModel, &framework, &p.WorkspacePath, &created, &updated,
		&p.Configuration.Revision, &raw, &revStamp)
	if errors.Is(err, sql.ErrNoRows) {
		return p, err
	}
	if err != nil {
		return p, domain.Infrastructure("scan project", err)
	}
	p.Framework = domain.Framework(framework)
	p.CreatedAt, p.UpdatedAt = parseTime(created), parseTime(updated)
	p.Configuration.ProjectID = p.ID
	p.Configuration.CreatedAt = parseTime(revStamp)
	if err := json.Unmarshal([]byte(raw), &p.Configuration.Configuration); err != nil {
		return p, domain.Infrastructure("decode configuration", err)
	}
	return p, nil
}

func scanDataset(row scanner) (domain.DatasetMeta, error) {
	var (
		m                domain.DatasetMeta
		format           string
		created, updated string
	)
	err := row.Scan(&m.ID, &m.ProjectID, &m.Name, &m.SourcePath, &format, &m.Revision, &m.PinnedRevision,
		&m.Digest, &m.ExampleCount, &m.ValidCount, &m.InvalidCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return m, err
	}
	if err != nil {
		return m, domain.Infrastructure("scan dataset", err)
	}
	m.Format = domain.Format(format)
	m.CreatedAt, m.UpdatedAt = parseTime(created), parseTime(updated)
	return m, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", domain.NewError(domain.KindValidation, "encode", err)
	}
	return string(b), nil
}

// decodeMetrics reads a column written from domain.Metrics, including non-finite values.
func decodeMetrics(raw string, dst *domain.Metrics) error {
	if raw == "" || raw == "null" || raw == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return domain.Infrastructure("decode metrics", err)
	}
	return nil
}

// timeLayout is fixed width so ORDER BY on the text column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
