package project_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/empathyfine/pkg/adapters/file"
	"github.com/aretw0/empathyfine/pkg/adapters/memory"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
	"github.com/aretw0/empathyfine/pkg/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*project.Service, string) {
	t.Helper()
	root := t.TempDir()
	return project.New(memory.NewStore(), project.WithRoot(root), project.WithPayloads(file.NewExampleStore())), root
}

func TestCreateProject_LaysOutWorkspace(t *testing.T) {
	t.Parallel()
	svc, root := newService(t)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "support-bot", "gpt2", "Hugging Face", "")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, domain.FrameworkHuggingFace, p.Framework)
	assert.Equal(t, filepath.Join(root, "support-bot"), p.WorkspacePath)
	assert.Equal(t, 1, p.Configuration.Revision)

	for _, dir := range domain.WorkspaceDirs() {
		info, err := os.Stat(filepath.Join(p.WorkspacePath, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}

	opened, err := svc.OpenProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, opened.Name)
}

func TestCreateProject_DuplicateName(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateProject(ctx, "bot", "gpt2", domain.FrameworkCustom, "")
	require.NoError(t, err)
	_, err = svc.CreateProject(ctx, "bot", "llama", domain.FrameworkCustom, "elsewhere")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestCreateProject_InvalidInputs(t *testing.T) {
	t.Parallel()
	svc, root := newService(t)
	ctx := context.Background()

	_, err := svc.CreateProject(ctx, "  ", "gpt2", domain.FrameworkCustom, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateProject(ctx, "bot", "gpt2", "tensorflow", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	blocker := filepath.Join(root, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	_, err = svc.CreateProject(ctx, "bot", "gpt2", domain.FrameworkCustom, blocker)
	assert.ErrorIs(t, err, domain.ErrInvalidPath)
}

func TestCreateProject_UnwritablePath(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}
	t.Parallel()
	svc, root := newService(t)

	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Mkdir(locked, 0o555))
	_, err := svc.CreateProject(context.Background(), "bot", "gpt2", domain.FrameworkCustom, filepath.Join(locked, "bot"))
	assert.ErrorIs(t, err, domain.ErrInvalidPath)
}

func TestUpdateConfiguration_AppendsRevisions(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, "bot", "gpt2", domain.FrameworkOpenAI, "")
	require.NoError(t, err)

	rev, err := svc.UpdateConfiguration(ctx, p.ID, domain.Configuration{"lora_rank": 16})
	require.NoError(t, err)
	assert.Equal(t, 2, rev.Revision)
	assert.Equal(t, 16, rev.Configuration["lora_rank"])
	assert.Equal(t, 3, rev.Configuration["epochs"], "unchanged keys carry over")

	_, err = svc.UpdateConfiguration(ctx, p.ID, domain.Configuration{"epochs": -1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	revs, err := svc.Revisions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, 8, revs[0].Configuration["lora_rank"], "revision 1 is never rewritten")
}

func TestUpdateConfiguration_ConcurrentWritersGetDistinctRevisions(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, "bot", "gpt2", domain.FrameworkOpenAI, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.UpdateConfiguration(ctx, p.ID, domain.Configuration{"epochs": i + 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	revs, err := svc.Revisions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, revs, 11)
	for i, r := range revs {
		assert.Equal(t, i+1, r.Revision)
	}
}

func TestOpenByName_SuggestsClosestName(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateProject(ctx, "support-bot", "gpt2", domain.FrameworkCustom, "")
	require.NoError(t, err)

	_, err = svc.OpenByName(ctx, "suport-bot")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), `did you mean "support-bot"`)

	_, err = svc.OpenByName(ctx, "completely-different")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotContains(t, err.Error(), "did you mean")

	p, err := svc.Resolve(ctx, "support-bot")
	require.NoError(t, err)
	byID, err := svc.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byID.ID)
}

func TestDeleteProject_CascadesPayloads(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, "bot", "gpt2", domain.FrameworkCustom, "")
	require.NoError(t, err)

	payloads := file.NewExampleStore()
	key := ports.PayloadKey{Dir: filepath.Join(p.WorkspacePath, domain.DirDatasets), DatasetID: "ds1", Revision: 1}
	w, err := payloads.Create(ctx, key)
	require.NoError(t, err)
	require.NoError(t, w.Write(domain.Example{Prompt: "p", Response: "r"}))
	_, err = w.Commit()
	require.NoError(t, err)
	require.NoError(t, svc.Store().SaveDataset(ctx, domain.DatasetMeta{ID: "ds1", ProjectID: p.ID, Revision: 1, CreatedAt: time.Now()}))

	require.NoError(t, svc.DeleteProject(ctx, p.ID))

	_, err = svc.OpenProject(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = os.Stat(payloads.Locate(key))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.ErrorIs(t, svc.DeleteProject(ctx, p.ID), domain.ErrNotFound)
}

func TestAppendHistory_IdempotentAndTerminalOnly(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, "bot", "gpt2", domain.FrameworkCustom, "")
	require.NoError(t, err)

	entry := domain.HistoryEntry{JobID: "job-1", State: domain.JobSucceeded, EndedAt: time.Now()}
	require.NoError(t, svc.AppendHistory(ctx, p.ID, entry))
	require.NoError(t, svc.AppendHistory(ctx, p.ID, entry))

	hist, err := svc.History(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
	assert.Equal(t, p.ID, hist[0].ProjectID)

	err = svc.AppendHistory(ctx, p.ID, domain.HistoryEntry{JobID: "job-2", State: domain.JobRunning})
	assert.ErrorIs(t, err, domain.ErrValidation)
	err = svc.AppendHistory(ctx, "missing", domain.HistoryEntry{JobID: "job-3", State: domain.JobFailed})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
