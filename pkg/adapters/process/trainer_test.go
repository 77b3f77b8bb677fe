package process_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/empathyfine/pkg/adapters/process"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script writes an sh script into a temp dir and returns a trainer running it.
func script(t *testing.T, body string, opts ...process.Option) *process.Trainer {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("trainer scripts require sh")
	}
	path := filepath.Join(t.TempDir(), "train.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	tr, err := process.New(process.TrainerConfig{Name: "test", Command: "/bin/sh", Args: []string{path}}, opts...)
	require.NoError(t, err)
	return tr
}

func trainingConfig() domain.TrainingConfiguration {
	return domain.TrainingConfiguration{
		ProjectID:     "p1",
		BaseModel:     "gpt2",
		Configuration: domain.DefaultConfiguration(),
		Dataset:       domain.DatasetRef{ID: "ds1", Revision: 1, Path: "/data/rev-000001.jsonl"},
	}
}

func TestTrainer_ReportsProgressAndResult(t *testing.T) {
	tr := script(t, `
input=$(cat)
case "$input" in
  *'"project_id":"p1"'*) ;;
  *) echo "missing config" >&2; exit 3 ;;
esac
echo 'starting up'
printf '{"type":"log","message":"loading"}\n'
printf '{"type":"progress","epoch":1,"step":0,"loss":2.5,"values":{"accuracy":0.6}}\n'
printf '{"type":"progress","epoch":1,"step":1,"loss":2.4}\n'
printf '{"type":"result","metrics":{"final_loss":2.4},"artifact":"%s|%s"}\n' "$EMPATHYFINE_JOB_ID" "$EMPATHYFINE_DATASET_PATH"
`)

	var points []domain.MetricPoint
	res, err := tr.Run(context.Background(), "job-7", trainingConfig(), func(p domain.MetricPoint) {
		points = append(points, p)
	})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, 2.5, points[0].Loss, 1e-9)
	assert.InDelta(t, 0.6, points[0].Values["accuracy"], 1e-9)
	assert.Equal(t, 1, points[1].Step)
	assert.False(t, points[1].Timestamp.IsZero())
	assert.Equal(t, "job-7|/data/rev-000001.jsonl", res.Artifact)
	assert.InDelta(t, 2.4, res.Metrics["final_loss"], 1e-9)
}

func TestTrainer_DropsOversizedLines(t *testing.T) {
	tr := script(t, `
cat >/dev/null
pad=$(head -c 300 /dev/zero | tr '\0' x)
printf '{"type":"progress","epoch":1,"step":0,"loss":3.0,"note":"%s"}\n' "$pad"
printf '{"type":"progress","epoch":1,"step":1,"loss":"NaN","values":{"grad_norm":"+Inf"}}\n'
printf '{"type":"result","metrics":{"final_loss":"NaN"}}\n'
`, process.WithMaxLineSize(128))

	var points []domain.MetricPoint
	res, err := tr.Run(context.Background(), "job-1", trainingConfig(), func(p domain.MetricPoint) {
		points = append(points, p)
	})
	require.NoError(t, err)
	require.Len(t, points, 1, "the oversized line is skipped")
	assert.Equal(t, 1, points[0].Step)
	assert.True(t, math.IsNaN(points[0].Loss))
	assert.True(t, math.IsInf(points[0].Values["grad_norm"], 1))
	assert.True(t, math.IsNaN(res.Metrics["final_loss"]))
}

func TestTrainer_NonZeroExit(t *testing.T) {
	tr := script(t, `
cat >/dev/null
echo "CUDA out of memory" >&2
exit 2
`)
	_, err := tr.Run(context.Background(), "job-1", trainingConfig(), func(domain.MetricPoint) {})
	require.ErrorIs(t, err, domain.ErrTrainer)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestTrainer_ErrorMessage(t *testing.T) {
	tr := script(t, `
cat >/dev/null
printf '{"type":"progress","epoch":1,"step":0,"loss":2.5}\n'
printf '{"type":"error","message":"dataset is empty"}\n'
`)
	n := 0
	_, err := tr.Run(context.Background(), "job-1", trainingConfig(), func(domain.MetricPoint) { n++ })
	require.ErrorIs(t, err, domain.ErrTrainer)
	assert.Contains(t, err.Error(), "dataset is empty")
	assert.Equal(t, 1, n)
}

func TestTrainer_CancelInterrupts(t *testing.T) {
	tr := script(t, `
cat >/dev/null
trap 'exit 130' INT
printf '{"type":"progress","epoch":1,"step":0,"loss":2.5}\n'
while true; do sleep 0.05; done
`, process.WithGracePeriod(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	_, err := tr.Run(ctx, "job-1", trainingConfig(), func(domain.MetricPoint) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 4*time.Second, "the trainer should exit on interrupt, well before the grace period")
}

func TestTrainer_KilledAfterGracePeriod(t *testing.T) {
	tr := script(t, `
cat >/dev/null
trap '' INT
printf '{"type":"progress","epoch":1,"step":0,"loss":2.5}\n'
while true; do sleep 0.05; done
`, process.WithGracePeriod(200*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := tr.Run(ctx, "job-1", trainingConfig(), func(domain.MetricPoint) { cancel() })
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("trainer ignoring interrupts was not killed")
	}
}

func TestNew_RequiresCommand(t *testing.T) {
	_, err := process.New(process.TrainerConfig{Name: "empty"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoadTrainers(t *testing.T) {
	dir := t.TempDir()

	t.Run("YAML", func(t *testing.T) {
		path := filepath.Join(dir, "trainers.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
trainers:
  - name: peft
    command: python
    args: ["-m", "trainer"]
    env:
      HF_HOME: /cache
  - command: ignored-without-name
`), 0o644))

		trainers, err := process.LoadTrainers(path)
		require.NoError(t, err)
		require.Len(t, trainers, 1)
		assert.Equal(t, []string{"-m", "trainer"}, trainers["peft"].Args)
		assert.Equal(t, "/cache", trainers["peft"].Environment["HF_HOME"])
	})

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "trainers.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"trainers":[{"name":"sim","command":"./sim"}]}`), 0o644))

		trainers, err := process.LoadTrainers(path)
		require.NoError(t, err)
		assert.Equal(t, "./sim", trainers["sim"].Command)
	})

	t.Run("Missing File", func(t *testing.T) {
		trainers, err := process.LoadTrainers(filepath.Join(dir, "nope.yaml"))
		require.NoError(t, err)
		assert.Empty(t, trainers)
	})

	t.Run("Missing Command", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("trainers:\n  - name: broken\n"), 0o644))
		_, err := process.LoadTrainers(path)
		assert.Error(t, err)
	})
}
