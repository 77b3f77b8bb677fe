// Package process runs training jobs as external commands.
//
// The command receives the TrainingConfiguration as JSON on stdin and reports back
// with one JSON object per stdout line:
//
//	{"type":"progress","epoch":1,"step":10,"loss":1.9,"values":{"accuracy":0.7}}
//	{"type":"log","message":"loading base model"}
//	{"type":"result","metrics":{"final_loss":0.8},"artifact":"models/adapter"}
//	{"type":"error","message":"out of memory"}
//
// Non-finite numbers are written as the strings "NaN", "+Inf" and "-Inf". Lines that are
// not JSON objects are logged and ignored.
package process

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/empathyfine/internal/lineio"
	"github.com/aretw0/empathyfine/internal/logging"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
)

const (
	EnvJobID       = "EMPATHYFINE_JOB_ID"
	EnvDatasetPath = "EMPATHYFINE_DATASET_PATH"
	EnvWorkspace   = "EMPATHYFINE_WORKSPACE"

	// DefaultGracePeriod is how long a command may take to exit after an interrupt.
	DefaultGracePeriod = 5 * time.Second

	// DefaultMaxLineSize caps one line of trainer output, in bytes.
	DefaultMaxLineSize = 1 << 20

	stderrTail = 4 << 10
)

// Trainer executes a configured command for every job.
type Trainer struct {
	cfg     TrainerConfig
	grace   time.Duration
	maxLine int
	logger  *slog.Logger
	now     func() time.Time
}

var _ ports.Trainer = (*Trainer)(nil)

// Option configures the Trainer.
type Option func(*Trainer)

// WithGracePeriod bounds how long an interrupted command may keep running before it is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(t *Trainer) {
		t.grace = d
	}
}

// WithMaxLineSize sets the longest stdout line parsed, in bytes. Longer lines are
// dropped with a warning.
func WithMaxLineSize(n int) Option {
	return func(t *Trainer) {
		t.maxLine = n
	}
}

// WithLogger configures a logger for the Trainer.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// New creates a Trainer for cfg.
func New(cfg TrainerConfig, opts ...Option) (*Trainer, error) {
	if cfg.Command == "" {
		return nil, domain.Errorf(domain.KindValidation, "trainer %q has no command", cfg.Name)
	}
	t := &Trainer{
		cfg:     cfg,
		grace:   DefaultGracePeriod,
		maxLine: DefaultMaxLineSize,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.maxLine <= 0 {
		t.maxLine = DefaultMaxLineSize
	}
	return t, nil
}

// message is one line of trainer output.
type message struct {
	Type     string          `json:"type"`
	Epoch    int             `json:"epoch"`
	Step     int             `json:"step"`
	Loss     domain.Float    `json:"loss"`
	Values   domain.Metrics  `json:"values"`
	Metrics  domain.Metrics  `json:"metrics"`
	Artifact string          `json:"artifact"`
	Samples  []domain.Sample `json:"samples"`
	Message  string          `json:"message"`
}

func (t *Trainer) Run(ctx context.Context, jobID string, cfg domain.TrainingConfiguration, progress ports.ProgressFunc) (domain.Result, error) {
	input, err := json.Marshal(cfg)
	if err != nil {
		return domain.Result{}, fmt.Errorf("encode training configuration: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.Dir
	cmd.Env = append(cmd.Environ(),
		EnvJobID+"="+jobID,
		EnvDatasetPath+"="+cfg.Dataset.Path,
		EnvWorkspace+"="+cfg.WorkspacePath,
	)
	for k, v := range t.cfg.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(input)

	// Interrupt first so the trainer can save its state; WaitDelay escalates to a kill.
	if runtime.GOOS != "windows" {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(os.Interrupt)
		}
	}
	cmd.WaitDelay = t.grace

	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		return domain.Result{}, domain.NewError(domain.KindTrainer, "start "+t.cfg.Command, err)
	}
	t.logger.Debug("Trainer process started", "job_id", jobID, "trainer", t.cfg.Name, "pid", cmd.Process.Pid)

	var (
		wg      sync.WaitGroup
		result  *domain.Result
		failure string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, failure = t.read(pr, jobID, progress)
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	wg.Wait()

	if ctx.Err() != nil {
		return domain.Result{}, ctx.Err()
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if failure != "" {
			msg = failure
		}
		return domain.Result{}, domain.NewError(domain.KindTrainer, fmt.Sprintf("%s: %s", t.cfg.Command, msg), waitErr)
	}
	if failure != "" {
		return domain.Result{}, domain.Errorf(domain.KindTrainer, "%s", failure)
	}
	if result == nil {
		return domain.Result{}, nil
	}
	return *result, nil
}

// read consumes stdout until the process closes it. It must drain the pipe fully,
// otherwise the process blocks on write.
func (t *Trainer) read(r io.Reader, jobID string, progress ports.ProgressFunc) (*domain.Result, string) {
	var (
		result  *domain.Result
		failure string
	)
	br := bufio.NewReader(r)
	for {
		line, size, err := lineio.ReadLine(br, t.maxLine)
		if lineio.Oversized(size, t.maxLine) {
			t.logger.Warn("Dropping oversized trainer output", "job_id", jobID, "bytes", size, "limit", t.maxLine)
		} else if line = bytes.TrimSpace(line); len(line) > 0 {
			var m message
			if jsonErr := json.Unmarshal(line, &m); jsonErr != nil {
				t.logger.Debug("Ignoring trainer output", "job_id", jobID, "line", string(line))
			} else {
				switch m.Type {
				case "progress":
					progress(domain.MetricPoint{
						Timestamp: t.now().UTC(),
						Epoch:     m.Epoch,
						Step:      m.Step,
						Loss:      float64(m.Loss),
						Values:    m.Values,
					})
				case "result":
					result = &domain.Result{Metrics: m.Metrics, Artifact: m.Artifact, Samples: m.Samples}
				case "log":
					t.logger.Info(m.Message, "job_id", jobID, "trainer", t.cfg.Name)
				case "error":
					failure = m.Message
				default:
					t.logger.Debug("Unknown trainer message", "job_id", jobID, "type", m.Type)
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.logger.Warn("Trainer output interrupted", "job_id", jobID, "err", err)
			}
			_, _ = io.Copy(io.Discard, r)
			return result, failure
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
