package domain

import (
	"strings"
	"time"
)

// Framework identifies the model family a project fine-tunes.
type Framework string

const (
	FrameworkHuggingFace Framework = "huggingface"
	FrameworkOpenAI      Framework = "openai"
	FrameworkCustom      Framework = "custom"
)

// ParseFramework accepts the canonical names case-insensitively, plus "hugging face".
func ParseFramework(s string) (Framework, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(norm)
	switch Framework(norm) {
	case FrameworkHuggingFace, FrameworkOpenAI, FrameworkCustom:
		return Framework(norm), nil
	}
	return "", Errorf(KindValidation, "unknown framework %q", s)
}

// Project is the root aggregate: it owns configuration revisions, datasets and history.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	BaseModel     string    `json:"base_model"`
	Framework     Framework `json:"framework"`
	WorkspacePath string    `json:"workspace_path"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Configuration is the latest revision.
	Configuration ConfigurationRevision `json:"configuration"`
}

// Workspace subdirectories created for every project.
const (
	DirDatasets    = "datasets"
	DirModels      = "models"
	DirCheckpoints = "checkpoints"
	DirExports     = "exports"
	DirLogs        = "logs"
)

// WorkspaceDirs lists the directories laid out under a project's workspace path.
func WorkspaceDirs() []string {
	return []string{DirDatasets, DirModels, DirCheckpoints, DirExports, DirLogs}
}
