package domain

import (
	"fmt"
	"maps"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Well-known configuration keys.
const (
	KeyEpochs                    = "epochs"
	KeyBatchSize                 = "batch_size"
	KeyLearningRate              = "learning_rate"
	KeyLoRARank                  = "lora_rank"
	KeyLoRAAlpha                 = "lora_alpha"
	KeyLoRADropout               = "lora_dropout"
	KeyEmpathyWeight             = "empathy_weight"
	KeyEmotionBalance            = "emotion_balance"
	KeyGradientAccumulationSteps = "gradient_accumulation_steps"
)

// Configuration is a project's free-form key/value hyperparameter set.
// Unknown keys are kept and passed through to trainers.
type Configuration map[string]any

// DefaultConfiguration is revision 1 of every new project.
func DefaultConfiguration() Configuration {
	return Configuration{
		KeyEpochs:         3,
		KeyBatchSize:      4,
		KeyLearningRate:   5e-5,
		KeyLoRARank:       8,
		KeyLoRAAlpha:      16,
		KeyLoRADropout:    0.1,
		KeyEmpathyWeight:  0.3,
		KeyEmotionBalance: true,
	}
}

// Clone returns a shallow copy; values are expected to be scalars.
func (c Configuration) Clone() Configuration {
	if c == nil {
		return Configuration{}
	}
	return maps.Clone(c)
}

// Merge returns a copy of c with the entries of other applied on top.
func (c Configuration) Merge(other Configuration) Configuration {
	out := c.Clone()
	maps.Copy(out, other)
	return out
}

// Hyperparameters is the typed view over the well-known keys.
type Hyperparameters struct {
	Epochs                    int     `mapstructure:"epochs" json:"epochs"`
	BatchSize                 int     `mapstructure:"batch_size" json:"batch_size"`
	LearningRate              float64 `mapstructure:"learning_rate" json:"learning_rate"`
	LoRARank                  int     `mapstructure:"lora_rank" json:"lora_rank"`
	LoRAAlpha                 int     `mapstructure:"lora_alpha" json:"lora_alpha"`
	LoRADropout               float64 `mapstructure:"lora_dropout" json:"lora_dropout"`
	EmpathyWeight             float64 `mapstructure:"empathy_weight" json:"empathy_weight"`
	EmotionBalance            bool    `mapstructure:"emotion_balance" json:"emotion_balance"`
	GradientAccumulationSteps int     `mapstructure:"gradient_accumulation_steps" json:"gradient_accumulation_steps"`
}

// Hyperparameters decodes the well-known keys, accepting strings such as "3" or "5e-5".
// Missing keys fall back to DefaultConfiguration.
func (c Configuration) Hyperparameters() (Hyperparameters, error) {
	var h Hyperparameters
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &h,
	})
	if err != nil {
		return h, err
	}
	if err := dec.Decode(map[string]any(DefaultConfiguration().Merge(c))); err != nil {
		return h, NewError(KindInvalidConfiguration, "decode hyperparameters", err)
	}
	return h, nil
}

// Validate rejects values no trainer can run with.
func (h Hyperparameters) Validate() error {
	switch {
	case h.Epochs <= 0:
		return Errorf(KindInvalidConfiguration, "epochs must be positive, got %d", h.Epochs)
	case h.BatchSize <= 0:
		return Errorf(KindInvalidConfiguration, "batch_size must be positive, got %d", h.BatchSize)
	case h.LearningRate <= 0:
		return Errorf(KindInvalidConfiguration, "learning_rate must be positive, got %g", h.LearningRate)
	case h.LoRARank < 0:
		return Errorf(KindInvalidConfiguration, "lora_rank must not be negative, got %d", h.LoRARank)
	case h.LoRADropout < 0 || h.LoRADropout >= 1:
		return Errorf(KindInvalidConfiguration, "lora_dropout must be in [0,1), got %g", h.LoRADropout)
	case h.EmpathyWeight < 0 || h.EmpathyWeight > 1:
		return Errorf(KindInvalidConfiguration, "empathy_weight must be in [0,1], got %g", h.EmpathyWeight)
	}
	return nil
}

// Warnings lists advisory findings that do not block training.
func (h Hyperparameters) Warnings() []string {
	var out []string
	if h.LearningRate > 1e-3 {
		out = append(out, fmt.Sprintf("learning rate %g is high and may destabilize training", h.LearningRate))
	}
	if h.LoRARank > 32 {
		out = append(out, fmt.Sprintf("LoRA rank %d is high; consider 8-16 for most tasks", h.LoRARank))
	}
	if h.BatchSize > 32 && h.GradientAccumulationSteps <= 1 {
		out = append(out, fmt.Sprintf("batch size %d without gradient accumulation may exhaust memory", h.BatchSize))
	}
	return out
}

// ConfigurationRevision is one immutable entry in a project's configuration history.
type ConfigurationRevision struct {
	ProjectID     string        `json:"project_id"`
	Revision      int           `json:"revision"`
	Configuration Configuration `json:"configuration"`
	CreatedAt     time.Time     `json:"created_at"`
}
