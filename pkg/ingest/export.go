package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/aretw0/empathyfine/pkg/domain"
)

type exportOptions struct {
	validOnly bool
	maxLen    int
}

// ExportOption customizes Export.
type ExportOption func(*exportOptions)

// ValidOnly skips examples that fail validation.
func ValidOnly() ExportOption {
	return func(o *exportOptions) {
		o.validOnly = true
	}
}

type exportRecord struct {
	Prompt    string         `json:"prompt"`
	Response  string         `json:"response"`
	Emotion   domain.Emotion `json:"emotion,omitempty"`
	Intensity *int           `json:"intensity,omitempty"`
}

// Export writes the dataset's examples to w. Malformed records are always skipped
// since they carry no usable content.
func (p *Pipeline) Export(ctx context.Context, ds *domain.Dataset, w io.Writer, format domain.Format, opts ...ExportOption) (int, error) {
	o := exportOptions{maxLen: p.maxResponseLength}
	for _, opt := range opts {
		opt(&o)
	}
	format, err := domain.ParseFormat(string(format))
	if err != nil {
		return 0, err
	}

	keep := func(i int, ex domain.Example) bool {
		if ex.ParseError != "" {
			return false
		}
		return !o.validOnly || len(checkExample(i, ex, o.maxLen)) == 0
	}

	written := 0
	switch format {
	case domain.FormatJSONL:
		bw := bufio.NewWriter(w)
		enc := json.NewEncoder(bw)
		for i, ex := range ds.Examples {
			if i%DefaultBatchSize == 0 {
				if err := ctx.Err(); err != nil {
					return written, err
				}
			}
			if !keep(i, ex) {
				continue
			}
			if err := enc.Encode(exportRecord{ex.Prompt, ex.Response, ex.Emotion, ex.Intensity}); err != nil {
				return written, domain.Infrastructure("export", err)
			}
			written++
		}
		if err := bw.Flush(); err != nil {
			return written, domain.Infrastructure("export", err)
		}
	case domain.FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"prompt", "response", "emotion", "intensity"}); err != nil {
			return 0, domain.Infrastructure("export", err)
		}
		for i, ex := range ds.Examples {
			if i%DefaultBatchSize == 0 {
				if err := ctx.Err(); err != nil {
					return written, err
				}
			}
			if !keep(i, ex) {
				continue
			}
			intensity := ""
			if ex.Intensity != nil {
				intensity = strconv.Itoa(*ex.Intensity)
			}
			if err := cw.Write([]string{ex.Prompt, ex.Response, string(ex.Emotion), intensity}); err != nil {
				return written, domain.Infrastructure("export", err)
			}
			written++
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return written, domain.Infrastructure("export", err)
		}
	}
	return written, nil
}
