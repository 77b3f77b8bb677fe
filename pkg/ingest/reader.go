package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/empathyfine/internal/lineio"
	"github.com/aretw0/empathyfine/pkg/domain"
)

// recordReader yields one Example per source record. A record that cannot be parsed
// comes back as an Example with ParseError set; only fatal problems return an error.
type recordReader interface {
	Next() (domain.Example, error)
}

// countingReader tracks consumed bytes for progress reporting.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF32BE = []byte{0x00, 0x00, 0xFE, 0xFF}
)

// checkEncoding rejects non UTF-8 byte order marks and skips a UTF-8 one.
func checkEncoding(br *bufio.Reader) error {
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return domain.NewError(domain.KindUnreadableFile, "read header", err)
	}
	switch {
	case bytes.HasPrefix(head, bomUTF32BE):
		return domain.Errorf(domain.KindUnsupportedFormat, "UTF-32 encoding is not supported")
	case bytes.HasPrefix(head, bomUTF16BE), bytes.HasPrefix(head, bomUTF16LE):
		return domain.Errorf(domain.KindUnsupportedFormat, "UTF-16 encoding is not supported")
	case bytes.HasPrefix(head, bomUTF8):
		_, _ = br.Discard(len(bomUTF8))
	}
	return nil
}

// newRecordReader reads format from r. JSON Lines records longer than maxRecordSize
// bytes become malformed examples; zero means no limit.
func newRecordReader(format domain.Format, r io.Reader, maxRecordSize int) (recordReader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	if err := checkEncoding(br); err != nil {
		return nil, err
	}
	switch format {
	case domain.FormatJSONL:
		return &jsonlReader{br: br, max: maxRecordSize}, nil
	case domain.FormatCSV:
		cr := csv.NewReader(br)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		return &csvReader{r: cr}, nil
	}
	return nil, domain.Errorf(domain.KindUnsupportedFormat, "format %q", format)
}

type jsonlReader struct {
	br   *bufio.Reader
	max  int
	line int
}

// jsonRecord mirrors one JSON Lines object. "context" is accepted as an alias of "prompt".
type jsonRecord struct {
	Prompt    *string         `json:"prompt"`
	Context   *string         `json:"context"`
	Response  string          `json:"response"`
	Emotion   string          `json:"emotion"`
	Intensity json.RawMessage `json:"intensity"`
}

// Next reads whole lines up to the record size limit. A longer line is skipped without
// buffering it and comes back as a malformed example.
func (r *jsonlReader) Next() (domain.Example, error) {
	for {
		raw, size, err := lineio.ReadLine(r.br, r.max)
		if err != nil && !errors.Is(err, io.EOF) {
			return domain.Example{}, domain.NewError(domain.KindUnreadableFile, fmt.Sprintf("line %d", r.line+1), err)
		}
		if size == 0 && err != nil {
			return domain.Example{}, io.EOF
		}
		r.line++
		if lineio.Oversized(size, r.max) {
			return domain.Example{ParseError: fmt.Sprintf("line %d: record is %d bytes, limit is %d", r.line, size, r.max)}, nil
		}

		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			if err != nil {
				return domain.Example{}, io.EOF
			}
			continue
		}
		if !utf8.Valid(line) {
			return domain.Example{}, domain.Errorf(domain.KindUnsupportedFormat, "line %d is not valid UTF-8", r.line)
		}
		return parseJSONRecord(line, r.line), nil
	}
}

func parseJSONRecord(line []byte, lineNo int) domain.Example {
	var rec jsonRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return domain.Example{ParseError: fmt.Sprintf("line %d: invalid JSON: %v", lineNo, err)}
	}
	ex := domain.Example{
		Response: rec.Response,
		Emotion:  normalizeEmotion(rec.Emotion),
	}
	switch {
	case rec.Prompt != nil:
		ex.Prompt = *rec.Prompt
	case rec.Context != nil:
		ex.Prompt = *rec.Context
	}
	intensity, err := parseJSONIntensity(rec.Intensity)
	if err != nil {
		ex.ParseError = fmt.Sprintf("line %d: %v", lineNo, err)
	}
	ex.Intensity = intensity
	return ex
}

func parseJSONIntensity(raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return nil, fmt.Errorf("intensity %v is not an integer", f)
		}
		v := int(f)
		return &v, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseIntensityText(s)
	}
	return nil, fmt.Errorf("intensity %s is not an integer", raw)
}

func parseIntensityText(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("intensity %q is not an integer", s)
	}
	return &v, nil
}

func normalizeEmotion(s string) domain.Emotion {
	return domain.Emotion(strings.ToLower(strings.TrimSpace(s)))
}

type csvReader struct {
	r       *csv.Reader
	columns map[string]int
	started bool
}

func (r *csvReader) header() error {
	r.started = true
	head, err := r.r.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return domain.NewError(domain.KindUnsupportedFormat, "CSV header", err)
		}
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return domain.NewError(domain.KindUnreadableFile, "CSV header", err)
	}
	r.columns = make(map[string]int, len(head))
	for i, name := range head {
		if !utf8.ValidString(name) {
			return domain.Errorf(domain.KindUnsupportedFormat, "CSV header is not valid UTF-8")
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "context" {
			if _, ok := r.columns["prompt"]; ok {
				continue
			}
			key = "prompt"
		}
		r.columns[key] = i
	}
	return nil
}

func (r *csvReader) field(rec []string, name string) string {
	i, ok := r.columns[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func (r *csvReader) Next() (domain.Example, error) {
	if !r.started {
		if err := r.header(); err != nil {
			return domain.Example{}, err
		}
	}
	rec, err := r.r.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return domain.Example{ParseError: fmt.Sprintf("line %d: %v", pe.Line, pe.Err)}, nil
		}
		if errors.Is(err, io.EOF) {
			return domain.Example{}, io.EOF
		}
		return domain.Example{}, domain.NewError(domain.KindUnreadableFile, "CSV record", err)
	}
	for _, f := range rec {
		if !utf8.ValidString(f) {
			line, _ := r.r.FieldPos(0)
			return domain.Example{}, domain.Errorf(domain.KindUnsupportedFormat, "line %d is not valid UTF-8", line)
		}
	}

	ex := domain.Example{
		Prompt:   r.field(rec, "prompt"),
		Response: r.field(rec, "response"),
		Emotion:  normalizeEmotion(r.field(rec, "emotion")),
	}
	intensity, err := parseIntensityText(r.field(rec, "intensity"))
	if err != nil {
		line, _ := r.r.FieldPos(0)
		ex.ParseError = fmt.Sprintf("line %d: %v", line, err)
	}
	ex.Intensity = intensity
	return ex, nil
}
