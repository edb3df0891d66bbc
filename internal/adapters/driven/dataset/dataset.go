// Package dataset reads reference question sets and generated datasets,
// and writes generated datasets and evaluation reports.
//
// Question sets are JSON or YAML, either a list of records or the FAQ
// aggregate shape {"faqs": [{"question", "answer"}]}. Each record is
// validated on its own; a malformed record is reported and kept in place
// so it is counted as failed instead of shifting the rest.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// RecordError describes one record that failed validation.
type RecordError struct {
	Index int
	ID    string
	Err   error
}

func (e *RecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index+1, e.ID, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index+1, e.Err)
}

// Unwrap returns domain.ErrMalformedRecord.
func (e *RecordError) Unwrap() error {
	return domain.ErrMalformedRecord
}

// rawQuestion accepts both reference shapes: ground_truth, or answer as
// in the FAQ files.
type rawQuestion struct {
	ID          string `yaml:"id"`
	Question    string `yaml:"question"`
	GroundTruth string `yaml:"ground_truth"`
	Answer      string `yaml:"answer"`
	Domain      string `yaml:"domain"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LoadQuestions reads a reference question set. The returned records
// keep the file order. The record errors list records that failed
// validation, and records whose unknown domain was dropped. The error is
// non-nil only when the file itself cannot be read or parsed.
func LoadQuestions(path string) ([]domain.QuestionRecord, []*RecordError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read question set: %w", err)
	}
	return ParseQuestions(data)
}

// ParseQuestions parses a JSON or YAML question set.
func ParseQuestions(data []byte) ([]domain.QuestionRecord, []*RecordError, error) {
	items, err := recordNodes(data)
	if err != nil {
		return nil, nil, err
	}

	records := make([]domain.QuestionRecord, 0, len(items))
	var errs []*RecordError
	for i, item := range items {
		var raw rawQuestion
		if err := item.Decode(&raw); err != nil {
			errs = append(errs, &RecordError{Index: i, Err: err})
			records = append(records, domain.QuestionRecord{})
			continue
		}

		rec := domain.QuestionRecord{
			ID:          strings.TrimSpace(raw.ID),
			Question:    strings.TrimSpace(raw.Question),
			GroundTruth: strings.TrimSpace(raw.GroundTruth),
			Domain:      strings.TrimSpace(raw.Domain),
		}
		if rec.GroundTruth == "" {
			rec.GroundTruth = strings.TrimSpace(raw.Answer)
		}
		if rec.Domain != "" {
			if t, ok := domain.ParseInsuranceType(rec.Domain); ok {
				rec.Domain = string(t)
			} else {
				errs = append(errs, &RecordError{Index: i, ID: rec.ID,
					Err: fmt.Errorf("unknown insurance type %q", rec.Domain)})
				rec.Domain = ""
			}
		}
		if err := validate.Struct(rec); err != nil {
			errs = append(errs, &RecordError{Index: i, ID: rec.ID, Err: describe(err)})
		}
		records = append(records, rec)
	}
	return records, errs, nil
}

// recordNodes returns the record nodes of a list or an FAQ aggregate.
// YAML is a superset of JSON, so one parser serves both formats.
func recordNodes(data []byte) ([]*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		return root.Content, nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "faqs" && root.Content[i+1].Kind == yaml.SequenceNode {
				return root.Content[i+1].Content, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: expected a list of records or a \"faqs\" list", domain.ErrInvalidInput)
}

// LoadDataset reads a generated dataset. Malformed records are returned
// with status failed so they are counted but never scored.
func LoadDataset(path string) ([]domain.DatasetRecord, []*RecordError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read dataset: %w", err)
	}
	return ParseDataset(data)
}

// ParseDataset parses a generated dataset JSON list.
func ParseDataset(data []byte) ([]domain.DatasetRecord, []*RecordError, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	records := make([]domain.DatasetRecord, 0, len(items))
	var errs []*RecordError
	for i, item := range items {
		var rec domain.DatasetRecord
		err := json.Unmarshal(item, &rec)
		if err == nil {
			err = validate.Struct(rec)
			if err != nil {
				err = describe(err)
			}
		}
		if err != nil {
			re := &RecordError{Index: i, ID: rec.ID, Err: err}
			errs = append(errs, re)
			rec.Status = domain.StatusFailed
			rec.Error = re.Error()
		}
		if rec.Contexts == nil {
			rec.Contexts = []string{}
		}
		records = append(records, rec)
	}
	return records, errs, nil
}

// WriteDataset writes records as an indented JSON list.
func WriteDataset(path string, records []domain.DatasetRecord) error {
	return writeJSON(path, records)
}

// WriteReport writes a report as indented JSON. The path "-" is stdout.
func WriteReport(path string, report *domain.Report) error {
	return writeJSON(path, report)
}

// EncodeJSON writes v as indented JSON followed by a newline.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeJSON(path string, v any) error {
	if path == "-" {
		return EncodeJSON(os.Stdout, v)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := EncodeJSON(f, v); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// describe turns validator errors into a short field list.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" is "+fe.Tag())
	}
	return errors.New(strings.Join(fields, ", "))
}
