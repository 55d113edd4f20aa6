package interview

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Bank is a named question set loaded from YAML.
//
//	questions:
//	  - id: q1
//	    text: Tell me about a time you disagreed with a teammate.
//	    type: behavioral
//	    expected_duration: 120
//	vocabulary: [Kubernetes, goroutine]
type Bank struct {
	Questions []Question `yaml:"questions"`

	// Vocabulary lists technical terms candidates are likely to say. They
	// are recognition hints and drive transcript correction.
	Vocabulary []string `yaml:"vocabulary"`
}

// LoadBank reads and validates a question bank file.
func LoadBank(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("interview: read question bank: %w", err)
	}
	b, err := ParseBank(data)
	if err != nil {
		return nil, fmt.Errorf("interview: %s: %w", path, err)
	}
	return b, nil
}

// ParseBank decodes a question bank. Unknown fields are rejected.
func ParseBank(data []byte) (*Bank, error) {
	var b Bank
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode question bank: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks every question and returns all problems joined.
func (b *Bank) Validate() error {
	var errs []error
	if len(b.Questions) == 0 {
		errs = append(errs, errors.New("question bank is empty"))
	}
	ids := make(map[string]bool, len(b.Questions))
	for i, q := range b.Questions {
		if q.ID == "" {
			errs = append(errs, fmt.Errorf("questions[%d]: id is required", i))
		} else if ids[q.ID] {
			errs = append(errs, fmt.Errorf("questions[%d]: duplicate id %q", i, q.ID))
		}
		ids[q.ID] = true
		if q.Text == "" {
			errs = append(errs, fmt.Errorf("questions[%d]: text is required", i))
		}
		if q.Type == "" {
			errs = append(errs, fmt.Errorf("questions[%d]: type is required", i))
		}
		if q.ExpectedDuration < 0 {
			errs = append(errs, fmt.Errorf("questions[%d]: expected_duration must not be negative", i))
		}
		if q.RightAnswer != "" && len(q.Options) > 0 && !contains(q.Options, q.RightAnswer) {
			errs = append(errs, fmt.Errorf("questions[%d]: right_answer %q is not one of the options", i, q.RightAnswer))
		}
	}
	return errors.Join(errs...)
}

// Keywords returns the distinct vocabulary terms and question categories of
// the bank, used as recognition hints for speech capture.
func (b *Bank) Keywords() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, v := range b.Vocabulary {
		add(v)
	}
	for _, q := range b.Questions {
		add(q.Category)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
