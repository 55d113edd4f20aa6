package interview

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadBank(t *testing.T) {
	t.Parallel()
	b, err := LoadBank(filepath.Join("testdata", "questions.yaml"))
	if err != nil {
		t.Fatalf("LoadBank: %v", err)
	}
	if len(b.Questions) != 6 {
		t.Fatalf("questions = %d", len(b.Questions))
	}
	q := b.Questions[2]
	if !q.IsChoice() || q.RightAnswer != "30" || q.ExpectedDuration != 60 {
		t.Fatalf("reasoning question = %+v", q)
	}
	kw := b.Keywords()
	if len(b.Vocabulary) != 2 {
		t.Fatalf("vocabulary = %v", b.Vocabulary)
	}
	if len(kw) != 5 || kw[0] != "load balancer" || kw[2] != "teamwork" {
		t.Fatalf("keywords = %v", kw)
	}
}

func TestParseBank_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown field", yaml: "questions:\n  - id: a\n    text: t\n    type: x\n    colour: red\n", want: "colour"},
		{name: "empty", yaml: "", want: "empty"},
		{name: "missing fields", yaml: "questions:\n  - id: a\n", want: "text is required"},
		{name: "duplicate id", yaml: "questions:\n  - {id: a, text: t, type: x}\n  - {id: a, text: u, type: x}\n", want: "duplicate id"},
		{name: "answer not an option", yaml: "questions:\n  - {id: a, text: t, type: x, options: [\"1\"], right_answer: \"2\"}\n", want: "not one of the options"},
		{name: "negative duration", yaml: "questions:\n  - {id: a, text: t, type: x, expected_duration: -1}\n", want: "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBank([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadBank_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := LoadBank(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
