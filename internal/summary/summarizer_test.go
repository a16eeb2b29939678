package summary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"mamacare/internal/domain"
)

type fakeProvider struct {
	text string
	err  error
	last domain.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatResponse{Text: f.text}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSummarize(t *testing.T) {
	prov := &fakeProvider{text: "Patiente en semaine 24, signale des nausées matinales, état stable."}
	s := NewSummarizer(prov, testLogger())

	note, err := s.Summarize(context.Background(), Input{
		PatientName:     "Amina",
		GestationalWeek: 24,
		Urgency:         domain.UrgencyMedium,
		Transcript:      "nausées chaque matin",
	})
	if err != nil {
		t.Fatalf("Summarize error: %v", err)
	}
	if note != prov.text {
		t.Errorf("note = %q", note)
	}
	if !strings.Contains(prov.last.UserPrompt, "Amina") || !strings.Contains(prov.last.UserPrompt, "24") {
		t.Errorf("prompt missing patient facts: %q", prov.last.UserPrompt)
	}
}

func TestSummarizeIncludesPreviousResume(t *testing.T) {
	prov := &fakeProvider{text: "ok"}
	s := NewSummarizer(prov, testLogger())

	_, err := s.Summarize(context.Background(), Input{
		PatientName:    "Amina",
		Transcript:     "tout va bien",
		PreviousResume: "antécédent de tension élevée",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prov.last.UserPrompt, "antécédent de tension élevée") {
		t.Error("previous resume not carried into the prompt")
	}
}

func TestSummarizeTruncatesLongNotes(t *testing.T) {
	prov := &fakeProvider{text: strings.Repeat("mot ", 120)}
	s := NewSummarizer(prov, testLogger())

	note, err := s.Summarize(context.Background(), Input{PatientName: "Amina", Transcript: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(strings.Fields(note)); got != maxWords {
		t.Errorf("note has %d words, want %d", got, maxWords)
	}
}

func TestSummarizeEmptyIsError(t *testing.T) {
	prov := &fakeProvider{text: "   "}
	s := NewSummarizer(prov, testLogger())

	if _, err := s.Summarize(context.Background(), Input{Transcript: "x"}); !errors.Is(err, domain.ErrProvider) {
		t.Errorf("empty summary should be a provider error, got %v", err)
	}
}

func TestSummarizeProviderError(t *testing.T) {
	prov := &fakeProvider{err: errors.New("boom")}
	s := NewSummarizer(prov, testLogger())

	if _, err := s.Summarize(context.Background(), Input{Transcript: "x"}); !errors.Is(err, domain.ErrProvider) {
		t.Errorf("want wrapped provider error, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		text string
		n    int
		want string
	}{
		{"one two three", 5, "one two three"},
		{"one two three", 2, "one two"},
		{"  spaced   out  ", 10, "spaced out"},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.text, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.text, tt.n, got, tt.want)
		}
	}
}
