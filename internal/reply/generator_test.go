package reply

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

func TestGenerate(t *testing.T) {
	prov := &fakeProvider{text: "  Bonjour Amina, reposez-vous bien.  "}
	g := NewGenerator(prov, testLogger())

	got, err := g.Generate(context.Background(), "je suis fatiguée", Context{
		PatientName:     "Amina",
		Language:        "fr",
		GestationalWeek: 20,
		Urgency:         domain.UrgencyLow,
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != "Bonjour Amina, reposez-vous bien." {
		t.Errorf("reply = %q, want trimmed provider text", got)
	}
	if prov.last.UserPrompt != "je suis fatiguée" {
		t.Errorf("user prompt = %q", prov.last.UserPrompt)
	}
	if !strings.Contains(prov.last.SystemPrompt, "Amina") {
		t.Error("system prompt missing patient name")
	}
}

func TestGenerateUrgencyShapesPrompt(t *testing.T) {
	prov := &fakeProvider{text: "ok"}
	g := NewGenerator(prov, testLogger())

	_, err := g.Generate(context.Background(), "bleeding", Context{Language: "fr", Urgency: domain.UrgencyCritical})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prov.last.SystemPrompt, "right now") {
		t.Errorf("critical prompt missing escalation instruction: %q", prov.last.SystemPrompt)
	}

	_, err = g.Generate(context.Background(), "fine", Context{Language: "fr", Urgency: domain.UrgencyLow})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(prov.last.SystemPrompt, "right now") {
		t.Error("low urgency prompt should not escalate")
	}
}

func TestGenerateEmptyReplyFallsBack(t *testing.T) {
	for _, lang := range []string{"ar", "fr", "dar"} {
		prov := &fakeProvider{text: "   "}
		g := NewGenerator(prov, testLogger())

		got, err := g.Generate(context.Background(), "hello", Context{Language: lang})
		if err != nil {
			t.Fatalf("lang %s: Generate error: %v", lang, err)
		}
		if got != SafetyMessage(lang) {
			t.Errorf("lang %s: expected safety message, got %q", lang, got)
		}
	}
}

func TestGenerateProviderFailurePropagates(t *testing.T) {
	prov := &fakeProvider{err: errors.New("connection refused")}
	g := NewGenerator(prov, testLogger())

	_, err := g.Generate(context.Background(), "hello", Context{Language: "fr"})
	if !errors.Is(err, domain.ErrProvider) {
		t.Errorf("want provider error so the caller sends nothing, got %v", err)
	}
}

func TestSafetyMessageDistinctPerLanguage(t *testing.T) {
	ar, dar, fr := SafetyMessage("ar"), SafetyMessage("dar"), SafetyMessage("fr")
	if ar == "" || dar == "" || fr == "" {
		t.Fatal("safety messages must never be empty")
	}
	if ar == fr || dar == fr || ar == dar {
		t.Error("safety messages should be localized per language")
	}
	if SafetyMessage("unknown") != fr {
		t.Error("unknown language should fall back to French")
	}
}
