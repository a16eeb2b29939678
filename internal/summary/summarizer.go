// Package summary maintains the clinical resume stored on the patient record.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mamacare/internal/domain"
)

// maxWords bounds the clinical resume. Providers over-generate; the note is
// truncated at the word boundary.
const maxWords = 50

// Input is everything the summarizer conditions on for one update.
type Input struct {
	PatientName     string
	GestationalWeek int
	Urgency         domain.Urgency
	Transcript      string // latest patient message, transcribed if it was audio
	PreviousResume  string
}

// Summarizer produces the condensed clinical note. The working language is
// French regardless of the language the patient writes in, so every clinician
// on the dashboard reads the same register.
type Summarizer struct {
	provider domain.ChatProvider
	logger   *slog.Logger
}

func NewSummarizer(provider domain.ChatProvider, logger *slog.Logger) *Summarizer {
	return &Summarizer{provider: provider, logger: logger}
}

// Summarize returns the updated clinical resume. Errors propagate to the
// caller, which treats them as non-fatal to the rest of the pipeline.
func (s *Summarizer) Summarize(ctx context.Context, in Input) (string, error) {
	resp, err := s.provider.Chat(ctx, domain.ChatRequest{
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   summaryUserPrompt(in),
		Temperature:  0.1,
		MaxTokens:    200,
	})
	if err != nil {
		return "", domain.ProviderError("summarize", err)
	}

	note := Truncate(strings.TrimSpace(resp.Text), maxWords)
	if note == "" {
		return "", domain.ProviderError("summarize", fmt.Errorf("empty summary"))
	}
	return note, nil
}

const summarySystemPrompt = "Tu es un assistant clinique. Rédige en français, " +
	"en un seul paragraphe de 50 mots maximum, une note clinique concise sur " +
	"l'état de la patiente à partir des éléments fournis. Registre médical, " +
	"pas de salutations, pas de recommandations de traitement."

func summaryUserPrompt(in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Patiente: %s, semaine de grossesse %d.\n", in.PatientName, in.GestationalWeek)
	fmt.Fprintf(&sb, "Urgence triée: %s.\n", in.Urgency)
	fmt.Fprintf(&sb, "Dernier message: %s\n", in.Transcript)
	if in.PreviousResume != "" {
		fmt.Fprintf(&sb, "Note clinique précédente: %s\n", in.PreviousResume)
	}
	return sb.String()
}

// Truncate cuts text to at most n words, at the word boundary.
func Truncate(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}
