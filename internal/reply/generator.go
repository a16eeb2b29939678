// Package reply produces the conversational answer sent back to the patient.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mamacare/internal/domain"
)

const replyTemperature = 0.4

// Context carries the patient facts the reply is conditioned on.
type Context struct {
	PatientName     string
	Language        string // "ar" | "fr" | "dar"
	GestationalWeek int
	Urgency         domain.Urgency
}

// Generator turns an inbound message into a localized reply via the selected
// chat provider. Policy: a successful call with empty content substitutes a
// fixed safety message; a failed call propagates so the caller can decide not
// to reply at all.
type Generator struct {
	provider domain.ChatProvider
	logger   *slog.Logger
}

func NewGenerator(provider domain.ChatProvider, logger *slog.Logger) *Generator {
	return &Generator{provider: provider, logger: logger}
}

// Generate returns the reply text for a patient message.
func (g *Generator) Generate(ctx context.Context, message string, rc Context) (string, error) {
	resp, err := g.provider.Chat(ctx, domain.ChatRequest{
		SystemPrompt: systemPrompt(rc),
		UserPrompt:   message,
		Temperature:  replyTemperature,
		MaxTokens:    512,
	})
	if err != nil {
		return "", domain.ProviderError("generate reply", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		g.logger.Warn("empty reply from provider, using safety message",
			"provider", g.provider.Name(), "language", rc.Language)
		return SafetyMessage(rc.Language), nil
	}
	return text, nil
}

func systemPrompt(rc Context) string {
	var sb strings.Builder
	sb.WriteString("You are a maternal health assistant for a clinic in Morocco. ")
	sb.WriteString("Reply in ")
	sb.WriteString(languageName(rc.Language))
	sb.WriteString(", warmly and briefly (2-4 sentences), to an expectant mother. ")
	fmt.Fprintf(&sb, "Her name is %s and she is in week %d of pregnancy. ",
		rc.PatientName, rc.GestationalWeek)
	fmt.Fprintf(&sb, "Her message was triaged as %q urgency. ", rc.Urgency)

	switch rc.Urgency {
	case domain.UrgencyCritical:
		sb.WriteString("Tell her clearly and calmly to go to the nearest clinic or hospital right now; a clinician has been notified.")
	case domain.UrgencyHigh:
		sb.WriteString("Advise her to contact her clinic today and describe what she reported.")
	default:
		sb.WriteString("Reassure her, give simple self-care advice, and remind her the clinic is available.")
	}
	sb.WriteString(" Never give a diagnosis and never prescribe medication.")
	return sb.String()
}

func languageName(code string) string {
	switch code {
	case "ar":
		return "standard Arabic"
	case "dar":
		return "Moroccan Darija (Latin script)"
	default:
		return "French"
	}
}

// SafetyMessage is the fixed localized fallback instructing the patient to
// contact a clinician directly. Used when the provider answers with nothing.
func SafetyMessage(language string) string {
	switch language {
	case "ar":
		return "لم أتمكن من معالجة رسالتك الآن. من فضلك اتصلي بالعيادة مباشرة أو توجهي إلى أقرب مركز صحي."
	case "dar":
		return "Ma9dertch njaweb daba. 3afak 3ayti l clinique nichan wla siri l9reb merkez si7i."
	default:
		return "Je n'ai pas pu traiter votre message. Veuillez contacter la clinique directement ou vous rendre au centre de santé le plus proche."
	}
}
