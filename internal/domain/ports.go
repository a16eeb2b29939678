package domain

import (
	"context"
	"io"
)

// Storage is the narrow gateway the pipeline persists through. The pipeline
// never migrates schemas or optimizes queries; it only calls these.
type Storage interface {
	GetPatientByAddress(ctx context.Context, address string) (*Patient, error)
	GetOrCreateConversation(ctx context.Context, patientID string) (*Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg MessageRecord) error
	UpdatePatientRisk(ctx context.Context, patientID string, urgency Urgency, clinicalResume string) error

	// MarkProcessed records a provider message id and reports whether it was
	// seen for the first time. Redeliveries return false and are dropped.
	MarkProcessed(ctx context.Context, providerMessageID string) (bool, error)

	Close() error
}

// Messenger sends replies back over the messaging channel and resolves
// inbound media references to bytes. Addresses are digits-only.
type Messenger interface {
	SendText(ctx context.Context, address, text string) error
	SendAudio(ctx context.Context, address, assetURL string) error
	FetchMedia(ctx context.Context, mediaRef string) ([]byte, error)
}

// ChatProvider is one LLM behind a chat-completion style API. Selection
// between providers happens once at startup; a ChatProvider never falls
// back to another provider on failure.
type ChatProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

type ChatResponse struct {
	Text      string
	LatencyMs int64
}

// Transcriber converts inbound audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Synthesizer converts a text reply into audio bytes (MP3).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AssetStore keeps generated audio durable and publicly fetchable.
type AssetStore interface {
	PutAudio(name string, data []byte) (publicURL string, err error)
}

// Notifier raises out-of-band clinician alerts for dangerous signs.
type Notifier interface {
	Alert(ctx context.Context, patient *Patient, urgency Urgency, message string) error
}
