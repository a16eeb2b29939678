package domain

import "time"

// ContentType distinguishes text messages from voice notes.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentAudio ContentType = "audio"
)

// InboundEvent is one validated message received from a patient over the
// messaging channel. Immutable; the channel provider may redeliver it, so
// ingestion deduplicates by ProviderMessageID before processing.
type InboundEvent struct {
	ProviderMessageID string
	SenderAddress     string // digits-only phone address
	ContentType       ContentType
	Text              string // set when ContentType == text
	AudioRef          string // provider media ID, set when ContentType == audio
	ReceivedAt        time.Time
}

// Urgency is the outcome of risk classification for one message.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// rank orders urgency tiers; higher means more severe.
func (u Urgency) rank() int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	default:
		return 0
	}
}

// MoreSevere reports whether u outranks other.
func (u Urgency) MoreSevere(other Urgency) bool { return u.rank() > other.rank() }
