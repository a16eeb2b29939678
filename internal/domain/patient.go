package domain

import "time"

// Patient is an enrolled expectant mother, keyed by her normalized phone
// address. The pipeline mutates only RiskLevel and the clinical resume;
// demographic fields belong to the patient-management flows.
type Patient struct {
	ID              string
	Name            string
	Address         string // digits-only phone address
	Language        string // "ar" | "fr" | "dar" (Darija)
	GestationalWeek int
	RiskLevel       Urgency
	History         MedicalHistory
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MedicalHistory is an open clinical document attached to the patient.
// ClinicalResume is the only field the pipeline writes.
type MedicalHistory struct {
	ClinicalResume string            `json:"clinicalResume,omitempty"`
	Conditions     []string          `json:"conditions,omitempty"`
	Notes          map[string]string `json:"notes,omitempty"`
}

// Conversation groups all messages exchanged with one patient. Created
// lazily on the first inbound event and never deleted by the pipeline.
type Conversation struct {
	ID        string
	PatientID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRecord is an immutable append-only entry in a conversation.
type MessageRecord struct {
	ID             int64
	ConversationID string
	Role           string // user | assistant
	Content        string
	Urgency        Urgency // classification attached to the triggering message
	CreatedAt      time.Time
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
