// Package store implements the storage gateway on SQLite. The pipeline only
// ever talks to the narrow interface in domain; everything schema-shaped
// lives here.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mamacare/internal/domain"
)

// SQLiteStore implements domain.Storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patients (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		address          TEXT NOT NULL UNIQUE,
		language         TEXT NOT NULL DEFAULT 'fr',
		gestational_week INTEGER DEFAULT 0,
		risk_level       TEXT NOT NULL DEFAULT 'low',
		history          TEXT NOT NULL DEFAULT '{}',
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_patients_address ON patients(address);

	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		patient_id  TEXT NOT NULL UNIQUE REFERENCES patients(id),
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		urgency         TEXT,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS processed_events (
		provider_message_id TEXT PRIMARY KEY,
		created_at          DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) GetPatientByAddress(ctx context.Context, address string) (*domain.Patient, error) {
	var p domain.Patient
	var history string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, language, gestational_week, risk_level, history, created_at, updated_at
		 FROM patients WHERE address = ?`, address,
	).Scan(&p.ID, &p.Name, &p.Address, &p.Language, &p.GestationalWeek, &p.RiskLevel, &history, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: patient %s", domain.ErrNotFound, address)
	}
	if err != nil {
		return nil, domain.PersistenceError("get patient", err)
	}
	if err := json.Unmarshal([]byte(history), &p.History); err != nil {
		s.logger.Warn("unreadable medical history, resetting", "patient", p.ID, "err", err)
		p.History = domain.MedicalHistory{}
	}
	return &p, nil
}

// CreatePatient enrolls a patient. Used by the operator CLI, never by the
// inbound pipeline.
func (s *SQLiteStore) CreatePatient(ctx context.Context, p domain.Patient) (*domain.Patient, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.RiskLevel == "" {
		p.RiskLevel = domain.UrgencyLow
	}
	if p.Language == "" {
		p.Language = "fr"
	}
	now := time.Now()
	history, err := json.Marshal(p.History)
	if err != nil {
		return nil, domain.PersistenceError("create patient", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO patients (id, name, address, language, gestational_week, risk_level, history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Address, p.Language, p.GestationalWeek, p.RiskLevel, string(history), now, now,
	)
	if err != nil {
		return nil, domain.PersistenceError("create patient", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return &p, nil
}

func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, patientID string) (*domain.Conversation, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, patient_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)`,
		uuid.NewString(), patientID, now, now,
	)
	if err != nil {
		return nil, domain.PersistenceError("create conversation", err)
	}

	var conv domain.Conversation
	err = s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, created_at, updated_at FROM conversations WHERE patient_id = ?`, patientID,
	).Scan(&conv.ID, &conv.PatientID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, domain.PersistenceError("get conversation", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg domain.MessageRecord) error {
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, urgency, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conversationID, msg.Role, msg.Content, string(msg.Urgency), msg.CreatedAt,
	)
	if err != nil {
		return domain.PersistenceError("append message", err)
	}

	_, _ = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID,
	)
	return nil
}

// UpdatePatientRisk writes the new risk level and, when non-empty, the
// clinical resume in a single statement. The resume lives inside the history
// document so demographic updates from other flows never clobber it.
func (s *SQLiteStore) UpdatePatientRisk(ctx context.Context, patientID string, urgency domain.Urgency, clinicalResume string) error {
	var history string
	err := s.db.QueryRowContext(ctx,
		`SELECT history FROM patients WHERE id = ?`, patientID,
	).Scan(&history)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: patient %s", domain.ErrNotFound, patientID)
	}
	if err != nil {
		return domain.PersistenceError("update risk", err)
	}

	var doc domain.MedicalHistory
	if err := json.Unmarshal([]byte(history), &doc); err != nil {
		doc = domain.MedicalHistory{}
	}
	if clinicalResume != "" {
		doc.ClinicalResume = clinicalResume
	}
	updated, err := json.Marshal(doc)
	if err != nil {
		return domain.PersistenceError("update risk", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE patients SET risk_level = ?, history = ?, updated_at = ? WHERE id = ?`,
		string(urgency), string(updated), time.Now(), patientID,
	)
	if err != nil {
		return domain.PersistenceError("update risk", err)
	}
	return nil
}

// MarkProcessed records a provider message id; redelivered ids return false.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, providerMessageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_events (provider_message_id) VALUES (?)`,
		providerMessageID,
	)
	if err != nil {
		return false, domain.PersistenceError("mark processed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.PersistenceError("mark processed", err)
	}
	return n > 0, nil
}

// GetMessages returns the most recent messages of a conversation, oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, urgency, created_at
		 FROM (
			SELECT * FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, domain.PersistenceError("get messages", err)
	}
	defer rows.Close()

	var msgs []domain.MessageRecord
	for rows.Next() {
		var m domain.MessageRecord
		var urgency sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &urgency, &m.CreatedAt); err != nil {
			return nil, domain.PersistenceError("get messages", err)
		}
		m.Urgency = domain.Urgency(urgency.String)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
