package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"mamacare/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enroll(t *testing.T, s *SQLiteStore) *domain.Patient {
	t.Helper()
	p, err := s.CreatePatient(context.Background(), domain.Patient{
		Name:            "Amina",
		Address:         "212600000001",
		Language:        "dar",
		GestationalWeek: 24,
	})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

func TestCreateAndGetPatient(t *testing.T) {
	s := newTestStore(t)
	created := enroll(t, s)

	got, err := s.GetPatientByAddress(context.Background(), "212600000001")
	if err != nil {
		t.Fatalf("get patient: %v", err)
	}
	if got.ID != created.ID || got.Name != "Amina" || got.Language != "dar" || got.GestationalWeek != 24 {
		t.Errorf("patient = %+v", got)
	}
	if got.RiskLevel != domain.UrgencyLow {
		t.Errorf("new patient risk = %v, want low", got.RiskLevel)
	}
}

func TestGetPatientUnknownAddress(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPatientByAddress(context.Background(), "000000000000")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("want not-found, got %v", err)
	}
}

func TestCreatePatientDuplicateAddress(t *testing.T) {
	s := newTestStore(t)
	enroll(t, s)

	_, err := s.CreatePatient(context.Background(), domain.Patient{Name: "Other", Address: "212600000001"})
	if err == nil {
		t.Error("duplicate address must be rejected")
	}
}

func TestGetOrCreateConversationIsStable(t *testing.T) {
	s := newTestStore(t)
	p := enroll(t, s)

	first, err := s.GetOrCreateConversation(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.GetOrCreateConversation(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("conversation recreated: %s then %s", first.ID, second.ID)
	}
}

func TestAppendAndGetMessages(t *testing.T) {
	s := newTestStore(t)
	p := enroll(t, s)
	conv, _ := s.GetOrCreateConversation(context.Background(), p.ID)

	msgs := []domain.MessageRecord{
		{Role: domain.RoleUser, Content: "sda3 9wi", Urgency: domain.UrgencyHigh},
		{Role: domain.RoleAssistant, Content: "3ayti l clinique lyoum"},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(context.Background(), conv.ID, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.GetMessages(context.Background(), conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages", len(got))
	}
	if got[0].Role != domain.RoleUser || got[0].Urgency != domain.UrgencyHigh {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].Role != domain.RoleAssistant {
		t.Errorf("second message = %+v", got[1])
	}
}

func TestUpdatePatientRisk(t *testing.T) {
	s := newTestStore(t)
	p := enroll(t, s)
	ctx := context.Background()

	if err := s.UpdatePatientRisk(ctx, p.ID, domain.UrgencyHigh, "céphalées avec troubles visuels, semaine 24"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetPatientByAddress(ctx, p.Address)
	if got.RiskLevel != domain.UrgencyHigh {
		t.Errorf("risk = %v", got.RiskLevel)
	}
	if got.History.ClinicalResume != "céphalées avec troubles visuels, semaine 24" {
		t.Errorf("resume = %q", got.History.ClinicalResume)
	}
}

func TestUpdatePatientRiskEmptyResumeKeepsOld(t *testing.T) {
	s := newTestStore(t)
	p := enroll(t, s)
	ctx := context.Background()

	if err := s.UpdatePatientRisk(ctx, p.ID, domain.UrgencyMedium, "note initiale"); err != nil {
		t.Fatal(err)
	}
	// Risk changes, resume survives the failed summarization.
	if err := s.UpdatePatientRisk(ctx, p.ID, domain.UrgencyCritical, ""); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetPatientByAddress(ctx, p.Address)
	if got.RiskLevel != domain.UrgencyCritical {
		t.Errorf("risk = %v", got.RiskLevel)
	}
	if got.History.ClinicalResume != "note initiale" {
		t.Errorf("resume = %q, want previous note kept", got.History.ClinicalResume)
	}
}

func TestUpdatePatientRiskUnknownPatient(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdatePatientRisk(context.Background(), "ghost", domain.UrgencyLow, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("want not-found, got %v", err)
	}
}

func TestMarkProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "wamid.once")
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Error("first delivery reported as duplicate")
	}

	again, err := s.MarkProcessed(ctx, "wamid.once")
	if err != nil {
		t.Fatal(err)
	}
	if again {
		t.Error("redelivery reported as first")
	}

	other, err := s.MarkProcessed(ctx, "wamid.other")
	if err != nil {
		t.Fatal(err)
	}
	if !other {
		t.Error("distinct id reported as duplicate")
	}
}

func TestMarkProcessedSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	s, err := NewSQLiteStore(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkProcessed(ctx, "wamid.durable"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := NewSQLiteStore(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	first, err := s2.MarkProcessed(ctx, "wamid.durable")
	if err != nil {
		t.Fatal(err)
	}
	if first {
		t.Error("dedup set must survive a restart")
	}
}
