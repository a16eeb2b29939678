// Package pipeline drives one inbound event through transcription, triage,
// reply generation, outbound dispatch, and persistence. It is the only
// component with ordering and failure-isolation duties; everything it calls
// is a leaf.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mamacare/internal/domain"
	"mamacare/internal/metrics"
	"mamacare/internal/reply"
	"mamacare/internal/summary"
	"mamacare/internal/triage"
)

const defaultWorkers = 4

// Orchestrator consumes the inbound queue and runs the per-event pipeline.
type Orchestrator struct {
	store      domain.Storage
	messenger  domain.Messenger
	classifier *triage.Classifier
	generator  *reply.Generator
	summarizer *summary.Summarizer
	stt        domain.Transcriber
	tts        domain.Synthesizer
	assets     domain.AssetStore
	notifier   domain.Notifier // optional
	queue      *Queue
	locks      *keyedMutex
	logger     *slog.Logger
	workers    int
}

type Config struct {
	Store      domain.Storage
	Messenger  domain.Messenger
	Classifier *triage.Classifier
	Generator  *reply.Generator
	Summarizer *summary.Summarizer
	STT        domain.Transcriber
	TTS        domain.Synthesizer
	Assets     domain.AssetStore
	Notifier   domain.Notifier
	Queue      *Queue
	Logger     *slog.Logger
	Workers    int
}

func New(cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Orchestrator{
		store:      cfg.Store,
		messenger:  cfg.Messenger,
		classifier: cfg.Classifier,
		generator:  cfg.Generator,
		summarizer: cfg.Summarizer,
		stt:        cfg.STT,
		tts:        cfg.TTS,
		assets:     cfg.Assets,
		notifier:   cfg.Notifier,
		queue:      cfg.Queue,
		locks:      newKeyedMutex(),
		logger:     cfg.Logger,
		workers:    cfg.Workers,
	}
}

// SetMessenger wires the outbound channel after construction: the channel
// needs the orchestrator as its ingestor, so one of the two is set late.
func (o *Orchestrator) SetMessenger(m domain.Messenger) { o.messenger = m }

// Ingest validates and deduplicates an event, then enqueues it. This is the
// only entry point the webhook layer calls, and it returns before any
// pipeline work happens.
func (o *Orchestrator) Ingest(ctx context.Context, ev domain.InboundEvent) error {
	if ev.ProviderMessageID == "" || ev.SenderAddress == "" {
		return fmt.Errorf("%w: event missing id or sender", domain.ErrValidation)
	}
	if ev.ContentType == domain.ContentText && strings.TrimSpace(ev.Text) == "" {
		return fmt.Errorf("%w: empty text event", domain.ErrValidation)
	}

	first, err := o.store.MarkProcessed(ctx, ev.ProviderMessageID)
	if err != nil {
		return err
	}
	if !first {
		o.logger.Info("duplicate delivery dropped", "event_id", ev.ProviderMessageID)
		metrics.DuplicatesTotal.Inc()
		return nil
	}

	metrics.EventsTotal.Inc()
	o.queue.Publish(ev)
	return nil
}

// Run consumes the queue with bounded concurrency until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.logger.Info("pipeline started", "workers", o.workers)

	sem := make(chan struct{}, o.workers)
	inbound := o.queue.Subscribe()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("pipeline stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				o.logger.Info("inbound queue closed, pipeline stopping")
				return
			}
			sem <- struct{}{}
			go func(e domain.InboundEvent) {
				defer func() { <-sem }()
				o.Process(ctx, e)
			}(ev)
		}
	}
}

// Process runs the full pipeline for one event. The webhook has long since
// acknowledged, so every failure ends here: classified, logged with the
// event and patient identifiers, never propagated.
func (o *Orchestrator) Process(ctx context.Context, ev domain.InboundEvent) {
	start := time.Now()
	log := o.logger.With("event_id", ev.ProviderMessageID, "sender", ev.SenderAddress)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic recovered", "panic", r)
		}
		metrics.PipelineLatency.Observe(time.Since(start).Seconds())
	}()

	// Unregistered senders produce no reply and no side effects. The
	// pipeline never creates patients implicitly.
	patient, err := o.store.GetPatientByAddress(ctx, ev.SenderAddress)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug("unregistered sender, ignoring")
			return
		}
		o.fail(log, "resolve patient", err)
		return
	}
	log = log.With("patient_id", patient.ID)

	unlock := o.locks.Lock(patient.ID)
	conv, err := o.store.GetOrCreateConversation(ctx, patient.ID)
	unlock()
	if err != nil {
		o.fail(log, "resolve conversation", err)
		return
	}

	text, ok := o.resolveText(ctx, ev, log)
	if !ok {
		return
	}

	// Classification is pure and must precede the reply so urgency can
	// shape its tone. It is never skipped, whatever fails later.
	urgency := o.classifier.Classify(text)
	metrics.ClassifiedTotal(urgency).Inc()
	log.Info("message classified", "urgency", urgency)

	if o.notifier != nil {
		go o.notify(ctx, patient, urgency, text, log)
	}

	replyText, err := o.generator.Generate(ctx, text, reply.Context{
		PatientName:     patient.Name,
		Language:        patient.Language,
		GestationalWeek: patient.GestationalWeek,
		Urgency:         urgency,
	})
	if err != nil {
		o.fail(log, "generate reply", err)
		return
	}

	// The text reply is the critical deliverable and always goes out before
	// any enrichment starts.
	if err := o.messenger.SendText(ctx, patient.Address, replyText); err != nil {
		o.fail(log, "send text reply", err)
		return
	}
	metrics.RepliesTotal.Inc()

	// Two independent follow-ups: a fault in one must not cancel or delay
	// the other.
	var wg sync.WaitGroup
	if ev.ContentType == domain.ContentAudio {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.sendVoiceReply(ctx, patient, replyText, log)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.persistOutcome(ctx, patient, conv, text, replyText, urgency, log)
	}()
	wg.Wait()
}

// resolveText returns the message text, transcribing voice notes. A failed
// or empty transcription aborts the event: no transcript, no reply.
func (o *Orchestrator) resolveText(ctx context.Context, ev domain.InboundEvent, log *slog.Logger) (string, bool) {
	if ev.ContentType != domain.ContentAudio {
		return ev.Text, true
	}

	audio, err := o.messenger.FetchMedia(ctx, ev.AudioRef)
	if err != nil {
		o.fail(log, "fetch voice note", err)
		return "", false
	}
	text, err := o.stt.Transcribe(ctx, bytes.NewReader(audio), "voice-note.ogg")
	if err != nil {
		o.fail(log, "transcribe voice note", err)
		return "", false
	}
	return text, true
}

// sendVoiceReply synthesizes the reply, stores the audio, and dispatches it.
// Any failure is swallowed and logged; the text reply already counts as a
// successful outcome.
func (o *Orchestrator) sendVoiceReply(ctx context.Context, patient *domain.Patient, replyText string, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("voice reply panic recovered", "panic", r)
		}
	}()

	audio, err := o.tts.Synthesize(ctx, replyText)
	if err != nil {
		o.fail(log, "synthesize voice reply", err)
		return
	}
	assetURL, err := o.assets.PutAudio(uuid.NewString()+".mp3", audio)
	if err != nil {
		o.fail(log, "store voice reply", err)
		return
	}
	if err := o.messenger.SendAudio(ctx, patient.Address, assetURL); err != nil {
		o.fail(log, "send voice reply", err)
		return
	}
	metrics.AudioRepliesTotal.Inc()
}

// persistOutcome appends both sides of the exchange, updates the clinical resume,
// and records the new risk level. The risk update happens even when the
// summarizer fails; only the resume is left untouched then.
func (o *Orchestrator) persistOutcome(ctx context.Context, patient *domain.Patient, conv *domain.Conversation, transcript, replyText string, urgency domain.Urgency, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("persist panic recovered", "panic", r)
		}
	}()

	if err := o.store.AppendMessage(ctx, conv.ID, domain.MessageRecord{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        transcript,
		Urgency:        urgency,
	}); err != nil {
		o.fail(log, "append patient message", err)
	}
	if err := o.store.AppendMessage(ctx, conv.ID, domain.MessageRecord{
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        replyText,
	}); err != nil {
		o.fail(log, "append assistant message", err)
	}

	resume := ""
	note, err := o.summarizer.Summarize(ctx, summary.Input{
		PatientName:     patient.Name,
		GestationalWeek: patient.GestationalWeek,
		Urgency:         urgency,
		Transcript:      transcript,
		PreviousResume:  patient.History.ClinicalResume,
	})
	if err != nil {
		o.fail(log, "summarize", err)
	} else {
		resume = note
	}

	unlock := o.locks.Lock(patient.ID)
	err = o.store.UpdatePatientRisk(ctx, patient.ID, urgency, resume)
	unlock()
	if err != nil {
		o.fail(log, "update patient risk", err)
		return
	}
	log.Info("patient record updated", "urgency", urgency, "resume_len", len(resume))
}

func (o *Orchestrator) notify(ctx context.Context, patient *domain.Patient, urgency domain.Urgency, text string, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("alert panic recovered", "panic", r)
		}
	}()
	if err := o.notifier.Alert(ctx, patient, urgency, text); err != nil {
		o.fail(log, "clinician alert", err)
		return
	}
	if urgency == domain.UrgencyCritical || urgency == domain.UrgencyHigh {
		metrics.AlertsTotal.Inc()
	}
}

// fail is the single boundary where pipeline errors are classified, counted,
// and logged.
func (o *Orchestrator) fail(log *slog.Logger, step string, err error) {
	switch {
	case errors.Is(err, domain.ErrProvider):
		metrics.ProviderErrorsTotal.Inc()
	case errors.Is(err, domain.ErrPersistence):
		metrics.PersistenceErrorsTotal.Inc()
	}
	log.Error("pipeline step failed", "step", step, "err", err)
}
