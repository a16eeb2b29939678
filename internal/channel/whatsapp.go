// Package channel implements the messaging channel the patients reach us on.
package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mamacare/internal/config"
	"mamacare/internal/domain"
)

const defaultAPIBase = "https://graph.facebook.com/v21.0"

const sendTimeout = 15 * time.Second

// Ingestor accepts validated inbound events for background processing. The
// webhook handler returns to the provider before any pipeline work happens.
type Ingestor interface {
	Ingest(ctx context.Context, ev domain.InboundEvent) error
}

// WhatsApp implements the inbound webhook and the outbound dispatcher for
// the WhatsApp Business Cloud API. It satisfies domain.Messenger.
type WhatsApp struct {
	cfg      config.ChannelConfig
	apiBase  string
	ingestor Ingestor
	logger   *slog.Logger
	client   *http.Client
	mux      *http.ServeMux
}

type WhatsAppConfig struct {
	Config   config.ChannelConfig
	Ingestor Ingestor
	Logger   *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	apiBase := cfg.Config.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	w := &WhatsApp{
		cfg:      cfg.Config,
		apiBase:  apiBase,
		ingestor: cfg.Ingestor,
		logger:   cfg.Logger,
		client:   &http.Client{Timeout: sendTimeout},
	}

	webhookPath := w.cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook/whatsapp"
	}
	w.mux = http.NewServeMux()
	// Method-prefixed mux patterns need Go 1.22+; dispatch by hand so the
	// routing works on the Go 1.21 toolchain this module is built with.
	w.mux.HandleFunc(webhookPath, func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.handleVerification(rw, r)
		case http.MethodPost:
			w.handleIncoming(rw, r)
		default:
			rw.Header().Set("Allow", "GET, POST")
			http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
	return w
}

// Handler returns the webhook handler to be mounted on the gateway mux.
func (w *WhatsApp) Handler() http.Handler { return w.mux }

// --- Webhook handlers ---

// handleVerification answers the channel provider's GET handshake: echo the
// challenge when the shared verify token matches, 403 otherwise.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming validates the event envelope and hands messages to the
// ingestor. It always answers fast: processing happens off this path.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	// Status callbacks and other non-message envelopes get a neutral ack.
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				ev, ok := toEvent(msg)
				if !ok {
					w.logger.Debug("unsupported message type skipped", "type", msg.Type)
					continue
				}
				if err := w.ingestor.Ingest(r.Context(), ev); err != nil {
					w.logger.Error("ingest failed", "event_id", ev.ProviderMessageID, "err", err)
				}
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]string{"status": "received"})
}

func toEvent(msg waMessage) (domain.InboundEvent, bool) {
	ev := domain.InboundEvent{
		ProviderMessageID: msg.ID,
		SenderAddress:     NormalizeAddress(msg.From),
		ReceivedAt:        time.Now(),
	}
	switch {
	case msg.Type == "text" && msg.Text != nil:
		ev.ContentType = domain.ContentText
		ev.Text = msg.Text.Body
	case msg.Type == "audio" && msg.Audio != nil:
		ev.ContentType = domain.ContentAudio
		ev.AudioRef = msg.Audio.ID
	default:
		return domain.InboundEvent{}, false
	}
	return ev, true
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// --- Outbound dispatcher ---

// SendText sends a text message to a patient address.
func (w *WhatsApp) SendText(ctx context.Context, address, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                NormalizeAddress(address),
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	return w.send(ctx, payload)
}

// SendAudio sends an audio message referencing a publicly fetchable URL.
// Callers guarantee SendText for the same event ran first.
func (w *WhatsApp) SendAudio(ctx context.Context, address, assetURL string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                NormalizeAddress(address),
		"type":              "audio",
		"audio":             map[string]string{"link": assetURL},
	}
	return w.send(ctx, payload)
}

func (w *WhatsApp) send(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.cfg.PhoneNumberID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.ProviderError("whatsapp send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return domain.ProviderError("whatsapp send", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	return nil
}

// FetchMedia resolves a media id to bytes: one call for the download URL,
// one for the content.
func (w *WhatsApp) FetchMedia(ctx context.Context, mediaRef string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/%s", w.apiBase, mediaRef), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, domain.ProviderError("fetch media", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.ProviderError("fetch media", fmt.Errorf("status %d", resp.StatusCode))
	}

	var meta struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil || meta.URL == "" {
		return nil, domain.ProviderError("fetch media", fmt.Errorf("no download url: %v", err))
	}

	dlReq, err := http.NewRequestWithContext(ctx, "GET", meta.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	dlReq.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	dlResp, err := w.client.Do(dlReq)
	if err != nil {
		return nil, domain.ProviderError("fetch media", err)
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		return nil, domain.ProviderError("fetch media", fmt.Errorf("download status %d", dlResp.StatusCode))
	}

	return io.ReadAll(io.LimitReader(dlResp.Body, 16<<20))
}

// NormalizeAddress strips an address down to the digits-only wire format.
func NormalizeAddress(address string) string {
	var sb strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From  string   `json:"from"`
	ID    string   `json:"id"`
	Type  string   `json:"type"`
	Text  *waText  `json:"text,omitempty"`
	Audio *waMedia `json:"audio,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
}
