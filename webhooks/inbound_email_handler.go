package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/printflow/printflow/ingestion"
	"github.com/printflow/printflow/mailbox"
	"github.com/printflow/printflow/models"
	"github.com/printflow/printflow/webutil"
)

const (
	formFieldEmail   = "email"
	formFieldFrom    = "from"
	formFieldSubject = "subject"

	maxFormMemory = 32 << 20
)

// SettingsSource yields the current mailbox configuration, which carries the
// sender allow list the webhook enforces.
type SettingsSource interface {
	Get(ctx context.Context) (*models.MailSettings, error)
}

// ProcessedStore is the durable seen-message store shared with the poller.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	Record(ctx context.Context, msg *models.ProcessedMessage) error
}

// MessageProcessor turns one raw email into an order.
type MessageProcessor interface {
	Process(ctx context.Context, msg mailbox.Message) (*models.Order, error)
}

// InboundEmailHandler accepts provider-pushed order emails over HTTP as an
// alternative to IMAP polling. The provider POSTs the raw MIME message as a
// multipart form field. Business rejections (unknown sender, duplicate,
// non-order mail) are acknowledged with 200 so the provider stops retrying.
type InboundEmailHandler struct {
	Settings  SettingsSource
	Seen      ProcessedStore
	Processor MessageProcessor
}

func NewInboundEmailHandler(settings SettingsSource, seen ProcessedStore, processor MessageProcessor) *InboundEmailHandler {
	return &InboundEmailHandler{
		Settings:  settings,
		Seen:      seen,
		Processor: processor,
	}
}

func (h *InboundEmailHandler) HandleInbound(w http.ResponseWriter, r *http.Request) error {
	data, err := parseWebhookRequest(r)
	if err != nil {
		return webutil.ErrBadRequestWrap("Invalid inbound email payload", err)
	}

	env, err := parseMimeMessage(data.RawMIME)
	if err != nil {
		return acknowledge(w, "unparseable MIME", err)
	}
	messageID := env.GetHeader("Message-ID")
	sender := senderAddress(env, data.Sender)
	if sender == "" {
		return acknowledge(w, "no sender address", nil)
	}

	ctx := r.Context()
	settings, err := h.Settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mail settings: %w", err)
	}
	if settings == nil || !settings.SenderAllowed(sender) {
		log.Printf("INFO (InboundEmailHandler): Ignoring email from unlisted sender %s (Message-ID: %s)", sender, messageID)
		return acknowledge(w, "sender not on allow list", nil)
	}

	key := messageID
	if key == "" {
		return acknowledge(w, "missing Message-ID", nil)
	}
	processed, err := h.Seen.IsProcessed(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check processed messages: %w", err)
	}
	if processed {
		return acknowledge(w, "already processed", nil)
	}

	msg := mailbox.Message{
		MessageID:  messageID,
		From:       sender,
		Subject:    data.Subject,
		ReceivedAt: time.Now().UTC(),
		Raw:        []byte(data.RawMIME),
	}

	order, processErr := h.Processor.Process(ctx, msg)
	outcome := models.MessageOutcomeCompleted
	poNumber := ""
	switch {
	case processErr == nil:
		poNumber = order.PONumber
	case errors.Is(processErr, ingestion.ErrOrderExists):
		outcome = models.MessageOutcomeSkipped
	default:
		var parseErr *ingestion.ParseError
		if !errors.As(processErr, &parseErr) {
			return fmt.Errorf("failed to process inbound email %s: %w", key, processErr)
		}
		log.Printf("WARN (InboundEmailHandler): Message %s is not a processable order: %v", key, parseErr)
		outcome = models.MessageOutcomeFailed
	}

	record := &models.ProcessedMessage{
		MessageID: key,
		PONumber:  poNumber,
		Outcome:   outcome,
	}
	if err := h.Seen.Record(ctx, record); err != nil {
		log.Printf("ERROR (InboundEmailHandler): Failed to record processed message %s: %v", key, err)
	}

	if processErr == nil {
		webutil.RespondWithJSON(w, http.StatusOK, order)
		return nil
	}
	return acknowledge(w, outcome, nil)
}

type webhookInputData struct {
	RawMIME string
	Sender  string
	Subject string
}

func parseWebhookRequest(r *http.Request) (webhookInputData, error) {
	var data webhookInputData
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		if err := r.ParseForm(); err != nil {
			return data, fmt.Errorf("failed to parse form data: %w", err)
		}
	}
	data.RawMIME = r.FormValue(formFieldEmail)
	data.Sender = r.FormValue(formFieldFrom)
	data.Subject = r.FormValue(formFieldSubject)

	if data.RawMIME == "" {
		return data, fmt.Errorf("missing raw email content in webhook payload")
	}
	return data, nil
}

func parseMimeMessage(rawMIME string) (*enmime.Envelope, error) {
	env, err := enmime.ReadEnvelope(strings.NewReader(rawMIME))
	if err != nil {
		return nil, fmt.Errorf("enmime.ReadEnvelope failed: %w", err)
	}
	return env, nil
}

// senderAddress resolves the sender from the Sender header, the From header,
// then the provider's form field, in that order.
func senderAddress(env *enmime.Envelope, rawSender string) string {
	for _, header := range []string{"Sender", "From"} {
		list, err := env.AddressList(header)
		if err == nil && len(list) > 0 && list[0].Address != "" {
			return strings.ToLower(list[0].Address)
		}
	}

	raw := strings.TrimSpace(rawSender)
	if start := strings.LastIndex(raw, "<"); start != -1 {
		if end := strings.LastIndex(raw, ">"); end > start {
			if extracted := strings.TrimSpace(raw[start+1 : end]); extracted != "" {
				return strings.ToLower(extracted)
			}
		}
	}
	if strings.Contains(raw, "@") {
		return strings.ToLower(raw)
	}
	return ""
}

// acknowledge sends 200 with a short reason. The provider treats anything
// other than a 2xx as a delivery failure and retries, so business
// rejections are acknowledged rather than reported as errors.
func acknowledge(w http.ResponseWriter, reason string, cause error) error {
	if cause != nil {
		log.Printf("WARN (InboundEmailHandler): %s: %v", reason, cause)
	}
	w.Header().Set(webutil.HeaderContentType, webutil.ContentTypeTextPlainUTF8)
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK (%s)", reason)
	return nil
}
