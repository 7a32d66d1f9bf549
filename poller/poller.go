// Package poller drives the mailbox polling loop that feeds the ingestion
// pipeline.
package poller

import (
	"context"
	"errors"
	"log"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/printflow/printflow/ingestion"
	"github.com/printflow/printflow/mailbox"
	"github.com/printflow/printflow/models"
)

const (
	defaultPollInterval = 60 * time.Second

	// Orders stuck in processing longer than this were abandoned by a
	// previous run and are swept to failed at startup.
	staleProcessingAge = time.Hour
)

// SettingsStore yields the current mailbox configuration. Settings are
// re-read at the top of every cycle so API edits apply without a restart.
type SettingsStore interface {
	Get(ctx context.Context) (*models.MailSettings, error)
}

// SeenStore is the durable seen-message marker.
type SeenStore interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	Record(ctx context.Context, msg *models.ProcessedMessage) error
}

// OrderSweeper clears orders abandoned mid-processing.
type OrderSweeper interface {
	FailStaleProcessing(ctx context.Context, olderThan time.Time) ([]string, error)
}

// MessageProcessor turns one message into an order.
type MessageProcessor interface {
	Process(ctx context.Context, msg mailbox.Message) (*models.Order, error)
}

// StatusNotifier is told when the loop starts or stops.
type StatusNotifier interface {
	ProcessingStatusChanged(running bool)
}

// Dialer opens a mailbox connection for one cycle.
type Dialer func(account mailbox.Account) (mailbox.Mailbox, error)

// Poller runs poll cycles while its running flag is set. Start and Stop may
// be called from any goroutine; the loop reads the flag once per cycle.
type Poller struct {
	settings  SettingsStore
	seen      SeenStore
	sweeper   OrderSweeper
	processor MessageProcessor
	dial      Dialer
	notifier  StatusNotifier

	running atomic.Bool
	wake    chan struct{}
	now     func() time.Time
}

type Config struct {
	Settings  SettingsStore
	Seen      SeenStore
	Sweeper   OrderSweeper
	Processor MessageProcessor
	Dial      Dialer
	Notifier  StatusNotifier
}

func New(cfg Config) *Poller {
	dial := cfg.Dial
	if dial == nil {
		dial = func(account mailbox.Account) (mailbox.Mailbox, error) {
			return mailbox.DialIMAP(account)
		}
	}
	return &Poller{
		settings:  cfg.Settings,
		seen:      cfg.Seen,
		sweeper:   cfg.Sweeper,
		processor: cfg.Processor,
		dial:      dial,
		notifier:  cfg.Notifier,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Running reports whether poll cycles are currently enabled.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Start enables polling. The next cycle begins immediately.
func (p *Poller) Start() {
	if p.running.Swap(true) {
		return
	}
	log.Print("INFO (Poller): Processing started")
	if p.notifier != nil {
		p.notifier.ProcessingStatusChanged(true)
	}
	p.kick()
}

// Stop disables polling after the current cycle finishes.
func (p *Poller) Stop() {
	if !p.running.Swap(false) {
		return
	}
	log.Print("INFO (Poller): Processing stopped")
	if p.notifier != nil {
		p.notifier.ProcessingStatusChanged(false)
	}
	p.kick()
}

func (p *Poller) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run owns the polling loop until ctx is cancelled. Orders abandoned in
// processing by an earlier run are failed before the first cycle.
func (p *Poller) Run(ctx context.Context) {
	p.sweepStale(ctx)
	for {
		interval := defaultPollInterval
		if p.running.Load() {
			interval = p.runCycle(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-time.After(interval):
		}
	}
}

func (p *Poller) sweepStale(ctx context.Context) {
	if p.sweeper == nil {
		return
	}
	swept, err := p.sweeper.FailStaleProcessing(ctx, p.now().Add(-staleProcessingAge))
	if err != nil {
		log.Printf("ERROR (Poller): Stale order sweep failed: %v", err)
		return
	}
	for _, poNumber := range swept {
		log.Printf("WARN (Poller): Order with PO %s was stuck in processing, marked failed", poNumber)
	}
}

// runCycle performs one poll and returns how long to sleep before the next.
func (p *Poller) runCycle(ctx context.Context) time.Duration {
	settings, err := p.settings.Get(ctx)
	if err != nil {
		log.Printf("ERROR (Poller): Could not load mail settings: %v", err)
		return defaultPollInterval
	}
	if settings == nil {
		log.Print("WARN (Poller): No mail settings configured, skipping cycle")
		return defaultPollInterval
	}

	interval := defaultPollInterval
	if settings.PollInterval > 0 {
		interval = time.Duration(settings.PollInterval) * time.Second
	}

	box, err := p.dial(accountFromSettings(settings))
	if err != nil {
		var authErr *mailbox.AuthError
		if errors.As(err, &authErr) {
			log.Printf("ERROR (Poller): %v, retrying next cycle", authErr)
		} else {
			log.Printf("ERROR (Poller): Could not connect to mailbox: %v", err)
		}
		return interval
	}
	defer func() {
		if err := box.Close(); err != nil {
			log.Printf("WARN (Poller): Mailbox close failed: %v", err)
		}
	}()

	var since time.Time
	if settings.MaxAgeDays > 0 {
		since = p.now().AddDate(0, 0, -settings.MaxAgeDays)
	}
	messages, err := box.ListUnread(ctx, since)
	if err != nil {
		log.Printf("ERROR (Poller): Could not list unread messages: %v", err)
		return interval
	}
	if len(messages) > 0 {
		log.Printf("INFO (Poller): Found %d unread message(s)", len(messages))
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return interval
		}
		if !p.running.Load() {
			log.Print("INFO (Poller): Stop requested, abandoning remainder of cycle")
			return interval
		}
		p.handleMessage(ctx, box, settings, msg)
	}
	return interval
}

func (p *Poller) handleMessage(ctx context.Context, box mailbox.Mailbox, settings *models.MailSettings, msg mailbox.Message) {
	if !settings.SenderAllowed(msg.From) {
		log.Printf("INFO (Poller): Ignoring message %s from unlisted sender %s", messageKey(msg), msg.From)
		return
	}
	if settings.MaxAgeDays > 0 && !msg.ReceivedAt.IsZero() &&
		msg.ReceivedAt.Before(p.now().AddDate(0, 0, -settings.MaxAgeDays)) {
		log.Printf("INFO (Poller): Ignoring message %s older than %d days", messageKey(msg), settings.MaxAgeDays)
		return
	}

	key := messageKey(msg)
	processed, err := p.seen.IsProcessed(ctx, key)
	if err != nil {
		log.Printf("ERROR (Poller): Seen-message lookup failed for %s: %v", key, err)
		return
	}
	if processed {
		p.markSeen(ctx, box, msg)
		return
	}

	outcome := models.MessageOutcomeCompleted
	poNumber := ""
	order, err := p.processor.Process(ctx, msg)
	switch {
	case err == nil:
		poNumber = order.PONumber
	case errors.Is(err, ingestion.ErrOrderExists):
		outcome = models.MessageOutcomeSkipped
	default:
		outcome = models.MessageOutcomeFailed
		if order != nil {
			poNumber = order.PONumber
		}
		log.Printf("ERROR (Poller): Processing message %s failed: %v", key, err)
	}

	p.markSeen(ctx, box, msg)
	record := &models.ProcessedMessage{
		MessageID: key,
		UID:       msg.UID,
		PONumber:  poNumber,
		Outcome:   outcome,
	}
	if err := p.seen.Record(ctx, record); err != nil {
		log.Printf("ERROR (Poller): Could not record message %s as processed: %v", key, err)
	}
}

func (p *Poller) markSeen(ctx context.Context, box mailbox.Mailbox, msg mailbox.Message) {
	if err := box.MarkSeen(ctx, msg.UID); err != nil {
		log.Printf("WARN (Poller): Could not mark message %s seen: %v", messageKey(msg), err)
	}
}

// messageKey is the dedup key: the Message-ID header, or a UID-derived
// fallback for the rare message without one.
func messageKey(msg mailbox.Message) string {
	if msg.MessageID != "" {
		return msg.MessageID
	}
	return "uid:" + msg.UID
}

func accountFromSettings(settings *models.MailSettings) mailbox.Account {
	host := settings.IMAPServer
	port := 0
	if h, portStr, err := net.SplitHostPort(settings.IMAPServer); err == nil {
		host = h
		if parsed, err := strconv.Atoi(portStr); err == nil {
			port = parsed
		}
	}
	return mailbox.Account{
		Host:     host,
		Port:     port,
		Address:  settings.EmailAddress,
		Password: settings.EmailPassword,
	}
}
