package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/printflow/printflow/ingestion"
	"github.com/printflow/printflow/mailbox"
	"github.com/printflow/printflow/models"
)

type fakeSettings struct {
	settings *models.MailSettings
	err      error
}

func (s *fakeSettings) Get(context.Context) (*models.MailSettings, error) {
	return s.settings, s.err
}

type fakeSeen struct {
	mu        sync.Mutex
	processed map[string]bool
	records   []*models.ProcessedMessage
}

func (s *fakeSeen) IsProcessed(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[messageID], nil
}

func (s *fakeSeen) Record(_ context.Context, msg *models.ProcessedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed == nil {
		s.processed = make(map[string]bool)
	}
	s.processed[msg.MessageID] = true
	s.records = append(s.records, msg)
	return nil
}

type fakeMailbox struct {
	messages []mailbox.Message
	listErr  error
	seen     []string
	closed   bool
}

func (m *fakeMailbox) ListUnread(context.Context, time.Time) ([]mailbox.Message, error) {
	return m.messages, m.listErr
}

func (m *fakeMailbox) MarkSeen(_ context.Context, uid string) error {
	m.seen = append(m.seen, uid)
	return nil
}

func (m *fakeMailbox) Close() error {
	m.closed = true
	return nil
}

type fakeProcessor struct {
	results map[string]processResult
	calls   []string
}

type processResult struct {
	order *models.Order
	err   error
}

func (p *fakeProcessor) Process(_ context.Context, msg mailbox.Message) (*models.Order, error) {
	p.calls = append(p.calls, msg.MessageID)
	r := p.results[msg.MessageID]
	return r.order, r.err
}

type fakeSweeper struct {
	swept     []string
	olderThan time.Time
}

func (s *fakeSweeper) FailStaleProcessing(_ context.Context, olderThan time.Time) ([]string, error) {
	s.olderThan = olderThan
	return s.swept, nil
}

type statusRecorder struct {
	mu     sync.Mutex
	states []bool
}

func (r *statusRecorder) ProcessingStatusChanged(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, running)
}

func testSettings() *models.MailSettings {
	return &models.MailSettings{
		EmailAddress:   "orders@example.com",
		EmailPassword:  "secret",
		IMAPServer:     "imap.example.com:993",
		AllowedSenders: "noreply@shop.example.com",
		MaxAgeDays:     7,
		PollInterval:   30,
	}
}

func testMessage(id, from string) mailbox.Message {
	return mailbox.Message{
		UID:        id,
		MessageID:  "<" + id + "@shop.example.com>",
		From:       from,
		ReceivedAt: time.Now(),
		Raw:        []byte("raw"),
	}
}

func newTestPoller(settings *models.MailSettings, box *fakeMailbox, seen *fakeSeen, proc *fakeProcessor) *Poller {
	return New(Config{
		Settings:  &fakeSettings{settings: settings},
		Seen:      seen,
		Processor: proc,
		Dial: func(mailbox.Account) (mailbox.Mailbox, error) {
			return box, nil
		},
	})
}

func TestRunCycleProcessesAllowedMessages(t *testing.T) {
	msg := testMessage("1", "noreply@shop.example.com")
	box := &fakeMailbox{messages: []mailbox.Message{msg}}
	seen := &fakeSeen{}
	proc := &fakeProcessor{results: map[string]processResult{
		msg.MessageID: {order: &models.Order{PONumber: "22121"}},
	}}
	p := newTestPoller(testSettings(), box, seen, proc)
	p.running.Store(true)

	interval := p.runCycle(context.Background())

	require.Equal(t, 30*time.Second, interval)
	require.Equal(t, []string{msg.MessageID}, proc.calls)
	require.Equal(t, []string{"1"}, box.seen)
	require.True(t, box.closed)

	require.Len(t, seen.records, 1)
	require.Equal(t, models.MessageOutcomeCompleted, seen.records[0].Outcome)
	require.Equal(t, "22121", seen.records[0].PONumber)
}

func TestRunCycleIgnoresUnlistedSenders(t *testing.T) {
	msg := testMessage("1", "spam@elsewhere.example.com")
	box := &fakeMailbox{messages: []mailbox.Message{msg}}
	seen := &fakeSeen{}
	proc := &fakeProcessor{}
	p := newTestPoller(testSettings(), box, seen, proc)
	p.running.Store(true)

	p.runCycle(context.Background())

	require.Empty(t, proc.calls)
	require.Empty(t, box.seen)
	require.Empty(t, seen.records)
}

func TestRunCycleSkipsAlreadyProcessedMessages(t *testing.T) {
	msg := testMessage("1", "noreply@shop.example.com")
	box := &fakeMailbox{messages: []mailbox.Message{msg}}
	seen := &fakeSeen{processed: map[string]bool{msg.MessageID: true}}
	proc := &fakeProcessor{}
	p := newTestPoller(testSettings(), box, seen, proc)
	p.running.Store(true)

	p.runCycle(context.Background())

	require.Empty(t, proc.calls, "already processed message must not create another order")
	require.Equal(t, []string{"1"}, box.seen)
	require.Empty(t, seen.records)
}

func TestRunCycleRecordsOutcomes(t *testing.T) {
	completed := testMessage("1", "noreply@shop.example.com")
	duplicate := testMessage("2", "noreply@shop.example.com")
	garbage := testMessage("3", "noreply@shop.example.com")

	box := &fakeMailbox{messages: []mailbox.Message{completed, duplicate, garbage}}
	seen := &fakeSeen{}
	proc := &fakeProcessor{results: map[string]processResult{
		completed.MessageID: {order: &models.Order{PONumber: "100"}},
		duplicate.MessageID: {err: ingestion.ErrOrderExists},
		garbage.MessageID:   {err: &ingestion.ParseError{Field: "po_number", Msg: "no PO Number line found"}},
	}}
	p := newTestPoller(testSettings(), box, seen, proc)
	p.running.Store(true)

	p.runCycle(context.Background())

	require.Len(t, seen.records, 3)
	outcomes := map[string]string{}
	for _, r := range seen.records {
		outcomes[r.MessageID] = r.Outcome
	}
	require.Equal(t, models.MessageOutcomeCompleted, outcomes[completed.MessageID])
	require.Equal(t, models.MessageOutcomeSkipped, outcomes[duplicate.MessageID])
	require.Equal(t, models.MessageOutcomeFailed, outcomes[garbage.MessageID])
	require.ElementsMatch(t, []string{"1", "2", "3"}, box.seen)
}

func TestRunCycleRetriesAfterAuthFailure(t *testing.T) {
	seen := &fakeSeen{}
	proc := &fakeProcessor{}
	dialCount := 0
	p := New(Config{
		Settings:  &fakeSettings{settings: testSettings()},
		Seen:      seen,
		Processor: proc,
		Dial: func(mailbox.Account) (mailbox.Mailbox, error) {
			dialCount++
			return nil, &mailbox.AuthError{Err: errors.New("NO LOGIN failed")}
		},
	})
	p.running.Store(true)

	interval := p.runCycle(context.Background())
	require.Equal(t, 30*time.Second, interval)
	interval = p.runCycle(context.Background())
	require.Equal(t, 30*time.Second, interval)

	require.Equal(t, 2, dialCount)
	require.Empty(t, proc.calls)
}

func TestRunCycleWithoutSettingsIsANoOp(t *testing.T) {
	p := New(Config{
		Settings:  &fakeSettings{settings: nil},
		Seen:      &fakeSeen{},
		Processor: &fakeProcessor{},
		Dial: func(mailbox.Account) (mailbox.Mailbox, error) {
			t.Fatal("dial must not be called without settings")
			return nil, nil
		},
	})
	p.running.Store(true)

	interval := p.runCycle(context.Background())
	require.Equal(t, defaultPollInterval, interval)
}

func TestStartStopTogglesRunningAndNotifies(t *testing.T) {
	recorder := &statusRecorder{}
	p := New(Config{
		Settings:  &fakeSettings{settings: testSettings()},
		Seen:      &fakeSeen{},
		Processor: &fakeProcessor{},
		Notifier:  recorder,
		Dial: func(mailbox.Account) (mailbox.Mailbox, error) {
			return &fakeMailbox{}, nil
		},
	})

	require.False(t, p.Running())
	p.Start()
	require.True(t, p.Running())
	p.Start() // second start is a no-op
	p.Stop()
	require.False(t, p.Running())
	p.Stop() // second stop is a no-op

	require.Equal(t, []bool{true, false}, recorder.states)
}

func TestRunSweepsStaleOrdersOnStartup(t *testing.T) {
	sweeper := &fakeSweeper{swept: []string{"22121"}}
	p := New(Config{
		Settings:  &fakeSettings{settings: testSettings()},
		Seen:      &fakeSeen{},
		Processor: &fakeProcessor{},
		Sweeper:   sweeper,
		Dial: func(mailbox.Account) (mailbox.Mailbox, error) {
			return &fakeMailbox{}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	require.False(t, sweeper.olderThan.IsZero())
	require.WithinDuration(t, time.Now().Add(-staleProcessingAge), sweeper.olderThan, 5*time.Second)
}

func TestStopAbandonsRemainderOfCycle(t *testing.T) {
	first := testMessage("1", "noreply@shop.example.com")
	second := testMessage("2", "noreply@shop.example.com")
	box := &fakeMailbox{messages: []mailbox.Message{first, second}}
	seen := &fakeSeen{}

	p := newTestPoller(testSettings(), box, seen, nil)
	proc := &stoppingProcessor{poller: p}
	p.processor = proc
	p.running.Store(true)

	p.runCycle(context.Background())

	require.Equal(t, 1, proc.calls, "stop during a cycle must halt before the next message")
}

type stoppingProcessor struct {
	poller *Poller
	calls  int
}

func (s *stoppingProcessor) Process(context.Context, mailbox.Message) (*models.Order, error) {
	s.calls++
	s.poller.running.Store(false)
	return &models.Order{PONumber: "1"}, nil
}
