package mailbox

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

const (
	defaultIMAPPort    = 993
	defaultDialTimeout = 10 * time.Second
	inboxName          = "INBOX"
)

// Account carries the credentials and endpoint for one IMAP mailbox.
type Account struct {
	Host     string
	Port     int
	Address  string
	Password string
}

// imapSession is the slice of the imapclient surface the mailbox uses,
// narrowed so tests can substitute a fake.
type imapSession interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchCloser
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}
type fetchCloser interface{ Close() error }

// IMAPMailbox implements Mailbox over IMAPS.
type IMAPMailbox struct {
	account    Account
	session    imapSession
	selected   bool
	newSession func(Account) (imapSession, error)
}

// IMAPOption customizes mailbox behavior.
type IMAPOption func(*IMAPMailbox)

func withSessionFactory(factory func(Account) (imapSession, error)) IMAPOption {
	return func(m *IMAPMailbox) {
		m.newSession = factory
	}
}

// DialIMAP connects and authenticates against the account's IMAP server.
// Login failures are returned as *AuthError so callers can distinguish a bad
// credential from a transport problem.
func DialIMAP(account Account, opts ...IMAPOption) (*IMAPMailbox, error) {
	m := &IMAPMailbox{
		account:    account,
		newSession: dialTLSSession,
	}
	for _, opt := range opts {
		opt(m)
	}

	if account.Host == "" || account.Address == "" {
		return nil, fmt.Errorf("imap account missing host or address")
	}

	session, err := m.newSession(account)
	if err != nil {
		return nil, fmt.Errorf("imap connect to %s: %w", account.Host, err)
	}
	if err := session.Login(account.Address, account.Password).Wait(); err != nil {
		_ = session.Close()
		return nil, &AuthError{Err: err}
	}
	m.session = session
	return m, nil
}

func dialTLSSession(account Account) (imapSession, error) {
	port := account.Port
	if port == 0 {
		port = defaultIMAPPort
	}
	addr := fmt.Sprintf("%s:%d", account.Host, port)
	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		Dialer: &net.Dialer{Timeout: defaultDialTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &sessionWrapper{Client: client}, nil
}

func (m *IMAPMailbox) selectInbox() error {
	if m.selected {
		return nil
	}
	if _, err := m.session.Select(inboxName, nil).Wait(); err != nil {
		return fmt.Errorf("imap select %s: %w", inboxName, err)
	}
	m.selected = true
	return nil
}

// ListUnread searches for unseen messages received at or after since and
// fetches their envelopes and bodies. Bodies are fetched with a peeking
// section so the seen flag stays untouched until MarkSeen.
func (m *IMAPMailbox) ListUnread(ctx context.Context, since time.Time) ([]Message, error) {
	if err := m.selectInbox(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if !since.IsZero() {
		criteria.Since = since
	}
	searchData, err := m.session.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}
	buffers, err := m.session.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	messages := make([]Message, 0, len(buffers))
	for _, buf := range buffers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		body := buf.FindBodySection(section)
		if body == nil {
			log.Printf("WARN (IMAPMailbox): Message UID %d returned no body section, skipping", buf.UID)
			continue
		}
		msg := Message{
			UID:        strconv.FormatUint(uint64(buf.UID), 10),
			ReceivedAt: buf.InternalDate,
			Raw:        append([]byte(nil), body...),
		}
		if env := buf.Envelope; env != nil {
			msg.MessageID = env.MessageID
			msg.Subject = env.Subject
			if len(env.From) > 0 {
				msg.From = fmt.Sprintf("%s@%s", env.From[0].Mailbox, env.From[0].Host)
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkSeen adds the seen flag to one message.
func (m *IMAPMailbox) MarkSeen(ctx context.Context, uid string) error {
	parsed, err := strconv.ParseUint(uid, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid message UID %q: %w", uid, err)
	}
	if err := m.selectInbox(); err != nil {
		return err
	}
	store := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}
	if err := m.session.Store(imap.UIDSetNum(imap.UID(parsed)), store, nil).Close(); err != nil {
		return fmt.Errorf("imap store seen for UID %s: %w", uid, err)
	}
	return nil
}

// Close logs out and releases the connection.
func (m *IMAPMailbox) Close() error {
	if m.session == nil {
		return nil
	}
	if err := m.session.Logout().Wait(); err != nil {
		// Fall back to a hard close; a failed logout must not leak the socket.
		_ = m.session.Close()
		return fmt.Errorf("imap logout: %w", err)
	}
	return m.session.Close()
}

// sessionWrapper adapts *imapclient.Client to the narrowed imapSession
// interface.
type sessionWrapper struct{ *imapclient.Client }

func (w *sessionWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *sessionWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *sessionWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *sessionWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *sessionWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *sessionWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchCloser {
	return w.Client.Store(numSet, store, options)
}
