// Package mailbox adapts an IMAP server to the pipeline's Mailbox
// interface. Fetching peeks: emails stay unseen until the pipeline has
// settled every stage and calls MarkProcessed.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"mailpilot/internal/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
)

const dialTimeout = 30 * time.Second

// IMAP implements domain.Mailbox over a TLS IMAP connection. A fresh
// connection is dialed per call; the poll cadence makes pooling not
// worth its failure modes here.
type IMAP struct {
	addr     string
	username string
	password string
	folder   string
	logger   *slog.Logger
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Folder   string
	Logger   *slog.Logger
}

func New(cfg Config) *IMAP {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &IMAP{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		username: cfg.Username,
		password: cfg.Password,
		folder:   cfg.Folder,
		logger:   cfg.Logger,
	}
}

func (m *IMAP) connect(ctx context.Context) (*client.Client, *imap.MailboxStatus, error) {
	c, err := client.DialTLS(m.addr, nil)
	if err != nil {
		return nil, nil, domain.Transient(fmt.Errorf("imap dial %s: %w", m.addr, err))
	}
	c.Timeout = dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(m.username, m.password); err != nil {
		c.Logout()
		return nil, nil, domain.Terminal(fmt.Errorf("imap login %s: %w", m.username, err))
	}

	mbox, err := c.Select(m.folder, false)
	if err != nil {
		c.Logout()
		return nil, nil, domain.Transient(fmt.Errorf("imap select %s: %w", m.folder, err))
	}
	return c, mbox, nil
}

// FetchUnseen returns up to max unseen emails, oldest first, without
// setting the \Seen flag.
func (m *IMAP) FetchUnseen(ctx context.Context, max int) ([]domain.Email, error) {
	if max <= 0 {
		max = 20
	}

	c, mbox, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("imap search: %w", err))
	}
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > max {
		uids = uids[:max]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	// Peek so fetching does not mark anything seen.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var emails []domain.Email
	for msg := range messages {
		email, err := m.toEmail(msg, section, mbox.UidValidity)
		if err != nil {
			m.logger.Warn("skipping unparseable message", "uid", msg.Uid, "err", err)
			continue
		}
		emails = append(emails, email)
	}
	if err := <-done; err != nil {
		return nil, domain.Transient(fmt.Errorf("imap fetch: %w", err))
	}
	return emails, nil
}

func (m *IMAP) toEmail(msg *imap.Message, section *imap.BodySectionName, uidValidity uint32) (domain.Email, error) {
	if msg.Envelope == nil {
		return domain.Email{}, fmt.Errorf("no envelope")
	}

	body := ""
	if r := msg.GetBody(section); r != nil {
		env, err := enmime.ReadEnvelope(r)
		if err != nil {
			return domain.Email{}, fmt.Errorf("parse mime: %w", err)
		}
		body = strings.TrimSpace(env.Text)
		if body == "" && env.HTML != "" {
			body = strings.TrimSpace(stripTags(env.HTML))
		}
	}

	threadID := msg.Envelope.InReplyTo
	if threadID == "" {
		threadID = msg.Envelope.MessageId
	}

	return domain.Email{
		ID:         EmailID(m.folder, uidValidity, msg.Uid),
		ThreadID:   threadID,
		Sender:     firstAddress(msg.Envelope.From),
		Recipients: addressList(msg.Envelope.To),
		CC:         addressList(msg.Envelope.Cc),
		Subject:    msg.Envelope.Subject,
		Body:       body,
		ReceivedAt: msg.Envelope.Date.UTC(),
	}, nil
}

// MarkProcessed sets \Seen on the message. A UIDVALIDITY change since
// the fetch means the stored uid no longer names the same message, so
// the call is refused rather than flagging a stranger.
func (m *IMAP) MarkProcessed(ctx context.Context, emailID string) error {
	folder, validity, uid, err := ParseEmailID(emailID)
	if err != nil {
		return domain.Terminal(err)
	}
	if folder != m.folder {
		return domain.Terminal(fmt.Errorf("email %s belongs to folder %s, not %s", emailID, folder, m.folder))
	}

	c, mbox, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()

	if mbox.UidValidity != validity {
		return domain.Terminal(fmt.Errorf("uidvalidity changed for %s: have %d, id carries %d", m.folder, mbox.UidValidity, validity))
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return domain.Transient(fmt.Errorf("imap store: %w", err))
	}
	return nil
}

// EmailID builds the stable provider id: folder, UIDVALIDITY, and UID
// together survive reconnects and stay unique per message.
func EmailID(folder string, uidValidity, uid uint32) string {
	return fmt.Sprintf("%s:%d:%d", folder, uidValidity, uid)
}

// ParseEmailID is the inverse of EmailID.
func ParseEmailID(id string) (folder string, uidValidity, uid uint32, err error) {
	last := strings.LastIndexByte(id, ':')
	if last < 0 {
		return "", 0, 0, fmt.Errorf("malformed email id: %s", id)
	}
	mid := strings.LastIndexByte(id[:last], ':')
	if mid < 0 {
		return "", 0, 0, fmt.Errorf("malformed email id: %s", id)
	}
	validity, err := strconv.ParseUint(id[mid+1:last], 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed email id %s: %w", id, err)
	}
	u, err := strconv.ParseUint(id[last+1:], 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed email id %s: %w", id, err)
	}
	return id[:mid], uint32(validity), uint32(u), nil
}

func firstAddress(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0].Address()
}

func addressList(addrs []*imap.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if addr := a.Address(); addr != "" && addr != "@" {
			out = append(out, addr)
		}
	}
	return out
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
