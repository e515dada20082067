// Package imapmail implements C12: listing messages over IMAP using
// XOAUTH2, the fallback path the mail orchestrator uses when Graph is
// unavailable or the cached token lacks Mail.Read scope. The connect/search/
// fetch sequence follows controllers/unibox_controller.go's fetchFromIMAP and
// processIMAPMessage, generalized from a per-sender background poller into a
// synchronous, context-bound fetch the orchestrator calls on demand.
package imapmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"

	"mailgateway/internal/apierr"
)

const (
	host           = "outlook.office365.com"
	port           = 993
	requestTimeout = 30 * time.Second
)

type Message struct {
	ID      string
	From    string
	Subject string
	Text    string
	HTML    string
	Date    time.Time
}

// FolderName maps the gateway's folder name to Outlook's IMAP mailbox name.
func FolderName(folder string) string {
	switch strings.ToLower(folder) {
	case "junk":
		return "Junk"
	case "", "inbox":
		return "INBOX"
	default:
		return folder
	}
}

// List connects to Outlook's IMAP endpoint, authenticates with XOAUTH2 using
// address/accessToken, selects folder read-only, and returns up to limit of
// the most recent messages, newest first. The connection is logged out on
// every return path. ctx's deadline, when set, becomes the connection
// timeout; cancelling ctx does not interrupt a dial, login or fetch in
// progress.
func List(ctx context.Context, address, accessToken, folder string, limit int) ([]Message, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	c, err := client.DialTLS(addr, &tls.Config{ServerName: host})
	if err != nil {
		return nil, apierr.ErrImapTokenFailed(fmt.Sprintf("imap dial failed: %v", err))
	}
	defer c.Logout()

	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	} else {
		c.Timeout = requestTimeout
	}

	if err := c.Authenticate(sasl.NewXoauth2Client(address, accessToken)); err != nil {
		return nil, apierr.ErrImapTokenFailed(fmt.Sprintf("imap xoauth2 auth failed: %v", err))
	}

	mbox, err := c.Select(FolderName(folder), true)
	if err != nil {
		return nil, fmt.Errorf("imapmail: select folder: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("imapmail: search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	ids = keepMostRecent(ids, limit)

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messagesCh := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messagesCh)
	}()

	messages := make([]Message, 0, len(ids))
	for msg := range messagesCh {
		parsed, err := parseMessage(msg, section)
		if err != nil {
			continue
		}
		messages = append(messages, parsed)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("imapmail: fetch: %w", err)
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].Date.After(messages[j].Date) })
	return messages, nil
}

// keepMostRecent returns at most limit sequence numbers from the tail of ids
// (IMAP search results are ascending by sequence number, so the most recent
// messages are the highest numbers).
func keepMostRecent(ids []uint32, limit int) []uint32 {
	if limit <= 0 || len(ids) <= limit {
		return ids
	}
	return ids[len(ids)-limit:]
}

func parseMessage(msg *imap.Message, section *imap.BodySectionName) (Message, error) {
	if msg.Envelope == nil {
		return Message{}, fmt.Errorf("imapmail: message missing envelope")
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return Message{}, fmt.Errorf("imapmail: message body not found")
	}

	var bodyText, bodyHTML string
	mr, err := mail.CreateReader(literal)
	if err != nil {
		return Message{}, fmt.Errorf("imapmail: create reader: %w", err)
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Message{}, fmt.Errorf("imapmail: read part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return Message{}, fmt.Errorf("imapmail: read body: %w", err)
		}
		if strings.Contains(contentType, "text/html") {
			bodyHTML = string(b)
		} else if strings.Contains(contentType, "text/plain") {
			bodyText = string(b)
		}
	}

	id := fmt.Sprintf("imap_%d_%d", msg.Envelope.Date.UnixMilli(), msg.SeqNum)

	return Message{
		ID:      id,
		From:    formatAddress(msg.Envelope.From),
		Subject: msg.Envelope.Subject,
		Text:    bodyText,
		HTML:    bodyHTML,
		Date:    msg.Envelope.Date,
	}, nil
}

func formatAddress(addrs []*imap.Address) string {
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.PersonalName != "" {
			result = append(result, fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName))
		} else {
			result = append(result, fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName))
		}
	}
	return strings.Join(result, ", ")
}
